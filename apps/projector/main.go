// Command projector finds the generator latent that best reproduces each
// target photo and saves the rendered result.
package main

import (
	goflag "flag"
	"fmt"
	"os"

	cli "github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"k8s.io/klog/v2"
)

var rootCmd = &cli.Command{
	Use:   "projector",
	Short: "Project photos into the latent space of a generative network",
}

func init() {
	klog.InitFlags(nil)
	pflag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	rootCmd.PersistentFlags().AddFlagSet(pflag.CommandLine)
	rootCmd.AddCommand(runCmd)
}

func main() {
	defer klog.Flush()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err.Error())
		os.Exit(1)
	}
}
