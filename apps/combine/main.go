// Command combine overlays the images of two directories pairwise.
package main

import (
	"context"
	goflag "flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	cli "github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"k8s.io/klog/v2"

	"github.com/PhantomInTheWire/teeth-edge-compare/pkg/blend"
	"github.com/PhantomInTheWire/teeth-edge-compare/pkg/config"
)

var (
	rootCmd = &cli.Command{
		Use:   "combine <dir-a> <dir-b> <out-dir>",
		Short: "Blend the images of two directories, paired by position",
		Long: "Each image of dir-b is resized to its partner in dir-a and blended as\n" +
			"alpha*a + beta*b + gamma. Results keep the names from dir-a.",
		Args: cli.ExactArgs(3),
		RunE: combine,
	}

	opts = blend.Options{
		Alpha: config.GetEnvFloat("BLEND_ALPHA", blend.DefaultAlpha),
		Beta:  config.GetEnvFloat("BLEND_BETA", blend.DefaultBeta),
		Gamma: config.GetEnvFloat("BLEND_GAMMA", blend.DefaultGamma),
	}
)

func init() {
	klog.InitFlags(nil)
	pflag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	rootCmd.PersistentFlags().AddFlagSet(pflag.CommandLine)

	f := rootCmd.Flags()
	f.Float64Var(&opts.Alpha, "alpha", opts.Alpha, "weight of the dir-a image")
	f.Float64Var(&opts.Beta, "beta", opts.Beta, "weight of the dir-b image")
	f.Float64Var(&opts.Gamma, "gamma", opts.Gamma, "offset added to every channel")
}

func main() {
	defer klog.Flush()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err.Error())
		os.Exit(1)
	}
}

func combine(cmd *cli.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rep, err := blend.CombineDirs(ctx, args[0], args[1], args[2], opts)
	if err != nil {
		return errors.Wrapf(err, "combining %s and %s", args[0], args[1])
	}
	klog.InfoS("done", "files", len(rep.Files), "out", args[2])
	return nil
}
