// Command edge writes the inverted Canny edge map of every image in a
// directory to a second directory under the same file names.
package main

import (
	"context"
	goflag "flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	cli "github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"k8s.io/klog/v2"

	"github.com/PhantomInTheWire/teeth-edge-compare/pkg/config"
	"github.com/PhantomInTheWire/teeth-edge-compare/pkg/edge"
)

var (
	rootCmd = &cli.Command{
		Use:   "edge <src-dir> <dst-dir>",
		Short: "Extract inverted edge maps from a directory of images",
		Args:  cli.ExactArgs(2),
		RunE:  extract,
	}

	opts = edge.Options{
		Backend:    config.GetEnv("EDGE_BACKEND", edge.BackendBuiltin),
		Low:        config.GetEnvFloat("EDGE_LOW", edge.DefaultLow),
		High:       config.GetEnvFloat("EDGE_HIGH", edge.DefaultHigh),
		WasmFilter: config.GetEnv("WASM_FILTER", "filter.wasm"),
		WasmFunc:   config.GetEnv("WASM_FUNC", "canny"),
	}
)

func init() {
	klog.InitFlags(nil)
	pflag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	rootCmd.PersistentFlags().AddFlagSet(pflag.CommandLine)

	f := rootCmd.Flags()
	f.StringVar(&opts.Backend, "backend", opts.Backend, "edge detector: builtin, gocv or wasm")
	f.Float64Var(&opts.Low, "low", opts.Low, "hysteresis low threshold")
	f.Float64Var(&opts.High, "high", opts.High, "hysteresis high threshold")
	f.StringVar(&opts.WasmFilter, "wasm-filter", opts.WasmFilter, "filter module for the wasm backend")
	f.StringVar(&opts.WasmFunc, "wasm-func", opts.WasmFunc, "exported filter function for the wasm backend")
}

func main() {
	defer klog.Flush()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err.Error())
		os.Exit(1)
	}
}

func extract(cmd *cli.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	det, err := edge.New(opts)
	if err != nil {
		return errors.Wrapf(err, "creating %s detector", opts.Backend)
	}
	defer edge.Close(det)

	start := time.Now()
	rep, err := edge.ExtractDir(ctx, det, args[0], args[1])
	if err != nil {
		return errors.Wrapf(err, "extracting edges from %s", args[0])
	}
	klog.InfoS("done", "files", len(rep.Files), "elapsed", time.Since(start))
	return nil
}
