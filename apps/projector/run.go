package main

import (
	"context"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"
	cli "github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/PhantomInTheWire/teeth-edge-compare/pkg/config"
	"github.com/PhantomInTheWire/teeth-edge-compare/pkg/features"
	"github.com/PhantomInTheWire/teeth-edge-compare/pkg/fetch"
	"github.com/PhantomInTheWire/teeth-edge-compare/pkg/projector"
	"github.com/PhantomInTheWire/teeth-edge-compare/pkg/storage"
	"github.com/PhantomInTheWire/teeth-edge-compare/pkg/video"
	"github.com/PhantomInTheWire/teeth-edge-compare/pkg/wasmnet"
)

var runCmd = &cli.Command{
	Use:   "run",
	Short: "Project a target image or a directory of targets",
	RunE:  run,
}

var (
	target   string
	outDir   string
	network  = config.GetEnv("NETWORK", "")
	featURL  = config.GetEnv("FEATURES_URL", "")
	cacheDir = config.GetEnv("CACHE_DIR", filepath.Join(os.TempDir(), "projector-cache"))
	runOpts  = projector.RunOptions{
		Projection: projector.DefaultOptions(),
		Video:      video.DefaultOptions(),
	}
)

func init() {
	runOpts.Projection.NumSteps = config.GetEnvInt("NUM_STEPS", 500)
	runOpts.Video.FFmpeg = config.GetEnv("FFMPEG", runOpts.Video.FFmpeg)

	f := runCmd.Flags()
	f.StringVar(&target, "target", "", "target image file or directory; local path or s3:// URL")
	f.StringVar(&outDir, "outdir", "out", "output directory; local path or s3:// URL")
	f.StringVar(&network, "network", network, "generator module: path, http(s):// or s3:// URL")
	f.StringVar(&featURL, "features", featURL, "feature extractor module; the built-in pyramid when empty")
	f.StringVar(&cacheDir, "cache-dir", cacheDir, "download cache for remote modules")
	f.IntVar(&runOpts.Projection.NumSteps, "num-steps", runOpts.Projection.NumSteps, "number of optimization steps")
	f.Uint64Var(&runOpts.Projection.Seed, "seed", runOpts.Projection.Seed, "random seed")
	f.BoolVar(&runOpts.SaveTarget, "save-target", false, "also save the cropped target image")
	f.BoolVar(&runOpts.SaveW, "save-w", false, "also save the projected W as JSON")
	f.BoolVar(&runOpts.SaveVideo, "save-video", false, "also save an optimization progress video")
	f.BoolVar(&runOpts.Projection.Verbose, "verbose", false, "log every optimization step")
	_ = runCmd.MarkFlagRequired("target")
}

func run(cmd *cli.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if network == "" {
		return errors.New("no generator module: set --network or NETWORK")
	}
	minio := storage.ConfigFromEnv()
	store, err := storage.New(ctx, minio)
	if err != nil {
		return err
	}
	fetcher := fetch.New(cacheDir, store)

	netPath, err := fetcher.Path(ctx, network)
	if err != nil {
		return errors.Wrapf(err, "fetching network %s", network)
	}
	klog.InfoS("loading network", "url", network)
	g, err := wasmnet.LoadGenerator(netPath)
	if err != nil {
		return errors.Wrapf(err, "loading network %s", network)
	}
	defer g.Release()

	var fe projector.FeatureExtractor = features.Pyramid{}
	if featURL != "" {
		p, err := fetcher.Path(ctx, featURL)
		if err != nil {
			return errors.Wrapf(err, "fetching features %s", featURL)
		}
		wf, err := wasmnet.LoadFeatureExtractor(p)
		if err != nil {
			return errors.Wrapf(err, "loading features %s", featURL)
		}
		defer wf.Release()
		fe = wf
	}

	work, err := os.MkdirTemp("", "projector")
	if err != nil {
		return err
	}
	defer os.RemoveAll(work)

	localTarget, err := stageTarget(ctx, store, target, filepath.Join(work, "in"))
	if err != nil {
		return errors.Wrapf(err, "staging target %s", target)
	}
	localOut := outDir
	if storage.IsURL(outDir) {
		localOut = filepath.Join(work, "out")
	}

	fi, err := os.Stat(localTarget)
	if err != nil {
		return err
	}
	if fi.IsDir() {
		if _, err := projector.RunDir(ctx, g, fe, localTarget, localOut, runOpts); err != nil {
			return errors.Wrapf(err, "projecting %s", target)
		}
	} else {
		if err := os.MkdirAll(localOut, 0o755); err != nil {
			return err
		}
		out := filepath.Join(localOut, filepath.Base(localTarget))
		if err := projector.RunFile(ctx, g, fe, localTarget, out, runOpts); err != nil {
			return errors.Wrapf(err, "projecting %s", target)
		}
	}

	if storage.IsURL(outDir) {
		return publish(ctx, minio, localOut, outDir)
	}
	return nil
}

// stageTarget returns a local path for loc, downloading s3 objects into
// dir. A key with a file extension is a single target; anything else is a
// prefix of targets.
func stageTarget(ctx context.Context, store *storage.Client, loc, dir string) (string, error) {
	if !storage.IsURL(loc) {
		return loc, nil
	}
	bucket, key, err := storage.ParseURL(loc)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if path.Ext(key) == "" {
		_, err := store.DownloadPrefix(ctx, bucket, key, dir)
		return dir, err
	}
	file := filepath.Join(dir, path.Base(key))
	f, err := os.Create(file)
	if err != nil {
		return "", err
	}
	if err := store.Download(ctx, bucket, key, f); err != nil {
		f.Close()
		return "", err
	}
	return file, f.Close()
}

// publish uploads the results in dir to the s3:// location dst.
func publish(ctx context.Context, cfg storage.MinioConfig, dir, dst string) error {
	bucket, prefix, err := storage.ParseURL(dst)
	if err != nil {
		return err
	}
	cfg.Bucket = bucket
	store, err := storage.New(ctx, cfg)
	if err != nil {
		return err
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return err
	}
	keys, err := store.UploadDir(ctx, dir, prefix)
	if err != nil {
		return errors.Wrapf(err, "uploading results to %s", dst)
	}
	klog.InfoS("results uploaded", "bucket", bucket, "objects", len(keys))
	return nil
}
