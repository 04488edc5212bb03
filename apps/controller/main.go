// Command controller uploads a directory of target photos to MinIO and
// creates one Kubernetes projection Job per photo.
package main

import (
	"context"
	goflag "flag"
	"fmt"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/pkg/errors"
	cli "github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"k8s.io/klog/v2"

	"github.com/PhantomInTheWire/teeth-edge-compare/pkg/config"
	"github.com/PhantomInTheWire/teeth-edge-compare/pkg/kube"
	"github.com/PhantomInTheWire/teeth-edge-compare/pkg/storage"
)

var (
	rootCmd = &cli.Command{
		Use:   "controller <target-dir>",
		Short: "Dispatch one projection Job per target photo",
		Args:  cli.ExactArgs(1),
		RunE:  dispatch,
	}

	kubeconfig  = config.GetEnv("KUBECONFIG", "")
	namespace   = config.GetEnv("KUBE_NAMESPACE", "default")
	image       = config.GetEnv("PROJECTOR_IMAGE", "ghcr.io/phantominthewire/latent-projector:latest")
	network     = config.GetEnv("NETWORK", "")
	featURL     = config.GetEnv("FEATURES_URL", "")
	numSteps    = config.GetEnvInt("NUM_STEPS", 500)
	jobEndpoint = config.GetEnv("JOB_MINIO_ENDPOINT", "http://minio.default.svc:9000")
	runID       string
	backoff     int32 = 1
)

func init() {
	klog.InitFlags(nil)
	pflag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	rootCmd.PersistentFlags().AddFlagSet(pflag.CommandLine)

	f := rootCmd.Flags()
	f.StringVar(&kubeconfig, "kubeconfig", kubeconfig, "kubeconfig path; ~/.kube/config when empty")
	f.StringVar(&namespace, "namespace", namespace, "namespace for the Jobs")
	f.StringVar(&image, "image", image, "projector container image")
	f.StringVar(&network, "network", network, "generator module URL reachable from the pods")
	f.StringVar(&featURL, "features", featURL, "feature extractor module URL reachable from the pods")
	f.IntVar(&numSteps, "num-steps", numSteps, "optimization steps per target")
	f.StringVar(&jobEndpoint, "job-minio-endpoint", jobEndpoint, "MinIO endpoint as seen from the pods")
	f.StringVar(&runID, "run-id", "", "object prefix for this run; a timestamp when empty")
	f.Int32Var(&backoff, "backoff-limit", backoff, "Job retries before it is marked failed")
}

func main() {
	defer klog.Flush()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err.Error())
		os.Exit(1)
	}
}

func dispatch(cmd *cli.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if network == "" {
		return errors.New("no generator module: set --network or NETWORK")
	}
	if runID == "" {
		runID = fmt.Sprintf("run-%d", time.Now().Unix())
	}

	minio := storage.ConfigFromEnv()
	store, err := storage.New(ctx, minio)
	if err != nil {
		return err
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return err
	}
	prefix := store.Key(runID)
	keys, err := store.UploadDir(ctx, args[0], path.Join(prefix, "targets"))
	if err != nil {
		return errors.Wrapf(err, "uploading targets from %s", args[0])
	}
	klog.InfoS("targets uploaded", "bucket", store.Bucket(), "prefix", prefix, "count", len(keys))

	cs, err := kube.NewClientset(kubeconfig)
	if err != nil {
		return err
	}
	env := map[string]string{
		"MINIO_ENDPOINT":   jobEndpoint,
		"MINIO_REGION":     minio.Region,
		"MINIO_ACCESS_KEY": minio.AccessKey,
		"MINIO_SECRET_KEY": minio.SecretKey,
	}

	failed := 0
	for _, key := range keys {
		spec := kube.JobSpec{
			Name:         kube.SanitizeJobName(key, time.Now()),
			Namespace:    namespace,
			Image:        image,
			Target:       fmt.Sprintf("s3://%s/%s", store.Bucket(), key),
			OutDir:       fmt.Sprintf("s3://%s/%s", store.Bucket(), path.Join(prefix, "projected")),
			Network:      network,
			Features:     featURL,
			NumSteps:     numSteps,
			Env:          env,
			BackoffLimit: backoff,
		}
		if _, err := kube.CreateJob(ctx, cs, kube.BuildProjectionJob(spec)); err != nil {
			klog.ErrorS(err, "failed to create job", "target", key)
			failed++
			continue
		}
		klog.InfoS("job created", "job", spec.Name, "target", key)
	}
	if failed > 0 {
		return errors.Errorf("%d of %d jobs could not be created", failed, len(keys))
	}
	return nil
}
