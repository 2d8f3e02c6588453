package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/litmuschaos/recovery-harness/pkg/cluster"
	"github.com/litmuschaos/recovery-harness/pkg/environment"
	"github.com/litmuschaos/recovery-harness/pkg/events"
	"github.com/litmuschaos/recovery-harness/pkg/harness"
	"github.com/litmuschaos/recovery-harness/pkg/log"
	"github.com/litmuschaos/recovery-harness/pkg/telemetry"
	"github.com/litmuschaos/recovery-harness/pkg/types"

	"github.com/litmuschaos/recovery-harness/pkg/clients"
)

var (
	harnessDetails types.HarnessDetails
	mode           string
	configPath     string
)

func init() {
	// Log with full timestamps instead of the default elapsed format.
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:          true,
		DisableSorting:         true,
		DisableLevelTruncation: true,
	})

	// env vars provide the flag defaults, explicit flags win
	environment.GetENV(&harnessDetails)

	runCmd.Flags().StringVar(&harnessDetails.Namespace, "namespace", harnessDetails.Namespace, "namespace of the workload under test")
	runCmd.Flags().StringVar(&harnessDetails.Selector, "selector", harnessDetails.Selector, "label selector of the workload pods (k=v)")
	runCmd.Flags().StringVar(&harnessDetails.Deployment, "deployment", harnessDetails.Deployment, "name of the deployment owning the pods")
	runCmd.Flags().IntVar(&harnessDetails.ProbeCount, "count", harnessDetails.ProbeCount, "number of recovery probes to run")
	runCmd.Flags().StringVar(&mode, "mode", harnessDetails.Mode(), "deletion mode, graceful or forced")
	runCmd.Flags().IntVar(&harnessDetails.WatchTimeout, "timeout", harnessDetails.WatchTimeout, "seconds to wait for a ready replacement")
	runCmd.Flags().IntVar(&harnessDetails.ConvergenceTimeout, "convergence-timeout", harnessDetails.ConvergenceTimeout, "seconds to wait for the replica counts to converge")
	runCmd.Flags().IntVar(&harnessDetails.Delay, "poll-delay", harnessDetails.Delay, "seconds between replica status polls")
	runCmd.Flags().IntVar(&harnessDetails.Interval, "interval", harnessDetails.Interval, "settle seconds between probes")
	runCmd.Flags().IntVar(&harnessDetails.LatencyCeiling, "latency-ceiling", harnessDetails.LatencyCeiling, "per-probe recovery latency ceiling in milliseconds")
	runCmd.Flags().Float64Var(&harnessDetails.PassThreshold, "threshold", harnessDetails.PassThreshold, "minimum success ratio for the run to pass")
	runCmd.Flags().StringVar(&harnessDetails.OutputPath, "output", harnessDetails.OutputPath, "path of the report file")
	runCmd.Flags().StringVar(&harnessDetails.Kubeconfig, "kubeconfig", harnessDetails.Kubeconfig, "absolute path to the kubeconfig file, in-cluster config when empty")
	runCmd.Flags().StringVar(&harnessDetails.OTELEndpoint, "otel-endpoint", harnessDetails.OTELEndpoint, "OTLP gRPC endpoint for trace export, disabled when empty")
	runCmd.Flags().StringVar(&configPath, "config", "", "optional YAML config file")

	rootCmd.AddCommand(runCmd)
}

var rootCmd = &cobra.Command{
	Use:   "recovery-harness",
	Short: "Measures how fast a workload controller replaces deleted pods",
	Long: `recovery-harness deletes pods of a deployment through the cluster
control plane, watches for the ready replacement, measures the recovery
latency and verifies the replica counts converge, producing a
structured report.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the configured number of recovery probes",
	Args:  cobra.MaximumNArgs(0),
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runHarness(cmd))
	},
}

func runHarness(cmd *cobra.Command) int {
	if configPath != "" {
		if err := applyConfigFile(cmd, configPath); err != nil {
			log.Errorf("Unable to load the config file, err: %v", err)
			return harness.ExitFatal
		}
	}
	harnessDetails.Force = mode == types.ModeForced
	if err := validateDetails(); err != nil {
		log.Errorf("Invalid configuration, err: %v", err)
		return harness.ExitFatal
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if harnessDetails.OTELEndpoint != "" {
		shutdown, err := telemetry.InitOTelSDK(ctx, harnessDetails.OTELEndpoint)
		if err != nil {
			log.Errorf("Unable to initialize the OTel SDK, err: %v", err)
			return harness.ExitFatal
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				log.Errorf("Unable to shutdown the OTel SDK, err: %v", err)
			}
		}()
	}

	clientSets := clients.ClientSets{}
	if err := clientSets.GenerateClientSetFromKubeConfig(harnessDetails.Kubeconfig); err != nil {
		log.Errorf("Unable to get the kubeconfig, err: %v", err)
		return harness.ExitFatal
	}

	h := harness.Harness{
		Client:   cluster.New(clientSets),
		Recorder: events.NewRecorder(clientSets, &harnessDetails),
		Details:  &harnessDetails,
	}
	rep, err := h.Run(ctx)
	if err != nil {
		log.Errorf("The run failed, err: %v", err)
	}
	return harness.ExitCode(rep, err)
}

// applyConfigFile overlays the YAML config but keeps any value the
// operator set explicitly on the command line
func applyConfigFile(cmd *cobra.Command, path string) error {
	fromFlags := harnessDetails
	modeFromFlags := mode
	if err := environment.LoadConfigFile(path, &harnessDetails); err != nil {
		return err
	}
	mode = harnessDetails.Mode()

	flags := cmd.Flags()
	if flags.Changed("namespace") {
		harnessDetails.Namespace = fromFlags.Namespace
	}
	if flags.Changed("selector") {
		harnessDetails.Selector = fromFlags.Selector
	}
	if flags.Changed("deployment") {
		harnessDetails.Deployment = fromFlags.Deployment
	}
	if flags.Changed("count") {
		harnessDetails.ProbeCount = fromFlags.ProbeCount
	}
	if flags.Changed("mode") {
		mode = modeFromFlags
	}
	if flags.Changed("timeout") {
		harnessDetails.WatchTimeout = fromFlags.WatchTimeout
	}
	if flags.Changed("convergence-timeout") {
		harnessDetails.ConvergenceTimeout = fromFlags.ConvergenceTimeout
	}
	if flags.Changed("poll-delay") {
		harnessDetails.Delay = fromFlags.Delay
	}
	if flags.Changed("interval") {
		harnessDetails.Interval = fromFlags.Interval
	}
	if flags.Changed("latency-ceiling") {
		harnessDetails.LatencyCeiling = fromFlags.LatencyCeiling
	}
	if flags.Changed("threshold") {
		harnessDetails.PassThreshold = fromFlags.PassThreshold
	}
	if flags.Changed("output") {
		harnessDetails.OutputPath = fromFlags.OutputPath
	}
	if flags.Changed("kubeconfig") {
		harnessDetails.Kubeconfig = fromFlags.Kubeconfig
	}
	return nil
}

func validateDetails() error {
	if mode != types.ModeGraceful && mode != types.ModeForced {
		return fmt.Errorf("unsupported mode %q, expected %q or %q", mode, types.ModeGraceful, types.ModeForced)
	}
	if harnessDetails.Selector == "" {
		return fmt.Errorf("a label selector is required")
	}
	if harnessDetails.Deployment == "" {
		return fmt.Errorf("a deployment name is required")
	}
	if harnessDetails.ProbeCount < 1 {
		return fmt.Errorf("the probe count must be at least 1")
	}
	if harnessDetails.WatchTimeout < 0 || harnessDetails.ConvergenceTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if harnessDetails.PassThreshold < 0 || harnessDetails.PassThreshold > 1 {
		return fmt.Errorf("the pass threshold must be between 0 and 1")
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(harness.ExitFatal)
	}
}
