package environment

import (
	"os"
	"strconv"

	"github.com/palantir/stacktrace"
	"gopkg.in/yaml.v2"

	"github.com/litmuschaos/recovery-harness/pkg/cerrors"
	"github.com/litmuschaos/recovery-harness/pkg/types"
)

//GetENV fetches all the env variables for the harness run
func GetENV(harnessDetails *types.HarnessDetails) {
	harnessDetails.Namespace = types.Getenv("HARNESS_NAMESPACE", "default")
	harnessDetails.Selector = types.Getenv("HARNESS_SELECTOR", "")
	harnessDetails.Deployment = types.Getenv("HARNESS_DEPLOYMENT", "")
	harnessDetails.ProbeCount, _ = strconv.Atoi(types.Getenv("HARNESS_PROBE_COUNT", "1"))
	harnessDetails.Force, _ = strconv.ParseBool(types.Getenv("HARNESS_FORCE", "false"))
	harnessDetails.WatchTimeout, _ = strconv.Atoi(types.Getenv("HARNESS_WATCH_TIMEOUT", "180"))
	harnessDetails.ConvergenceTimeout, _ = strconv.Atoi(types.Getenv("HARNESS_CONVERGENCE_TIMEOUT", "120"))
	harnessDetails.Delay, _ = strconv.Atoi(types.Getenv("HARNESS_STATUS_CHECK_DELAY", "2"))
	harnessDetails.Interval, _ = strconv.Atoi(types.Getenv("HARNESS_PROBE_INTERVAL", "0"))
	harnessDetails.LatencyCeiling, _ = strconv.Atoi(types.Getenv("HARNESS_LATENCY_CEILING", "60000"))
	harnessDetails.PassThreshold, _ = strconv.ParseFloat(types.Getenv("HARNESS_PASS_THRESHOLD", "1.0"), 64)
	harnessDetails.OutputPath = types.Getenv("HARNESS_OUTPUT_PATH", "recovery-report.json")
	harnessDetails.Kubeconfig = types.Getenv("KUBECONFIG", "")
	harnessDetails.InstanceID = types.Getenv("INSTANCE_ID", "")
	harnessDetails.OTELEndpoint = types.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
}

// fileConfig mirrors HarnessDetails for the optional YAML config file,
// zero values mean "not set" and leave the current detail untouched
type fileConfig struct {
	Namespace          string  `yaml:"namespace"`
	Selector           string  `yaml:"selector"`
	Deployment         string  `yaml:"deployment"`
	ProbeCount         int     `yaml:"count"`
	Mode               string  `yaml:"mode"`
	WatchTimeout       int     `yaml:"timeout"`
	ConvergenceTimeout int     `yaml:"convergenceTimeout"`
	Delay              int     `yaml:"delay"`
	Interval           int     `yaml:"interval"`
	LatencyCeiling     int     `yaml:"latencyCeiling"`
	PassThreshold      float64 `yaml:"threshold"`
	OutputPath         string  `yaml:"output"`
	Kubeconfig         string  `yaml:"kubeconfig"`
}

// LoadConfigFile overlays the harness details with the values present
// in the given YAML file
func LoadConfigFile(path string, harnessDetails *types.HarnessDetails) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return cerrors.Error{ErrorCode: cerrors.ErrorTypeGeneric, Target: path, Reason: err.Error()}
	}
	cfg := fileConfig{}
	if err := yaml.UnmarshalStrict(raw, &cfg); err != nil {
		return stacktrace.Propagate(cerrors.Error{ErrorCode: cerrors.ErrorTypeGeneric, Target: path, Reason: err.Error()}, "could not parse config file")
	}

	if cfg.Namespace != "" {
		harnessDetails.Namespace = cfg.Namespace
	}
	if cfg.Selector != "" {
		harnessDetails.Selector = cfg.Selector
	}
	if cfg.Deployment != "" {
		harnessDetails.Deployment = cfg.Deployment
	}
	if cfg.ProbeCount != 0 {
		harnessDetails.ProbeCount = cfg.ProbeCount
	}
	if cfg.Mode != "" {
		harnessDetails.Force = cfg.Mode == types.ModeForced
	}
	if cfg.WatchTimeout != 0 {
		harnessDetails.WatchTimeout = cfg.WatchTimeout
	}
	if cfg.ConvergenceTimeout != 0 {
		harnessDetails.ConvergenceTimeout = cfg.ConvergenceTimeout
	}
	if cfg.Delay != 0 {
		harnessDetails.Delay = cfg.Delay
	}
	if cfg.Interval != 0 {
		harnessDetails.Interval = cfg.Interval
	}
	if cfg.LatencyCeiling != 0 {
		harnessDetails.LatencyCeiling = cfg.LatencyCeiling
	}
	if cfg.PassThreshold != 0 {
		harnessDetails.PassThreshold = cfg.PassThreshold
	}
	if cfg.OutputPath != "" {
		harnessDetails.OutputPath = cfg.OutputPath
	}
	if cfg.Kubeconfig != "" {
		harnessDetails.Kubeconfig = cfg.Kubeconfig
	}
	return nil
}
