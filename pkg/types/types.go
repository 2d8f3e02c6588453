package types

import (
	"os"
	"time"

	clientTypes "k8s.io/apimachinery/pkg/types"
)

const (
	// ModeGraceful deletes the target with the default termination grace period
	ModeGraceful string = "graceful"
	// ModeForced deletes the target with a zero grace period
	ModeForced string = "forced"
)

// HarnessDetails is for collecting all the run-related details
type HarnessDetails struct {
	Namespace          string
	Selector           string
	Deployment         string
	ProbeCount         int
	Force              bool
	WatchTimeout       int
	ConvergenceTimeout int
	Delay              int
	Interval           int
	LatencyCeiling     int
	PassThreshold      float64
	OutputPath         string
	Kubeconfig         string
	InstanceID         string
	OTELEndpoint       string
}

// Mode returns the deletion mode label for the configured force flag
func (h *HarnessDetails) Mode() string {
	if h.Force {
		return ModeForced
	}
	return ModeGraceful
}

// PodRef is a read-only snapshot of a pod identity at observation time
type PodRef struct {
	Name      string            `json:"name"`
	Namespace string            `json:"namespace"`
	UID       clientTypes.UID   `json:"uid"`
	Labels    map[string]string `json:"labels"`
	OwnerKind string            `json:"ownerKind,omitempty"`
	OwnerName string            `json:"ownerName,omitempty"`
	Phase     string            `json:"phase,omitempty"`
	Ready     bool              `json:"ready"`
}

// PodEvent carries a single observation from the pod watch stream.
// Err is set at most once, on transport failure, and terminates the stream.
type PodEvent struct {
	Ref   PodRef
	Phase string
	Ready bool
	At    time.Time
	Err   error
}

// Getenv fetches the env by its name and applies the default value
// when the env is not set
func Getenv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		value = defaultValue
	}
	return value
}
