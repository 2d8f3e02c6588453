package events

import (
	"context"

	"github.com/litmuschaos/recovery-harness/pkg/clients"
	"github.com/litmuschaos/recovery-harness/pkg/log"
	"github.com/litmuschaos/recovery-harness/pkg/types"
)

// Reason values stamped on the events of a verification run
const (
	ReasonRunStarted   = "RecoveryVerificationStarted"
	ReasonProbeResult  = "RecoveryProbeCompleted"
	ReasonRunCompleted = "RecoveryVerificationCompleted"
)

// Recorder posts run milestones as events on the deployment under
// test so they show up in `kubectl describe deployment`
type Recorder interface {
	Record(ctx context.Context, reason, message string)
}

type deploymentRecorder struct {
	clientSets clients.ClientSets
	details    *types.HarnessDetails
}

// NewRecorder initializes the recorder for the configured deployment
func NewRecorder(clientSets clients.ClientSets, details *types.HarnessDetails) Recorder {
	return &deploymentRecorder{clientSets: clientSets, details: details}
}

// Record is best effort, a rejected event never fails the run
func (r *deploymentRecorder) Record(ctx context.Context, reason, message string) {
	eventDetails := EventDetails{
		Reason:     reason,
		Message:    message,
		Namespace:  r.details.Namespace,
		Deployment: r.details.Deployment,
		Source:     "recovery-harness",
	}
	if err := GenerateEvent(ctx, &eventDetails, r.clientSets); err != nil {
		log.Warnf("[Events]: Unable to record the %v event, err: %v", reason, err)
	}
}
