// Package probe runs a single recovery experiment: delete one pod of
// the workload under test and time how long the controller takes to
// bring a ready replacement back.
package probe

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/palantir/stacktrace"
	logrus "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	k8slabels "k8s.io/apimachinery/pkg/labels"
	clientTypes "k8s.io/apimachinery/pkg/types"

	"github.com/litmuschaos/recovery-harness/pkg/cerrors"
	"github.com/litmuschaos/recovery-harness/pkg/cluster"
	"github.com/litmuschaos/recovery-harness/pkg/log"
	"github.com/litmuschaos/recovery-harness/pkg/report"
	"github.com/litmuschaos/recovery-harness/pkg/status"
	"github.com/litmuschaos/recovery-harness/pkg/telemetry"
	"github.com/litmuschaos/recovery-harness/pkg/types"
)

// phase tracks the probe state machine, transitions are logged so an
// aborted run shows where each probe stopped
type phase string

const (
	phaseIdle               phase = "Idle"
	phaseTargetSelected     phase = "TargetSelected"
	phaseDeleted            phase = "Deleted"
	phaseWaitingReplacement phase = "WaitingReplacement"
	phaseSucceeded          phase = "Succeeded"
	phaseTimedOut           phase = "TimedOut"
)

// RecoveryProbe drives one experiment against the cluster client
type RecoveryProbe struct {
	Client  cluster.Client
	Details *types.HarnessDetails
}

// Run executes a single probe and returns its result. A returned error
// is always fatal to the whole run (connectivity or credentials), every
// other failure is folded into the result outcome.
func (p *RecoveryProbe) Run(ctx context.Context, sequence int) (report.ProbeResult, error) {
	ctx, span := otel.Tracer(telemetry.TracerName).Start(ctx, "RecoveryProbe")
	defer span.End()
	span.SetAttributes(attribute.Int("probe.sequence", sequence))

	result := report.ProbeResult{Sequence: sequence, Mode: p.Details.Mode()}
	p.transition(sequence, phaseIdle, phaseTargetSelected)

	target, preexisting, found, err := p.selectTarget(ctx)
	if err != nil {
		return result, stacktrace.Propagate(err, "could not select the target pod")
	}
	if !found {
		result.Outcome = report.OutcomeNoTarget
		result.FailureReason = fmt.Sprintf("no ready pod matched the selector %q in namespace %q", p.Details.Selector, p.Details.Namespace)
		log.Warnf("[Probe]: %v", result.FailureReason)
		return result, nil
	}
	result.Target = target
	span.SetAttributes(attribute.String("probe.target", target.Name))

	// the watch is opened before the delete call so the replacement
	// cannot slip through between the two, and torn down with the probe
	// so its connection never outlives it
	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	events, err := p.Client.WatchPods(watchCtx, p.Details.Namespace, p.Details.Selector, time.Duration(p.Details.WatchTimeout)*time.Second)
	if err != nil {
		return result, stacktrace.Propagate(err, "could not open the pod watch")
	}

	p.transition(sequence, phaseTargetSelected, phaseDeleted)
	if err := p.Client.DeletePod(ctx, target, !p.Details.Force); err != nil {
		if cerrors.GetErrorType(stacktrace.RootCause(err)) != cerrors.ErrorTypeNotFound {
			return result, stacktrace.Propagate(err, "could not delete the target pod")
		}
		// the pod is already gone, which is the state the delete was
		// after, the probe proceeds to wait for the replacement
		log.Infof("[Probe]: Pod %v is already absent, continuing", target.Name)
	}
	deletedAt := time.Now().UTC()
	deleteInstant := time.Now()
	result.DeletedAt = &deletedAt
	log.InfoWithValues("[Probe]: Deleted the target pod", logrus.Fields{
		"Pod": target.Name, "Mode": result.Mode})

	p.transition(sequence, phaseDeleted, phaseWaitingReplacement)
	replacement, readyAt, latency, err := p.awaitReplacement(ctx, target, preexisting, events, deleteInstant)
	if err != nil {
		return result, err
	}
	if replacement == nil {
		p.transition(sequence, phaseWaitingReplacement, phaseTimedOut)
		result.Outcome = report.OutcomeTimeout
		result.FailureReason = fmt.Sprintf("no ready replacement observed within %ds", p.Details.WatchTimeout)
		// best-effort replica counts for the record
		if desired, ready, err := p.Client.ReplicaStatus(ctx, p.Details.Namespace, p.Details.Deployment); err == nil {
			result.DesiredReplicas, result.ReadyReplicas = desired, ready
		}
		return result, nil
	}

	p.transition(sequence, phaseWaitingReplacement, phaseSucceeded)
	result.Replacement = replacement
	result.ReplacementReadyAt = &readyAt
	latencyMs := latency.Milliseconds()
	result.LatencyMs = &latencyMs
	span.SetAttributes(attribute.Int64("probe.latency_ms", latencyMs))
	log.InfoWithValues("[Probe]: Observed a ready replacement", logrus.Fields{
		"Pod": replacement.Name, "LatencyMs": latencyMs})

	desired, ready, err := status.WaitForReplicaConvergence(ctx, p.Client, p.Details.Namespace, p.Details.Deployment, p.Details.ConvergenceTimeout, p.Details.Delay)
	result.DesiredReplicas, result.ReadyReplicas = desired, ready
	if err != nil {
		if cerrors.IsFatal(err) {
			return result, stacktrace.Propagate(err, "could not verify the replica convergence")
		}
		result.Outcome = report.OutcomeReplicaMismatch
		result.FailureReason = err.Error()
		return result, nil
	}

	result.Outcome = report.OutcomeSuccess
	return result, nil
}

// selectTarget lists the matching pods and picks one ready pod at
// random, mirroring how an operator would grab an arbitrary replica.
// It also returns the UIDs of every pod alive before the deletion so
// the replacement search can tell siblings apart from new pods.
func (p *RecoveryProbe) selectTarget(ctx context.Context) (types.PodRef, map[clientTypes.UID]struct{}, bool, error) {
	refs, err := p.Client.ListPods(ctx, p.Details.Namespace, p.Details.Selector)
	if err != nil {
		return types.PodRef{}, nil, false, err
	}
	preexisting := make(map[clientTypes.UID]struct{}, len(refs))
	candidates := make([]types.PodRef, 0, len(refs))
	for _, ref := range refs {
		preexisting[ref.UID] = struct{}{}
		if ref.Ready {
			candidates = append(candidates, ref)
		}
	}
	if len(candidates) == 0 {
		return types.PodRef{}, nil, false, nil
	}
	return candidates[rand.Intn(len(candidates))], preexisting, true, nil
}

// awaitReplacement consumes the watch stream until a pod created after
// the deletion, with the target's labels and owner, reaches ready, or
// the stream ends. When several replacements churn up, the first to
// reach ready wins.
func (p *RecoveryProbe) awaitReplacement(ctx context.Context, target types.PodRef, preexisting map[clientTypes.UID]struct{}, events <-chan types.PodEvent, deleteInstant time.Time) (*types.PodRef, time.Time, time.Duration, error) {
	for event := range events {
		if event.Err != nil {
			return nil, time.Time{}, 0, stacktrace.Propagate(event.Err, "the pod watch failed mid-stream")
		}
		if !event.Ready {
			continue
		}
		// the watch replays the pods alive at open time, a sibling
		// replica turning ready is not a replacement
		if _, existed := preexisting[event.Ref.UID]; existed {
			continue
		}
		if !k8slabels.Equals(k8slabels.Set(event.Ref.Labels), k8slabels.Set(target.Labels)) {
			continue
		}
		latency := time.Since(deleteInstant)
		readyAt := time.Now().UTC()

		replacement, err := p.confirmReplacement(ctx, target, event.Ref.Name)
		if err != nil {
			return nil, time.Time{}, 0, err
		}
		if replacement == nil {
			// owned by a different controller or already gone again,
			// keep waiting for the next candidate
			continue
		}
		return replacement, readyAt, latency, nil
	}
	return nil, time.Time{}, 0, nil
}

// confirmReplacement re-reads the candidate to attach its owner and
// verifies it belongs to the same controller as the deleted pod
func (p *RecoveryProbe) confirmReplacement(ctx context.Context, target types.PodRef, name string) (*types.PodRef, error) {
	refs, err := p.Client.ListPods(ctx, p.Details.Namespace, p.Details.Selector)
	if err != nil {
		return nil, stacktrace.Propagate(err, "could not confirm the replacement pod")
	}
	for i := range refs {
		if refs[i].Name != name {
			continue
		}
		if target.OwnerKind != "" && (refs[i].OwnerKind != target.OwnerKind || refs[i].OwnerName != target.OwnerName) {
			log.Warnf("[Probe]: Ignoring pod %v owned by %v/%v, the target was owned by %v/%v",
				name, refs[i].OwnerKind, refs[i].OwnerName, target.OwnerKind, target.OwnerName)
			return nil, nil
		}
		return &refs[i], nil
	}
	return nil, nil
}

func (p *RecoveryProbe) transition(sequence int, from, to phase) {
	log.Infof("[Probe]: #%d %v -> %v", sequence, from, to)
}
