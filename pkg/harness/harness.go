// Package harness sequences the configured number of recovery probes
// and turns their results into a persisted report and an exit verdict.
package harness

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/palantir/stacktrace"
	logrus "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/litmuschaos/recovery-harness/pkg/cerrors"
	"github.com/litmuschaos/recovery-harness/pkg/cluster"
	"github.com/litmuschaos/recovery-harness/pkg/events"
	"github.com/litmuschaos/recovery-harness/pkg/log"
	"github.com/litmuschaos/recovery-harness/pkg/probe"
	"github.com/litmuschaos/recovery-harness/pkg/report"
	"github.com/litmuschaos/recovery-harness/pkg/status"
	"github.com/litmuschaos/recovery-harness/pkg/telemetry"
	"github.com/litmuschaos/recovery-harness/pkg/types"
)

// Exit codes of the harness run
const (
	ExitPass  = 0
	ExitFail  = 1
	ExitFatal = 2
)

// Harness owns the run, probes execute strictly sequentially so the
// measured latency is attributable to a single deletion
type Harness struct {
	Client cluster.Client
	// Recorder is optional, when set the run milestones are posted as
	// events on the deployment under test
	Recorder events.Recorder
	Details  *types.HarnessDetails
}

func (h *Harness) record(ctx context.Context, reason, message string) {
	if h.Recorder == nil {
		return
	}
	h.Recorder.Record(ctx, reason, message)
}

// Run executes the configured probes and returns the finalized report.
// The returned error is non-nil only for fatal connectivity or
// credential failures, the report is finalized (and truncated) even
// then so the caller can persist it.
func (h *Harness) Run(ctx context.Context) (*report.Report, error) {
	ctx, span := otel.Tracer(telemetry.TracerName).Start(ctx, "RecoveryRun")
	defer span.End()
	span.SetAttributes(
		attribute.String("run.namespace", h.Details.Namespace),
		attribute.String("run.deployment", h.Details.Deployment),
		attribute.Int("run.probe_count", h.Details.ProbeCount),
	)

	log.InfoWithValues("The run configuration is as follows", logrus.Fields{
		"Namespace":  h.Details.Namespace,
		"Selector":   h.Details.Selector,
		"Deployment": h.Details.Deployment,
		"Probes":     h.Details.ProbeCount,
		"Mode":       h.Details.Mode(),
	})

	rep := report.New(report.RunConfig{
		Namespace:          h.Details.Namespace,
		Selector:           h.Details.Selector,
		Deployment:         h.Details.Deployment,
		ProbeCount:         h.Details.ProbeCount,
		Mode:               h.Details.Mode(),
		WatchTimeoutSec:    h.Details.WatchTimeout,
		ConvergenceTimeSec: h.Details.ConvergenceTimeout,
		LatencyCeilingMs:   h.Details.LatencyCeiling,
		PassThreshold:      h.Details.PassThreshold,
		InstanceID:         h.Details.InstanceID,
	}, time.Now())

	h.record(ctx, events.ReasonRunStarted, fmt.Sprintf("verifying recovery of deployment %s with %d probe(s)", h.Details.Deployment, h.Details.ProbeCount))

	// steady-state look before the first deletion, informational only:
	// a missing target is probe data, not a run abort
	log.Info("[Status]: Verify that the workload under test is running (pre-run)")
	if err := status.CheckSteadyState(ctx, h.Client, h.Details.Namespace, h.Details.Selector, h.Details.Delay*2, h.Details.Delay); err != nil {
		if cerrors.IsFatal(err) {
			return h.abort(rep, err)
		}
		log.Warnf("[Status]: The workload is not in a steady state before the run, err: %v", err)
	}

	recoveryProbe := probe.RecoveryProbe{Client: h.Client, Details: h.Details}
	for sequence := 1; sequence <= h.Details.ProbeCount; sequence++ {
		result, err := recoveryProbe.Run(ctx, sequence)
		if err != nil {
			return h.abort(rep, err)
		}
		rep.Append(result)
		log.InfoWithValues("[Probe]: The probe has completed", logrus.Fields{
			"Sequence": result.Sequence, "Outcome": result.Outcome})
		h.record(ctx, events.ReasonProbeResult, fmt.Sprintf("probe #%d completed with outcome %s", result.Sequence, result.Outcome))

		if h.Details.Interval > 0 && sequence < h.Details.ProbeCount {
			log.Infof("[Wait]: Waiting for the %ds interval between probes", h.Details.Interval)
			select {
			case <-ctx.Done():
				return h.abort(rep, cerrors.Error{ErrorCode: cerrors.ErrorTypeConnection, Reason: "the run was cancelled"})
			case <-time.After(time.Duration(h.Details.Interval) * time.Second):
			}
		}
	}

	rep.Finalize(time.Now())
	h.persist(rep)

	verdict := "failed"
	if rep.Passed() {
		verdict = "passed"
	}
	h.record(ctx, events.ReasonRunCompleted, fmt.Sprintf("recovery verification %s, %d/%d probes succeeded", verdict, rep.Summary.Successes, rep.Summary.TotalProbes))
	return rep, nil
}

// ExitCode folds the run outcome into the process exit status
func ExitCode(rep *report.Report, err error) int {
	if err != nil {
		return ExitFatal
	}
	if rep.Passed() {
		return ExitPass
	}
	return ExitFail
}

// abort finalizes and persists a truncated report before surfacing the
// fatal error, partial data is still data
func (h *Harness) abort(rep *report.Report, err error) (*report.Report, error) {
	rootCause, errorCode := cerrors.GetRootCauseAndErrorCode(err)
	rep.Truncated = true
	rep.FatalError = rootCause
	rep.Finalize(time.Now())
	h.persist(rep)
	log.ErrorWithValues("The run was aborted by a fatal error", logrus.Fields{
		"ErrorCode": string(errorCode), "Reason": rootCause})
	return rep, stacktrace.Propagate(err, "the harness run failed")
}

func (h *Harness) persist(rep *report.Report) {
	report.WriteTable(os.Stdout, rep)

	if h.Details.OutputPath == "" {
		return
	}
	if err := report.Save(h.Details.OutputPath, rep); err != nil {
		log.Errorf("Unable to persist the report, err: %v", err)
		return
	}
	log.Infof("[Report]: The report has been written to %v", h.Details.OutputPath)
}
