// Package report owns the run record, it accumulates immutable probe
// results and derives the summary statistics over the successful ones.
package report

import (
	"sort"
	"time"

	"github.com/litmuschaos/recovery-harness/pkg/types"
)

// Outcome is the terminal classification of a single probe
type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeTimeout         Outcome = "timeout"
	OutcomeReplicaMismatch Outcome = "replica-mismatch"
	OutcomeNoTarget        Outcome = "no-target"
)

// ProbeResult is the record of one recovery experiment, it is never
// mutated once appended to a report
type ProbeResult struct {
	Sequence           int           `json:"sequence"`
	Mode               string        `json:"mode"`
	Target             types.PodRef  `json:"target"`
	Replacement        *types.PodRef `json:"replacement,omitempty"`
	DeletedAt          *time.Time    `json:"deletedAt,omitempty"`
	ReplacementReadyAt *time.Time    `json:"replacementReadyAt,omitempty"`
	LatencyMs          *int64        `json:"latencyMs,omitempty"`
	DesiredReplicas    int32         `json:"desiredReplicas"`
	ReadyReplicas      int32         `json:"readyReplicas"`
	Outcome            Outcome       `json:"outcome"`
	FailureReason      string        `json:"failureReason,omitempty"`
}

// RunConfig is the harness configuration echoed into the report for
// reproducibility
type RunConfig struct {
	Namespace          string  `json:"namespace"`
	Selector           string  `json:"selector"`
	Deployment         string  `json:"deployment"`
	ProbeCount         int     `json:"probeCount"`
	Mode               string  `json:"mode"`
	WatchTimeoutSec    int     `json:"watchTimeoutSec"`
	ConvergenceTimeSec int     `json:"convergenceTimeoutSec"`
	LatencyCeilingMs   int     `json:"latencyCeilingMs"`
	PassThreshold      float64 `json:"passThreshold"`
	InstanceID         string  `json:"instanceId,omitempty"`
}

// Summary holds the aggregate statistics over the appended results,
// latency statistics cover successful probes only
type Summary struct {
	TotalProbes     int     `json:"totalProbes"`
	Successes       int     `json:"successes"`
	SuccessRatio    float64 `json:"successRatio"`
	MeanLatencyMs   int64   `json:"meanLatencyMs"`
	MedianLatencyMs int64   `json:"medianLatencyMs"`
	MaxLatencyMs    int64   `json:"maxLatencyMs"`
}

// Report is the ordered run record handed to the writers
type Report struct {
	Config     RunConfig     `json:"config"`
	StartedAt  time.Time     `json:"startedAt"`
	EndedAt    time.Time     `json:"endedAt"`
	Truncated  bool          `json:"truncated"`
	FatalError string        `json:"fatalError,omitempty"`
	Results    []ProbeResult `json:"results"`
	Summary    Summary       `json:"summary"`
}

// New returns an empty report stamped with the run start time
func New(config RunConfig, startedAt time.Time) *Report {
	return &Report{
		Config:    config,
		StartedAt: startedAt.UTC(),
		Results:   []ProbeResult{},
	}
}

// Append adds a completed probe result to the run record
func (r *Report) Append(result ProbeResult) {
	r.Results = append(r.Results, result)
}

// Finalize stamps the end time and computes the summary statistics
func (r *Report) Finalize(endedAt time.Time) {
	r.EndedAt = endedAt.UTC()

	summary := Summary{TotalProbes: len(r.Results)}
	latencies := []int64{}
	for _, result := range r.Results {
		if result.Outcome == OutcomeSuccess && result.LatencyMs != nil {
			summary.Successes++
			latencies = append(latencies, *result.LatencyMs)
		}
	}
	if summary.TotalProbes > 0 {
		summary.SuccessRatio = float64(summary.Successes) / float64(summary.TotalProbes)
	}
	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		var sum int64
		for _, latency := range latencies {
			sum += latency
		}
		summary.MeanLatencyMs = sum / int64(len(latencies))
		summary.MedianLatencyMs = latencies[len(latencies)/2]
		if len(latencies)%2 == 0 {
			summary.MedianLatencyMs = (latencies[len(latencies)/2-1] + latencies[len(latencies)/2]) / 2
		}
		summary.MaxLatencyMs = latencies[len(latencies)-1]
	}
	r.Summary = summary
}

// Passed reports whether the run meets the configured pass criteria,
// the success ratio threshold and the per-probe latency ceiling
func (r *Report) Passed() bool {
	if r.Truncated {
		return false
	}
	if r.Summary.SuccessRatio < r.Config.PassThreshold {
		return false
	}
	for _, result := range r.Results {
		if result.LatencyMs != nil && *result.LatencyMs > int64(r.Config.LatencyCeilingMs) {
			return false
		}
	}
	return true
}
