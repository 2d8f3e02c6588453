package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/kyokomi/emoji"

	"github.com/litmuschaos/recovery-harness/pkg/cerrors"
)

// WriteJSON renders the machine-readable form of the report, the field
// order follows the struct declarations and timestamps are RFC 3339,
// so re-rendering the same report is byte-identical
func WriteJSON(w io.Writer, r *Report) error {
	encoded, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return cerrors.Error{ErrorCode: cerrors.ErrorTypeGeneric, Reason: fmt.Sprintf("failed to marshal the report: %s", err.Error())}
	}
	encoded = append(encoded, '\n')
	if _, err := w.Write(encoded); err != nil {
		return cerrors.Error{ErrorCode: cerrors.ErrorTypeGeneric, Reason: fmt.Sprintf("failed to write the report: %s", err.Error())}
	}
	return nil
}

// Save persists the machine-readable report at the given path
func Save(path string, r *Report) error {
	file, err := os.Create(path)
	if err != nil {
		return cerrors.Error{ErrorCode: cerrors.ErrorTypeGeneric, Target: path, Reason: err.Error()}
	}
	defer file.Close()
	return WriteJSON(file, r)
}

// WriteTable renders the human-readable summary of the report
func WriteTable(w io.Writer, r *Report) {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)

	fmt.Fprintln(tw, "SEQ\tTARGET\tOUTCOME\tLATENCY(ms)\tREPLICAS\tVERDICT")
	for _, result := range r.Results {
		latency := "-"
		if result.LatencyMs != nil {
			latency = fmt.Sprintf("%d", *result.LatencyMs)
		}
		verdict := emoji.Sprint(":thumbsdown:")
		if result.Outcome == OutcomeSuccess {
			verdict = emoji.Sprint(":thumbsup:")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d/%d\t%s\n",
			result.Sequence, result.Target.Name, result.Outcome, latency,
			result.ReadyReplicas, result.DesiredReplicas, verdict)
	}
	tw.Flush()

	fmt.Fprintf(w, "\nprobes: %d, successes: %d, success ratio: %.2f\n",
		r.Summary.TotalProbes, r.Summary.Successes, r.Summary.SuccessRatio)
	if r.Summary.Successes > 0 {
		fmt.Fprintf(w, "latency ms: mean %d, median %d, max %d\n",
			r.Summary.MeanLatencyMs, r.Summary.MedianLatencyMs, r.Summary.MaxLatencyMs)
	}
	if r.Truncated {
		fmt.Fprintf(w, "run aborted early: %s\n", r.FatalError)
	}
}
