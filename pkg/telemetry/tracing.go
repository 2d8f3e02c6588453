package telemetry

const (
	// TracerName identifies the harness tracer on every span it emits
	TracerName = "litmuschaos.io/recovery-harness"
)
