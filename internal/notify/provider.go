package notify

import "time"

// Provider defines the notification contract for pipeline events.
// The interface allows for different notification backends and
// enables easier testing through mock implementations.
type Provider interface {
	// PipelineStarted sends notification when a pipeline run starts.
	PipelineStarted(runID string, sources []string) error

	// PipelineCompleted sends notification when a run completes successfully.
	PipelineCompleted(runID string, startTime time.Time, duration time.Duration, rowsStaged, rowsLoaded int64, skippedUnits int) error

	// PipelineFailed sends notification when a run fails.
	PipelineFailed(runID string, err error, duration time.Duration) error

	// SourceUnitFailed sends notification for an individual skipped unit.
	SourceUnitFailed(runID, source, identifier, reason string) error
}

// Ensure Notifier implements Provider
var _ Provider = (*Notifier)(nil)
