package installer

import (
	"context"

	"github.com/oshokin/composite-installer/internal/logger"
)

// Phase identifies the pipeline step a progress event refers to.
type Phase string

// Progress phases in pipeline order, plus the three terminal states.
const (
	PhaseResolving   Phase = "resolving"
	PhaseDownloading Phase = "downloading"
	PhaseExtracting  Phase = "extracting"
	PhaseMerging     Phase = "merging"
	PhaseSkipped     Phase = "skipped"
	PhaseSucceeded   Phase = "succeeded"
	PhaseFailed      Phase = "failed"
)

// Event is one progress notification for a repository.
type Event struct {
	// Slug is the "owner/name" identifier of the repository.
	Slug string
	// Phase is the step the repository just entered or finished in.
	Phase Phase
	// Version is the resolved release tag, when known.
	Version string
	// Err carries the failure for PhaseFailed events.
	Err error
}

// Reporter consumes progress events. Staging phases run concurrently, so
// implementations must be safe for concurrent use.
type Reporter interface {
	Publish(ctx context.Context, event Event)
}

// NopReporter discards all events.
type NopReporter struct{}

// Publish implements Reporter.
func (NopReporter) Publish(context.Context, Event) {}

// LogReporter forwards events to the context logger.
type LogReporter struct{}

// Publish implements Reporter.
func (LogReporter) Publish(ctx context.Context, event Event) {
	switch event.Phase {
	case PhaseFailed:
		logger.ErrorKV(ctx, "Component failed",
			"repository", event.Slug, "version", event.Version, "error", event.Err)
	case PhaseSkipped:
		logger.InfoKV(ctx, "Component is up to date",
			"repository", event.Slug, "version", event.Version)
	case PhaseSucceeded:
		logger.InfoKV(ctx, "Component installed",
			"repository", event.Slug, "version", event.Version)
	default:
		logger.InfoKV(ctx, "Component progress",
			"repository", event.Slug, "phase", string(event.Phase), "version", event.Version)
	}
}
