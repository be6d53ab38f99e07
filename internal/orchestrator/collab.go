package orchestrator

import (
	"context"
	"time"
)

// CallRepository is the external persistence boundary for Call records.
// The core never implements this; internal/store provides one reference
// sqlite-backed implementation, and a real deployment is expected to
// supply its own.
type CallRepository interface {
	Save(ctx context.Context, call *Call) error
	FindByID(ctx context.Context, callID string) (*Call, error)
}

// Lead is the external shape of a dialable lead record, owned by
// spreadsheet ingestion or a CRM integration, never by this core.
type Lead struct {
	ID     string
	Number string
	Name   string
}

// LeadRepository is the external boundary for lead data. Out of scope per
// §1; modeled only as an interface the orchestrator's callers may consume
// when building a Request.
type LeadRepository interface {
	FindByID(ctx context.Context, leadID string) (*Lead, error)
}

// RecordingArtifact is a reference to a persisted recording, surviving
// past the Call's own lifetime so it can be retrieved later.
type RecordingArtifact struct {
	CallID       string
	Filename     string
	AbsolutePath string
	BaseURL      string
	CreatedAt    time.Time
}

// URL returns the retrievable address of the artifact.
func (a RecordingArtifact) URL() string {
	return a.BaseURL + "/" + a.Filename
}

// RecordingArtifactStore is the external boundary for recording metadata,
// used by both the Recording Manager (to register a new artifact) and the
// retention ticker (to enumerate and delete expired ones).
type RecordingArtifactStore interface {
	Save(ctx context.Context, artifact RecordingArtifact) error
	FindOlderThan(ctx context.Context, cutoff time.Time) ([]RecordingArtifact, error)
	Delete(ctx context.Context, callID string) error
}

// IntegrationStatusReporter is the external boundary for the
// integration-status endpoint: something outside the core that wants to
// know whether the orchestrator currently has a usable ESL connection.
// Out of scope per §1; the core only ever calls into it, never implements
// it.
type IntegrationStatusReporter interface {
	ReportStatus(ctx context.Context, connected bool, activeCalls int)
}

// LifecycleEvent is delivered to every registered listener on each Call
// state transition.
type LifecycleEvent struct {
	CallID       string
	State        CallState
	Cause        error
	RecordingURL string
}

// LifecycleListener receives LifecycleEvent notifications. Implementations
// must not block; the orchestrator calls listeners synchronously from the
// owning Call's goroutine.
type LifecycleListener func(LifecycleEvent)
