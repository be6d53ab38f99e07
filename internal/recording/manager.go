// Package recording implements the Recording Manager (spec §4.4): starting
// uuid_record against both legs of a bridged call and resolving the
// retrievable URL of the resulting artifact.
package recording

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/flowpbx/dialer/internal/orchestrator"
)

// apiClient is the subset of *esl.Client the Manager needs. Kept as an
// interface so this package never imports internal/esl, matching the
// orchestrator's own "recorder" seam.
type apiClient interface {
	API(ctx context.Context, cmd string) (string, error)
}

// ArtifactStore persists RecordingArtifact references past the owning
// Call's lifetime. internal/store's RecordingRepo satisfies this directly
// (it is the same interface as orchestrator.RecordingArtifactStore). May be
// nil, in which case the Manager still starts recording but nothing is
// durably registered.
type ArtifactStore interface {
	Save(ctx context.Context, artifact orchestrator.RecordingArtifact) error
}

// Manager starts call recording against live FreeSWITCH channels. It never
// issues an explicit uuid_record stop (§4.4: "Implementations MUST NOT rely
// on explicit uuid_record stop"); recording terminates when the legs hang
// up.
type Manager struct {
	client    apiClient
	store     ArtifactStore
	directory string
	baseURL   string
	logger    *slog.Logger

	failures atomic.Int64
}

// NewManager creates a recording Manager. directory is the absolute path
// .wav files are written under; baseURL is the prefix used to build
// retrievable artifact URLs. store may be nil.
func NewManager(client apiClient, store ArtifactStore, directory, baseURL string, logger *slog.Logger) *Manager {
	return &Manager{
		client:    client,
		store:     store,
		directory: directory,
		baseURL:   strings.TrimRight(baseURL, "/"),
		logger:    logger.With("subsystem", "recording-manager"),
	}
}

// Start implements the orchestrator's recorder interface. It composes the
// filename per §4.4 step 1, issues uuid_record against both legs (best
// effort — a -ERR is logged and counted but never aborts the call), and
// registers the artifact with the store if one is configured. It always
// returns the filename and base URL the orchestrator should remember, even
// if both uuid_record calls failed, since recording is fire-and-forget.
func (m *Manager) Start(ctx context.Context, callID, agentUUID, leadUUID string) (filename string, baseURL string) {
	filename = fmt.Sprintf("call_%s_%d.wav", callID, time.Now().UnixMilli())
	path := filepath.Join(m.directory, filename)

	m.startOnLeg(ctx, agentUUID, path, callID)
	m.startOnLeg(ctx, leadUUID, path, callID)

	if m.store != nil {
		artifact := orchestrator.RecordingArtifact{
			CallID:       callID,
			Filename:     filename,
			AbsolutePath: path,
			BaseURL:      m.baseURL,
			CreatedAt:    time.Now(),
		}
		if err := m.store.Save(ctx, artifact); err != nil {
			m.logger.Warn("failed to persist recording artifact", "call_id", callID, "error", err)
		}
	}

	return filename, m.baseURL
}

// startOnLeg issues a single uuid_record start against one channel. Errors
// are logged and counted, never propagated: §4.4 step 2 treats recording
// failures as best-effort.
func (m *Manager) startOnLeg(ctx context.Context, uuid, path, callID string) {
	cmd := fmt.Sprintf("uuid_record %s start %s", uuid, path)
	resp, err := m.client.API(ctx, cmd)
	if err != nil {
		m.failures.Add(1)
		m.logger.Warn("uuid_record failed", "call_id", callID, "uuid", uuid, "error", err)
		return
	}
	if !strings.HasPrefix(resp, "+OK") {
		m.failures.Add(1)
		m.logger.Warn("uuid_record rejected", "call_id", callID, "uuid", uuid, "response", resp)
	}
}

// RecordingFailures implements the metrics package's RecordingFailureCounter.
func (m *Manager) RecordingFailures() int64 {
	return m.failures.Load()
}
