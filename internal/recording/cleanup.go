package recording

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/flowpbx/dialer/internal/orchestrator"
)

// StartCleanupTicker runs a background goroutine that periodically removes
// recording files older than maxAge and deletes their store reference. If
// maxAge is 0, no cleanup is performed. The goroutine stops when ctx is
// cancelled. store is typically internal/store's RecordingRepo, which
// satisfies orchestrator.RecordingArtifactStore directly.
func StartCleanupTicker(ctx context.Context, store orchestrator.RecordingArtifactStore, maxAge time.Duration, interval time.Duration) {
	if maxAge <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runCleanup(ctx, store, maxAge)
			}
		}
	}()
}

func runCleanup(ctx context.Context, store orchestrator.RecordingArtifactStore, maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)

	artifacts, err := store.FindOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("recording retention: failed to list expired artifacts", "error", err)
		return
	}
	if len(artifacts) == 0 {
		return
	}

	for _, a := range artifacts {
		if err := os.Remove(a.AbsolutePath); err != nil && !os.IsNotExist(err) {
			slog.Warn("recording retention: failed to remove file", "path", a.AbsolutePath, "error", err)
			continue
		}
		if err := store.Delete(ctx, a.CallID); err != nil {
			slog.Warn("recording retention: failed to delete artifact reference", "call_id", a.CallID, "error", err)
		}
	}

	slog.Info("recording retention cleanup", "deleted", len(artifacts))
}
