package store

import (
	"context"
	"fmt"
	"time"

	"github.com/flowpbx/dialer/internal/orchestrator"
)

// RecordingRepo implements orchestrator.RecordingArtifactStore against the
// sqlite-backed DB.
type RecordingRepo struct {
	db *DB
}

// NewRecordingRepository creates a store-backed RecordingRepo.
func NewRecordingRepository(db *DB) *RecordingRepo {
	return &RecordingRepo{db: db}
}

// Save registers a new recording artifact. Implements
// orchestrator.RecordingArtifactStore.
func (r *RecordingRepo) Save(ctx context.Context, artifact orchestrator.RecordingArtifact) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO recording_artifacts (call_id, filename, absolute_path, base_url, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(call_id) DO UPDATE SET
		 filename = excluded.filename,
		 absolute_path = excluded.absolute_path,
		 base_url = excluded.base_url,
		 created_at = excluded.created_at`,
		artifact.CallID, artifact.Filename, artifact.AbsolutePath, artifact.BaseURL, artifact.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving recording artifact %s: %w", artifact.CallID, err)
	}
	return nil
}

// FindOlderThan returns every artifact created before cutoff. Implements
// orchestrator.RecordingArtifactStore.
func (r *RecordingRepo) FindOlderThan(ctx context.Context, cutoff time.Time) ([]orchestrator.RecordingArtifact, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT call_id, filename, absolute_path, base_url, created_at
		 FROM recording_artifacts WHERE created_at < ?`, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("listing expired recording artifacts: %w", err)
	}
	defer rows.Close()

	var out []orchestrator.RecordingArtifact
	for rows.Next() {
		var a orchestrator.RecordingArtifact
		if err := rows.Scan(&a.CallID, &a.Filename, &a.AbsolutePath, &a.BaseURL, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning recording artifact row: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating recording artifact rows: %w", err)
	}
	return out, nil
}

// Delete removes the artifact reference for callID. Implements
// orchestrator.RecordingArtifactStore.
func (r *RecordingRepo) Delete(ctx context.Context, callID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM recording_artifacts WHERE call_id = ?`, callID)
	if err != nil {
		return fmt.Errorf("deleting recording artifact %s: %w", callID, err)
	}
	return nil
}
