package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/flowpbx/dialer/internal/orchestrator"
)

// CallRepo implements orchestrator.CallRepository against the
// sqlite-backed DB.
type CallRepo struct {
	db *DB
}

// NewCallRepository creates a store-backed CallRepo.
func NewCallRepository(db *DB) *CallRepo {
	return &CallRepo{db: db}
}

// Save upserts a Call's current snapshot. Implements
// orchestrator.CallRepository.
func (r *CallRepo) Save(ctx context.Context, call *orchestrator.Call) error {
	var agentUUID, leadUUID sql.NullString
	if call.Agent != nil {
		agentUUID = sql.NullString{String: call.Agent.UUID, Valid: true}
	}
	if call.Lead != nil {
		leadUUID = sql.NullString{String: call.Lead.UUID, Valid: true}
	}

	var errText sql.NullString
	if call.Err != nil {
		errText = sql.NullString{String: call.Err.Error(), Valid: true}
	}

	var answeredAt, endedAt sql.NullTime
	if !call.AnsweredAt.IsZero() {
		answeredAt = sql.NullTime{Time: call.AnsweredAt, Valid: true}
	}
	if !call.EndedAt.IsZero() {
		endedAt = sql.NullTime{Time: call.EndedAt, Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO calls (call_id, account_id, agent_number, lead_number, state,
		 agent_uuid, lead_uuid, recording_file, recording_url, error, created_at,
		 answered_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(call_id) DO UPDATE SET
		 state = excluded.state,
		 agent_uuid = excluded.agent_uuid,
		 lead_uuid = excluded.lead_uuid,
		 recording_file = excluded.recording_file,
		 recording_url = excluded.recording_url,
		 error = excluded.error,
		 answered_at = excluded.answered_at,
		 ended_at = excluded.ended_at`,
		call.CallID, call.AccountID, call.Request.AgentNumber, call.Request.LeadNumber,
		string(call.State), agentUUID, leadUUID, call.RecordingFile, call.RecordingURL,
		errText, call.CreatedAt, answeredAt, endedAt,
	)
	if err != nil {
		return fmt.Errorf("saving call %s: %w", call.CallID, err)
	}
	return nil
}

// FindByID returns the stored Call snapshot, or an error wrapping sql.ErrNoRows
// if callID is unknown. Implements orchestrator.CallRepository.
func (r *CallRepo) FindByID(ctx context.Context, callID string) (*orchestrator.Call, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT call_id, account_id, agent_number, lead_number, state,
		 agent_uuid, lead_uuid, recording_file, recording_url, error, created_at,
		 answered_at, ended_at
		 FROM calls WHERE call_id = ?`, callID,
	)

	var (
		call                  orchestrator.Call
		agentUUID, leadUUID   sql.NullString
		recordingFile, recURL sql.NullString
		errText               sql.NullString
		answeredAt, endedAt   sql.NullTime
	)

	err := row.Scan(
		&call.CallID, &call.AccountID, &call.Request.AgentNumber, &call.Request.LeadNumber,
		&call.State, &agentUUID, &leadUUID, &recordingFile, &recURL, &errText,
		&call.CreatedAt, &answeredAt, &endedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("finding call %s: %w", callID, err)
	}

	call.Request.CallID = call.CallID
	call.Request.AccountID = call.AccountID
	if agentUUID.Valid {
		call.Agent = &orchestrator.Leg{UUID: agentUUID.String, Role: orchestrator.LegRoleAgent, CallID: call.CallID}
	}
	if leadUUID.Valid {
		call.Lead = &orchestrator.Leg{UUID: leadUUID.String, Role: orchestrator.LegRoleLead, CallID: call.CallID}
	}
	call.RecordingFile = recordingFile.String
	call.RecordingURL = recURL.String
	if answeredAt.Valid {
		call.AnsweredAt = answeredAt.Time
	}
	if endedAt.Valid {
		call.EndedAt = endedAt.Time
	}

	return &call, nil
}
