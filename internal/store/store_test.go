package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/flowpbx/dialer/internal/orchestrator"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_RunsMigrations(t *testing.T) {
	db := openTestDB(t)

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("querying schema_migrations: %v", err)
	}
	if count == 0 {
		t.Error("expected at least one migration to be recorded")
	}

	if err := db.QueryRow("SELECT COUNT(*) FROM calls").Scan(&count); err != nil {
		t.Fatalf("expected a calls table to exist: %v", err)
	}
	if err := db.QueryRow("SELECT COUNT(*) FROM recording_artifacts").Scan(&count); err != nil {
		t.Fatalf("expected a recording_artifacts table to exist: %v", err)
	}
}

func TestOpen_IsIdempotent(t *testing.T) {
	dir := t.TempDir()

	db1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	db1.Close()

	db2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open against the same data dir: %v", err)
	}
	defer db2.Close()

	var count int
	if err := db2.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", "0001_init").Scan(&count); err != nil {
		t.Fatalf("querying schema_migrations: %v", err)
	}
	if count != 1 {
		t.Errorf("expected migration 0001_init to be recorded exactly once, got %d", count)
	}
}

func TestCallRepo_SaveAndFindByID(t *testing.T) {
	db := openTestDB(t)
	repo := NewCallRepository(db)

	now := time.Now().Truncate(time.Second)
	call := &orchestrator.Call{
		CallID:    "call-1",
		AccountID: "acct-1",
		Request: orchestrator.Request{
			CallID:      "call-1",
			AccountID:   "acct-1",
			AgentNumber: "1001",
			LeadNumber:  "1002",
		},
		Agent:         &orchestrator.Leg{UUID: "agent-uuid", Role: orchestrator.LegRoleAgent, CallID: "call-1"},
		Lead:          &orchestrator.Leg{UUID: "lead-uuid", Role: orchestrator.LegRoleLead, CallID: "call-1"},
		State:         orchestrator.CallStateBridged,
		RecordingFile: "call_call-1_123.wav",
		RecordingURL:  "http://recordings.example/call_call-1_123.wav",
		CreatedAt:     now,
		AnsweredAt:    now.Add(5 * time.Second),
	}

	if err := repo.Save(context.Background(), call); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := repo.FindByID(context.Background(), "call-1")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}

	if got.CallID != call.CallID || got.AccountID != call.AccountID {
		t.Errorf("unexpected identity fields: %+v", got)
	}
	if got.Request.AgentNumber != "1001" || got.Request.LeadNumber != "1002" {
		t.Errorf("unexpected request fields: %+v", got.Request)
	}
	if got.Agent == nil || got.Agent.UUID != "agent-uuid" {
		t.Errorf("unexpected agent leg: %+v", got.Agent)
	}
	if got.Lead == nil || got.Lead.UUID != "lead-uuid" {
		t.Errorf("unexpected lead leg: %+v", got.Lead)
	}
	if got.State != orchestrator.CallStateBridged {
		t.Errorf("unexpected state: %s", got.State)
	}
	if got.RecordingURL != call.RecordingURL {
		t.Errorf("unexpected recording url: %s", got.RecordingURL)
	}
	if !got.AnsweredAt.Equal(call.AnsweredAt) {
		t.Errorf("expected answered_at %v, got %v", call.AnsweredAt, got.AnsweredAt)
	}
	if !got.EndedAt.IsZero() {
		t.Errorf("expected zero ended_at, got %v", got.EndedAt)
	}
}

func TestCallRepo_SaveUpserts(t *testing.T) {
	db := openTestDB(t)
	repo := NewCallRepository(db)

	call := &orchestrator.Call{
		CallID:    "call-2",
		AccountID: "acct-1",
		Request:   orchestrator.Request{AgentNumber: "1001", LeadNumber: "1002"},
		State:     orchestrator.CallStateStartingAgent,
		CreatedAt: time.Now(),
	}
	if err := repo.Save(context.Background(), call); err != nil {
		t.Fatalf("initial Save: %v", err)
	}

	call.State = orchestrator.CallStateCompleted
	call.EndedAt = time.Now()
	call.Err = errors.New("normal clearing")
	if err := repo.Save(context.Background(), call); err != nil {
		t.Fatalf("update Save: %v", err)
	}

	got, err := repo.FindByID(context.Background(), "call-2")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.State != orchestrator.CallStateCompleted {
		t.Errorf("expected updated state Completed, got %s", got.State)
	}
	if got.EndedAt.IsZero() {
		t.Error("expected ended_at to be set after update")
	}
}

func TestCallRepo_FindByID_NotFound(t *testing.T) {
	db := openTestDB(t)
	repo := NewCallRepository(db)

	_, err := repo.FindByID(context.Background(), "does-not-exist")
	if err == nil {
		t.Fatal("expected an error for an unknown call id")
	}
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("expected the error to wrap sql.ErrNoRows, got %v", err)
	}
}

func TestRecordingRepo_SaveFindDelete(t *testing.T) {
	db := openTestDB(t)
	repo := NewRecordingRepository(db)

	old := orchestrator.RecordingArtifact{
		CallID:       "call-old",
		Filename:     "old.wav",
		AbsolutePath: "/var/spool/recordings/old.wav",
		BaseURL:      "http://recordings.example",
		CreatedAt:    time.Now().Add(-48 * time.Hour),
	}
	fresh := orchestrator.RecordingArtifact{
		CallID:       "call-fresh",
		Filename:     "fresh.wav",
		AbsolutePath: "/var/spool/recordings/fresh.wav",
		BaseURL:      "http://recordings.example",
		CreatedAt:    time.Now(),
	}

	if err := repo.Save(context.Background(), old); err != nil {
		t.Fatalf("Save old: %v", err)
	}
	if err := repo.Save(context.Background(), fresh); err != nil {
		t.Fatalf("Save fresh: %v", err)
	}

	expired, err := repo.FindOlderThan(context.Background(), time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("FindOlderThan: %v", err)
	}
	if len(expired) != 1 || expired[0].CallID != "call-old" {
		t.Fatalf("expected only call-old to be expired, got %+v", expired)
	}

	if err := repo.Delete(context.Background(), "call-old"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	remaining, err := repo.FindOlderThan(context.Background(), time.Now().Add(24*time.Hour))
	if err != nil {
		t.Fatalf("FindOlderThan after delete: %v", err)
	}
	if len(remaining) != 1 || remaining[0].CallID != "call-fresh" {
		t.Fatalf("expected only call-fresh to remain, got %+v", remaining)
	}
}

func TestRecordingRepo_SaveUpserts(t *testing.T) {
	db := openTestDB(t)
	repo := NewRecordingRepository(db)

	artifact := orchestrator.RecordingArtifact{
		CallID:       "call-3",
		Filename:     "first.wav",
		AbsolutePath: "/var/spool/recordings/first.wav",
		BaseURL:      "http://recordings.example",
		CreatedAt:    time.Now(),
	}
	if err := repo.Save(context.Background(), artifact); err != nil {
		t.Fatalf("initial Save: %v", err)
	}

	artifact.Filename = "second.wav"
	artifact.AbsolutePath = "/var/spool/recordings/second.wav"
	if err := repo.Save(context.Background(), artifact); err != nil {
		t.Fatalf("upsert Save: %v", err)
	}

	all, err := repo.FindOlderThan(context.Background(), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("FindOlderThan: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected the upsert to replace the row rather than insert a second one, got %d rows", len(all))
	}
	if all[0].Filename != "second.wav" {
		t.Errorf("expected the upserted filename to win, got %q", all[0].Filename)
	}
}
