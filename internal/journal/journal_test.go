package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mattjoyce/vessel/internal/protocol"
	"github.com/mattjoyce/vessel/internal/storage"
)

func openJournal(t *testing.T) *Journal {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "vessel.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func TestJournalRecordAndList(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	j := openJournal(t)

	if err := j.StartSession(ctx, Session{ID: "s1", Host: "shell", Port: 9001, PID: 42}); err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	plugin := protocol.Plugin{ID: "p1", Name: "ValidateNaming", Order: 1}
	inst := &protocol.Instance{ID: "i1", Name: "hero_rig"}

	if _, err := j.Record(ctx, "s1", "process", protocol.Result{Success: true, Plugin: plugin, Duration: 3}); err != nil {
		t.Fatalf("Record 1: %v", err)
	}
	if _, err := j.Record(ctx, "s1", "process", protocol.Result{
		Plugin:   plugin,
		Instance: inst,
		Error:    &protocol.ErrorInfo{Message: "bad name"},
		Records:  []protocol.Record{{Name: "ValidateNaming", LevelName: "ERROR", LevelNo: 40, Message: "bad name"}},
		Duration: 7.5,
	}); err != nil {
		t.Fatalf("Record 2: %v", err)
	}

	entries, err := j.List(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	first, second := entries[0], entries[1]
	if !first.Success || first.Instance != nil || first.Error != nil {
		t.Fatalf("unexpected first entry: %#v", first)
	}
	if string(first.Records) != "[]" {
		t.Fatalf("expected empty records array, got %s", first.Records)
	}
	if second.Success || second.Instance == nil || *second.Instance != "hero_rig" {
		t.Fatalf("unexpected second entry: %#v", second)
	}
	if second.Error == nil || *second.Error != "bad name" {
		t.Fatalf("error not journaled: %#v", second.Error)
	}
	if second.DurationMS != 7.5 || second.PluginOrder != 1 {
		t.Fatalf("numbers not journaled: %#v", second)
	}

	sum, err := j.Summarize(ctx, "s1")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if sum.Passed != 1 || sum.Failed != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
}

func TestJournalRecordRequiresSession(t *testing.T) {
	t.Parallel()

	j := openJournal(t)
	if _, err := j.Record(context.Background(), "", "process", protocol.Result{}); err == nil {
		t.Fatal("expected error for empty session")
	}
	// Foreign keys are enforced.
	if _, err := j.Record(context.Background(), "missing", "process", protocol.Result{}); err == nil {
		t.Fatal("expected error for unknown session")
	}
}

func TestJournalSessions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	j := openJournal(t)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "new"} {
		if err := j.StartSession(ctx, Session{ID: id, Host: "shell", Port: 9001 + i, PID: 1, StartedAt: base.Add(time.Duration(i) * time.Hour)}); err != nil {
			t.Fatalf("StartSession %s: %v", id, err)
		}
	}
	if err := j.EndSession(ctx, "old"); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if err := j.EndSession(ctx, "old"); err == nil {
		t.Fatal("expected error ending a session twice")
	}

	sessions, err := j.Sessions(ctx, 0)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(sessions) != 2 || sessions[0].ID != "new" || sessions[1].ID != "old" {
		t.Fatalf("unexpected session order: %#v", sessions)
	}
	if sessions[1].EndedAt == nil || sessions[0].EndedAt != nil {
		t.Fatalf("ended_at not tracked: %#v", sessions)
	}
	if sessions[0].Port != 9002 {
		t.Fatalf("port not stored: %d", sessions[0].Port)
	}
}
