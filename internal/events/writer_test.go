package events

import (
	"context"
	"testing"
	"time"

	"basin/internal/db"
	"basin/internal/migrate"
	"basin/internal/repo"
)

func testWriter(t *testing.T) (Writer, repo.Repo) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatal(err)
	}
	now := func() time.Time {
		return time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	}
	return Writer{DB: conn, Now: now}, repo.Repo{DB: conn}
}

func append1(t *testing.T, w Writer, evtType, runID, entityKind, entityID string, payload EventPayload) {
	t.Helper()
	tx, err := w.DB.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Append(context.Background(), tx, evtType, runID, entityKind, entityID, payload); err != nil {
		tx.Rollback()
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func TestAppendAndQuery(t *testing.T) {
	w, r := testWriter(t)
	ctx := context.Background()

	append1(t, w, "run.built", "r1", "run", "r1", EventPayload{"variables": 12})
	append1(t, w, "run.solved", "r1", "run", "r1", nil)
	append1(t, w, "solution.imported", "r2", "run", "r2", EventPayload{"violations": 0})

	all, err := r.LatestEvents(ctx, 10, "", "", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("events = %+v", all)
	}
	// Newest first.
	if all[0].Type != "solution.imported" || all[2].Type != "run.built" {
		t.Fatalf("event order: %+v", all)
	}
	if all[0].TS != "2026-08-25T10:00:00Z" {
		t.Fatalf("ts = %q", all[0].TS)
	}
	if all[2].Payload != `{"variables":12}` {
		t.Fatalf("payload = %q", all[2].Payload)
	}
	// Nil payload stored as an empty object, never empty text.
	if all[1].Payload != "{}" {
		t.Fatalf("nil payload stored as %q", all[1].Payload)
	}

	r1, err := r.LatestEvents(ctx, 10, "r1", "", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(r1) != 2 {
		t.Fatalf("run filter: %+v", r1)
	}

	solved, err := r.LatestEvents(ctx, 10, "r1", "run.solved", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(solved) != 1 {
		t.Fatalf("type filter: %+v", solved)
	}

	limited, err := r.LatestEvents(ctx, 2, "", "", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 || limited[0].Type != "solution.imported" {
		t.Fatalf("limit: %+v", limited)
	}
}

func TestAppendRollsBackWithTransaction(t *testing.T) {
	w, r := testWriter(t)
	ctx := context.Background()

	tx, err := w.DB.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Append(ctx, tx, "run.built", "r1", "run", "r1", nil); err != nil {
		t.Fatal(err)
	}
	tx.Rollback()

	left, err := r.LatestEvents(ctx, 10, "", "", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 0 {
		t.Fatalf("rolled-back event persisted: %+v", left)
	}
}
