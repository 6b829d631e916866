package joblog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/dropwatch/internal/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func record(t *testing.T, s *Store, id uuid.UUID) {
	t.Helper()
	err := s.Record(context.Background(), RecordRequest{
		ID:          id,
		Path:        "/flow/input/" + id.String() + ".input",
		Marker:      "marker.output",
		SubmittedBy: "watcher",
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
}

func TestStoreLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := uuid.New()

	record(t, s, id)
	if err := s.MarkWaiting(ctx, id.String(), "build", "env=prod^retries=3"); err != nil {
		t.Fatalf("MarkWaiting: %v", err)
	}
	if err := s.MarkRunning(ctx, id.String(), 4242); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	if err := s.Complete(ctx, id.String(), StatusSucceeded, nil); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	j, err := s.Get(ctx, id.String())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if j.Status != StatusSucceeded {
		t.Errorf("status = %q, want succeeded", j.Status)
	}
	if j.JobName != "build" || j.ArgString != "env=prod^retries=3" {
		t.Errorf("descriptor not stored: %+v", j)
	}
	if j.PID == nil || *j.PID != 4242 {
		t.Errorf("pid = %v, want 4242", j.PID)
	}
	if j.StartedAt == nil || j.CompletedAt == nil {
		t.Errorf("timestamps missing: started=%v completed=%v", j.StartedAt, j.CompletedAt)
	}
	if j.LastError != nil {
		t.Errorf("last_error = %q, want nil", *j.LastError)
	}

	entries, err := s.Log(ctx, id.String())
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	want := []Status{StatusReceived, StatusWaiting, StatusRunning, StatusSucceeded}
	if len(entries) != len(want) {
		t.Fatalf("log entries = %d, want %d", len(entries), len(want))
	}
	for i, e := range entries {
		if e.Status != want[i] {
			t.Errorf("entry %d status = %q, want %q", i, e.Status, want[i])
		}
	}
}

func TestStoreRecordDuplicate(t *testing.T) {
	s := openTestStore(t)
	id := uuid.New()

	record(t, s, id)
	err := s.Record(context.Background(), RecordRequest{ID: id, Path: "/x", Marker: "m", SubmittedBy: "watcher"})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestStoreRecordValidation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  RecordRequest
	}{
		{name: "no path", req: RecordRequest{ID: uuid.New(), Marker: "m", SubmittedBy: "w"}},
		{name: "no marker", req: RecordRequest{ID: uuid.New(), Path: "/p", SubmittedBy: "w"}},
		{name: "no submitter", req: RecordRequest{ID: uuid.New(), Path: "/p", Marker: "m"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Record(ctx, tt.req); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestStoreRejected(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := uuid.New()

	record(t, s, id)
	if err := s.MarkRejected(ctx, id.String(), `invalid job name "bad name"`); err != nil {
		t.Fatalf("MarkRejected: %v", err)
	}

	j, err := s.Get(ctx, id.String())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if j.Status != StatusRejected {
		t.Errorf("status = %q, want rejected", j.Status)
	}
	if j.LastError == nil || *j.LastError != `invalid job name "bad name"` {
		t.Errorf("last_error = %v", j.LastError)
	}
}

func TestStoreUnknownJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("Get: expected ErrJobNotFound, got %v", err)
	}
	if err := s.MarkRunning(ctx, "missing", 1); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("MarkRunning: expected ErrJobNotFound, got %v", err)
	}
}

func TestStoreCompleteRequiresTerminalStatus(t *testing.T) {
	s := openTestStore(t)
	id := uuid.New()
	record(t, s, id)

	if err := s.Complete(context.Background(), id.String(), StatusRunning, nil); err == nil {
		t.Fatal("expected error for non-terminal status")
	}
}

func TestStoreRecentOrdering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		id := uuid.New()
		ids = append(ids, id)
		record(t, s, id)
		time.Sleep(2 * time.Millisecond)
	}

	jobs, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("len = %d, want 2", len(jobs))
	}
	if jobs[0].ID != ids[2].String() || jobs[1].ID != ids[1].String() {
		t.Errorf("unexpected order: %s, %s", jobs[0].ID, jobs[1].ID)
	}
}

func TestStoreAbandonInFlight(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	done := uuid.New()
	record(t, s, done)
	if err := s.Complete(ctx, done.String(), StatusSucceeded, nil); err != nil {
		t.Fatal(err)
	}
	running := uuid.New()
	record(t, s, running)
	if err := s.MarkRunning(ctx, running.String(), 7); err != nil {
		t.Fatal(err)
	}
	received := uuid.New()
	record(t, s, received)

	n, err := s.AbandonInFlight(ctx, "dispatcher restarted")
	if err != nil {
		t.Fatalf("AbandonInFlight: %v", err)
	}
	if n != 2 {
		t.Fatalf("abandoned = %d, want 2", n)
	}

	for id, want := range map[uuid.UUID]Status{
		done:     StatusSucceeded,
		running:  StatusAbandoned,
		received: StatusAbandoned,
	} {
		j, err := s.Get(ctx, id.String())
		if err != nil {
			t.Fatal(err)
		}
		if j.Status != want {
			t.Errorf("%s status = %q, want %q", id, j.Status, want)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusRejected, StatusSucceeded, StatusFailed, StatusTimedOut, StatusAbandoned} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusReceived, StatusWaiting, StatusRunning} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
