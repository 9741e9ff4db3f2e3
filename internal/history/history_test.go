package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/xiaozhiapp/termuxbridge/internal/termuxapi"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "history.db"))
	if err != nil {
		t.Fatalf("failed to open journal: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_EmptySQLitePath(t *testing.T) {
	if _, err := Open(Config{Driver: "sqlite"}); err == nil {
		t.Error("expected error for empty sqlite path")
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "mysql", SQLitePath: "x.db"}); err == nil {
		t.Error("expected error for unknown driver")
	}
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	id, err := s.Record(context.Background(), Entry{Method: "Location"})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	s.Close()

	s, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("second open failed: %v", err)
	}
	defer s.Close()
	if _, err := s.Get(context.Background(), id); err != nil {
		t.Errorf("entry lost across reopen: %v", err)
	}
}

func TestRecord_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	started := time.UnixMilli(1_700_000_000_123)

	id, err := s.Record(ctx, Entry{
		Method:    "Location",
		Host:      "localhost",
		Port:      8080,
		Request:   `{"extras":{"api_method":"Location"}}`,
		Result:    `{"latitude":1}`,
		StartedAt: started,
		Duration:  1500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if len(id) != 36 {
		t.Errorf("expected a uuid, got %q", id)
	}

	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Method != "Location" || got.Host != "localhost" || got.Port != 8080 {
		t.Errorf("unexpected entry %+v", got)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("expected started %v, got %v", started, got.StartedAt)
	}
	if got.Duration != 1500*time.Millisecond {
		t.Errorf("expected 1.5s, got %v", got.Duration)
	}
	if got.Failed() {
		t.Error("entry without error should not be failed")
	}
}

func TestRecord_KeepsID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.Record(ctx, Entry{ID: "fixed", Method: "NotificationList"})
	if err != nil || id != "fixed" {
		t.Fatalf("expected id fixed, got %q (%v)", id, err)
	}

	_, err = s.Record(ctx, Entry{ID: "fixed", Method: "NotificationList"})
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
}

func TestRecord_StampsStart(t *testing.T) {
	s := openTestStore(t)
	before := time.Now().Add(-time.Second)

	id, err := s.Record(context.Background(), Entry{Method: "Location"})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	got, _ := s.Get(context.Background(), id)
	if got.StartedAt.Before(before) {
		t.Errorf("expected a current start time, got %v", got.StartedAt)
	}
}

func TestGet_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRecent_NewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i, method := range []string{"Location", "NotificationList", "Location", "NotificationRemove"} {
		_, err := s.Record(ctx, Entry{Method: method, StartedAt: base.Add(time.Duration(i) * time.Minute)})
		if err != nil {
			t.Fatalf("Record %d failed: %v", i, err)
		}
	}

	recent, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(recent))
	}
	if recent[0].Method != "NotificationRemove" || recent[1].Method != "Location" {
		t.Errorf("unexpected order: %s, %s", recent[0].Method, recent[1].Method)
	}

	locations, err := s.ByMethod(ctx, "Location", 10)
	if err != nil {
		t.Fatalf("ByMethod failed: %v", err)
	}
	if len(locations) != 2 {
		t.Errorf("expected 2 Location entries, got %d", len(locations))
	}
	if len(locations) == 2 && !locations[0].StartedAt.After(locations[1].StartedAt) {
		t.Error("expected ByMethod newest first")
	}
}

func TestRecent_RejectsNonPositiveLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.Record(ctx, Entry{Method: "Location"})

	for _, limit := range []int{0, -1} {
		if _, err := s.Recent(ctx, limit); !errors.Is(err, ErrInvalidLimit) {
			t.Errorf("Recent(%d): expected ErrInvalidLimit, got %v", limit, err)
		}
		if _, err := s.ByMethod(ctx, "Location", limit); !errors.Is(err, ErrInvalidLimit) {
			t.Errorf("ByMethod(%d): expected ErrInvalidLimit, got %v", limit, err)
		}
	}
}

func TestPrune(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	s.Record(ctx, Entry{Method: "Location", StartedAt: now.Add(-48 * time.Hour)})
	s.Record(ctx, Entry{Method: "Location", StartedAt: now.Add(-25 * time.Hour)})
	keep, _ := s.Record(ctx, Entry{Method: "Location", StartedAt: now})

	n, err := s.Prune(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 pruned, got %d", n)
	}

	left, _ := s.Recent(ctx, 10)
	if len(left) != 1 || left[0].ID != keep {
		t.Errorf("expected only %s left, got %+v", keep, left)
	}
}

func TestNewEntry(t *testing.T) {
	cmd, err := termuxapi.NewLocation("gps", "once")
	if err != nil {
		t.Fatal(err)
	}
	ep := termuxapi.Endpoint{Host: "127.0.0.1", Port: 9000}
	started := time.Now()

	e := NewEntry(cmd, ep, termuxapi.Object{"latitude": 1.5}, termuxapi.ErrReceiveTimeout, started, time.Second)

	if e.Method != "Location" || e.Host != "127.0.0.1" || e.Port != 9000 {
		t.Errorf("unexpected entry %+v", e)
	}
	want := `{"extras":{"api_method":"Location","provider":"gps","request":"once"}}`
	if e.Request != want {
		t.Errorf("expected request %s, got %s", want, e.Request)
	}
	if e.Result != `{"latitude":1.5}` {
		t.Errorf("unexpected result %s", e.Result)
	}
	if e.Error != "receive timed out" || !e.Failed() {
		t.Errorf("unexpected error field %q", e.Error)
	}
}

func TestNewEntry_NoResult(t *testing.T) {
	e := NewEntry(termuxapi.NewNotificationList(nil), termuxapi.Endpoint{}, nil, nil, time.Now(), 0)
	if e.Result != "" || e.Error != "" {
		t.Errorf("expected empty result and error, got %+v", e)
	}
	want := `{"extras":{"api_method":"NotificationList","keys":[]}}`
	if e.Request != want {
		t.Errorf("expected request %s, got %s", want, e.Request)
	}
}
