package ledger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func sampleLedger() *Ledger {
	asked := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	l := New()
	l.Pending = []PendingEntry{
		{User: "U1", DM: "D1", Question: "Favourite snack?", ThreadAnchor: "1700000000.000001", AskedAt: asked, Round: "r1"},
		{User: "U2", DM: "D2", Question: "Best trip\nso far?", ThreadAnchor: "1700000000.000002", AskedAt: asked, Round: "r1"},
	}
	l.LastPickedUsers = []string{"U1", "U2"}
	l.DailyThreads["2026-10-17"] = DailyThreadRef{Day: "2026-10-17", ThreadAnchor: "1700000100.000001", CreatedAt: asked}
	return l
}

func TestFileStore_LoadMissingIsEmpty(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "state", "state.json"))
	l, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if l.Revision != 0 || len(l.Pending) != 0 || len(l.DailyThreads) != 0 {
		t.Errorf("expected empty ledger, got %+v", l)
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewFileStore(filepath.Join(t.TempDir(), "state", "state.json"))

	in := sampleLedger()
	if err := s.Save(ctx, in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if in.Revision != 1 {
		t.Errorf("Revision after save = %d, want 1", in.Revision)
	}

	out, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(out.Pending, in.Pending) {
		t.Errorf("Pending mismatch:\n got %+v\nwant %+v", out.Pending, in.Pending)
	}
	if !reflect.DeepEqual(out.DailyThreads, in.DailyThreads) {
		t.Errorf("DailyThreads mismatch:\n got %+v\nwant %+v", out.DailyThreads, in.DailyThreads)
	}
	if !reflect.DeepEqual(out.LastPickedUsers, in.LastPickedUsers) {
		t.Errorf("LastPickedUsers = %v", out.LastPickedUsers)
	}
	if out.Revision != 1 {
		t.Errorf("loaded Revision = %d, want 1", out.Revision)
	}
}

func TestFileStore_ConflictOnStaleRevision(t *testing.T) {
	ctx := context.Background()
	s := NewFileStore(filepath.Join(t.TempDir(), "state.json"))

	a, _ := s.Load(ctx)
	b, _ := s.Load(ctx)

	if err := s.Save(ctx, a); err != nil {
		t.Fatalf("first save: %v", err)
	}
	err := s.Save(ctx, b)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("second save err = %v, want ErrConflict", err)
	}
	if b.Revision != 0 {
		t.Errorf("failed save must not bump revision, got %d", b.Revision)
	}
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := NewFileStore(path).Load(context.Background())
	var ioErr *IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("err = %v, want *IOError", err)
	}
	if ioErr.Op != "load" {
		t.Errorf("Op = %q, want load", ioErr.Op)
	}
}

func TestFileStore_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(filepath.Join(dir, "state.json"))
	if err := s.Save(context.Background(), sampleLedger()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "state.json" {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("dir contents = %v, want only state.json", names)
	}
}

func TestFileStore_WaitsForHeldLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := NewFileStore(path)
	if err := os.WriteFile(s.lockPath, []byte("123\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	err := s.Save(ctx, New())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded while lock held", err)
	}
}

func TestFileStore_ReclaimsStaleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := NewFileStore(path)
	if err := os.WriteFile(s.lockPath, []byte("123\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(s.lockPath, old, old); err != nil {
		t.Fatal(err)
	}

	if err := s.Save(context.Background(), New()); err != nil {
		t.Fatalf("Save with stale lock: %v", err)
	}
	if _, err := os.Stat(s.lockPath); !os.IsNotExist(err) {
		t.Errorf("lock file should be released, stat err = %v", err)
	}
}

func TestFileStore_ReclaimKeepsFreshLock(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(filepath.Join(dir, "state.json"))
	if err := os.WriteFile(s.lockPath, []byte("123\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	stale, err := os.Stat(s.lockPath)
	if err != nil {
		t.Fatal(err)
	}

	// Another waiter reclaimed the stale lock and a new holder took it.
	if err := os.Rename(s.lockPath, filepath.Join(dir, "old.lock")); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.lockPath, []byte("456\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if s.reclaimStale(stale) {
		t.Fatal("reclaimStale removed a lock it did not find stale")
	}
	data, err := os.ReadFile(s.lockPath)
	if err != nil {
		t.Fatalf("fresh lock should survive: %v", err)
	}
	if string(data) != "456\n" {
		t.Errorf("lock content = %q, want the new holder's pid", data)
	}
	matches, _ := filepath.Glob(s.lockPath + ".stale.*")
	if len(matches) != 0 {
		t.Errorf("leftover files: %v", matches)
	}
}

func TestFileStore_ReclaimRemovesSameLock(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	if err := os.WriteFile(s.lockPath, []byte("123\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	stale, err := os.Stat(s.lockPath)
	if err != nil {
		t.Fatal(err)
	}
	if !s.reclaimStale(stale) {
		t.Fatal("reclaimStale should remove the stale lock")
	}
	if _, err := os.Stat(s.lockPath); !os.IsNotExist(err) {
		t.Errorf("lock file should be gone, stat err = %v", err)
	}
}

func TestFileStore_UnlockLeavesForeignLock(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(filepath.Join(dir, "state.json"))
	release, err := s.lock(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	// Our lock was reclaimed and someone else now holds it.
	if err := os.Rename(s.lockPath, filepath.Join(dir, "ours.lock")); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.lockPath, []byte("456\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	release()
	if _, err := os.Stat(s.lockPath); err != nil {
		t.Errorf("foreign lock should survive release: %v", err)
	}
}
