package bot

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/zulandar/qotd/internal/config"
	"github.com/zulandar/qotd/internal/ledger"
)

var testNow = time.Date(2026, 10, 17, 3, 0, 0, 0, time.UTC) // 12:00 in Tokyo

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(`
slack:
  bot_token: xoxb-test
source_channel: CSRC
destination_channel: CDEST
bot_user_id: UBOT
recipient_count: 2
timezone: Asia/Tokyo
announcement: "Answers for {date}"
questions: ["Q1", "Q2", "Q3"]
`))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	return cfg
}

func testStore(t *testing.T) *ledger.FileStore {
	t.Helper()
	return ledger.NewFileStore(filepath.Join(t.TempDir(), "state.json"))
}

func seedLedger(t *testing.T, s ledger.Store, entries ...ledger.PendingEntry) {
	t.Helper()
	l, err := s.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if err := l.Append(e); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Save(context.Background(), l); err != nil {
		t.Fatal(err)
	}
}

func loadLedger(t *testing.T, s ledger.Store) *ledger.Ledger {
	t.Helper()
	l, err := s.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return l
}

// countingStore wraps a Store, counts saves, and can fail them.
type countingStore struct {
	ledger.Store
	saves   int
	saveErr error
	loadErr error
}

func (s *countingStore) Load(ctx context.Context) (*ledger.Ledger, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.Store.Load(ctx)
}

func (s *countingStore) Save(ctx context.Context, l *ledger.Ledger) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	return s.Store.Save(ctx, l)
}

var errDisk = &ledger.IOError{Op: "save", Path: "state.json", Err: errors.New("disk full")}
