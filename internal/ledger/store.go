package ledger

import (
	"context"
	"errors"
	"fmt"
)

// ErrConflict is returned by Save when the persisted ledger changed since it
// was loaded, i.e. another invocation ran concurrently.
var ErrConflict = errors.New("ledger: concurrent modification")

// Store loads and saves whole ledgers. Save is atomic: either the complete
// ledger replaces the persisted copy or nothing changes. On success Save
// increments l.Revision.
type Store interface {
	Load(ctx context.Context) (*Ledger, error)
	Save(ctx context.Context, l *Ledger) error
	Close() error
}

// IOError reports a failure to read or write the persisted ledger.
type IOError struct {
	Op   string // "load" or "save"
	Path string // file path or "sql"
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("ledger: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
