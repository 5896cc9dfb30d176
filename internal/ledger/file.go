package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	fileMode        = 0o600
	dirMode         = 0o700
	tempFilePattern = "ledger-*.json"

	// DefaultStaleLock is the age after which an abandoned lock file is
	// reclaimed.
	DefaultStaleLock = 2 * time.Minute
	// lockPoll is how often a blocked Save retries the lock.
	lockPoll = 50 * time.Millisecond
)

// FileStore persists the ledger as an indented JSON document. Saves go
// through a temp file and rename, under an exclusive lock file.
type FileStore struct {
	path      string
	lockPath  string
	staleLock time.Duration
	now       func() time.Time
}

// NewFileStore returns a store backed by the JSON file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{
		path:      path,
		lockPath:  path + ".lock",
		staleLock: DefaultStaleLock,
		now:       time.Now,
	}
}

// Path returns the ledger file path.
func (s *FileStore) Path() string { return s.path }

// Load reads the ledger. A missing file is an empty ledger at revision 0.
func (s *FileStore) Load(ctx context.Context) (*Ledger, error) {
	l, err := s.read()
	if err != nil {
		return nil, &IOError{Op: "load", Path: s.path, Err: err}
	}
	return l, nil
}

// Save atomically replaces the ledger file if its revision still matches.
func (s *FileStore) Save(ctx context.Context, l *Ledger) error {
	release, err := s.lock(ctx)
	if err != nil {
		return &IOError{Op: "save", Path: s.path, Err: err}
	}
	defer release()

	current, err := s.read()
	if err != nil {
		return &IOError{Op: "save", Path: s.path, Err: err}
	}
	if current.Revision != l.Revision {
		return fmt.Errorf("%w: loaded revision %d, stored revision %d", ErrConflict, l.Revision, current.Revision)
	}

	next := l.Clone()
	next.Revision++
	if err := s.write(next); err != nil {
		return &IOError{Op: "save", Path: s.path, Err: err}
	}
	l.Revision = next.Revision
	return nil
}

// Close is a no-op; FileStore holds no open handles between calls.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) read() (*Ledger, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return nil, err
	}
	l := New()
	if err := json.Unmarshal(data, l); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if l.DailyThreads == nil {
		l.DailyThreads = make(map[string]DailyThreadRef)
	}
	return l, nil
}

func (s *FileStore) write(l *Ledger) error {
	if err := os.MkdirAll(filepath.Dir(s.path), dirMode); err != nil {
		return fmt.Errorf("create ledger directory: %w", err)
	}

	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	data = append(data, '\n')

	tempFile, err := os.CreateTemp(filepath.Dir(s.path), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp ledger file: %w", err)
	}

	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp ledger file: %w", err)
	}
	if err := tempFile.Chmod(fileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp ledger file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("sync temp ledger file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp ledger file: %w", err)
	}

	if err := os.Rename(tempName, s.path); err != nil {
		return fmt.Errorf("replace ledger file: %w", err)
	}
	cleanup = false
	return nil
}

// lock creates the lock file exclusively, waiting for a holder to finish and
// reclaiming locks older than staleLock.
func (s *FileStore) lock(ctx context.Context) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(s.lockPath), dirMode); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	for {
		f, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, fileMode)
		if err == nil {
			_, _ = f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
			own, statErr := f.Stat()
			_ = f.Close()
			if statErr != nil {
				_ = os.Remove(s.lockPath)
				return nil, fmt.Errorf("acquire lock: %w", statErr)
			}
			return func() { s.unlock(own) }, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("acquire lock: %w", err)
		}

		if info, statErr := os.Stat(s.lockPath); statErr == nil && s.now().Sub(info.ModTime()) > s.staleLock {
			s.reclaimStale(info)
			continue
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire lock %s: %w", s.lockPath, ctx.Err())
		case <-time.After(lockPoll):
		}
	}
}

// unlock removes the lock file if it is still the one this holder created.
func (s *FileStore) unlock(own os.FileInfo) {
	if cur, err := os.Stat(s.lockPath); err == nil && os.SameFile(cur, own) {
		_ = os.Remove(s.lockPath)
	}
}

// reclaimStale removes the lock file only if it is still the file that was
// found stale. The lock is moved aside first so that two waiters cannot
// both delete it; a lock taken by someone else in the meantime is put back.
func (s *FileStore) reclaimStale(stale os.FileInfo) bool {
	aside := fmt.Sprintf("%s.stale.%d.%d", s.lockPath, os.Getpid(), time.Now().UnixNano())
	if err := os.Rename(s.lockPath, aside); err != nil {
		return false
	}
	if info, err := os.Stat(aside); err == nil && os.SameFile(info, stale) {
		_ = os.Remove(aside)
		return true
	}
	if err := os.Link(aside, s.lockPath); err != nil && !errors.Is(err, os.ErrExist) {
		_ = os.Rename(aside, s.lockPath)
	}
	_ = os.Remove(aside)
	return false
}
