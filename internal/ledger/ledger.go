// Package ledger holds the single piece of persisted state shared by the ask
// and collect phases: outstanding questions and the per-day answer threads.
package ledger

import (
	"errors"
	"fmt"
	"time"
)

// DayLayout is the format of daily thread keys.
const DayLayout = "2006-01-02"

// ErrDuplicateAnchor is returned when appending an entry whose thread anchor
// is already pending.
var ErrDuplicateAnchor = errors.New("ledger: thread anchor already pending")

// Ledger is the persisted record of in-flight questions and daily threads.
type Ledger struct {
	// Revision increments on every successful save; stores reject saves
	// whose revision no longer matches what is persisted.
	Revision        int64                     `json:"revision"`
	Pending         []PendingEntry            `json:"pending"`
	LastPickedUsers []string                  `json:"last_picked_users,omitempty"`
	DailyThreads    map[string]DailyThreadRef `json:"daily_threads"`
}

// PendingEntry is one question awaiting a reply. ThreadAnchor is the ID of
// the question message; replies are messages in DM whose parent it is.
type PendingEntry struct {
	User         string    `json:"user"`
	DM           string    `json:"dm"`
	Question     string    `json:"question"`
	ThreadAnchor string    `json:"thread_anchor"`
	AskedAt      time.Time `json:"asked_at"`
	Round        string    `json:"round,omitempty"`
}

// DailyThreadRef is the parent message that collects one day's answers.
type DailyThreadRef struct {
	Day          string    `json:"day"`
	ThreadAnchor string    `json:"thread_anchor"`
	CreatedAt    time.Time `json:"created_at"`
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{DailyThreads: make(map[string]DailyThreadRef)}
}

// DayKey returns the daily thread key for t in loc.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(DayLayout)
}

// Append adds e to the end of the pending sequence.
func (l *Ledger) Append(e PendingEntry) error {
	if e.ThreadAnchor == "" {
		return fmt.Errorf("ledger: pending entry for %s has no thread anchor", e.User)
	}
	for _, p := range l.Pending {
		if p.ThreadAnchor == e.ThreadAnchor {
			return fmt.Errorf("%w: %s", ErrDuplicateAnchor, e.ThreadAnchor)
		}
	}
	l.Pending = append(l.Pending, e)
	return nil
}

// ReplacePending swaps the whole pending sequence.
func (l *Ledger) ReplacePending(entries []PendingEntry) {
	l.Pending = entries
}

// DailyThread returns the thread recorded for day, if any.
func (l *Ledger) DailyThread(day string) (DailyThreadRef, bool) {
	ref, ok := l.DailyThreads[day]
	return ref, ok
}

// SetDailyThread records the thread for ref.Day. A day's thread is
// immutable once set.
func (l *Ledger) SetDailyThread(ref DailyThreadRef) error {
	if ref.Day == "" || ref.ThreadAnchor == "" {
		return fmt.Errorf("ledger: daily thread needs day and anchor")
	}
	if l.DailyThreads == nil {
		l.DailyThreads = make(map[string]DailyThreadRef)
	}
	if existing, ok := l.DailyThreads[ref.Day]; ok && existing.ThreadAnchor != ref.ThreadAnchor {
		return fmt.Errorf("ledger: daily thread for %s already set to %s", ref.Day, existing.ThreadAnchor)
	}
	l.DailyThreads[ref.Day] = ref
	return nil
}

// Expired reports whether e has waited longer than maxAge at now. A zero
// maxAge or unknown AskedAt never expires.
func (e PendingEntry) Expired(now time.Time, maxAge time.Duration) bool {
	if maxAge <= 0 || e.AskedAt.IsZero() {
		return false
	}
	return now.Sub(e.AskedAt) > maxAge
}

// Prune removes pending entries that expired at now and returns them.
func (l *Ledger) Prune(now time.Time, maxAge time.Duration) []PendingEntry {
	var kept, dropped []PendingEntry
	for _, e := range l.Pending {
		if e.Expired(now, maxAge) {
			dropped = append(dropped, e)
			continue
		}
		kept = append(kept, e)
	}
	l.Pending = kept
	return dropped
}

// Clone returns a deep copy of l.
func (l *Ledger) Clone() *Ledger {
	c := &Ledger{
		Revision:     l.Revision,
		DailyThreads: make(map[string]DailyThreadRef, len(l.DailyThreads)),
	}
	if l.Pending != nil {
		c.Pending = append([]PendingEntry(nil), l.Pending...)
	}
	if l.LastPickedUsers != nil {
		c.LastPickedUsers = append([]string(nil), l.LastPickedUsers...)
	}
	for k, v := range l.DailyThreads {
		c.DailyThreads[k] = v
	}
	return c
}
