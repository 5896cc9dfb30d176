package bot

import (
	"context"
	"strings"

	"github.com/zulandar/qotd/internal/ledger"
	"github.com/zulandar/qotd/internal/platform"
)

// FindAnswer looks for the recipient's reply to a pending question. It
// returns the first reply, oldest first, authored by the recipient with
// non-blank text. No reply yet is not an error. Lookup failures come back
// as *TransientError.
func FindAnswer(ctx context.Context, client platform.Client, e ledger.PendingEntry) (string, bool, error) {
	replies, err := client.Replies(ctx, e.DM, e.ThreadAnchor)
	if err != nil {
		return "", false, &TransientError{User: e.User, Anchor: e.ThreadAnchor, Op: "lookup replies", Err: err}
	}
	for _, r := range replies {
		if r.ID == e.ThreadAnchor || r.UserID != e.User {
			continue
		}
		if strings.TrimSpace(r.Text) == "" {
			continue
		}
		return r.Text, true, nil
	}
	return "", false, nil
}
