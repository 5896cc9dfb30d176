// Package platform defines the chat platform operations the bot depends on
// (Slack, Discord, etc.) and a platform-neutral structured message.
package platform

import (
	"context"
	"fmt"
	"time"
)

// Client is the interface that platform-specific implementations must satisfy.
// Every call is a blocking request bounded by the client's request timeout
// and the supplied context.
type Client interface {
	// ChannelMembers lists the user IDs of every member of a channel,
	// following continuation cursors until exhausted.
	ChannelMembers(ctx context.Context, channelID string) ([]string, error)

	// OpenDirect obtains (or creates) a direct conversation with a user and
	// returns its conversation ID.
	OpenDirect(ctx context.Context, userID string) (string, error)

	// Post sends a message and returns the ID of the new message. When
	// msg.ThreadAnchor is set the message is posted as a reply to it.
	Post(ctx context.Context, channelID string, msg Message) (string, error)

	// Replies returns the messages replying to anchor within channelID,
	// oldest first. The anchor message itself is never included.
	Replies(ctx context.Context, channelID, anchor string) ([]Reply, error)

	// AvatarURL returns the URL of a user's profile image. An empty string
	// with a nil error means the user has no image.
	AvatarURL(ctx context.Context, userID string) (string, error)
}

// Identifier is an optional interface that clients can implement to expose
// the bot's own user ID, used when no bot identity is configured.
type Identifier interface {
	Identity(ctx context.Context) (string, error)
}

// Reply is a single message in a thread.
type Reply struct {
	ID        string
	UserID    string
	Text      string
	Timestamp time.Time
}

// Message is a platform-neutral structured message. Text is always set and
// serves as the notification fallback when Blocks are rendered.
type Message struct {
	Text         string
	ThreadAnchor string // reply to this message (empty for top-level)
	Blocks       []Block
}

// BlockKind identifies the kind of a Block.
type BlockKind string

// Block kinds understood by every platform client.
const (
	BlockHeader  BlockKind = "header"  // short plain-text headline
	BlockSection BlockKind = "section" // markdown body
	BlockContext BlockKind = "context" // small attribution line with optional image
	BlockImage   BlockKind = "image"   // standalone image
)

// Block is one display primitive of a Message.
type Block struct {
	Kind     BlockKind
	Text     string
	ImageURL string
	AltText  string
}

// Mention renders a user reference. Slack and Discord share the <@ID> form.
func Mention(userID string) string {
	return "<@" + userID + ">"
}

// Error is returned by platform clients for any non-success response.
type Error struct {
	Platform string // e.g. "slack", "discord"
	Op       string // operation that failed, e.g. "post message"
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Platform, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
