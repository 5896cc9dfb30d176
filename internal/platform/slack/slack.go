// Package slack implements platform.Client for Slack using the Web API.
package slack

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/qotd/internal/platform"
	"go.uber.org/zap"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// pageSize is the page size for paginated list calls.
	pageSize = 200
	// defaultTimeout bounds each HTTP request when no timeout is configured.
	defaultTimeout = 30 * time.Second
	// Block Kit text limits.
	maxHeaderLen  = 150
	maxSectionLen = 3000
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	AuthTestContext(ctx context.Context) (*slackapi.AuthTestResponse, error)
	GetUsersInConversationContext(ctx context.Context, params *slackapi.GetUsersInConversationParameters) ([]string, string, error)
	OpenConversationContext(ctx context.Context, params *slackapi.OpenConversationParameters) (*slackapi.Channel, bool, bool, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
	GetConversationRepliesContext(ctx context.Context, params *slackapi.GetConversationRepliesParameters) ([]slackapi.Message, bool, string, error)
	GetUserProfileContext(ctx context.Context, params *slackapi.GetUserProfileParameters) (*slackapi.UserProfile, error)
}

// Client implements platform.Client for Slack.
type Client struct {
	api     slackClient
	log     *zap.Logger
	backoff time.Duration // base wait when Slack omits Retry-After
}

// ClientOpts holds parameters for creating a Slack Client.
type ClientOpts struct {
	BotToken string        // xoxb-... Slack bot token
	Timeout  time.Duration // per-request HTTP timeout (default 30s)
	Logger   *zap.Logger
	// For testing: inject a mock client instead of the real Slack API.
	API slackClient
}

// New creates a Slack Client.
func New(opts ClientOpts) (*Client, error) {
	if opts.API == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	c := &Client{
		api:     opts.API,
		log:     opts.Logger,
		backoff: time.Second,
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	if c.api == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		c.api = slackapi.New(opts.BotToken, slackapi.OptionHTTPClient(&http.Client{Timeout: timeout}))
	}
	return c, nil
}

// Identity returns the bot's own user ID via auth.test.
func (c *Client) Identity(ctx context.Context) (string, error) {
	var resp *slackapi.AuthTestResponse
	err := c.retryOnRateLimit(ctx, func() error {
		var apiErr error
		resp, apiErr = c.api.AuthTestContext(ctx)
		return apiErr
	})
	if err != nil {
		return "", wrap("auth test", err)
	}
	if resp.UserID == "" {
		return "", wrap("auth test", errors.New("response missing user id"))
	}
	return resp.UserID, nil
}

// ChannelMembers lists channel members via conversations.members, following
// cursors until Slack stops returning one.
func (c *Client) ChannelMembers(ctx context.Context, channelID string) ([]string, error) {
	var members []string
	cursor := ""
	for {
		params := &slackapi.GetUsersInConversationParameters{
			ChannelID: channelID,
			Cursor:    cursor,
			Limit:     pageSize,
		}

		var page []string
		var next string
		err := c.retryOnRateLimit(ctx, func() error {
			var apiErr error
			page, next, apiErr = c.api.GetUsersInConversationContext(ctx, params)
			return apiErr
		})
		if err != nil {
			return nil, wrap("conversation members", err)
		}

		members = append(members, page...)
		if next == "" {
			break
		}
		cursor = next
	}
	return members, nil
}

// OpenDirect opens (or reuses) the IM channel with userID.
func (c *Client) OpenDirect(ctx context.Context, userID string) (string, error) {
	var ch *slackapi.Channel
	err := c.retryOnRateLimit(ctx, func() error {
		var apiErr error
		ch, _, _, apiErr = c.api.OpenConversationContext(ctx, &slackapi.OpenConversationParameters{
			Users:    []string{userID},
			ReturnIM: true,
		})
		return apiErr
	})
	if err != nil {
		return "", wrap("open conversation", err)
	}
	if ch == nil || ch.ID == "" {
		return "", wrap("open conversation", errors.New("response missing channel id"))
	}
	return ch.ID, nil
}

// Post sends msg to channelID and returns the new message's ts.
func (c *Client) Post(ctx context.Context, channelID string, msg platform.Message) (string, error) {
	if channelID == "" {
		return "", wrap("post message", errors.New("no channel specified"))
	}
	options := buildMessageOptions(msg)

	var ts string
	err := c.retryOnRateLimit(ctx, func() error {
		var apiErr error
		_, ts, apiErr = c.api.PostMessageContext(ctx, channelID, options...)
		return apiErr
	})
	if err != nil {
		return "", wrap("post message", err)
	}
	if ts == "" {
		return "", wrap("post message", errors.New("response missing message ts"))
	}
	return ts, nil
}

// Replies retrieves the thread under anchor using conversations.replies.
// Slack returns the parent first; it is skipped.
func (c *Client) Replies(ctx context.Context, channelID, anchor string) ([]platform.Reply, error) {
	var out []platform.Reply
	cursor := ""
	for {
		params := &slackapi.GetConversationRepliesParameters{
			ChannelID: channelID,
			Timestamp: anchor,
			Limit:     pageSize,
			Cursor:    cursor,
		}

		var msgs []slackapi.Message
		var hasMore bool
		var next string
		err := c.retryOnRateLimit(ctx, func() error {
			var apiErr error
			msgs, hasMore, next, apiErr = c.api.GetConversationRepliesContext(ctx, params)
			return apiErr
		})
		if err != nil {
			return nil, wrap("conversation replies", err)
		}

		for _, m := range msgs {
			if m.Timestamp == anchor {
				continue
			}
			out = append(out, platform.Reply{
				ID:        m.Timestamp,
				UserID:    m.User,
				Text:      m.Text,
				Timestamp: parseSlackTimestamp(m.Timestamp),
			})
		}

		if !hasMore || next == "" {
			break
		}
		cursor = next
	}
	return out, nil
}

// AvatarURL returns the user's 192px profile image, falling back through
// the other sizes Slack publishes.
func (c *Client) AvatarURL(ctx context.Context, userID string) (string, error) {
	var profile *slackapi.UserProfile
	err := c.retryOnRateLimit(ctx, func() error {
		var apiErr error
		profile, apiErr = c.api.GetUserProfileContext(ctx, &slackapi.GetUserProfileParameters{UserID: userID})
		return apiErr
	})
	if err != nil {
		return "", wrap("user profile", err)
	}
	return pickAvatar(profile), nil
}

// pickAvatar selects the preferred image size from a profile.
func pickAvatar(p *slackapi.UserProfile) string {
	if p == nil {
		return ""
	}
	for _, url := range []string{p.Image192, p.Image512, p.Image72, p.Image48, p.ImageOriginal} {
		if url != "" {
			return url
		}
	}
	return ""
}

// buildMessageOptions translates a platform.Message into Slack MsgOptions.
func buildMessageOptions(msg platform.Message) []slackapi.MsgOption {
	options := []slackapi.MsgOption{slackapi.MsgOptionText(msg.Text, false)}
	if msg.ThreadAnchor != "" {
		options = append(options, slackapi.MsgOptionTS(msg.ThreadAnchor))
	}
	if blocks := toBlocks(msg.Blocks); len(blocks) > 0 {
		options = append(options, slackapi.MsgOptionBlocks(blocks...))
	}
	return options
}

// toBlocks converts platform blocks to Block Kit blocks.
func toBlocks(in []platform.Block) []slackapi.Block {
	var blocks []slackapi.Block
	for _, b := range in {
		switch b.Kind {
		case platform.BlockHeader:
			blocks = append(blocks, slackapi.NewHeaderBlock(
				slackapi.NewTextBlockObject(slackapi.PlainTextType, truncate(b.Text, maxHeaderLen), true, false)))
		case platform.BlockSection:
			blocks = append(blocks, slackapi.NewSectionBlock(
				slackapi.NewTextBlockObject(slackapi.MarkdownType, truncate(b.Text, maxSectionLen), false, false), nil, nil))
		case platform.BlockContext:
			var elems []slackapi.MixedElement
			if b.ImageURL != "" {
				elems = append(elems, slackapi.NewImageBlockElement(b.ImageURL, altText(b)))
			}
			elems = append(elems, slackapi.NewTextBlockObject(slackapi.MarkdownType, b.Text, false, false))
			blocks = append(blocks, slackapi.NewContextBlock("", elems...))
		case platform.BlockImage:
			if b.ImageURL == "" {
				continue
			}
			blocks = append(blocks, slackapi.NewImageBlock(b.ImageURL, altText(b), "", nil))
		}
	}
	return blocks
}

// truncate shortens s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func altText(b platform.Block) string {
	if b.AltText != "" {
		return b.AltText
	}
	return "image"
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit errors.
// It respects context cancellation and the RetryAfter duration from Slack.
func (c *Client) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) {
			return err // not a rate limit error, don't retry
		}

		if attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * c.backoff
		}
		c.log.Warn("slack: rate limited",
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}

func wrap(op string, err error) error {
	return &platform.Error{Platform: "slack", Op: op, Err: err}
}

// parseSlackTimestamp converts a Slack timestamp (e.g., "1234567890.123456")
// to a time.Time.
func parseSlackTimestamp(ts string) time.Time {
	parts := strings.SplitN(ts, ".", 2)
	sec, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}
	}
	var nsec int64
	if len(parts) == 2 {
		frac := (parts[1] + "000000000")[:9]
		nsec, _ = strconv.ParseInt(frac, 10, 64)
	}
	return time.Unix(sec, nsec)
}
