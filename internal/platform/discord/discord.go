// Package discord implements platform.Client for Discord using the REST API.
// No Gateway connection is opened; every call is a plain HTTP request.
package discord

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/qotd/internal/platform"
	"go.uber.org/zap"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff for rate-limited calls.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff.
	maxBackoff = 30 * time.Second
	// messagePageSize is the page size for channel message history.
	messagePageSize = 100
	// memberPageSize is the page size for guild member listing.
	memberPageSize = 1000
	// avatarSize is the requested avatar edge length in pixels.
	avatarSize = "256"
	// defaultTimeout bounds each HTTP request when no timeout is configured.
	defaultTimeout = 30 * time.Second
	// Embed text limits.
	maxTitleLen       = 256
	maxDescriptionLen = 4096
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	GuildMembers(guildID string, after string, limit int, options ...discordgo.RequestOption) ([]*discordgo.Member, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
}

// Client implements platform.Client for Discord.
type Client struct {
	sess        session
	log         *zap.Logger
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// ClientOpts holds parameters for creating a Discord Client.
type ClientOpts struct {
	BotToken string        // Discord bot token
	Timeout  time.Duration // per-request HTTP timeout (default 30s)
	Logger   *zap.Logger
	// For testing: inject a mock session instead of real Discord API.
	Session session
}

// New creates a Discord Client.
func New(opts ClientOpts) (*Client, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	c := &Client{
		sess:        opts.Session,
		log:         opts.Logger,
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	if c.sess == nil {
		dg, err := discordgo.New("Bot " + opts.BotToken)
		if err != nil {
			return nil, fmt.Errorf("discord: create session: %w", err)
		}
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		dg.Client = &http.Client{Timeout: timeout}
		// We handle 429s ourselves so the caller's context bounds the wait.
		dg.ShouldRetryOnRateLimit = false
		c.sess = dg
	}
	return c, nil
}

// Identity returns the bot's own user ID.
func (c *Client) Identity(ctx context.Context) (string, error) {
	var u *discordgo.User
	err := c.retryOnRateLimit(ctx, func() error {
		var apiErr error
		u, apiErr = c.sess.User("@me", discordgo.WithContext(ctx))
		return apiErr
	})
	if err != nil {
		return "", wrap("current user", err)
	}
	return u.ID, nil
}

// ChannelMembers lists the human members of the guild that owns channelID.
// Discord has no per-channel membership list, so guild membership is used
// and bot accounts are dropped.
func (c *Client) ChannelMembers(ctx context.Context, channelID string) ([]string, error) {
	var ch *discordgo.Channel
	err := c.retryOnRateLimit(ctx, func() error {
		var apiErr error
		ch, apiErr = c.sess.Channel(channelID, discordgo.WithContext(ctx))
		return apiErr
	})
	if err != nil {
		return nil, wrap("channel", err)
	}
	if ch.GuildID == "" {
		return nil, wrap("channel", fmt.Errorf("channel %s is not in a guild", channelID))
	}

	var members []string
	after := ""
	for {
		var page []*discordgo.Member
		err := c.retryOnRateLimit(ctx, func() error {
			var apiErr error
			page, apiErr = c.sess.GuildMembers(ch.GuildID, after, memberPageSize, discordgo.WithContext(ctx))
			return apiErr
		})
		if err != nil {
			return nil, wrap("guild members", err)
		}
		for _, m := range page {
			if m.User == nil || m.User.Bot {
				continue
			}
			members = append(members, m.User.ID)
		}
		if len(page) < memberPageSize {
			break
		}
		last := page[len(page)-1]
		if last.User == nil {
			break
		}
		after = last.User.ID
	}
	return members, nil
}

// OpenDirect creates (or reuses) the DM channel with userID.
func (c *Client) OpenDirect(ctx context.Context, userID string) (string, error) {
	var ch *discordgo.Channel
	err := c.retryOnRateLimit(ctx, func() error {
		var apiErr error
		ch, apiErr = c.sess.UserChannelCreate(userID, discordgo.WithContext(ctx))
		return apiErr
	})
	if err != nil {
		return "", wrap("create dm", err)
	}
	if ch == nil || ch.ID == "" {
		return "", wrap("create dm", errors.New("response missing channel id"))
	}
	return ch.ID, nil
}

// Post sends msg to channelID. A ThreadAnchor becomes a message reference,
// so the new message is a reply to the anchor.
func (c *Client) Post(ctx context.Context, channelID string, msg platform.Message) (string, error) {
	if channelID == "" {
		return "", wrap("send message", errors.New("no channel specified"))
	}
	data := buildMessageSend(channelID, msg)

	var sent *discordgo.Message
	err := c.retryOnRateLimit(ctx, func() error {
		var apiErr error
		sent, apiErr = c.sess.ChannelMessageSendComplex(channelID, data, discordgo.WithContext(ctx))
		return apiErr
	})
	if err != nil {
		return "", wrap("send message", err)
	}
	if sent == nil || sent.ID == "" {
		return "", wrap("send message", errors.New("response missing message id"))
	}
	return sent.ID, nil
}

// Replies pages forward from anchor and keeps messages that reference it.
func (c *Client) Replies(ctx context.Context, channelID, anchor string) ([]platform.Reply, error) {
	var matched []*discordgo.Message
	after := anchor
	for {
		var page []*discordgo.Message
		err := c.retryOnRateLimit(ctx, func() error {
			var apiErr error
			page, apiErr = c.sess.ChannelMessages(channelID, messagePageSize, "", after, "", discordgo.WithContext(ctx))
			return apiErr
		})
		if err != nil {
			return nil, wrap("channel messages", err)
		}
		if len(page) == 0 {
			break
		}

		newest := page[0]
		for _, m := range page {
			if m.Timestamp.After(newest.Timestamp) {
				newest = m
			}
			if m.ID == anchor || m.MessageReference == nil || m.MessageReference.MessageID != anchor {
				continue
			}
			matched = append(matched, m)
		}

		if len(page) < messagePageSize {
			break
		}
		after = newest.ID
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.Before(matched[j].Timestamp)
	})

	out := make([]platform.Reply, 0, len(matched))
	for _, m := range matched {
		r := platform.Reply{ID: m.ID, Text: m.Content, Timestamp: m.Timestamp}
		if m.Author != nil {
			r.UserID = m.Author.ID
		}
		out = append(out, r)
	}
	return out, nil
}

// AvatarURL returns the user's avatar (or Discord's default avatar).
func (c *Client) AvatarURL(ctx context.Context, userID string) (string, error) {
	var u *discordgo.User
	err := c.retryOnRateLimit(ctx, func() error {
		var apiErr error
		u, apiErr = c.sess.User(userID, discordgo.WithContext(ctx))
		return apiErr
	})
	if err != nil {
		return "", wrap("user", err)
	}
	return u.AvatarURL(avatarSize), nil
}

// buildMessageSend translates a platform.Message into a Discord MessageSend.
// All blocks become one embed: the header is its title, context and section
// text fill the description in order, and a context image is the thumbnail.
func buildMessageSend(channelID string, msg platform.Message) *discordgo.MessageSend {
	data := &discordgo.MessageSend{Content: msg.Text}
	if msg.ThreadAnchor != "" {
		data.Reference = &discordgo.MessageReference{
			MessageID: msg.ThreadAnchor,
			ChannelID: channelID,
		}
	}
	if embed := blocksToEmbed(msg.Blocks); embed != nil {
		data.Embeds = []*discordgo.MessageEmbed{embed}
		// The embed already renders everything in Text.
		data.Content = ""
	}
	return data
}

func blocksToEmbed(blocks []platform.Block) *discordgo.MessageEmbed {
	if len(blocks) == 0 {
		return nil
	}
	embed := &discordgo.MessageEmbed{}
	for _, b := range blocks {
		switch b.Kind {
		case platform.BlockHeader:
			embed.Title = truncate(b.Text, maxTitleLen)
		case platform.BlockSection:
			appendLine(&embed.Description, b.Text)
		case platform.BlockContext:
			// Mentions only render in the description, not the author line.
			appendLine(&embed.Description, b.Text)
			if b.ImageURL != "" {
				embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: b.ImageURL}
			}
		case platform.BlockImage:
			if b.ImageURL != "" {
				embed.Image = &discordgo.MessageEmbedImage{URL: b.ImageURL}
			}
		}
	}
	embed.Description = truncate(embed.Description, maxDescriptionLen)
	return embed
}

func appendLine(dst *string, line string) {
	if *dst != "" {
		*dst += "\n"
	}
	*dst += line
}

// truncate shortens s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// retryOnRateLimit calls fn and retries with exponential backoff on Discord
// rate limit errors. It respects context cancellation.
func (c *Client) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		wait, limited := rateLimitWait(err)
		if !limited {
			return err
		}
		if attempt == maxRetries {
			return err
		}
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * c.baseBackoff
		}
		if wait > c.maxBackoff {
			wait = c.maxBackoff
		}

		c.log.Warn("discord: rate limited",
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

// rateLimitWait reports whether err is a Discord rate limit and, when known,
// how long Discord asked us to wait.
func rateLimitWait(err error) (time.Duration, bool) {
	var rle *discordgo.RateLimitError
	if errors.As(err, &rle) {
		if rle.RateLimit != nil && rle.RateLimit.TooManyRequests != nil {
			return rle.RateLimit.TooManyRequests.RetryAfter, true
		}
		return 0, true
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusTooManyRequests {
		return 0, true
	}
	return 0, false
}

func wrap(op string, err error) error {
	return &platform.Error{Platform: "discord", Op: op, Err: err}
}
