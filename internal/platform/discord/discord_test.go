package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/qotd/internal/platform"
)

// --- Mock Discord session ---

type mockSession struct {
	mu          sync.Mutex
	users       map[string]*discordgo.User
	userErr     error
	channels    map[string]*discordgo.Channel
	memberPages [][]*discordgo.Member
	memberCalls []string // "after" cursors seen
	dm          *discordgo.Channel
	dmErr       error
	sent        []sentMessage
	sendErr     error
	sendID      string
	messages    []*discordgo.Message
	messagesErr error
	msgCalls    int
}

type sentMessage struct {
	channelID string
	data      *discordgo.MessageSend
}

func newMockSession() *mockSession {
	return &mockSession{
		users:    make(map[string]*discordgo.User),
		channels: make(map[string]*discordgo.Channel),
		sendID:   "900",
	}
}

func (m *mockSession) User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error) {
	if m.userErr != nil {
		return nil, m.userErr
	}
	if u, ok := m.users[userID]; ok {
		return u, nil
	}
	return nil, fmt.Errorf("unknown user %s", userID)
}

func (m *mockSession) Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	if ch, ok := m.channels[channelID]; ok {
		return ch, nil
	}
	return nil, fmt.Errorf("unknown channel %s", channelID)
}

func (m *mockSession) GuildMembers(guildID string, after string, limit int, options ...discordgo.RequestOption) ([]*discordgo.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := len(m.memberCalls)
	m.memberCalls = append(m.memberCalls, after)
	if idx >= len(m.memberPages) {
		return nil, nil
	}
	return m.memberPages[idx], nil
}

func (m *mockSession) UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return m.dm, m.dmErr
}

func (m *mockSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	m.sent = append(m.sent, sentMessage{channelID: channelID, data: data})
	return &discordgo.Message{ID: m.sendID, ChannelID: channelID}, nil
}

func (m *mockSession) ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgCalls++
	if m.messagesErr != nil {
		return nil, m.messagesErr
	}
	if m.msgCalls > 1 {
		return nil, nil
	}
	return m.messages, nil
}

func member(id string, bot bool) *discordgo.Member {
	return &discordgo.Member{User: &discordgo.User{ID: id, Bot: bot}}
}

func newTestClient(t *testing.T) (*Client, *mockSession) {
	t.Helper()
	sess := newMockSession()
	c, err := New(ClientOpts{Session: sess})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	c.baseBackoff = time.Millisecond
	c.maxBackoff = 5 * time.Millisecond
	return c, sess
}

func TestNew_RequiresBotToken(t *testing.T) {
	_, err := New(ClientOpts{})
	if err == nil {
		t.Fatal("expected error for missing bot token")
	}
}

func TestNew_WithToken(t *testing.T) {
	c, err := New(ClientOpts{BotToken: "token", Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dg, ok := c.sess.(*discordgo.Session)
	if !ok {
		t.Fatalf("session = %T, want *discordgo.Session", c.sess)
	}
	if dg.Client.Timeout != time.Second {
		t.Errorf("timeout = %v, want 1s", dg.Client.Timeout)
	}
}

func TestIdentity(t *testing.T) {
	c, sess := newTestClient(t)
	sess.users["@me"] = &discordgo.User{ID: "BOT1"}

	id, err := c.Identity(context.Background())
	if err != nil {
		t.Fatalf("Identity: %v", err)
	}
	if id != "BOT1" {
		t.Errorf("id = %q, want BOT1", id)
	}
}

func TestChannelMembers_PaginatesAndSkipsBots(t *testing.T) {
	c, sess := newTestClient(t)
	sess.channels["C1"] = &discordgo.Channel{ID: "C1", GuildID: "G1"}

	first := make([]*discordgo.Member, 0, memberPageSize)
	for i := 0; i < memberPageSize; i++ {
		first = append(first, member(fmt.Sprintf("U%04d", i), i == 0))
	}
	sess.memberPages = [][]*discordgo.Member{first, {member("U9999", false)}}

	members, err := c.ChannelMembers(context.Background(), "C1")
	if err != nil {
		t.Fatalf("ChannelMembers: %v", err)
	}
	if len(members) != memberPageSize {
		t.Errorf("len(members) = %d, want %d (one bot dropped, one extra page)", len(members), memberPageSize)
	}
	if len(sess.memberCalls) != 2 {
		t.Fatalf("member calls = %d, want 2", len(sess.memberCalls))
	}
	if sess.memberCalls[1] != fmt.Sprintf("U%04d", memberPageSize-1) {
		t.Errorf("second cursor = %q", sess.memberCalls[1])
	}
}

func TestChannelMembers_NotInGuild(t *testing.T) {
	c, sess := newTestClient(t)
	sess.channels["D1"] = &discordgo.Channel{ID: "D1"}

	_, err := c.ChannelMembers(context.Background(), "D1")
	if err == nil || !strings.Contains(err.Error(), "not in a guild") {
		t.Errorf("err = %v, want not in a guild", err)
	}
}

func TestOpenDirect(t *testing.T) {
	c, sess := newTestClient(t)
	sess.dm = &discordgo.Channel{ID: "DM1"}

	id, err := c.OpenDirect(context.Background(), "U1")
	if err != nil {
		t.Fatalf("OpenDirect: %v", err)
	}
	if id != "DM1" {
		t.Errorf("id = %q, want DM1", id)
	}
}

func TestOpenDirect_Error(t *testing.T) {
	c, sess := newTestClient(t)
	sess.dmErr = fmt.Errorf("cannot send messages to this user")

	_, err := c.OpenDirect(context.Background(), "U1")
	var perr *platform.Error
	if !errors.As(err, &perr) || perr.Op != "create dm" {
		t.Errorf("err = %v, want create dm platform error", err)
	}
}

func TestPost_ThreadReference(t *testing.T) {
	c, sess := newTestClient(t)

	id, err := c.Post(context.Background(), "C1", platform.Message{Text: "hi", ThreadAnchor: "500"})
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if id != "900" {
		t.Errorf("id = %q, want 900", id)
	}
	ref := sess.sent[0].data.Reference
	if ref == nil || ref.MessageID != "500" || ref.ChannelID != "C1" {
		t.Errorf("reference = %+v", ref)
	}
}

func TestPost_MissingID(t *testing.T) {
	c, sess := newTestClient(t)
	sess.sendID = ""

	if _, err := c.Post(context.Background(), "C1", platform.Message{Text: "hi"}); err == nil {
		t.Fatal("expected error for missing message id")
	}
}

func TestReplies_FiltersByReferenceOldestFirst(t *testing.T) {
	c, sess := newTestClient(t)
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	sess.messages = []*discordgo.Message{
		{ID: "13", Content: "later", Author: &discordgo.User{ID: "U1"}, Timestamp: base.Add(3 * time.Minute),
			MessageReference: &discordgo.MessageReference{MessageID: "10"}},
		{ID: "12", Content: "unrelated", Author: &discordgo.User{ID: "U1"}, Timestamp: base.Add(2 * time.Minute)},
		{ID: "11", Content: "first", Author: &discordgo.User{ID: "U1"}, Timestamp: base.Add(time.Minute),
			MessageReference: &discordgo.MessageReference{MessageID: "10"}},
	}

	replies, err := c.Replies(context.Background(), "DM1", "10")
	if err != nil {
		t.Fatalf("Replies: %v", err)
	}
	if len(replies) != 2 {
		t.Fatalf("len(replies) = %d, want 2", len(replies))
	}
	if replies[0].Text != "first" || replies[1].Text != "later" {
		t.Errorf("replies = %+v", replies)
	}
}

func TestAvatarURL(t *testing.T) {
	c, sess := newTestClient(t)
	sess.users["U1"] = &discordgo.User{ID: "U1", Avatar: "abc"}

	url, err := c.AvatarURL(context.Background(), "U1")
	if err != nil {
		t.Fatalf("AvatarURL: %v", err)
	}
	if !strings.Contains(url, "U1") || !strings.Contains(url, "size=256") {
		t.Errorf("url = %q", url)
	}
}

func TestBuildMessageSend_Embed(t *testing.T) {
	data := buildMessageSend("C1", platform.Message{
		Text: "fallback",
		Blocks: []platform.Block{
			{Kind: platform.BlockHeader, Text: "Q: favourite food?"},
			{Kind: platform.BlockContext, Text: "Answer from <@U1>", ImageURL: "https://a/p.png"},
			{Kind: platform.BlockSection, Text: "> ramen"},
		},
	})
	if data.Content != "" {
		t.Errorf("content = %q, want empty when embed present", data.Content)
	}
	if len(data.Embeds) != 1 {
		t.Fatalf("embeds = %d, want 1", len(data.Embeds))
	}
	e := data.Embeds[0]
	if e.Title != "Q: favourite food?" {
		t.Errorf("title = %q", e.Title)
	}
	if e.Description != "Answer from <@U1>\n> ramen" {
		t.Errorf("description = %q, want mention then answer", e.Description)
	}
	if e.Author != nil {
		t.Errorf("author = %+v, want none since mentions do not render there", e.Author)
	}
	if e.Thumbnail == nil || e.Thumbnail.URL != "https://a/p.png" {
		t.Errorf("thumbnail = %+v", e.Thumbnail)
	}
}

func TestBlocksToEmbed_TruncatesTitle(t *testing.T) {
	embed := blocksToEmbed([]platform.Block{
		{Kind: platform.BlockHeader, Text: strings.Repeat("q", maxTitleLen+1)},
		{Kind: platform.BlockSection, Text: "short"},
	})
	if n := len([]rune(embed.Title)); n != maxTitleLen {
		t.Errorf("title length = %d, want %d", n, maxTitleLen)
	}
	if embed.Description != "short" {
		t.Errorf("description = %q", embed.Description)
	}
}

func TestBuildMessageSend_TextOnly(t *testing.T) {
	data := buildMessageSend("C1", platform.Message{Text: "hello"})
	if data.Content != "hello" || len(data.Embeds) != 0 || data.Reference != nil {
		t.Errorf("data = %+v", data)
	}
}

func TestRetryOnRateLimit_RetriesRESTError429(t *testing.T) {
	c, _ := newTestClient(t)
	calls := 0
	err := c.retryOnRateLimit(context.Background(), func() error {
		calls++
		if calls < 3 {
			return &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusTooManyRequests}}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryOnRateLimit_NonRateLimitError(t *testing.T) {
	c, _ := newTestClient(t)
	calls := 0
	err := c.retryOnRateLimit(context.Background(), func() error {
		calls++
		return &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusForbidden}}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryOnRateLimit_RespectsContext(t *testing.T) {
	c, _ := newTestClient(t)
	c.baseBackoff = time.Second
	c.maxBackoff = time.Second
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.retryOnRateLimit(ctx, func() error {
		return &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusTooManyRequests}}
	})
	if err != context.Canceled {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
