package platform

import (
	"context"
	"fmt"
	"sync"
)

// MockClient implements Client and Identifier for testing. It records posted
// messages and serves pre-configured members, replies, and avatars.
type MockClient struct {
	mu        sync.Mutex
	botUserID string
	members   map[string][]string
	replies   map[string][]Reply // key: "channelID:anchor"
	avatars   map[string]string
	posted    []PostedMessage
	counter   int

	// Per-operation failure injection. A key of "*" matches every argument.
	MembersErr  error
	OpenErr     map[string]error // keyed by user ID
	PostErr     map[string]error // keyed by channel ID
	RepliesErr  map[string]error // keyed by anchor
	AvatarErr   error
	MissingPost bool // Post succeeds but returns an empty message ID
}

// PostedMessage is a message recorded by MockClient.Post.
type PostedMessage struct {
	ChannelID string
	ID        string
	Message   Message
}

// NewMockClient creates an empty MockClient.
func NewMockClient() *MockClient {
	return &MockClient{
		members:    make(map[string][]string),
		replies:    make(map[string][]Reply),
		avatars:    make(map[string]string),
		OpenErr:    make(map[string]error),
		PostErr:    make(map[string]error),
		RepliesErr: make(map[string]error),
	}
}

// Identity returns the configured bot user ID (implements Identifier).
func (m *MockClient) Identity(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.botUserID == "" {
		return "", fmt.Errorf("mock client: no bot user id")
	}
	return m.botUserID, nil
}

// ChannelMembers returns the configured members of channelID.
func (m *MockClient) ChannelMembers(ctx context.Context, channelID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MembersErr != nil {
		return nil, m.MembersErr
	}
	out := make([]string, len(m.members[channelID]))
	copy(out, m.members[channelID])
	return out, nil
}

// OpenDirect returns a deterministic DM ID of the form "D-<userID>".
func (m *MockClient) OpenDirect(ctx context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := lookupErr(m.OpenErr, userID); err != nil {
		return "", err
	}
	return "D-" + userID, nil
}

// Post records the message and returns a sequential message ID.
func (m *MockClient) Post(ctx context.Context, channelID string, msg Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := lookupErr(m.PostErr, channelID); err != nil {
		return "", err
	}
	m.counter++
	id := fmt.Sprintf("1700000000.%06d", m.counter)
	if m.MissingPost {
		id = ""
	}
	m.posted = append(m.posted, PostedMessage{ChannelID: channelID, ID: id, Message: msg})
	return id, nil
}

// Replies returns pre-configured replies for a channel/anchor pair.
func (m *MockClient) Replies(ctx context.Context, channelID, anchor string) ([]Reply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := lookupErr(m.RepliesErr, anchor); err != nil {
		return nil, err
	}
	msgs := m.replies[channelID+":"+anchor]
	out := make([]Reply, len(msgs))
	copy(out, msgs)
	return out, nil
}

// AvatarURL returns the configured avatar for userID, or "".
func (m *MockClient) AvatarURL(ctx context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AvatarErr != nil {
		return "", m.AvatarErr
	}
	return m.avatars[userID], nil
}

func lookupErr(errs map[string]error, key string) error {
	if err, ok := errs[key]; ok {
		return err
	}
	return errs["*"]
}

// --- Test helpers ---

// SetBotUserID sets the ID returned by Identity.
func (m *MockClient) SetBotUserID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.botUserID = id
}

// SetMembers pre-populates the member list of a channel.
func (m *MockClient) SetMembers(channelID string, members []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[channelID] = members
}

// SetReplies pre-populates the replies anchored to a message.
func (m *MockClient) SetReplies(channelID, anchor string, replies []Reply) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies[channelID+":"+anchor] = replies
}

// SetAvatar pre-populates a user's avatar URL.
func (m *MockClient) SetAvatar(userID, url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.avatars[userID] = url
}

// AllPosted returns a copy of all posted messages.
func (m *MockClient) AllPosted() []PostedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PostedMessage, len(m.posted))
	copy(out, m.posted)
	return out
}

// PostedTo returns the messages posted to channelID, in order.
func (m *MockClient) PostedTo(channelID string) []PostedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PostedMessage
	for _, p := range m.posted {
		if p.ChannelID == channelID {
			out = append(out, p)
		}
	}
	return out
}

// PostedCount returns the number of posted messages.
func (m *MockClient) PostedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.posted)
}
