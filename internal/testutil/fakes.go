package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/parsascontentcorner/grokgate/internal/grok"
	"github.com/parsascontentcorner/grokgate/internal/models"
)

// FakeAI is a scripted Grok client. It counts calls and records prompts.
type FakeAI struct {
	mu sync.Mutex

	ChatContent string
	ChatUsage   models.TokenUsage
	ChatErr     error
	ImageURLs   []string
	ImageErr    error

	ChatCalls  int
	ImageCalls int
	Prompts    []string
	LastChat   grok.ChatRequest
}

// NewFakeAI returns a client that answers "ok" for 42 tokens and one image URL.
func NewFakeAI() *FakeAI {
	return &FakeAI{
		ChatContent: "ok",
		ChatUsage:   models.TokenUsage{PromptTokens: 30, CompletionTokens: 12, TotalTokens: 42},
		ImageURLs:   []string{"https://img.example/generated.png"},
	}
}

func (f *FakeAI) Chat(_ context.Context, req grok.ChatRequest) (*grok.ChatResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ChatCalls++
	f.LastChat = req
	f.Prompts = append(f.Prompts, req.UserContent)
	if f.ChatErr != nil {
		return nil, f.ChatErr
	}
	return &grok.ChatResult{Content: f.ChatContent, Usage: f.ChatUsage}, nil
}

func (f *FakeAI) GenerateImage(_ context.Context, prompt string) (*grok.ImageResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ImageCalls++
	f.Prompts = append(f.Prompts, prompt)
	if f.ImageErr != nil {
		return nil, f.ImageErr
	}
	return &grok.ImageResult{URLs: append([]string(nil), f.ImageURLs...)}, nil
}

func (f *FakeAI) ChatModel() string  { return "grok-test" }
func (f *FakeAI) ImageModel() string { return "grok-image-test" }

// Calls returns the total number of AI calls.
func (f *FakeAI) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ChatCalls + f.ImageCalls
}

// SentMessage is one captured notifier call.
type SentMessage struct {
	ChannelID     string
	Content       string
	MentionUserID string
	EmbedURL      string
}

// FakeNotifier captures messages instead of posting them.
type FakeNotifier struct {
	mu   sync.Mutex
	sent []SentMessage
	Err  error
}

func (n *FakeNotifier) SendMessage(_ context.Context, channelID, content, mentionUserID, embedURL string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.Err != nil {
		return n.Err
	}
	n.sent = append(n.sent, SentMessage{
		ChannelID:     channelID,
		Content:       content,
		MentionUserID: mentionUserID,
		EmbedURL:      embedURL,
	})
	return nil
}

// Sent returns a copy of the captured messages.
func (n *FakeNotifier) Sent() []SentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]SentMessage(nil), n.sent...)
}

// ErrPlatformUnavailable is returned by FakePlatform for unset data.
var ErrPlatformUnavailable = errors.New("platform unavailable")

// FakePlatform serves canned Discord guild data.
type FakePlatform struct {
	Roles    []*discordgo.Role
	Member   *discordgo.Member
	Channels map[string]*discordgo.Channel

	RolesErr  error
	MemberErr error
}

func (p *FakePlatform) GuildRoles(context.Context, string) ([]*discordgo.Role, error) {
	if p.RolesErr != nil {
		return nil, p.RolesErr
	}
	return p.Roles, nil
}

func (p *FakePlatform) BotMember(context.Context, string) (*discordgo.Member, error) {
	if p.MemberErr != nil {
		return nil, p.MemberErr
	}
	if p.Member == nil {
		return nil, ErrPlatformUnavailable
	}
	return p.Member, nil
}

func (p *FakePlatform) Channel(_ context.Context, channelID string) (*discordgo.Channel, error) {
	ch, ok := p.Channels[channelID]
	if !ok {
		return nil, ErrPlatformUnavailable
	}
	return ch, nil
}
