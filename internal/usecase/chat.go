package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fairyhunter13/neurowell-ai-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/domain"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/secure"
	"github.com/fairyhunter13/neurowell-ai-gateway/pkg/textx"
)

// TokenCounter counts prompt tokens. tokencount.Counter implements it.
type TokenCounter interface {
	Count(text, model string) int
}

// ChatRequest is one user turn.
type ChatRequest struct {
	UserID        string
	ChatID        string
	Message       string
	APIKey        string
	SaveToHistory bool
}

// ChatReply is the assistant turn plus the label of the source that produced it.
type ChatReply struct {
	Reply        string `json:"reply"`
	UsedKeyLabel string `json:"usedKeyLabel"`
}

// ChatService builds conversational prompts from recent history.
type ChatService struct {
	Resolver    domain.Resolver
	Messages    domain.MessageRepository
	Counter     TokenCounter
	Preamble    string
	Model       string
	Window      int
	TokenBudget int
	MaxChars    int
	Now         func() time.Time
}

// Send answers req.Message in the context of the last Window messages of the
// chat (or of the user when no chat id is given).
func (s ChatService) Send(ctx context.Context, req ChatRequest) (ChatReply, error) {
	msg := textx.SanitizeMessage(req.Message, s.MaxChars)
	if msg == "" {
		return ChatReply{}, fmt.Errorf("op=chat.Send: %w: message is required", domain.ErrInvalidArgument)
	}
	lg := observability.LoggerFromContext(ctx)

	history, err := s.history(ctx, req.UserID, req.ChatID)
	if err != nil {
		return ChatReply{}, fmt.Errorf("op=chat.Send: %w", err)
	}
	prompt := BuildChatPrompt(s.Preamble, s.trim(history), msg)

	var explicit *secure.Secret
	if key := strings.TrimSpace(req.APIKey); key != "" {
		explicit, err = secure.NewSecretString(key)
		if err != nil {
			return ChatReply{}, fmt.Errorf("op=chat.Send: %w: %v", domain.ErrInvalidArgument, err)
		}
		defer explicit.Destroy()
	}

	out, err := s.Resolver.Resolve(ctx, prompt, explicit)
	if err != nil {
		return ChatReply{}, fmt.Errorf("op=chat.Send: %w", err)
	}
	lg.Info("chat reply resolved", slog.String("used_key", out.Label))

	if req.SaveToHistory && s.Messages != nil && req.UserID != "" {
		now := time.Now
		if s.Now != nil {
			now = s.Now
		}
		at := now().UTC()
		turns := []domain.ChatMessage{
			{Role: domain.RoleUser, Content: msg, UserID: req.UserID, ChatID: req.ChatID, CreatedAt: at},
			{Role: domain.RoleAssistant, Content: out.Reply, UserID: req.UserID, ChatID: req.ChatID, CreatedAt: at.Add(time.Microsecond)},
		}
		if err := s.Messages.Append(ctx, turns...); err != nil {
			lg.Error("failed to save chat turns", slog.String("user_id", req.UserID), slog.Any("error", err))
			return ChatReply{}, fmt.Errorf("op=chat.Send: save turns: %w", err)
		}
	}
	return ChatReply{Reply: out.Reply, UsedKeyLabel: out.Label}, nil
}

// History returns up to limit recent messages, oldest first.
func (s ChatService) History(ctx context.Context, userID, chatID string, limit int) ([]domain.ChatMessage, error) {
	if userID == "" && chatID == "" {
		return nil, fmt.Errorf("op=chat.History: %w: user or chat id required", domain.ErrInvalidArgument)
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	msgs, err := s.Messages.Recent(ctx, userID, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("op=chat.History: %w", err)
	}
	reverse(msgs)
	return msgs, nil
}

func (s ChatService) history(ctx context.Context, userID, chatID string) ([]domain.ChatMessage, error) {
	if s.Messages == nil || (userID == "" && chatID == "") || s.Window <= 0 {
		return nil, nil
	}
	msgs, err := s.Messages.Recent(ctx, userID, chatID, s.Window)
	if err != nil {
		return nil, err
	}
	reverse(msgs)
	return msgs, nil
}

// trim drops the oldest messages until the transcript fits TokenBudget.
func (s ChatService) trim(msgs []domain.ChatMessage) []domain.ChatMessage {
	if s.TokenBudget <= 0 || s.Counter == nil {
		return msgs
	}
	costs := make([]int, len(msgs))
	total := 0
	for i, m := range msgs {
		costs[i] = s.Counter.Count(transcriptLine(m), s.Model)
		total += costs[i]
	}
	start := 0
	for start < len(msgs) && total > s.TokenBudget {
		total -= costs[start]
		start++
	}
	return msgs[start:]
}

// BuildChatPrompt renders the preamble, the transcript and the new user turn.
func BuildChatPrompt(preamble string, history []domain.ChatMessage, message string) string {
	var b strings.Builder
	if p := strings.TrimSpace(preamble); p != "" {
		b.WriteString(p)
		b.WriteString("\n\n")
	}
	b.WriteString("Conversation so far:\n")
	for _, m := range history {
		b.WriteString(transcriptLine(m))
		b.WriteByte('\n')
	}
	b.WriteString("\nUser: ")
	b.WriteString(message)
	b.WriteString("\nAssistant:")
	return b.String()
}

func transcriptLine(m domain.ChatMessage) string {
	if m.Role == domain.RoleUser {
		return "User: " + m.Content
	}
	return "Assistant: " + m.Content
}

func reverse(msgs []domain.ChatMessage) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
