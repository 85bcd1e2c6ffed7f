package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fairyhunter13/neurowell-ai-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/config"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/domain"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/service/ratelimiter"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/usecase"
)

// UserIDHeader carries the caller identity set by the upstream auth layer.
const UserIDHeader = "X-User-Id"

// LimiterClassChat is the per-user token bucket for /v1/chat/send.
const LimiterClassChat = "chat"

// ChatService answers chat turns and lists history.
type ChatService interface {
	Send(ctx context.Context, req usecase.ChatRequest) (usecase.ChatReply, error)
	History(ctx context.Context, userID, chatID string, limit int) ([]domain.ChatMessage, error)
}

// ScoringService scores free text.
type ScoringService interface {
	Score(ctx context.Context, text string) (domain.MoodScore, error)
}

// AssessmentService generates assessment documents.
type AssessmentService interface {
	Generate(ctx context.Context, theme string, n int) (domain.Assessment, error)
}

// Check is a named readiness probe.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Server aggregates handler dependencies. Nil services disable their routes'
// behavior with 503.
type Server struct {
	Cfg         config.Config
	Chat        ChatService
	Scoring     ScoringService
	Assessments AssessmentService
	// AssessmentRepo persists generated assessments and serves the latest one.
	AssessmentRepo domain.AssessmentRepository
	Credentials    CredentialAdmin
	Metrics        domain.MetricsSink
	Queue          domain.Queue
	Limiter        ratelimiter.Limiter
	Checks         []Check
}

type adminKey struct{}

func withAdmin(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, adminKey{}, user)
}

func adminFrom(ctx context.Context) string {
	s, _ := ctx.Value(adminKey{}).(string)
	return s
}

func (s *Server) maxBody() int64 {
	if s.Cfg.MaxRequestKB > 0 {
		return s.Cfg.MaxRequestKB * 1024
	}
	return 64 * 1024
}

func unavailable(w http.ResponseWriter, r *http.Request, what string) {
	writeJSON(w, http.StatusServiceUnavailable, errorEnvelope{Error: apiError{Code: "NOT_CONFIGURED", Message: what + " is not configured"}})
}

type chatBody struct {
	Message string `json:"message"`
	Query   string `json:"query"`
	APIKey  string `json:"apiKey"`
	ChatID  string `json:"chatId" validate:"omitempty,max=100"`
}

func (b chatBody) text() string {
	if strings.TrimSpace(b.Message) != "" {
		return b.Message
	}
	return b.Query
}

type chatResponse struct {
	Reply string   `json:"reply"`
	Meta  chatMeta `json:"meta"`
}

type chatMeta struct {
	UsedKeyLabel string `json:"usedKeyLabel"`
}

// ChatHandler serves the anonymous POST /chat. History is neither read by
// user nor saved.
func (s *Server) ChatHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Chat == nil {
			unavailable(w, r, "chat")
			return
		}
		var body chatBody
		if err := decodeJSON(w, r, s.maxBody(), &body); err != nil {
			writeDecodeError(w, r, err)
			return
		}
		if strings.TrimSpace(body.text()) == "" {
			writeError(w, r, fmt.Errorf("%w: message or query is required", domain.ErrInvalidArgument), map[string]string{"message": "required"})
			return
		}
		reply, err := s.Chat.Send(r.Context(), usecase.ChatRequest{Message: body.text(), APIKey: body.APIKey})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, chatResponse{Reply: reply.Reply, Meta: chatMeta{UsedKeyLabel: reply.UsedKeyLabel}})
	}
}

// SendMessageHandler serves POST /v1/chat/send for an identified user and
// saves both turns.
func (s *Server) SendMessageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Chat == nil {
			unavailable(w, r, "chat")
			return
		}
		userID := strings.TrimSpace(r.Header.Get(UserIDHeader))
		if userID == "" {
			writeError(w, r, fmt.Errorf("%w: %s header is required", domain.ErrInvalidArgument, UserIDHeader), nil)
			return
		}
		if !s.allow(w, r, userID) {
			return
		}
		var body chatBody
		if err := decodeJSON(w, r, s.maxBody(), &body); err != nil {
			writeDecodeError(w, r, err)
			return
		}
		reply, err := s.Chat.Send(r.Context(), usecase.ChatRequest{
			UserID:        userID,
			ChatID:        body.ChatID,
			Message:       body.Message,
			SaveToHistory: true,
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, chatResponse{Reply: reply.Reply, Meta: chatMeta{UsedKeyLabel: reply.UsedKeyLabel}})
	}
}

// allow applies the per-user chat bucket. Limiter errors fail open.
func (s *Server) allow(w http.ResponseWriter, r *http.Request, userID string) bool {
	if s.Limiter == nil {
		return true
	}
	ok, retryAfter, err := s.Limiter.Allow(r.Context(), LimiterClassChat, userID, 1)
	if err != nil {
		observability.LoggerFromContext(r.Context()).Warn("rate limiter unavailable", slog.Any("error", err))
		return true
	}
	if ok {
		return true
	}
	secs := int(retryAfter.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeError(w, r, fmt.Errorf("%w: chat limit reached", domain.ErrRateLimited), map[string]int{"retryAfterSeconds": secs})
	return false
}

type historyMessage struct {
	ID        string    `json:"id,omitempty"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	ChatID    string    `json:"chatId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// HistoryHandler serves GET /v1/chat/history?chatId=&limit= for the caller.
func (s *Server) HistoryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Chat == nil {
			unavailable(w, r, "chat")
			return
		}
		userID := strings.TrimSpace(r.Header.Get(UserIDHeader))
		if userID == "" {
			writeError(w, r, fmt.Errorf("%w: %s header is required", domain.ErrInvalidArgument, UserIDHeader), nil)
			return
		}
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				writeError(w, r, fmt.Errorf("%w: limit must be a positive integer", domain.ErrInvalidArgument), map[string]string{"limit": v})
				return
			}
			limit = n
		}
		msgs, err := s.Chat.History(r.Context(), userID, r.URL.Query().Get("chatId"), limit)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		out := make([]historyMessage, 0, len(msgs))
		for _, m := range msgs {
			out = append(out, historyMessage{ID: m.ID, Role: string(m.Role), Content: m.Content, ChatID: m.ChatID, CreatedAt: m.CreatedAt})
		}
		writeJSON(w, http.StatusOK, map[string]any{"messages": out})
	}
}

// ScoreHandler serves POST /v1/score.
func (s *Server) ScoreHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Scoring == nil {
			unavailable(w, r, "scoring")
			return
		}
		var body struct {
			Text string `json:"text" validate:"required"`
		}
		if err := decodeJSON(w, r, s.maxBody(), &body); err != nil {
			writeDecodeError(w, r, err)
			return
		}
		res, err := s.Scoring.Score(r.Context(), body.Text)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

type assessmentResponse struct {
	ID        string            `json:"id,omitempty"`
	Title     string            `json:"title"`
	CreatedAt *time.Time        `json:"createdAt,omitempty"`
	Questions []domain.Question `json:"questions"`
}

func toAssessmentResponse(a domain.Assessment) assessmentResponse {
	out := assessmentResponse{ID: a.ID, Title: a.Title, Questions: a.Questions}
	if !a.CreatedAt.IsZero() {
		t := a.CreatedAt
		out.CreatedAt = &t
	}
	if out.Questions == nil {
		out.Questions = []domain.Question{}
	}
	return out
}

// GenerateAssessmentHandler serves POST /v1/assessments/generate. The result
// is persisted when a repository is configured.
func (s *Server) GenerateAssessmentHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Assessments == nil {
			unavailable(w, r, "assessment generation")
			return
		}
		var body struct {
			Theme        string `json:"theme" validate:"max=200"`
			NumQuestions int    `json:"numQuestions" validate:"min=0,max=20"`
		}
		if err := decodeJSON(w, r, s.maxBody(), &body); err != nil {
			writeDecodeError(w, r, err)
			return
		}
		a, err := s.Assessments.Generate(r.Context(), body.Theme, body.NumQuestions)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if s.AssessmentRepo != nil {
			if a, err = s.AssessmentRepo.Create(r.Context(), a); err != nil {
				writeError(w, r, err, nil)
				return
			}
		}
		writeJSON(w, http.StatusOK, toAssessmentResponse(a))
	}
}

// LatestAssessmentHandler serves GET /v1/assessments/latest.
func (s *Server) LatestAssessmentHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.AssessmentRepo == nil {
			unavailable(w, r, "assessment storage")
			return
		}
		a, err := s.AssessmentRepo.Latest(r.Context())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, toAssessmentResponse(a))
	}
}

// HealthzHandler is the liveness probe.
func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyzHandler runs every configured check with a shared 2s deadline.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]check, 0, len(s.Checks))
		ok := true
		for _, c := range s.Checks {
			if err := c.Fn(ctx); err != nil {
				ok = false
				checks = append(checks, check{Name: c.Name, OK: false, Details: err.Error()})
				continue
			}
			checks = append(checks, check{Name: c.Name, OK: true})
		}
		st := http.StatusOK
		if !ok {
			st = http.StatusServiceUnavailable
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}
