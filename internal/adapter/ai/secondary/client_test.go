package secondary

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/neurowell-ai-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/domain"
)

func newClient(t *testing.T, h http.HandlerFunc, breaker *observability.CircuitBreaker) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewWithHTTPClient(srv.URL+"/", srv.Client(), Timeouts{Chat: time.Second, Assessment: time.Second, Score: time.Second}, breaker)
}

func TestChat_ReplyShapes(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"answer string", `{"answer":"hello"}`, "hello"},
		{"answer object", `{"answer":{"text":"hi"}}`, `{"text":"hi"}`},
		{"reply field", `{"reply":"from reply"}`, "from reply"},
		{"answer wins", `{"answer":"a","reply":"b"}`, "a"},
		{"whole body", `{"message":"m"}`, `{"message":"m"}`},
		{"json string", `"plain"`, "plain"},
		{"not json", `just text`, "just text"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/chat", r.URL.Path)
				var in map[string]string
				require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
				assert.Equal(t, "prompt", in["query"])
				_, _ = w.Write([]byte(tc.body))
			}, nil)
			got, err := c.Chat(context.Background(), "prompt")
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestChat_MalformedBodies(t *testing.T) {
	for _, body := range []string{``, `{"answer":""}`, `null`} {
		c := newClient(t, func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(body)) }, nil)
		_, err := c.Chat(context.Background(), "p")
		assert.ErrorIs(t, err, ErrMalformed, body)
	}
}

func TestChat_Non2xx(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusBadGateway) }, nil)
	_, err := c.Chat(context.Background(), "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

func TestChat_TimeoutIsUpstreamTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	defer close(release)

	c := NewWithHTTPClient(srv.URL, srv.Client(), Timeouts{Chat: 20 * time.Millisecond}, nil)
	_, err := c.Chat(context.Background(), "p")
	assert.ErrorIs(t, err, domain.ErrUpstreamTimeout)
}

func TestChat_BreakerOpensAfterFailures(t *testing.T) {
	var hits atomic.Int32
	cb := observability.NewCircuitBreaker("secondary-test", 2, time.Hour)
	c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}, cb)

	for i := 0; i < 2; i++ {
		_, err := c.Chat(context.Background(), "p")
		require.Error(t, err)
	}
	_, err := c.Chat(context.Background(), "p")
	assert.True(t, errors.Is(err, observability.ErrCircuitOpen))
	assert.Equal(t, int32(2), hits.Load())
}

func TestChat_AbandonedProbeDoesNotWedgeBreaker(t *testing.T) {
	var slow atomic.Bool
	var fail atomic.Bool
	fail.Store(true)
	cb := observability.NewCircuitBreaker("secondary-probe", 1, 10*time.Millisecond)
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if slow.Load() {
			select {
			case <-time.After(100 * time.Millisecond):
			case <-r.Context().Done():
				return
			}
		}
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"answer":"hello"}`))
	}, cb)

	_, err := c.Chat(context.Background(), "p")
	require.Error(t, err)
	require.Equal(t, observability.StateOpen, cb.State())
	time.Sleep(20 * time.Millisecond)

	slow.Store(true)
	fail.Store(false)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err = c.Chat(ctx, "p")
	require.Error(t, err)
	assert.Equal(t, observability.StateHalfOpen, cb.State())

	slow.Store(false)
	got, err := c.Chat(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
	assert.Equal(t, observability.StateClosed, cb.State())
}

func TestScore(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/score", r.URL.Path)
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "sad day", in["text"])
		_, _ = w.Write([]byte(`{"score":0.3,"raw":{"label":"sad"}}`))
	}, nil)
	got, err := c.Score(context.Background(), "sad day")
	require.NoError(t, err)
	require.NotNil(t, got.Score)
	assert.Equal(t, 0.3, *got.Score)
	assert.JSONEq(t, `{"label":"sad"}`, got.Raw)
}

func TestScore_Malformed(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{}`)) }, nil)
	_, err := c.Score(context.Background(), "x")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestGenerateAssessment(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/assessment/generate", r.URL.Path)
		var in map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, 3.0, in["numQuestions"])
		_, hasTheme := in["theme"]
		assert.False(t, hasTheme)
		_, _ = w.Write([]byte(`{"assessment":{"title":"Daily"},"questions":[{"title":"Q","options":["a","b"],"correctAnswer":"a"}],"raw":"..."}`))
	}, nil)
	got, err := c.GenerateAssessment(context.Background(), "", 3)
	require.NoError(t, err)
	assert.Equal(t, "Daily", got.Title)
	require.Len(t, got.Questions, 1)
	assert.Equal(t, []string{"a", "b"}, got.Questions[0].Options)
	assert.NotEmpty(t, got.Raw)
}

func TestGenerateAssessment_NoQuestions(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"questions":[]}`)) }, nil)
	_, err := c.GenerateAssessment(context.Background(), "sleep", 3)
	assert.ErrorIs(t, err, ErrMalformed)
}
