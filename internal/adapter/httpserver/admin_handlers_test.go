package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/neurowell-ai-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/domain"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/service/credentials"
)

type fakeCredentialAdmin struct {
	items   map[string]domain.CredentialMetadata
	secrets map[string]string
	created credentials.CreateInput
	patch   credentials.Patch
}

func newFakeCredentialAdmin() *fakeCredentialAdmin {
	return &fakeCredentialAdmin{items: map[string]domain.CredentialMetadata{}, secrets: map[string]string{}}
}

func (f *fakeCredentialAdmin) Create(_ context.Context, in credentials.CreateInput) (domain.CredentialMetadata, error) {
	f.created = in
	m := domain.CredentialMetadata{ID: "k1", Name: in.Name, Provider: domain.Provider(in.Provider), IsActive: true, CreatedBy: in.CreatedBy}
	f.items[m.ID] = m
	f.secrets[m.ID] = in.Secret
	return m, nil
}

func (f *fakeCredentialAdmin) List(context.Context) ([]domain.CredentialMetadata, error) {
	var out []domain.CredentialMetadata
	for _, m := range f.items {
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeCredentialAdmin) Get(_ context.Context, id string, reveal bool) (credentials.View, error) {
	m, ok := f.items[id]
	if !ok {
		return credentials.View{}, domain.ErrNotFound
	}
	v := credentials.View{CredentialMetadata: m}
	if reveal {
		v.Secret = f.secrets[id]
	}
	return v, nil
}

func (f *fakeCredentialAdmin) Update(_ context.Context, id string, p credentials.Patch) (domain.CredentialMetadata, error) {
	f.patch = p
	m, ok := f.items[id]
	if !ok {
		return domain.CredentialMetadata{}, domain.ErrNotFound
	}
	if p.IsActive != nil {
		m.IsActive = *p.IsActive
	}
	f.items[id] = m
	return m, nil
}

func (f *fakeCredentialAdmin) Delete(_ context.Context, id string) error {
	if _, ok := f.items[id]; !ok {
		return domain.ErrNotFound
	}
	delete(f.items, id)
	return nil
}

func (f *fakeCredentialAdmin) Validate(_ context.Context, id string) (credentials.ValidationResult, error) {
	m, ok := f.items[id]
	if !ok {
		return credentials.ValidationResult{}, domain.ErrNotFound
	}
	return credentials.ValidationResult{OK: true, Provider: m.Provider, Sample: "pong"}, nil
}

type fakeQueue struct {
	reqs []domain.AssessmentRequest
	err  error
}

func (q *fakeQueue) EnqueueAssessment(_ context.Context, req domain.AssessmentRequest) error {
	if q.err != nil {
		return q.err
	}
	q.reqs = append(q.reqs, req)
	return nil
}

func adminRouter(s *Server) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(withAdmin(req.Context(), "root")))
		})
	})
	s.MountAdmin(r)
	return r
}

func serve(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAdminKeys_Lifecycle(t *testing.T) {
	store := newFakeCredentialAdmin()
	h := adminRouter(&Server{Credentials: store})

	rec := serve(h, http.MethodGet, "/v1/admin/keys", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"keys":[]}`, rec.Body.String())

	rec = serve(h, http.MethodPost, "/v1/admin/keys", `{"name":"primary","provider":"gemini","key":"AIza-secret"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "root", store.created.CreatedBy)
	assert.NotContains(t, rec.Body.String(), "AIza-secret")

	rec = serve(h, http.MethodGet, "/v1/admin/keys/k1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "AIza-secret")
	assert.Empty(t, rec.Header().Get("Cache-Control"))

	rec = serve(h, http.MethodGet, "/v1/admin/keys/k1?reveal=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"key":"AIza-secret"`)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	rec = serve(h, http.MethodPut, "/v1/admin/keys/k1", `{"isActive":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, store.patch.IsActive)
	assert.False(t, *store.patch.IsActive)
	assert.Contains(t, rec.Body.String(), `"isActive":false`)

	rec = serve(h, http.MethodPost, "/v1/admin/keys/k1/validate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"provider":"gemini","sample":"pong"}`, rec.Body.String())

	rec = serve(h, http.MethodDelete, "/v1/admin/keys/k1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = serve(h, http.MethodDelete, "/v1/admin/keys/k1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminKeys_CreateValidation(t *testing.T) {
	h := adminRouter(&Server{Credentials: newFakeCredentialAdmin()})

	rec := serve(h, http.MethodPost, "/v1/admin/keys", `{"name":"x","provider":"openai","key":"k"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"provider":"oneof"`)

	rec = serve(h, http.MethodPost, "/v1/admin/keys", `{"name":"x","provider":"gemini"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(h, http.MethodPost, "/v1/admin/keys", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminKeys_NoStore(t *testing.T) {
	h := adminRouter(&Server{})
	rec := serve(h, http.MethodGet, "/v1/admin/keys", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_CONFIGURED")
}

func TestAdminMetricsSnapshot(t *testing.T) {
	sink := observability.NewCounters(nil)
	sink.Increment("gemini.rotation.success", 1, map[string]string{"label": "env"})
	h := adminRouter(&Server{Metrics: sink})

	rec := serve(h, http.MethodGet, "/v1/admin/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Counters map[string]float64 `json:"counters"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Counters, 1)
	for k, v := range body.Counters {
		assert.True(t, strings.HasPrefix(k, "gemini.rotation.success|"))
		assert.Equal(t, 1.0, v)
	}
}

func TestAdminTriggerAssessment(t *testing.T) {
	q := &fakeQueue{}
	h := adminRouter(&Server{Queue: q})

	rec := serve(h, http.MethodPost, "/v1/admin/assessments/trigger", `{"theme":"stress","numQuestions":4}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, q.reqs, 1)
	assert.Equal(t, "stress", q.reqs[0].Theme)
	assert.Equal(t, 4, q.reqs[0].NumQuestions)
	assert.Equal(t, "root", q.reqs[0].RequestedBy)
	assert.WithinDuration(t, time.Now(), q.reqs[0].RequestedAt, time.Minute)
	assert.Contains(t, rec.Body.String(), `"status":"queued"`)

	rec = serve(h, http.MethodPost, "/v1/admin/assessments/trigger", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, q.reqs, 2)
	assert.Zero(t, q.reqs[1].NumQuestions)

	q.err = errors.New("broker down")
	rec = serve(h, http.MethodPost, "/v1/admin/assessments/trigger", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "broker down")
}
