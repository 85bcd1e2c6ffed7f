package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fairyhunter13/neurowell-ai-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/domain"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/service/credentials"
)

// CredentialAdmin is the credential store as seen by the admin API.
type CredentialAdmin interface {
	Create(ctx context.Context, in credentials.CreateInput) (domain.CredentialMetadata, error)
	List(ctx context.Context) ([]domain.CredentialMetadata, error)
	Get(ctx context.Context, id string, reveal bool) (credentials.View, error)
	Update(ctx context.Context, id string, p credentials.Patch) (domain.CredentialMetadata, error)
	Delete(ctx context.Context, id string) error
	Validate(ctx context.Context, id string) (credentials.ValidationResult, error)
}

// MountAdmin registers the /v1/admin routes on r. The caller applies auth.
func (s *Server) MountAdmin(r chi.Router) {
	r.Route("/v1/admin", func(ar chi.Router) {
		ar.Get("/keys", s.ListKeysHandler())
		ar.Post("/keys", s.CreateKeyHandler())
		ar.Get("/keys/{id}", s.GetKeyHandler())
		ar.Put("/keys/{id}", s.UpdateKeyHandler())
		ar.Delete("/keys/{id}", s.DeleteKeyHandler())
		ar.Post("/keys/{id}/validate", s.ValidateKeyHandler())
		ar.Get("/metrics", s.MetricsSnapshotHandler())
		ar.Post("/assessments/trigger", s.TriggerAssessmentHandler())
	})
}

func (s *Server) credentialsOr503(w http.ResponseWriter, r *http.Request) bool {
	if s.Credentials == nil {
		unavailable(w, r, "credential store")
		return false
	}
	return true
}

// ListKeysHandler serves GET /v1/admin/keys. Secrets are never included.
func (s *Server) ListKeysHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.credentialsOr503(w, r) {
			return
		}
		keys, err := s.Credentials.List(r.Context())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if keys == nil {
			keys = []domain.CredentialMetadata{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
	}
}

// CreateKeyHandler serves POST /v1/admin/keys.
func (s *Server) CreateKeyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.credentialsOr503(w, r) {
			return
		}
		var in credentials.CreateInput
		if err := decodeJSON(w, r, s.maxBody(), &in); err != nil {
			writeDecodeError(w, r, err)
			return
		}
		in.CreatedBy = adminFrom(r.Context())
		meta, err := s.Credentials.Create(r.Context(), in)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		observability.LoggerFromContext(r.Context()).Info("credential created",
			"credential_id", meta.ID, "provider", string(meta.Provider), "created_by", in.CreatedBy)
		writeJSON(w, http.StatusCreated, meta)
	}
}

// GetKeyHandler serves GET /v1/admin/keys/{id}?reveal=true.
func (s *Server) GetKeyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.credentialsOr503(w, r) {
			return
		}
		reveal, _ := strconv.ParseBool(r.URL.Query().Get("reveal"))
		v, err := s.Credentials.Get(r.Context(), chi.URLParam(r, "id"), reveal)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if reveal {
			observability.LoggerFromContext(r.Context()).Warn("credential secret revealed",
				"credential_id", v.ID, "admin", adminFrom(r.Context()))
			w.Header().Set("Cache-Control", "no-store")
		}
		writeJSON(w, http.StatusOK, v)
	}
}

// UpdateKeyHandler serves PUT /v1/admin/keys/{id}.
func (s *Server) UpdateKeyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.credentialsOr503(w, r) {
			return
		}
		var p credentials.Patch
		if err := decodeJSON(w, r, s.maxBody(), &p); err != nil {
			writeDecodeError(w, r, err)
			return
		}
		meta, err := s.Credentials.Update(r.Context(), chi.URLParam(r, "id"), p)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, meta)
	}
}

// DeleteKeyHandler serves DELETE /v1/admin/keys/{id}.
func (s *Server) DeleteKeyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.credentialsOr503(w, r) {
			return
		}
		if err := s.Credentials.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, r, err, nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ValidateKeyHandler serves POST /v1/admin/keys/{id}/validate.
func (s *Server) ValidateKeyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.credentialsOr503(w, r) {
			return
		}
		res, err := s.Credentials.Validate(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// MetricsSnapshotHandler serves GET /v1/admin/metrics from the rotation sink.
func (s *Server) MetricsSnapshotHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Metrics == nil {
			unavailable(w, r, "metrics sink")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"counters": s.Metrics.Snapshot()})
	}
}

// TriggerAssessmentHandler serves POST /v1/admin/assessments/trigger by
// enqueueing an on-demand request for the worker.
func (s *Server) TriggerAssessmentHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Queue == nil {
			unavailable(w, r, "queue")
			return
		}
		var body struct {
			Theme        string `json:"theme" validate:"max=200"`
			NumQuestions int    `json:"numQuestions" validate:"min=0,max=20"`
		}
		if r.ContentLength != 0 {
			if err := decodeJSON(w, r, s.maxBody(), &body); err != nil {
				writeDecodeError(w, r, err)
				return
			}
		}
		req := domain.AssessmentRequest{
			Theme:        body.Theme,
			NumQuestions: body.NumQuestions,
			RequestedBy:  adminFrom(r.Context()),
			RequestedAt:  time.Now().UTC(),
		}
		if err := s.Queue.EnqueueAssessment(r.Context(), req); err != nil {
			writeError(w, r, fmt.Errorf("enqueue: %w", err), nil)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued", "request": req})
	}
}
