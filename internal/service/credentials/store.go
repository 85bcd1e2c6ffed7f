// Package credentials manages encrypted provider API keys and hands decrypted
// candidates to the rotation orchestrator.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fairyhunter13/neurowell-ai-gateway/internal/domain"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/secure"
)

// ValidationPrompt is the minimal-cost prompt used to check a gemini credential.
const ValidationPrompt = "Please respond with the single word: OK"

// Codec seals secrets at rest.
type Codec interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(blob string) ([]byte, error)
}

// CreateInput describes a new credential. IsActive defaults to true.
type CreateInput struct {
	Name      string `json:"name" validate:"required,max=200"`
	Provider  string `json:"provider" validate:"required,oneof=gemini grok other"`
	Secret    string `json:"key" validate:"required"`
	IsActive  *bool  `json:"isActive,omitempty"`
	CreatedBy string `json:"-"`
	Notes     string `json:"notes,omitempty" validate:"max=2000"`
}

// Patch updates the fields that are non-nil.
type Patch struct {
	Name     *string `json:"name,omitempty" validate:"omitempty,max=200"`
	Provider *string `json:"provider,omitempty" validate:"omitempty,oneof=gemini grok other"`
	Secret   *string `json:"key,omitempty"`
	IsActive *bool   `json:"isActive,omitempty"`
	Notes    *string `json:"notes,omitempty" validate:"omitempty,max=2000"`
}

// View is credential metadata plus the decrypted secret when revealed.
type View struct {
	domain.CredentialMetadata
	Secret string `json:"key,omitempty"`
}

// ValidationResult reports whether a stored credential still works.
type ValidationResult struct {
	OK       bool            `json:"ok"`
	Provider domain.Provider `json:"provider"`
	Sample   string          `json:"sample,omitempty"`
	Message  string          `json:"message,omitempty"`
}

// Store is the credential store. It is safe for concurrent use.
type Store struct {
	repo    domain.CredentialRepository
	codec   Codec
	invoker domain.Invoker
	now     func() time.Time
}

// NewStore wires a Store. invoker is only needed for Validate and may be nil.
func NewStore(repo domain.CredentialRepository, codec Codec, invoker domain.Invoker) *Store {
	return &Store{repo: repo, codec: codec, invoker: invoker, now: time.Now}
}

// Create encrypts and persists a credential. The secret is never echoed back.
func (s *Store) Create(ctx context.Context, in CreateInput) (domain.CredentialMetadata, error) {
	name := strings.TrimSpace(in.Name)
	secret := strings.TrimSpace(in.Secret)
	if name == "" || secret == "" {
		return domain.CredentialMetadata{}, fmt.Errorf("op=credentials.Create: %w: name and key are required", domain.ErrInvalidArgument)
	}
	provider, err := domain.ParseProvider(in.Provider)
	if err != nil {
		return domain.CredentialMetadata{}, fmt.Errorf("op=credentials.Create: %w", err)
	}
	blob, err := s.codec.Encrypt(secret)
	if err != nil {
		return domain.CredentialMetadata{}, fmt.Errorf("op=credentials.Create: %w", err)
	}
	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}
	c, err := s.repo.Create(ctx, domain.Credential{
		Name:            name,
		Provider:        provider,
		EncryptedSecret: blob,
		IsActive:        active,
		CreatedBy:       in.CreatedBy,
		CreatedAt:       s.now().UTC(),
		Notes:           in.Notes,
	})
	if err != nil {
		return domain.CredentialMetadata{}, fmt.Errorf("op=credentials.Create: %w", err)
	}
	return c.Metadata(), nil
}

// List returns metadata only.
func (s *Store) List(ctx context.Context) ([]domain.CredentialMetadata, error) {
	cs, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("op=credentials.List: %w", err)
	}
	out := make([]domain.CredentialMetadata, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Metadata())
	}
	return out, nil
}

// Get returns metadata, with the decrypted secret only when reveal is set.
func (s *Store) Get(ctx context.Context, id string, reveal bool) (View, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return View{}, fmt.Errorf("op=credentials.Get: %w", err)
	}
	v := View{CredentialMetadata: c.Metadata()}
	if reveal {
		plain, err := s.codec.Decrypt(c.EncryptedSecret)
		if err != nil {
			return View{}, fmt.Errorf("op=credentials.Get: %w", err)
		}
		v.Secret = string(plain)
	}
	return v, nil
}

// Update applies patch, re-encrypting when a new secret is supplied.
func (s *Store) Update(ctx context.Context, id string, p Patch) (domain.CredentialMetadata, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.CredentialMetadata{}, fmt.Errorf("op=credentials.Update: %w", err)
	}
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return domain.CredentialMetadata{}, fmt.Errorf("op=credentials.Update: %w: name cannot be empty", domain.ErrInvalidArgument)
		}
		c.Name = name
	}
	if p.Provider != nil {
		provider, err := domain.ParseProvider(*p.Provider)
		if err != nil {
			return domain.CredentialMetadata{}, fmt.Errorf("op=credentials.Update: %w", err)
		}
		c.Provider = provider
	}
	if p.Secret != nil {
		secret := strings.TrimSpace(*p.Secret)
		if secret == "" {
			return domain.CredentialMetadata{}, fmt.Errorf("op=credentials.Update: %w: key cannot be empty", domain.ErrInvalidArgument)
		}
		blob, err := s.codec.Encrypt(secret)
		if err != nil {
			return domain.CredentialMetadata{}, fmt.Errorf("op=credentials.Update: %w", err)
		}
		c.EncryptedSecret = blob
	}
	if p.IsActive != nil {
		c.IsActive = *p.IsActive
	}
	if p.Notes != nil {
		c.Notes = *p.Notes
	}
	out, err := s.repo.Update(ctx, c)
	if err != nil {
		return domain.CredentialMetadata{}, fmt.Errorf("op=credentials.Update: %w", err)
	}
	return out.Metadata(), nil
}

// Delete removes a credential permanently. Deactivating via Update is the usual path.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("op=credentials.Delete: %w", err)
	}
	return nil
}

// ActiveCandidates returns up to limit active credentials for provider, newest
// first, with secrets decrypted into guarded memory. Records that fail to
// decrypt are skipped. Callers must Destroy each candidate's Secret.
func (s *Store) ActiveCandidates(ctx context.Context, provider domain.Provider, limit int) ([]domain.Candidate, error) {
	if limit <= 0 {
		return nil, nil
	}
	cs, err := s.repo.ListActive(ctx, provider, limit)
	if err != nil {
		return nil, fmt.Errorf("op=credentials.ActiveCandidates: %w", err)
	}
	out := make([]domain.Candidate, 0, len(cs))
	for _, c := range cs {
		if len(out) == limit {
			break
		}
		plain, err := s.codec.Decrypt(c.EncryptedSecret)
		if err != nil {
			if errors.Is(err, domain.ErrCodecNotConfigured) {
				DestroyAll(out)
				return nil, fmt.Errorf("op=credentials.ActiveCandidates: %w", err)
			}
			slog.WarnContext(ctx, "skipping credential that failed to decrypt",
				slog.String("credential_id", c.ID), slog.Any("error", err))
			continue
		}
		sec, err := secure.NewSecret(plain)
		if err != nil {
			slog.WarnContext(ctx, "skipping credential with empty secret", slog.String("credential_id", c.ID))
			continue
		}
		out = append(out, domain.Candidate{ID: c.ID, Provider: c.Provider, Secret: sec})
	}
	return out, nil
}

// TouchLastUsed stamps the credential as used now.
func (s *Store) TouchLastUsed(ctx context.Context, id string) error {
	if err := s.repo.TouchLastUsed(ctx, id, s.now()); err != nil {
		return fmt.Errorf("op=credentials.TouchLastUsed: %w", err)
	}
	return nil
}

// Validate makes one live call with the stored credential. Providers without a
// validation procedure report OK=false with a message instead of an error.
func (s *Store) Validate(ctx context.Context, id string) (ValidationResult, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("op=credentials.Validate: %w", err)
	}
	res := ValidationResult{Provider: c.Provider}
	if c.Provider != domain.ProviderGemini || s.invoker == nil {
		res.Message = fmt.Sprintf("validation not implemented for provider: %s", c.Provider)
		return res, nil
	}
	plain, err := s.codec.Decrypt(c.EncryptedSecret)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("op=credentials.Validate: %w", err)
	}
	sec, err := secure.NewSecret(plain)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("op=credentials.Validate: %w", err)
	}
	defer sec.Destroy()

	var reply string
	callErr := sec.Use(func(key []byte) error {
		var err error
		reply, err = s.invoker.Invoke(ctx, key, ValidationPrompt)
		return err
	})
	if callErr != nil {
		res.Message = callErr.Error()
		return res, nil
	}
	res.OK = true
	res.Sample = truncate(strings.TrimSpace(reply), 200)
	return res, nil
}

// DestroyAll wipes every candidate secret.
func DestroyAll(cands []domain.Candidate) {
	for _, c := range cands {
		c.Secret.Destroy()
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
