package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/neurowell-ai-gateway/internal/domain"
)

const credentialColumns = `id, name, provider, key_encrypted, is_active, created_by, created_at, last_used_at, notes`

// CredentialRepo persists provider credentials. Secrets arrive already encrypted.
type CredentialRepo struct{ Pool PgxPool }

// NewCredentialRepo constructs a CredentialRepo with the given pool.
func NewCredentialRepo(p PgxPool) *CredentialRepo { return &CredentialRepo{Pool: p} }

// Create inserts c and returns it with id and created_at populated.
func (r *CredentialRepo) Create(ctx domain.Context, c domain.Credential) (domain.Credential, error) {
	ctx, span := otel.Tracer("repo.credentials").Start(ctx, "credentials.Create")
	defer span.End()
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	span.SetAttributes(attribute.String("credential.id", c.ID), attribute.String("credential.provider", string(c.Provider)))
	q := `INSERT INTO api_keys (` + credentialColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	if _, err := r.Pool.Exec(ctx, q, c.ID, c.Name, string(c.Provider), c.EncryptedSecret, c.IsActive, c.CreatedBy, c.CreatedAt, c.LastUsedAt, c.Notes); err != nil {
		return domain.Credential{}, fmt.Errorf("op=credential.create: %w", err)
	}
	return c, nil
}

// List returns every credential, newest first.
func (r *CredentialRepo) List(ctx domain.Context) ([]domain.Credential, error) {
	ctx, span := otel.Tracer("repo.credentials").Start(ctx, "credentials.List")
	defer span.End()
	rows, err := r.Pool.Query(ctx, `SELECT `+credentialColumns+` FROM api_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("op=credential.list: %w", err)
	}
	defer rows.Close()
	out, err := scanCredentials(rows)
	if err != nil {
		return nil, fmt.Errorf("op=credential.list: %w", err)
	}
	return out, nil
}

// Get loads a credential by id.
func (r *CredentialRepo) Get(ctx domain.Context, id string) (domain.Credential, error) {
	ctx, span := otel.Tracer("repo.credentials").Start(ctx, "credentials.Get")
	defer span.End()
	c, err := scanCredential(r.Pool.QueryRow(ctx, `SELECT `+credentialColumns+` FROM api_keys WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Credential{}, fmt.Errorf("op=credential.get: %w", domain.ErrNotFound)
		}
		return domain.Credential{}, fmt.Errorf("op=credential.get: %w", err)
	}
	return c, nil
}

// Update overwrites the mutable columns of c and returns the stored row.
func (r *CredentialRepo) Update(ctx domain.Context, c domain.Credential) (domain.Credential, error) {
	ctx, span := otel.Tracer("repo.credentials").Start(ctx, "credentials.Update")
	defer span.End()
	q := `UPDATE api_keys SET name=$2, provider=$3, key_encrypted=$4, is_active=$5, notes=$6 WHERE id=$1 RETURNING ` + credentialColumns
	out, err := scanCredential(r.Pool.QueryRow(ctx, q, c.ID, c.Name, string(c.Provider), c.EncryptedSecret, c.IsActive, c.Notes))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Credential{}, fmt.Errorf("op=credential.update: %w", domain.ErrNotFound)
		}
		return domain.Credential{}, fmt.Errorf("op=credential.update: %w", err)
	}
	return out, nil
}

// Delete removes a credential permanently.
func (r *CredentialRepo) Delete(ctx domain.Context, id string) error {
	ctx, span := otel.Tracer("repo.credentials").Start(ctx, "credentials.Delete")
	defer span.End()
	tag, err := r.Pool.Exec(ctx, `DELETE FROM api_keys WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("op=credential.delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=credential.delete: %w", domain.ErrNotFound)
	}
	return nil
}

// ListActive returns up to limit active credentials for provider, most recently created first.
func (r *CredentialRepo) ListActive(ctx domain.Context, provider domain.Provider, limit int) ([]domain.Credential, error) {
	ctx, span := otel.Tracer("repo.credentials").Start(ctx, "credentials.ListActive")
	defer span.End()
	span.SetAttributes(attribute.String("credential.provider", string(provider)), attribute.Int("limit", limit))
	q := `SELECT ` + credentialColumns + ` FROM api_keys WHERE provider=$1 AND is_active ORDER BY created_at DESC LIMIT $2`
	rows, err := r.Pool.Query(ctx, q, string(provider), limit)
	if err != nil {
		return nil, fmt.Errorf("op=credential.list_active: %w", err)
	}
	defer rows.Close()
	out, err := scanCredentials(rows)
	if err != nil {
		return nil, fmt.Errorf("op=credential.list_active: %w", err)
	}
	return out, nil
}

// TouchLastUsed stamps last_used_at.
func (r *CredentialRepo) TouchLastUsed(ctx domain.Context, id string, at time.Time) error {
	ctx, span := otel.Tracer("repo.credentials").Start(ctx, "credentials.TouchLastUsed")
	defer span.End()
	if _, err := r.Pool.Exec(ctx, `UPDATE api_keys SET last_used_at=$2 WHERE id=$1`, id, at.UTC()); err != nil {
		return fmt.Errorf("op=credential.touch: %w", err)
	}
	return nil
}

func scanCredential(row pgx.Row) (domain.Credential, error) {
	var c domain.Credential
	var provider string
	var lastUsed *time.Time
	if err := row.Scan(&c.ID, &c.Name, &provider, &c.EncryptedSecret, &c.IsActive, &c.CreatedBy, &c.CreatedAt, &lastUsed, &c.Notes); err != nil {
		return domain.Credential{}, err
	}
	c.Provider = domain.Provider(provider)
	c.LastUsedAt = lastUsed
	return c, nil
}

func scanCredentials(rows pgx.Rows) ([]domain.Credential, error) {
	var out []domain.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
