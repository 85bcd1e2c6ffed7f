package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/neurowell-ai-gateway/internal/domain"
)

func credentialRow(id string, created time.Time, lastUsed any) []any {
	return []any{id, "key-" + id, "gemini", "iv:tag:ct", true, "admin", created, lastUsed, "notes"}
}

func TestCredentialRepo_Create(t *testing.T) {
	pool := &poolStub{}
	repo := NewCredentialRepo(pool)

	c, err := repo.Create(context.Background(), domain.Credential{Name: "primary", Provider: domain.ProviderGemini, EncryptedSecret: "iv:tag:ct", IsActive: true})
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)
	assert.False(t, c.CreatedAt.IsZero())
	require.Len(t, pool.execs, 1)
	assert.Contains(t, pool.execs[0].sql, "INSERT INTO api_keys")
	assert.Equal(t, "gemini", pool.execs[0].args[2])
	assert.Equal(t, "iv:tag:ct", pool.execs[0].args[3])

	pool.execErr = assert.AnError
	_, err = repo.Create(context.Background(), domain.Credential{Name: "x", Provider: domain.ProviderGemini})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op=credential.create")
}

func TestCredentialRepo_Get(t *testing.T) {
	now := time.Now().UTC()
	pool := &poolStub{row: rowStub{vals: credentialRow("k1", now, now)}}
	repo := NewCredentialRepo(pool)

	c, err := repo.Get(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, "k1", c.ID)
	assert.Equal(t, domain.ProviderGemini, c.Provider)
	require.NotNil(t, c.LastUsedAt)
	assert.Equal(t, now, *c.LastUsedAt)

	pool.row = rowStub{err: pgx.ErrNoRows}
	_, err = repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	pool.row = rowStub{err: assert.AnError}
	_, err = repo.Get(context.Background(), "k1")
	assert.ErrorIs(t, err, assert.AnError)
	assert.NotErrorIs(t, err, domain.ErrNotFound)
}

func TestCredentialRepo_ListActive(t *testing.T) {
	now := time.Now().UTC()
	pool := &poolStub{rowsData: [][]any{
		credentialRow("new", now, nil),
		credentialRow("old", now.Add(-time.Hour), nil),
	}}
	repo := NewCredentialRepo(pool)

	got, err := repo.ListActive(context.Background(), domain.ProviderGemini, 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].ID)
	assert.Nil(t, got[0].LastUsedAt)

	require.Len(t, pool.query, 1)
	q := pool.query[0]
	assert.Contains(t, q.sql, "is_active")
	assert.Contains(t, q.sql, "ORDER BY created_at DESC")
	assert.Contains(t, q.sql, "LIMIT $2")
	assert.Equal(t, []any{"gemini", 5}, q.args)
}

func TestCredentialRepo_ListErrors(t *testing.T) {
	repo := NewCredentialRepo(&poolStub{queryErr: assert.AnError})
	_, err := repo.List(context.Background())
	assert.ErrorIs(t, err, assert.AnError)

	repo = NewCredentialRepo(&poolStub{rowsErr: errors.New("conn reset")})
	_, err = repo.ListActive(context.Background(), domain.ProviderGemini, 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op=credential.list_active")
}

func TestCredentialRepo_Update(t *testing.T) {
	now := time.Now().UTC()
	pool := &poolStub{row: rowStub{vals: credentialRow("k1", now, nil)}}
	repo := NewCredentialRepo(pool)

	c, err := repo.Update(context.Background(), domain.Credential{ID: "k1", Name: "renamed", Provider: domain.ProviderGemini})
	require.NoError(t, err)
	assert.Equal(t, "k1", c.ID)
	assert.True(t, strings.HasPrefix(pool.rows[0].sql, "UPDATE api_keys"))

	pool.row = rowStub{err: pgx.ErrNoRows}
	_, err = repo.Update(context.Background(), domain.Credential{ID: "nope"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCredentialRepo_Delete(t *testing.T) {
	pool := &poolStub{execTag: "DELETE 1"}
	repo := NewCredentialRepo(pool)
	require.NoError(t, repo.Delete(context.Background(), "k1"))

	pool.execTag = "DELETE 0"
	assert.ErrorIs(t, repo.Delete(context.Background(), "k1"), domain.ErrNotFound)

	pool.execErr = assert.AnError
	assert.ErrorIs(t, repo.Delete(context.Background(), "k1"), assert.AnError)
}

func TestCredentialRepo_TouchLastUsed(t *testing.T) {
	pool := &poolStub{}
	repo := NewCredentialRepo(pool)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, repo.TouchLastUsed(context.Background(), "k1", at))
	require.Len(t, pool.execs, 1)
	assert.Equal(t, []any{"k1", at}, pool.execs[0].args)

	pool.execErr = assert.AnError
	assert.Error(t, repo.TouchLastUsed(context.Background(), "k1", at))
}
