package credentials

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/neurowell-ai-gateway/internal/adapter/secretcodec"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/domain"
)

// memRepo is an in-memory domain.CredentialRepository.
type memRepo struct {
	mu      sync.Mutex
	rows    map[string]domain.Credential
	seq     int
	listErr error
	touched []string
}

func newMemRepo() *memRepo { return &memRepo{rows: map[string]domain.Credential{}} }

func (m *memRepo) Create(_ context.Context, c domain.Credential) (domain.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	c.ID = "k" + strconv.Itoa(m.seq)
	c.CreatedAt = c.CreatedAt.Add(time.Duration(m.seq) * time.Second)
	m.rows[c.ID] = c
	return c, nil
}

func (m *memRepo) sorted() []domain.Credential {
	out := make([]domain.Credential, 0, len(m.rows))
	for _, c := range m.rows {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *memRepo) List(context.Context) ([]domain.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(), m.listErr
}

func (m *memRepo) Get(_ context.Context, id string) (domain.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
	if !ok {
		return domain.Credential{}, domain.ErrNotFound
	}
	return c, nil
}

func (m *memRepo) Update(_ context.Context, c domain.Credential) (domain.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[c.ID]; !ok {
		return domain.Credential{}, domain.ErrNotFound
	}
	m.rows[c.ID] = c
	return c, nil
}

func (m *memRepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.rows, id)
	return nil
}

func (m *memRepo) ListActive(_ context.Context, p domain.Provider, limit int) ([]domain.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []domain.Credential
	for _, c := range m.sorted() {
		if c.Provider == p && c.IsActive && len(out) < limit {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memRepo) TouchLastUsed(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.LastUsedAt = &at
	m.rows[id] = c
	m.touched = append(m.touched, id)
	return nil
}

type invokerMock struct{ mock.Mock }

func (m *invokerMock) Invoke(ctx context.Context, secret []byte, prompt string) (string, error) {
	args := m.Called(ctx, string(secret), prompt)
	return args.String(0), args.Error(1)
}

func newStore(t *testing.T, inv domain.Invoker) (*Store, *memRepo) {
	t.Helper()
	codec, err := secretcodec.New("unit-test-key")
	require.NoError(t, err)
	repo := newMemRepo()
	return NewStore(repo, codec, inv), repo
}

func secretOf(t *testing.T, c domain.Candidate) string {
	t.Helper()
	var s string
	require.NoError(t, c.Secret.Use(func(b []byte) error { s = string(b); return nil }))
	return s
}

func TestStore_CreateEncryptsAndHidesSecret(t *testing.T) {
	s, repo := newStore(t, nil)
	md, err := s.Create(context.Background(), CreateInput{Name: " primary ", Provider: "gemini", Secret: "AIza-1", Notes: "n"})
	require.NoError(t, err)
	assert.Equal(t, "primary", md.Name)
	assert.True(t, md.IsActive)

	stored := repo.rows[md.ID]
	assert.NotEqual(t, "AIza-1", stored.EncryptedSecret)
	assert.Contains(t, stored.EncryptedSecret, ":")
}

func TestStore_CreateValidation(t *testing.T) {
	s, _ := newStore(t, nil)
	_, err := s.Create(context.Background(), CreateInput{Name: "", Provider: "gemini", Secret: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = s.Create(context.Background(), CreateInput{Name: "a", Provider: "openai", Secret: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = s.Create(context.Background(), CreateInput{Name: "a", Provider: "gemini", Secret: "  "})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestStore_CreateWithoutMasterKey(t *testing.T) {
	codec, err := secretcodec.New("")
	require.NoError(t, err)
	s := NewStore(newMemRepo(), codec, nil)
	_, err = s.Create(context.Background(), CreateInput{Name: "a", Provider: "gemini", Secret: "x"})
	assert.ErrorIs(t, err, domain.ErrCodecNotConfigured)
}

func TestStore_GetRevealsOnlyWhenAsked(t *testing.T) {
	s, _ := newStore(t, nil)
	md, err := s.Create(context.Background(), CreateInput{Name: "a", Provider: "gemini", Secret: "AIza-2"})
	require.NoError(t, err)

	v, err := s.Get(context.Background(), md.ID, false)
	require.NoError(t, err)
	assert.Empty(t, v.Secret)

	v, err = s.Get(context.Background(), md.ID, true)
	require.NoError(t, err)
	assert.Equal(t, "AIza-2", v.Secret)

	_, err = s.Get(context.Background(), "missing", true)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_UpdateReencryptsSecret(t *testing.T) {
	s, repo := newStore(t, nil)
	md, err := s.Create(context.Background(), CreateInput{Name: "a", Provider: "gemini", Secret: "old"})
	require.NoError(t, err)
	before := repo.rows[md.ID].EncryptedSecret

	inactive := false
	notes := "rotated"
	newKey := "new"
	out, err := s.Update(context.Background(), md.ID, Patch{Secret: &newKey, IsActive: &inactive, Notes: &notes})
	require.NoError(t, err)
	assert.False(t, out.IsActive)
	assert.Equal(t, "rotated", out.Notes)
	assert.NotEqual(t, before, repo.rows[md.ID].EncryptedSecret)

	v, err := s.Get(context.Background(), md.ID, true)
	require.NoError(t, err)
	assert.Equal(t, "new", v.Secret)

	afterRotate := repo.rows[md.ID].EncryptedSecret
	name := "renamed"
	_, err = s.Update(context.Background(), md.ID, Patch{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, afterRotate, repo.rows[md.ID].EncryptedSecret, "secret untouched without key in patch")

	bad := "nope"
	_, err = s.Update(context.Background(), md.ID, Patch{Provider: &bad})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = s.Update(context.Background(), "missing", Patch{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_ListAndDelete(t *testing.T) {
	s, _ := newStore(t, nil)
	a, _ := s.Create(context.Background(), CreateInput{Name: "a", Provider: "gemini", Secret: "1"})
	_, _ = s.Create(context.Background(), CreateInput{Name: "b", Provider: "grok", Secret: "2"})

	list, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].Name)

	require.NoError(t, s.Delete(context.Background(), a.ID))
	assert.ErrorIs(t, s.Delete(context.Background(), a.ID), domain.ErrNotFound)
}

func TestStore_ActiveCandidatesOrderAndLimit(t *testing.T) {
	s, _ := newStore(t, nil)
	ctx := context.Background()
	off := false
	for i := 1; i <= 8; i++ {
		in := CreateInput{Name: "k", Provider: "gemini", Secret: "secret-" + strconv.Itoa(i)}
		if i == 8 {
			in.IsActive = &off
		}
		_, err := s.Create(ctx, in)
		require.NoError(t, err)
	}
	_, _ = s.Create(ctx, CreateInput{Name: "g", Provider: "grok", Secret: "grok"})

	cands, err := s.ActiveCandidates(ctx, domain.ProviderGemini, 5)
	require.NoError(t, err)
	defer DestroyAll(cands)
	require.Len(t, cands, 5)
	assert.Equal(t, "secret-7", secretOf(t, cands[0]))
	assert.Equal(t, "secret-3", secretOf(t, cands[4]))

	none, err := s.ActiveCandidates(ctx, domain.ProviderGemini, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_ActiveCandidatesSkipsUndecryptable(t *testing.T) {
	s, repo := newStore(t, nil)
	ctx := context.Background()
	good, _ := s.Create(ctx, CreateInput{Name: "good", Provider: "gemini", Secret: "ok"})
	bad, _ := s.Create(ctx, CreateInput{Name: "bad", Provider: "gemini", Secret: "x"})
	c := repo.rows[bad.ID]
	c.EncryptedSecret = "garbage"
	repo.rows[bad.ID] = c

	cands, err := s.ActiveCandidates(ctx, domain.ProviderGemini, 5)
	require.NoError(t, err)
	defer DestroyAll(cands)
	require.Len(t, cands, 1)
	assert.Equal(t, good.ID, cands[0].ID)
}

func TestStore_ActiveCandidatesRepoError(t *testing.T) {
	s, repo := newStore(t, nil)
	repo.listErr = errors.New("db down")
	_, err := s.ActiveCandidates(context.Background(), domain.ProviderGemini, 5)
	assert.Error(t, err)
}

func TestStore_TouchLastUsed(t *testing.T) {
	s, repo := newStore(t, nil)
	md, _ := s.Create(context.Background(), CreateInput{Name: "a", Provider: "gemini", Secret: "1"})
	require.NoError(t, s.TouchLastUsed(context.Background(), md.ID))
	assert.Equal(t, []string{md.ID}, repo.touched)
	assert.NotNil(t, repo.rows[md.ID].LastUsedAt)
	assert.ErrorIs(t, s.TouchLastUsed(context.Background(), "missing"), domain.ErrNotFound)
}

func TestStore_ValidateGemini(t *testing.T) {
	inv := &invokerMock{}
	s, _ := newStore(t, inv)
	md, _ := s.Create(context.Background(), CreateInput{Name: "a", Provider: "gemini", Secret: "AIza-ok"})

	inv.On("Invoke", mock.Anything, "AIza-ok", ValidationPrompt).Return(" OK\n", nil).Once()
	res, err := s.Validate(context.Background(), md.ID)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "OK", res.Sample)
	assert.Equal(t, domain.ProviderGemini, res.Provider)

	inv.On("Invoke", mock.Anything, "AIza-ok", ValidationPrompt).
		Return("", domain.NewProviderError(domain.KindAuth, 403, errors.New("API key not valid"))).Once()
	res, err = s.Validate(context.Background(), md.ID)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Contains(t, res.Message, "auth")
	inv.AssertExpectations(t)
}

func TestStore_ValidateUnsupportedProvider(t *testing.T) {
	inv := &invokerMock{}
	s, _ := newStore(t, inv)
	md, _ := s.Create(context.Background(), CreateInput{Name: "a", Provider: "grok", Secret: "xai"})

	res, err := s.Validate(context.Background(), md.ID)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, "validation not implemented for provider: grok", res.Message)
	inv.AssertNotCalled(t, "Invoke", mock.Anything, mock.Anything, mock.Anything)

	_, err = s.Validate(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
