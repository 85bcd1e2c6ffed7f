package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/neurowell-ai-gateway/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	t.Setenv("APP_ENV", "test")
	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func TestNewCore_WiresServices(t *testing.T) {
	cfg := testConfig(t)
	cfg.GeminiAPIKey = "env-key"
	cfg.MasterKey = "0123456789abcdef0123456789abcdef"

	c, err := NewCore(cfg, nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, c.Store)
	assert.NotNil(t, c.Orchestrator)
	assert.NotNil(t, c.Secondary)
	assert.Same(t, c.Orchestrator, c.Chat.Resolver)
	assert.Equal(t, cfg.ChatHistoryWindow, c.Chat.Window)
	assert.NotEmpty(t, c.Chat.Preamble)
	require.NotNil(t, c.envKey)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c.Close(ctx)
}

func TestNewCore_WithoutEnvKey(t *testing.T) {
	c, err := NewCore(testConfig(t), nil, nil)
	require.NoError(t, err)
	assert.Nil(t, c.envKey)
	c.Close(context.Background())
}

func TestNewCore_BadPromptsFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.PromptsFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := NewCore(cfg, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op=app.NewCore")
}
