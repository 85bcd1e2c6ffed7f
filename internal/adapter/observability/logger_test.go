package observability

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/neurowell-ai-gateway/internal/config"
)

func TestSetupLogger_DevAndProd(t *testing.T) {
	require.NotNil(t, SetupLogger(config.Config{AppEnv: "dev", OTELServiceName: "svc"}))
	require.NotNil(t, SetupLogger(config.Config{AppEnv: "prod", OTELServiceName: "svc"}))
}

func TestLogger_LevelsAndRedaction(t *testing.T) {
	var buf bytes.Buffer
	lg := newLogger(&buf, config.Config{AppEnv: "prod", OTELServiceName: "svc"})
	lg.Debug("hidden")
	assert.Empty(t, buf.String())

	lg.Info("credential created", slog.String("api_key", "AIza-secret"), slog.String("credential_id", "k1"))
	out := buf.String()
	assert.Contains(t, out, `"service":"svc"`)
	assert.Contains(t, out, `"credential_id":"k1"`)
	assert.NotContains(t, out, "AIza-secret")

	buf.Reset()
	dev := newLogger(&buf, config.Config{AppEnv: "dev"})
	dev.Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}
