// Package commands implements the keyctl subcommands.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/zalando/go-keyring"

	"github.com/fairyhunter13/neurowell-ai-gateway/internal/adapter/ai/gemini"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/adapter/secretcodec"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/config"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/domain"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/service/credentials"
)

// Keyring entry holding the master key on operator machines.
const (
	KeyringService = "neurowell-ai-gateway"
	KeyringAccount = "master-key"
)

// Admin is the credential store surface keyctl drives.
type Admin interface {
	Create(ctx context.Context, in credentials.CreateInput) (domain.CredentialMetadata, error)
	List(ctx context.Context) ([]domain.CredentialMetadata, error)
	Get(ctx context.Context, id string, reveal bool) (credentials.View, error)
	Update(ctx context.Context, id string, p credentials.Patch) (domain.CredentialMetadata, error)
	Delete(ctx context.Context, id string) error
	Validate(ctx context.Context, id string) (credentials.ValidationResult, error)
}

// Env carries the process dependencies so tests can swap them.
type Env struct {
	Out io.Writer
	In  io.Reader
	// Open returns the store and a release func.
	Open func(ctx context.Context) (Admin, func(), error)
	// Timeout bounds each subcommand.
	Timeout time.Duration
}

// DefaultEnv talks to the database named by DB_URL.
func DefaultEnv() *Env {
	return &Env{Out: os.Stdout, In: os.Stdin, Open: openStore, Timeout: time.Minute}
}

// NewRootCommand builds the keyctl command tree.
func NewRootCommand(env *Env) *cobra.Command {
	root := &cobra.Command{
		Use:   "keyctl",
		Short: "Manage stored AI provider credentials",
		Long: `keyctl creates, lists, rotates and validates the provider API keys the
gateway rotates through. Secrets are encrypted with the master key from
MASTER_KEY, or from the OS keyring when the variable is unset.`,
		SilenceUsage: true,
	}
	root.SetOut(env.Out)
	root.SetIn(env.In)
	root.AddCommand(
		newListCommand(env),
		newAddCommand(env),
		newShowCommand(env),
		newUpdateCommand(env),
		newDeleteCommand(env),
		newValidateCommand(env),
		newMasterKeyCommand(),
	)
	return root
}

// withStore opens the store for one command invocation.
func (e *Env) withStore(cmd *cobra.Command, fn func(ctx context.Context, a Admin) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}
	a, release, err := e.Open(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx, a)
}

func openStore(ctx context.Context) (Admin, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	material, err := resolveMasterKey(cfg)
	if err != nil {
		return nil, nil, err
	}
	codec, err := secretcodec.New(material)
	if err != nil {
		return nil, nil, err
	}
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	store := credentials.NewStore(postgres.NewCredentialRepo(pool), codec, gemini.New(cfg))
	return store, pool.Close, nil
}

// resolveMasterKey prefers the environment and falls back to the OS keyring.
// Without either the store refuses secret operations with
// domain.ErrCodecNotConfigured.
func resolveMasterKey(cfg config.Config) (string, error) {
	if m := cfg.MasterKeyMaterial(); m != "" {
		return m, nil
	}
	m, err := keyring.Get(KeyringService, KeyringAccount)
	switch {
	case err == nil:
		return m, nil
	case errors.Is(err, keyring.ErrNotFound):
		return "", nil
	default:
		// Headless hosts usually have no Secret Service.
		slog.Warn("keyring unavailable", slog.Any("error", err))
		return "", nil
	}
}
