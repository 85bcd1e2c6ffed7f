package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPool_InvalidDSN(t *testing.T) {
	_, err := NewPool(context.Background(), "://bad")
	assert.Error(t, err)
}

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@h:5432/db?sslmode=disable", MigrateURL("postgres://u:p@h:5432/db?sslmode=disable"))
	assert.Equal(t, "pgx5://h/db", MigrateURL("postgresql://h/db"))
	assert.Equal(t, "pgx5://h/db", MigrateURL("pgx5://h/db"))
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err)
	assert.Len(t, entries, 6)
}

func TestCleanupService_CleanupOldMessages(t *testing.T) {
	pool := &poolStub{execTag: "DELETE 7"}
	svc := NewCleanupService(pool, 30)
	fixed := time.Date(2026, 5, 31, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	n, err := svc.CleanupOldMessages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	require.Len(t, pool.execs, 1)
	assert.Equal(t, []any{fixed.AddDate(0, 0, -30)}, pool.execs[0].args)

	pool.execErr = assert.AnError
	_, err = svc.CleanupOldMessages(context.Background())
	assert.Error(t, err)
}

func TestCleanupService_DefaultsAndStops(t *testing.T) {
	svc := NewCleanupService(&poolStub{execTag: "DELETE 0"}, 0)
	assert.Equal(t, 90, svc.RetentionDays)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.RunPeriodic(ctx, time.Hour)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunPeriodic did not stop")
	}
}
