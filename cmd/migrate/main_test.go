package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

func envMap(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestParseArgs(t *testing.T) {
	t.Parallel()

	opts, err := parseArgs([]string{"-direction", " DOWN ", "-steps", "2", "-dsn", " postgres://x "}, envMap(nil))
	require.NoError(t, err)
	assert.Equal(t, migrateOptions{direction: "down", steps: 2, dsn: "postgres://x"}, opts)

	opts, err = parseArgs(nil, envMap(map[string]string{envPostgresDSN: "postgres://from-env"}))
	require.NoError(t, err)
	assert.Equal(t, "up", opts.direction)
	assert.Equal(t, "postgres://from-env", opts.dsn)
}

func TestParseArgs_Errors(t *testing.T) {
	t.Parallel()

	cases := map[string][]string{
		"missing dsn":       nil,
		"bad direction":     {"-dsn", "postgres://x", "-direction", "sideways"},
		"negative steps":    {"-dsn", "postgres://x", "-steps", "-1"},
		"unknown flag":      {"-dsn", "postgres://x", "-force"},
		"non-numeric steps": {"-dsn", "postgres://x", "-steps", "all"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parseArgs(args, envMap(nil))
			require.Error(t, err)
		})
	}
}

type fakeMigrator struct {
	upSteps   []int
	downSteps []int
	state     postgres.MigrationState
	err       error
}

func (f *fakeMigrator) MigrateUp(_ context.Context, steps int) error {
	f.upSteps = append(f.upSteps, steps)
	return f.err
}

func (f *fakeMigrator) MigrateDown(_ context.Context, steps int) error {
	f.downSteps = append(f.downSteps, steps)
	return f.err
}

func (f *fakeMigrator) MigrationStatus(context.Context) (postgres.MigrationState, error) {
	return f.state, nil
}

func TestRun_Directions(t *testing.T) {
	t.Parallel()

	store := &fakeMigrator{state: postgres.MigrationState{Version: 3, Applied: 3}}
	var out bytes.Buffer

	require.NoError(t, run(context.Background(), store, migrateOptions{direction: "up"}, &out))
	require.NoError(t, run(context.Background(), store, migrateOptions{direction: "down", steps: 1}, &out))
	require.NoError(t, run(context.Background(), store, migrateOptions{direction: "status"}, &out))

	assert.Equal(t, []int{0}, store.upSteps)
	assert.Equal(t, []int{1}, store.downSteps)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Equal(t, []string{
		"migrate up ok: version=3 applied=3",
		"migrate down ok: version=3 applied=3",
		"migration status: version=3 applied=3",
	}, lines)
}

func TestRun_PropagatesErrors(t *testing.T) {
	t.Parallel()

	store := &fakeMigrator{err: errors.New("lock timeout")}
	err := run(context.Background(), store, migrateOptions{direction: "up"}, &bytes.Buffer{})
	require.ErrorContains(t, err, "migrate up failed")
}

func TestRun_PostgresRoundTrip(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("STOREFRONT_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("STOREFRONT_POSTGRES_TEST_DSN is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		t.Skipf("postgres is not available: %v", err)
	}
	defer store.Close()

	var out bytes.Buffer
	require.NoError(t, run(ctx, store, migrateOptions{direction: "up"}, &out))
	require.NoError(t, run(ctx, store, migrateOptions{direction: "status"}, &out))
	assert.Contains(t, out.String(), "migration status: version=")
}
