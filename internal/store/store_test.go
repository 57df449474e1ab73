package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/blueberrycongee/agentgate/internal/provider"
	"github.com/blueberrycongee/agentgate/internal/ratelimit"
	"github.com/blueberrycongee/agentgate/pkg/types"
)

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "agentgate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// setupPostgresIfAvailable starts a PostgreSQL container. It returns nil
// when Docker is unavailable so the suite degrades to the embedded stores.
func setupPostgresIfAvailable(t *testing.T) Store {
	t.Helper()
	if testing.Short() {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			t.Logf("docker setup failed (panic recovered): %v", r)
		}
	}()

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "agentgate",
				"POSTGRES_PASSWORD": "agentgate",
				"POSTGRES_DB":       "agentgate",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Logf("failed to start postgres container: %v", err)
		return nil
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Logf("failed to get container host: %v", err)
		return nil
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Logf("failed to get container port: %v", err)
		return nil
	}

	cfg := DefaultConfig()
	cfg.Driver = DriverPostgres
	cfg.DSN = fmt.Sprintf("host=%s port=%s user=agentgate password=agentgate dbname=agentgate sslmode=disable",
		host, port.Port())
	s, err := Open(ctx, cfg)
	if err != nil {
		t.Logf("failed to open postgres store: %v", err)
		return nil
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	out := map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": newSQLiteStore(t),
	}
	if pg := setupPostgresIfAvailable(t); pg != nil {
		out["postgres"] = pg
	} else {
		t.Log("postgres not available, running embedded stores only")
	}
	return out
}

func TestStores(t *testing.T) {
	for name, s := range stores(t) {
		s := s
		t.Run(name, func(t *testing.T) {
			t.Run("JobLifecycle", func(t *testing.T) { testJobLifecycle(t, s) })
			t.Run("JobNotFound", func(t *testing.T) { testJobNotFound(t, s) })
			t.Run("ProviderConfigs", func(t *testing.T) { testProviderConfigs(t, s) })
			t.Run("MutateCreatesFromDefaults", func(t *testing.T) { testMutateDefaults(t, s) })
			t.Run("MutateErrorPersistsNothing", func(t *testing.T) { testMutateError(t, s) })
			t.Run("MutateConcurrent", func(t *testing.T) { testMutateConcurrent(t, s) })
			t.Run("Ping", func(t *testing.T) { assert.NoError(t, s.Ping(context.Background())) })
		})
	}
}

func testJobLifecycle(t *testing.T, s Store) {
	ctx := context.Background()
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	job := &types.Job{
		ID: "job-" + t.Name(), Name: "summarizer", UserID: "u1", Provider: "openai", Model: "gpt-4",
		Status: types.StatusCreated, CreatedAt: created, ClientIP: "10.0.0.7",
	}
	require.NoError(t, s.CreateJob(ctx, job))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCreated, got.Status)
	assert.Nil(t, got.DurationMs)
	assert.True(t, created.Equal(got.CreatedAt), "created_at = %s", got.CreatedAt)
	assert.Equal(t, "10.0.0.7", got.ClientIP)

	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, types.StatusProcessing))
	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, types.StatusCompleted))
	require.NoError(t, s.UpdateJobDuration(ctx, job.ID, 1234))
	require.NoError(t, s.UpdateJobTokens(ctx, job.ID, 40, 60))

	got, err = s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, got.Status)
	require.NotNil(t, got.DurationMs)
	assert.EqualValues(t, 1234, *got.DurationMs)
	assert.Equal(t, 40, got.InputTokens)
	assert.Equal(t, 60, got.OutputTokens)
}

func testJobNotFound(t *testing.T, s Store) {
	ctx := context.Background()
	_, err := s.GetJob(ctx, "missing")
	assert.True(t, IsNotFound(err))
	assert.ErrorIs(t, s.UpdateJobStatus(ctx, "missing", types.StatusFailed), ErrNotFound)
}

func testProviderConfigs(t *testing.T, s Store) {
	ctx := context.Background()

	rec, err := s.ActiveProviderConfig(ctx, provider.Gemini)
	require.NoError(t, err)
	assert.Nil(t, rec, "no active record yet")

	require.NoError(t, s.UpsertProviderConfig(ctx, &provider.Record{
		ID: "g1", Name: "Gemini main", Type: provider.Gemini, APIKey: "k1", Active: true,
	}))
	require.NoError(t, s.UpsertProviderConfig(ctx, &provider.Record{
		ID: "g2", Name: "Gemini backup", Type: provider.Gemini, APIKey: "k2",
		APIURL: "https://proxy.example", Active: true,
	}))

	rec, err = s.ActiveProviderConfig(ctx, provider.Gemini)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "g2", rec.ID)
	assert.Equal(t, "k2", rec.APIKey)
	assert.Equal(t, "https://proxy.example", rec.APIURL)

	all, err := s.ListProviderConfigs(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "g2", all[0].ID)
	assert.False(t, all[1].Active, "saving g2 as active deactivates g1")

	require.NoError(t, s.UpsertProviderConfig(ctx, &provider.Record{
		ID: "g2", Name: "Gemini backup", Type: provider.Gemini, APIKey: "k2", Active: false,
	}))
	rec, err = s.ActiveProviderConfig(ctx, provider.Gemini)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func testMutateDefaults(t *testing.T, s Store) {
	ctx := context.Background()
	client := "defaults-" + t.Name()
	defaults := ratelimit.Limits{RPM: 20, TPM: 50000}
	window := time.UnixMilli(time.Now().UnixMilli())

	st, err := s.Mutate(ctx, client, defaults, func(st *ratelimit.State) error {
		assert.Equal(t, 20, st.RPMLimit)
		assert.True(t, st.WindowStart.IsZero())
		st.CurrentRPM = 3
		st.CurrentTPM = 900
		st.WindowStart = window
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, st.CurrentRPM)

	st, err = s.Mutate(ctx, client, ratelimit.Limits{RPM: 1, TPM: 1}, func(*ratelimit.State) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 20, st.RPMLimit, "existing rows keep their limits")
	assert.Equal(t, 900, st.CurrentTPM)
	assert.True(t, window.Equal(st.WindowStart))
}

func testMutateError(t *testing.T, s Store) {
	ctx := context.Background()
	client := "error-" + t.Name()
	defaults := ratelimit.Limits{RPM: 5, TPM: 100}
	boom := errors.New("boom")

	_, err := s.Mutate(ctx, client, defaults, func(st *ratelimit.State) error {
		st.CurrentRPM = 99
		return boom
	})
	assert.ErrorIs(t, err, boom)

	st, err := s.Mutate(ctx, client, defaults, func(*ratelimit.State) error { return nil })
	require.NoError(t, err)
	assert.Zero(t, st.CurrentRPM)
}

func testMutateConcurrent(t *testing.T, s Store) {
	ctx := context.Background()
	client := "concurrent-" + t.Name()
	defaults := ratelimit.Limits{RPM: 1000, TPM: 1000}

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Mutate(ctx, client, defaults, func(st *ratelimit.State) error {
				st.CurrentRPM++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	st, err := s.Mutate(ctx, client, defaults, func(*ratelimit.State) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, n, st.CurrentRPM)
}

func TestLimiterOverSQLite(t *testing.T) {
	s := newSQLiteStore(t)
	limiter := ratelimit.New(s, ratelimit.Config{DefaultRPM: 2, DefaultTPM: 1000})
	ctx := context.Background()

	require.NoError(t, limiter.Allow(ctx, "c1", 0))
	require.NoError(t, limiter.Allow(ctx, "c1", 0))

	var rl interface{ RetryAfterSeconds() int }
	err := limiter.Allow(ctx, "c1", 0)
	require.ErrorAs(t, err, &rl)
	assert.GreaterOrEqual(t, rl.RetryAfterSeconds(), 1)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Config{Driver: DriverMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(ctx, Config{Driver: DriverSQLite, DSN: filepath.Join(t.TempDir(), "x.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, Config{Driver: "mongo"})
	assert.Error(t, err)

	_, err = Open(ctx, Config{Driver: DriverSQLite})
	assert.Error(t, err)
}

func TestPlaceholderRewrite(t *testing.T) {
	pg := &SQLStore{dialect: postgresDialect}
	assert.Equal(t, "UPDATE t SET a = $1, b = $2 WHERE id = $3", pg.q("UPDATE t SET a = ?, b = ? WHERE id = ?"))

	lite := &SQLStore{dialect: sqliteDialect}
	assert.Equal(t, "SELECT ?", lite.q("SELECT ?"))
}

func TestPoolReporter(t *testing.T) {
	s := newSQLiteStore(t)
	r := NewPoolReporter(s.DB(), 10*time.Millisecond, nil)
	r.Start()
	time.Sleep(30 * time.Millisecond)
	r.Stop()
	r.Stop()
}
