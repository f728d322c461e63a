package postgres

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/V4T54L/honeyledger/internal/adapter/metrics"
)

func newTestRepo(t *testing.T, ttl time.Duration) (*APIKeyRepository, sqlmock.Sqlmock, *metrics.PipelineMetrics) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	m := metrics.NewPipelineMetrics(prometheus.NewRegistry())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewAPIKeyRepository(db, logger, ttl, m), mock, m
}

var validKeyPattern = regexp.QuoteMeta(validKeyQuery)

func TestAPIKeyRepository_IsValid(t *testing.T) {
	t.Run("valid key is cached", func(t *testing.T) {
		repo, mock, m := newTestRepo(t, time.Minute)
		mock.ExpectQuery(validKeyPattern).
			WithArgs(HashKey("sensor-01-secret")).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		for i := 0; i < 3; i++ {
			ok, err := repo.IsValid(context.Background(), "sensor-01-secret")
			require.NoError(t, err)
			assert.True(t, ok)
		}

		require.NoError(t, mock.ExpectationsWereMet())
		assert.Equal(t, 2.0, testutil.ToFloat64(m.APIKeyCacheHits))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.APIKeyCacheMisses))
	})

	t.Run("unknown key is cached as invalid", func(t *testing.T) {
		repo, mock, _ := newTestRepo(t, time.Minute)
		mock.ExpectQuery(validKeyPattern).
			WithArgs(HashKey("guess")).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		ok, err := repo.IsValid(context.Background(), "guess")
		require.NoError(t, err)
		assert.False(t, ok)
		ok, err = repo.IsValid(context.Background(), "guess")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database errors are not cached", func(t *testing.T) {
		repo, mock, _ := newTestRepo(t, time.Minute)
		mock.ExpectQuery(validKeyPattern).WillReturnError(errors.New("connection reset"))
		mock.ExpectQuery(validKeyPattern).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		_, err := repo.IsValid(context.Background(), "sensor-02")
		assert.Error(t, err)
		ok, err := repo.IsValid(context.Background(), "sensor-02")
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("expired entries are refreshed", func(t *testing.T) {
		repo, mock, _ := newTestRepo(t, time.Minute)
		now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		repo.now = func() time.Time { return now }

		mock.ExpectQuery(validKeyPattern).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectQuery(validKeyPattern).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		ok, err := repo.IsValid(context.Background(), "sensor-03")
		require.NoError(t, err)
		assert.True(t, ok)

		now = now.Add(2 * time.Minute)
		ok, err = repo.IsValid(context.Background(), "sensor-03")
		require.NoError(t, err)
		assert.False(t, ok, "revoked key must stop validating once the cache entry expires")

		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAPIKeyRepository_PruneCache(t *testing.T) {
	repo, _, _ := newTestRepo(t, time.Minute)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	repo.cache["old"] = cacheEntry{isValid: true, expiresAt: now.Add(-time.Second)}
	repo.cache["fresh"] = cacheEntry{isValid: true, expiresAt: now.Add(time.Second)}

	assert.Equal(t, 1, repo.PruneCache())
	assert.Contains(t, repo.cache, "fresh")
	assert.NotContains(t, repo.cache, "old")
}

func TestAPIKeyRepository_EnsureSchema(t *testing.T) {
	repo, mock, _ := newTestRepo(t, time.Minute)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS ingest_keys")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHashKey(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", HashKey(""))
	assert.NotEqual(t, HashKey("a"), HashKey("b"))
}
