package postgres

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/V4T54L/honeyledger/internal/adapter/metrics"
)

const schemaDDL = `CREATE TABLE IF NOT EXISTS ingest_keys (
	key_hash   TEXT PRIMARY KEY,
	sensor     TEXT NOT NULL,
	is_active  BOOLEAN NOT NULL DEFAULT TRUE,
	expires_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

const validKeyQuery = `SELECT EXISTS(SELECT 1 FROM ingest_keys WHERE key_hash = $1 AND is_active = true AND (expires_at IS NULL OR expires_at > NOW()))`

type cacheEntry struct {
	isValid   bool
	expiresAt time.Time
}

// APIKeyRepository validates sensor ingest keys against PostgreSQL with an in-memory TTL cache.
// Only SHA-256 hashes of keys are stored and cached.
type APIKeyRepository struct {
	db       *sql.DB
	logger   *slog.Logger
	cache    map[string]cacheEntry
	mu       sync.RWMutex
	cacheTTL time.Duration
	metrics  *metrics.PipelineMetrics
	now      func() time.Time
}

// NewAPIKeyRepository creates a new instance of the PostgreSQL API key repository.
func NewAPIKeyRepository(db *sql.DB, logger *slog.Logger, cacheTTL time.Duration, m *metrics.PipelineMetrics) *APIKeyRepository {
	return &APIKeyRepository{
		db:       db,
		logger:   logger.With("component", "apikey_repository"),
		cache:    make(map[string]cacheEntry),
		cacheTTL: cacheTTL,
		metrics:  m,
		now:      time.Now,
	}
}

// EnsureSchema creates the ingest_keys table if it does not exist.
func (r *APIKeyRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("create ingest_keys table: %w", err)
	}
	return nil
}

// IsValid reports whether key belongs to an active, unexpired sensor. Results, including
// negative ones, are cached for the TTL; database errors are not cached.
func (r *APIKeyRepository) IsValid(ctx context.Context, key string) (bool, error) {
	hash := HashKey(key)

	r.mu.RLock()
	entry, found := r.cache[hash]
	r.mu.RUnlock()

	if found && r.now().Before(entry.expiresAt) {
		if r.metrics != nil {
			r.metrics.APIKeyCacheHits.Inc()
		}
		return entry.isValid, nil
	}
	if r.metrics != nil {
		r.metrics.APIKeyCacheMisses.Inc()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another request may have refreshed the entry while we waited.
	entry, found = r.cache[hash]
	if found && r.now().Before(entry.expiresAt) {
		return entry.isValid, nil
	}

	var isValid bool
	if err := r.db.QueryRowContext(ctx, validKeyQuery, hash).Scan(&isValid); err != nil {
		r.logger.Error("failed to validate API key in database", "error", err)
		return false, fmt.Errorf("validate api key: %w", err)
	}

	r.cache[hash] = cacheEntry{isValid: isValid, expiresAt: r.now().Add(r.cacheTTL)}
	return isValid, nil
}

// PruneCache drops expired cache entries and returns how many were removed.
func (r *APIKeyRepository) PruneCache() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	removed := 0
	for k, e := range r.cache {
		if !now.Before(e.expiresAt) {
			delete(r.cache, k)
			removed++
		}
	}
	return removed
}

// StartCachePruner prunes the cache every interval until ctx is done.
func (r *APIKeyRepository) StartCachePruner(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.PruneCache(); n > 0 {
				r.logger.Debug("pruned api key cache", "removed", n)
			}
		}
	}
}

// HashKey returns the hex SHA-256 of an ingest key, the form stored in ingest_keys.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
