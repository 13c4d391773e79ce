package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/artkit-ai/artkit/pkg/fingerprint"
	"github.com/artkit-ai/artkit/pkg/models"
)

// InMemory opens a process-local store that is discarded on Close.
const InMemory = ":memory:"

const defaultBusyTimeout = 5 * time.Second

// Store is a response cache backed by SQLite. A file-backed store may be
// opened by several processes at once; SQLite's file locking serializes
// their writes.
type Store struct {
	db     *sql.DB
	now    func() time.Time
	logger *zap.Logger
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS cache_entries (
	model_id TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	responses TEXT NOT NULL,
	created_at TEXT NOT NULL,
	accessed_at TEXT NOT NULL,
	PRIMARY KEY (model_id, fingerprint)
)`,
	`CREATE INDEX IF NOT EXISTS idx_cache_entries_created ON cache_entries(model_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_cache_entries_accessed ON cache_entries(model_id, accessed_at)`,
}

type options struct {
	now         func() time.Time
	logger      *zap.Logger
	busyTimeout time.Duration
}

// Option configures a Store.
type Option func(*options)

// WithClock overrides the time source used for created/accessed stamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithBusyTimeout sets how long a writer waits on a locked database file
// before failing.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) { o.busyTimeout = d }
}

// New opens (creating if needed) the cache at path. Pass InMemory for a
// non-persistent store.
func New(path string, opts ...Option) (*Store, error) {
	o := options{
		now:         time.Now,
		logger:      zap.NewNop(),
		busyTimeout: defaultBusyTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := sql.Open("sqlite", dsn(path, o.busyTimeout))
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	if path == InMemory {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate cache db: %w", err)
		}
	}

	o.logger.Debug("cache opened", zap.String("path", path))
	return &Store{db: db, now: o.now, logger: o.logger}, nil
}

func dsn(path string, busy time.Duration) string {
	if path == InMemory {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", path, sep, busy.Milliseconds())
}

// Get returns the responses cached for the prompt and parameters and marks
// the entry as accessed. A miss returns ok == false and a nil error.
func (s *Store) Get(ctx context.Context, modelID, prompt string, params models.Params) ([]string, bool, error) {
	key, err := fingerprint.Build(prompt, params)
	if err != nil {
		return nil, false, err
	}

	var raw string
	err = s.db.QueryRowContext(ctx,
		`UPDATE cache_entries SET accessed_at = MAX(created_at, ?)
		 WHERE model_id = ? AND fingerprint = ?
		 RETURNING responses`,
		FormatTimestamp(s.now()), modelID, key,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		s.logger.Debug("cache miss", zap.String("model_id", modelID))
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}

	var responses []string
	if err := json.Unmarshal([]byte(raw), &responses); err != nil {
		return nil, false, fmt.Errorf("cache get: decode responses: %w", err)
	}
	s.logger.Debug("cache hit", zap.String("model_id", modelID), zap.Int("responses", len(responses)))
	return responses, true, nil
}

// Put stores responses for the prompt and parameters, replacing any entry
// already held under the same key.
func (s *Store) Put(ctx context.Context, modelID, prompt string, params models.Params, responses ...string) error {
	key, err := fingerprint.Build(prompt, params)
	if err != nil {
		return err
	}
	if responses == nil {
		responses = []string{}
	}
	data, err := json.Marshal(responses)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}

	now := FormatTimestamp(s.now())
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (model_id, fingerprint, responses, created_at, accessed_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(model_id, fingerprint) DO UPDATE SET
			responses = excluded.responses,
			created_at = excluded.created_at,
			accessed_at = excluded.accessed_at`,
		modelID, key, string(data), now, now,
	)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// ClearFilter selects entries to delete. Zero-valued fields are ignored.
// Before bounds match timestamps strictly earlier than the bound, After
// bounds match timestamps strictly later.
type ClearFilter struct {
	ModelID        string
	CreatedBefore  time.Time
	AccessedBefore time.Time
	CreatedAfter   time.Time
	AccessedAfter  time.Time
}

// Clear deletes every entry matching all fields set in f and returns the
// number of deleted entries. An empty filter deletes everything.
func (s *Store) Clear(ctx context.Context, f ClearFilter) (int64, error) {
	query := `DELETE FROM cache_entries WHERE 1=1`
	var args []any

	if f.ModelID != "" {
		query += ` AND model_id = ?`
		args = append(args, f.ModelID)
	}
	// Stored stamps are whole seconds, so a fractional bound is rounded
	// outward without changing which rows match.
	if !f.CreatedBefore.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, FormatTimestamp(ceilSecond(f.CreatedBefore)))
	}
	if !f.AccessedBefore.IsZero() {
		query += ` AND accessed_at < ?`
		args = append(args, FormatTimestamp(ceilSecond(f.AccessedBefore)))
	}
	if !f.CreatedAfter.IsZero() {
		query += ` AND created_at > ?`
		args = append(args, FormatTimestamp(f.CreatedAfter))
	}
	if !f.AccessedAfter.IsZero() {
		query += ` AND accessed_at > ?`
		args = append(args, FormatTimestamp(f.AccessedAfter))
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("cache clear: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cache clear: %w", err)
	}
	s.logger.Debug("cache cleared", zap.String("model_id", f.ModelID), zap.Int64("deleted", n))
	return n, nil
}

// CountEntries returns the number of entries per model. Models without
// entries are omitted.
func (s *Store) CountEntries(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT model_id, COUNT(*) FROM cache_entries GROUP BY model_id`)
	if err != nil {
		return nil, fmt.Errorf("cache count: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var model string
		var n int
		if err := rows.Scan(&model, &n); err != nil {
			return nil, fmt.Errorf("cache count: %w", err)
		}
		counts[model] = n
	}
	return counts, rows.Err()
}

// EarliestAccessTimes returns the oldest access time per model.
func (s *Store) EarliestAccessTimes(ctx context.Context) (map[string]time.Time, error) {
	return s.aggregate(ctx, "MIN", "accessed_at")
}

// LatestAccessTimes returns the most recent access time per model.
func (s *Store) LatestAccessTimes(ctx context.Context) (map[string]time.Time, error) {
	return s.aggregate(ctx, "MAX", "accessed_at")
}

// EarliestCreationTimes returns the oldest creation time per model.
func (s *Store) EarliestCreationTimes(ctx context.Context) (map[string]time.Time, error) {
	return s.aggregate(ctx, "MIN", "created_at")
}

// LatestCreationTimes returns the most recent creation time per model.
func (s *Store) LatestCreationTimes(ctx context.Context) (map[string]time.Time, error) {
	return s.aggregate(ctx, "MAX", "created_at")
}

// fn and column are always package constants.
func (s *Store) aggregate(ctx context.Context, fn, column string) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT model_id, %s(%s) FROM cache_entries GROUP BY model_id`, fn, column))
	if err != nil {
		return nil, fmt.Errorf("cache %s(%s): %w", strings.ToLower(fn), column, err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var model, stamp string
		if err := rows.Scan(&model, &stamp); err != nil {
			return nil, fmt.Errorf("cache %s(%s): %w", strings.ToLower(fn), column, err)
		}
		t, err := ParseTimestamp(stamp)
		if err != nil {
			return nil, err
		}
		out[model] = t
	}
	return out, rows.Err()
}

// Stats returns per-model counts and time ranges, ordered by model id.
func (s *Store) Stats(ctx context.Context) ([]models.CacheStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT model_id, COUNT(*), MIN(created_at), MAX(created_at), MIN(accessed_at), MAX(accessed_at)
		 FROM cache_entries GROUP BY model_id ORDER BY model_id`)
	if err != nil {
		return nil, fmt.Errorf("cache stats: %w", err)
	}
	defer rows.Close()

	var stats []models.CacheStats
	for rows.Next() {
		var st models.CacheStats
		var stamps [4]string
		if err := rows.Scan(&st.ModelID, &st.Entries, &stamps[0], &stamps[1], &stamps[2], &stamps[3]); err != nil {
			return nil, fmt.Errorf("cache stats: %w", err)
		}
		targets := [4]*time.Time{&st.EarliestCreated, &st.LatestCreated, &st.EarliestAccessed, &st.LatestAccessed}
		for i, raw := range stamps {
			if *targets[i], err = ParseTimestamp(raw); err != nil {
				return nil, err
			}
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
