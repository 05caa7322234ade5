// Package audit persists request summaries to PostgreSQL. No input or output
// text is ever written.
package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/raaihank/persondata/internal/anonymizer"
	"github.com/raaihank/persondata/internal/config"
)

const schema = `
CREATE TABLE IF NOT EXISTS redaction_audit (
	id              UUID PRIMARY KEY,
	request_id      TEXT NOT NULL DEFAULT '',
	operation       TEXT NOT NULL,
	mode            TEXT NOT NULL,
	labels          TEXT[] NOT NULL DEFAULT '{}',
	input_bytes     INTEGER NOT NULL,
	entity_count    INTEGER NOT NULL DEFAULT 0,
	replacements    INTEGER NOT NULL DEFAULT 0,
	duration_ms     DOUBLE PRECISION NOT NULL,
	fallback_reason TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_redaction_audit_created_at ON redaction_audit (created_at);`

const insertColumns = 11

// Store writes audit records to PostgreSQL
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewStore connects to the database and creates the audit table if missing.
func NewStore(cfg config.AuditConfig, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	store := &Store{db: db, logger: logger}
	if err := store.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	logger.Info("Audit store initialized successfully",
		zap.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns))

	return store, nil
}

func (s *Store) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create audit schema: %w", err)
	}
	return nil
}

// Record stores one event. It satisfies anonymizer.Auditor.
func (s *Store) Record(ctx context.Context, ev anonymizer.Event) error {
	_, err := s.InsertBatch(ctx, []Record{FromEvent(ev)})
	return err
}

// InsertBatch adds records in a single statement. Rows whose id already
// exists are skipped.
func (s *Store) InsertBatch(ctx context.Context, records []Record) (*BatchInsertResult, error) {
	if len(records) == 0 {
		return &BatchInsertResult{}, nil
	}

	start := time.Now()
	query, args := buildInsert(records)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		s.logger.Error("Audit insert failed", zap.Int("records", len(records)), zap.Error(err))
		return &BatchInsertResult{Failed: int64(len(records))}, fmt.Errorf("audit insert failed: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		s.logger.Warn("Could not get rows affected", zap.Error(err))
		inserted = int64(len(records))
	}

	result := &BatchInsertResult{
		Inserted: inserted,
		Failed:   int64(len(records)) - inserted,
		Duration: time.Since(start),
	}
	s.logger.Debug("Audit records written",
		zap.Int64("inserted", result.Inserted),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// Recent returns the newest records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []Record
	err := s.db.SelectContext(ctx, &records, `
		SELECT id, request_id, operation, mode, labels, input_bytes, entity_count,
			replacements, duration_ms, fallback_reason, created_at
		FROM redaction_audit
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	return records, nil
}

// GetStats returns aggregate counts over the audit table
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByReason: make(map[string]int64)}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(CASE WHEN mode = $1 THEN 1 END),
			COUNT(CASE WHEN fallback_reason <> '' THEN 1 END),
			COALESCE(AVG(duration_ms), 0)
		FROM redaction_audit`, anonymizer.ModeNERPatterns).Scan(
		&stats.TotalRequests,
		&stats.NERRequests,
		&stats.Fallbacks,
		&stats.AvgDurationMs,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit stats: %w", err)
	}

	rows, err := s.db.QueryxContext(ctx, `
		SELECT fallback_reason, COUNT(*)
		FROM redaction_audit
		WHERE fallback_reason <> ''
		GROUP BY fallback_reason`)
	if err != nil {
		return nil, fmt.Errorf("failed to get fallback reasons: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var reason string
		var count int64
		if err := rows.Scan(&reason, &count); err != nil {
			return nil, fmt.Errorf("failed to scan fallback reason: %w", err)
		}
		stats.ByReason[reason] = count
	}
	return stats, rows.Err()
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// FromEvent converts a service event into an audit record.
func FromEvent(ev anonymizer.Event) Record {
	created := ev.Timestamp
	if created.IsZero() {
		created = time.Now().UTC()
	}
	id := ev.ID
	if id == "" {
		id = uuid.NewString()
	}
	labels := ev.Labels
	if labels == nil {
		labels = []string{}
	}
	return Record{
		ID:             id,
		RequestID:      ev.RequestID,
		Operation:      ev.Operation,
		Mode:           ev.Mode,
		Labels:         pq.StringArray(labels),
		InputBytes:     ev.InputBytes,
		EntityCount:    ev.EntityCount,
		Replacements:   ev.Replacements,
		DurationMs:     float64(ev.Duration) / float64(time.Millisecond),
		FallbackReason: ev.FallbackReason,
		CreatedAt:      created,
	}
}

func buildInsert(records []Record) (string, []interface{}) {
	valueStrings := make([]string, 0, len(records))
	args := make([]interface{}, 0, len(records)*insertColumns)

	for i, r := range records {
		placeholders := make([]string, insertColumns)
		for j := range placeholders {
			placeholders[j] = fmt.Sprintf("$%d", i*insertColumns+j+1)
		}
		valueStrings = append(valueStrings, "("+strings.Join(placeholders, ", ")+")")
		args = append(args,
			r.ID,
			r.RequestID,
			r.Operation,
			r.Mode,
			r.Labels,
			r.InputBytes,
			r.EntityCount,
			r.Replacements,
			r.DurationMs,
			r.FallbackReason,
			r.CreatedAt,
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO redaction_audit (id, request_id, operation, mode, labels, input_bytes,
			entity_count, replacements, duration_ms, fallback_reason, created_at)
		VALUES %s
		ON CONFLICT (id) DO NOTHING`, strings.Join(valueStrings, ","))
	return query, args
}

// maskDatabaseURL masks the password in a database URL for logging
func maskDatabaseURL(url string) string {
	if !strings.Contains(url, "@") {
		return url
	}
	parts := strings.SplitN(url, "@", 2)
	userParts := strings.Split(parts[0], ":")
	if len(userParts) >= 3 {
		userParts[len(userParts)-1] = "***"
		parts[0] = strings.Join(userParts, ":")
	}
	return strings.Join(parts, "@")
}
