package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store owns the usage_events table plus the audit bookkeeping tables. All
// writes are single-record transactions; no caller holds a transaction across
// a reconciliation run.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: creating DB dir: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: opening DB: %w", err)
	}
	if err := configureSQLiteConnection(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: configuring DB: %w", err)
	}

	s := New(db)
	if err := s.Init(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS usage_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			agent_type TEXT NOT NULL,
			source TEXT NOT NULL,
			start_time TEXT NOT NULL,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			input_tokens INTEGER,
			output_tokens INTEGER,
			cache_read_tokens INTEGER,
			cache_creation_tokens INTEGER,
			uuid TEXT UNIQUE,
			anthropic_model TEXT,
			anthropic_cost_usd REAL,
			maestro_cost_usd REAL,
			maestro_billing_mode TEXT,
			is_reconstructed INTEGER NOT NULL DEFAULT 0,
			reconstructed_at TEXT,
			corrected_at TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_usage_events_start_time ON usage_events(start_time);`,
		`CREATE INDEX IF NOT EXISTS idx_usage_events_session ON usage_events(session_id, start_time);`,
		`CREATE TABLE IF NOT EXISTS audit_snapshots (
			snapshot_id TEXT PRIMARY KEY,
			period_start TEXT NOT NULL,
			period_end TEXT NOT NULL,
			generated_at TEXT NOT NULL,
			anthropic_tokens INTEGER NOT NULL,
			maestro_tokens INTEGER NOT NULL,
			anthropic_cost_usd REAL NOT NULL,
			maestro_cost_usd REAL NOT NULL,
			anomaly_count INTEGER NOT NULL,
			payload TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audit_snapshots_generated_at ON audit_snapshots(generated_at);`,
		`CREATE TABLE IF NOT EXISTS audit_schedule (
			schedule_type TEXT PRIMARY KEY,
			enabled INTEGER NOT NULL DEFAULT 0,
			last_run_at TEXT,
			last_run_status TEXT,
			next_run_at TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: init schema: %w", err)
		}
	}
	return nil
}

// Insert writes one usage event. When the event carries a uuid that already
// exists, the insert degrades to a coalesce-only enrich of the existing row
// and the existing id is returned with merged=true. Populated columns are
// never replaced.
func (s *Store) Insert(ctx context.Context, ev UsageEvent) (id int64, merged bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO usage_events (
			session_id, agent_type, source, start_time, duration_ms,
			input_tokens, output_tokens, cache_read_tokens, cache_creation_tokens,
			uuid, anthropic_model, anthropic_cost_usd, maestro_cost_usd,
			maestro_billing_mode, is_reconstructed, reconstructed_at, corrected_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ev.SessionID,
		ev.AgentType,
		string(ev.Source),
		formatTime(ev.StartTime),
		ev.DurationMS,
		nullableInt64(ev.InputTokens),
		nullableInt64(ev.OutputTokens),
		nullableInt64(ev.CacheReadTokens),
		nullableInt64(ev.CacheCreationTokens),
		nullableString(ev.UUID),
		nullableStringPtr(ev.AnthropicModel),
		nullableFloat64(ev.AnthropicCostUSD),
		nullableFloat64(ev.MaestroCostUSD),
		nullableBillingMode(ev.MaestroBillingMode),
		boolToInt(ev.IsReconstructed),
		nullableTime(ev.ReconstructedAt),
		nullableTime(ev.CorrectedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err, "usage_events.uuid") && ev.UUID != "" {
			existingID, lookupErr := findEventIDByUUID(ctx, tx, ev.UUID)
			if lookupErr != nil {
				return 0, false, fmt.Errorf("store: lookup event by uuid: %w", lookupErr)
			}
			if mergeErr := enrichEventTx(ctx, tx, existingID, patchFromEvent(ev)); mergeErr != nil {
				return 0, false, fmt.Errorf("store: merge duplicate event: %w", mergeErr)
			}
			if commitErr := tx.Commit(); commitErr != nil {
				return 0, false, fmt.Errorf("store: commit merge tx: %w", commitErr)
			}
			return existingID, true, nil
		}
		return 0, false, fmt.Errorf("store: insert event: %w", err)
	}

	id, err = res.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("store: read insert id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("store: commit tx: %w", err)
	}
	return id, false, nil
}

// UpdateCoalescing sets only the currently-NULL columns of one event.
func (s *Store) UpdateCoalescing(ctx context.Context, id int64, patch EventPatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := enrichEventTx(ctx, tx, id, patch); err != nil {
		return fmt.Errorf("store: coalescing update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit tx: %w", err)
	}
	return nil
}

func enrichEventTx(ctx context.Context, tx *sql.Tx, id int64, patch EventPatch) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE usage_events
		SET
			input_tokens = COALESCE(input_tokens, ?),
			output_tokens = COALESCE(output_tokens, ?),
			cache_read_tokens = COALESCE(cache_read_tokens, ?),
			cache_creation_tokens = COALESCE(cache_creation_tokens, ?),
			anthropic_model = COALESCE(anthropic_model, ?),
			anthropic_cost_usd = COALESCE(anthropic_cost_usd, ?),
			maestro_cost_usd = COALESCE(maestro_cost_usd, ?),
			maestro_billing_mode = COALESCE(maestro_billing_mode, ?),
			reconstructed_at = COALESCE(reconstructed_at, ?),
			is_reconstructed = CASE WHEN ? IS NOT NULL THEN 1 ELSE is_reconstructed END
		WHERE id = ?
	`,
		nullableInt64(patch.InputTokens),
		nullableInt64(patch.OutputTokens),
		nullableInt64(patch.CacheReadTokens),
		nullableInt64(patch.CacheCreationTokens),
		nullableStringPtr(patch.AnthropicModel),
		nullableFloat64(patch.AnthropicCostUSD),
		nullableFloat64(patch.MaestroCostUSD),
		nullableBillingMode(patch.MaestroBillingMode),
		nullableTime(patch.ReconstructedAt),
		nullableTime(patch.ReconstructedAt),
		id,
	)
	return err
}

// MarkCorrected stamps corrected_at on the selected events without rewriting
// any of their recorded values. Correction is advisory and auditable.
func (s *Store) MarkCorrected(ctx context.Context, ids []int64, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimRight(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, formatTime(at))
	for _, id := range ids {
		args = append(args, id)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE usage_events SET corrected_at = ? WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("store: mark corrected: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func findEventIDByUUID(ctx context.Context, tx *sql.Tx, uuid string) (int64, error) {
	var id int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM usage_events WHERE uuid = ?`, uuid).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func patchFromEvent(ev UsageEvent) EventPatch {
	return EventPatch{
		InputTokens:         ev.InputTokens,
		OutputTokens:        ev.OutputTokens,
		CacheReadTokens:     ev.CacheReadTokens,
		CacheCreationTokens: ev.CacheCreationTokens,
		AnthropicModel:      ev.AnthropicModel,
		AnthropicCostUSD:    ev.AnthropicCostUSD,
		MaestroCostUSD:      ev.MaestroCostUSD,
		MaestroBillingMode:  ev.MaestroBillingMode,
		ReconstructedAt:     ev.ReconstructedAt,
	}
}

func isUniqueConstraintError(err error, target string) bool {
	if err == nil {
		return false
	}
	errText := err.Error()
	return strings.Contains(errText, "UNIQUE constraint failed") && strings.Contains(errText, target)
}

// timeLayout is fixed-width so the TEXT columns sort lexicographically in
// time order. RFC3339Nano trims trailing zeros, which makes "10:00:00.5Z"
// sort before "10:00:00Z" and breaks ORDER BY start_time.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Parse(time.RFC3339, raw)
	}
	return t, nil
}

func nullableString(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableFloat64(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableBillingMode(v *BillingMode) any {
	if v == nil {
		return nil
	}
	return string(*v)
}

func nullableTime(v *time.Time) any {
	if v == nil {
		return nil
	}
	return formatTime(*v)
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
