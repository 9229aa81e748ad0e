package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SaveSnapshot appends one audit snapshot. Snapshots are never mutated.
func (s *Store) SaveSnapshot(ctx context.Context, snap AuditSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_snapshots (
			snapshot_id, period_start, period_end, generated_at,
			anthropic_tokens, maestro_tokens, anthropic_cost_usd, maestro_cost_usd,
			anomaly_count, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		snap.ID,
		formatTime(snap.PeriodStart),
		formatTime(snap.PeriodEnd),
		formatTime(snap.GeneratedAt),
		snap.AnthropicTokens,
		snap.MaestroTokens,
		snap.AnthropicCostUSD,
		snap.MaestroCostUSD,
		snap.AnomalyCount,
		string(snap.Payload),
	)
	if err != nil {
		return fmt.Errorf("store: save audit snapshot: %w", err)
	}
	return nil
}

// History returns the most recent snapshots, newest first.
func (s *Store) History(ctx context.Context, limit int) ([]AuditSnapshot, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT snapshot_id, period_start, period_end, generated_at,
			anthropic_tokens, maestro_tokens, anthropic_cost_usd, maestro_cost_usd,
			anomaly_count, payload
		FROM audit_snapshots
		ORDER BY generated_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: audit history: %w", err)
	}
	defer rows.Close()
	return scanSnapshots(rows)
}

// SnapshotsByRange returns snapshots whose audited period overlaps [start, end].
func (s *Store) SnapshotsByRange(ctx context.Context, start, end time.Time) ([]AuditSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT snapshot_id, period_start, period_end, generated_at,
			anthropic_tokens, maestro_tokens, anthropic_cost_usd, maestro_cost_usd,
			anomaly_count, payload
		FROM audit_snapshots
		WHERE period_end >= ? AND period_start <= ?
		ORDER BY generated_at DESC
	`, formatTime(start), formatTime(end))
	if err != nil {
		return nil, fmt.Errorf("store: snapshots by range: %w", err)
	}
	defer rows.Close()
	return scanSnapshots(rows)
}

func scanSnapshots(rows *sql.Rows) ([]AuditSnapshot, error) {
	var out []AuditSnapshot
	for rows.Next() {
		var (
			snap                               AuditSnapshot
			periodStart, periodEnd, genAt, raw string
		)
		if err := rows.Scan(
			&snap.ID, &periodStart, &periodEnd, &genAt,
			&snap.AnthropicTokens, &snap.MaestroTokens,
			&snap.AnthropicCostUSD, &snap.MaestroCostUSD,
			&snap.AnomalyCount, &raw,
		); err != nil {
			return nil, fmt.Errorf("store: scan snapshot: %w", err)
		}
		var err error
		if snap.PeriodStart, err = parseTime(periodStart); err != nil {
			return nil, fmt.Errorf("store: parse snapshot period_start: %w", err)
		}
		if snap.PeriodEnd, err = parseTime(periodEnd); err != nil {
			return nil, fmt.Errorf("store: parse snapshot period_end: %w", err)
		}
		if snap.GeneratedAt, err = parseTime(genAt); err != nil {
			return nil, fmt.Errorf("store: parse snapshot generated_at: %w", err)
		}
		snap.Payload = []byte(raw)
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate snapshots: %w", err)
	}
	return out, nil
}

// ScheduleStates returns the bookkeeping rows for every schedule type that has
// one; absent types simply have no row yet.
func (s *Store) ScheduleStates(ctx context.Context) (map[ScheduleType]ScheduleState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT schedule_type, enabled, last_run_at, last_run_status, next_run_at
		FROM audit_schedule
	`)
	if err != nil {
		return nil, fmt.Errorf("store: schedule states: %w", err)
	}
	defer rows.Close()

	out := make(map[ScheduleType]ScheduleState)
	for rows.Next() {
		var (
			state              ScheduleState
			scheduleType       string
			enabled            int
			lastRunAt, nextRun sql.NullString
			lastRunStatus      sql.NullString
		)
		if err := rows.Scan(&scheduleType, &enabled, &lastRunAt, &lastRunStatus, &nextRun); err != nil {
			return nil, fmt.Errorf("store: scan schedule state: %w", err)
		}
		state.Type = ScheduleType(scheduleType)
		state.Enabled = enabled != 0
		state.LastRunStatus = lastRunStatus.String
		if lastRunAt.Valid {
			if t, err := parseTime(lastRunAt.String); err == nil {
				state.LastRunAt = &t
			}
		}
		if nextRun.Valid {
			if t, err := parseTime(nextRun.String); err == nil {
				state.NextRunAt = &t
			}
		}
		out[state.Type] = state
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate schedule states: %w", err)
	}
	return out, nil
}

// PutScheduleState upserts one schedule row. Only the scheduler writes here.
func (s *Store) PutScheduleState(ctx context.Context, state ScheduleState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_schedule (schedule_type, enabled, last_run_at, last_run_status, next_run_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(schedule_type) DO UPDATE SET
			enabled = excluded.enabled,
			last_run_at = excluded.last_run_at,
			last_run_status = excluded.last_run_status,
			next_run_at = excluded.next_run_at
	`,
		string(state.Type),
		boolToInt(state.Enabled),
		nullableTime(state.LastRunAt),
		nullableString(state.LastRunStatus),
		nullableTime(state.NextRunAt),
	)
	if err != nil {
		return fmt.Errorf("store: put schedule state: %w", err)
	}
	return nil
}

// GetMeta reads one metadata value; ok is false when the key is absent.
func (s *Store) GetMeta(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: get meta %q: %w", key, err)
	}
	return value, true, nil
}

func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("store: set meta %q: %w", key, err)
	}
	return nil
}
