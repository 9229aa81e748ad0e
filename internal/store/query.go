package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const eventColumns = `id, session_id, agent_type, source, start_time, duration_ms,
	input_tokens, output_tokens, cache_read_tokens, cache_creation_tokens,
	uuid, anthropic_model, anthropic_cost_usd, maestro_cost_usd,
	maestro_billing_mode, is_reconstructed, reconstructed_at, corrected_at`

// eventQuery accumulates WHERE predicates bound to the usage_events schema so
// call sites never concatenate ad hoc SQL fragments.
type eventQuery struct {
	clauses []string
	args    []any
}

func (q *eventQuery) where(clause string, args ...any) {
	q.clauses = append(q.clauses, clause)
	q.args = append(q.args, args...)
}

func (q *eventQuery) sql(base string) string {
	if len(q.clauses) == 0 {
		return base
	}
	return base + " WHERE " + strings.Join(q.clauses, " AND ")
}

func buildEventQuery(filter QueryFilter) *eventQuery {
	q := &eventQuery{}
	if !filter.From.IsZero() {
		q.where(`start_time >= ?`, formatTime(filter.From))
	}
	if !filter.To.IsZero() {
		q.where(`start_time <= ?`, formatTime(filter.To))
	}
	if filter.AgentType != "" {
		q.where(`agent_type = ?`, filter.AgentType)
	}
	if filter.SessionID != "" {
		q.where(`session_id = ?`, filter.SessionID)
	}
	if filter.IncompleteOnly {
		q.where(`(anthropic_cost_usd IS NULL OR maestro_cost_usd IS NULL)`)
	}
	return q
}

// Query returns events matching the filter in ascending start_time order,
// which is the order window matching depends on.
func (s *Store) Query(ctx context.Context, filter QueryFilter) ([]UsageEvent, error) {
	q := buildEventQuery(filter)
	query := q.sql(`SELECT `+eventColumns+` FROM usage_events`) + ` ORDER BY start_time ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, q.args...)
	if err != nil {
		return nil, fmt.Errorf("store: query events: %w", err)
	}
	defer rows.Close()

	var out []UsageEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate events: %w", err)
	}
	return out, nil
}

// GetByUUID fetches one event by its transcript dedup key.
func (s *Store) GetByUUID(ctx context.Context, uuid string) (UsageEvent, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM usage_events WHERE uuid = ?`, uuid)
	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return UsageEvent{}, false, nil
	}
	if err != nil {
		return UsageEvent{}, false, fmt.Errorf("store: get event by uuid: %w", err)
	}
	return ev, true, nil
}

// Aggregate rolls up the store for a time range: overall totals plus
// per-model, per-agent and per-day breakdowns.
func (s *Store) Aggregate(ctx context.Context, from, to time.Time) (AggregateResult, error) {
	result := AggregateResult{
		ByModel: make(map[string]UsageTotals),
		ByAgent: make(map[string]UsageTotals),
		ByDay:   make(map[string]UsageTotals),
	}

	q := buildEventQuery(QueryFilter{From: from, To: to})
	query := q.sql(`
		SELECT
			COALESCE(anthropic_model, ''),
			agent_type,
			DATE(start_time),
			COUNT(*),
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(cache_read_tokens), 0),
			COALESCE(SUM(cache_creation_tokens), 0),
			COALESCE(SUM(anthropic_cost_usd), 0),
			COALESCE(SUM(maestro_cost_usd), 0)
		FROM usage_events`) + `
		GROUP BY COALESCE(anthropic_model, ''), agent_type, DATE(start_time)`

	rows, err := s.db.QueryContext(ctx, query, q.args...)
	if err != nil {
		return result, fmt.Errorf("store: aggregate events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			model, agent, day string
			t                 UsageTotals
		)
		if err := rows.Scan(
			&model, &agent, &day,
			&t.Events, &t.InputTokens, &t.OutputTokens,
			&t.CacheReadTokens, &t.CacheCreationTokens,
			&t.AnthropicCostUSD, &t.MaestroCostUSD,
		); err != nil {
			return result, fmt.Errorf("store: scan aggregate row: %w", err)
		}

		result.Totals = addTotals(result.Totals, t)
		if model != "" {
			result.ByModel[model] = addTotals(result.ByModel[model], t)
		}
		result.ByAgent[agent] = addTotals(result.ByAgent[agent], t)
		result.ByDay[day] = addTotals(result.ByDay[day], t)
	}
	if err := rows.Err(); err != nil {
		return result, fmt.Errorf("store: iterate aggregate rows: %w", err)
	}
	return result, nil
}

func addTotals(a, b UsageTotals) UsageTotals {
	a.Events += b.Events
	a.InputTokens += b.InputTokens
	a.OutputTokens += b.OutputTokens
	a.CacheReadTokens += b.CacheReadTokens
	a.CacheCreationTokens += b.CacheCreationTokens
	a.AnthropicCostUSD += b.AnthropicCostUSD
	a.MaestroCostUSD += b.MaestroCostUSD
	return a
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (UsageEvent, error) {
	var (
		ev              UsageEvent
		source          string
		startTime       string
		uuid            sql.NullString
		model           sql.NullString
		anthropicCost   sql.NullFloat64
		maestroCost     sql.NullFloat64
		billingMode     sql.NullString
		inputTokens     sql.NullInt64
		outputTokens    sql.NullInt64
		cacheRead       sql.NullInt64
		cacheCreation   sql.NullInt64
		isReconstructed int
		reconstructedAt sql.NullString
		correctedAt     sql.NullString
	)

	err := row.Scan(
		&ev.ID, &ev.SessionID, &ev.AgentType, &source, &startTime, &ev.DurationMS,
		&inputTokens, &outputTokens, &cacheRead, &cacheCreation,
		&uuid, &model, &anthropicCost, &maestroCost,
		&billingMode, &isReconstructed, &reconstructedAt, &correctedAt,
	)
	if err != nil {
		return UsageEvent{}, err
	}

	ev.Source = EventSource(source)
	if ev.StartTime, err = parseTime(startTime); err != nil {
		return UsageEvent{}, fmt.Errorf("parse start_time %q: %w", startTime, err)
	}
	ev.UUID = uuid.String
	if model.Valid {
		ev.AnthropicModel = &model.String
	}
	if anthropicCost.Valid {
		ev.AnthropicCostUSD = &anthropicCost.Float64
	}
	if maestroCost.Valid {
		ev.MaestroCostUSD = &maestroCost.Float64
	}
	if billingMode.Valid {
		mode := BillingMode(billingMode.String)
		ev.MaestroBillingMode = &mode
	}
	if inputTokens.Valid {
		ev.InputTokens = &inputTokens.Int64
	}
	if outputTokens.Valid {
		ev.OutputTokens = &outputTokens.Int64
	}
	if cacheRead.Valid {
		ev.CacheReadTokens = &cacheRead.Int64
	}
	if cacheCreation.Valid {
		ev.CacheCreationTokens = &cacheCreation.Int64
	}
	ev.IsReconstructed = isReconstructed != 0
	if reconstructedAt.Valid {
		if t, err := parseTime(reconstructedAt.String); err == nil {
			ev.ReconstructedAt = &t
		}
	}
	if correctedAt.Valid {
		if t, err := parseTime(correctedAt.String); err == nil {
			ev.CorrectedAt = &t
		}
	}
	return ev, nil
}
