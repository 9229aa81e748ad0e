package store

import (
	"time"
)

// EventSource tells how a usage event entered the system.
type EventSource string

const (
	SourceUser EventSource = "user"
	SourceAuto EventSource = "auto"
)

// BillingMode is the cost regime the resolved (maestro) cost was computed under.
type BillingMode string

const (
	BillingModeAPI  BillingMode = "api"
	BillingModeMax  BillingMode = "max"
	BillingModeFree BillingMode = "free"
)

// UsageEvent is one agent interaction turn, either live-captured by the
// running application or reconstructed after the fact from transcripts.
// Optional columns are pointers; a nil pointer maps to NULL and marks the
// field as still awaiting reconstruction.
type UsageEvent struct {
	ID         int64       `json:"id"`
	SessionID  string      `json:"session_id"`
	AgentType  string      `json:"agent_type"`
	Source     EventSource `json:"source"`
	StartTime  time.Time   `json:"start_time"`
	DurationMS int64       `json:"duration_ms"`

	InputTokens         *int64 `json:"input_tokens,omitempty"`
	OutputTokens        *int64 `json:"output_tokens,omitempty"`
	CacheReadTokens     *int64 `json:"cache_read_tokens,omitempty"`
	CacheCreationTokens *int64 `json:"cache_creation_tokens,omitempty"`

	// UUID is the transcript-origin dedup key. When present it is unique
	// across the store and drives idempotent merges.
	UUID string `json:"uuid,omitempty"`

	AnthropicModel     *string      `json:"anthropic_model,omitempty"`
	AnthropicCostUSD   *float64     `json:"anthropic_cost_usd,omitempty"`
	MaestroCostUSD     *float64     `json:"maestro_cost_usd,omitempty"`
	MaestroBillingMode *BillingMode `json:"maestro_billing_mode,omitempty"`

	IsReconstructed bool       `json:"is_reconstructed"`
	ReconstructedAt *time.Time `json:"reconstructed_at,omitempty"`
	CorrectedAt     *time.Time `json:"corrected_at,omitempty"`
}

// Complete reports whether both cost fields have been populated. The model
// is deliberately not required: transcripts can lack a model string, and an
// event reconstructed from one would otherwise be re-processed forever.
func (e UsageEvent) Complete() bool {
	return e.AnthropicCostUSD != nil && e.MaestroCostUSD != nil
}

// EventPatch carries the fields a reconstruction run may fill in. Only
// currently-NULL columns are written; populated live data is never replaced.
type EventPatch struct {
	InputTokens         *int64
	OutputTokens        *int64
	CacheReadTokens     *int64
	CacheCreationTokens *int64
	AnthropicModel      *string
	AnthropicCostUSD    *float64
	MaestroCostUSD      *float64
	MaestroBillingMode  *BillingMode
	ReconstructedAt     *time.Time
}

// QueryFilter narrows Query results. Zero values mean "no filter".
type QueryFilter struct {
	From           time.Time
	To             time.Time
	AgentType      string
	SessionID      string
	IncompleteOnly bool
}

// AggregateResult is the Event Store rollup for a time range.
type AggregateResult struct {
	Totals  UsageTotals            `json:"totals"`
	ByModel map[string]UsageTotals `json:"by_model"`
	ByAgent map[string]UsageTotals `json:"by_agent"`
	ByDay   map[string]UsageTotals `json:"by_day"`
}

type UsageTotals struct {
	Events              int64   `json:"events"`
	InputTokens         int64   `json:"input_tokens"`
	OutputTokens        int64   `json:"output_tokens"`
	CacheReadTokens     int64   `json:"cache_read_tokens"`
	CacheCreationTokens int64   `json:"cache_creation_tokens"`
	AnthropicCostUSD    float64 `json:"anthropic_cost_usd"`
	MaestroCostUSD      float64 `json:"maestro_cost_usd"`
}

// TotalTokens sums all four token counters.
func (t UsageTotals) TotalTokens() int64 {
	return t.InputTokens + t.OutputTokens + t.CacheReadTokens + t.CacheCreationTokens
}

// ScheduleType identifies one recurring audit cadence.
type ScheduleType string

const (
	ScheduleDaily   ScheduleType = "daily"
	ScheduleWeekly  ScheduleType = "weekly"
	ScheduleMonthly ScheduleType = "monthly"
)

// ScheduleState is the per-cadence bookkeeping row mutated only by the
// scheduler after each run or reconfiguration.
type ScheduleState struct {
	Type          ScheduleType `json:"type"`
	Enabled       bool         `json:"enabled"`
	LastRunAt     *time.Time   `json:"last_run_at,omitempty"`
	LastRunStatus string       `json:"last_run_status,omitempty"`
	NextRunAt     *time.Time   `json:"next_run_at,omitempty"`
}

// AuditSnapshot is the immutable record of one audit execution. The summary
// columns are denormalized for range queries; the full result (per-model
// breakdown, anomalies, entry statuses) lives in the JSON payload.
type AuditSnapshot struct {
	ID               string    `json:"id"`
	PeriodStart      time.Time `json:"period_start"`
	PeriodEnd        time.Time `json:"period_end"`
	GeneratedAt      time.Time `json:"generated_at"`
	AnthropicTokens  int64     `json:"anthropic_tokens"`
	MaestroTokens    int64     `json:"maestro_tokens"`
	AnthropicCostUSD float64   `json:"anthropic_cost_usd"`
	MaestroCostUSD   float64   `json:"maestro_cost_usd"`
	AnomalyCount     int       `json:"anomaly_count"`
	Payload          []byte    `json:"payload"`
}
