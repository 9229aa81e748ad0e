// Package audit compares the event store's recorded totals against an
// authoritative usage source, classifies discrepancies, and persists immutable
// snapshots of every comparison. A scheduler runs audits on a recurring
// daily/weekly/monthly cadence.
package audit

import (
	"time"

	"github.com/maestro-ai/usage-engine/internal/store"
)

// AnomalyKind tags what a discrepancy is about.
type AnomalyKind string

const (
	AnomalyMissingQuery  AnomalyKind = "missing_query"
	AnomalyTokenMismatch AnomalyKind = "token_mismatch"
	AnomalyCostMismatch  AnomalyKind = "cost_mismatch"
	AnomalyModelMismatch AnomalyKind = "model_mismatch"
)

// Severity grades an anomaly.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Anomaly is one flagged discrepancy.
type Anomaly struct {
	Kind     AnomalyKind `json:"kind"`
	Severity Severity    `json:"severity"`
	Model    string      `json:"model,omitempty"`
	Detail   string      `json:"detail"`
}

// EntryStatus buckets one comparable entry by discrepancy size. Thresholds
// are fixed: under 1% is a match, under 10% minor, anything above major;
// missing means one side has no counterpart at all.
type EntryStatus string

const (
	StatusMatch   EntryStatus = "match"
	StatusMinor   EntryStatus = "minor"
	StatusMajor   EntryStatus = "major"
	StatusMissing EntryStatus = "missing"
)

const (
	matchThresholdPct = 1.0
	minorThresholdPct = 10.0
)

// Comparison is one audited quantity seen from both sides.
type Comparison struct {
	Anthropic   float64 `json:"anthropic"`
	Maestro     float64 `json:"maestro"`
	Difference  float64 `json:"difference"`
	PercentDiff float64 `json:"percent_diff"`
}

// ModelComparison is the per-model audit row.
type ModelComparison struct {
	Model            string      `json:"model"`
	AnthropicTokens  int64       `json:"anthropic_tokens"`
	MaestroTokens    int64       `json:"maestro_tokens"`
	AnthropicCostUSD float64     `json:"anthropic_cost_usd"`
	MaestroCostUSD   float64     `json:"maestro_cost_usd"`
	TokenStatus      EntryStatus `json:"token_status"`
	CostStatus       EntryStatus `json:"cost_status"`
	Match            bool        `json:"match"`
}

// Summary rolls up the per-entry buckets and carries the overall verdict.
type Summary struct {
	TotalEntries int    `json:"total_entries"`
	Matches      int    `json:"matches"`
	Minor        int    `json:"minor"`
	Major        int    `json:"major"`
	Missing      int    `json:"missing"`
	Status       string `json:"status"`
}

// Period is the audited date range, inclusive on both ends.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Result is one audit execution in full. The store persists it as an
// append-only snapshot: summary columns plus this struct as JSON payload.
type Result struct {
	ID          string    `json:"id"`
	Period      Period    `json:"period"`
	GeneratedAt time.Time `json:"generated_at"`

	Tokens Comparison `json:"tokens"`
	Costs  Comparison `json:"costs"`

	ModelBreakdown       []ModelComparison                       `json:"model_breakdown"`
	Anomalies            []Anomaly                               `json:"anomalies"`
	BillingModeBreakdown map[store.BillingMode]store.UsageTotals `json:"billing_mode_breakdown"`
	Summary              Summary                                 `json:"summary"`
}

// ModelUsage is one model's authoritative totals for the audited period.
type ModelUsage struct {
	InputTokens         int64   `json:"input_tokens"`
	OutputTokens        int64   `json:"output_tokens"`
	CacheReadTokens     int64   `json:"cache_read_tokens"`
	CacheCreationTokens int64   `json:"cache_creation_tokens"`
	CostUSD             float64 `json:"cost_usd"`
}

// TotalTokens sums all four token counters.
func (u ModelUsage) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens + u.CacheReadTokens + u.CacheCreationTokens
}
