package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/maestro-ai/usage-engine/internal/store"
)

// UsageSource supplies authoritative per-model usage for a period. The
// shipped implementation derives it from the transcript corpus; deployments
// with a billing API can inject their own.
type UsageSource interface {
	Totals(ctx context.Context, start, end time.Time) (map[string]ModelUsage, error)
}

// Service runs audits against the event store and persists the snapshots.
type Service struct {
	Store  *store.Store
	Source UsageSource

	now func() time.Time
}

func NewService(st *store.Store, src UsageSource) *Service {
	return &Service{Store: st, Source: src, now: time.Now}
}

// RunAudit compares authoritative usage against the store's own totals for
// [start, end], classifies every per-model entry, and persists the result as
// an append-only snapshot.
func (s *Service) RunAudit(ctx context.Context, start, end time.Time) (Result, error) {
	authoritative, err := s.Source.Totals(ctx, start, end)
	if err != nil {
		return Result{}, fmt.Errorf("audit: authoritative totals: %w", err)
	}
	recorded, err := s.Store.Aggregate(ctx, start, end)
	if err != nil {
		return Result{}, fmt.Errorf("audit: store aggregate: %w", err)
	}

	result := Result{
		ID:          uuid.NewString(),
		Period:      Period{Start: start, End: end},
		GeneratedAt: s.now(),
	}
	result.compare(authoritative, recorded)

	breakdown, err := s.billingModeBreakdown(ctx, start, end)
	if err != nil {
		return Result{}, err
	}
	result.BillingModeBreakdown = breakdown

	if err := s.persist(ctx, result); err != nil {
		return Result{}, err
	}
	return result, nil
}

// History returns the most recent persisted snapshots, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]store.AuditSnapshot, error) {
	return s.Store.History(ctx, limit)
}

// SnapshotsByRange returns snapshots whose audited period overlaps the range.
func (s *Service) SnapshotsByRange(ctx context.Context, start, end time.Time) ([]store.AuditSnapshot, error) {
	return s.Store.SnapshotsByRange(ctx, start, end)
}

// AutoCorrect marks the given events as corrected. The correction is a
// timestamp stamp only: values stay untouched and the trail stays auditable.
func (s *Service) AutoCorrect(ctx context.Context, eventIDs []int64) (int64, error) {
	return s.Store.MarkCorrected(ctx, eventIDs, s.now())
}

// compare fills in the per-model breakdown, totals, anomalies and summary.
func (r *Result) compare(authoritative map[string]ModelUsage, recorded store.AggregateResult) {
	models := lo.Uniq(append(lo.Keys(authoritative), lo.Keys(recorded.ByModel)...))
	sort.Strings(models)

	var authTokens, maeTokens int64
	var authCost, maeCost float64

	for _, model := range models {
		auth, hasAuth := authoritative[model]
		rec, hasRec := recorded.ByModel[model]

		row := ModelComparison{
			Model:            model,
			AnthropicTokens:  auth.TotalTokens(),
			MaestroTokens:    rec.TotalTokens(),
			AnthropicCostUSD: auth.CostUSD,
			MaestroCostUSD:   rec.MaestroCostUSD,
		}
		row.TokenStatus = classify(float64(row.AnthropicTokens), float64(row.MaestroTokens))
		row.CostStatus = classify(row.AnthropicCostUSD, row.MaestroCostUSD)
		row.Match = row.TokenStatus == StatusMatch && row.CostStatus == StatusMatch
		r.ModelBreakdown = append(r.ModelBreakdown, row)

		authTokens += row.AnthropicTokens
		maeTokens += row.MaestroTokens
		authCost += row.AnthropicCostUSD
		maeCost += row.MaestroCostUSD

		r.flagModel(row, hasAuth, hasRec)
		r.bucket(row.TokenStatus)
	}

	r.Tokens = newComparison(float64(authTokens), float64(maeTokens))
	r.Costs = newComparison(authCost, maeCost)
	r.Summary.TotalEntries = len(models)
	r.Summary.Status = overallStatus(r.Anomalies)
}

func (r *Result) flagModel(row ModelComparison, hasAuth, hasRec bool) {
	switch {
	case hasAuth && !hasRec:
		r.Anomalies = append(r.Anomalies, Anomaly{
			Kind: AnomalyMissingQuery, Severity: SeverityError, Model: row.Model,
			Detail: fmt.Sprintf("authoritative source reports %d tokens, no recorded events", row.AnthropicTokens),
		})
		return
	case hasRec && !hasAuth:
		r.Anomalies = append(r.Anomalies, Anomaly{
			Kind: AnomalyModelMismatch, Severity: SeverityWarning, Model: row.Model,
			Detail: fmt.Sprintf("recorded %d tokens for a model the authoritative source does not report", row.MaestroTokens),
		})
		return
	}

	if sev, ok := mismatchSeverity(row.TokenStatus); ok {
		r.Anomalies = append(r.Anomalies, Anomaly{
			Kind: AnomalyTokenMismatch, Severity: sev, Model: row.Model,
			Detail: fmt.Sprintf("tokens %d vs %d recorded", row.AnthropicTokens, row.MaestroTokens),
		})
	}
	if sev, ok := mismatchSeverity(row.CostStatus); ok {
		r.Anomalies = append(r.Anomalies, Anomaly{
			Kind: AnomalyCostMismatch, Severity: sev, Model: row.Model,
			Detail: fmt.Sprintf("cost %.4f vs %.4f recorded", row.AnthropicCostUSD, row.MaestroCostUSD),
		})
	}
}

func (r *Result) bucket(status EntryStatus) {
	switch status {
	case StatusMatch:
		r.Summary.Matches++
	case StatusMinor:
		r.Summary.Minor++
	case StatusMajor:
		r.Summary.Major++
	case StatusMissing:
		r.Summary.Missing++
	}
}

func mismatchSeverity(status EntryStatus) (Severity, bool) {
	switch status {
	case StatusMinor:
		return SeverityWarning, true
	case StatusMajor:
		return SeverityError, true
	}
	return "", false
}

func overallStatus(anomalies []Anomaly) string {
	status := "ok"
	for _, a := range anomalies {
		switch a.Severity {
		case SeverityError:
			return "error"
		case SeverityWarning:
			status = "warning"
		}
	}
	return status
}

// classify buckets one value pair by relative discrepancy against the
// authoritative side.
func classify(authoritative, recorded float64) EntryStatus {
	if authoritative == 0 && recorded == 0 {
		return StatusMatch
	}
	if authoritative == 0 || recorded == 0 {
		return StatusMissing
	}
	pct := math.Abs(authoritative-recorded) / authoritative * 100
	switch {
	case pct < matchThresholdPct:
		return StatusMatch
	case pct < minorThresholdPct:
		return StatusMinor
	default:
		return StatusMajor
	}
}

func newComparison(authoritative, recorded float64) Comparison {
	c := Comparison{
		Anthropic:  authoritative,
		Maestro:    recorded,
		Difference: authoritative - recorded,
	}
	if authoritative != 0 {
		c.PercentDiff = math.Abs(c.Difference) / authoritative * 100
	}
	return c
}

func (s *Service) billingModeBreakdown(ctx context.Context, start, end time.Time) (map[store.BillingMode]store.UsageTotals, error) {
	events, err := s.Store.Query(ctx, store.QueryFilter{From: start, To: end})
	if err != nil {
		return nil, fmt.Errorf("audit: billing breakdown: %w", err)
	}
	out := make(map[store.BillingMode]store.UsageTotals)
	for _, ev := range events {
		mode := store.BillingModeAPI
		if ev.MaestroBillingMode != nil {
			mode = *ev.MaestroBillingMode
		}
		totals := out[mode]
		totals.Events++
		totals.InputTokens += deref(ev.InputTokens)
		totals.OutputTokens += deref(ev.OutputTokens)
		totals.CacheReadTokens += deref(ev.CacheReadTokens)
		totals.CacheCreationTokens += deref(ev.CacheCreationTokens)
		if ev.AnthropicCostUSD != nil {
			totals.AnthropicCostUSD += *ev.AnthropicCostUSD
		}
		if ev.MaestroCostUSD != nil {
			totals.MaestroCostUSD += *ev.MaestroCostUSD
		}
		out[mode] = totals
	}
	return out, nil
}

func deref(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

func (s *Service) persist(ctx context.Context, result Result) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("audit: marshal snapshot: %w", err)
	}
	snap := store.AuditSnapshot{
		ID:               result.ID,
		PeriodStart:      result.Period.Start,
		PeriodEnd:        result.Period.End,
		GeneratedAt:      result.GeneratedAt,
		AnthropicTokens:  int64(result.Tokens.Anthropic),
		MaestroTokens:    int64(result.Tokens.Maestro),
		AnthropicCostUSD: result.Costs.Anthropic,
		MaestroCostUSD:   result.Costs.Maestro,
		AnomalyCount:     len(result.Anomalies),
		Payload:          payload,
	}
	if err := s.Store.SaveSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("audit: persist snapshot: %w", err)
	}
	return nil
}
