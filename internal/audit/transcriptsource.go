package audit

import (
	"context"
	"log"
	"time"

	"github.com/maestro-ai/usage-engine/internal/pricing"
	"github.com/maestro-ai/usage-engine/internal/source"
	"github.com/maestro-ai/usage-engine/internal/transcript"
)

// TranscriptUsageSource derives authoritative per-model totals by re-reading
// the transcript corpus and pricing every entry at API rates. Transcripts are
// append-only and written by the agent CLI itself, which makes them the
// closest thing to ground truth available without a billing API.
type TranscriptUsageSource struct {
	Roots   []string
	Scanner *transcript.Scanner
	Pricing *pricing.Table
}

func NewTranscriptUsageSource(roots []string) *TranscriptUsageSource {
	return &TranscriptUsageSource{
		Roots:   roots,
		Scanner: transcript.NewScanner(),
		Pricing: pricing.NewTable(),
	}
}

// Totals aggregates usage per model for entries timestamped inside
// [start, end]. Unreadable files are logged and skipped; a partial corpus
// still yields a usable comparison.
func (t *TranscriptUsageSource) Totals(ctx context.Context, start, end time.Time) (map[string]ModelUsage, error) {
	local := source.NewLocal()
	out := make(map[string]ModelUsage)

	for _, root := range t.Roots {
		files, err := t.Scanner.Discover(ctx, local, root)
		if err != nil {
			log.Printf("audit: discover %s: %v", root, err)
			continue
		}
		for _, f := range files {
			parsed, err := t.Scanner.Parse(ctx, f)
			if err != nil {
				log.Printf("audit: parse %s: %v", f.Path, err)
				continue
			}
			for _, e := range parsed.Entries {
				if e.Timestamp.Before(start) || e.Timestamp.After(end) {
					continue
				}
				t.accumulate(out, e)
			}
		}
	}
	return out, nil
}

func (t *TranscriptUsageSource) accumulate(out map[string]ModelUsage, e transcript.Entry) {
	usage := out[e.Model]
	usage.InputTokens += e.InputTokens
	usage.OutputTokens += e.OutputTokens
	usage.CacheReadTokens += e.CacheReadTokens
	usage.CacheCreationTokens += e.CacheCreationTokens

	apiUSD, _ := t.Pricing.Costs(pricing.TokenTuple{
		Input:         e.InputTokens,
		Output:        e.OutputTokens,
		CacheRead:     e.CacheReadTokens,
		CacheCreation: e.CacheCreationTokens,
	}, e.Model, pricing.ModeAPI)
	usage.CostUSD += apiUSD

	out[e.Model] = usage
}
