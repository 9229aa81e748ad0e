package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeUsageFile(t *testing.T, path string, lines ...string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	var body string
	for _, l := range lines {
		body += l + "\n"
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func assistantLine(ts string, input, output int64) string {
	return fmt.Sprintf(`{"type":"assistant","sessionId":"s1","timestamp":%q,"uuid":"u-%s",`+
		`"message":{"id":"m1","model":"claude-sonnet-4-20250514",`+
		`"usage":{"input_tokens":%d,"output_tokens":%d}}}`, ts, ts, input, output)
}

func TestTranscriptUsageSource_TotalsWithinPeriod(t *testing.T) {
	root := t.TempDir()
	writeUsageFile(t, filepath.Join(root, "s1.jsonl"),
		assistantLine("2026-03-01T10:00:00Z", 1_000_000, 0),
		assistantLine("2026-03-01T11:00:00Z", 0, 1_000_000),
		assistantLine("2026-03-02T10:00:00Z", 500, 500), // outside the period
	)

	src := NewTranscriptUsageSource([]string{root})
	totals, err := src.Totals(context.Background(),
		time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, time.March, 1, 23, 59, 59, 0, time.UTC))
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}

	usage, ok := totals["claude-sonnet-4-20250514"]
	if !ok {
		t.Fatalf("model missing from totals: %v", totals)
	}
	if usage.InputTokens != 1_000_000 || usage.OutputTokens != 1_000_000 {
		t.Fatalf("tokens = %d/%d, want one million each", usage.InputTokens, usage.OutputTokens)
	}
	// Sonnet API rates: $3 per million input + $15 per million output.
	if usage.CostUSD < 17.99 || usage.CostUSD > 18.01 {
		t.Fatalf("cost = %v, want 18", usage.CostUSD)
	}
}

func TestTranscriptUsageSource_MissingRootIsNotFatal(t *testing.T) {
	src := NewTranscriptUsageSource([]string{filepath.Join(t.TempDir(), "absent")})
	totals, err := src.Totals(context.Background(), time.Time{}, time.Now())
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	if len(totals) != 0 {
		t.Fatalf("totals = %v, want empty", totals)
	}
}
