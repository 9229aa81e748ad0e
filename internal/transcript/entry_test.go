package transcript

import (
	"testing"
	"time"
)

func TestParseLine_AssistantUsageRecord(t *testing.T) {
	line := `{"type":"assistant","sessionId":"sess-1","timestamp":"2026-03-01T10:00:05.123Z",` +
		`"uuid":"e1","message":{"id":"msg_01","model":"claude-sonnet-4-20250514",` +
		`"usage":{"input_tokens":120,"output_tokens":30,"cache_read_input_tokens":4000}}}`

	entry, ok := ParseLine([]byte(line))
	if !ok {
		t.Fatal("expected line to parse")
	}
	if entry.SessionID != "sess-1" || entry.UUID != "e1" || entry.MessageID != "msg_01" {
		t.Fatalf("identity fields = %+v", entry)
	}
	if entry.InputTokens != 120 || entry.OutputTokens != 30 {
		t.Fatalf("tokens = %d/%d, want 120/30", entry.InputTokens, entry.OutputTokens)
	}
	if entry.CacheReadTokens != 4000 {
		t.Fatalf("cache read = %d, want 4000", entry.CacheReadTokens)
	}
	if entry.CacheCreationTokens != 0 {
		t.Fatalf("absent cache creation should default to 0, got %d", entry.CacheCreationTokens)
	}
	want := time.Date(2026, time.March, 1, 10, 0, 5, 123000000, time.UTC)
	if !entry.Timestamp.Equal(want) {
		t.Fatalf("timestamp = %v, want %v", entry.Timestamp, want)
	}
}

func TestParseLine_SkipsNonUsageRecords(t *testing.T) {
	lines := []string{
		`{"type":"user","sessionId":"s","timestamp":"2026-03-01T10:00:00Z","message":{"role":"user"}}`,
		`{"type":"summary","summary":"compacted"}`,
		`{"type":"assistant","timestamp":"2026-03-01T10:00:00Z","message":{"model":"m"}}`,
		`not json at all`,
		``,
	}
	for _, line := range lines {
		if _, ok := ParseLine([]byte(line)); ok {
			t.Fatalf("line %q should not parse as usage", line)
		}
	}
}

func TestParseLine_ZeroTokenCountsStillParse(t *testing.T) {
	line := `{"type":"assistant","sessionId":"s","timestamp":"2026-03-01T10:00:00Z",` +
		`"message":{"model":"m","usage":{"input_tokens":0,"output_tokens":0}}}`

	entry, ok := ParseLine([]byte(line))
	if !ok {
		t.Fatal("zero-token usage record should still parse")
	}
	if entry.TotalTokens() != 0 {
		t.Fatalf("total = %d, want 0", entry.TotalTokens())
	}
}

func TestDateKey_UsesUTC(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	entry := Entry{Timestamp: time.Date(2026, time.March, 2, 1, 30, 0, 0, loc)}
	if got := entry.DateKey(); got != "2026-03-01" {
		t.Fatalf("DateKey = %q, want 2026-03-01", got)
	}
}

func TestDecodeProjectPath(t *testing.T) {
	cases := map[string]string{
		"-Users-me-work-api": "/Users/me/work/api",
		"-home-dev-proj":     "/home/dev/proj",
		"plain":              "plain",
	}
	for encoded, want := range cases {
		if got := DecodeProjectPath(encoded); got != want {
			t.Fatalf("DecodeProjectPath(%q) = %q, want %q", encoded, got, want)
		}
	}
}
