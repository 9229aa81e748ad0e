// Package transcript discovers and parses the append-only JSONL session logs
// written by agent CLIs, and builds the per-file date index reconstruction
// relies on.
package transcript

import (
	"encoding/json"
	"strings"
	"time"
)

// Entry is one usage record parsed from a transcript line. It is ephemeral:
// only its aggregated contribution to a usage event is ever persisted.
type Entry struct {
	SessionID string
	Timestamp time.Time
	UUID      string
	MessageID string
	Model     string

	InputTokens         int64
	OutputTokens        int64
	CacheReadTokens     int64
	CacheCreationTokens int64
}

// TotalTokens sums all four token counters.
func (e Entry) TotalTokens() int64 {
	return e.InputTokens + e.OutputTokens + e.CacheReadTokens + e.CacheCreationTokens
}

// DateKey is the calendar date (UTC) the entry belongs to in the date index.
func (e Entry) DateKey() string {
	return e.Timestamp.UTC().Format("2006-01-02")
}

type rawLine struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Timestamp string `json:"timestamp"`
	UUID      string `json:"uuid"`
	Message   rawMsg `json:"message"`
}

type rawMsg struct {
	ID    string   `json:"id"`
	Model string   `json:"model"`
	Usage rawUsage `json:"usage"`
}

type rawUsage struct {
	InputTokens              *int64 `json:"input_tokens"`
	OutputTokens             *int64 `json:"output_tokens"`
	CacheCreationInputTokens *int64 `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     *int64 `json:"cache_read_input_tokens"`
}

// ParseLine decodes one JSONL line. ok is false for malformed lines and for
// record types that carry no usage (user turns, summaries, system notices);
// neither aborts the surrounding file.
func ParseLine(line []byte) (Entry, bool) {
	trimmed := strings.TrimSpace(string(line))
	if trimmed == "" {
		return Entry{}, false
	}

	var raw rawLine
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return Entry{}, false
	}

	// Usage records are assistant turns carrying a nested usage object.
	if raw.Type != "assistant" {
		return Entry{}, false
	}
	if raw.Message.Usage.InputTokens == nil && raw.Message.Usage.OutputTokens == nil {
		return Entry{}, false
	}

	ts, err := parseTimestamp(raw.Timestamp)
	if err != nil {
		return Entry{}, false
	}

	return Entry{
		SessionID:           raw.SessionID,
		Timestamp:           ts,
		UUID:                raw.UUID,
		MessageID:           raw.Message.ID,
		Model:               raw.Message.Model,
		InputTokens:         tokenValue(raw.Message.Usage.InputTokens),
		OutputTokens:        tokenValue(raw.Message.Usage.OutputTokens),
		CacheReadTokens:     tokenValue(raw.Message.Usage.CacheReadInputTokens),
		CacheCreationTokens: tokenValue(raw.Message.Usage.CacheCreationInputTokens),
	}, true
}

func tokenValue(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999Z",
}

func parseTimestamp(raw string) (time.Time, error) {
	var lastErr error
	for _, format := range timestampFormats {
		t, err := time.Parse(format, raw)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
