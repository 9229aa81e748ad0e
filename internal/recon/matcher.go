package recon

import (
	"github.com/samber/lo"

	"github.com/maestro-ai/usage-engine/internal/pricing"
	"github.com/maestro-ai/usage-engine/internal/store"
	"github.com/maestro-ai/usage-engine/internal/transcript"
)

// window is the half-structured interval one event claims: from its start
// time up to one second before the next event's start, open-ended for the
// last event in the run.
type window struct {
	start store.UsageEvent
	end   *store.UsageEvent // nil for the last event
}

func (w window) contains(e transcript.Entry) bool {
	if e.Timestamp.Before(w.start.StartTime) {
		return false
	}
	if w.end == nil {
		return true
	}
	return e.Timestamp.Before(w.end.StartTime)
}

// eventWindows pairs each event with its successor. Events must already be
// sorted ascending by start time; the store's Query guarantees that.
func eventWindows(events []store.UsageEvent) []window {
	windows := make([]window, len(events))
	for i := range events {
		windows[i] = window{start: events[i]}
		if i+1 < len(events) {
			windows[i].end = &events[i+1]
		}
	}
	return windows
}

// skipReason distinguishes why a window produced nothing, for diagnostics.
type skipReason int

const (
	skipNone skipReason = iota
	skipNoFiles
	skipNoUsage
)

// match is the combined usage attributed to one event: all entries inside its
// window, summed across every candidate file for the event's calendar date.
type match struct {
	Tokens  pricing.TokenTuple
	Model   string
	UUID    string
	Entries int
}

// entryLoader resolves a file key to its parsed entries, hitting the run
// cache or re-reading the file.
type entryLoader func(fileKey string) ([]transcript.Entry, error)

// matchWindow sums every usage entry falling inside the window, across all
// files the date index holds for the event's date. It deliberately does not
// filter candidate files by session id: sub-agent transcripts do not always
// carry the parent session's id, so restricting to the event's own file would
// drop their usage. The cost is possible over-attribution when unrelated
// sessions share a calendar date.
func matchWindow(w window, index *transcript.DateIndex, load entryLoader) (match, skipReason, error) {
	date := w.start.StartTime.UTC().Format("2006-01-02")
	files := index.FilesForDate(date)
	if len(files) == 0 {
		return match{}, skipNoFiles, nil
	}

	var m match
	modelTokens := make(map[string]int64)
	for _, key := range files {
		entries, err := load(key)
		if err != nil {
			return match{}, skipNone, err
		}
		for _, e := range entries {
			if !w.contains(e) {
				continue
			}
			m.Tokens.Input += e.InputTokens
			m.Tokens.Output += e.OutputTokens
			m.Tokens.CacheRead += e.CacheReadTokens
			m.Tokens.CacheCreation += e.CacheCreationTokens
			m.Entries++
			if e.Model != "" {
				modelTokens[e.Model] += e.TotalTokens()
			}
			if m.UUID == "" && e.UUID != "" {
				m.UUID = e.UUID
			}
		}
	}
	if m.Entries == 0 {
		return match{}, skipNoUsage, nil
	}
	m.Model = dominantModel(modelTokens)
	return m, skipNone, nil
}

// dominantModel picks the model contributing the most tokens to the window;
// a window spanning a model switch is attributed to whichever did the work.
func dominantModel(tokens map[string]int64) string {
	models := lo.Keys(tokens)
	if len(models) == 0 {
		return ""
	}
	return lo.MaxBy(models, func(a, b string) bool {
		if tokens[a] != tokens[b] {
			return tokens[a] > tokens[b]
		}
		return a < b
	})
}
