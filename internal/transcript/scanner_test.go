package transcript

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/maestro-ai/usage-engine/internal/source"
)

func usageLine(uuid, session, ts string, input, output int64) string {
	return fmt.Sprintf(`{"type":"assistant","sessionId":%q,"timestamp":%q,"uuid":%q,`+
		`"message":{"id":"msg-%s","model":"claude-sonnet-4-20250514",`+
		`"usage":{"input_tokens":%d,"output_tokens":%d}}}`,
		session, ts, uuid, uuid, input, output)
}

func writeTranscript(t *testing.T, path string, lines ...string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestDiscover_FindsNestedSubAgentFiles(t *testing.T) {
	root := t.TempDir()
	writeTranscript(t, filepath.Join(root, "proj", "main.jsonl"),
		usageLine("a", "s1", "2026-03-01T10:00:00Z", 10, 5))
	writeTranscript(t, filepath.Join(root, "proj", "s1", "subagent.jsonl"),
		usageLine("b", "s1-sub", "2026-03-01T10:00:01Z", 20, 5))
	writeTranscript(t, filepath.Join(root, "proj", "notes.txt"), "ignored")

	files, err := NewScanner().Discover(context.Background(), source.NewLocal(), root)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("file count = %d, want 2", len(files))
	}
}

func TestParse_SkipsMalformedLinesWithoutAborting(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "mixed.jsonl")
	writeTranscript(t, path,
		usageLine("a", "s1", "2026-03-01T10:00:00Z", 100, 10),
		`{"broken json`,
		`{"type":"user","timestamp":"2026-03-01T10:00:01Z"}`,
		usageLine("b", "s1", "2026-03-01T10:00:02Z", 50, 5),
	)

	result, err := NewScanner().Parse(context.Background(), File{Source: source.NewLocal(), Path: path})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(result.Entries) != 2 {
		t.Fatalf("entry count = %d, want 2", len(result.Entries))
	}
	if result.SkippedLines != 2 {
		t.Fatalf("skipped = %d, want 2", result.SkippedLines)
	}
	if result.Truncated {
		t.Fatal("small file should not be truncated")
	}
}

func TestParse_LargeFileUsesPartialRead(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "big.jsonl")

	var lines []string
	for i := 0; i < 40; i++ {
		lines = append(lines, usageLine(fmt.Sprintf("u%d", i), "s1",
			fmt.Sprintf("2026-03-01T10:00:%02dZ", i), 10, 1))
	}
	writeTranscript(t, path, lines...)

	s := NewScanner()
	s.Threshold = 64 // force the partial path
	s.HeadLines = 5
	s.TailLines = 5

	result, err := s.Parse(context.Background(), File{Source: source.NewLocal(), Path: path})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !result.Truncated {
		t.Fatal("expected truncated result")
	}
	if len(result.Entries) != 10 {
		t.Fatalf("entry count = %d, want 10 (head+tail)", len(result.Entries))
	}
}

func TestParse_PartialReadDeduplicatesOverlap(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "overlap.jsonl")

	var lines []string
	for i := 0; i < 6; i++ {
		lines = append(lines, usageLine(fmt.Sprintf("u%d", i), "s1",
			fmt.Sprintf("2026-03-01T10:00:%02dZ", i), 10, 1))
	}
	writeTranscript(t, path, lines...)

	s := NewScanner()
	s.Threshold = 64
	s.HeadLines = 5
	s.TailLines = 5 // head and tail overlap on a 6-line file

	result, err := s.Parse(context.Background(), File{Source: source.NewLocal(), Path: path})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(result.Entries) != 6 {
		t.Fatalf("entry count = %d, want 6 unique entries", len(result.Entries))
	}
}

// overlapSource simulates a remote host whose head and tail commands both
// see the whole file, so the sections overlap.
type overlapSource struct {
	lines []string
	head  int
	tail  int
}

func (o *overlapSource) Label() string { return "overlap" }

func (o *overlapSource) List(ctx context.Context, dir string) ([]source.Entry, error) {
	return nil, nil
}

func (o *overlapSource) Stat(ctx context.Context, path string) (source.FileInfo, error) {
	return source.FileInfo{Size: 1 << 20}, nil
}

func (o *overlapSource) Read(ctx context.Context, path string) ([]byte, error) {
	return []byte(strings.Join(o.lines, "\n")), nil
}

func (o *overlapSource) PartialRead(ctx context.Context, path string, headLines, tailLines int) (source.PartialContent, error) {
	head := o.head
	if head > len(o.lines) {
		head = len(o.lines)
	}
	tail := o.tail
	if tail > len(o.lines) {
		tail = len(o.lines)
	}
	return source.PartialContent{
		Head:       o.lines[:head],
		Tail:       o.lines[len(o.lines)-tail:],
		TotalLines: len(o.lines),
	}, nil
}

func TestParse_PartialReadOverlapWithoutUUIDsNotDoubleCounted(t *testing.T) {
	noUUID := func(ts string) string {
		return fmt.Sprintf(`{"type":"assistant","sessionId":"s1","timestamp":%q,`+
			`"message":{"model":"claude-sonnet-4-20250514","usage":{"input_tokens":10,"output_tokens":1}}}`, ts)
	}
	var lines []string
	for i := 0; i < 6; i++ {
		lines = append(lines, noUUID(fmt.Sprintf("2026-03-01T10:00:%02dZ", i)))
	}

	src := &overlapSource{lines: lines, head: 5, tail: 5}
	s := NewScanner()
	s.Threshold = 64
	s.HeadLines = 5
	s.TailLines = 5

	result, err := s.Parse(context.Background(), File{Source: src, Path: "/remote/overlap.jsonl"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(result.Entries) != 6 {
		t.Fatalf("entry count = %d, want 6 distinct entries", len(result.Entries))
	}
	var total int64
	for _, e := range result.Entries {
		total += e.InputTokens
	}
	if total != 60 {
		t.Fatalf("input tokens = %d, want 60 (overlap double-counted)", total)
	}
}

func TestDateIndex_LookupByDate(t *testing.T) {
	idx := NewDateIndex()
	idx.AddAll("local:/a.jsonl", []Entry{
		{Timestamp: mustTime(t, "2026-03-01T10:00:00Z")},
		{Timestamp: mustTime(t, "2026-03-01T22:00:00Z")},
		{Timestamp: mustTime(t, "2026-03-02T01:00:00Z")},
	})
	idx.AddAll("local:/b.jsonl", []Entry{
		{Timestamp: mustTime(t, "2026-03-02T09:00:00Z")},
	})

	if got := idx.FilesForDate("2026-03-01"); len(got) != 1 || got[0] != "local:/a.jsonl" {
		t.Fatalf("2026-03-01 files = %v", got)
	}
	if got := idx.FilesForDate("2026-03-02"); len(got) != 2 {
		t.Fatalf("2026-03-02 files = %v, want both", got)
	}
	if got := idx.FilesForDate("2026-03-03"); len(got) != 0 {
		t.Fatalf("2026-03-03 files = %v, want none", got)
	}
	if got := idx.Dates(); len(got) != 2 || got[0] != "2026-03-01" {
		t.Fatalf("dates = %v", got)
	}
}

func mustTime(t *testing.T, raw string) time.Time {
	t.Helper()
	parsed, err := parseTimestamp(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return parsed
}
