package transcript

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/maestro-ai/usage-engine/internal/source"
)

// PartialReadThreshold is the file size above which the scanner requests a
// bounded head/tail read instead of a full transfer.
const PartialReadThreshold = 5 * 1024 * 1024

const (
	defaultHeadLines = 500
	defaultTailLines = 500
)

// File is one discovered transcript file, keyed by source label plus path so
// the same relative path on two hosts never collides.
type File struct {
	Source source.Source
	Path   string
	Size   int64
}

// Key identifies the file across the run (cache key, date index key).
func (f File) Key() string {
	return f.Source.Label() + ":" + f.Path
}

// Project is the decoded project directory the file belongs to, for
// human-readable diagnostics. See DecodeProjectPath for the caveats.
func (f File) Project() string {
	return DecodeProjectPath(filepath.Dir(f.Path))
}

// ParseResult carries the entries recovered from one file. Truncated is set
// when the file was read partially; the middle lines are unknown and totals
// derived from it undercount by construction.
type ParseResult struct {
	Entries   []Entry
	Truncated bool
	// SkippedLines counts malformed or non-usage lines, for diagnostics.
	SkippedLines int
}

// Scanner walks a transcript root and parses the files it finds.
type Scanner struct {
	Threshold int64
	HeadLines int
	TailLines int
}

func NewScanner() *Scanner {
	return &Scanner{
		Threshold: PartialReadThreshold,
		HeadLines: defaultHeadLines,
		TailLines: defaultTailLines,
	}
}

// Discover enumerates transcript files under root, including sub-agent files
// nested below session directories.
func (s *Scanner) Discover(ctx context.Context, src source.Source, root string) ([]File, error) {
	entries, err := src.List(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("transcript: discover %s: %w", root, err)
	}

	var files []File
	for _, e := range entries {
		if e.IsDir || !strings.HasSuffix(strings.ToLower(e.Path), ".jsonl") {
			continue
		}
		files = append(files, File{Source: src, Path: e.Path, Size: e.Size})
	}
	return files, nil
}

// Parse reads one file, fully or partially depending on its size, and
// extracts its usage entries. Malformed lines are skipped, never fatal.
func (s *Scanner) Parse(ctx context.Context, f File) (ParseResult, error) {
	size := f.Size
	if size == 0 {
		info, err := f.Source.Stat(ctx, f.Path)
		if err != nil {
			return ParseResult{}, fmt.Errorf("transcript: stat %s: %w", f.Path, err)
		}
		size = info.Size
	}

	if size > s.threshold() {
		return s.parsePartial(ctx, f)
	}
	return s.parseFull(ctx, f)
}

func (s *Scanner) threshold() int64 {
	if s.Threshold > 0 {
		return s.Threshold
	}
	return PartialReadThreshold
}

func (s *Scanner) parseFull(ctx context.Context, f File) (ParseResult, error) {
	data, err := f.Source.Read(ctx, f.Path)
	if err != nil {
		return ParseResult{}, fmt.Errorf("transcript: read %s: %w", f.Path, err)
	}

	var result ParseResult
	scanner := bufio.NewScanner(bytes.NewReader(data))
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		entry, ok := ParseLine(scanner.Bytes())
		if !ok {
			result.SkippedLines++
			continue
		}
		result.Entries = append(result.Entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return ParseResult{}, fmt.Errorf("transcript: scan %s: %w", f.Path, err)
	}
	return result, nil
}

func (s *Scanner) parsePartial(ctx context.Context, f File) (ParseResult, error) {
	head := s.HeadLines
	if head <= 0 {
		head = defaultHeadLines
	}
	tail := s.TailLines
	if tail <= 0 {
		tail = defaultTailLines
	}

	content, err := f.Source.PartialRead(ctx, f.Path, head, tail)
	if err != nil {
		return ParseResult{}, fmt.Errorf("transcript: partial read %s: %w", f.Path, err)
	}

	// Head and tail overlap when the file barely exceeds the threshold.
	// Trimming by line count also covers entries that carry no uuid.
	tailSection := content.Tail
	if overlap := len(content.Head) + len(content.Tail) - content.TotalLines; overlap > 0 {
		if overlap >= len(tailSection) {
			tailSection = nil
		} else {
			tailSection = tailSection[overlap:]
		}
	}

	result := ParseResult{Truncated: content.TotalLines > head+tail}
	seen := make(map[string]bool)
	for _, line := range append(append([]string{}, content.Head...), tailSection...) {
		entry, ok := ParseLine([]byte(line))
		if !ok {
			result.SkippedLines++
			continue
		}
		if entry.UUID != "" {
			if seen[entry.UUID] {
				continue
			}
			seen[entry.UUID] = true
		}
		result.Entries = append(result.Entries, entry)
	}
	return result, nil
}
