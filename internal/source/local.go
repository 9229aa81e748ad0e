package source

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Local reads transcripts straight from the local filesystem.
type Local struct {
	// MaxBytes caps Read sizes; zero means DefaultMaxBytes.
	MaxBytes int64
}

const DefaultMaxBytes = 50 * 1024 * 1024

func NewLocal() *Local {
	return &Local{MaxBytes: DefaultMaxBytes}
}

func (l *Local) Label() string { return "local" }

func (l *Local) maxBytes() int64 {
	if l.MaxBytes > 0 {
		return l.MaxBytes
	}
	return DefaultMaxBytes
}

func (l *Local) List(ctx context.Context, dir string) ([]Entry, error) {
	var out []Entry
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			// A broken root is a real failure; inaccessible subtrees
			// below it are skipped.
			if path == dir {
				return err
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		out = append(out, Entry{
			Path:    path,
			Size:    info.Size(),
			ModTime: info.ModTime(),
			IsDir:   info.IsDir(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("source: listing %s: %w", dir, err)
	}
	return out, nil
}

func (l *Local) Stat(ctx context.Context, path string) (FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileInfo{}, fmt.Errorf("source: stat %s: %w", path, err)
	}
	return FileInfo{Size: info.Size(), ModTime: info.ModTime()}, nil
}

func (l *Local) Read(ctx context.Context, path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("source: stat before read %s: %w", path, err)
	}
	if info.Size() > l.maxBytes() {
		return nil, fmt.Errorf("source: read %s (%d bytes): %w", path, info.Size(), ErrTooLarge)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("source: read %s: %w", path, err)
	}
	return data, nil
}

func (l *Local) PartialRead(ctx context.Context, path string, headLines, tailLines int) (PartialContent, error) {
	file, err := os.Open(path)
	if err != nil {
		return PartialContent{}, fmt.Errorf("source: open %s: %w", path, err)
	}
	defer file.Close()

	var (
		content PartialContent
		tail    = make([]string, 0, tailLines)
	)
	scanner := bufio.NewScanner(file)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		content.TotalLines++
		if content.TotalLines <= headLines {
			content.Head = append(content.Head, line)
			continue
		}
		if tailLines > 0 {
			if len(tail) == tailLines {
				tail = append(tail[1:], line)
			} else {
				tail = append(tail, line)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return PartialContent{}, fmt.Errorf("source: partial read %s: %w", path, err)
	}
	content.Tail = tail
	return content, nil
}
