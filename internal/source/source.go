// Package source abstracts transcript file access so the scanner works
// identically over the local filesystem and SSH-reachable remote hosts.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Entry is one directory listing result.
type Entry struct {
	Path    string
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// FileInfo is the Stat result for one path.
type FileInfo struct {
	Size    int64
	ModTime time.Time
}

// PartialContent is the bounded read used for oversized files: the first and
// last lines plus the file's total line count.
type PartialContent struct {
	Head       []string
	Tail       []string
	TotalLines int
}

// Source is the transcript access contract. Both implementations satisfy it;
// callers never branch on local vs remote.
type Source interface {
	// Label identifies the source in error reports ("local" or the host name).
	Label() string
	List(ctx context.Context, dir string) ([]Entry, error)
	Stat(ctx context.Context, path string) (FileInfo, error)
	Read(ctx context.Context, path string) ([]byte, error)
	PartialRead(ctx context.Context, path string, headLines, tailLines int) (PartialContent, error)
}

// ErrTooLarge is returned when a transfer would exceed the source's maximum
// buffer size. The caller records it and moves on; there is no mid-file retry.
var ErrTooLarge = errors.New("source: transfer exceeds maximum buffer size")

// ConnectionError wraps a failure to reach or execute against a remote host.
type ConnectionError struct {
	Host string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("source: host %s unreachable: %v", e.Host, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TimeoutError wraps a remote operation that exceeded its deadline.
type TimeoutError struct {
	Host string
	Op   string
	Err  error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("source: host %s: %s timed out: %v", e.Host, e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }
