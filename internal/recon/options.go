// Package recon reconstructs missing or incomplete usage events from
// transcript files, attributing parsed usage to store records by time window
// and upserting the results idempotently.
package recon

import (
	"time"

	"github.com/maestro-ai/usage-engine/internal/source"
)

// Options controls one reconstruction run.
type Options struct {
	// IncludeLocal scans the local transcript roots. Defaults to true.
	IncludeLocal bool
	// LocalRoots are the local directories to scan; empty falls back to the
	// orchestrator's configured roots.
	LocalRoots []string

	// IncludeRemote scans the configured remote hosts. Defaults to false.
	IncludeRemote bool
	Remotes       []source.SSHConfig

	// From/To bound the run to a date range. Zero values mean unbounded.
	From time.Time
	To   time.Time

	// DryRun executes the full pipeline but suppresses every store mutation.
	DryRun bool
}

// DefaultOptions returns the baseline run configuration: local only, full
// history, live writes.
func DefaultOptions() Options {
	return Options{IncludeLocal: true}
}

func (o Options) inRange(t time.Time) bool {
	if !o.From.IsZero() && t.Before(o.From) {
		return false
	}
	if !o.To.IsZero() && t.After(o.To) {
		return false
	}
	return true
}
