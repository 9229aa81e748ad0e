package recon

import "time"

// Stage names one phase of the reconstruction pipeline. All store mutation
// happens in StageUpserting, which dry-run skips entirely.
type Stage string

const (
	StageScanning  Stage = "scanning"
	StageParsing   Stage = "parsing"
	StageMatching  Stage = "matching"
	StageCosting   Stage = "costing"
	StageUpserting Stage = "upserting"
	StageDone      Stage = "done"
)

// FileError records one isolated failure. A failing file or host never
// aborts the run; it lands here instead.
type FileError struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

// DateRange is the span of calendar dates the run actually covered.
type DateRange struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// Result is the structured outcome of one run. It is always well-formed:
// a run that finds no reachable source returns zero counts and a populated
// Errors list rather than failing.
type Result struct {
	QueriesFound    int `json:"queries_found"`
	QueriesInserted int `json:"queries_inserted"`
	QueriesUpdated  int `json:"queries_updated"`
	QueriesSkipped  int `json:"queries_skipped"`

	// Skip diagnostics: events with no candidate transcript file for their
	// date versus events whose window contained no usage entries.
	SkippedNoFiles int `json:"skipped_no_files"`
	SkippedNoUsage int `json:"skipped_no_usage"`

	DateRangeCovered DateRange     `json:"date_range_covered"`
	Errors           []FileError   `json:"errors,omitempty"`
	Duration         time.Duration `json:"duration"`
	DryRun           bool          `json:"dry_run"`
}

func (r *Result) addError(file string, err error) {
	r.Errors = append(r.Errors, FileError{File: file, Error: err.Error()})
}
