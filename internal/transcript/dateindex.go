package transcript

import (
	"sort"

	"github.com/samber/lo"
)

// DateIndex maps a transcript file key to the set of calendar dates it
// contains usage for. It is rebuilt for every reconstruction run and turns
// "which files might hold data for event X" into a set lookup instead of a
// scan over every discovered file.
type DateIndex struct {
	byFile map[string]map[string]bool
	byDate map[string][]string
}

func NewDateIndex() *DateIndex {
	return &DateIndex{
		byFile: make(map[string]map[string]bool),
		byDate: make(map[string][]string),
	}
}

// Add records that the file contains usage on the entry's calendar date.
func (idx *DateIndex) Add(fileKey string, entry Entry) {
	date := entry.DateKey()
	dates, ok := idx.byFile[fileKey]
	if !ok {
		dates = make(map[string]bool)
		idx.byFile[fileKey] = dates
	}
	if dates[date] {
		return
	}
	dates[date] = true
	idx.byDate[date] = append(idx.byDate[date], fileKey)
}

// AddAll indexes every entry of one parsed file.
func (idx *DateIndex) AddAll(fileKey string, entries []Entry) {
	for _, entry := range entries {
		idx.Add(fileKey, entry)
	}
}

// FilesForDate returns the keys of every file touching the given date, in a
// stable order. The result deliberately spans unrelated sessions: sub-agent
// transcripts do not always carry the parent's session id, so filtering by
// session identity would lose their usage.
func (idx *DateIndex) FilesForDate(date string) []string {
	files := lo.Uniq(idx.byDate[date])
	sort.Strings(files)
	return files
}

// Dates returns every indexed calendar date, sorted ascending.
func (idx *DateIndex) Dates() []string {
	dates := lo.Keys(idx.byDate)
	sort.Strings(dates)
	return dates
}

// Files returns the number of indexed files.
func (idx *DateIndex) Files() int {
	return len(idx.byFile)
}
