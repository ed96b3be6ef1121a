package ops

import (
	"database/sql"
	"strings"

	"github.com/hpungsan/chatkeep/internal/db"
	"github.com/hpungsan/chatkeep/internal/errors"
	"github.com/hpungsan/chatkeep/internal/ledger"
	"github.com/hpungsan/chatkeep/internal/provider"
)

// HistoryInput contains parameters for listing sync runs.
type HistoryInput struct {
	Provider string // optional filter
	Limit    int    // default: 20, max: 100
	Offset   int    // default: 0
}

// HistoryOutput contains a page of sync runs.
type HistoryOutput struct {
	Runs       []db.Run   `json:"runs"`
	Pagination Pagination `json:"pagination"`
	Sort       string     `json:"sort"`
}

// History lists past sync runs, newest first.
func History(database *sql.DB, input HistoryInput) (*HistoryOutput, error) {
	filter := db.RunFilter{
		Limit:  clampLimit(input.Limit, DefaultHistoryLimit, MaxHistoryLimit),
		Offset: max(input.Offset, 0),
	}
	if name := strings.TrimSpace(input.Provider); name != "" {
		p, err := provider.Get(name)
		if err != nil {
			return nil, err
		}
		filter.Provider = p.Name()
	}

	runs, total, err := db.ListRuns(database, filter)
	if err != nil {
		return nil, err
	}

	return &HistoryOutput{
		Runs: runs,
		Pagination: Pagination{
			Limit:   filter.Limit,
			Offset:  filter.Offset,
			HasMore: filter.Offset+len(runs) < total,
			Total:   total,
		},
		Sort: "started_at_desc",
	}, nil
}

// RunDetail is one sync run with its per-archive results.
type RunDetail struct {
	Run      db.Run             `json:"run"`
	Archives []db.ArchiveResult `json:"archives"`
}

// ShowRun returns a sync run and its archive results.
func ShowRun(database *sql.DB, runID string) (*RunDetail, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, errors.NewInvalidRequest("run id is required")
	}
	run, err := db.GetRun(database, runID)
	if err != nil {
		return nil, err
	}
	archives, err := db.ListArchiveResults(database, run.ID)
	if err != nil {
		return nil, err
	}
	return &RunDetail{Run: *run, Archives: archives}, nil
}

// LedgerOutput lists the archives recorded in the ledger.
type LedgerOutput struct {
	Path    string         `json:"path"`
	Entries []ledger.Entry `json:"entries"`
}

// Ledger returns the archive ledger entries, most recently processed first.
func Ledger(archivedExportsDir string) (*LedgerOutput, error) {
	led, err := ledger.Open(archivedExportsDir)
	if err != nil {
		return nil, err
	}
	entries := ledger.SortedByTime(led.Entries())
	if entries == nil {
		entries = []ledger.Entry{}
	}
	return &LedgerOutput{Path: led.Path(), Entries: entries}, nil
}
