package db

import (
	"database/sql"
	stderrors "errors"

	"github.com/hpungsan/chatkeep/internal/errors"
)

// RunStatus is the lifecycle state of a sync run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunOK        RunStatus = "ok"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// ArchiveStatus is the outcome of one export archive within a run.
type ArchiveStatus string

const (
	ArchiveProcessed        ArchiveStatus = "processed"
	ArchiveAlreadyProcessed ArchiveStatus = "already_processed"
	ArchiveInvalid          ArchiveStatus = "invalid"
	ArchiveFailed           ArchiveStatus = "failed"
)

// Run is one sync invocation for a single provider.
type Run struct {
	ID           string    `json:"id"`
	Provider     string    `json:"provider"`
	SearchDir    string    `json:"search_dir"`
	StartedAt    int64     `json:"started_at"`
	FinishedAt   *int64    `json:"finished_at,omitempty"`
	Status       RunStatus `json:"status"`
	ErrorCode    *string   `json:"error_code,omitempty"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	Archives     int       `json:"archives"`
	Created      int       `json:"created"`
	Updated      int       `json:"updated"`
	Skipped      int       `json:"skipped"`
}

// ArchiveResult records what happened to one archive during a run.
type ArchiveResult struct {
	ID           int64         `json:"id"`
	RunID        string        `json:"run_id"`
	Archive      string        `json:"archive"`
	Fingerprint  *string       `json:"fingerprint,omitempty"`
	AccountEmail *string       `json:"account_email,omitempty"`
	Status       ArchiveStatus `json:"status"`
	Created      int           `json:"created"`
	Updated      int           `json:"updated"`
	Skipped      int           `json:"skipped"`
	Warnings     int           `json:"warnings"`
	RelocatedTo  *string       `json:"relocated_to,omitempty"`
	Message      *string       `json:"message,omitempty"`
	ProcessedAt  int64         `json:"processed_at"`
}

// RunFilter narrows ListRuns. Zero values mean no filter.
type RunFilter struct {
	Provider string
	Limit    int
	Offset   int
}

// InsertRun stores a new run, normally in the running state.
func InsertRun(db *sql.DB, r *Run) error {
	query := `
		INSERT INTO sync_runs (
			id, provider, search_dir, started_at, finished_at, status,
			error_code, error_message, archives, created, updated, skipped
		) VALUES (?, ?, ?, ?, NULL, ?, NULL, NULL, 0, 0, 0, 0)
	`
	if _, err := db.Exec(query, r.ID, r.Provider, r.SearchDir, r.StartedAt, string(r.Status)); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// FinishRun writes the final status, totals and error (if any) of a run.
func FinishRun(db *sql.DB, r *Run) error {
	query := `
		UPDATE sync_runs
		SET finished_at = ?, status = ?, error_code = ?, error_message = ?,
			archives = ?, created = ?, updated = ?, skipped = ?
		WHERE id = ?
	`
	result, err := db.Exec(query,
		r.FinishedAt, string(r.Status), toNullString(r.ErrorCode), toNullString(r.ErrorMessage),
		r.Archives, r.Created, r.Updated, r.Skipped, r.ID,
	)
	if err != nil {
		return errors.NewInternal(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound(r.ID)
	}
	return nil
}

// InsertArchiveResult appends one archive outcome to a run.
func InsertArchiveResult(db *sql.DB, a *ArchiveResult) error {
	query := `
		INSERT INTO archive_results (
			run_id, archive, fingerprint, account_email, status,
			created, updated, skipped, warnings, relocated_to, message, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := db.Exec(query,
		a.RunID, a.Archive, toNullString(a.Fingerprint), toNullString(a.AccountEmail), string(a.Status),
		a.Created, a.Updated, a.Skipped, a.Warnings, toNullString(a.RelocatedTo), toNullString(a.Message),
		a.ProcessedAt,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return errors.NewInternal(err)
	}
	a.ID = id
	return nil
}

const runColumns = `
	id, provider, search_dir, started_at, finished_at, status,
	error_code, error_message, archives, created, updated, skipped
`

// GetRun retrieves a run by its ULID.
func GetRun(db *sql.DB, id string) (*Run, error) {
	row := db.QueryRow(`SELECT `+runColumns+` FROM sync_runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFound(id)
		}
		return nil, errors.NewInternal(err)
	}
	return r, nil
}

// ListRuns returns runs newest first, plus the total matching the filter
// before pagination.
func ListRuns(db *sql.DB, f RunFilter) ([]Run, int, error) {
	where := ""
	var args []any
	if f.Provider != "" {
		where = " WHERE provider = ?"
		args = append(args, f.Provider)
	}

	var total int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sync_runs`+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	query := `SELECT ` + runColumns + ` FROM sync_runs` + where +
		` ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`
	rows, err := db.Query(query, append(args, limit, max(f.Offset, 0))...)
	if err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, 0, errors.NewInternal(err)
		}
		runs = append(runs, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	return runs, total, nil
}

// ListArchiveResults returns the archive outcomes of a run in insertion order.
func ListArchiveResults(db *sql.DB, runID string) ([]ArchiveResult, error) {
	query := `
		SELECT id, run_id, archive, fingerprint, account_email, status,
			created, updated, skipped, warnings, relocated_to, message, processed_at
		FROM archive_results
		WHERE run_id = ?
		ORDER BY id
	`
	rows, err := db.Query(query, runID)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	results := []ArchiveResult{}
	for rows.Next() {
		var (
			a                                        ArchiveResult
			status                                   string
			fingerprint, email, relocatedTo, message sql.NullString
		)
		if err := rows.Scan(
			&a.ID, &a.RunID, &a.Archive, &fingerprint, &email, &status,
			&a.Created, &a.Updated, &a.Skipped, &a.Warnings, &relocatedTo, &message, &a.ProcessedAt,
		); err != nil {
			return nil, errors.NewInternal(err)
		}
		a.Status = ArchiveStatus(status)
		a.Fingerprint = fromNullString(fingerprint)
		a.AccountEmail = fromNullString(email)
		a.RelocatedTo = fromNullString(relocatedTo)
		a.Message = fromNullString(message)
		results = append(results, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return results, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanRun scans a single row into a Run struct.
func scanRun(row rowScanner) (*Run, error) {
	var (
		r          Run
		status     string
		finishedAt sql.NullInt64
		errCode    sql.NullString
		errMessage sql.NullString
	)

	err := row.Scan(
		&r.ID, &r.Provider, &r.SearchDir, &r.StartedAt, &finishedAt, &status,
		&errCode, &errMessage, &r.Archives, &r.Created, &r.Updated, &r.Skipped,
	)
	if err != nil {
		return nil, err
	}

	r.Status = RunStatus(status)
	if finishedAt.Valid {
		r.FinishedAt = &finishedAt.Int64
	}
	r.ErrorCode = fromNullString(errCode)
	r.ErrorMessage = fromNullString(errMessage)

	return &r, nil
}

// toNullString converts a *string to sql.NullString.
func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// fromNullString converts a sql.NullString to *string.
func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
