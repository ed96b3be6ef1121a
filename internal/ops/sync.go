package ops

import (
	"bytes"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/chatkeep/internal/config"
	"github.com/hpungsan/chatkeep/internal/db"
	"github.com/hpungsan/chatkeep/internal/errors"
	"github.com/hpungsan/chatkeep/internal/identity"
	"github.com/hpungsan/chatkeep/internal/layout"
	"github.com/hpungsan/chatkeep/internal/ledger"
	"github.com/hpungsan/chatkeep/internal/provider"
	"github.com/hpungsan/chatkeep/internal/reconcile"
)

// UserFileName is the raw account record saved in every account directory.
const UserFileName = "user.json"

// SyncInput contains parameters for the Sync operation.
type SyncInput struct {
	Provider  string      // required: claude | chatgpt
	SearchDir string      // intake directory; default: cfg.ZipSearchDir
	Logger    *log.Logger // optional; receives reconciler warnings
}

// ArchiveOutcome is what happened to one archive during a sync.
type ArchiveOutcome struct {
	Archive      string            `json:"archive"`
	Fingerprint  string            `json:"fingerprint,omitempty"`
	AccountEmail string            `json:"account_email,omitempty"`
	Status       db.ArchiveStatus  `json:"status"`
	RelocatedTo  string            `json:"relocated_to,omitempty"`
	Report       *reconcile.Report `json:"report,omitempty"`
	Prior        *ledger.Entry     `json:"prior,omitempty"` // set for already processed archives
	ErrorCode    string            `json:"error_code,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// Summary renders the archive outcome as one line.
func (a ArchiveOutcome) Summary() string {
	switch a.Status {
	case db.ArchiveProcessed:
		return a.Report.Summary()
	case db.ArchiveAlreadyProcessed:
		if a.Prior != nil && a.Prior.Summary != "" {
			return "already processed on " + a.Prior.ProcessedAt.UTC().Format("2006-01-02") + ": " + a.Prior.Summary
		}
		return "already processed"
	default:
		return a.Error
	}
}

// SyncOutput contains the result of the Sync operation.
type SyncOutput struct {
	RunID     string           `json:"run_id"`
	Provider  string           `json:"provider"`
	SearchDir string           `json:"search_dir"`
	Status    db.RunStatus     `json:"status"`
	Archives  []ArchiveOutcome `json:"archives"`
	Created   int              `json:"created"`
	Updated   int              `json:"updated"`
	Skipped   int              `json:"skipped"`
}

// syncRun carries the state of one provider run.
type syncRun struct {
	database *sql.DB
	cfg      *config.Config
	provider provider.Provider
	layout   *layout.Layout
	ledger   *ledger.Ledger
	logger   *log.Logger
	run      *db.Run
	out      *SyncOutput
}

// Sync ingests every export archive of one provider found in the intake
// directory. Archives are processed one at a time in name order:
//
//   - an archive whose fingerprint is in the ledger is reported with its
//     prior outcome and moved out of intake;
//   - an archive that fails validation is reported and left in place, and
//     the next archive continues;
//   - otherwise conversations then projects are reconciled into the store,
//     the fingerprint is recorded in the ledger and the archive is moved to
//     the archived exports directory.
//
// A store write failure, ledger corruption or cancellation stops the run.
// Archives completed before that stay committed. The partial output is
// returned together with the error. Every run is recorded in the history
// database.
func Sync(ctx context.Context, database *sql.DB, cfg *config.Config, input SyncInput) (*SyncOutput, error) {
	if database == nil || cfg == nil {
		return nil, errors.NewInternal(stderrors.New("sync requires a database and config"))
	}
	p, err := provider.Get(input.Provider)
	if err != nil {
		return nil, err
	}
	searchDir := strings.TrimSpace(input.SearchDir)
	if searchDir == "" {
		searchDir = cfg.ZipSearchDir
	}
	if searchDir == "" {
		return nil, errors.NewInvalidRequest("search directory is required")
	}
	if abs, err := filepath.Abs(searchDir); err == nil {
		searchDir = abs
	}

	logger := input.Logger
	if logger == nil {
		logger = log.Default()
	}

	s := &syncRun{
		database: database,
		cfg:      cfg,
		provider: p,
		layout:   layout.New(cfg.DataDir, cfg.MaxSlugLength),
		logger:   logger,
		run: &db.Run{
			ID:        newRunID(),
			Provider:  p.Name(),
			SearchDir: searchDir,
			StartedAt: time.Now().Unix(),
			Status:    db.RunRunning,
		},
	}
	s.out = &SyncOutput{
		RunID:     s.run.ID,
		Provider:  p.Name(),
		SearchDir: searchDir,
		Status:    db.RunRunning,
		Archives:  []ArchiveOutcome{},
	}

	if err := db.InsertRun(database, s.run); err != nil {
		return nil, err
	}

	err = s.execute(ctx)
	s.finish(err)
	return s.out, err
}

func (s *syncRun) execute(ctx context.Context) error {
	led, err := ledger.Open(s.cfg.ArchivedExportsDir)
	if err != nil {
		return err
	}
	s.ledger = led

	archives, err := provider.Discover(s.provider, s.out.SearchDir)
	if err != nil {
		return errors.NewInternal(err)
	}
	if len(archives) == 0 {
		log.Info("no export archives found", "provider", s.provider.Name(), "dir", s.out.SearchDir)
		return nil
	}

	for _, path := range archives {
		if ctx.Err() != nil {
			return errors.NewCancelled("sync")
		}
		outcome, err := s.processArchive(ctx, path)
		s.record(outcome)
		if err != nil {
			return err
		}
	}
	return nil
}

// processArchive handles one archive. A returned error stops the run; the
// outcome is always filled in.
func (s *syncRun) processArchive(ctx context.Context, path string) (ArchiveOutcome, error) {
	outcome := ArchiveOutcome{Archive: filepath.Base(path)}
	log.Info("processing archive", "provider", s.provider.Name(), "archive", outcome.Archive)

	fp, err := ledger.Fingerprint(path)
	if err != nil {
		outcome.fail(db.ArchiveFailed, errors.NewInternal(err))
		log.Error("cannot read archive", "archive", outcome.Archive, "error", err)
		return outcome, nil
	}
	outcome.Fingerprint = fp

	if prior, ok := s.ledger.Lookup(fp); ok {
		outcome.Status = db.ArchiveAlreadyProcessed
		outcome.Prior = &prior
		outcome.AccountEmail = prior.AccountEmail
		dest, err := s.ledger.Relocate(path, s.provider.Name())
		if err != nil {
			outcome.fail(db.ArchiveFailed, err)
			return outcome, err
		}
		outcome.RelocatedTo = dest
		log.Info("archive already processed", "archive", outcome.Archive, "moved_to", dest)
		return outcome, nil
	}

	exp, err := s.provider.Extract(path)
	if err != nil {
		outcome.fail(db.ArchiveInvalid, err)
		log.Error("invalid export, archive left in place", "archive", outcome.Archive, "error", err)
		return outcome, nil
	}
	outcome.AccountEmail = exp.AccountEmail

	if err := s.saveUser(exp); err != nil {
		outcome.fail(db.ArchiveFailed, err)
		return outcome, err
	}

	report := reconcile.NewReport()
	outcome.Report = report
	batches := []struct {
		kind    identity.Kind
		records []identity.Record
	}{
		{identity.KindConversation, exp.Conversations},
		{identity.KindProject, exp.Projects},
	}
	for _, b := range batches {
		r := reconcile.New(s.layout,
			reconcile.WithLogger(s.logger),
			reconcile.WithLegacy(s.provider.LegacyIdentity(b.kind)),
		)
		part, err := r.Reconcile(ctx, reconcile.Scope{
			Provider:       s.provider.Name(),
			AccountEmail:   exp.AccountEmail,
			OwnerAccountID: exp.AccountID,
			Kind:           b.kind,
		}, b.records)
		report.Merge(part)
		if err != nil {
			outcome.fail(db.ArchiveFailed, err)
			return outcome, err
		}
	}

	entry := ledger.Entry{
		Fingerprint:  fp,
		Archive:      outcome.Archive,
		Provider:     s.provider.Name(),
		AccountEmail: exp.AccountEmail,
		RunID:        s.run.ID,
		Created:      report.Created,
		Updated:      report.Updated,
		Skipped:      report.SkippedTotal(),
		Summary:      report.Summary(),
		ProcessedAt:  time.Now().UTC(),
	}
	if err := s.ledger.MarkProcessed(entry); err != nil {
		outcome.fail(db.ArchiveFailed, err)
		return outcome, err
	}
	outcome.Status = db.ArchiveProcessed

	dest, err := s.ledger.Relocate(path, s.provider.Name())
	if err != nil {
		// The archive is committed; only the move failed.
		outcome.ErrorCode, outcome.Error = errorFields(err)
		return outcome, err
	}
	outcome.RelocatedTo = dest
	log.Info("archive processed", "archive", outcome.Archive, "account", exp.AccountEmail, "result", report.Summary())
	return outcome, nil
}

// saveUser writes the raw account record to {account dir}/user.json.
func (s *syncRun) saveUser(exp *provider.Export) error {
	if len(exp.User) == 0 {
		return nil
	}
	dir, err := s.layout.AccountDir(s.provider.Name(), exp.AccountEmail)
	if err != nil {
		return errors.NewInvalidRequest(err.Error())
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, exp.User, "", "  "); err != nil {
		buf.Reset()
		buf.Write(exp.User)
	}
	buf.WriteByte('\n')
	path := filepath.Join(dir, UserFileName)
	if err := layout.WriteFile(path, buf.Bytes()); err != nil {
		return errors.NewStoreWriteFailure(path, err)
	}
	return nil
}

// record adds an archive outcome to the output and the history database.
func (s *syncRun) record(o ArchiveOutcome) {
	s.out.Archives = append(s.out.Archives, o)
	if o.Report != nil {
		s.out.Created += o.Report.Created
		s.out.Updated += o.Report.Updated
		s.out.Skipped += o.Report.SkippedTotal()
	}

	result := &db.ArchiveResult{
		RunID:        s.run.ID,
		Archive:      o.Archive,
		Fingerprint:  optional(o.Fingerprint),
		AccountEmail: optional(o.AccountEmail),
		Status:       o.Status,
		RelocatedTo:  optional(o.RelocatedTo),
		Message:      optional(o.Summary()),
		ProcessedAt:  time.Now().Unix(),
	}
	if o.Report != nil {
		result.Created = o.Report.Created
		result.Updated = o.Report.Updated
		result.Skipped = o.Report.SkippedTotal()
		result.Warnings = len(o.Report.Warnings)
	}
	if err := db.InsertArchiveResult(s.database, result); err != nil {
		log.Warn("could not record archive result in history", "archive", o.Archive, "error", err)
	}
}

// finish stores the final run status.
func (s *syncRun) finish(runErr error) {
	status := db.RunOK
	switch {
	case errors.Is(runErr, errors.ErrCancelled):
		status = db.RunCancelled
	case runErr != nil:
		status = db.RunFailed
	}
	s.out.Status = status

	finished := time.Now().Unix()
	s.run.FinishedAt = &finished
	s.run.Status = status
	s.run.Archives = len(s.out.Archives)
	s.run.Created = s.out.Created
	s.run.Updated = s.out.Updated
	s.run.Skipped = s.out.Skipped
	if runErr != nil {
		code, msg := errorFields(runErr)
		s.run.ErrorCode = optional(code)
		s.run.ErrorMessage = optional(msg)
	}
	if err := db.FinishRun(s.database, s.run); err != nil {
		log.Warn("could not record sync run in history", "run", s.run.ID, "error", err)
	}
}

func (o *ArchiveOutcome) fail(status db.ArchiveStatus, err error) {
	o.Status = status
	o.ErrorCode, o.Error = errorFields(err)
}

// errorFields splits an error into its code and message.
func errorFields(err error) (code, msg string) {
	var kErr *errors.KeepError
	if stderrors.As(err, &kErr) {
		return string(kErr.Code), kErr.Message
	}
	return string(errors.ErrInternal), err.Error()
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func newRunID() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
