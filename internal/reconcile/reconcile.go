// Package reconcile merges incoming export entities into one account scope of
// the store. Each entity is created, updated in place, or skipped; nothing is
// ever deleted, because an entity missing from an export may simply be
// outside that export's time window.
package reconcile

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/hpungsan/chatkeep/internal/errors"
	"github.com/hpungsan/chatkeep/internal/identity"
	"github.com/hpungsan/chatkeep/internal/layout"
)

// Scope identifies the account scope a batch is reconciled against.
type Scope struct {
	Provider       string
	AccountEmail   string
	OwnerAccountID string
	Kind           identity.Kind
}

// Reconciler applies create/update/skip decisions to the store.
type Reconciler struct {
	layout *layout.Layout
	legacy layout.LegacyFunc
	logger *log.Logger
	now    func() time.Time
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger used for per-entity and warning lines.
func WithLogger(l *log.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// WithLegacy sets the decoder used to adopt stored files that have no trailer.
func WithLegacy(fn layout.LegacyFunc) Option {
	return func(r *Reconciler) { r.legacy = fn }
}

// WithClock overrides the clock used for trailer sync timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// New creates a Reconciler writing through l.
func New(l *layout.Layout, opts ...Option) *Reconciler {
	r := &Reconciler{
		layout: l,
		logger: log.New(io.Discard),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile processes incoming in order. Per-entity problems are recorded in
// the report and never abort the batch. A filesystem failure aborts the rest
// of the batch with a StoreWriteFailure; the partial report is returned with
// the error.
func (r *Reconciler) Reconcile(ctx context.Context, scope Scope, incoming []identity.Record) (*Report, error) {
	report := NewReport()
	if len(incoming) == 0 {
		return report, nil
	}
	scope.OwnerAccountID = identity.NormalizeAccountID(scope.OwnerAccountID)

	dir, err := r.layout.Dir(scope.Provider, scope.AccountEmail, scope.Kind)
	if err != nil {
		return report, errors.NewInvalidRequest(err.Error())
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return report, errors.NewStoreWriteFailure(dir, err)
	}
	listing, err := layout.Scan(dir, r.legacy)
	if err != nil {
		return report, errors.NewStoreWriteFailure(dir, err)
	}
	for _, id := range listing.Duplicates() {
		r.logger.Warn("entity stored in more than one file; newest copy is used", "entity", id, "dir", dir)
	}

	for i, rec := range incoming {
		select {
		case <-ctx.Done():
			return report, errors.NewCancelled("reconcile")
		default:
		}

		outcome, warning, err := r.reconcileOne(scope, listing, rec)
		outcome.Index = i
		if err != nil {
			return report, err
		}
		if warning != nil {
			report.Warnings = append(report.Warnings, *warning)
			r.logger.Warn("cross-account collision",
				"entity", warning.EntityID,
				"scope_account", warning.ScopeAccountID,
				"incoming_account", warning.IncomingAccountID)
		}
		report.add(outcome)
	}

	return report, nil
}

func (r *Reconciler) reconcileOne(scope Scope, listing *layout.Listing, rec identity.Record) (Outcome, *Warning, error) {
	id, err := identity.Resolve(rec, scope.OwnerAccountID)
	if err != nil {
		return skipFor(rec, err), nil, nil
	}
	if id.Kind == "" {
		id.Kind = scope.Kind
	}

	existing, found := listing.Find(id.EntityID)

	// Cross-account protection: either side claiming a different owner
	// leaves the scope untouched.
	if id.AccountID != scope.OwnerAccountID ||
		(found && existing.Trailer.AccountID != "" && !identity.SameAccount(existing.Trailer.AccountID, scope.OwnerAccountID)) {
		incomingAccount := id.AccountID
		if incomingAccount == scope.OwnerAccountID {
			incomingAccount = existing.Trailer.AccountID
		}
		w := &Warning{
			EntityID:          id.EntityID,
			ScopeAccountID:    scope.OwnerAccountID,
			IncomingAccountID: incomingAccount,
		}
		if found {
			w.ExistingPath = existing.Path
		}
		return Outcome{
			EntityID:    id.EntityID,
			DisplayName: id.DisplayName,
			Action:      ActionSkipped,
			Reason:      SkipCrossAccountMismatch,
			Message:     w.String(),
		}, w, nil
	}

	if !found {
		return r.create(scope, listing, id, rec)
	}
	return r.update(scope, listing, existing, id, rec)
}

func (r *Reconciler) create(scope Scope, listing *layout.Listing, id identity.Identity, rec identity.Record) (Outcome, *Warning, error) {
	path, err := r.layout.ResolvePath(scope.Provider, scope.AccountEmail, scope.Kind, id.EntityID, id.DisplayName, id.CreatedAt, listing)
	if err != nil {
		return Outcome{}, nil, errors.NewInvalidRequest(err.Error())
	}

	tr := layout.NewTrailer(scope.Provider, id, r.now())
	data, err := layout.Encode(rec.Payload, tr)
	if err != nil {
		return malformed(id, err), nil, nil
	}
	if err := layout.WriteFile(path, data); err != nil {
		return Outcome{}, nil, errors.NewStoreWriteFailure(path, err)
	}

	listing.Put(layout.StoredRecord{Path: path, Trailer: tr}, "")
	r.logger.Debug("created", "entity", id.EntityID, "path", path)
	return Outcome{
		EntityID:    id.EntityID,
		DisplayName: id.DisplayName,
		Action:      ActionCreated,
		Path:        path,
	}, nil, nil
}

func (r *Reconciler) update(scope Scope, listing *layout.Listing, existing layout.StoredRecord, id identity.Identity, rec identity.Record) (Outcome, *Warning, error) {
	// The timestamp gates every mutation, renames included.
	if !id.UpdatedAt.After(existing.Trailer.UpdatedAt) {
		out := Outcome{
			EntityID:    id.EntityID,
			DisplayName: id.DisplayName,
			Action:      ActionSkipped,
			Reason:      SkipNotNewer,
			Path:        existing.Path,
		}
		if id.DisplayName != existing.Trailer.DisplayName {
			out.Message = fmt.Sprintf("rename to %q ignored: updated_at is not newer than stored copy", id.DisplayName)
		}
		return out, nil, nil
	}

	// created_at is immutable once stored.
	if !existing.Trailer.CreatedAt.IsZero() {
		id.CreatedAt = existing.Trailer.CreatedAt
	}

	newPath := existing.Path
	if id.DisplayName != existing.Trailer.DisplayName {
		p, err := r.layout.ResolvePath(scope.Provider, scope.AccountEmail, scope.Kind, id.EntityID, id.DisplayName, id.CreatedAt, listing)
		if err != nil {
			return Outcome{}, nil, errors.NewInvalidRequest(err.Error())
		}
		newPath = p
	}

	tr := layout.NewTrailer(scope.Provider, id, r.now())
	data, err := layout.Encode(rec.Payload, tr)
	if err != nil {
		return malformed(id, err), nil, nil
	}
	if err := layout.Move(existing.Path, newPath, data); err != nil {
		return Outcome{}, nil, errors.NewStoreWriteFailure(newPath, err)
	}

	listing.Put(layout.StoredRecord{Path: newPath, Trailer: tr}, existing.Path)
	out := Outcome{
		EntityID:    id.EntityID,
		DisplayName: id.DisplayName,
		Action:      ActionUpdated,
		Path:        newPath,
	}
	if newPath != existing.Path {
		out.PrevPath = existing.Path
	}
	r.logger.Debug("updated", "entity", id.EntityID, "path", newPath, "renamed", out.PrevPath != "")
	return out, nil, nil
}

// skipFor maps an identity error onto a skipped outcome.
func skipFor(rec identity.Record, err error) Outcome {
	out := Outcome{
		EntityID:    rec.EntityID,
		DisplayName: rec.Name,
		Action:      ActionSkipped,
		Reason:      SkipMalformed,
		Message:     err.Error(),
	}
	var kErr *errors.KeepError
	if stderrors.As(err, &kErr) {
		out.Message = kErr.Message
		if kErr.Code == errors.ErrMissingAccountBinding {
			out.Reason = SkipMissingAccountBinding
		}
	}
	return out
}

func malformed(id identity.Identity, err error) Outcome {
	return Outcome{
		EntityID:    id.EntityID,
		DisplayName: id.DisplayName,
		Action:      ActionSkipped,
		Reason:      SkipMalformed,
		Message:     err.Error(),
	}
}
