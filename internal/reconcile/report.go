package reconcile

import (
	"fmt"
	"sort"
	"strings"
)

// Action is what reconciliation did with one incoming entity.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionSkipped Action = "skipped"
)

// SkipReason explains a skipped outcome.
type SkipReason string

const (
	SkipMalformed             SkipReason = "malformed"
	SkipMissingAccountBinding SkipReason = "missing_account_binding"
	SkipCrossAccountMismatch  SkipReason = "cross_account_mismatch"
	SkipNotNewer              SkipReason = "not_newer"
)

// Outcome is the decision taken for one incoming entity, in input order.
type Outcome struct {
	Index       int        `json:"index"`
	EntityID    string     `json:"entity_id,omitempty"`
	DisplayName string     `json:"display_name,omitempty"`
	Action      Action     `json:"action"`
	Reason      SkipReason `json:"reason,omitempty"`
	Path        string     `json:"path,omitempty"`
	PrevPath    string     `json:"prev_path,omitempty"` // set when an update renamed the file
	Message     string     `json:"message,omitempty"`
}

// Warning is a cross-account collision: an incoming entity claims an owner
// other than the account scope's.
type Warning struct {
	EntityID          string `json:"entity_id"`
	ScopeAccountID    string `json:"scope_account_id"`
	IncomingAccountID string `json:"incoming_account_id"`
	ExistingPath      string `json:"existing_path,omitempty"`
}

// String renders the warning as one detail line.
func (w Warning) String() string {
	s := fmt.Sprintf("entity %s belongs to account %s, not scope owner %s; left untouched",
		w.EntityID, w.IncomingAccountID, w.ScopeAccountID)
	if w.ExistingPath != "" {
		s += " (existing " + w.ExistingPath + ")"
	}
	return s
}

// Report summarises one reconciliation batch.
type Report struct {
	Created  int                `json:"created"`
	Updated  int                `json:"updated"`
	Skipped  map[SkipReason]int `json:"skipped"`
	Outcomes []Outcome          `json:"outcomes"`
	Warnings []Warning          `json:"warnings,omitempty"`
}

// NewReport returns an empty report.
func NewReport() *Report {
	return &Report{Skipped: make(map[SkipReason]int)}
}

func (r *Report) add(o Outcome) {
	switch o.Action {
	case ActionCreated:
		r.Created++
	case ActionUpdated:
		r.Updated++
	case ActionSkipped:
		r.Skipped[o.Reason]++
	}
	r.Outcomes = append(r.Outcomes, o)
}

// SkippedTotal returns the number of skipped entities across all reasons.
func (r *Report) SkippedTotal() int {
	total := 0
	for _, n := range r.Skipped {
		total += n
	}
	return total
}

// Merge folds other into r. Outcome indexes are kept as-is.
func (r *Report) Merge(other *Report) {
	if other == nil {
		return
	}
	r.Created += other.Created
	r.Updated += other.Updated
	for reason, n := range other.Skipped {
		r.Skipped[reason] += n
	}
	r.Outcomes = append(r.Outcomes, other.Outcomes...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// Summary renders counts by outcome as one line, e.g.
// "created 2, updated 1, skipped 3 (not_newer 2, malformed 1)".
func (r *Report) Summary() string {
	s := fmt.Sprintf("created %d, updated %d, skipped %d", r.Created, r.Updated, r.SkippedTotal())
	if r.SkippedTotal() == 0 {
		return s
	}
	reasons := make([]string, 0, len(r.Skipped))
	for reason, n := range r.Skipped {
		if n > 0 {
			reasons = append(reasons, fmt.Sprintf("%s %d", reason, n))
		}
	}
	sort.Strings(reasons)
	return s + " (" + strings.Join(reasons, ", ") + ")"
}
