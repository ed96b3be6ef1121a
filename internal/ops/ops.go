// Package ops implements chatkeep's user-facing operations on top of the
// store, ledger and history database. CLI, MCP and web front ends call these.
package ops

import (
	"strings"

	"github.com/hpungsan/chatkeep/internal/errors"
	"github.com/hpungsan/chatkeep/internal/identity"
	"github.com/hpungsan/chatkeep/internal/provider"
)

// Pagination limits
const (
	DefaultListLimit    = 20
	MaxListLimit        = 100
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
	DefaultSearchLimit  = 0 // unlimited
	MaxQueryLength      = 500
)

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

// clampLimit applies a default and an upper bound to a requested page size.
func clampLimit(limit, def, maxLimit int) int {
	if limit <= 0 {
		limit = def
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit
}

// paginate slices items to one page and reports pagination metadata.
func paginate[T any](items []T, limit, offset int) ([]T, Pagination) {
	offset = max(offset, 0)
	total := len(items)
	start := min(offset, total)
	end := min(start+limit, total)
	page := items[start:end]
	return page, Pagination{
		Limit:   limit,
		Offset:  offset,
		HasMore: end < total,
		Total:   total,
	}
}

// providerFilter validates an optional provider name.
// An empty name selects every registered provider.
func providerFilter(name string) ([]provider.Provider, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		var all []provider.Provider
		for _, n := range provider.Names() {
			p, _ := provider.Get(n)
			all = append(all, p)
		}
		return all, nil
	}
	p, err := provider.Get(name)
	if err != nil {
		return nil, err
	}
	return []provider.Provider{p}, nil
}

// kindFilter validates an optional kind, accepting singular or plural forms.
// An empty kind selects both.
func kindFilter(kind string) ([]identity.Kind, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "":
		return []identity.Kind{identity.KindConversation, identity.KindProject}, nil
	case "conversation", "conversations":
		return []identity.Kind{identity.KindConversation}, nil
	case "project", "projects":
		return []identity.Kind{identity.KindProject}, nil
	default:
		return nil, errors.NewInvalidRequest("kind must be conversation or project")
	}
}
