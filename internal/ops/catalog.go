package ops

import (
	stderrors "errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/hpungsan/chatkeep/internal/errors"
	"github.com/hpungsan/chatkeep/internal/identity"
	"github.com/hpungsan/chatkeep/internal/layout"
	"github.com/hpungsan/chatkeep/internal/provider"
)

// Entry is one identified stored record.
type Entry struct {
	Provider     string        `json:"provider"`
	AccountEmail string        `json:"account_email"`
	Kind         identity.Kind `json:"kind"`
	UUID         string        `json:"uuid"`
	Name         string        `json:"name"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	Path         string        `json:"path"`
	URL          string        `json:"url,omitempty"`
}

// CatalogFilter narrows a store walk. Zero values match everything.
type CatalogFilter struct {
	Provider     string
	AccountEmail string
	Kind         string
}

// Catalog walks the store under dataDir and returns every identified record
// matching filter, ordered by provider, account, kind and path. Files
// without a trailer are identified through the provider's legacy reader;
// anything else is skipped.
func Catalog(dataDir string, filter CatalogFilter) ([]Entry, error) {
	providers, err := providerFilter(filter.Provider)
	if err != nil {
		return nil, err
	}
	kinds, err := kindFilter(filter.Kind)
	if err != nil {
		return nil, err
	}
	email := strings.TrimSpace(filter.AccountEmail)

	var entries []Entry
	for _, p := range providers {
		accounts, err := accountDirs(filepath.Join(dataDir, p.Name()))
		if err != nil {
			return nil, err
		}
		for _, account := range accounts {
			if email != "" && !strings.EqualFold(account, email) {
				continue
			}
			for _, kind := range kinds {
				dir := filepath.Join(dataDir, p.Name(), account, kind.Dir())
				listing, err := layout.Scan(dir, p.LegacyIdentity(kind))
				if err != nil {
					return nil, errors.NewInternal(err)
				}
				for _, name := range listing.Unidentified {
					log.Debug("skipping unidentified file", "path", filepath.Join(dir, name))
				}
				for _, rec := range listing.Records {
					entries = append(entries, newEntry(p, account, kind, rec))
				}
			}
		}
	}
	return entries, nil
}

func newEntry(p provider.Provider, account string, kind identity.Kind, rec layout.StoredRecord) Entry {
	return Entry{
		Provider:     p.Name(),
		AccountEmail: account,
		Kind:         kind,
		UUID:         rec.Trailer.EntityID,
		Name:         rec.Trailer.DisplayName,
		CreatedAt:    rec.Trailer.CreatedAt,
		UpdatedAt:    rec.Trailer.UpdatedAt,
		Path:         rec.Path,
		URL:          p.ViewerURL(kind, rec.Trailer.EntityID),
	}
}

// accountDirs lists the account directories of one provider, sorted.
func accountDirs(providerDir string) ([]string, error) {
	entries, err := os.ReadDir(providerDir)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.NewInternal(err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// FindEntry locates a stored record by uuid across every provider and
// account. When several copies exist the most recently updated wins.
func FindEntry(dataDir, uuid string) (*Entry, error) {
	id, err := identity.CanonicalID(uuid)
	if err != nil {
		return nil, errors.NewInvalidRequest("uuid is not valid")
	}
	entries, err := Catalog(dataDir, CatalogFilter{})
	if err != nil {
		return nil, err
	}
	var best *Entry
	for i := range entries {
		e := &entries[i]
		if e.UUID != id {
			continue
		}
		if best == nil || e.UpdatedAt.After(best.UpdatedAt) {
			best = e
		}
	}
	if best == nil {
		return nil, errors.NewNotFound(id)
	}
	return best, nil
}
