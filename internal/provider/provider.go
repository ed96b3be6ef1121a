// Package provider reads chat export archives from each supported service.
package provider

import (
	"archive/zip"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hpungsan/chatkeep/internal/errors"
	"github.com/hpungsan/chatkeep/internal/identity"
	"github.com/hpungsan/chatkeep/internal/layout"
)

// Export is the validated content of one export archive.
type Export struct {
	Provider      string
	Archive       string
	AccountEmail  string
	AccountID     string
	User          json.RawMessage // raw user record, saved as {account dir}/user.json
	Conversations []identity.Record
	Projects      []identity.Record
}

// Provider knows one service's export format.
type Provider interface {
	Name() string
	// Matches reports whether an archive file name belongs to this provider.
	Matches(name string) bool
	// Extract reads and validates an archive. Shape problems are INVALID_EXPORT.
	Extract(path string) (*Export, error)
	// LegacyIdentity recovers identity from files stored without a trailer.
	LegacyIdentity(kind identity.Kind) layout.LegacyFunc
	// ViewerURL returns the service URL for an entity, or "" if there is none.
	ViewerURL(kind identity.Kind, entityID string) string
}

var registry = map[string]Provider{}

func register(p Provider) {
	registry[p.Name()] = p
}

func init() {
	register(Claude{})
	register(ChatGPT{})
}

// Get returns the provider registered under name.
func Get(name string) (Provider, error) {
	p, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("unknown provider %q (expected one of: %s)", name, strings.Join(Names(), ", ")))
	}
	return p, nil
}

// Names returns registered provider names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Discover lists the archives in dir that belong to p, sorted by name.
// A missing directory yields no archives.
func Discover(p Provider, dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var paths []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if p.Matches(entry.Name()) {
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// readMembers decodes the named JSON members of a zip archive.
// out maps member name to a pointer to decode into.
func readMembers(path string, out map[string]any) error {
	archive := filepath.Base(path)
	zr, err := zip.OpenReader(path)
	if err != nil {
		return errors.NewInvalidExport(archive, fmt.Sprintf("cannot open zip: %v", err))
	}
	defer zr.Close()

	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	for name, dest := range out {
		f, ok := files[name]
		if !ok {
			return errors.NewInvalidExport(archive, fmt.Sprintf("missing expected file %s", name))
		}
		rc, err := f.Open()
		if err != nil {
			return errors.NewInvalidExport(archive, fmt.Sprintf("cannot read %s: %v", name, err))
		}
		err = json.NewDecoder(rc).Decode(dest)
		rc.Close()
		if err != nil {
			return errors.NewInvalidExport(archive, fmt.Sprintf("invalid JSON in %s: %v", name, err))
		}
	}
	return nil
}

// requireFields checks that obj has every key in fields.
func requireFields(obj map[string]json.RawMessage, fields ...string) []string {
	var missing []string
	for _, f := range fields {
		if _, ok := obj[f]; !ok {
			missing = append(missing, f)
		}
	}
	return missing
}

// checkFirst validates the first item of a list against required fields.
// Later items are checked per entity during reconciliation.
func checkFirst(archive, member string, items []json.RawMessage, fields ...string) error {
	if len(items) == 0 {
		return nil
	}
	var first map[string]json.RawMessage
	if err := json.Unmarshal(items[0], &first); err != nil {
		return errors.NewInvalidExport(archive, fmt.Sprintf("%s: items should be objects", member))
	}
	if missing := requireFields(first, fields...); len(missing) > 0 {
		return errors.NewInvalidExport(archive, fmt.Sprintf("%s: item missing required fields: %s", member, strings.Join(missing, ", ")))
	}
	return nil
}

// stringField returns a top-level string field of a JSON object, or "".
func stringField(obj map[string]json.RawMessage, key string) string {
	raw, ok := obj[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
