// Package layout maps entities onto the on-disk store:
//
//	{root}/{provider}/{account_email}/{conversations|projects}/{date}_{slug}[-n].json
//
// Filenames are for browsing only. Identity lives in the trailer embedded in
// each file, so users may rename files freely.
package layout

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/hpungsan/chatkeep/internal/identity"
)

// DefaultMaxSlugLength caps the name-derived part of a filename.
const DefaultMaxSlugLength = 100

// UnknownDate is the date part used when an entity has no created_at.
const UnknownDate = "unknown-date"

// Layout resolves store paths under a root directory.
type Layout struct {
	Root          string
	MaxSlugLength int
}

// New creates a Layout rooted at root. A non-positive maxSlug uses the default.
func New(root string, maxSlug int) *Layout {
	if maxSlug <= 0 {
		maxSlug = DefaultMaxSlugLength
	}
	return &Layout{Root: root, MaxSlugLength: maxSlug}
}

// AccountDir returns the account scope directory for (provider, email).
func (l *Layout) AccountDir(provider, email string) (string, error) {
	if err := ValidateSegment(provider); err != nil {
		return "", fmt.Errorf("provider: %w", err)
	}
	if err := ValidateSegment(email); err != nil {
		return "", fmt.Errorf("account email: %w", err)
	}
	return filepath.Join(l.Root, provider, email), nil
}

// Dir returns the directory holding entities of kind for (provider, email).
func (l *Layout) Dir(provider, email string, kind identity.Kind) (string, error) {
	accountDir, err := l.AccountDir(provider, email)
	if err != nil {
		return "", err
	}
	return filepath.Join(accountDir, kind.Dir()), nil
}

// ResolvePath returns the canonical path for an entity. listing is the
// current content of the target directory; a name held by a different
// entity (or by a file without identity) is a collision and gets the
// smallest free numeric suffix. A name held by the same entity is its
// update target.
func (l *Layout) ResolvePath(provider, email string, kind identity.Kind, entityID, displayName string, createdAt time.Time, listing *Listing) (string, error) {
	dir, err := l.Dir(provider, email, kind)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, l.resolveName(entityID, displayName, createdAt, listing)), nil
}

func (l *Layout) resolveName(entityID, displayName string, createdAt time.Time, listing *Listing) string {
	stem := l.Stem(createdAt, displayName)
	for n := 0; ; n++ {
		name := stem + ".json"
		if n > 0 {
			name = fmt.Sprintf("%s-%d.json", stem, n)
		}
		if !listing.HeldByOther(name, entityID) {
			return name
		}
	}
}

// Stem builds "{date}_{slug}" for an entity.
func (l *Layout) Stem(createdAt time.Time, displayName string) string {
	return FormatDate(createdAt) + "_" + Sanitize(displayName, l.MaxSlugLength)
}

// FormatDate renders the filename date part (UTC).
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return UnknownDate
	}
	return t.UTC().Format("2006-01-02")
}

var (
	invalidSlugChars = regexp.MustCompile(`[^a-zA-Z0-9-]`)
	hyphenRuns       = regexp.MustCompile(`-+`)
	whitespaceRuns   = regexp.MustCompile(`\s+`)
)

// Sanitize converts a display name into a filesystem-safe slug: whitespace
// becomes hyphens, anything outside [A-Za-z0-9-] is dropped, hyphen runs
// collapse, and the result is capped at maxLen. An empty result is "untitled".
func Sanitize(name string, maxLen int) string {
	s := whitespaceRuns.ReplaceAllString(strings.TrimSpace(name), "-")
	s = invalidSlugChars.ReplaceAllString(s, "")
	s = hyphenRuns.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if maxLen > 0 && len(s) > maxLen {
		s = strings.TrimRight(s[:maxLen], "-")
	}
	if s == "" {
		return "untitled"
	}
	return s
}

// ValidateSegment rejects values that are unsafe as a single path component.
func ValidateSegment(s string) error {
	switch {
	case strings.TrimSpace(s) == "":
		return fmt.Errorf("must not be empty")
	case s == "." || s == "..":
		return fmt.Errorf("%q is not a valid directory name", s)
	case strings.ContainsAny(s, `/\`) || strings.ContainsRune(s, 0):
		return fmt.Errorf("%q must not contain path separators", s)
	}
	return nil
}
