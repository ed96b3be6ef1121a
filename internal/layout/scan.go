package layout

import (
	stderrors "errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// StoredRecord is one identified file in an account scope.
type StoredRecord struct {
	Path    string
	Trailer Trailer
	// Legacy is true for files written without a trailer whose identity was
	// recovered from the payload.
	Legacy bool
}

// LegacyFunc recovers a trailer from a stored payload that has none.
type LegacyFunc func(data []byte) (Trailer, bool)

// Listing is the scanned content of one store directory.
type Listing struct {
	Dir     string
	Records []StoredRecord
	// Unidentified holds base names of *.json files whose identity could not
	// be read. Their names are still occupied for collision purposes.
	Unidentified []string
}

// Scan reads the identity of every *.json file in dir. A missing directory
// yields an empty listing. legacy may be nil.
func Scan(dir string, legacy LegacyFunc) (*Listing, error) {
	listing := &Listing{Dir: dir}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return listing, nil
		}
		return nil, err
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		path := filepath.Join(dir, name)
		if entry.Type()&fs.ModeSymlink != 0 {
			listing.Unidentified = append(listing.Unidentified, name)
			continue
		}

		data, err := ReadFile(path)
		if err != nil {
			listing.Unidentified = append(listing.Unidentified, name)
			continue
		}

		tr, ok, err := DecodeTrailer(data)
		if err != nil {
			listing.Unidentified = append(listing.Unidentified, name)
			continue
		}
		if ok {
			listing.Records = append(listing.Records, StoredRecord{Path: path, Trailer: tr})
			continue
		}
		if legacy != nil {
			if tr, ok := legacy(data); ok {
				listing.Records = append(listing.Records, StoredRecord{Path: path, Trailer: tr, Legacy: true})
				continue
			}
		}
		listing.Unidentified = append(listing.Unidentified, name)
	}

	sort.Slice(listing.Records, func(i, j int) bool { return listing.Records[i].Path < listing.Records[j].Path })
	return listing, nil
}

// Find returns the stored record for entityID. If a directory somehow holds
// more than one file for the same entity, the newest one wins.
func (l *Listing) Find(entityID string) (StoredRecord, bool) {
	var (
		best  StoredRecord
		found bool
	)
	for _, rec := range l.Records {
		if rec.Trailer.EntityID != entityID {
			continue
		}
		if !found || rec.Trailer.UpdatedAt.After(best.Trailer.UpdatedAt) {
			best = rec
			found = true
		}
	}
	return best, found
}

// Duplicates returns entity ids that appear in more than one file.
func (l *Listing) Duplicates() []string {
	seen := make(map[string]int, len(l.Records))
	for _, rec := range l.Records {
		seen[rec.Trailer.EntityID]++
	}
	var dups []string
	for id, n := range seen {
		if n > 1 {
			dups = append(dups, id)
		}
	}
	sort.Strings(dups)
	return dups
}

// HeldByOther reports whether name is taken in this listing by a file that
// does not belong to entityID, an unidentified file included. Names are
// compared ignoring case: on Windows and macOS two names that differ only
// in case are one file.
func (l *Listing) HeldByOther(name, entityID string) bool {
	if l == nil {
		return false
	}
	for _, rec := range l.Records {
		if strings.EqualFold(filepath.Base(rec.Path), name) && rec.Trailer.EntityID != entityID {
			return true
		}
	}
	for _, u := range l.Unidentified {
		if strings.EqualFold(u, name) {
			return true
		}
	}
	return false
}

// Put records rec as the current file for its entity, dropping any other
// entry at oldPath.
func (l *Listing) Put(rec StoredRecord, oldPath string) {
	kept := l.Records[:0]
	for _, r := range l.Records {
		if r.Path == rec.Path || (oldPath != "" && r.Path == oldPath) {
			continue
		}
		kept = append(kept, r)
	}
	l.Records = append(kept, rec)
}

// ReadFile reads a stored file, refusing to follow a symlink at path.
func ReadFile(path string) ([]byte, error) {
	f, err := openFileNoFollowRead(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
