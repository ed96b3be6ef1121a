// Package ledger records which export archives have been fully processed.
//
// The ledger is an append-only JSONL file (ledger.jsonl) in the archived
// exports root. Archives are keyed by a content fingerprint, so a renamed or
// re-downloaded copy of an already processed export is recognised.
package ledger

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hpungsan/chatkeep/internal/errors"
	"github.com/hpungsan/chatkeep/internal/layout"
)

// FileName is the ledger file name inside the archived exports root.
const FileName = "ledger.jsonl"

// Header is the first line of a ledger file.
type Header struct {
	Ledger        bool   `json:"_chatkeep_ledger"`
	SchemaVersion string `json:"schema_version"`
	CreatedAt     int64  `json:"created_at"`
}

// Entry is one processed archive.
type Entry struct {
	Fingerprint  string    `json:"fingerprint"`
	Archive      string    `json:"archive"`
	Provider     string    `json:"provider"`
	AccountEmail string    `json:"account_email,omitempty"`
	RunID        string    `json:"run_id,omitempty"`
	Created      int       `json:"created"`
	Updated      int       `json:"updated"`
	Skipped      int       `json:"skipped"`
	Summary      string    `json:"summary,omitempty"`
	ProcessedAt  time.Time `json:"processed_at"`
}

// Ledger is the in-memory view of ledger.jsonl.
type Ledger struct {
	root    string
	path    string
	entries map[string]Entry
	order   []string
}

// Open loads the ledger under root. A missing file is an empty ledger; any
// line that cannot be read or parsed is a LedgerCorruption error.
func Open(root string) (*Ledger, error) {
	l := &Ledger{
		root:    root,
		path:    filepath.Join(root, FileName),
		entries: make(map[string]Entry),
	}

	file, err := os.Open(l.path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return l, nil
		}
		return nil, errors.NewLedgerCorruption(l.path, 0, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var probe struct {
			Header
			Entry
		}
		if err := json.Unmarshal(line, &probe); err != nil {
			return nil, errors.NewLedgerCorruption(l.path, lineNum, err)
		}
		if probe.Ledger {
			if lineNum != 1 {
				return nil, errors.NewLedgerCorruption(l.path, lineNum, fmt.Errorf("unexpected header line"))
			}
			continue
		}
		if probe.Fingerprint == "" {
			return nil, errors.NewLedgerCorruption(l.path, lineNum, fmt.Errorf("missing fingerprint"))
		}
		l.put(probe.Entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.NewLedgerCorruption(l.path, lineNum+1, err)
	}

	return l, nil
}

// Path returns the ledger file path.
func (l *Ledger) Path() string { return l.path }

// Root returns the archived exports root.
func (l *Ledger) Root() string { return l.root }

// AlreadyProcessed reports whether fp has been recorded.
func (l *Ledger) AlreadyProcessed(fp string) bool {
	_, ok := l.entries[fp]
	return ok
}

// Lookup returns the recorded entry for fp.
func (l *Ledger) Lookup(fp string) (Entry, bool) {
	e, ok := l.entries[fp]
	return e, ok
}

// Entries returns all recorded entries in the order they were first recorded.
func (l *Ledger) Entries() []Entry {
	out := make([]Entry, 0, len(l.order))
	for _, fp := range l.order {
		out = append(out, l.entries[fp])
	}
	return out
}

// MarkProcessed appends entry to the ledger and syncs it to disk before
// returning.
func (l *Ledger) MarkProcessed(entry Entry) error {
	if entry.Fingerprint == "" {
		return errors.NewInvalidRequest("fingerprint is required")
	}
	if entry.ProcessedAt.IsZero() {
		entry.ProcessedAt = time.Now().UTC()
	}

	if err := os.MkdirAll(l.root, 0700); err != nil {
		return errors.NewStoreWriteFailure(l.root, err)
	}

	var buf bytes.Buffer
	info, err := os.Stat(l.path)
	if err != nil || info.Size() == 0 {
		headerJSON, err := json.Marshal(Header{Ledger: true, SchemaVersion: "1.0", CreatedAt: entry.ProcessedAt.Unix()})
		if err != nil {
			return errors.NewInternal(err)
		}
		buf.Write(headerJSON)
		buf.WriteByte('\n')
	}
	entryJSON, err := json.Marshal(entry)
	if err != nil {
		return errors.NewInternal(err)
	}
	buf.Write(entryJSON)
	buf.WriteByte('\n')

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return errors.NewStoreWriteFailure(l.path, err)
	}
	if _, err := file.Write(buf.Bytes()); err != nil {
		file.Close()
		return errors.NewStoreWriteFailure(l.path, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return errors.NewStoreWriteFailure(l.path, err)
	}
	if err := file.Close(); err != nil {
		return errors.NewStoreWriteFailure(l.path, err)
	}

	l.put(entry)
	return nil
}

func (l *Ledger) put(e Entry) {
	if _, ok := l.entries[e.Fingerprint]; !ok {
		l.order = append(l.order, e.Fingerprint)
	}
	l.entries[e.Fingerprint] = e
}

// Fingerprint returns "{size}-{sha256 hex}" of the file's bytes.
func Fingerprint(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	h := sha256.New()
	n, err := io.Copy(h, file)
	if err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return fmt.Sprintf("%d-%s", n, hex.EncodeToString(h.Sum(nil))), nil
}

// Relocate moves an archive out of the intake directory into
// {root}/{provider}/, keeping its name unless taken, in which case -1, -2, ...
// is inserted before the extension.
func (l *Ledger) Relocate(archivePath, provider string) (string, error) {
	if err := layout.ValidateSegment(provider); err != nil {
		return "", errors.NewInvalidRequest(fmt.Sprintf("provider: %v", err))
	}
	destDir := filepath.Join(l.root, provider)
	if err := os.MkdirAll(destDir, 0700); err != nil {
		return "", errors.NewStoreWriteFailure(destDir, err)
	}

	srcAbs, _ := filepath.Abs(archivePath)
	base := filepath.Base(archivePath)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	for n := 0; ; n++ {
		name := base
		if n > 0 {
			name = fmt.Sprintf("%s-%d%s", stem, n, ext)
		}
		dest := filepath.Join(destDir, name)
		if destAbs, _ := filepath.Abs(dest); destAbs == srcAbs {
			return dest, nil
		}
		if _, err := os.Lstat(dest); err == nil {
			continue
		} else if !stderrors.Is(err, fs.ErrNotExist) {
			return "", errors.NewStoreWriteFailure(dest, err)
		}

		if err := moveFile(archivePath, dest); err != nil {
			if stderrors.Is(err, fs.ErrExist) {
				continue
			}
			return "", errors.NewStoreWriteFailure(dest, err)
		}
		return dest, nil
	}
}

// moveFile moves src to dest without ever replacing an existing dest: it
// hard-links then removes src, falling back to an exclusive copy when the
// link is not possible (another filesystem, or no hard link support). An
// occupied dest fails with fs.ErrExist.
func moveFile(src, dest string) error {
	err := os.Link(src, dest)
	if err == nil {
		return os.Remove(src)
	}
	if stderrors.Is(err, fs.ErrExist) || stderrors.Is(err, fs.ErrNotExist) {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dest)
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(dest)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dest)
		return err
	}
	in.Close()
	return os.Remove(src)
}

// SortedByTime returns entries ordered by processing time, newest first.
func SortedByTime(entries []Entry) []Entry {
	out := append([]Entry(nil), entries...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ProcessedAt.After(out[j].ProcessedAt) })
	return out
}
