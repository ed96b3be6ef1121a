package ledger

import (
	stderrors "errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hpungsan/chatkeep/internal/errors"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestFingerprint_ContentOnly(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "data-a.zip")
	b := filepath.Join(dir, "renamed.zip")
	writeFile(t, a, "same bytes")
	writeFile(t, b, "same bytes")
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(b, old, old); err != nil {
		t.Fatal(err)
	}

	fa, err := Fingerprint(a)
	if err != nil {
		t.Fatalf("Fingerprint() error = %v", err)
	}
	fb, err := Fingerprint(b)
	if err != nil {
		t.Fatalf("Fingerprint() error = %v", err)
	}
	if fa != fb {
		t.Errorf("fingerprints differ for identical content: %s vs %s", fa, fb)
	}
	if !strings.HasPrefix(fa, "10-") || len(fa) != len("10-")+64 {
		t.Errorf("Fingerprint() = %q, want {size}-{sha256}", fa)
	}

	writeFile(t, b, "other bytes")
	fb, _ = Fingerprint(b)
	if fa == fb {
		t.Error("fingerprints should differ for different content")
	}
}

func TestOpen_Missing(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "archived"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if l.AlreadyProcessed("1-abc") {
		t.Error("empty ledger reports processed")
	}
	if len(l.Entries()) != 0 {
		t.Errorf("Entries() = %d, want 0", len(l.Entries()))
	}
}

func TestMarkProcessed_Persists(t *testing.T) {
	root := t.TempDir()
	l, err := Open(root)
	if err != nil {
		t.Fatal(err)
	}

	entry := Entry{
		Fingerprint:  "10-deadbeef",
		Archive:      "data-2025.zip",
		Provider:     "claude",
		AccountEmail: "me@example.com",
		Created:      3,
		Summary:      "created 3, updated 0, skipped 0",
	}
	if err := l.MarkProcessed(entry); err != nil {
		t.Fatalf("MarkProcessed() error = %v", err)
	}
	if !l.AlreadyProcessed("10-deadbeef") {
		t.Error("AlreadyProcessed() = false after MarkProcessed")
	}
	if err := l.MarkProcessed(Entry{Fingerprint: "20-cafe", Archive: "b.zip", Provider: "chatgpt"}); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(root)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	got, ok := reopened.Lookup("10-deadbeef")
	if !ok {
		t.Fatal("Lookup() missing entry after reopen")
	}
	if got.Archive != "data-2025.zip" || got.Created != 3 || got.ProcessedAt.IsZero() {
		t.Errorf("Lookup() = %+v", got)
	}
	if n := len(reopened.Entries()); n != 2 {
		t.Errorf("Entries() = %d, want 2", n)
	}

	data, _ := os.ReadFile(filepath.Join(root, FileName))
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("ledger has %d lines, want header + 2 entries", len(lines))
	}
	if !strings.Contains(lines[0], `"_chatkeep_ledger":true`) {
		t.Errorf("first line = %s, want header", lines[0])
	}
}

func TestMarkProcessed_RequiresFingerprint(t *testing.T) {
	l, _ := Open(t.TempDir())
	err := l.MarkProcessed(Entry{Archive: "x.zip"})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("MarkProcessed() error = %v, want INVALID_REQUEST", err)
	}
}

func TestOpen_Corruption(t *testing.T) {
	tests := []struct {
		name    string
		content string
		line    int
	}{
		{"garbage", "{\"_chatkeep_ledger\":true}\nnot json\n", 2},
		{"truncated append", "{\"fingerprint\":\"1-a\",\"archive\":\"a.zip\"}\n{\"fingerprint\":\"2-b\",\"arch", 2},
		{"missing fingerprint", "{\"archive\":\"a.zip\"}\n", 1},
		{"late header", "{\"fingerprint\":\"1-a\"}\n{\"_chatkeep_ledger\":true}\n", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeFile(t, filepath.Join(root, FileName), tt.content)

			_, err := Open(root)
			if !errors.Is(err, errors.ErrLedgerCorruption) {
				t.Fatalf("Open() error = %v, want LEDGER_CORRUPTION", err)
			}
			kErr, ok := err.(*errors.KeepError)
			if !ok {
				t.Fatalf("error type = %T, want *KeepError", err)
			}
			if kErr.Details["line"] != tt.line {
				t.Errorf("corrupt line = %v, want %d", kErr.Details["line"], tt.line)
			}

			// never reset automatically
			data, _ := os.ReadFile(filepath.Join(root, FileName))
			if string(data) != tt.content {
				t.Error("corrupt ledger was modified")
			}
		})
	}
}

func TestRelocate(t *testing.T) {
	intake := t.TempDir()
	root := filepath.Join(t.TempDir(), "archived")
	l, _ := Open(root)

	first := filepath.Join(intake, "data-2025.zip")
	writeFile(t, first, "one")
	dest, err := l.Relocate(first, "claude")
	if err != nil {
		t.Fatalf("Relocate() error = %v", err)
	}
	if want := filepath.Join(root, "claude", "data-2025.zip"); dest != want {
		t.Errorf("Relocate() = %q, want %q", dest, want)
	}
	if _, err := os.Stat(first); !os.IsNotExist(err) {
		t.Error("source still present after Relocate")
	}

	for i, want := range []string{"data-2025-1.zip", "data-2025-2.zip"} {
		writeFile(t, first, "again")
		dest, err := l.Relocate(first, "claude")
		if err != nil {
			t.Fatalf("Relocate() #%d error = %v", i, err)
		}
		if filepath.Base(dest) != want {
			t.Errorf("Relocate() #%d = %q, want %q", i, filepath.Base(dest), want)
		}
	}

	data, _ := os.ReadFile(filepath.Join(root, "claude", "data-2025.zip"))
	if string(data) != "one" {
		t.Error("existing archived file was overwritten")
	}
}

func TestMoveFile_NeverReplaces(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "new.zip")
	dest := filepath.Join(dir, "taken.zip")
	writeFile(t, src, "incoming")
	writeFile(t, dest, "archived")

	err := moveFile(src, dest)
	if !stderrors.Is(err, fs.ErrExist) {
		t.Fatalf("moveFile() error = %v, want fs.ErrExist", err)
	}
	if data, _ := os.ReadFile(dest); string(data) != "archived" {
		t.Errorf("dest = %q, want untouched", data)
	}
	if data, _ := os.ReadFile(src); string(data) != "incoming" {
		t.Errorf("src = %q, want kept", data)
	}
}

func TestMoveFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.zip")
	dest := filepath.Join(dir, "sub", "a.zip")
	writeFile(t, src, "payload")
	if err := os.MkdirAll(filepath.Dir(dest), 0700); err != nil {
		t.Fatal(err)
	}

	if err := moveFile(src, dest); err != nil {
		t.Fatalf("moveFile() error = %v", err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("source still present")
	}
	if data, _ := os.ReadFile(dest); string(data) != "payload" {
		t.Errorf("dest = %q, want payload", data)
	}
}

func TestRelocate_AlreadyInPlace(t *testing.T) {
	root := t.TempDir()
	l, _ := Open(root)
	path := filepath.Join(root, "claude", "data.zip")
	writeFile(t, path, "x")

	dest, err := l.Relocate(path, "claude")
	if err != nil {
		t.Fatalf("Relocate() error = %v", err)
	}
	if dest != path {
		t.Errorf("Relocate() = %q, want unchanged %q", dest, path)
	}
}

func TestRelocate_InvalidProvider(t *testing.T) {
	l, _ := Open(t.TempDir())
	if _, err := l.Relocate("x.zip", "../evil"); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("Relocate() error = %v, want INVALID_REQUEST", err)
	}
}

func TestSortedByTime(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	entries := []Entry{
		{Fingerprint: "a", ProcessedAt: base},
		{Fingerprint: "b", ProcessedAt: base.Add(time.Hour)},
	}
	got := SortedByTime(entries)
	if got[0].Fingerprint != "b" || entries[0].Fingerprint != "a" {
		t.Errorf("SortedByTime() = %v", got)
	}
}
