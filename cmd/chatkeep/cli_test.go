package main

import (
	"archive/zip"
	"bytes"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/chatkeep/internal/config"
	"github.com/hpungsan/chatkeep/internal/db"
	"github.com/hpungsan/chatkeep/internal/errors"
	"github.com/hpungsan/chatkeep/internal/ops"
)

const (
	tripID       = "1e5b1004-a220-4026-baa1-4d8c3328296b"
	aliceAccount = "5d2e3c1a-7b4f-4e21-9c3d-0a1b2c3d4e5f"
)

// setupTest creates a database and a config rooted in a temp directory.
func setupTest(t *testing.T) (*sql.DB, *config.Config) {
	t.Helper()
	tmpDir := t.TempDir()
	database, err := db.Init(tmpDir)
	if err != nil {
		t.Fatalf("failed to init test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := config.DefaultConfig()
	if err := cfg.Resolve(tmpDir, filepath.Join(tmpDir, "intake")); err != nil {
		t.Fatalf("failed to resolve config: %v", err)
	}
	if err := os.MkdirAll(cfg.ZipSearchDir, 0700); err != nil {
		t.Fatal(err)
	}
	return database, cfg
}

// writeExport places a one-conversation Claude export in the intake directory.
func writeExport(t *testing.T, cfg *config.Config) {
	t.Helper()
	conv := map[string]any{
		"uuid":       tripID,
		"name":       "Lisbon Trip",
		"created_at": "2025-01-05T10:00:00Z",
		"updated_at": "2025-01-05T11:00:00Z",
		"account":    map[string]any{"uuid": aliceAccount},
		"chat_messages": []map[string]any{{
			"sender":     "human",
			"text":       "Where to stay in Lisbon?",
			"created_at": "2025-01-05T10:00:01Z",
			"content":    []map[string]any{},
		}},
	}
	members := []struct {
		name string
		v    any
	}{
		{"conversations.json", []any{conv}},
		{"projects.json", []any{}},
		{"users.json", []any{map[string]any{"email_address": "alice@example.com", "uuid": aliceAccount}}},
	}

	f, err := os.Create(filepath.Join(cfg.ZipSearchDir, "data-2025-01-06.zip"))
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for _, m := range members {
		w, err := zw.Create(m.name)
		require.NoError(t, err)
		require.NoError(t, json.NewEncoder(w).Encode(m.v))
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

// run executes the CLI with args and returns what it wrote.
func run(t *testing.T, database *sql.DB, cfg *config.Config, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newCLIApp(database, cfg)
	app.Writer = &out
	err := app.Run(append([]string{"chatkeep"}, args...))
	return out.String(), err
}

// stubCommands records external program invocations instead of running them.
func stubCommands(t *testing.T, result error) *[][]string {
	t.Helper()
	var calls [][]string
	orig := runCommand
	runCommand = func(name string, args ...string) error {
		calls = append(calls, append([]string{name}, args...))
		return result
	}
	t.Cleanup(func() { runCommand = orig })
	return &calls
}

// seed writes an export and syncs it, returning the run ID.
func seed(t *testing.T, database *sql.DB, cfg *config.Config) string {
	t.Helper()
	writeExport(t, cfg)
	out, err := run(t, database, cfg, "sync", "--claude", "--json")
	require.NoError(t, err)

	var runs []ops.SyncOutput
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
	require.Equal(t, db.RunOK, runs[0].Status)
	require.Equal(t, 1, runs[0].Created)
	return runs[0].RunID
}

func TestSync_RequiresProvider(t *testing.T) {
	database, cfg := setupTest(t)

	_, err := run(t, database, cfg, "sync")
	if err == nil {
		t.Fatal("expected error without --claude or --chatgpt")
	}
	if !strings.HasPrefix(err.Error(), "[INVALID_REQUEST]") {
		t.Errorf("error = %q", err)
	}
}

func TestSync_BothProviders(t *testing.T) {
	database, cfg := setupTest(t)
	writeExport(t, cfg)

	out, err := run(t, database, cfg, "sync", "--claude", "--chatgpt")
	require.NoError(t, err)
	require.Contains(t, out, "data-2025-01-06.zip")
	require.Contains(t, out, "processed")
	require.Contains(t, out, "alice@example.com")
	require.Contains(t, out, "No chatgpt export archives found")

	// The archive left the intake directory.
	_, err = os.Stat(filepath.Join(cfg.ZipSearchDir, "data-2025-01-06.zip"))
	require.True(t, os.IsNotExist(err))
}

func TestSync_NothingToDo(t *testing.T) {
	database, cfg := setupTest(t)

	out, err := run(t, database, cfg, "sync", "--claude")
	require.NoError(t, err)
	require.Contains(t, out, "No claude export archives found")
}

func TestSearch(t *testing.T) {
	database, cfg := setupTest(t)
	seed(t, database, cfg)

	out, err := run(t, database, cfg, "search", "lisbon")
	require.NoError(t, err)
	require.Contains(t, out, "Found 1 result(s)")
	require.Contains(t, out, "[CONVERSATION]")
	require.Contains(t, out, "Lisbon Trip")
	require.Contains(t, out, "https://claude.ai/chat/"+tripID)

	out, err = run(t, database, cfg, "search", "--json", "lisbon")
	require.NoError(t, err)
	var results []ops.SearchResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	require.Equal(t, tripID, results[0].UUID)
	require.Equal(t, "alice@example.com", results[0].Email)
}

func TestSearch_NoResults(t *testing.T) {
	database, cfg := setupTest(t)
	seed(t, database, cfg)

	out, err := run(t, database, cfg, "search", "porto")
	require.NoError(t, err)
	require.Contains(t, out, "No results found.")
}

func TestSearch_RequiresQuery(t *testing.T) {
	database, cfg := setupTest(t)

	_, err := run(t, database, cfg, "search")
	require.Error(t, err)
	require.Contains(t, err.Error(), "INVALID_REQUEST")
}

func TestSearch_Open(t *testing.T) {
	database, cfg := setupTest(t)
	seed(t, database, cfg)
	calls := stubCommands(t, nil)

	out, err := run(t, database, cfg, "search", "--open", "3", "lisbon")
	require.NoError(t, err)
	require.Contains(t, out, "Generated markdown:")
	require.Contains(t, out, "Opening 1 file(s)")

	require.Len(t, *calls, 1)
	call := (*calls)[0]
	require.Equal(t, "vim", call[0])
	require.Equal(t, filepath.Join(cfg.LocalViewsDir, "claude", tripID+".md"), call[1])
}

func TestSearch_OpenIgnoredWithJSON(t *testing.T) {
	database, cfg := setupTest(t)
	seed(t, database, cfg)
	calls := stubCommands(t, nil)

	_, err := run(t, database, cfg, "search", "--json", "--open", "1", "lisbon")
	require.NoError(t, err)
	require.Empty(t, *calls)
}

func TestView(t *testing.T) {
	database, cfg := setupTest(t)
	seed(t, database, cfg)
	calls := stubCommands(t, nil)

	out, err := run(t, database, cfg, "view", "--no-open", tripID)
	require.NoError(t, err)
	require.Contains(t, out, "Created:")
	require.Empty(t, *calls)

	data, err := os.ReadFile(filepath.Join(cfg.LocalViewsDir, "claude", tripID+".md"))
	require.NoError(t, err)
	require.Contains(t, string(data), "# Lisbon Trip")

	out, err = run(t, database, cfg, "view", tripID)
	require.NoError(t, err)
	require.Contains(t, out, "Using existing markdown file:")
	require.Len(t, *calls, 1)
	require.Equal(t, "vim", (*calls)[0][0])
}

func TestView_HTMLOpensBrowser(t *testing.T) {
	database, cfg := setupTest(t)
	seed(t, database, cfg)
	calls := stubCommands(t, nil)

	_, err := run(t, database, cfg, "view", "--format", "html", tripID)
	require.NoError(t, err)
	require.Len(t, *calls, 1)
	call := (*calls)[0]
	require.NotEqual(t, "vim", call[0])
	require.Equal(t, filepath.Join(cfg.LocalViewsDir, "claude", tripID+".html"), call[len(call)-1])
}

func TestView_EditorMissing(t *testing.T) {
	database, cfg := setupTest(t)
	seed(t, database, cfg)
	stubCommands(t, &exec.Error{Name: "vim", Err: exec.ErrNotFound})

	// The view is still written; the failure to open is reported, not returned.
	out, err := run(t, database, cfg, "view", tripID)
	require.NoError(t, err)
	require.Contains(t, out, "File saved at:")
}

func TestView_Errors(t *testing.T) {
	database, cfg := setupTest(t)
	seed(t, database, cfg)

	tests := []struct {
		name string
		args []string
		code string
	}{
		{"missing uuid", []string{"view"}, "[INVALID_REQUEST]"},
		{"bad format", []string{"view", "--format", "pdf", tripID}, "[INVALID_REQUEST]"},
		{"unknown uuid", []string{"view", "--no-open", "9f0c1d2e-3b4a-4c5d-8e6f-7a8b9c0d1e2f"}, "[NOT_FOUND]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, database, cfg, tt.args...)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.HasPrefix(err.Error(), tt.code) {
				t.Errorf("error = %q, want prefix %s", err, tt.code)
			}
		})
	}
}

func TestList(t *testing.T) {
	database, cfg := setupTest(t)

	out, err := run(t, database, cfg, "list")
	require.NoError(t, err)
	require.Contains(t, out, "No records found.")

	seed(t, database, cfg)

	out, err = run(t, database, cfg, "list")
	require.NoError(t, err)
	require.Contains(t, out, tripID)
	require.Contains(t, out, "Lisbon Trip")
	require.Contains(t, out, "1-1 of 1")

	out, err = run(t, database, cfg, "list", "--json", "--kind", "project")
	require.NoError(t, err)
	var list ops.ListOutput
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Empty(t, list.Items)

	_, err = run(t, database, cfg, "list", "--provider", "gemini")
	require.Error(t, err)
	require.Contains(t, err.Error(), "INVALID_REQUEST")
}

func TestHistory(t *testing.T) {
	database, cfg := setupTest(t)
	runID := seed(t, database, cfg)

	out, err := run(t, database, cfg, "history")
	require.NoError(t, err)
	require.Contains(t, out, runID)
	require.Contains(t, out, "claude")

	out, err = run(t, database, cfg, "history", "--json")
	require.NoError(t, err)
	var history ops.HistoryOutput
	require.NoError(t, json.Unmarshal([]byte(out), &history))
	require.Len(t, history.Runs, 1)
	require.Equal(t, runID, history.Runs[0].ID)

	out, err = run(t, database, cfg, "history", runID)
	require.NoError(t, err)
	require.Contains(t, out, "data-2025-01-06.zip")
	require.Contains(t, out, "[processed]")

	_, err = run(t, database, cfg, "history", "01ARZ3NDEKTSV4RRFFQ69G5FAV")
	require.Error(t, err)
	require.Contains(t, err.Error(), "NOT_FOUND")
}

func TestLedger(t *testing.T) {
	database, cfg := setupTest(t)

	out, err := run(t, database, cfg, "ledger")
	require.NoError(t, err)
	require.Contains(t, out, "No archives processed yet.")

	seed(t, database, cfg)

	out, err = run(t, database, cfg, "ledger", "--json")
	require.NoError(t, err)
	var ledger ops.LedgerOutput
	require.NoError(t, json.Unmarshal([]byte(out), &ledger))
	require.Len(t, ledger.Entries, 1)
	require.Equal(t, "data-2025-01-06.zip", ledger.Entries[0].Archive)
	require.Equal(t, "claude", ledger.Entries[0].Provider)
}

// TestResync verifies a second export of the same data changes nothing.
func TestResync(t *testing.T) {
	database, cfg := setupTest(t)
	seed(t, database, cfg)
	writeExport(t, cfg)

	out, err := run(t, database, cfg, "sync", "--claude", "--json")
	require.NoError(t, err)
	var runs []ops.SyncOutput
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
	require.Len(t, runs[0].Archives, 1)
	require.Equal(t, db.ArchiveAlreadyProcessed, runs[0].Archives[0].Status)
	require.Zero(t, runs[0].Created)
}

func TestOutputError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"keep error", errors.NewInvalidRequest("bad limit"), "[INVALID_REQUEST] bad limit"},
		{"wrapped", errors.NewNotFound("abc"), "[NOT_FOUND]"},
		{"plain", stderrors.New("disk full"), "disk full"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := outputError(tt.err)
			if !strings.HasPrefix(got.Error(), tt.want) {
				t.Errorf("outputError() = %q, want prefix %q", got, tt.want)
			}
		})
	}
}

func TestHighlight(t *testing.T) {
	plain := lipgloss.NewStyle()
	tests := []struct {
		text, query, want string
	}{
		{"Lisbon and LISBON", "lisbon", "Lisbon and LISBON"},
		{"no match", "porto", "no match"},
		{"Ünïcode", "ÜN", "Ünïcode"},
		{"anything", "", "anything"},
	}
	for _, tt := range tests {
		if got := highlight(tt.text, tt.query, plain); got != tt.want {
			t.Errorf("highlight(%q, %q) = %q, want %q", tt.text, tt.query, got, tt.want)
		}
	}

	marked := lipgloss.NewStyle().SetString("*")
	got := highlight("a Lisbon b", "lisbon", marked)
	if !strings.Contains(got, "Lisbon") || strings.Count(got, "*") != 1 {
		t.Errorf("highlight() = %q", got)
	}
}

func TestIsCLIMode(t *testing.T) {
	orig := os.Args
	defer func() { os.Args = orig }()

	tests := []struct {
		args []string
		want bool
	}{
		{[]string{"chatkeep"}, false},
		{[]string{"chatkeep", "search", "x"}, true},
		{[]string{"chatkeep", "--verbose", "sync"}, true},
		{[]string{"chatkeep", "bogus"}, false},
	}
	for _, tt := range tests {
		os.Args = tt.args
		if got := isCLIMode(); got != tt.want {
			t.Errorf("isCLIMode(%v) = %v, want %v", tt.args, got, tt.want)
		}
	}
}
