package ops

import (
	"archive/zip"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/chatkeep/internal/config"
	"github.com/hpungsan/chatkeep/internal/db"
	"github.com/hpungsan/chatkeep/internal/errors"
)

const (
	aliceEmail   = "alice@example.com"
	aliceAccount = "5d2e3c1a-7b4f-4e21-9c3d-0a1b2c3d4e5f"

	tripID    = "1e5b1004-a220-4026-baa1-4d8c3328296b"
	groceryID = "8f0c54a2-3b5e-4d1a-a6e4-5e2f9d0c7b11"
	gardenID  = "3a7d3226-c442-4248-9cc3-6fae554a418d"
)

// fixture is a throwaway chatkeep home with intake, store and history.
type fixture struct {
	t        *testing.T
	base     string
	cfg      *config.Config
	database *sql.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	base := t.TempDir()
	cfg := config.DefaultConfig()
	require.NoError(t, cfg.Resolve(base, filepath.Join(base, "intake")))
	require.NoError(t, os.MkdirAll(cfg.ZipSearchDir, 0700))

	database, err := db.Init(base)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	return &fixture{t: t, base: base, cfg: cfg, database: database}
}

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

// writeZip writes an archive with members in a fixed order, so identical
// content always yields identical bytes.
func writeZip(t *testing.T, path string, members map[string]string) {
	t.Helper()
	names := make([]string, 0, len(members))
	for name := range members {
		names = append(names, name)
	}
	sort.Strings(names)

	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for _, name := range names {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(members[name]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

func claudeConv(id, name, updated string, texts ...string) map[string]any {
	var messages []map[string]any
	for i, text := range texts {
		sender := "human"
		if i%2 == 1 {
			sender = "assistant"
		}
		messages = append(messages, map[string]any{
			"sender":     sender,
			"text":       text,
			"created_at": "2025-01-05T10:00:01Z",
			"content":    []map[string]any{{"type": "text", "text": text}},
		})
	}
	if messages == nil {
		messages = []map[string]any{}
	}
	return map[string]any{
		"uuid":          id,
		"name":          name,
		"created_at":    "2025-01-05T10:00:00Z",
		"updated_at":    updated,
		"account":       map[string]any{"uuid": aliceAccount},
		"chat_messages": messages,
	}
}

func claudeProject(id, name, description string) map[string]any {
	return map[string]any{
		"uuid":            id,
		"name":            name,
		"description":     description,
		"prompt_template": "",
		"created_at":      "2025-01-01T00:00:00Z",
		"updated_at":      "2025-01-01T00:00:00Z",
		"creator":         map[string]any{"uuid": aliceAccount},
		"docs":            []map[string]any{},
	}
}

// claudeZip writes a Claude export into the intake directory.
func (f *fixture) claudeZip(name string, conversations, projects []map[string]any) string {
	f.t.Helper()
	if conversations == nil {
		conversations = []map[string]any{}
	}
	if projects == nil {
		projects = []map[string]any{}
	}
	path := filepath.Join(f.cfg.ZipSearchDir, name)
	writeZip(f.t, path, map[string]string{
		"users.json":         mustJSON(f.t, []map[string]any{{"email_address": aliceEmail, "uuid": aliceAccount, "full_name": "Alice"}}),
		"conversations.json": mustJSON(f.t, conversations),
		"projects.json":      mustJSON(f.t, projects),
	})
	return path
}

// seed syncs one Claude archive holding two conversations and a project.
func (f *fixture) seed() *SyncOutput {
	f.t.Helper()
	f.claudeZip("data-2025-01-06.zip",
		[]map[string]any{
			claudeConv(tripID, "Lisbon Trip", "2025-01-05T11:00:00Z", "Where to stay in Lisbon?", "Try Alfama."),
			claudeConv(groceryID, "Groceries", "2025-01-04T09:00:00Z", "buy lisbon sardines"),
		},
		[]map[string]any{claudeProject(gardenID, "Garden", "Vegetable beds")},
	)
	out, err := Sync(context.Background(), f.database, f.cfg, SyncInput{Provider: "claude", Logger: quietLogger()})
	require.NoError(f.t, err)
	return out
}

func requireCode(t *testing.T, err error, code errors.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	require.True(t, errors.Is(err, code), "want %s, got %v", code, err)
}

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	tests := []struct {
		name    string
		limit   int
		offset  int
		want    []int
		hasMore bool
	}{
		{"first page", 2, 0, []int{1, 2}, true},
		{"last page", 2, 4, []int{5}, false},
		{"past the end", 2, 9, []int{}, false},
		{"negative offset", 3, -1, []int{1, 2, 3}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, p := paginate(items, tt.limit, tt.offset)
			require.Equal(t, tt.want, page)
			require.Equal(t, tt.hasMore, p.HasMore)
			require.Equal(t, 5, p.Total)
		})
	}
}

func TestClampLimit(t *testing.T) {
	if got := clampLimit(0, 20, 100); got != 20 {
		t.Errorf("clampLimit(0) = %d, want 20", got)
	}
	if got := clampLimit(500, 20, 100); got != 100 {
		t.Errorf("clampLimit(500) = %d, want 100", got)
	}
	if got := clampLimit(7, 20, 100); got != 7 {
		t.Errorf("clampLimit(7) = %d, want 7", got)
	}
}

func TestKindFilter(t *testing.T) {
	for _, in := range []string{"conversation", "Conversations"} {
		kinds, err := kindFilter(in)
		if err != nil || len(kinds) != 1 || kinds[0] != "conversation" {
			t.Errorf("kindFilter(%q) = %v, %v", in, kinds, err)
		}
	}
	if kinds, _ := kindFilter(""); len(kinds) != 2 {
		t.Errorf("kindFilter(\"\") = %v, want both kinds", kinds)
	}
	if _, err := kindFilter("chat"); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("kindFilter(chat) error = %v, want INVALID_REQUEST", err)
	}
}
