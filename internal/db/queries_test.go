package db

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/chatkeep/internal/errors"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func strPtr(s string) *string { return &s }

func TestRunLifecycle(t *testing.T) {
	db := setupTestDB(t)

	run := &Run{ID: "01J0000000000000000000000A", Provider: "claude", SearchDir: "/intake", StartedAt: 100, Status: RunRunning}
	require.NoError(t, InsertRun(db, run))

	got, err := GetRun(db, run.ID)
	require.NoError(t, err)
	require.Equal(t, RunRunning, got.Status)
	require.Nil(t, got.FinishedAt)
	require.Nil(t, got.ErrorCode)

	finished := int64(160)
	run.FinishedAt = &finished
	run.Status = RunOK
	run.Archives, run.Created, run.Updated, run.Skipped = 2, 5, 1, 3
	require.NoError(t, FinishRun(db, run))

	got, err = GetRun(db, run.ID)
	require.NoError(t, err)
	require.Equal(t, RunOK, got.Status)
	require.Equal(t, int64(160), *got.FinishedAt)
	require.Equal(t, []int{2, 5, 1, 3}, []int{got.Archives, got.Created, got.Updated, got.Skipped})
}

func TestFinishRun_Failed(t *testing.T) {
	db := setupTestDB(t)

	run := &Run{ID: "01J0000000000000000000000B", Provider: "chatgpt", SearchDir: "/in", StartedAt: 1, Status: RunRunning}
	require.NoError(t, InsertRun(db, run))

	run.Status = RunFailed
	run.ErrorCode = strPtr(string(errors.ErrStoreWriteFailure))
	run.ErrorMessage = strPtr("cannot write /store")
	require.NoError(t, FinishRun(db, run))

	got, err := GetRun(db, run.ID)
	require.NoError(t, err)
	require.Equal(t, RunFailed, got.Status)
	require.Equal(t, "STORE_WRITE_FAILURE", *got.ErrorCode)
}

func TestGetRun_NotFound(t *testing.T) {
	db := setupTestDB(t)

	_, err := GetRun(db, "missing")
	require.True(t, errors.Is(err, errors.ErrNotFound), "got %v", err)

	err = FinishRun(db, &Run{ID: "missing", Status: RunOK})
	require.True(t, errors.Is(err, errors.ErrNotFound), "got %v", err)
}

func TestListRuns(t *testing.T) {
	db := setupTestDB(t)

	runs := []*Run{
		{ID: "01J0000000000000000000000A", Provider: "claude", StartedAt: 10},
		{ID: "01J0000000000000000000000B", Provider: "chatgpt", StartedAt: 20},
		{ID: "01J0000000000000000000000C", Provider: "claude", StartedAt: 30},
	}
	for _, r := range runs {
		r.Status = RunRunning
		r.SearchDir = "/in"
		require.NoError(t, InsertRun(db, r))
	}

	all, total, err := ListRuns(db, RunFilter{})
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, all, 3)
	require.Equal(t, "01J0000000000000000000000C", all[0].ID, "newest first")

	claude, total, err := ListRuns(db, RunFilter{Provider: "claude", Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Equal(t, 2, total, "total ignores pagination")
	require.Len(t, claude, 1)
	require.Equal(t, "01J0000000000000000000000A", claude[0].ID)

	none, total, err := ListRuns(db, RunFilter{Provider: "gemini"})
	require.NoError(t, err)
	require.Equal(t, 0, total)
	require.NotNil(t, none)
	require.Empty(t, none)
}

func TestArchiveResults(t *testing.T) {
	db := setupTestDB(t)

	run := &Run{ID: "01J0000000000000000000000A", Provider: "claude", SearchDir: "/in", StartedAt: 1, Status: RunRunning}
	require.NoError(t, InsertRun(db, run))

	first := &ArchiveResult{
		RunID:        run.ID,
		Archive:      "data-2025-01-05.zip",
		Fingerprint:  strPtr("120-abc"),
		AccountEmail: strPtr("a@example.com"),
		Status:       ArchiveProcessed,
		Created:      3,
		Warnings:     1,
		RelocatedTo:  strPtr("/archived/claude/data-2025-01-05.zip"),
		ProcessedAt:  2,
	}
	second := &ArchiveResult{
		RunID:       run.ID,
		Archive:     "data-broken.zip",
		Status:      ArchiveInvalid,
		Message:     strPtr("INVALID_EXPORT: missing users.json"),
		ProcessedAt: 3,
	}
	require.NoError(t, InsertArchiveResult(db, first))
	require.NoError(t, InsertArchiveResult(db, second))
	require.NotZero(t, first.ID)
	require.Greater(t, second.ID, first.ID)

	results, err := ListArchiveResults(db, run.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "data-2025-01-05.zip", results[0].Archive)
	require.Equal(t, "a@example.com", *results[0].AccountEmail)
	require.Equal(t, 1, results[0].Warnings)
	require.Equal(t, ArchiveInvalid, results[1].Status)
	require.Nil(t, results[1].Fingerprint)

	empty, err := ListArchiveResults(db, "other")
	require.NoError(t, err)
	require.Empty(t, empty)
}
