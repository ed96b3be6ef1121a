package mcp

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/chatkeep/internal/config"
	"github.com/hpungsan/chatkeep/internal/errors"
	"github.com/hpungsan/chatkeep/internal/layout"
	"github.com/hpungsan/chatkeep/internal/ops"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	db  *sql.DB
	cfg *config.Config
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(db *sql.DB, cfg *config.Config) *Handlers {
	return &Handlers{db: db, cfg: cfg}
}

// Request types for each tool

// SearchRequest represents the arguments for archive_search.
type SearchRequest struct {
	Query    string `json:"query"`
	Provider string `json:"provider,omitempty"`
	Kind     string `json:"kind,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// ViewRequest represents the arguments for archive_view.
type ViewRequest struct {
	UUID           string `json:"uuid"`
	Format         string `json:"format,omitempty"`
	Force          bool   `json:"force,omitempty"`
	IncludeContent bool   `json:"include_content,omitempty"`
}

// ListRequest represents the arguments for archive_list.
type ListRequest struct {
	Provider     string `json:"provider,omitempty"`
	AccountEmail string `json:"account_email,omitempty"`
	Kind         string `json:"kind,omitempty"`
	Limit        int    `json:"limit,omitempty"`
	Offset       int    `json:"offset,omitempty"`
}

// HistoryRequest represents the arguments for archive_history.
type HistoryRequest struct {
	RunID    string `json:"run_id,omitempty"`
	Provider string `json:"provider,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Offset   int    `json:"offset,omitempty"`
}

// SyncRequest represents the arguments for archive_sync.
type SyncRequest struct {
	Provider  string `json:"provider"`
	SearchDir string `json:"search_dir,omitempty"`
}

// ViewResponse is the archive_view result. Content is set only on request.
type ViewResponse struct {
	*ops.ViewOutput
	Content string `json:"content,omitempty"`
}

// Handler implementations

// HandleSearch handles the archive_search tool call.
func (h *Handlers) HandleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SearchRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Search(ctx, h.cfg.DataDir, ops.SearchInput{
		Query:    input.Query,
		Provider: input.Provider,
		Kind:     input.Kind,
		Limit:    input.Limit,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleView handles the archive_view tool call.
func (h *Handlers) HandleView(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ViewRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	format, err := ops.ParseViewFormat(input.Format)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.View(h.cfg.DataDir, h.cfg.LocalViewsDir, ops.ViewInput{
		UUID:   input.UUID,
		Format: format,
		Force:  input.Force,
	})
	if err != nil {
		return errorResult(err), nil
	}

	resp := ViewResponse{ViewOutput: result}
	if input.IncludeContent {
		data, err := layout.ReadFile(result.Path)
		if err != nil {
			return errorResult(errors.NewInternal(err)), nil
		}
		resp.Content = string(data)
	}

	return successResult(resp)
}

// HandleList handles the archive_list tool call.
func (h *Handlers) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.List(h.cfg.DataDir, ops.ListInput{
		Provider:     input.Provider,
		AccountEmail: input.AccountEmail,
		Kind:         input.Kind,
		Limit:        input.Limit,
		Offset:       input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleHistory handles the archive_history tool call.
func (h *Handlers) HandleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[HistoryRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	if strings.TrimSpace(input.RunID) != "" {
		detail, err := ops.ShowRun(h.db, input.RunID)
		if err != nil {
			return errorResult(err), nil
		}
		return successResult(detail)
	}

	result, err := ops.History(h.db, ops.HistoryInput{
		Provider: input.Provider,
		Limit:    input.Limit,
		Offset:   input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleSync handles the archive_sync tool call.
func (h *Handlers) HandleSync(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SyncRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if strings.TrimSpace(input.Provider) == "" {
		return errorResult(errors.NewInvalidRequest("provider is required")), nil
	}

	result, err := ops.Sync(ctx, h.db, h.cfg, ops.SyncInput{
		Provider:  input.Provider,
		SearchDir: input.SearchDir,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// errorResult creates an MCP error result from an error.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var keepErr *errors.KeepError
	if stderrors.As(err, &keepErr) {
		errorObj := map[string]any{
			"code":    keepErr.Code,
			"message": keepErr.Message,
			"status":  keepErr.Status,
		}
		// Internal errors may carry file paths or SQL text
		if keepErr.Code != errors.ErrInternal && keepErr.Details != nil {
			errorObj["details"] = keepErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    errors.ErrInternal,
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
