package mcp

import "github.com/mark3labs/mcp-go/mcp"

var searchToolDef = mcp.NewTool("archive_search",
	mcp.WithDescription("Search every archived conversation and project for a phrase. Results are ranked by relevance: exact phrase matches score highest, then whole words, then partial words. Each result carries up to a few snippets of surrounding text."),
	mcp.WithTitleAnnotation("Search Archive"),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithDestructiveHintAnnotation(false),
	mcp.WithIdempotentHintAnnotation(true),
	mcp.WithOpenWorldHintAnnotation(false),
	mcp.WithString("query",
		mcp.Required(),
		mcp.Description("Text to search for, case-insensitive"),
	),
	mcp.WithString("provider",
		mcp.Description("Filter by provider: claude or chatgpt"),
	),
	mcp.WithString("kind",
		mcp.Description("Filter by kind: conversation or project"),
	),
	mcp.WithNumber("limit",
		mcp.Description("Max results (default: all)"),
	),
)

var viewToolDef = mcp.NewTool("archive_view",
	mcp.WithDescription("Render an archived conversation or project as a Markdown or HTML file in the local views directory and return its path. Set include_content to also return the rendered text."),
	mcp.WithTitleAnnotation("View Archived Record"),
	mcp.WithReadOnlyHintAnnotation(false),
	mcp.WithDestructiveHintAnnotation(false),
	mcp.WithIdempotentHintAnnotation(true),
	mcp.WithOpenWorldHintAnnotation(false),
	mcp.WithString("uuid",
		mcp.Required(),
		mcp.Description("UUID of the conversation or project"),
	),
	mcp.WithString("format",
		mcp.Description("markdown (default) or html"),
	),
	mcp.WithBoolean("force",
		mcp.Description("Regenerate the view even if it is up to date"),
	),
	mcp.WithBoolean("include_content",
		mcp.Description("Return the rendered content along with the path"),
	),
)

var listToolDef = mcp.NewTool("archive_list",
	mcp.WithDescription("List archived conversations and projects, most recently updated first."),
	mcp.WithTitleAnnotation("List Archive"),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithDestructiveHintAnnotation(false),
	mcp.WithIdempotentHintAnnotation(true),
	mcp.WithOpenWorldHintAnnotation(false),
	mcp.WithString("provider",
		mcp.Description("Filter by provider: claude or chatgpt"),
	),
	mcp.WithString("account_email",
		mcp.Description("Filter by account email"),
	),
	mcp.WithString("kind",
		mcp.Description("Filter by kind: conversation or project"),
	),
	mcp.WithNumber("limit",
		mcp.Description("Max results (default: 20, max: 100)"),
	),
	mcp.WithNumber("offset",
		mcp.Description("Results to skip (default: 0)"),
	),
)

var historyToolDef = mcp.NewTool("archive_history",
	mcp.WithDescription("List past sync runs, newest first. With run_id, return that run and the outcome of every archive it processed."),
	mcp.WithTitleAnnotation("Sync History"),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithDestructiveHintAnnotation(false),
	mcp.WithIdempotentHintAnnotation(true),
	mcp.WithOpenWorldHintAnnotation(false),
	mcp.WithString("run_id",
		mcp.Description("Show a single run with its archive results"),
	),
	mcp.WithString("provider",
		mcp.Description("Filter by provider: claude or chatgpt"),
	),
	mcp.WithNumber("limit",
		mcp.Description("Max runs (default: 20, max: 100)"),
	),
	mcp.WithNumber("offset",
		mcp.Description("Runs to skip (default: 0)"),
	),
)

var syncToolDef = mcp.NewTool("archive_sync",
	mcp.WithDescription("Ingest new export archives of one provider from the intake directory into the archive. Processed archives are recorded in the ledger and moved to the archived exports directory."),
	mcp.WithTitleAnnotation("Sync Exports"),
	mcp.WithReadOnlyHintAnnotation(false),
	mcp.WithDestructiveHintAnnotation(false),
	mcp.WithIdempotentHintAnnotation(true),
	mcp.WithOpenWorldHintAnnotation(false),
	mcp.WithString("provider",
		mcp.Required(),
		mcp.Description("Provider whose exports to ingest: claude or chatgpt"),
	),
	mcp.WithString("search_dir",
		mcp.Description("Intake directory (default: configured zip_search_dir)"),
	),
)
