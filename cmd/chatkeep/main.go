package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"

	"github.com/charmbracelet/log"
	"golang.org/x/term"

	"github.com/hpungsan/chatkeep/internal/config"
	"github.com/hpungsan/chatkeep/internal/db"
	"github.com/hpungsan/chatkeep/internal/mcp"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"sync": true, "search": true, "view": true, "list": true,
	"history": true, "ledger": true, "serve": true, "mcp": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	// Global flags and --help/--version → CLI
	return len(arg) > 1 && arg[0] == '-'
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
        _           _   _
   ___ | |__   __ _| |_| | _____  ___ _ __
  / __|| '_ \ / _' | __| |/ / _ \/ _ \ '_ \
 | (__ | | | | (_| | |_|   <  __/  __/ |_) |
  \___||_| |_|\__,_|\__|_|\_\___|\___| .__/
                                     |_|
  Offline archive for Claude and ChatGPT exports

  Usage: chatkeep <command> [options]
         chatkeep --help

  MCP server mode requires piped input.`)
}

// setupLogger configures the default logger. Output goes to stderr so the
// MCP stdio transport keeps stdout to itself.
func setupLogger(level string) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetDefault(log.NewWithOptions(os.Stderr, log.Options{
		Prefix: "chatkeep",
		Level:  lvl,
	}))
}

// loadConfig reads global and repo config, applies the environment and
// resolves every directory.
func loadConfig(baseDir, workDir string) (*config.Config, error) {
	cfg, err := config.LoadWithRepo(baseDir, workDir)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Resolve(baseDir, workDir); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openDB opens the run history database in baseDir.
func openDB(baseDir string, cfg *config.Config) (*sql.DB, error) {
	database, err := db.Init(baseDir)
	if err != nil {
		return nil, err
	}
	db.ConfigurePool(database, cfg)
	return database, nil
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before DB init (no DB needed)
	if isHelpOrVersion() {
		app := newCLIApp(nil, nil)
		if err := app.Run(os.Args); err != nil {
			fatal("%v", err)
		}
		return
	}

	baseDir, err := config.BaseDir()
	if err != nil {
		fatal("%v", err)
	}
	workDir, err := os.Getwd()
	if err != nil {
		fatal("could not determine working directory: %v", err)
	}

	cfg, err := loadConfig(baseDir, workDir)
	if err != nil {
		fatal("failed to load config: %v", err)
	}
	setupLogger(cfg.LogLevel)

	database, err := openDB(baseDir, cfg)
	if err != nil {
		fatal("failed to initialize database: %v", err)
	}
	defer database.Close()

	if isCLIMode() {
		// Ctrl-C cancels a running sync or search between files
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		app := newCLIApp(database, cfg)
		err := app.RunContext(ctx, os.Args)
		stop()
		if err != nil {
			database.Close()
			fatal("%v", err)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		database.Close()
		fatal("unknown command %q\nRun 'chatkeep --help' for usage.", os.Args[1])
	}

	// MCP server mode (default)
	if err := runMCP(database, cfg); err != nil {
		database.Close()
		fatal("%v", err)
	}
}

// runMCP starts the stdio MCP server after reporting unknown disabled tools and types.
func runMCP(database *sql.DB, cfg *config.Config) error {
	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		log.Warn("unknown tools in disabled_tools", "tools", unknown)
	}
	if unknown := mcp.ValidateDisabledTypes(cfg.DisabledTypes); len(unknown) > 0 {
		log.Warn("unknown types in disabled_types", "types", unknown, "known", mcp.KnownTypes)
	}
	return mcp.Run(database, cfg, Version)
}
