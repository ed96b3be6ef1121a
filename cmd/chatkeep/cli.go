package main

import (
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v2"

	"github.com/hpungsan/chatkeep/internal/config"
	"github.com/hpungsan/chatkeep/internal/errors"
	"github.com/hpungsan/chatkeep/internal/ops"
	"github.com/hpungsan/chatkeep/internal/web"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(db *sql.DB, cfg *config.Config) *cli.App {
	app := &cli.App{
		Name:    "chatkeep",
		Usage:   "Offline archive and search for Claude and ChatGPT exports",
		Version: Version,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "verbose", Usage: "Enable debug logging"},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("verbose") {
				log.SetLevel(log.DebugLevel)
			}
			return nil
		},
		Commands: []*cli.Command{
			syncCmd(db, cfg),
			searchCmd(cfg),
			viewCmd(cfg),
			listCmd(cfg),
			historyCmd(db),
			ledgerCmd(cfg),
			serveCmd(db, cfg),
			mcpCmd(db, cfg),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// syncCmd creates the sync command.
func syncCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Ingest new export archives from the intake directory",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "claude", Usage: "Process Claude exports (data-*.zip)"},
			&cli.BoolFlag{Name: "chatgpt", Usage: "Process ChatGPT exports ([hex]-YYYY-MM-DD-HH-MM-SS-[hex].zip)"},
			&cli.StringFlag{Name: "search-dir", Aliases: []string{"d"}, Usage: "Intake directory (default: zip_search_dir or the working directory)"},
			&cli.BoolFlag{Name: "json", Aliases: []string{"j"}, Usage: "Output results as JSON"},
		},
		Action: func(c *cli.Context) error {
			var providers []string
			if c.Bool("claude") {
				providers = append(providers, "claude")
			}
			if c.Bool("chatgpt") {
				providers = append(providers, "chatgpt")
			}
			if len(providers) == 0 {
				return outputError(errors.NewInvalidRequest("specify --claude and/or --chatgpt"))
			}

			w := c.App.Writer
			outputs := make([]*ops.SyncOutput, 0, len(providers))
			var firstErr error
			for _, name := range providers {
				out, err := ops.Sync(c.Context, db, cfg, ops.SyncInput{
					Provider:  name,
					SearchDir: c.String("search-dir"),
					Logger:    log.Default(),
				})
				if out != nil {
					if c.Bool("json") {
						outputs = append(outputs, out)
					} else {
						printSync(w, out)
					}
				}
				if err != nil {
					log.Error("sync stopped", "provider", name, "err", err)
					if firstErr == nil {
						firstErr = err
					}
					if errors.Is(err, errors.ErrCancelled) {
						break
					}
				}
			}

			if c.Bool("json") {
				if err := outputJSON(w, outputs); err != nil {
					return err
				}
			}
			if firstErr != nil {
				return outputError(firstErr)
			}
			return nil
		},
	}
}

// searchCmd creates the search command.
func searchCmd(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Full-text search across archived conversations and projects",
		ArgsUsage: "<query>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Aliases: []string{"j"}, Usage: "Output results as JSON"},
			&cli.IntFlag{Name: "open", Aliases: []string{"o"}, Usage: "Open the top N results in $EDITOR"},
			&cli.StringFlag{Name: "provider", Aliases: []string{"p"}, Usage: "Filter by provider: claude|chatgpt"},
			&cli.StringFlag{Name: "kind", Aliases: []string{"k"}, Usage: "Filter by kind: conversation|project"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Usage: "Maximum results (default: all)"},
		},
		Action: func(c *cli.Context) error {
			query := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if query == "" {
				return outputError(errors.NewInvalidRequest("search query is required"))
			}

			out, err := ops.Search(c.Context, cfg.DataDir, ops.SearchInput{
				Query:    query,
				Provider: c.String("provider"),
				Kind:     c.String("kind"),
				Limit:    c.Int("limit"),
			})
			if err != nil {
				return outputError(err)
			}

			w := c.App.Writer
			if c.Bool("json") {
				if c.Int("open") > 0 {
					log.Warn("cannot use --open with --json")
				}
				return outputJSON(w, out.Items)
			}

			printSearch(w, out)
			if n := c.Int("open"); n > 0 {
				return openResults(c, cfg, out.Items, n)
			}
			return nil
		},
	}
}

// openResults renders the top n results as Markdown and opens them together.
func openResults(c *cli.Context, cfg *config.Config, results []ops.SearchResult, n int) error {
	w := c.App.Writer
	n = min(n, len(results))
	if n == 0 {
		fmt.Fprintln(w, "No results to open.")
		return nil
	}

	var paths []string
	for _, r := range results[:n] {
		view, err := ops.View(cfg.DataDir, cfg.LocalViewsDir, ops.ViewInput{UUID: r.UUID, Format: ops.FormatMarkdown})
		if err != nil {
			log.Warn("could not render result", "uuid", r.UUID, "err", err)
			continue
		}
		if view.Generated {
			fmt.Fprintf(w, "Generated markdown: %s\n", view.Path)
		} else {
			fmt.Fprintf(w, "Using existing markdown: %s\n", view.Path)
		}
		paths = append(paths, view.Path)
	}
	if len(paths) == 0 {
		fmt.Fprintln(w, "No files to open.")
		return nil
	}

	fmt.Fprintf(w, "Opening %d file(s) in %s...\n", len(paths), cfg.Editor)
	if err := openInEditor(cfg.Editor, paths...); err != nil {
		return outputError(err)
	}
	return nil
}

// viewCmd creates the view command.
func viewCmd(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "view",
		Usage:     "Render a conversation or project and open it",
		ArgsUsage: "<uuid>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "markdown", Usage: "Output format: markdown|html"},
			&cli.BoolFlag{Name: "force", Usage: "Regenerate even if an up-to-date view exists"},
			&cli.BoolFlag{Name: "no-open", Usage: "Don't open the file, just generate it"},
			&cli.BoolFlag{Name: "json", Aliases: []string{"j"}, Usage: "Output the result as JSON (implies --no-open)"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return outputError(errors.NewInvalidRequest("uuid is required"))
			}
			format, err := ops.ParseViewFormat(c.String("format"))
			if err != nil {
				return outputError(err)
			}

			out, err := ops.View(cfg.DataDir, cfg.LocalViewsDir, ops.ViewInput{
				UUID:   c.Args().First(),
				Format: format,
				Force:  c.Bool("force"),
			})
			if err != nil {
				return outputError(err)
			}

			w := c.App.Writer
			if c.Bool("json") {
				return outputJSON(w, out)
			}

			fmt.Fprintf(w, "Found: %s\n", out.Entry.Path)
			if out.Generated {
				fmt.Fprintf(w, "Created: %s\n", out.Path)
			} else {
				fmt.Fprintf(w, "Using existing %s file: %s\n", format, out.Path)
			}
			if c.Bool("no-open") {
				return nil
			}
			if err := openView(cfg.Editor, format, out.Path); err != nil {
				log.Error("could not open view", "err", err)
				fmt.Fprintf(w, "File saved at: %s\n", out.Path)
			}
			return nil
		},
	}
}

// listCmd creates the list command.
func listCmd(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List archived conversations and projects, most recently updated first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "provider", Aliases: []string{"p"}, Usage: "Filter by provider: claude|chatgpt"},
			&cli.StringFlag{Name: "account", Aliases: []string{"a"}, Usage: "Filter by account email"},
			&cli.StringFlag{Name: "kind", Aliases: []string{"k"}, Usage: "Filter by kind: conversation|project"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Maximum items to return"},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Value: 0, Usage: "Items to skip"},
			&cli.BoolFlag{Name: "json", Aliases: []string{"j"}, Usage: "Output results as JSON"},
		},
		Action: func(c *cli.Context) error {
			out, err := ops.List(cfg.DataDir, ops.ListInput{
				Provider:     c.String("provider"),
				AccountEmail: c.String("account"),
				Kind:         c.String("kind"),
				Limit:        c.Int("limit"),
				Offset:       c.Int("offset"),
			})
			if err != nil {
				return outputError(err)
			}
			if c.Bool("json") {
				return outputJSON(c.App.Writer, out)
			}
			printList(c.App.Writer, out)
			return nil
		},
	}
}

// historyCmd creates the history command.
func historyCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "List past sync runs, or show one run with its archives",
		ArgsUsage: "[run-id]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "provider", Aliases: []string{"p"}, Usage: "Filter by provider: claude|chatgpt"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultHistoryLimit, Usage: "Maximum runs to return"},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Value: 0, Usage: "Runs to skip"},
			&cli.BoolFlag{Name: "json", Aliases: []string{"j"}, Usage: "Output results as JSON"},
		},
		Action: func(c *cli.Context) error {
			w := c.App.Writer
			if c.NArg() > 0 {
				detail, err := ops.ShowRun(db, c.Args().First())
				if err != nil {
					return outputError(err)
				}
				if c.Bool("json") {
					return outputJSON(w, detail)
				}
				printRun(w, detail)
				return nil
			}

			out, err := ops.History(db, ops.HistoryInput{
				Provider: c.String("provider"),
				Limit:    c.Int("limit"),
				Offset:   c.Int("offset"),
			})
			if err != nil {
				return outputError(err)
			}
			if c.Bool("json") {
				return outputJSON(w, out)
			}
			printHistory(w, out)
			return nil
		},
	}
}

// ledgerCmd creates the ledger command.
func ledgerCmd(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "ledger",
		Usage: "Show the archives recorded as processed",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Aliases: []string{"j"}, Usage: "Output results as JSON"},
		},
		Action: func(c *cli.Context) error {
			out, err := ops.Ledger(cfg.ArchivedExportsDir)
			if err != nil {
				return outputError(err)
			}
			if c.Bool("json") {
				return outputJSON(c.App.Writer, out)
			}
			printLedger(c.App.Writer, out)
			return nil
		},
	}
}

// serveCmd creates the serve command.
func serveCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Browse the archive in a local web UI",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Address to bind"},
			&cli.IntFlag{Name: "port", Value: 8765, Usage: "Port to listen on"},
		},
		Action: func(c *cli.Context) error {
			srv := web.NewServer(db, cfg, Version, c.String("bind"), c.Int("port"))
			if err := web.Run(srv); err != nil {
				return outputError(errors.NewInternal(err))
			}
			return nil
		},
	}
}

// mcpCmd creates the mcp command.
func mcpCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Run the MCP server on stdio",
		Action: func(c *cli.Context) error {
			if err := runMCP(db, cfg); err != nil {
				return outputError(errors.NewInternal(err))
			}
			return nil
		},
	}
}

// outputError formats error for CLI.
func outputError(err error) error {
	var kErr *errors.KeepError
	if stderrors.As(err, &kErr) {
		return cli.Exit(fmt.Sprintf("[%s] %s", kErr.Code, kErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}
