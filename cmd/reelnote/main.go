package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hpungsan/reelnote/internal/classifier"
	"github.com/hpungsan/reelnote/internal/config"
	"github.com/hpungsan/reelnote/internal/credential"
	"github.com/hpungsan/reelnote/internal/db"
	"github.com/hpungsan/reelnote/internal/mcp"
	"github.com/hpungsan/reelnote/internal/pipeline"
	"github.com/hpungsan/reelnote/internal/reel"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"share": true, "classify": true, "save": true,
	"list": true, "delete": true, "export": true,
	"categories": true, "key": true, "settings": true,
	"mcp": true, "help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	// Known subcommand → CLI
	if cliCommands[arg] {
		return true
	}
	// --help, --version or --stats → CLI
	switch arg {
	case "--help", "-h", "--version", "-v", "--stats":
		return true
	}
	return false // Default → MCP server
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
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
            _             _
   _ __ ___| |_ __   ___ | |_ ___
  | '__/ _ \ | '_ \ / _ \| __/ _ \
  | | |  __/ | | | | (_) | ||  __/
  |_|  \___|_|_| |_|\___/ \__\___|

  Save and categorize Instagram reels

  Usage: reelnote <command> [options]
         reelnote --help

  MCP server mode requires piped input.`)
}

// environment is everything a command needs, wired once per process.
type environment struct {
	cfg        *config.Config
	session    *pipeline.Session
	metrics    *classifier.Metrics
	exportsDir string
	logger     *slog.Logger
}

// newEnvironment wires storage, credentials, the classifier and the share
// session from cfg.
func newEnvironment(ctx context.Context, database *sql.DB, cfg *config.Config, baseDir string, logger *slog.Logger) (*environment, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	kv := db.NewKV(database)
	creds := credential.NewStore(kv, logger)
	client := classifier.New(classifier.Config{
		BaseURL:          cfg.ClassifierBaseURL,
		PrimaryModel:     cfg.PrimaryModel,
		SecondaryModel:   cfg.SecondaryModel,
		PrimaryTimeout:   cfg.PrimaryTimeout(),
		SecondaryTimeout: cfg.SecondaryTimeout(),
		CacheSize:        cfg.CacheSize,
	}, creds, logger)

	session, err := pipeline.NewSession(ctx, pipeline.Options{
		KV:          kv,
		Classifier:  client,
		Credentials: creds,
		Display: reel.Display{
			DateLayout: cfg.DateLayout,
			TimeLayout: cfg.TimeLayout,
			Location:   loc,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	return &environment{
		cfg:        cfg,
		session:    session,
		metrics:    client.Metrics(),
		exportsDir: filepath.Join(baseDir, "exports"),
		logger:     logger,
	}, nil
}

// runMCP serves the MCP tools over stdio.
func runMCP(env *environment) error {
	if unknown := mcp.ValidateDisabledTools(env.cfg.DisabledTools); len(unknown) > 0 {
		env.logger.Warn("unknown tools in disabled_tools", slog.Any("tools", unknown))
	}
	h := mcp.NewHandlers(env.session, env.metrics, env.exportsDir)
	return mcp.Run(h, env.cfg.DisabledTools, Version)
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before DB init (no DB needed)
	if isHelpOrVersion() {
		app := newCLIApp(nil)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	baseDir, err := config.BaseDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg = config.ApplyEnv(cfg, filepath.Join(baseDir, ".env"))

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	database, err := db.Init(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to initialize database: %v\n", err)
		os.Exit(1)
	}
	defer database.Close()
	db.ConfigurePool(database, cfg)

	env, err := newEnvironment(context.Background(), database, cfg, baseDir, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// CLI mode: known subcommand
	if isCLIMode() {
		app := newCLIApp(env)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'reelnote --help' for usage.\n")
		os.Exit(1)
	}

	// MCP server mode (default)
	if err := runMCP(env); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
