package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/reelnote/internal/credential"
	"github.com/hpungsan/reelnote/internal/errors"
	"github.com/hpungsan/reelnote/internal/export"
	"github.com/hpungsan/reelnote/internal/mcp"
	"github.com/hpungsan/reelnote/internal/pipeline"
	"github.com/hpungsan/reelnote/internal/reel"
)

// newCLIApp creates the CLI application with all commands.
// env may be nil when only help or version output is needed.
func newCLIApp(env *environment) *cli.App {
	app := &cli.App{
		Name:    "reelnote",
		Usage:   "Save and categorize Instagram reels",
		Version: Version,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "stats", Usage: "Print classifier counters to stderr after the command"},
		},
		Commands: []*cli.Command{
			shareCmd(env),
			classifyCmd(env),
			saveCmd(env),
			listCmd(env),
			deleteCmd(env),
			exportCmd(env),
			categoriesCmd(env),
			keyCmd(env),
			settingsCmd(env),
			mcpCmd(env),
		},
		After: func(c *cli.Context) error {
			if !c.Bool("stats") || env == nil {
				return nil
			}
			return printStats(c.App.ErrWriter, env)
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// shareCmd creates the share command.
func shareCmd(env *environment) *cli.Command {
	return &cli.Command{
		Name:      "share",
		Usage:     "Share a reel link and/or caption (reads stdin when no text is given)",
		ArgsUsage: "[text]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "category", Aliases: []string{"c"}, Usage: "Save under this category (created if unknown)"},
			&cli.StringFlag{Name: "notes", Aliases: []string{"n"}, Usage: "Notes to store with the reel"},
			&cli.BoolFlag{Name: "cancel", Usage: "Discard the shared content"},
			&cli.BoolFlag{Name: "manual", Usage: "Skip suggestions and print the content as a manual draft"},
		},
		Action: func(c *cli.Context) error {
			cat := c.String("category")
			if countSet(cat != "", c.Bool("cancel"), c.Bool("manual")) > 1 {
				return outputError(errors.NewInvalidRequest("--category, --cancel and --manual are mutually exclusive"))
			}

			text, err := argsOrStdin(c)
			if err != nil {
				return outputError(err)
			}

			if c.Bool("manual") {
				draft, err := env.session.Draft(text)
				if err != nil {
					return outputError(err)
				}
				return outputJSON(mcp.CancelOutput{Cancelled: true, Draft: &draft})
			}

			prompt, err := env.session.Share(c.Context, text)
			if err != nil {
				return outputError(err)
			}

			switch {
			case cat != "":
				rec, err := env.session.Select(c.Context, cat, c.String("notes"))
				if err != nil {
					return outputError(err)
				}
				return outputJSON(rec)
			case c.Bool("cancel"):
				_, ok := env.session.Cancel()
				return outputJSON(mcp.CancelOutput{Cancelled: ok})
			default:
				// Nothing outlives the process, so the prompt is shown and the
				// content released.
				env.session.Cancel()
				return outputJSON(prompt)
			}
		},
	}
}

// classifyCmd creates the classify command.
func classifyCmd(env *environment) *cli.Command {
	return &cli.Command{
		Name:      "classify",
		Usage:     "Classify caption text into a single category",
		ArgsUsage: "[caption]",
		Action: func(c *cli.Context) error {
			caption, err := argsOrStdin(c)
			if err != nil {
				return outputError(err)
			}

			cat, err := env.session.ClassifyText(c.Context, caption)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]string{"category": cat})
		},
	}
}

// saveCmd creates the save command.
func saveCmd(env *environment) *cli.Command {
	return &cli.Command{
		Name:      "save",
		Usage:     "Save a reel directly under a category",
		ArgsUsage: "[caption]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "category", Aliases: []string{"c"}, Required: true, Usage: "Category name"},
			&cli.StringFlag{Name: "url", Aliases: []string{"u"}, Usage: "Reel URL (defaults to the caption)"},
			&cli.StringFlag{Name: "notes", Aliases: []string{"n"}, Usage: "Notes"},
		},
		Action: func(c *cli.Context) error {
			caption := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if caption == "" && c.String("url") == "" {
				text, err := argsOrStdin(c)
				if err != nil {
					return outputError(err)
				}
				caption = text
			}

			rec, err := env.session.SaveManual(c.Context, pipeline.ManualInput{
				URL:      c.String("url"),
				Caption:  caption,
				Category: c.String("category"),
				Notes:    c.String("notes"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(rec)
		},
	}
}

// listCmd creates the list command.
func listCmd(env *environment) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List saved reels, newest first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "search", Aliases: []string{"s"}, Usage: "Case-insensitive caption or category substring"},
			&cli.StringFlag{Name: "category", Aliases: []string{"c"}, Usage: "Exact category, or All"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Usage: "Maximum items (0 = all)"},
		},
		Action: func(c *cli.Context) error {
			limit := c.Int("limit")
			if limit < 0 {
				return outputError(errors.NewInvalidRequest("limit must not be negative"))
			}

			store := env.session.Reels()
			out := mcp.ListOutput{Items: []reel.Record{}, Total: store.Len()}
			for r := range store.Query(reel.Query{Search: c.String("search"), Category: c.String("category")}) {
				if limit > 0 && len(out.Items) >= limit {
					break
				}
				out.Items = append(out.Items, r)
			}
			out.Count = len(out.Items)
			return outputJSON(out)
		},
	}
}

// deleteCmd creates the delete command.
func deleteCmd(env *environment) *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete a saved reel",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			id := strings.TrimSpace(c.Args().First())
			if id == "" {
				return outputError(errors.NewInvalidRequest("id is required"))
			}

			store := env.session.Reels()
			_, getErr := store.Get(id)
			remaining, err := store.Delete(c.Context, id)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(mcp.DeleteOutput{ID: id, Deleted: getErr == nil, Remaining: len(remaining)})
		},
	}
}

// exportCmd creates the export command.
func exportCmd(env *environment) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export saved reels to jsonl, markdown or html",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Output file (default: ~/.reelnote/exports/reels-<timestamp>.<ext>)"},
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "jsonl", Usage: "jsonl|markdown|html"},
			&cli.StringFlag{Name: "search", Aliases: []string{"s"}, Usage: "Only export reels matching this search"},
			&cli.StringFlag{Name: "category", Aliases: []string{"c"}, Usage: "Only export this category"},
		},
		Action: func(c *cli.Context) error {
			format, err := export.ParseFormat(c.String("format"))
			if err != nil {
				return outputError(err)
			}

			output, err := export.Export(c.Context, env.session.Reels(), env.exportsDir, export.Input{
				Path:   c.String("path"),
				Format: format,
				Query:  reel.Query{Search: c.String("search"), Category: c.String("category")},
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// categoriesCmd creates the categories command group.
func categoriesCmd(env *environment) *cli.Command {
	list := func() mcp.CategoriesOutput {
		custom := env.session.Registry().Custom()
		if custom == nil {
			custom = []string{}
		}
		inUse := env.session.Reels().Categories()
		if inUse == nil {
			inUse = []string{}
		}
		return mcp.CategoriesOutput{
			Categories: env.session.Registry().ListAll(),
			Custom:     custom,
			InUse:      inUse,
		}
	}

	return &cli.Command{
		Name:  "categories",
		Usage: "Manage categories",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List built-in and custom categories",
				Action: func(c *cli.Context) error {
					return outputJSON(list())
				},
			},
			{
				Name:      "add",
				Usage:     "Add a custom category",
				ArgsUsage: "<name>",
				Action: func(c *cli.Context) error {
					if err := env.session.Registry().Add(c.Context, strings.Join(c.Args().Slice(), " ")); err != nil {
						return outputError(err)
					}
					return outputJSON(list())
				},
			},
			{
				Name:      "remove",
				Usage:     "Remove a custom category (saved reels keep it)",
				ArgsUsage: "<name>",
				Action: func(c *cli.Context) error {
					if err := env.session.Registry().Remove(c.Context, strings.Join(c.Args().Slice(), " ")); err != nil {
						return outputError(err)
					}
					return outputJSON(list())
				},
			},
		},
	}
}

// keyCmd creates the key command group.
func keyCmd(env *environment) *cli.Command {
	return &cli.Command{
		Name:  "key",
		Usage: "Manage the classifier API key",
		Subcommands: []*cli.Command{
			{
				Name:      "set",
				Usage:     "Store the API key (reads stdin when no key is given)",
				ArgsUsage: "[key]",
				Action: func(c *cli.Context) error {
					key, err := argsOrStdin(c)
					if err != nil {
						return outputError(err)
					}
					if err := env.session.Credentials().Set(c.Context, key); err != nil {
						return outputError(err)
					}
					return outputJSON(mcp.CredentialOutput{Present: true, Masked: credential.Masked(key)})
				},
			},
			{
				Name:  "status",
				Usage: "Show whether a key is stored",
				Action: func(c *cli.Context) error {
					key, ok := env.session.Credentials().Get(c.Context)
					if !ok {
						return outputJSON(mcp.CredentialOutput{Present: false})
					}
					return outputJSON(mcp.CredentialOutput{Present: true, Masked: credential.Masked(key)})
				},
			},
			{
				Name:  "clear",
				Usage: "Remove the stored key",
				Action: func(c *cli.Context) error {
					if err := env.session.Credentials().Clear(c.Context); err != nil {
						return outputError(err)
					}
					return outputJSON(mcp.CredentialOutput{Present: false})
				},
			},
		},
	}
}

// settingsCmd creates the settings command group.
func settingsCmd(env *environment) *cli.Command {
	return &cli.Command{
		Name:  "settings",
		Usage: "Show or change settings",
		Subcommands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Print settings",
				Action: func(c *cli.Context) error {
					return outputJSON(env.session.Settings())
				},
			},
			{
				Name:      "auto-save",
				Usage:     "Turn automatic classification on or off",
				ArgsUsage: "<on|off>",
				Action: func(c *cli.Context) error {
					on, err := parseSwitch(c.Args().First())
					if err != nil {
						return outputError(errors.NewInvalidRequest(err.Error()))
					}
					s, err := env.session.SetAutoSave(c.Context, on)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(s)
				},
			},
		},
	}
}

// mcpCmd creates the mcp command.
func mcpCmd(env *environment) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the MCP tools over stdio",
		Action: func(c *cli.Context) error {
			return runMCP(env)
		},
	}
}

// Helper functions

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if reelErr, ok := errors.As(err); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", reelErr.Code, reelErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// printStats writes the classifier counters as JSON.
func printStats(w io.Writer, env *environment) error {
	counters, err := env.metrics.Snapshot()
	if err != nil {
		return outputError(errors.NewInternal(err))
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{"counters": counters})
}

// argsOrStdin returns the positional args joined by spaces, or piped stdin
// when there are none.
func argsOrStdin(c *cli.Context) (string, error) {
	if c.NArg() > 0 {
		return strings.TrimSpace(strings.Join(c.Args().Slice(), " ")), nil
	}
	if !stdinHasData() {
		return "", errors.NewInvalidRequest("text must be given as arguments or piped via stdin")
	}
	text, err := readStdin(maxStdinBytes)
	if err != nil {
		return "", errors.NewInvalidRequest(err.Error())
	}
	return text, nil
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// maxStdinBytes bounds shared text read from stdin.
const maxStdinBytes = 1 << 20

// readStdin reads up to maxBytes from stdin.
func readStdin(maxBytes int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(os.Stdin, maxBytes+1))
	if err != nil {
		return "", err
	}
	if int64(len(data)) > maxBytes {
		return "", fmt.Errorf("stdin exceeds %d bytes", maxBytes)
	}
	return strings.TrimSpace(string(data)), nil
}

// parseSwitch parses on/off style booleans.
func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "yes":
		return true, nil
	case "off", "no":
		return false, nil
	}
	on, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("expected on or off, got %q", s)
	}
	return on, nil
}

func countSet(flags ...bool) int {
	n := 0
	for _, f := range flags {
		if f {
			n++
		}
	}
	return n
}
