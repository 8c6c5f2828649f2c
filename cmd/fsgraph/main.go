package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"fsgraph/internal/app"
	"fsgraph/internal/config"
	"fsgraph/internal/miner"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func readConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp reads the config and creates an FSGraphApp. The caller must call
// app.Close with the command's outcome.
// operation identifies the CLI command being run (e.g. "index", "search").
func newApp(operation string, args []string, opts app.Options) (*app.FSGraphApp, error) {
	cfg, err := readConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.NewFSGraphApp(cfg, operation, strings.Join(args, " "), opts)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// withEngine runs fn against an engine that has finished its startup crawl.
func withEngine(cmd *cobra.Command, operation string, args []string, fn func(ctx context.Context, a *app.FSGraphApp) error) (err error) {
	a, err := newApp(operation, args, app.Options{})
	if err != nil {
		return err
	}
	defer func() { a.Close(err) }()

	ctx := cmd.Context()
	stop, err := a.Start(ctx)
	if err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}
	err = fn(ctx, a)
	if stopErr := stop(); stopErr != nil && !errors.Is(stopErr, context.Canceled) && err == nil {
		err = stopErr
	}
	return err
}

// withReader runs fn against the persisted index without starting the engine.
func withReader(operation string, args []string, fn func(a *app.FSGraphApp) error) (err error) {
	a, err := newApp(operation, args, app.Options{})
	if err != nil {
		return err
	}
	defer func() { a.Close(err) }()
	return fn(a)
}

var rootCmd = &cobra.Command{
	Use:          "fsgraph",
	Short:        "Filesystem metadata indexer",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init [ROOT...]",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		for _, root := range args {
			abs, err := filepath.Abs(root)
			if err != nil {
				return fmt.Errorf("resolving root: %w", err)
			}
			cfg.Roots = append(cfg.Roots, config.RootConfig{Path: abs, Recursive: true})
		}

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		for _, r := range cfg.Roots {
			fmt.Printf("Root:     %s\n", r.Path)
		}
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Store:      %s %s\n", cfg.Store.Type, cfg.Store.DataDir)
		fmt.Printf("Monitor:    %t\n", cfg.Monitor.Enabled)
		fmt.Printf("Extractors: %d workers, timeout %s\n", cfg.Extraction.Workers, cfg.Extraction.Timeout)
		for _, r := range cfg.Roots {
			mode := "recursive"
			if !r.Recursive {
				mode = "top level"
			}
			fmt.Printf("Root:       %s (%s)\n", r.Path, mode)
		}
		return nil
	},
}

// run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Index the configured roots and keep the index live",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp("run", args, app.Options{Live: true})
		if err != nil {
			return err
		}
		defer func() { a.Close(err) }()

		ctx := cmd.Context()
		updates, unsubscribe := a.Tracker().Subscribe()
		defer unsubscribe()
		go func() {
			for p := range updates {
				if p.Status == miner.StatusIdle {
					fmt.Printf("idle after %d cycle(s)\n", p.Cycles)
				}
			}
		}()

		err = a.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

// index command
var indexCmd = &cobra.Command{
	Use:   "index PATH",
	Short: "Re-index a file or directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		recursive, _ := cmd.Flags().GetBool("recursive")
		force, _ := cmd.Flags().GetBool("force")
		graphs, _ := cmd.Flags().GetStringSlice("graph")

		return withEngine(cmd, "index", args, func(ctx context.Context, a *app.FSGraphApp) error {
			if err := a.IndexLocation(ctx, args[0], recursive, force, graphs); err != nil {
				return fmt.Errorf("indexing: %w", err)
			}
			fmt.Printf("Indexed %s\n", args[0])
			return nil
		})
	},
}

// search command
var searchCmd = &cobra.Command{
	Use:   "search TEXT...",
	Short: "Full-text search of indexed content",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		text := strings.Join(args, " ")

		return withReader("search", args, func(a *app.FSGraphApp) error {
			results, err := a.Search(cmd.Context(), text, limit)
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Println("No matches.")
				return nil
			}

			tty := term.IsTerminal(int(os.Stdout.Fd()))
			width := 0
			if tty {
				if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
					width = w
				}
			}
			for _, r := range results {
				fmt.Println(formatResult(r.URI, tty, width))
			}
			return nil
		})
	},
}

// formatResult renders a match, bolding the file name on terminals and
// eliding the directory to fit width.
func formatResult(uri string, tty bool, width int) string {
	path, err := miner.PathFromURI(uri)
	if err != nil {
		return uri
	}
	dir, name := filepath.Split(path)
	if width > 0 && len(dir)+len(name) > width && width > len(name)+3 {
		keep := width - len(name) - 3
		dir = "..." + dir[len(dir)-keep:]
	}
	if tty {
		return dir + "\x1b[1m" + name + "\x1b[0m"
	}
	return dir + name
}

// info command
var infoCmd = &cobra.Command{
	Use:   "info PATH",
	Short: "Show everything indexed about a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		full, _ := cmd.Flags().GetBool("full")

		return withReader("info", args, func(a *app.FSGraphApp) error {
			desc, err := a.Describe(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			fmt.Printf("%s\n", desc.URI)
			fmt.Printf("  resource: %s\n", desc.ID)
			if desc.ContentID != "" {
				fmt.Printf("  content:  %s\n", desc.ContentID)
			}
			fmt.Println()
			for _, st := range desc.Statements {
				object := st.Object.Lexical
				if !full && len(object) > 80 {
					object = object[:77] + "..."
				}
				object = strings.ReplaceAll(object, "\n", " ")
				fmt.Printf("  %-28s %s\n", st.Predicate, object)
			}
			return nil
		})
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize the index",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withReader("status", args, func(a *app.FSGraphApp) error {
			st, err := a.Status(cmd.Context())
			if err != nil {
				return err
			}

			if len(st.Sources) == 0 {
				fmt.Println("Nothing indexed yet.")
				return nil
			}
			for _, src := range st.Sources {
				avail := "available"
				if !src.Available {
					avail = "unavailable"
				}
				fmt.Printf("%-12s %s\n", avail, src.URI)
			}

			labels := make([]string, 0, len(st.Counts))
			for label := range st.Counts {
				labels = append(labels, label)
			}
			sort.Strings(labels)
			fmt.Println()
			for _, label := range labels {
				fmt.Printf("%-28s %d\n", label, st.Counts[label])
			}
			return nil
		})
	},
}

// source command
var sourceCmd = &cobra.Command{
	Use:   "source",
	Short: "Manage removable data sources",
}

var sourceAddCmd = &cobra.Command{
	Use:   "add PATH",
	Short: "Index a mounted volume",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, "source-add", args, func(ctx context.Context, a *app.FSGraphApp) error {
			if err := a.AddSource(ctx, args[0]); err != nil {
				return fmt.Errorf("adding source: %w", err)
			}
			fmt.Printf("Indexed source %s\n", args[0])
			return nil
		})
	},
}

var sourceRemoveCmd = &cobra.Command{
	Use:   "remove PATH",
	Short: "Mark a volume unmounted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, "source-remove", args, func(ctx context.Context, a *app.FSGraphApp) error {
			if err := a.RemoveSource(ctx, args[0]); err != nil {
				return fmt.Errorf("removing source: %w", err)
			}
			fmt.Printf("Source %s marked unavailable\n", args[0])
			return nil
		})
	},
}

// write command
var writeCmd = &cobra.Command{
	Use:   "write PATH PROPERTY=VALUE...",
	Short: "Write properties into a file",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		props, err := parseAssignments(args[1:])
		if err != nil {
			return err
		}
		return withEngine(cmd, "write", args, func(ctx context.Context, a *app.FSGraphApp) error {
			if err := a.WriteProperties(ctx, args[0], props); err != nil {
				return fmt.Errorf("writing properties: %w", err)
			}
			fmt.Printf("Wrote %d propert(ies) to %s\n", len(props), args[0])
			return nil
		})
	},
}

func parseAssignments(args []string) (map[string]string, error) {
	props := make(map[string]string, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("expected PROPERTY=VALUE, got %q", arg)
		}
		props[name] = value
	}
	return props, nil
}

// tree command
var treeCmd = &cobra.Command{
	Use:   "tree [PATH]",
	Short: "Show the indexed hierarchy",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		depth, _ := cmd.Flags().GetInt("depth")

		target := "."
		if len(args) > 0 {
			target = args[0]
		}
		return withReader("tree", args, func(a *app.FSGraphApp) error {
			out, err := a.Tree(cmd.Context(), target, depth)
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		})
	},
}

// store command
var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Maintain the graph store",
}

var storeMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Bring the store schema up to date",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		if err := app.MigrateStore(cfg); err != nil {
			return err
		}
		fmt.Println("Store is up to date.")
		return nil
	},
}

var storeBackupCmd = &cobra.Command{
	Use:   "backup DEST",
	Short: "Write a consistent copy of the store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dest, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("resolving path: %w", err)
		}
		return withReader("store-backup", args, func(a *app.FSGraphApp) error {
			if err := a.BackupTo(dest); err != nil {
				return err
			}
			fmt.Printf("Store copied to %s\n", dest)
			return nil
		})
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// source subcommands
	sourceCmd.AddCommand(sourceAddCmd)
	sourceCmd.AddCommand(sourceRemoveCmd)

	// store subcommands
	storeCmd.AddCommand(storeMigrateCmd)
	storeCmd.AddCommand(storeBackupCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(indexCmd)
	indexCmd.Flags().BoolP("recursive", "r", false, "Recurse into subdirectories")
	indexCmd.Flags().BoolP("force", "f", false, "Re-extract unchanged files")
	indexCmd.Flags().StringSlice("graph", nil, "Restrict forced re-extraction to these content graphs")
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().IntP("limit", "n", 50, "Maximum number of results")
	rootCmd.AddCommand(infoCmd)
	infoCmd.Flags().Bool("full", false, "Do not truncate long values")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sourceCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(treeCmd)
	treeCmd.Flags().IntP("depth", "d", 0, "Levels to show (0 for all)")
	rootCmd.AddCommand(storeCmd)
}
