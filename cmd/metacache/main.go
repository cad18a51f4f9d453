package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/kadirbelkuyu/metacache/internal/app"
	"github.com/kadirbelkuyu/metacache/internal/config"
	"github.com/kadirbelkuyu/metacache/internal/model"
	"github.com/kadirbelkuyu/metacache/internal/profiles"
	"github.com/kadirbelkuyu/metacache/pkg/logger"
	"github.com/kadirbelkuyu/metacache/pkg/progress"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "metacache",
	Short: "Inspect and change database structure through a metadata cache",
	Long: `metacache reads schemas, tables, columns, indexes and bufferpools from PostgreSQL,
DB2 or SQLite into a lazily loaded cache and applies structural changes through it.

Objects are addressed as <kind> <path>, for example "index public/users/users_email",
or by the reference printed by "show".`,
}

var schemasCmd = &cobra.Command{
	Use:   "schemas",
	Short: "List schemas of the data source",
	Args:  cobra.NoArgs,
	RunE: withService(func(ctx context.Context, svc *app.Service, args []string) error {
		return svc.List(ctx, model.KindSchema, nil)
	}),
}

var listCmd = &cobra.Command{
	Use:   "list <kind> [container-path]",
	Short: "List objects of a kind under a container",
	Args:  cobra.RangeArgs(1, 2),
	RunE: withService(func(ctx context.Context, svc *app.Service, args []string) error {
		kind, path, err := kindAndPath(args)
		if err != nil {
			return err
		}
		return svc.List(ctx, kind, path)
	}),
}

var refreshCmd = &cobra.Command{
	Use:   "refresh <kind> [container-path]",
	Short: "Re-read objects of a kind from the server",
	Args:  cobra.RangeArgs(1, 2),
	RunE: withService(func(ctx context.Context, svc *app.Service, args []string) error {
		kind, path, err := kindAndPath(args)
		if err != nil {
			return err
		}
		var monitor progress.Monitor = progress.Nop{}
		if refreshAll {
			monitor = progress.NewBar(0, "Refreshing")
		}
		return svc.Refresh(ctx, kind, path, refreshAll, monitor)
	}),
}

var showCmd = &cobra.Command{
	Use:   "show <kind> <path> | show <ref>",
	Short: "Show the attributes of one object",
	Args:  cobra.RangeArgs(1, 2),
	RunE: withService(func(ctx context.Context, svc *app.Service, args []string) error {
		target, err := app.ParseTarget(args)
		if err != nil {
			return err
		}
		return svc.Show(ctx, target)
	}),
}

var createIndexCmd = &cobra.Command{
	Use:   "create-index <table-path> <name> <column[:desc]>...",
	Short: "Create an index on a table",
	Args:  cobra.MinimumNArgs(3),
	RunE: withService(func(ctx context.Context, svc *app.Service, args []string) error {
		spec := app.IndexSpec{
			Path:    app.SplitPath(args[0]),
			Name:    args[1],
			Columns: args[2:],
			Unique:  unique,
			Comment: commentText,
		}
		return svc.CreateIndex(ctx, spec, dryRun)
	}),
}

var commentCmd = &cobra.Command{
	Use:   "comment <kind> <path> | comment <ref>",
	Short: "Set or clear the comment of an object",
	Args:  cobra.RangeArgs(1, 2),
	RunE: withService(func(ctx context.Context, svc *app.Service, args []string) error {
		target, err := app.ParseTarget(args)
		if err != nil {
			return err
		}
		return svc.Comment(ctx, target, commentText, dryRun)
	}),
}

var dropCmd = &cobra.Command{
	Use:   "drop <kind> <path> | drop <ref>",
	Short: "Drop an object",
	Args:  cobra.RangeArgs(1, 2),
	RunE: withService(func(ctx context.Context, svc *app.Service, args []string) error {
		target, err := app.ParseTarget(args)
		if err != nil {
			return err
		}
		return svc.Drop(ctx, target, assumeYes, dryRun)
	}),
}

var profilesCmd = &cobra.Command{
	Use:   "profiles [type]",
	Short: "List configuration profiles in the profile directory",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runProfiles,
}

var browseCmd = &cobra.Command{
	Use:   "browse",
	Short: "Browse the data source in a terminal UI",
	Args:  cobra.NoArgs,
	RunE: withService(func(ctx context.Context, svc *app.Service, args []string) error {
		if plain {
			return svc.Walk(ctx)
		}
		return svc.Browse(ctx)
	}),
}

var (
	configPath  string
	profileName string
	profilesDir string
	verbose     bool
	refreshAll  bool
	unique      bool
	commentText string
	dryRun      bool
	assumeYes   bool
	plain       bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the database configuration file")
	rootCmd.PersistentFlags().StringVar(&profileName, "profile", "", "Name of a profile in the profile directory")
	rootCmd.PersistentFlags().StringVar(&profilesDir, "profiles-dir", "configs", "Directory holding configuration profiles")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable verbose logging")
	rootCmd.MarkFlagsMutuallyExclusive("config", "profile")

	refreshCmd.Flags().BoolVar(&refreshAll, "all", false, "Refresh the kind under every container below the path")

	createIndexCmd.Flags().BoolVar(&unique, "unique", false, "Create a unique index")
	createIndexCmd.Flags().StringVar(&commentText, "comment", "", "Comment for the new index")
	createIndexCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the statements without running them")

	commentCmd.Flags().StringVar(&commentText, "text", "", "Comment text; empty clears the comment")
	commentCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the statements without running them")

	dropCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask for confirmation")
	dropCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the statements without running them")

	browseCmd.Flags().BoolVar(&plain, "plain", false, "Use numbered prompts instead of the full-screen UI")

	rootCmd.AddCommand(schemasCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(createIndexCmd)
	rootCmd.AddCommand(commentCmd)
	rootCmd.AddCommand(dropCmd)
	rootCmd.AddCommand(browseCmd)
	rootCmd.AddCommand(profilesCmd)

	cobra.OnInitialize(func() {
		rootCmd.SilenceUsage = true
		rootCmd.SilenceErrors = true
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, app.Describe(err))
		os.Exit(1)
	}
}

type action func(ctx context.Context, svc *app.Service, args []string) error

// withService loads the configuration, connects and closes the connection
// once the action returns.
func withService(run action) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("cannot load config: %w", err)
		}

		log := logger.NewLogger(verbose || cfg.Logging.Verbose)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, err := app.Open(ctx, cfg, os.Stdin, cmd.OutOrStdout(), log)
		if err != nil {
			return fmt.Errorf("cannot open data source: %w", err)
		}
		defer svc.Close()

		return run(ctx, svc, args)
	}
}

func loadConfig() (*config.Config, error) {
	switch {
	case configPath != "":
		return config.LoadConfig(configPath)
	case profileName != "":
		return profiles.NewManager(profilesDir).Load(profileName)
	}
	return nil, fmt.Errorf("either --config or --profile is required")
}

func runProfiles(cmd *cobra.Command, args []string) error {
	var dbType string
	if len(args) == 1 {
		dbType = args[0]
	}
	manager := profiles.NewManager(profilesDir)
	found, err := manager.List(dbType)
	if err != nil {
		return fmt.Errorf("cannot list profiles: %w", err)
	}
	out := cmd.OutOrStdout()
	if len(found) == 0 {
		fmt.Fprintf(out, "No profiles found in %s\n", manager.Directory())
		return nil
	}
	for _, p := range found {
		fmt.Fprintf(out, "%-24s %-10s %s\n", p.Name, p.Type, p.Modified.Format("2006-01-02 15:04"))
	}
	return nil
}

func kindAndPath(args []string) (model.Kind, []string, error) {
	kind, ok := model.ParseKind(strings.ToLower(args[0]))
	if !ok {
		return "", nil, fmt.Errorf("unknown object kind %q", args[0])
	}
	var path []string
	if len(args) > 1 {
		path = app.SplitPath(args[1])
	}
	return kind, path, nil
}
