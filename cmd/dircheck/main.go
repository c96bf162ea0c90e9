package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"dircheck/internal/app"
	"dircheck/internal/audit"
	"dircheck/internal/config"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
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

// newApp reads the config and creates an App. The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "Scan", "ArchivePush").
func newApp(ctx context.Context, operation string) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.NewApp(ctx, cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// run opens an App for operation, calls fn and records a failure in the log.
func run(cmd *cobra.Command, operation string, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, operation)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := fn(ctx, a); err != nil {
		a.Fail(err)
		return err
	}
	return nil
}

var stdinReader = bufio.NewReader(os.Stdin)

// readPassphrase prompts on the terminal without echo. Without a terminal
// one line is read from stdin.
func readPassphrase(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := stdinReader.ReadString('\n')
		if err != nil && line == "" {
			return "", err
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Fprint(os.Stderr, prompt)
	pass, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(pass), nil
}

var rootCmd = &cobra.Command{
	Use:          "dircheck",
	Short:        "Audit directory trees for changes between scans",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration and database",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		hostID := uuid.New().String()
		cfg := config.NewConfig(hostID, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		if err := app.Migrate(cfg); err != nil {
			return err
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Host ID: %s\n", hostID)
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
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
		fmt.Printf("Host ID:    %s\n", cfg.HostID)
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Database:   %s %s\n", cfg.Database.Type, cfg.Database.DataDir)
		fmt.Printf("Encryption: %s\n", cfg.Encryption.Type)
		for _, a := range cfg.Archives {
			fmt.Printf("Archive:    %s (%s)\n", a.Name, a.Type)
		}
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage archive encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, "InitKeys", func(ctx context.Context, a *app.App) error {
			pass, err := readPassphrase("Passphrase: ")
			if err != nil {
				return err
			}
			confirm, err := readPassphrase("Confirm passphrase: ")
			if err != nil {
				return err
			}
			if pass != confirm {
				return fmt.Errorf("passphrases do not match")
			}
			if err := a.InitKeys(pass); err != nil {
				return err
			}
			fmt.Println("Encryption keys generated.")
			return nil
		})
	},
}

// root command
var rootPathCmd = &cobra.Command{
	Use:   "root",
	Short: "Manage audited root directories",
}

var rootAddCmd = &cobra.Command{
	Use:   "add PATH",
	Short: "Register a directory for auditing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, "AddRoot", func(ctx context.Context, a *app.App) error {
			root, created, err := a.AddRoot(ctx, args[0])
			if err != nil {
				return err
			}
			if created {
				fmt.Printf("Added root %d: %s\n", root.ID, root.Path)
			} else {
				fmt.Printf("Already registered as root %d: %s\n", root.ID, root.Path)
			}
			return nil
		})
	},
}

var rootListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered roots",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, "ListRoots", func(ctx context.Context, a *app.App) error {
			return a.ReportRoots(ctx, os.Stdout)
		})
	},
}

var rootUnlockCmd = &cobra.Command{
	Use:   "unlock ROOT",
	Short: "Release the lease left by a crashed scan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, "UnlockRoot", func(ctx context.Context, a *app.App) error {
			root, removed, err := a.UnlockRoot(ctx, args[0])
			if err != nil {
				return err
			}
			if removed {
				fmt.Printf("Released lease on %s\n", root.Path)
			} else {
				fmt.Printf("No lease held on %s\n", root.Path)
			}
			return nil
		})
	},
}

// scan command
var scanCmd = &cobra.Command{
	Use:   "scan ROOT",
	Short: "Reconcile a root against the filesystem",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deep, _ := cmd.Flags().GetBool("deep")

		return run(cmd, "Scan", func(ctx context.Context, a *app.App) error {
			res, err := a.Scan(ctx, args[0], deep)
			if err != nil {
				if res != nil && res.Scan != nil {
					return fmt.Errorf("scan %d failed: %w", res.Scan.ID, err)
				}
				if audit.KindOf(err) == audit.KindConcurrencyConflict {
					return fmt.Errorf("%w (if no scan is running, use `dircheck root unlock`)", err)
				}
				return err
			}

			c := res.Counts
			fmt.Printf("Scan %d complete: %d added, %d modified, %d deleted, %d type changed, %d unchanged\n",
				res.Scan.ID, c.Adds, c.Modifies, c.Deletes, c.TypeChanges, c.Unchanged)
			if res.Warnings > 0 {
				fmt.Printf("%d path(s) could not be read; see the log\n", res.Warnings)
			}
			return nil
		})
	},
}

// report command
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show scans, changes and items",
}

var reportScansCmd = &cobra.Command{
	Use:   "scans [ROOT]",
	Short: "List recent scans",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		rootArg := ""
		if len(args) > 0 {
			rootArg = args[0]
		}

		return run(cmd, "ReportScans", func(ctx context.Context, a *app.App) error {
			return a.ReportScans(ctx, os.Stdout, rootArg, limit)
		})
	},
}

var reportScanCmd = &cobra.Command{
	Use:   "scan [ID|latest]",
	Short: "Show the changes recorded by a scan",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rootArg, _ := cmd.Flags().GetString("root")
		withItems, _ := cmd.Flags().GetBool("items")
		scanArg := app.LatestScanArg
		if len(args) > 0 {
			scanArg = args[0]
		}

		return run(cmd, "ReportScan", func(ctx context.Context, a *app.App) error {
			return a.ReportScan(ctx, os.Stdout, scanArg, rootArg, withItems)
		})
	},
}

var reportRootsCmd = &cobra.Command{
	Use:   "roots",
	Short: "List registered roots",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, "ReportRoots", func(ctx context.Context, a *app.App) error {
			return a.ReportRoots(ctx, os.Stdout)
		})
	},
}

var reportItemCmd = &cobra.Command{
	Use:   "item ID",
	Short: "Show an item and its change history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, "ReportItem", func(ctx context.Context, a *app.App) error {
			return a.ReportItem(ctx, os.Stdout, args[0])
		})
	},
}

// archive command
var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Copy the audit database off-host",
}

var archivePushCmd = &cobra.Command{
	Use:   "push",
	Short: "Upload a database snapshot to every archive",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, "ArchivePush", func(ctx context.Context, a *app.App) error {
			results, err := a.ArchivePush(ctx)
			for _, r := range results {
				fmt.Printf("%s: %s (%d bytes)\n", r.Archive, r.Key, r.Size)
			}
			return err
		})
	},
}

var archiveListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("archive")
		allHosts, _ := cmd.Flags().GetBool("all-hosts")

		return run(cmd, "ArchiveList", func(ctx context.Context, a *app.App) error {
			objs, err := a.ArchiveList(ctx, name, allHosts)
			if err != nil {
				return err
			}
			if len(objs) == 0 {
				fmt.Println("No snapshots.")
				return nil
			}
			for _, o := range objs {
				fmt.Printf("%s  %10d  %s\n", o.ModTime.Local().Format("2006-01-02 15:04:05"), o.Size, o.Key)
			}
			return nil
		})
	},
}

var archivePullCmd = &cobra.Command{
	Use:   "pull KEY DEST",
	Short: "Download and decrypt an archived snapshot",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("archive")

		return run(cmd, "ArchivePull", func(ctx context.Context, a *app.App) error {
			prompt := func() (string, error) { return readPassphrase("Passphrase: ") }
			if err := a.ArchivePull(ctx, name, args[0], args[1], prompt); err != nil {
				return err
			}
			fmt.Printf("Restored %s to %s\n", args[0], args[1])
			return nil
		})
	},
}

// db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Maintain the audit database",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := app.Migrate(cfg); err != nil {
			return err
		}
		fmt.Println("Database schema is up to date.")
		return nil
	},
}

var dbSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, "Schema", func(ctx context.Context, a *app.App) error {
			schema, err := a.Schema()
			if err != nil {
				return err
			}
			fmt.Println(schema)
			return nil
		})
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	keysCmd.AddCommand(keysInitCmd)

	rootPathCmd.AddCommand(rootAddCmd)
	rootPathCmd.AddCommand(rootListCmd)
	rootPathCmd.AddCommand(rootUnlockCmd)

	scanCmd.Flags().Bool("deep", false, "Hash every file instead of trusting size and mtime")

	reportCmd.AddCommand(reportScansCmd)
	reportScansCmd.Flags().IntP("limit", "n", 20, "Maximum number of scans to show")
	reportCmd.AddCommand(reportScanCmd)
	reportScanCmd.Flags().String("root", "", "Root id or path when selecting the latest scan")
	reportScanCmd.Flags().Bool("items", false, "Also list the live items confirmed by the scan")
	reportCmd.AddCommand(reportRootsCmd)
	reportCmd.AddCommand(reportItemCmd)

	archiveCmd.AddCommand(archivePushCmd)
	archiveCmd.AddCommand(archiveListCmd)
	archiveListCmd.Flags().String("archive", "", "Archive name (required with more than one archive)")
	archiveListCmd.Flags().Bool("all-hosts", false, "List snapshots of every host")
	archiveCmd.AddCommand(archivePullCmd)
	archivePullCmd.Flags().String("archive", "", "Archive name (required with more than one archive)")

	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbSchemaCmd)

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(rootPathCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(dbCmd)
}
