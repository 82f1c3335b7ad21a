package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"pdrb/internal/app"
	"pdrb/internal/archive"
	"pdrb/internal/config"
	"pdrb/internal/pdr"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates a PDRApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Export", "Run").
func newApp(ctx context.Context, operation string) (*app.PDRApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewPDRApp(ctx, cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

var rootCmd = &cobra.Command{
	Use:          "pdrb",
	Short:        "Personal data request backups",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		siteURL, _ := cmd.Flags().GetString("site-url")

		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(siteURL, defaults["base_dir"])
		if err := cfg.Validate(); err != nil {
			return err
		}

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Site URL:    %s\n", cfg.SiteURL)
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Archive Dir: %s\n", cfg.Archive.Dir)
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

		container := cfg.Archive.Container
		if container == "" {
			container = "none"
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Site URL:    %s\n", cfg.SiteURL)
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Database:    %s %s\n", cfg.Database.Type, cfg.Database.DataDir)
		fmt.Printf("Archive Dir: %s\n", cfg.Archive.Dir)
		fmt.Printf("Container:   %s\n", container)
		fmt.Printf("Import:      %s, store timeout %s\n", cfg.Import.Policy, cfg.Import.StoreTimeout)
		fmt.Printf("SMTP:        %s:%d\n", cfg.Mail.Host, cfg.Mail.Port)
		fmt.Printf("Mirror:      %s\n", cfg.Mirror.Type)
		if cfg.Metrics.Listen != "" {
			fmt.Printf("Metrics:     %s\n", cfg.Metrics.Listen)
		}
		return nil
	},
}

// export command
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a new archive of all requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Export")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Export(cmd.Context())
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}

		fmt.Printf("Exported %d export and %d erasure request(s)\n", res.Exports, res.Erasures)
		fmt.Printf("File: %s\n", res.FilePath)
		if res.FileURL != "" {
			fmt.Printf("URL:  %s\n", res.FileURL)
		}
		return nil
	},
}

// import command
var importCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Replace all requests with the contents of an archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		path := args[0]

		container, ok := archive.DetectFormat(path)
		if !ok {
			return fmt.Errorf("%s: not a .json or .zip archive", path)
		}

		if !yes {
			confirmed, err := confirm(fmt.Sprintf("Importing %s deletes every stored export and erasure request first. Continue?", path))
			if err != nil {
				return err
			}
			if !confirmed {
				fmt.Println("Import cancelled.")
				return nil
			}
		}

		a, err := newApp(cmd.Context(), "Import")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Import(cmd.Context(), path)
		var partial *pdr.PartialImportError
		if errors.As(err, &partial) {
			fmt.Printf("Import partially applied: deleted %d, imported %d export and %d erasure request(s)\n",
				res.Deleted, res.ExportsImported, res.ErasuresImported)
			for _, f := range partial.Failures {
				fmt.Printf("  %v\n", f)
			}
			return err
		}
		if err != nil {
			return fmt.Errorf("import failed: %w", err)
		}

		format := "json"
		if container != nil {
			format = container.Name()
		}
		fmt.Printf("Imported %d export and %d erasure request(s) from %s archive (replaced %d)\n",
			res.ExportsImported, res.ErasuresImported, format, res.Deleted)
		return nil
	},
}

// confirm asks a yes/no question on the terminal. Without a terminal it refuses.
func confirm(question string) (bool, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false, fmt.Errorf("refusing to import without confirmation: stdin is not a terminal (use --yes)")
	}

	fmt.Printf("%s [y/N] ", question)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false, fmt.Errorf("reading answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// settings command
var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage the backup schedule settings",
}

var settingsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "View schedule settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "GetSettings")
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := a.GetSettings(cmd.Context())
		if err != nil {
			return err
		}

		email := s.NotifyEmail
		if email == "" {
			email = "(none)"
		}
		fmt.Printf("Auto-export:  %s\n", onOff(s.AutoExportEnabled))
		fmt.Printf("Notify email: %s\n", email)
		fmt.Printf("Retain files: %s\n", onOff(s.RetainFilesAfterUninstall))
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change schedule settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "UpdateSettings")
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := a.GetSettings(cmd.Context())
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		if flags.Changed("auto-export") {
			if s.AutoExportEnabled, err = parseOnOff(flags.Lookup("auto-export").Value.String()); err != nil {
				return fmt.Errorf("--auto-export: %w", err)
			}
		}
		if flags.Changed("email") {
			s.NotifyEmail, _ = flags.GetString("email")
		}
		if flags.Changed("retain-files") {
			if s.RetainFilesAfterUninstall, err = parseOnOff(flags.Lookup("retain-files").Value.String()); err != nil {
				return fmt.Errorf("--retain-files: %w", err)
			}
		}

		if err := a.UpdateSettings(cmd.Context(), s); err != nil {
			return err
		}
		fmt.Println("Settings saved.")
		return nil
	},
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "yes":
		return true, nil
	case "off", "no":
		return false, nil
	}
	return strconv.ParseBool(s)
}

// list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List archive files",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "ListArchives")
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.ListArchives()
		if err != nil {
			return err
		}

		if len(entries) == 0 {
			fmt.Printf("No archives in %s.\n", a.ArchiveDir())
			return nil
		}

		for _, e := range entries {
			fmt.Printf("%s  %8d  %s\n", e.ModTime.Format("2006-01-02 15:04:05"), e.Size, e.Name)
		}
		return nil
	},
}

// purge command
var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove all archive files now",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Purge")
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.Purge(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d file(s)\n", n)
		return nil
	},
}

// uninstall command
var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Cancel the triggers and remove archives unless settings retain them",
	Long:  "Stop any running `pdrb run` first; it would otherwise schedule the triggers again.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Uninstall")
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.Uninstall(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Triggers cancelled, removed %d file(s)\n", n)
		return nil
	},
}

// run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the auto-export and cleanup triggers until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, "Run")
		if err != nil {
			return err
		}
		defer a.Close()

		started := time.Now()
		if err := a.Run(ctx); err != nil {
			return err
		}
		fmt.Printf("Stopped after %s\n", time.Since(started).Truncate(time.Second))
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().String("site-url", "", "Public URL of the site, used in mail subjects")
	configCmd.AddCommand(configListCmd)

	// settings subcommands
	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	settingsSetCmd.Flags().String("auto-export", "", "Daily auto-export: on or off")
	settingsSetCmd.Flags().String("email", "", "Address the daily archive is mailed to")
	settingsSetCmd.Flags().String("retain-files", "", "Keep archives on uninstall: on or off")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(runCmd)
}
