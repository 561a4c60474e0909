package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "time/tzdata"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"dms-go/internal/app"
	"dms-go/internal/auth"
	"dms-go/internal/config"
	"dms-go/internal/database"
	"dms-go/internal/encryption"
	"dms-go/internal/interval"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file named by the defaults.
func loadConfig() (*config.Config, string, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, "", fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, "", fmt.Errorf("reading config: %w", err)
	}
	return cfg, defaults["config_path"], nil
}

// newApp reads the config and creates a DMSApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "serve", "sweep").
func newApp(ctx context.Context, operation string) (*app.DMSApp, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.NewDMSApp(ctx, cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

var rootCmd = &cobra.Command{
	Use:          "dms",
	Short:        "Dead man's switch email scheduler",
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
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		if cfg.Security.CodePepper, err = randomSecret(); err != nil {
			return err
		}
		if cfg.Auth.Secret, err = randomSecret(); err != nil {
			return err
		}

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		fmt.Println("Next: 'dms migrate', then 'dms keys init' to seal the archive.")
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", path)
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Listen:     %s\n", cfg.Server.Listen)
		fmt.Printf("Database:   %s\n", cfg.Database.Type)
		fmt.Printf("Mail:       %s (from %s)\n", cfg.Mail.Type, cfg.Mail.From)
		fmt.Printf("Archive:    %s (encrypt=%t)\n", cfg.Archive.Type, cfg.Archive.Encrypt)
		fmt.Printf("Schedule:   %s %s\n", cfg.Scheduler.Schedule, cfg.Scheduler.Timezone)
		fmt.Printf("Server URL: %s\n", cfg.Client.ServerURL)
		return nil
	},
}

// migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		showSchema, _ := cmd.Flags().GetBool("schema")

		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := database.NewStoreFromConfig(cfg.Database)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer store.Close()

		if err := store.Migrate(); err != nil {
			return err
		}
		fmt.Println("Database schema is up to date.")

		if showSchema {
			schema, err := store.Schema(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(schema)
		}
		return nil
	},
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the sweep scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, "serve")
		if err != nil {
			return err
		}
		defer a.Close()

		err = a.Serve(ctx, func(addr string) {
			fmt.Printf("Listening on %s\n", addr)
			// Reports false with no error when not run under systemd.
			daemon.SdNotify(false, daemon.SdNotifyReady)
		})
		daemon.SdNotify(false, daemon.SdNotifyStopping)
		return err
	},
}

// sweep command
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Send every due email once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "sweep")
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Sweep(cmd.Context())
		if err != nil {
			return fmt.Errorf("sweep failed: %w", err)
		}
		fmt.Printf("Due: %d  Sent: %d (retired %d, rescheduled %d)  Failed: %d  Skipped: %d\n",
			report.Due, report.Sent(), report.Retired, report.Rescheduled, report.Failed, report.Skipped)
		return nil
	},
}

// interval command
var intervalCmd = &cobra.Command{
	Use:   "interval SPEC",
	Short: "Validate an interval and preview its next trigger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fromRaw, _ := cmd.Flags().GetString("from")

		spec, err := interval.Parse(args[0])
		if err != nil {
			return err
		}

		from := time.Now()
		if fromRaw != "" {
			if from, err = time.Parse(time.RFC3339, fromRaw); err != nil {
				return fmt.Errorf("--from must be RFC 3339: %w", err)
			}
		}

		fmt.Printf("Interval: %s (about %s)\n", spec, spec.Approx())
		fmt.Printf("From:     %s\n", from.Format(time.RFC3339))
		fmt.Printf("Next:     %s\n", spec.Next(from).Format(time.RFC3339))
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage the archive key pair",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the age key pair that seals archived messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		enc := encryption.NewAgeEncryptor(cfg.Encryption)
		if enc.IsConfigured() {
			return encryption.ErrKeysExist
		}

		passphrase, err := readSecretConfirmed("Passphrase for the private key")
		if err != nil {
			return err
		}
		if err := enc.Setup(passphrase); err != nil {
			return fmt.Errorf("generating keys: %w", err)
		}

		pub, err := enc.PublicKey()
		if err != nil {
			return err
		}
		fmt.Printf("Public key:  %s\n", pub)
		fmt.Printf("Private key: %s (passphrase protected)\n", cfg.Encryption.PrivateKeyPath)
		return nil
	},
}

// archive command
var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Inspect sent messages",
}

var archiveListCmd = &cobra.Command{
	Use:   "list [PREFIX]",
	Short: "List archived messages",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "archive-list")
		if err != nil {
			return err
		}
		defer a.Close()

		prefix := ""
		if len(args) > 0 {
			prefix = args[0]
		}
		keys, err := a.ListArchived(cmd.Context(), prefix)
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			fmt.Println("No archived messages.")
			return nil
		}
		for _, k := range keys {
			fmt.Println(k)
		}
		return nil
	},
}

var archiveShowCmd = &cobra.Command{
	Use:   "show KEY",
	Short: "Print an archived message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "archive-show")
		if err != nil {
			return err
		}
		defer a.Close()

		var passphrase string
		if a.ArchiveSealed() {
			if passphrase, err = readSecret("Passphrase"); err != nil {
				return err
			}
		}
		return a.ShowArchived(cmd.Context(), args[0], passphrase, os.Stdout)
	},
}

// token command
var tokenCmd = &cobra.Command{
	Use:   "token EMAIL",
	Short: "Issue a bearer token signed with the configured auth secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ttl, _ := cmd.Flags().GetDuration("ttl")

		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		v, err := auth.NewVerifier(cfg.Auth)
		if err != nil {
			return err
		}
		tok, err := v.Issue(args[0], ttl)
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	keysCmd.AddCommand(keysInitCmd)

	archiveCmd.AddCommand(archiveListCmd)
	archiveCmd.AddCommand(archiveShowCmd)

	// server-side commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().Bool("schema", false, "Print the resulting schema (sqlite only)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(intervalCmd)
	intervalCmd.Flags().String("from", "", "Compute the next trigger from this RFC 3339 instant instead of now")
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")

	addClientCommands(rootCmd)
}
