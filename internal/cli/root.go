// Package cli provides the command-line interface for the alert engine.
package cli

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"market-alerts/internal/alerts"
	"market-alerts/internal/config"
	"market-alerts/internal/engine"
	"market-alerts/internal/logging"
	"market-alerts/internal/security"
	"market-alerts/internal/store"
)

// Version information
const (
	Version   = "0.3.0"
	BuildDate = "2024-03-01"
)

// App holds the application dependencies.
type App struct {
	ConfigDir string
	Config    *config.Config
	Logger    zerolog.Logger
}

// NewRootCmd creates the root command for the CLI. When cfg is nil the
// configuration is loaded from --config (or the default directory) before any
// subcommand runs.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	rootCmd := &cobra.Command{
		Use:   "alertd",
		Short: "Real-time market alert engine",
		Long: `alertd watches streaming market snapshots, evaluates user-defined alert
rules every second and fans triggered alerts out to desktop, email, Slack,
Discord, webhook and SMS channels.

Run 'alertd serve' to start the engine. The rules, history and status
commands work against the same store the engine uses.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("config")
			if dir == "" {
				dir = config.DefaultConfigDir()
			}
			app.ConfigDir = dir

			if app.Config == nil {
				loaded, err := config.Load(dir)
				if err != nil {
					return err
				}
				app.Config = loaded
				app.Logger = NewLogger(loaded.Logging)
			}

			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/market-alerts)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	addCoreCommands(rootCmd, app)
	addServeCommands(rootCmd, app)
	addRuleCommands(rootCmd, app)
	addHistoryCommands(rootCmd, app)

	return rootCmd
}

// NewLogger builds the process logger from the logging section.
func NewLogger(cfg config.LoggingConfig) zerolog.Logger {
	logCfg := logging.DefaultLogConfig()
	if cfg.Level != "" {
		logCfg.Level = cfg.Level
	}
	logCfg.File = cfg.File
	if cfg.FilePath != "" {
		logCfg.FilePath = cfg.FilePath
	}
	if cfg.MaxSize > 0 {
		logCfg.MaxSize = cfg.MaxSize
	}
	if cfg.MaxBackups > 0 {
		logCfg.MaxBackups = cfg.MaxBackups
	}
	if cfg.MaxAge > 0 {
		logCfg.MaxAge = cfg.MaxAge
	}
	return logging.NewLoggerWithConfig(logCfg)
}

// openRegistry opens the configured store and loads its rules. The caller
// closes the returned store.
func (app *App) openRegistry(ctx context.Context) (*alerts.RuleRegistry, store.AlertStore, error) {
	st, err := engine.OpenStore(app.Config.Store)
	if err != nil {
		return nil, nil, fmt.Errorf("opening store: %w", err)
	}
	registry := alerts.NewRegistry(st, app.Logger, nil)
	if _, err := registry.Load(ctx); err != nil {
		st.Close()
		return nil, nil, err
	}
	return registry, st, nil
}

// addCoreCommands adds core utility commands.
func addCoreCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("alertd v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate the engine configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			cfg := security.RedactConfig(app.Config)
			if output.IsJSON() {
				return output.JSON(cfg)
			}
			showConfig(output, cfg)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": app.ConfigDir})
			} else {
				output.Println(app.ConfigDir)
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("Configuration is valid")
			}
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Engine")
	output.Printf("  Tick interval:   %s\n", cfg.Engine.TickInterval)
	output.Printf("  History:         %d snapshots\n", cfg.Engine.HistoryCapacity)
	output.Printf("  Staleness TTL:   %s\n", cfg.Engine.StalenessTTL)
	output.Printf("  Rules file:      %s\n", valueOr(cfg.Engine.RulesFile, "-"))
	output.Println()

	output.Bold("Dispatcher")
	output.Printf("  Workers:         %d\n", cfg.Dispatcher.Workers)
	output.Printf("  Queue size:      %d\n", cfg.Dispatcher.QueueSize)
	output.Printf("  Send timeout:    %s\n", cfg.Dispatcher.SendTimeout)
	output.Printf("  Breaker:         %d failures, %s cooldown\n", cfg.Dispatcher.BreakerFailures, cfg.Dispatcher.BreakerCooldown)
	output.Println()

	output.Bold("Notifications")
	output.Printf("  Desktop:         %v\n", cfg.Notifications.Desktop.Enabled)
	output.Printf("  Email:           %v\n", cfg.Notifications.Email.Enabled)
	output.Printf("  Slack:           %v %s\n", cfg.Notifications.Slack.Enabled, cfg.Notifications.Slack.WebhookURL)
	output.Printf("  Discord:         %v %s\n", cfg.Notifications.Discord.Enabled, cfg.Notifications.Discord.WebhookURL)
	output.Printf("  Webhook:         %v %s\n", cfg.Notifications.Webhook.Enabled, cfg.Notifications.Webhook.URL)
	output.Printf("  SMS:             %v\n", cfg.Notifications.SMS.Enabled)
	output.Println()

	output.Bold("Storage and surfaces")
	output.Printf("  Store:           %s (%s)\n", cfg.Store.Driver, valueOr(cfg.Store.Path, "-"))
	output.Printf("  Feed:            %v %s\n", cfg.Feed.Enabled, cfg.Feed.URL)
	output.Printf("  API:             %v %s\n", cfg.API.Enabled, cfg.API.Listen)
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
