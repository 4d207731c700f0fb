package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"market-alerts/internal/engine"
)

const shutdownTimeout = 15 * time.Second

func addServeCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newServeCmd(app))
	rootCmd.AddCommand(newStatusCmd(app))
}

func newServeCmd(app *App) *cobra.Command {
	var rulesFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the alert engine",
		Long: `Run the alert engine until interrupted.

The engine loads persisted rules, imports the optional rules file, subscribes
to the configured feed and serves the admin API.`,
		Example: `  alertd serve
  alertd serve --rules ./rules.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := *app.Config
			if rulesFile != "" {
				cfg.Engine.RulesFile = rulesFile
			}

			e, err := engine.New(&cfg, app.Logger, engine.Options{})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := e.Start(ctx); err != nil {
				e.Shutdown(context.Background())
				return err
			}

			output := NewOutput(cmd)
			if !output.IsJSON() {
				output.Success("Alert engine running (%d rules)", e.Registry().Len())
				if addr := e.APIAddr(); addr != "" {
					output.Dim("Admin API on http://%s", addr)
				}
			}

			<-ctx.Done()
			app.Logger.Info().Msg("Shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return e.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&rulesFile, "rules", "", "YAML rules file to import at start")
	return cmd
}

func newStatusCmd(app *App) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the running engine's status",
		Long:  "Query the admin API of a running engine. Falls back to the stored rules when no engine answers.",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if addr == "" {
				addr = app.Config.API.Listen
			}

			status, err := fetchStatus(cmd.Context(), addr)
			if err != nil {
				app.Logger.Debug().Err(err).Str("addr", addr).Msg("Engine not reachable")
				return showOfflineStatus(cmd.Context(), output, app)
			}

			if output.IsJSON() {
				return output.JSON(status)
			}
			showStatus(output, status)
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "admin API address (default: api.listen)")
	return cmd
}

func fetchStatus(ctx context.Context, addr string) (*engine.Status, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/status", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status endpoint returned %s", resp.Status)
	}
	var status engine.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decoding status: %w", err)
	}
	return &status, nil
}

func showStatus(output *Output, s *engine.Status) {
	if s.Running {
		output.Success("Engine running")
	} else {
		output.Warning("Engine stopped")
	}
	if s.StartedAt != nil {
		output.Printf("  Uptime:          %s\n", FormatDuration(time.Since(*s.StartedAt)))
	}
	output.Printf("  Rules:           %d (%d enabled)\n", s.TotalRules, s.EnabledRules)
	output.Printf("  Instruments:     %d\n", s.Instruments)
	output.Printf("  Snapshots:       %d accepted, %d rejected, %d dropped\n", s.Bridge.Accepted, s.Bridge.Rejected, s.Bridge.Dropped)
	if s.Feed != nil {
		output.Printf("  Feed:            %d connects, %d messages\n", s.Feed.Connects, s.Feed.Messages)
	}
	d := s.Dispatcher
	output.Printf("  Notifications:   %d sent, %d failed, %d skipped, %d dropped\n", d.Sent, d.Failed, d.Skipped, d.Dropped)
	output.Printf("  Queue:           %d/%d\n", d.QueueDepth, d.QueueSize)

	if len(s.Channels) == 0 {
		return
	}
	output.Println()
	table := NewTable(output, "CHANNEL", "STATE", "FAILURES", "REQUESTS")
	for _, c := range s.Channels {
		table.AddRow(c.Name, string(c.State), fmt.Sprintf("%d", c.CurrentFailures), fmt.Sprintf("%d", c.TotalRequests))
	}
	table.Render()
}

func showOfflineStatus(ctx context.Context, output *Output, app *App) error {
	registry, st, err := app.openRegistry(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	if output.IsJSON() {
		return output.JSON(map[string]interface{}{
			"running":       false,
			"total_rules":   registry.Len(),
			"enabled_rules": len(registry.Enabled()),
		})
	}
	output.Warning("Engine not running")
	output.Printf("  Rules:           %d (%d enabled)\n", registry.Len(), len(registry.Enabled()))
	return nil
}
