package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"market-alerts/internal/alerts"
	"market-alerts/internal/engine"
	"market-alerts/internal/models"
)

func addRuleCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:     "rules",
		Aliases: []string{"rule"},
		Short:   "Manage alert rules",
		Long: `Manage the alert rules stored by the engine.

Changes made here are picked up the next time 'alertd serve' starts. Use the
admin API to change the rules of a running engine.`,
	}

	cmd.AddCommand(newRulesListCmd(app))
	cmd.AddCommand(newRulesShowCmd(app))
	cmd.AddCommand(newRulesAddCmd(app))
	cmd.AddCommand(newRulesRemoveCmd(app))
	cmd.AddCommand(newRulesToggleCmd(app, true))
	cmd.AddCommand(newRulesToggleCmd(app, false))
	cmd.AddCommand(newRulesImportCmd(app))

	rootCmd.AddCommand(cmd)
}

func newRulesListCmd(app *App) *cobra.Command {
	var enabledOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List alert rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			registry, st, err := app.openRegistry(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			rules := registry.List()
			if enabledOnly {
				rules = registry.Enabled()
			}

			if output.IsJSON() {
				if rules == nil {
					rules = []*models.AlertRule{}
				}
				return output.JSON(rules)
			}
			if len(rules) == 0 {
				output.Dim("No rules defined. Add one with 'alertd rules add'.")
				return nil
			}

			table := NewTable(output, "ID", "NAME", "SEVERITY", "ENABLED", "CONDITIONS", "CHANNELS", "LAST TRIGGERED")
			for _, r := range rules {
				table.AddRow(
					shortID(r.ID),
					TruncateString(r.Name, 28),
					output.SeverityText(r.Severity),
					output.EnabledText(r.Enabled),
					TruncateString(FormatConditions(r), 48),
					FormatChannels(r.Channels),
					FormatLastTriggered(r.LastTriggered),
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().BoolVar(&enabledOnly, "enabled", false, "only show enabled rules")
	return cmd
}

func newRulesShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			registry, st, err := app.openRegistry(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			rule, err := findRule(registry, args[0])
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(rule)
			}

			output.Bold("%s", rule.Name)
			output.Printf("  ID:              %s\n", rule.ID)
			if rule.Description != "" {
				output.Printf("  Description:     %s\n", rule.Description)
			}
			output.Printf("  Severity:        %s\n", output.SeverityText(rule.Severity))
			output.Printf("  Enabled:         %s\n", output.EnabledText(rule.Enabled))
			output.Printf("  Channels:        %s\n", FormatChannels(rule.Channels))
			output.Printf("  Cooldown:        %d min\n", rule.CooldownMinutes)
			output.Printf("  Last triggered:  %s\n", FormatLastTriggered(rule.LastTriggered))
			output.Println()

			table := NewTable(output, "#", "CONDITION", "WINDOW", "ENABLED", "FIRED", "LAST")
			for i, c := range rule.Conditions {
				window := "-"
				if c.WindowMinutes > 0 {
					window = fmt.Sprintf("%dm", c.WindowMinutes)
				}
				table.AddRow(
					fmt.Sprintf("%d", i+1),
					c.Label(),
					window,
					output.EnabledText(c.Enabled),
					fmt.Sprintf("%d", c.TriggerCount),
					FormatLastTriggered(c.LastTriggered),
				)
			}
			table.Render()
			return nil
		},
	}
}

func newRulesAddCmd(app *App) *cobra.Command {
	var (
		spec     alerts.RuleSpec
		cond     alerts.ConditionSpec
		kind     string
		operator string
		channels string
		severity string
		cooldown int
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a single-condition rule",
		Long: `Add a rule with one condition. Use 'alertd rules import' for rules with
several conditions.

Condition kinds: price_above, price_below, percent_change, volume_spike,
vwap_deviation, volatility_spike, spread, momentum_shift, custom.`,
		Example: `  alertd rules add --name "AAPL breakout" --symbol AAPL --kind price_above --threshold 200
  alertd rules add --name "TSLA volume" --symbol TSLA --kind volume_spike --threshold 3 --window 5 \
      --severity high --channels slack,sms --cooldown 15`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			cond.Kind = models.ConditionKind(strings.ToLower(kind))
			cond.Operator = models.Operator(operator)
			spec.Conditions = []alerts.ConditionSpec{cond}
			spec.Severity = models.Severity(strings.ToLower(severity))
			if channels != "" {
				parsed, err := models.ParseChannels(channels)
				if err != nil {
					return err
				}
				spec.Channels = parsed
			}
			if cmd.Flags().Changed("cooldown") {
				spec.CooldownMinutes = &cooldown
			}

			rule, err := spec.Rule()
			if err != nil {
				return err
			}

			registry, st, err := app.openRegistry(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			if err := registry.Add(cmd.Context(), rule); err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(rule)
			}
			output.Success("Rule added: %s (%s)", rule.Name, rule.ID)
			output.Dim("  %s", FormatConditions(rule))
			return nil
		},
	}

	cmd.Flags().StringVar(&spec.ID, "id", "", "rule ID (generated when empty)")
	cmd.Flags().StringVar(&spec.Name, "name", "", "rule name")
	cmd.Flags().StringVar(&spec.Description, "description", "", "rule description")
	cmd.Flags().StringVar(&cond.InstrumentID, "symbol", "", "instrument symbol")
	cmd.Flags().StringVar(&kind, "kind", "", "condition kind")
	cmd.Flags().StringVar(&operator, "operator", "", "comparison operator (default depends on kind)")
	cmd.Flags().Float64Var(&cond.Threshold, "threshold", 0, "threshold value")
	cmd.Flags().IntVar(&cond.WindowMinutes, "window", 0, "evaluation window in minutes (0 = metric default)")
	cmd.Flags().StringVar(&cond.Expression, "metric", "", "custom metric name for kind=custom")
	cmd.Flags().StringVar(&severity, "severity", "", "low, medium, high or critical")
	cmd.Flags().StringVar(&channels, "channels", "", "comma separated channels (default: desktop)")
	cmd.Flags().IntVar(&cooldown, "cooldown", alerts.DefaultCooldownMinutes, "cooldown in minutes")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("symbol")
	cmd.MarkFlagRequired("kind")

	return cmd
}

func newRulesRemoveCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm", "delete"},
		Short:   "Remove a rule",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			registry, st, err := app.openRegistry(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			rule, err := findRule(registry, args[0])
			if err != nil {
				return err
			}
			if err := registry.Remove(cmd.Context(), rule.ID); err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]string{"removed": rule.ID})
			}
			output.Success("Rule removed: %s", rule.Name)
			return nil
		},
	}
}

func newRulesToggleCmd(app *App, enable bool) *cobra.Command {
	use, verb := "disable", "disabled"
	if enable {
		use, verb = "enable", "enabled"
	}

	return &cobra.Command{
		Use:   use + " <id>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			registry, st, err := app.openRegistry(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			rule, err := findRule(registry, args[0])
			if err != nil {
				return err
			}
			toggle := registry.Disable
			if enable {
				toggle = registry.Enable
			}
			if err := toggle(cmd.Context(), rule.ID); err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"id": rule.ID, "enabled": enable})
			}
			output.Success("Rule %s: %s", verb, rule.Name)
			return nil
		},
	}
}

func newRulesImportCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import rules from a YAML file",
		Long: `Import rules from a YAML file. Rules whose ID is already stored are replaced.
Rules without an ID are skipped when a rule with the same name exists.`,
		Example: `  alertd rules import ./rules.yaml`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			rules, err := alerts.LoadRuleFile(args[0])
			if err != nil {
				return err
			}

			registry, st, err := app.openRegistry(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			added, err := engine.ImportRules(cmd.Context(), registry, rules, app.Logger)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]int{"read": len(rules), "imported": added})
			}
			output.Success("Imported %d of %d rules from %s", added, len(rules), args[0])
			return nil
		},
	}
}

// findRule resolves a full rule ID or a unique ID prefix as printed by
// 'rules list'.
func findRule(registry *alerts.RuleRegistry, id string) (*models.AlertRule, error) {
	if rule, err := registry.Get(id); err == nil {
		return rule, nil
	}

	var match *models.AlertRule
	for _, r := range registry.List() {
		if !strings.HasPrefix(r.ID, id) {
			continue
		}
		if match != nil {
			return nil, fmt.Errorf("rule ID prefix %q is ambiguous", id)
		}
		match = r
	}
	if match == nil {
		return registry.Get(id)
	}
	return match, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
