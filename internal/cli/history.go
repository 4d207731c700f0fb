package cli

import (
	"github.com/spf13/cobra"

	"market-alerts/internal/engine"
	"market-alerts/internal/models"
	"market-alerts/internal/store"
)

func addHistoryCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newHistoryCmd(app))
}

func newHistoryCmd(app *App) *cobra.Command {
	var filter store.TriggerFilter

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show trigger history",
		Long:  "Show recorded triggers, newest first.",
		Example: `  alertd history
  alertd history --instrument AAPL --limit 20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			st, err := engine.OpenStore(app.Config.Store)
			if err != nil {
				return err
			}
			defer st.Close()

			triggers, err := st.QueryTriggerHistory(cmd.Context(), filter)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				if triggers == nil {
					triggers = []models.Trigger{}
				}
				return output.JSON(triggers)
			}
			if len(triggers) == 0 {
				output.Dim("No triggers recorded.")
				return nil
			}

			table := NewTable(output, "TIME", "RULE", "SYMBOL", "CONDITION", "VALUE", "THRESHOLD", "SEVERITY")
			for _, t := range triggers {
				table.AddRow(
					FormatDateTime(t.Timestamp),
					TruncateString(t.RuleName, 28),
					t.InstrumentID,
					TruncateString(t.Condition, 40),
					FormatValue(t.Value),
					FormatValue(t.Threshold),
					output.SeverityText(t.Severity),
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&filter.InstrumentID, "instrument", "", "filter by instrument symbol")
	cmd.Flags().StringVar(&filter.RuleID, "rule", "", "filter by rule ID")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "maximum number of triggers")
	return cmd
}
