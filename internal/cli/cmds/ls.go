package cmds

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newLsCmd(app *App) *cobra.Command {
	var useColor bool

	cmd := &cobra.Command{
		Use:   "ls [RULESET]",
		Short: "List rulesets in the current workspace, or rules within one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			org, err := app.CurrentOrg()
			if err != nil {
				return err
			}
			eng, err := app.Factory.Engine(cmd.Context(), org)
			if err != nil {
				return err
			}
			m := eng.Mirror()

			heading := color.New(color.Bold)
			if !useColor {
				heading.DisableColor()
			}

			if len(args) == 1 {
				ruleIDs, err := m.ListRules(args[0])
				if err != nil {
					return err
				}
				for _, ruleID := range ruleIDs {
					rule, err := m.ReadRule(args[0], ruleID)
					if err != nil {
						return err
					}
					if m.IsLocalOnly(ruleID) {
						heading.Fprintf(cmd.OutOrStdout(), "%s", ruleID)
						cmd.Printf(" %s\n", rule.Name)
					} else {
						cmd.Printf("%s %s\n", ruleID, rule.Name)
					}
				}
				return nil
			}

			rulesetIDs, err := m.ListRulesets()
			if err != nil {
				return err
			}
			for _, rulesetID := range rulesetIDs {
				rs, err := m.ReadRuleset(rulesetID)
				if err != nil {
					return err
				}
				if m.IsLocalOnly(rulesetID) {
					heading.Fprintf(cmd.OutOrStdout(), "%s", rulesetID)
					cmd.Printf(" %s (%d rules)\n", rs.Name, len(rs.RuleIDs))
				} else {
					cmd.Printf("%s %s (%d rules)\n", rulesetID, rs.Name, len(rs.RuleIDs))
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&useColor, "colorful", false, "highlight local-only (unpushed) IDs")

	return cmd
}
