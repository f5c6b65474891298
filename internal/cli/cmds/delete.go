package cmds

import (
	"github.com/spf13/cobra"
)

func newDeleteCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a ruleset or rule from the current workspace",
	}
	cmd.AddCommand(newDeleteRulesetCmd(app), newDeleteRuleCmd(app))
	return cmd
}

func newDeleteRulesetCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "ruleset RULESET",
		Short: "Delete a ruleset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			org, err := app.CurrentOrg()
			if err != nil {
				return err
			}
			eng, err := app.Factory.Engine(cmd.Context(), org)
			if err != nil {
				return err
			}
			return eng.DeleteRuleset(cmd.Context(), args[0])
		},
	}
}

func newDeleteRuleCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "rule RULE",
		Short: "Delete a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			org, err := app.CurrentOrg()
			if err != nil {
				return err
			}
			eng, err := app.Factory.Engine(cmd.Context(), org)
			if err != nil {
				return err
			}
			return eng.DeleteRule(cmd.Context(), args[0])
		},
	}
}
