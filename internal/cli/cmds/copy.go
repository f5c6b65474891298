package cmds

import (
	"github.com/spf13/cobra"
)

func newCopyCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "copy",
		Short: "Copy a ruleset or rule, optionally into another organization",
	}
	cmd.AddCommand(
		newCopyRuleCmd(app),
		newCopyRuleOutCmd(app),
		newCopyRulesetCmd(app),
		newCopyRulesetOutCmd(app),
	)
	return cmd
}

func newCopyRuleCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "rule RULE RULESET",
		Short: "Copy a rule from one ruleset to another in the same organization",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			org, err := app.CurrentOrg()
			if err != nil {
				return err
			}
			eng, err := app.Factory.Engine(cmd.Context(), org)
			if err != nil {
				return err
			}
			id, err := eng.CopyRule(cmd.Context(), args[0], args[1], "")
			if err != nil {
				return err
			}
			cmd.Println(id)
			return nil
		},
	}
}

func newCopyRuleOutCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "rule-out RULE RULESET ORGID",
		Short: "Copy a rule from the current workspace into a ruleset in a different organization",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			org, err := app.CurrentOrg()
			if err != nil {
				return err
			}
			eng, err := app.Factory.Engine(cmd.Context(), org)
			if err != nil {
				return err
			}
			id, err := eng.CopyRuleOut(cmd.Context(), args[0], args[1], args[2], "")
			if err != nil {
				return err
			}
			cmd.Println(id)
			return nil
		},
	}
}

func newCopyRulesetCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "ruleset RULESET",
		Short: "Copy an entire ruleset with a new name into the same organization",
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
			id, err := eng.CopyRuleset(cmd.Context(), args[0], "")
			if err != nil {
				return err
			}
			cmd.Println(id)
			return nil
		},
	}
}

func newCopyRulesetOutCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "ruleset-out RULESET ORGID",
		Short: "Copy an entire ruleset from the current workspace into a different organization",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			org, err := app.CurrentOrg()
			if err != nil {
				return err
			}
			eng, err := app.Factory.Engine(cmd.Context(), org)
			if err != nil {
				return err
			}
			id, err := eng.CopyRulesetOut(cmd.Context(), args[0], args[1], "")
			if err != nil {
				return err
			}
			cmd.Println(id)
			return nil
		},
	}
}
