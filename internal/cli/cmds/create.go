package cmds

import (
	"github.com/spf13/cobra"

	"github.com/emmeowzing/threatstack-rule-manager/pkg/jsonstore"
	"github.com/emmeowzing/threatstack-rule-manager/pkg/mirror"
)

func newCreateCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new ruleset or rule in the current workspace",
	}
	cmd.AddCommand(newCreateRulesetCmd(app), newCreateRuleCmd(app))
	return cmd
}

func newCreateRulesetCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "ruleset FILE",
		Short: "Create a new ruleset from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data mirror.Ruleset
			if err := jsonstore.Read(args[0], &data); err != nil {
				return err
			}

			org, err := app.CurrentOrg()
			if err != nil {
				return err
			}
			eng, err := app.Factory.Engine(cmd.Context(), org)
			if err != nil {
				return err
			}

			id, err := eng.CreateRuleset(cmd.Context(), data, "")
			if err != nil {
				return err
			}
			cmd.Println(id)
			return nil
		},
	}
}

func newCreateRuleCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "rule RULESET FILE",
		Short: "Create a new rule under RULESET from a JSON file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rulesetID := args[0]

			var rule mirror.Rule
			if err := jsonstore.Read(args[1], &rule); err != nil {
				return err
			}

			org, err := app.CurrentOrg()
			if err != nil {
				return err
			}
			eng, err := app.Factory.Engine(cmd.Context(), org)
			if err != nil {
				return err
			}

			id, err := eng.CreateRule(cmd.Context(), rulesetID, rule, mirror.Tags{}, "")
			if err != nil {
				return err
			}
			cmd.Println(id)
			return nil
		},
	}
}
