package cmds

import (
	"github.com/spf13/cobra"

	"github.com/emmeowzing/threatstack-rule-manager/pkg/jsonstore"
	"github.com/emmeowzing/threatstack-rule-manager/pkg/mirror"
)

func newEditCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Edit an existing ruleset, rule body, or rule tags",
	}
	cmd.AddCommand(newEditRulesetCmd(app), newEditRuleCmd(app), newEditTagsCmd(app))
	return cmd
}

func newEditRulesetCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "ruleset RULESET FILE",
		Short: "Overwrite a ruleset's data from a JSON file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data mirror.Ruleset
			if err := jsonstore.Read(args[1], &data); err != nil {
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

			return eng.UpdateRuleset(cmd.Context(), args[0], data)
		},
	}
}

func newEditRuleCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "rule RULE FILE",
		Short: "Overwrite a rule's body from a JSON file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data mirror.Rule
			if err := jsonstore.Read(args[1], &data); err != nil {
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

			return eng.UpdateRule(cmd.Context(), args[0], data)
		},
	}
}

func newEditTagsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "tags RULE FILE",
		Short: "Overwrite a rule's tags from a JSON file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var tags mirror.Tags
			if err := jsonstore.Read(args[1], &tags); err != nil {
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

			return eng.UpdateTags(cmd.Context(), args[0], tags)
		},
	}
}
