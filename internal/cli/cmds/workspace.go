package cmds

import (
	"github.com/spf13/cobra"

	"github.com/emmeowzing/threatstack-rule-manager/pkg/statefile"
)

func newWorkspaceCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "workspace [ORGID]",
		Short: "Show or change the current workspace organization",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				org, err := app.CurrentOrg()
				if err != nil {
					return err
				}
				cmd.Println(org)
				return nil
			}

			org := args[0]
			if err := app.Store.Transact(func(doc *statefile.Document) error {
				doc.Workspace = org
				return nil
			}); err != nil {
				return err
			}

			// Switching workspace starts a refresh when the organization's
			// directory isn't present locally yet, matching tsctl.py's
			// workspace() side effect.
			_, err := app.Factory.Engine(cmd.Context(), org)
			return err
		},
	}
}
