package cmds

import (
	"github.com/spf13/cobra"
)

func newPushCmd(app *App) *cobra.Command {
	var allOrgs []string
	var workers int

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Push the current workspace's pending changes to the remote platform",
		RunE: func(cmd *cobra.Command, args []string) error {
			orgs := allOrgs
			if len(orgs) == 0 {
				org, err := app.CurrentOrg()
				if err != nil {
					return err
				}
				orgs = []string{org}
			}
			if workers == 0 {
				workers = app.Config.Workers
			}
			return app.Reconciler.PushAll(cmd.Context(), orgs, workers)
		},
	}

	cmd.Flags().StringSliceVar(&allOrgs, "org", nil, "push these organizations instead of the current workspace (repeatable)")
	cmd.Flags().IntVar(&workers, "workers", 0, "bounded fan-out width across organizations (defaults to REMOTE_THREAD_CT)")

	return cmd
}
