// Package cmds builds the tsctl cobra command tree (Component I), in the
// style of the teacher's modules/cli/cmds package: one newXxxCmd() constructor
// per (sub)command, wired together from a shared application context rather
// than package-level globals.
package cmds

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/emmeowzing/threatstack-rule-manager/internal/config"
	"github.com/emmeowzing/threatstack-rule-manager/pkg/engine"
	"github.com/emmeowzing/threatstack-rule-manager/pkg/reconcile"
	"github.com/emmeowzing/threatstack-rule-manager/pkg/statefile"
)

// App bundles everything a subcommand needs: resolved configuration, the
// shared state file store, the organization-scoped engine factory, the
// reconciler, and a logger. cmd/tsctl wires one of these and passes it to
// Root.
type App struct {
	Config     *config.Config
	Store      *statefile.Store
	Factory    *engine.Factory
	Reconciler *reconcile.Reconciler
	Log        logrus.FieldLogger
}

// CurrentOrg reads the active workspace organization out of the state file.
func (a *App) CurrentOrg() (string, error) {
	doc, err := a.Store.Load()
	if err != nil {
		return "", err
	}
	return doc.Workspace, nil
}

// Root builds the full tsctl command tree.
func Root(app *App) *cobra.Command {
	var eager bool

	root := &cobra.Command{
		Use:          "tsctl",
		Short:        "Manage a local-first mirror of cloud security rulesets and rules",
		Long:         "tsctl tracks organizations/rulesets/rules locally and reconciles\nthem against the remote platform via push and refresh.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			app.Factory.EagerPush = eager
			return nil
		},
	}
	root.PersistentFlags().BoolVar(&eager, "eager", false, "push every mutating operation immediately instead of batching for a later push")

	root.AddCommand(
		newCreateCmd(app),
		newEditCmd(app),
		newDeleteCmd(app),
		newCopyCmd(app),
		newPushCmd(app),
		newRefreshCmd(app),
		newLsCmd(app),
		newWorkspaceCmd(app),
		newServeCmd(app),
		newImportCmd(app),
	)

	return root
}
