package cmds

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/emmeowzing/threatstack-rule-manager/internal/httpapi"
	"github.com/emmeowzing/threatstack-rule-manager/pkg/mirror"
)

func newServeCmd(app *App) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a read-only HTTP inspection surface over the local mirror and state file",
		RunE: func(cmd *cobra.Command, args []string) error {
			srv := &httpapi.Server{
				StateDir: app.Config.StateDir,
				Suffix:   mirror.DefaultLocalOnlySuffix,
				Store:    app.Store,
				Log:      app.Log,
			}
			app.Log.WithField("addr", addr).Info("serving read-only inspection API")
			return http.ListenAndServe(addr, srv.Handler())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8787", "address to listen on")

	return cmd
}
