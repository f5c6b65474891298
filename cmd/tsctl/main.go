// Command tsctl is a local-first CLI for tracking an organization's
// rulesets and rules on disk and reconciling them against a remote cloud
// security platform via push and refresh.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/emmeowzing/threatstack-rule-manager/internal/cli/cmds"
	"github.com/emmeowzing/threatstack-rule-manager/internal/config"
	"github.com/emmeowzing/threatstack-rule-manager/pkg/engine"
	"github.com/emmeowzing/threatstack-rule-manager/pkg/mirror"
	"github.com/emmeowzing/threatstack-rule-manager/pkg/reconcile"
	"github.com/emmeowzing/threatstack-rule-manager/pkg/remote"
	"github.com/emmeowzing/threatstack-rule-manager/pkg/statefile"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "tsctl:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return err
	}

	store := statefile.NewStore(cfg.StateFile)

	client := remote.NewHTTPClient(cfg.BaseURL, cfg.UserID, cfg.APIKey, log)
	clientFor := func(org string) (remote.Client, error) {
		// Every organization currently shares one set of platform
		// credentials; ClientFactory is still org-scoped so a future
		// per-organization credential source only needs to change here.
		return client, nil
	}

	reconciler := &reconcile.Reconciler{
		StateDir:  cfg.StateDir,
		Suffix:    mirror.DefaultLocalOnlySuffix,
		Store:     store,
		ClientFor: clientFor,
		Log:       log,
	}

	factory := &engine.Factory{
		StateDir:  cfg.StateDir,
		Suffix:    mirror.DefaultLocalOnlySuffix,
		Store:     store,
		Refresher: reconciler,
		Pusher:    reconciler,
		Log:       log,
	}

	app := &cmds.App{
		Config:     cfg,
		Store:      store,
		Factory:    factory,
		Reconciler: reconciler,
		Log:        log,
	}

	return cmds.Root(app).Execute()
}
