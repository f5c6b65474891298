package reconcile

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/emmeowzing/threatstack-rule-manager/pkg/jsonstore"
	"github.com/emmeowzing/threatstack-rule-manager/pkg/mirror"
	"github.com/emmeowzing/threatstack-rule-manager/pkg/remote"
	"github.com/emmeowzing/threatstack-rule-manager/pkg/statefile"
)

// Refresh implements Component F's remote -> local reconciliation for a
// single organization. It is crash-safe: the current tree is moved aside
// into .backup/ before anything remote is fetched, the fetched tree is
// assembled in .remote/ first, and only once the fetch fully succeeds are
// the .remote/ children swapped into place. A failed fetch discards .remote/
// and restores .backup/ verbatim. A failure while setting up the staging
// directories returns without restoring; the next refresh finds the staging
// directories left behind, drops .remote/ and restores .backup/ before it
// starts. A
// successful refresh discards the organization's pending state file entry,
// since anything not yet pushed is now superseded by the remote's view.
func (r *Reconciler) Refresh(ctx context.Context, org string) error {
	lock := r.lockFor(org)
	lock.Lock()
	defer lock.Unlock()

	log := r.log().WithFields(logrus.Fields{"org": org, "op": "refresh"})

	orgDir := r.orgDir(org)
	backupDir := filepath.Join(orgDir, mirror.StagingBackup)
	remoteDir := filepath.Join(orgDir, mirror.StagingRemote)

	if err := os.MkdirAll(orgDir, 0o755); err != nil {
		return errors.Wrapf(err, "refresh %s: create organization dir", org)
	}

	// A prior refresh may have crashed mid-flight. Recover to a clean state
	// before starting: drop any half-assembled remote tree, and restore a
	// backup if one is still sitting there.
	if err := os.RemoveAll(remoteDir); err != nil {
		return errors.Wrapf(err, "refresh %s: clear stale remote staging", org)
	}
	if info, err := os.Stat(backupDir); err == nil && info.IsDir() {
		if err := restoreChildren(backupDir, orgDir); err != nil {
			return errors.Wrapf(err, "refresh %s: restore stale backup", org)
		}
		if err := os.RemoveAll(backupDir); err != nil {
			return errors.Wrapf(err, "refresh %s: remove stale backup dir", org)
		}
	}

	// Enumerate the organization's real contents before either staging dir
	// exists, so there is nothing here yet to move into itself.
	children, err := listTopLevel(orgDir)
	if err != nil {
		return errors.Wrapf(err, "refresh %s: list existing tree", org)
	}

	if err := os.Mkdir(backupDir, 0o755); err != nil {
		return errors.Wrapf(err, "refresh %s: create backup staging dir", org)
	}
	if err := os.Mkdir(remoteDir, 0o755); err != nil {
		return errors.Wrapf(err, "refresh %s: create remote staging dir", org)
	}

	for _, c := range children {
		if err := os.Rename(filepath.Join(orgDir, c), filepath.Join(backupDir, c)); err != nil {
			return errors.Wrapf(err, "refresh %s: move %s into backup", org, c)
		}
	}

	client, clientErr := r.ClientFor(org)
	if clientErr == nil {
		clientErr = r.fetchInto(ctx, client, remoteDir)
	}
	if clientErr != nil {
		log.WithError(clientErr).Error("fetch failed, restoring backup")
		if err := os.RemoveAll(remoteDir); err != nil {
			return errors.Wrapf(err, "refresh %s: clean up failed remote staging", org)
		}
		if err := restoreChildren(backupDir, orgDir); err != nil {
			return errors.Wrapf(err, "refresh %s: restore backup after failed fetch", org)
		}
		if err := os.RemoveAll(backupDir); err != nil {
			return errors.Wrapf(err, "refresh %s: remove backup dir after restore", org)
		}
		return errors.Wrapf(clientErr, "refresh %s", org)
	}

	if err := restoreChildren(remoteDir, orgDir); err != nil {
		return errors.Wrapf(err, "refresh %s: move fetched tree into place", org)
	}
	if err := os.RemoveAll(backupDir); err != nil {
		return errors.Wrapf(err, "refresh %s: discard superseded backup", org)
	}
	if err := os.RemoveAll(remoteDir); err != nil {
		return errors.Wrapf(err, "refresh %s: remove emptied remote staging dir", org)
	}

	return r.Store.Transact(func(doc *statefile.Document) error {
		doc.DelOrg(org)
		return nil
	})
}

// fetchInto assembles a full copy of org's remote rulesets/rules/tags under
// dir. It is only ever called against an empty staging directory so a
// failure partway through can simply be discarded by the caller.
func (r *Reconciler) fetchInto(ctx context.Context, client remote.Client, dir string) error {
	rulesets, err := client.GetRulesets(ctx)
	if err != nil {
		return errors.Wrap(err, "list rulesets")
	}

	for _, rs := range rulesets {
		if err := ctx.Err(); err != nil {
			return err
		}

		rsDir := filepath.Join(dir, rs.ID)
		if err := os.Mkdir(rsDir, 0o755); err != nil {
			return errors.Wrapf(err, "create staged ruleset dir %s", rs.ID)
		}
		ruleset := mirror.Ruleset{Name: rs.Name, Description: rs.Description, RuleIDs: rs.RuleIDs}
		if ruleset.RuleIDs == nil {
			ruleset.RuleIDs = []string{}
		}
		if err := jsonstore.Write(filepath.Join(rsDir, "ruleset.json"), ruleset); err != nil {
			return err
		}

		rules, err := client.GetRulesetRules(ctx, rs.ID)
		if err != nil {
			return errors.Wrapf(err, "list rules for ruleset %s", rs.ID)
		}

		for _, rule := range rules {
			if err := ctx.Err(); err != nil {
				return err
			}

			ruleDir := filepath.Join(rsDir, rule.ID)
			if err := os.Mkdir(ruleDir, 0o755); err != nil {
				return errors.Wrapf(err, "create staged rule dir %s", rule.ID)
			}
			if err := jsonstore.Write(filepath.Join(ruleDir, "rule.json"), mirror.Rule{
				Name: rule.Name, Type: rule.Type,
				SeverityOfAlerts: rule.SeverityOfAlerts, Enabled: rule.Enabled, Fields: rule.Fields,
			}); err != nil {
				return err
			}

			tags, err := client.GetRuleTags(ctx, rule.ID)
			if err != nil {
				return errors.Wrapf(err, "fetch tags for rule %s", rule.ID)
			}
			if err := jsonstore.Write(filepath.Join(ruleDir, "tags.json"), mirror.Tags{
				Inclusion: tags.Inclusion, Exclusion: tags.Exclusion,
			}); err != nil {
				return err
			}
		}
	}

	return nil
}

// listTopLevel lists the immediate children of dir (files and directories
// alike), skipping the .backup/.remote staging directories themselves so a
// caller enumerating an organization dir never tries to move a staging
// directory into itself.
func listTopLevel(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Name() == mirror.StagingBackup || e.Name() == mirror.StagingRemote {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// restoreChildren moves every immediate child of src into dst. It leaves src
// itself in place; callers remove it afterwards.
func restoreChildren(src, dst string) error {
	children, err := listTopLevel(src)
	if err != nil {
		return err
	}
	for _, c := range children {
		if err := os.Rename(filepath.Join(src, c), filepath.Join(dst, c)); err != nil {
			return err
		}
	}
	return nil
}
