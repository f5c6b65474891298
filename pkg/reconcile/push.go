package reconcile

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/emmeowzing/threatstack-rule-manager/pkg/mirror"
	"github.com/emmeowzing/threatstack-rule-manager/pkg/remote"
	"github.com/emmeowzing/threatstack-rule-manager/pkg/statefile"
)

// Push implements Component F's local -> remote reconciliation for a single
// organization. Each ruleset and rule is tried independently; a failure
// leaves that entity's pending entry untouched (or downgraded, never
// upgraded) so a later Push converges without replaying work that already
// landed. Per-entity failures are logged and do not abort the organization's
// push; only a genuinely fatal condition (no client, state file unreadable,
// context cancellation) returns an error. Exactly one state file write
// commits the whole organization's result, resolving the "for...else" shape
// of the original push loop into a single explicit Transact at the end.
func (r *Reconciler) Push(ctx context.Context, org string) error {
	lock := r.lockFor(org)
	lock.Lock()
	defer lock.Unlock()

	log := r.log().WithFields(logrus.Fields{"org": org, "op": "push"})

	doc, err := r.Store.Load()
	if err != nil {
		return errors.Wrapf(err, "push %s: load state file", org)
	}
	pending, ok := doc.Organizations[org]
	if !ok || len(pending) == 0 {
		return nil
	}

	client, err := r.ClientFor(org)
	if err != nil {
		return errors.Wrapf(err, "push %s: obtain remote client", org)
	}
	m := mirror.New(r.orgDir(org), r.Suffix)

	rulesetIDs := make([]string, 0, len(pending))
	for id := range pending {
		rulesetIDs = append(rulesetIDs, id)
	}
	sort.Strings(rulesetIDs)

	for _, rsID := range rulesetIDs {
		if err := ctx.Err(); err != nil {
			return errors.Wrapf(err, "push %s: cancelled", org)
		}

		entry := pending[rsID]

		if entry.Modified == statefile.RulesetDeleted {
			if err := client.DeleteRuleset(ctx, rsID); err != nil {
				log.WithError(err).WithField("ruleset", rsID).Error("delete ruleset failed, left pending")
				continue
			}
			delete(pending, rsID)
			continue
		}

		if m.IsLocalOnly(rsID) {
			newID, ok := r.pushLocalOnlyRuleset(ctx, client, m, log, rsID, entry)
			if !ok {
				continue
			}
			delete(pending, rsID)
			if len(entry.RuleIDs) > 0 {
				entry.Modified = statefile.RulesetUnmodified
				pending[newID] = entry
			}
			continue
		}

		r.pushExistingRuleset(ctx, client, m, log, rsID, entry)
		if entry.Modified == statefile.RulesetUnmodified && len(entry.RuleIDs) == 0 {
			delete(pending, rsID)
		}
	}

	return r.Store.Transact(func(fresh *statefile.Document) error {
		if len(pending) == 0 {
			delete(fresh.Organizations, org)
		} else {
			fresh.Organizations[org] = pending
		}
		return nil
	})
}

// pushLocalOnlyRuleset creates a ruleset (and its local-only children) that
// has never existed remotely. On ruleset-creation failure the whole entity
// is abandoned for this pass (ok=false, rsID untouched). On success it
// returns the remote-assigned ID; any individual rule/tags failures leave
// that rule's status in entry.RuleIDs rather than failing the ruleset.
func (r *Reconciler) pushLocalOnlyRuleset(
	ctx context.Context,
	client remote.Client,
	m *mirror.Mirror,
	log logrus.FieldLogger,
	rsID string,
	entry *statefile.RulesetEntry,
) (newRulesetID string, ok bool) {
	rsData, err := m.ReadRuleset(rsID)
	if err != nil {
		log.WithError(err).WithField("ruleset", rsID).Error("read local-only ruleset failed")
		return "", false
	}

	localRuleIDs := rsData.RuleIDs
	rsData.RuleIDs = []string{}

	newRulesetID, err = client.PostRuleset(ctx, remote.Ruleset{
		Name:        rsData.Name,
		Description: rsData.Description,
	})
	if err != nil {
		log.WithError(err).WithField("ruleset", rsID).Error("create ruleset failed, left pending")
		return "", false
	}

	finalRuleIDs := make([]string, 0, len(localRuleIDs))
	for _, ruleID := range localRuleIDs {
		rlog := log.WithField("rule", ruleID)

		rule, err := m.ReadRule(rsID, ruleID)
		if err != nil {
			rlog.WithError(err).Error("read local-only rule failed")
			finalRuleIDs = append(finalRuleIDs, ruleID)
			continue
		}
		tags, err := m.ReadTags(rsID, ruleID)
		if err != nil {
			rlog.WithError(err).Error("read local-only tags failed")
			finalRuleIDs = append(finalRuleIDs, ruleID)
			continue
		}

		newRuleID, err := client.PostRule(ctx, newRulesetID, remote.Rule{
			Name: rule.Name, Type: rule.Type,
			SeverityOfAlerts: rule.SeverityOfAlerts, Enabled: rule.Enabled, Fields: rule.Fields,
		})
		if err != nil {
			rlog.Error("create rule failed, left pending under local id")
			finalRuleIDs = append(finalRuleIDs, ruleID)
			continue
		}

		if err := m.RenameRule(rsID, ruleID, newRuleID); err != nil {
			rlog.WithError(err).Error("rename rule dir after create failed")
		}
		delete(entry.RuleIDs, ruleID)
		entry.RuleIDs[newRuleID] = statefile.RuleTags
		finalRuleIDs = append(finalRuleIDs, newRuleID)

		if err := client.PostTags(ctx, newRuleID, remote.Tags{Inclusion: tags.Inclusion, Exclusion: tags.Exclusion}); err != nil {
			rlog.WithError(err).Error("post tags failed, left pending")
			entry.RuleIDs[newRuleID] = statefile.RuleBody
		} else {
			delete(entry.RuleIDs, newRuleID)
		}
	}

	rsData.RuleIDs = finalRuleIDs
	if err := m.EditRuleset(rsID, rsData); err != nil {
		log.WithError(err).WithField("ruleset", rsID).Error("write ruleset before rename failed")
	}
	if err := m.RenameRuleset(rsID, newRulesetID); err != nil {
		log.WithError(err).WithField("ruleset", rsID).Error("rename ruleset dir after create failed")
	}

	return newRulesetID, true
}

// pushExistingRuleset reconciles a ruleset that already has a remote
// counterpart: it PUTs the ruleset body if modified (preserving modified=true
// on failure, per DESIGN.md's resolution of note (b)), creates any local-only
// child rules, and dispatches remaining tracked rules by status.
func (r *Reconciler) pushExistingRuleset(
	ctx context.Context,
	client remote.Client,
	m *mirror.Mirror,
	log logrus.FieldLogger,
	rsID string,
	entry *statefile.RulesetEntry,
) {
	rslog := log.WithField("ruleset", rsID)

	rsData, err := m.ReadRuleset(rsID)
	if err != nil {
		rslog.WithError(err).Error("read ruleset failed")
		return
	}

	var localOnly, remoteTracked []string
	for _, id := range rsData.RuleIDs {
		if m.IsLocalOnly(id) {
			localOnly = append(localOnly, id)
		} else {
			remoteTracked = append(remoteTracked, id)
		}
	}

	stripped := rsData
	stripped.RuleIDs = append([]string{}, remoteTracked...)
	if err := m.EditRuleset(rsID, stripped); err != nil {
		rslog.WithError(err).Error("strip local-only ids before push failed")
	}

	if entry.Modified == statefile.RulesetModified {
		if err := client.PutRuleset(ctx, rsID, remote.Ruleset{Name: stripped.Name, Description: stripped.Description, RuleIDs: stripped.RuleIDs}); err != nil {
			rslog.WithError(err).Error("update ruleset failed, left modified")
		} else {
			entry.Modified = statefile.RulesetUnmodified
		}
	}

	created := make([]string, 0, len(localOnly))
	for _, ruleID := range localOnly {
		rlog := rslog.WithField("rule", ruleID)

		rule, err := m.ReadRule(rsID, ruleID)
		if err != nil {
			rlog.WithError(err).Error("read local-only rule failed")
			created = append(created, ruleID)
			continue
		}
		tags, err := m.ReadTags(rsID, ruleID)
		if err != nil {
			rlog.WithError(err).Error("read local-only tags failed")
			created = append(created, ruleID)
			continue
		}

		newRuleID, err := client.PostRule(ctx, rsID, remote.Rule{
			Name: rule.Name, Type: rule.Type,
			SeverityOfAlerts: rule.SeverityOfAlerts, Enabled: rule.Enabled, Fields: rule.Fields,
		})
		if err != nil {
			rlog.Error("create rule failed, left pending under local id")
			created = append(created, ruleID)
			continue
		}

		if err := m.RenameRule(rsID, ruleID, newRuleID); err != nil {
			rlog.WithError(err).Error("rename rule dir after create failed")
		}
		delete(entry.RuleIDs, ruleID)
		entry.RuleIDs[newRuleID] = statefile.RuleTags
		created = append(created, newRuleID)

		if err := client.PostTags(ctx, newRuleID, remote.Tags{Inclusion: tags.Inclusion, Exclusion: tags.Exclusion}); err != nil {
			rlog.WithError(err).Error("post tags failed, left pending")
			entry.RuleIDs[newRuleID] = statefile.RuleBody
		} else {
			delete(entry.RuleIDs, newRuleID)
		}
	}

	final := stripped
	final.RuleIDs = append(append([]string{}, remoteTracked...), created...)
	if err := m.EditRuleset(rsID, final); err != nil {
		rslog.WithError(err).Error("write final ruleset ids failed")
	}

	dispatchIDs := make([]string, 0, len(entry.RuleIDs))
	for id := range entry.RuleIDs {
		dispatchIDs = append(dispatchIDs, id)
	}
	sort.Strings(dispatchIDs)

	for _, ruleID := range dispatchIDs {
		status, ok := entry.RuleIDs[ruleID]
		if !ok {
			continue
		}
		rlog := rslog.WithField("rule", ruleID)

		switch status {
		case statefile.RuleBody:
			rule, err := m.ReadRule(rsID, ruleID)
			if err != nil {
				rlog.WithError(err).Error("read rule body for push failed")
				continue
			}
			if err := client.PutRule(ctx, rsID, ruleID, remote.Rule{
				Name: rule.Name, Type: rule.Type,
				SeverityOfAlerts: rule.SeverityOfAlerts, Enabled: rule.Enabled, Fields: rule.Fields,
			}); err != nil {
				rlog.WithError(err).Error("update rule failed, left pending")
				continue
			}
			delete(entry.RuleIDs, ruleID)

		case statefile.RuleTags:
			tags, err := m.ReadTags(rsID, ruleID)
			if err != nil {
				rlog.WithError(err).Error("read tags for push failed")
				continue
			}
			if err := client.PostTags(ctx, ruleID, remote.Tags{Inclusion: tags.Inclusion, Exclusion: tags.Exclusion}); err != nil {
				rlog.WithError(err).Error("update tags failed, left pending")
				continue
			}
			delete(entry.RuleIDs, ruleID)

		case statefile.RuleBoth:
			rule, err := m.ReadRule(rsID, ruleID)
			if err != nil {
				rlog.WithError(err).Error("read rule body for push failed")
				continue
			}
			if err := client.PutRule(ctx, rsID, ruleID, remote.Rule{
				Name: rule.Name, Type: rule.Type,
				SeverityOfAlerts: rule.SeverityOfAlerts, Enabled: rule.Enabled, Fields: rule.Fields,
			}); err != nil {
				rlog.WithError(err).Error("update rule failed, left pending as both")
				continue
			}
			entry.RuleIDs[ruleID] = statefile.RuleTags

			tags, err := m.ReadTags(rsID, ruleID)
			if err != nil {
				rlog.WithError(err).Error("read tags for push failed")
				continue
			}
			if err := client.PostTags(ctx, ruleID, remote.Tags{Inclusion: tags.Inclusion, Exclusion: tags.Exclusion}); err != nil {
				rlog.WithError(err).Error("update tags failed, left pending as tags")
				continue
			}
			delete(entry.RuleIDs, ruleID)

		case statefile.RuleDeleted:
			if err := client.DeleteRule(ctx, rsID, ruleID); err != nil {
				rlog.WithError(err).Error("delete rule failed, left pending")
				continue
			}
			delete(entry.RuleIDs, ruleID)
		}
	}
}
