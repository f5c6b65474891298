// Package engine implements Component E: the state-engine operations a
// user performs (create/edit/copy/delete rule & ruleset), which mutate the
// filesystem mirror (Component D) and the state file (Component C)
// together while maintaining SPEC_FULL.md §3's invariants.
package engine

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/emmeowzing/threatstack-rule-manager/pkg/errkind"
	"github.com/emmeowzing/threatstack-rule-manager/pkg/mirror"
	"github.com/emmeowzing/threatstack-rule-manager/pkg/statefile"
)

const copyPostfix = " - COPY"

// Refresher triggers Component F's refresh for one organization. The engine
// calls it when instantiating an engine bound to an organization whose
// directory does not yet exist locally (mirrors the Python source's
// `_create_organization` side effect).
type Refresher interface {
	Refresh(ctx context.Context, org string) error
}

// Pusher triggers Component F's push for one organization. The engine calls
// it after every mutating operation when running in eager mode
// (SPEC_FULL.md §4.E, "decorator-style eager mode").
type Pusher interface {
	Push(ctx context.Context, org string) error
}

// Factory constructs organization-scoped Engines that all share one state
// file and local-only ID suffix, as required when an operation (e.g.
// CopyRuleOut) needs to instantiate a second organization's engine.
type Factory struct {
	StateDir  string
	Suffix    string
	Store     *statefile.Store
	Refresher Refresher
	Pusher    Pusher
	Log       logrus.FieldLogger
	EagerPush bool
}

// Engine binds the organization-agnostic primitives to one current
// organization ("workspace" in SPEC_FULL.md's glossary).
type Engine struct {
	org     string
	mirror  *mirror.Mirror
	store   *statefile.Store
	factory *Factory
	log     logrus.FieldLogger
}

// Engine instantiates (creating its directory and, if the directory did not
// already exist, triggering a refresh) an Engine bound to org.
func (f *Factory) Engine(ctx context.Context, org string) (*Engine, error) {
	orgDir := filepath.Join(f.StateDir, org)

	log := f.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("org", org)

	_, err := os.Stat(orgDir)
	needsRefresh := os.IsNotExist(err)

	if err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "stat organization dir %s", orgDir)
	}

	if needsRefresh {
		if err := os.MkdirAll(orgDir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create organization dir %s", orgDir)
		}
		if f.Refresher != nil {
			log.Debug("organization directory absent locally, triggering refresh")
			if err := f.Refresher.Refresh(ctx, org); err != nil {
				return nil, err
			}
		}
	}

	return &Engine{
		org:     org,
		mirror:  mirror.New(orgDir, f.Suffix),
		store:   f.Store,
		factory: f,
		log:     log,
	}, nil
}

// Org returns the organization this engine is bound to.
func (e *Engine) Org() string { return e.org }

// Mirror exposes the underlying filesystem mirror, primarily for read-only
// callers like `tsctl ls`.
func (e *Engine) Mirror() *mirror.Mirror { return e.mirror }

func (e *Engine) maybeEagerPush(ctx context.Context) {
	if !e.factory.EagerPush || e.factory.Pusher == nil {
		return
	}
	if err := e.factory.Pusher.Push(ctx, e.org); err != nil {
		e.log.WithError(err).Warn("eager push failed, changes remain pending")
	}
}

func (e *Engine) checkNotRefreshing() error {
	if e.mirror.RefreshInProgress() {
		return errors.Wrapf(errkind.ErrRefreshInProgress, "organization %q", e.org)
	}
	return nil
}

func uniquifyRulesetName(m *mirror.Mirror, name, postfix string) (string, error) {
	if postfix == "" {
		postfix = copyPostfix
	}
	for {
		occurs, err := m.RulesetNameOccurs(name)
		if err != nil {
			return "", err
		}
		if !occurs {
			return name, nil
		}
		name += postfix
	}
}

func uniquifyRuleName(m *mirror.Mirror, name, postfix string) (string, error) {
	if postfix == "" {
		postfix = copyPostfix
	}
	for {
		occurs, err := m.RuleNameOccurs(name)
		if err != nil {
			return "", err
		}
		if !occurs {
			return name, nil
		}
		name += postfix
	}
}

// CreateRuleset creates a new local-only ruleset, uniquifying its name
// against the organization first.
func (e *Engine) CreateRuleset(ctx context.Context, data mirror.Ruleset, postfix string) (string, error) {
	if err := e.checkNotRefreshing(); err != nil {
		return "", err
	}

	name, err := uniquifyRulesetName(e.mirror, data.Name, postfix)
	if err != nil {
		return "", err
	}
	data.Name = name

	id, err := e.mirror.CreateRuleset(data)
	if err != nil {
		return "", err
	}

	err = e.store.Transact(func(doc *statefile.Document) error {
		return doc.AddRuleset(e.org, id, statefile.RulesetModified)
	})
	if err != nil {
		return "", err
	}

	e.log.WithField("ruleset", id).Info("created ruleset")
	e.maybeEagerPush(ctx)
	return id, nil
}

// UpdateRuleset overwrites an existing ruleset's data and marks it modified.
func (e *Engine) UpdateRuleset(ctx context.Context, rulesetID string, data mirror.Ruleset) error {
	if err := e.checkNotRefreshing(); err != nil {
		return err
	}

	if err := e.mirror.EditRuleset(rulesetID, data); err != nil {
		return err
	}

	err := e.store.Transact(func(doc *statefile.Document) error {
		return doc.AddRuleset(e.org, rulesetID, statefile.RulesetModified)
	})
	if err != nil {
		return err
	}

	e.log.WithField("ruleset", rulesetID).Info("updated ruleset")
	e.maybeEagerPush(ctx)
	return nil
}

// DeleteRuleset removes a ruleset directory and marks the deletion pending
// (or drops tracking outright if it was never pushed).
func (e *Engine) DeleteRuleset(ctx context.Context, rulesetID string) error {
	if err := e.checkNotRefreshing(); err != nil {
		return err
	}

	localOnly := e.mirror.IsLocalOnly(rulesetID)
	if err := e.mirror.DeleteRuleset(rulesetID); err != nil {
		return err
	}

	err := e.store.Transact(func(doc *statefile.Document) error {
		doc.DelRuleset(e.org, rulesetID, localOnly)
		return nil
	})
	if err != nil {
		return err
	}

	e.log.WithField("ruleset", rulesetID).Info("deleted ruleset")
	e.maybeEagerPush(ctx)
	return nil
}

// CreateRule creates a new local-only rule under rulesetID, uniquifying its
// name against the organization first.
func (e *Engine) CreateRule(ctx context.Context, rulesetID string, rule mirror.Rule, tags mirror.Tags, postfix string) (string, error) {
	if err := e.checkNotRefreshing(); err != nil {
		return "", err
	}

	name, err := uniquifyRuleName(e.mirror, rule.Name, postfix)
	if err != nil {
		return "", err
	}
	rule.Name = name

	id, err := e.mirror.CreateRule(rulesetID, rule, tags)
	if err != nil {
		return "", err
	}

	err = e.store.Transact(func(doc *statefile.Document) error {
		return doc.AddRule(e.org, rulesetID, id, statefile.RuleBoth)
	})
	if err != nil {
		return "", err
	}

	e.log.WithFields(logrus.Fields{"ruleset": rulesetID, "rule": id}).Info("created rule")
	e.maybeEagerPush(ctx)
	return id, nil
}

// UpdateRule overwrites a rule's body, marking the "rule" endpoint pending.
func (e *Engine) UpdateRule(ctx context.Context, ruleID string, data mirror.Rule) error {
	if err := e.checkNotRefreshing(); err != nil {
		return err
	}

	rulesetID, ok := e.mirror.LocateRule(ruleID)
	if !ok {
		return errors.Wrapf(errkind.ErrNotFound, "rule %q", ruleID)
	}

	if err := e.mirror.EditRule(rulesetID, ruleID, data); err != nil {
		return err
	}

	err := e.store.Transact(func(doc *statefile.Document) error {
		return doc.AddRule(e.org, rulesetID, ruleID, statefile.RuleBody)
	})
	if err != nil {
		return err
	}

	e.log.WithFields(logrus.Fields{"ruleset": rulesetID, "rule": ruleID}).Info("updated rule")
	e.maybeEagerPush(ctx)
	return nil
}

// UpdateTags overwrites a rule's tags, marking the "tags" endpoint pending.
func (e *Engine) UpdateTags(ctx context.Context, ruleID string, tags mirror.Tags) error {
	if err := e.checkNotRefreshing(); err != nil {
		return err
	}

	rulesetID, ok := e.mirror.LocateRule(ruleID)
	if !ok {
		return errors.Wrapf(errkind.ErrNotFound, "rule %q", ruleID)
	}

	if err := e.mirror.EditTags(rulesetID, ruleID, tags); err != nil {
		return err
	}

	err := e.store.Transact(func(doc *statefile.Document) error {
		return doc.AddRule(e.org, rulesetID, ruleID, statefile.RuleTags)
	})
	if err != nil {
		return err
	}

	e.log.WithFields(logrus.Fields{"ruleset": rulesetID, "rule": ruleID}).Info("updated tags")
	e.maybeEagerPush(ctx)
	return nil
}

// DeleteRule removes a rule directory, drops it from its parent ruleset's
// ruleIds, and marks the deletion pending (or drops tracking outright if it
// was never pushed).
func (e *Engine) DeleteRule(ctx context.Context, ruleID string) error {
	if err := e.checkNotRefreshing(); err != nil {
		return err
	}

	rulesetID, ok := e.mirror.LocateRule(ruleID)
	if !ok {
		return errors.Wrapf(errkind.ErrNotFound, "rule %q", ruleID)
	}

	localOnly := e.mirror.IsLocalOnly(ruleID)
	if err := e.mirror.DeleteRule(rulesetID, ruleID); err != nil {
		return err
	}

	err := e.store.Transact(func(doc *statefile.Document) error {
		doc.DelRule(e.org, rulesetID, ruleID, localOnly)
		return nil
	})
	if err != nil {
		return err
	}

	e.log.WithFields(logrus.Fields{"ruleset": rulesetID, "rule": ruleID}).Info("deleted rule")
	e.maybeEagerPush(ctx)
	return nil
}

// CopyRule copies an existing rule within this organization into
// dstRulesetID.
func (e *Engine) CopyRule(ctx context.Context, ruleID, dstRulesetID, postfix string) (string, error) {
	rulesetID, ok := e.mirror.LocateRule(ruleID)
	if !ok {
		return "", errors.Wrapf(errkind.ErrNotFound, "rule %q", ruleID)
	}

	if !e.mirror.LocateRuleset(dstRulesetID) {
		return "", errors.Wrapf(errkind.ErrNotFound, "destination ruleset %q", dstRulesetID)
	}

	rule, err := e.mirror.ReadRule(rulesetID, ruleID)
	if err != nil {
		return "", err
	}
	tags, err := e.mirror.ReadTags(rulesetID, ruleID)
	if err != nil {
		return "", err
	}

	return e.CreateRule(ctx, dstRulesetID, rule, tags, postfix)
}

// CopyRuleOut copies an existing rule from this organization into
// dstRulesetID in dstOrg, instantiating (and, if necessary, refreshing) an
// engine bound to dstOrg.
func (e *Engine) CopyRuleOut(ctx context.Context, ruleID, dstRulesetID, dstOrg, postfix string) (string, error) {
	rulesetID, ok := e.mirror.LocateRule(ruleID)
	if !ok {
		return "", errors.Wrapf(errkind.ErrNotFound, "rule %q", ruleID)
	}

	dst, err := e.factory.Engine(ctx, dstOrg)
	if err != nil {
		return "", err
	}

	if !dst.mirror.LocateRuleset(dstRulesetID) {
		return "", errors.Wrapf(errkind.ErrNotFound, "destination ruleset %q in organization %q", dstRulesetID, dstOrg)
	}

	rule, err := e.mirror.ReadRule(rulesetID, ruleID)
	if err != nil {
		return "", err
	}
	tags, err := e.mirror.ReadTags(rulesetID, ruleID)
	if err != nil {
		return "", err
	}

	return dst.CreateRule(ctx, dstRulesetID, rule, tags, postfix)
}

// CopyRuleset copies an entire ruleset, and every rule it contains, within
// this organization.
func (e *Engine) CopyRuleset(ctx context.Context, srcRulesetID, postfix string) (string, error) {
	if !e.mirror.LocateRuleset(srcRulesetID) {
		return "", errors.Wrapf(errkind.ErrNotFound, "ruleset %q", srcRulesetID)
	}

	src, err := e.mirror.ReadRuleset(srcRulesetID)
	if err != nil {
		return "", err
	}

	ruleIDs, err := e.mirror.ListRules(srcRulesetID)
	if err != nil {
		return "", err
	}

	newRulesetID, err := e.CreateRuleset(ctx, mirror.Ruleset{Name: src.Name, Description: src.Description}, postfix)
	if err != nil {
		return "", err
	}

	newRuleIDs := make([]string, 0, len(ruleIDs))
	for _, ruleID := range ruleIDs {
		rule, err := e.mirror.ReadRule(srcRulesetID, ruleID)
		if err != nil {
			return "", err
		}
		tags, err := e.mirror.ReadTags(srcRulesetID, ruleID)
		if err != nil {
			return "", err
		}

		newRuleID, err := e.CreateRule(ctx, newRulesetID, rule, tags, "")
		if err != nil {
			return "", err
		}
		newRuleIDs = append(newRuleIDs, newRuleID)
	}

	return newRulesetID, nil
}

// CopyRulesetOut copies an entire ruleset, and every rule it contains, from
// this organization into dstOrg.
func (e *Engine) CopyRulesetOut(ctx context.Context, srcRulesetID, dstOrg, postfix string) (string, error) {
	if !e.mirror.LocateRuleset(srcRulesetID) {
		return "", errors.Wrapf(errkind.ErrNotFound, "ruleset %q", srcRulesetID)
	}

	src, err := e.mirror.ReadRuleset(srcRulesetID)
	if err != nil {
		return "", err
	}

	ruleIDs, err := e.mirror.ListRules(srcRulesetID)
	if err != nil {
		return "", err
	}

	dst, err := e.factory.Engine(ctx, dstOrg)
	if err != nil {
		return "", err
	}

	newRulesetID, err := dst.CreateRuleset(ctx, mirror.Ruleset{Name: src.Name, Description: src.Description}, postfix)
	if err != nil {
		return "", err
	}

	for _, ruleID := range ruleIDs {
		rule, err := e.mirror.ReadRule(srcRulesetID, ruleID)
		if err != nil {
			return "", err
		}
		tags, err := e.mirror.ReadTags(srcRulesetID, ruleID)
		if err != nil {
			return "", err
		}

		if _, err := dst.CreateRule(ctx, newRulesetID, rule, tags, ""); err != nil {
			return "", err
		}
	}

	return newRulesetID, nil
}
