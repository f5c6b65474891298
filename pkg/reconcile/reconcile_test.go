package reconcile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emmeowzing/threatstack-rule-manager/pkg/engine"
	"github.com/emmeowzing/threatstack-rule-manager/pkg/jsonstore"
	"github.com/emmeowzing/threatstack-rule-manager/pkg/mirror"
	"github.com/emmeowzing/threatstack-rule-manager/pkg/remote"
	"github.com/emmeowzing/threatstack-rule-manager/pkg/statefile"
)

func newTestReconciler(t *testing.T, client remote.Client) (*Reconciler, string) {
	t.Helper()
	stateDir := t.TempDir()
	store := statefile.NewStore(filepath.Join(t.TempDir(), "state.json"))

	r := &Reconciler{
		StateDir: stateDir,
		Suffix:   mirror.DefaultLocalOnlySuffix,
		Store:    store,
		ClientFor: func(org string) (remote.Client, error) {
			return client, nil
		},
	}
	return r, stateDir
}

func TestPushLocalOnlyRulesetRoundTrip(t *testing.T) {
	client := newFakeClient()
	r, stateDir := newTestReconciler(t, client)

	factory := &engine.Factory{
		StateDir: stateDir,
		Suffix:   mirror.DefaultLocalOnlySuffix,
		Store:    r.Store,
		Pusher:   r,
	}
	eng, err := factory.Engine(context.Background(), "org1")
	require.NoError(t, err)

	rsID, err := eng.CreateRuleset(context.Background(), mirror.Ruleset{Name: "rs"}, "")
	require.NoError(t, err)
	ruleID, err := eng.CreateRule(context.Background(), rsID, mirror.Rule{Name: "rule", Type: "detection"}, mirror.Tags{Inclusion: []string{"h1"}}, "")
	require.NoError(t, err)
	require.True(t, eng.Mirror().IsLocalOnly(rsID))
	require.True(t, eng.Mirror().IsLocalOnly(ruleID))

	require.NoError(t, r.Push(context.Background(), "org1"))

	doc, err := r.Store.Load()
	require.NoError(t, err)
	_, pending := doc.Organizations["org1"]
	assert.False(t, pending, "fully-synced organization should have no pending entry")

	rulesetIDs, err := eng.Mirror().ListRulesets()
	require.NoError(t, err)
	require.Len(t, rulesetIDs, 1)
	assert.False(t, eng.Mirror().IsLocalOnly(rulesetIDs[0]), "ruleset dir should be renamed to its remote id")

	ruleIDs, err := eng.Mirror().ListRules(rulesetIDs[0])
	require.NoError(t, err)
	require.Len(t, ruleIDs, 1)
	assert.False(t, eng.Mirror().IsLocalOnly(ruleIDs[0]))

	remoteRulesets, err := client.GetRulesets(context.Background())
	require.NoError(t, err)
	require.Len(t, remoteRulesets, 1)
}

func TestPushLeavesEntityPendingOnPartialFailure(t *testing.T) {
	client := newFakeClient()
	r, stateDir := newTestReconciler(t, client)

	factory := &engine.Factory{StateDir: stateDir, Suffix: mirror.DefaultLocalOnlySuffix, Store: r.Store}
	eng, err := factory.Engine(context.Background(), "org1")
	require.NoError(t, err)

	rsID, err := eng.CreateRuleset(context.Background(), mirror.Ruleset{Name: "rs"}, "")
	require.NoError(t, err)
	ruleID, err := eng.CreateRule(context.Background(), rsID, mirror.Rule{Name: "rule"}, mirror.Tags{Inclusion: []string{"h1"}}, "")
	require.NoError(t, err)

	// Simulate the platform rejecting the tags POST for whichever remote
	// rule ID gets assigned. fakeClient assigns ids sequentially off one
	// shared counter, and the ruleset is created first (consuming id 1), so
	// the first (and only) rule created lands on id 2.
	client.failPostTags["rule-2"] = true

	require.NoError(t, r.Push(context.Background(), "org1"))

	doc, err := r.Store.Load()
	require.NoError(t, err)
	pending, ok := doc.Organizations["org1"]
	require.True(t, ok, "partially-synced organization must remain pending")

	rulesetIDs, err := eng.Mirror().ListRulesets()
	require.NoError(t, err)
	require.Len(t, rulesetIDs, 1)
	entry := pending[rulesetIDs[0]]
	require.NotNil(t, entry)
	assert.Equal(t, statefile.RuleBody, entry.RuleIDs["rule-2"], "tag failure downgrades status to rule, not both")
	_ = ruleID
}

func TestPushExistingRulesetDispatchesByStatus(t *testing.T) {
	client := newFakeClient()
	client.rulesets["rs-1"] = remote.Ruleset{ID: "rs-1", Name: "rs", RuleIDs: []string{"rule-a", "rule-b"}}
	client.rules["rule-a"] = remote.Rule{ID: "rule-a", Name: "a"}
	client.rules["rule-b"] = remote.Rule{ID: "rule-b", Name: "b"}
	client.ruleToRuleset["rule-a"] = "rs-1"
	client.ruleToRuleset["rule-b"] = "rs-1"

	r, stateDir := newTestReconciler(t, client)
	m := mirror.New(filepath.Join(stateDir, "org1"), mirror.DefaultLocalOnlySuffix)
	require.NoError(t, os.MkdirAll(filepath.Join(stateDir, "org1", "rs-1", "rule-a"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(stateDir, "org1", "rs-1", "rule-b"), 0o755))
	require.NoError(t, jsonstore.Write(filepath.Join(stateDir, "org1", "rs-1", "ruleset.json"), mirror.Ruleset{Name: "rs", RuleIDs: []string{"rule-a", "rule-b"}}))
	require.NoError(t, jsonstore.Write(filepath.Join(stateDir, "org1", "rs-1", "rule-a", "rule.json"), mirror.Rule{Name: "a updated"}))
	require.NoError(t, jsonstore.Write(filepath.Join(stateDir, "org1", "rs-1", "rule-a", "tags.json"), mirror.Tags{}))
	require.NoError(t, jsonstore.Write(filepath.Join(stateDir, "org1", "rs-1", "rule-b", "rule.json"), mirror.Rule{Name: "b"}))
	require.NoError(t, jsonstore.Write(filepath.Join(stateDir, "org1", "rs-1", "rule-b", "tags.json"), mirror.Tags{Inclusion: []string{"tag"}}))
	_ = m

	require.NoError(t, r.Store.Transact(func(doc *statefile.Document) error {
		doc.Workspace = "org1"
		if err := doc.AddRule("org1", "rs-1", "rule-a", statefile.RuleBody); err != nil {
			return err
		}
		return doc.AddRule("org1", "rs-1", "rule-b", statefile.RuleTags)
	}))

	require.NoError(t, r.Push(context.Background(), "org1"))

	doc, err := r.Store.Load()
	require.NoError(t, err)
	_, pending := doc.Organizations["org1"]
	assert.False(t, pending, "fully-synced ruleset should be pruned")

	updated, err := client.GetRulesetRules(context.Background(), "rs-1")
	require.NoError(t, err)
	names := map[string]bool{}
	for _, rule := range updated {
		names[rule.Name] = true
	}
	assert.True(t, names["a updated"])
}

func TestRefreshPopulatesMirrorAndClearsPendingState(t *testing.T) {
	client := newFakeClient()
	client.rulesets["rs-1"] = remote.Ruleset{ID: "rs-1", Name: "remote rs", RuleIDs: []string{"rule-1"}}
	client.rules["rule-1"] = remote.Rule{ID: "rule-1", Name: "remote rule"}
	client.ruleToRuleset["rule-1"] = "rs-1"
	client.tags["rule-1"] = remote.Tags{Inclusion: []string{"t1"}}

	r, stateDir := newTestReconciler(t, client)
	require.NoError(t, r.Store.Transact(func(doc *statefile.Document) error {
		return doc.AddRuleset("org1", "stale-ruleset", statefile.RulesetModified)
	}))

	require.NoError(t, r.Refresh(context.Background(), "org1"))

	m := mirror.New(filepath.Join(stateDir, "org1"), mirror.DefaultLocalOnlySuffix)
	assert.True(t, m.LocateRuleset("rs-1"))
	rsData, err := m.ReadRuleset("rs-1")
	require.NoError(t, err)
	assert.Equal(t, "remote rs", rsData.Name)

	doc, err := r.Store.Load()
	require.NoError(t, err)
	_, ok := doc.Organizations["org1"]
	assert.False(t, ok, "refresh discards that organization's pending entry")

	assert.False(t, m.RefreshInProgress())
	_, err = os.Stat(filepath.Join(stateDir, "org1", mirror.StagingBackup))
	assert.True(t, os.IsNotExist(err))
}

func TestRefreshFailureRestoresOriginalTree(t *testing.T) {
	client := newFakeClient()
	r, stateDir := newTestReconciler(t, client)

	orgDir := filepath.Join(stateDir, "org1")
	m := mirror.New(orgDir, mirror.DefaultLocalOnlySuffix)
	rsID, err := m.CreateRuleset(mirror.Ruleset{Name: "keep me"})
	require.NoError(t, err)

	client.failGetRulesets = true

	err = r.Refresh(context.Background(), "org1")
	require.Error(t, err)

	assert.True(t, m.LocateRuleset(rsID))
	data, err := m.ReadRuleset(rsID)
	require.NoError(t, err)
	assert.Equal(t, "keep me", data.Name)

	_, err = os.Stat(filepath.Join(orgDir, mirror.StagingBackup))
	assert.True(t, os.IsNotExist(err), "backup staging dir must not survive a failed refresh")
	_, err = os.Stat(filepath.Join(orgDir, mirror.StagingRemote))
	assert.True(t, os.IsNotExist(err), "remote staging dir must not survive a failed refresh")
}

func TestPushAllFansOutAcrossOrganizationsConcurrently(t *testing.T) {
	client := newFakeClient()
	r, stateDir := newTestReconciler(t, client)

	orgs := []string{"org-a", "org-b", "org-c"}
	for _, org := range orgs {
		factory := &engine.Factory{StateDir: stateDir, Suffix: mirror.DefaultLocalOnlySuffix, Store: r.Store}
		eng, err := factory.Engine(context.Background(), org)
		require.NoError(t, err)
		_, err = eng.CreateRuleset(context.Background(), mirror.Ruleset{Name: org + "-rs"}, "")
		require.NoError(t, err)
	}

	require.NoError(t, r.PushAll(context.Background(), orgs, 3))

	doc, err := r.Store.Load()
	require.NoError(t, err)
	assert.Empty(t, doc.Organizations, "every organization should have fully pushed")
}
