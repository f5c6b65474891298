package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emmeowzing/threatstack-rule-manager/pkg/mirror"
	"github.com/emmeowzing/threatstack-rule-manager/pkg/statefile"
)

type countingPusher struct{ calls int }

func (p *countingPusher) Push(ctx context.Context, org string) error {
	p.calls++
	return nil
}

type countingRefresher struct{ calls int }

func (r *countingRefresher) Refresh(ctx context.Context, org string) error {
	r.calls++
	return nil
}

func newTestFactory(t *testing.T, pusher Pusher, refresher Refresher, eager bool) *Factory {
	t.Helper()
	store := statefile.NewStore(filepath.Join(t.TempDir(), "state.json"))
	return &Factory{
		StateDir:  t.TempDir(),
		Suffix:    mirror.DefaultLocalOnlySuffix,
		Store:     store,
		Pusher:    pusher,
		Refresher: refresher,
		EagerPush: eager,
	}
}

func TestCreateRulesetAndRuleRoundTrip(t *testing.T) {
	factory := newTestFactory(t, nil, nil, false)
	eng, err := factory.Engine(context.Background(), "org1")
	require.NoError(t, err)

	rsID, err := eng.CreateRuleset(context.Background(), mirror.Ruleset{Name: "my ruleset"}, "")
	require.NoError(t, err)

	ruleID, err := eng.CreateRule(context.Background(), rsID, mirror.Rule{Name: "rule"}, mirror.Tags{}, "")
	require.NoError(t, err)

	doc, err := factory.Store.Load()
	require.NoError(t, err)
	entry := doc.Organizations["org1"][rsID]
	require.NotNil(t, entry)
	assert.Equal(t, statefile.RulesetModified, entry.Modified)
	assert.Equal(t, statefile.RuleBoth, entry.RuleIDs[ruleID])
}

func TestEagerModeTriggersPushOnMutation(t *testing.T) {
	pusher := &countingPusher{}
	factory := newTestFactory(t, pusher, nil, true)
	eng, err := factory.Engine(context.Background(), "org1")
	require.NoError(t, err)

	_, err = eng.CreateRuleset(context.Background(), mirror.Ruleset{Name: "rs"}, "")
	require.NoError(t, err)

	assert.Equal(t, 1, pusher.calls)
}

func TestLazyModeDoesNotTriggerPush(t *testing.T) {
	pusher := &countingPusher{}
	factory := newTestFactory(t, pusher, nil, false)
	eng, err := factory.Engine(context.Background(), "org1")
	require.NoError(t, err)

	_, err = eng.CreateRuleset(context.Background(), mirror.Ruleset{Name: "rs"}, "")
	require.NoError(t, err)

	assert.Equal(t, 0, pusher.calls)
}

func TestEngineTriggersRefreshOnFirstAccess(t *testing.T) {
	refresher := &countingRefresher{}
	factory := newTestFactory(t, nil, refresher, false)

	_, err := factory.Engine(context.Background(), "brand-new-org")
	require.NoError(t, err)
	assert.Equal(t, 1, refresher.calls)

	// A second access to the same (now-existing) organization does not
	// trigger another refresh.
	_, err = factory.Engine(context.Background(), "brand-new-org")
	require.NoError(t, err)
	assert.Equal(t, 1, refresher.calls)
}

func TestCopyRulesetDuplicatesRulesWithNewIDs(t *testing.T) {
	factory := newTestFactory(t, nil, nil, false)
	eng, err := factory.Engine(context.Background(), "org1")
	require.NoError(t, err)

	srcID, err := eng.CreateRuleset(context.Background(), mirror.Ruleset{Name: "source"}, "")
	require.NoError(t, err)
	_, err = eng.CreateRule(context.Background(), srcID, mirror.Rule{Name: "rule a"}, mirror.Tags{Inclusion: []string{"x"}}, "")
	require.NoError(t, err)

	dstID, err := eng.CopyRuleset(context.Background(), srcID, "")
	require.NoError(t, err)
	assert.NotEqual(t, srcID, dstID)

	dstRules, err := eng.Mirror().ListRules(dstID)
	require.NoError(t, err)
	require.Len(t, dstRules, 1)

	srcRules, err := eng.Mirror().ListRules(srcID)
	require.NoError(t, err)
	require.Len(t, srcRules, 1)
	assert.NotEqual(t, srcRules[0], dstRules[0])
}

func TestUniquifyNameOnCreateRulesetCollision(t *testing.T) {
	factory := newTestFactory(t, nil, nil, false)
	eng, err := factory.Engine(context.Background(), "org1")
	require.NoError(t, err)

	_, err = eng.CreateRuleset(context.Background(), mirror.Ruleset{Name: "dup"}, "")
	require.NoError(t, err)

	secondID, err := eng.CreateRuleset(context.Background(), mirror.Ruleset{Name: "dup"}, "")
	require.NoError(t, err)

	data, err := eng.Mirror().ReadRuleset(secondID)
	require.NoError(t, err)
	assert.Equal(t, "dup"+copyPostfix, data.Name)
}

func TestDeleteRulesetLocalOnlyDropsTrackingEntirely(t *testing.T) {
	factory := newTestFactory(t, nil, nil, false)
	eng, err := factory.Engine(context.Background(), "org1")
	require.NoError(t, err)

	rsID, err := eng.CreateRuleset(context.Background(), mirror.Ruleset{Name: "rs"}, "")
	require.NoError(t, err)

	require.NoError(t, eng.DeleteRuleset(context.Background(), rsID))

	doc, err := factory.Store.Load()
	require.NoError(t, err)
	_, ok := doc.Organizations["org1"]
	assert.False(t, ok)
}
