package statefile

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emmeowzing/threatstack-rule-manager/pkg/errkind"
)

func TestAddRulesetLattice(t *testing.T) {
	doc := newDocument()

	require.NoError(t, doc.AddRuleset("org1", "rs1", RulesetUnmodified))
	assert.Equal(t, RulesetUnmodified, doc.Organizations["org1"]["rs1"].Modified)

	require.NoError(t, doc.AddRuleset("org1", "rs1", RulesetModified))
	assert.Equal(t, RulesetModified, doc.Organizations["org1"]["rs1"].Modified)

	err := doc.AddRuleset("org1", "rs1", RulesetUnmodified)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.ErrInvariantViolation))
}

func TestAddRulesetRejectsResurrectingDeleted(t *testing.T) {
	doc := newDocument()
	doc.DelRuleset("org1", "rs1", false)

	err := doc.AddRuleset("org1", "rs1", RulesetModified)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.ErrInvariantViolation))
}

func TestDelRulesetLocalOnlyDropsEntirely(t *testing.T) {
	doc := newDocument()
	require.NoError(t, doc.AddRuleset("org1", "rs1-localonly", RulesetModified))

	doc.DelRuleset("org1", "rs1-localonly", true)

	_, ok := doc.Organizations["org1"]
	assert.False(t, ok, "organization with no remaining pending entries should be dropped")
}

func TestDelRulesetRemoteClearsRuleIDs(t *testing.T) {
	doc := newDocument()
	require.NoError(t, doc.AddRule("org1", "rs1", "rule1", RuleBoth))

	doc.DelRuleset("org1", "rs1", false)

	entry := doc.Organizations["org1"]["rs1"]
	assert.Equal(t, RulesetDeleted, entry.Modified)
	assert.Empty(t, entry.RuleIDs)
}

func TestAddRuleJoinLattice(t *testing.T) {
	cases := []struct {
		name     string
		first    RuleStatus
		second   RuleStatus
		expected RuleStatus
	}{
		{"rule then tags becomes both", RuleBody, RuleTags, RuleBoth},
		{"tags then rule becomes both", RuleTags, RuleBody, RuleBoth},
		{"same status stays same", RuleBody, RuleBody, RuleBody},
		{"both stays both", RuleBoth, RuleTags, RuleBoth},
		{"del absorbs anything", RuleBody, RuleDeleted, RuleDeleted},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc := newDocument()
			require.NoError(t, doc.AddRule("org1", "rs1", "rule1", tc.first))
			require.NoError(t, doc.AddRule("org1", "rs1", "rule1", tc.second))
			assert.Equal(t, tc.expected, doc.Organizations["org1"]["rs1"].RuleIDs["rule1"])
		})
	}
}

func TestAddRuleRejectsModifyingDeleted(t *testing.T) {
	doc := newDocument()
	require.NoError(t, doc.AddRule("org1", "rs1", "rule1", RuleDeleted))

	err := doc.AddRule("org1", "rs1", "rule1", RuleBody)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.ErrInvariantViolation))
}

func TestAddRuleAutoCreatesUnmodifiedRuleset(t *testing.T) {
	doc := newDocument()
	require.NoError(t, doc.AddRule("org1", "rs1", "rule1", RuleTags))
	assert.Equal(t, RulesetUnmodified, doc.Organizations["org1"]["rs1"].Modified)
}

func TestDelRuleLocalOnlyDropsEntry(t *testing.T) {
	doc := newDocument()
	require.NoError(t, doc.AddRule("org1", "rs1", "rule1-localonly", RuleBoth))

	doc.DelRule("org1", "rs1", "rule1-localonly", true)

	_, tracked := doc.Organizations["org1"]["rs1"].RuleIDs["rule1-localonly"]
	assert.False(t, tracked)
}

func TestPruneDropsEmptyUnmodifiedEntries(t *testing.T) {
	doc := newDocument()
	doc.AddOrg("org1")
	doc.Organizations["org1"]["rs1"] = newRulesetEntry(RulesetUnmodified)

	prune(doc)

	_, ok := doc.Organizations["org1"]
	assert.False(t, ok)
}

func TestPruneKeepsModifiedEmptyEntries(t *testing.T) {
	doc := newDocument()
	doc.AddOrg("org1")
	doc.Organizations["org1"]["rs1"] = newRulesetEntry(RulesetModified)

	prune(doc)

	_, ok := doc.Organizations["org1"]["rs1"]
	assert.True(t, ok)
}

func TestStoreTransactRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewStore(path)

	err := store.Transact(func(doc *Document) error {
		doc.Workspace = "org1"
		return doc.AddRuleset("org1", "rs1", RulesetModified)
	})
	require.NoError(t, err)

	reloaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "org1", reloaded.Workspace)
	assert.Equal(t, RulesetModified, reloaded.Organizations["org1"]["rs1"].Modified)
}

func TestStoreLoadMissingFileReturnsEmptyDocument(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "does-not-exist.json"))
	doc, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, doc.Organizations)
}
