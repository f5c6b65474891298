package reconcile

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/emmeowzing/threatstack-rule-manager/pkg/remote"
)

// fakeClient is an in-memory remote.Client used to exercise push/refresh
// without a real HTTP server. It is safe for concurrent use so it can also
// back the multi-organization fan-out tests.
type fakeClient struct {
	mu     sync.Mutex
	nextID int

	rulesets      map[string]remote.Ruleset
	rules         map[string]remote.Rule
	tags          map[string]remote.Tags
	ruleToRuleset map[string]string

	failGetRulesets bool
	failPostTags    map[string]bool // ruleID -> fail once
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		rulesets:      map[string]remote.Ruleset{},
		rules:         map[string]remote.Rule{},
		tags:          map[string]remote.Tags{},
		ruleToRuleset: map[string]string{},
		failPostTags:  map[string]bool{},
	}
}

func (c *fakeClient) newID(prefix string) string {
	c.nextID++
	return fmt.Sprintf("%s-%d", prefix, c.nextID)
}

func (c *fakeClient) GetRulesets(ctx context.Context) ([]remote.Ruleset, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failGetRulesets {
		return nil, errors.New("simulated fetch failure")
	}
	out := make([]remote.Ruleset, 0, len(c.rulesets))
	for _, rs := range c.rulesets {
		out = append(out, rs)
	}
	return out, nil
}

func (c *fakeClient) GetRulesetRules(ctx context.Context, rulesetID string) ([]remote.Rule, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rs, ok := c.rulesets[rulesetID]
	if !ok {
		return nil, errors.Errorf("ruleset %q not found", rulesetID)
	}
	out := make([]remote.Rule, 0, len(rs.RuleIDs))
	for _, id := range rs.RuleIDs {
		out = append(out, c.rules[id])
	}
	return out, nil
}

func (c *fakeClient) GetRuleTags(ctx context.Context, ruleID string) (remote.Tags, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tags[ruleID], nil
}

func (c *fakeClient) PostRuleset(ctx context.Context, data remote.Ruleset) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.newID("ruleset")
	data.ID = id
	if data.RuleIDs == nil {
		data.RuleIDs = []string{}
	}
	c.rulesets[id] = data
	return id, nil
}

func (c *fakeClient) PutRuleset(ctx context.Context, rulesetID string, data remote.Ruleset) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rulesets[rulesetID]; !ok {
		return errors.Errorf("ruleset %q not found", rulesetID)
	}
	data.ID = rulesetID
	c.rulesets[rulesetID] = data
	return nil
}

func (c *fakeClient) DeleteRuleset(ctx context.Context, rulesetID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rulesets, rulesetID)
	return nil
}

func (c *fakeClient) PostRule(ctx context.Context, rulesetID string, data remote.Rule) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rs, ok := c.rulesets[rulesetID]
	if !ok {
		return "", errors.Errorf("ruleset %q not found", rulesetID)
	}
	id := c.newID("rule")
	data.ID = id
	c.rules[id] = data
	c.ruleToRuleset[id] = rulesetID
	rs.RuleIDs = append(rs.RuleIDs, id)
	c.rulesets[rulesetID] = rs
	return id, nil
}

func (c *fakeClient) PutRule(ctx context.Context, rulesetID, ruleID string, data remote.Rule) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data.ID = ruleID
	c.rules[ruleID] = data
	return nil
}

func (c *fakeClient) DeleteRule(ctx context.Context, rulesetID, ruleID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rules, ruleID)
	delete(c.tags, ruleID)
	delete(c.ruleToRuleset, ruleID)
	if rs, ok := c.rulesets[rulesetID]; ok {
		filtered := rs.RuleIDs[:0]
		for _, id := range rs.RuleIDs {
			if id != ruleID {
				filtered = append(filtered, id)
			}
		}
		rs.RuleIDs = filtered
		c.rulesets[rulesetID] = rs
	}
	return nil
}

func (c *fakeClient) PostTags(ctx context.Context, ruleID string, data remote.Tags) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failPostTags[ruleID] {
		delete(c.failPostTags, ruleID)
		return errors.New("simulated tags failure")
	}
	c.tags[ruleID] = data
	return nil
}

var _ remote.Client = (*fakeClient)(nil)
