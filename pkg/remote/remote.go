// Package remote defines the remote-client capability consumed by the
// reconciler (Component B of SPEC_FULL.md) and provides one concrete HTTP
// implementation of it.
package remote

import "context"

// Ruleset is the wire representation of a ruleset as returned by the remote
// platform, including server-assigned fields.
type Ruleset struct {
	ID          string   `json:"id,omitempty"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	RuleIDs     []string `json:"ruleIds"`
	CreatedAt   string   `json:"createdAt,omitempty"`
	UpdatedAt   string   `json:"updatedAt,omitempty"`
}

// Rule is the wire representation of a rule as returned by the remote
// platform.
type Rule struct {
	ID               string                 `json:"id,omitempty"`
	Name             string                 `json:"name"`
	Type             string                 `json:"type"`
	SeverityOfAlerts int                    `json:"severityOfAlerts"`
	Enabled          bool                   `json:"enabled"`
	Fields           map[string]interface{} `json:"fields,omitempty"`
}

// Tags is the wire representation of a rule's inclusion/exclusion tags.
type Tags struct {
	Inclusion []string `json:"inclusion"`
	Exclusion []string `json:"exclusion"`
}

// Client is the contract the reconciler needs from the remote platform. The
// reconciler obtains one per organization through its ClientFactory, in
// line with the "single writer, per-organization rate limit" model in
// SPEC_FULL.md §5; nothing in the interface itself is bound to an
// organization, and cmd/tsctl hands every organization the same client.
type Client interface {
	GetRulesets(ctx context.Context) ([]Ruleset, error)
	GetRulesetRules(ctx context.Context, rulesetID string) ([]Rule, error)
	GetRuleTags(ctx context.Context, ruleID string) (Tags, error)

	PostRuleset(ctx context.Context, data Ruleset) (id string, err error)
	PutRuleset(ctx context.Context, rulesetID string, data Ruleset) error
	DeleteRuleset(ctx context.Context, rulesetID string) error

	PostRule(ctx context.Context, rulesetID string, data Rule) (id string, err error)
	PutRule(ctx context.Context, rulesetID, ruleID string, data Rule) error
	DeleteRule(ctx context.Context, rulesetID, ruleID string) error

	PostTags(ctx context.Context, ruleID string, data Tags) error
}
