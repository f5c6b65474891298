// Package statefile implements Component C: the single JSON document that
// tracks per-organization pending changes, and the six state-transition
// primitives that mutate it.
//
// Every transition operates on a *Document in memory so callers can batch
// several mutations (as the reconciler does across a whole organization
// push) into one on-disk write; Store.Transact loads, hands the document to
// a callback, and persists it exactly once, guarded by a process-wide mutex
// matching the single shared-document model in SPEC_FULL.md §5.
package statefile

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/emmeowzing/threatstack-rule-manager/pkg/errkind"
	"github.com/emmeowzing/threatstack-rule-manager/pkg/jsonstore"
)

// RulesetStatus is the three-state lattice governing a tracked ruleset:
// false (untouched/unmodified... actually tracked+unmodified), true
// (modified), del (terminal, pending deletion).
type RulesetStatus string

const (
	RulesetUnmodified RulesetStatus = "false"
	RulesetModified   RulesetStatus = "true"
	RulesetDeleted    RulesetStatus = "del"
)

// RuleStatus is the four-state lattice governing a tracked rule within a
// ruleset. Both is the join of Rule and Tags; Del absorbs everything and is
// terminal.
type RuleStatus string

const (
	RuleBody    RuleStatus = "rule"
	RuleTags    RuleStatus = "tags"
	RuleBoth    RuleStatus = "both"
	RuleDeleted RuleStatus = "del"
)

// RulesetEntry is the pending-change record for one ruleset: its own status
// plus the per-rule status map of its pending children.
type RulesetEntry struct {
	Modified RulesetStatus        `json:"modified"`
	RuleIDs  map[string]RuleStatus `json:"ruleIds"`
}

func newRulesetEntry(status RulesetStatus) *RulesetEntry {
	return &RulesetEntry{Modified: status, RuleIDs: map[string]RuleStatus{}}
}

// OrgPending is the map of rulesetID -> pending change for one organization.
type OrgPending map[string]*RulesetEntry

// Document is the full on-disk state file schema (SPEC_FULL.md §3).
type Document struct {
	Workspace     string                `json:"workspace"`
	Organizations map[string]OrgPending `json:"organizations"`
}

func newDocument() *Document {
	return &Document{Organizations: map[string]OrgPending{}}
}

// Store owns the on-disk path of the state file and serializes every
// read-modify-write against it with a process-wide mutex, per SPEC_FULL.md
// §5's "single shared document, one mutex" model.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore binds a Store to path. The file is not created until the first
// Save or Transact; Load of an absent file returns an empty document.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the document from disk, returning a fresh empty document if the
// file does not yet exist.
func (s *Store) Load() (*Document, error) {
	doc := newDocument()
	if err := jsonstore.Read(s.path, doc); err != nil {
		if errkind.Is(err, errkind.ErrNotFound) {
			return newDocument(), nil
		}
		return nil, err
	}
	if doc.Organizations == nil {
		doc.Organizations = map[string]OrgPending{}
	}
	return doc, nil
}

// Save persists doc to disk atomically.
func (s *Store) Save(doc *Document) error {
	return jsonstore.Write(s.path, doc)
}

// Transact loads the document, runs fn against it, prunes empty entries, and
// persists exactly once -- all under the store's mutex. This is the single
// explicit end-of-push write called out in SPEC_FULL.md §4.F / DESIGN.md's
// resolution of REDESIGN FLAG (a): no implicit loop-completion write, just
// one commit after the callback returns successfully.
func (s *Store) Transact(fn func(doc *Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.Load()
	if err != nil {
		return err
	}

	if err := fn(doc); err != nil {
		return err
	}

	prune(doc)

	return s.Save(doc)
}

// prune removes organization/ruleset entries left empty by transitions, per
// the "empty entries must be pruned on each write" rule in SPEC_FULL.md §4.C.
func prune(doc *Document) {
	for org, pending := range doc.Organizations {
		for rsID, entry := range pending {
			if entry.Modified != RulesetDeleted && len(entry.RuleIDs) == 0 && entry.Modified == RulesetUnmodified {
				delete(pending, rsID)
			}
		}
		if len(pending) == 0 {
			delete(doc.Organizations, org)
		}
	}
}

// AddOrg idempotently ensures org has a (possibly empty) pending map.
func (d *Document) AddOrg(org string) {
	if _, ok := d.Organizations[org]; !ok {
		d.Organizations[org] = OrgPending{}
	}
}

// DelOrg unconditionally removes org's pending entry. Used only by refresh
// on success.
func (d *Document) DelOrg(org string) {
	delete(d.Organizations, org)
}

// AddRuleset transitions (or creates) the pending entry for rulesetID per
// the ruleset status lattice: false -> true is allowed, true can't go back
// to false except via a successful push, and del is terminal -- re-adding a
// del'd ruleset is an InvariantViolation.
func (d *Document) AddRuleset(org, rulesetID string, action RulesetStatus) error {
	d.AddOrg(org)
	pending := d.Organizations[org]

	entry, ok := pending[rulesetID]
	if !ok {
		pending[rulesetID] = newRulesetEntry(action)
		return nil
	}

	switch {
	case entry.Modified == RulesetDeleted && action != RulesetDeleted:
		return errors.Wrapf(errkind.ErrInvariantViolation,
			"cannot add ruleset %q back to state file after being deleted", rulesetID)
	case action == RulesetModified && entry.Modified == RulesetUnmodified:
		entry.Modified = RulesetModified
	case action == RulesetUnmodified && entry.Modified == RulesetModified:
		return errors.Wrapf(errkind.ErrInvariantViolation,
			"cannot unmodify ruleset %q once it has been marked modified", rulesetID)
	}

	return nil
}

// DelRuleset marks rulesetID for deletion. Local-only IDs (the caller passes
// localOnly=true; they never existed remotely) are removed from tracking
// entirely; otherwise the entry transitions to
// RulesetDeleted with its rule map cleared (invariant 2).
func (d *Document) DelRuleset(org, rulesetID string, localOnly bool) {
	d.AddOrg(org)
	pending := d.Organizations[org]

	if localOnly {
		delete(pending, rulesetID)
		if len(pending) == 0 {
			delete(d.Organizations, org)
		}
		return
	}

	entry, ok := pending[rulesetID]
	if !ok {
		pending[rulesetID] = &RulesetEntry{Modified: RulesetDeleted, RuleIDs: map[string]RuleStatus{}}
		return
	}

	entry.Modified = RulesetDeleted
	entry.RuleIDs = map[string]RuleStatus{}
}

// AddRule performs a monotone join of ruleID's status onto the rule status
// lattice {rule, tags, both, del}. A del'd rule can never be modified again.
// If the containing ruleset isn't tracked yet, it's auto-created with
// RulesetUnmodified (it already exists remotely; only the rule changed).
func (d *Document) AddRule(org, rulesetID, ruleID string, endpoint RuleStatus) error {
	d.AddOrg(org)
	pending := d.Organizations[org]

	entry, ok := pending[rulesetID]
	if !ok {
		entry = newRulesetEntry(RulesetUnmodified)
		pending[rulesetID] = entry
	}

	current, tracked := entry.RuleIDs[ruleID]
	if !tracked {
		entry.RuleIDs[ruleID] = endpoint
		return nil
	}

	if endpoint != RuleDeleted && current == RuleDeleted {
		return errors.Wrapf(errkind.ErrInvariantViolation, "cannot modify deleted rule %q", ruleID)
	}

	entry.RuleIDs[ruleID] = join(current, endpoint)
	return nil
}

// join computes the least upper bound of two rule statuses on the lattice.
// del absorbs everything; both is the join of rule and tags; a status
// joined with itself (or with del, when already del) is unchanged.
func join(a, b RuleStatus) RuleStatus {
	switch {
	case a == RuleDeleted || b == RuleDeleted:
		return RuleDeleted
	case a == b:
		return a
	case a == RuleBoth || b == RuleBoth:
		return RuleBoth
	default:
		// {rule, tags} in either order.
		return RuleBoth
	}
}

// DelRule marks ruleID for deletion under rulesetID. Local-only rule IDs are
// removed from tracking outright (never pushed, so nothing to delete
// remotely); otherwise the entry transitions to RuleDeleted.
func (d *Document) DelRule(org, rulesetID, ruleID string, localOnly bool) {
	d.AddOrg(org)
	pending := d.Organizations[org]

	entry, ok := pending[rulesetID]
	if !ok {
		entry = newRulesetEntry(RulesetUnmodified)
		pending[rulesetID] = entry
	}

	if localOnly {
		delete(entry.RuleIDs, ruleID)
		return
	}

	entry.RuleIDs[ruleID] = RuleDeleted
}
