// Package mirror implements Component D: the per-organization filesystem
// tree that mirrors remote rulesets and rules, plus the primitives that
// create, edit, delete, and locate entities within it.
package mirror

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/emmeowzing/threatstack-rule-manager/pkg/errkind"
	"github.com/emmeowzing/threatstack-rule-manager/pkg/jsonstore"
)

// DefaultLocalOnlySuffix is appended to freshly generated UUIDs to mark an
// entity as not yet pushed to the remote platform (SPEC_FULL.md §3).
const DefaultLocalOnlySuffix = "-localonly"

// Ruleset is the persisted contents of ruleset.json.
type Ruleset struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	RuleIDs     []string `json:"ruleIds"`
}

// Rule is the persisted contents of rule.json. Fields is the opaque,
// type-specific body the remote platform accepts beyond the common fields.
type Rule struct {
	Name             string                 `json:"name"`
	Type             string                 `json:"type"`
	SeverityOfAlerts int                    `json:"severityOfAlerts"`
	Enabled          bool                   `json:"enabled"`
	Fields           map[string]interface{} `json:"fields,omitempty"`
}

// Tags is the persisted contents of tags.json.
type Tags struct {
	Inclusion []string `json:"inclusion"`
	Exclusion []string `json:"exclusion"`
}

const (
	rulesetFile = "ruleset.json"
	ruleFile    = "rule.json"
	tagsFile    = "tags.json"

	// StagingBackup and StagingRemote are the transient directories refresh
	// uses for crash-safe staging (Component F).
	StagingBackup = ".backup"
	StagingRemote = ".remote"
)

// Mirror owns one organization's directory tree.
type Mirror struct {
	orgDir string
	suffix string
}

// New binds a Mirror to orgDir, using suffix to mark local-only IDs.
func New(orgDir, suffix string) *Mirror {
	if suffix == "" {
		suffix = DefaultLocalOnlySuffix
	}
	return &Mirror{orgDir: orgDir, suffix: suffix}
}

// OrgDir returns the bound organization directory.
func (m *Mirror) OrgDir() string { return m.orgDir }

// Suffix returns the local-only suffix in use.
func (m *Mirror) Suffix() string { return m.suffix }

// IsLocalOnly reports whether id carries the local-only suffix.
func (m *Mirror) IsLocalOnly(id string) bool {
	return strings.HasSuffix(id, m.suffix)
}

// RefreshInProgress reports whether this organization is mid-refresh (its
// .remote/ staging directory is present), per the invariant in SPEC_FULL.md
// §4.F.
func (m *Mirror) RefreshInProgress() bool {
	info, err := os.Stat(filepath.Join(m.orgDir, StagingRemote))
	return err == nil && info.IsDir()
}

func (m *Mirror) rulesetDir(rulesetID string) string {
	return filepath.Join(m.orgDir, rulesetID)
}

func (m *Mirror) ruleDir(rulesetID, ruleID string) string {
	return filepath.Join(m.orgDir, rulesetID, ruleID)
}

func (m *Mirror) newLocalID(parentDir string) (string, error) {
	for {
		id := uuid.New().String() + m.suffix
		if _, err := os.Stat(filepath.Join(parentDir, id)); os.IsNotExist(err) {
			return id, nil
		}
	}
}

// listChildDirs lists the immediate child directory names of dir, skipping
// the two refresh staging directories.
func listChildDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "list %s", dir)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if e.Name() == StagingBackup || e.Name() == StagingRemote {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// CreateRuleset writes a new ruleset directory with a freshly generated
// local-only ID and returns it.
func (m *Mirror) CreateRuleset(data Ruleset) (string, error) {
	if err := os.MkdirAll(m.orgDir, 0o755); err != nil {
		return "", errors.Wrapf(err, "create organization dir %s", m.orgDir)
	}

	id, err := m.newLocalID(m.orgDir)
	if err != nil {
		return "", err
	}

	dir := m.rulesetDir(id)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "create ruleset dir %s", dir)
	}
	if data.RuleIDs == nil {
		data.RuleIDs = []string{}
	}
	if err := jsonstore.Write(filepath.Join(dir, rulesetFile), data); err != nil {
		return "", err
	}

	return id, nil
}

// EditRuleset overwrites ruleset.json for an existing ruleset directory.
func (m *Mirror) EditRuleset(rulesetID string, data Ruleset) error {
	dir := m.rulesetDir(rulesetID)
	if !m.LocateRuleset(rulesetID) {
		return errors.Wrapf(errkind.ErrNotFound, "ruleset %q", rulesetID)
	}
	return jsonstore.Write(filepath.Join(dir, rulesetFile), data)
}

// DeleteRuleset recursively removes a ruleset directory.
func (m *Mirror) DeleteRuleset(rulesetID string) error {
	dir := m.rulesetDir(rulesetID)
	if !m.LocateRuleset(rulesetID) {
		return errors.Wrapf(errkind.ErrNotFound, "ruleset %q", rulesetID)
	}
	return errors.Wrapf(os.RemoveAll(dir), "delete ruleset dir %s", dir)
}

// ReadRuleset loads ruleset.json for rulesetID.
func (m *Mirror) ReadRuleset(rulesetID string) (Ruleset, error) {
	var data Ruleset
	err := jsonstore.Read(filepath.Join(m.rulesetDir(rulesetID), rulesetFile), &data)
	return data, err
}

// CreateRule writes a new rule directory (rule.json + tags.json) under
// rulesetID with a freshly generated local-only ID, appends it to the
// parent ruleset's ruleIds, and returns the new ID.
func (m *Mirror) CreateRule(rulesetID string, rule Rule, tags Tags) (string, error) {
	rsDir := m.rulesetDir(rulesetID)
	if !m.LocateRuleset(rulesetID) {
		return "", errors.Wrapf(errkind.ErrNotFound, "ruleset %q", rulesetID)
	}

	id, err := m.newLocalID(rsDir)
	if err != nil {
		return "", err
	}

	dir := m.ruleDir(rulesetID, id)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "create rule dir %s", dir)
	}
	if err := jsonstore.Write(filepath.Join(dir, ruleFile), rule); err != nil {
		return "", err
	}
	if err := jsonstore.Write(filepath.Join(dir, tagsFile), tags); err != nil {
		return "", err
	}

	rsData, err := m.ReadRuleset(rulesetID)
	if err != nil {
		return "", err
	}
	rsData.RuleIDs = append(rsData.RuleIDs, id)
	if err := jsonstore.Write(filepath.Join(rsDir, rulesetFile), rsData); err != nil {
		return "", err
	}

	return id, nil
}

// EditRule overwrites rule.json for an existing rule.
func (m *Mirror) EditRule(rulesetID, ruleID string, data Rule) error {
	dir := m.ruleDir(rulesetID, ruleID)
	return jsonstore.Write(filepath.Join(dir, ruleFile), data)
}

// EditTags overwrites tags.json for an existing rule.
func (m *Mirror) EditTags(rulesetID, ruleID string, data Tags) error {
	dir := m.ruleDir(rulesetID, ruleID)
	return jsonstore.Write(filepath.Join(dir, tagsFile), data)
}

// ReadRule loads rule.json for ruleID under rulesetID.
func (m *Mirror) ReadRule(rulesetID, ruleID string) (Rule, error) {
	var data Rule
	err := jsonstore.Read(filepath.Join(m.ruleDir(rulesetID, ruleID), ruleFile), &data)
	return data, err
}

// ReadTags loads tags.json for ruleID under rulesetID.
func (m *Mirror) ReadTags(rulesetID, ruleID string) (Tags, error) {
	var data Tags
	err := jsonstore.Read(filepath.Join(m.ruleDir(rulesetID, ruleID), tagsFile), &data)
	return data, err
}

// DeleteRule removes a rule directory and drops it from the parent
// ruleset's ruleIds.
func (m *Mirror) DeleteRule(rulesetID, ruleID string) error {
	dir := m.ruleDir(rulesetID, ruleID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return errors.Wrapf(errkind.ErrNotFound, "rule %q", ruleID)
	}

	if err := os.RemoveAll(dir); err != nil {
		return errors.Wrapf(err, "delete rule dir %s", dir)
	}

	rsDir := m.rulesetDir(rulesetID)
	rsData, err := m.ReadRuleset(rulesetID)
	if err != nil {
		return err
	}
	rsData.RuleIDs = removeString(rsData.RuleIDs, ruleID)
	return jsonstore.Write(filepath.Join(rsDir, rulesetFile), rsData)
}

// LocateRule scans sibling ruleset directories for ruleID (rule IDs are
// globally unique within an organization) and returns the containing
// rulesetID.
func (m *Mirror) LocateRule(ruleID string) (rulesetID string, ok bool) {
	rulesets, err := listChildDirs(m.orgDir)
	if err != nil {
		return "", false
	}

	for _, rs := range rulesets {
		rules, err := listChildDirs(filepath.Join(m.orgDir, rs))
		if err != nil {
			continue
		}
		for _, r := range rules {
			if r == ruleID {
				return rs, true
			}
		}
	}

	return "", false
}

// LocateRuleset reports whether rulesetID exists in this organization.
func (m *Mirror) LocateRuleset(rulesetID string) bool {
	info, err := os.Stat(m.rulesetDir(rulesetID))
	return err == nil && info.IsDir()
}

// RuleNameOccurs linearly scans every rule in the organization for name.
func (m *Mirror) RuleNameOccurs(name string) (bool, error) {
	rulesets, err := listChildDirs(m.orgDir)
	if err != nil {
		return false, err
	}

	for _, rs := range rulesets {
		rules, err := listChildDirs(filepath.Join(m.orgDir, rs))
		if err != nil {
			return false, err
		}
		for _, r := range rules {
			data, err := m.ReadRule(rs, r)
			if err != nil {
				return false, err
			}
			if data.Name == name {
				return true, nil
			}
		}
	}

	return false, nil
}

// RulesetNameOccurs linearly scans every ruleset in the organization for
// name.
func (m *Mirror) RulesetNameOccurs(name string) (bool, error) {
	rulesets, err := listChildDirs(m.orgDir)
	if err != nil {
		return false, err
	}

	for _, rs := range rulesets {
		data, err := m.ReadRuleset(rs)
		if err != nil {
			return false, err
		}
		if data.Name == name {
			return true, nil
		}
	}

	return false, nil
}

// ListRulesets returns every ruleset ID present in the organization. It
// fails with errkind.ErrRefreshInProgress while the organization is
// mid-refresh.
func (m *Mirror) ListRulesets() ([]string, error) {
	if m.RefreshInProgress() {
		return nil, errors.Wrapf(errkind.ErrRefreshInProgress, "list rulesets in %s", m.orgDir)
	}
	return listChildDirs(m.orgDir)
}

// ListRules returns every rule ID present under rulesetID.
func (m *Mirror) ListRules(rulesetID string) ([]string, error) {
	return listChildDirs(m.rulesetDir(rulesetID))
}

// RenameRuleset moves a ruleset directory from oldID to newID.
func (m *Mirror) RenameRuleset(oldID, newID string) error {
	return errors.Wrapf(
		os.Rename(m.rulesetDir(oldID), m.rulesetDir(newID)),
		"rename ruleset %s -> %s", oldID, newID)
}

// RenameRule moves a rule directory from oldID to newID within rulesetID.
func (m *Mirror) RenameRule(rulesetID, oldID, newID string) error {
	return errors.Wrapf(
		os.Rename(m.ruleDir(rulesetID, oldID), m.ruleDir(rulesetID, newID)),
		"rename rule %s -> %s", oldID, newID)
}

func removeString(ss []string, target string) []string {
	out := ss[:0]
	for _, s := range ss {
		if s != target {
			out = append(out, s)
		}
	}
	if out == nil {
		out = []string{}
	}
	return out
}
