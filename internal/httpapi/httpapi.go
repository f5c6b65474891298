// Package httpapi implements Component J: a tiny read-only net/http surface
// over the filesystem mirror and state file, for a UI to list organizations,
// rulesets, and rules without shelling out to tsctl. It is explicitly
// read-only -- no route here ever mutates the mirror or the state file.
package httpapi

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/emmeowzing/threatstack-rule-manager/pkg/mirror"
	"github.com/emmeowzing/threatstack-rule-manager/pkg/statefile"
)

// Server bundles the state needed to answer inspection requests.
type Server struct {
	StateDir string
	Suffix   string
	Store    *statefile.Store
	Log      logrus.FieldLogger
}

// Handler builds the net/http.Handler for this facade. Routing is done by
// hand against a single catch-all pattern rather than method-aware patterns,
// since this module targets Go 1.21.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/orgs", s.withLog(s.handleOrgs))
	mux.HandleFunc("/orgs/", s.withLog(s.handleOrgSubpath))
	return mux
}

func (s *Server) log() logrus.FieldLogger {
	if s.Log != nil {
		return s.Log
	}
	return logrus.StandardLogger()
}

func (s *Server) withLog(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.log().WithFields(logrus.Fields{"path": r.URL.Path, "op": "httpapi"}).Debug("inspection request")
		h(w, r)
	}
}

// handleOrgs serves GET /orgs: every organization directory present locally.
func (s *Server) handleOrgs(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(s.StateDir)
	if err != nil && !os.IsNotExist(err) {
		writeError(w, err)
		return
	}

	orgs := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			orgs = append(orgs, e.Name())
		}
	}
	writeJSON(w, map[string]interface{}{"orgs": orgs})
}

// handleOrgSubpath dispatches GET /orgs/{org}, /orgs/{org}/rulesets,
// /orgs/{org}/rulesets/{id}, and /orgs/{org}/state.
func (s *Server) handleOrgSubpath(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/orgs/"), "/")
	parts = trimEmpty(parts)
	if len(parts) == 0 {
		http.NotFound(w, r)
		return
	}
	org := parts[0]
	m := mirror.New(filepath.Join(s.StateDir, org), s.Suffix)

	switch {
	case len(parts) == 1:
		s.handleRulesets(w, m)
	case len(parts) == 2 && parts[1] == "rulesets":
		s.handleRulesets(w, m)
	case len(parts) == 2 && parts[1] == "state":
		s.handleState(w, org)
	case len(parts) == 3 && parts[1] == "rulesets":
		s.handleRuleset(w, m, parts[2])
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleRulesets(w http.ResponseWriter, m *mirror.Mirror) {
	ids, err := m.ListRulesets()
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]map[string]interface{}, 0, len(ids))
	for _, id := range ids {
		data, err := m.ReadRuleset(id)
		if err != nil {
			writeError(w, err)
			return
		}
		out = append(out, map[string]interface{}{
			"id":          id,
			"name":        data.Name,
			"description": data.Description,
			"ruleIds":     data.RuleIDs,
			"localOnly":   m.IsLocalOnly(id),
		})
	}
	writeJSON(w, map[string]interface{}{"rulesets": out})
}

func (s *Server) handleRuleset(w http.ResponseWriter, m *mirror.Mirror, rulesetID string) {
	rs, err := m.ReadRuleset(rulesetID)
	if err != nil {
		writeError(w, err)
		return
	}

	ruleIDs, err := m.ListRules(rulesetID)
	if err != nil {
		writeError(w, err)
		return
	}

	rules := make([]map[string]interface{}, 0, len(ruleIDs))
	for _, ruleID := range ruleIDs {
		rule, err := m.ReadRule(rulesetID, ruleID)
		if err != nil {
			writeError(w, err)
			return
		}
		tags, err := m.ReadTags(rulesetID, ruleID)
		if err != nil {
			writeError(w, err)
			return
		}
		rules = append(rules, map[string]interface{}{
			"id": ruleID, "rule": rule, "tags": tags, "localOnly": m.IsLocalOnly(ruleID),
		})
	}

	writeJSON(w, map[string]interface{}{
		"id": rulesetID, "name": rs.Name, "description": rs.Description,
		"localOnly": m.IsLocalOnly(rulesetID), "rules": rules,
	})
}

func (s *Server) handleState(w http.ResponseWriter, org string) {
	doc, err := s.Store.Load()
	if err != nil {
		writeError(w, err)
		return
	}
	pending, ok := doc.Organizations[org]
	if !ok {
		pending = statefile.OrgPending{}
	}
	writeJSON(w, map[string]interface{}{"org": org, "pending": pending})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func trimEmpty(ss []string) []string {
	out := ss[:0]
	for _, s := range ss {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
