/*
Copyright 2024 The cfshare Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package manager

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ystemsrx/openclaw-cfshare/lib/defaults"
	"github.com/ystemsrx/openclaw-cfshare/lib/policyconf"
	"github.com/ystemsrx/openclaw-cfshare/lib/session"
)

// allSentinel expands a selector to every live session when supplied
// as an id.
const allSentinel = "all"

// resolveIDs expands a {id, ids, all} selector against the live table
// into a concrete, deduplicated id list.
func (m *Manager) resolveIDs(id string, ids []string, all bool) []string {
	if !all {
		if id == allSentinel {
			all = true
		}
		for _, i := range ids {
			if i == allSentinel {
				all = true
			}
		}
	}
	if all {
		var out []string
		for _, s := range m.table.Snapshot() {
			out = append(out, s.Id)
		}
		return out
	}
	seen := make(map[string]bool, len(ids)+1)
	var out []string
	if id != "" && !seen[id] {
		seen[id] = true
		out = append(out, id)
	}
	for _, i := range ids {
		if i != "" && !seen[i] {
			seen[i] = true
			out = append(out, i)
		}
	}
	return out
}

// Stop terminates one, several, or every live session.
func (m *Manager) Stop(ctx context.Context, req StopRequest) StopResult {
	result := StopResult{Failed: make(map[string]string)}
	for _, id := range m.resolveIDs(req.ID, req.IDs, req.All) {
		s, ok := m.table.Get(id)
		if !ok {
			result.Failed[id] = "not_found"
			continue
		}
		workspace := s.WorkspaceDir
		if m.terminate(ctx, s, session.StatusStopped, "") {
			result.Stopped = append(result.Stopped, id)
			if workspace != "" {
				result.Cleaned = append(result.Cleaned, workspace)
			}
		} else {
			result.Failed[id] = "not_found"
		}
	}
	return result
}

// List returns a summary view of every live session, manifests elided.
func (m *Manager) List(ctx context.Context) []SessionInfo {
	snap := m.table.Snapshot()
	infos := make([]SessionInfo, 0, len(snap))
	for _, s := range snap {
		info, _ := m.toSessionInfo(s, 0)
		info.Manifest = nil
		infos = append(infos, info)
	}
	return infos
}

// matchesFilter applies a SessionFilter predicate to one session.
func matchesFilter(s *session.Session, f *SessionFilter) bool {
	if f == nil {
		return true
	}
	if f.Status != "" && string(s.Status()) != f.Status {
		return false
	}
	if f.Type != "" && string(s.Type) != f.Type {
		return false
	}
	return true
}

// Get projects the requested sessions into their read-only view. It
// accepts all three selector shapes ({id}, {ids}, {filter}), caps the selection at 200 sessions and raises the
// top-level truncation flag when it does, paginates manifests (200
// items for a single-session get, 20 for a multi-session get),
// optionally projects each result down to named fields, and optionally
// probes each session's public URL.
func (m *Manager) Get(ctx context.Context, req GetRequest) (GetResult, error) {
	explicit := req.ID != "" || len(req.IDs) > 0 || req.All

	var ids []string
	switch {
	case explicit:
		ids = m.resolveIDs(req.ID, req.IDs, req.All)
	case req.Filter != nil:
		for _, s := range m.table.Snapshot() {
			if matchesFilter(s, req.Filter) {
				ids = append(ids, s.Id)
			}
		}
	default:
		return GetResult{}, Errorf(KindInvalidInput, "no session selector given")
	}

	var result GetResult
	if len(ids) > defaults.MaxGetSelection {
		ids = ids[:defaults.MaxGetSelection]
		result.Truncated = true
	}

	manifestCap := defaults.MaxGetItemsMulti
	if len(ids) == 1 {
		manifestCap = defaults.MaxGetItemsSingle
	}

	var infos []SessionInfo
	for _, id := range ids {
		s, ok := m.table.Get(id)
		if !ok {
			continue
		}
		info, _ := m.toSessionInfo(s, manifestCap)
		if req.ProbePublic {
			probe := m.probePublicURL(ctx, info.PublicURL, s.Access)
			info.PublicProbe = &probe
		}
		infos = append(infos, info)
	}
	if len(infos) == 0 && explicit && !req.All && req.ID != allSentinel {
		return GetResult{}, Errorf(KindNotFound, "no matching sessions")
	}

	if len(req.Fields) > 0 {
		result.Projected = make([]map[string]interface{}, 0, len(infos))
		for _, info := range infos {
			projected, err := projectFields(info, req.Fields)
			if err != nil {
				return GetResult{}, Errorf(KindInternal, "projecting session %s: %v", info.ID, err)
			}
			result.Projected = append(result.Projected, projected)
		}
		return result, nil
	}
	result.Sessions = infos
	return result, nil
}

// projectFields keeps only the named top-level JSON fields of info.
// Unknown field names are ignored rather than rejected, so a caller
// written against a newer field set degrades gracefully.
func projectFields(info SessionInfo, fields []string) (map[string]interface{}, error) {
	data, err := json.Marshal(info)
	if err != nil {
		return nil, err
	}
	var full map[string]interface{}
	if err := json.Unmarshal(data, &full); err != nil {
		return nil, err
	}
	out := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		if v, ok := full[f]; ok {
			out[f] = v
		}
	}
	return out, nil
}

// Logs returns a window of each selected session's log ring buffer,
// keyed by session id.
func (m *Manager) Logs(ctx context.Context, req LogsRequest) (map[string][]session.LogEntry, error) {
	ids := m.resolveIDs(req.ID, req.IDs, req.All)
	if len(ids) == 0 {
		return nil, Errorf(KindInvalidInput, "no session ids given")
	}

	lines := req.Lines
	if lines <= 0 {
		lines = 200
	}
	if lines > defaults.MaxLogsQueryLines {
		lines = defaults.MaxLogsQueryLines
	}

	out := make(map[string][]session.LogEntry, len(ids))
	for _, id := range ids {
		s, ok := m.table.Get(id)
		if !ok {
			continue
		}
		out[id] = m.filterLogs(s, lines, req.SinceSeconds, req.Component)
	}
	if len(out) == 0 {
		return nil, Errorf(KindNotFound, "no matching sessions")
	}
	return out, nil
}

// filterLogs applies the since/component window to one session's logs
// and keeps the last `lines` entries. Component "" and "all" both mean
// every component.
func (m *Manager) filterLogs(s *session.Session, lines, sinceSeconds int, component string) []session.LogEntry {
	all := s.LogsSnapshot()
	if sinceSeconds > 0 {
		cutoff := m.cfg.Clock.Now().Add(-time.Duration(sinceSeconds) * time.Second)
		filtered := all[:0:0]
		for _, l := range all {
			if !l.Ts.Before(cutoff) {
				filtered = append(filtered, l)
			}
		}
		all = filtered
	}
	if component != "" && component != allSentinel {
		filtered := all[:0:0]
		for _, l := range all {
			if string(l.Component) == component {
				filtered = append(filtered, l)
			}
		}
		all = filtered
	}

	if len(all) > lines {
		all = all[len(all)-lines:]
	}
	return all
}

// probePublicURL issues a HEAD request against a session's public URL,
// attaching the same credentials a browser would present, and reports
// the result as {ok, status?, error?} without ever blocking past the
// timeout.
func (m *Manager) probePublicURL(ctx context.Context, publicURL string, access session.AccessInfo) PublicProbeResult {
	if publicURL == "" {
		return PublicProbeResult{Ok: false, Error: "no public url"}
	}

	reqCtx, cancel := context.WithTimeout(ctx, defaults.PublicURLProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, publicURL, nil)
	if err != nil {
		return PublicProbeResult{Error: err.Error()}
	}
	attachProbeCredentials(req, access)

	client := &http.Client{
		Transport: m.cfg.RoundTripper,
		Timeout:   defaults.PublicURLProbeTimeout,
	}
	resp, err := client.Do(req)
	if err != nil {
		return PublicProbeResult{Error: err.Error()}
	}
	defer resp.Body.Close()
	return PublicProbeResult{Ok: resp.StatusCode < http.StatusBadRequest, Status: resp.StatusCode}
}

// attachProbeCredentials sets the token or basic-auth credentials a
// protected origin's access.State.Allowed expects, matching
// extractToken's query-parameter form for token mode.
func attachProbeCredentials(req *http.Request, access session.AccessInfo) {
	switch policyconf.AccessMode(access.Mode) {
	case policyconf.AccessToken:
		if access.Token == "" {
			return
		}
		q := req.URL.Query()
		q.Set("token", access.Token)
		req.URL.RawQuery = q.Encode()
	case policyconf.AccessBasic:
		if access.Username != "" || access.Password != "" {
			req.SetBasicAuth(access.Username, access.Password)
		}
	}
}
