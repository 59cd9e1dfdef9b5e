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
	"os"
	"os/exec"
	"regexp"

	"github.com/gravitational/trace"

	"github.com/ystemsrx/openclaw-cfshare/lib/audit"
	"github.com/ystemsrx/openclaw-cfshare/lib/defaults"
)

// EnvCheckResult reports whether the tunnel agent binary is resolvable
// and, if so, its reported version.
type EnvCheckResult struct {
	AgentFound   bool   `json:"agent_found"`
	AgentPath    string `json:"agent_path,omitempty"`
	AgentVersion string `json:"agent_version,omitempty"`
}

var agentVersionPattern = regexp.MustCompile(`version\s+(\d+\.\d+\.\d+)`)

// EnvCheck resolves the configured tunnel agent binary (an absolute
// AgentPath, else PATH lookup of the default binary name) and probes
// its --version output.
func (m *Manager) EnvCheck(ctx context.Context) EnvCheckResult {
	policy, _ := m.effectivePolicy()

	path := policy.Tunnel.AgentPath
	if path == "" {
		resolved, err := exec.LookPath(defaults.DefaultAgentBinary)
		if err != nil {
			return EnvCheckResult{}
		}
		path = resolved
	} else if _, err := os.Stat(path); err != nil {
		return EnvCheckResult{}
	}

	result := EnvCheckResult{AgentFound: true, AgentPath: path}

	out, err := exec.CommandContext(ctx, path, "--version").CombinedOutput()
	if err != nil {
		return result
	}
	if match := agentVersionPattern.FindStringSubmatch(string(out)); len(match) == 2 {
		result.AgentVersion = match[1]
	}
	return result
}

// UpdatePolicy merges patch onto the on-disk policy and reloads the
// effective policy.
func (m *Manager) UpdatePolicy(ctx context.Context, patch map[string]interface{}) error {
	if err := m.policyStore.WriteMerged(patch); err != nil {
		return trace.Wrap(err)
	}
	if err := m.reloadPolicy(); err != nil {
		return trace.Wrap(err)
	}
	m.auditStore.Emit(audit.EventPolicyUpdated, "", "", map[string]interface{}{"keys": patchKeys(patch)})
	return nil
}

func patchKeys(patch map[string]interface{}) []string {
	keys := make([]string, 0, len(patch))
	for k := range patch {
		keys = append(keys, k)
	}
	return keys
}

// RunGC removes workspace directories and SIGTERMs tunnel processes no
// longer tied to a live session.
func (m *Manager) RunGC(ctx context.Context) (audit.GCResult, error) {
	liveIDs := make(map[string]bool)
	liveParentPIDs := make(map[int]bool)
	for _, s := range m.table.Snapshot() {
		liveIDs[s.Id] = true
		if s.ProcessPID != 0 {
			liveParentPIDs[s.ProcessPID] = true
		}
	}
	result, err := m.auditStore.RunGC(m.workspacesRoot(), liveIDs, liveParentPIDs)
	return result, trace.Wrap(err)
}

// AuditQuery filters the append-only audit log.
func (m *Manager) AuditQuery(ctx context.Context, filters audit.QueryFilters) ([]audit.Event, error) {
	events, err := m.auditStore.Query(filters)
	return events, trace.Wrap(err)
}

// AuditExport writes the filtered audit log to outputPath as JSONL.
func (m *Manager) AuditExport(ctx context.Context, filters audit.QueryFilters, outputPath string) (string, int, error) {
	path, count, err := m.auditStore.Export(filters, outputPath)
	return path, count, trace.Wrap(err)
}
