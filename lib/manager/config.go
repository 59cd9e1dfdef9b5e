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
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/ystemsrx/openclaw-cfshare/lib/audit"
	"github.com/ystemsrx/openclaw-cfshare/lib/policyconf"
	"github.com/ystemsrx/openclaw-cfshare/lib/session"
	"github.com/ystemsrx/openclaw-cfshare/lib/tunnel"
)

// Config configures a Manager. Tests construct their own instance
// with an injected clock, launcher, and (for probe_public tests) an
// injected round tripper.
type Config struct {
	// StateDir is the root of the on-disk layout.
	StateDir string

	// ProcessConfig seeds policy merge precedence above built-in
	// defaults and below the on-disk patch.
	ProcessConfig map[string]interface{}

	Clock    clockwork.Clock
	Log      logrus.FieldLogger
	Launcher tunnel.Launcher

	// RoundTripper backs the probe_public HEAD check in Get; tests
	// inject a fake transport instead of dialing real sockets.
	RoundTripper http.RoundTripper
}

// CheckAndSetDefaults validates c and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.StateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return trace.Wrap(err)
		}
		c.StateDir = filepath.Join(home, ".cfshare")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Log == nil {
		c.Log = logrus.WithField(trace.Component, "manager")
	}
	if c.Launcher == nil {
		c.Launcher = tunnel.ExecLauncher{}
	}
	if c.RoundTripper == nil {
		c.RoundTripper = http.DefaultTransport
	}
	return nil
}

// Manager is the ExposureManager: the in-process scheduler that owns
// every exposure session's lifecycle.
type Manager struct {
	cfg Config

	table       *session.Table
	policyStore *policyconf.Store
	auditStore  *audit.Store

	reaperStop chan struct{}
	reaperDone chan struct{}

	// policyMu guards the effective-policy pointer pair below. A
	// policy update is a short-lived read-modify-write under this
	// lock followed by an atomic swap of both values together.
	policyMu sync.RWMutex
	policy   policyconf.Policy
	ignore   *policyconf.IgnoreMatcher
}

// New constructs a Manager, loads the effective policy once, and
// starts its reaper loop.
func New(cfg Config) (*Manager, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := os.MkdirAll(cfg.StateDir, 0o700); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := os.MkdirAll(filepath.Join(cfg.StateDir, "workspaces"), 0o700); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := audit.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		return nil, trace.Wrap(err)
	}

	m := &Manager{
		cfg:         cfg,
		table:       session.NewTable(),
		policyStore: policyconf.NewStore(cfg.StateDir, cfg.ProcessConfig),
		auditStore:  audit.NewStore(cfg.StateDir, cfg.Clock, cfg.Log.WithField("component", "audit")),
		reaperStop:  make(chan struct{}),
		reaperDone:  make(chan struct{}),
	}
	if err := m.reloadPolicy(); err != nil {
		return nil, trace.Wrap(err)
	}
	go m.reaperLoop()
	return m, nil
}

// Close stops the reaper loop. It does not tear down live sessions;
// callers that want a clean shutdown should Stop("all") first.
func (m *Manager) Close() {
	close(m.reaperStop)
	<-m.reaperDone
}

func (m *Manager) workspacesRoot() string {
	return filepath.Join(m.cfg.StateDir, "workspaces")
}

// reloadPolicy reads policy.json/policy.ignore from disk, then swaps
// the effective policy and ignore matcher in one critical section.
func (m *Manager) reloadPolicy() error {
	policy, warnings, ignore, err := m.policyStore.Load()
	if err != nil {
		return trace.Wrap(err)
	}
	for _, w := range warnings {
		m.cfg.Log.Warn(w)
	}

	m.policyMu.Lock()
	m.policy = policy
	m.ignore = ignore
	m.policyMu.Unlock()
	return nil
}

// effectivePolicy returns the currently cached policy and ignore
// matcher. Policy is a small value type, so this is a cheap copy, not
// a reference into mutable state.
func (m *Manager) effectivePolicy() (policyconf.Policy, *policyconf.IgnoreMatcher) {
	m.policyMu.RLock()
	defer m.policyMu.RUnlock()
	return m.policy, m.ignore
}
