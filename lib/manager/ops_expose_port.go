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
	"fmt"
	"strconv"

	"github.com/gravitational/trace"

	"github.com/ystemsrx/openclaw-cfshare/lib/audit"
	"github.com/ystemsrx/openclaw-cfshare/lib/defaults"
	"github.com/ystemsrx/openclaw-cfshare/lib/netutil"
	"github.com/ystemsrx/openclaw-cfshare/lib/origin"
	"github.com/ystemsrx/openclaw-cfshare/lib/policyconf"
	"github.com/ystemsrx/openclaw-cfshare/lib/session"
	"github.com/ystemsrx/openclaw-cfshare/lib/tunnel"
)

// ExposePort turns a local TCP service into a tunnel-published session.
func (m *Manager) ExposePort(ctx context.Context, req ExposePortRequest) (SessionInfo, error) {
	if req.Port <= 0 || req.Port > 65535 {
		return SessionInfo{}, Errorf(KindInvalidInput, "invalid port: %v", req.Port)
	}

	policy, _ := m.effectivePolicy()
	if policy.IsPortBlocked(req.Port) {
		return SessionInfo{}, Errorf(KindPolicyViolation, "port blocked by policy: %d", req.Port)
	}
	if !netutil.ProbeLocalPort(ctx, req.Port) {
		return SessionInfo{}, Errorf(KindLocalUnreachable, "no local service listening on port %d", req.Port)
	}

	mode, err := resolveAccessMode(req.Access, policy.DefaultExposePortAccess)
	if err != nil {
		return SessionInfo{}, err
	}
	protectOrigin := resolveProtectOrigin(req.ProtectOrigin, mode)
	ttl := policy.EffectiveTTL(req.TTLSeconds)

	accessInfo, err := newAccessInfo(mode)
	if err != nil {
		return SessionInfo{}, trace.Wrap(err)
	}

	now := m.cfg.Clock.Now()
	id := session.NewID(session.TypePort)
	s := session.New(id, session.TypePort, now, ttl)
	s.SourcePort = req.Port
	s.Access = accessInfo
	s.ProtectOrigin = protectOrigin
	s.MaxDownloads = req.MaxDownloads
	s.AllowlistPaths = req.AllowlistPaths
	m.table.Insert(s)

	if err := m.bringUpPort(ctx, s, req, policy, protectOrigin); err != nil {
		m.terminate(ctx, s, session.StatusError, err.Error())
		return SessionInfo{}, err
	}

	if !s.SetRunning() {
		return SessionInfo{}, Errorf(KindNotFound, "session %s was stopped during bring-up", id)
	}
	m.auditStore.Emit(audit.EventExposureStarted, s.Id, string(session.TypePort), map[string]interface{}{
		"source_port": req.Port,
		"access":      string(mode),
	})
	m.writeSnapshot()

	info, _ := m.toSessionInfo(s, defaults.MaxGetItemsSingle)
	return info, nil
}

// bringUpPort performs the ordered bring-up steps that can fail, registering a CloseFunc on s.Cleanup for
// every resource it successfully starts so a failure partway through
// still tears down everything already running.
func (m *Manager) bringUpPort(ctx context.Context, s *session.Session, req ExposePortRequest, policy policyconf.Policy, protectOrigin bool) error {
	originPort := req.Port

	if needsReverseProxy(protectOrigin, req.AllowlistPaths, policy) {
		freePort, err := netutil.FindFreePort()
		if err != nil {
			return Errorf(KindInternal, "allocating proxy port: %v", err)
		}
		accessState := buildAccessState(s.Access, protectOrigin, req.AllowlistPaths)
		limiter := m.buildRateLimiter(policy)

		proxy, err := origin.NewProxy(origin.ProxyConfig{
			UpstreamPort: req.Port,
			Access:       accessState,
			RateLimiter:  limiter,
			OnRequest:    func() { s.IncrRequest(m.cfg.Clock.Now()) },
			OnBytesSent:  func(n int64) { s.AddBytesSent(n) },
			Log:          func(line string) { s.AppendLog(session.ComponentOrigin, line, m.cfg.Clock.Now()) },
		})
		if err != nil {
			return Errorf(KindInternal, "starting reverse proxy: %v", err)
		}

		l, err := listenLocal(freePort)
		if err != nil {
			return Errorf(KindInternal, "listening on proxy port: %v", err)
		}
		_, closeSrv := serveInBackground(l, proxy, func(format string, args ...interface{}) {
			s.AppendLog(session.ComponentOrigin, fmt.Sprintf(format, args...), m.cfg.Clock.Now())
		})
		s.Cleanup = append(s.Cleanup, closeSrv)
		originPort = freePort
	}
	s.OriginPort = originPort
	s.LocalURL = "http://127.0.0.1:" + strconv.Itoa(originPort)

	sup, err := tunnel.NewSupervisor(tunnel.Config{
		Binary:    policy.Tunnel.AgentPath,
		LocalPort: originPort,
		Policy:    policy.Tunnel,
		Launcher:  m.cfg.Launcher,
		Clock:     m.cfg.Clock,
		Log:       m.cfg.Log.WithField("session", s.Id),
		OnLine:    func(line string) { s.AppendLog(session.ComponentTunnel, line, m.cfg.Clock.Now()) },
	})
	if err != nil {
		return Errorf(KindInternal, "constructing tunnel supervisor: %v", err)
	}
	s.Cleanup = append(s.Cleanup, func() error { sup.Terminate(); return nil })

	publicURL, err := sup.Start(ctx)
	if err != nil {
		if trace.IsNotFound(err) {
			return Errorf(KindAgentNotFound, "tunnel agent not found: %v", err)
		}
		return Errorf(KindTunnelStartup, "tunnel agent failed to start: %v", err)
	}
	s.PublicURL = publicURL
	s.ProcessPID = sup.PID()

	go m.watchChildExit(s, sup)
	s.Cleanup = append(s.Cleanup, m.armTTLTimer(s))
	return nil
}

// watchChildExit transitions s to error if the tunnel agent exits
// while the session is still running.
func (m *Manager) watchChildExit(s *session.Session, sup *tunnel.Supervisor) {
	err := sup.Wait()
	if s.Status() != session.StatusRunning {
		return
	}
	msg := "tunnel agent exited while running"
	if err != nil {
		msg = msg + ": " + err.Error()
	}
	m.terminate(context.Background(), s, session.StatusError, msg)
}
