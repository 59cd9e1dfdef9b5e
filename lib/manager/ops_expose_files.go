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
	"os"
	"path/filepath"
	"strconv"

	"github.com/gravitational/trace"

	"github.com/ystemsrx/openclaw-cfshare/lib/audit"
	"github.com/ystemsrx/openclaw-cfshare/lib/defaults"
	"github.com/ystemsrx/openclaw-cfshare/lib/origin"
	"github.com/ystemsrx/openclaw-cfshare/lib/policyconf"
	"github.com/ystemsrx/openclaw-cfshare/lib/session"
	"github.com/ystemsrx/openclaw-cfshare/lib/tunnel"
)

// ExposeFiles catalogues a set of local paths into a workspace and
// serves them through a tunnel-published static origin.
func (m *Manager) ExposeFiles(ctx context.Context, req ExposeFilesRequest) (SessionInfo, error) {
	if len(req.Inputs) == 0 {
		return SessionInfo{}, Errorf(KindInvalidInput, "no input paths given")
	}

	policy, ignore := m.effectivePolicy()
	mode, err := resolveAccessMode(req.Access, policy.DefaultExposeFilesAccess)
	if err != nil {
		return SessionInfo{}, err
	}
	protectOrigin := resolveProtectOrigin(req.ProtectOrigin, mode)
	ttl := policy.EffectiveTTL(req.TTLSeconds)

	accessInfo, err := newAccessInfo(mode)
	if err != nil {
		return SessionInfo{}, trace.Wrap(err)
	}

	presentation := origin.Presentation(req.Presentation)
	if presentation == "" {
		presentation = origin.PresentationPreview
	}
	fileMode := origin.ModeNormal
	if req.Zip {
		fileMode = origin.ModeZip
	}

	now := m.cfg.Clock.Now()
	id := session.NewID(session.TypeFiles)
	s := session.New(id, session.TypeFiles, now, ttl)
	s.Access = accessInfo
	s.ProtectOrigin = protectOrigin
	s.MaxDownloads = req.MaxDownloads
	s.AllowlistPaths = req.AllowlistPaths
	s.Presentation = string(presentation)
	s.Mode = string(fileMode)
	s.WorkspaceDir = filepath.Join(m.workspacesRoot(), id)
	m.table.Insert(s)

	if err := m.bringUpFiles(ctx, s, req, policy, ignore, protectOrigin, fileMode, presentation); err != nil {
		m.terminate(ctx, s, session.StatusError, err.Error())
		return SessionInfo{}, err
	}

	if !s.SetRunning() {
		return SessionInfo{}, Errorf(KindNotFound, "session %s was stopped during bring-up", id)
	}
	m.auditStore.Emit(audit.EventExposureStarted, s.Id, string(session.TypeFiles), map[string]interface{}{
		"access": string(mode),
		"zip":    req.Zip,
	})
	m.writeSnapshot()

	info, _ := m.toSessionInfo(s, defaults.MaxGetItemsSingle)
	return info, nil
}

// bringUpFiles performs the ordered, failure-unwindable steps of an
// expose-files bring-up: workspace construction, manifest catalogue,
// static origin startup, and tunnel startup. Unlike bringUpPort, it
// never inserts a reverse proxy in front of the origin: origin.Static
// already self-enforces access control, the path allow-list, and the
// rate limiter, so a files exposure has no bare upstream to protect.
func (m *Manager) bringUpFiles(ctx context.Context, s *session.Session, req ExposeFilesRequest, policy policyconf.Policy, ignore *policyconf.IgnoreMatcher, protectOrigin bool, fileMode origin.Mode, presentation origin.Presentation) error {
	if err := os.MkdirAll(s.WorkspaceDir, 0o700); err != nil {
		return Errorf(KindInternal, "creating workspace: %v", err)
	}
	s.Cleanup = append(s.Cleanup, func() error { return os.RemoveAll(s.WorkspaceDir) })

	copied, rejected, err := origin.BuildWorkspace(s.WorkspaceDir, req.Inputs, ignore, policy.AllowedPathRoots)
	if err != nil {
		return Errorf(KindInternal, "building workspace: %v", err)
	}
	for _, r := range rejected {
		s.AppendLog(session.ComponentManager, "rejected input "+r.Path+": "+r.Reason, m.cfg.Clock.Now())
	}
	if len(copied) == 0 {
		return Errorf(KindInvalidInput, "no inputs were admitted into the workspace")
	}

	manifest, err := origin.BuildManifest(s.WorkspaceDir, nil)
	if err != nil {
		return Errorf(KindInternal, "building manifest: %v", err)
	}
	if fileMode == origin.ModeZip {
		bundle, err := origin.BuildZipBundle(s.WorkspaceDir)
		if err != nil {
			return Errorf(KindInternal, "building zip bundle: %v", err)
		}
		manifest = append(manifest, bundle)
		// The caller-facing manifest of a zip exposure is the bundle
		// alone; the origin keeps the full catalogue so the explorer
		// can still list the individual files.
		s.Manifest = toSessionManifest([]origin.ManifestEntry{bundle})
	} else {
		s.Manifest = toSessionManifest(manifest)
	}

	accessState := buildAccessState(s.Access, protectOrigin, req.AllowlistPaths)
	limiter := m.buildRateLimiter(policy)

	static, err := origin.NewStatic(origin.StaticConfig{
		WorkspaceDir: s.WorkspaceDir,
		Manifest:     manifest,
		Mode:         fileMode,
		Presentation: presentation,
		Access:       accessState,
		RateLimiter:  limiter,
		OnDownload: func(bytesSent int64) bool {
			_, limitReached := s.IncrDownload(bytesSent, m.cfg.Clock.Now())
			if limitReached {
				go m.terminate(context.Background(), s, session.StatusStopped, "max_downloads_reached")
			}
			return limitReached
		},
		OnRequest: func() { s.IncrRequest(m.cfg.Clock.Now()) },
		Log:       func(line string) { s.AppendLog(session.ComponentOrigin, line, m.cfg.Clock.Now()) },
	})
	if err != nil {
		return Errorf(KindInternal, "starting static origin: %v", err)
	}

	l, err := listenLocal(0)
	if err != nil {
		return Errorf(KindInternal, "listening on origin port: %v", err)
	}
	_, closeSrv := serveInBackground(l, static, func(format string, args ...interface{}) {
		s.AppendLog(session.ComponentOrigin, fmt.Sprintf(format, args...), m.cfg.Clock.Now())
	})
	s.Cleanup = append(s.Cleanup, closeSrv)

	originPort := localPort(l)
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
