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
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/ystemsrx/openclaw-cfshare/lib/audit"
	"github.com/ystemsrx/openclaw-cfshare/lib/session"
	"github.com/ystemsrx/openclaw-cfshare/lib/tunnel"
)

// fakeAgentProc stands in for the quick-tunnel child: it prints one
// ready line on stdout, then stays alive until signaled.
type fakeAgentProc struct {
	stdout io.Reader

	mu     sync.Mutex
	done   chan struct{}
	exited bool
}

func newFakeAgentProc(readyURL string) *fakeAgentProc {
	return &fakeAgentProc{
		stdout: strings.NewReader("INF | Your quick Tunnel has been created! Visit it at:\nINF | " + readyURL + "\n"),
		done:   make(chan struct{}),
	}
}

func (p *fakeAgentProc) Stdout() io.Reader { return p.stdout }
func (p *fakeAgentProc) Stderr() io.Reader { return strings.NewReader("") }
func (p *fakeAgentProc) PID() int          { return 31337 }

func (p *fakeAgentProc) Wait() error {
	<-p.done
	return nil
}

func (p *fakeAgentProc) exit() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.exited {
		p.exited = true
		close(p.done)
	}
}

func (p *fakeAgentProc) Signal(os.Signal) error { p.exit(); return nil }
func (p *fakeAgentProc) Kill() error            { p.exit(); return nil }

type fakeAgentLauncher struct {
	readyURL string

	mu    sync.Mutex
	procs []*fakeAgentProc
}

func (f *fakeAgentLauncher) Launch(ctx context.Context, binary string, args []string) (tunnel.Process, error) {
	p := newFakeAgentProc(f.readyURL)
	f.mu.Lock()
	f.procs = append(f.procs, p)
	f.mu.Unlock()
	return p, nil
}

func (f *fakeAgentLauncher) last() *fakeAgentProc {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.procs[len(f.procs)-1]
}

type testEnv struct {
	mgr      *Manager
	clock    clockwork.FakeClock
	launcher *fakeAgentLauncher
	stateDir string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	stateDir := filepath.Join(t.TempDir(), "state")
	clock := clockwork.NewFakeClockAt(time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC))
	launcher := &fakeAgentLauncher{readyURL: "https://test-tunnel.trycloudflare.com"}

	mgr, err := New(Config{
		StateDir: stateDir,
		Clock:    clock,
		Launcher: launcher,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		mgr.Stop(context.Background(), StopRequest{All: true})
		mgr.Close()
	})
	return &testEnv{mgr: mgr, clock: clock, launcher: launcher, stateDir: stateDir}
}

func writeInputFile(t *testing.T, content string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "inputs")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestExposePortBlockedByPolicy(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.mgr.ExposePort(context.Background(), ExposePortRequest{Port: 22})
	require.Error(t, err)
	require.Equal(t, KindPolicyViolation, KindOf(err))
	require.Contains(t, err.Error(), "port blocked by policy: 22")

	// No session and no audit trace may exist for a rejected exposure.
	require.Empty(t, env.mgr.List(context.Background()))
	events, err := env.mgr.AuditQuery(context.Background(), audit.QueryFilters{})
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestExposePortInvalidInput(t *testing.T) {
	env := newTestEnv(t)
	for _, port := range []int{0, -1, 65536} {
		_, err := env.mgr.ExposePort(context.Background(), ExposePortRequest{Port: port})
		require.Error(t, err)
		require.Equal(t, KindInvalidInput, KindOf(err), "port %d", port)
	}
}

func TestExposePortUnreachable(t *testing.T) {
	env := newTestEnv(t)

	// A freshly allocated, unused port has no listener behind it.
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	port := upstreamPort(t, upstream)
	upstream.Close()

	_, err := env.mgr.ExposePort(context.Background(), ExposePortRequest{Port: port})
	require.Error(t, err)
	require.Equal(t, KindLocalUnreachable, KindOf(err))
}

func upstreamPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return port
}

func TestExposePortRunsAndProxies(t *testing.T) {
	env := newTestEnv(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hi"))
	}))
	defer upstream.Close()

	info, err := env.mgr.ExposePort(context.Background(), ExposePortRequest{
		Port:       upstreamPort(t, upstream),
		Access:     "none",
		TTLSeconds: 120,
	})
	require.NoError(t, err)
	require.Equal(t, session.StatusRunning, info.Status)
	require.Regexp(t, `^https://[a-z0-9-]+\.trycloudflare\.com$`, info.PublicURL)
	require.Equal(t, info.CreatedAt.Add(120*time.Second), info.ExpiresAt)

	// Default policy keeps the rate limiter enabled, so the tunnel
	// targets an inserted reverse proxy rather than the service port.
	require.NotEqual(t, info.SourcePort, portOf(t, info.LocalURL))

	resp, err := http.Get(info.LocalURL)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "hi", string(body))

	got, err := env.mgr.Get(context.Background(), GetRequest{ID: info.ID})
	require.NoError(t, err)
	require.Len(t, got.Sessions, 1)
	require.EqualValues(t, 1, got.Sessions[0].Stats.Requests)

	events, err := env.mgr.AuditQuery(context.Background(), audit.QueryFilters{Event: audit.EventExposureStarted})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, info.ID, events[0].ID)
}

func portOf(t *testing.T, localURL string) int {
	t.Helper()
	u, err := url.Parse(localURL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return port
}

func TestExposePortTokenMasked(t *testing.T) {
	env := newTestEnv(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()

	info, err := env.mgr.ExposePort(context.Background(), ExposePortRequest{
		Port:   upstreamPort(t, upstream),
		Access: "token",
	})
	require.NoError(t, err)
	require.Equal(t, "token", info.Access.Mode)
	require.True(t, info.Access.ProtectOrigin)
	require.Regexp(t, `^[0-9a-f]{3}\*\*\*[0-9a-f]{2}$`, info.Access.MaskedToken)

	// Without the token the proxied origin refuses the request.
	resp, err := http.Get(info.LocalURL)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStopIsIdempotent(t *testing.T) {
	env := newTestEnv(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()

	info, err := env.mgr.ExposePort(context.Background(), ExposePortRequest{Port: upstreamPort(t, upstream), Access: "none"})
	require.NoError(t, err)

	first := env.mgr.Stop(context.Background(), StopRequest{ID: info.ID})
	require.Equal(t, []string{info.ID}, first.Stopped)
	require.Empty(t, first.Failed)

	second := env.mgr.Stop(context.Background(), StopRequest{ID: info.ID})
	require.Empty(t, second.Stopped)
	require.Equal(t, "not_found", second.Failed[info.ID])

	events, err := env.mgr.AuditQuery(context.Background(), audit.QueryFilters{Event: audit.EventExposureStopped, ID: info.ID})
	require.NoError(t, err)
	require.Len(t, events, 1, "terminal transition audits exactly once")
}

func TestChildExitTransitionsToError(t *testing.T) {
	env := newTestEnv(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()

	info, err := env.mgr.ExposePort(context.Background(), ExposePortRequest{Port: upstreamPort(t, upstream), Access: "none"})
	require.NoError(t, err)

	env.launcher.last().exit()

	require.Eventually(t, func() bool {
		return len(env.mgr.List(context.Background())) == 0
	}, 5*time.Second, 10*time.Millisecond, "child exit should retire the session")

	_, err = env.mgr.Get(context.Background(), GetRequest{ID: info.ID})
	require.Error(t, err)
	require.Equal(t, KindNotFound, KindOf(err))
}

func TestExposeFilesServesWorkspace(t *testing.T) {
	env := newTestEnv(t)
	input := writeInputFile(t, "A")

	info, err := env.mgr.ExposeFiles(context.Background(), ExposeFilesRequest{
		Inputs: []string{input},
		Access: "none",
	})
	require.NoError(t, err)
	require.Equal(t, session.StatusRunning, info.Status)
	require.Len(t, info.Manifest, 1)
	require.Equal(t, "a.txt", info.Manifest[0].Name)

	resp, err := http.Get(info.LocalURL + "/a.txt")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "A", string(body))
}

func TestExposeFilesZipMode(t *testing.T) {
	env := newTestEnv(t)

	dir := filepath.Join(t.TempDir(), "inputs")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("A"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("B"), 0o600))

	info, err := env.mgr.ExposeFiles(context.Background(), ExposeFilesRequest{
		Inputs: []string{dir},
		Access: "none",
		Zip:    true,
	})
	require.NoError(t, err)

	require.Len(t, info.Manifest, 1, "a zip exposure reports the bundle alone")
	require.Equal(t, "download.zip", info.Manifest[0].Name)

	resp, err := http.Get(info.LocalURL + "/download.zip")
	require.NoError(t, err)
	bundle, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, bundle)

	root, err := http.Get(info.LocalURL + "/")
	require.NoError(t, err)
	page, err := io.ReadAll(root.Body)
	require.NoError(t, err)
	root.Body.Close()
	require.Contains(t, root.Header.Get("Content-Type"), "text/html")
	require.Contains(t, string(page), "download.zip")
}

func TestExposeFilesMaxDownloadsStopsSession(t *testing.T) {
	env := newTestEnv(t)
	input := writeInputFile(t, "A")

	info, err := env.mgr.ExposeFiles(context.Background(), ExposeFilesRequest{
		Inputs:       []string{input},
		Access:       "none",
		MaxDownloads: 1,
	})
	require.NoError(t, err)

	resp, err := http.Get(info.LocalURL + "/a.txt")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, "A", string(body))

	require.Eventually(t, func() bool {
		return len(env.mgr.List(context.Background())) == 0
	}, 5*time.Second, 10*time.Millisecond, "reaching the quota should stop the session")

	workspace := filepath.Join(env.stateDir, "workspaces", info.ID)
	require.NoDirExists(t, workspace)

	events, err := env.mgr.AuditQuery(context.Background(), audit.QueryFilters{Event: audit.EventExposureStopped, ID: info.ID})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "max_downloads_reached", events[0].Details["reason"])
}

func TestTTLExpiryViaReaper(t *testing.T) {
	env := newTestEnv(t)
	input := writeInputFile(t, "A")

	info, err := env.mgr.ExposeFiles(context.Background(), ExposeFilesRequest{
		Inputs:     []string{input},
		Access:     "none",
		TTLSeconds: 60,
	})
	require.NoError(t, err)
	require.Equal(t, info.CreatedAt.Add(60*time.Second), info.ExpiresAt)

	env.clock.Advance(61 * time.Second)

	require.Eventually(t, func() bool {
		return len(env.mgr.List(context.Background())) == 0
	}, 5*time.Second, 10*time.Millisecond, "expiry should retire the session")

	require.NoDirExists(t, filepath.Join(env.stateDir, "workspaces", info.ID))

	events, err := env.mgr.AuditQuery(context.Background(), audit.QueryFilters{Event: audit.EventExposureExpired, ID: info.ID})
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestTTLClampsToPolicyBounds(t *testing.T) {
	env := newTestEnv(t)
	input := writeInputFile(t, "A")

	info, err := env.mgr.ExposeFiles(context.Background(), ExposeFilesRequest{
		Inputs:     []string{input},
		Access:     "none",
		TTLSeconds: 5,
	})
	require.NoError(t, err)
	require.Equal(t, info.CreatedAt.Add(60*time.Second), info.ExpiresAt, "5s clamps to the 60s floor")
}

func TestGetSelectorsAndProjection(t *testing.T) {
	env := newTestEnv(t)
	input := writeInputFile(t, "A")

	info, err := env.mgr.ExposeFiles(context.Background(), ExposeFilesRequest{Inputs: []string{input}, Access: "none"})
	require.NoError(t, err)

	bySentinel, err := env.mgr.Get(context.Background(), GetRequest{ID: "all"})
	require.NoError(t, err)
	require.Len(t, bySentinel.Sessions, 1)

	byFilter, err := env.mgr.Get(context.Background(), GetRequest{Filter: &SessionFilter{Type: "files"}})
	require.NoError(t, err)
	require.Len(t, byFilter.Sessions, 1)

	noMatch, err := env.mgr.Get(context.Background(), GetRequest{Filter: &SessionFilter{Type: "port"}})
	require.NoError(t, err)
	require.Empty(t, noMatch.Sessions)

	projected, err := env.mgr.Get(context.Background(), GetRequest{ID: info.ID, Fields: []string{"id", "status"}})
	require.NoError(t, err)
	require.Len(t, projected.Projected, 1)
	require.Equal(t, info.ID, projected.Projected[0]["id"])
	require.Equal(t, "running", projected.Projected[0]["status"])
	require.NotContains(t, projected.Projected[0], "public_url")

	_, err = env.mgr.Get(context.Background(), GetRequest{ID: "files_nope_000000"})
	require.Error(t, err)
	require.Equal(t, KindNotFound, KindOf(err))
}

func TestLogsQueryFiltersByComponent(t *testing.T) {
	env := newTestEnv(t)
	input := writeInputFile(t, "A")

	info, err := env.mgr.ExposeFiles(context.Background(), ExposeFilesRequest{Inputs: []string{input}, Access: "none"})
	require.NoError(t, err)

	logs, err := env.mgr.Logs(context.Background(), LogsRequest{ID: info.ID, Component: "tunnel"})
	require.NoError(t, err)
	require.NotEmpty(t, logs[info.ID], "the fake agent's ready lines land in the tunnel component")
	for _, l := range logs[info.ID] {
		require.Equal(t, session.ComponentTunnel, l.Component)
	}

	_, err = env.mgr.Logs(context.Background(), LogsRequest{ID: "port_nope_000000"})
	require.Error(t, err)
	require.Equal(t, KindNotFound, KindOf(err))
}

func TestRunGCRemovesOrphanWorkspace(t *testing.T) {
	env := newTestEnv(t)

	orphan := filepath.Join(env.stateDir, "workspaces", "files_orphan_abcdef")
	require.NoError(t, os.MkdirAll(orphan, 0o700))

	result, err := env.mgr.RunGC(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{orphan}, result.RemovedWorkspaces)
	require.NoDirExists(t, orphan)
}

func TestUpdatePolicyRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.mgr.UpdatePolicy(context.Background(), map[string]interface{}{
		"blockedPorts": []interface{}{8080},
	}))

	_, err := env.mgr.ExposePort(context.Background(), ExposePortRequest{Port: 8080})
	require.Error(t, err)
	require.Equal(t, KindPolicyViolation, KindOf(err))

	events, err := env.mgr.AuditQuery(context.Background(), audit.QueryFilters{Event: audit.EventPolicyUpdated})
	require.NoError(t, err)
	require.Len(t, events, 1)
}
