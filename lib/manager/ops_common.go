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
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gravitational/trace"

	"github.com/ystemsrx/openclaw-cfshare/lib/access"
	"github.com/ystemsrx/openclaw-cfshare/lib/defaults"
	"github.com/ystemsrx/openclaw-cfshare/lib/policyconf"
	"github.com/ystemsrx/openclaw-cfshare/lib/session"
)

// resolveAccessMode validates a caller-supplied access string against
// the three recognized modes, falling back to def when empty.
func resolveAccessMode(requested string, def policyconf.AccessMode) (policyconf.AccessMode, error) {
	if requested == "" {
		return def, nil
	}
	switch policyconf.AccessMode(requested) {
	case policyconf.AccessToken, policyconf.AccessBasic, policyconf.AccessNone:
		return policyconf.AccessMode(requested), nil
	default:
		return "", Errorf(KindInvalidInput, "unrecognized access mode: %v", requested)
	}
}

// resolveProtectOrigin honors an explicit flag, else protects the
// origin whenever an access mode is in force.
func resolveProtectOrigin(explicit *bool, mode policyconf.AccessMode) bool {
	if explicit != nil {
		return *explicit
	}
	return mode != policyconf.AccessNone
}

// newAccessInfo mints the session-side secrets for mode: token mode
// gets a fresh 128-bit hex token, basic mode gets the fixed username
// plus a fresh 96-bit base64url password. Secrets are never reused
// across sessions.
func newAccessInfo(mode policyconf.AccessMode) (session.AccessInfo, error) {
	info := session.AccessInfo{Mode: string(mode)}
	switch mode {
	case policyconf.AccessToken:
		token, err := randomHex(16)
		if err != nil {
			return info, trace.Wrap(err)
		}
		info.Token = token
	case policyconf.AccessBasic:
		password, err := randomBase64URL(12)
		if err != nil {
			return info, trace.Wrap(err)
		}
		info.Username = defaults.BasicAuthUsername
		info.Password = password
	}
	return info, nil
}

// buildAccessState copies a session's secrets into the immutable,
// origin-side snapshot.
func buildAccessState(info session.AccessInfo, protectOrigin bool, allowlist []string) *access.State {
	return &access.State{
		Mode:           policyconf.AccessMode(info.Mode),
		Token:          info.Token,
		Username:       info.Username,
		Password:       info.Password,
		ProtectOrigin:  protectOrigin,
		AllowlistPaths: allowlist,
	}
}

// buildRateLimiter constructs a per-origin rate limiter from the
// effective policy.
func (m *Manager) buildRateLimiter(policy policyconf.Policy) *access.RateLimiter {
	window := time.Duration(policy.RateLimit.WindowMs) * time.Millisecond
	return access.NewRateLimiter(policy.RateLimit.Enabled, window, policy.RateLimit.MaxRequests, 4096, m.cfg.Clock)
}

// needsReverseProxy reports whether an expose-port bring-up should
// insert a reverse proxy (C4) in front of the upstream service rather
// than pointing the tunnel at it directly.
func needsReverseProxy(protectOrigin bool, allowlist []string, policy policyconf.Policy) bool {
	return protectOrigin || len(allowlist) > 0 || policy.RateLimit.Enabled
}

// listenLocal opens a TCP listener on 127.0.0.1:port. port=0 asks the
// OS for a free one.
func listenLocal(port int) (net.Listener, error) {
	return net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(port))
}

// localPort extracts the port a listener bound to, for the case where
// listenLocal was called with port=0.
func localPort(l net.Listener) int {
	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return 0
	}
	return addr.Port
}

// serveInBackground starts handler on l in its own goroutine and
// returns a CloseFunc that shuts the server down gracefully, used by
// both origin kinds.
func serveInBackground(l net.Listener, handler http.Handler, logger func(format string, args ...interface{})) (*http.Server, session.CloseFunc) {
	srv := &http.Server{Handler: handler}
	go func() {
		if err := srv.Serve(l); err != nil && err != http.ErrServerClosed {
			logger("origin server exited: %v", err)
		}
	}()
	return srv, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
