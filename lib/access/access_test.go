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

package access

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/ystemsrx/openclaw-cfshare/lib/policyconf"
)

func TestStateAllowedNone(t *testing.T) {
	s := &State{Mode: policyconf.AccessNone}
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	require.True(t, s.Allowed(r))
}

func TestStateAllowedToken(t *testing.T) {
	s := &State{Mode: policyconf.AccessToken, Token: "secret-token", ProtectOrigin: true}

	r := httptest.NewRequest(http.MethodGet, "/?token=secret-token", nil)
	require.True(t, s.Allowed(r))

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Cfshare-Token", "secret-token")
	require.True(t, s.Allowed(r))

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer secret-token")
	require.True(t, s.Allowed(r))

	r = httptest.NewRequest(http.MethodGet, "/?token=wrong", nil)
	require.False(t, s.Allowed(r))
}

func TestStateAllowedBasic(t *testing.T) {
	s := &State{Mode: policyconf.AccessBasic, Username: "cfshare", Password: "pw", ProtectOrigin: true}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.SetBasicAuth("cfshare", "pw")
	require.True(t, s.Allowed(r))

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.SetBasicAuth("cfshare", "wrong")
	require.False(t, s.Allowed(r))
}

func TestPathAllowed(t *testing.T) {
	s := &State{AllowlistPaths: []string{"/public", "/assets"}}
	require.True(t, s.PathAllowed("/public"))
	require.True(t, s.PathAllowed("/public/css/site.css"))
	require.False(t, s.PathAllowed("/publicly-exposed"))
	require.False(t, s.PathAllowed("/private"))

	s2 := &State{}
	require.True(t, s2.PathAllowed("/anything"))
}

func TestRateLimiterFixedWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	limiter := NewRateLimiter(true, time.Second, 2, 128, clock)

	require.True(t, limiter.Allow("1.2.3.4"))
	require.True(t, limiter.Allow("1.2.3.4"))
	require.False(t, limiter.Allow("1.2.3.4"), "third request in window is denied")

	clock.Advance(1100 * time.Millisecond)
	require.True(t, limiter.Allow("1.2.3.4"), "new window resets the counter")
}

func TestRateLimiterPerIPIndependence(t *testing.T) {
	clock := clockwork.NewFakeClock()
	limiter := NewRateLimiter(true, time.Second, 1, 128, clock)

	require.True(t, limiter.Allow("1.1.1.1"))
	require.True(t, limiter.Allow("2.2.2.2"), "a different IP has its own window")
	require.False(t, limiter.Allow("1.1.1.1"))
}

func TestRateLimiterDisabled(t *testing.T) {
	limiter := NewRateLimiter(false, time.Second, 1, 128, clockwork.NewFakeClock())
	require.True(t, limiter.Allow("1.1.1.1"))
	require.True(t, limiter.Allow("1.1.1.1"))
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.5:54321"
	require.Equal(t, "10.0.0.5", ClientIP(r))
}
