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

package policyconf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, nil)

	policy, _, _, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, Default().DefaultTTLSeconds, policy.DefaultTTLSeconds)

	err = store.WriteMerged(map[string]interface{}{
		"defaultTtlSeconds": 10,
		"blockedPorts":      []interface{}{1, 2, 3},
		"tunnel": map[string]interface{}{
			"protocol": "quic",
		},
		"unknownTopLevel": true,
	})
	require.NoError(t, err)

	policy, warnings, _, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, 60, policy.DefaultTTLSeconds, "10 clamps to the 60s floor")
	require.Equal(t, []int{1, 2, 3}, policy.BlockedPorts)
	require.Equal(t, ProtocolQUIC, policy.Tunnel.Protocol)
	require.Equal(t, IPAuto, policy.Tunnel.EdgeIPVersion, "untouched nested field keeps its default")

	found := false
	for _, w := range warnings {
		if w != "" {
			found = found || containsSub(w, "unknownTopLevel")
		}
	}
	require.True(t, found, "unknown key should produce a warning")
}

func TestTTLClamping(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, nil)
	err := store.WriteMerged(map[string]interface{}{
		"maxTtlSeconds":     120,
		"defaultTtlSeconds": 99999,
	})
	require.NoError(t, err)

	policy, _, _, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, 120, policy.MaxTTLSeconds)
	require.Equal(t, 120, policy.DefaultTTLSeconds, "default clamps down to the max")
}

func TestInvalidEnumFallsBackWithWarning(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, nil)
	err := store.WriteMerged(map[string]interface{}{
		"defaultExposePortAccess": "bogus",
	})
	require.NoError(t, err)

	policy, warnings, _, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, Default().DefaultExposePortAccess, policy.DefaultExposePortAccess)
	require.NotEmpty(t, warnings)
}

func TestProcessConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, map[string]interface{}{
		"defaultTtlSeconds": 120,
	})

	policy, _, _, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, 120, policy.DefaultTTLSeconds, "process config overrides built-in default")

	require.NoError(t, store.WriteMerged(map[string]interface{}{"defaultTtlSeconds": 240}))
	policy, _, _, err = store.Load()
	require.NoError(t, err)
	require.Equal(t, 240, policy.DefaultTTLSeconds, "on-disk patch overrides process config")
}

func TestIgnoreMatcherBuiltins(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, nil)
	_, _, matcher, err := store.Load()
	require.NoError(t, err)

	require.True(t, matcher.Match(filepath.Join(dir, ".git", "HEAD")))
	require.True(t, matcher.Match(filepath.Join(dir, filepath.Base(dir))))
}

func TestIgnoreMatcherPolicyFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "policy.ignore"), []byte("*.secret\nbuild/**\n"), 0o600))

	store := NewStore(dir, nil)
	_, _, matcher, err := store.Load()
	require.NoError(t, err)

	require.True(t, matcher.Match("/tmp/x/creds.secret"))
	require.True(t, matcher.Match("/tmp/x/build/out/bin"))
	require.False(t, matcher.Match("/tmp/x/readme.md"))
}

func containsSub(s, sub string) bool {
	return len(s) >= len(sub) && (func() bool {
		for i := 0; i+len(sub) <= len(s); i++ {
			if s[i:i+len(sub)] == sub {
				return true
			}
		}
		return false
	})()
}
