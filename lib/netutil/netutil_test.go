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

package netutil

import (
	"context"
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFindFreePortIsListenable(t *testing.T) {
	port, err := FindFreePort()
	require.NoError(t, err)
	require.Greater(t, port, 0)

	l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	l.Close()
}

func TestProbeLocalPort(t *testing.T) {
	port, err := FindFreePort()
	require.NoError(t, err)
	require.False(t, ProbeLocalPort(context.Background(), port))

	l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	defer l.Close()

	require.True(t, ProbeLocalPort(context.Background(), port))
}

func TestIsSubPath(t *testing.T) {
	require.True(t, IsSubPath("/tmp/ws/a/b.txt", "/tmp/ws"))
	require.True(t, IsSubPath("/tmp/ws", "/tmp/ws"))
	require.False(t, IsSubPath("/tmp/other", "/tmp/ws"))
	require.False(t, IsSubPath("/tmp/ws-evil", "/tmp/ws"))
}

func TestSanitizeFilename(t *testing.T) {
	require.Equal(t, "a_b.txt", SanitizeFilename("a b.txt"))
	require.Equal(t, "_etc_passwd", SanitizeFilename("../etc/passwd"))
	require.Equal(t, "_", SanitizeFilename("***"))
}

func TestDedupeName(t *testing.T) {
	taken := map[string]bool{"a.txt": true}
	require.Equal(t, "a_1.txt", DedupeName("a.txt", taken))
	taken["a_1.txt"] = true
	require.Equal(t, "a_2.txt", DedupeName("a.txt", taken))
	require.Equal(t, "b.txt", DedupeName("b.txt", taken))
}

