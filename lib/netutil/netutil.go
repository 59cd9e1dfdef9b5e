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

// Package netutil provides the small, stateless helpers shared by the
// origins and the lifecycle manager: free-port allocation, local
// liveness probing, safe path containment, and filename sanitization.
package netutil

import (
	"context"
	"net"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gravitational/trace"

	"github.com/ystemsrx/openclaw-cfshare/lib/defaults"
)

// FindFreePort asks the OS for an ephemeral TCP port on 127.0.0.1,
// closes the probe socket, and returns the port.
func FindFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, trace.Wrap(err, "port_allocation_failed")
	}
	defer l.Close()

	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return 0, trace.BadParameter("port_allocation_failed: unexpected listener address type")
	}
	return addr.Port, nil
}

// ProbeLocalPort attempts a non-blocking connect to 127.0.0.1:port with
// a bounded timeout and reports whether something is listening.
func ProbeLocalPort(ctx context.Context, port int) bool {
	ctx, cancel := context.WithTimeout(ctx, defaults.LocalProbeTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// IsSubPath reports whether child is lexically contained in parent
// once both are resolved to absolute, cleaned paths.
func IsSubPath(child, parent string) bool {
	absChild, err := filepath.Abs(child)
	if err != nil {
		return false
	}
	absParent, err := filepath.Abs(parent)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absParent, absChild)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

var parentDirTraversal = regexp.MustCompile(`\.\.`)
var unsafeFilenameChar = regexp.MustCompile(`[^A-Za-z0-9._-]`)
var repeatedUnderscore = regexp.MustCompile(`_+`)

// SanitizeFilename collapses ".." traversal sequences, replaces any
// character outside [A-Za-z0-9._-] with "_", and collapses runs of
// underscores.
func SanitizeFilename(name string) string {
	noTraversal := parentDirTraversal.ReplaceAllString(name, "_")
	replaced := unsafeFilenameChar.ReplaceAllString(noTraversal, "_")
	collapsed := repeatedUnderscore.ReplaceAllString(replaced, "_")
	if collapsed == "" {
		return "_"
	}
	return collapsed
}

// DedupeName appends "_1", "_2", ... to name until it no longer
// collides with taken, used when copying inputs into a workspace.
func DedupeName(name string, taken map[string]bool) string {
	if !taken[name] {
		return name
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		candidate := stem + "_" + strconv.Itoa(i) + ext
		if !taken[candidate] {
			return candidate
		}
	}
}

// ProbeTimeout exported for callers that need to display/log the bound
// used by ProbeLocalPort.
func ProbeTimeout() time.Duration {
	return defaults.LocalProbeTimeout
}
