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

package origin

import (
	"io"
	"os"
	"path/filepath"

	"github.com/gravitational/trace"

	"github.com/ystemsrx/openclaw-cfshare/lib/netutil"
	"github.com/ystemsrx/openclaw-cfshare/lib/policyconf"
)

// InputRejected describes why one input path could not be admitted
// into a workspace.
type InputRejected struct {
	Path   string
	Reason string
}

// BuildWorkspace copies each accepted input under workspaceDir,
// applying the rejection rules in order: ignore-matcher,
// allowed-path-roots containment, and file-type admissibility. workspaceDir must already exist.
func BuildWorkspace(workspaceDir string, inputs []string, ignore *policyconf.IgnoreMatcher, allowedRoots []string) (copied []string, rejected []InputRejected, err error) {
	taken := make(map[string]bool)

	for _, input := range inputs {
		real, statErr := filepath.EvalSymlinks(input)
		if statErr != nil {
			rejected = append(rejected, InputRejected{Path: input, Reason: "not_found"})
			continue
		}

		if ignore != nil && ignore.Match(real) {
			rejected = append(rejected, InputRejected{Path: input, Reason: "ignored"})
			continue
		}

		if len(allowedRoots) > 0 && !containedInAny(real, allowedRoots) {
			rejected = append(rejected, InputRejected{Path: input, Reason: "outside_allowed_roots"})
			continue
		}

		info, statErr := os.Stat(real)
		if statErr != nil {
			rejected = append(rejected, InputRejected{Path: input, Reason: "not_found"})
			continue
		}

		base := netutil.SanitizeFilename(filepath.Base(real))
		base = netutil.DedupeName(base, taken)
		taken[base] = true
		dest := filepath.Join(workspaceDir, base)

		if info.IsDir() {
			if err := copyDir(real, dest); err != nil {
				return copied, rejected, trace.Wrap(err)
			}
		} else if info.Mode().IsRegular() {
			if err := copyFile(real, dest, info.Mode()); err != nil {
				return copied, rejected, trace.Wrap(err)
			}
		} else {
			rejected = append(rejected, InputRejected{Path: input, Reason: "unsupported_type"})
			continue
		}
		copied = append(copied, dest)
	}

	return copied, rejected, nil
}

func containedInAny(path string, roots []string) bool {
	for _, root := range roots {
		if netutil.IsSubPath(path, root) || path == root {
			return true
		}
	}
	return false
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return trace.Wrap(err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return trace.Wrap(err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return trace.Wrap(err)
	}
	return nil
}

func copyDir(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return trace.Wrap(err)
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return trace.Wrap(err)
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return trace.Wrap(os.MkdirAll(target, 0o700))
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		return trace.Wrap(copyFile(path, target, info.Mode()))
	})
}
