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
	"bufio"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gravitational/trace"
)

// builtinIgnorePatterns are always active, regardless of policy.
var builtinIgnorePatterns = []string{
	".git/**",
}

// IgnoreMatcher combines built-in patterns, the policy's ignore file,
// and the working directory's .gitignore. A path is blocked if any of
// {relative-to-CWD, relative-to-filesystem-root, basename} matches any
// pattern.
type IgnoreMatcher struct {
	patterns []ignorePattern
}

type ignorePattern struct {
	glob    string
	dirOnly bool
}

// buildIgnoreMatcher assembles the matcher for this store: built-ins,
// then StateDir/policy.ignore (one pattern per line, '#' comments and
// blank lines skipped), then ./.gitignore if present.
func (s *Store) buildIgnoreMatcher() (*IgnoreMatcher, error) {
	var lines []string
	lines = append(lines, builtinIgnorePatterns...)
	lines = append(lines, filepath.Base(s.StateDir)+"/**")

	fromFile, err := readPatternFile(s.ignorePath())
	if err != nil {
		return nil, trace.Wrap(err)
	}
	lines = append(lines, fromFile...)

	cwd, err := os.Getwd()
	if err == nil {
		fromGitignore, err := readPatternFile(filepath.Join(cwd, ".gitignore"))
		if err != nil {
			return nil, trace.Wrap(err)
		}
		lines = append(lines, fromGitignore...)
	}

	m := &IgnoreMatcher{}
	for _, l := range lines {
		m.patterns = append(m.patterns, parsePattern(l))
	}
	return m, nil
}

func readPatternFile(p string) ([]string, error) {
	f, err := os.Open(p)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, trace.Wrap(scanner.Err())
}

func parsePattern(raw string) ignorePattern {
	dirOnly := strings.HasSuffix(raw, "/")
	glob := strings.TrimSuffix(raw, "/")
	glob = strings.TrimPrefix(glob, "/")
	if dirOnly {
		// A trailing-slash pattern also covers everything below the
		// named directory.
		glob += "/**"
	}
	return ignorePattern{glob: glob, dirOnly: dirOnly}
}

// Match reports whether candidate (an absolute path) should be
// ignored.
func (m *IgnoreMatcher) Match(candidate string) bool {
	if m == nil {
		return false
	}
	cwd, _ := os.Getwd()
	relToCwd := candidate
	if cwd != "" {
		if r, err := filepath.Rel(cwd, candidate); err == nil && !strings.HasPrefix(r, "..") {
			relToCwd = r
		}
	}
	relToRoot := strings.TrimPrefix(filepath.ToSlash(candidate), "/")
	base := filepath.Base(candidate)

	for _, p := range m.patterns {
		for _, target := range []string{filepath.ToSlash(relToCwd), relToRoot, base} {
			if matchGlob(p.glob, target) {
				return true
			}
		}
	}
	return false
}

// matchGlob matches a gitignore-style pattern (supporting "*" within a
// segment and "**" across segments) against a slash-separated target.
// Like an unanchored gitignore pattern, the match may begin at any
// path segment of the target, so ".git/**" blocks a .git directory at
// any depth.
func matchGlob(pattern, target string) bool {
	patSegs := strings.Split(pattern, "/")
	tgtSegs := strings.Split(target, "/")
	for i := 0; i <= len(tgtSegs); i++ {
		if matchSegments(patSegs, tgtSegs[i:]) {
			return true
		}
	}
	return false
}

func matchSegments(pat, tgt []string) bool {
	if len(pat) == 0 {
		return len(tgt) == 0
	}
	if pat[0] == "**" {
		if matchSegments(pat[1:], tgt) {
			return true
		}
		if len(tgt) == 0 {
			return false
		}
		return matchSegments(pat, tgt[1:])
	}
	if len(tgt) == 0 {
		return false
	}
	ok, err := path.Match(pat[0], tgt[0])
	if err != nil || !ok {
		return false
	}
	return matchSegments(pat[1:], tgt[1:])
}
