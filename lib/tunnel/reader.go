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

package tunnel

import (
	"bufio"
	"io"
	"regexp"
)

// readyURLPattern matches a single-label trycloudflare.com subdomain
// over HTTPS, the readiness signal emitted by the agent.
var readyURLPattern = regexp.MustCompile(`https://([A-Za-z0-9-]+)\.trycloudflare\.com`)

var subdomainBlacklist = map[string]bool{"api": true}

// extractReadyURL returns the first valid quick-tunnel URL in line, or
// "" if none is present. A subdomain in the blacklist does not count
// as a readiness signal.
func extractReadyURL(line string) string {
	for _, m := range readyURLPattern.FindAllStringSubmatch(line, -1) {
		subdomain := m[1]
		if subdomainBlacklist[subdomain] {
			continue
		}
		return m[0]
	}
	return ""
}

// lineReader emits one callback per line read from r, splitting on
// both "\n" and "\r\n" and flushing any unterminated residue on EOF.
func lineReader(r io.Reader, onLine func(line string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		onLine(scanner.Text())
	}
}
