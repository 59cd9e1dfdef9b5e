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
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"

	"github.com/gravitational/trace"
)

// randomHex returns n random bytes hex-encoded, used to mint the
// 128-bit token-mode secret.
func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", trace.Wrap(err, "generating random secret")
	}
	return hex.EncodeToString(buf), nil
}

// randomBase64URL returns n random bytes base64url-encoded (no
// padding), used to mint the 96-bit basic-auth password.
func randomBase64URL(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", trace.Wrap(err, "generating random secret")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// maskSecret keeps a short prefix and suffix and replaces the middle
// with a fixed-width mask,
// so get() can show callers enough to recognize their own session
// without re-exposing the full secret.
func maskSecret(s string) string {
	const (
		prefixLen = 3
		suffixLen = 2
		mask      = "***"
	)
	if len(s) <= prefixLen+suffixLen {
		return mask
	}
	return s[:prefixLen] + mask + s[len(s)-suffixLen:]
}
