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
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/gravitational/trace"
)

// ManifestEntry is one catalogued workspace file.
type ManifestEntry struct {
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	Sha256      string    `json:"sha256"`
	RelativeURL string    `json:"relative_url"`
	ModifiedAt  time.Time `json:"modified_at"`
}

// hashCache memoizes a file's SHA-256 by (path, size, mtime) so that
// an unchanged file is not re-read within the lifetime of one cache.
// BuildManifest creates a fresh cache when passed nil, so hashes are
// reused across builds only when the caller passes the same cache.
type hashCache struct {
	cache *lru.Cache
}

type hashCacheKey struct {
	path  string
	size  int64
	mtime int64
}

func newHashCache(size int) *hashCache {
	c, err := lru.New(size)
	if err != nil {
		// lru.New only fails for a non-positive size.
		c, _ = lru.New(256)
	}
	return &hashCache{cache: c}
}

func (h *hashCache) hashFile(path string, info os.FileInfo) (string, error) {
	key := hashCacheKey{path: path, size: info.Size(), mtime: info.ModTime().UnixNano()}
	if v, ok := h.cache.Get(key); ok {
		return v.(string), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", trace.Wrap(err)
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", trace.Wrap(err)
	}
	sum := hex.EncodeToString(hasher.Sum(nil))
	h.cache.Add(key, sum)
	return sum, nil
}

// BuildManifest walks workspaceDir recursively and produces one
// ManifestEntry per regular file, in POSIX-relative-path sorted order.
func BuildManifest(workspaceDir string, cache *hashCache) ([]ManifestEntry, error) {
	if cache == nil {
		cache = newHashCache(1024)
	}

	var entries []ManifestEntry
	err := filepath.Walk(workspaceDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return trace.Wrap(err)
		}
		if info.IsDir() {
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(workspaceDir, path)
		if err != nil {
			return trace.Wrap(err)
		}
		posixRel := filepath.ToSlash(rel)
		if posixRel == bundleName {
			// The bundle itself is surfaced as one synthetic manifest
			// entry by BuildZipBundle, never via the filesystem walk.
			return nil
		}

		sum, err := cache.hashFile(path, info)
		if err != nil {
			return trace.Wrap(err)
		}

		entries = append(entries, ManifestEntry{
			Name:        posixRel,
			Size:        info.Size(),
			Sha256:      sum,
			RelativeURL: encodeRelativeURL(posixRel),
			ModifiedAt:  info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// encodeRelativeURL percent-encodes every path segment of rel while
// preserving the "/" separators, so a name containing spaces or other
// reserved characters still produces a fetchable URL.
func encodeRelativeURL(rel string) string {
	segments := splitPosix(rel)
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return joinPosix(segments)
}

func splitPosix(p string) []string {
	var out []string
	start := 0
	for i := 0; i < len(p); i++ {
		if p[i] == '/' {
			out = append(out, p[start:i])
			start = i + 1
		}
	}
	out = append(out, p[start:])
	return out
}

func joinPosix(segments []string) string {
	out := ""
	for i, seg := range segments {
		if i > 0 {
			out += "/"
		}
		out += seg
	}
	return out
}
