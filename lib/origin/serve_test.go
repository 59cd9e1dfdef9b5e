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
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/ystemsrx/openclaw-cfshare/lib/access"
)

func writeWorkspaceFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func newStaticForTest(t *testing.T, dir string, mode Mode, presentation Presentation) *Static {
	t.Helper()
	manifest, err := BuildManifest(dir, nil)
	require.NoError(t, err)
	s, err := NewStatic(StaticConfig{
		WorkspaceDir: dir,
		Manifest:     manifest,
		Mode:         mode,
		Presentation: presentation,
		Access:       &access.State{},
		RateLimiter:  access.NewRateLimiter(false, time.Second, 1, 8, clockwork.NewFakeClock()),
	})
	require.NoError(t, err)
	return s
}

func TestStaticSingleFilePreviewShortcut(t *testing.T) {
	dir := t.TempDir()
	writeWorkspaceFile(t, dir, "a.txt", "hello")

	s := newStaticForTest(t, dir, ModeNormal, PresentationPreview)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "hello", rec.Body.String())
}

func TestStaticExplorerForMultipleFiles(t *testing.T) {
	dir := t.TempDir()
	writeWorkspaceFile(t, dir, "a.txt", "A")
	writeWorkspaceFile(t, dir, "b.txt", "B")

	s := newStaticForTest(t, dir, ModeNormal, PresentationPreview)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	require.Contains(t, rec.Body.String(), "a.txt")
	require.Contains(t, rec.Body.String(), "b.txt")
}

func TestStaticZipModeAlwaysRendersExplorer(t *testing.T) {
	dir := t.TempDir()
	writeWorkspaceFile(t, dir, "a.txt", "A")
	bundleEntry, err := BuildZipBundle(dir)
	require.NoError(t, err)

	manifest, err := BuildManifest(dir, nil)
	require.NoError(t, err)
	manifest = append(manifest, bundleEntry)

	s, err := NewStatic(StaticConfig{
		WorkspaceDir: dir,
		Manifest:     manifest,
		Mode:         ModeZip,
		Access:       &access.State{},
		RateLimiter:  access.NewRateLimiter(false, time.Second, 1, 8, clockwork.NewFakeClock()),
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "download.zip")

	rec2 := httptest.NewRecorder()
	s.ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/download.zip", nil))
	require.Equal(t, http.StatusOK, rec2.Code)
	require.NotEmpty(t, rec2.Body.Bytes())
}

func TestStaticRangeRequests(t *testing.T) {
	dir := t.TempDir()
	writeWorkspaceFile(t, dir, "a.txt", "0123456789")
	writeWorkspaceFile(t, dir, "b.txt", "other")

	s := newStaticForTest(t, dir, ModeNormal, PresentationDownload)

	r := httptest.NewRequest(http.MethodGet, "/a.txt", nil)
	r.Header.Set("Range", "bytes=2-4")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, r)
	require.Equal(t, http.StatusPartialContent, rec.Code)
	require.Equal(t, "234", rec.Body.String())
	require.Equal(t, "bytes 2-4/10", rec.Header().Get("Content-Range"))

	r2 := httptest.NewRequest(http.MethodGet, "/a.txt", nil)
	r2.Header.Set("Range", "bytes=5-2")
	rec2 := httptest.NewRecorder()
	s.ServeHTTP(rec2, r2)
	require.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec2.Code)

	r3 := httptest.NewRequest(http.MethodGet, "/a.txt", nil)
	r3.Header.Set("Range", "bytes=0-100")
	rec3 := httptest.NewRecorder()
	s.ServeHTTP(rec3, r3)
	require.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec3.Code)
}

func TestStaticPathTraversalRejected(t *testing.T) {
	dir := t.TempDir()
	writeWorkspaceFile(t, dir, "a.txt", "A")
	writeWorkspaceFile(t, dir, "b.txt", "B")

	s := newStaticForTest(t, dir, ModeNormal, PresentationPreview)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/../etc/passwd", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStaticMethodNotAllowed(t *testing.T) {
	dir := t.TempDir()
	writeWorkspaceFile(t, dir, "a.txt", "A")
	s := newStaticForTest(t, dir, ModeNormal, PresentationPreview)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStaticRawPresentationOverridesTextMIME(t *testing.T) {
	dir := t.TempDir()
	writeWorkspaceFile(t, dir, "data.json", `{"a":1}`)
	writeWorkspaceFile(t, dir, "other.json", `{"b":2}`)

	s := newStaticForTest(t, dir, ModeNormal, PresentationRaw)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/data.json", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	require.Empty(t, rec.Header().Get("Content-Disposition"))
}

func TestStaticMarkdownPreviewStripsFrontMatter(t *testing.T) {
	dir := t.TempDir()
	writeWorkspaceFile(t, dir, "doc.md", "---\ntitle: x\n---\n# Hello")
	writeWorkspaceFile(t, dir, "other.md", "# World")

	s := newStaticForTest(t, dir, ModeNormal, PresentationPreview)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/doc.md", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	require.Contains(t, rec.Body.String(), "# Hello")
	require.NotContains(t, rec.Body.String(), "title: x")
}

func TestStripFrontMatterNoBlock(t *testing.T) {
	out := stripFrontMatter([]byte("# no front matter"))
	require.Equal(t, "# no front matter", string(out))
}

func TestParseRangeSuffixForm(t *testing.T) {
	start, end, ok := parseRange("bytes=-3", 10)
	require.True(t, ok)
	require.Equal(t, int64(7), start)
	require.Equal(t, int64(9), end)
}
