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
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"

	"github.com/ystemsrx/openclaw-cfshare/lib/access"
)

// Presentation controls how a served file is framed to the browser.
type Presentation string

const (
	PresentationPreview  Presentation = "preview"
	PresentationRaw      Presentation = "raw"
	PresentationDownload Presentation = "download"
)

// Mode selects between a per-file explorer and a single zip bundle
// download.
type Mode string

const (
	ModeNormal Mode = "normal"
	ModeZip    Mode = "zip"
)

var markdownExtensions = map[string]bool{".md": true, ".rmd": true, ".qmd": true}

// textLikeMIME reports whether a MIME type is eligible for the "raw"
// presentation's text/plain override.
func textLikeMIME(m string) bool {
	base := m
	if i := strings.IndexByte(m, ';'); i >= 0 {
		base = m[:i]
	}
	base = strings.TrimSpace(base)
	switch {
	case strings.HasPrefix(base, "text/"):
		return true
	case base == "application/json", strings.HasSuffix(base, "+json"):
		return true
	case base == "application/xml", strings.HasSuffix(base, "+xml"):
		return true
	case base == "application/javascript", base == "application/x-yaml", base == "application/toml":
		return true
	}
	return false
}

// StaticConfig configures a static-file origin.
type StaticConfig struct {
	WorkspaceDir string
	Manifest     []ManifestEntry
	Mode         Mode
	Presentation Presentation

	Access      *access.State
	RateLimiter *access.RateLimiter

	Renderer         Renderer
	MarkdownRenderer func(markdown []byte) ([]byte, error)

	// OnDownload is invoked once per accounted download with the bytes
	// transmitted; it returns true once maxDownloads has been reached,
	// at which point the caller enqueues an async stop.
	OnDownload func(bytesSent int64) (limitReached bool)
	OnRequest  func()
	Log        func(line string)
	Logger     logrus.FieldLogger
}

func (c *StaticConfig) checkAndSetDefaults() error {
	if c.WorkspaceDir == "" {
		return trace.BadParameter("workspace dir missing")
	}
	if c.Access == nil {
		c.Access = &access.State{}
	}
	if c.Renderer == nil {
		c.Renderer = DefaultRenderer
	}
	if c.MarkdownRenderer == nil {
		c.MarkdownRenderer = renderMarkdownPreview
	}
	if c.OnDownload == nil {
		c.OnDownload = func(int64) bool { return false }
	}
	if c.OnRequest == nil {
		c.OnRequest = func() {}
	}
	if c.Log == nil {
		c.Log = func(string) {}
	}
	if c.Logger == nil {
		c.Logger = logrus.WithField(trace.Component, "origin.static")
	}
	if c.Mode == "" {
		c.Mode = ModeNormal
	}
	if c.Presentation == "" {
		c.Presentation = PresentationPreview
	}
	return nil
}

// Static is the HTTP handler for a files exposure.
type Static struct {
	cfg     StaticConfig
	byName  map[string]ManifestEntry
	singleF *ManifestEntry
}

// NewStatic builds a Static origin from cfg. The manifest must already
// be built (including the zip bundle entry, if any) by the caller.
func NewStatic(cfg StaticConfig) (*Static, error) {
	if err := cfg.checkAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	s := &Static{cfg: cfg, byName: make(map[string]ManifestEntry, len(cfg.Manifest))}
	for _, e := range cfg.Manifest {
		s.byName[e.Name] = e
	}

	regular := regularEntries(cfg.Manifest)
	if len(regular) == 1 {
		e := regular[0]
		s.singleF = &e
	}
	return s, nil
}

func regularEntries(entries []ManifestEntry) []ManifestEntry {
	out := make([]ManifestEntry, 0, len(entries))
	for _, e := range entries {
		if e.Name != "download.zip" {
			out = append(out, e)
		}
	}
	return out
}

func (s *Static) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.cfg.OnRequest()

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeErr(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
		return
	}

	ip := access.ClientIP(r)
	if !s.cfg.RateLimiter.Allow(ip) {
		access.WriteRateLimited(w)
		s.cfg.Log("429 rate_limited " + r.Method + " " + r.URL.Path)
		return
	}
	if !s.cfg.Access.PathAllowed(r.URL.Path) {
		access.WritePathNotAllowed(w, r.URL.Path)
		s.cfg.Log("403 path_not_allowed " + r.Method + " " + r.URL.Path)
		return
	}
	if !s.cfg.Access.Allowed(r) {
		s.cfg.Access.WriteUnauthorized(w)
		s.cfg.Log("401 unauthorized " + r.Method + " " + r.URL.Path)
		return
	}

	if r.URL.Path == "/" || r.URL.Path == "" {
		s.serveRoot(w, r)
		return
	}
	s.servePath(w, r)
}

func (s *Static) serveRoot(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Mode == ModeZip {
		s.renderExplorer(w, r)
		return
	}
	if s.singleF != nil && s.cfg.Presentation == PresentationPreview {
		s.serveFile(w, r, *s.singleF)
		return
	}
	s.renderExplorer(w, r)
}

func (s *Static) renderExplorer(w http.ResponseWriter, r *http.Request) {
	body, err := s.cfg.Renderer(ExplorerManifest{
		Entries: regularEntries(s.cfg.Manifest),
		ZipMode: s.cfg.Mode == ModeZip,
	})
	if err != nil {
		s.cfg.Logger.WithError(err).Warn("explorer render failed")
		writeErr(w, http.StatusInternalServerError, "internal_error", nil)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(body)
}

func (s *Static) servePath(w http.ResponseWriter, r *http.Request) {
	decoded, err := url.PathUnescape(strings.TrimPrefix(r.URL.Path, "/"))
	if err != nil {
		writeErr(w, http.StatusNotFound, "not_found", nil)
		return
	}

	fullPath := filepath.Join(s.cfg.WorkspaceDir, filepath.FromSlash(decoded))
	if !isWithinWorkspace(fullPath, s.cfg.WorkspaceDir) {
		writeErr(w, http.StatusNotFound, "not_found", nil)
		return
	}

	entry, ok := s.byName[decoded]
	if !ok {
		writeErr(w, http.StatusNotFound, "not_found", nil)
		return
	}
	s.serveFile(w, r, entry)
}

func isWithinWorkspace(fullPath, workspaceDir string) bool {
	rel, err := filepath.Rel(workspaceDir, fullPath)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (s *Static) serveFile(w http.ResponseWriter, r *http.Request, entry ManifestEntry) {
	// The synthetic download.zip entry is backed by the bundle file on
	// disk; every other entry's name is its workspace-relative path.
	onDisk := entry.Name
	if entry.Name == "download.zip" {
		onDisk = bundleName
	}
	fullPath := filepath.Join(s.cfg.WorkspaceDir, filepath.FromSlash(onDisk))

	f, err := os.Open(fullPath)
	if err != nil {
		writeErr(w, http.StatusNotFound, "not_found", nil)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeErr(w, http.StatusNotFound, "not_found", nil)
		return
	}
	size := info.Size()

	ext := strings.ToLower(filepath.Ext(entry.Name))
	if s.cfg.Presentation == PresentationPreview && markdownExtensions[ext] {
		s.serveMarkdownPreview(w, r, f)
		return
	}

	mimeType := mime.TypeByExtension(ext)
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	if s.cfg.Presentation == PresentationRaw && textLikeMIME(mimeType) {
		mimeType = "text/plain; charset=utf-8"
	}

	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if s.cfg.Presentation != PresentationRaw {
		disposition := "inline"
		if s.cfg.Presentation == PresentationDownload {
			disposition = "attachment"
		}
		w.Header().Set("Content-Disposition", contentDisposition(disposition, filepath.Base(entry.Name)))
	}

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		sent := s.copyOrHead(w, r, f, size)
		s.accountDownload(sent)
		return
	}

	start, end, ok := parseRange(rangeHeader, size)
	if !ok {
		writeErr(w, http.StatusRequestedRangeNotSatisfiable, "invalid_range", nil)
		return
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		writeErr(w, http.StatusInternalServerError, "internal_error", nil)
		return
	}
	length := end - start + 1
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method == http.MethodHead {
		return
	}
	sent, _ := io.CopyN(w, f, length)
	s.accountDownload(sent)
}

func (s *Static) copyOrHead(w http.ResponseWriter, r *http.Request, f *os.File, size int64) int64 {
	if r.Method == http.MethodHead {
		return 0
	}
	sent, _ := io.Copy(w, f)
	return sent
}

func (s *Static) accountDownload(bytesSent int64) {
	if bytesSent <= 0 {
		return
	}
	if s.cfg.OnDownload(bytesSent) {
		s.cfg.Log("download quota reached, stopping")
	}
}

func (s *Static) serveMarkdownPreview(w http.ResponseWriter, r *http.Request, f *os.File) {
	raw, err := io.ReadAll(f)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "internal_error", nil)
		return
	}
	body := stripFrontMatter(raw)
	html, err := s.cfg.MarkdownRenderer(body)
	if err != nil {
		s.cfg.Logger.WithError(err).Warn("markdown render failed")
		writeErr(w, http.StatusInternalServerError, "internal_error", nil)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	sent, _ := w.Write(html)
	s.accountDownload(int64(sent))
}

// stripFrontMatter removes a leading "---\n...\n---\n" YAML block, if
// present.
func stripFrontMatter(raw []byte) []byte {
	const delim = "---"
	if !bytes.HasPrefix(raw, []byte(delim)) {
		return raw
	}
	rest := raw[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return raw
	}
	after := rest[idx+len("\n"+delim):]
	if nl := bytes.IndexByte(after, '\n'); nl >= 0 {
		return after[nl+1:]
	}
	return after
}

// renderMarkdownPreview is the default, dependency-free markdown
// renderer: it wraps the raw text in a <pre> block. A richer renderer
// can be substituted via StaticConfig.MarkdownRenderer.
func renderMarkdownPreview(markdown []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("<!DOCTYPE html><html><head><meta charset=\"utf-8\"></head><body><pre>")
	escapeHTML(&buf, markdown)
	buf.WriteString("</pre></body></html>")
	return buf.Bytes(), nil
}

func escapeHTML(buf *bytes.Buffer, raw []byte) {
	for _, b := range raw {
		switch b {
		case '&':
			buf.WriteString("&amp;")
		case '<':
			buf.WriteString("&lt;")
		case '>':
			buf.WriteString("&gt;")
		default:
			buf.WriteByte(b)
		}
	}
}

// parseRange parses a single "bytes=a-b" range header. Multi-range
// requests are not supported and fail validation.
func parseRange(header string, size int64) (start, end int64, ok bool) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return 0, 0, false
	}
	rangeSpec := strings.TrimPrefix(header, prefix)
	if strings.Contains(rangeSpec, ",") {
		return 0, 0, false
	}
	parts := strings.SplitN(rangeSpec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}

	if parts[0] == "" {
		// suffix range "-N": last N bytes.
		n, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, false
		}
		if n > size {
			n = size
		}
		return size - n, size - 1, size > 0
	}

	a, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || a < 0 {
		return 0, 0, false
	}
	b := size - 1
	if parts[1] != "" {
		b, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, false
		}
	}
	if a > b || b >= size {
		return 0, 0, false
	}
	return a, b, true
}

func contentDisposition(kind, filename string) string {
	return fmt.Sprintf(`%s; filename="%s"; filename*=UTF-8''%s`, kind, sanitizeQuoted(filename), url.PathEscape(filename))
}

func sanitizeQuoted(s string) string {
	return strings.ReplaceAll(s, `"`, `_`)
}

func writeErr(w http.ResponseWriter, status int, kind string, extra map[string]interface{}) {
	body := map[string]interface{}{"error": kind}
	for k, v := range extra {
		body[k] = v
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
