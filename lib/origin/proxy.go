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

// Package origin implements the two kinds of exposure origin: a
// reverse proxy fronting a local TCP service, and a static file server
// fronting a session workspace.
package origin

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gravitational/oxy/forward"
	"github.com/gravitational/oxy/utils"
	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"

	"github.com/ystemsrx/openclaw-cfshare/lib/access"
)

// ProxyConfig configures a reverse proxy origin.
type ProxyConfig struct {
	// UpstreamPort is the local TCP port the proxy forwards to.
	UpstreamPort int
	// Access is the immutable access-control snapshot for this origin.
	Access *access.State
	// RateLimiter is shared across every request this origin serves.
	RateLimiter *access.RateLimiter
	// OnRequest is invoked exactly once per incoming request, before any
	// access check, used by the caller to bump stats.requests.
	OnRequest func()
	// OnBytesSent is invoked once per forwarded request with the number of
	// response body bytes streamed back to the client.
	OnBytesSent func(bytesSent int64)
	// Log receives one line per request outcome, fed into the
	// session's log ring buffer by the caller.
	Log func(line string)
	// Logger is the structured logger for internal proxy errors.
	Logger logrus.FieldLogger
}

// CheckAndSetDefaults validates c and fills in defaults.
func (c *ProxyConfig) CheckAndSetDefaults() error {
	if c.UpstreamPort <= 0 || c.UpstreamPort > 65535 {
		return trace.BadParameter("invalid upstream port: %v", c.UpstreamPort)
	}
	if c.Access == nil {
		c.Access = &access.State{}
	}
	if c.OnRequest == nil {
		c.OnRequest = func() {}
	}
	if c.OnBytesSent == nil {
		c.OnBytesSent = func(int64) {}
	}
	if c.Log == nil {
		c.Log = func(string) {}
	}
	if c.Logger == nil {
		c.Logger = logrus.WithField(trace.Component, "origin.proxy")
	}
	return nil
}

// Proxy is an HTTP origin that forwards requests to a single upstream
// address, gating each request through C3.
type Proxy struct {
	cfg      ProxyConfig
	upstream *url.URL
	fwd      *forward.Forwarder
}

// NewProxy builds a reverse-proxy origin from cfg.
func NewProxy(cfg ProxyConfig) (*Proxy, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	upstream, err := url.Parse("http://127.0.0.1:" + strconv.Itoa(cfg.UpstreamPort))
	if err != nil {
		return nil, trace.Wrap(err)
	}

	p := &Proxy{cfg: cfg, upstream: upstream}

	fwd, err := forward.New(
		forward.RoundTripper(p),
		forward.PassHostHeader(false),
		forward.ErrorHandler(utils.ErrorHandlerFunc(p.onForwardError)),
	)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	p.fwd = fwd
	return p, nil
}

// ServeHTTP implements http.Handler, applying rate-limit, path
// allow-list, and auth checks before forwarding to the upstream.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.cfg.OnRequest()

	ip := access.ClientIP(r)
	if !p.cfg.RateLimiter.Allow(ip) {
		access.WriteRateLimited(w)
		p.cfg.Log("429 rate_limited " + r.Method + " " + r.URL.Path)
		return
	}
	if !p.cfg.Access.PathAllowed(r.URL.Path) {
		access.WritePathNotAllowed(w, r.URL.Path)
		p.cfg.Log("403 path_not_allowed " + r.Method + " " + r.URL.Path)
		return
	}
	if !p.cfg.Access.Allowed(r) {
		p.cfg.Access.WriteUnauthorized(w)
		p.cfg.Log("401 unauthorized " + r.Method + " " + r.URL.Path)
		return
	}

	cw := &countingResponseWriter{ResponseWriter: w}
	r.URL.Scheme = p.upstream.Scheme
	r.URL.Host = p.upstream.Host
	r.Host = p.upstream.Host

	p.fwd.ServeHTTP(cw, r)
	p.cfg.OnBytesSent(cw.bytes)
	p.cfg.Log(strconv.Itoa(statusOrOK(cw.status)) + " " + r.Method + " " + r.URL.Path)
}

// RoundTrip implements http.RoundTripper so the Forwarder dials the
// fixed upstream address regardless of what Host header is present,
// composed with oxy's forward package.
func (p *Proxy) RoundTrip(r *http.Request) (*http.Response, error) {
	tr := &http.Transport{
		DialContext: (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
	}
	resp, err := tr.RoundTrip(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return resp, nil
}

// onForwardError handles upstream failures with a 502 and a JSON
// body, emitted exactly once since forward.Forwarder only calls the
// error handler before writing any response bytes.
func (p *Proxy) onForwardError(w http.ResponseWriter, r *http.Request, err error) {
	p.cfg.Logger.WithError(err).Debug("upstream unreachable")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "proxy_error"})
	p.cfg.Log("502 proxy_error " + r.Method + " " + r.URL.Path)
}

// countingResponseWriter records the status code and byte count of a
// response so the caller can feed stats.bytesSent without double
// buffering the body.
type countingResponseWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *countingResponseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *countingResponseWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

func (w *countingResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Close is a no-op: reverse proxies hold no resources beyond the
// forwarder, which needs no explicit close.
func (p *Proxy) Close(ctx context.Context) error {
	return nil
}

func statusOrOK(status int) int {
	if status == 0 {
		return http.StatusOK
	}
	return status
}
