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
	"context"
	"fmt"
	"sync"
	"syscall"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/ystemsrx/openclaw-cfshare/lib/defaults"
	"github.com/ystemsrx/openclaw-cfshare/lib/policyconf"
)

// Config configures a Supervisor.
type Config struct {
	// Binary is the agent executable, resolved from PATH or an
	// absolute path.
	Binary string
	// LocalPort is the origin port the tunnel publishes.
	LocalPort int
	Policy    policyconf.TunnelPolicy

	Attempts int

	Launcher Launcher
	Clock    clockwork.Clock
	Log      logrus.FieldLogger

	// OnLine is invoked for every stdout/stderr line (the line only,
	// without its stream name), so the caller can append it to the
	// session's log ring buffer.
	OnLine func(line string)
}

// CheckAndSetDefaults validates c and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Binary == "" {
		c.Binary = defaults.DefaultAgentBinary
	}
	if c.LocalPort <= 0 || c.LocalPort > 65535 {
		return trace.BadParameter("invalid local port: %v", c.LocalPort)
	}
	if c.Attempts <= 0 {
		c.Attempts = defaults.TunnelSpawnAttempts
	}
	if c.Launcher == nil {
		c.Launcher = ExecLauncher{}
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Log == nil {
		c.Log = logrus.WithField(trace.Component, "tunnel")
	}
	if c.OnLine == nil {
		c.OnLine = func(string) {}
	}
	return nil
}

// BuildArgs constructs the agent command line.
func BuildArgs(cfg Config) []string {
	edge := string(cfg.Policy.EdgeIPVersion)
	if edge == "" {
		edge = string(policyconf.IPAuto)
	}
	protocol := string(cfg.Policy.Protocol)
	if protocol == "" {
		protocol = string(policyconf.ProtocolAuto)
	}
	return []string{
		"tunnel",
		"--url", fmt.Sprintf("http://127.0.0.1:%d", cfg.LocalPort),
		"--edge-ip-version", edge,
		"--protocol", protocol,
		"--no-autoupdate",
	}
}

// Supervisor spawns and supervises the tunnel agent process.
type Supervisor struct {
	cfg Config

	mu      sync.Mutex
	proc    Process
	exited  chan struct{}
	lastErr error
}

// NewSupervisor constructs a Supervisor from cfg.
func NewSupervisor(cfg Config) (*Supervisor, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Supervisor{cfg: cfg}, nil
}

// Start spawns the agent, retrying up to cfg.Attempts times, and
// blocks until a ready URL is observed; each attempt fails on its own
// once the ready timeout expires without a URL.
func (s *Supervisor) Start(ctx context.Context) (publicURL string, err error) {
	args := BuildArgs(s.cfg)

	var lastErr error
	for attempt := 1; attempt <= s.cfg.Attempts; attempt++ {
		url, startErr := s.spawnOnce(ctx, args)
		if startErr == nil {
			return url, nil
		}
		lastErr = startErr
		s.cfg.Log.WithError(startErr).Warnf("tunnel agent attempt %d/%d failed", attempt, s.cfg.Attempts)
		s.Terminate()
	}
	return "", trace.Wrap(lastErr)
}

func (s *Supervisor) spawnOnce(ctx context.Context, args []string) (string, error) {
	proc, err := s.cfg.Launcher.Launch(ctx, s.cfg.Binary, args)
	if err != nil {
		return "", trace.Wrap(err)
	}

	s.mu.Lock()
	s.proc = proc
	s.exited = make(chan struct{})
	s.mu.Unlock()

	urlCh := make(chan string, 1)
	go func() {
		lineReader(proc.Stdout(), func(line string) { s.handleLine("stdout", line, urlCh) })
	}()
	go func() {
		lineReader(proc.Stderr(), func(line string) { s.handleLine("stderr", line, urlCh) })
	}()
	go func() {
		err := proc.Wait()
		s.mu.Lock()
		s.lastErr = err
		close(s.exited)
		s.mu.Unlock()
	}()

	timeout := s.cfg.Clock.After(defaults.TunnelReadyTimeout)
	select {
	case url := <-urlCh:
		return url, nil
	case <-s.exited:
		s.mu.Lock()
		werr := s.lastErr
		s.mu.Unlock()
		return "", trace.Wrap(werr, "tunnel agent exited before reporting a URL")
	case <-timeout:
		return "", trace.LimitExceeded("timed_out_waiting_for_url")
	case <-ctx.Done():
		return "", trace.Wrap(ctx.Err())
	}
}

func (s *Supervisor) handleLine(stream, line string, urlCh chan<- string) {
	s.cfg.OnLine(line)
	if url := extractReadyURL(line); url != "" {
		select {
		case urlCh <- url:
		default:
		}
	}
}

// Wait blocks until the supervised process exits and returns its exit
// error, if any. It returns immediately if no process was started.
func (s *Supervisor) Wait() error {
	s.mu.Lock()
	exited := s.exited
	s.mu.Unlock()
	if exited == nil {
		return nil
	}
	<-exited
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// PID returns the supervised process's PID, or 0 if none is running.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return 0
	}
	return s.proc.PID()
}

// Terminate stops the supervised process: SIGTERM immediately, then
// SIGKILL after a grace period if it has not exited. A no-op if the child is already gone. The
// SIGTERM-to-SIGKILL escalation runs off the caller's goroutine so a
// terminal session transition never blocks on a child that ignores
// SIGTERM; the exit watcher started in spawnOnce observes the final
// exit either way.
func (s *Supervisor) Terminate() {
	s.mu.Lock()
	proc := s.proc
	exited := s.exited
	s.proc = nil
	s.mu.Unlock()

	if proc == nil {
		return
	}
	_ = proc.Signal(syscall.SIGTERM)
	if exited == nil {
		return
	}
	select {
	case <-exited:
		return
	default:
	}

	grace := s.cfg.Clock.After(defaults.TunnelTerminateGrace)
	go func() {
		select {
		case <-exited:
		case <-grace:
			_ = proc.Kill()
			<-exited
		}
	}()
}
