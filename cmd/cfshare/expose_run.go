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

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/ystemsrx/openclaw-cfshare/lib/manager"
)

// runExposePort brings up a port exposure and returns, alongside its
// result, the deferred keep-alive action: the caller prints the result
// first, then either blocks the CLI process until interrupted or stops
// the session immediately.
func runExposePort(ctx context.Context, mgr *manager.Manager, req manager.ExposePortRequest, keepAlive bool) (manager.SessionInfo, func(), error) {
	info, err := mgr.ExposePort(ctx, req)
	if err != nil {
		return manager.SessionInfo{}, nil, err
	}
	return info, func() { holdOrRelease(ctx, mgr, info.ID, keepAlive) }, nil
}

// runExposeFiles brings up a files exposure with the same keep-alive
// contract as runExposePort.
func runExposeFiles(ctx context.Context, mgr *manager.Manager, req manager.ExposeFilesRequest, keepAlive bool) (manager.SessionInfo, func(), error) {
	info, err := mgr.ExposeFiles(ctx, req)
	if err != nil {
		return manager.SessionInfo{}, nil, err
	}
	return info, func() { holdOrRelease(ctx, mgr, info.ID, keepAlive) }, nil
}

// holdOrRelease implements the keep-alive flag: with it set, the CLI
// process is the thing keeping the tunnel alive, so it blocks in the
// foreground until SIGINT/SIGTERM or the caller's context ends, then
// stops the session on the way out. Without it, the session is a
// one-shot report and is torn down immediately, since nothing else
// would ever call stop on it.
func holdOrRelease(ctx context.Context, mgr *manager.Manager, id string, keepAlive bool) {
	if !keepAlive {
		mgr.Stop(ctx, manager.StopRequest{ID: id})
		return
	}

	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(c)

	select {
	case <-ctx.Done():
		log.Info("context closed, stopping exposure ", id)
	case sig := <-c:
		log.Infof("captured %s, stopping exposure %s", sig, id)
	}
	mgr.Stop(context.Background(), manager.StopRequest{ID: id})
}
