// Copyright 2025 the troubleshoot-mcp authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package lifecycle assembles the application context: the bundle manager
// and its collaborators, the optional periodic cleanup task, and the
// shutdown sequence. The process owns exactly one App; tools receive it
// through the dispatcher.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/replicatedhq/troubleshoot-mcp/pkg/bundle"
	"github.com/replicatedhq/troubleshoot-mcp/pkg/config"
	"github.com/replicatedhq/troubleshoot-mcp/pkg/files"
	"github.com/replicatedhq/troubleshoot-mcp/pkg/formatter"
	"github.com/replicatedhq/troubleshoot-mcp/pkg/kubectl"
)

type App struct {
	Config    *config.Config
	Manager   *bundle.Manager
	Executor  *kubectl.Executor
	Explorer  *files.Explorer
	Formatter *formatter.Formatter

	mu           sync.Mutex
	shuttingDown bool
	cleanupStop  chan struct{}
	cleanupDone  chan struct{}
}

// New wires the application context from the loaded configuration.
func New(cfg *config.Config) (*App, error) {
	manager, err := bundle.NewManager(cfg)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config:    cfg,
		Manager:   manager,
		Executor:  kubectl.NewExecutor(manager),
		Explorer:  files.NewExplorer(manager),
		Formatter: formatter.New(cfg.Verbosity),
	}

	if cfg.PeriodicCleanup {
		app.cleanupStop = make(chan struct{})
		app.cleanupDone = make(chan struct{})
		go app.runPeriodicCleanup(cfg.CleanupInterval)
	}

	return app, nil
}

// runPeriodicCleanup tears down the active bundle on an interval so that a
// long-lived server does not accumulate extraction state.
func (a *App) runPeriodicCleanup(interval time.Duration) {
	defer close(a.cleanupDone)
	klog.Infof("Starting periodic bundle cleanup (interval: %s)", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-a.cleanupStop:
			klog.Info("Bundle cleanup task stopped")
			return
		case <-ticker.C:
			klog.Info("Running bundle cleanup")
			a.Manager.CleanupActive(context.Background())
		}
	}
}

// ShuttingDown reports whether shutdown has started; the dispatcher refuses
// new tool calls once it has.
func (a *App) ShuttingDown() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.shuttingDown
}

// Shutdown releases every resource the process owns: the cleanup task, the
// helper process, extraction directories, and the anonymous storage root if
// this process created it. Idempotent.
func (a *App) Shutdown(ctx context.Context) {
	a.mu.Lock()
	if a.shuttingDown {
		a.mu.Unlock()
		return
	}
	a.shuttingDown = true
	a.mu.Unlock()

	klog.Info("Shutting down")

	if a.cleanupStop != nil {
		close(a.cleanupStop)
		select {
		case <-a.cleanupDone:
		case <-time.After(5 * time.Second):
			klog.Warning("Cleanup task did not stop within timeout")
		}
	}

	a.Manager.Cleanup(ctx)
	klog.Info("Shutdown complete")
}
