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

package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replicatedhq/troubleshoot-mcp/pkg/config"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	cfg := &config.Config{
		BundleDir:        t.TempDir(),
		MaxDownloadBytes: config.DefaultMaxDownloadBytes,
		DownloadTimeout:  config.DefaultDownloadTimeout,
		ReadyTimeout:     time.Second,
		HelperBinary:     config.DefaultHelperBinary,
		Verbosity:        config.VerbosityMinimal,
	}
	app, err := New(cfg)
	require.NoError(t, err)
	return app
}

func TestShutdownIsIdempotent(t *testing.T) {
	app := newTestApp(t)

	assert.False(t, app.ShuttingDown())
	app.Shutdown(context.Background())
	assert.True(t, app.ShuttingDown())

	// second shutdown is a no-op
	app.Shutdown(context.Background())
	assert.True(t, app.ShuttingDown())
}

func TestShutdownStopsPeriodicCleanup(t *testing.T) {
	cfg := &config.Config{
		BundleDir:        t.TempDir(),
		MaxDownloadBytes: config.DefaultMaxDownloadBytes,
		DownloadTimeout:  config.DefaultDownloadTimeout,
		ReadyTimeout:     time.Second,
		HelperBinary:     config.DefaultHelperBinary,
		PeriodicCleanup:  true,
		CleanupInterval:  time.Hour,
	}
	app, err := New(cfg)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		app.Shutdown(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("shutdown did not complete with a periodic cleanup task running")
	}
}

func TestNewWiresCollaborators(t *testing.T) {
	app := newTestApp(t)
	defer app.Shutdown(context.Background())

	assert.NotNil(t, app.Manager)
	assert.NotNil(t, app.Executor)
	assert.NotNil(t, app.Explorer)
	assert.NotNil(t, app.Formatter)
}
