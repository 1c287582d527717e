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

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewDefaults(t *testing.T) {
	c := New("test")

	assert.Equal(t, DefaultMaxDownloadBytes, c.MaxDownloadBytes)
	assert.Equal(t, DefaultDownloadTimeout, c.DownloadTimeout)
	assert.Equal(t, DefaultReadyTimeout, c.ReadyTimeout)
	assert.True(t, c.CleanupOrphans)
	assert.True(t, c.AllowAlternateKubeconfig)
	assert.Equal(t, VerbosityMinimal, c.Verbosity)
	assert.Equal(t, DefaultHelperBinary, c.HelperBinary)
	assert.False(t, c.PeriodicCleanup)
	assert.Equal(t, "troubleshoot-mcp/test", c.UserAgent())
}

func TestNewFromEnvironment(t *testing.T) {
	t.Setenv("MCP_BUNDLE_STORAGE", "/data/bundles")
	t.Setenv("MAX_DOWNLOAD_SIZE", "1048576")
	t.Setenv("MAX_DOWNLOAD_TIMEOUT", "10")
	t.Setenv("MAX_INITIALIZATION_TIMEOUT", "20")
	t.Setenv("SBCTL_CLEANUP_ORPHANED", "false")
	t.Setenv("SBCTL_ALLOW_ALTERNATIVE_KUBECONFIG", "false")
	t.Setenv("MCP_VERBOSITY", "verbose")

	c := New("test")

	assert.Equal(t, "/data/bundles", c.BundleDir)
	assert.Equal(t, int64(1048576), c.MaxDownloadBytes)
	assert.Equal(t, 10*time.Second, c.DownloadTimeout)
	assert.Equal(t, 20*time.Second, c.ReadyTimeout)
	assert.False(t, c.CleanupOrphans)
	assert.False(t, c.AllowAlternateKubeconfig)
	assert.Equal(t, VerbosityVerbose, c.Verbosity)
}

func TestTokenPrecedence(t *testing.T) {
	t.Run("primary wins", func(t *testing.T) {
		t.Setenv("SBCTL_TOKEN", "primary")
		t.Setenv("REPLICATED_TOKEN", "fallback")
		assert.Equal(t, "primary", New("test").AuthToken)
	})

	t.Run("fallback used when primary unset", func(t *testing.T) {
		t.Setenv("SBCTL_TOKEN", "")
		t.Setenv("REPLICATED_TOKEN", "fallback")
		assert.Equal(t, "fallback", New("test").AuthToken)
	})
}

func TestDebugOverridesVerbosity(t *testing.T) {
	t.Setenv("MCP_VERBOSITY", "standard")
	t.Setenv("MCP_DEBUG", "true")
	assert.Equal(t, VerbosityDebug, New("test").Verbosity)
}

func TestUnknownVerbosityFallsBackToMinimal(t *testing.T) {
	t.Setenv("MCP_VERBOSITY", "chatty")
	assert.Equal(t, VerbosityMinimal, New("test").Verbosity)
}
