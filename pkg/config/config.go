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

// Package config loads the process-wide configuration. Every recognized
// environment variable is read exactly once here; components receive the
// resulting struct and never consult the environment themselves.
package config

import (
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultMaxDownloadBytes = int64(1024 * 1024 * 1024) // 1 GiB
	DefaultDownloadTimeout  = 300 * time.Second
	DefaultReadyTimeout     = 120 * time.Second
	DefaultCleanupInterval  = time.Hour
	DefaultHelperBinary     = "sbctl"
)

// Verbosity selects how much of each tool result the formatter renders.
type Verbosity string

const (
	VerbosityMinimal  Verbosity = "minimal"
	VerbosityStandard Verbosity = "standard"
	VerbosityVerbose  Verbosity = "verbose"
	VerbosityDebug    Verbosity = "debug"
)

type Config struct {
	userAgent string

	// BundleDir is the storage directory for downloaded archives and
	// extraction state. Empty means the lifecycle owner creates and owns
	// an anonymous temporary root.
	BundleDir string

	MaxDownloadBytes int64
	DownloadTimeout  time.Duration
	ReadyTimeout     time.Duration

	CleanupOrphans           bool
	AllowAlternateKubeconfig bool

	// AuthToken is the resolved vendor-portal token: SBCTL_TOKEN wins over
	// REPLICATED_TOKEN; empty when neither is set.
	AuthToken string

	Verbosity Verbosity

	// HelperBinary is the sbctl executable name. Overridable so tests can
	// substitute a stub server.
	HelperBinary string

	PeriodicCleanup bool
	CleanupInterval time.Duration

	// ClientConfigPath is the MCP client configuration read by the
	// --expand-config mode.
	ClientConfigPath string
}

func (c *Config) UserAgent() string {
	return c.userAgent
}

// New reads the environment into a Config. version is baked into the HTTP
// user agent the acquirer sends.
func New(version string) *Config {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("MAX_DOWNLOAD_SIZE", DefaultMaxDownloadBytes)
	v.SetDefault("MAX_DOWNLOAD_TIMEOUT", int(DefaultDownloadTimeout/time.Second))
	v.SetDefault("MAX_INITIALIZATION_TIMEOUT", int(DefaultReadyTimeout/time.Second))
	v.SetDefault("SBCTL_CLEANUP_ORPHANED", true)
	v.SetDefault("SBCTL_ALLOW_ALTERNATIVE_KUBECONFIG", true)
	v.SetDefault("SBCTL_BINARY", DefaultHelperBinary)
	v.SetDefault("MCP_VERBOSITY", string(VerbosityMinimal))
	v.SetDefault("ENABLE_PERIODIC_CLEANUP", false)
	v.SetDefault("CLEANUP_INTERVAL", int(DefaultCleanupInterval/time.Second))

	token := v.GetString("SBCTL_TOKEN")
	if token == "" {
		token = v.GetString("REPLICATED_TOKEN")
	}

	verbosity := parseVerbosity(v.GetString("MCP_VERBOSITY"))
	if v.GetBool("MCP_DEBUG") {
		verbosity = VerbosityDebug
	}

	return &Config{
		userAgent:                "troubleshoot-mcp/" + version,
		BundleDir:                v.GetString("MCP_BUNDLE_STORAGE"),
		MaxDownloadBytes:         v.GetInt64("MAX_DOWNLOAD_SIZE"),
		DownloadTimeout:          time.Duration(v.GetInt("MAX_DOWNLOAD_TIMEOUT")) * time.Second,
		ReadyTimeout:             time.Duration(v.GetInt("MAX_INITIALIZATION_TIMEOUT")) * time.Second,
		CleanupOrphans:           v.GetBool("SBCTL_CLEANUP_ORPHANED"),
		AllowAlternateKubeconfig: v.GetBool("SBCTL_ALLOW_ALTERNATIVE_KUBECONFIG"),
		AuthToken:                token,
		Verbosity:                verbosity,
		HelperBinary:             v.GetString("SBCTL_BINARY"),
		PeriodicCleanup:          v.GetBool("ENABLE_PERIODIC_CLEANUP"),
		CleanupInterval:          time.Duration(v.GetInt("CLEANUP_INTERVAL")) * time.Second,
		ClientConfigPath:         v.GetString("MCP_CONFIG_PATH"),
	}
}

func parseVerbosity(s string) Verbosity {
	switch Verbosity(s) {
	case VerbosityMinimal, VerbosityStandard, VerbosityVerbose, VerbosityDebug:
		return Verbosity(s)
	default:
		return VerbosityMinimal
	}
}
