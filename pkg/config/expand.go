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
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Defaults applied when expanding a minimal client configuration for a
// containerized deployment.
const (
	DefaultImageName     = "troubleshoot-mcp:latest"
	DefaultBundleStorage = "/data/bundles"
)

// ClientConfig is the MCP client configuration file shape: a map of server
// names to their launch settings. Only the mcpServers map and the
// ServerEntry fields below are read; any other field in the file is dropped.
type ClientConfig struct {
	MCPServers map[string]ServerEntry `json:"mcpServers"`
}

type ServerEntry struct {
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	BundleDir string            `json:"bundleDir,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// LoadClientConfig reads a client configuration file.
func LoadClientConfig(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read client config")
	}
	var cfg ClientConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "parse client config")
	}
	return &cfg, nil
}

// ExpandClientConfig fills a minimal docker-based server entry with the
// defaults a containerized deployment needs: bundle volume mount,
// environment passthrough, --rm, and the image name. Entries that are not
// troubleshoot servers pass through unchanged.
func ExpandClientConfig(cfg *ClientConfig) *ClientConfig {
	if cfg == nil || cfg.MCPServers == nil {
		return cfg
	}

	out := &ClientConfig{MCPServers: make(map[string]ServerEntry, len(cfg.MCPServers))}
	for name, entry := range cfg.MCPServers {
		if isTroubleshootServer(entry) {
			out.MCPServers[name] = expandServerEntry(entry)
		} else {
			out.MCPServers[name] = entry
		}
	}
	return out
}

func isTroubleshootServer(entry ServerEntry) bool {
	if entry.Command != "docker" {
		return false
	}
	for _, arg := range entry.Args {
		if strings.Contains(arg, "troubleshoot-mcp") {
			return true
		}
	}
	return false
}

func expandServerEntry(entry ServerEntry) ServerEntry {
	image := extractImageName(entry.Args)
	if image == "" {
		image = DefaultImageName
	}

	env := make(map[string]string)
	for k, v := range extractEnvVars(entry.Args) {
		env[k] = v
	}
	for k, v := range entry.Env {
		env[k] = v
	}
	if _, ok := env["MCP_BUNDLE_STORAGE"]; !ok {
		env["MCP_BUNDLE_STORAGE"] = DefaultBundleStorage
	}

	args := []string{"run", "-i"}
	if entry.BundleDir != "" {
		args = append(args, "-v", fmt.Sprintf("%s:%s", entry.BundleDir, DefaultBundleStorage))
	} else if mount := extractVolumeMount(entry.Args); mount != "" {
		args = append(args, "-v", mount)
	}
	for _, k := range sortedKeys(env) {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, env[k]))
	}
	args = append(args, "--rm", image)

	return ServerEntry{Command: "docker", Args: args}
}

func extractImageName(args []string) string {
	for _, arg := range args {
		if strings.HasPrefix(arg, "troubleshoot-mcp") {
			return arg
		}
	}
	return ""
}

func extractVolumeMount(args []string) string {
	for i, arg := range args {
		if arg == "-v" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func extractEnvVars(args []string) map[string]string {
	env := make(map[string]string)
	for i, arg := range args {
		if arg != "-e" || i+1 >= len(args) {
			continue
		}
		kv := strings.SplitN(args[i+1], "=", 2)
		if len(kv) != 2 {
			continue
		}
		env[kv[0]] = strings.Trim(kv[1], `"'`)
	}
	return env
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
