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

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandClientConfig(t *testing.T) {
	cfg := &ClientConfig{
		MCPServers: map[string]ServerEntry{
			"troubleshoot": {
				Command:   "docker",
				Args:      []string{"run", "troubleshoot-mcp:latest"},
				BundleDir: "/home/user/bundles",
			},
		},
	}

	expanded := ExpandClientConfig(cfg)
	entry := expanded.MCPServers["troubleshoot"]

	want := ServerEntry{
		Command: "docker",
		Args: []string{
			"run", "-i",
			"-v", "/home/user/bundles:/data/bundles",
			"-e", "MCP_BUNDLE_STORAGE=/data/bundles",
			"--rm",
			"troubleshoot-mcp:latest",
		},
	}
	if diff := cmp.Diff(want, entry); diff != "" {
		t.Errorf("expanded entry mismatch (-want +got):\n%s", diff)
	}
}

func TestExpandClientConfigPreservesEnv(t *testing.T) {
	cfg := &ClientConfig{
		MCPServers: map[string]ServerEntry{
			"troubleshoot": {
				Command: "docker",
				Args:    []string{"run", "-e", "SBCTL_TOKEN=abc", "troubleshoot-mcp:latest"},
			},
		},
	}

	entry := ExpandClientConfig(cfg).MCPServers["troubleshoot"]
	assert.Contains(t, entry.Args, "-e")
	assert.Contains(t, entry.Args, "SBCTL_TOKEN=abc")
	assert.Contains(t, entry.Args, "MCP_BUNDLE_STORAGE=/data/bundles")
}

func TestExpandClientConfigSkipsOtherServers(t *testing.T) {
	other := ServerEntry{Command: "npx", Args: []string{"some-other-server"}}
	cfg := &ClientConfig{MCPServers: map[string]ServerEntry{"other": other}}

	expanded := ExpandClientConfig(cfg)
	require.Contains(t, expanded.MCPServers, "other")
	assert.Equal(t, other, expanded.MCPServers["other"])
}
