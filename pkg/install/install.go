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

// Package install writes this server's stdio launch entry into AI tool
// settings files.
package install

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const serverName = "troubleshoot"

type Options struct {
	exePath     string
	projectOnly bool
}

func NewOptions(projectOnly bool) (*Options, error) {
	exePath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("could not determine executable path: %w", err)
	}
	return &Options{exePath: exePath, projectOnly: projectOnly}, nil
}

// ClaudeCode registers the server in Claude Code settings: the project-local
// .mcp.json, or ~/.claude.json for a user-wide install.
func ClaudeCode(opts *Options) error {
	var configPath string
	if opts.projectOnly {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("could not get working directory: %w", err)
		}
		configPath = filepath.Join(wd, ".mcp.json")
	} else {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("could not determine home directory: %w", err)
		}
		configPath = filepath.Join(homeDir, ".claude.json")
	}
	return upsertServerEntry(configPath, opts.exePath)
}

// Cursor registers the server in Cursor settings: .cursor/mcp.json in the
// project, or ~/.cursor/mcp.json user-wide.
func Cursor(opts *Options) error {
	var baseDir string
	if opts.projectOnly {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("could not get working directory: %w", err)
		}
		baseDir = wd
	} else {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("could not determine home directory: %w", err)
		}
		baseDir = homeDir
	}
	return upsertServerEntry(filepath.Join(baseDir, ".cursor", "mcp.json"), opts.exePath)
}

// upsertServerEntry merges our server entry into an existing settings file,
// creating it when absent and leaving other servers untouched.
func upsertServerEntry(configPath, exePath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("could not create config directory: %w", err)
	}

	config := make(map[string]interface{})
	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, &config); err != nil {
			return fmt.Errorf("could not parse existing config %s: %w", configPath, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("could not read config %s: %w", configPath, err)
	}

	mcpServers, ok := config["mcpServers"].(map[string]interface{})
	if !ok {
		mcpServers = make(map[string]interface{})
		config["mcpServers"] = mcpServers
	}

	mcpServers[serverName] = map[string]interface{}{
		"command": exePath,
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("could not write config %s: %w", configPath, err)
	}
	return nil
}
