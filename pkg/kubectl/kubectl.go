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

// Package kubectl runs read-only kubectl commands against the active
// bundle's emulated API server.
package kubectl

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strings"
	"time"

	"k8s.io/klog/v2"

	"github.com/replicatedhq/troubleshoot-mcp/pkg/bundle"
	"github.com/replicatedhq/troubleshoot-mcp/pkg/toolerror"
)

const DefaultTimeout = 30 * time.Second

// timeoutExitCode is reported when the child is killed on expiry, matching
// the conventional exit status of timeout(1).
const timeoutExitCode = 124

// mutatingVerbs are rejected before execution; the emulated cluster is
// read-only.
var mutatingVerbs = map[string]bool{
	"delete":       true,
	"edit":         true,
	"exec":         true,
	"cp":           true,
	"patch":        true,
	"port-forward": true,
	"attach":       true,
	"replace":      true,
	"apply":        true,
}

// Result captures a completed kubectl invocation. Output holds the parsed
// JSON document when IsJSON is set, otherwise the raw stdout text.
type Result struct {
	Command    string `json:"command"`
	ExitCode   int    `json:"exit_code"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	Output     any    `json:"output"`
	IsJSON     bool   `json:"is_json"`
	DurationMS int64  `json:"duration_ms"`
}

// BundleSource is the slice of the lifecycle owner the executor needs:
// the active record plus the availability preflight. *bundle.Manager is the
// production implementation.
type BundleSource interface {
	GetActiveBundle() *bundle.Metadata
	CheckAPIServerAvailable(ctx context.Context) bool
	Diagnostics(ctx context.Context) map[string]any
}

// Executor preflights API availability through the lifecycle owner and
// spawns kubectl with the active bundle's kubeconfig.
type Executor struct {
	source BundleSource
}

func NewExecutor(source BundleSource) *Executor {
	return &Executor{source: source}
}

// ValidateCommand rejects empty commands and mutating verbs. Exposed so the
// dispatcher can fail fast before any preflight work.
func ValidateCommand(command string) error {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return toolerror.New(toolerror.KindInvalidInput, "kubectl command cannot be empty")
	}
	if mutatingVerbs[fields[0]] {
		return toolerror.New(toolerror.KindInvalidInput,
			"kubectl command %q is not allowed: only read-only commands can run against a support bundle", fields[0])
	}
	return nil
}

// Execute runs a kubectl command with the given timeout. Non-zero exit is an
// error; a kill on timeout reports exit code 124.
func (e *Executor) Execute(ctx context.Context, command string, timeout time.Duration, jsonOutput bool) (*Result, error) {
	if err := ValidateCommand(command); err != nil {
		return nil, err
	}

	meta := e.source.GetActiveBundle()
	if meta == nil || !meta.Initialized {
		return nil, toolerror.New(toolerror.KindNoActiveBundle,
			"no bundle is initialized; use initialize_bundle first")
	}

	if !e.source.CheckAPIServerAvailable(ctx) {
		return nil, toolerror.New(toolerror.KindAPIUnavailable,
			"Kubernetes API server is not available; try reinitializing the bundle").
			WithDiagnostics(e.source.Diagnostics(ctx))
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	args := buildArgs(command, meta.KubeconfigPath, jsonOutput)
	klog.V(2).Infof("Running kubectl %s", strings.Join(args, " "))

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(ctx, "kubectl", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	duration := time.Since(start)

	result := &Result{
		Command:    command,
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMS: duration.Milliseconds(),
	}

	if ctx.Err() == context.DeadlineExceeded {
		result.ExitCode = timeoutExitCode
		return nil, toolerror.New(toolerror.KindKubectlTimeout,
			"kubectl command timed out after %s (exit code %d)", timeout, timeoutExitCode)
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
		}
		return nil, toolerror.New(toolerror.KindKubectlFailed,
			"kubectl command failed with exit code %d: %s", result.ExitCode, strings.TrimSpace(stderr.String()))
	}

	parseOutput(result)
	return result, nil
}

// buildArgs splits the command, points it at the bundle's kubeconfig, and
// appends `-o json` when JSON output is wanted and the command has no
// output flag of its own.
func buildArgs(command, kubeconfigPath string, jsonOutput bool) []string {
	args := strings.Fields(command)
	args = append(args, "--kubeconfig", kubeconfigPath)

	if jsonOutput && !hasOutputFlag(args) {
		args = append(args, "-o", "json")
	}
	return args
}

func hasOutputFlag(args []string) bool {
	for _, arg := range args {
		if arg == "-o" || arg == "--output" || strings.HasPrefix(arg, "-o=") || strings.HasPrefix(arg, "--output=") {
			return true
		}
	}
	return false
}

func parseOutput(result *Result) {
	trimmed := strings.TrimSpace(result.Stdout)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var parsed any
		if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
			result.Output = parsed
			result.IsJSON = true
			return
		}
	}
	result.Output = result.Stdout
}
