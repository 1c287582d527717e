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

// Package tools registers the MCP tools and routes calls to the lifecycle
// owner and its collaborators. Handlers never return an error to the
// transport; every failure becomes a formatted text response.
package tools

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"k8s.io/klog/v2"

	"github.com/replicatedhq/troubleshoot-mcp/pkg/lifecycle"
	"github.com/replicatedhq/troubleshoot-mcp/pkg/toolerror"
)

type handlers struct {
	app *lifecycle.App
}

// Install registers every tool on the server.
func Install(_ context.Context, s *mcp.Server, app *lifecycle.App) error {
	h := &handlers{app: app}

	mcp.AddTool(s, &mcp.Tool{
		Name: "initialize_bundle",
		Description: "Initialize a Kubernetes support bundle for analysis. Loads a bundle from a URL, " +
			"a Replicated vendor portal link, or a local file and makes it available to the other tools.",
	}, h.initializeBundle)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "list_available_bundles",
		Description: "Scan the bundle storage directory for support bundle archives available for initialization.",
		Annotations: &mcp.ToolAnnotations{
			ReadOnlyHint: true,
		},
	}, h.listAvailableBundles)

	mcp.AddTool(s, &mcp.Tool{
		Name: "kubectl",
		Description: "Execute a read-only kubectl command against the initialized bundle's API server " +
			"(e.g. \"get pods\", \"describe deployment nginx\"). Requires an initialized bundle.",
		Annotations: &mcp.ToolAnnotations{
			ReadOnlyHint: true,
		},
	}, h.kubectl)

	mcp.AddTool(s, &mcp.Tool{
		Name: "list_files",
		Description: "List files and directories within the initialized support bundle. " +
			"Use \"\" or \"/\" for the bundle root.",
		Annotations: &mcp.ToolAnnotations{
			ReadOnlyHint: true,
		},
	}, h.listFiles)

	mcp.AddTool(s, &mcp.Tool{
		Name: "read_file",
		Description: "Read a file within the initialized support bundle, optionally limited to a " +
			"zero-indexed inclusive line range. Binary files are returned as a hex dump.",
		Annotations: &mcp.ToolAnnotations{
			ReadOnlyHint: true,
		},
	}, h.readFile)

	mcp.AddTool(s, &mcp.Tool{
		Name: "grep_files",
		Description: "Search file contents in the initialized support bundle with a regular expression, " +
			"optionally filtered by a file glob.",
		Annotations: &mcp.ToolAnnotations{
			ReadOnlyHint: true,
		},
	}, h.grepFiles)

	return nil
}

// respond wraps formatted text in a tool result.
func respond(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

// fail renders a taxonomy error through the formatter. The error never
// propagates to the transport layer.
func (h *handlers) fail(ctx context.Context, err error) (*mcp.CallToolResult, any, error) {
	kind := toolerror.KindOf(err)
	klog.Errorf("Tool call failed (%s): %v", kind, err)

	diagnostics := toolerror.DiagnosticsOf(err)
	if diagnostics == nil && needsDiagnostics(kind) {
		diagnostics = h.app.Manager.Diagnostics(ctx)
	}

	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: h.app.Formatter.FormatError(err.Error(), diagnostics)}},
	}, nil, nil
}

// needsDiagnostics marks the kinds whose failures are only debuggable with
// the helper diagnostics attached.
func needsDiagnostics(kind toolerror.Kind) bool {
	switch kind {
	case toolerror.KindHelperNotReady, toolerror.KindHelperExited,
		toolerror.KindAPIUnavailable, toolerror.KindInternal:
		return true
	}
	return false
}

// guard rejects calls once shutdown has begun.
func (h *handlers) guard() error {
	if h.app.ShuttingDown() {
		return toolerror.New(toolerror.KindInternal, "server is shutting down; no new tool calls are accepted")
	}
	return nil
}
