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

package tools

import (
	"context"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/replicatedhq/troubleshoot-mcp/pkg/files"
	"github.com/replicatedhq/troubleshoot-mcp/pkg/toolerror"
)

type listFilesArgs struct {
	Path      string `json:"path" jsonschema:"The path within the bundle to list. Use '' or '/' for the root. Directory traversal is rejected."`
	Recursive bool   `json:"recursive,omitempty" jsonschema:"Whether to list entries recursively. Defaults to false."`
}

type readFileArgs struct {
	Path      string `json:"path" jsonschema:"The path of the file within the bundle to read. Directory traversal is rejected."`
	StartLine int    `json:"start_line,omitempty" jsonschema:"The line number to start reading from (0-indexed). Defaults to 0."`
	EndLine   *int   `json:"end_line,omitempty" jsonschema:"The line number to end reading at (0-indexed, inclusive). Defaults to the end of the file."`
}

type grepFilesArgs struct {
	Pattern       string `json:"pattern" jsonschema:"The regular expression to search for."`
	Path          string `json:"path" jsonschema:"The path within the bundle to search. Use '' or '/' to search from the root."`
	Recursive     *bool  `json:"recursive,omitempty" jsonschema:"Whether to search subdirectories. Defaults to true."`
	GlobPattern   string `json:"glob_pattern,omitempty" jsonschema:"File name pattern to filter which files are searched, e.g. '*.yaml'. Defaults to all files."`
	CaseSensitive bool   `json:"case_sensitive,omitempty" jsonschema:"Whether the search is case-sensitive. Defaults to false."`
	MaxResults    int    `json:"max_results,omitempty" jsonschema:"Maximum number of matches to return. Defaults to 1000."`
}

func (h *handlers) listFiles(ctx context.Context, _ *mcp.CallToolRequest, args *listFilesArgs) (*mcp.CallToolResult, any, error) {
	if err := h.guard(); err != nil {
		return h.fail(ctx, err)
	}
	if err := validateToolPath(args.Path); err != nil {
		return h.fail(ctx, err)
	}

	result, err := h.app.Explorer.ListFiles(args.Path, args.Recursive)
	if err != nil {
		return h.fail(ctx, err)
	}
	return respond(h.app.Formatter.FormatFileList(result))
}

func (h *handlers) readFile(ctx context.Context, _ *mcp.CallToolRequest, args *readFileArgs) (*mcp.CallToolResult, any, error) {
	if err := h.guard(); err != nil {
		return h.fail(ctx, err)
	}
	if strings.TrimSpace(args.Path) == "" {
		return h.fail(ctx, toolerror.New(toolerror.KindInvalidInput, "path cannot be empty"))
	}
	if err := validateToolPath(args.Path); err != nil {
		return h.fail(ctx, err)
	}
	if args.StartLine < 0 || (args.EndLine != nil && *args.EndLine < 0) {
		return h.fail(ctx, toolerror.New(toolerror.KindInvalidInput, "line numbers cannot be negative"))
	}

	endLine := -1
	if args.EndLine != nil {
		endLine = *args.EndLine
	}

	result, err := h.app.Explorer.ReadFile(args.Path, args.StartLine, endLine)
	if err != nil {
		return h.fail(ctx, err)
	}
	return respond(h.app.Formatter.FormatFileContent(result))
}

func (h *handlers) grepFiles(ctx context.Context, _ *mcp.CallToolRequest, args *grepFilesArgs) (*mcp.CallToolResult, any, error) {
	if err := h.guard(); err != nil {
		return h.fail(ctx, err)
	}
	if strings.TrimSpace(args.Pattern) == "" {
		return h.fail(ctx, toolerror.New(toolerror.KindInvalidInput, "pattern cannot be empty"))
	}
	if args.MaxResults < 0 {
		return h.fail(ctx, toolerror.New(toolerror.KindInvalidInput, "max_results must be a positive integer"))
	}
	if err := validateToolPath(args.Path); err != nil {
		return h.fail(ctx, err)
	}

	recursive := true
	if args.Recursive != nil {
		recursive = *args.Recursive
	}
	maxResults := args.MaxResults
	if maxResults == 0 {
		maxResults = files.DefaultMaxGrepResults
	}

	result, err := h.app.Explorer.GrepFiles(args.Pattern, args.Path, recursive, args.GlobPattern, args.CaseSensitive, maxResults)
	if err != nil {
		return h.fail(ctx, err)
	}
	return respond(h.app.Formatter.FormatGrepResults(result))
}

// validateToolPath rejects traversal before the sandbox even sees the path.
func validateToolPath(path string) error {
	for _, seg := range strings.Split(strings.ReplaceAll(path, "\\", "/"), "/") {
		if seg == ".." {
			return toolerror.New(toolerror.KindInvalidPath, "path %q contains directory traversal", path)
		}
	}
	return nil
}
