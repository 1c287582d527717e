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
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/replicatedhq/troubleshoot-mcp/pkg/bundle"
	"github.com/replicatedhq/troubleshoot-mcp/pkg/toolerror"
)

type initializeBundleArgs struct {
	Source string `json:"source" jsonschema:"The source of the bundle: a URL, a Replicated vendor portal link, or a local file path."`
	Force  bool   `json:"force,omitempty" jsonschema:"Whether to force re-initialization when a bundle is already active. Defaults to false."`
}

type listAvailableBundlesArgs struct {
	IncludeInvalid bool `json:"include_invalid,omitempty" jsonschema:"Whether to include invalid or inaccessible bundle files in the results. Defaults to false."`
}

func (h *handlers) initializeBundle(ctx context.Context, _ *mcp.CallToolRequest, args *initializeBundleArgs) (*mcp.CallToolResult, any, error) {
	if err := h.guard(); err != nil {
		return h.fail(ctx, err)
	}
	if err := validateSource(args.Source); err != nil {
		return h.fail(ctx, err)
	}

	if !bundle.HelperAvailable(h.app.Config) {
		return h.fail(ctx, toolerror.New(toolerror.KindInternal,
			"sbctl is not available in the environment; it is required for bundle initialization"))
	}

	meta, err := h.app.Manager.Initialize(ctx, args.Source, args.Force)
	if err != nil {
		return h.fail(ctx, err)
	}

	apiAvailable := h.app.Manager.CheckAPIServerAvailable(ctx)
	var diagnostics map[string]any
	if !apiAvailable {
		diagnostics = h.app.Manager.Diagnostics(ctx)
	}

	return respond(h.app.Formatter.FormatBundleInitialization(meta, apiAvailable, diagnostics))
}

func (h *handlers) listAvailableBundles(ctx context.Context, _ *mcp.CallToolRequest, args *listAvailableBundlesArgs) (*mcp.CallToolResult, any, error) {
	if err := h.guard(); err != nil {
		return h.fail(ctx, err)
	}

	bundles, err := h.app.Manager.ListAvailableBundles(args.IncludeInvalid)
	if err != nil {
		return h.fail(ctx, toolerror.Wrap(err, toolerror.KindFilesystemError, "list available bundles"))
	}

	return respond(h.app.Formatter.FormatBundleList(bundles))
}

// validateSource enforces the input contract: a URL with a scheme and host,
// or a non-empty path. Only absolute paths are checked for existence here;
// relative ones are resolved later against the catalogue.
func validateSource(source string) error {
	if strings.TrimSpace(source) == "" {
		return toolerror.New(toolerror.KindInvalidInput, "source cannot be empty")
	}

	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		u, err := url.Parse(source)
		if err != nil || u.Host == "" {
			return toolerror.New(toolerror.KindInvalidInput, "source is not a valid URL: %s", source)
		}
		return nil
	}

	if filepath.IsAbs(source) {
		info, err := os.Stat(source)
		if err != nil {
			return toolerror.New(toolerror.KindBundleNotFound, "bundle source not found: %s", source)
		}
		if info.IsDir() {
			return toolerror.New(toolerror.KindInvalidInput, "bundle source must be a file: %s", source)
		}
	}

	return nil
}
