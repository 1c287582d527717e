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
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/replicatedhq/troubleshoot-mcp/pkg/kubectl"
)

type kubectlArgs struct {
	Command    string `json:"command" jsonschema:"The kubectl command to execute, e.g. 'get pods' or 'describe deployment nginx'. Mutating commands are rejected."`
	Timeout    int    `json:"timeout,omitempty" jsonschema:"Timeout in seconds for the command. Defaults to 30."`
	JSONOutput *bool  `json:"json_output,omitempty" jsonschema:"Whether to request JSON output (-o json). Defaults to true."`
}

func (h *handlers) kubectl(ctx context.Context, _ *mcp.CallToolRequest, args *kubectlArgs) (*mcp.CallToolResult, any, error) {
	if err := h.guard(); err != nil {
		return h.fail(ctx, err)
	}
	if err := kubectl.ValidateCommand(args.Command); err != nil {
		return h.fail(ctx, err)
	}

	timeout := kubectl.DefaultTimeout
	if args.Timeout > 0 {
		timeout = time.Duration(args.Timeout) * time.Second
	}
	jsonOutput := true
	if args.JSONOutput != nil {
		jsonOutput = *args.JSONOutput
	}

	result, err := h.app.Executor.Execute(ctx, args.Command, timeout, jsonOutput)
	if err != nil {
		return h.fail(ctx, err)
	}

	return respond(h.app.Formatter.FormatKubectlResult(result))
}
