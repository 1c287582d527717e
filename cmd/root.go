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

package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/replicatedhq/troubleshoot-mcp/pkg/bundle"
	"github.com/replicatedhq/troubleshoot-mcp/pkg/config"
	"github.com/replicatedhq/troubleshoot-mcp/pkg/install"
	"github.com/replicatedhq/troubleshoot-mcp/pkg/lifecycle"
	"github.com/replicatedhq/troubleshoot-mcp/pkg/tools"
)

var (
	version = "(unknown)"

	// command flags
	bundleDir    string
	verbose      bool
	expandConfig bool

	rootCmd = &cobra.Command{
		Use:   "troubleshoot-mcp",
		Short: "An MCP server for Kubernetes support bundles",
		RunE:  runRootCmd,
	}

	installCmd = &cobra.Command{
		Use:   "install",
		Short: "Install the troubleshoot MCP server into your AI tool settings.",
	}

	installClaudeCodeCmd = &cobra.Command{
		Use:   "claude-code",
		Short: "Install the troubleshoot MCP server into your Claude Code settings.",
		RunE:  runInstallClaudeCodeCmd,
	}

	installCursorCmd = &cobra.Command{
		Use:   "cursor",
		Short: "Install the troubleshoot MCP server into your Cursor settings.",
		RunE:  runInstallCursorCmd,
	}

	installProjectOnly bool
)

// Execute runs the root command. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	if bi, ok := debug.ReadBuildInfo(); ok {
		version = bi.Main.Version
	}

	rootCmd.Flags().StringVar(&bundleDir, "bundle-dir", "", "directory to store support bundles; defaults to MCP_BUNDLE_STORAGE or a temporary directory")
	rootCmd.Flags().BoolVar(&verbose, "verbose", false, "enable verbose logging on stderr")
	rootCmd.Flags().BoolVar(&expandConfig, "expand-config", false, "expand the MCP client config from MCP_CONFIG_PATH with container defaults and print it to stdout")

	rootCmd.AddCommand(installCmd)
	installCmd.AddCommand(installClaudeCodeCmd)
	installCmd.AddCommand(installCursorCmd)
	installCmd.PersistentFlags().BoolVarP(&installProjectOnly, "project-only", "p", false, "install only for the current project; run in the project root")

	rootCmd.SilenceUsage = true
}

func setupLogging() {
	klog.InitFlags(nil)
	_ = flag.Set("logtostderr", "true")
	if verbose {
		_ = flag.Set("v", "2")
	} else {
		// stdout carries the protocol; keep stderr quiet unless it matters
		_ = flag.Set("stderrthreshold", "ERROR")
	}
}

func runRootCmd(cmd *cobra.Command, args []string) error {
	setupLogging()
	defer klog.Flush()

	cfg := config.New(version)
	if bundleDir != "" {
		cfg.BundleDir = bundleDir
	}

	if expandConfig {
		return runExpandConfig(cfg)
	}

	return startMCPServer(cmd.Context(), cfg)
}

// runExpandConfig reads the client configuration named by MCP_CONFIG_PATH,
// fills in container deployment defaults, and prints the result to stdout.
func runExpandConfig(cfg *config.Config) error {
	if cfg.ClientConfigPath == "" {
		return errors.New("no config found to expand; set the MCP_CONFIG_PATH environment variable")
	}
	clientCfg, err := config.LoadClientConfig(cfg.ClientConfigPath)
	if err != nil {
		return err
	}
	expanded := config.ExpandClientConfig(clientCfg)
	return json.NewEncoder(os.Stdout).Encode(expanded)
}

func startMCPServer(ctx context.Context, cfg *config.Config) error {
	if !bundle.HelperAvailable(cfg) {
		return fmt.Errorf("helper binary %q not found on PATH; it is required to serve support bundles", cfg.HelperBinary)
	}

	app, err := lifecycle.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := mcp.NewServer(
		&mcp.Implementation{
			Name:    "Troubleshoot MCP Server",
			Version: version,
		},
		&mcp.ServerOptions{
			HasTools: true,
		},
	)

	if err := tools.Install(ctx, s, app); err != nil {
		app.Shutdown(context.Background())
		return fmt.Errorf("failed to install tools: %w", err)
	}

	klog.Infof("Starting Troubleshoot MCP Server (%s)", version)
	runErr := s.Run(ctx, &mcp.StdioTransport{})

	// Signal-driven cancellation and stdin close both land here; resources
	// are released before the process exits.
	app.Shutdown(context.Background())

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		klog.Errorf("Server error: %v", runErr)
		return runErr
	}
	klog.Info("Server shutting down.")
	return nil
}

func runInstallClaudeCodeCmd(cmd *cobra.Command, args []string) error {
	opts, err := install.NewOptions(installProjectOnly)
	if err != nil {
		return err
	}
	if err := install.ClaudeCode(opts); err != nil {
		return err
	}
	fmt.Println("Successfully installed the troubleshoot MCP server for Claude Code.")
	return nil
}

func runInstallCursorCmd(cmd *cobra.Command, args []string) error {
	opts, err := install.NewOptions(installProjectOnly)
	if err != nil {
		return err
	}
	if err := install.Cursor(opts); err != nil {
		return err
	}
	fmt.Println("Successfully installed the troubleshoot MCP server as a Cursor MCP server.")
	return nil
}
