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

package bundle

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replicatedhq/troubleshoot-mcp/pkg/config"
	"github.com/replicatedhq/troubleshoot-mcp/pkg/toolerror"
)

// writeStubHelper writes an executable shell script standing in for sbctl
// and returns its path.
func writeStubHelper(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub helper scripts require a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "stub-sbctl")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func stubConfig(helper string, readyTimeout time.Duration) *config.Config {
	return &config.Config{
		MaxDownloadBytes:         config.DefaultMaxDownloadBytes,
		DownloadTimeout:          config.DefaultDownloadTimeout,
		ReadyTimeout:             readyTimeout,
		HelperBinary:             helper,
		AllowAlternateKubeconfig: true,
	}
}

// apiStub serves 200 on /api so readiness can complete against a real
// listener.
func apiStub(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestWaitReadyHappyPath(t *testing.T) {
	api := apiStub(t)

	helper := writeStubHelper(t, fmt.Sprintf(`cat > kubeconfig <<EOF
apiVersion: v1
kind: Config
clusters:
- name: sbctl
  cluster:
    server: %s
EOF
exec sleep 60
`, api.URL))

	s := NewSupervisor(stubConfig(helper, 30*time.Second))
	workDir := t.TempDir()
	require.NoError(t, s.Start("/does/not/matter.tar.gz", workDir))
	defer s.Terminate(context.Background())

	kubeconfig, err := s.WaitReady(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(workDir, "kubeconfig"), kubeconfig)
	assert.FileExists(t, kubeconfig)
	assert.True(t, s.Alive())
	assert.True(t, s.CheckAPIServerAvailable(context.Background()))
}

func TestWaitReadyHelperExited(t *testing.T) {
	helper := writeStubHelper(t, "echo boom >&2\nexit 3\n")

	s := NewSupervisor(stubConfig(helper, 10*time.Second))
	require.NoError(t, s.Start("/archive.tar.gz", t.TempDir()))

	_, err := s.WaitReady(context.Background())
	require.Error(t, err)
	assert.Equal(t, toolerror.KindHelperExited, toolerror.KindOf(err))
	assert.Contains(t, err.Error(), "code 3")
	assert.Contains(t, err.Error(), "boom")
}

func TestWaitReadyTimeout(t *testing.T) {
	helper := writeStubHelper(t, "exec sleep 60\n")

	s := NewSupervisor(stubConfig(helper, 2*time.Second))
	require.NoError(t, s.Start("/archive.tar.gz", t.TempDir()))
	defer s.Terminate(context.Background())

	_, err := s.WaitReady(context.Background())
	require.Error(t, err)
	assert.Equal(t, toolerror.KindHelperNotReady, toolerror.KindOf(err))
	assert.NotNil(t, toolerror.DiagnosticsOf(err))
}

func TestWaitReadyProceedsWithoutAPI(t *testing.T) {
	// kubeconfig appears but nothing listens on the address inside it; the
	// wait must still succeed once enough probes have failed.
	helper := writeStubHelper(t, `cat > kubeconfig <<EOF
{"clusters":[{"cluster":{"server":"http://127.0.0.1:1"}}]}
EOF
exec sleep 60
`)

	s := NewSupervisor(stubConfig(helper, 6*time.Second))
	workDir := t.TempDir()
	require.NoError(t, s.Start("/archive.tar.gz", workDir))
	defer s.Terminate(context.Background())

	start := time.Now()
	kubeconfig, err := s.WaitReady(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(workDir, "kubeconfig"), kubeconfig)
	assert.Less(t, time.Since(start), 6*time.Second)
}

func TestTerminateStopsHelper(t *testing.T) {
	helper := writeStubHelper(t, "exec sleep 60\n")

	s := NewSupervisor(stubConfig(helper, time.Second))
	require.NoError(t, s.Start("/archive.tar.gz", t.TempDir()))
	require.True(t, s.Alive())
	pid := s.PID()
	require.NotZero(t, pid)

	s.Terminate(context.Background())

	// the wait goroutine needs a beat to observe the exit
	deadline := time.Now().Add(5 * time.Second)
	for s.Alive() && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	assert.False(t, s.Alive())
}

func TestTerminateIsIdempotent(t *testing.T) {
	helper := writeStubHelper(t, "exec sleep 60\n")

	s := NewSupervisor(stubConfig(helper, time.Second))
	require.NoError(t, s.Start("/archive.tar.gz", t.TempDir()))

	s.Terminate(context.Background())
	s.Terminate(context.Background())
}

func TestAlternateCandidatesDisabled(t *testing.T) {
	cfg := stubConfig("sbctl", time.Second)
	cfg.AllowAlternateKubeconfig = false

	s := NewSupervisor(cfg)
	assert.Empty(t, s.alternateKubeconfigCandidates())
}

func TestAlternateCandidatesEnabled(t *testing.T) {
	s := NewSupervisor(stubConfig("sbctl", time.Second))
	candidates := s.alternateKubeconfigCandidates()
	assert.Contains(t, candidates, filepath.Join(os.TempDir(), "kubeconfig"))
}
