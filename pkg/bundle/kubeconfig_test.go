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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractAPIServerJSON(t *testing.T) {
	content := []byte(`{"clusters":[{"cluster":{"server":"http://localhost:31423"}}]}`)
	server, err := ExtractAPIServer(content)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:31423", server)
}

func TestExtractAPIServerYAML(t *testing.T) {
	content := []byte(`apiVersion: v1
kind: Config
clusters:
- name: sbctl
  cluster:
    server: http://127.0.0.1:8443
contexts:
- name: sbctl
  context:
    cluster: sbctl
    user: sbctl
current-context: sbctl
users:
- name: sbctl
  user: {}
`)
	server, err := ExtractAPIServer(content)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8443", server)
}

func TestExtractAPIServerRegexFallback(t *testing.T) {
	// Not a loadable kubeconfig, but the server line is still there.
	content := []byte("some: [broken\n  server: http://localhost:9091\nmore garbage")
	server, err := ExtractAPIServer(content)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9091", server)
}

func TestExtractAPIServerNoServer(t *testing.T) {
	_, err := ExtractAPIServer([]byte("nothing useful here"))
	assert.Error(t, err)
}

func TestAPIServerHostPort(t *testing.T) {
	tests := []struct {
		url      string
		wantHost string
		wantPort int
	}{
		{"http://localhost:31423", "localhost", 31423},
		{"http://127.0.0.1:8443", "127.0.0.1", 8443},
		{"http://localhost", "localhost", 8080},
		{"not a url", "localhost", 8080},
		{"", "localhost", 8080},
	}
	for _, tt := range tests {
		host, port := apiServerHostPort(tt.url)
		assert.Equal(t, tt.wantHost, host, tt.url)
		assert.Equal(t, tt.wantPort, port, tt.url)
	}
}
