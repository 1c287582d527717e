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

package sandbox

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replicatedhq/troubleshoot-mcp/pkg/toolerror"
)

func TestResolve(t *testing.T) {
	root := filepath.Join("/", "bundles", "extracted")

	tests := []struct {
		name     string
		path     string
		want     string
		wantKind toolerror.Kind
	}{
		{
			name: "simple relative path",
			path: "cluster-resources/pods.json",
			want: filepath.Join(root, "cluster-resources", "pods.json"),
		},
		{
			name: "leading slash treated as bundle root",
			path: "/cluster-resources",
			want: filepath.Join(root, "cluster-resources"),
		},
		{
			name: "empty path is the root",
			path: "",
			want: root,
		},
		{
			name: "root slash",
			path: "/",
			want: root,
		},
		{
			name:     "parent traversal",
			path:     "../etc",
			wantKind: toolerror.KindInvalidPath,
		},
		{
			name:     "embedded traversal",
			path:     "logs/../../etc/passwd",
			wantKind: toolerror.KindInvalidPath,
		},
		{
			name:     "absolute traversal",
			path:     "/../../etc",
			wantKind: toolerror.KindInvalidPath,
		},
		{
			name: "dot segments collapse",
			path: "./logs/./pod.log",
			want: filepath.Join(root, "logs", "pod.log"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(root, tt.path)
			if tt.wantKind != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, toolerror.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveEmptyRoot(t *testing.T) {
	_, err := Resolve("", "anything")
	require.Error(t, err)
	assert.Equal(t, toolerror.KindInvalidPath, toolerror.KindOf(err))
}

func TestContains(t *testing.T) {
	assert.True(t, Contains("/data/bundles", "/data/bundles/abc"))
	assert.True(t, Contains("/data/bundles", "/data/bundles"))
	assert.False(t, Contains("/data/bundles", "/data"))
	assert.False(t, Contains("/data/bundles", "/data/bundles-other"))

	assert.True(t, StrictlyContains("/data/bundles", "/data/bundles/abc"))
	assert.False(t, StrictlyContains("/data/bundles", "/data/bundles"))
}
