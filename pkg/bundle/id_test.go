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
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIDPrefix(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{"support-bundle-2025-04-11T14_05_31.tar.gz", "support-bundle-2025-04-11T14_05_31_tar_gz"},
		{"/data/bundles/my bundle.tgz", "my_bundle_tgz"},
		{"https://vendor.replicated.com/troubleshoot/analyze/2025-06-18@16:39", "b_2025-06-18_16_39"},
		{"-leading-hyphen", "b_-leading-hyphen"},
		{"9starts-with-digit", "b_9starts-with-digit"},
		{"", "b_"},
		{"///", "b_"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, idPrefix(tt.source), "source %q", tt.source)
	}
}

func TestGenerateBundleID(t *testing.T) {
	id := GenerateBundleID("bundle.tar.gz")
	assert.Regexp(t, regexp.MustCompile(`^bundle_tar_gz_[0-9a-f]{16}$`), id)

	// prefix is deterministic, suffix is not
	other := GenerateBundleID("bundle.tar.gz")
	assert.NotEqual(t, id, other)
	assert.Equal(t, id[:len(id)-16], other[:len(other)-16])
}
