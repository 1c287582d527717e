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
	"crypto/rand"
	"encoding/hex"
	"path"
	"regexp"
	"strings"
)

var idUnsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// GenerateBundleID derives a unique bundle identifier from a source string.
// The prefix is a pure function of the source: the last path segment with
// every unsafe character replaced by an underscore, guarded with "b_" when
// it would start with a digit or hyphen or be empty. An 8-byte random hex
// suffix makes the full id unique across re-initializations.
func GenerateBundleID(source string) string {
	return idPrefix(source) + "_" + randomSuffix()
}

func idPrefix(source string) string {
	base := path.Base(strings.TrimRight(source, "/"))
	if base == "." || base == "/" {
		base = ""
	}

	sanitized := idUnsafeChars.ReplaceAllString(base, "_")
	if sanitized == "" || sanitized[0] == '-' || (sanitized[0] >= '0' && sanitized[0] <= '9') {
		sanitized = "b_" + sanitized
	}
	return sanitized
}

func randomSuffix() string {
	buf := make([]byte, 8)
	// rand.Read never fails on supported platforms
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
