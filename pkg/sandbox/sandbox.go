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

// Package sandbox confines user-supplied paths to a root directory. Every
// path a tool accepts from the client passes through Resolve before any
// filesystem access happens.
package sandbox

import (
	"path/filepath"
	"strings"

	"github.com/replicatedhq/troubleshoot-mcp/pkg/toolerror"
)

// Resolve normalizes userPath against root and returns the canonical
// absolute path. Leading separators are stripped so "/etc" means "etc"
// relative to the root. Any ".." segment, or a result that escapes the
// root after cleaning, is rejected with an invalid_path error.
func Resolve(root, userPath string) (string, error) {
	if root == "" {
		return "", toolerror.New(toolerror.KindInvalidPath, "sandbox root is empty")
	}

	for _, seg := range strings.Split(filepath.ToSlash(userPath), "/") {
		if seg == ".." {
			return "", toolerror.New(toolerror.KindInvalidPath, "path %q contains directory traversal", userPath)
		}
	}

	trimmed := strings.TrimLeft(userPath, "/\\")
	resolved := filepath.Clean(filepath.Join(root, trimmed))

	cleanRoot := filepath.Clean(root)
	if resolved != cleanRoot && !strings.HasPrefix(resolved, cleanRoot+string(filepath.Separator)) {
		return "", toolerror.New(toolerror.KindInvalidPath, "path %q resolves outside the bundle", userPath)
	}

	return resolved, nil
}

// Contains reports whether path lies at or strictly under root after
// cleaning.
func Contains(root, path string) bool {
	cleanRoot := filepath.Clean(root)
	cleanPath := filepath.Clean(path)
	return cleanPath == cleanRoot || strings.HasPrefix(cleanPath, cleanRoot+string(filepath.Separator))
}

// StrictlyContains is Contains minus equality: the path must be a true
// descendant of root. Used by cleanup code to refuse to remove directories
// at or above the storage root.
func StrictlyContains(root, path string) bool {
	return Contains(root, path) && filepath.Clean(path) != filepath.Clean(root)
}
