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
	"archive/tar"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mholt/archiver/v3"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// classifyMemberLimit bounds how far into an archive the validity check
// looks. Support bundles put cluster-resources/ near the front, so 20
// members is enough without reading the whole index.
const classifyMemberLimit = 20

var bundleExtensions = []string{".tar.gz", ".tgz"}

// ListAvailableBundles enumerates candidate archives in the storage
// directory, newest first. Invalid entries are dropped unless
// includeInvalid is set.
func (m *Manager) ListAvailableBundles(includeInvalid bool) ([]FileInfo, error) {
	if _, err := os.Stat(m.storageDir); err != nil {
		klog.Warningf("Bundle storage directory %s does not exist", m.storageDir)
		return nil, nil
	}

	entries, err := os.ReadDir(m.storageDir)
	if err != nil {
		return nil, errors.Wrap(err, "read bundle storage directory")
	}

	var bundles []FileInfo
	for _, entry := range entries {
		if entry.IsDir() || !hasBundleExtension(entry.Name()) {
			continue
		}

		fullPath := filepath.Join(m.storageDir, entry.Name())
		valid, message := checkBundleValidity(fullPath)
		if !valid && !includeInvalid {
			klog.V(2).Infof("Skipping invalid bundle %s: %s", fullPath, message)
			continue
		}

		info := FileInfo{
			Path:              fullPath,
			RelativePath:      entry.Name(),
			Name:              entry.Name(),
			Valid:             valid,
			ValidationMessage: message,
		}
		if fi, err := entry.Info(); err == nil {
			info.SizeBytes = fi.Size()
			info.ModifiedTime = fi.ModTime()
		}
		bundles = append(bundles, info)
	}

	sort.Slice(bundles, func(i, j int) bool {
		return bundles[i].ModifiedTime.After(bundles[j].ModifiedTime)
	})

	return bundles, nil
}

func hasBundleExtension(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range bundleExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// checkBundleValidity peeks at the first few member names of an archive
// without extracting anything. A plausible support bundle contains a
// cluster-resources/ segment or a support-bundle- top-level prefix.
func checkBundleValidity(path string) (bool, string) {
	info, err := os.Stat(path)
	if err != nil {
		return false, "File not found"
	}
	if info.IsDir() {
		return false, "Not a file"
	}
	if !hasBundleExtension(path) {
		return false, "Not a .tar.gz or .tgz file"
	}

	seen := 0
	found := false
	err = archiver.Walk(path, func(f archiver.File) error {
		name := memberName(f)
		if strings.Contains(name, "cluster-resources/") || strings.HasPrefix(name, "support-bundle-") {
			found = true
			return archiver.ErrStopWalk
		}
		seen++
		if seen >= classifyMemberLimit {
			return archiver.ErrStopWalk
		}
		return nil
	})
	if err != nil {
		return false, fmt.Sprintf("Not a valid tar.gz file: %v", err)
	}
	if !found {
		return false, "File doesn't contain expected support bundle structure (no cluster-resources or support-bundle directories)"
	}
	return true, ""
}

func memberName(f archiver.File) string {
	if hdr, ok := f.Header.(*tar.Header); ok {
		return hdr.Name
	}
	return f.Name()
}
