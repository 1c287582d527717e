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

// Package files explores the extracted tree of the active bundle. Every
// user-supplied path goes through the sandbox; nothing outside the
// extracted root is ever opened.
package files

import (
	"bufio"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gobwas/glob"
	"k8s.io/klog/v2"

	"github.com/replicatedhq/troubleshoot-mcp/pkg/bundle"
	"github.com/replicatedhq/troubleshoot-mcp/pkg/sandbox"
	"github.com/replicatedhq/troubleshoot-mcp/pkg/toolerror"
)

const (
	// binarySniffLen is how much of a file's head the binary check reads.
	binarySniffLen = 1024

	DefaultMaxGrepResults = 1000
)

type FileInfo struct {
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	Type       string    `json:"type"` // "file" or "dir"
	Size       int64     `json:"size"`
	AccessTime time.Time `json:"access_time"`
	ModifyTime time.Time `json:"modify_time"`
	IsBinary   bool      `json:"is_binary"`
}

type ListResult struct {
	Path       string     `json:"path"`
	Recursive  bool       `json:"recursive"`
	Entries    []FileInfo `json:"entries"`
	TotalFiles int        `json:"total_files"`
	TotalDirs  int        `json:"total_dirs"`
}

type ReadResult struct {
	Path       string `json:"path"`
	Content    string `json:"content"`
	StartLine  int    `json:"start_line"`
	EndLine    int    `json:"end_line"`
	TotalLines int    `json:"total_lines"`
	Binary     bool   `json:"binary"`
}

type GrepMatch struct {
	Path       string `json:"path"`
	LineNumber int    `json:"line_number"` // zero-based
	Line       string `json:"line"`
	Match      string `json:"match"`
	Offset     int    `json:"offset"` // byte offset of the match within the line
}

type GrepResult struct {
	Pattern       string      `json:"pattern"`
	Path          string      `json:"path"`
	GlobPattern   string      `json:"glob_pattern,omitempty"`
	CaseSensitive bool        `json:"case_sensitive"`
	Matches       []GrepMatch `json:"matches"`
	TotalMatches  int         `json:"total_matches"`
	FilesSearched int         `json:"files_searched"`
	Truncated     bool        `json:"truncated"`
}

// BundleSource hands out the active bundle record. *bundle.Manager is the
// production implementation.
type BundleSource interface {
	GetActiveBundle() *bundle.Metadata
}

// Explorer reads the active bundle's extracted tree. It holds no state of
// its own; the bundle source is consulted for the current root on every
// call.
type Explorer struct {
	source BundleSource
}

func NewExplorer(source BundleSource) *Explorer {
	return &Explorer{source: source}
}

func (e *Explorer) root() (string, error) {
	meta := e.source.GetActiveBundle()
	if meta == nil || !meta.Initialized {
		return "", toolerror.New(toolerror.KindNoActiveBundle,
			"no bundle is initialized; use initialize_bundle first")
	}
	return meta.ExtractedRoot(), nil
}

// ListFiles returns directory entries under path, optionally recursing.
func (e *Explorer) ListFiles(path string, recursive bool) (*ListResult, error) {
	root, err := e.root()
	if err != nil {
		return nil, err
	}
	target, err := sandbox.Resolve(root, path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(target)
	if os.IsNotExist(err) {
		return nil, toolerror.New(toolerror.KindPathNotFound, "path not found in bundle: %s", path)
	}
	if err != nil {
		return nil, toolerror.Wrap(err, toolerror.KindFilesystemError, "stat %s", path)
	}
	if !info.IsDir() {
		return nil, toolerror.New(toolerror.KindFilesystemError, "path is not a directory: %s", path)
	}

	result := &ListResult{Path: normalizeDisplayPath(path), Recursive: recursive}

	appendEntry := func(absPath string, d fs.DirEntry) error {
		fi, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(root, absPath)
		if err != nil {
			return nil
		}
		entry := FileInfo{
			Name:       d.Name(),
			Path:       filepath.ToSlash(rel),
			Size:       fi.Size(),
			AccessTime: accessTime(fi),
			ModifyTime: fi.ModTime(),
		}
		if d.IsDir() {
			entry.Type = "dir"
			result.TotalDirs++
		} else {
			entry.Type = "file"
			entry.IsBinary = isBinaryFile(absPath)
			result.TotalFiles++
		}
		result.Entries = append(result.Entries, entry)
		return nil
	}

	if recursive {
		err = filepath.WalkDir(target, func(p string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				klog.Warningf("Error walking %s: %v", p, walkErr)
				return nil
			}
			if p == target {
				return nil
			}
			return appendEntry(p, d)
		})
	} else {
		var entries []fs.DirEntry
		entries, err = os.ReadDir(target)
		for _, d := range entries {
			appendEntry(filepath.Join(target, d.Name()), d)
		}
	}
	if err != nil {
		return nil, toolerror.Wrap(err, toolerror.KindFilesystemError, "list files under %s", path)
	}

	return result, nil
}

// ReadFile returns file content with an optional inclusive line range.
// Binary files come back as a hex dump with no line slicing.
func (e *Explorer) ReadFile(path string, startLine, endLine int) (*ReadResult, error) {
	root, err := e.root()
	if err != nil {
		return nil, err
	}
	target, err := sandbox.Resolve(root, path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(target)
	if os.IsNotExist(err) {
		return nil, toolerror.New(toolerror.KindPathNotFound, "file not found in bundle: %s", path)
	}
	if err != nil {
		return nil, toolerror.Wrap(err, toolerror.KindReadFileError, "stat %s", path)
	}
	if info.IsDir() {
		return nil, toolerror.New(toolerror.KindReadFileError, "path is a directory, not a file: %s", path)
	}

	data, err := os.ReadFile(target)
	if err != nil {
		return nil, toolerror.Wrap(err, toolerror.KindReadFileError, "read %s", path)
	}

	display := normalizeDisplayPath(path)

	if isBinaryContent(head(data, binarySniffLen)) {
		return &ReadResult{
			Path:       display,
			Content:    hex.Dump(data),
			TotalLines: 0,
			Binary:     true,
		}, nil
	}

	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	total := len(lines)
	if len(data) == 0 {
		lines, total = nil, 0
	}
	if total == 0 {
		return &ReadResult{Path: display}, nil
	}

	// Lines are zero-based and the range is inclusive; a negative endLine
	// means read to the end of the file.
	if startLine < 0 {
		startLine = 0
	}
	if startLine > total-1 {
		startLine = total - 1
	}
	if endLine < 0 || endLine > total-1 {
		endLine = total - 1
	}
	if endLine < startLine {
		endLine = startLine
	}

	return &ReadResult{
		Path:       display,
		Content:    strings.Join(lines[startLine:endLine+1], "\n"),
		StartLine:  startLine,
		EndLine:    endLine,
		TotalLines: total,
	}, nil
}

// GrepFiles scans file contents for a regular expression. File names are
// filtered by the glob before opening; scanning stops as soon as maxResults
// matches have been collected.
func (e *Explorer) GrepFiles(pattern, path string, recursive bool, globPattern string, caseSensitive bool, maxResults int) (*GrepResult, error) {
	if pattern == "" {
		return nil, toolerror.New(toolerror.KindInvalidInput, "search pattern cannot be empty")
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxGrepResults
	}

	exprText := pattern
	if !caseSensitive {
		exprText = "(?i)" + exprText
	}
	expr, err := regexp.Compile(exprText)
	if err != nil {
		return nil, toolerror.Wrap(err, toolerror.KindInvalidInput, "invalid search pattern %q", pattern)
	}

	var nameFilter glob.Glob
	if globPattern != "" {
		nameFilter, err = glob.Compile(globPattern)
		if err != nil {
			return nil, toolerror.Wrap(err, toolerror.KindInvalidInput, "invalid glob pattern %q", globPattern)
		}
	}

	root, err := e.root()
	if err != nil {
		return nil, err
	}
	target, err := sandbox.Resolve(root, path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(target); os.IsNotExist(err) {
		return nil, toolerror.New(toolerror.KindPathNotFound, "path not found in bundle: %s", path)
	}

	result := &GrepResult{
		Pattern:       pattern,
		Path:          normalizeDisplayPath(path),
		GlobPattern:   globPattern,
		CaseSensitive: caseSensitive,
	}

	scan := func(absPath string) error {
		if nameFilter != nil && !nameFilter.Match(filepath.Base(absPath)) {
			return nil
		}
		result.FilesSearched++
		rel, relErr := filepath.Rel(root, absPath)
		if relErr != nil {
			return nil
		}
		if err := grepFile(expr, absPath, filepath.ToSlash(rel), maxResults, result); err != nil {
			klog.V(2).Infof("Skipping unreadable file %s: %v", absPath, err)
		}
		if result.Truncated {
			return filepath.SkipAll
		}
		return nil
	}

	info, err := os.Stat(target)
	if err != nil {
		return nil, toolerror.Wrap(err, toolerror.KindFilesystemError, "stat %s", path)
	}

	if !info.IsDir() {
		if err := scan(target); err != nil && err != filepath.SkipAll {
			return nil, toolerror.Wrap(err, toolerror.KindFilesystemError, "search %s", path)
		}
	} else if recursive {
		walkErr := filepath.WalkDir(target, func(p string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil || d.IsDir() {
				return nil
			}
			return scan(p)
		})
		if walkErr != nil && walkErr != filepath.SkipAll {
			return nil, toolerror.Wrap(walkErr, toolerror.KindFilesystemError, "search under %s", path)
		}
	} else {
		entries, readErr := os.ReadDir(target)
		if readErr != nil {
			return nil, toolerror.Wrap(readErr, toolerror.KindFilesystemError, "list %s", path)
		}
		for _, d := range entries {
			if d.IsDir() {
				continue
			}
			if err := scan(filepath.Join(target, d.Name())); err == filepath.SkipAll {
				break
			}
		}
	}

	result.TotalMatches = len(result.Matches)
	return result, nil
}

func grepFile(expr *regexp.Regexp, absPath, relPath string, maxResults int, result *GrepResult) error {
	f, err := os.Open(absPath)
	if err != nil {
		return err
	}
	defer f.Close()

	headBuf := make([]byte, binarySniffLen)
	n, _ := f.Read(headBuf)
	if isBinaryContent(headBuf[:n]) {
		return nil
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		line := scanner.Text()
		if loc := expr.FindStringIndex(line); loc != nil {
			result.Matches = append(result.Matches, GrepMatch{
				Path:       relPath,
				LineNumber: lineNo,
				Line:       line,
				Match:      line[loc[0]:loc[1]],
				Offset:     loc[0],
			})
			if len(result.Matches) >= maxResults {
				result.Truncated = true
				return nil
			}
		}
		lineNo++
	}
	return scanner.Err()
}

// isBinaryFile sniffs the head of a file for NUL bytes or invalid UTF-8.
func isBinaryFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	buf := make([]byte, binarySniffLen)
	n, _ := f.Read(buf)
	return isBinaryContent(buf[:n])
}

func isBinaryContent(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	for _, b := range data {
		if b == 0 {
			return true
		}
	}
	if utf8.Valid(data) {
		return false
	}
	// A truncated multibyte rune at the sniff boundary is still text.
	for i := 1; i < 4 && i < len(data); i++ {
		if utf8.Valid(data[:len(data)-i]) {
			return false
		}
	}
	return true
}

func head(data []byte, n int) []byte {
	if len(data) < n {
		return data
	}
	return data[:n]
}

func normalizeDisplayPath(path string) string {
	trimmed := strings.Trim(filepath.ToSlash(path), "/")
	if trimmed == "" {
		return "/"
	}
	return trimmed
}
