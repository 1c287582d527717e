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

package files

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replicatedhq/troubleshoot-mcp/pkg/bundle"
	"github.com/replicatedhq/troubleshoot-mcp/pkg/toolerror"
)

type fakeSource struct {
	meta *bundle.Metadata
}

func (f *fakeSource) GetActiveBundle() *bundle.Metadata {
	return f.meta
}

// newTestExplorer builds an explorer over a populated fake bundle tree.
func newTestExplorer(t *testing.T) (*Explorer, string) {
	t.Helper()
	root := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(root, "cluster-resources"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "logs"), 0o755))

	writeFile(t, filepath.Join(root, "cluster-resources", "pods.json"), "{\"items\": []}\n")
	writeFile(t, filepath.Join(root, "logs", "app.log"), "line one\nsome ERROR here\nline three\n")
	writeFile(t, filepath.Join(root, "logs", "db.log"), "error at start\nok\nanother error\n")
	require.NoError(t, os.WriteFile(filepath.Join(root, "logs", "core.bin"), []byte{0x7f, 0x45, 0x4c, 0x46, 0x00, 0x01}, 0o644))

	source := &fakeSource{meta: &bundle.Metadata{
		ID:          "test-bundle",
		Path:        root,
		Initialized: true,
	}}
	return NewExplorer(source), root
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestNoActiveBundle(t *testing.T) {
	e := NewExplorer(&fakeSource{})

	_, err := e.ListFiles("/", false)
	assert.Equal(t, toolerror.KindNoActiveBundle, toolerror.KindOf(err))

	_, err = e.ReadFile("x", 0, -1)
	assert.Equal(t, toolerror.KindNoActiveBundle, toolerror.KindOf(err))

	_, err = e.GrepFiles("x", "/", true, "", false, 10)
	assert.Equal(t, toolerror.KindNoActiveBundle, toolerror.KindOf(err))
}

func TestListFiles(t *testing.T) {
	e, _ := newTestExplorer(t)

	result, err := e.ListFiles("/", false)
	require.NoError(t, err)
	assert.Equal(t, "/", result.Path)
	assert.Equal(t, 2, result.TotalDirs)
	assert.Equal(t, 0, result.TotalFiles)

	result, err = e.ListFiles("logs", false)
	require.NoError(t, err)
	assert.Equal(t, 3, result.TotalFiles)

	var binaries, texts int
	for _, entry := range result.Entries {
		require.Equal(t, "file", entry.Type)
		assert.NotZero(t, entry.Size)
		if entry.IsBinary {
			binaries++
		} else {
			texts++
		}
	}
	assert.Equal(t, 1, binaries)
	assert.Equal(t, 2, texts)
}

func TestListFilesRecursive(t *testing.T) {
	e, _ := newTestExplorer(t)

	result, err := e.ListFiles("/", true)
	require.NoError(t, err)
	assert.Equal(t, 2, result.TotalDirs)
	assert.Equal(t, 4, result.TotalFiles)

	paths := make([]string, 0, len(result.Entries))
	for _, entry := range result.Entries {
		paths = append(paths, entry.Path)
	}
	assert.Contains(t, paths, "cluster-resources/pods.json")
	assert.Contains(t, paths, "logs/app.log")
}

func TestListFilesErrors(t *testing.T) {
	e, _ := newTestExplorer(t)

	_, err := e.ListFiles("missing-dir", false)
	assert.Equal(t, toolerror.KindPathNotFound, toolerror.KindOf(err))

	_, err = e.ListFiles("logs/app.log", false)
	assert.Equal(t, toolerror.KindFilesystemError, toolerror.KindOf(err))

	_, err = e.ListFiles("../etc", false)
	assert.Equal(t, toolerror.KindInvalidPath, toolerror.KindOf(err))
}

func TestReadFile(t *testing.T) {
	e, _ := newTestExplorer(t)

	result, err := e.ReadFile("logs/app.log", 0, -1)
	require.NoError(t, err)
	assert.False(t, result.Binary)
	assert.Equal(t, 3, result.TotalLines)
	assert.Equal(t, 0, result.StartLine)
	assert.Equal(t, 2, result.EndLine)
	assert.Equal(t, "line one\nsome ERROR here\nline three", result.Content)
}

func TestReadFileRange(t *testing.T) {
	e, _ := newTestExplorer(t)

	result, err := e.ReadFile("logs/app.log", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, "some ERROR here", result.Content)
	assert.Equal(t, 1, result.StartLine)
	assert.Equal(t, 1, result.EndLine)
	assert.Equal(t, 3, result.TotalLines)
}

func TestReadFileBinary(t *testing.T) {
	e, _ := newTestExplorer(t)

	result, err := e.ReadFile("logs/core.bin", 0, -1)
	require.NoError(t, err)
	assert.True(t, result.Binary)
	// hex dump, not raw bytes
	assert.Contains(t, result.Content, "7f 45 4c 46")
}

func TestReadFileErrors(t *testing.T) {
	e, _ := newTestExplorer(t)

	_, err := e.ReadFile("logs", 0, -1)
	assert.Equal(t, toolerror.KindReadFileError, toolerror.KindOf(err))

	_, err = e.ReadFile("missing.txt", 0, -1)
	assert.Equal(t, toolerror.KindPathNotFound, toolerror.KindOf(err))

	_, err = e.ReadFile("../../etc/passwd", 0, -1)
	assert.Equal(t, toolerror.KindInvalidPath, toolerror.KindOf(err))
}

func TestGrepFiles(t *testing.T) {
	e, _ := newTestExplorer(t)

	result, err := e.GrepFiles("error", "/", true, "", false, 100)
	require.NoError(t, err)
	assert.Equal(t, 3, result.TotalMatches)
	assert.False(t, result.Truncated)
	assert.GreaterOrEqual(t, result.FilesSearched, 2)

	for _, m := range result.Matches {
		assert.NotEmpty(t, m.Match)
		assert.GreaterOrEqual(t, m.Offset, 0)
		assert.Contains(t, m.Line, m.Match)
	}
}

func TestGrepFilesCaseSensitive(t *testing.T) {
	e, _ := newTestExplorer(t)

	result, err := e.GrepFiles("ERROR", "/", true, "", true, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, result.TotalMatches)
	assert.Equal(t, "logs/app.log", result.Matches[0].Path)
	assert.Equal(t, 1, result.Matches[0].LineNumber)
}

func TestGrepFilesTruncation(t *testing.T) {
	e, _ := newTestExplorer(t)

	result, err := e.GrepFiles("error", "/", true, "", false, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, result.TotalMatches)
	assert.Len(t, result.Matches, 1)
	assert.True(t, result.Truncated)
	assert.GreaterOrEqual(t, result.FilesSearched, 1)
}

func TestGrepFilesGlob(t *testing.T) {
	e, _ := newTestExplorer(t)

	result, err := e.GrepFiles("error", "/", true, "*.log", false, 100)
	require.NoError(t, err)
	assert.Equal(t, 3, result.TotalMatches)

	result, err = e.GrepFiles(".", "/", true, "*.json", false, 100)
	require.NoError(t, err)
	for _, m := range result.Matches {
		assert.Contains(t, m.Path, ".json")
	}
}

func TestGrepFilesInvalidInput(t *testing.T) {
	e, _ := newTestExplorer(t)

	_, err := e.GrepFiles("", "/", true, "", false, 100)
	assert.Equal(t, toolerror.KindInvalidInput, toolerror.KindOf(err))

	_, err = e.GrepFiles("[unclosed", "/", true, "", false, 100)
	assert.Equal(t, toolerror.KindInvalidInput, toolerror.KindOf(err))
}

func TestGrepFilesSkipsBinary(t *testing.T) {
	e, _ := newTestExplorer(t)

	// ELF magic would match "ELF" but binary files are skipped
	result, err := e.GrepFiles("ELF", "logs", true, "", true, 100)
	require.NoError(t, err)
	assert.Zero(t, result.TotalMatches)
}

func TestIsBinaryContent(t *testing.T) {
	assert.False(t, isBinaryContent([]byte("plain text\n")))
	assert.False(t, isBinaryContent(nil))
	assert.True(t, isBinaryContent([]byte{0x00, 0x01, 0x02}))
	assert.False(t, isBinaryContent([]byte("utf-8 ok: héllo")))
}
