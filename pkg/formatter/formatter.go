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

// Package formatter renders tool results at the configured verbosity.
//
// minimal and standard emit compact machine-readable JSON; verbose keeps
// the human-readable format with fenced JSON blocks and usage hints; debug
// is verbose plus diagnostics. File contents are not wrapped in JSON:
// minimal returns the text as is and standard prefixes it with a one-line
// header. minimal kubectl output that is not JSON is returned as raw text.
package formatter

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/replicatedhq/troubleshoot-mcp/pkg/bundle"
	"github.com/replicatedhq/troubleshoot-mcp/pkg/config"
	"github.com/replicatedhq/troubleshoot-mcp/pkg/files"
	"github.com/replicatedhq/troubleshoot-mcp/pkg/kubectl"
)

type Formatter struct {
	verbosity config.Verbosity
}

func New(verbosity config.Verbosity) *Formatter {
	return &Formatter{verbosity: verbosity}
}

func (f *Formatter) compact() bool {
	return f.verbosity == config.VerbosityMinimal || f.verbosity == config.VerbosityStandard
}

func (f *Formatter) debug() bool {
	return f.verbosity == config.VerbosityDebug
}

// FormatBundleInitialization renders the initialize_bundle result.
func (f *Formatter) FormatBundleInitialization(meta *bundle.Metadata, apiAvailable bool, diagnostics map[string]any) string {
	status := "ready"
	if !apiAvailable {
		status = "api_unavailable"
	}

	switch f.verbosity {
	case config.VerbosityMinimal:
		return mustJSON(map[string]any{"bundle_id": meta.ID, "status": status})
	case config.VerbosityStandard:
		return mustJSON(map[string]any{
			"bundle_id":   meta.ID,
			"source":      meta.Source,
			"status":      status,
			"initialized": meta.Initialized,
		})
	}

	body := fencedJSON(meta)
	var sb strings.Builder
	if apiAvailable {
		sb.WriteString("Bundle initialized successfully:\n")
		sb.WriteString(body)
	} else {
		sb.WriteString("Bundle initialized but API server is NOT available. kubectl commands may fail:\n")
		sb.WriteString(body)
	}
	if f.debug() && diagnostics != nil {
		sb.WriteString("\n\nDiagnostic information:\n")
		sb.WriteString(fencedJSON(diagnostics))
	}
	return sb.String()
}

// FormatBundleList renders the list_available_bundles result.
func (f *Formatter) FormatBundleList(bundles []bundle.FileInfo) string {
	if len(bundles) == 0 && !f.compact() {
		return "No support bundles found. You may need to download or transfer a bundle to the bundle storage directory."
	}

	switch f.verbosity {
	case config.VerbosityMinimal:
		names := []string{}
		for _, b := range bundles {
			if b.Valid {
				names = append(names, b.Name)
			}
		}
		return mustJSON(names)
	case config.VerbosityStandard:
		list := []map[string]any{}
		for _, b := range bundles {
			if !b.Valid {
				continue
			}
			list = append(list, map[string]any{
				"name":       b.Name,
				"source":     b.RelativePath,
				"size_bytes": b.SizeBytes,
			})
		}
		return mustJSON(map[string]any{"bundles": list, "count": len(list)})
	}

	list := make([]map[string]any, 0, len(bundles))
	var example *bundle.FileInfo
	for i := range bundles {
		b := bundles[i]
		entry := map[string]any{
			"name":       b.Name,
			"source":     b.RelativePath,
			"full_path":  b.Path,
			"size_bytes": b.SizeBytes,
			"size":       humanSize(b.SizeBytes),
			"modified":   b.ModifiedTime.Format("2006-01-02 15:04:05"),
			"valid":      b.Valid,
		}
		if !b.Valid && b.ValidationMessage != "" {
			entry["validation_message"] = b.ValidationMessage
		}
		list = append(list, entry)
		if example == nil && b.Valid {
			example = &bundles[i]
		}
	}
	if example == nil {
		example = &bundles[0]
	}

	var sb strings.Builder
	sb.WriteString(fencedJSON(map[string]any{"bundles": list, "total": len(list)}))
	sb.WriteString("\n\n## Usage Instructions\n\n")
	sb.WriteString("To use one of these bundles, initialize it with the `initialize_bundle` tool using the `source` value:\n\n")
	sb.WriteString("```json\n{\n  \"source\": \"" + example.RelativePath + "\"\n}\n```\n\n")
	sb.WriteString("After initializing a bundle, explore it with `list_files`, `read_file`, and `grep_files`, and run kubectl commands with the `kubectl` tool.")
	return sb.String()
}

// FormatFileList renders the list_files result.
func (f *Formatter) FormatFileList(result *files.ListResult) string {
	switch f.verbosity {
	case config.VerbosityMinimal:
		names := []string{}
		for _, entry := range result.Entries {
			name := entry.Name
			if entry.Type == "dir" {
				name += "/"
			}
			names = append(names, name)
		}
		return mustJSON(names)
	case config.VerbosityStandard:
		list := []map[string]any{}
		for _, entry := range result.Entries {
			item := map[string]any{"name": entry.Name, "type": entry.Type}
			if entry.Type == "file" {
				item["size"] = entry.Size
			}
			list = append(list, item)
		}
		return mustJSON(map[string]any{"files": list, "count": len(list)})
	}

	mode := "non-recursively"
	if result.Recursive {
		mode = "recursively"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Listed files in %s %s:\n", result.Path, mode)
	sb.WriteString(fencedJSON(result.Entries))
	sb.WriteString("\nDirectory metadata:\n")
	sb.WriteString(fencedJSON(map[string]any{
		"path":        result.Path,
		"recursive":   result.Recursive,
		"total_files": result.TotalFiles,
		"total_dirs":  result.TotalDirs,
	}))
	return sb.String()
}

// FormatFileContent renders the read_file result.
func (f *Formatter) FormatFileContent(result *files.ReadResult) string {
	switch f.verbosity {
	case config.VerbosityMinimal:
		return result.Content
	case config.VerbosityStandard:
		if result.Binary {
			return fmt.Sprintf("Binary file:\n%s", result.Content)
		}
		return fmt.Sprintf("File content (%d lines):\n%s", result.TotalLines, result.Content)
	}

	if result.Binary {
		return fmt.Sprintf("Read binary file %s (binary data shown as hex):\n```\n%s\n```", result.Path, result.Content)
	}

	var numbered strings.Builder
	for i, line := range strings.Split(result.Content, "\n") {
		fmt.Fprintf(&numbered, "%4d | %s\n", result.StartLine+i+1, line)
	}
	return fmt.Sprintf("Read text file %s (lines %d-%d of %d):\n```\n%s```",
		result.Path, result.StartLine+1, result.EndLine+1, result.TotalLines, numbered.String())
}

// FormatGrepResults renders the grep_files result.
func (f *Formatter) FormatGrepResults(result *files.GrepResult) string {
	switch f.verbosity {
	case config.VerbosityMinimal:
		list := []map[string]any{}
		for _, m := range result.Matches {
			list = append(list, map[string]any{
				"file":  m.Path,
				"line":  m.LineNumber + 1,
				"match": m.Match,
			})
		}
		return mustJSON(list)
	case config.VerbosityStandard:
		list := []map[string]any{}
		for _, m := range result.Matches {
			list = append(list, map[string]any{
				"file":    m.Path,
				"line":    m.LineNumber + 1,
				"content": m.Line,
				"match":   m.Match,
			})
		}
		return mustJSON(map[string]any{
			"matches":        list,
			"total":          result.TotalMatches,
			"files_searched": result.FilesSearched,
		})
	}

	sensitivity := "case-insensitive"
	if result.CaseSensitive {
		sensitivity = "case-sensitive"
	}
	pathDesc := result.Path
	if result.GlobPattern != "" {
		pathDesc += fmt.Sprintf(" (matching %s)", result.GlobPattern)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d matches for %s pattern '%s' in %s:\n\n",
		result.TotalMatches, sensitivity, result.Pattern, pathDesc)

	if len(result.Matches) > 0 {
		byFile := map[string][]files.GrepMatch{}
		order := []string{}
		for _, m := range result.Matches {
			if _, ok := byFile[m.Path]; !ok {
				order = append(order, m.Path)
			}
			byFile[m.Path] = append(byFile[m.Path], m)
		}
		sort.Strings(order)
		for _, file := range order {
			fmt.Fprintf(&sb, "**File: %s**\n```\n", file)
			for _, m := range byFile[file] {
				fmt.Fprintf(&sb, "%4d | %s\n", m.LineNumber+1, m.Line)
			}
			sb.WriteString("```\n\n")
		}
		if result.Truncated {
			sb.WriteString("_Note: Results truncated to maximum matches._\n\n")
		}
	} else {
		sb.WriteString("No matches found.\n\n")
	}

	sb.WriteString("Search metadata:\n")
	sb.WriteString(fencedJSON(map[string]any{
		"pattern":        result.Pattern,
		"path":           result.Path,
		"glob_pattern":   result.GlobPattern,
		"total_matches":  result.TotalMatches,
		"files_searched": result.FilesSearched,
		"case_sensitive": result.CaseSensitive,
		"truncated":      result.Truncated,
	}))
	return sb.String()
}

// FormatKubectlResult renders the kubectl result.
func (f *Formatter) FormatKubectlResult(result *kubectl.Result) string {
	switch f.verbosity {
	case config.VerbosityMinimal:
		if result.IsJSON {
			return mustJSON(result.Output)
		}
		return result.Stdout
	case config.VerbosityStandard:
		output := any(result.Stdout)
		if result.IsJSON {
			output = result.Output
		}
		return mustJSON(map[string]any{"output": output, "exit_code": result.ExitCode})
	}

	var sb strings.Builder
	if result.IsJSON {
		sb.WriteString("kubectl command executed successfully:\n")
		sb.WriteString(fencedJSON(result.Output))
	} else {
		sb.WriteString("kubectl command executed successfully:\n```\n")
		sb.WriteString(result.Stdout)
		sb.WriteString("\n```")
	}

	metadata := map[string]any{
		"command":     result.Command,
		"exit_code":   result.ExitCode,
		"duration_ms": result.DurationMS,
	}
	if f.debug() && result.Stderr != "" {
		metadata["stderr"] = result.Stderr
	}
	sb.WriteString("\nCommand metadata:\n")
	sb.WriteString(fencedJSON(metadata))
	return sb.String()
}

// FormatError renders an error message with the same verbosity ladder:
// first line, first three lines, full text, full text plus diagnostics.
func (f *Formatter) FormatError(message string, diagnostics map[string]any) string {
	lines := strings.Split(message, "\n")
	switch f.verbosity {
	case config.VerbosityMinimal:
		return lines[0]
	case config.VerbosityStandard:
		if len(lines) > 3 {
			lines = lines[:3]
		}
		return strings.Join(lines, "\n")
	}

	if f.debug() && diagnostics != nil {
		return message + "\n\nDiagnostic information:\n" + fencedJSON(diagnostics)
	}
	return message
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func fencedJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("```\n%v\n```", v)
	}
	return "```json\n" + string(data) + "\n```"
}

func humanSize(size int64) string {
	switch {
	case size < 1024:
		return fmt.Sprintf("%d B", size)
	case size < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	case size < 1024*1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	default:
		return fmt.Sprintf("%.1f GB", float64(size)/(1024*1024*1024))
	}
}
