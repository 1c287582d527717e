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

// Package toolerror defines the closed error taxonomy shared by every tool.
// Components return these; the dispatcher switches on the kind and hands the
// message to the formatter. Anything that escapes without a kind becomes
// KindInternal.
package toolerror

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindInvalidInput      Kind = "invalid_input"
	KindBundleNotFound    Kind = "bundle_not_found"
	KindDownloadFailed    Kind = "download_failed"
	KindDownloadTooLarge  Kind = "download_too_large"
	KindUnauthorized      Kind = "unauthorized"
	KindMetadataFailed    Kind = "bundle_metadata_failed"
	KindMetadataMalformed Kind = "bundle_metadata_malformed"
	KindHelperNotReady    Kind = "helper_not_ready"
	KindHelperExited      Kind = "helper_exited"
	KindAPIUnavailable    Kind = "api_unavailable"
	KindKubectlFailed     Kind = "kubectl_failed"
	KindKubectlTimeout    Kind = "kubectl_timeout"
	KindPathNotFound      Kind = "path_not_found"
	KindInvalidPath       Kind = "invalid_path"
	KindReadFileError     Kind = "read_file_error"
	KindFilesystemError   Kind = "filesystem_error"
	KindNoActiveBundle    Kind = "no_active_bundle"
	KindInternal          Kind = "internal_error"
)

// Error carries a taxonomy kind plus an optional structured diagnostics
// payload that the debug formatter appends verbatim.
type Error struct {
	Kind        Kind
	Message     string
	Diagnostics map[string]any
	cause       error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error. A nil cause returns a nil
// *Error; stored in an error interface that value is not a nil error, so
// call sites check the cause before wrapping.
func Wrap(cause error, kind Kind, format string, args ...any) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// WithDiagnostics returns e with the diagnostics payload attached.
func (e *Error) WithDiagnostics(d map[string]any) *Error {
	e.Diagnostics = d
	return e
}

// KindOf extracts the taxonomy kind from an error chain. Unclassified errors
// report KindInternal.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindInternal
}

// DiagnosticsOf returns the diagnostics payload from the first taxonomy
// error in the chain, or nil.
func DiagnosticsOf(err error) map[string]any {
	var te *Error
	if errors.As(err, &te) {
		return te.Diagnostics
	}
	return nil
}
