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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"k8s.io/klog/v2"

	"github.com/replicatedhq/troubleshoot-mcp/pkg/toolerror"
)

// Vendor portal URL shape and the metadata endpoint the slug is substituted
// into. The portal has shipped both a top-level signedUri and a nested
// bundle.uri across versions; both are accepted.
var (
	vendorPortalPattern = regexp.MustCompile(`^https://vendor\.replicated\.com/troubleshoot/analyze/([^/]+)/?$`)
	vendorAPIEndpoint   = "https://api.replicated.com/vendor/v3/supportbundle/%s"
	downloadUnsafeChars = regexp.MustCompile(`[^\w\-.]`)
	downloadChunkSize   = int64(32 * 1024)
)

// acquire resolves a source string into a local archive path. An absolute
// path is used as is when it exists; a relative one is tried under the
// storage directory, then matched against the catalogue. URLs are
// downloaded, with the vendor-portal token exchange
// applied when the URL matches the portal pattern.
func (m *Manager) acquire(ctx context.Context, source string) (string, int64, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return m.downloadBundle(ctx, source)
	}
	p, err := m.resolveLocalSource(source)
	return p, 0, err
}

func (m *Manager) resolveLocalSource(source string) (string, error) {
	if filepath.IsAbs(source) {
		if _, err := os.Stat(source); err == nil {
			return source, nil
		}
	} else {
		candidate := filepath.Join(m.storageDir, source)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}

		bundles, err := m.ListAvailableBundles(true)
		if err != nil {
			klog.Warningf("Error searching catalogue for %q: %v", source, err)
		}
		for _, b := range bundles {
			if b.RelativePath == source || b.Name == source {
				klog.Infof("Found matching bundle by relative path: %s", b.Path)
				return b.Path, nil
			}
		}
	}

	return "", toolerror.New(toolerror.KindBundleNotFound,
		"bundle not found: %s (tried both as absolute path and in bundle directory %s)", source, m.storageDir)
}

// downloadBundle fetches a bundle over HTTP, enforcing the configured size
// cap both against the advertised content length and against the running
// total while streaming. The original URL is retained for identifier
// generation and messages even when a signed URL is substituted.
func (m *Manager) downloadBundle(ctx context.Context, originalURL string) (string, int64, error) {
	downloadURL := originalURL
	sendAuth := true

	if vendorPortalPattern.MatchString(originalURL) {
		signed, err := m.fetchSignedURL(ctx, originalURL)
		if err != nil {
			return "", 0, err
		}
		// Signed URLs carry their own credentials; an Authorization
		// header makes object stores reject the request.
		downloadURL = signed
		sendAuth = false
	}

	destPath := filepath.Join(m.storageDir, downloadFilename(originalURL))

	ctx, cancel := context.WithTimeout(ctx, m.cfg.DownloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return "", 0, toolerror.Wrap(err, toolerror.KindDownloadFailed, "build download request for %s", originalURL)
	}
	req.Header.Set("User-Agent", m.cfg.UserAgent())
	if sendAuth && m.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+m.cfg.AuthToken)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", 0, toolerror.Wrap(err, toolerror.KindDownloadFailed, "download bundle from %s", originalURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, toolerror.New(toolerror.KindDownloadFailed,
			"failed to download bundle from %s: HTTP %d %s", originalURL, resp.StatusCode, resp.Status)
	}

	if resp.ContentLength > m.cfg.MaxDownloadBytes {
		return "", 0, toolerror.New(toolerror.KindDownloadTooLarge,
			"bundle size (%d bytes) exceeds maximum allowed size (%d bytes)", resp.ContentLength, m.cfg.MaxDownloadBytes)
	}

	written, err := m.streamToFile(resp.Body, destPath)
	if err != nil {
		return "", 0, err
	}

	klog.Infof("Downloaded %d bytes to %s", written, destPath)
	return destPath, written, nil
}

func (m *Manager) streamToFile(body io.Reader, destPath string) (int64, error) {
	f, err := os.Create(destPath)
	if err != nil {
		return 0, toolerror.Wrap(err, toolerror.KindDownloadFailed, "create download file %s", destPath)
	}

	var total int64
	for {
		n, err := io.CopyN(f, body, downloadChunkSize)
		total += n
		if total > m.cfg.MaxDownloadBytes {
			f.Close()
			os.Remove(destPath)
			return 0, toolerror.New(toolerror.KindDownloadTooLarge,
				"bundle download exceeded maximum allowed size (%d bytes)", m.cfg.MaxDownloadBytes)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			f.Close()
			os.Remove(destPath)
			return 0, toolerror.Wrap(err, toolerror.KindDownloadFailed, "stream bundle to %s", destPath)
		}
	}

	if err := f.Close(); err != nil {
		os.Remove(destPath)
		return 0, toolerror.Wrap(err, toolerror.KindDownloadFailed, "finish download file %s", destPath)
	}
	return total, nil
}

// fetchSignedURL performs the vendor-portal metadata exchange: an
// authenticated GET against the metadata endpoint, returning the short-lived
// signed download URL from the response.
func (m *Manager) fetchSignedURL(ctx context.Context, originalURL string) (string, error) {
	match := vendorPortalPattern.FindStringSubmatch(originalURL)
	if match == nil {
		return "", toolerror.New(toolerror.KindDownloadFailed, "invalid vendor portal URL: %s", originalURL)
	}
	slug := match[1]
	klog.Infof("Detected vendor portal URL with slug: %s", slug)

	if m.cfg.AuthToken == "" {
		return "", toolerror.New(toolerror.KindUnauthorized,
			"cannot download from the vendor portal: SBCTL_TOKEN or REPLICATED_TOKEN is not set")
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.DownloadTimeout)
	defer cancel()

	apiURL := fmt.Sprintf(vendorAPIEndpoint, url.PathEscape(slug))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return "", toolerror.Wrap(err, toolerror.KindMetadataFailed, "build metadata request")
	}
	// The portal expects the raw token, not a bearer scheme.
	req.Header.Set("Authorization", m.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", m.cfg.UserAgent())

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", toolerror.Wrap(err, toolerror.KindMetadataFailed, "request signed URL for slug %s", slug)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return "", toolerror.New(toolerror.KindUnauthorized,
			"vendor portal rejected the token (status %d); check SBCTL_TOKEN/REPLICATED_TOKEN", resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return "", toolerror.New(toolerror.KindBundleNotFound,
			"support bundle not found on the vendor portal (slug: %s)", slug)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", toolerror.New(toolerror.KindMetadataFailed,
			"vendor portal metadata request failed (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		SignedURI string `json:"signedUri"`
		Bundle    struct {
			URI string `json:"uri"`
		} `json:"bundle"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", toolerror.Wrap(err, toolerror.KindMetadataMalformed, "decode vendor portal response")
	}

	signed := payload.SignedURI
	if signed == "" {
		signed = payload.Bundle.URI
	}
	if signed == "" {
		return "", toolerror.New(toolerror.KindMetadataMalformed,
			"vendor portal response has neither signedUri nor bundle.uri")
	}

	klog.Infof("Retrieved signed URL from vendor portal for slug %s", slug)
	return signed, nil
}

// downloadFilename derives a safe on-disk name from the original URL's last
// path segment, or generates one when the URL has no usable segment.
func downloadFilename(originalURL string) string {
	name := ""
	if u, err := url.Parse(originalURL); err == nil {
		name = path.Base(u.Path)
	}
	if name == "." || name == "/" {
		name = ""
	}
	name = downloadUnsafeChars.ReplaceAllString(name, "_")
	if name == "" || strings.Trim(name, "_.") == "" {
		name = "bundle_" + GenerateBundleID(originalURL) + ".tar.gz"
	}
	return name
}
