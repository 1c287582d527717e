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
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/mholt/archiver/v3"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/replicatedhq/troubleshoot-mcp/pkg/config"
	"github.com/replicatedhq/troubleshoot-mcp/pkg/sandbox"
	"github.com/replicatedhq/troubleshoot-mcp/pkg/toolerror"
)

// Manager is the lifecycle owner: it holds the single active bundle, drives
// acquisition and helper startup, and guarantees that the child process, the
// extraction directory, and any process-owned temporary storage root are
// released on every exit path. Initialize, CleanupActive and Cleanup hold its
// mutex for their whole run, so initialization and teardown never overlap;
// the other tools read the active record through GetActiveBundle and run
// without holding the lock.
type Manager struct {
	cfg        *config.Config
	httpClient *http.Client

	storageDir string
	// ownsStorageDir is true when the storage root is an anonymous temp
	// directory this process created; only then is it removed at shutdown.
	ownsStorageDir bool

	mu         sync.Mutex
	active     *Metadata
	supervisor *Supervisor
}

func NewManager(cfg *config.Config) (*Manager, error) {
	storageDir := cfg.BundleDir
	owns := false
	if storageDir == "" {
		storageDir = filepath.Join(os.TempDir(), "troubleshoot-mcp-"+uuid.NewString())
		owns = true
	}
	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create bundle storage directory %s", storageDir)
	}
	klog.V(1).Infof("Using bundle storage directory: %s (owned=%t)", storageDir, owns)

	return &Manager{
		cfg:            cfg,
		httpClient:     &http.Client{},
		storageDir:     storageDir,
		ownsStorageDir: owns,
	}, nil
}

// StorageDir exposes the storage root for diagnostics and the catalogue.
func (m *Manager) StorageDir() string {
	return m.storageDir
}

// GetActiveBundle returns the active bundle record, or nil. Collaborators
// read bundle paths exclusively through this getter.
func (m *Manager) GetActiveBundle() *Metadata {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// IsInitialized reports whether an initialized bundle is active.
func (m *Manager) IsInitialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil && m.active.Initialized
}

// Initialize acquires a bundle from source, starts the helper, waits for
// readiness, and records the active bundle. With an initialized bundle
// already active and force unset this is a no-op returning the existing
// record; with force set the current bundle is torn down first.
func (m *Manager) Initialize(ctx context.Context, source string, force bool) (*Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil && m.active.Initialized && !force {
		klog.Infof("Using already initialized bundle: %s", m.active.ID)
		return m.active, nil
	}

	m.cleanupActiveLocked(ctx)

	klog.Infof("Initializing bundle from source: %s", source)

	meta, err := m.initializeLocked(ctx, source)
	if err != nil {
		if toolerror.KindOf(err) == toolerror.KindInternal {
			klog.Errorf("Unexpected error initializing bundle: %v", err)
		} else {
			klog.Errorf("Failed to initialize bundle: %v", err)
		}
		return nil, err
	}

	m.active = meta
	klog.Infof("Bundle initialized: %s", meta.ID)
	return meta, nil
}

func (m *Manager) initializeLocked(ctx context.Context, source string) (*Metadata, error) {
	archivePath, _, err := m.acquire(ctx, source)
	if err != nil {
		return nil, err
	}

	id := GenerateBundleID(source)
	outputDir := filepath.Join(m.storageDir, id)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, toolerror.Wrap(err, toolerror.KindInternal, "create bundle output directory %s", outputDir)
	}

	supervisor := NewSupervisor(m.cfg)
	if err := supervisor.Start(archivePath, outputDir); err != nil {
		m.removeBundleDir(outputDir)
		return nil, err
	}
	m.supervisor = supervisor

	kubeconfigPath, err := supervisor.WaitReady(ctx)
	if err != nil {
		supervisor.Terminate(ctx)
		m.supervisor = nil
		m.removeBundleDir(outputDir)
		return nil, err
	}

	if _, err := os.Stat(kubeconfigPath); err != nil {
		supervisor.Terminate(ctx)
		m.supervisor = nil
		m.removeBundleDir(outputDir)
		return nil, toolerror.New(toolerror.KindHelperNotReady,
			"kubeconfig not created at %s", kubeconfigPath)
	}

	m.ensureExtracted(archivePath, outputDir)

	return &Metadata{
		ID:             id,
		Source:         source,
		Path:           outputDir,
		KubeconfigPath: kubeconfigPath,
		Initialized:    true,
	}, nil
}

// ensureExtracted populates an extracted/ subtree for the file explorer
// when the helper has not already done so.
func (m *Manager) ensureExtracted(archivePath, outputDir string) {
	extractDir := filepath.Join(outputDir, "extracted")
	if _, err := os.Stat(extractDir); err == nil {
		return
	}
	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		klog.Warningf("Failed to create extract directory %s: %v", extractDir, err)
		return
	}

	files, dirs, err := extractArchive(archivePath, extractDir)
	if err != nil {
		klog.Warningf("Error extracting bundle to %s: %v", extractDir, err)
		return
	}
	klog.Infof("Extracted bundle contains %d files and %d directories", files, dirs)
}

// extractArchive unpacks a tar.gz into destDir, sanitizing each member name
// before writing: leading separators are stripped and members with parent
// traversal segments are skipped.
func extractArchive(archivePath, destDir string) (int, int, error) {
	files, dirs := 0, 0
	err := archiver.Walk(archivePath, func(f archiver.File) error {
		hdr, ok := f.Header.(*tar.Header)
		if !ok {
			return nil
		}
		name := sanitizeMemberName(hdr.Name)
		if name == "" {
			return nil
		}
		target := filepath.Join(destDir, name)

		if f.IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			dirs++
			return nil
		}
		if !hdr.FileInfo().Mode().IsRegular() {
			// symlinks and devices have no business in a support bundle
			return nil
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		out, err := os.Create(target)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, f); err != nil {
			out.Close()
			return err
		}
		if err := out.Close(); err != nil {
			return err
		}
		files++
		return nil
	})
	return files, dirs, err
}

func sanitizeMemberName(name string) string {
	name = strings.TrimLeft(filepath.ToSlash(name), "/")
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return ""
		}
	}
	return filepath.FromSlash(name)
}

// CheckAPIServerAvailable reports whether the emulated API currently
// responds. False when no helper is running.
func (m *Manager) CheckAPIServerAvailable(ctx context.Context) bool {
	m.mu.Lock()
	supervisor := m.supervisor
	m.mu.Unlock()
	if supervisor == nil {
		return false
	}
	return supervisor.CheckAPIServerAvailable(ctx)
}

// Diagnostics returns the structured diagnostics record for the current
// helper and bundle state.
func (m *Manager) Diagnostics(ctx context.Context) map[string]any {
	m.mu.Lock()
	supervisor := m.supervisor
	active := m.active
	m.mu.Unlock()

	var d map[string]any
	if supervisor != nil {
		d = supervisor.Diagnostics(ctx, active != nil && active.Initialized)
	} else {
		d = map[string]any{
			"sbctl_available":       HelperAvailable(m.cfg),
			"sbctl_process_running": false,
			"api_server_available":  false,
			"bundle_initialized":    false,
		}
	}

	if active != nil {
		info := map[string]any{
			"id":              active.ID,
			"source":          active.Source,
			"path":            active.Path,
			"kubeconfig_path": active.KubeconfigPath,
		}
		if st, err := os.Stat(active.KubeconfigPath); err == nil {
			info["kubeconfig_exists"] = true
			info["kubeconfig_modified"] = st.ModTime()
		} else {
			info["kubeconfig_exists"] = false
		}
		d["active_bundle"] = info
	}

	return d
}

// CleanupActive tears down the active bundle: helper first, then the
// extraction directory, then the record. Safe to call with nothing active.
func (m *Manager) CleanupActive(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanupActiveLocked(ctx)
}

func (m *Manager) cleanupActiveLocked(ctx context.Context) {
	if m.supervisor != nil {
		m.supervisor.Terminate(ctx)
		m.supervisor = nil
	}

	if m.active == nil {
		return
	}
	klog.Infof("Cleaning up active bundle: %s", m.active.ID)
	m.removeBundleDir(m.active.Path)
	m.active = nil
}

// removeBundleDir deletes a per-bundle directory, refusing anything at or
// above the storage root.
func (m *Manager) removeBundleDir(dir string) {
	if dir == "" {
		return
	}
	if !sandbox.StrictlyContains(m.storageDir, dir) {
		klog.Warningf("Not removing directory outside bundle storage: %s", dir)
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		klog.Errorf("Error removing bundle directory %s: %v", dir, err)
		return
	}
	klog.V(1).Infof("Removed bundle directory: %s", dir)
}

// Cleanup releases everything this Manager owns, including an owned storage
// root. Called on shutdown (the periodic cleanup task uses CleanupActive
// instead); idempotent.
func (m *Manager) Cleanup(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cleanupActiveLocked(ctx)

	// Final sweep for helpers that slipped past per-bundle termination.
	if m.cfg.CleanupOrphans {
		sweep := NewSupervisor(m.cfg)
		if err := sweep.sweepOrphans(); err != nil {
			klog.Warningf("Error during final orphan sweep: %v", err)
		}
	}

	if m.ownsStorageDir {
		if err := os.RemoveAll(m.storageDir); err != nil {
			klog.Errorf("Failed to remove temporary bundle storage %s: %v", m.storageDir, err)
		} else {
			klog.Infof("Removed temporary bundle storage: %s", m.storageDir)
		}
	}
}
