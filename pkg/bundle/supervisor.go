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
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	gopsnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
	"k8s.io/klog/v2"

	"github.com/replicatedhq/troubleshoot-mcp/pkg/config"
	"github.com/replicatedhq/troubleshoot-mcp/pkg/toolerror"
)

const (
	readinessPollInterval = 500 * time.Millisecond
	// Fraction of the ready timeout to keep probing the API after the
	// kubeconfig appears before proceeding without a responsive server.
	apiWaitFraction      = 0.3
	maxAPIProbeAttempts  = 5
	gracefulKillWait     = 3 * time.Second
	probeRequestTimeout  = 2 * time.Second
	kubeconfigFileName   = "kubeconfig"
	helperServeSubcmd    = "serve"
	helperLocationFlag   = "--support-bundle-location"
	stdoutBufferedLines  = 256
)

// apiProbeEndpoints are tried in order; a single 200 means the emulated API
// is up.
var apiProbeEndpoints = []string{"/api", "/healthz", "/version", "/apis", "/"}

var exportKubeconfigRegexp = regexp.MustCompile(`export KUBECONFIG=([^\s]+)`)

// Supervisor owns the single sbctl child process: it launches the helper,
// drains its pipes from dedicated goroutines, decides readiness, probes the
// emulated API, and terminates the process tree on demand. There is at most
// one live Supervisor per Manager.
type Supervisor struct {
	cfg *config.Config

	workDir     string
	archivePath string

	cmd         *exec.Cmd
	stdoutLines chan string

	mu         sync.Mutex
	stdoutSeen []string
	stderr     bytes.Buffer
	exitCode   *int

	exited chan struct{}
}

func NewSupervisor(cfg *config.Config) *Supervisor {
	return &Supervisor{
		cfg:         cfg,
		stdoutLines: make(chan string, stdoutBufferedLines),
		exited:      make(chan struct{}),
	}
}

// HelperAvailable reports whether the helper binary can be found on PATH.
func HelperAvailable(cfg *config.Config) bool {
	_, err := exec.LookPath(cfg.HelperBinary)
	return err == nil
}

// Start launches `sbctl serve --support-bundle-location <archive>` with the
// per-bundle directory as its working directory. The helper writes its
// kubeconfig into that directory, so working directories are never shared
// across bundles.
func (s *Supervisor) Start(archivePath, workDir string) error {
	s.workDir = workDir
	s.archivePath = archivePath

	// The helper outlives the request that started it; Terminate is the
	// only thing that stops it.
	cmd := exec.Command(s.cfg.HelperBinary, helperServeSubcmd, helperLocationFlag, archivePath)
	cmd.Dir = workDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return toolerror.Wrap(err, toolerror.KindInternal, "open helper stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return toolerror.Wrap(err, toolerror.KindInternal, "open helper stderr pipe")
	}

	klog.V(2).Infof("Running command: %s %s %s %s", s.cfg.HelperBinary, helperServeSubcmd, helperLocationFlag, archivePath)
	if err := cmd.Start(); err != nil {
		return toolerror.Wrap(err, toolerror.KindInternal, "start helper process")
	}
	s.cmd = cmd

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		s.readStdout(stdout)
	}()
	go func() {
		defer readers.Done()
		s.collectStderr(stderr)
	}()
	go func() {
		// Wait must not run until both pipes hit EOF, or it can close
		// them under the readers and drop output.
		readers.Wait()
		err := cmd.Wait()
		code := 0
		if err != nil {
			code = -1
			if exitErr, ok := err.(*exec.ExitError); ok {
				code = exitErr.ExitCode()
			}
		}
		s.mu.Lock()
		s.exitCode = &code
		s.mu.Unlock()
		close(s.exited)
	}()

	return nil
}

func (s *Supervisor) readStdout(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		select {
		case s.stdoutLines <- line:
		default:
			// readiness loop is behind; the line is dropped from the channel
			// and kept only in stdoutSeen below, which the export KUBECONFIG
			// scan does not read
		}
		s.mu.Lock()
		s.stdoutSeen = append(s.stdoutSeen, line)
		s.mu.Unlock()
	}
}

func (s *Supervisor) collectStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		s.mu.Lock()
		if s.stderr.Len() < 64*1024 {
			s.stderr.WriteString(scanner.Text())
			s.stderr.WriteByte('\n')
		}
		s.mu.Unlock()
	}
}

// Alive reports whether the helper process is running.
func (s *Supervisor) Alive() bool {
	if s.cmd == nil {
		return false
	}
	select {
	case <-s.exited:
		return false
	default:
		return true
	}
}

// PID returns the helper process id, or 0 before Start.
func (s *Supervisor) PID() int {
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// ExitCode returns the helper's exit code, or nil while it is running.
func (s *Supervisor) ExitCode() *int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode
}

func (s *Supervisor) drainedStderr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stderr.String()
}

// KubeconfigPath is where the helper is expected to write its kubeconfig.
func (s *Supervisor) KubeconfigPath() string {
	return filepath.Join(s.workDir, kubeconfigFileName)
}

// WaitReady blocks until the helper is usable or the ready timeout expires.
// Readiness means a kubeconfig exists and the API answered a probe — or, when
// the API stays quiet, that enough of the timeout has passed since the
// kubeconfig appeared (some environments bind the port well after writing
// the file; a bundle whose API is still waking up beats a hard failure).
func (s *Supervisor) WaitReady(ctx context.Context) (string, error) {
	expected := s.KubeconfigPath()
	deadline := time.Now().Add(s.cfg.ReadyTimeout)

	var (
		foundPath     string
		foundAt       time.Time
		probeAttempts int
		lateProceeds  int
	)
	alternates := s.alternateKubeconfigCandidates()

	ticker := time.NewTicker(readinessPollInterval)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		alternates = append(alternates, s.scanStdoutForKubeconfig()...)

		if foundPath == "" {
			if _, err := os.Stat(expected); err == nil {
				klog.Infof("Kubeconfig found at expected location: %s", expected)
				foundPath = expected
				foundAt = time.Now()
			} else if s.cfg.AllowAlternateKubeconfig {
				for _, alt := range alternates {
					if _, err := os.Stat(alt); err != nil {
						continue
					}
					klog.Infof("Kubeconfig found at alternate location: %s", alt)
					if err := copyFile(alt, expected); err != nil {
						klog.Warningf("Failed to copy kubeconfig from %s: %v", alt, err)
						foundPath = alt
					} else {
						foundPath = expected
					}
					foundAt = time.Now()
					break
				}
			}
		}

		if foundPath != "" {
			probeAttempts++
			if s.CheckAPIServerAvailable(ctx) {
				klog.Info("API server is available and responding")
				return foundPath, nil
			}
			klog.Warningf("Kubeconfig found but API server is not responding yet (attempt %d)", probeAttempts)

			waited := time.Since(foundAt)
			apiWait := time.Duration(float64(s.cfg.ReadyTimeout) * apiWaitFraction)
			if probeAttempts >= maxAPIProbeAttempts || waited > apiWait {
				lateProceeds++
				klog.Warningf("Proceeding without a responsive API server after %.1fs and %d probes (late-proceed count %d)",
					waited.Seconds(), probeAttempts, lateProceeds)
				return foundPath, nil
			}
		}

		if code := s.ExitCode(); code != nil && foundPath == "" {
			return "", toolerror.New(toolerror.KindHelperExited,
				"helper process exited with code %d before initialization completed: %s",
				*code, strings.TrimSpace(s.drainedStderr()))
		}

		select {
		case <-ctx.Done():
			return "", toolerror.Wrap(ctx.Err(), toolerror.KindHelperNotReady, "readiness wait cancelled")
		case <-ticker.C:
		}
	}

	if foundPath != "" {
		klog.Warning("Timeout waiting for API server, but kubeconfig was found; proceeding")
		return foundPath, nil
	}

	return "", toolerror.New(toolerror.KindHelperNotReady,
		"timeout waiting for bundle initialization after %s: %s",
		s.cfg.ReadyTimeout, strings.TrimSpace(s.drainedStderr())).
		WithDiagnostics(s.Diagnostics(ctx, false))
}

// alternateKubeconfigCandidates lists the locations sbctl is known to write
// kubeconfigs outside its working directory.
func (s *Supervisor) alternateKubeconfigCandidates() []string {
	if !s.cfg.AllowAlternateKubeconfig {
		return nil
	}
	candidates := []string{filepath.Join(os.TempDir(), kubeconfigFileName)}
	if matches, err := filepath.Glob("/var/folders/*/*/local-kubeconfig-*"); err == nil {
		candidates = append(candidates, matches...)
	}
	for _, dir := range []string{"/tmp", "/etc/kubernetes", "/var/run/kubernetes"} {
		candidate := filepath.Join(dir, kubeconfigFileName)
		if !containsString(candidates, candidate) {
			candidates = append(candidates, candidate)
		}
	}
	return candidates
}

// scanStdoutForKubeconfig drains buffered helper output and extracts paths
// from `export KUBECONFIG=...` lines.
func (s *Supervisor) scanStdoutForKubeconfig() []string {
	if !s.cfg.AllowAlternateKubeconfig {
		// still drain so the channel never blocks the readers
		for {
			select {
			case <-s.stdoutLines:
			default:
				return nil
			}
		}
	}

	var found []string
	for {
		select {
		case line := <-s.stdoutLines:
			klog.V(2).Infof("helper stdout: %s", line)
			if m := exportKubeconfigRegexp.FindStringSubmatch(line); m != nil {
				klog.Infof("Found kubeconfig path in helper output: %s", m[1])
				found = append(found, m[1])
			}
		default:
			return found
		}
	}
}

// CheckAPIServerAvailable probes the emulated API server. It parses the
// current kubeconfig for the server address, tries each known endpoint with
// a short timeout, and falls back to a curl subprocess, which has saved us
// in container environments where the in-process client could not connect.
func (s *Supervisor) CheckAPIServerAvailable(ctx context.Context) bool {
	if !s.Alive() {
		klog.Warning("helper process is not running")
		return false
	}

	host, port := s.apiServerAddress()

	client := &http.Client{Timeout: probeRequestTimeout}
	for _, endpoint := range apiProbeEndpoints {
		probeURL := fmt.Sprintf("http://%s:%d%s", host, port, endpoint)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
		if err != nil {
			continue
		}
		resp, err := client.Do(req)
		if err != nil {
			klog.V(2).Infof("Probe %s failed: %v", probeURL, err)
			continue
		}
		resp.Body.Close()
		klog.V(2).Infof("Probe %s returned %d", probeURL, resp.StatusCode)
		if resp.StatusCode == http.StatusOK {
			return true
		}
	}

	for _, endpoint := range apiProbeEndpoints {
		probeURL := fmt.Sprintf("http://%s:%d%s", host, port, endpoint)
		if curlProbe(ctx, probeURL) {
			klog.Infof("API server is available at %s (curl check)", probeURL)
			return true
		}
	}

	klog.Warning("API server is not available at any endpoint")
	return false
}

func (s *Supervisor) apiServerAddress() (string, int) {
	content, err := os.ReadFile(s.KubeconfigPath())
	if err != nil {
		return "localhost", 8080
	}
	serverURL, err := ExtractAPIServer(content)
	if err != nil {
		klog.Warningf("Failed to parse kubeconfig: %v", err)
		return "localhost", 8080
	}
	return apiServerHostPort(serverURL)
}

func curlProbe(ctx context.Context, probeURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, "curl", "-s", "-o", "/dev/null", "-w", "%{http_code}", probeURL).Output()
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) == "200"
}

// Diagnostics assembles the structured record returned to users on failures
// and by the debug formatter: binary discoverability, process and API state,
// and per-port listener checks with raw probe status codes.
func (s *Supervisor) Diagnostics(ctx context.Context, bundleInitialized bool) map[string]any {
	d := map[string]any{
		"sbctl_available":      HelperAvailable(s.cfg),
		"sbctl_process_running": s.Alive(),
		"api_server_available": s.Alive() && s.CheckAPIServerAvailable(ctx),
		"bundle_initialized":   bundleInitialized,
	}

	if s.cmd != nil && s.cmd.Process != nil {
		proc := map[string]any{"pid": s.cmd.Process.Pid}
		if code := s.ExitCode(); code != nil {
			proc["exit_code"] = *code
		}
		d["sbctl_process"] = proc
	}

	host, port := s.apiServerAddress()
	ports := map[string]any{}
	for _, p := range []int{port, 8080} {
		key := fmt.Sprintf("port_%d", p)
		if _, ok := ports[key+"_checked"]; ok {
			continue
		}
		ports[key+"_checked"] = true
		ports[key+"_listening"] = portListening(uint32(p))

		probeURL := fmt.Sprintf("http://%s:%d/api", host, p)
		client := &http.Client{Timeout: probeRequestTimeout}
		if resp, err := client.Get(probeURL); err == nil {
			ports[key+"_status"] = resp.StatusCode
			resp.Body.Close()
		} else {
			ports[key+"_error"] = err.Error()
		}
	}
	d["ports"] = ports

	s.mu.Lock()
	if n := len(s.stdoutSeen); n > 0 {
		d["helper_stdout_tail"] = strings.Join(s.stdoutSeen[max(0, n-10):], "\n")
	}
	if s.stderr.Len() > 0 {
		d["helper_stderr"] = s.stderr.String()
	}
	s.mu.Unlock()

	return d
}

func portListening(port uint32) bool {
	conns, err := gopsnet.Connections("tcp")
	if err != nil {
		return false
	}
	for _, c := range conns {
		if c.Status == "LISTEN" && c.Laddr.Port == port {
			return true
		}
	}
	return false
}

// Terminate stops the helper and everything it may have left behind:
// graceful signal then kill for the child, any pid recorded in a PID file in
// the working directory, and — when orphan cleanup is enabled — a sweep over
// the process table for helpers still holding this bundle's archive,
// finished by a best-effort match on binary name and subcommand. Failures
// are aggregated and logged; termination always completes.
func (s *Supervisor) Terminate(ctx context.Context) {
	var errs *multierror.Error

	if s.cmd != nil && s.cmd.Process != nil && s.Alive() {
		klog.V(2).Info("Terminating helper process")
		if err := s.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			errs = multierror.Append(errs, err)
		}
		select {
		case <-s.exited:
			klog.V(2).Info("Helper process terminated gracefully")
		case <-time.After(gracefulKillWait):
			klog.Warning("Helper did not exit after SIGTERM; killing")
			if err := s.cmd.Process.Kill(); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
	}

	for _, pid := range s.pidFilePIDs() {
		errs = multierror.Append(errs, terminatePID(pid))
	}

	if s.cfg.CleanupOrphans {
		errs = multierror.Append(errs, s.sweepOrphans())
	}

	if err := errs.ErrorOrNil(); err != nil {
		klog.Warningf("Errors during helper termination (continuing): %v", err)
	}
}

// pidFilePIDs reads any *.pid files the helper dropped in its working
// directory.
func (s *Supervisor) pidFilePIDs() []int32 {
	if s.workDir == "" {
		return nil
	}
	matches, err := filepath.Glob(filepath.Join(s.workDir, "*.pid"))
	if err != nil {
		return nil
	}
	var pids []int32
	for _, pidFile := range matches {
		data, err := os.ReadFile(pidFile)
		if err != nil {
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
		if err != nil {
			continue
		}
		pids = append(pids, int32(pid))
		if err := os.Remove(pidFile); err != nil {
			klog.Warningf("Failed to remove PID file %s: %v", pidFile, err)
		}
	}
	return pids
}

// sweepOrphans walks the process table and terminates helpers tied to this
// bundle's archive, then any stray `<helper> serve` as a final sweep.
func (s *Supervisor) sweepOrphans() error {
	procs, err := process.Processes()
	if err != nil {
		return err
	}

	var errs *multierror.Error
	self := int32(os.Getpid())
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		cmdline, err := p.Cmdline()
		if err != nil || !strings.Contains(cmdline, s.cfg.HelperBinary) {
			continue
		}
		related := s.archivePath != "" && strings.Contains(cmdline, s.archivePath)
		stray := strings.Contains(cmdline, s.cfg.HelperBinary+" "+helperServeSubcmd)
		if !related && !stray {
			continue
		}
		klog.V(2).Infof("Terminating orphaned helper process %d: %s", p.Pid, cmdline)
		errs = multierror.Append(errs, terminatePID(p.Pid))
	}
	return errs.ErrorOrNil()
}

// terminatePID applies the graceful-then-forceful sequence to an arbitrary
// pid. A missing process is not an error.
func terminatePID(pid int32) error {
	p, err := process.NewProcess(pid)
	if err != nil {
		return nil
	}
	if err := p.Terminate(); err != nil {
		return p.Kill()
	}
	deadline := time.Now().Add(gracefulKillWait)
	for time.Now().Before(deadline) {
		if running, err := p.IsRunning(); err != nil || !running {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return p.Kill()
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
