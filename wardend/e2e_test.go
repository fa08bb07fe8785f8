package main

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// buildWardend compiles the supervisor into dir and returns the binary
// path.
func buildWardend(t *testing.T, dir string) string {
	t.Helper()

	goTool, err := exec.LookPath("go")
	if err != nil {
		t.Skip("go tool not available")
	}

	bin := filepath.Join(dir, "wardend")

	cmd := exec.Command(goTool, "build", "-o", bin, ".")
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "Failed to build wardend: %s", out)

	return bin
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}

		time.Sleep(50 * time.Millisecond)
	}

	t.Fatalf("Timed out waiting for %s", what)
}

// TestSupervisorPropagation starts the supervisor around a long sleep,
// sends it the termination signal and expects the pidfile to be removed
// and the daemon to be gone within a bounded interval.
func TestSupervisorPropagation(t *testing.T) {
	if testing.Short() {
		t.Skip("Spawns processes")
	}

	dir := t.TempDir()
	bin := buildWardend(t, dir)
	pidDir := t.TempDir()

	launcher := exec.Command(bin, "--pidfiles", pidDir, "--name", "svc", "--", "sleep", "60")
	launcher.Env = os.Environ()

	// The launcher is only the first detachment stage: it re-executes
	// itself into a new session and exits 0 immediately.
	out, err := launcher.CombinedOutput()
	require.NoError(t, err, "Launcher failed: %s", out)

	pidPath := filepath.Join(pidDir, "svc.pid")

	var daemonPid int
	waitFor(t, 10*time.Second, "the pidfile to appear", func() bool {
		content, err := os.ReadFile(pidPath)
		if err != nil {
			return false
		}

		pid, err := strconv.Atoi(strings.TrimSuffix(string(content), "\n"))
		if err != nil || pid <= 0 {
			return false
		}

		daemonPid = pid
		return true
	})

	// Whatever happens below, don't leak the daemon.
	defer func() { _ = unix.Kill(daemonPid, unix.SIGKILL) }()

	// The daemon is alive and holds the pidfile.
	require.NoError(t, unix.Kill(daemonPid, 0))

	// A second invocation with the same name must be refused.
	second := exec.Command(bin, "--pidfiles", pidDir, "--name", "svc", "--", "sleep", "60")
	_ = second.Run()

	content, err := os.ReadFile(pidPath)
	require.NoError(t, err)
	require.Equal(t, strconv.Itoa(daemonPid)+"\n", string(content), "The original daemon must keep the pidfile")

	// Terminate: the supervisor forwards the signal to its process group,
	// removes the pidfile and exits 0.
	require.NoError(t, unix.Kill(daemonPid, unix.SIGTERM))

	waitFor(t, 10*time.Second, "the pidfile to be removed", func() bool {
		_, err := os.Stat(pidPath)
		return os.IsNotExist(err)
	})

	waitFor(t, 10*time.Second, "the daemon to exit", func() bool {
		return unix.Kill(daemonPid, 0) != nil
	})
}

// TestSupervisorUsageError checks that a missing command vector is a
// startup failure with exit status 1.
func TestSupervisorUsageError(t *testing.T) {
	if testing.Short() {
		t.Skip("Spawns processes")
	}

	dir := t.TempDir()
	bin := buildWardend(t, dir)

	cmd := exec.Command(bin)
	err := cmd.Run()

	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, 1, exitErr.ExitCode())
}
