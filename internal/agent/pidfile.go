package agent

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"agentmesh/internal/fsutil"
)

// WritePIDFile records the current process id for the stop command.
func WritePIDFile(path string) error {
	data := strconv.Itoa(os.Getpid()) + "\n"
	return fsutil.WriteFileAtomic(path, []byte(data), 0o644)
}

// ReadPIDFile returns the recorded pid, or 0 when no daemon is recorded.
func ReadPIDFile(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, fmt.Errorf("pid file %s: %w", path, err)
	}
	return pid, nil
}

// RemovePIDFile is tolerant of the file already being gone.
func RemovePIDFile(path string) {
	_ = os.Remove(path)
}

// StopDaemon sends SIGTERM to the recorded daemon and escalates to
// SIGKILL when it does not exit within the grace period.
func StopDaemon(path string, grace time.Duration) error {
	pid, err := ReadPIDFile(path)
	if err != nil {
		return err
	}
	if pid == 0 {
		return fmt.Errorf("no daemon recorded at %s", path)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		RemovePIDFile(path)
		return fmt.Errorf("signal pid %d: %w", pid, err)
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if err := proc.Signal(syscall.Signal(0)); err != nil {
			RemovePIDFile(path)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	_ = proc.Signal(syscall.SIGKILL)
	RemovePIDFile(path)
	return nil
}
