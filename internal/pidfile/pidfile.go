// Package pidfile guards against two agents sharing one data directory.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// PIDFile is a file holding the pid of the running agent.
type PIDFile struct {
	path string
}

// New refuses to start when the file names a live process, then writes
// the current pid to path.
func New(path string) (*PIDFile, error) {
	if err := checkPIDFileAlreadyExists(path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	file := &PIDFile{path: path}
	if err := file.Write(); err != nil {
		return nil, err
	}
	return file, nil
}

// Write stores the current pid.
func (file PIDFile) Write() error {
	return os.WriteFile(file.path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// Remove deletes the file.
func (file PIDFile) Remove() error {
	return os.Remove(file.path)
}

func checkPIDFileAlreadyExists(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		return nil
	}
	if processExists(pid) {
		return fmt.Errorf("pid file found, ensure boneagent is not running or delete %s", path)
	}
	return nil
}

// processExists probes pid with signal 0. EPERM means the process exists
// but belongs to another user.
func processExists(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
