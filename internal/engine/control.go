package engine

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	pidFile  = ".filingctl-pid"
	stopFile = ".filingctl-stop"
)

// Control coordinates a running worker process with `filingctl worker stop`
// through files in Dir. A stop file works the same on every platform, which
// signals do not.
type Control struct {
	Dir string
}

func NewControl(dir string) Control {
	if dir == "" {
		dir = "."
	}
	return Control{Dir: dir}
}

func (c Control) path(name string) string { return filepath.Join(c.Dir, name) }

func (c Control) WritePID(pid int) error {
	return c.write(pidFile, strconv.Itoa(pid))
}

func (c Control) ReadPID() (int, error) {
	b, err := os.ReadFile(c.path(pidFile))
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(b)))
}

func (c Control) RemovePID() {
	_ = os.Remove(c.path(pidFile))
}

// StopRequested is polled by the worker pool between units.
func (c Control) StopRequested() bool {
	_, err := os.Stat(c.path(stopFile))
	return err == nil
}

func (c Control) RequestStop() error {
	return c.write(stopFile, "stop")
}

func (c Control) write(name, body string) error {
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(c.path(name), []byte(body), 0o644)
}

func (c Control) ClearStop() error {
	err := os.Remove(c.path(stopFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
