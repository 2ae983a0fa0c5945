package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// The serve file lives next to the credential file and is private to the
// user, like it.
const (
	serveFilePerm = 0o600
	serveDirPerm  = 0o700
)

// errNoDaemon means no serve process is running.
var errNoDaemon = errors.New("no running serve process")

// serveInfo is what a running serve records about itself.
type serveInfo struct {
	PID     int       `json:"pid"`
	Listen  string    `json:"listen"`
	Started time.Time `json:"started"`
}

// serveLock is the held serve file. While it is held no second serve can
// start against the same data directory.
type serveLock struct {
	path string
	f    *os.File
}

// acquireServeLock creates path, takes a non-blocking exclusive flock on it,
// and records the current process and its listen address.
func acquireServeLock(path, listen string) (*serveLock, error) {
	if path == "" {
		return nil, errors.New("serve: PID file path is empty, no data directory")
	}

	if err := os.MkdirAll(filepath.Dir(path), serveDirPerm); err != nil {
		return nil, fmt.Errorf("serve: creating PID file directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, serveFilePerm)
	if err != nil {
		return nil, fmt.Errorf("serve: opening PID file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		if info, readErr := readServeInfo(path); readErr == nil {
			return nil, fmt.Errorf("serve: already running as PID %d on %s", info.PID, info.Listen)
		}

		return nil, fmt.Errorf("serve: already running (could not lock %s)", path)
	}

	lock := &serveLock{path: path, f: f}

	if err := lock.write(serveInfo{PID: os.Getpid(), Listen: listen, Started: time.Now().UTC()}); err != nil {
		f.Close()
		return nil, err
	}

	return lock, nil
}

func (l *serveLock) write(info serveInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("serve: encoding PID file: %w", err)
	}

	if err := l.f.Truncate(0); err != nil {
		return fmt.Errorf("serve: truncating PID file: %w", err)
	}

	if _, err := l.f.WriteAt(append(data, '\n'), 0); err != nil {
		return fmt.Errorf("serve: writing PID file: %w", err)
	}

	// Readers in other processes must see the record before we accept signals.
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("serve: syncing PID file: %w", err)
	}

	return nil
}

// Release removes the file and drops the lock.
func (l *serveLock) Release() {
	os.Remove(l.path)
	l.f.Close()
}

// readServeInfo parses the record a serve process left in path.
func readServeInfo(path string) (serveInfo, error) {
	var info serveInfo

	data, err := os.ReadFile(path)
	if err != nil {
		return info, fmt.Errorf("reading PID file: %w", err)
	}

	if err := json.Unmarshal(data, &info); err != nil || info.PID <= 0 {
		return serveInfo{}, fmt.Errorf("invalid PID file %s", path)
	}

	return info, nil
}

// signalDaemon sends sig to the serve process recorded in pidPath. A record
// whose process is gone is removed.
func signalDaemon(pidPath string, sig syscall.Signal) (serveInfo, error) {
	info, err := readServeInfo(pidPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return info, fmt.Errorf("%w (no PID file at %s)", errNoDaemon, pidPath)
		}

		return info, err
	}

	proc, err := os.FindProcess(info.PID)
	if err != nil {
		return info, fmt.Errorf("finding process %d: %w", info.PID, err)
	}

	// Signal 0 probes for liveness.
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		os.Remove(pidPath)

		return info, fmt.Errorf("%w: PID %d is gone (stale PID file removed)", errNoDaemon, info.PID)
	}

	if err := proc.Signal(sig); err != nil {
		return info, fmt.Errorf("sending %s to serve (PID %d): %w", sig, info.PID, err)
	}

	return info, nil
}

// runningServe reports the serve process recorded in path if it is alive.
func runningServe(path string) (serveInfo, bool) {
	info, err := readServeInfo(path)
	if err != nil {
		return serveInfo{}, false
	}

	proc, err := os.FindProcess(info.PID)
	if err != nil || proc.Signal(syscall.Signal(0)) != nil {
		return serveInfo{}, false
	}

	return info, true
}
