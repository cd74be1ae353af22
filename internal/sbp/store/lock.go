package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/greeddj/go-sbp/internal/sbp/helpers"
	"golang.org/x/sys/unix"
)

// lockInfo is persisted inside the lock file.
type lockInfo struct {
	PID     int       `json:"pid"`
	Host    string    `json:"host"`
	Started time.Time `json:"started"`
}

// AcquireLock creates a lock file in cacheDir so only one process prunes or purges at a time.
func AcquireLock(cacheDir string) (func() error, error) {
	if cacheDir == "" {
		return nil, helpers.ErrCacheDirEmpty
	}
	if err := os.MkdirAll(cacheDir, helpers.DirMod); err != nil {
		return nil, err
	}

	lockPath := filepath.Join(cacheDir, helpers.StoreDBLock)
	payload, err := marshalLockPayload()
	if err != nil {
		return nil, err
	}

	for {
		release, ok, err := tryCreateLock(lockPath, payload)
		if ok || err != nil {
			return release, err
		}
		if err := handleExistingLock(lockPath); err != nil {
			return nil, err
		}
	}
}

func marshalLockPayload() ([]byte, error) {
	host, _ := os.Hostname()
	return json.Marshal(&lockInfo{
		PID:     os.Getpid(),
		Host:    host,
		Started: time.Now().UTC(),
	})
}

func tryCreateLock(lockPath string, payload []byte) (func() error, bool, error) {
	//nolint:gosec // lockPath is derived from cacheDir and is intended for lock file IO.
	f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, helpers.FileMod)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if _, err := f.Write(payload); err != nil {
		_ = f.Close()
		_ = os.Remove(lockPath)
		return nil, false, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(lockPath)
		return nil, false, err
	}
	return func() error { return releaseLock(lockPath, payload) }, true, nil
}

// handleExistingLock removes a lock left behind by a dead process.
func handleExistingLock(lockPath string) error {
	//nolint:gosec // lockPath is derived from cacheDir and is intended for lock file IO.
	existing, err := os.ReadFile(lockPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var current lockInfo
	if err := json.Unmarshal(existing, &current); err != nil {
		return fmt.Errorf("lock file exists but is invalid: %w", err)
	}
	if isProcessAlive(current.PID) {
		return fmt.Errorf("%w (pid %d)", helpers.ErrAnotherInstanceIsRunning, current.PID)
	}
	if err := os.Remove(lockPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// releaseLock removes the lock file if it still holds payload.
func releaseLock(lockPath string, payload []byte) error {
	//nolint:gosec // lockPath is created by AcquireLock and is intended for lock file IO.
	existing, err := os.ReadFile(lockPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if !bytes.Equal(existing, payload) {
		return nil
	}
	return os.Remove(lockPath)
}

func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
