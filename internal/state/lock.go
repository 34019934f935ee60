package state

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/terrapin-dev/terrapin/internal/engine"
	"github.com/terrapin-dev/terrapin/internal/logging"
)

// staleLockAge is how old a lock must be before another process may
// take it over. The holder is presumed dead past this point.
const staleLockAge = 10 * time.Minute

// LockInfo describes the process holding the state lock.
type LockInfo struct {
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	Operation string    `json:"operation"`
	Acquired  time.Time `json:"acquired"`
}

func (l *LockInfo) String() string {
	return fmt.Sprintf("pid %d on %s (%s, acquired %s)", l.PID, l.Hostname, l.Operation, l.Acquired.Format(time.RFC3339))
}

// Lock acquires an exclusive lock for the state file. It fails fast with
// LockHeldError when another live process holds the lock; it does not wait.
func (m *Manager) Lock(operation string) error {
	lockPath := m.path + ".lock"

	hostname, _ := os.Hostname()
	info := LockInfo{
		PID:       os.Getpid(),
		Hostname:  hostname,
		Operation: operation,
		Acquired:  time.Now().UTC(),
	}
	payload, err := json.Marshal(&info)
	if err != nil {
		return fmt.Errorf("failed to marshal lock info: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err == nil {
		defer f.Close()
		if _, err := f.Write(payload); err != nil {
			os.Remove(lockPath)
			return fmt.Errorf("failed to write lock file: %w", err)
		}
		return nil
	}
	if !os.IsExist(err) {
		return fmt.Errorf("failed to create lock file %s: %w", lockPath, err)
	}

	holder, readErr := readLockInfo(lockPath)
	if readErr == nil && time.Since(holder.Acquired) > staleLockAge {
		logging.Warn("taking over stale state lock", "holder", holder.String())
		if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove stale lock: %w", err)
		}
		return m.Lock(operation)
	}

	held := "unknown process"
	if readErr == nil {
		held = holder.String()
	}
	return &engine.LockHeldError{Holder: held}
}

// Unlock releases the state lock. Releasing a lock that is not held is
// not an error.
func (m *Manager) Unlock() error {
	lockPath := m.path + ".lock"
	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file %s: %w", lockPath, err)
	}
	return nil
}

func readLockInfo(lockPath string) (*LockInfo, error) {
	raw, err := os.ReadFile(lockPath)
	if err != nil {
		return nil, err
	}
	var info LockInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, err
	}
	return &info, nil
}
