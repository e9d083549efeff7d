// Package lockdir serializes manifest mutations across processes with a
// directory marker next to the manifest file. Exclusive directory creation is
// the only atomicity primitive; the marker records holder pid, acquisition
// timestamp, and the command that took it.
package lockdir

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultAttempts = 60
	DefaultDelay    = 500 * time.Millisecond
	// StaleAfter is the marker age beyond which a lock is presumed abandoned.
	StaleAfter = 5 * time.Minute
)

// Manager acquires and releases manifest locks. The zero value uses defaults.
type Manager struct {
	Attempts   int
	Delay      time.Duration
	StaleAfter time.Duration
	Command    string
	Logger     *log.Logger
}

// Holder describes who appears to hold a lock.
type Holder struct {
	PID     int
	Since   time.Time
	Command string
}

// LockTimeoutError is returned when the retry budget is exhausted and the
// marker is not stale.
type LockTimeoutError struct {
	Path   string
	Holder Holder
}

func (e *LockTimeoutError) Error() string {
	if e.Holder.PID == 0 {
		return fmt.Sprintf("timed out waiting for lock %s (holder unknown)", e.Path)
	}
	return fmt.Sprintf("timed out waiting for lock %s (held by pid %d for %s)",
		e.Path, e.Holder.PID, time.Since(e.Holder.Since).Round(time.Second))
}

// MarkerPath returns the lock marker directory for a manifest path.
func MarkerPath(manifestPath string) string {
	return manifestPath + ".lock"
}

func (m *Manager) attempts() int {
	if m.Attempts > 0 {
		return m.Attempts
	}
	return DefaultAttempts
}

func (m *Manager) delay() time.Duration {
	if m.Delay > 0 {
		return m.Delay
	}
	return DefaultDelay
}

func (m *Manager) staleAfter() time.Duration {
	if m.StaleAfter > 0 {
		return m.StaleAfter
	}
	return StaleAfter
}

func (m *Manager) logger() *log.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return log.Default()
}

// Acquire blocks (polling with a fixed delay) until the marker directory can
// be created. When the retry budget runs out, a marker older than the
// staleness threshold is force-removed and creation retried once; otherwise a
// *LockTimeoutError identifying the presumed holder is returned.
func (m *Manager) Acquire(manifestPath string) error {
	marker := MarkerPath(manifestPath)
	if err := os.MkdirAll(filepath.Dir(marker), 0o755); err != nil {
		return fmt.Errorf("create lock %s: %w", marker, err)
	}
	for i := 0; i < m.attempts(); i++ {
		if i > 0 {
			time.Sleep(m.delay())
		}
		err := os.Mkdir(marker, 0o755)
		if err == nil {
			return m.writeHolder(marker)
		}
		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("create lock %s: %w", marker, err)
		}
	}

	holder, err := m.Inspect(manifestPath)
	if err == nil && !holder.Since.IsZero() && time.Since(holder.Since) > m.staleAfter() {
		m.logger().Printf("WARNING: breaking stale lock %s (pid %d, held since %s)",
			marker, holder.PID, holder.Since.Format(time.RFC3339))
		if err := os.RemoveAll(marker); err != nil {
			return fmt.Errorf("break stale lock %s: %w", marker, err)
		}
		if err := os.Mkdir(marker, 0o755); err == nil {
			return m.writeHolder(marker)
		}
	}
	if err != nil {
		holder = Holder{}
	}
	return &LockTimeoutError{Path: marker, Holder: holder}
}

// Release removes the marker. Ownership is checked against the recorded pid;
// on mismatch the marker is still removed with a warning, favoring liveness.
func (m *Manager) Release(manifestPath string) error {
	marker := MarkerPath(manifestPath)
	holder, err := m.Inspect(manifestPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			m.logger().Printf("WARNING: releasing lock %s that is not held", marker)
			return nil
		}
		m.logger().Printf("WARNING: releasing lock %s with unreadable holder: %v", marker, err)
	} else if holder.PID != os.Getpid() {
		m.logger().Printf("WARNING: releasing lock %s held by pid %d, not us (pid %d)",
			marker, holder.PID, os.Getpid())
	}
	return os.RemoveAll(marker)
}

// ForceClear removes the marker unconditionally.
func (m *Manager) ForceClear(manifestPath string) error {
	return os.RemoveAll(MarkerPath(manifestPath))
}

// Inspect reads the marker's recorded holder. os.ErrNotExist means unlocked.
func (m *Manager) Inspect(manifestPath string) (Holder, error) {
	marker := MarkerPath(manifestPath)
	if _, err := os.Stat(marker); err != nil {
		return Holder{}, err
	}
	var h Holder
	if data, err := os.ReadFile(filepath.Join(marker, "pid")); err == nil {
		h.PID, _ = strconv.Atoi(strings.TrimSpace(string(data)))
	}
	if data, err := os.ReadFile(filepath.Join(marker, "timestamp")); err == nil {
		h.Since, _ = time.Parse(time.RFC3339, strings.TrimSpace(string(data)))
	}
	if data, err := os.ReadFile(filepath.Join(marker, "command")); err == nil {
		h.Command = strings.TrimSpace(string(data))
	}
	return h, nil
}

func (m *Manager) writeHolder(marker string) error {
	command := m.Command
	if command == "" {
		command = strings.Join(os.Args, " ")
	}
	entries := map[string]string{
		"pid":       strconv.Itoa(os.Getpid()),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"command":   command,
	}
	for name, value := range entries {
		if err := os.WriteFile(filepath.Join(marker, name), []byte(value+"\n"), 0o644); err != nil {
			os.RemoveAll(marker)
			return fmt.Errorf("write lock %s/%s: %w", marker, name, err)
		}
	}
	return nil
}
