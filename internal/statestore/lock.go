package statestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

// ErrLockTimeout is returned when the bounded lock wait is exceeded.
// The guard's write path converts it into a deny; advisory engines
// drop their update.
var ErrLockTimeout = errors.New("statestore: lock acquisition timed out")

// staleAfter is the marker age beyond which a lock is considered
// abandoned even when the recorded PID is still alive (PID reuse).
// Checks finish in well under a second, so 30s is far outside any
// legitimate hold time.
const staleAfter = 30 * time.Second

// pollInterval bounds each blocking wait slice so holder liveness is
// re-checked periodically even when no filesystem event arrives.
const pollInterval = 25 * time.Millisecond

// lockMarker is the JSON document stored in the lock file while a
// writer holds the lock. It is never domain data.
type lockMarker struct {
	OwnerID    string    `json:"owner_id"`
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// FileLock is an exclusive inter-process lock backed by a sibling
// marker file created with fail-if-exists semantics.
type FileLock struct {
	path    string
	ownerID string
	pid     int
	probe   ProcessProbe
	now     func() time.Time
	held    bool
}

// NewFileLock creates a lock for the marker at path. Each lock value
// gets a unique owner id so reclamation and release can verify
// ownership instead of trusting file presence.
func NewFileLock(path string, probe ProcessProbe, now func() time.Time) *FileLock {
	if probe == nil {
		probe = SystemProbe{}
	}
	if now == nil {
		now = time.Now
	}
	return &FileLock{
		path:    path,
		ownerID: uuid.NewString(),
		pid:     os.Getpid(),
		probe:   probe,
		now:     now,
	}
}

// Acquire takes the lock, waiting up to timeout. The wait is a
// blocking sleep on filesystem events, not a busy loop. A holder whose
// process is gone is reclaimed via an atomic rename so that of several
// racing reclaimers exactly one wins.
func (l *FileLock) Acquire(timeout time.Duration) error {
	if l.held {
		return nil
	}
	deadline := l.now().Add(timeout)
	for {
		err := l.tryCreate()
		if err == nil {
			l.held = true
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("create lock marker: %w", err)
		}

		if l.reclaimStale() {
			// Marker removed (by us or concurrently); retry immediately.
			continue
		}

		if !l.now().Before(deadline) {
			return ErrLockTimeout
		}
		l.waitForRelease(deadline)
	}
}

// Release removes the marker if this lock still owns it. Safe to call
// multiple times and in cleanup paths after failed writes.
func (l *FileLock) Release() {
	if !l.held {
		return
	}
	l.held = false
	// Verify ownership before removing: a reclaimer that (wrongly)
	// decided we were dead may have replaced the marker already.
	marker, err := readMarker(l.path)
	if err == nil && marker.OwnerID != l.ownerID {
		return
	}
	_ = os.Remove(l.path)
}

// OwnerID exposes the lock's identity for diagnostics.
func (l *FileLock) OwnerID() string { return l.ownerID }

func (l *FileLock) tryCreate() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	marker := lockMarker{
		OwnerID:    l.ownerID,
		PID:        l.pid,
		AcquiredAt: l.now().UTC(),
	}
	data, merr := json.Marshal(marker)
	if merr == nil {
		_, merr = f.Write(data)
	}
	cerr := f.Close()
	if merr != nil || cerr != nil {
		_ = os.Remove(l.path)
		if merr != nil {
			return fmt.Errorf("write lock marker: %w", merr)
		}
		return fmt.Errorf("close lock marker: %w", cerr)
	}
	return nil
}

// reclaimStale checks whether the current holder is gone and, if so,
// claims the marker. The rename is the single point of mutual
// exclusion: the marker can only be renamed once, so concurrent
// reclaimers cannot both believe they removed it. The claim file is
// then verified against the stale owner observed before the rename,
// which catches a fresh marker swapped in between read and rename.
func (l *FileLock) reclaimStale() bool {
	var staleOwner string
	marker, err := readMarker(l.path)
	switch {
	case os.IsNotExist(err):
		// Holder released between our create attempt and now.
		return true
	case err != nil:
		// Unreadable marker: possibly mid-write by a live holder.
		// Only treat as stale once it is old enough that no live
		// writer can still be mid-create.
		info, serr := os.Stat(l.path)
		if serr != nil {
			return os.IsNotExist(serr)
		}
		if l.now().Sub(info.ModTime()) < staleAfter {
			return false
		}
	default:
		alive := l.probe.Alive(marker.PID)
		expired := l.now().Sub(marker.AcquiredAt) > staleAfter
		if alive && !expired {
			return false
		}
		staleOwner = marker.OwnerID
	}

	claimPath := fmt.Sprintf("%s.claim-%s", l.path, uuid.NewString())
	if err := os.Rename(l.path, claimPath); err != nil {
		// Lost the reclamation race; another process owns the claim.
		return false
	}
	return l.verifyClaim(claimPath, staleOwner)
}

// verifyClaim confirms the claim file still carries the marker observed
// as stale. Between reading the stale marker and renaming it, another
// reclaimer may have removed it and a new holder may have written a
// fresh marker at the same path; renaming that fresh marker away would
// silently evict a live holder. On an owner mismatch the marker is put
// back and the reclamation is treated as lost.
func (l *FileLock) verifyClaim(claimPath, staleOwner string) bool {
	claimed, err := readMarker(claimPath)
	if err == nil && claimed.OwnerID != staleOwner {
		if os.Rename(claimPath, l.path) != nil {
			// An even newer marker exists at the path; discard the copy.
			_ = os.Remove(claimPath)
		}
		return false
	}
	_ = os.Remove(claimPath)
	return true
}

// waitForRelease blocks until the marker is removed, a poll interval
// elapses, or the deadline passes. fsnotify gives a real blocking wait;
// if the watcher cannot be created we fall back to a plain sleep.
func (l *FileLock) waitForRelease(deadline time.Time) {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return
	}
	slice := pollInterval
	if remaining < slice {
		slice = remaining
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		time.Sleep(slice)
		return
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		time.Sleep(slice)
		return
	}

	timer := time.NewTimer(slice)
	defer timer.Stop()
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Name == l.path && ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				return
			}
		case <-watcher.Errors:
			time.Sleep(slice)
			return
		case <-timer.C:
			return
		}
	}
}

func readMarker(path string) (lockMarker, error) {
	var marker lockMarker
	data, err := os.ReadFile(path)
	if err != nil {
		return marker, err
	}
	if err := json.Unmarshal(data, &marker); err != nil {
		return marker, fmt.Errorf("parse lock marker: %w", err)
	}
	if strings.TrimSpace(marker.OwnerID) == "" {
		return marker, errors.New("lock marker missing owner id")
	}
	return marker, nil
}
