package predictors

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// fileLock is an advisory, cross-process write lock implemented as a
// sentinel file created with O_EXCL: the first process to create the file
// holds the lock, every other caller polls until it is removed. This is the
// flat-file analogue of the teacher's settings-DB-guarded writes (§3.1).
type fileLock struct {
	path string
}

func newFileLock(path string) *fileLock {
	return &fileLock{path: path}
}

// Lock blocks (polling every 10ms) until the sentinel file can be created,
// or timeout elapses.
func (l *fileLock) Lock(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			f.Close()
			return nil
		}
		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("create lock file: %w", err)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for lock %s", l.path)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Unlock releases the lock by removing the sentinel file.
func (l *fileLock) Unlock() {
	os.Remove(l.path)
}
