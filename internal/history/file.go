package history

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// FileBackend stores each key as <dir>/<key>.json. Writes go through a
// temp file and rename, under an advisory lock shared by every process
// pointing at the same directory. The flock handle is per process, so mu
// serializes goroutines within one.
type FileBackend struct {
	dir  string
	mu   sync.Mutex
	lock *flock.Flock
}

// NewFileBackend creates the data directory if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	return &FileBackend{
		dir:  dir,
		lock: flock.New(filepath.Join(dir, ".history.lock")),
	}, nil
}

func (f *FileBackend) path(key string) string {
	return filepath.Join(f.dir, key+".json")
}

func (f *FileBackend) Read(ctx context.Context, key string) ([]byte, error) {
	unlock, err := f.withLock(ctx, true)
	if err != nil {
		return nil, err
	}
	defer unlock()

	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoEntry
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

func (f *FileBackend) Write(ctx context.Context, key string, value []byte) error {
	unlock, err := f.withLock(ctx, false)
	if err != nil {
		return err
	}
	defer unlock()

	tmp, err := os.CreateTemp(f.dir, key+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, f.path(key)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", key, err)
	}
	return nil
}

func (f *FileBackend) Delete(ctx context.Context, key string) error {
	unlock, err := f.withLock(ctx, false)
	if err != nil {
		return err
	}
	defer unlock()

	if err := os.Remove(f.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

const lockRetryDelay = 20 * time.Millisecond

func (f *FileBackend) withLock(ctx context.Context, shared bool) (func(), error) {
	f.mu.Lock()
	var (
		ok  bool
		err error
	)
	if shared {
		ok, err = f.lock.TryRLockContext(ctx, lockRetryDelay)
	} else {
		ok, err = f.lock.TryLockContext(ctx, lockRetryDelay)
	}
	if err == nil && !ok {
		err = errors.New("not acquired")
	}
	if err != nil {
		f.mu.Unlock()
		return nil, fmt.Errorf("lock history: %w", err)
	}
	return func() {
		_ = f.lock.Unlock()
		f.mu.Unlock()
	}, nil
}
