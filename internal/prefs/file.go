package prefs

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
	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"

	"github.com/pitabwire/vigil/model"
)

const lockRetryInterval = 25 * time.Millisecond

// FileStore keeps preferences in a TOML file. A sibling ".lock" file
// serializes access between console processes (mu does so within one
// process, where flock locks are not exclusive), and writes go through a
// temporary file that is renamed into place, so readers never observe a
// partial document.
//
// The file belongs to the operator running the console: it holds one
// document and ignores the request user. Deployments serving several users
// use the postgres or memory driver, which key by RequestContext.User.
type FileStore struct {
	mu   sync.RWMutex
	path string
	lock *flock.Flock
	opts options
}

// NewFileStore creates a store backed by path. The file is created on the
// first Save.
func NewFileStore(path string, opts ...Option) *FileStore {
	return &FileStore{
		path: path,
		lock: flock.New(path + ".lock"),
		opts: buildOptions(opts),
	}
}

// Path returns the preferences file location.
func (s *FileStore) Path() string { return s.path }

// Load reads the file. A missing file yields the defaults, and fields
// absent from the file keep their default values.
func (s *FileStore) Load(ctx context.Context) (model.Preferences, error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return model.Preferences{}, fmt.Errorf("prefs: creating %s: %w", filepath.Dir(s.path), err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ok, err := s.lock.TryRLockContext(ctx, lockRetryInterval)
	if err != nil {
		return model.Preferences{}, fmt.Errorf("prefs: locking %s: %w", s.path, err)
	}
	if !ok {
		return model.Preferences{}, fmt.Errorf("prefs: could not lock %s", s.path)
	}
	defer s.unlock()

	return s.read()
}

func (s *FileStore) read() (model.Preferences, error) {
	p := model.DefaultPreferences()
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return p, fmt.Errorf("prefs: reading %s: %w", s.path, err)
	}
	if err := toml.Unmarshal(data, &p); err != nil {
		return model.DefaultPreferences(), fmt.Errorf("prefs: parsing %s: %w", s.path, err)
	}
	return p, nil
}

// Save validates p and replaces the file atomically.
func (s *FileStore) Save(ctx context.Context, p model.Preferences) error {
	err := s.save(ctx, p)
	s.opts.recordSave(err)
	return err
}

func (s *FileStore) save(ctx context.Context, p model.Preferences) error {
	if err := p.Validate(); err != nil {
		return err
	}
	data, err := toml.Marshal(p)
	if err != nil {
		return fmt.Errorf("prefs: encoding: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("prefs: creating %s: %w", dir, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ok, err := s.lock.TryLockContext(ctx, lockRetryInterval)
	if err != nil {
		return fmt.Errorf("prefs: locking %s: %w", s.path, err)
	}
	if !ok {
		return fmt.Errorf("prefs: could not lock %s", s.path)
	}
	defer s.unlock()

	tmp, err := os.CreateTemp(dir, ".preferences-*.toml")
	if err != nil {
		return fmt.Errorf("prefs: creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("prefs: writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("prefs: syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("prefs: closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("prefs: replacing %s: %w", s.path, err)
	}

	s.opts.logger.Info("preferences saved",
		zap.String("path", s.path),
		zap.String("theme", p.Theme),
	)
	return nil
}

func (s *FileStore) unlock() {
	if err := s.lock.Unlock(); err != nil {
		s.opts.logger.Warn("releasing preferences lock", zap.String("path", s.path), zap.Error(err))
	}
}

// Close releases the lock file handle.
func (s *FileStore) Close() error {
	return s.lock.Close()
}
