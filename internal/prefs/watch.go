package prefs

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/pitabwire/vigil/model"
)

// Watch reloads the preferences file whenever another process changes it
// and passes the new value to onChange. The parent directory is watched
// because saves replace the file by renaming. Invalid content is logged
// and skipped. The returned stop function ends the watch and waits for
// the event loop to exit.
func (s *FileStore) Watch(onChange func(model.Preferences)) (stop func() error, err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("prefs: creating watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("prefs: watching %s: %w", filepath.Dir(s.path), err)
	}

	target := filepath.Clean(s.path)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
					continue
				}
				p, err := s.Load(context.Background())
				if err != nil {
					s.opts.logger.Warn("ignoring unreadable preferences change",
						zap.String("path", s.path),
						zap.Error(err),
					)
					continue
				}
				if err := p.Validate(); err != nil {
					s.opts.logger.Warn("ignoring invalid preferences change",
						zap.String("path", s.path),
						zap.Error(err),
					)
					continue
				}
				onChange(p)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.opts.logger.Error("preferences watcher error", zap.Error(err))
			}
		}
	}()

	var once sync.Once
	var closeErr error
	return func() error {
		once.Do(func() {
			closeErr = w.Close()
			wg.Wait()
		})
		return closeErr
	}, nil
}
