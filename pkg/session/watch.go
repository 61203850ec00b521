package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/krasl809/JANDALISYS-sub003/internal/logging"
	"github.com/rs/zerolog"
)

// FileWatcher keeps a Store in step with a session file written by another
// process. Removing the file or saving another user's session clears the
// store; a fresh token for the same user replaces the current session.
type FileWatcher struct {
	path    string
	store   *Store
	watcher *fsnotify.Watcher
	logger  zerolog.Logger
}

// WatchFile starts watching the directory holding path. Run must be called
// to process events and release the watcher.
func WatchFile(path string, store *Store) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	// the directory is watched so removal and atomic replacement are seen
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	return &FileWatcher{
		path:    filepath.Clean(path),
		store:   store,
		watcher: watcher,
		logger:  logging.Component("session-watcher").With().Str("file", path).Logger(),
	}, nil
}

// Run processes file events until ctx is done or the session is cleared
func (w *FileWatcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if !w.reload() {
				return nil
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("Session file watcher error")
		}
	}
}

// reload applies the file's current content and reports whether the session
// is still active
func (w *FileWatcher) reload() bool {
	current := w.store.Current()
	if !current.Active() {
		return false
	}

	if _, err := os.Stat(w.path); errors.Is(err, os.ErrNotExist) {
		w.logger.Debug().Msg("Session file removed")
		w.store.Clear()
		return false
	}

	next, err := Load(w.path)
	if err != nil || !next.Active() {
		// unreadable content is left for the next event
		w.logger.Debug().Err(err).Msg("Ignoring unreadable session file")
		return true
	}

	if next.UserID != current.UserID || next.Expired(time.Now()) {
		w.logger.Debug().Str("user_id", next.UserID).Msg("Session file no longer matches")
		w.store.Clear()
		return false
	}

	if next != current {
		w.store.Set(next)
	}
	return true
}
