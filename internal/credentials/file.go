package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/zeusync/entitysync/internal/observability/log"
)

type fileState struct {
	Token string `json:"token,omitempty"`
	User  *User  `json:"user,omitempty"`
}

// File is a Store persisted as JSON. Edits made to the file by another process
// (for example a login helper) are picked up through a watcher on its directory.
type File struct {
	path   string
	logger log.Log

	mu    sync.RWMutex
	state fileState

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
	closed  sync.Once
}

// OpenFile loads path (a missing file is an empty session) and starts watching it.
func OpenFile(path string, logger log.Log) (*File, error) {
	f := &File{
		path:   path,
		logger: logger.With(log.String("component", "credentials")),
		done:   make(chan struct{}),
	}
	if err := f.reload(); err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("credentials watcher: %w", err)
	}
	if err = w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("credentials watch %s: %w", filepath.Dir(path), err)
	}
	f.watcher = w
	f.wg.Add(1)
	go f.watch()
	return f, nil
}

func (f *File) watch() {
	defer f.wg.Done()
	target := filepath.Clean(f.path)
	for {
		select {
		case <-f.done:
			return
		case ev, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if err := f.reload(); err != nil {
				f.logger.Warn("Failed to reload credentials", log.String("path", f.path), log.Error(err))
				continue
			}
			f.logger.Debug("Credentials reloaded", log.String("path", f.path))
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.logger.Warn("Credentials watcher error", log.Error(err))
		}
	}
}

// reload reads the file under the lock so it never races a persist.
func (f *File) reload() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		f.state = fileState{}
		return nil
	}
	if err != nil {
		return err
	}
	var st fileState
	if len(data) > 0 {
		if err = json.Unmarshal(data, &st); err != nil {
			return fmt.Errorf("parse %s: %w", f.path, err)
		}
	}
	f.state = st
	return nil
}

// persist writes the state through a temp file and rename. Callers hold f.mu.
func (f *File) persist() error {
	data, err := json.MarshalIndent(f.state, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err = os.Chmod(tmpName, 0o600); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, f.path)
}

func (f *File) Token() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state.Token
}

func (f *File) SetToken(token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.Token = token
	return f.persist()
}

func (f *File) RemoveToken() error {
	return f.SetToken("")
}

func (f *File) User() (User, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.state.User == nil {
		return User{}, false
	}
	return *f.state.User, true
}

func (f *File) SetUser(user User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.User = &user
	return f.persist()
}

func (f *File) RemoveUser() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.User = nil
	return f.persist()
}

// Close stops the watcher.
func (f *File) Close() error {
	var err error
	f.closed.Do(func() {
		close(f.done)
		if f.watcher != nil {
			err = f.watcher.Close()
		}
		f.wg.Wait()
	})
	return err
}

var _ Store = (*File)(nil)
