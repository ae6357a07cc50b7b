// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package objstore

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cardinalhq/dsconfig/internal/logctx"
)

// fileBackend keeps documents as plain YAML files under a root directory.
// Files carry no metadata, so digests are computed from their contents.
type fileBackend struct {
	root string
}

func (b *fileBackend) kind() string { return "file" }

func (b *fileBackend) path(key string) string {
	return filepath.Join(b.root, filepath.FromSlash(key))
}

func (b *fileBackend) head(_ context.Context, key string) (map[string]string, error) {
	fi, err := os.Stat(b.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errNotExist
	}
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return nil, errNotExist
	}
	return map[string]string{}, nil
}

func (b *fileBackend) get(_ context.Context, key string) ([]byte, map[string]string, error) {
	body, err := os.ReadFile(b.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, errNotExist
	}
	if err != nil {
		return nil, nil, err
	}
	return body, map[string]string{}, nil
}

// put writes through a temporary file so readers never see a partial
// document. Temporary names start with a dot and are skipped by list.
func (b *fileBackend) put(_ context.Context, key string, body []byte, _ map[string]string) error {
	dst := b.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(body); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

func (b *fileBackend) remove(_ context.Context, key string) error {
	err := os.Remove(b.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return errNotExist
	}
	return err
}

func (b *fileBackend) list(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(b.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(b.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	return keys, err
}

// FileStore is a Store over a local directory that can also report edits
// made to it by other processes.
type FileStore struct {
	*Store
	dir string

	debounce time.Duration
}

// DefaultDebounce is how long Watch waits for a file to settle.
const DefaultDebounce = 250 * time.Millisecond

// NewFileStore returns a store rooted at dir. Documents are never
// compressed unless WithCompressThreshold says otherwise.
func NewFileStore(dir string, opts ...Option) *FileStore {
	opts = append([]Option{WithCompressThreshold(0)}, opts...)
	return &FileStore{
		Store:    newStore(&fileBackend{root: dir}, opts...),
		dir:      dir,
		debounce: DefaultDebounce,
	}
}

// Dir is the root directory.
func (f *FileStore) Dir() string { return f.dir }

// SetDebounce changes the settle time used by Watch.
func (f *FileStore) SetDebounce(d time.Duration) { f.debounce = d }

// Watch calls fn with the dataset and name of every document that is
// created, rewritten or removed, until ctx is done. Bursts of events for
// one document produce a single call.
func (f *FileStore) Watch(ctx context.Context, fn func(dataset, name string)) error {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	logger := logctx.FromContext(ctx)
	if err := watcher.Add(f.dir); err != nil {
		return err
	}
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			if err := watcher.Add(filepath.Join(f.dir, e.Name())); err != nil {
				logger.Warn("failed to watch dataset directory", slog.String("dir", e.Name()), slog.Any("error", err))
			}
		}
	}
	logger.Info("watching configuration directory", slog.String("dir", f.dir))

	var (
		mu      sync.Mutex
		pending = map[string]*time.Timer{}
	)
	defer func() {
		mu.Lock()
		for _, t := range pending {
			t.Stop()
		}
		mu.Unlock()
	}()
	fire := func(dataset, name string) {
		key := dataset + "/" + name
		mu.Lock()
		defer mu.Unlock()
		if t, ok := pending[key]; ok {
			t.Reset(f.debounce)
			return
		}
		pending[key] = time.AfterFunc(f.debounce, func() {
			mu.Lock()
			delete(pending, key)
			mu.Unlock()
			if ctx.Err() == nil {
				fn(dataset, name)
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			f.handleEvent(ctx, watcher, event, fire)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("configuration watcher error", slog.Any("error", err))
		}
	}
}

func (f *FileStore) handleEvent(ctx context.Context, watcher *fsnotify.Watcher, event fsnotify.Event, fire func(dataset, name string)) {
	rel, err := filepath.Rel(f.dir, event.Name)
	if err != nil {
		return
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if strings.HasPrefix(parts[len(parts)-1], ".") {
		return
	}

	switch len(parts) {
	case 1:
		// A new dataset directory.
		if event.Has(fsnotify.Create) {
			if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
				if err := watcher.Add(event.Name); err != nil {
					logctx.FromContext(ctx).Warn("failed to watch dataset directory",
						slog.String("dir", parts[0]), slog.Any("error", err))
				}
			}
		}
	case 2:
		if !strings.HasSuffix(parts[1], docExt) {
			return
		}
		if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) ||
			event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
			fire(parts[0], strings.TrimSuffix(parts[1], docExt))
		}
	}
}
