// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package registry

import (
	"context"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period after a file change before Watch refreshes.
const DefaultDebounce = 250 * time.Millisecond

// Watch refreshes the Registry whenever a Manifest below dir changes. Bursts of changes within the debounce period
// result in a single refresh. Watch returns after the watcher was set up; it runs until the context is done.
func (r *Registry) Watch(ctx context.Context, dir string, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		_ = watcher.Close()
		return err
	}

	go r.handleWatch(ctx, watcher, debounce)
	return nil
}

func (r *Registry) handleWatch(ctx context.Context, watcher *fsnotify.Watcher, debounce time.Duration) {
	var (
		timerMutex sync.Mutex
		timer      *time.Timer
	)

	refresh := func() {
		if _, err := r.Refresh(ctx); err != nil {
			log.WithError(err).Warn("Registry refresh after file change errored")
		}
	}

	defer func() {
		timerMutex.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMutex.Unlock()

		_ = watcher.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug("Registry stops watching manifests")
			return

		case e, ok := <-watcher.Events:
			if !ok {
				log.Error("fsnotify's Event channel was closed")
				return
			}

			if e.Op&fsnotify.Create != 0 {
				if isDir(e.Name) {
					if err := watcher.Add(e.Name); err != nil {
						log.WithError(err).WithField("path", e.Name).Warn("Failed to watch new directory")
					}
				}
			}

			if !IsManifestFile(e.Name) && e.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
				log.WithFields(log.Fields{
					"path":      e.Name,
					"operation": e.Op,
				}).Debug("Ignoring fsnotify event")
				continue
			}

			timerMutex.Lock()
			if timer == nil {
				timer = time.AfterFunc(debounce, refresh)
			} else {
				timer.Reset(debounce)
			}
			timerMutex.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				log.Error("fsnotify's Errors channel was closed")
				return
			}
			log.WithError(err).Error("fsnotify errored")
		}
	}
}
