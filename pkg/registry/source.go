// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package registry

import (
	"context"
	"io/fs"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// Source provides Manifests to a Registry. Invalid Manifests should be skipped; an error fails the whole refresh.
type Source interface {
	Manifests(ctx context.Context) ([]Manifest, error)
}

// StaticSource is a fixed list of Manifests.
type StaticSource []Manifest

// Manifests returns a copy of the list.
func (s StaticSource) Manifests(_ context.Context) ([]Manifest, error) {
	ms := make([]Manifest, len(s))
	copy(ms, s)
	return ms, nil
}

// DirSource walks a directory tree for Manifest files.
type DirSource struct {
	Root string
}

// Manifests loads all Manifest files below Root in lexical path order. Unreadable Manifests are logged and skipped.
func (ds DirSource) Manifests(ctx context.Context) (ms []Manifest, err error) {
	err = filepath.WalkDir(ds.Root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !IsManifestFile(path) {
			return nil
		}

		if m, mErr := LoadManifest(path); mErr != nil {
			log.WithError(mErr).WithField("path", path).Warn("Skipping invalid manifest")
		} else {
			log.WithFields(log.Fields{
				"path":  path,
				"agent": m.AgentID,
			}).Debug("Loaded manifest")
			ms = append(ms, m)
		}
		return nil
	})
	return
}
