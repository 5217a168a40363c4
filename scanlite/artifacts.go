// Copyright 2026 The draconis-eyes Authors
// SPDX-License-Identifier: Apache-2.0

package scanlite

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ArtifactStore owns copies of captured images under <baseDir>/scans/<ns>/.
type ArtifactStore struct {
	root string
}

// NewArtifactStore returns a store rooted at baseDir/scans.
func NewArtifactStore(baseDir string) *ArtifactStore {
	return &ArtifactStore{root: filepath.Join(baseDir, "scans")}
}

var errUnsafeNamespace = errors.New("namespace is not a directory name under the artifact root")

// Dir is the artifact directory of ns. It must be a direct child of the root.
func (a *ArtifactStore) Dir(ns Namespace) (string, error) {
	dir := filepath.Join(a.root, string(ns))
	rel, err := filepath.Rel(a.root, dir)
	if err != nil || rel == "." || rel == ".." || strings.ContainsRune(rel, filepath.Separator) {
		return "", fmt.Errorf("%w: %q", errUnsafeNamespace, ns)
	}
	return dir, nil
}

// Import copies src into the namespace directory as scan_<id><ext> and returns
// the new path. The copy is written to a temp file and renamed into place.
func (a *ArtifactStore) Import(ns Namespace, id, src string) (string, error) {
	dir, err := a.Dir(ns)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create artifact dir: %w", err)
	}
	name := "scan_" + id + artifactExt(src)
	if filepath.Base(name) != name {
		return "", fmt.Errorf("invalid artifact name for record %q", id)
	}
	dst := filepath.Join(dir, name)
	if filepath.Clean(src) == dst {
		return dst, nil
	}

	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("failed to open artifact: %w", err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(dir, ".import-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to copy artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close artifact: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return "", fmt.Errorf("failed to move artifact into place: %w", err)
	}
	return dst, nil
}

// Owns reports whether path lies inside the store root.
func (a *ArtifactStore) Owns(path string) bool {
	if path == "" {
		return false
	}
	rel, err := filepath.Rel(a.root, filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != "." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != ".."
}

// Remove deletes an owned artifact. Missing files and foreign paths are ignored.
func (a *ArtifactStore) Remove(path string) error {
	if !a.Owns(path) {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove artifact %s: %w", path, err)
	}
	return nil
}

// RemoveNamespace deletes the whole artifact directory of ns.
func (a *ArtifactStore) RemoveNamespace(ns Namespace) error {
	dir, err := a.Dir(ns)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove artifacts of %s: %w", ns, err)
	}
	return nil
}

func artifactExt(src string) string {
	switch ext := strings.ToLower(filepath.Ext(src)); ext {
	case ".png", ".webp", ".jpeg", ".jpg", ".heic":
		return ext
	default:
		return ".jpg"
	}
}
