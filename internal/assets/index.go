package assets

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"kanimedia/internal/codec"
)

var imageExtensions = map[string]bool{
	".tif":  true,
	".tiff": true,
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

// Index is the catalog of assets under the local asset root. Every
// asset has a sidecar file {id}.json next to it; files that arrive
// without one get described and a sidecar written on the next scan.
// Ids are stable across restarts: the sidecar id wins, otherwise the
// file basename becomes the id and the file is never renamed.
type Index struct {
	root   string
	codec  codec.Codec
	logger *zap.Logger

	mu    sync.RWMutex
	metas []Meta
}

func NewIndex(root string, c codec.Codec, logger *zap.Logger) *Index {
	return &Index{
		root:   root,
		codec:  c,
		logger: logger,
		metas:  []Meta{},
	}
}

func (ix *Index) Scan() error {
	if err := ix.cleanupOrphanedSidecars(); err != nil {
		return err
	}

	entries, err := os.ReadDir(ix.root)
	if err != nil {
		return fmt.Errorf("failed to read asset root: %w", err)
	}

	metas := []Meta{}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if !imageExtensions[ext] {
			continue
		}

		id := strings.TrimSuffix(name, ext)
		sidecar := ix.sidecarPath(id)

		var meta *Meta

		if _, err := os.Stat(sidecar); err != nil {
			// No sidecar yet, describe the file and create one.
			meta, err = ix.describeFile(name)
			if err != nil {
				ix.logger.Warn("Failed to describe asset", zap.String("file", name), zap.Error(err))
				continue
			}

			meta.ID = id
			meta.OriginalFilename = name
			meta.CurrentFilename = name

			if err := writeSidecar(sidecar, meta); err != nil {
				ix.logger.Warn("Failed to write sidecar", zap.String("path", sidecar), zap.Error(err))
			} else {
				ix.logger.Info("Created sidecar", zap.String("path", sidecar), zap.String("id", id))
			}
		} else {
			meta, err = readSidecar(sidecar)
			if err != nil {
				ix.logger.Warn("Failed to load sidecar, skipping", zap.String("path", sidecar), zap.Error(err))
				continue
			}
		}

		metas = append(metas, *meta)
	}

	ix.mu.Lock()
	ix.metas = metas
	ix.mu.Unlock()

	return nil
}

// cleanupOrphanedSidecars removes sidecars that no longer describe an
// existing asset file, plus any that fail to parse or whose recorded
// id disagrees with their filename.
func (ix *Index) cleanupOrphanedSidecars() error {
	entries, err := os.ReadDir(ix.root)
	if err != nil {
		return fmt.Errorf("failed to read asset root: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		path := ix.filePath(entry.Name())
		if strings.ToLower(filepath.Ext(path)) != ".json" {
			continue
		}

		basename := strings.TrimSuffix(filepath.Base(path), ".json")

		meta, err := readSidecar(path)
		if err != nil {
			if err := os.Remove(path); err != nil {
				ix.logger.Warn("Failed to delete invalid sidecar", zap.String("path", path), zap.Error(err))
			} else {
				ix.logger.Info("Deleted invalid sidecar", zap.String("path", path))
			}
			continue
		}

		if meta.ID != basename {
			ix.logger.Warn("Id mismatch in sidecar",
				zap.String("path", path),
				zap.String("filename_id", basename),
				zap.String("sidecar_id", meta.ID))
			if err := os.Remove(path); err != nil {
				ix.logger.Warn("Failed to delete mismatched sidecar", zap.String("path", path), zap.Error(err))
			} else {
				ix.logger.Info("Deleted sidecar with id mismatch", zap.String("path", path))
			}
			continue
		}

		assetPath := ix.filePath(meta.CurrentFilename)
		if _, err := os.Stat(assetPath); err != nil {
			if err := os.Remove(path); err != nil {
				ix.logger.Warn("Failed to delete orphaned sidecar", zap.String("path", path), zap.Error(err))
			} else {
				ix.logger.Info("Deleted orphaned sidecar", zap.String("path", path))
			}
		}
	}

	return nil
}

func (ix *Index) describeFile(filename string) (*Meta, error) {
	data, err := os.ReadFile(ix.filePath(filename))
	if err != nil {
		return nil, err
	}

	return probe(ix.codec, data)
}

func (ix *Index) List() []Meta {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	return append([]Meta(nil), ix.metas...)
}

func (ix *Index) ByID(id string) (Meta, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	for _, meta := range ix.metas {
		if meta.ID == id {
			return meta, true
		}
	}

	return Meta{}, false
}

// PathByID resolves the asset file behind an id, or "" when unknown.
func (ix *Index) PathByID(id string) (string, bool) {
	meta, ok := ix.ByID(id)
	if !ok {
		return "", false
	}

	return ix.filePath(meta.CurrentFilename), true
}

func (ix *Index) Add(meta Meta) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.metas = append(ix.metas, meta)
}

func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	return len(ix.metas)
}

func (ix *Index) filePath(filename string) string {
	return filepath.Join(ix.root, filename)
}

func (ix *Index) sidecarPath(id string) string {
	return ix.filePath(id + ".json")
}

func readSidecar(path string) (*Meta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse sidecar: %w", err)
	}

	return &meta, nil
}

func writeSidecar(path string, meta *Meta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sidecar: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write sidecar: %w", err)
	}

	return nil
}
