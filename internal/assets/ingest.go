package assets

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kanimedia/internal/codec"
	"kanimedia/internal/transform"
)

// Ingestor turns an uploaded image into a stored asset. The upload is
// re-encoded once into a canonical full-resolution WebP under a fresh
// uuid, described, and registered in the index. Renditions are not
// precomputed; the pipeline derives them on demand.
type Ingestor struct {
	index  *Index
	codec  codec.Codec
	logger *zap.Logger
}

func NewIngestor(index *Index, c codec.Codec, logger *zap.Logger) *Ingestor {
	return &Ingestor{
		index:  index,
		codec:  c,
		logger: logger,
	}
}

// Ingest stores an uploaded image and returns its sidecar record.
func (ing *Ingestor) Ingest(data []byte, originalFilename string) (*Meta, error) {
	pix, err := ing.codec.Decode(data)
	if err != nil {
		return nil, err
	}

	canonical, err := ing.codec.Encode(pix, transform.Spec{Format: transform.FormatWebp})
	pix.Close()
	if err != nil {
		return nil, err
	}

	// Describe the canonical bytes, not the upload: the stored WebP is
	// what every later fetch decodes.
	meta, err := probe(ing.codec, canonical)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	filename := id + ".webp"

	// The asset file lands before its sidecar, so a crash in between
	// leaves a file the next scan describes again under the same id.
	if err := os.WriteFile(ing.index.filePath(filename), canonical, 0644); err != nil {
		return nil, fmt.Errorf("failed to store asset: %w", err)
	}

	meta.ID = id
	meta.OriginalFilename = originalFilename
	meta.CurrentFilename = filename

	if err := writeSidecar(ing.index.sidecarPath(id), meta); err != nil {
		return nil, err
	}

	ing.index.Add(*meta)

	ing.logger.Info("Ingested asset",
		zap.String("id", id),
		zap.String("original_filename", originalFilename),
		zap.Int("width", meta.Width),
		zap.Int("height", meta.Height),
		zap.Int64("bytes", meta.Bytes))

	return meta, nil
}
