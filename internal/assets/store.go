package assets

import (
	"context"
	"errors"
)

// Meta is the sidecar record kept for every stored asset.
type Meta struct {
	ID               string `json:"id"`
	OriginalFilename string `json:"original_filename,omitempty"`
	CurrentFilename  string `json:"current_filename,omitempty"`
	Width            int    `json:"width"`
	Height           int    `json:"height"`
	Bytes            int64  `json:"bytes"`
	Format           string `json:"format"`
	Blurhash         string `json:"blurhash,omitempty"`
	Accent           string `json:"accent,omitempty"`
}

var (
	// ErrNotFound means the id does not exist in the store. It is
	// authoritative: callers must not retry.
	ErrNotFound = errors.New("asset not found")

	// ErrUpstream means the backing store could not answer.
	ErrUpstream = errors.New("asset store unavailable")
)

// Store retrieves original asset bytes by id. Implementations are safe
// for concurrent use.
type Store interface {
	Fetch(ctx context.Context, id string) ([]byte, error)
}
