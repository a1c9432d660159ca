package assets

import (
	"context"
	"fmt"
	"os"
)

// Dir serves assets from the local asset root. Only ids known to the
// index resolve, so a path can never escape the root.
type Dir struct {
	index *Index
}

func NewDir(index *Index) *Dir {
	return &Dir{index: index}
}

func (d *Dir) Fetch(_ context.Context, id string) ([]byte, error) {
	path, ok := d.index.PathByID(id)
	if !ok {
		return nil, ErrNotFound
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read asset %s: %w", id, err)
	}

	return data, nil
}
