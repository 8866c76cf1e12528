package artifact

import (
	"context"
	"fmt"

	"github.com/golang/snappy"

	"github.com/synapseshield/shield/internal/domain"
)

// Compressed wraps an ArtifactStore and snappy-compresses artifact bodies.
type Compressed struct {
	inner domain.ArtifactStore
}

// NewCompressed wraps inner with snappy compression.
func NewCompressed(inner domain.ArtifactStore) *Compressed {
	return &Compressed{inner: inner}
}

func (c *Compressed) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := c.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	data, err := snappy.Decode(nil, raw)
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", key, err)
	}
	return data, nil
}

func (c *Compressed) Put(ctx context.Context, key string, data []byte) error {
	return c.inner.Put(ctx, key, snappy.Encode(nil, data))
}

func (c *Compressed) PutAll(ctx context.Context, items map[string][]byte) error {
	enc := make(map[string][]byte, len(items))
	for k, v := range items {
		enc[k] = snappy.Encode(nil, v)
	}
	return c.inner.PutAll(ctx, enc)
}

func (c *Compressed) Exists(ctx context.Context, key string) (bool, error) {
	return c.inner.Exists(ctx, key)
}

func (c *Compressed) Delete(ctx context.Context, key string) error {
	return c.inner.Delete(ctx, key)
}
