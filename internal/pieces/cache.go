// Package pieces memoizes content-addressed pieces read from a storage
// backend and serves them to sessions as chunks.
package pieces

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/streamdl/internal/storage"
	"github.com/tanq16/streamdl/internal/utils"
	"golang.org/x/sync/singleflight"
)

// Cache returns pieces of one bucket, reading each id from the backend at most
// once while it stays in the store. Concurrent misses on the same id share a
// single backend read. Failed reads are not cached.
type Cache struct {
	backend storage.Backend
	bucket  string
	store   Store
	group   singleflight.Group

	// Verify checks that a piece read from the backend hashes to its id.
	Verify bool

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCache uses an unbounded MapStore when store is nil.
func NewCache(backend storage.Backend, bucket string, store Store) *Cache {
	if store == nil {
		store = NewMapStore()
	}
	return &Cache{backend: backend, bucket: bucket, store: store}
}

// Get returns the piece for id. The shared backend read outlives any single
// caller's cancellation; a cancelled caller stops waiting and gets ctx.Err().
func (c *Cache) Get(ctx context.Context, id string) ([]byte, error) {
	if data, ok := c.store.Get(id); ok {
		c.hits.Add(1)
		return data, nil
	}
	readCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(id, func() (any, error) {
		if data, ok := c.store.Get(id); ok {
			return data, nil
		}
		c.misses.Add(1)
		data, err := c.backend.Read(readCtx, c.bucket, id)
		if err != nil {
			return nil, err
		}
		if c.Verify && storage.ContentID(data) != id {
			return nil, fmt.Errorf("%w: piece %s does not match its content id", utils.ErrStorage, id)
		}
		c.store.Add(id, data)
		return data, nil
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	v, err, shared := res.Val, res.Err, res.Shared
	if err != nil {
		log.Debug().Str("op", "pieces/cache").Str("id", id).Err(err).Msg("piece read failed")
		return nil, err
	}
	if shared {
		log.Debug().Str("op", "pieces/cache").Str("id", id).Msg("piece read shared with concurrent caller")
	}
	return v.([]byte), nil
}

// Open reads the root piece through the cache and decodes it.
func (c *Cache) Open(ctx context.Context, rootID string) (*storage.PieceSet, error) {
	return storage.Open(ctx, cachedBackend{c}, c.bucket, rootID)
}

func (c *Cache) Stats() (hits, misses int64, held int) {
	return c.hits.Load(), c.misses.Load(), c.store.Len()
}

type cachedBackend struct {
	c *Cache
}

func (b cachedBackend) Read(ctx context.Context, bucket, id string) ([]byte, error) {
	return b.c.Get(ctx, id)
}
