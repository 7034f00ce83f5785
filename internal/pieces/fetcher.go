package pieces

import (
	"context"
	"fmt"

	"github.com/tanq16/streamdl/internal/rangefetch"
	"github.com/tanq16/streamdl/internal/storage"
	"github.com/tanq16/streamdl/internal/utils"
)

// Fetcher serves a session from a piece set instead of an HTTP server. Each
// fetch returns the rest of the piece holding the requested offset, cut to
// the requested size.
type Fetcher struct {
	set   *storage.PieceSet
	cache *Cache
}

func NewFetcher(set *storage.PieceSet, cache *Cache) *Fetcher {
	return &Fetcher{set: set, cache: cache}
}

// ChunkSize is the natural chunk size of the set: its first piece.
func (f *Fetcher) ChunkSize() int64 {
	return f.set.Links[0].Size
}

func (f *Fetcher) TotalSize() int64 {
	return f.set.TotalSize()
}

func (f *Fetcher) Fetch(ctx context.Context, r rangefetch.Request) (*rangefetch.Result, error) {
	if r.Size == 0 {
		return nil, fmt.Errorf("%w at offset %d", utils.ErrEmptyRange, r.Offset)
	}
	idx, start := f.set.Locate(r.Offset)
	if idx < 0 {
		return nil, utils.ErrRangeNotSatisfiable
	}
	link := f.set.Links[idx]
	piece, err := f.cache.Get(ctx, link.CID)
	if err != nil {
		return nil, err
	}
	if int64(len(piece)) != link.Size {
		return nil, fmt.Errorf("%w: piece %s is %d bytes, expected %d", utils.ErrStorage, link.CID, len(piece), link.Size)
	}
	data := piece[r.Offset-start:]
	if r.Size >= 0 && int64(len(data)) > r.Size {
		data = data[:r.Size]
	}
	return &rangefetch.Result{
		Data:   data,
		Offset: r.Offset,
		Total:  f.set.TotalSize(),
		Ranged: true,
	}, nil
}
