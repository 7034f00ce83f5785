package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/streamdl/internal/utils"
)

// DirBackend keeps each bucket as a directory under Root and each piece as a
// file named by its id.
type DirBackend struct {
	Root string
}

func NewDirBackend(root string) *DirBackend {
	return &DirBackend{Root: root}
}

func (d *DirBackend) path(bucket, id string) (string, error) {
	if bucket == "" || id == "" || filepath.Base(bucket) != bucket || filepath.Base(id) != id || id == ".." || bucket == ".." {
		return "", fmt.Errorf("%w: invalid piece address %s/%s", utils.ErrStorage, bucket, id)
	}
	return filepath.Join(d.Root, bucket, id), nil
}

func (d *DirBackend) Read(ctx context.Context, bucket, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrStorage, err)
	}
	p, err := d.path(bucket, id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %w: %s/%s", utils.ErrStorage, utils.ErrNotFound, bucket, id)
	} else if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrStorage, err)
	}
	log.Debug().Str("op", "storage/dir").Str("bucket", bucket).Str("id", id).Int("bytes", len(data)).Msg("piece read")
	return data, nil
}

func (d *DirBackend) Write(ctx context.Context, bucket, id string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", utils.ErrStorage, err)
	}
	p, err := d.path(bucket, id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("%w: error creating bucket directory: %v", utils.ErrStorage, err)
	}
	tmp := p + ".part"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("%w: %v", utils.ErrStorage, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return fmt.Errorf("%w: error finalizing piece: %v", utils.ErrStorage, err)
	}
	return nil
}
