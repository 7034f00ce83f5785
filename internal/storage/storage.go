// Package storage holds the content-addressed piece backends. A resource is a
// root piece (a YAML manifest listing the ids and sizes of its data pieces)
// plus the data pieces themselves, all immutable once written.
package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/tanq16/streamdl/internal/utils"
	"gopkg.in/yaml.v3"
)

// Backend reads pieces by id from a bucket.
type Backend interface {
	Read(ctx context.Context, bucket, id string) ([]byte, error)
}

// Writer stores pieces; used when packing a resource.
type Writer interface {
	Write(ctx context.Context, bucket, id string, data []byte) error
}

type Link struct {
	CID  string `yaml:"cid"`
	Size int64  `yaml:"size"`
}

// PieceSet is a decoded root piece.
type PieceSet struct {
	Bucket string `yaml:"-"`
	Root   string `yaml:"-"`
	Links  []Link `yaml:"links"`
}

// TotalSize is the sum of all link sizes.
func (p *PieceSet) TotalSize() int64 {
	var total int64
	for _, l := range p.Links {
		total += l.Size
	}
	return total
}

// Locate returns the index of the link holding byte offset and the offset at
// which that link starts, or -1 past the end.
func (p *PieceSet) Locate(offset int64) (int, int64) {
	var start int64
	for i, l := range p.Links {
		if offset < start+l.Size {
			return i, start
		}
		start += l.Size
	}
	return -1, start
}

// Open reads and decodes the root piece of a resource.
func Open(ctx context.Context, b Backend, bucket, rootID string) (*PieceSet, error) {
	raw, err := b.Read(ctx, bucket, rootID)
	if err != nil {
		return nil, err
	}
	var set PieceSet
	if err := yaml.Unmarshal(raw, &set); err != nil {
		return nil, fmt.Errorf("%w: invalid root piece %s: %v", utils.ErrStorage, rootID, err)
	}
	if len(set.Links) == 0 {
		return nil, fmt.Errorf("%w: root piece %s has no links", utils.ErrStorage, rootID)
	}
	for i, l := range set.Links {
		if l.CID == "" || l.Size <= 0 {
			return nil, fmt.Errorf("%w: root piece %s: bad link %d", utils.ErrStorage, rootID, i)
		}
	}
	set.Bucket = bucket
	set.Root = rootID
	return &set, nil
}

// ContentID is the id a piece is stored under: the hex SHA-256 of its bytes.
func ContentID(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Pack splits data into pieces of pieceSize, writes them and their root piece,
// and returns the root id.
func Pack(ctx context.Context, w Writer, bucket string, data []byte, pieceSize int64) (string, error) {
	return PackReader(ctx, w, bucket, bytes.NewReader(data), pieceSize)
}

// PackReader is Pack over a stream, holding one piece in memory at a time.
func PackReader(ctx context.Context, w Writer, bucket string, r io.Reader, pieceSize int64) (string, error) {
	if pieceSize <= 0 {
		return "", fmt.Errorf("piece size must be positive")
	}
	var set PieceSet
	buf := make([]byte, pieceSize)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			piece := bytes.Clone(buf[:n])
			cid := ContentID(piece)
			if werr := w.Write(ctx, bucket, cid, piece); werr != nil {
				return "", werr
			}
			set.Links = append(set.Links, Link{CID: cid, Size: int64(n)})
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		} else if err != nil {
			return "", fmt.Errorf("error reading input: %v", err)
		}
	}
	if len(set.Links) == 0 {
		return "", fmt.Errorf("nothing to pack")
	}
	root, err := yaml.Marshal(&set)
	if err != nil {
		return "", fmt.Errorf("error encoding root piece: %v", err)
	}
	rootID := ContentID(root)
	if err := w.Write(ctx, bucket, rootID, root); err != nil {
		return "", err
	}
	return rootID, nil
}

// ReadWriter is a backend that can also store pieces.
type ReadWriter interface {
	Backend
	Writer
}

// Dial opens the backend named by src.Backend.
func Dial(ctx context.Context, src utils.PieceSource) (ReadWriter, error) {
	switch src.Backend {
	case "s3":
		return NewS3Backend(ctx, src.Profile, src.Endpoint)
	case "dir", "":
		if src.Root == "" {
			return nil, fmt.Errorf("%w: dir backend needs a root directory", utils.ErrStorage)
		}
		return NewDirBackend(src.Root), nil
	}
	return nil, fmt.Errorf("%w: unknown backend %q", utils.ErrStorage, src.Backend)
}
