package zimfile

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// cluster is a decompressed cluster body. Blob offsets are relative to the
// start of data, which begins with the offset table itself.
type cluster struct {
	compression Compression
	offsets     []uint64
	data        []byte
}

func (c *cluster) blobCount() int { return len(c.offsets) - 1 }

func (c *cluster) blob(n uint32) ([]byte, error) {
	if int(n) >= c.blobCount() {
		return nil, fmt.Errorf("%w: blob %d of %d", ErrCorrupt, n, c.blobCount())
	}
	start, end := c.offsets[n], c.offsets[n+1]
	if start > end || end > uint64(len(c.data)) {
		return nil, fmt.Errorf("%w: blob %d spans [%d,%d) of %d bytes", ErrCorrupt, n, start, end, len(c.data))
	}
	return c.data[start:end], nil
}

// decodeCluster reads a cluster: one info byte, then the (possibly
// compressed) body.
func decodeCluster(r io.Reader) (*cluster, error) {
	var info [1]byte
	if _, err := io.ReadFull(r, info[:]); err != nil {
		return nil, fmt.Errorf("read cluster info: %w", err)
	}
	comp := Compression(info[0] & 0x0f)
	offsetSize := 4
	if info[0]&flagExtended != 0 {
		offsetSize = 8
	}

	data, err := decompress(comp, r)
	if err != nil {
		return nil, err
	}

	offsets, err := parseOffsets(data, offsetSize)
	if err != nil {
		return nil, err
	}
	return &cluster{compression: comp, offsets: offsets, data: data}, nil
}

func decompress(comp Compression, r io.Reader) ([]byte, error) {
	switch comp {
	case CompressionDefault, CompressionNone:
		return io.ReadAll(r)

	case CompressionXZ:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("xz cluster: %w", err)
		}
		data, err := io.ReadAll(xr)
		if err != nil {
			return nil, fmt.Errorf("xz cluster: %w", err)
		}
		return data, nil

	case CompressionZstd:
		zr, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("zstd cluster: %w", err)
		}
		defer zr.Close()
		data, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("zstd cluster: %w", err)
		}
		return data, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCompression, comp)
	}
}

func parseOffsets(data []byte, size int) ([]uint64, error) {
	read := func(pos int) uint64 {
		if size == 8 {
			return binary.LittleEndian.Uint64(data[pos:])
		}
		return uint64(binary.LittleEndian.Uint32(data[pos:]))
	}
	if len(data) < size {
		return nil, fmt.Errorf("%w: cluster body of %d bytes has no offset table", ErrCorrupt, len(data))
	}
	first := read(0)
	if first%uint64(size) != 0 || first < uint64(size) || first > uint64(len(data)) {
		return nil, fmt.Errorf("%w: bad first blob offset %d", ErrCorrupt, first)
	}
	n := int(first) / size
	offsets := make([]uint64, n)
	for i := range offsets {
		offsets[i] = read(i * size)
	}
	return offsets, nil
}
