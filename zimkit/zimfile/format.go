// Package zimfile reads ZIM archives: a fixed header, a MIME type list,
// URL- and title-ordered pointer lists into a directory of entries, and
// clusters of (optionally compressed) content blobs.
//
// Layout (little-endian):
//
//	header        80 bytes, see FileHeader
//	mime list     zero-terminated strings, ended by an empty string
//	url ptrs      EntryCount x u64 directory entry offsets, ordered by namespace+url
//	title ptrs    EntryCount x u32 entry indices, ordered by namespace+title
//	cluster ptrs  ClusterCount x u64 cluster offsets
//	directory     entries, see Dirent
//	clusters      compression byte, blob offset table, blobs
//	checksum      16 byte MD5 of everything before it
package zimfile

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Magic is the ZIM file signature.
const Magic uint32 = 72173914

// HeaderSize is the encoded size of FileHeader.
const HeaderSize = 80

// Directory entry MIME markers.
const (
	MimeRedirect   uint16 = 0xffff
	MimeLinkTarget uint16 = 0xfffe
	MimeDeleted    uint16 = 0xfffd
)

// Compression identifies how a cluster body is stored. The low nibble of
// the cluster's first byte carries it; flagExtended selects 64-bit blob
// offsets.
type Compression uint8

const (
	CompressionDefault Compression = 0
	CompressionNone    Compression = 1
	CompressionZlib    Compression = 2
	CompressionBzip2   Compression = 3
	CompressionXZ      Compression = 4
	CompressionZstd    Compression = 5

	flagExtended byte = 0x10
)

func (c Compression) String() string {
	switch c {
	case CompressionDefault, CompressionNone:
		return "none"
	case CompressionZlib:
		return "zlib"
	case CompressionBzip2:
		return "bzip2"
	case CompressionXZ:
		return "xz"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

var (
	ErrBadMagic               = errors.New("zimfile: not a ZIM file")
	ErrUnsupportedVersion     = errors.New("zimfile: unsupported ZIM version")
	ErrUnsupportedCompression = errors.New("zimfile: unsupported cluster compression")
	ErrChecksumMismatch       = errors.New("zimfile: checksum mismatch")
	ErrNoChecksum             = errors.New("zimfile: archive has no checksum")
	ErrCorrupt                = errors.New("zimfile: corrupt archive")
	ErrClosed                 = errors.New("zimfile: file is closed")
)

// FileHeader is the fixed-size ZIM header.
type FileHeader struct {
	Magic         uint32
	MajorVersion  uint16
	MinorVersion  uint16
	UUID          uuid.UUID
	EntryCount    uint32
	ClusterCount  uint32
	URLPtrPos     uint64
	TitlePtrPos   uint64
	ClusterPtrPos uint64
	MimeListPos   uint64
	MainPage      uint32
	LayoutPage    uint32
	ChecksumPos   uint64
}

// MarshalBinary encodes the header into its 80 byte form.
func (h FileHeader) MarshalBinary() ([]byte, error) {
	b := make([]byte, HeaderSize)
	le := binary.LittleEndian
	le.PutUint32(b[0:], h.Magic)
	le.PutUint16(b[4:], h.MajorVersion)
	le.PutUint16(b[6:], h.MinorVersion)
	copy(b[8:24], h.UUID[:])
	le.PutUint32(b[24:], h.EntryCount)
	le.PutUint32(b[28:], h.ClusterCount)
	le.PutUint64(b[32:], h.URLPtrPos)
	le.PutUint64(b[40:], h.TitlePtrPos)
	le.PutUint64(b[48:], h.ClusterPtrPos)
	le.PutUint64(b[56:], h.MimeListPos)
	le.PutUint32(b[64:], h.MainPage)
	le.PutUint32(b[68:], h.LayoutPage)
	le.PutUint64(b[72:], h.ChecksumPos)
	return b, nil
}

// UnmarshalBinary decodes and validates an 80 byte header.
func (h *FileHeader) UnmarshalBinary(b []byte) error {
	if len(b) < HeaderSize {
		return fmt.Errorf("%w: header is %d bytes", ErrCorrupt, len(b))
	}
	le := binary.LittleEndian
	h.Magic = le.Uint32(b[0:])
	if h.Magic != Magic {
		return ErrBadMagic
	}
	h.MajorVersion = le.Uint16(b[4:])
	h.MinorVersion = le.Uint16(b[6:])
	if h.MajorVersion != 5 && h.MajorVersion != 6 {
		return fmt.Errorf("%w: %d.%d", ErrUnsupportedVersion, h.MajorVersion, h.MinorVersion)
	}
	copy(h.UUID[:], b[8:24])
	h.EntryCount = le.Uint32(b[24:])
	h.ClusterCount = le.Uint32(b[28:])
	h.URLPtrPos = le.Uint64(b[32:])
	h.TitlePtrPos = le.Uint64(b[40:])
	h.ClusterPtrPos = le.Uint64(b[48:])
	h.MimeListPos = le.Uint64(b[56:])
	h.MainPage = le.Uint32(b[64:])
	h.LayoutPage = le.Uint32(b[68:])
	h.ChecksumPos = le.Uint64(b[72:])
	return nil
}

// HasMainPage reports whether the header designates a main page.
func (h FileHeader) HasMainPage() bool {
	return h.MainPage != 0xffffffff
}
