package zimfile

import (
	"bufio"
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	internal "github.com/ZanzyTHEbar/zimkit/zimkit"
	"github.com/ZanzyTHEbar/zimkit/zimkit/archive"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

type options struct {
	useMmap          bool
	clusterCacheSize int
	verifyChecksum   bool
	logger           zerolog.Logger
}

// Option configures Open.
type Option func(*options)

// WithMmap maps the file into memory instead of issuing a read per access.
// It is ignored on platforms without mmap.
func WithMmap(enabled bool) Option {
	return func(o *options) { o.useMmap = enabled }
}

// WithClusterCacheSize bounds the number of decompressed clusters kept.
func WithClusterCacheSize(n int) Option {
	return func(o *options) { o.clusterCacheSize = n }
}

// WithChecksumVerification makes Open fail unless the trailing MD5 matches.
func WithChecksumVerification(enabled bool) Option {
	return func(o *options) { o.verifyChecksum = enabled }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// File is an open ZIM archive. It implements archive.Engine and is safe
// for concurrent use.
type File struct {
	mu     sync.RWMutex // write-held only by Close
	closed bool

	path string
	f    *os.File
	mmap []byte
	r    io.ReaderAt
	size int64

	hdr       FileHeader
	mimeTypes []string

	clusters *lru.Cache[uint32, *cluster]

	nsMu    sync.Mutex
	nsRange map[byte][2]archive.Index

	logger zerolog.Logger
}

// Open opens and validates the ZIM file at path.
func Open(path string, opts ...Option) (*File, error) {
	o := options{
		useMmap:          internal.DefaultUseMmap,
		clusterCacheSize: internal.DefaultClusterCacheSize,
		logger:           zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clusterCacheSize <= 0 {
		o.clusterCacheSize = 1
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	zf := &File{
		path:    path,
		f:       f,
		r:       f,
		size:    info.Size(),
		nsRange: make(map[byte][2]archive.Index),
		logger:  o.logger.With().Str("archive", path).Logger(),
	}

	if o.useMmap && zf.size > 0 {
		if m, err := mmapFile(f, zf.size); err == nil {
			zf.mmap = m
			zf.r = bytes.NewReader(m)
		} else {
			zf.logger.Debug().Err(err).Msg("mmap unavailable, falling back to file reads")
		}
	}

	zf.clusters, err = lru.New[uint32, *cluster](o.clusterCacheSize)
	if err != nil {
		zf.release()
		return nil, err
	}

	if err := zf.readHeader(); err != nil {
		zf.release()
		return nil, err
	}
	if o.verifyChecksum {
		if err := zf.verify(); err != nil {
			zf.release()
			return nil, err
		}
	}

	zf.logger.Debug().
		Uint32("entries", zf.hdr.EntryCount).
		Uint32("clusters", zf.hdr.ClusterCount).
		Bool("mmap", zf.mmap != nil).
		Msg("ZIM file opened")
	return zf, nil
}

// OpenEngine adapts Open to archive.Opener.
func OpenEngine(opts ...Option) archive.Opener {
	return func(path string) (archive.Engine, error) {
		return Open(path, opts...)
	}
}

func (z *File) readHeader() error {
	buf := make([]byte, HeaderSize)
	if _, err := z.r.ReadAt(buf, 0); err != nil {
		if err == io.EOF {
			return fmt.Errorf("%w: file shorter than header", ErrBadMagic)
		}
		return fmt.Errorf("read header: %w", err)
	}
	if err := z.hdr.UnmarshalBinary(buf); err != nil {
		return err
	}

	size := uint64(z.size)
	if z.hdr.URLPtrPos+8*uint64(z.hdr.EntryCount) > size ||
		z.hdr.TitlePtrPos+4*uint64(z.hdr.EntryCount) > size ||
		z.hdr.ClusterPtrPos+8*uint64(z.hdr.ClusterCount) > size ||
		z.hdr.MimeListPos >= size {
		return fmt.Errorf("%w: pointer lists extend past end of file", ErrCorrupt)
	}

	mimes, err := z.readMimeList()
	if err != nil {
		return err
	}
	z.mimeTypes = mimes
	return nil
}

func (z *File) readMimeList() ([]string, error) {
	br := bufio.NewReader(io.NewSectionReader(z.r, int64(z.hdr.MimeListPos), z.size-int64(z.hdr.MimeListPos)))
	var mimes []string
	for {
		s, err := readCString(br)
		if err != nil {
			return nil, fmt.Errorf("read mime list: %w", err)
		}
		if s == "" {
			return mimes, nil
		}
		mimes = append(mimes, s)
	}
}

// FileHeader returns the raw header.
func (z *File) FileHeader() FileHeader { return z.hdr }

// MimeTypes returns the archive's MIME list.
func (z *File) MimeTypes() []string {
	out := make([]string, len(z.mimeTypes))
	copy(out, z.mimeTypes)
	return out
}

func (z *File) Header() archive.Header {
	return archive.Header{
		UUID:        z.hdr.UUID,
		EntryCount:  z.hdr.EntryCount,
		HasMainPage: z.hdr.HasMainPage(),
		MainPage:    z.hdr.MainPage,
	}
}

func (z *File) readU64(off uint64) (uint64, error) {
	var b [8]byte
	if _, err := z.r.ReadAt(b[:], int64(off)); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func (z *File) readU32(off uint64) (uint32, error) {
	var b [4]byte
	if _, err := z.r.ReadAt(b[:], int64(off)); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func (z *File) direntOffset(idx archive.Index) (uint64, error) {
	if idx >= z.hdr.EntryCount {
		return 0, fmt.Errorf("%w: %d of %d", archive.ErrIndexOutOfRange, idx, z.hdr.EntryCount)
	}
	off, err := z.readU64(z.hdr.URLPtrPos + 8*uint64(idx))
	if err != nil {
		return 0, fmt.Errorf("read url pointer %d: %w", idx, err)
	}
	if off >= uint64(z.size) {
		return 0, fmt.Errorf("%w: dirent %d at %d past end of file", ErrCorrupt, idx, off)
	}
	return off, nil
}

func (z *File) dirent(idx archive.Index) (Dirent, error) {
	off, err := z.direntOffset(idx)
	if err != nil {
		return Dirent{}, err
	}
	d, err := readDirent(io.NewSectionReader(z.r, int64(off), z.size-int64(off)))
	if err != nil {
		return Dirent{}, fmt.Errorf("dirent %d: %w", idx, err)
	}
	return d, nil
}

func (z *File) namespaceAt(idx archive.Index) (byte, error) {
	off, err := z.direntOffset(idx)
	if err != nil {
		return 0, err
	}
	var b [1]byte
	if _, err := z.r.ReadAt(b[:], int64(off)+3); err != nil {
		return 0, fmt.Errorf("dirent %d namespace: %w", idx, err)
	}
	return b[0], nil
}

// namespaceBounds returns [begin, end) of ns, caching the result.
func (z *File) namespaceBounds(ns byte) (archive.Index, archive.Index, error) {
	z.nsMu.Lock()
	bounds, ok := z.nsRange[ns]
	z.nsMu.Unlock()
	if ok {
		return bounds[0], bounds[1], nil
	}

	n := int(z.hdr.EntryCount)
	var searchErr error
	lowerBound := func(pred func(byte) bool) archive.Index {
		return archive.Index(sort.Search(n, func(i int) bool {
			if searchErr != nil {
				return true
			}
			got, err := z.namespaceAt(archive.Index(i))
			if err != nil {
				searchErr = err
				return true
			}
			return pred(got)
		}))
	}
	begin := lowerBound(func(got byte) bool { return got >= ns })
	end := lowerBound(func(got byte) bool { return got > ns })
	if searchErr != nil {
		return 0, 0, searchErr
	}

	z.nsMu.Lock()
	z.nsRange[ns] = [2]archive.Index{begin, end}
	z.nsMu.Unlock()
	return begin, end, nil
}

func (z *File) NamespaceBegin(ns byte) (archive.Index, error) {
	z.mu.RLock()
	defer z.mu.RUnlock()
	if z.closed {
		return 0, ErrClosed
	}
	begin, _, err := z.namespaceBounds(ns)
	return begin, err
}

func (z *File) NamespaceEnd(ns byte) (archive.Index, error) {
	z.mu.RLock()
	defer z.mu.RUnlock()
	if z.closed {
		return 0, ErrClosed
	}
	_, end, err := z.namespaceBounds(ns)
	return end, err
}

func (z *File) NamespaceCount(ns byte) (uint32, error) {
	z.mu.RLock()
	defer z.mu.RUnlock()
	if z.closed {
		return 0, ErrClosed
	}
	begin, end, err := z.namespaceBounds(ns)
	return end - begin, err
}

func (z *File) Entry(idx archive.Index) (archive.Entry, error) {
	z.mu.RLock()
	defer z.mu.RUnlock()
	if z.closed {
		return archive.Entry{}, ErrClosed
	}
	d, err := z.dirent(idx)
	if err != nil {
		return archive.Entry{}, err
	}
	return z.toEntry(idx, d)
}

func (z *File) toEntry(idx archive.Index, d Dirent) (archive.Entry, error) {
	e := archive.Entry{
		Index:     idx,
		Namespace: d.Namespace,
		URL:       d.URL,
		Title:     d.EffectiveTitle(),
		Length:    -1,
	}
	switch {
	case d.IsRedirect():
		e.Redirect = true
		e.RedirectIndex = d.RedirectIndex
		e.Length = 0
	case d.hasContent():
		if int(d.MimeType) >= len(z.mimeTypes) {
			return e, fmt.Errorf("%w: dirent %d mime type %d of %d", ErrCorrupt, idx, d.MimeType, len(z.mimeTypes))
		}
		e.MimeType = z.mimeTypes[d.MimeType]
	default:
		e.Length = 0
	}
	return e, nil
}

func (z *File) Content(e archive.Entry) ([]byte, error) {
	z.mu.RLock()
	defer z.mu.RUnlock()
	if z.closed {
		return nil, ErrClosed
	}
	d, err := z.dirent(e.Index)
	if err != nil {
		return nil, err
	}
	if d.IsRedirect() {
		return nil, archive.ErrRedirectEntry
	}
	if !d.hasContent() {
		return nil, fmt.Errorf("%w: dirent %d has no content", ErrCorrupt, e.Index)
	}
	c, err := z.cluster(d.Cluster)
	if err != nil {
		return nil, err
	}
	blob, err := c.blob(d.Blob)
	if err != nil {
		return nil, fmt.Errorf("cluster %d: %w", d.Cluster, err)
	}
	out := make([]byte, len(blob))
	copy(out, blob)
	return out, nil
}

func (z *File) clusterOffset(n uint32) (uint64, error) {
	off, err := z.readU64(z.hdr.ClusterPtrPos + 8*uint64(n))
	if err != nil {
		return 0, fmt.Errorf("read cluster pointer %d: %w", n, err)
	}
	return off, nil
}

func (z *File) cluster(n uint32) (*cluster, error) {
	if c, ok := z.clusters.Get(n); ok {
		return c, nil
	}
	if n >= z.hdr.ClusterCount {
		return nil, fmt.Errorf("%w: cluster %d of %d", ErrCorrupt, n, z.hdr.ClusterCount)
	}

	start, err := z.clusterOffset(n)
	if err != nil {
		return nil, err
	}
	end := uint64(z.size)
	if n+1 < z.hdr.ClusterCount {
		if end, err = z.clusterOffset(n + 1); err != nil {
			return nil, err
		}
	} else if z.hdr.ChecksumPos > start && z.hdr.ChecksumPos <= uint64(z.size) {
		end = z.hdr.ChecksumPos
	}
	if start >= end || end > uint64(z.size) {
		return nil, fmt.Errorf("%w: cluster %d spans [%d,%d)", ErrCorrupt, n, start, end)
	}

	c, err := decodeCluster(io.NewSectionReader(z.r, int64(start), int64(end-start)))
	if err != nil {
		return nil, fmt.Errorf("cluster %d: %w", n, err)
	}
	z.logger.Debug().
		Uint32("cluster", n).
		Str("compression", c.compression.String()).
		Int("blobs", c.blobCount()).
		Msg("cluster cache miss")
	z.clusters.Add(n, c)
	return c, nil
}

func (z *File) titleAt(pos uint32) (archive.Index, Dirent, error) {
	idx, err := z.readU32(z.hdr.TitlePtrPos + 4*uint64(pos))
	if err != nil {
		return 0, Dirent{}, fmt.Errorf("read title pointer %d: %w", pos, err)
	}
	d, err := z.dirent(idx)
	return idx, d, err
}

func (z *File) FindByTitle(ns byte, title string) (archive.Index, bool, error) {
	z.mu.RLock()
	defer z.mu.RUnlock()
	if z.closed {
		return 0, false, ErrClosed
	}

	var searchErr error
	pos := sort.Search(int(z.hdr.EntryCount), func(i int) bool {
		if searchErr != nil {
			return true
		}
		_, d, err := z.titleAt(uint32(i))
		if err != nil {
			searchErr = err
			return true
		}
		if d.Namespace != ns {
			return d.Namespace > ns
		}
		return d.EffectiveTitle() >= title
	})
	if searchErr != nil {
		return 0, false, searchErr
	}
	if pos == int(z.hdr.EntryCount) {
		return 0, false, nil
	}
	idx, d, err := z.titleAt(uint32(pos))
	if err != nil {
		return 0, false, err
	}
	if d.Namespace != ns {
		return 0, false, nil
	}
	return idx, true, nil
}

// Verify checks the trailing MD5 checksum against the file contents.
func (z *File) Verify() error {
	z.mu.RLock()
	defer z.mu.RUnlock()
	if z.closed {
		return ErrClosed
	}
	return z.verify()
}

func (z *File) verify() error {
	pos := z.hdr.ChecksumPos
	if pos == 0 || pos+md5.Size > uint64(z.size) {
		return ErrNoChecksum
	}
	want := make([]byte, md5.Size)
	if _, err := z.r.ReadAt(want, int64(pos)); err != nil {
		return fmt.Errorf("read checksum: %w", err)
	}
	h := md5.New()
	if _, err := io.Copy(h, io.NewSectionReader(z.r, 0, int64(pos))); err != nil {
		return fmt.Errorf("hash archive: %w", err)
	}
	if !bytes.Equal(h.Sum(nil), want) {
		return ErrChecksumMismatch
	}
	return nil
}

func (z *File) release() error {
	var firstErr error
	if z.mmap != nil {
		if err := munmap(z.mmap); err != nil {
			firstErr = err
		}
		z.mmap = nil
	}
	if z.f != nil {
		if err := z.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		z.f = nil
	}
	return firstErr
}

// Close unmaps and closes the file. Calls after the first are no-ops.
func (z *File) Close() error {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.closed {
		return nil
	}
	z.closed = true
	z.clusters.Purge()
	return z.release()
}

var _ archive.Engine = (*File)(nil)
