// Package zimtest writes small ZIM files for tests.
package zimtest

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/ZanzyTHEbar/zimkit/zimkit/zimfile"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Entry is one fixture entry. RedirectTo names the target as
// "<namespace>/<url>".
type Entry struct {
	Namespace  byte
	URL        string
	Title      string
	MimeType   string
	Content    []byte
	RedirectTo string
}

func (e Entry) key() string { return string(e.Namespace) + "/" + e.URL }

// mimeOf never returns "", which would terminate the MIME list.
func mimeOf(e Entry) string {
	if e.MimeType == "" {
		return "application/octet-stream"
	}
	return e.MimeType
}

// Options controls the fixture layout.
type Options struct {
	UUID            uuid.UUID
	MainPage        string // "<namespace>/<url>", empty for none
	Compression     zimfile.Compression
	BlobsPerCluster int  // defaults to 4
	Extended        bool // 64-bit blob offsets
	MinorVersion    uint16
}

// Build encodes entries as a ZIM file.
func Build(opts Options, entries ...Entry) ([]byte, error) {
	if opts.BlobsPerCluster <= 0 {
		opts.BlobsPerCluster = 4
	}
	if opts.Compression == zimfile.CompressionDefault {
		opts.Compression = zimfile.CompressionNone
	}
	if opts.UUID == uuid.Nil {
		opts.UUID = uuid.New()
	}

	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Namespace != sorted[j].Namespace {
			return sorted[i].Namespace < sorted[j].Namespace
		}
		return sorted[i].URL < sorted[j].URL
	})
	index := make(map[string]uint32, len(sorted))
	for i, e := range sorted {
		if _, dup := index[e.key()]; dup {
			return nil, fmt.Errorf("zimtest: duplicate entry %q", e.key())
		}
		index[e.key()] = uint32(i)
	}

	mimeIndex := map[string]uint16{}
	var mimes []string
	for _, e := range sorted {
		if e.RedirectTo != "" {
			continue
		}
		if _, ok := mimeIndex[mimeOf(e)]; !ok {
			mimeIndex[mimeOf(e)] = uint16(len(mimes))
			mimes = append(mimes, mimeOf(e))
		}
	}

	var clusters [][][]byte
	dirents := make([]zimfile.Dirent, len(sorted))
	for i, e := range sorted {
		d := zimfile.Dirent{Namespace: e.Namespace, URL: e.URL, Title: e.Title}
		if e.Title == e.URL {
			d.Title = ""
		}
		if e.RedirectTo != "" {
			target, ok := index[e.RedirectTo]
			if !ok {
				return nil, fmt.Errorf("zimtest: %q redirects to unknown %q", e.key(), e.RedirectTo)
			}
			d.MimeType = zimfile.MimeRedirect
			d.RedirectIndex = target
		} else {
			if len(clusters) == 0 || len(clusters[len(clusters)-1]) == opts.BlobsPerCluster {
				clusters = append(clusters, nil)
			}
			c := len(clusters) - 1
			d.MimeType = mimeIndex[mimeOf(e)]
			d.Cluster = uint32(c)
			d.Blob = uint32(len(clusters[c]))
			clusters[c] = append(clusters[c], e.Content)
		}
		dirents[i] = d
	}

	titleOrder := make([]uint32, len(sorted))
	for i := range titleOrder {
		titleOrder[i] = uint32(i)
	}
	sort.SliceStable(titleOrder, func(i, j int) bool {
		a, b := dirents[titleOrder[i]], dirents[titleOrder[j]]
		if a.Namespace != b.Namespace {
			return a.Namespace < b.Namespace
		}
		return a.EffectiveTitle() < b.EffectiveTitle()
	})

	var mimeList []byte
	for _, m := range mimes {
		mimeList = append(mimeList, m...)
		mimeList = append(mimeList, 0)
	}
	mimeList = append(mimeList, 0)

	n := uint64(len(sorted))
	hdr := zimfile.FileHeader{
		Magic:        zimfile.Magic,
		MajorVersion: 5,
		MinorVersion: opts.MinorVersion,
		UUID:         opts.UUID,
		EntryCount:   uint32(n),
		ClusterCount: uint32(len(clusters)),
		MainPage:     0xffffffff,
		LayoutPage:   0xffffffff,
	}
	if opts.MainPage != "" {
		idx, ok := index[opts.MainPage]
		if !ok {
			return nil, fmt.Errorf("zimtest: main page %q not found", opts.MainPage)
		}
		hdr.MainPage = idx
	}
	hdr.MimeListPos = zimfile.HeaderSize
	hdr.URLPtrPos = hdr.MimeListPos + uint64(len(mimeList))
	hdr.TitlePtrPos = hdr.URLPtrPos + 8*n
	hdr.ClusterPtrPos = hdr.TitlePtrPos + 4*n
	pos := hdr.ClusterPtrPos + 8*uint64(len(clusters))

	var direntBytes bytes.Buffer
	urlPtrs := make([]uint64, n)
	for i, d := range dirents {
		b, err := d.MarshalBinary()
		if err != nil {
			return nil, err
		}
		urlPtrs[i] = pos + uint64(direntBytes.Len())
		direntBytes.Write(b)
	}
	pos += uint64(direntBytes.Len())

	var clusterBytes bytes.Buffer
	clusterPtrs := make([]uint64, len(clusters))
	for i, blobs := range clusters {
		b, err := EncodeCluster(opts.Compression, opts.Extended, blobs)
		if err != nil {
			return nil, err
		}
		clusterPtrs[i] = pos + uint64(clusterBytes.Len())
		clusterBytes.Write(b)
	}
	pos += uint64(clusterBytes.Len())
	hdr.ChecksumPos = pos

	var out bytes.Buffer
	hb, _ := hdr.MarshalBinary()
	out.Write(hb)
	out.Write(mimeList)
	le := binary.LittleEndian
	for _, p := range urlPtrs {
		out.Write(le.AppendUint64(nil, p))
	}
	for _, t := range titleOrder {
		out.Write(le.AppendUint32(nil, t))
	}
	for _, p := range clusterPtrs {
		out.Write(le.AppendUint64(nil, p))
	}
	out.Write(direntBytes.Bytes())
	out.Write(clusterBytes.Bytes())
	sum := md5.Sum(out.Bytes())
	out.Write(sum[:])
	return out.Bytes(), nil
}

// EncodeCluster encodes blobs as one cluster.
func EncodeCluster(comp zimfile.Compression, extended bool, blobs [][]byte) ([]byte, error) {
	size := 4
	info := byte(comp)
	if extended {
		size = 8
		info |= 0x10
	}
	var body bytes.Buffer
	off := uint64(size * (len(blobs) + 1))
	put := func(v uint64) {
		if size == 8 {
			body.Write(binary.LittleEndian.AppendUint64(nil, v))
		} else {
			body.Write(binary.LittleEndian.AppendUint32(nil, uint32(v)))
		}
	}
	put(off)
	for _, b := range blobs {
		off += uint64(len(b))
		put(off)
	}
	for _, b := range blobs {
		body.Write(b)
	}

	out := []byte{info}
	switch comp {
	case zimfile.CompressionNone:
		return append(out, body.Bytes()...), nil
	case zimfile.CompressionZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(body.Bytes(), out), nil
	case zimfile.CompressionXZ:
		var buf bytes.Buffer
		w, err := xz.NewWriter(&buf)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(body.Bytes()); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return append(out, buf.Bytes()...), nil
	default:
		return nil, fmt.Errorf("zimtest: cannot encode %s clusters", comp)
	}
}

// WriteFile builds a fixture into a temp dir owned by t and returns its path.
func WriteFile(t testing.TB, opts Options, entries ...Entry) string {
	t.Helper()
	data, err := Build(opts, entries...)
	if err != nil {
		t.Fatalf("build ZIM fixture: %v", err)
	}
	path := filepath.Join(t.TempDir(), "fixture.zim")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write ZIM fixture: %v", err)
	}
	return path
}

// Wikipedia is a small fixture resembling a content archive: metadata in
// M, content in A with one redirect, images in I.
func Wikipedia() (Options, []Entry) {
	opts := Options{
		UUID:     uuid.MustParse("1e2a7c1e-5b0c-4f7e-9d0a-3a6b2c8d4e5f"),
		MainPage: "A/Main_Page",
	}
	return opts, []Entry{
		{Namespace: 'A', URL: "Main_Page", Title: "Main Page", MimeType: "text/html", Content: []byte("<h1>Welcome</h1>")},
		{Namespace: 'A', URL: "Go_(programming_language)", Title: "Go (programming language)", MimeType: "text/html", Content: []byte("<p>Go is a language.</p>")},
		{Namespace: 'A', URL: "Golang", Title: "Golang", RedirectTo: "A/Go_(programming_language)"},
		{Namespace: 'A', URL: "Zstandard", Title: "Zstandard", MimeType: "text/html", Content: []byte("<p>zstd</p>")},
		{Namespace: 'I', URL: "logo.png", MimeType: "image/png", Content: []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a}},
		{Namespace: 'M', URL: "Title", MimeType: "text/plain", Content: []byte("Test Wikipedia")},
		{Namespace: 'M', URL: "Language", MimeType: "text/plain", Content: []byte("eng")},
	}
}
