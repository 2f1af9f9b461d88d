package archive

import (
	"fmt"

	roaring "github.com/RoaringBitmap/roaring"
)

// RedirectSet is a compressed set of entry indices known to be redirects.
// It lets enumeration skip redirects without decoding their directory
// entries again.
type RedirectSet struct {
	bm *roaring.Bitmap
}

// NewRedirectSet returns an empty set.
func NewRedirectSet() *RedirectSet {
	return &RedirectSet{bm: roaring.New()}
}

// ScanRedirects reads every directory entry in r and records the redirects.
// Only entry metadata is read, never content.
func ScanRedirects(e Engine, r Range) (*RedirectSet, error) {
	set := NewRedirectSet()
	if r.Empty() {
		return set, nil
	}
	for idx := uint64(r.First); idx <= uint64(r.Last); idx++ {
		entry, err := e.Entry(Index(idx))
		if err != nil {
			return nil, fmt.Errorf("scan redirects at %d: %w", idx, err)
		}
		if entry.Redirect {
			set.Add(entry.Index)
		}
	}
	return set, nil
}

func (s *RedirectSet) Add(idx Index) {
	s.bm.Add(idx)
}

// Contains reports whether idx is a known redirect. A nil set contains nothing.
func (s *RedirectSet) Contains(idx Index) bool {
	if s == nil {
		return false
	}
	return s.bm.Contains(idx)
}

// Len returns the number of redirects in the set.
func (s *RedirectSet) Len() uint64 {
	if s == nil {
		return 0
	}
	return s.bm.GetCardinality()
}
