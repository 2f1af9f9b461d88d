// Package archive defines the capability surface a namespace-partitioned,
// offset-addressable content archive must provide to be read by the
// accessor. Concrete engines live in zimfile (on-disk ZIM files) and
// memarchive (in-memory fixtures).
package archive

import (
	"errors"

	"github.com/google/uuid"
)

// Index is the position of an entry in the archive's URL-ordered directory.
type Index = uint32

// NoMainPage marks a header without a designated main page.
const NoMainPage Index = 0xffffffff

var (
	// ErrIndexOutOfRange is returned by engines asked for an entry past the directory end.
	ErrIndexOutOfRange = errors.New("entry index out of range")
	// ErrRedirectEntry is returned by Content for redirect entries, which carry no data.
	ErrRedirectEntry = errors.New("entry is a redirect and has no content")
)

// Header captures the archive-wide metadata the accessor needs.
type Header struct {
	UUID        uuid.UUID
	EntryCount  uint32
	HasMainPage bool
	MainPage    Index
}

// Entry is an immutable snapshot of one directory entry. Content bytes are
// fetched separately through Engine.Content so that URL-only callers never
// touch compressed data.
type Entry struct {
	Index     Index
	Namespace byte
	URL       string
	Title     string
	MimeType  string

	Redirect      bool
	RedirectIndex Index

	// Length is the declared content size, or -1 when the engine only
	// learns it by reading the content.
	Length int64
}

// Key returns the namespaced URL, e.g. "A/Main_Page".
func (e Entry) Key() string {
	return string(e.Namespace) + "/" + e.URL
}

// Engine is the archive engine capability interface. Implementations must
// be safe for concurrent reads.
type Engine interface {
	Header() Header

	// NamespaceBegin returns the index of the first entry in ns.
	NamespaceBegin(ns byte) (Index, error)
	// NamespaceEnd returns the index one past the last entry in ns.
	NamespaceEnd(ns byte) (Index, error)
	NamespaceCount(ns byte) (uint32, error)

	Entry(idx Index) (Entry, error)
	Content(e Entry) ([]byte, error)

	// FindByTitle returns the index of the first entry in ns whose title
	// sorts at or after title. found is false when no such entry exists
	// in ns.
	FindByTitle(ns byte, title string) (idx Index, found bool, err error)

	Close() error
}

// Opener opens an archive by path.
type Opener func(path string) (Engine, error)

// Range is the inclusive index span of a namespace.
type Range struct {
	First Index
	Last  Index
	Count uint32
}

// Empty reports whether the namespace holds no entries.
func (r Range) Empty() bool { return r.Count == 0 }

// Contains reports whether idx falls within the range.
func (r Range) Contains(idx Index) bool {
	return !r.Empty() && idx >= r.First && idx <= r.Last
}

// NamespaceRange computes the inclusive range of ns on e.
func NamespaceRange(e Engine, ns byte) (Range, error) {
	begin, err := e.NamespaceBegin(ns)
	if err != nil {
		return Range{}, err
	}
	end, err := e.NamespaceEnd(ns)
	if err != nil {
		return Range{}, err
	}
	count, err := e.NamespaceCount(ns)
	if err != nil {
		return Range{}, err
	}
	if end <= begin {
		return Range{First: begin, Last: begin}, nil
	}
	return Range{First: begin, Last: end - 1, Count: count}, nil
}
