// Package memarchive is an in-memory archive.Engine. It is used as a fixture
// for the accessor and wherever content needs to be served without an
// on-disk archive.
package memarchive

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/ZanzyTHEbar/zimkit/zimkit/archive"

	"github.com/armon/go-radix"
	"github.com/google/uuid"
)

var ErrClosed = errors.New("memarchive: archive is closed")

// Item describes one entry to add. RedirectTo, when set, names the target
// as "<namespace>/<url>" and makes the item a redirect; Content is then ignored.
type Item struct {
	Namespace  byte
	URL        string
	Title      string
	MimeType   string
	Content    []byte
	RedirectTo string
}

func (it Item) key() string { return string(it.Namespace) + "/" + it.URL }

// Builder accumulates items and produces an immutable Archive.
type Builder struct {
	items    []Item
	id       uuid.UUID
	mainPage string
}

func NewBuilder() *Builder {
	return &Builder{id: uuid.New()}
}

func (b *Builder) WithUUID(id uuid.UUID) *Builder {
	b.id = id
	return b
}

// WithMainPage designates the entry with the given "<namespace>/<url>" key
// as the main page.
func (b *Builder) WithMainPage(key string) *Builder {
	b.mainPage = key
	return b
}

func (b *Builder) Add(items ...Item) *Builder {
	b.items = append(b.items, items...)
	return b
}

type record struct {
	entry   archive.Entry
	content []byte
}

// Archive is an immutable in-memory engine.
type Archive struct {
	header     archive.Header
	records    []record
	urls       *radix.Tree // "<ns>/<url>" -> archive.Index
	titleOrder []archive.Index
	closed     atomic.Bool
}

// Build sorts the items into directory order and resolves redirect targets.
func (b *Builder) Build() (*Archive, error) {
	items := make([]Item, len(b.items))
	copy(items, b.items)
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Namespace != items[j].Namespace {
			return items[i].Namespace < items[j].Namespace
		}
		return items[i].URL < items[j].URL
	})

	a := &Archive{
		records: make([]record, len(items)),
		urls:    radix.New(),
	}
	for i, it := range items {
		if it.URL == "" {
			return nil, fmt.Errorf("memarchive: item %d has an empty url", i)
		}
		if _, dup := a.urls.Insert(it.key(), archive.Index(i)); dup {
			return nil, fmt.Errorf("memarchive: duplicate entry %q", it.key())
		}
		title := it.Title
		if title == "" {
			title = it.URL
		}
		a.records[i] = record{
			entry: archive.Entry{
				Index:     archive.Index(i),
				Namespace: it.Namespace,
				URL:       it.URL,
				Title:     title,
				MimeType:  it.MimeType,
				Length:    int64(len(it.Content)),
			},
			content: it.Content,
		}
	}

	for i, it := range items {
		if it.RedirectTo == "" {
			continue
		}
		target, ok := a.Lookup(it.RedirectTo)
		if !ok {
			return nil, fmt.Errorf("memarchive: %q redirects to unknown entry %q", it.key(), it.RedirectTo)
		}
		rec := &a.records[i]
		rec.entry.Redirect = true
		rec.entry.RedirectIndex = target
		rec.entry.MimeType = ""
		rec.entry.Length = 0
		rec.content = nil
	}

	a.titleOrder = make([]archive.Index, len(a.records))
	for i := range a.titleOrder {
		a.titleOrder[i] = archive.Index(i)
	}
	sort.SliceStable(a.titleOrder, func(i, j int) bool {
		return a.titleLess(a.titleOrder[i], a.records[a.titleOrder[j]].entry.Namespace, a.records[a.titleOrder[j]].entry.Title)
	})

	a.header = archive.Header{
		UUID:       b.id,
		EntryCount: uint32(len(a.records)),
		MainPage:   archive.NoMainPage,
	}
	if b.mainPage != "" {
		idx, ok := a.Lookup(b.mainPage)
		if !ok {
			return nil, fmt.Errorf("memarchive: main page %q not found", b.mainPage)
		}
		a.header.HasMainPage = true
		a.header.MainPage = idx
	}
	return a, nil
}

func (a *Archive) titleLess(idx archive.Index, ns byte, title string) bool {
	e := a.records[idx].entry
	if e.Namespace != ns {
		return e.Namespace < ns
	}
	return e.Title < title
}

// Lookup finds an entry by its exact "<namespace>/<url>" key.
func (a *Archive) Lookup(key string) (archive.Index, bool) {
	v, ok := a.urls.Get(key)
	if !ok {
		return 0, false
	}
	return v.(archive.Index), true
}

func (a *Archive) Header() archive.Header { return a.header }

func (a *Archive) NamespaceBegin(ns byte) (archive.Index, error) {
	if a.closed.Load() {
		return 0, ErrClosed
	}
	return archive.Index(sort.Search(len(a.records), func(i int) bool {
		return a.records[i].entry.Namespace >= ns
	})), nil
}

func (a *Archive) NamespaceEnd(ns byte) (archive.Index, error) {
	if a.closed.Load() {
		return 0, ErrClosed
	}
	return archive.Index(sort.Search(len(a.records), func(i int) bool {
		return a.records[i].entry.Namespace > ns
	})), nil
}

func (a *Archive) NamespaceCount(ns byte) (uint32, error) {
	begin, err := a.NamespaceBegin(ns)
	if err != nil {
		return 0, err
	}
	end, err := a.NamespaceEnd(ns)
	if err != nil {
		return 0, err
	}
	return end - begin, nil
}

func (a *Archive) Entry(idx archive.Index) (archive.Entry, error) {
	if a.closed.Load() {
		return archive.Entry{}, ErrClosed
	}
	if int(idx) >= len(a.records) {
		return archive.Entry{}, fmt.Errorf("%w: %d", archive.ErrIndexOutOfRange, idx)
	}
	return a.records[idx].entry, nil
}

func (a *Archive) Content(e archive.Entry) ([]byte, error) {
	if a.closed.Load() {
		return nil, ErrClosed
	}
	if int(e.Index) >= len(a.records) {
		return nil, fmt.Errorf("%w: %d", archive.ErrIndexOutOfRange, e.Index)
	}
	rec := a.records[e.Index]
	if rec.entry.Redirect {
		return nil, archive.ErrRedirectEntry
	}
	return bytes.Clone(rec.content), nil
}

func (a *Archive) FindByTitle(ns byte, title string) (archive.Index, bool, error) {
	if a.closed.Load() {
		return 0, false, ErrClosed
	}
	pos := sort.Search(len(a.titleOrder), func(i int) bool {
		return !a.titleLess(a.titleOrder[i], ns, title)
	})
	if pos == len(a.titleOrder) {
		return 0, false, nil
	}
	idx := a.titleOrder[pos]
	if a.records[idx].entry.Namespace != ns {
		return 0, false, nil
	}
	return idx, true, nil
}

func (a *Archive) Close() error {
	a.closed.Store(true)
	return nil
}

var _ archive.Engine = (*Archive)(nil)
