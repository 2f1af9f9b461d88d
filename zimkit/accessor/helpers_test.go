package accessor

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ZanzyTHEbar/zimkit/zimkit/archive"
	"github.com/ZanzyTHEbar/zimkit/zimkit/archive/memarchive"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var errDisk = errors.New("disk on fire")

// faultyEngine wraps an engine and fails or panics on chosen entries.
type faultyEngine struct {
	archive.Engine
	failEntry    map[archive.Index]bool
	panicEntry   map[archive.Index]bool
	failContent  bool
	failFind     bool
	entryCalls   int
	contentCalls int
}

func newFaulty(e archive.Engine) *faultyEngine {
	return &faultyEngine{
		Engine:     e,
		failEntry:  map[archive.Index]bool{},
		panicEntry: map[archive.Index]bool{},
	}
}

func (f *faultyEngine) Entry(idx archive.Index) (archive.Entry, error) {
	f.entryCalls++
	if f.panicEntry[idx] {
		panic(fmt.Sprintf("corrupt dirent %d", idx))
	}
	if f.failEntry[idx] {
		return archive.Entry{}, errDisk
	}
	return f.Engine.Entry(idx)
}

func (f *faultyEngine) Content(e archive.Entry) ([]byte, error) {
	f.contentCalls++
	if f.failContent {
		return nil, errDisk
	}
	return f.Engine.Content(e)
}

func (f *faultyEngine) FindByTitle(ns byte, title string) (archive.Index, bool, error) {
	if f.failFind {
		return 0, false, errDisk
	}
	return f.Engine.FindByTitle(ns, title)
}

var fixtureID = uuid.MustParse("0b6c7f2e-3d1a-4e59-8c7b-2f4a6d9e1c03")

// scenarioArchive puts ten metadata entries ahead of the content
// namespace so that A occupies indices 10..12, with 11 redirecting to 12.
func scenarioArchive(t *testing.T) *memarchive.Archive {
	t.Helper()
	b := memarchive.NewBuilder().WithUUID(fixtureID).WithMainPage("A/alpha")
	for i := 0; i < 10; i++ {
		b.Add(memarchive.Item{Namespace: '-', URL: fmt.Sprintf("meta%02d", i), MimeType: "text/plain", Content: []byte("m")})
	}
	b.Add(
		memarchive.Item{Namespace: 'A', URL: "alpha", Title: "Alpha", MimeType: "text/html", Content: []byte("<p>alpha</p>")},
		memarchive.Item{Namespace: 'A', URL: "beta", Title: "Beta", RedirectTo: "A/gamma"},
		memarchive.Item{Namespace: 'A', URL: "gamma", Title: "Gamma", MimeType: "text/html", Content: []byte("<p>gamma</p>")},
	)
	a, err := b.Build()
	require.NoError(t, err)
	return a
}

// chainArchive holds a redirect chain of the given number of hops starting
// at "A/r000" and ending at a content entry.
func chainArchive(t *testing.T, hops int) *memarchive.Archive {
	t.Helper()
	b := memarchive.NewBuilder().WithUUID(fixtureID)
	for i := 0; i < hops; i++ {
		b.Add(memarchive.Item{Namespace: 'A', URL: fmt.Sprintf("r%03d", i), RedirectTo: fmt.Sprintf("A/r%03d", i+1)})
	}
	b.Add(memarchive.Item{Namespace: 'A', URL: fmt.Sprintf("r%03d", hops), MimeType: "text/html", Content: []byte("end of chain")})
	a, err := b.Build()
	require.NoError(t, err)
	return a
}

func attached(t *testing.T, engine archive.Engine, opts ...Option) *Accessor {
	t.Helper()
	a := New(opts...)
	require.NoError(t, a.Attach(engine))
	t.Cleanup(func() { a.Close() })
	return a
}
