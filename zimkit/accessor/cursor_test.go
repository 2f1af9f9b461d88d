package accessor

import (
	"fmt"
	"testing"

	"github.com/ZanzyTHEbar/zimkit/zimkit/archive"
	"github.com/ZanzyTHEbar/zimkit/zimkit/archive/memarchive"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cursorFor(t *testing.T, engine archive.Engine, redirects bool) *Cursor {
	t.Helper()
	rng, err := archive.NamespaceRange(engine, 'A')
	require.NoError(t, err)
	var set *archive.RedirectSet
	if redirects {
		set, err = archive.ScanRedirects(engine, rng)
		require.NoError(t, err)
	}
	return newCursor(engine, rng, set, &Metrics{}, zerolog.Nop())
}

func TestCursorSkipsRedirect(t *testing.T) {
	for _, indexed := range []bool{false, true} {
		t.Run(fmt.Sprintf("indexed=%v", indexed), func(t *testing.T) {
			c := cursorFor(t, scenarioArchive(t), indexed)
			assert.Equal(t, archive.Range{First: 10, Last: 12, Count: 3}, c.Range())
			assert.Equal(t, archive.Index(10), c.Offset())

			url, content, more, err := c.Next()
			require.NoError(t, err)
			assert.Equal(t, "alpha", url)
			assert.Equal(t, "<p>alpha</p>", string(content))
			assert.True(t, more)
			assert.Equal(t, archive.Index(11), c.Offset())

			url, content, more, err = c.Next()
			require.NoError(t, err)
			assert.Equal(t, "gamma", url, "offset 11 is a redirect and is skipped")
			assert.Equal(t, "<p>gamma</p>", string(content))
			assert.False(t, more)
			assert.Equal(t, archive.Index(10), c.Offset(), "cursor wraps after the last entry")

			url, _, more, err = c.Next()
			require.NoError(t, err)
			assert.Equal(t, "alpha", url)
			assert.True(t, more)
		})
	}
}

func TestCursorVisitsEachEntryOnce(t *testing.T) {
	b := memarchive.NewBuilder()
	var want []string
	for i := 0; i < 25; i++ {
		url := fmt.Sprintf("page%02d", i)
		if i%4 == 1 {
			b.Add(memarchive.Item{Namespace: 'A', URL: url, RedirectTo: "A/page00"})
			continue
		}
		b.Add(memarchive.Item{Namespace: 'A', URL: url, MimeType: "text/html", Content: []byte(url)})
		want = append(want, url)
	}
	b.Add(memarchive.Item{Namespace: 'I', URL: "img.png", MimeType: "image/png", Content: []byte("png")})
	engine, err := b.Build()
	require.NoError(t, err)

	c := cursorFor(t, engine, false)
	var got []string
	for {
		url, content, more, err := c.Next()
		require.NoError(t, err)
		assert.Equal(t, url, string(content))
		got = append(got, url)
		if !more {
			break
		}
		require.Less(t, len(got), 100, "enumeration must terminate")
	}
	assert.Equal(t, want, got)
	assert.Equal(t, archive.Index(0), c.Offset())
}

func TestCursorAllRedirectsReturnsLast(t *testing.T) {
	engine, err := memarchive.NewBuilder().Add(
		memarchive.Item{Namespace: 'A', URL: "a", RedirectTo: "I/target"},
		memarchive.Item{Namespace: 'A', URL: "b", RedirectTo: "I/target"},
		memarchive.Item{Namespace: 'A', URL: "c", RedirectTo: "I/target"},
		memarchive.Item{Namespace: 'I', URL: "target", MimeType: "text/plain", Content: []byte("t")},
	).Build()
	require.NoError(t, err)

	for _, indexed := range []bool{false, true} {
		c := cursorFor(t, engine, indexed)
		url, content, more, err := c.Next()
		require.NoError(t, err)
		assert.Equal(t, "c", url, "the skip stops on the last entry even though it is a redirect")
		assert.Nil(t, content)
		assert.False(t, more)
		assert.Equal(t, archive.Index(0), c.Offset())
	}
}

func TestCursorTrailingRedirect(t *testing.T) {
	engine, err := memarchive.NewBuilder().Add(
		memarchive.Item{Namespace: 'A', URL: "a", MimeType: "text/html", Content: []byte("a")},
		memarchive.Item{Namespace: 'A', URL: "z", RedirectTo: "A/a"},
	).Build()
	require.NoError(t, err)

	c := cursorFor(t, engine, false)
	url, _, more, err := c.Next()
	require.NoError(t, err)
	assert.Equal(t, "a", url)
	assert.True(t, more)

	url, content, more, err := c.Next()
	require.NoError(t, err)
	assert.Equal(t, "z", url)
	assert.Nil(t, content)
	assert.False(t, more)
}

func TestCursorSingleEntry(t *testing.T) {
	engine, err := memarchive.NewBuilder().Add(
		memarchive.Item{Namespace: 'A', URL: "only", MimeType: "text/html", Content: []byte("x")},
	).Build()
	require.NoError(t, err)

	c := cursorFor(t, engine, false)
	for i := 0; i < 3; i++ {
		url, _, more, err := c.Next()
		require.NoError(t, err)
		assert.Equal(t, "only", url)
		assert.False(t, more)
	}
}

func TestCursorEmptyNamespace(t *testing.T) {
	engine, err := memarchive.NewBuilder().Add(
		memarchive.Item{Namespace: 'M', URL: "Title", MimeType: "text/plain", Content: []byte("x")},
	).Build()
	require.NoError(t, err)

	c := cursorFor(t, engine, false)
	_, _, more, err := c.Next()
	assert.ErrorIs(t, err, ErrEmptyNamespace)
	assert.False(t, more)
}

func TestCursorErrorDoesNotMove(t *testing.T) {
	f := newFaulty(scenarioArchive(t))
	c := cursorFor(t, f, false)

	_, _, _, err := c.Next()
	require.NoError(t, err)
	require.Equal(t, archive.Index(11), c.Offset())

	f.failEntry[12] = true
	url, content, more, err := c.Next()
	assert.ErrorIs(t, err, ErrIO)
	assert.Empty(t, url)
	assert.Nil(t, content)
	assert.False(t, more)
	assert.Equal(t, archive.Index(11), c.Offset())

	delete(f.failEntry, 12)
	f.panicEntry[11] = true
	_, _, more, err = c.Next()
	assert.ErrorIs(t, err, ErrIO)
	assert.False(t, more)
	assert.Equal(t, archive.Index(11), c.Offset())

	delete(f.panicEntry, 11)
	f.failContent = true
	_, _, _, err = c.Next()
	assert.ErrorIs(t, err, ErrIO)
	assert.Equal(t, archive.Index(11), c.Offset())

	f.failContent = false
	url, _, more, err = c.Next()
	require.NoError(t, err)
	assert.Equal(t, "gamma", url)
	assert.False(t, more)
}

func TestCursorRedirectIndexAvoidsDecoding(t *testing.T) {
	f := newFaulty(scenarioArchive(t))
	rng, err := archive.NamespaceRange(f, 'A')
	require.NoError(t, err)
	set, err := archive.ScanRedirects(f, rng)
	require.NoError(t, err)

	c := newCursor(f, rng, set, nil, zerolog.Nop())
	c.current = 11
	f.entryCalls = 0

	url, _, _, err := c.Next()
	require.NoError(t, err)
	assert.Equal(t, "gamma", url)
	assert.Equal(t, 1, f.entryCalls, "the known redirect at 11 is skipped without an entry fetch")
}

func TestCursorResetAndMetrics(t *testing.T) {
	c := cursorFor(t, scenarioArchive(t), false)

	_, _, _, err := c.Next()
	require.NoError(t, err)
	c.Reset()
	assert.Equal(t, archive.Index(10), c.Offset())

	for i := 0; i < 2; i++ {
		_, _, _, err = c.Next()
		require.NoError(t, err)
	}
	s := c.metrics.Snapshot()
	assert.Equal(t, int64(3), s.Enumerated)
	assert.Equal(t, int64(1), s.Wraparounds)
}
