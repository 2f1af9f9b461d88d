package memarchive

import (
	"testing"

	"github.com/ZanzyTHEbar/zimkit/zimkit/archive"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildFixture(t *testing.T) *Archive {
	t.Helper()
	a, err := NewBuilder().
		WithUUID(uuid.MustParse("6f1d3a5e-8a43-4c1b-9a57-0d2b7c9e4f10")).
		WithMainPage("A/Main").
		Add(
			Item{Namespace: 'M', URL: "Title", MimeType: "text/plain", Content: []byte("Fixture")},
			Item{Namespace: 'A', URL: "Zebra", Title: "Zebra", MimeType: "text/html", Content: []byte("<p>zebra</p>")},
			Item{Namespace: 'A', URL: "Main", Title: "Main page", MimeType: "text/html", Content: []byte("<p>main</p>")},
			Item{Namespace: 'A', URL: "Apple", MimeType: "text/html", Content: []byte("<p>apple</p>")},
			Item{Namespace: 'A', URL: "Pomme", RedirectTo: "A/Apple"},
			Item{Namespace: 'I', URL: "logo.png", MimeType: "image/png", Content: []byte{0x89, 'P', 'N', 'G'}},
		).
		Build()
	require.NoError(t, err)
	return a
}

func TestBuildOrdersByNamespaceThenURL(t *testing.T) {
	a := buildFixture(t)

	var keys []string
	for i := archive.Index(0); i < a.Header().EntryCount; i++ {
		e, err := a.Entry(i)
		require.NoError(t, err)
		assert.Equal(t, i, e.Index)
		keys = append(keys, e.Key())
	}
	assert.Equal(t, []string{"A/Apple", "A/Main", "A/Pomme", "A/Zebra", "I/logo.png", "M/Title"}, keys)
}

func TestNamespaceBounds(t *testing.T) {
	a := buildFixture(t)

	r, err := archive.NamespaceRange(a, 'A')
	require.NoError(t, err)
	assert.Equal(t, archive.Range{First: 0, Last: 3, Count: 4}, r)

	r, err = archive.NamespaceRange(a, 'M')
	require.NoError(t, err)
	assert.Equal(t, archive.Range{First: 5, Last: 5, Count: 1}, r)

	r, err = archive.NamespaceRange(a, 'X')
	require.NoError(t, err)
	assert.True(t, r.Empty())
	assert.False(t, r.Contains(r.First))
}

func TestRedirectResolution(t *testing.T) {
	a := buildFixture(t)

	idx, ok := a.Lookup("A/Pomme")
	require.True(t, ok)
	e, err := a.Entry(idx)
	require.NoError(t, err)
	assert.True(t, e.Redirect)

	target, err := a.Entry(e.RedirectIndex)
	require.NoError(t, err)
	assert.Equal(t, "Apple", target.URL)

	_, err = a.Content(e)
	assert.ErrorIs(t, err, archive.ErrRedirectEntry)
}

func TestFindByTitleNearestMatch(t *testing.T) {
	a := buildFixture(t)

	idx, found, err := a.FindByTitle('A', "Main page")
	require.NoError(t, err)
	require.True(t, found)
	e, _ := a.Entry(idx)
	assert.Equal(t, "Main", e.URL)

	// "Mango" sorts between "Main page" and "Pomme".
	idx, found, err = a.FindByTitle('A', "Mango")
	require.NoError(t, err)
	require.True(t, found)
	e, _ = a.Entry(idx)
	assert.Equal(t, "Pomme", e.URL)

	// Nothing in A sorts after "Zz"; the next title belongs to another namespace.
	_, found, err = a.FindByTitle('A', "Zz")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestHeader(t *testing.T) {
	a := buildFixture(t)
	h := a.Header()

	assert.Equal(t, "6f1d3a5e-8a43-4c1b-9a57-0d2b7c9e4f10", h.UUID.String())
	assert.True(t, h.HasMainPage)
	e, err := a.Entry(h.MainPage)
	require.NoError(t, err)
	assert.Equal(t, "Main", e.URL)

	noMain, err := NewBuilder().Add(Item{Namespace: 'A', URL: "x"}).Build()
	require.NoError(t, err)
	assert.False(t, noMain.Header().HasMainPage)
	assert.Equal(t, archive.NoMainPage, noMain.Header().MainPage)
}

func TestBuildErrors(t *testing.T) {
	_, err := NewBuilder().Add(Item{Namespace: 'A', URL: "a", RedirectTo: "A/missing"}).Build()
	assert.Error(t, err)

	_, err = NewBuilder().Add(Item{Namespace: 'A', URL: "a"}, Item{Namespace: 'A', URL: "a"}).Build()
	assert.Error(t, err)

	_, err = NewBuilder().Add(Item{Namespace: 'A'}).Build()
	assert.Error(t, err)

	_, err = NewBuilder().WithMainPage("A/nope").Add(Item{Namespace: 'A', URL: "a"}).Build()
	assert.Error(t, err)
}

func TestRedirectCycleAllowed(t *testing.T) {
	a, err := NewBuilder().Add(
		Item{Namespace: 'A', URL: "a", RedirectTo: "A/b"},
		Item{Namespace: 'A', URL: "b", RedirectTo: "A/a"},
	).Build()
	require.NoError(t, err)

	e, err := a.Entry(0)
	require.NoError(t, err)
	assert.Equal(t, archive.Index(1), e.RedirectIndex)
}

func TestClosed(t *testing.T) {
	a := buildFixture(t)
	require.NoError(t, a.Close())

	_, err := a.Entry(0)
	assert.ErrorIs(t, err, ErrClosed)
	_, _, err = a.FindByTitle('A', "Apple")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOutOfRange(t *testing.T) {
	a := buildFixture(t)
	_, err := a.Entry(99)
	assert.ErrorIs(t, err, archive.ErrIndexOutOfRange)
}

func TestScanRedirects(t *testing.T) {
	a := buildFixture(t)
	r, err := archive.NamespaceRange(a, 'A')
	require.NoError(t, err)

	set, err := archive.ScanRedirects(a, r)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), set.Len())
	assert.True(t, set.Contains(2))
	assert.False(t, set.Contains(0))

	var nilSet *archive.RedirectSet
	assert.False(t, nilSet.Contains(2))
	assert.Zero(t, nilSet.Len())
}
