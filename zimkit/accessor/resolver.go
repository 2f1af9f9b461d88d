package accessor

import (
	"fmt"

	"github.com/ZanzyTHEbar/zimkit/zimkit/archive"

	"github.com/rs/zerolog"
)

// Content is a resolved, non-redirect entry.
type Content struct {
	Index    archive.Index
	URL      string
	Title    string
	MimeType string
	Data     []byte
	// Length is the full content size; it always equals len(Data).
	Length int64
	// Hops is the number of redirects followed to reach this entry.
	Hops int
}

// Resolver finds entries by exact title and follows redirects.
type Resolver struct {
	engine  archive.Engine
	maxHops int
	logger  zerolog.Logger
}

func NewResolver(engine archive.Engine, maxHops int, logger zerolog.Logger) *Resolver {
	return &Resolver{engine: engine, maxHops: maxHops, logger: logger}
}

// Resolve looks up the entry titled exactly title in ns and returns its
// terminal, non-redirect form.
func (r *Resolver) Resolve(ns byte, title string) (*Content, error) {
	c, _, err := r.resolve(ns, title)
	return c, err
}

// resolve also reports the hops followed, including on failure.
func (r *Resolver) resolve(ns byte, title string) (c *Content, hops int, err error) {
	defer guard("resolve", r.logger, &err)

	idx, found, err := r.engine.FindByTitle(ns, title)
	if err != nil {
		return nil, 0, ioError("find by title", err)
	}
	if !found {
		return nil, 0, fmt.Errorf("%w: %c/%s", ErrNotFound, ns, title)
	}
	e, err := r.engine.Entry(idx)
	if err != nil {
		return nil, 0, ioError("fetch entry", err)
	}
	// The engine returns the nearest match; anything but an exact title is a miss.
	if e.Namespace != ns || e.Title != title {
		r.logger.Debug().Str("title", title).Str("nearest", e.Title).Msg("title lookup missed")
		return nil, 0, fmt.Errorf("%w: %c/%s", ErrNotFound, ns, title)
	}

	terminal, hops, err := r.follow(e)
	if err != nil {
		return nil, hops, err
	}

	data, err := r.engine.Content(terminal)
	if err != nil {
		return nil, hops, ioError("read content", err)
	}
	return &Content{
		Index:    terminal.Index,
		URL:      terminal.URL,
		Title:    terminal.Title,
		MimeType: terminal.MimeType,
		Data:     data,
		Length:   int64(len(data)),
		Hops:     hops,
	}, hops, nil
}

// follow walks e's redirect chain for at most maxHops hops.
func (r *Resolver) follow(e archive.Entry) (archive.Entry, int, error) {
	start := e
	hops := 0
	for e.Redirect {
		if hops >= r.maxHops {
			r.logger.Warn().
				Str("entry", start.Key()).
				Int("hops", hops).
				Msg("redirect chain exceeds hop limit")
			return e, hops, fmt.Errorf("%w: %s after %d hops", ErrRedirectLoop, start.Key(), hops)
		}
		next, err := r.engine.Entry(e.RedirectIndex)
		if err != nil {
			return e, hops, ioError("follow redirect", err)
		}
		e = next
		hops++
	}
	return e, hops, nil
}
