package accessor

import (
	"github.com/ZanzyTHEbar/zimkit/zimkit/archive"

	"github.com/rs/zerolog"
)

// Cursor enumerates one namespace in index order, skipping redirects and
// wrapping to the first entry after the last. A Cursor is not safe for
// concurrent use; independent Cursors over the same archive are.
type Cursor struct {
	engine    archive.Engine
	rng       archive.Range
	current   archive.Index
	redirects *archive.RedirectSet
	metrics   *Metrics
	logger    zerolog.Logger
}

func newCursor(engine archive.Engine, rng archive.Range, redirects *archive.RedirectSet, metrics *Metrics, logger zerolog.Logger) *Cursor {
	return &Cursor{
		engine:    engine,
		rng:       rng,
		current:   rng.First,
		redirects: redirects,
		metrics:   metrics,
		logger:    logger,
	}
}

// Reset moves the cursor back to the first entry of the namespace.
func (c *Cursor) Reset() {
	c.current = c.rng.First
}

// Offset returns the index Next will start from.
func (c *Cursor) Offset() archive.Index { return c.current }

func (c *Cursor) Range() archive.Range { return c.rng }

// Next returns the next non-redirect entry's URL and content. more is
// false when the returned entry was the last in the namespace; the cursor
// has then wrapped and the following call starts over.
//
// When every remaining entry is a redirect the last one is returned with
// nil content, since the skip stops at the end of the range.
//
// On error the cursor does not move.
func (c *Cursor) Next() (url string, content []byte, more bool, err error) {
	defer func() {
		if c.metrics != nil {
			c.metrics.recordNext(err, err == nil && !more)
		}
	}()
	defer guard("next", c.logger, &err)

	if c.rng.Empty() {
		return "", nil, false, ErrEmptyNamespace
	}

	off := c.current
	var e archive.Entry
	for {
		if off != c.rng.Last && c.redirects.Contains(off) {
			off++
			continue
		}
		e, err = c.engine.Entry(off)
		if err != nil {
			return "", nil, false, ioError("fetch entry", err)
		}
		if !e.Redirect || off == c.rng.Last {
			break
		}
		off++
	}

	if !e.Redirect {
		content, err = c.engine.Content(e)
		if err != nil {
			return "", nil, false, ioError("read content", err)
		}
	}

	more = off != c.rng.Last
	if more {
		c.current = off + 1
	} else {
		c.current = c.rng.First
	}
	c.logger.Debug().Uint32("index", e.Index).Str("url", e.URL).Bool("more", more).Msg("enumerated entry")
	return e.URL, content, more, nil
}
