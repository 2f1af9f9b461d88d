// Package accessor reads entries out of a namespace-partitioned archive:
// path routing, exact-title resolution with bounded redirect following,
// namespace enumeration and main/random page selection.
//
// An Accessor owns one open archive. Lookups and the special-page
// selectors may run concurrently. The Accessor's own Next/Reset share a
// single cursor and serialize on it; callers wanting independent
// enumerations take their own Cursor from NewCursor.
package accessor

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	internal "github.com/ZanzyTHEbar/zimkit/zimkit"
	"github.com/ZanzyTHEbar/zimkit/zimkit/archive"
	"github.com/ZanzyTHEbar/zimkit/zimkit/zimfile"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
)

type options struct {
	opener         archive.Opener
	namespace      byte
	maxHops        int
	maxTokenLength int
	indexRedirects bool
	random         *rand.Rand
	logger         zerolog.Logger
}

// Option configures an Accessor.
type Option func(*options)

// WithOpener sets how Load opens archives. The default opens ZIM files.
func WithOpener(opener archive.Opener) Option {
	return func(o *options) { o.opener = opener }
}

// WithNamespace selects the primary namespace enumerated by Next and
// sampled by RandomPageURL.
func WithNamespace(ns byte) Option {
	return func(o *options) { o.namespace = ns }
}

func WithMaxRedirectHops(n int) Option {
	return func(o *options) { o.maxHops = n }
}

func WithMaxTokenLength(n int) Option {
	return func(o *options) { o.maxTokenLength = n }
}

// WithRedirectIndex scans the primary namespace for redirects at load time
// so enumeration skips them without decoding their entries.
func WithRedirectIndex(enabled bool) Option {
	return func(o *options) { o.indexRedirects = enabled }
}

// WithRand sets the random source for RandomPageURL.
func WithRand(r *rand.Rand) Option {
	return func(o *options) { o.random = r }
}

// WithSeed seeds RandomPageURL deterministically. Zero keeps the process seed.
func WithSeed(seed uint64) Option {
	return func(o *options) {
		if seed != 0 {
			o.random = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Accessor is the read facade over one archive.
type Accessor struct {
	opts   options
	router Router

	mu        sync.RWMutex
	engine    archive.Engine
	header    archive.Header
	rng       archive.Range
	redirects *archive.RedirectSet
	resolver  *Resolver

	cursorMu sync.Mutex
	cursor   *Cursor

	randMu sync.Mutex
	random *rand.Rand

	metrics *Metrics
	logger  zerolog.Logger
}

// New returns an unloaded Accessor.
func New(opts ...Option) *Accessor {
	o := options{
		opener:         zimfile.OpenEngine(),
		namespace:      internal.DefaultNamespace[0],
		maxHops:        internal.DefaultMaxRedirectHops,
		maxTokenLength: internal.DefaultMaxTokenLength,
		logger:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	random := o.random
	if random == nil {
		random = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Accessor{
		opts:    o,
		router:  NewRouter(o.maxTokenLength),
		random:  random,
		metrics: &Metrics{},
		logger:  o.logger.With().Str("component", "accessor").Logger(),
	}
}

// Load opens the archive at path, replacing any archive already loaded.
// On failure the Accessor is left unloaded.
func (a *Accessor) Load(path string) (err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.unloadLocked()

	engine, err := a.open(path)
	if err != nil {
		a.logger.Error().Err(err).Str("path", path).Msg("failed to open archive")
		return ioError("load "+path, err)
	}
	if err := a.attachLocked(engine); err != nil {
		a.logger.Error().Err(err).Str("path", path).Msg("failed to index archive")
		return err
	}
	a.logger.Info().
		Str("path", path).
		Str("id", a.header.UUID.String()).
		Uint32("entries", a.rng.Count).
		Str("namespace", string(a.opts.namespace)).
		Msg("archive loaded")
	return nil
}

func (a *Accessor) open(path string) (engine archive.Engine, err error) {
	defer guard("open", a.logger, &err)
	return a.opts.opener(path)
}

// Attach adopts an already open engine, replacing any archive already
// loaded. The Accessor takes ownership and closes engine on failure.
func (a *Accessor) Attach(engine archive.Engine) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.unloadLocked()
	return a.attachLocked(engine)
}

func (a *Accessor) attachLocked(engine archive.Engine) (err error) {
	defer func() {
		if err != nil {
			engine.Close()
		}
	}()
	defer guard("attach", a.logger, &err)

	ns := a.opts.namespace
	rng, err := archive.NamespaceRange(engine, ns)
	if err != nil {
		return ioError("namespace range", err)
	}

	var redirects *archive.RedirectSet
	if a.opts.indexRedirects {
		if redirects, err = archive.ScanRedirects(engine, rng); err != nil {
			return ioError("index redirects", err)
		}
		a.logger.Debug().Uint64("redirects", redirects.Len()).Msg("redirect index built")
	}

	a.engine = engine
	a.header = engine.Header()
	a.rng = rng
	a.redirects = redirects
	a.resolver = NewResolver(engine, a.opts.maxHops, a.logger)

	a.cursorMu.Lock()
	a.cursor = newCursor(engine, rng, redirects, a.metrics, a.logger)
	a.cursorMu.Unlock()
	return nil
}

func (a *Accessor) unloadLocked() error {
	if a.engine == nil {
		return nil
	}
	err := a.engine.Close()
	a.engine = nil
	a.header = archive.Header{}
	a.rng = archive.Range{}
	a.redirects = nil
	a.resolver = nil
	a.cursorMu.Lock()
	a.cursor = nil
	a.cursorMu.Unlock()
	return err
}

// Close releases the loaded archive. It is safe to call on an unloaded Accessor.
func (a *Accessor) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.engine == nil {
		return nil
	}
	id := a.header.UUID.String()
	if err := a.unloadLocked(); err != nil {
		return ioError("close", err)
	}
	a.logger.Info().Str("id", id).Msg("archive closed")
	return nil
}

// Loaded reports whether an archive is open.
func (a *Accessor) Loaded() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.engine != nil
}

// Namespace returns the primary namespace.
func (a *Accessor) Namespace() byte { return a.opts.namespace }

// Range returns the primary namespace's bounds.
func (a *Accessor) Range() (archive.Range, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.engine == nil {
		return archive.Range{}, ErrNotLoaded
	}
	return a.rng, nil
}

// Reset rewinds the Accessor's cursor to the first entry.
func (a *Accessor) Reset() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.engine == nil {
		return ErrNotLoaded
	}
	a.cursorMu.Lock()
	a.cursor.Reset()
	a.cursorMu.Unlock()
	return nil
}

// EntryCount returns the number of entries in the primary namespace,
// redirects included.
func (a *Accessor) EntryCount() (uint32, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.engine == nil {
		return 0, ErrNotLoaded
	}
	return a.rng.Count, nil
}

// ID returns the archive's UUID in canonical form.
func (a *Accessor) ID() (string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.engine == nil {
		return "", ErrNotLoaded
	}
	return a.header.UUID.String(), nil
}

// MainPageURL returns the URL of the header's main page entry.
func (a *Accessor) MainPageURL() (url string, err error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.engine == nil {
		return "", ErrNotLoaded
	}
	defer guard("main page", a.logger, &err)

	if !a.header.HasMainPage {
		return "", ErrNoMainPage
	}
	e, err := a.engine.Entry(a.header.MainPage)
	if err != nil {
		return "", ioError("fetch main page", err)
	}
	return e.URL, nil
}

// RandomPageURL returns the URL of a uniformly chosen entry of the primary
// namespace. The entry may be a redirect; it is not resolved.
//
// Like the main page, random selection is only offered for archives whose
// header declares a main page.
func (a *Accessor) RandomPageURL() (url string, err error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.engine == nil {
		return "", ErrNotLoaded
	}
	defer guard("random page", a.logger, &err)

	if !a.header.HasMainPage {
		return "", ErrNoMainPage
	}
	if a.rng.Empty() {
		return "", ErrEmptyNamespace
	}

	a.randMu.Lock()
	idx := a.rng.First + archive.Index(a.random.Uint64N(uint64(a.rng.Count)))
	a.randMu.Unlock()

	e, err := a.engine.Entry(idx)
	if err != nil {
		return "", ioError("fetch random page", err)
	}
	return e.URL, nil
}

// Next advances the Accessor's cursor. See Cursor.Next.
func (a *Accessor) Next() (url string, content []byte, more bool, err error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.engine == nil {
		return "", nil, false, ErrNotLoaded
	}
	a.cursorMu.Lock()
	defer a.cursorMu.Unlock()
	return a.cursor.Next()
}

// NewCursor returns an independent cursor over the primary namespace,
// positioned at its first entry. It is only valid while the archive that
// produced it stays loaded.
func (a *Accessor) NewCursor() (*Cursor, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.engine == nil {
		return nil, ErrNotLoaded
	}
	return newCursor(a.engine, a.rng, a.redirects, a.metrics, a.logger), nil
}

// Resolve routes path ("/<namespace>/<title>") and returns the exact-title
// entry's terminal content.
func (a *Accessor) Resolve(path string) (*Content, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.engine == nil {
		return nil, ErrNotLoaded
	}

	route, err := a.router.Route(path)
	if err != nil {
		a.metrics.recordLookup(err, 0)
		return nil, err
	}
	c, hops, err := a.resolver.resolve(route.Namespace, route.Title)
	a.metrics.recordLookup(err, hops)
	if err != nil {
		a.logger.Debug().Err(err).Str("path", path).Msg("resolve failed")
		return nil, err
	}
	a.logger.Debug().
		Str("path", path).
		Str("url", c.URL).
		Int("hops", hops).
		Int64("length", c.Length).
		Msg("resolved")
	return c, nil
}

// Result is the outcome of resolving one path in ResolveAll.
type Result struct {
	Path    string
	Content *Content
	Err     error
}

// ResolveAll resolves paths concurrently with at most workers goroutines.
// Results are returned in input order, each with its own error. Once ctx
// is done, unstarted paths fail with the context's error.
func (a *Accessor) ResolveAll(ctx context.Context, paths []string, workers int) ([]Result, error) {
	if !a.Loaded() {
		return nil, ErrNotLoaded
	}
	if workers <= 0 {
		workers = internal.DefaultBatchWorkers
	}

	results := make([]Result, len(paths))
	p := pool.New().WithMaxGoroutines(workers).WithContext(ctx)
	for i, path := range paths {
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				results[i] = Result{Path: path, Err: err}
				return nil
			}
			c, err := a.Resolve(path)
			results[i] = Result{Path: path, Content: c, Err: err}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}

// Stats returns a snapshot of lookup and enumeration counters.
func (a *Accessor) Stats() Stats {
	return a.metrics.Snapshot()
}

// Metrics exposes the Accessor's counters.
func (a *Accessor) Metrics() *Metrics { return a.metrics }

func (a *Accessor) String() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.engine == nil {
		return "accessor(unloaded)"
	}
	return fmt.Sprintf("accessor(%s, %c[%d..%d])", a.header.UUID, a.opts.namespace, a.rng.First, a.rng.Last)
}
