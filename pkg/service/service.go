// Package service runs render workers for one document and tracks which
// pages are requested, in flight or cached.
package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/novvoo/go-pdfterm/pkg/observability"
	"github.com/novvoo/go-pdfterm/pkg/render"
)

const (
	// requestBuffer bounds the queue shared by the workers. Prefetching a
	// radius of 10 queues at most 21 pages, so the UI never blocks in
	// practice.
	requestBuffer  = 256
	responseBuffer = 256
)

// Options configures a Service. Zero fields take their defaults.
type Options struct {
	Workers        int
	CacheSize      int
	PrefetchRadius int
	Rasterizer     *render.Rasterizer
	Logger         observability.Logger
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 2
	}
	if o.CacheSize < 0 {
		o.CacheSize = 0
	}
	if o.PrefetchRadius < 0 {
		o.PrefetchRadius = 0
	}
	if o.Rasterizer == nil {
		o.Rasterizer = render.NewRasterizer()
	}
	if o.Logger == nil {
		o.Logger = observability.NopLogger{}
	}
	return o
}

type pendingKind int

const (
	pendingPage pendingKind = iota
	pendingPrefetch
	pendingText
)

type pending struct {
	kind pendingKind
	page int
}

// generation is one set of workers sharing a request queue. Reload
// replaces it.
type generation struct {
	requests chan render.Request
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// Service owns the render workers of one document. Its methods are meant
// to be called from a single goroutine; the workers run concurrently.
type Service struct {
	opts      Options
	open      render.Opener
	log       observability.Logger
	cache     *render.PageCache
	responses chan render.Response
	parent    context.Context
	gen       *generation

	state    State
	info     render.DocumentInfo
	nextID   render.RequestID
	pending  map[render.RequestID]pending
	inFlight map[int]bool
}

// New opens the document once to read its info, then starts the workers.
// The workers stop when ctx ends or Shutdown is called.
func New(ctx context.Context, open render.Opener, state State, opts Options) (*Service, error) {
	opts = opts.withDefaults()
	s := &Service{
		opts:      opts,
		open:      open,
		log:       opts.Logger,
		cache:     render.NewPageCache(opts.CacheSize),
		responses: make(chan render.Response, responseBuffer),
		parent:    ctx,
		state:     state,
		nextID:    1,
		pending:   make(map[render.RequestID]pending),
		inFlight:  make(map[int]bool),
	}
	if err := s.loadInfo(); err != nil {
		return nil, err
	}
	s.start()
	return s, nil
}

func (s *Service) loadInfo() error {
	doc, err := s.open()
	if err != nil {
		return fmt.Errorf("open document: %w", err)
	}
	s.info = render.ReadDocumentInfo(doc)
	doc.Close()
	s.state.Apply(SetPageCount{N: s.info.PageCount})
	s.log.Info("document loaded",
		observability.Int("pages", s.info.PageCount),
		observability.String("title", s.info.Title))
	return nil
}

func (s *Service) start() {
	ctx, cancel := context.WithCancel(s.parent)
	g := &generation{requests: make(chan render.Request, requestBuffer), cancel: cancel}
	for i := 0; i < s.opts.Workers; i++ {
		i := i
		w :=render.NewWorker(s.open, s.cache, s.opts.Rasterizer, s.log.With(observability.Int("worker", i)))
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			if err := w.Run(ctx, g.requests, s.responses); err != nil && ctx.Err() == nil {
				s.log.Error("worker stopped", observability.Int("worker", i), observability.Error("error", err))
			}
		}()
	}
	s.gen = g
}

// stop cancels the current workers and waits for them to exit.
func (s *Service) stop() {
	if s.gen == nil {
		return
	}
	s.gen.cancel()
	s.gen.wg.Wait()
	s.gen = nil
}

func (s *Service) send(req render.Request) {
	if s.gen == nil {
		return
	}
	select {
	case s.gen.requests <- req:
	case <-s.parent.Done():
	}
}

func (s *Service) id() render.RequestID {
	id := s.nextID
	s.nextID++
	return id
}

func (s *Service) State() State                      { return s.state }
func (s *Service) DocumentInfo() render.DocumentInfo { return s.info }
func (s *Service) Cache() *render.PageCache          { return s.cache }

// Responses delivers worker replies. Callers reading it directly must
// pass each response to Observe to keep the bookkeeping current.
func (s *Service) Responses() <-chan render.Response { return s.responses }

// RequestPage queues a render of page with the current params.
func (s *Service) RequestPage(page int) render.RequestID {
	id := s.id()
	s.send(render.PageRequest{ID: id, Page: page, Params: s.state.Params()})
	s.pending[id] = pending{kind: pendingPage, page: page}
	delete(s.inFlight, page)
	return id
}

// RequestPageIfNeeded requests page unless it is cached or already in
// flight.
func (s *Service) RequestPageIfNeeded(page int) (render.RequestID, bool) {
	if s.IsPageCached(page) || s.IsPageInFlight(page) {
		return 0, false
	}
	return s.RequestPage(page), true
}

// ExtractText queues text extraction for bounds.
func (s *Service) ExtractText(bounds []render.PageSelectionBounds) render.RequestID {
	id := s.id()
	s.send(render.ExtractTextRequest{ID: id, Bounds: bounds, Params: s.state.Params()})
	s.pending[id] = pending{kind: pendingText}
	return id
}

// Cancel asks the workers to drop id if it has not started yet.
func (s *Service) Cancel(id render.RequestID) {
	s.send(render.CancelRequest{ID: id})
}

func (s *Service) prefetch(page int) render.RequestID {
	id := s.id()
	s.send(render.PrefetchRequest{ID: id, Page: page, Params: s.state.Params()})
	s.pending[id] = pending{kind: pendingPrefetch, page: page}
	s.inFlight[page] = true
	return id
}

// SchedulePrefetch requests the current page if needed, then the pages
// within the prefetch radius, nearest first, skipping cached and in-flight
// ones.
func (s *Service) SchedulePrefetch() {
	n := s.state.PageCount
	if n == 0 {
		return
	}
	cur := s.state.CurrentPage
	s.RequestPageIfNeeded(cur)

	queued := 0
	for off := 1; off <= s.opts.PrefetchRadius; off++ {
		for _, p := range [2]int{cur + off, cur - off} {
			if p < 0 || p >= n || s.IsPageInFlight(p) || s.IsPageCached(p) {
				continue
			}
			s.prefetch(p)
			queued++
		}
	}
	if queued > 0 {
		s.log.Debug("prefetch scheduled", observability.Int("page", cur), observability.Int("queued", queued))
	}
}

// IsPageInFlight reports a queued page or prefetch request for page.
func (s *Service) IsPageInFlight(page int) bool {
	if s.inFlight[page] {
		return true
	}
	for _, p := range s.pending {
		if p.kind != pendingText && p.page == page {
			return true
		}
	}
	return false
}

func (s *Service) IsPageCached(page int) bool {
	return s.cache.Contains(render.NewCacheKey(page, s.state.Params()))
}

// CachedPage returns page rendered with the current params, if cached.
func (s *Service) CachedPage(page int) (*render.PageData, bool) {
	return s.cache.Get(render.NewCacheKey(page, s.state.Params()))
}

// Pending returns the number of requests without a reply.
func (s *Service) Pending() int { return len(s.pending) }

// PollResponses drains the responses that are ready without blocking.
func (s *Service) PollResponses() []render.Response {
	var out []render.Response
	for {
		select {
		case resp := <-s.responses:
			s.Observe(resp)
			out = append(out, resp)
		default:
			return out
		}
	}
}

// Observe updates the pending bookkeeping for resp.
func (s *Service) Observe(resp render.Response) {
	switch r := resp.(type) {
	case render.PageResponse:
		delete(s.pending, r.ID)
		delete(s.inFlight, r.Page)
	case render.ExtractedTextResponse:
		delete(s.pending, r.ID)
	case render.CancelledResponse:
		s.settle(r.ID)
	case render.ErrorResponse:
		s.settle(r.ID)
	case render.DocumentInfoResponse:
		s.info = r.Info
		s.state.Apply(SetPageCount{N: r.Info.PageCount})
	}
}

func (s *Service) settle(id render.RequestID) {
	p, ok := s.pending[id]
	if !ok {
		return
	}
	delete(s.pending, id)
	if p.kind != pendingText {
		delete(s.inFlight, p.page)
	}
}

// Apply changes the state and runs the resulting effects. It returns the
// first effect error; the state change stands either way.
func (s *Service) Apply(cmd Command) error {
	for _, e := range s.state.Apply(cmd) {
		if err := s.run(e); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) run(e Effect) error {
	s.log.Debug("effect", observability.String("kind", e.Kind.String()), observability.Int("page", e.Page))
	switch e.Kind {
	case InvalidateCache:
		s.cache.InvalidateAll()
		clear(s.inFlight)
	case InvalidatePage:
		s.cache.InvalidatePage(e.Page)
		delete(s.inFlight, e.Page)
	case RenderCurrentPage:
		s.RequestPage(s.state.CurrentPage)
	case RenderPage:
		s.RequestPage(e.Page)
	case ReloadDocument:
		return s.reload()
	case UpdatePrefetch:
		s.SchedulePrefetch()
	}
	return nil
}

// reload replaces the workers so that none keeps rendering the old file.
// Requests still queued for the old workers are dropped, and so are
// replies they sent before stopping.
func (s *Service) reload() error {
	s.stop()
	if n := s.drainResponses(); n > 0 {
		s.log.Debug("dropped stale responses", observability.Int("count", n))
	}
	s.cache.InvalidateAll()
	clear(s.pending)
	clear(s.inFlight)
	err := s.loadInfo()
	if err != nil {
		s.log.Error("reload failed", observability.Error("error", err))
	}
	s.start()
	return err
}

// drainResponses discards every buffered reply without blocking.
func (s *Service) drainResponses() int {
	n := 0
	for {
		select {
		case <-s.responses:
			n++
		default:
			return n
		}
	}
}

// Reload rereads the document and restarts the workers.
func (s *Service) Reload() error { return s.Apply(Reload{}) }

// Shutdown asks every worker to finish its current request and waits
// until they exit or ctx ends, after which they are cancelled.
func (s *Service) Shutdown(ctx context.Context) error {
	g := s.gen
	if g == nil {
		return nil
	}
	s.gen = nil
	defer g.cancel()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	for i := 0; i < s.opts.Workers; i++ {
		select {
		case g.requests <- render.ShutdownRequest{}:
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
