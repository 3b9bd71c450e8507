package render

import (
	"context"
	"fmt"

	"github.com/novvoo/go-pdfterm/pkg/observability"
	"github.com/novvoo/go-pdfterm/pkg/pdf"
)

// RequestID correlates a request with its responses. Zero is reserved for
// faults not tied to a request.
type RequestID uint64

// Request is one of PageRequest, PrefetchRequest, ExtractTextRequest,
// CancelRequest, ReloadRequest or ShutdownRequest.
type Request interface {
	isRequest()
}

type PageRequest struct {
	ID     RequestID
	Page   int
	Params RenderParams
}

// PrefetchRequest renders like PageRequest; it only differs in how the
// caller tracks it.
type PrefetchRequest struct {
	ID     RequestID
	Page   int
	Params RenderParams
}

type ExtractTextRequest struct {
	ID     RequestID
	Bounds []PageSelectionBounds
	Params RenderParams
}

// CancelRequest acknowledges cancellation of ID and drops a page or
// prefetch request with that ID if it is still queued behind this one.
type CancelRequest struct {
	ID RequestID
}

// ReloadRequest reopens the document from disk.
type ReloadRequest struct {
	ID RequestID
}

type ShutdownRequest struct{}

func (PageRequest) isRequest()        {}
func (PrefetchRequest) isRequest()    {}
func (ExtractTextRequest) isRequest() {}
func (CancelRequest) isRequest()      {}
func (ReloadRequest) isRequest()      {}
func (ShutdownRequest) isRequest()    {}

// Response is one of PageResponse, ExtractedTextResponse,
// CancelledResponse, ErrorResponse, DocumentInfoResponse or
// ReloadedResponse.
type Response interface {
	isResponse()
}

type PageResponse struct {
	ID   RequestID
	Page int
	Data *PageData
}

type ExtractedTextResponse struct {
	ID   RequestID
	Text string
}

type CancelledResponse struct {
	ID RequestID
}

type ErrorResponse struct {
	ID    RequestID
	Fault *Fault
}

// DocumentInfo describes an opened document.
type DocumentInfo struct {
	PageCount int
	Title     string
	Outline   []pdf.OutlineItem
}

type DocumentInfoResponse struct {
	Info DocumentInfo
}

type ReloadedResponse struct {
	ID RequestID
}

func (PageResponse) isResponse()          {}
func (ExtractedTextResponse) isResponse() {}
func (CancelledResponse) isResponse()     {}
func (ErrorResponse) isResponse()         {}
func (DocumentInfoResponse) isResponse()  {}
func (ReloadedResponse) isResponse()      {}

// ReadDocumentInfo collects page count, title and outline.
func ReadDocumentInfo(doc *pdf.Document) DocumentInfo {
	return DocumentInfo{
		PageCount: doc.NumPages(),
		Title:     doc.Title(),
		Outline:   doc.Outline(),
	}
}

const maxCancelled = 1024

// Opener loads the document a worker renders from.
type Opener func() (*pdf.Document, error)

// OpenFile returns an Opener reading path.
func OpenFile(path string) Opener {
	return func() (*pdf.Document, error) { return pdf.Open(path) }
}

// Worker serves render requests for one document handle.
type Worker struct {
	Open       Opener
	Cache      *PageCache
	Rasterizer *Rasterizer
	Logger     observability.Logger

	doc       *pdf.Document
	cancelled map[RequestID]bool
}

// NewWorker fills a nil cache, rasterizer or logger with a default.
func NewWorker(open Opener, cache *PageCache, r *Rasterizer, logger observability.Logger) *Worker {
	if cache == nil {
		cache = NewPageCache(0)
	}
	if r == nil {
		r = NewRasterizer()
	}
	if logger == nil {
		logger = observability.NopLogger{}
	}
	return &Worker{Open: open, Cache: cache, Rasterizer: r, Logger: logger}
}

// Run opens the document and serves requests until a ShutdownRequest, a
// closed request channel or ctx ends the loop. A failure to open replies
// ErrorResponse with ID 0 and returns. Any other failure is replied to the
// one request that caused it.
func (w *Worker) Run(ctx context.Context, requests <-chan Request, responses chan<- Response) error {
	doc, err := w.Open()
	if err != nil {
		f := newFault(FaultDocument, err, "open")
		w.Logger.Error("open document failed", observability.Error("error", err))
		w.send(ctx, responses, ErrorResponse{ID: 0, Fault: f})
		return f
	}
	w.doc = doc
	w.cancelled = make(map[RequestID]bool)
	defer func() { w.doc.Close() }()

	for {
		var req Request
		var ok bool
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req, ok = <-requests:
		}
		if !ok {
			return nil
		}
		if _, stop := req.(ShutdownRequest); stop {
			return nil
		}
		if !w.handle(ctx, req, responses) {
			return ctx.Err()
		}
	}
}

// handle serves one request. It reports false when ctx ended while
// replying.
func (w *Worker) handle(ctx context.Context, req Request, responses chan<- Response) bool {
	switch r := req.(type) {
	case PageRequest:
		return w.page(ctx, r.ID, r.Page, r.Params, responses)
	case PrefetchRequest:
		return w.page(ctx, r.ID, r.Page, r.Params, responses)
	case ExtractTextRequest:
		text, err := w.Rasterizer.ExtractText(ctx, w.doc, r.Bounds, r.Params)
		if err != nil {
			return w.fail(ctx, r.ID, err, responses)
		}
		return w.send(ctx, responses, ExtractedTextResponse{ID: r.ID, Text: text})
	case CancelRequest:
		// ids of requests that already finished are never consumed
		if len(w.cancelled) >= maxCancelled {
			clear(w.cancelled)
		}
		w.cancelled[r.ID] = true
		return w.send(ctx, responses, CancelledResponse{ID: r.ID})
	case ReloadRequest:
		return w.reload(ctx, r.ID, responses)
	}
	return w.fail(ctx, 0, fmt.Errorf("unknown request %T", req), responses)
}

func (w *Worker) page(ctx context.Context, id RequestID, page int, params RenderParams, responses chan<- Response) bool {
	if w.cancelled[id] {
		delete(w.cancelled, id)
		w.Logger.Debug("skip cancelled request", observability.Uint64("id", uint64(id)))
		return true
	}
	key := NewCacheKey(page, params)
	if data, ok := w.Cache.Get(key); ok {
		w.Logger.Debug("cache hit", observability.Int("page", page))
		return w.send(ctx, responses, PageResponse{ID: id, Page: page, Data: data})
	}
	data, err := w.Rasterizer.RenderPage(ctx, w.doc, page, params)
	if err != nil {
		return w.fail(ctx, id, err, responses)
	}
	data = w.Cache.Insert(key, data)
	return w.send(ctx, responses, PageResponse{ID: id, Page: page, Data: data})
}

func (w *Worker) reload(ctx context.Context, id RequestID, responses chan<- Response) bool {
	doc, err := w.Open()
	if err != nil {
		return w.fail(ctx, id, newFault(FaultDocument, err, "reload"), responses)
	}
	w.doc.Close()
	w.doc = doc
	if !w.send(ctx, responses, DocumentInfoResponse{Info: ReadDocumentInfo(doc)}) {
		return false
	}
	return w.send(ctx, responses, ReloadedResponse{ID: id})
}

func (w *Worker) fail(ctx context.Context, id RequestID, err error, responses chan<- Response) bool {
	f := asFault(err)
	w.Logger.Warn("render request failed",
		observability.Uint64("id", uint64(id)),
		observability.String("kind", f.Kind.String()),
		observability.Error("error", f))
	return w.send(ctx, responses, ErrorResponse{ID: id, Fault: f})
}

func (w *Worker) send(ctx context.Context, responses chan<- Response, resp Response) bool {
	select {
	case responses <- resp:
		return true
	case <-ctx.Done():
		return false
	}
}
