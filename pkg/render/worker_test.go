package render

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/novvoo/go-pdfterm/pkg/pdf"
	"github.com/novvoo/go-pdfterm/pkg/pdf/pdftest"
)

func testOpener(pages ...pdftest.Page) Opener {
	data := pdftest.Build("Worker Test", pages...)
	return func() (*pdf.Document, error) { return pdf.NewDocument(data) }
}

type workerHarness struct {
	requests  chan Request
	responses chan Response
	done      chan error
	cancel    context.CancelFunc
}

func startWorker(t *testing.T, open Opener) *workerHarness {
	t.Helper()
	return runWorker(t, NewWorker(open, NewPageCache(8), nil, nil))
}

func runWorker(t *testing.T, w *Worker) *workerHarness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := &workerHarness{
		requests:  make(chan Request, 16),
		responses: make(chan Response, 16),
		done:      make(chan error, 1),
		cancel:    cancel,
	}
	go func() { h.done <- w.Run(ctx, h.requests, h.responses) }()
	t.Cleanup(cancel)
	return h
}

func (h *workerHarness) recv(t *testing.T) Response {
	t.Helper()
	select {
	case resp := <-h.responses:
		return resp
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for a response")
	}
	return nil
}

func (h *workerHarness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for the worker to stop")
	}
	return nil
}

func TestWorkerPageRequests(t *testing.T) {
	h := startWorker(t, testOpener(pdftest.Page{Content: helloWorld}, pdftest.Page{}))
	h.requests <- PageRequest{ID: 1, Page: 0, Params: letterParams()}
	h.requests <- PageRequest{ID: 2, Page: 0, Params: letterParams()}
	h.requests <- PrefetchRequest{ID: 3, Page: 1, Params: letterParams()}

	first, ok := h.recv(t).(PageResponse)
	if !ok || first.ID != 1 || first.Page != 0 || first.Data == nil {
		t.Fatalf("first response = %+v", first)
	}
	second, ok := h.recv(t).(PageResponse)
	if !ok || second.ID != 2 {
		t.Fatalf("second response = %+v", second)
	}
	if second.Data != first.Data {
		t.Error("Expected a cache hit to return the stored page data")
	}
	prefetched, ok := h.recv(t).(PageResponse)
	if !ok || prefetched.ID != 3 || prefetched.Page != 1 {
		t.Errorf("prefetch response = %+v", prefetched)
	}

	h.requests <- ShutdownRequest{}
	if err := h.wait(t); err != nil {
		t.Errorf("Run returned %v after shutdown", err)
	}
}

func TestWorkerDefaults(t *testing.T) {
	w := NewWorker(testOpener(pdftest.Page{}), nil, nil, nil)
	if w.Cache == nil || w.Rasterizer == nil || w.Logger == nil {
		t.Fatalf("Expected defaults, got %+v", w)
	}
	h := runWorker(t, w)
	h.requests <- PageRequest{ID: 1, Page: 0, Params: letterParams()}
	if resp, ok := h.recv(t).(PageResponse); !ok || resp.Data == nil {
		t.Fatalf("unexpected response %+v", resp)
	}
	if !w.Cache.Contains(NewCacheKey(0, letterParams())) {
		t.Error("Expected the default cache to hold the page")
	}
}

func TestWorkerErrorDoesNotStop(t *testing.T) {
	h := startWorker(t, testOpener(pdftest.Page{}))
	h.requests <- PageRequest{ID: 2, Page: 9, Params: letterParams()}
	h.requests <- PageRequest{ID: 3, Page: 0, Params: letterParams()}

	resp, ok := h.recv(t).(ErrorResponse)
	if !ok || resp.ID != 2 || resp.Fault.Kind != FaultDocument || !errors.Is(resp.Fault, ErrPageOutOfRange) {
		t.Fatalf("error response = %+v", resp)
	}
	if page, ok := h.recv(t).(PageResponse); !ok || page.ID != 3 {
		t.Errorf("Expected the worker to keep serving, got %+v", page)
	}

	bad := letterParams()
	bad.CellSize = CellSize{}
	h.requests <- PageRequest{ID: 4, Page: 0, Params: bad}
	if resp, ok := h.recv(t).(ErrorResponse); !ok || resp.Fault.Kind != FaultOverflow {
		t.Errorf("Expected an overflow fault for a zero cell size, got %+v", resp)
	}
}

func TestWorkerCancel(t *testing.T) {
	h := startWorker(t, testOpener(pdftest.Page{}))
	h.requests <- CancelRequest{ID: 7}
	h.requests <- PageRequest{ID: 7, Page: 0, Params: letterParams()}
	h.requests <- PageRequest{ID: 8, Page: 0, Params: letterParams()}

	if resp, ok := h.recv(t).(CancelledResponse); !ok || resp.ID != 7 {
		t.Fatalf("Expected CancelledResponse for 7, got %+v", resp)
	}
	if resp, ok := h.recv(t).(PageResponse); !ok || resp.ID != 8 {
		t.Errorf("Expected the cancelled request to be skipped, got %+v", resp)
	}
}

func TestWorkerExtractText(t *testing.T) {
	h := startWorker(t, testOpener(pdftest.Page{Content: helloWorld}))
	h.requests <- ExtractTextRequest{
		ID:     5,
		Bounds: []PageSelectionBounds{{Page: 0, EndX: 612, MaxY: 792}},
		Params: letterParams(),
	}
	resp, ok := h.recv(t).(ExtractedTextResponse)
	if !ok || resp.ID != 5 || resp.Text != "Hello\nWorld" {
		t.Errorf("extract response = %+v", resp)
	}
}

func TestWorkerReload(t *testing.T) {
	calls := 0
	pages := [][]pdftest.Page{
		{{}},
		{{}, {}, {}},
	}
	open := func() (*pdf.Document, error) {
		p := pages[min(calls, len(pages)-1)]
		calls++
		return pdf.NewDocument(pdftest.Build("Reloaded", p...))
	}
	h := startWorker(t, open)
	h.requests <- ReloadRequest{ID: 11}

	info, ok := h.recv(t).(DocumentInfoResponse)
	if !ok || info.Info.PageCount != 3 || info.Info.Title != "Reloaded" {
		t.Fatalf("Expected document info for the new file, got %+v", info)
	}
	if resp, ok := h.recv(t).(ReloadedResponse); !ok || resp.ID != 11 {
		t.Errorf("Expected ReloadedResponse 11, got %+v", resp)
	}
	h.requests <- PageRequest{ID: 12, Page: 2, Params: letterParams()}
	if resp, ok := h.recv(t).(PageResponse); !ok || resp.Page != 2 {
		t.Errorf("Expected page 2 of the reloaded file, got %+v", resp)
	}
}

func TestWorkerOpenFailure(t *testing.T) {
	cause := errors.New("no such file")
	h := startWorker(t, func() (*pdf.Document, error) { return nil, cause })
	resp, ok := h.recv(t).(ErrorResponse)
	if !ok || resp.ID != 0 || !errors.Is(resp.Fault, cause) {
		t.Fatalf("Expected ErrorResponse 0, got %+v", resp)
	}
	if err := h.wait(t); !errors.Is(err, cause) {
		t.Errorf("Run returned %v, expected the open error", err)
	}
}

func TestWorkerStops(t *testing.T) {
	t.Run("context", func(t *testing.T) {
		h := startWorker(t, testOpener(pdftest.Page{}))
		h.cancel()
		if err := h.wait(t); !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, expected context.Canceled", err)
		}
	})
	t.Run("closed channel", func(t *testing.T) {
		h := startWorker(t, testOpener(pdftest.Page{}))
		close(h.requests)
		if err := h.wait(t); err != nil {
			t.Errorf("Run returned %v", err)
		}
	})
}

func TestReadDocumentInfo(t *testing.T) {
	doc, err := pdf.NewDocument(pdftest.WithOutline([]string{"Intro", "End"}, []int{0, 1}, pdftest.Page{}, pdftest.Page{}))
	if err != nil {
		t.Fatalf("NewDocument failed: %v", err)
	}
	info := ReadDocumentInfo(doc)
	if info.PageCount != 2 || len(info.Outline) != 2 || info.Outline[1].Title != "End" || info.Outline[1].Page != 1 {
		t.Errorf("info = %+v", info)
	}
}
