package convert

import (
	"context"
	"errors"

	"github.com/midbel/hexdump"

	"github.com/novvoo/go-pdfterm/pkg/observability"
)

var errMissingPage = errors.New("missing cached page")

// dumpBytes is how much of the focus page's pixels DumpState hex-dumps.
const dumpBytes = 64

// Run owns e until commands is closed or ctx ends. Queued commands are
// drained without blocking, then pending pages are converted one per
// pass; with no work left Run blocks for the next command.
func Run(ctx context.Context, e *Engine, commands <-chan Command, frames chan<- Frame) error {
	e.log.Info("converter started", observability.String("protocol", e.opts.Protocol.String()))
	defer e.ReleaseShm()
	send := func(fs []Frame) error {
		for _, f := range fs {
			select {
			case frames <- f:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}

	hasWork := false
	for {
	drain:
		for {
			select {
			case cmd, ok := <-commands:
				if !ok {
					return nil
				}
				if err := send(e.Handle(cmd)); err != nil {
					return err
				}
				hasWork = true
			default:
				break drain
			}
		}

		if hasWork {
			f, ok := e.NextPage()
			if !ok {
				hasWork = false
				continue
			}
			if err := send([]Frame{f}); err != nil {
				return err
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd, ok := <-commands:
			if !ok {
				return nil
			}
			if err := send(e.Handle(cmd)); err != nil {
				return err
			}
			hasWork = true
		}
	}
}

// dump logs a snapshot of the engine state.
func (e *Engine) dump() {
	var queued []int
	for i, d := range e.images {
		if d != nil {
			queued = append(queued, i)
		}
	}
	e.log.Info("converter state",
		observability.Int("page", e.page),
		observability.Int("pages", len(e.images)),
		observability.Any("sent", sortedPages(e.sent)),
		observability.Any("tiled", sortedPages(e.tiled)),
		observability.Any("pending_cursor", sortedPages(e.pendingCursor)),
		observability.Any("queued", queued))

	for i := max(e.page-5, 0); i < min(e.page+5, len(e.cache)); i++ {
		cp := e.cache[i]
		if cp == nil {
			e.log.Info("page not cached", observability.Int("page", i))
			continue
		}
		e.log.Info("cached page",
			observability.Int("page", i),
			observability.Bool("pixels", cp.hasPixels()),
			observability.Bool("decoded", cp.decoded != nil),
			observability.Int("tiles", len(cp.tiles)),
			observability.Bool("sent", e.sent[i]))
	}

	if cp := e.cached(e.page); cp.hasPixels() {
		pix := cp.data.Img.Pixels
		e.log.Debug("focus page pixels\n" + hexdump.Dump(pix[:min(len(pix), dumpBytes)]))
	}
}

// MemoryStats summarizes what the engine holds.
type MemoryStats struct {
	CachedPages int
	PixelBytes  int
	Decoded     int
	Tiles       int
	Sent        int
}

func (e *Engine) Stats() MemoryStats {
	s := MemoryStats{Sent: len(e.sent)}
	for _, cp := range e.cache {
		if cp == nil {
			continue
		}
		s.CachedPages++
		s.PixelBytes += len(cp.data.Img.Pixels)
		if cp.decoded != nil {
			s.Decoded++
		}
		s.Tiles += len(cp.tiles)
	}
	return s
}
