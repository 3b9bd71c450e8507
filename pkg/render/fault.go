package render

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedPixmap = errors.New("Unsupported pixmap format")
	ErrPixmapMismatch    = errors.New("Pixmap buffer size mismatch")
	ErrSizeOverflow      = errors.New("raster size overflow")
	ErrPageOutOfRange    = errors.New("page out of range")
)

// FaultKind classifies a render failure.
type FaultKind uint8

const (
	FaultGeneric FaultKind = iota
	// FaultDocument is an unreadable document or page.
	FaultDocument
	// FaultPixmap is a pixel buffer integrity problem.
	FaultPixmap
	// FaultOverflow is an impossible or oversized raster geometry.
	FaultOverflow
)

func (k FaultKind) String() string {
	switch k {
	case FaultDocument:
		return "document"
	case FaultPixmap:
		return "pixmap"
	case FaultOverflow:
		return "overflow"
	}
	return "generic"
}

// Fault is the typed error returned by the rasterizer and carried in
// ErrorResponse. It wraps the underlying cause.
type Fault struct {
	Kind   FaultKind
	Detail string
	Err    error
}

func (f *Fault) Error() string {
	switch {
	case f.Detail != "" && f.Err != nil:
		return fmt.Sprintf("%s fault: %s: %v", f.Kind, f.Detail, f.Err)
	case f.Err != nil:
		return fmt.Sprintf("%s fault: %v", f.Kind, f.Err)
	}
	return fmt.Sprintf("%s fault: %s", f.Kind, f.Detail)
}

func (f *Fault) Unwrap() error { return f.Err }

func newFault(kind FaultKind, err error, format string, args ...interface{}) *Fault {
	return &Fault{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

// asFault returns err as a *Fault, wrapping foreign errors as generic.
func asFault(err error) *Fault {
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return &Fault{Kind: FaultGeneric, Err: err}
}

// recoverFault is deferred around page drawing. It turns a panic into a
// FaultDocument for page.
func recoverFault(err *error, page int) {
	if r := recover(); r != nil {
		*err = newFault(FaultDocument, fmt.Errorf("panic: %v", r), "page %d", page)
	}
}
