package termimg

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
)

// KittyChunkSize is the largest base64 payload sent in one escape.
const KittyChunkSize = 4096

// Quiet controls which responses the terminal sends back.
type Quiet int

const (
	QuietNormal Quiet = iota
	QuietErrorsOnly
	QuietSilent
)

// KittyParams are the control keys shared by transmit and place commands.
// Zero values are omitted.
type KittyParams struct {
	ID        uint32
	Placement uint32
	// NoMove keeps the cursor where it was (C=1).
	NoMove bool
	Quiet  Quiet
	// Source rectangle in pixels.
	X, Y, W, H int
	// Display size in cells.
	Cols, Rows int
}

func (p KittyParams) write(b *strings.Builder) {
	num := func(key string, v int) {
		if v > 0 {
			fmt.Fprintf(b, ",%s=%d", key, v)
		}
	}
	num("i", int(p.ID))
	num("p", int(p.Placement))
	if p.NoMove {
		b.WriteString(",C=1")
	}
	num("q", int(p.Quiet))
	num("x", p.X)
	num("y", p.Y)
	num("w", p.W)
	num("h", p.H)
	num("c", p.Cols)
	num("r", p.Rows)
}

func apc(b *bytes.Buffer, tmux bool, control, payload string) {
	if tmux {
		b.WriteString("\x1bPtmux;\x1b\x1b_G")
	} else {
		b.WriteString("\x1b_G")
	}
	b.WriteString(control)
	if payload != "" {
		b.WriteByte(';')
		b.WriteString(payload)
	}
	if tmux {
		b.WriteString("\x1b\x1b\\\x1b\\")
	} else {
		b.WriteString("\x1b\\")
	}
}

// ShmTransmit builds the command telling the terminal to read a w x h RGB
// image from the named shared memory object.
func ShmTransmit(name string, w, h int, p KittyParams, tmux bool) []byte {
	var ctl strings.Builder
	fmt.Fprintf(&ctl, "a=T,t=s,f=24,s=%d,v=%d", w, h)
	p.write(&ctl)
	var b bytes.Buffer
	apc(&b, tmux, ctl.String(), base64.StdEncoding.EncodeToString([]byte(name)))
	return b.Bytes()
}

// DirectTransmit builds the escapes that send w x h RGB pixels inline,
// split into chunks of at most KittyChunkSize base64 bytes.
func DirectTransmit(rgb []byte, w, h int, p KittyParams, tmux bool) []byte {
	payload := base64.StdEncoding.EncodeToString(rgb)
	var ctl strings.Builder
	fmt.Fprintf(&ctl, "a=T,t=d,f=24,s=%d,v=%d", w, h)
	p.write(&ctl)

	var b bytes.Buffer
	if len(payload) <= KittyChunkSize {
		apc(&b, tmux, ctl.String(), payload)
		return b.Bytes()
	}
	apc(&b, tmux, ctl.String()+",m=1", payload[:KittyChunkSize])
	for rest := payload[KittyChunkSize:]; len(rest) > 0; {
		n := min(len(rest), KittyChunkSize)
		more := "m=1"
		if n == len(rest) {
			more = "m=0"
		}
		apc(&b, tmux, more, rest[:n])
		rest = rest[n:]
	}
	return b.Bytes()
}

// DeleteTarget selects which images a delete command removes. Upper case
// variants also free the image data.
type DeleteTarget byte

const (
	DeleteAll       DeleteTarget = 'a'
	DeleteAllFree   DeleteTarget = 'A'
	DeleteByID      DeleteTarget = 'i'
	DeleteByIDFree  DeleteTarget = 'I'
	DeleteRange     DeleteTarget = 'r'
	DeleteRangeFree DeleteTarget = 'R'
)

// DeleteCommand removes images. id is ignored for the all targets.
func DeleteCommand(target DeleteTarget, id uint32, quiet Quiet, tmux bool) []byte {
	var ctl strings.Builder
	fmt.Fprintf(&ctl, "a=d,d=%c", target)
	if quiet > 0 {
		fmt.Fprintf(&ctl, ",q=%d", quiet)
	}
	if target != DeleteAll && target != DeleteAllFree && id > 0 {
		fmt.Fprintf(&ctl, ",i=%d", id)
	}
	var b bytes.Buffer
	apc(&b, tmux, ctl.String(), "")
	return b.Bytes()
}

// PlaceCommand displays an already transmitted image at the cursor.
func PlaceCommand(p KittyParams, tmux bool) []byte {
	var ctl strings.Builder
	ctl.WriteString("a=p")
	p.write(&ctl)
	var b bytes.Buffer
	apc(&b, tmux, ctl.String(), "")
	return b.Bytes()
}

// KittyResponse is a parsed reply to a transmit or place command.
type KittyResponse struct {
	ID        uint32
	Placement uint32
	Message   string
}

// OK reports whether the terminal accepted the command.
func (r KittyResponse) OK() bool { return r.Message == "OK" }

var errNotKittyResponse = errors.New("kitty: not a graphics response")

// ParseResponse parses "\x1b_Gi=<id>[,p=<placement>];<message>\x1b\\".
func ParseResponse(s string) (KittyResponse, error) {
	body, ok := strings.CutPrefix(s, "\x1b_G")
	if !ok {
		return KittyResponse{}, errNotKittyResponse
	}
	body, ok = strings.CutSuffix(body, "\x1b\\")
	if !ok {
		return KittyResponse{}, errNotKittyResponse
	}
	keys, msg, ok := strings.Cut(body, ";")
	if !ok {
		return KittyResponse{}, errNotKittyResponse
	}
	r := KittyResponse{Message: msg}
	for _, kv := range strings.Split(keys, ",") {
		k, v, _ := strings.Cut(kv, "=")
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return KittyResponse{}, fmt.Errorf("kitty: bad %s value %q: %w", k, v, err)
		}
		switch k {
		case "i":
			r.ID = uint32(n)
		case "p":
			r.Placement = uint32(n)
		}
	}
	return r, nil
}

// KittyState tracks whether the terminal already holds an image.
type KittyState int

const (
	// Queued images still have to be transmitted.
	Queued KittyState = iota
	// Uploaded images only need a place command.
	Uploaded
)

// KittyImage is a page image for the kitty protocol. It either refers to
// a shared memory object or carries its pixels for direct transmission.
type KittyImage struct {
	ID            uint32
	Width, Height int
	Cols, Rows    int
	State         KittyState
	ShmName       string
	Pixels        []byte
	Tmux          bool
}

// NewKittyImage prepares m for upload. When shm is true the pixels are
// written to a shared memory object first; if that fails the image falls
// back to direct transmission and the error is returned alongside it.
func NewKittyImage(m Image, id uint32, cols, rows int, shmName string, tmux bool) (*KittyImage, error) {
	k := &KittyImage{ID: id, Width: m.Width, Height: m.Height, Cols: cols, Rows: rows, Tmux: tmux}
	if shmName == "" {
		k.Pixels = m.Pix
		return k, nil
	}
	if err := CreateShm(shmName, m.Pix); err != nil {
		k.Pixels = m.Pix
		return k, err
	}
	k.ShmName = shmName
	return k, nil
}

func (k *KittyImage) Protocol() Protocol { return Kitty }
func (k *KittyImage) Area() (int, int)   { return k.Cols, k.Rows }

// Bytes returns the transmit command while the image is queued and a place
// command once uploaded.
func (k *KittyImage) Bytes() []byte {
	p := KittyParams{ID: k.ID, NoMove: true, Quiet: QuietErrorsOnly, Cols: k.Cols, Rows: k.Rows}
	switch {
	case k.State == Uploaded:
		return PlaceCommand(p, k.Tmux)
	case k.ShmName != "":
		return ShmTransmit(k.ShmName, k.Width, k.Height, p, k.Tmux)
	}
	return DirectTransmit(k.Pixels, k.Width, k.Height, p, k.Tmux)
}

// WriteTo writes the pending command and marks the image uploaded.
func (k *KittyImage) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(k.Bytes())
	if err == nil {
		k.State = Uploaded
		k.Pixels = nil
	}
	return int64(n), err
}

var shmSeq atomic.Uint64

// NextShmName returns a fresh shared memory object name for page.
func NextShmName(app string, page int) string {
	seq := shmSeq.Add(1)
	return fmt.Sprintf("/%s_%d-%d-page-%d", app, seq, os.Getpid(), page)
}
