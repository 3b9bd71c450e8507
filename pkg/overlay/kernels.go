package overlay

import "encoding/binary"

// Op is a per-pixel color transform over packed RGB bytes.
type Op int

const (
	// OpHighlight raises red and lowers green and blue, saturating. It
	// marks selections and visual ranges.
	OpHighlight Op = iota
	// OpTone nudges red down and blue up. It is the soft comment tone.
	OpTone
	// OpInvert inverts every channel. It draws the cursor.
	OpInvert
)

// chunk is the number of row bytes the lane path consumes at once: eight
// RGB pixels in three 64-bit words.
const chunk = 24

const (
	hiBits = 0x8080808080808080
	loBits = 0x7F7F7F7F7F7F7F7F
	lsBits = 0x0101010101010101
)

// lanes holds one constant per channel position laid out over the three
// words of a chunk.
type lanes [3]uint64

func makeLanes(r, g, b byte) lanes {
	var buf [chunk]byte
	for i := 0; i < chunk; i += 3 {
		buf[i], buf[i+1], buf[i+2] = r, g, b
	}
	return lanes{
		binary.LittleEndian.Uint64(buf[0:]),
		binary.LittleEndian.Uint64(buf[8:]),
		binary.LittleEndian.Uint64(buf[16:]),
	}
}

var (
	highlightAdd = makeLanes(40, 0, 0)
	highlightSub = makeLanes(0, 20, 60)
	toneAdd      = makeLanes(0, 0, 20)
	toneSub      = makeLanes(15, 0, 0)
)

// spread turns the top bit of every byte into a full byte mask.
func spread(top uint64) uint64 {
	return ((top >> 7) & lsBits) * 0xFF
}

func addSat(x, k uint64) uint64 {
	sum := ((x & loBits) + (k & loBits)) ^ ((x ^ k) & hiBits)
	carry := ((x & k) | ((x | k) &^ sum)) & hiBits
	return sum | spread(carry)
}

func subSat(x, k uint64) uint64 {
	diff := ((x | hiBits) - (k & loBits)) ^ ((x ^ ^k) & hiBits)
	borrow := ((^x & k) | (^(x ^ k) & diff)) & hiBits
	return diff &^ spread(borrow)
}

func addSub(row []byte, add, sub lanes) []byte {
	n := len(row) / chunk * chunk
	for off := 0; off < n; off += chunk {
		for i := 0; i < 3; i++ {
			p := row[off+8*i : off+8*i+8]
			v := binary.LittleEndian.Uint64(p)
			binary.LittleEndian.PutUint64(p, subSat(addSat(v, add[i]), sub[i]))
		}
	}
	return row[n:]
}

func invertLanes(row []byte) []byte {
	n := len(row) / chunk * chunk
	for off := 0; off < n; off += 8 {
		p := row[off : off+8]
		binary.LittleEndian.PutUint64(p, ^binary.LittleEndian.Uint64(p))
	}
	return row[n:]
}

func satAdd(v, k byte) byte {
	if s := int(v) + int(k); s < 0xFF {
		return byte(s)
	}
	return 0xFF
}

func satSub(v, k byte) byte {
	if v > k {
		return v - k
	}
	return 0
}

// Highlight applies OpHighlight to a row of packed RGB pixels. A trailing
// partial pixel is left alone.
func Highlight(row []byte) { HighlightScalar(addSub(row, highlightAdd, highlightSub)) }

func HighlightScalar(row []byte) {
	for i := 0; i+2 < len(row); i += 3 {
		row[i] = satAdd(row[i], 40)
		row[i+1] = satSub(row[i+1], 20)
		row[i+2] = satSub(row[i+2], 60)
	}
}

// Tone applies OpTone to a row of packed RGB pixels.
func Tone(row []byte) { ToneScalar(addSub(row, toneAdd, toneSub)) }

func ToneScalar(row []byte) {
	for i := 0; i+2 < len(row); i += 3 {
		row[i] = satSub(row[i], 15)
		row[i+2] = satAdd(row[i+2], 20)
	}
}

// Invert applies OpInvert to a row of packed RGB pixels.
func Invert(row []byte) { InvertScalar(invertLanes(row)) }

func InvertScalar(row []byte) {
	for i := 0; i+2 < len(row); i += 3 {
		row[i] = 0xFF - row[i]
		row[i+1] = 0xFF - row[i+1]
		row[i+2] = 0xFF - row[i+2]
	}
}

// Row applies op to row.
func (op Op) Row(row []byte) {
	switch op {
	case OpHighlight:
		Highlight(row)
	case OpTone:
		Tone(row)
	case OpInvert:
		Invert(row)
	}
}

func (op Op) String() string {
	switch op {
	case OpHighlight:
		return "highlight"
	case OpTone:
		return "tone"
	case OpInvert:
		return "invert"
	}
	return "unknown"
}
