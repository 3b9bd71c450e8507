package pdf

import (
	"bytes"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
)

// imageFilters are left for the image decoder.
var imageFilters = map[Name]bool{
	"DCTDecode":      true,
	"JPXDecode":      true,
	"CCITTFaxDecode": true,
	"JBIG2Decode":    true,
}

// Filters returns the filter chain of a stream with the matching
// decode parameter dictionaries (nil where absent).
func (s Stream) Filters() ([]Name, []Dictionary) {
	var names []Name
	switch f := s.Dictionary.Get("Filter").(type) {
	case Name:
		names = []Name{ExpandInlineName(f)}
	case Array:
		for _, item := range f {
			if n, ok := item.(Name); ok {
				names = append(names, ExpandInlineName(n))
			}
		}
	}
	params := make([]Dictionary, len(names))
	switch p := s.Dictionary.Get("DecodeParms").(type) {
	case Dictionary:
		if len(params) > 0 {
			params[0] = p
		}
	case Array:
		for i, item := range p {
			if d, ok := item.(Dictionary); ok && i < len(params) {
				params[i] = d
			}
		}
	}
	return names, params
}

// Decode applies every filter. Image codecs (DCT, JPX ...) are an error
// here; use DecodeToImage for image streams.
func (s Stream) Decode() ([]byte, error) {
	data, rest, err := s.DecodeToImage()
	if err != nil {
		return nil, err
	}
	if rest != "" {
		return nil, fmt.Errorf("filter %s: image codec in non-image stream", rest)
	}
	return data, nil
}

// DecodeToImage applies the non-image filters and stops at the first image
// codec, which it returns so the caller can decode it.
func (s Stream) DecodeToImage() ([]byte, Name, error) {
	data := s.Data
	names, params := s.Filters()
	for i, filter := range names {
		if imageFilters[filter] {
			return data, filter, nil
		}
		var err error
		data, err = applyFilter(data, filter, params[i])
		if err != nil {
			return nil, "", fmt.Errorf("filter %s: %w", filter, err)
		}
	}
	return data, "", nil
}

func applyFilter(data []byte, filter Name, params Dictionary) ([]byte, error) {
	var (
		out []byte
		err error
	)
	switch filter {
	case "FlateDecode":
		out, err = flateDecode(data)
	case "LZWDecode":
		early := int64(1)
		if params != nil {
			if v, ok := params.GetInt("EarlyChange"); ok {
				early = v
			}
		}
		out, err = lzwDecode(data, early == 1)
	case "ASCIIHexDecode":
		return asciiHexDecode(data)
	case "ASCII85Decode":
		return ascii85Decode(data)
	case "RunLengthDecode":
		return runLengthDecode(data), nil
	default:
		return nil, fmt.Errorf("unsupported filter: %s", filter)
	}
	if err != nil {
		return nil, err
	}
	return applyPredictor(out, params)
}

func flateDecode(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	// truncated streams are common; keep what inflated
	if err != nil && len(out) == 0 {
		return nil, err
	}
	return out, nil
}

func applyPredictor(data []byte, params Dictionary) ([]byte, error) {
	if params == nil {
		return data, nil
	}
	predictor, _ := params.GetInt("Predictor")
	if predictor <= 1 {
		return data, nil
	}
	columns := int64(1)
	if v, ok := params.GetInt("Columns"); ok && v > 0 {
		columns = v
	}
	colors := int64(1)
	if v, ok := params.GetInt("Colors"); ok && v > 0 {
		colors = v
	}
	bpc := int64(8)
	if v, ok := params.GetInt("BitsPerComponent"); ok && v > 0 {
		bpc = v
	}
	bpp := int((colors*bpc + 7) / 8)
	rowBytes := int((columns*colors*bpc + 7) / 8)

	if predictor == 2 {
		return tiffPredictor(data, rowBytes, bpp, bpc), nil
	}

	stride := rowBytes + 1
	rows := len(data) / stride
	out := make([]byte, rows*rowBytes)
	prev := make([]byte, rowBytes)
	for row := 0; row < rows; row++ {
		src := data[row*stride+1 : (row+1)*stride]
		dst := out[row*rowBytes : (row+1)*rowBytes]
		switch data[row*stride] {
		case 0:
			copy(dst, src)
		case 1:
			for i := range dst {
				var left byte
				if i >= bpp {
					left = dst[i-bpp]
				}
				dst[i] = src[i] + left
			}
		case 2:
			for i := range dst {
				dst[i] = src[i] + prev[i]
			}
		case 3:
			for i := range dst {
				var left int
				if i >= bpp {
					left = int(dst[i-bpp])
				}
				dst[i] = src[i] + byte((left+int(prev[i]))/2)
			}
		case 4:
			for i := range dst {
				var left, upLeft byte
				if i >= bpp {
					left = dst[i-bpp]
					upLeft = prev[i-bpp]
				}
				dst[i] = src[i] + paeth(left, prev[i], upLeft)
			}
		default:
			return nil, fmt.Errorf("unknown PNG predictor %d", data[row*stride])
		}
		prev = dst
	}
	return out, nil
}

func tiffPredictor(data []byte, rowBytes, bpp int, bpc int64) []byte {
	if bpc != 8 || rowBytes == 0 {
		return data
	}
	out := append([]byte(nil), data...)
	for row := 0; row+rowBytes <= len(out); row += rowBytes {
		for i := bpp; i < rowBytes; i++ {
			out[row+i] += out[row+i-bpp]
		}
	}
	return out
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func asciiHexDecode(data []byte) ([]byte, error) {
	out := make([]byte, 0, len(data)/2)
	var hi byte
	half := false
	for _, b := range data {
		if b == '>' {
			break
		}
		v, ok := hexValue(b)
		if !ok {
			if isWhitespace(b) {
				continue
			}
			return nil, fmt.Errorf("invalid hex digit %q", b)
		}
		if half {
			out = append(out, hi<<4|v)
		} else {
			hi = v
		}
		half = !half
	}
	if half {
		out = append(out, hi<<4)
	}
	return out, nil
}

func ascii85Decode(data []byte) ([]byte, error) {
	data = bytes.TrimPrefix(bytes.TrimSpace(data), []byte("<~"))
	out := make([]byte, 0, len(data)*4/5)
	var group [5]byte
	n := 0
	flush := func(count int) {
		var v uint32
		for i := 0; i < 5; i++ {
			v = v*85 + uint32(group[i])
		}
		b := []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
		out = append(out, b[:count]...)
	}
	for i := 0; i < len(data); i++ {
		c := data[i]
		switch {
		case isWhitespace(c):
			continue
		case c == '~':
			i = len(data)
			continue
		case c == 'z' && n == 0:
			out = append(out, 0, 0, 0, 0)
			continue
		case c < '!' || c > 'u':
			return nil, fmt.Errorf("invalid ASCII85 byte %q", c)
		}
		group[n] = c - '!'
		n++
		if n == 5 {
			flush(4)
			n = 0
		}
	}
	if n == 1 {
		return nil, errors.New("truncated ASCII85 group")
	}
	if n > 1 {
		for i := n; i < 5; i++ {
			group[i] = 84
		}
		flush(n - 1)
	}
	return out, nil
}

func runLengthDecode(data []byte) []byte {
	var out []byte
	for i := 0; i < len(data); {
		n := int(data[i])
		i++
		switch {
		case n == 128:
			return out
		case n < 128:
			end := i + n + 1
			if end > len(data) {
				end = len(data)
			}
			out = append(out, data[i:end]...)
			i = end
		default:
			if i >= len(data) {
				return out
			}
			for j := 0; j < 257-n; j++ {
				out = append(out, data[i])
			}
			i++
		}
	}
	return out
}

// lzwDecode implements the PDF variant of LZW (MSB first, 9 to 12 bit
// codes, optional early change), which compress/lzw does not cover.
func lzwDecode(data []byte, earlyChange bool) ([]byte, error) {
	const (
		clearCode = 256
		eodCode   = 257
	)
	var out []byte
	table := make([][]byte, 258, 4096)
	reset := func() {
		table = table[:258]
		for i := 0; i < 256; i++ {
			table[i] = []byte{byte(i)}
		}
	}
	reset()

	width := 9
	var bitBuf uint32
	bits := 0
	pos := 0
	var prev []byte
	early := 0
	if earlyChange {
		early = 1
	}

	for {
		for bits < width && pos < len(data) {
			bitBuf = bitBuf<<8 | uint32(data[pos])
			pos++
			bits += 8
		}
		if bits < width {
			return out, nil
		}
		code := int(bitBuf>>(bits-width)) & (1<<width - 1)
		bits -= width

		switch {
		case code == clearCode:
			reset()
			width = 9
			prev = nil
			continue
		case code == eodCode:
			return out, nil
		}

		var entry []byte
		switch {
		case code < len(table):
			entry = table[code]
		case code == len(table) && prev != nil:
			entry = append(append([]byte(nil), prev...), prev[0])
		default:
			return out, fmt.Errorf("invalid LZW code %d", code)
		}
		out = append(out, entry...)

		if prev != nil && len(table) < 4096 {
			next := make([]byte, len(prev)+1)
			copy(next, prev)
			next[len(prev)] = entry[0]
			table = append(table, next)
		}
		prev = entry

		if len(table)+early >= 1<<width && width < 12 {
			width++
		}
	}
}
