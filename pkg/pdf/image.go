package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"

	"golang.org/x/image/ccitt"
	"golang.org/x/image/draw"
)

// ErrUnsupportedCodec is returned for image codecs without a decoder
// (JPX, JBIG2).
var ErrUnsupportedCodec = errors.New("unsupported image codec")

const maxImagePixels = 1 << 26

// DecodeImage converts an image XObject or inline image to NRGBA. Stencil
// masks come back painted in fill with transparent gaps.
func (d *Document) DecodeImage(s Stream, resources Dictionary, fill Color) (*image.NRGBA, error) {
	dict := s.Dictionary
	width := d.intEntry(dict, "Width")
	height := d.intEntry(dict, "Height")
	if width <= 0 || height <= 0 || width*height > maxImagePixels {
		return nil, fmt.Errorf("image size %dx%d", width, height)
	}
	isMask, _ := d.Resolve(dict.Get("ImageMask")).(Boolean)
	bpc := d.intEntry(dict, "BitsPerComponent")
	if isMask || bpc == 0 {
		bpc = 1
	}

	data, codec, err := s.DecodeToImage()
	if err != nil {
		return nil, err
	}

	var img *image.NRGBA
	switch codec {
	case "DCTDecode":
		src, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("DCTDecode: %w", err)
		}
		img = toNRGBA(src)
	case "CCITTFaxDecode":
		data, err = decodeCCITT(data, s, width, height)
		if err != nil {
			return nil, fmt.Errorf("CCITTFaxDecode: %w", err)
		}
		bpc = 1
	case "":
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, codec)
	}

	if img == nil {
		if isMask {
			return d.stencil(data, dict, width, height, fill), nil
		}
		cs := d.resolveColorSpace(dict.Get("ColorSpace"), resources)
		if dict.Get("ColorSpace") == nil && codec == "CCITTFaxDecode" {
			cs = csGray
		}
		img = d.samples(data, dict, cs, width, height, bpc)
	}

	if sm, ok := d.Resolve(dict.Get("SMask")).(Stream); ok {
		if alpha, err := d.DecodeImage(Stream{Dictionary: withGray(sm.Dictionary), Data: sm.Data}, nil, black); err == nil {
			applyAlpha(img, alpha, false)
		}
	} else if m, ok := d.Resolve(dict.Get("Mask")).(Stream); ok {
		if stencil, err := d.DecodeImage(m, nil, black); err == nil {
			applyAlpha(img, stencil, true)
		}
	}
	return img, nil
}

func (d *Document) intEntry(dict Dictionary, key string) int {
	v, _ := Num(d.Resolve(dict.Get(key)))
	return int(v)
}

func withGray(dict Dictionary) Dictionary {
	out := make(Dictionary, len(dict)+1)
	for k, v := range dict {
		out[k] = v
	}
	out["ColorSpace"] = Name("DeviceGray")
	return out
}

func decodeCCITT(data []byte, s Stream, width, height int) ([]byte, error) {
	var params Dictionary
	if _, p := s.Filters(); len(p) > 0 {
		for _, dp := range p {
			if dp != nil {
				params = dp
			}
		}
	}
	k, _ := params.GetInt("K")
	cols := width
	if c, ok := params.GetInt("Columns"); ok && c > 0 {
		cols = int(c)
	}
	rows := height
	if r, ok := params.GetInt("Rows"); ok && r > 0 {
		rows = int(r)
	}
	align, _ := params.GetBool("EncodedByteAlign")
	blackIs1, _ := params.GetBool("BlackIs1")
	sf := ccitt.Group3
	if k < 0 {
		sf = ccitt.Group4
	}
	r := ccitt.NewReader(bytes.NewReader(data), ccitt.MSB, sf, cols, rows, &ccitt.Options{Align: align, Invert: blackIs1})
	return io.ReadAll(r)
}

// decodeRange returns the /Decode mapping for component i, defaulting to
// [0 1], or [0 2^bpc-1] for indexed images.
func (d *Document) decodeRange(dict Dictionary, i int, cs colorSpace, bpc int) (float64, float64) {
	if arr, ok := d.Resolve(dict.Get("Decode")).(Array); ok && len(arr) >= 2*i+2 {
		lo, ok1 := Num(d.Resolve(arr[2*i]))
		hi, ok2 := Num(d.Resolve(arr[2*i+1]))
		if ok1 && ok2 {
			return lo, hi
		}
	}
	if cs.family == "Indexed" {
		return 0, float64(int(1)<<bpc - 1)
	}
	return 0, 1
}

func sample(row []byte, idx, bpc int) uint32 {
	switch bpc {
	case 8:
		if idx < len(row) {
			return uint32(row[idx])
		}
		return 0
	case 16:
		if 2*idx+1 < len(row) {
			return uint32(row[2*idx])<<8 | uint32(row[2*idx+1])
		}
		return 0
	}
	bit := idx * bpc
	b := bit / 8
	if b >= len(row) {
		return 0
	}
	shift := 8 - bpc - bit%8
	return uint32(row[b]>>uint(shift)) & (1<<uint(bpc) - 1)
}

func (d *Document) samples(data []byte, dict Dictionary, cs colorSpace, width, height, bpc int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	n := cs.components
	rowBytes := (width*n*bpc + 7) / 8
	maxVal := float64(int(1)<<bpc - 1)

	lo := make([]float64, n)
	scale := make([]float64, n)
	for i := 0; i < n; i++ {
		l, h := d.decodeRange(dict, i, cs, bpc)
		lo[i], scale[i] = l, (h-l)/maxVal
	}

	fast := bpc == 8 && (cs.family == "DeviceRGB" || cs.family == "DeviceGray") && dict.Get("Decode") == nil
	vals := make([]float64, n)
	for y := 0; y < height; y++ {
		start := y * rowBytes
		if start >= len(data) {
			break
		}
		row := data[start:min(start+rowBytes, len(data))]
		out := img.Pix[y*img.Stride:]
		for x := 0; x < width; x++ {
			o := out[4*x : 4*x+4]
			if fast {
				if n == 3 && 3*x+2 < len(row) {
					o[0], o[1], o[2], o[3] = row[3*x], row[3*x+1], row[3*x+2], 0xFF
					continue
				}
				if n == 1 && x < len(row) {
					o[0], o[1], o[2], o[3] = row[x], row[x], row[x], 0xFF
					continue
				}
			}
			for i := 0; i < n; i++ {
				vals[i] = lo[i] + float64(sample(row, x*n+i, bpc))*scale[i]
			}
			var c Color
			if cs.family == "Indexed" {
				c = cs.indexed(int(vals[0] + 0.5))
			} else {
				c = cs.toRGB(vals)
			}
			o[0], o[1], o[2], o[3] = to8(c.R), to8(c.G), to8(c.B), 0xFF
		}
	}
	return img
}

func (d *Document) stencil(data []byte, dict Dictionary, width, height int, fill Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	paint := uint32(0)
	if lo, _ := d.decodeRange(dict, 0, csGray, 1); lo == 1 {
		paint = 1
	}
	rowBytes := (width + 7) / 8
	r, g, b := to8(fill.R), to8(fill.G), to8(fill.B)
	for y := 0; y < height; y++ {
		start := y * rowBytes
		if start >= len(data) {
			break
		}
		row := data[start:min(start+rowBytes, len(data))]
		out := img.Pix[y*img.Stride:]
		for x := 0; x < width; x++ {
			if sample(row, x, 1) == paint {
				out[4*x], out[4*x+1], out[4*x+2], out[4*x+3] = r, g, b, 0xFF
			}
		}
	}
	return img
}

// applyAlpha multiplies img alpha by the mask luminance (soft masks) or
// by the mask coverage (stencil masks). The mask is resampled to the
// image size when they differ.
func applyAlpha(img, mask *image.NRGBA, stencil bool) {
	if !mask.Bounds().Eq(img.Bounds()) {
		scaled := image.NewNRGBA(img.Bounds())
		draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), mask, mask.Bounds(), draw.Src, nil)
		mask = scaled
	}
	for i := 3; i < len(img.Pix); i += 4 {
		var a uint32
		if stencil {
			// zero samples, which the stencil paints, let the image show
			a = uint32(mask.Pix[i])
		} else {
			a = uint32(mask.Pix[i-3])
		}
		img.Pix[i] = uint8(uint32(img.Pix[i]) * a / 255)
	}
}

func toNRGBA(src image.Image) *image.NRGBA {
	if n, ok := src.(*image.NRGBA); ok {
		return n
	}
	b := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

func to8(v float64) uint8 {
	return uint8(clamp01(v)*255 + 0.5)
}
