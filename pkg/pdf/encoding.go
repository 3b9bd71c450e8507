package pdf

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Decoders carry transform state, so each call builds its own.
func utf16Decoder(order unicode.Endianness) *encoding.Decoder {
	return unicode.UTF16(order, unicode.UseBOM).NewDecoder()
}

func decodeTextString(b []byte) string {
	switch {
	case bytes.HasPrefix(b, []byte{0xFE, 0xFF}):
		if s, err := utf16Decoder(unicode.BigEndian).Bytes(b); err == nil {
			return string(s)
		}
	case bytes.HasPrefix(b, []byte{0xFF, 0xFE}):
		if s, err := utf16Decoder(unicode.LittleEndian).Bytes(b); err == nil {
			return string(s)
		}
	case bytes.HasPrefix(b, []byte{0xEF, 0xBB, 0xBF}):
		return string(b[3:])
	}
	var sb strings.Builder
	for _, c := range b {
		sb.WriteRune(pdfDocRune(c))
	}
	return sb.String()
}

// pdfDocRune maps PDFDocEncoding, which is Latin-1 except for a few ranges.
func pdfDocRune(c byte) rune {
	if r, ok := pdfDocDiff[c]; ok {
		return r
	}
	return rune(c)
}

var pdfDocDiff = map[byte]rune{
	0x18: '˘', 0x19: 'ˇ', 0x1A: 'ˆ', 0x1B: '˙', 0x1C: '˝', 0x1D: '˛', 0x1E: '˚', 0x1F: '˜',
	0x80: '•', 0x81: '†', 0x82: '‡', 0x83: '…', 0x84: '—', 0x85: '–', 0x86: 'ƒ', 0x87: '⁄',
	0x88: '‹', 0x89: '›', 0x8A: '−', 0x8B: '‰', 0x8C: '„', 0x8D: '“', 0x8E: '”', 0x8F: '‘',
	0x90: '’', 0x91: '‚', 0x92: '™', 0x93: 'ﬁ', 0x94: 'ﬂ', 0x95: 'Ł', 0x96: 'Œ', 0x97: 'Š',
	0x98: 'Ÿ', 0x99: 'Ž', 0x9A: 'ı', 0x9B: 'ł', 0x9C: 'œ', 0x9D: 'š', 0x9E: 'ž', 0xA0: '€',
}

// baseEncoding returns the 256-entry code to rune table of a named simple
// font encoding.
func baseEncoding(name Name) [256]rune {
	switch name {
	case "WinAnsiEncoding":
		return charmapTable(charmap.Windows1252)
	case "MacRomanEncoding":
		return charmapTable(charmap.Macintosh)
	case "PDFDocEncoding":
		var t [256]rune
		for i := range t {
			t[i] = pdfDocRune(byte(i))
		}
		return t
	}
	return standardEncoding
}

func charmapTable(cm *charmap.Charmap) [256]rune {
	var t [256]rune
	dec := cm.NewDecoder()
	for i := range t {
		t[i] = decodeByte(dec, byte(i))
	}
	return t
}

func decodeByte(dec *encoding.Decoder, b byte) rune {
	out, err := dec.Bytes([]byte{b})
	if err != nil || len(out) == 0 {
		return rune(b)
	}
	r, _ := utf8.DecodeRune(out)
	if r == utf8.RuneError {
		return 0
	}
	return r
}

// standardEncoding is Adobe StandardEncoding: ASCII with curly quotes and
// a sparse upper half.
var standardEncoding = func() [256]rune {
	var t [256]rune
	for i := 32; i < 127; i++ {
		t[i] = rune(i)
	}
	t[0x27] = '’'
	t[0x60] = '‘'
	upper := map[int]rune{
		0xA1: '¡', 0xA2: '¢', 0xA3: '£', 0xA4: '⁄', 0xA5: '¥', 0xA6: 'ƒ', 0xA7: '§',
		0xA8: '¤', 0xA9: '\'', 0xAA: '“', 0xAB: '«', 0xAC: '‹', 0xAD: '›', 0xAE: 'ﬁ',
		0xAF: 'ﬂ', 0xB1: '–', 0xB2: '†', 0xB3: '‡', 0xB4: '·', 0xB6: '¶', 0xB7: '•',
		0xB8: '‚', 0xB9: '„', 0xBA: '”', 0xBB: '»', 0xBC: '…', 0xBD: '‰', 0xBF: '¿',
		0xC1: '`', 0xC2: '´', 0xC3: 'ˆ', 0xC4: '˜', 0xC5: '¯', 0xC6: '˘', 0xC7: '˙',
		0xC8: '¨', 0xCA: '˚', 0xCB: '¸', 0xCD: '˝', 0xCE: '˛', 0xCF: 'ˇ', 0xD0: '—',
		0xE1: 'Æ', 0xE3: 'ª', 0xE8: 'Ł', 0xE9: 'Ø', 0xEA: 'Œ', 0xEB: 'º', 0xF1: 'æ',
		0xF5: 'ı', 0xF8: 'ł', 0xF9: 'ø', 0xFA: 'œ', 0xFB: 'ß',
	}
	for k, v := range upper {
		t[k] = v
	}
	return t
}()

// glyphNames covers the Adobe glyph names that appear in /Differences
// arrays beyond the trivial single-letter ones.
var glyphNames = map[string]rune{
	"space": ' ', "exclam": '!', "quotedbl": '"', "numbersign": '#', "dollar": '$',
	"percent": '%', "ampersand": '&', "quotesingle": '\'', "parenleft": '(',
	"parenright": ')', "asterisk": '*', "plus": '+', "comma": ',', "hyphen": '-',
	"period": '.', "slash": '/', "zero": '0', "one": '1', "two": '2', "three": '3',
	"four": '4', "five": '5', "six": '6', "seven": '7', "eight": '8', "nine": '9',
	"colon": ':', "semicolon": ';', "less": '<', "equal": '=', "greater": '>',
	"question": '?', "at": '@', "bracketleft": '[', "backslash": '\\',
	"bracketright": ']', "asciicircum": '^', "underscore": '_', "grave": '`',
	"braceleft": '{', "bar": '|', "braceright": '}', "asciitilde": '~',
	"quoteleft": '‘', "quoteright": '’', "quotedblleft": '“', "quotedblright": '”',
	"quotesinglbase": '‚', "quotedblbase": '„', "endash": '–', "emdash": '—',
	"bullet": '•', "ellipsis": '…', "dagger": '†', "daggerdbl": '‡', "trademark": '™',
	"copyright": '©', "registered": '®', "degree": '°', "section": '§',
	"paragraph": '¶', "fi": 'ﬁ', "fl": 'ﬂ', "ff": 'ﬀ', "ffi": 'ﬃ', "ffl": 'ﬄ',
	"minus": '−', "multiply": '×', "divide": '÷', "plusminus": '±', "Euro": '€',
	"sterling": '£', "yen": '¥', "cent": '¢', "florin": 'ƒ', "perthousand": '‰',
	"guillemotleft": '«', "guillemotright": '»', "guilsinglleft": '‹',
	"guilsinglright": '›', "exclamdown": '¡', "questiondown": '¿', "dotlessi": 'ı',
	"germandbls": 'ß', "ae": 'æ', "AE": 'Æ', "oe": 'œ', "OE": 'Œ', "oslash": 'ø',
	"Oslash": 'Ø', "lslash": 'ł', "Lslash": 'Ł', "nbspace": ' ',
	"aacute": 'á', "agrave": 'à', "acircumflex": 'â', "adieresis": 'ä', "atilde": 'ã',
	"aring": 'å', "ccedilla": 'ç', "eacute": 'é', "egrave": 'è', "ecircumflex": 'ê',
	"edieresis": 'ë', "iacute": 'í', "igrave": 'ì', "icircumflex": 'î',
	"idieresis": 'ï', "ntilde": 'ñ', "oacute": 'ó', "ograve": 'ò', "ocircumflex": 'ô',
	"odieresis": 'ö', "otilde": 'õ', "uacute": 'ú', "ugrave": 'ù', "ucircumflex": 'û',
	"udieresis": 'ü', "yacute": 'ý', "ydieresis": 'ÿ', "Aacute": 'Á', "Agrave": 'À',
	"Acircumflex": 'Â', "Adieresis": 'Ä', "Atilde": 'Ã', "Aring": 'Å',
	"Ccedilla": 'Ç', "Eacute": 'É', "Egrave": 'È', "Ecircumflex": 'Ê',
	"Edieresis": 'Ë', "Iacute": 'Í', "Ntilde": 'Ñ', "Oacute": 'Ó', "Odieresis": 'Ö',
	"Uacute": 'Ú', "Udieresis": 'Ü',
}

// glyphRune resolves a glyph name: single letters, the table above, and
// the uniXXXX / uXXXX forms.
func glyphRune(name string) (rune, bool) {
	if len(name) == 1 {
		return rune(name[0]), true
	}
	if r, ok := glyphNames[name]; ok {
		return r, true
	}
	hex := ""
	switch {
	case strings.HasPrefix(name, "uni") && len(name) >= 7:
		hex = name[3:7]
	case strings.HasPrefix(name, "u") && len(name) >= 5 && len(name) <= 7:
		hex = name[1:]
	}
	if hex == "" {
		return 0, false
	}
	var v rune
	for i := 0; i < len(hex); i++ {
		d, ok := hexValue(hex[i])
		if !ok {
			return 0, false
		}
		v = v<<4 | rune(d)
	}
	return v, true
}
