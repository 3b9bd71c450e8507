package pdf

import (
	"unicode/utf16"
)

type codespace struct {
	low, high []byte
}

// CMap maps character codes to Unicode text. It is built from /ToUnicode
// streams and also supplies the code splitting for composite fonts.
type CMap struct {
	spaces []codespace
	text   map[uint32]string
	cids   []cidRange
}

type cidRange struct {
	lo, hi uint32
	cid    uint32
}

// ParseCMap reads bfchar/bfrange/codespacerange sections. Unknown
// operators are ignored.
func ParseCMap(data []byte) *CMap {
	cm := &CMap{text: make(map[uint32]string)}
	p := NewParserFromBytes(data)
	var operands []Object
	for {
		tok, err := p.nextToken()
		if err != nil || tok.Type == TokenEOF {
			return cm
		}
		if tok.Type != TokenKeyword {
			obj, err := p.objectFrom(tok)
			if err != nil {
				operands = nil
				continue
			}
			operands = append(operands, obj)
			continue
		}
		switch tok.keyword() {
		case "endcodespacerange":
			for i := 0; i+1 < len(operands); i += 2 {
				lo, ok1 := operands[i].(String)
				hi, ok2 := operands[i+1].(String)
				if ok1 && ok2 && len(lo.Value) == len(hi.Value) && len(lo.Value) > 0 {
					cm.spaces = append(cm.spaces, codespace{lo.Value, hi.Value})
				}
			}
		case "endbfchar":
			for i := 0; i+1 < len(operands); i += 2 {
				src, ok := operands[i].(String)
				if !ok {
					continue
				}
				cm.text[codeOf(src.Value)] = unicodeOf(operands[i+1])
			}
		case "endcidchar":
			for i := 0; i+1 < len(operands); i += 2 {
				src, ok1 := operands[i].(String)
				dst, ok2 := Num(operands[i+1])
				if ok1 && ok2 {
					c := codeOf(src.Value)
					cm.cids = append(cm.cids, cidRange{c, c, uint32(dst)})
				}
			}
		case "endcidrange":
			for i := 0; i+2 < len(operands); i += 3 {
				lo, ok1 := operands[i].(String)
				hi, ok2 := operands[i+1].(String)
				dst, ok3 := Num(operands[i+2])
				if ok1 && ok2 && ok3 {
					cm.cids = append(cm.cids, cidRange{codeOf(lo.Value), codeOf(hi.Value), uint32(dst)})
				}
			}
		case "endbfrange":
			for i := 0; i+2 < len(operands); i += 3 {
				lo, ok1 := operands[i].(String)
				hi, ok2 := operands[i+1].(String)
				if !ok1 || !ok2 {
					continue
				}
				cm.addRange(codeOf(lo.Value), codeOf(hi.Value), operands[i+2])
			}
		}
		operands = nil
	}
}

func (cm *CMap) addRange(lo, hi uint32, dst Object) {
	if hi < lo || hi-lo > 0xFFFF {
		return
	}
	switch v := dst.(type) {
	case String:
		base := []rune(utf16Text(v.Value))
		if len(base) == 0 {
			return
		}
		for code := lo; code <= hi; code++ {
			r := append([]rune(nil), base...)
			r[len(r)-1] += rune(code - lo)
			cm.text[code] = string(r)
		}
	case Array:
		for i, item := range v {
			code := lo + uint32(i)
			if code > hi {
				break
			}
			cm.text[code] = unicodeOf(item)
		}
	}
}

func codeOf(b []byte) uint32 {
	var v uint32
	for _, c := range b {
		v = v<<8 | uint32(c)
	}
	return v
}

func unicodeOf(obj Object) string {
	switch v := obj.(type) {
	case String:
		return utf16Text(v.Value)
	case Name:
		if r, ok := glyphRune(string(v)); ok {
			return string(r)
		}
	}
	return ""
}

func utf16Text(b []byte) string {
	if len(b) == 1 {
		return string(rune(b[0]))
	}
	units := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		units = append(units, uint16(b[i])<<8|uint16(b[i+1]))
	}
	return string(utf16.Decode(units))
}

// Lookup returns the text for a code.
func (cm *CMap) Lookup(code uint32) (string, bool) {
	if cm == nil {
		return "", false
	}
	s, ok := cm.text[code]
	return s, ok
}

// CID maps a code through the cidchar/cidrange tables. Without any
// tables the code is its own CID.
func (cm *CMap) CID(code uint32) uint32 {
	if cm == nil || len(cm.cids) == 0 {
		return code
	}
	for _, r := range cm.cids {
		if code >= r.lo && code <= r.hi {
			return r.cid + code - r.lo
		}
	}
	return 0
}

// Split breaks a string into character codes using the codespace ranges,
// falling back to fixed-width codes of defaultWidth bytes.
func (cm *CMap) Split(b []byte, defaultWidth int) []Code {
	var codes []Code
	for i := 0; i < len(b); {
		n := defaultWidth
		if cm != nil && len(cm.spaces) > 0 {
			n = cm.match(b[i:])
		}
		if i+n > len(b) {
			n = len(b) - i
		}
		codes = append(codes, Code{Value: codeOf(b[i : i+n]), Len: n})
		i += n
	}
	return codes
}

func (cm *CMap) match(b []byte) int {
	for n := 1; n <= 4 && n <= len(b); n++ {
		for _, sp := range cm.spaces {
			if len(sp.low) != n {
				continue
			}
			in := true
			for k := 0; k < n; k++ {
				if b[k] < sp.low[k] || b[k] > sp.high[k] {
					in = false
					break
				}
			}
			if in {
				return n
			}
		}
	}
	// no range matched: use the shortest declared width
	shortest := 4
	for _, sp := range cm.spaces {
		shortest = min(shortest, len(sp.low))
	}
	return shortest
}

// Code is one character code taken from a string operand.
type Code struct {
	Value uint32
	Len   int
}
