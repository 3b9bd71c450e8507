package pdf

import (
	"bytes"
	"fmt"
	"strconv"
)

// TokenType represents the type of a lexical token
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenNull
	TokenBoolean
	TokenInteger
	TokenReal
	TokenString
	TokenHexString
	TokenName
	TokenArrayStart
	TokenArrayEnd
	TokenDictStart
	TokenDictEnd
	TokenStreamStart
	TokenStreamEnd
	TokenObjStart
	TokenObjEnd
	TokenRef
	TokenXRef
	TokenTrailer
	TokenStartXRef
	// TokenKeyword is any other bare word, such as a content stream operator.
	TokenKeyword
)

// Token represents a lexical token
type Token struct {
	Type  TokenType
	Value interface{}
	Pos   int64
}

func (t Token) keyword() string {
	s, _ := t.Value.(string)
	return s
}

// Lexer splits PDF bytes into tokens. It works on an in-memory buffer so
// the parser can seek to xref offsets.
type Lexer struct {
	data []byte
	pos  int
}

func NewLexerFromBytes(data []byte) *Lexer {
	return &Lexer{data: data}
}

// Position returns the current offset.
func (l *Lexer) Position() int64 { return int64(l.pos) }

// SeekTo moves to an absolute offset, clamped to the data.
func (l *Lexer) SeekTo(pos int64) {
	switch {
	case pos < 0:
		l.pos = 0
	case pos > int64(len(l.data)):
		l.pos = len(l.data)
	default:
		l.pos = int(pos)
	}
}

func (l *Lexer) eof() bool { return l.pos >= len(l.data) }

func isWhitespace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\f' || b == 0
}

func isDelimiter(b byte) bool {
	return b == '(' || b == ')' || b == '<' || b == '>' ||
		b == '[' || b == ']' || b == '{' || b == '}' ||
		b == '/' || b == '%'
}

func isRegular(b byte) bool { return !isWhitespace(b) && !isDelimiter(b) }

func (l *Lexer) skipWhitespace() {
	for !l.eof() {
		b := l.data[l.pos]
		switch {
		case isWhitespace(b):
			l.pos++
		case b == '%':
			for !l.eof() && l.data[l.pos] != '\n' && l.data[l.pos] != '\r' {
				l.pos++
			}
		default:
			return
		}
	}
}

// NextToken returns the next token
func (l *Lexer) NextToken() (Token, error) {
	l.skipWhitespace()
	pos := int64(l.pos)
	if l.eof() {
		return Token{Type: TokenEOF, Pos: pos}, nil
	}

	b := l.data[l.pos]
	switch {
	case b == '[':
		l.pos++
		return Token{Type: TokenArrayStart, Pos: pos}, nil
	case b == ']':
		l.pos++
		return Token{Type: TokenArrayEnd, Pos: pos}, nil
	case b == '(':
		l.pos++
		return l.readLiteralString(pos)
	case b == '<':
		if l.pos+1 < len(l.data) && l.data[l.pos+1] == '<' {
			l.pos += 2
			return Token{Type: TokenDictStart, Pos: pos}, nil
		}
		l.pos++
		return l.readHexString(pos)
	case b == '>':
		if l.pos+1 < len(l.data) && l.data[l.pos+1] == '>' {
			l.pos += 2
			return Token{Type: TokenDictEnd, Pos: pos}, nil
		}
		l.pos++
		return Token{}, fmt.Errorf("unexpected '>' at offset %d", pos)
	case b == '/':
		l.pos++
		return l.readName(pos), nil
	case b == '{' || b == '}':
		// PostScript calculator braces; surfaced as keywords
		l.pos++
		return Token{Type: TokenKeyword, Value: string(b), Pos: pos}, nil
	case b == ')':
		l.pos++
		return Token{}, fmt.Errorf("unbalanced ')' at offset %d", pos)
	case b == '+' || b == '-' || b == '.' || (b >= '0' && b <= '9'):
		return l.readNumber(pos), nil
	}
	return l.readKeyword(pos), nil
}

func (l *Lexer) readLiteralString(pos int64) (Token, error) {
	var buf bytes.Buffer
	depth := 1
	for {
		if l.eof() {
			return Token{}, fmt.Errorf("unterminated string at offset %d", pos)
		}
		b := l.data[l.pos]
		l.pos++
		switch b {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return Token{Type: TokenString, Value: buf.Bytes(), Pos: pos}, nil
			}
		case '\\':
			l.readEscape(&buf)
			continue
		case '\r':
			// end-of-line in a literal is always a single LF
			if !l.eof() && l.data[l.pos] == '\n' {
				l.pos++
			}
			b = '\n'
		}
		buf.WriteByte(b)
	}
}

func (l *Lexer) readEscape(buf *bytes.Buffer) {
	if l.eof() {
		return
	}
	b := l.data[l.pos]
	l.pos++
	switch b {
	case 'n':
		buf.WriteByte('\n')
	case 'r':
		buf.WriteByte('\r')
	case 't':
		buf.WriteByte('\t')
	case 'b':
		buf.WriteByte('\b')
	case 'f':
		buf.WriteByte('\f')
	case '\r':
		if !l.eof() && l.data[l.pos] == '\n' {
			l.pos++
		}
	case '\n':
	case '0', '1', '2', '3', '4', '5', '6', '7':
		v := int(b - '0')
		for i := 0; i < 2 && !l.eof(); i++ {
			c := l.data[l.pos]
			if c < '0' || c > '7' {
				break
			}
			v = v*8 + int(c-'0')
			l.pos++
		}
		buf.WriteByte(byte(v))
	default:
		buf.WriteByte(b)
	}
}

func (l *Lexer) readHexString(pos int64) (Token, error) {
	var out []byte
	var hi byte
	half := false
	for {
		if l.eof() {
			return Token{}, fmt.Errorf("unterminated hex string at offset %d", pos)
		}
		b := l.data[l.pos]
		l.pos++
		if b == '>' {
			break
		}
		v, ok := hexValue(b)
		if !ok {
			if isWhitespace(b) {
				continue
			}
			return Token{}, fmt.Errorf("invalid hex digit %q at offset %d", b, l.pos-1)
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
	return Token{Type: TokenHexString, Value: out, Pos: pos}, nil
}

func hexValue(b byte) (byte, bool) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', true
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, true
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, true
	}
	return 0, false
}

func (l *Lexer) readName(pos int64) Token {
	var buf bytes.Buffer
	for !l.eof() && isRegular(l.data[l.pos]) {
		b := l.data[l.pos]
		if b == '#' && l.pos+2 < len(l.data) {
			h1, ok1 := hexValue(l.data[l.pos+1])
			h2, ok2 := hexValue(l.data[l.pos+2])
			if ok1 && ok2 {
				buf.WriteByte(h1<<4 | h2)
				l.pos += 3
				continue
			}
		}
		buf.WriteByte(b)
		l.pos++
	}
	return Token{Type: TokenName, Value: buf.String(), Pos: pos}
}

func (l *Lexer) readNumber(pos int64) Token {
	start := l.pos
	l.pos++
	for !l.eof() {
		b := l.data[l.pos]
		if (b >= '0' && b <= '9') || b == '.' || b == '-' {
			l.pos++
			continue
		}
		break
	}
	text := string(l.data[start:l.pos])
	if i, err := strconv.ParseInt(text, 10, 64); err == nil {
		return Token{Type: TokenInteger, Value: i, Pos: pos}
	}
	// tolerate forms such as "--5" or "5." that real files contain
	clean := text
	for len(clean) > 1 && (clean[0] == '-' || clean[0] == '+') && (clean[1] == '-' || clean[1] == '+') {
		clean = clean[1:]
	}
	if f, err := strconv.ParseFloat(clean, 64); err == nil {
		return Token{Type: TokenReal, Value: f, Pos: pos}
	}
	return Token{Type: TokenReal, Value: 0.0, Pos: pos}
}

func (l *Lexer) readKeyword(pos int64) Token {
	start := l.pos
	for !l.eof() && isRegular(l.data[l.pos]) {
		l.pos++
	}
	if l.pos == start {
		// lone delimiter we do not understand; consume it
		l.pos++
	}
	word := string(l.data[start:l.pos])
	switch word {
	case "true":
		return Token{Type: TokenBoolean, Value: true, Pos: pos}
	case "false":
		return Token{Type: TokenBoolean, Value: false, Pos: pos}
	case "null":
		return Token{Type: TokenNull, Pos: pos}
	case "obj":
		return Token{Type: TokenObjStart, Pos: pos}
	case "endobj":
		return Token{Type: TokenObjEnd, Pos: pos}
	case "stream":
		return Token{Type: TokenStreamStart, Pos: pos}
	case "endstream":
		return Token{Type: TokenStreamEnd, Pos: pos}
	case "R":
		return Token{Type: TokenRef, Pos: pos}
	case "xref":
		return Token{Type: TokenXRef, Pos: pos}
	case "trailer":
		return Token{Type: TokenTrailer, Pos: pos}
	case "startxref":
		return Token{Type: TokenStartXRef, Pos: pos}
	}
	return Token{Type: TokenKeyword, Value: word, Pos: pos}
}

// ReadLine returns the bytes up to the next EOL marker and consumes it.
func (l *Lexer) ReadLine() []byte {
	start := l.pos
	for !l.eof() && l.data[l.pos] != '\n' && l.data[l.pos] != '\r' {
		l.pos++
	}
	line := l.data[start:l.pos]
	if !l.eof() && l.data[l.pos] == '\r' {
		l.pos++
	}
	if !l.eof() && l.data[l.pos] == '\n' {
		l.pos++
	}
	return line
}

// ReadBytes returns the next n bytes without copying.
func (l *Lexer) ReadBytes(n int) ([]byte, error) {
	if n < 0 || l.pos+n > len(l.data) {
		return nil, fmt.Errorf("read of %d bytes at offset %d exceeds input", n, l.pos)
	}
	b := l.data[l.pos : l.pos+n]
	l.pos += n
	return b, nil
}
