package pdf

import (
	"bytes"
	"fmt"
)

// LengthResolver resolves an indirect /Length while a stream is read.
type LengthResolver func(ref Reference) (int64, bool)

// Parser builds objects from lexer tokens with two tokens of lookahead,
// which is what "N G R" needs.
type Parser struct {
	lexer  *Lexer
	buf    []Token
	length LengthResolver
}

func NewParser(lexer *Lexer) *Parser {
	return &Parser{lexer: lexer}
}

func NewParserFromBytes(data []byte) *Parser {
	return NewParser(NewLexerFromBytes(data))
}

// SeekTo repositions the parser and drops any lookahead.
func (p *Parser) SeekTo(pos int64) {
	p.buf = p.buf[:0]
	p.lexer.SeekTo(pos)
}

func (p *Parser) nextToken() (Token, error) {
	if len(p.buf) > 0 {
		tok := p.buf[0]
		p.buf = p.buf[1:]
		return tok, nil
	}
	return p.lexer.NextToken()
}

func (p *Parser) peekTokenN(n int) (Token, error) {
	for len(p.buf) <= n {
		tok, err := p.lexer.NextToken()
		if err != nil {
			return Token{}, err
		}
		p.buf = append(p.buf, tok)
	}
	return p.buf[n], nil
}

// ParseObject parses the next direct object.
func (p *Parser) ParseObject() (Object, error) {
	tok, err := p.nextToken()
	if err != nil {
		return nil, err
	}
	return p.objectFrom(tok)
}

func (p *Parser) objectFrom(tok Token) (Object, error) {
	switch tok.Type {
	case TokenNull:
		return Null{}, nil
	case TokenBoolean:
		return Boolean(tok.Value.(bool)), nil
	case TokenInteger:
		n := tok.Value.(int64)
		// "N G R"
		t1, err1 := p.peekTokenN(0)
		t2, err2 := p.peekTokenN(1)
		if err1 == nil && err2 == nil && t1.Type == TokenInteger && t2.Type == TokenRef {
			p.buf = p.buf[2:]
			return Reference{ObjectNumber: int(n), GenerationNumber: int(t1.Value.(int64))}, nil
		}
		return Integer(n), nil
	case TokenReal:
		return Real(tok.Value.(float64)), nil
	case TokenString:
		return String{Value: tok.Value.([]byte)}, nil
	case TokenHexString:
		return String{Value: tok.Value.([]byte), IsHex: true}, nil
	case TokenName:
		return Name(tok.Value.(string)), nil
	case TokenArrayStart:
		return p.parseArray()
	case TokenDictStart:
		return p.parseDictionary()
	case TokenEOF:
		return nil, fmt.Errorf("unexpected end of input at offset %d", tok.Pos)
	}
	return nil, fmt.Errorf("unexpected token %q at offset %d", tok.keyword(), tok.Pos)
}

func (p *Parser) parseArray() (Array, error) {
	arr := Array{}
	for {
		tok, err := p.nextToken()
		if err != nil {
			return nil, err
		}
		if tok.Type == TokenArrayEnd {
			return arr, nil
		}
		obj, err := p.objectFrom(tok)
		if err != nil {
			return nil, err
		}
		arr = append(arr, obj)
	}
}

func (p *Parser) parseDictionary() (Dictionary, error) {
	dict := make(Dictionary)
	for {
		tok, err := p.nextToken()
		if err != nil {
			return nil, err
		}
		switch tok.Type {
		case TokenDictEnd:
			return dict, nil
		case TokenName:
		case TokenEOF:
			return nil, fmt.Errorf("unterminated dictionary at offset %d", tok.Pos)
		default:
			return nil, fmt.Errorf("expected name as dictionary key at offset %d", tok.Pos)
		}
		value, err := p.ParseObject()
		if err != nil {
			return nil, err
		}
		// null-valued entries are equivalent to absent ones
		if _, isNull := value.(Null); !isNull {
			dict[Name(tok.Value.(string))] = value
		}
	}
}

// ParseIndirectObject parses "N G obj ... endobj" at the current offset.
func (p *Parser) ParseIndirectObject() (int, int, Object, error) {
	numTok, err := p.nextToken()
	if err != nil {
		return 0, 0, nil, err
	}
	genTok, err := p.nextToken()
	if err != nil {
		return 0, 0, nil, err
	}
	objTok, err := p.nextToken()
	if err != nil {
		return 0, 0, nil, err
	}
	if numTok.Type != TokenInteger || genTok.Type != TokenInteger || objTok.Type != TokenObjStart {
		return 0, 0, nil, fmt.Errorf("expected indirect object header at offset %d", numTok.Pos)
	}
	num := int(numTok.Value.(int64))
	gen := int(genTok.Value.(int64))

	obj, err := p.ParseObject()
	if err != nil {
		return 0, 0, nil, fmt.Errorf("object %d %d: %w", num, gen, err)
	}

	next, err := p.peekTokenN(0)
	if err != nil {
		return 0, 0, nil, err
	}
	if next.Type == TokenStreamStart {
		dict, ok := obj.(Dictionary)
		if !ok {
			return 0, 0, nil, fmt.Errorf("object %d %d: stream without dictionary", num, gen)
		}
		p.buf = p.buf[:0]
		// the lexer stopped right after the "stream" keyword
		p.lexer.SeekTo(next.Pos + int64(len("stream")))
		data, err := p.readStreamData(dict)
		if err != nil {
			return 0, 0, nil, fmt.Errorf("object %d %d: %w", num, gen, err)
		}
		obj = Stream{Dictionary: dict, Data: data}
	}
	return num, gen, obj, nil
}

func (p *Parser) readStreamData(dict Dictionary) ([]byte, error) {
	l := p.lexer
	// keyword is followed by CRLF or LF
	if !l.eof() && l.data[l.pos] == '\r' {
		l.pos++
	}
	if !l.eof() && l.data[l.pos] == '\n' {
		l.pos++
	}
	start := l.pos

	length := int64(-1)
	switch v := dict.Get("Length").(type) {
	case Integer:
		length = int64(v)
	case Reference:
		if p.length != nil {
			if n, ok := p.length(v); ok {
				length = n
			}
		}
	}

	if length >= 0 && start+int(length) <= len(l.data) {
		end := start + int(length)
		rest := l.data[end:]
		trimmed := bytes.TrimLeft(rest, " \t\r\n\f\x00")
		if bytes.HasPrefix(trimmed, []byte("endstream")) {
			l.pos = end + (len(rest) - len(trimmed)) + len("endstream")
			return l.data[start:end], nil
		}
	}

	// bad or missing /Length: scan for the keyword
	idx := bytes.Index(l.data[start:], []byte("endstream"))
	if idx < 0 {
		return nil, fmt.Errorf("missing endstream after offset %d", start)
	}
	end := start + idx
	l.pos = end + len("endstream")
	for end > start && (l.data[end-1] == '\n' || l.data[end-1] == '\r') {
		end--
	}
	return l.data[start:end], nil
}

// Operation is one content stream operator with its operands.
type Operation struct {
	Operator string
	Operands []Object
	// InlineImage holds the raw data between ID and EI for a BI operator.
	InlineImage []byte
}

// ContentStreamParser splits a content stream into operations.
type ContentStreamParser struct {
	parser *Parser
}

func NewContentStreamParser(data []byte) *ContentStreamParser {
	return &ContentStreamParser{parser: NewParserFromBytes(data)}
}

// ParseOperations parses the whole stream. Malformed trailing content
// ends parsing but the operations read so far are returned with the error.
func (c *ContentStreamParser) ParseOperations() ([]Operation, error) {
	var ops []Operation
	var operands []Object
	p := c.parser
	for {
		tok, err := p.nextToken()
		if err != nil {
			return ops, err
		}
		switch tok.Type {
		case TokenEOF:
			return ops, nil
		case TokenKeyword:
			op := tok.keyword()
			if op == "BI" {
				inline, err := c.parseInlineImage()
				if err != nil {
					return ops, err
				}
				ops = append(ops, inline)
				operands = nil
				continue
			}
			ops = append(ops, Operation{Operator: op, Operands: operands})
			operands = nil
		case TokenArrayStart, TokenDictStart, TokenInteger, TokenReal, TokenString,
			TokenHexString, TokenName, TokenBoolean, TokenNull:
			obj, err := p.objectFrom(tok)
			if err != nil {
				return ops, err
			}
			operands = append(operands, obj)
		default:
			// stray structural keywords are not operators; drop them
			operands = nil
		}
	}
}

// parseInlineImage reads "BI <dict entries> ID <data> EI".
func (c *ContentStreamParser) parseInlineImage() (Operation, error) {
	p := c.parser
	dict := make(Dictionary)
	var idPos int64
	for {
		tok, err := p.nextToken()
		if err != nil {
			return Operation{}, err
		}
		if tok.Type == TokenKeyword && tok.keyword() == "ID" {
			idPos = tok.Pos
			break
		}
		if tok.Type == TokenEOF {
			return Operation{}, fmt.Errorf("unterminated inline image")
		}
		if tok.Type != TokenName {
			return Operation{}, fmt.Errorf("inline image key expected at offset %d", tok.Pos)
		}
		v, err := p.ParseObject()
		if err != nil {
			return Operation{}, err
		}
		dict[expandInlineKey(Name(tok.Value.(string)))] = v
	}

	l := p.lexer
	// lookahead may already have lexed into the binary data
	p.buf = p.buf[:0]
	l.SeekTo(idPos + 2)
	// one whitespace byte separates ID from the data
	if !l.eof() && isWhitespace(l.data[l.pos]) {
		l.pos++
	}
	start := l.pos
	end := -1
	for i := start; i+2 <= len(l.data); i++ {
		if l.data[i] == 'E' && i+1 < len(l.data) && l.data[i+1] == 'I' &&
			(i == start || isWhitespace(l.data[i-1])) &&
			(i+2 == len(l.data) || isWhitespace(l.data[i+2]) || isDelimiter(l.data[i+2])) {
			end = i
			break
		}
	}
	if end < 0 {
		return Operation{}, fmt.Errorf("inline image without EI")
	}
	data := l.data[start:end]
	if n := len(data); n > 0 && isWhitespace(data[n-1]) {
		data = data[:n-1]
	}
	l.pos = end + 2
	return Operation{Operator: "BI", Operands: []Object{dict}, InlineImage: data}, nil
}

var inlineKeys = map[Name]Name{
	"BPC": "BitsPerComponent",
	"CS":  "ColorSpace",
	"D":   "Decode",
	"DP":  "DecodeParms",
	"F":   "Filter",
	"H":   "Height",
	"IM":  "ImageMask",
	"I":   "Interpolate",
	"W":   "Width",
}

var inlineValues = map[Name]Name{
	"G":    "DeviceGray",
	"RGB":  "DeviceRGB",
	"CMYK": "DeviceCMYK",
	"I":    "Indexed",
	"AHx":  "ASCIIHexDecode",
	"A85":  "ASCII85Decode",
	"LZW":  "LZWDecode",
	"Fl":   "FlateDecode",
	"RL":   "RunLengthDecode",
	"DCT":  "DCTDecode",
}

func expandInlineKey(n Name) Name {
	if full, ok := inlineKeys[n]; ok {
		return full
	}
	return n
}

// ExpandInlineName maps abbreviated inline image values to full names.
func ExpandInlineName(n Name) Name {
	if full, ok := inlineValues[n]; ok {
		return full
	}
	return n
}
