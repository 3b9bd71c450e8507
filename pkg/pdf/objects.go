// Package pdf is a small pure-Go PDF reader: object model, cross reference
// resolution, stream filters, fonts and a content stream interpreter that
// drives a rendering Device.
package pdf

import (
	"fmt"
	"strconv"
	"strings"
)

// ObjectType represents the type of a PDF object
type ObjectType int

const (
	ObjNull ObjectType = iota
	ObjBoolean
	ObjInteger
	ObjReal
	ObjString
	ObjName
	ObjArray
	ObjDictionary
	ObjStream
	ObjReference
)

// Object represents a PDF object
type Object interface {
	Type() ObjectType
	String() string
}

type Null struct{}

func (Null) Type() ObjectType { return ObjNull }
func (Null) String() string   { return "null" }

type Boolean bool

func (b Boolean) Type() ObjectType { return ObjBoolean }
func (b Boolean) String() string   { return strconv.FormatBool(bool(b)) }

type Integer int64

func (i Integer) Type() ObjectType { return ObjInteger }
func (i Integer) String() string   { return strconv.FormatInt(int64(i), 10) }

type Real float64

func (r Real) Type() ObjectType { return ObjReal }
func (r Real) String() string   { return strconv.FormatFloat(float64(r), 'f', -1, 64) }

// String represents a PDF string object
type String struct {
	Value []byte
	IsHex bool
}

func (s String) Type() ObjectType { return ObjString }
func (s String) String() string {
	if s.IsHex {
		return fmt.Sprintf("<%X>", s.Value)
	}
	return fmt.Sprintf("(%s)", string(s.Value))
}

// Text decodes a text string (UTF-16 with BOM, UTF-8 with BOM or
// PDFDocEncoding).
func (s String) Text() string {
	return decodeTextString(s.Value)
}

type Name string

func (n Name) Type() ObjectType { return ObjName }
func (n Name) String() string   { return "/" + string(n) }

type Array []Object

func (a Array) Type() ObjectType { return ObjArray }
func (a Array) String() string {
	parts := make([]string, 0, len(a))
	for _, obj := range a {
		parts = append(parts, obj.String())
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// Floats converts a numeric array. Non-numeric entries become 0 and
// report ok=false.
func (a Array) Floats() ([]float64, bool) {
	out := make([]float64, len(a))
	ok := true
	for i, obj := range a {
		v, isNum := Num(obj)
		if !isNum {
			ok = false
		}
		out[i] = v
	}
	return out, ok
}

type Dictionary map[Name]Object

func (d Dictionary) Type() ObjectType { return ObjDictionary }
func (d Dictionary) String() string {
	parts := make([]string, 0, len(d))
	for k, v := range d {
		parts = append(parts, k.String()+" "+v.String())
	}
	return "<<" + strings.Join(parts, " ") + ">>"
}

// Get returns the raw value for a key. References are not resolved.
func (d Dictionary) Get(key string) Object {
	return d[Name(key)]
}

func (d Dictionary) GetName(key string) (Name, bool) {
	n, ok := d.Get(key).(Name)
	return n, ok
}

func (d Dictionary) GetInt(key string) (int64, bool) {
	switch v := d.Get(key).(type) {
	case Integer:
		return int64(v), true
	case Real:
		return int64(v), true
	}
	return 0, false
}

func (d Dictionary) GetFloat(key string) (float64, bool) {
	return Num(d.Get(key))
}

func (d Dictionary) GetBool(key string) (bool, bool) {
	b, ok := d.Get(key).(Boolean)
	return bool(b), ok
}

func (d Dictionary) GetArray(key string) (Array, bool) {
	a, ok := d.Get(key).(Array)
	return a, ok
}

func (d Dictionary) GetDict(key string) (Dictionary, bool) {
	switch v := d.Get(key).(type) {
	case Dictionary:
		return v, true
	case Stream:
		return v.Dictionary, true
	}
	return nil, false
}

func (d Dictionary) GetString(key string) (String, bool) {
	s, ok := d.Get(key).(String)
	return s, ok
}

// Stream represents a PDF stream object
type Stream struct {
	Dictionary Dictionary
	Data       []byte
}

func (s Stream) Type() ObjectType { return ObjStream }
func (s Stream) String() string {
	return s.Dictionary.String() + " stream...endstream"
}

// Reference is an indirect object reference (N G R).
type Reference struct {
	ObjectNumber     int
	GenerationNumber int
}

func (r Reference) Type() ObjectType { return ObjReference }
func (r Reference) String() string {
	return fmt.Sprintf("%d %d R", r.ObjectNumber, r.GenerationNumber)
}

// Num returns the numeric value of an Integer or Real.
func Num(obj Object) (float64, bool) {
	switch v := obj.(type) {
	case Integer:
		return float64(v), true
	case Real:
		return float64(v), true
	}
	return 0, false
}
