package render

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewCacheKey(t *testing.T) {
	base := testParams()
	if NewCacheKey(3, base) != NewCacheKey(3, base) {
		t.Fatal("Expected identical params to give identical keys")
	}
	if k := NewCacheKey(4, base); k.Hash != NewCacheKey(3, base).Hash || k.Page != 4 {
		t.Error("Expected the hash to depend on params only")
	}

	tests := []struct {
		name   string
		change func(p *RenderParams)
	}{
		{"area width", func(p *RenderParams) { p.Area.Width++ }},
		{"area height", func(p *RenderParams) { p.Area.Height++ }},
		{"cell width", func(p *RenderParams) { p.CellSize.Width++ }},
		{"cell height", func(p *RenderParams) { p.CellSize.Height++ }},
		{"scale", func(p *RenderParams) { p.Scale = 1.0000001 }},
		{"black", func(p *RenderParams) { p.Black = 0x111111 }},
		{"white", func(p *RenderParams) { p.White = 0xEEEEEE }},
		{"invert images", func(p *RenderParams) { p.InvertImages = true }},
	}
	seen := map[CacheKey]string{NewCacheKey(0, base): "base"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base
			tt.change(&p)
			k := NewCacheKey(0, p)
			if prev, ok := seen[k]; ok {
				t.Errorf("key collides with %s", prev)
			}
			seen[k] = tt.name
		})
	}
}

func TestFault(t *testing.T) {
	cause := errors.New("bad xref")
	f := newFault(FaultDocument, cause, "page %d", 3)
	if f.Error() != "document fault: page 3: bad xref" {
		t.Errorf("Error() = %q", f.Error())
	}
	if !errors.Is(f, cause) {
		t.Error("Expected the fault to wrap its cause")
	}

	wrapped := fmt.Errorf("render: %w", f)
	if got := asFault(wrapped); got != f {
		t.Errorf("asFault = %v, expected the wrapped fault", got)
	}
	if got := asFault(cause); got.Kind != FaultGeneric || !errors.Is(got, cause) {
		t.Errorf("asFault(foreign) = %+v", got)
	}
	if s := (&Fault{Kind: FaultOverflow, Detail: "too big"}).Error(); s != "overflow fault: too big" {
		t.Errorf("Error() = %q", s)
	}
}
