package pdf

import (
	"testing"
)

const sampleCMap = `/CIDInit /ProcSet findresource begin
12 dict begin
begincmap
/CMapName /Test-UCS def
2 begincodespacerange
<00> <7F>
<8000> <FFFF>
endcodespacerange
2 beginbfchar
<41> <0058>
<8001> <D83DDE00>
endbfchar
2 beginbfrange
<61> <63> <0041>
<8010> <8012> [<0031> <0032> /three]
endbfrange
1 begincidrange
<8100> <81FF> 500
endcidrange
1 begincidchar
<20> 3
endcidchar
endcmap
CMapName currentdict /CMap defineresource pop
end
end`

func TestParseCMapLookup(t *testing.T) {
	cm := ParseCMap([]byte(sampleCMap))
	tests := []struct {
		code uint32
		want string
		ok   bool
	}{
		{0x41, "X", true},
		{0x8001, "\U0001F600", true},
		{0x61, "A", true},
		{0x63, "C", true},
		{0x8010, "1", true},
		{0x8011, "2", true},
		{0x8012, "3", true},
		{0x64, "", false},
	}
	for _, tt := range tests {
		got, ok := cm.Lookup(tt.code)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Lookup(%#x) = %q, %v; expected %q, %v", tt.code, got, ok, tt.want, tt.ok)
		}
	}
}

func TestCMapSplit(t *testing.T) {
	cm := ParseCMap([]byte(sampleCMap))
	codes := cm.Split([]byte{0x41, 0x80, 0x01, 0x20}, 2)
	want := []Code{{0x41, 1}, {0x8001, 2}, {0x20, 1}}
	if len(codes) != len(want) {
		t.Fatalf("Split = %v, expected %v", codes, want)
	}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("code %d = %v, expected %v", i, codes[i], want[i])
		}
	}

	// without codespace ranges the default width applies
	var empty *CMap
	codes = empty.Split([]byte{1, 2, 3}, 2)
	if len(codes) != 2 || codes[0] != (Code{0x0102, 2}) || codes[1] != (Code{0x03, 1}) {
		t.Errorf("Split with default width = %v", codes)
	}
}

func TestCMapCID(t *testing.T) {
	cm := ParseCMap([]byte(sampleCMap))
	tests := []struct {
		code, want uint32
	}{
		{0x8100, 500},
		{0x8105, 505},
		{0x20, 3},
		{0x21, 0},
	}
	for _, tt := range tests {
		if got := cm.CID(tt.code); got != tt.want {
			t.Errorf("CID(%#x) = %d, expected %d", tt.code, got, tt.want)
		}
	}

	var identity *CMap
	if identity.CID(0x1234) != 0x1234 {
		t.Error("Expected a nil CMap to map codes to themselves")
	}
	if _, ok := identity.Lookup(1); ok {
		t.Error("Expected a nil CMap lookup to fail")
	}
}
