package main

import (
	"bytes"
	"context"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/novvoo/go-pdfterm/pkg/pdf/pdftest"
	"github.com/novvoo/go-pdfterm/pkg/render"
)

func TestWritePPM(t *testing.T) {
	var b bytes.Buffer
	img := render.ImageData{Pixels: []byte{1, 2, 3, 4, 5, 6}, WidthPx: 2, HeightPx: 1}
	if err := writePPM(&b, img); err != nil {
		t.Fatalf("writePPM failed: %v", err)
	}
	if want := "P6\n2 1\n255\n\x01\x02\x03\x04\x05\x06"; b.String() != want {
		t.Errorf("writePPM wrote %q, expected %q", b.String(), want)
	}
}

func TestToRGBA(t *testing.T) {
	m := toRGBA(render.ImageData{Pixels: []byte{10, 20, 30, 40, 50, 60}, WidthPx: 1, HeightPx: 2})
	want := []byte{10, 20, 30, 255, 40, 50, 60, 255}
	if !bytes.Equal(m.Pix, want) {
		t.Errorf("Pix = %v, expected %v", m.Pix, want)
	}
}

func TestConvert(t *testing.T) {
	dir := t.TempDir()
	pdfFile := filepath.Join(dir, "doc.pdf")
	if err := os.WriteFile(pdfFile, pdftest.Build("Pages", pdftest.Page{}, pdftest.Page{}), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	root := filepath.Join(dir, "out")
	o := options{first: 1, width: 306, height: 396, png: true, quiet: true, configPath: filepath.Join(dir, "missing.yaml")}
	if err := convert(context.Background(), pdfFile, root, o); err != nil {
		t.Fatalf("convert failed: %v", err)
	}
	for _, name := range []string{"out-1.png", "out-2.png"} {
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("missing output: %v", err)
		}
		cfg, err := png.DecodeConfig(f)
		f.Close()
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if cfg.Width == 0 || cfg.Height == 0 {
			t.Errorf("%s is %dx%d", name, cfg.Width, cfg.Height)
		}
	}
}
