// pdftoppm - render themed PDF pages to PPM/PNG images
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/novvoo/go-pdfterm/pkg/config"
	"github.com/novvoo/go-pdfterm/pkg/observability"
	"github.com/novvoo/go-pdfterm/pkg/render"
)

type options struct {
	first, last   int
	width, height int
	zoom          float64
	png           bool
	invert        bool
	quiet         bool
	configPath    string
}

func main() {
	var o options
	flag.IntVar(&o.first, "f", 1, "first page to convert")
	flag.IntVar(&o.last, "l", 0, "last page to convert")
	flag.IntVar(&o.width, "x", 1224, "viewport width in pixels")
	flag.IntVar(&o.height, "y", 1584, "viewport height in pixels")
	flag.Float64Var(&o.zoom, "zoom", 0, "zoom factor (overrides the config)")
	flag.BoolVar(&o.png, "png", false, "generate PNG output")
	flag.BoolVar(&o.invert, "invert-images", false, "tint embedded images with the theme")
	flag.BoolVar(&o.quiet, "q", false, "don't print any messages")
	flag.StringVar(&o.configPath, "config", "pdfterm.yaml", "configuration file")
	help := flag.Bool("h", false, "print usage information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: pdftoppm [options] <PDF-file> [<output-root>]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *help || flag.NArg() < 1 {
		flag.Usage()
		return
	}
	pdfFile := flag.Arg(0)
	outputRoot := flag.Arg(1)
	if outputRoot == "" {
		outputRoot = strings.TrimSuffix(filepath.Base(pdfFile), ".pdf")
	}

	if err := convert(context.Background(), pdfFile, outputRoot, o); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func convert(ctx context.Context, pdfFile, outputRoot string, o options) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	level := observability.LevelWarn
	if o.quiet {
		level = observability.LevelError
	}
	log := observability.NewTextLogger(os.Stderr, level)

	doc, err := render.OpenFile(pdfFile)()
	if err != nil {
		return fmt.Errorf("open %s: %w", pdfFile, err)
	}
	defer doc.Close()

	// one cell per pixel makes the area a pixel viewport
	params := render.ParamsFromConfig(cfg, render.Area{Width: o.width, Height: o.height}, render.CellSize{Width: 1, Height: 1})
	if o.zoom > 0 {
		params.Scale = float32(o.zoom)
	}
	if o.invert {
		params.InvertImages = true
	}
	r := render.FromConfig(cfg)

	first, last := max(o.first, 1), o.last
	if last == 0 || last > doc.NumPages() {
		last = doc.NumPages()
	}
	ext := ".ppm"
	if o.png {
		ext = ".png"
	}

	failed := 0
	for pageNum := first; pageNum <= last; pageNum++ {
		data, err := r.RenderPage(ctx, doc, pageNum-1, params)
		if err != nil {
			log.Error("render failed", observability.Int("page", pageNum), observability.Error("error", err))
			failed++
			continue
		}

		outputFile := outputRoot + ext
		if last != first {
			outputFile = fmt.Sprintf("%s-%d%s", outputRoot, pageNum, ext)
		}
		if err := writeImage(outputFile, data.Img, o.png); err != nil {
			log.Error("write failed", observability.String("file", outputFile), observability.Error("error", err))
			failed++
			continue
		}
		if !o.quiet {
			fmt.Printf("Wrote %s (%dx%d)\n", outputFile, data.Img.WidthPx, data.Img.HeightPx)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d pages failed", failed, last-first+1)
	}
	return nil
}

func writeImage(path string, img render.ImageData, asPNG bool) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if asPNG {
		err = png.Encode(w, toRGBA(img))
	} else {
		err = writePPM(w, img)
	}
	if err == nil {
		err = w.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// writePPM writes a binary P6 image from packed RGB pixels.
func writePPM(w io.Writer, img render.ImageData) error {
	if _, err := fmt.Fprintf(w, "P6\n%d %d\n255\n", img.WidthPx, img.HeightPx); err != nil {
		return err
	}
	_, err := w.Write(img.Pixels)
	return err
}

func toRGBA(img render.ImageData) *image.RGBA {
	m := image.NewRGBA(image.Rect(0, 0, img.WidthPx, img.HeightPx))
	for i, j := 0, 0; i+2 < len(img.Pixels) && j+3 < len(m.Pix); i, j = i+3, j+4 {
		m.Pix[j], m.Pix[j+1], m.Pix[j+2], m.Pix[j+3] = img.Pixels[i], img.Pixels[i+1], img.Pixels[i+2], 0xFF
	}
	return m
}
