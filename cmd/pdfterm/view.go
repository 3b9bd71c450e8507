package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/novvoo/go-pdfterm/pkg/convert"
	"github.com/novvoo/go-pdfterm/pkg/observability"
	"github.com/novvoo/go-pdfterm/pkg/render"
	"github.com/novvoo/go-pdfterm/pkg/service"
	"github.com/novvoo/go-pdfterm/pkg/termimg"
)

// fallbackWindow is used when stdout is not a terminal.
var fallbackWindow = termimg.Window{Cols: 80, Rows: 24, Cell: termimg.DefaultCellSize}

func terminalWindow(fd int) termimg.Window {
	win, err := termimg.QueryWindow(fd)
	if err != nil || win.Cols <= 0 || win.Rows <= 1 {
		return fallbackWindow
	}
	// keep the last row for the shell prompt
	win.Rows--
	return win
}

func resolveProtocol(name string) (termimg.Protocol, error) {
	if name == "" || name == "auto" {
		return termimg.Detect(os.Getenv), nil
	}
	return termimg.ParseProtocol(name)
}

type viewOptions struct {
	page     int
	protocol string
	zoom     float32
	invert   bool
}

func newViewCommand(a *app) *cobra.Command {
	var o viewOptions
	cmd := &cobra.Command{
		Use:   "view FILE",
		Short: "Print one page as a terminal image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if o.protocol == "" {
				o.protocol = a.cfg.Engine.Protocol
			}
			return a.view(cmd.Context(), args[0], o, cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVarP(&o.page, "page", "p", 1, "page to show (1-based)")
	cmd.Flags().StringVar(&o.protocol, "protocol", "", "kitty, iterm2, sixel, halfblocks or auto")
	cmd.Flags().Float32Var(&o.zoom, "zoom", 0, "zoom factor (overrides the config)")
	cmd.Flags().BoolVar(&o.invert, "invert-images", false, "tint embedded images with the theme")
	return cmd
}

func (a *app) view(ctx context.Context, path string, o viewOptions, out io.Writer) error {
	proto, err := resolveProtocol(o.protocol)
	if err != nil {
		return err
	}
	win := terminalWindow(int(os.Stdout.Fd()))

	svc, err := a.startService(ctx, path, win)
	if err != nil {
		return err
	}
	defer stopService(svc)

	n := svc.DocumentInfo().PageCount
	if o.page < 1 || o.page > n {
		return fmt.Errorf("page %d out of range 1-%d", o.page, n)
	}
	page := o.page - 1
	if o.zoom > 0 {
		if err := svc.Apply(service.SetScale{Scale: o.zoom}); err != nil {
			return fmt.Errorf("set zoom: %w", err)
		}
	}
	if o.invert {
		if err := svc.Apply(service.ToggleInvertImages{}); err != nil {
			return fmt.Errorf("invert images: %w", err)
		}
	}
	resp, err := awaitResponse(ctx, svc, svc.RequestPage(page))
	if err != nil {
		return err
	}
	data := resp.(render.PageResponse).Data

	a.log.Debug("page ready",
		observability.Int("page", page),
		observability.Int("width_px", data.Img.WidthPx),
		observability.Int("height_px", data.Img.HeightPx),
		observability.String("protocol", proto.String()))

	engine := convert.NewEngine(convert.Options{
		Protocol:      proto,
		Cell:          win.Cell,
		Prerender:     a.cfg.Engine.Prerender,
		PixelRadius:   a.cfg.Engine.PixelRadius,
		DecodedRadius: a.cfg.Engine.DecodedRadius,
		Shm:           proto == termimg.Kitty && termimg.ShmSupported(),
		AppName:       a.cfg.Engine.AppName,
		Tmux:          termimg.InTmux(os.Getenv),
		Logger:        a.log.With(observability.String("component", "convert")),
	})
	f, err := convertPage(ctx, engine, n, data, win, a.cfg.Engine.FrameBuffer)
	if err != nil {
		return err
	}
	return writeFrame(out, f.Image)
}

// convertPage runs the engine for one page and returns its frame.
func convertPage(ctx context.Context, e *convert.Engine, pages int, data *render.PageData, win termimg.Window, buffer int) (convert.Frame, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	commands := make(chan convert.Command, 4)
	frames := make(chan convert.Frame, max(buffer, 1))
	done := make(chan error, 1)
	go func() { done <- convert.Run(ctx, e, commands, frames) }()

	commands <- convert.SetPageCount{N: pages}
	commands <- convert.NavigateTo{Page: data.PageNum}
	commands <- convert.UpdateViewport{Viewport: convert.ViewportUpdate{
		Page:                data.PageNum,
		ViewportHeightCells: win.Rows,
		ViewportWidthCells:  win.Cols,
	}}
	commands <- convert.EnqueuePage{Data: data}

	for {
		select {
		case f := <-frames:
			if f.Err != nil {
				return f, f.Err
			}
			if f.Index != data.PageNum {
				continue
			}
			close(commands)
			return f, nil
		case err := <-done:
			if err == nil {
				err = errors.New("converter stopped")
			}
			return convert.Frame{}, err
		}
	}
}

// writeFrame clears the screen and writes img at the top left. Tiles are
// placed at their row offsets.
func writeFrame(w io.Writer, img convert.ConvertedImage) error {
	if _, err := io.WriteString(w, "\x1b[2J\x1b[H"); err != nil {
		return err
	}
	var err error
	switch m := img.(type) {
	case convert.Generic:
		_, err = m.Handle.WriteTo(w)
	case convert.Tiled:
		err = writeTiles(w, m.Tiles)
	case convert.TileUpdate:
		err = writeTiles(w, m.Tiles)
	case convert.Kitty:
		_, err = m.Image.WriteTo(w)
	default:
		err = fmt.Errorf("unexpected image %T", img)
	}
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, "\r\n")
	return err
}

func writeTiles(w io.Writer, tiles []convert.Tile) error {
	for _, t := range tiles {
		if _, err := fmt.Fprintf(w, "\x1b[%d;1H", t.YOffsetCells+1); err != nil {
			return err
		}
		if _, err := t.Handle.WriteTo(w); err != nil {
			return err
		}
	}
	return nil
}
