package main

import (
	"fmt"
	"io"
	"os"

	"github.com/midbel/hexdump"
	"github.com/spf13/cobra"

	"github.com/novvoo/go-pdfterm/pkg/render"
)

func newDumpCommand(a *app) *cobra.Command {
	var page, n int
	cmd := &cobra.Command{
		Use:   "dump FILE",
		Short: "Render a page and hex-dump its first pixel bytes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := a.startService(ctx, args[0], terminalWindow(int(os.Stdout.Fd())))
			if err != nil {
				return err
			}
			defer stopService(svc)

			if count := svc.DocumentInfo().PageCount; page < 1 || page > count {
				return fmt.Errorf("page %d out of range 1-%d", page, count)
			}
			resp, err := awaitResponse(ctx, svc, svc.RequestPage(page-1))
			if err != nil {
				return err
			}
			return writeDump(cmd.OutOrStdout(), resp.(render.PageResponse).Data, n)
		},
	}
	cmd.Flags().IntVarP(&page, "page", "p", 1, "page to render (1-based)")
	cmd.Flags().IntVarP(&n, "bytes", "n", 256, "number of pixel bytes to dump")
	return cmd
}

func writeDump(w io.Writer, d *render.PageData, n int) error {
	img := d.Img
	_, err := fmt.Fprintf(w, "page %d: %dx%d px, %dx%d cells, scale %.3f, %d lines, %d links\n",
		d.PageNum+1, img.WidthPx, img.HeightPx, img.WidthCell, img.HeightCell,
		d.ScaleFactor, len(d.LineBounds), len(d.LinkRects))
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(w, hexdump.Dump(img.Pixels[:min(max(n, 0), len(img.Pixels))]))
	return err
}
