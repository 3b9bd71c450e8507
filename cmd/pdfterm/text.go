package main

import (
	"fmt"
	"math"
	"os"

	"github.com/spf13/cobra"

	"github.com/novvoo/go-pdfterm/pkg/render"
)

// wholePage selects every line of page.
func wholePage(page int) render.PageSelectionBounds {
	return render.PageSelectionBounds{
		Page:   page,
		StartX: -math.MaxFloat32,
		EndX:   math.MaxFloat32,
		MinY:   -math.MaxFloat32,
		MaxY:   math.MaxFloat32,
	}
}

func newTextCommand(a *app) *cobra.Command {
	var first, last int
	cmd := &cobra.Command{
		Use:   "text FILE",
		Short: "Extract the text of a page range",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := a.startService(ctx, args[0], terminalWindow(int(os.Stdout.Fd())))
			if err != nil {
				return err
			}
			defer stopService(svc)

			n := svc.DocumentInfo().PageCount
			if last == 0 || last > n {
				last = n
			}
			if first < 1 || first > last {
				return fmt.Errorf("page range %d-%d out of range 1-%d", first, last, n)
			}
			var bounds []render.PageSelectionBounds
			for p := first - 1; p < last; p++ {
				bounds = append(bounds, wholePage(p))
			}
			resp, err := awaitResponse(ctx, svc, svc.ExtractText(bounds))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), resp.(render.ExtractedTextResponse).Text)
			return err
		},
	}
	cmd.Flags().IntVarP(&first, "page", "p", 1, "first page (1-based)")
	cmd.Flags().IntVarP(&last, "last", "l", 0, "last page (defaults to --page)")
	cmd.Flags().Bool("all", false, "extract every page")
	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		switch {
		case all:
			first, last = 1, 0
		case !cmd.Flags().Changed("last"):
			last = first
		}
		return nil
	}
	return cmd
}
