package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/novvoo/go-pdfterm/pkg/render"
)

func newInfoCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info FILE",
		Short: "Print page count, title and outline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := render.OpenFile(args[0])()
			if err != nil {
				return err
			}
			defer doc.Close()
			return writeInfo(cmd.OutOrStdout(), render.ReadDocumentInfo(doc))
		},
	}
}

func writeInfo(w io.Writer, info render.DocumentInfo) error {
	var b strings.Builder
	if info.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", info.Title)
	}
	fmt.Fprintf(&b, "Pages: %d\n", info.PageCount)
	if len(info.Outline) > 0 {
		b.WriteString("Outline:\n")
		for _, item := range info.Outline {
			page := "-"
			if item.Page >= 0 {
				page = fmt.Sprint(item.Page + 1)
			}
			fmt.Fprintf(&b, "%s%s ... %s\n", strings.Repeat("  ", item.Level+1), item.Title, page)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}
