// pdfterm renders PDF pages as terminal images.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/novvoo/go-pdfterm/pkg/config"
	"github.com/novvoo/go-pdfterm/pkg/observability"
	"github.com/novvoo/go-pdfterm/pkg/render"
	"github.com/novvoo/go-pdfterm/pkg/service"
	"github.com/novvoo/go-pdfterm/pkg/termimg"
)

const shutdownTimeout = 5 * time.Second

// app carries what every subcommand loads from the persistent flags.
type app struct {
	configPath string
	logLevel   string

	cfg config.Config
	log observability.Logger
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	level := cfg.Log.Level
	if a.logLevel != "" {
		level = a.logLevel
	}
	lvl, err := observability.ParseLevel(level)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = observability.NewTextLogger(cmd.ErrOrStderr(), lvl)
	return nil
}

// startService opens path with state derived from the terminal window.
func (a *app) startService(ctx context.Context, path string, win termimg.Window) (*service.Service, error) {
	state := service.NewState(a.cfg, win.Area(), win.Cell)
	return service.New(ctx, render.OpenFile(path), state, service.Options{
		Workers:        a.cfg.Service.Workers,
		CacheSize:      a.cfg.Service.CacheSize,
		PrefetchRadius: a.cfg.Service.PrefetchRadius,
		Rasterizer:     render.FromConfig(a.cfg),
		Logger:         a.log.With(observability.String("component", "service")),
	})
}

func stopService(s *service.Service) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.Shutdown(ctx)
}

// awaitResponse waits for the reply to id, keeping the service
// bookkeeping current for anything else that arrives first.
func awaitResponse(ctx context.Context, s *service.Service, id render.RequestID) (render.Response, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case resp := <-s.Responses():
			s.Observe(resp)
			switch r := resp.(type) {
			case render.PageResponse:
				if r.ID == id {
					return r, nil
				}
			case render.ExtractedTextResponse:
				if r.ID == id {
					return r, nil
				}
			case render.ErrorResponse:
				if r.ID == id || r.ID == 0 {
					return nil, r.Fault
				}
			}
		}
	}
}

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "pdfterm",
		Short:         "Render PDF pages in the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "pdfterm.yaml", "configuration file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error (overrides the config)")

	root.AddCommand(newViewCommand(a), newInfoCommand(a), newTextCommand(a), newDumpCommand(a))
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
