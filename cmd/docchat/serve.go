package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xhad/docchat/server"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve chat sessions over WebSocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			defer log.Sync()

			if addr != "" {
				cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.close()

			s, err := a.newScraper(nil)
			if err != nil {
				return err
			}

			srv, err := server.NewWSServer(server.Config{
				Streaming: cfg.UI.Streaming,
				Scraper:   s,
				Logger:    log,
			}, a.newSession)
			if err != nil {
				return err
			}
			return srv.ListenAndServe(ctx, cfg.Server.Addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config, :8080)")
	return cmd
}
