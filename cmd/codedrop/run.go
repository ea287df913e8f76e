package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/codedrop"
)

func newRunCommand(opts *rootOptions) *cobra.Command {
	var apiAddr string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Watch chat tabs and submit marked code blocks",
		Long: `Start the codedrop daemon.

The daemon connects to Chrome (remote or launched), watches the configured
pages and every tab whose URL matches an attach pattern, and submits each
marked code block once it has been stable for the configured delay.

Example:
  codedrop run --config codedrop.yaml
  codedrop run --db /tmp/codedrop.db --api 127.0.0.1:7420`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if apiAddr != "" {
				cfg.API.Addr = apiAddr
			}
			return runDaemon(cmd.Context(), opts, cfg)
		},
	}

	cmd.Flags().StringVar(&apiAddr, "api", "", "control API listen address (overrides config, empty disables)")
	return cmd
}

func runDaemon(ctx context.Context, opts *rootOptions, cfg *codedrop.Config) error {
	logger := opts.logger

	sinks, err := codedrop.SinksFromConfig(cfg, logger)
	if err != nil {
		return err
	}
	if len(sinks) == 0 {
		sinks = append(sinks, codedrop.NewStdoutSink(nil))
	}

	d, err := codedrop.New(cfg, logger, sinks...)
	if err != nil {
		return err
	}
	if err := d.Start(ctx); err != nil {
		d.Stop()
		return fmt.Errorf("start: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.API.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.API.Addr,
			Handler:           d.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Info("codedrop: control API listening", "addr", cfg.API.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("control API: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutCtx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err = g.Wait()
	if stopErr := d.Stop(); stopErr != nil {
		logger.Warn("codedrop: stop", "error", stopErr)
	}
	return err
}
