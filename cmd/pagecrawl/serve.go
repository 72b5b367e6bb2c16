package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP crawl service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := runtimeFrom(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := buildApp(ctx, rt.cfg, rt.logger)
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			defer app.Close()

			if err := app.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("run server: %w", err)
			}
			return nil
		},
	}
}
