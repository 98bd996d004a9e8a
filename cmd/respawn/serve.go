package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	httpserver "db_respawn/internal/http"
	"db_respawn/internal/scheduler"
	"db_respawn/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the reset API and run scheduled resets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		set, _, err := openTargets(nil)
		if err != nil {
			return err
		}
		defer set.Close()

		if cfg.PlanDir != "" {
			if err := storage.EnsureBase(cfg.PlanDir); err != nil {
				return err
			}
		}

		sched := scheduler.New(logger)
		resetters := make([]scheduler.Resetter, 0, len(set.Names()))
		for _, t := range set.All() {
			resetters = append(resetters, t)
		}
		if n := sched.Register(context.WithoutCancel(ctx), resetters...); n > 0 {
			sched.Start()
			defer sched.Stop()
		}

		server := httpserver.New(cfg, logger, set)
		return server.Start(ctx)
	},
}
