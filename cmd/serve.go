package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	srv "github.com/mohammad-safakhou/deepresearch/internal/server"
	"github.com/mohammad-safakhou/deepresearch/internal/store"
)

func serveCMD() *cobra.Command {
	var serveAddr string
	var cfgPath string
	var autoMigrate bool
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run the chat completions API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			deps := srv.Deps{Researcher: a.orch}
			if a.store != nil {
				if autoMigrate {
					if err := store.Migrate(a.cfg.Storage.Postgres.DSN(), "up", 0); err != nil {
						return err
					}
				}
				deps.Archive = a.store
				if days := a.cfg.Storage.Postgres.RetentionDays; days > 0 {
					pruner, err := store.NewPruner(a.store, a.cfg.Storage.Postgres.RetentionCron, days, a.logger.Named("retention"))
					if err != nil {
						return err
					}
					if a.redis != nil {
						pruner.Locker = a.redis
					}
					go pruner.Run(ctx)
				}
			}
			if a.sink != nil {
				deps.Publisher = a.sink
			}

			s, err := srv.New(a.cfg.Server, deps, a.logger.Named("http"))
			if err != nil {
				return err
			}
			addr := serveAddr
			if addr == "" {
				addr = a.cfg.Server.Address
			}

			errc := make(chan error, 1)
			go func() { errc <- s.Start(addr) }()
			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}
			a.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := s.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("http shutdown", zap.Error(err))
			}
			return nil
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (default server.address)")
	serve.Flags().BoolVar(&autoMigrate, "migrate", false, "apply archive migrations before serving")
	serve.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return serve
}
