package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/iliyamo/resort-booking/internal/database"
	"github.com/iliyamo/resort-booking/internal/handler"
	"github.com/iliyamo/resort-booking/internal/jobs"
	"github.com/iliyamo/resort-booking/internal/middleware"
	"github.com/iliyamo/resort-booking/internal/router"
)

func newServerCmd() *cobra.Command {
	var (
		memory    bool
		migrateUp bool
		withJobs  bool
	)

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the HTTP API and chat webhooks",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, appOptions{memory: memory, redis: true})
			if err != nil {
				return err
			}
			defer a.Close()
			cfg, log := a.cfg, a.log

			if err := cfg.RequireJWT(); err != nil {
				return err
			}
			if migrateUp && a.db != nil {
				applied, err := database.Migrate(ctx, a.db)
				if err != nil {
					return err
				}
				log.Info().Strs("applied", applied).Msg("migrations up to date")
			}

			ctrl, err := a.newController()
			if err != nil {
				return err
			}

			limit := middleware.NewTokenBucket(cfg.RateLimit, a.rdb, log)
			cache := middleware.NewRedisCache(cfg.Cache, a.rdb)

			e := router.New(log)
			router.RegisterRoutes(e, &handler.HealthHandler{DB: a.db, Redis: a.rdb})
			router.RegisterCatalog(e, handler.NewCatalogHandler(a.store, a.engine, log), limit, cache)
			router.RegisterBookings(e, handler.NewBookingHandler(a.engine, log), cfg.JWTSecret, limit)
			router.RegisterWebhooks(e, handler.NewWebhookHandler(ctrl, a.gateways, cfg.Twilio, cfg.Telegram, log), limit)
			router.RegisterAdmin(e, handler.NewAdminHandler(a.engine, a.notifier, a.gateways, cfg.Jobs.BatchSize, log), cfg.AdminKeyHash)

			if withJobs {
				go jobs.RunAll(ctx, a.schedulers()...)
			}

			addr := ":" + cfg.Port
			errc := make(chan error, 1)
			go func() {
				log.Info().Str("addr", addr).Str("env", cfg.Env).Bool("memory", memory).Msg("listening")
				errc <- e.Start(addr)
			}()

			select {
			case err := <-errc:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer scancel()
			log.Info().Msg("shutting down")
			return e.Shutdown(sctx)
		},
	}

	cmd.Flags().BoolVar(&memory, "memory", false, "use an in-process store seeded with the demo catalog instead of MySQL")
	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations on startup")
	cmd.Flags().BoolVar(&withJobs, "with-jobs", false, "also run the sweeper and reminder schedulers in this process")
	return cmd
}
