package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/iliyamo/resort-booking/internal/booking"
	"github.com/iliyamo/resort-booking/internal/config"
	"github.com/iliyamo/resort-booking/internal/database"
	"github.com/iliyamo/resort-booking/internal/flow"
	"github.com/iliyamo/resort-booking/internal/logging"
	"github.com/iliyamo/resort-booking/internal/messaging"
	"github.com/iliyamo/resort-booking/internal/notify"
	"github.com/iliyamo/resort-booking/internal/queue"
	"github.com/iliyamo/resort-booking/internal/repository"
	"github.com/iliyamo/resort-booking/internal/repository/memstore"
	"github.com/iliyamo/resort-booking/internal/seed"
	"github.com/iliyamo/resort-booking/internal/telemetry"
)

// app is the object graph shared by the long-running commands.
type app struct {
	cfg config.Config
	log zerolog.Logger
	loc *time.Location

	db     *sql.DB
	store repository.Store
	rdb   *redis.Client

	gateways messaging.Set
	// delivery sends through the gateways; notifier is what the engine
	// uses, either delivery itself or the queue publisher.
	delivery notify.Notifier
	notifier notify.Notifier
	engine   *booking.Engine

	closers []func() error
}

type appOptions struct {
	memory bool
	redis  bool
}

// loadConfig reads configuration and builds the logger.
func loadConfig() (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	return cfg, logging.New(cfg.LogLevel, cfg.Env), nil
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, loc: loc}

	shutdown, err := telemetry.Setup(ctx, cfg.OTel)
	if err != nil {
		log.Warn().Err(err).Msg("tracing disabled")
	}
	a.closers = append(a.closers, func() error {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdown(sctx)
	})

	if err := a.openStore(ctx, opts.memory); err != nil {
		a.Close()
		return nil, err
	}

	if opts.redis {
		a.rdb = config.NewRedisClient(cfg.Redis)
		if a.rdb == nil {
			log.Warn().Str("addr", cfg.Redis.Address()).Msg("redis unavailable; rate limiting and caching disabled")
		} else {
			a.closers = append(a.closers, a.rdb.Close)
		}
	}

	a.gateways = buildGateways(cfg, log)
	templates, err := notify.NewTemplates(loc, nil)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.delivery = notify.NewGatewayNotifier(a.gateways, templates, log)
	a.notifier = a.delivery
	if cfg.Notify.Mode == "queue" {
		pub := queue.NewPublisher(cfg.Notify.RabbitMQURL, cfg.Notify.Queue, log)
		a.closers = append(a.closers, pub.Close)
		a.notifier = pub
	}

	a.engine = booking.NewEngine(a.store, a.notifier, log, booking.Options{
		PendingTimeout:       cfg.Booking.PendingTimeout,
		CancellationDeadline: cfg.Booking.CancellationDeadline,
	})
	return a, nil
}

// openStore connects to MySQL, or builds an in-process store loaded with
// the demo catalog when memory is set.
func (a *app) openStore(ctx context.Context, memory bool) error {
	if memory {
		ms := memstore.New()
		cat, err := seed.Default()
		if err != nil {
			return err
		}
		res, err := cat.Load(ctx, ms, ms, a.loc, 14, time.Now())
		if err != nil {
			return err
		}
		a.log.Info().Int("offerings", res.Offerings).Int("slots", res.Slots).Msg("in-memory store seeded")
		a.store = ms
		return nil
	}
	db, err := openDB(ctx, a.cfg)
	if err != nil {
		return err
	}
	a.db = db
	a.closers = append(a.closers, db.Close)
	a.store = repository.NewSQLStore(db)
	return nil
}

func openDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if err := cfg.RequireDB(); err != nil {
		return nil, err
	}
	return database.Open(ctx, cfg.DB)
}

// buildGateways registers every channel whose credentials are set.  A
// Telegram token that fails to authorise is logged and skipped.
func buildGateways(cfg config.Config, log zerolog.Logger) messaging.Set {
	var gws []messaging.Gateway
	if cfg.Twilio.Enabled() {
		gws = append(gws, messaging.NewTwilio(messaging.TwilioConfig{
			AccountSID: cfg.Twilio.AccountSID,
			AuthToken:  cfg.Twilio.AuthToken,
			From:       cfg.Twilio.From,
			BaseURL:    cfg.Twilio.APIBase,
		}, nil, log))
	}
	if cfg.Telegram.Token != "" {
		bot, err := messaging.NewTelegramBot(cfg.Telegram.Token, nil)
		if err != nil {
			log.Error().Err(err).Msg("telegram gateway disabled")
		} else {
			gws = append(gws, messaging.NewTelegram(bot, time.Second, log))
		}
	}
	set := messaging.NewSet(gws...)
	log.Info().Strs("channels", set.Names()).Msg("gateways configured")
	return set
}

// flowStores picks the conversation state backend: Redis when available,
// process memory in dev, otherwise an error since state must be shared
// between instances.
func (a *app) flowStores() (flow.StateStore, flow.Deduper, error) {
	fc := a.cfg.Flow
	if a.rdb != nil {
		return flow.NewRedisStateStore(a.rdb, fc.StateTTL, fc.LockTTL), flow.NewRedisDeduper(a.rdb, fc.DedupeTTL), nil
	}
	if a.cfg.IsDev() {
		a.log.Warn().Msg("flow state kept in process memory")
		return flow.NewMemoryStateStore(fc.StateTTL, nil), flow.NewMemoryDeduper(fc.DedupeTTL, nil), nil
	}
	return nil, nil, errors.New("redis is required for conversation state outside dev")
}

func (a *app) newController() (*flow.Controller, error) {
	states, dedupe, err := a.flowStores()
	if err != nil {
		return nil, err
	}
	det, err := flow.DefaultDetector()
	if err != nil {
		return nil, fmt.Errorf("intent vocabulary: %w", err)
	}
	return flow.NewController(flow.Deps{
		Engine:   a.engine,
		Catalog:  a.store,
		States:   states,
		Detector: det,
		Dedupe:   dedupe,
		Log:      a.log,
		Location: a.loc,
	}), nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn().Err(err).Msg("close failed")
		}
	}
	a.closers = nil
}
