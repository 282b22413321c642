// Command fxdesk is a currency-exchange front end for a remote conversion
// API. It runs either as a local HTTP proxy with a live balance stream, or
// as an interactive terminal app.
//
// Usage:
//
//	fxdesk --config config.yaml
//	fxdesk --mode tui --user c1
//
// Environment variables (optionally from .env):
//
//	API_GATEWAY_ID, API_BASE_URL, API_STAGE, LISTEN_ADDR, DEFAULT_USER_ID,
//	WAL_DIR, REDIS_ADDR, ENVIRONMENT and the timeouts listed in config.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/fxdesk/config"
	"github.com/vadiminshakov/fxdesk/internal/clients"
	"github.com/vadiminshakov/fxdesk/internal/events"
	"github.com/vadiminshakov/fxdesk/internal/services/accounts"
	"github.com/vadiminshakov/fxdesk/internal/services/exchange"
	"github.com/vadiminshakov/fxdesk/internal/services/history"
	"github.com/vadiminshakov/fxdesk/internal/services/rates"
	"github.com/vadiminshakov/fxdesk/internal/services/settlement"
	"github.com/vadiminshakov/fxdesk/internal/storage/balancesnapshots"
	"github.com/vadiminshakov/fxdesk/internal/storage/jobjournal"
	"github.com/vadiminshakov/fxdesk/internal/storage/quotecache"
	"github.com/vadiminshakov/fxdesk/internal/tui"
	"github.com/vadiminshakov/fxdesk/internal/views"
	"github.com/vadiminshakov/fxdesk/internal/web"
)

const busBuffer = 64

func main() {
	cfg, err := config.Get()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("fxdesk stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	gateway := clients.NewGatewayClient(cfg.APIBaseURL, cfg.APIGatewayID, cfg.APIStage,
		clients.WithTimeout(cfg.RequestTimeout),
		clients.WithLogger(logger))
	logger.Info("remote gateway", zap.String("root", gateway.Root()), zap.String("mode", cfg.Mode))

	snapshots, err := balancesnapshots.NewWALStore(filepath.Join(cfg.WALDir, "balance"))
	if err != nil {
		return err
	}
	defer snapshots.Close()

	journal, err := jobjournal.Open(filepath.Join(cfg.WALDir, "jobs"))
	if err != nil {
		return err
	}
	defer journal.Close()

	resolver := rates.NewResolver(cfg.Rates)
	quoter := rates.NewFallbackQuoter(
		rates.NewGatewayQuoter(gateway, quoterOptions(ctx, cfg, logger)...),
		rates.NewStaticQuoter(resolver),
		logger)

	bus := events.NewBus(busBuffer)
	cache := accounts.NewCache(gateway,
		accounts.WithPreferredCurrencies(cfg.HomeCurrency, cfg.SecondaryCurrency),
		accounts.WithStore(snapshots),
		accounts.WithBroadcaster(bus.Balances),
		accounts.WithLogger(logger))
	hist := history.NewFetcher(gateway)
	submitter := exchange.NewSubmitter(gateway, journal, logger)
	poller := settlement.NewPoller(gateway,
		settlement.WithTimeout(cfg.SettleTimeout),
		settlement.WithIntervals(cfg.PollInitial, cfg.PollMax),
		settlement.WithJournal(journal),
		settlement.WithBus(bus),
		settlement.WithLogger(logger))

	g, gctx := errgroup.WithContext(ctx)

	var reload events.ReloadFunc
	switch cfg.Mode {
	case config.ModeTUI:
		home := views.NewHomeView(cache, hist, cfg.DefaultUserID, cfg.TransactionsLimit)
		reload = home.Reload
		app := tui.NewApp(home, cache, resolver, submitter, poller, cfg.DefaultUserID, logger)
		g.Go(func() error {
			defer cancel()
			return app.Run(gctx)
		})
	default:
		reload = func(ctx context.Context, userID string) error {
			_, err := cache.Refresh(ctx, userID)
			if errors.Is(err, accounts.ErrSuperseded) {
				return nil
			}
			return err
		}
		srv := web.NewServer(cfg.ListenAddr, gateway, quoter,
			web.WithStore(snapshots),
			web.WithBalanceUpdates(bus.Balances),
			web.WithJobTracking(submitter, poller),
			web.WithDefaults(cfg.DefaultUserID, cfg.TransactionsLimit),
			web.WithLogger(logger))
		g.Go(func() error {
			return srv.Start(gctx)
		})
	}

	refresher := events.NewRefresher(bus, reload, cfg.DefaultUserID, logger)
	g.Go(func() error {
		return refresher.Run(gctx)
	})
	if cfg.Mode != config.ModeTUI {
		g.Go(func() error {
			select {
			case <-refresher.Ready():
				bus.Refresh.Publish(events.RefreshRequested{
					UserID: cfg.DefaultUserID,
					Reason: events.ReasonStartup,
					At:     time.Now(),
				})
			case <-gctx.Done():
			}
			return nil
		})
	}

	g.Go(func() error {
		// unsettled jobs from a previous run; failures here never stop the app
		if err := poller.Resume(gctx); err != nil && gctx.Err() == nil {
			logger.Warn("resume pending jobs", zap.Error(err))
		}
		return nil
	})

	return g.Wait()
}

func quoterOptions(ctx context.Context, cfg config.Config, logger *zap.Logger) []rates.GatewayQuoterOption {
	opts := []rates.GatewayQuoterOption{
		rates.WithQuoteTTL(cfg.QuoteTTL),
		rates.WithQuoterLogger(logger),
	}
	if cfg.RedisAddr == "" {
		return opts
	}

	qc := quotecache.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := qc.Ping(pingCtx); err != nil {
		logger.Warn("quote cache unavailable, quoting without it", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		_ = qc.Close()
		return opts
	}
	go func() {
		<-ctx.Done()
		_ = qc.Close()
	}()
	return append(opts, rates.WithQuoteStore(qc))
}

// newLogger builds the production logger, or the development one when
// ENVIRONMENT=development. The terminal app logs to a file so the screen stays clean.
func newLogger(cfg config.Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Environment == "development" {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Mode == config.ModeTUI {
		if err := os.MkdirAll(cfg.WALDir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create log dir")
		}
		path := filepath.Join(cfg.WALDir, "fxdesk.log")
		zc.OutputPaths = []string{path}
		zc.ErrorOutputPaths = []string{path}
	}
	return zc.Build()
}
