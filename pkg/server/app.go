package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/robfig/cron/v3"

	drepo "github.com/0x556c79/deltabadger/internal/domain/repository"
	"github.com/0x556c79/deltabadger/internal/usecase"
	pkgch "github.com/0x556c79/deltabadger/pkg/clickhouse"
	"github.com/0x556c79/deltabadger/pkg/config"
	xhttp "github.com/0x556c79/deltabadger/pkg/http"
	pkgkafka "github.com/0x556c79/deltabadger/pkg/kafka"
	applogger "github.com/0x556c79/deltabadger/pkg/logger"
	"github.com/0x556c79/deltabadger/pkg/queue"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg         *config.Config
	logger      *applogger.Logger
	queue       *queue.DelayedQueue
	actionJob   *usecase.ActionJob
	sweep       *usecase.RepairSweep
	collector   *usecase.TickerCollector
	consumer    *pkgkafka.Consumer
	fh          pkgkafka.MessageHandler
	bots        drepo.BotRepository
	txs         drepo.TransactionStore
	chClient    *pkgch.Client
	httpServer  *xhttp.Server
	httpHandler xhttp.Handler
	cron        *cron.Cron
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	lgr *applogger.Logger,
	q *queue.DelayedQueue,
	actionJob *usecase.ActionJob,
	sweep *usecase.RepairSweep,
	collector *usecase.TickerCollector,
	consumer *pkgkafka.Consumer,
	fh pkgkafka.MessageHandler,
	bots drepo.BotRepository,
	txs drepo.TransactionStore,
	chClient *pkgch.Client,
) *App {
	return &App{
		cfg:       cfg,
		logger:    lgr,
		queue:     q,
		actionJob: actionJob,
		sweep:     sweep,
		collector: collector,
		consumer:  consumer,
		fh:        fh,
		bots:      bots,
		txs:       txs,
		chClient:  chClient,
	}
}

// SetHTTPHandler allows DI to inject an HTTP handler.
func (a *App) SetHTTPHandler(h xhttp.Handler) { a.httpHandler = h }

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := a.logger

	a.httpServer = xhttp.NewServer(a.httpHandler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout),
	)
	a.registerHealth()

	// Start the delayed task queue. Actions cannot fire before this point.
	a.queue.RegisterJob(a.actionJob)
	if err := a.queue.Start(); err != nil {
		l.Error("task queue start error", applogger.Error(err))
		return err
	}
	l.Info("task queue started")

	// Sweep runs on a fixed cron schedule and re-enqueues orphaned bots.
	a.cron = cron.New()
	if _, err := a.cron.AddFunc(a.cfg.Sweep.Schedule, func() {
		if err := a.sweep.RepairOrphanedBots(ctx); err != nil {
			l.Warn("repair sweep error", applogger.Error(err))
		}
	}); err != nil {
		l.Error("sweep schedule error", applogger.String("schedule", a.cfg.Sweep.Schedule), applogger.Error(err))
		return err
	}
	a.cron.Start()
	l.Info("repair sweep scheduled", applogger.String("schedule", a.cfg.Sweep.Schedule))

	// Start price collector if symbols are configured
	if a.collector != nil && len(a.cfg.MarketData.Symbols) > 0 {
		go func() {
			if err := a.collector.Start(ctx); err != nil {
				l.Error("ticker collector error", applogger.Error(err))
			}
		}()
		l.Info("ticker collector started", applogger.Strings("symbols", a.cfg.MarketData.Symbols))
	}

	// Start fills consumer if configured
	if a.consumer != nil && a.fh != nil {
		a.consumer.RegisterHandler(a.fh)
		go func() {
			if err := a.consumer.Start(); err != nil {
				l.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		l.Info("kafka consumer started", applogger.String("topic", a.fh.Topic()))
	}

	// Start HTTP server
	if err := a.httpServer.Start(); err != nil {
		l.Error("http server start error", applogger.Error(err))
		return err
	}

	// Wait for interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	l.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// shutdown gracefully stops all services.
func (a *App) shutdown(ctx context.Context) error {
	l := a.logger
	l.Info("shutting down...")

	// Stop accepting new action deliveries first
	if a.cron != nil {
		<-a.cron.Stop().Done()
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.queue.Stop(shutdownCtx); err != nil {
		l.Warn("task queue stop error", applogger.Error(err))
	}

	// Stop collector (pipeline + stream)
	if a.collector != nil {
		if err := a.collector.Shutdown(shutdownCtx); err != nil {
			l.Warn("collector stop error", applogger.Error(err))
		}
	}

	// Stop consumer
	if a.consumer != nil {
		if err := a.consumer.Stop(shutdownCtx); err != nil {
			l.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	// Shutdown HTTP server
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		l.Error("http shutdown error", applogger.Error(err))
	}

	// Close infrastructure clients
	if a.bots != nil {
		if err := a.bots.Close(); err != nil {
			l.Warn("bot repository close error", applogger.Error(err))
		}
	}
	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			l.Warn("clickhouse close error", applogger.Error(err))
		}
	}

	l.Info("shutdown complete")
	// Final collector flush, after every component has logged its stop.
	l.RemoveCollector()
	return nil
}

// registerHealth wires liveness and readiness probes on the Echo instance.
func (a *App) registerHealth() {
	e := a.httpServer.Echo()
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/readyz", func(c echo.Context) error {
		if a.txs != nil {
			if err := a.txs.Health(c.Request().Context()); err != nil {
				return c.String(http.StatusServiceUnavailable, "clickhouse: "+err.Error())
			}
		}
		return c.String(http.StatusOK, "ok")
	})
}
