package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mentorsync/internal/api"
	"mentorsync/internal/config"
	mq "mentorsync/internal/infra/queue"
	"mentorsync/internal/ratelimit"
	"mentorsync/internal/relay"
	"mentorsync/internal/telemetry"
	"mentorsync/internal/websocket"
	"mentorsync/pkg/interfaces"
)

// Application owns every long-lived component and their lifecycle.
type Application struct {
	config *config.Config
	log    *zap.Logger

	store     interfaces.Store
	limiter   interfaces.RateLimiter
	redis     *redis.Client
	amqp      *amqp.Connection
	publisher *mq.Publisher
	relay     *relay.Relay
	wsHandler *websocket.Handler
	apiServer *api.Server

	httpServer *http.Server
	listener   net.Listener

	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewApplication resolves every component from the container.
// Initialization order: Tracing → Store → Redis → Broker → Gateway → HTTP
func NewApplication(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: tracing, so the store and redis plugins see the global provider
	if telemetry.Enabled(cfg) {
		if _, err := telemetry.SetupTracing(ctx, cfg); err != nil {
			return nil, fmt.Errorf("failed to set up tracing: %w", err)
		}
	}

	inj := BuildContainer(cfg, log)
	app := &Application{config: cfg, log: log}

	// STEP 2: infrastructure. Each resolve failure releases what was opened so far.
	var err error
	if app.store, err = do.Invoke[interfaces.Store](inj); err != nil {
		return nil, app.abort(err)
	}
	if app.redis, err = do.Invoke[*redis.Client](inj); err != nil {
		return nil, app.abort(err)
	}
	if app.amqp, err = do.Invoke[*amqp.Connection](inj); err != nil {
		return nil, app.abort(err)
	}
	if app.publisher, err = do.Invoke[*mq.Publisher](inj); err != nil {
		return nil, app.abort(err)
	}

	// STEP 3: realtime and REST surfaces
	app.relay = do.MustInvoke[*relay.Relay](inj)
	app.limiter = do.MustInvoke[interfaces.RateLimiter](inj)
	app.wsHandler = do.MustInvoke[*websocket.Handler](inj)
	app.apiServer = do.MustInvoke[*api.Server](inj)

	app.httpServer = &http.Server{
		Addr:        net.JoinHostPort(cfg.HTTP.Host, strconv.Itoa(cfg.HTTP.Port)),
		Handler:     app.apiServer,
		ReadTimeout: cfg.HTTP.ReadTimeout,
		// Hijacked websocket connections manage their own deadlines.
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	return app, nil
}

// Start begins background work and accepts connections. It returns once the
// listener is bound; Wait reports a later serve failure.
func (app *Application) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	group, groupCtx := errgroup.WithContext(runCtx)
	app.cancel = cancel
	app.group = group

	// STEP 1: broker relay
	if app.relay != nil {
		if err := app.relay.Start(runCtx); err != nil {
			cancel()
			return fmt.Errorf("failed to start relay: %w", err)
		}
	}

	// STEP 2: rate limit window cleanup
	if mem, ok := app.limiter.(*ratelimit.Memory); ok {
		group.Go(func() error { return mem.Run(groupCtx) })
	}

	// STEP 3: HTTP
	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		if app.relay != nil {
			_ = app.relay.Stop()
		}
		cancel()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = ln

	group.Go(func() error {
		if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	app.log.Info("mentorsync started",
		zap.String("addr", ln.Addr().String()),
		zap.String("env", app.config.App.Env),
		zap.String("database", app.config.Database.Driver),
		zap.Bool("broker", app.relay != nil))
	return nil
}

// Wait blocks until background work stops and returns the first failure.
func (app *Application) Wait() error {
	if app.group == nil {
		return nil
	}
	return app.group.Wait()
}

// Stop shuts down in reverse dependency order: HTTP → WebSocket → Relay → Infra
func (app *Application) Stop(ctx context.Context) error {
	app.log.Info("shutting down mentorsync")
	var errs []error

	// STEP 1: stop accepting requests
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	// STEP 2: close live sockets; Shutdown does not track hijacked connections
	if err := app.wsHandler.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("websocket shutdown: %w", err))
	}

	// STEP 3: flush queued broker events
	if app.relay != nil {
		if err := app.relay.Stop(); err != nil && !errors.Is(err, relay.ErrRelayNotRunning) {
			errs = append(errs, fmt.Errorf("relay shutdown: %w", err))
		}
	}

	if app.cancel != nil {
		app.cancel()
	}
	if err := app.Wait(); err != nil {
		errs = append(errs, err)
	}

	// STEP 4: infrastructure
	app.closeInfra(&errs)
	if err := telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tracing shutdown: %w", err))
	}

	app.log.Info("mentorsync shutdown complete")
	return errors.Join(errs...)
}

// Addr returns the bound address once started, the configured one before.
func (app *Application) Addr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

func (app *Application) closeInfra(errs *[]error) {
	if app.publisher != nil {
		if err := app.publisher.Close(); err != nil {
			*errs = append(*errs, fmt.Errorf("amqp channel close: %w", err))
		}
	}
	if app.amqp != nil && !app.amqp.IsClosed() {
		if err := app.amqp.Close(); err != nil {
			*errs = append(*errs, fmt.Errorf("amqp close: %w", err))
		}
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			*errs = append(*errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if app.store != nil {
		if err := app.store.Close(); err != nil {
			*errs = append(*errs, fmt.Errorf("store close: %w", err))
		}
	}
}

func (app *Application) abort(err error) error {
	var errs []error
	app.closeInfra(&errs)
	_ = telemetry.Shutdown(context.Background())
	return errors.Join(append([]error{err}, errs...)...)
}
