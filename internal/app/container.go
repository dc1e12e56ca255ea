package app

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
	"go.uber.org/zap"

	"mentorsync/internal/api"
	"mentorsync/internal/config"
	"mentorsync/internal/database"
	"mentorsync/internal/directory"
	"mentorsync/internal/gateway"
	"mentorsync/internal/infra/cache"
	"mentorsync/internal/infra/db"
	mq "mentorsync/internal/infra/queue"
	"mentorsync/internal/ratelimit"
	"mentorsync/internal/relay"
	"mentorsync/internal/repo"
	"mentorsync/internal/room"
	"mentorsync/internal/session"
	"mentorsync/internal/telemetry"
	"mentorsync/internal/websocket"
	dbconfig "mentorsync/pkg/database"
	"mentorsync/pkg/interfaces"
)

// BuildContainer registers every component lazily. Nothing connects until it is
// first invoked.
func BuildContainer(cfg *config.Config, log *zap.Logger) *do.Injector {
	inj := do.New()

	do.ProvideValue(inj, cfg)
	do.ProvideValue(inj, log)

	// store
	do.Provide(inj, func(i *do.Injector) (interfaces.Store, error) {
		cfg := do.MustInvoke[*config.Config](i)
		log := do.MustInvoke[*zap.Logger](i)
		return OpenStore(context.Background(), cfg, log)
	})

	// redis, only when enabled
	do.Provide(inj, func(i *do.Injector) (*redis.Client, error) {
		cfg := do.MustInvoke[*config.Config](i)
		if !cfg.Redis.Enabled {
			return nil, nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rdb, err := cache.New(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		if telemetry.Enabled(cfg) {
			if err := cache.RegisterOpenTelemetryPlugin(rdb); err != nil {
				log.Warn("redis tracing unavailable", zap.Error(err))
			}
		}
		return rdb, nil
	})

	do.Provide(inj, func(i *do.Injector) (interfaces.RateLimiter, error) {
		cfg := do.MustInvoke[*config.Config](i)
		rdb := do.MustInvoke[*redis.Client](i)
		return ratelimit.New(cfg, rdb), nil
	})

	// RabbitMQ, only when enabled
	do.Provide(inj, func(i *do.Injector) (*amqp.Connection, error) {
		cfg := do.MustInvoke[*config.Config](i)
		if !cfg.RabbitMQ.Enabled {
			return nil, nil
		}
		conn, err := mq.Dial(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
		}
		return conn, nil
	})

	do.Provide(inj, func(i *do.Injector) (*mq.Publisher, error) {
		cfg := do.MustInvoke[*config.Config](i)
		conn := do.MustInvoke[*amqp.Connection](i)
		if conn == nil {
			return nil, nil
		}
		pub, err := mq.NewPublisher(conn, do.MustInvoke[*zap.Logger](i).Named("amqp"), cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open rabbitmq publisher: %w", err)
		}
		return pub, nil
	})

	do.Provide(inj, func(i *do.Injector) (*relay.Relay, error) {
		cfg := do.MustInvoke[*config.Config](i)
		pub := do.MustInvoke[*mq.Publisher](i)
		if pub == nil {
			return nil, nil
		}
		return relay.NewRelay(pub, do.MustInvoke[*zap.Logger](i).Named("relay"), cfg.RabbitMQ.QueueSize), nil
	})

	do.Provide(inj, func(i *do.Injector) (interfaces.EventSink, error) {
		if r := do.MustInvoke[*relay.Relay](i); r != nil {
			return r, nil
		}
		return relay.Discard{}, nil
	})

	do.Provide(inj, func(i *do.Injector) (interfaces.ParticipantDirectory, error) {
		cfg := do.MustInvoke[*config.Config](i)
		log := do.MustInvoke[*zap.Logger](i)
		store := do.MustInvoke[interfaces.Store](i)

		var verifier interfaces.TokenVerifier
		switch cfg.Auth.Mode {
		case config.AuthModeJWT:
			verifier = directory.NewJWTVerifier(cfg.Auth.JWTSecret)
		default:
			verifier = directory.NewSupabaseVerifier(cfg.Auth.SupabaseURL, cfg.Auth.SupabaseServiceRoleKey)
		}
		return directory.New(verifier, store, log.Named("directory")), nil
	})

	do.Provide(inj, func(i *do.Injector) (*room.Registry, error) {
		return room.NewRegistry(do.MustInvoke[*zap.Logger](i).Named("rooms")), nil
	})

	do.Provide(inj, func(i *do.Injector) (*gateway.Gateway, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return gateway.New(
			do.MustInvoke[interfaces.ParticipantDirectory](i),
			do.MustInvoke[interfaces.Store](i),
			do.MustInvoke[*room.Registry](i),
			do.MustInvoke[interfaces.RateLimiter](i),
			do.MustInvoke[interfaces.EventSink](i),
			gateway.OptionsFromConfig(cfg),
			do.MustInvoke[*zap.Logger](i).Named("gateway"),
		), nil
	})

	do.Provide(inj, func(i *do.Injector) (*session.Manager, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return session.NewManager(
			do.MustInvoke[interfaces.Store](i),
			do.MustInvoke[interfaces.ParticipantDirectory](i),
			do.MustInvoke[*gateway.Gateway](i),
			session.Limits{
				MaxChatLength:     cfg.Session.MaxChatLength,
				MaxLanguageLength: cfg.Session.MaxLanguageLength,
			},
			do.MustInvoke[*zap.Logger](i).Named("sessions"),
		), nil
	})

	do.Provide(inj, func(i *do.Injector) (*websocket.Handler, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return websocket.NewHandler(
			do.MustInvoke[*gateway.Gateway](i),
			websocket.OptionsFromConfig(cfg.WebSocket),
			do.MustInvoke[*zap.Logger](i).Named("websocket"),
		), nil
	})

	do.Provide(inj, func(i *do.Injector) (*api.Server, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return api.NewServer(api.Deps{
			ServiceName:    cfg.App.Name,
			Tracing:        telemetry.Enabled(cfg),
			AllowedOrigins: cfg.HTTP.AllowedOrigins,
			WebSocketPath:  cfg.WebSocket.Path,
			Sessions:       do.MustInvoke[*session.Manager](i),
			Directory:      do.MustInvoke[interfaces.ParticipantDirectory](i),
			Store:          do.MustInvoke[interfaces.Store](i),
			Rooms:          do.MustInvoke[*room.Registry](i),
			WebSocket:      do.MustInvoke[*websocket.Handler](i),
			Log:            do.MustInvoke[*zap.Logger](i).Named("http"),
		}), nil
	})

	return inj
}

// OpenStore opens the store named by cfg.Database.Driver and applies the schema
// when auto_migrate is set.
func OpenStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (interfaces.Store, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		gdb, err := db.New(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		if telemetry.Enabled(cfg) {
			if err := db.RegisterOpenTelemetryPlugin(gdb); err != nil {
				log.Warn("gorm tracing unavailable", zap.Error(err))
			}
		}
		store := repo.NewStore(gdb)
		if cfg.Database.AutoMigrate {
			if err := store.Migrate(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("failed to migrate postgres schema: %w", err)
			}
		}
		return store, nil

	default:
		dbCfg := dbconfig.DefaultConfig()
		dbCfg.DatabasePath = cfg.Database.Path
		dbCfg.MaxConnections = cfg.Database.MaxOpen
		dbCfg.WriteTimeout = cfg.Database.Timeout

		manager, err := database.NewManager(dbCfg, log.Named("sqlite"))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database manager: %w", err)
		}
		if cfg.Database.AutoMigrate {
			if err := manager.Migrate(ctx); err != nil {
				_ = manager.Close()
				return nil, fmt.Errorf("failed to apply database migrations: %w", err)
			}
		}
		return manager, nil
	}
}
