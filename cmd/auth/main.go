package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cacheadapter "github.com/LearnWiseAI/moodle-local-learnwise/internal/adapter/cache"
	"github.com/LearnWiseAI/moodle-local-learnwise/internal/bootstrap"
	"github.com/LearnWiseAI/moodle-local-learnwise/internal/config"
	httptransport "github.com/LearnWiseAI/moodle-local-learnwise/internal/http"
	"github.com/LearnWiseAI/moodle-local-learnwise/internal/http/handler"
	httpmiddleware "github.com/LearnWiseAI/moodle-local-learnwise/internal/http/middleware"
	"github.com/LearnWiseAI/moodle-local-learnwise/internal/identity"
	"github.com/LearnWiseAI/moodle-local-learnwise/internal/repository"
	"github.com/LearnWiseAI/moodle-local-learnwise/internal/server"
	"github.com/LearnWiseAI/moodle-local-learnwise/internal/service"
	"github.com/LearnWiseAI/moodle-local-learnwise/internal/telemetry"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSnowflake,
			newPGXPool,
			newStore,
			newRedisClient,
			newCleanupLock,
			newRateLimiter,
			newIdentityResolver,
			service.NewAuthorizeService,
			service.NewTokenService,
			service.NewVerifierService,
			service.NewDiscoveryService,
			newSweeper,
			handler.NewOAuthHandler,
			newAuthMiddleware,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, bootstrap.EnsureClient, startSweeper, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := repository.Migrate(ctx, cfg.DatabaseURL); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newStore(pool *pgxpool.Pool, node *snowflake.Node) repository.Store {
	return repository.NewPostgresStore(pool, node)
}

// newRedisClient returns nil when no Redis address is configured; the
// cleanup lock degrades to a local no-op in that case.
func newRedisClient(lc fx.Lifecycle, cfg config.Config) (redis.UniversalClient, error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newCleanupLock(client redis.UniversalClient) service.Locker {
	if client == nil {
		var noop *cacheadapter.RedisLock
		return noop
	}
	return cacheadapter.NewRedisLock(client, "oauth:cleanup:leader", uuid.NewString())
}

func newRateLimiter(cfg config.Config) *httpmiddleware.RateLimiter {
	return httpmiddleware.NewRateLimiter(cfg.RateLimitRPM)
}

func newIdentityResolver(cfg config.Config) identity.Resolver {
	return identity.NewHeaderResolver(cfg.SessionUserHeader)
}

func newSweeper(store repository.Store, lock service.Locker, cfg config.Config, logger *zap.Logger) *service.Sweeper {
	return service.NewSweeper(store, lock, cfg, logger)
}

func newAuthMiddleware(verifier *service.VerifierService) *httpmiddleware.Auth {
	return &httpmiddleware.Auth{Verifier: verifier}
}

func startSweeper(lc fx.Lifecycle, sweeper *service.Sweeper) {
	var cancel context.CancelFunc

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			go sweeper.Run(runCtx)
			return nil
		},
		OnStop: func(context.Context) error {
			if cancel != nil {
				cancel()
			}
			return nil
		},
	})
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
