package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marcelsud/webhook-outbox/config"
	"github.com/marcelsud/webhook-outbox/delivery"
	deliverymemory "github.com/marcelsud/webhook-outbox/delivery/memory"
	deliverypostgres "github.com/marcelsud/webhook-outbox/delivery/postgres"
	deliveryredis "github.com/marcelsud/webhook-outbox/delivery/redis"
	"github.com/marcelsud/webhook-outbox/event"
	webhookchi "github.com/marcelsud/webhook-outbox/internal/http/chi"
	"github.com/marcelsud/webhook-outbox/metrics"
	"github.com/marcelsud/webhook-outbox/subscription"
	subscriptionmemory "github.com/marcelsud/webhook-outbox/subscription/memory"
	subscriptionpostgres "github.com/marcelsud/webhook-outbox/subscription/postgres"
	subscriptionredis "github.com/marcelsud/webhook-outbox/subscription/redis"
	"github.com/rs/zerolog"
)

const TIMEOUT = 30 * time.Second

/* “a porta de entrada e saída da minha aplicação”
* É no arquivo main.go, que vai ser compilado para gerar o executável da aplicação,
* onde é feita toda a “amarração” dos demais pacotes.
* É nele onde iniciamos as dependências, fazemos as configurações e a invocação dos pacotes que desempenham a lógica de negócio.
 */

/*
 * As importações devem ser feitas apenas em uma direção: para baixo. O aplicativo (api, cli) importa camadas de negócios,
 * que importam a camada de armazenamento
 */

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Str("service", "webhook-outbox").Logger()

	cfg, err := config.GetConfig()
	if err != nil {
		logger.Error().Err(err).Msg("loading configuration")
		return
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT,
	)
	defer stop()

	repo, err := newSubscriptionRepository(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("creating subscription store")
		return
	}
	defer repo.Close(ctx)

	deliveryLog, err := newDeliveryLog(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("creating delivery log")
		return
	}
	defer deliveryLog.Close(ctx)

	subscriptions := subscription.NewService(repo)

	if cfg.SeedFile != "" {
		seeded, err := subscription.SeedFromFile(ctx, cfg.SeedFile, subscriptions)
		if err != nil {
			logger.Error().Err(err).Str("file", cfg.SeedFile).Msg("seeding subscriptions")
			return
		}
		logger.Info().Int("count", seeded).Str("file", cfg.SeedFile).Msg("subscriptions seeded")
	}

	bus := event.NewBus()
	defer bus.Close()

	stats := metrics.NewDeliveryStats()
	engine := delivery.NewEngine(subscriptions, deliveryLog, logger, stats)
	dispatcher := delivery.NewDispatcher(bus, subscriptions, engine, logger)

	if err := dispatcher.Start(); err != nil {
		logger.Error().Err(err).Msg("starting dispatcher")
		return
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), TIMEOUT)
		defer cancel()
		if err := dispatcher.Stop(stopCtx); err != nil {
			logger.Error().Err(err).Msg("stopping dispatcher")
		}
	}()

	collector := metrics.NewSystemCollector(stats, bus, repo)
	var metricsHandler http.Handler
	if cfg.MetricsEnabled {
		exporter, err := metrics.NewOTelExporter(collector)
		if err != nil {
			logger.Error().Err(err).Msg("creating metrics exporter")
			return
		}
		defer exporter.Shutdown(ctx)
		metricsHandler = exporter.ServeHTTP()
	}

	r := webhookchi.Handlers(webhookchi.Deps{
		Subscriptions: subscriptions,
		Log:           deliveryLog,
		Engine:        engine,
		Bus:           bus,
		Collector:     collector,
		Metrics:       metricsHandler,
	})
	srv := &http.Server{
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		Addr:         ":" + cfg.Port,
		Handler:      r,
	}

	errShutdown := make(chan error, 1)
	go shutdown(srv, ctx, errShutdown)
	logger.Info().Str("port", cfg.Port).Str("store", cfg.StoreEngine).Msg("listening")
	err = srv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("server error")
		return
	}
	err = <-errShutdown
	if err != nil {
		logger.Error().Err(err).Msg("shutdown error")
		return
	}
}

func newSubscriptionRepository(ctx context.Context, cfg *config.Config) (subscription.Repository, error) {
	switch cfg.StoreEngine {
	case config.EngineRedis:
		return subscriptionredis.NewRepository(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	case config.EnginePostgres:
		repo, err := subscriptionpostgres.NewRepository(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := repo.Migrate(ctx); err != nil {
			return nil, err
		}
		return repo, nil
	default:
		return subscriptionmemory.NewRepository(), nil
	}
}

func newDeliveryLog(ctx context.Context, cfg *config.Config) (delivery.Log, error) {
	switch cfg.LogEngine {
	case config.EngineRedis:
		return deliveryredis.NewLog(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	case config.EnginePostgres:
		deliveryLog, err := deliverypostgres.NewLog(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := deliveryLog.Migrate(ctx); err != nil {
			return nil, err
		}
		return deliveryLog, nil
	default:
		return deliverymemory.NewLog(), nil
	}
}

func shutdown(server *http.Server, ctxShutdown context.Context, errShutdown chan error) {
	<-ctxShutdown.Done()

	ctxTimeout, stop := context.WithTimeout(context.Background(), TIMEOUT)
	defer stop()

	err := server.Shutdown(ctxTimeout)
	switch err {
	case nil:
		fmt.Printf("\nShutting down server...\n")
		errShutdown <- nil
	case context.DeadlineExceeded:
		errShutdown <- fmt.Errorf("Forcing closing the server")
	default:
		errShutdown <- fmt.Errorf("Forcing closing the server")
	}
}
