// cmd/letter-service/main.go
package main

import (
	"context"

	"go.opentelemetry.io/otel"

	"verbapost/internal/pkg/blob"
	"verbapost/internal/pkg/bootstrap"
	"verbapost/internal/pkg/httpclient"
	"verbapost/internal/pkg/logger"
	"verbapost/internal/pkg/mq"
	"verbapost/internal/pkg/redis"
	"verbapost/internal/service/order/application"
	"verbapost/internal/service/order/application/fanout"
	"verbapost/internal/service/order/application/pricing"
	"verbapost/internal/service/order/domain"
	"verbapost/internal/service/order/domain/port"
	"verbapost/internal/service/order/infrastructure"
	"verbapost/internal/service/order/infrastructure/adapter"
	"verbapost/internal/service/order/interfaces"
	"verbapost/internal/zookeeper"
)

const (
	serviceName             = "letter-service"
	heirloomConsumerGroupID = "letter-service-heirloom"
)

// main 是组装根：创建并组装所有依赖项，然后启动 HTTP 服务。
func main() {
	logger.Init(serviceName, "info", false)
	ctx := context.Background()
	log := logger.Ctx(ctx)

	cfg, err := bootstrap.LoadConfig(bootstrap.GetEnv("CONFIG_PATH", "configs/letter-service.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(serviceName, cfg.Log.Level, cfg.Log.Pretty)
	bootstrap.SetCurrentConfig(cfg)
	log = logger.Ctx(ctx)

	// 资源按创建顺序登记，关停时逆序释放
	var cleanups []func(context.Context)

	tracer := otel.Tracer(serviceName)

	blobs, err := blob.NewFileStore(cfg.Storage.BlobDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize blob store")
	}

	orders, accounts := buildStorage(cfg, &cleanups)
	locker := buildLocker(ctx, cfg, &cleanups)
	events := buildEvents(ctx, cfg, blobs, &cleanups)

	c := cfg.Collaborators
	client := httpclient.NewClient(tracer,
		httpclient.WithRetryConfig(httpclient.RetryConfig{
			MaxAttempts:  c.Retry.MaxAttempts,
			InitialDelay: c.Retry.InitialDelay,
			MaxDelay:     c.Retry.MaxDelay,
			Multiplier:   2,
		}),
		httpclient.WithTimeout(c.Timeout),
	)

	policy, err := pricing.NewPolicy(pricing.Config{
		StandardCents:   cfg.Pricing.StandardCents,
		HeirloomCents:   cfg.Pricing.HeirloomCents,
		CivicCents:      cfg.Pricing.CivicCents,
		OverageCents:    *cfg.Pricing.OverageCents,
		IncludedSeconds: cfg.Pricing.IncludedSeconds,
		IncludedBytes:   cfg.Pricing.IncludedBytes,
		MinAudioBytes:   cfg.Pricing.MinAudioBytes,
		OverageRule:     cfg.Pricing.OverageRule,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("invalid pricing configuration")
	}

	assembler := fanout.NewAssembler(
		adapter.NewFpdfRenderer(blobs, c.Renderer.HandwritingFont, c.Renderer.UnicodeFont),
		adapter.NewLobMailAdapter(client, blobs, c.Lob.BaseURL, c.Lob.APIKey, c.Lob.Color),
		tracer,
		fanout.WithConcurrency(cfg.Fanout.Concurrency),
	)

	var svc *application.LetterApplicationService
	hub := interfaces.NewHub(func(o *domain.Order) any { return svc.Describe(o) })
	hubCtx, stopHub := context.WithCancel(ctx)
	go hub.Run(hubCtx)
	cleanups = append(cleanups, func(context.Context) { stopHub() })

	svc = application.NewLetterApplicationService(application.Deps{
		Orders:            orders,
		Accounts:          accounts,
		Locker:            locker,
		Blobs:             blobs,
		Checkout:          adapter.NewStripeCheckoutAdapter(client, c.Stripe.BaseURL, c.Stripe.SecretKey, c.Stripe.Currency),
		Transcriber:       adapter.NewOpenAITranscriptionAdapter(client, c.OpenAI.BaseURL, c.OpenAI.APIKey, c.OpenAI.TranscriptionModel, c.OpenAI.PolishModel),
		Directory:         adapter.NewGeocodioDirectoryAdapter(client, c.Geocodio.BaseURL, c.Geocodio.APIKey),
		Assembler:         assembler,
		Events:            events,
		Observer:          hub,
		Policy:            policy,
		Tracer:            tracer,
		PublicBaseURL:     cfg.Server.PublicBaseURL,
		ProcessingTimeout: cfg.Server.ProcessingTimeout,
	})
	handler := interfaces.NewLetterHandler(svc, blobs, hub, cfg.Admin.Token)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Config:      cfg,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			handler.RegisterRoutes(appCtx.Mux)
		},
		Cleanup: func(ctx context.Context) {
			for i := len(cleanups) - 1; i >= 0; i-- {
				cleanups[i](ctx)
			}
		},
	})
}

func buildStorage(cfg *bootstrap.Config, cleanups *[]func(context.Context)) (domain.OrderRepository, port.AccountStore) {
	log := logger.Ctx(context.Background())
	if cfg.Storage.Driver != "mysql" {
		log.Warn().Msg("using in-memory order storage, orders are lost on restart")
		return infrastructure.NewMemoryOrderRepository(), infrastructure.NewMemoryAccountStore()
	}

	db, err := infrastructure.OpenMySQL(cfg.Storage.MySQL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize mysql")
	}
	*cleanups = append(*cleanups, func(context.Context) {
		if sqlDB, err := db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				log.Error().Err(err).Msg("Error closing mysql")
			}
		}
	})
	return infrastructure.NewGormOrderRepository(db), infrastructure.NewGormAccountStore(db)
}

func buildLocker(ctx context.Context, cfg *bootstrap.Config, cleanups *[]func(context.Context)) port.OrderLocker {
	log := logger.Ctx(ctx)
	switch cfg.Lock.Backend {
	case "redis":
		r := cfg.Infra.Redis
		client, err := redis.NewClient(ctx, r.Addr, r.Password, r.DB)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize redis client")
		}
		*cleanups = append(*cleanups, func(context.Context) {
			if err := client.Close(); err != nil {
				log.Error().Err(err).Msg("Error closing redis")
			}
		})
		locker, err := infrastructure.NewRedisLocker(ctx, client, cfg.Lock.TTL, cfg.Lock.Wait)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize redis locker")
		}
		return locker
	case "zookeeper":
		zk := cfg.Infra.Zookeeper
		locker, err := zookeeper.Connect(zk.Servers, zk.SessionTimeout, zk.Root, cfg.Lock.Wait)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect zookeeper")
		}
		*cleanups = append(*cleanups, func(context.Context) { locker.Close() })
		return locker
	}
	return infrastructure.NewMemoryLocker(cfg.Lock.Wait)
}

// buildEvents 配置了 Kafka 时发布到主题，并在本进程消费 Heirloom 事件；否则只写日志。
func buildEvents(ctx context.Context, cfg *bootstrap.Config, blobs port.BlobStore, cleanups *[]func(context.Context)) port.LetterEventPublisher {
	k := cfg.Infra.Kafka
	if len(k.Brokers) == 0 {
		return infrastructure.LogEventPublisher{}
	}
	log := logger.Ctx(ctx)

	producer := infrastructure.NewLetterEventProducer(mq.NewKafkaWriter(k.Brokers, k.Topic))
	consumer := infrastructure.NewHeirloomQueueConsumer(
		mq.NewKafkaReader(k.Brokers, k.Topic, heirloomConsumerGroupID),
		func(ctx context.Context, e *domain.HeirloomQueued) error {
			rc, err := blobs.Open(ctx, e.DocumentRef)
			if err != nil {
				return err
			}
			rc.Close()
			logger.Ctx(ctx).Info().Str("order", e.OrderID).Str("document", e.DocumentRef).
				Msg("heirloom letter ready for printing")
			return nil
		},
	)
	consumer.Start(ctx)

	*cleanups = append(*cleanups, func(context.Context) {
		consumer.Stop()
		if err := producer.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing kafka writer")
		}
	})
	return producer
}
