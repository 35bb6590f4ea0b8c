package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/sectorhub/wagateway/internal/config"
	"github.com/sectorhub/wagateway/internal/contacts"
	"github.com/sectorhub/wagateway/internal/db"
	"github.com/sectorhub/wagateway/internal/flow"
	"github.com/sectorhub/wagateway/internal/handlers"
	"github.com/sectorhub/wagateway/internal/logger"
	"github.com/sectorhub/wagateway/internal/media"
	"github.com/sectorhub/wagateway/internal/media/providers/localfs"
	s3store "github.com/sectorhub/wagateway/internal/media/providers/s3"
	"github.com/sectorhub/wagateway/internal/message"
	"github.com/sectorhub/wagateway/internal/outbound"
	"github.com/sectorhub/wagateway/internal/realtime"
	"github.com/sectorhub/wagateway/internal/schedule"
	"github.com/sectorhub/wagateway/internal/sectors"
	"github.com/sectorhub/wagateway/internal/server"
	"github.com/sectorhub/wagateway/internal/webhook"
	"github.com/sectorhub/wagateway/internal/whatsapp"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBPools,
			provideSectorStore,
			provideContactStore,
			provideRegistry,
			provideMessageService,
			provideWhatsAppClient,
			provideStorageProvider,
			provideMediaResolver,
			provideTranscoder,
			provideDispatcher,
			provideFlowStore,
			provideFlowEngine,
			provideWebhookProcessor,
			provideScheduleStore,
			provideScheduleService,
			handlers.NewRequestValidator,
			provideServerHandler(providePingHandler),
			provideServerHandler(provideWebhookHandler),
			provideServerHandler(provideWhatsAppHandler),
			provideServerHandler(provideContactsHandler),
			provideServerHandler(provideSectorsHandler),
			provideServerHandler(provideFlowsHandler),
			provideServerHandler(provideScheduleHandler),
			provideServerHandler(provideWebsocketHandler),
			provideServerHandler(provideMediaHandler),
			provideServer,
		),
		fx.Invoke(
			startScheduleService,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig() (config.Config, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

// provideDBPools opens both stores. When the SaaS store points at the same
// database as the messages store, one pool serves both.
func provideDBPools(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (db.Pools, error) {
	if cfg.Server.AutoMigrate {
		if err := migrateAll(cfg, (*db.Migrator).Up); err != nil {
			return db.Pools{}, fmt.Errorf("auto migrate: %w", err)
		}
	}
	ctx := context.Background()
	messages, err := db.Open(ctx, cfg.Postgres)
	if err != nil {
		return db.Pools{}, fmt.Errorf("messages db connect: %w", err)
	}
	pools := db.Pools{Messages: messages, SaaS: messages}
	if cfg.SaaSPostgres.DSN() != cfg.Postgres.DSN() {
		saas, err := db.Open(ctx, cfg.SaaSPostgres)
		if err != nil {
			messages.Close()
			return db.Pools{}, fmt.Errorf("saas db connect: %w", err)
		}
		pools.SaaS = saas
	}
	log.Info("databases connected",
		slog.String("messages", cfg.Postgres.Database),
		slog.String("saas", cfg.SaaSPostgres.Database),
	)
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { pools.Close(); return nil }})
	return pools, nil
}

func provideSectorStore(log *slog.Logger, pools db.Pools) *sectors.Store {
	return sectors.NewStore(log, pools.SaaS)
}

func provideContactStore(log *slog.Logger, pools db.Pools) *contacts.Store {
	return contacts.NewStore(log, pools.Messages)
}

func provideRegistry(lc fx.Lifecycle, log *slog.Logger) *realtime.Registry {
	reg := realtime.NewRegistry(log)
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { reg.Close(); return nil }})
	return reg
}

func provideMessageService(log *slog.Logger, pools db.Pools, reg *realtime.Registry) *message.DBService {
	return message.NewService(log, pools.Messages, reg)
}

func provideWhatsAppClient(log *slog.Logger, cfg config.Config) *whatsapp.Client {
	client := whatsapp.NewClient(log, cfg.WhatsApp)
	client.SetMaxDownloadBytes(cfg.Media.MaxBytes)
	return client
}

func provideStorageProvider(log *slog.Logger, cfg config.Config) (media.StorageProvider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Provider)) {
	case config.StorageProviderS3:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		provider, err := s3store.New(ctx, cfg.Storage.S3)
		if err != nil {
			return nil, fmt.Errorf("s3 storage: %w", err)
		}
		log.Info("media storage", slog.String("provider", "s3"), slog.String("bucket", cfg.Storage.S3.Bucket))
		return provider, nil
	case config.StorageProviderLocal, "":
		baseURL := cfg.Server.PublicBaseURL
		if baseURL == "" {
			log.Warn("server.public_base_url is empty; stored media URLs will be relative")
		}
		provider, err := localfs.New(cfg.Storage.DataRoot, baseURL)
		if err != nil {
			return nil, fmt.Errorf("local storage: %w", err)
		}
		log.Info("media storage", slog.String("provider", "local"), slog.String("data_root", cfg.Storage.DataRoot))
		return provider, nil
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Storage.Provider)
	}
}

func provideMediaResolver(log *slog.Logger, client *whatsapp.Client, provider media.StorageProvider, cfg config.Config) *media.Resolver {
	resolver := media.NewResolver(log, client, provider)
	resolver.SetMaxBytes(cfg.Media.MaxBytes)
	return resolver
}

func provideTranscoder(log *slog.Logger, cfg config.Config) media.Transcoder {
	if strings.TrimSpace(cfg.Media.FFmpegPath) == "" {
		log.Info("ffmpeg not configured; unsupported audio is sent as is")
		return nil
	}
	return media.FFmpegTranscoder{Path: cfg.Media.FFmpegPath}
}

func provideDispatcher(log *slog.Logger, sectorStore *sectors.Store, contactStore *contacts.Store, client *whatsapp.Client, messages *message.DBService, resolver *media.Resolver, transcoder media.Transcoder, cfg config.Config) *outbound.Dispatcher {
	return outbound.NewDispatcher(log, sectorStore, contactStore, client, messages, outbound.Options{
		Uploader:      resolver,
		Transcoder:    transcoder,
		RatePerSecond: cfg.WhatsApp.RatePerSecond,
		RateBurst:     cfg.WhatsApp.RateBurst,
	})
}

func provideFlowStore(log *slog.Logger, pools db.Pools, cfg config.Config) *flow.Store {
	return flow.NewStore(log, pools.SaaS, cfg.Flow.StartNodeID)
}

func provideFlowEngine(lc fx.Lifecycle, log *slog.Logger, store *flow.Store, dispatcher *outbound.Dispatcher) *flow.Engine {
	engine := flow.NewEngine(log, store, dispatcher, nil)
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { engine.Close(); return nil }})
	return engine
}

func provideWebhookProcessor(log *slog.Logger, sectorStore *sectors.Store, contactStore *contacts.Store, resolver *media.Resolver, messages *message.DBService, engine *flow.Engine) *webhook.Processor {
	return webhook.NewProcessor(log, sectorStore, contactStore, resolver, messages, engine)
}

func provideScheduleStore(log *slog.Logger, pools db.Pools) *schedule.Store {
	return schedule.NewStore(log, pools.SaaS)
}

func provideScheduleService(log *slog.Logger, store *schedule.Store, contactStore *contacts.Store, dispatcher *outbound.Dispatcher, cfg config.Config) *schedule.Service {
	return schedule.NewService(log, store, contactStore, dispatcher, cfg.Schedule.Spec)
}

func providePingHandler(log *slog.Logger, pools db.Pools) *handlers.PingHandler {
	deps := map[string]handlers.Pinger{"messages": pools.Messages}
	if pools.SaaS != pools.Messages {
		deps["saas"] = pools.SaaS
	}
	return handlers.NewPingHandler(log, deps)
}

func provideWebhookHandler(log *slog.Logger, processor *webhook.Processor, cfg config.Config) *handlers.WebhookHandler {
	return handlers.NewWebhookHandler(log, processor, cfg)
}

func provideWhatsAppHandler(log *slog.Logger, dispatcher *outbound.Dispatcher) *handlers.WhatsAppHandler {
	return handlers.NewWhatsAppHandler(log, dispatcher)
}

func provideContactsHandler(log *slog.Logger, contactStore *contacts.Store, messages *message.DBService) *handlers.ContactsHandler {
	return handlers.NewContactsHandler(log, contactStore, messages)
}

func provideSectorsHandler(log *slog.Logger, sectorStore *sectors.Store) *handlers.SectorsHandler {
	return handlers.NewSectorsHandler(log, sectorStore)
}

func provideFlowsHandler(log *slog.Logger, store *flow.Store, sectorStore *sectors.Store) *handlers.FlowsHandler {
	return handlers.NewFlowsHandler(log, store, sectorStore)
}

func provideScheduleHandler(log *slog.Logger, store *schedule.Store) *handlers.ScheduleHandler {
	return handlers.NewScheduleHandler(log, store)
}

func provideWebsocketHandler(log *slog.Logger, reg *realtime.Registry, cfg config.Config) *handlers.WebsocketHandler {
	return handlers.NewWebsocketHandler(log, reg, time.Duration(cfg.Server.WebsocketWriteSecs)*time.Second)
}

// provideMediaHandler serves files only for the local provider; remote stores
// hand out their own URLs.
func provideMediaHandler(log *slog.Logger, provider media.StorageProvider) *handlers.MediaHandler {
	files, _ := provider.(handlers.MediaFiles)
	return handlers.NewMediaHandler(log, files)
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	Config         config.Config
	Validator      *handlers.RequestValidator
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.Validator, params.ServerHandlers...)
}

func startScheduleService(lc fx.Lifecycle, log *slog.Logger, svc *schedule.Service, cfg config.Config) {
	if !cfg.Schedule.Enabled {
		log.Info("scheduled sends disabled")
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return svc.Start() },
		OnStop:  func(ctx context.Context) error { return svc.Stop(ctx) },
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
