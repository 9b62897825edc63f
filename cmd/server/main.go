// Command server runs the WhatsApp sales assistant: webhook intake, the
// durable reply queue, and the operational HTTP surface.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/corkline/wa-sales-backend/internal/ai"
	"github.com/corkline/wa-sales-backend/internal/catalog"
	"github.com/corkline/wa-sales-backend/internal/config"
	httpapi "github.com/corkline/wa-sales-backend/internal/http"
	"github.com/corkline/wa-sales-backend/internal/http/handlers"
	"github.com/corkline/wa-sales-backend/internal/images"
	"github.com/corkline/wa-sales-backend/internal/observability"
	"github.com/corkline/wa-sales-backend/internal/queue"
	"github.com/corkline/wa-sales-backend/internal/repo"
	"github.com/corkline/wa-sales-backend/internal/secure"
	"github.com/corkline/wa-sales-backend/internal/services"
	"github.com/corkline/wa-sales-backend/internal/session"
	"github.com/corkline/wa-sales-backend/internal/sysutil"
	"github.com/corkline/wa-sales-backend/internal/wa"
)

const version = "1.0.0"

func main() {
	_ = godotenv.Load()
	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	gin.SetMode(cfg.GinMode)

	if err := cfg.RequireChannel(); err != nil {
		log.Fatal().Err(err).Msg("channel configuration incomplete")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var otelShutdown func(context.Context) error
	if cfg.OTEL.Enabled {
		shutdown, err := observability.SetupOTel(ctx, cfg.OTEL, version)
		if err != nil {
			log.Error().Err(err).Msg("tracing setup failed, continuing without it")
		} else {
			otelShutdown = shutdown
		}
	}

	// The store is best-effort at startup. Without it the service still
	// answers: intake processes inline, history comes from memory.
	db := openStore(cfg)

	codec, err := secure.NewCodec(cfg.EncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("encryption codec init failed")
	}

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.CatalogPath).Msg("catalog load failed")
	}

	sessions := session.New(session.Options{
		DedupTTL:     cfg.Session.DedupTTL,
		DedupSize:    cfg.Session.DedupSize,
		SentImageTTL: cfg.Session.SentImageTTL,
		MemoryTTL:    cfg.Session.MemoryTTL,
		SenderMinGap: cfg.Session.SenderMinGap,
		MemoryLimit:  cfg.AI.HistoryLimit,
	})
	sessions.StartSweeper(ctx, cfg.Session.SweepInterval)

	manager := ai.NewManager(ai.ManagerOptions{
		SystemPrompt: cfg.AI.SystemPrompt,
		Providers:    buildProviders(cfg.AI),
		CallTimeout:  cfg.AI.CallTimeout,
		CacheTTL:     cfg.AI.CacheTTL,
		CacheSize:    cfg.AI.CacheSize,
		Logger:       log.With().Str("component", "ai").Logger(),
	})

	client := wa.NewClient(wa.ClientOptions{
		BaseURL:       cfg.Channel.GraphBaseURL,
		Version:       cfg.Channel.GraphVersion,
		PhoneNumberID: cfg.Channel.PhoneNumberID,
		Token:         cfg.Channel.Token,
		Throttle:      wa.NewThrottle(cfg.Media.WindowLimit, cfg.Media.Window, cfg.Media.MinInterval),
		Logger:        log.With().Str("component", "wa").Logger(),
	})
	deliverer := wa.NewDeliverer(wa.DelivererOptions{
		Client:      client,
		Validator:   wa.NewURLValidator(cfg.Media.AllowedDomains, nil),
		Fetcher:     &http.Client{Timeout: cfg.Media.FetchTimeout},
		MaxDownload: cfg.Media.MaxDownloadSize,
		TargetSize:  cfg.Media.TargetSize,
		HardCap:     cfg.Media.HardCap,
		HandleTTL:   cfg.Media.HandleTTL,
		CacheSize:   cfg.Media.CacheSize,
		Logger:      log.With().Str("component", "media").Logger(),
	})

	resolver := images.NewResolver(cat, sessions, images.Documents{
		General: cfg.Documents.GeneralPDF,
		Horeca:  cfg.Documents.HorecaPDF,
		Gifting: cfg.Documents.GiftingPDF,
	}, images.WithURLFilter(deliverer.Allowed))

	reply := services.NewReplyService(db, codec, sessions, manager, resolver, deliverer, client,
		log.With().Str("component", "reply").Logger())
	reply.HistoryLimit = cfg.AI.ContextLimit

	var enqueuer services.Enqueuer
	if db != nil {
		pool := queue.NewPool(db, reply.Process, queue.Options{
			Workers:      cfg.Queue.Workers,
			PollInterval: cfg.Queue.PollInterval,
			JobTimeout:   cfg.Queue.JobTimeout,
			RetryBackoff: cfg.Queue.RetryBackoff,
			Logger:       log.With().Str("component", "queue").Logger(),
		})
		go func() {
			if err := pool.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("worker pool stopped")
			}
		}()
		enqueuer = pool
	}

	intake := services.NewIntakeService(sessions, enqueuer, reply,
		log.With().Str("component", "intake").Logger())
	intake.MaxAttempts = cfg.Queue.MaxAttempts

	h := handlers.New(intake, db, codec, manager, sessions, cat, cfg.Channel.VerifyToken, cfg.CatalogPath)
	h.Media = deliverer

	r := gin.New()
	httpapi.RegisterRoutes(r, h, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()
	log.Info().Str("port", cfg.Port).Str("version", version).Msg("listening")

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	if otelShutdown != nil {
		if err := otelShutdown(shCtx); err != nil {
			log.Error().Err(err).Msg("tracing shutdown failed")
		}
	}
}

// openStore opens and migrates the SQLite store. Any failure is logged and
// the process runs memory-only rather than refusing to start.
func openStore(cfg config.Config) *gorm.DB {
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Error().Err(err).Str("path", cfg.DBPath).Msg("store unavailable, running memory-only")
		return nil
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Error().Err(err).Msg("migration failed, running memory-only")
		return nil
	}
	if cfg.OTEL.Enabled {
		if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
			log.Warn().Err(err).Msg("db tracing plugin failed")
		}
	}
	return db
}

// buildProviders assembles the fallback cascade in configured order. A
// provider with no key is skipped rather than added as a guaranteed failure.
func buildProviders(cfg config.AIConfig) []ai.Provider {
	var providers []ai.Provider
	if len(cfg.PrimaryKeys) > 0 {
		providers = append(providers, ai.NewOpenAIProvider(ai.OpenAIOptions{
			Name:        "primary",
			BaseURL:     cfg.PrimaryBaseURL,
			APIKeys:     cfg.PrimaryKeys,
			Model:       cfg.PrimaryModel,
			MaxTokens:   int64(cfg.MaxTokens),
			Temperature: cfg.Temperature,
		}))
	}
	if cfg.SecondaryKey != "" {
		providers = append(providers, ai.NewGeminiProvider(cfg.SecondaryKey, cfg.SecondaryModel, "", nil))
	}
	if cfg.TertiaryKey != "" {
		providers = append(providers, ai.NewOpenAIProvider(ai.OpenAIOptions{
			Name:        "tertiary",
			BaseURL:     cfg.TertiaryBase,
			APIKeys:     []string{cfg.TertiaryKey},
			Model:       cfg.TertiaryModel,
			MaxTokens:   int64(cfg.MaxTokens),
			Temperature: cfg.Temperature,
		}))
	}
	return providers
}
