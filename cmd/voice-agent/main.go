package main

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/fluxion/voice-agent/cmd/mainconfig"
	"github.com/fluxion/voice-agent/internal/api/router"
	"github.com/fluxion/voice-agent/internal/archive"
	"github.com/fluxion/voice-agent/internal/bridge"
	appconfig "github.com/fluxion/voice-agent/internal/config"
	"github.com/fluxion/voice-agent/internal/conversation"
	"github.com/fluxion/voice-agent/internal/events"
	"github.com/fluxion/voice-agent/internal/http/handlers"
	httpmiddleware "github.com/fluxion/voice-agent/internal/http/middleware"
	"github.com/fluxion/voice-agent/internal/observability/metrics"
	"github.com/fluxion/voice-agent/internal/session"
	"github.com/fluxion/voice-agent/internal/speech"
	"github.com/fluxion/voice-agent/internal/vertical"
	"github.com/fluxion/voice-agent/pkg/logging"
)

const (
	sweepInterval   = time.Minute
	cleanupInterval = 24 * time.Hour
	shutdownTimeout = 30 * time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	if err != nil {
		logger.Error("configuration invalid", "error", err)
		return appconfig.ExitMissingEnv
	}
	logger.Info("starting sara voice agent",
		"version", cfg.ServiceVersion,
		"addr", cfg.ListenAddr,
		"default_vertical", cfg.DefaultVertical,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsHandler, voiceMetrics := setupMetrics()

	var awsCfg aws.Config
	if cfg.UsesAWS() {
		awsCfg, err = mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			return appconfig.ExitMissingEnv
		}
	}

	bridgeClient := bridge.NewClient(cfg.BridgeURL,
		bridge.WithHTTPClient(&http.Client{Timeout: cfg.BridgeTimeout}),
		bridge.WithLogger(logger),
		bridge.WithMetrics(voiceMetrics),
	)
	cacheOpts := []bridge.SettingsOption{bridge.WithTTL(cfg.SettingsCacheTTL), bridge.WithCacheLogger(logger)}
	if rdb := newRedisClient(cfg); rdb != nil {
		defer func() { _ = rdb.Close() }()
		cacheOpts = append(cacheOpts, bridge.WithRedis(rdb))
	}
	settings := bridge.NewSettingsCache(bridgeClient, cacheOpts...)

	gemini, err := conversation.NewGeminiLLMClient(ctx, cfg.LLMAPIKey, cfg.LLMModel)
	if err != nil {
		logger.Error("failed to create gemini client", "error", err)
		return appconfig.ExitMissingEnv
	}
	defer func() { _ = gemini.Close() }()
	llm := newLLMChain(cfg, awsCfg, gemini, logger, voiceMetrics)

	registryOpts := []vertical.Option{vertical.WithVariableSource(settings), vertical.WithLogger(logger)}
	if cfg.LLMEmbeddingModel != "" {
		registryOpts = append(registryOpts, vertical.WithEmbedder(conversation.NewGeminiEmbedder(gemini, cfg.LLMEmbeddingModel)))
	}
	registry := vertical.NewRegistry(cfg.VerticalsPath, registryOpts...)
	if err := registry.LoadAll(); err != nil {
		logger.Error("vertical configs invalid", "error", err, "path", cfg.VerticalsPath)
		return appconfig.ExitVerticalInvalid
	}
	if _, ok := registry.Get(cfg.DefaultVertical); !ok {
		logger.Error("default vertical not found", "vertical", cfg.DefaultVertical, "available", registry.List())
		return appconfig.ExitVerticalInvalid
	}

	store, err := session.Open(cfg.LocalStoreDriver, cfg.LocalStorePath)
	if err != nil {
		logger.Error("local store unavailable", "error", err, "driver", cfg.LocalStoreDriver)
		return appconfig.ExitStoreUnavailable
	}
	defer func() { _ = store.Close() }()
	if err := store.Migrate(false); err != nil {
		logger.Error("local store migration failed", "error", err)
		return appconfig.ExitStoreUnavailable
	}

	sessionOpts := []session.Option{
		session.WithMirror(bridgeClient),
		session.WithTimeout(cfg.SessionTimeout),
		session.WithRetention(session.Retention{
			PersonalData: cfg.Retention.PersonalData,
			Consent:      cfg.Retention.Consent,
			Booking:      cfg.Retention.Booking,
			VoiceSession: cfg.Retention.VoiceSession,
		}),
		session.WithAnonymize(cfg.Anonymize),
		session.WithLogger(logger),
		session.WithMetrics(voiceMetrics),
	}
	if cfg.ArchiveBucket != "" {
		s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.UsePathStyle = cfg.AWSEndpointOverride != ""
		})
		sessionOpts = append(sessionOpts, session.WithArchiver(archive.NewS3Archiver(s3Client, cfg.ArchiveBucket, logger)))
	}
	manager := session.NewManager(store, sessionOpts...)
	if n, err := manager.Recover(ctx); err != nil {
		logger.Warn("session recovery failed", "error", err)
	} else if n > 0 {
		logger.Info("sessions recovered", "count", n)
	}

	var publisher events.Publisher = events.NewLogPublisher(logger)
	if cfg.BookingEventsQueueURL != "" {
		publisher = events.NewSQSPublisher(sqs.NewFromConfig(awsCfg), cfg.BookingEventsQueueURL)
	}

	machines := conversation.NewMachines(bridgeClient, bridgeClient, time.Now, cfg.Location(), logger)
	broadcaster := conversation.NewBroadcaster()
	pipeline := conversation.NewPipeline(manager, registry, machines,
		conversation.WithLLM(llm, cfg.LLMModel),
		conversation.WithLLMTimeout(cfg.LLMTimeout),
		conversation.WithPublisher(publisher),
		conversation.WithMetrics(voiceMetrics),
		conversation.WithLogger(logger),
		conversation.WithDefaults(cfg.DefaultVertical, cfg.BusinessName),
		conversation.WithBroadcaster(broadcaster),
	)
	dispatcher := conversation.NewDispatcher(pipeline,
		conversation.WithTurnTimeout(cfg.TurnTimeout),
		conversation.WithWorkerIdle(cfg.WorkerIdle),
		conversation.WithDispatcherLogger(logger),
	)

	limiter := httpmiddleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	go limiter.Run(ctx)
	go manager.RunSweeper(ctx, sweepInterval)
	go manager.RunCleanup(ctx, cleanupInterval)

	stt, tts := newSpeech(cfg, logger)
	r := router.New(&router.Config{
		Logger:  logger,
		Version: cfg.ServiceVersion,
		Voice: handlers.NewVoiceHandler(handlers.VoiceHandlerConfig{
			Turns:         dispatcher,
			Conversations: pipeline,
			Transcriber:   stt,
			Synthesizer:   tts,
			LLMState:      llm.State,
			Logger:        logger,
		}),
		Sessions:           handlers.NewSessionsHandler(manager, cfg.Location(), logger),
		Stream:             handlers.NewStreamHandler(broadcaster, cfg.CORSAllowedOrigins, logger),
		MetricsHandler:     metricsHandler,
		JWTSecret:          cfg.APIJWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:        limiter,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	code := appconfig.ExitOK
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		logger.Error("server error", "error", err)
		code = 1
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	dispatcher.Close()
	manager.Wait()

	logger.Info("voice agent stopped")
	return code
}

// setupMetrics registers the voice metrics on a private registry along
// with the runtime collectors.
func setupMetrics() (http.Handler, *metrics.VoiceMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewVoiceMetrics(reg)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}), m
}

// newLLMChain wraps Gemini with the Bedrock fallback when configured and
// guards the result with a circuit breaker.
func newLLMChain(cfg *appconfig.Config, awsCfg aws.Config, primary conversation.LLMClient, logger *logging.Logger, m *metrics.VoiceMetrics) *conversation.BreakerLLMClient {
	client := primary
	if cfg.BedrockModelID != "" {
		bedrock := conversation.NewBedrockLLMClient(bedrockruntime.NewFromConfig(awsCfg), cfg.BedrockModelID)
		client = conversation.NewFallbackLLMClient(primary, bedrock, logger, m)
		logger.Info("llm fallback enabled", "provider", "bedrock", "model", cfg.BedrockModelID)
	}
	return conversation.NewBreakerLLMClient("llm", client, logger, m)
}

func newRedisClient(cfg *appconfig.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	opts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return redis.NewClient(opts)
}

// newSpeech returns nil interfaces for sidecars that are not configured.
func newSpeech(cfg *appconfig.Config, logger *logging.Logger) (speech.Transcriber, speech.Synthesizer) {
	var (
		stt speech.Transcriber
		tts speech.Synthesizer
	)
	if cfg.STTURL != "" {
		stt = speech.NewSTTClient(cfg.STTURL, speech.WithLogger(logger))
	}
	if cfg.TTSURL != "" {
		tts = speech.NewTTSClient(cfg.TTSURL, speech.WithLogger(logger))
	}
	if stt == nil || tts == nil {
		logger.Info("speech sidecars partially configured", "stt", stt != nil, "tts", tts != nil)
	}
	return stt, tts
}
