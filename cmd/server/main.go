package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"

	apihttp "github.com/PalomitasTime/cinema/internal/api/http"
	"github.com/PalomitasTime/cinema/internal/app"
	"github.com/PalomitasTime/cinema/internal/domain"
	"github.com/PalomitasTime/cinema/internal/metrics"
	mongorepo "github.com/PalomitasTime/cinema/internal/repository/mongo"
	"github.com/PalomitasTime/cinema/internal/services/torrent/engine/anacrolix"
	"github.com/PalomitasTime/cinema/internal/telemetry"
	"github.com/PalomitasTime/cinema/internal/usecase"
)

const (
	serviceName          = "cinema"
	engineMetricsPeriod  = 5 * time.Second
	startupTimeout       = 10 * time.Second
	shutdownTimeout      = 10 * time.Second
	streamReadaheadBytes = 2 << 20
)

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.Init(rootCtx, telemetry.Config{
		ServiceName: serviceName,
		Endpoint:    cfg.OTLPEndpoint,
		SampleRate:  cfg.TraceSampleRate,
	})
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", serviceName),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("storageMode", cfg.StorageMode),
		slog.Int64("memoryLimitBytes", cfg.MemoryLimitBytes),
		slog.Int("listenPort", cfg.TorrentListenPort),
		slog.Bool("noDHT", cfg.TorrentNoDHT),
		slog.String("dataDir", cfg.TorrentDataDir),
		slog.Duration("fetchTimeout", cfg.FetchTimeout),
		slog.Bool("history", cfg.MongoURI != ""),
	)

	mongoClient, history := connectHistory(rootCtx, cfg, logger)

	engine, err := anacrolix.New(engineConfig(cfg))
	if err != nil {
		logger.Error("torrent engine init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	sessions := usecase.NewSessionOrchestrator(engine, cfg.FetchTimeout, logger)
	resolveUC := usecase.ResolvePlayback{Sessions: sessions, Logger: logger, Now: time.Now}
	streamUC := usecase.StreamTorrent{Sessions: sessions, ReadaheadBytes: streamReadaheadBytes}

	serverOpts := []apihttp.ServerOption{
		apihttp.WithLogger(logger),
		apihttp.WithSessions(sessions),
		apihttp.WithAllowedOrigins(cfg.CORSAllowedOrigins),
	}
	// Assigned only when connected so the interfaces stay nil otherwise.
	if history != nil {
		resolveUC.History = history
		serverOpts = append(serverOpts, apihttp.WithPlaybackHistory(history))
	}
	serverOpts = append(serverOpts, apihttp.WithResolvePlayback(resolveUC))

	handler := apihttp.NewServer(streamUC, serverOpts...)

	go updateEngineMetrics(rootCtx, engine)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("server started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	handler.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}
	sessions.Close(shutdownCtx)
	if err := engine.Close(); err != nil {
		logger.Warn("engine close error", slog.String("error", err.Error()))
	}
	if mongoClient != nil {
		if err := mongoClient.Disconnect(shutdownCtx); err != nil {
			logger.Warn("mongo disconnect error", slog.String("error", err.Error()))
		}
	}

	logger.Info("server stopped")
}

// connectHistory returns nil values when MONGO_URI is unset. A configured
// but unreachable database is fatal.
func connectHistory(ctx context.Context, cfg app.Config, logger *slog.Logger) (*mongo.Client, *mongorepo.PlaybackHistoryRepository) {
	if cfg.MongoURI == "" {
		logger.Info("playback history disabled")
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	client, err := mongorepo.Connect(ctx, cfg.MongoURI, options.Client().SetMonitor(otelmongo.NewMonitor()))
	if err != nil {
		logger.Error("mongo connect failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		logger.Error("mongo ping failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	repo := mongorepo.NewPlaybackHistoryRepository(client, cfg.MongoDatabase)
	if err := repo.EnsureIndexes(ctx); err != nil {
		logger.Warn("mongo ensure indexes failed", slog.String("error", err.Error()))
	}
	return client, repo
}

func updateEngineMetrics(ctx context.Context, engine *anacrolix.Engine) {
	ticker := time.NewTicker(engineMetricsPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			recordEngineStats(engine.Stats())
		}
	}
}

func recordEngineStats(stats domain.EngineStats) {
	metrics.PeersConnected.Set(float64(stats.Peers))
	metrics.EngineUsefulBytesRead.Set(float64(stats.BytesRead))
	metrics.MemoryStorageBytes.Set(float64(stats.StorageBytes))
}

func engineConfig(cfg app.Config) anacrolix.Config {
	return anacrolix.Config{
		DataDir:          cfg.TorrentDataDir,
		StorageMode:      cfg.StorageMode,
		MemoryLimitBytes: cfg.MemoryLimitBytes,
		ListenPort:       cfg.TorrentListenPort,
		NoDHT:            cfg.TorrentNoDHT,
		DisableTrackers:  cfg.TorrentDisableTrackers,
	}
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	handlerOpts := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, handlerOpts))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
