package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	apiv1 "github.com/NexusGPU/reserva/internal/api/v1"
	"github.com/NexusGPU/reserva/internal/booking"
	"github.com/NexusGPU/reserva/internal/config"
	"github.com/NexusGPU/reserva/internal/notify"
	"github.com/NexusGPU/reserva/internal/stats"
	"github.com/NexusGPU/reserva/internal/store"
)

func main() {
	var configPath string
	var listenAddr string
	flag.StringVar(&configPath, "config", "", "Path to the YAML config file")
	flag.StringVar(&listenAddr, "listen", "", "Listen address, overrides the config file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		// Logger is not up yet.
		panic(err)
	}
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}

	logger := newLogger(cfg)
	defer func() { _ = logger.Sync() }()

	st, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}

	var notifier notify.Notifier = notify.Noop{}
	var publisher *notify.RedisPublisher
	if cfg.RedisAddr != "" {
		publisher, err = notify.NewRedisPublisher(cfg.RedisAddr)
		if err != nil {
			logger.Fatal("failed to connect notification publisher", zap.Error(err))
		}
		notifier = publisher
		defer func() { _ = publisher.Close() }()
	}

	bookingSvc := booking.NewService(st, notifier, logger)
	statsSvc := stats.NewService(st.Machines, st.Reservations)

	var exporter *stats.Exporter
	if publisher != nil {
		exporter = stats.NewExporter(statsSvc, publisher.PublishMetrics, logger)
	}
	janitor := booking.NewJanitor(st.Audit, exporter, cfg.AuditRetention(), logger)
	janitor.Start()
	defer janitor.Stop()

	api := apiv1.New(bookingSvc, statsSvc, st, logger)
	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: api.Router(cfg.RateLimitRPS, cfg.RateLimitBurst),
	}

	go func() {
		logger.Info("server listening", zap.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server stopped", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown incomplete", zap.Error(err))
	}
	bookingSvc.Flush()
}

func openStore(cfg *config.Config, logger *zap.Logger) (*store.Store, error) {
	if cfg.MySQLDSN == "" {
		logger.Warn("no MySQL DSN configured, using the in-memory store")
		return store.NewMemory(), nil
	}
	return store.Open(cfg.MySQLDSN)
}

func newLogger(cfg *config.Config) *zap.Logger {
	if cfg.LogFile == "" {
		logger, err := zap.NewProduction()
		if err != nil {
			panic(err)
		}
		return logger
	}
	writer := zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		writer,
		zap.InfoLevel,
	)
	return zap.New(core)
}
