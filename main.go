package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cdr.dev/slog/v3"
	"cdr.dev/slog/v3/sloggers/sloghuman"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/taxibcn/reten/internal/config"
	"github.com/taxibcn/reten/internal/geofence"
	"github.com/taxibcn/reten/internal/ledger"
	"github.com/taxibcn/reten/internal/middleware"
	"github.com/taxibcn/reten/internal/ratelimit"
	"github.com/taxibcn/reten/internal/zones"
)

func RootHandler(w http.ResponseWriter, r *http.Request) {
	response := "Server is up!"
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, response)
}

var levels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func main() {
	_ = godotenv.Load(".env.local")

	logger := slog.Make(sloghuman.Sink(os.Stderr))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadFromEnv()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		logger.Fatal(ctx, "invalid configuration", slog.Error(err))
	}
	logger = logger.Leveled(levels[cfg.LogLevel])

	reg, err := zones.Load(cfg.ZonesFile)
	if err != nil {
		logger.Fatal(ctx, "load zones", slog.Error(err))
	}
	logger.Info(ctx, "zones loaded", slog.F("zones", reg.Names()))

	store, closeStore, err := geofence.OpenStore(cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		logger.Fatal(ctx, "open ledger", slog.Error(err))
	}
	defer closeStore()
	if err := geofence.Ping(ctx, store); err != nil {
		logger.Fatal(ctx, "ledger unreachable", slog.Error(err))
	}

	pub := geofence.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer pub.Close()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	l := ledger.New(store, cfg.Envelope, cfg.MinDwellSamples)
	svc := geofence.NewService(reg, l, ratelimit.New(l, cfg.EntryCooldown), logger.Named("geofence"), geofence.Options{
		Tolerance: cfg.Tolerance,
		Window:    cfg.Window,
		Publisher: pub,
		Metrics:   geofence.NewMetrics(promReg),
	})

	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.RequestLogger(logger.Named("http")))
	r.Get("/", RootHandler)
	r.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))

	r.Mount("/geofence", geofence.NewHandler(svc, logger.Named("geofence")).SetupRoutes(cfg.ChecksPerMinute))

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info(ctx, "server listening", slog.F("port", cfg.Port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error(ctx, "server stopped", slog.Error(err))
	}
}
