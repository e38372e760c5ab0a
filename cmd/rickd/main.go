package main

import (
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rickchain/config"
	"rickchain/ledger"
	"rickchain/native/ricks"
	"rickchain/observability/logging"
	"rickchain/storage"
)

func main() {
	configPath := flag.String("config", "./config.toml", "path to the TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := logging.Setup("rickd", cfg.Environment)

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("Failed to open database", slog.String("path", cfg.DataDir), slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	adapter := ledger.NewAdapter(db)
	store := ricks.NewStore(db)
	engine := ricks.NewEngine(store, adapter)
	dispatcher := ricks.NewDispatcher(engine, ricks.SystemClock{})
	dispatcher.SetLogger(logger)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: cfg.MetricsAddress, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server stopped", slog.Any("error", err))
		}
	}()

	logger.Info("rickd started",
		slog.String("network", cfg.NetworkName),
		slog.String("dataDir", cfg.DataDir),
		slog.String("metrics", cfg.MetricsAddress))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("rickd shutting down")
	_ = srv.Close()
}
