package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gobwas/ws"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/amr-shafiq/live-stock-market/cmd/gateway/internal/gateway"
	"github.com/amr-shafiq/live-stock-market/cmd/gateway/internal/hub"
	"github.com/amr-shafiq/live-stock-market/cmd/gateway/internal/repository"
	"github.com/amr-shafiq/live-stock-market/pkg/config"
	"github.com/amr-shafiq/live-stock-market/pkg/ledger"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, err := config.NewLogger(cfg.App, cfg.Logger)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	repo := repository.NewRedisStore(rdb)

	// The ledger resolves market orders against the same latest-quote
	// keys the processor maintains.
	engine := ledger.New(logger, repo, decimal.NewFromFloat(cfg.Ledger.StartingBalance))

	// Dependency Injection: Hub depends on the Repository Interface
	wsHub := hub.NewHub(repo, engine, logger)
	wsHub.TrackSymbols(cfg.Fetcher.Symbols)

	validTickers := make(map[string]bool)
	for _, t := range cfg.Fetcher.Symbols {
		validTickers[t] = true
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}

		client := gateway.NewClient(conn, wsHub, logger, validTickers)
		client.Start()
	})

	srv := &http.Server{Addr: cfg.App.Port, Handler: mux}

	go func() {
		logger.Info("Gateway Started", zap.String("port", cfg.App.Port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("HTTP Error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	srv.Shutdown(context.Background())
	repo.Close()
	logger.Info("Shutdown Complete")
}
