package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"xrp-grid-bot-go/internal/advisor"
	"xrp-grid-bot-go/internal/config"
	"xrp-grid-bot-go/internal/errreport"
	"xrp-grid-bot-go/internal/exchange"
	"xrp-grid-bot-go/internal/ledger"
	"xrp-grid-bot-go/internal/lifecycle"
	"xrp-grid-bot-go/internal/logger"
	"xrp-grid-bot-go/internal/models"
	"xrp-grid-bot-go/internal/notifier"
	"xrp-grid-bot-go/internal/persistence"
	"xrp-grid-bot-go/internal/reporter"
	"xrp-grid-bot-go/internal/supervisor"

	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the config file")
	flag.Parse()

	// A default logger so config loading itself can be logged; reinitialized
	// with the file's log settings right after.
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	if err := godotenv.Load(); err != nil {
		logger.S().Info("No .env file found, reading credentials from the environment.")
	} else {
		logger.S().Info("Loaded credentials from .env.")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("Failed to load config: %v", err)
	}

	logger.InitLogger(cfg.Log)
	defer logger.S().Sync()

	apiKey := os.Getenv("BINANCE_API_KEY")
	secretKey := os.Getenv("BINANCE_SECRET_KEY")
	if apiKey == "" || secretKey == "" {
		logger.S().Fatal("BINANCE_API_KEY and BINANCE_SECRET_KEY must be set.")
	}

	gateway := exchange.NewBinanceExchange(apiKey, secretKey, cfg.Exchange)
	gateway.StartPriceStream(cfg.Exchange.WSBaseURL, cfg.Grid.Pair)
	defer gateway.Close()

	repo, err := persistence.NewBadgerRepository(cfg.DBPath)
	if err != nil {
		logger.S().Fatalf("Failed to open the trade store: %v", err)
	}
	defer repo.Close()

	book := ledger.New(repo, logger.S())
	if err := book.Load(); err != nil {
		logger.S().Fatalf("Failed to load the trade ledger: %v", err)
	}

	notify, stopNotifier := notifier.Build(cfg.Notifier, os.Getenv("TELEGRAM_BOT_TOKEN"))
	defer stopNotifier()

	errors := errreport.NewHandler(notify)
	orders := lifecycle.NewManager(gateway, book, errors, logger.S())
	trends := advisor.NewSMAAdvisor(gateway)
	reports := reporter.New(cfg.DataDir, logger.S())

	sup := supervisor.New(cfg.Grid, gateway, orders, book, trends, reports, notify, errors, logger.S())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sup.Run(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.S().Info("Shutdown signal received, stopping the supervisor.")
	cancel()
	<-done
	logger.S().Info("Bot stopped.")
}
