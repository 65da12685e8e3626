package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"routstr-proxy/config"
	"routstr-proxy/internal/audit"
	"routstr-proxy/internal/cashu"
	"routstr-proxy/internal/catalog"
	"routstr-proxy/internal/database"
	"routstr-proxy/internal/ledger"
	"routstr-proxy/internal/oracle"
	"routstr-proxy/internal/pricing"
	"routstr-proxy/internal/proxy"
	"routstr-proxy/pkg/cache"
	"routstr-proxy/pkg/logger"

	"github.com/jinzhu/copier"
	"go.uber.org/zap"
)

var cfg config.ProxyConfig

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := logger.Init(logger.GetEnv()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	_, filename, _, _ := runtime.Caller(0)
	root := filepath.Dir(filepath.Dir(filepath.Dir(filename)))
	configPath := config.Path(root).Join("config.toml")

	if err := config.Load(configPath, &cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Info("starting metered proxy...")

	var redisCfg cache.Config
	if err := copier.Copy(&redisCfg, &cfg.Redis); err != nil {
		return fmt.Errorf("failed to copy cache config: %w", err)
	}
	if err := cache.Init(redisCfg); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer cache.Close()

	var dbCfg database.Config
	if err := copier.Copy(&dbCfg, &cfg.Database); err != nil {
		return fmt.Errorf("failed to copy database config: %w", err)
	}
	db, err := database.NewDB(dbCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	settingsRepo := database.NewSettingsRepository(db)

	priceOracle, err := oracle.New(oracle.Config{
		ExchangeFee:  cfg.Oracle.ExchangeFee,
		PollInterval: time.Duration(cfg.Oracle.PollSeconds) * time.Second,
		FetchTimeout: time.Duration(cfg.Oracle.FetchTimeoutSecs) * time.Second,
	}, settingsRepo)
	if err != nil {
		return fmt.Errorf("failed to construct price oracle: %w", err)
	}
	go func() {
		if err := priceOracle.Run(ctx); err != nil && err != context.Canceled {
			logger.Error("price oracle stopped", zap.Error(err))
		}
	}()

	modelRepo := database.NewModelRepository(db)
	accountRepo := database.NewAccountRepository(db)

	modelCatalog := catalog.New(priceOracle, cfg.Pricing.ModelCatalogPath, modelRepo)
	if err := modelCatalog.LoadFromFile(); err != nil {
		logger.Warn("failed to load model catalogue from file, falling back to database snapshot", zap.Error(err))
		if err := modelCatalog.LoadFromDB(ctx); err != nil {
			logger.Warn("no model catalogue available at startup, model-based pricing disabled until first refresh", zap.Error(err))
		}
	}
	go modelCatalog.Run(ctx, time.Duration(cfg.Pricing.CatalogRefreshSeconds)*time.Second)

	wallet := cashu.NewClient(cashu.Config{
		DefaultMintURL: cfg.Cashu.MintURL,
		SendRetries:    int(cfg.Cashu.SendRetries),
		RequestTimeout: time.Duration(cfg.Cashu.RequestTimeout) * time.Second,
	}, nil)

	accountLedger := ledger.New(accountRepo)

	recorder := audit.NewRecorder(audit.NewStreamQueue(cache.Client))

	calculator := pricing.New(pricing.Config{
		ModelBasedPricing:   cfg.Pricing.ModelBasedPricing,
		CostPerRequestMsat:  cfg.Pricing.CostPerRequestSats * 1000,
		CostPer1kInputMsat:  cfg.Pricing.CostPer1kInputSats * 1000,
		CostPer1kOutputMsat: cfg.Pricing.CostPer1kOutputSats * 1000,
	}, modelCatalog)

	var refundKey []byte
	if cfg.Crypto.RefundAddressKeyB64 != "" {
		refundKey, err = base64.StdEncoding.DecodeString(cfg.Crypto.RefundAddressKeyB64)
		if err != nil {
			return fmt.Errorf("failed to decode refund address encryption key: %w", err)
		}
	}

	handler := proxy.New(proxy.Config{
		UpstreamBaseURL:           cfg.Upstream.BaseURL,
		UpstreamAPIKey:            cfg.Upstream.APIKey,
		ChatCompletionsAPIVersion: cfg.Upstream.ChatCompletionsAPIVer,
		ModelBasedPricing:         cfg.Pricing.ModelBasedPricing,
		CostPerRequestMsat:        cfg.Pricing.CostPerRequestSats * 1000,
		TolerancePercent:          cfg.Pricing.TolerancePercentage,
		DefaultRefundMintURL:      cfg.Cashu.MintURL,
		RefundAddressKey:          refundKey,
	}, modelCatalog, accountLedger, wallet, calculator, recorder, &http.Client{})

	router := proxy.NewRouter(handler)

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		logger.Info("proxy listening", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server stopped unexpectedly", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown did not complete cleanly", zap.Error(err))
	}

	time.Sleep(500 * time.Millisecond)
	logger.Info("proxy shut down gracefully")
	return nil
}
