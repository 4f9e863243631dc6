// Package app wires configuration, storage, clients and services into the
// shared core used by cmd/tally-server.
package app

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bobmcallan/tally/internal/clients/coingecko"
	"github.com/bobmcallan/tally/internal/clients/eodhd"
	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/services/marketdata"
	"github.com/bobmcallan/tally/internal/services/valuation"
	"github.com/bobmcallan/tally/internal/storage/obsfs"
)

// App holds all initialized services and clients.
type App struct {
	Config           *common.Config
	Logger           *common.Logger
	Store            interfaces.ObservationStore
	EODHDClient      *eodhd.Client
	CoinGeckoClient  *coingecko.Client
	MarketService    interfaces.MarketDataService
	ValuationService interfaces.ValuationService
	StartupTime      time.Time
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// NewApp initializes all services, clients and storage. configPath may be
// empty, in which case the default resolution logic is used.
func NewApp(configPath string) (*App, error) {
	startupStart := time.Now()

	binDir := getBinaryDir()

	// Load configuration: provided path, TALLY_CONFIG, binary dir, then
	// development fallback.
	if configPath == "" {
		configPath = os.Getenv("TALLY_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(binDir, "tally.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/tally.toml"
		}
	}

	config, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Resolve relative storage path to binary directory.
	if config.Storage.Path != "" && !filepath.IsAbs(config.Storage.Path) {
		config.Storage.Path = filepath.Join(binDir, config.Storage.Path)
	}

	logger := common.NewLoggerFromConfig(config.Logging)

	store, err := obsfs.NewStore(logger, config.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize observation store: %w", err)
	}

	a := &App{
		Config:      config,
		Logger:      logger,
		Store:       store,
		StartupTime: startupStart,
	}

	// External sources. Missing credentials degrade to store-only operation.
	var equitySources []interfaces.EquityPriceSource
	var fxSources []interfaces.FxRateSource
	if config.Clients.EODHD.APIKey != "" {
		a.EODHDClient = eodhd.NewClient(config.Clients.EODHD.APIKey,
			eodhd.WithBaseURL(config.Clients.EODHD.BaseURL),
			eodhd.WithLogger(logger),
			eodhd.WithRateLimit(config.Clients.EODHD.RateLimit),
			eodhd.WithTimeout(config.Clients.EODHD.GetTimeout()),
		)
		equitySources = append(equitySources, a.EODHDClient)
		fxSources = append(fxSources, a.EODHDClient.Forex())
	} else {
		logger.Warn().Msg("EODHD API key not configured - equity and FX fetch will be unavailable")
	}

	var cryptoSources []interfaces.CryptoPriceSource
	a.CoinGeckoClient = coingecko.NewClient(config.Clients.CoinGecko.APIKey,
		coingecko.WithBaseURL(config.Clients.CoinGecko.BaseURL),
		coingecko.WithLogger(logger),
		coingecko.WithRateLimit(config.Clients.CoinGecko.RateLimit),
		coingecko.WithTimeout(config.Clients.CoinGecko.GetTimeout()),
	)
	cryptoSources = append(cryptoSources, a.CoinGeckoClient)

	marketCfg := marketdata.Config{
		StoreLookbackDays:  config.Market.StoreLookback(),
		FetchLookbackDays:  config.Market.FetchLookbackDays,
		QuoteStaleness:     config.Market.GetQuoteStaleness(),
		FxIdempotentWrites: config.Market.FxIdempotentWrites,
		EquityRouter:       marketdata.NewEquityRouter(logger, equitySources...),
		CryptoRouter:       marketdata.NewCryptoRouter(logger, cryptoSources...),
		FxRouter:           marketdata.NewFxRouter(logger, fxSources...),
	}

	marketService := marketdata.NewService(store, marketCfg, logger)
	a.MarketService = marketService
	a.ValuationService = valuation.NewService(marketService, logger)

	logger.Info().Dur("startup", time.Since(startupStart)).Msg("App initialized")

	return a, nil
}

// Close releases all resources held by the App.
func (a *App) Close() {
	if a.Store != nil {
		a.Store.Close()
		a.Store = nil
	}
}
