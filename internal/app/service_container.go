package app

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"offramp-backend/internal/chain"
	"offramp-backend/internal/clients"
	"offramp-backend/internal/config"
	"offramp-backend/internal/db"
	"offramp-backend/internal/events"
	"offramp-backend/internal/handlers"
	"offramp-backend/internal/repository"
	"offramp-backend/internal/services"
	"offramp-backend/internal/wallet"
)

// ServiceContainer wires repositories, clients and services together.
// Construction order follows the dependency direction; anything that
// fails here aborts startup before the server binds.
type ServiceContainer struct {
	Config *config.Config

	TransactionRepo repository.TransactionRepository
	SettingsRepo    repository.SettingsRepository
	SwapAttemptRepo repository.SwapAttemptRepository

	ChainClient *chain.Client
	Deriver     *wallet.Deriver
	Publisher   *events.Publisher

	OfframpService    *services.OfframpService
	SettlementService *services.SettlementService
	SweepScheduler    *services.SweepSchedulerService

	HealthHandler   *handlers.HealthHandler
	OfframpHandler  *handlers.OfframpHandler
	SettingsHandler *handlers.SettingsHandler
}

// NewServiceContainer builds the full dependency graph.
func NewServiceContainer(cfg *config.Config) (*ServiceContainer, error) {
	txRepo := repository.NewTransactionRepository(db.DB)
	settingsRepo := repository.NewSettingsRepository(db.DB)
	attemptRepo := repository.NewSwapAttemptRepository(db.DB)

	chainClient, err := chain.Dial(cfg.Chain)
	if err != nil {
		return nil, fmt.Errorf("failed to connect chain client: %w", err)
	}

	deriver, err := wallet.NewDeriver(cfg.Custody.MasterSeed, cfg.Custody.KeyEncryptionKey)
	if err != nil {
		return nil, err
	}

	publisher, err := events.NewPublisher(cfg.NATS)
	if err != nil {
		return nil, err
	}

	providers := buildProviders(cfg, chainClient)
	if len(providers) == 0 {
		return nil, fmt.Errorf("no swap providers enabled")
	}

	scanner := services.NewWalletScannerService(chainClient, &cfg.Chain)
	swapRouter := services.NewSwapRouterService(providers, attemptRepo)

	emptier, err := services.NewWalletEmptierService(chainClient, deriver, scanner, swapRouter, cfg)
	if err != nil {
		return nil, err
	}

	paystack := clients.NewPaystackClient(cfg.Payout.BaseURL, cfg.Payout.SecretKey, time.Duration(cfg.Payout.Timeout)*time.Second)
	payout, err := services.NewPayoutService(paystack, settingsRepo, txRepo)
	if err != nil {
		return nil, err
	}

	settlement := services.NewSettlementService(txRepo, scanner, emptier, payout, publisher, cfg.Chain.SettlementToken.Decimals)
	offramp := services.NewOfframpService(txRepo, attemptRepo, deriver,
		time.Duration(cfg.Settlement.AbandonAfterHours)*time.Hour)
	scheduler := services.NewSweepSchedulerService(txRepo, settlement, cfg.Settlement)

	return &ServiceContainer{
		Config:            cfg,
		TransactionRepo:   txRepo,
		SettingsRepo:      settingsRepo,
		SwapAttemptRepo:   attemptRepo,
		ChainClient:       chainClient,
		Deriver:           deriver,
		Publisher:         publisher,
		OfframpService:    offramp,
		SettlementService: settlement,
		SweepScheduler:    scheduler,
		HealthHandler:     handlers.NewHealthHandler(db.DB),
		OfframpHandler:    handlers.NewOfframpHandler(offramp, settlement),
		SettingsHandler:   handlers.NewSettingsHandler(settingsRepo),
	}, nil
}

// buildProviders assembles the swap layers in fallback order: gasless
// first, then the priced 0x swap, the direct AMM route and OpenOcean.
func buildProviders(cfg *config.Config, backend chain.Backend) []services.SwapProvider {
	var providers []services.SwapProvider

	if cfg.Swap.ZeroEx.Enabled {
		gasless := clients.NewZeroExGaslessClient(cfg.Swap.ZeroEx.BaseURL, cfg.Swap.ZeroEx.APIKey)
		swap := clients.NewZeroExSwapClient(cfg.Swap.ZeroEx.BaseURL, cfg.Swap.ZeroEx.APIKey)
		providers = append(providers,
			services.NewZeroExGaslessProvider(gasless, cfg.Chain.ChainID),
			services.NewZeroExSwapProvider(swap, cfg.Chain.ChainID),
		)
	}
	if cfg.Chain.AMMRouter != "" && cfg.Chain.WrappedNative != "" {
		providers = append(providers, services.NewAMMProvider(backend,
			common.HexToAddress(cfg.Chain.AMMRouter),
			common.HexToAddress(cfg.Chain.WrappedNative)))
	}
	if cfg.Swap.OpenOcean.Enabled {
		openocean := clients.NewOpenOceanClient(cfg.Swap.OpenOcean.BaseURL)
		providers = append(providers, services.NewOpenOceanProvider(openocean, backend, cfg.Chain.ChainID))
	}
	return providers
}

// Close releases external connections.
func (c *ServiceContainer) Close() {
	if c.SweepScheduler != nil {
		c.SweepScheduler.Stop()
	}
	c.Publisher.Close()
}
