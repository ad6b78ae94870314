package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config application configuration structure
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Chain      ChainConfig      `yaml:"chain"`
	Custody    CustodyConfig    `yaml:"custody"`
	Swap       SwapConfig       `yaml:"swap"`
	Payout     PayoutConfig     `yaml:"payout"`
	Settlement SettlementConfig `yaml:"settlement"`
	Auth       AuthConfig       `yaml:"auth"`
	NATS       NATSConfig       `yaml:"nats"`
	CORS       CORSConfig       `yaml:"cors"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig database configuration
type DatabaseConfig struct {
	DSN    string `yaml:"dsn"`
	Driver string `yaml:"driver"`
}

// TokenConfig describes one ERC-20 token the scanner checks for
type TokenConfig struct {
	Address  string `yaml:"address"`
	Symbol   string `yaml:"symbol"`
	Decimals int    `yaml:"decimals"`
}

// ChainConfig configuration for the single settlement network
type ChainConfig struct {
	ChainID         int64         `yaml:"chainId"`
	Name            string        `yaml:"name"`
	RPCEndpoints    []string      `yaml:"rpcEndpoints"`
	GasPrice        string        `yaml:"gasPrice"` // wei, or "auto"
	GasLimit        uint64        `yaml:"gasLimit"`
	ConfirmTimeout  int           `yaml:"confirmTimeout"` // seconds to wait for a receipt
	NativeSymbol    string        `yaml:"nativeSymbol"`
	NativeDecimals  int           `yaml:"nativeDecimals"`
	WrappedNative   string        `yaml:"wrappedNative"` // WBNB/WETH, used by the AMM route
	AMMRouter       string        `yaml:"ammRouter"`     // V2-style router contract
	SettlementToken TokenConfig   `yaml:"settlementToken"`
	Tokens          []TokenConfig `yaml:"tokens"` // candidate tokens for wallet scanning
}

// CustodyConfig key material for deposit wallets and the treasury pool.
// All three secrets are normally injected via environment variables.
type CustodyConfig struct {
	MasterSeed         string `yaml:"masterSeed"`         // hex, >= 32 bytes
	KeyEncryptionKey   string `yaml:"keyEncryptionKey"`   // hex, 32 bytes (AES-256)
	TreasuryAddress    string `yaml:"treasuryAddress"`    // settlement pool address
	TreasuryPrivateKey string `yaml:"treasuryPrivateKey"` // hex, signs gas-funding transfers
}

// SwapProviderConfig one aggregator endpoint
type SwapProviderConfig struct {
	BaseURL string `yaml:"baseUrl"`
	APIKey  string `yaml:"apiKey"`
	Enabled bool   `yaml:"enabled"`
}

// SwapConfig swap routing configuration
type SwapConfig struct {
	SlippageBps int                `yaml:"slippageBps"` // default 100 (1%)
	ZeroEx      SwapProviderConfig `yaml:"zeroEx"`
	OpenOcean   SwapProviderConfig `yaml:"openOcean"`
}

// PayoutConfig bank transfer provider configuration
type PayoutConfig struct {
	BaseURL   string `yaml:"baseUrl"`
	SecretKey string `yaml:"secretKey"`
	Timeout   int    `yaml:"timeout"` // seconds
}

// SettlementConfig periodic sweep and retention configuration
type SettlementConfig struct {
	SweepSchedule     string `yaml:"sweepSchedule"`     // cron spec, default "@every 2m"
	AbandonAfterHours int    `yaml:"abandonAfterHours"` // default 24
	MaxConcurrent     int    `yaml:"maxConcurrent"`     // settlements per sweep run
}

// AuthConfig JWT configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwtSecret"`
}

// NATSConfig status event publishing configuration (optional)
type NATSConfig struct {
	URL           string `yaml:"url"`
	Timeout       int    `yaml:"timeout"`
	SubjectPrefix string `yaml:"subjectPrefix"`
}

// CORSConfig CORS configuration
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowedOrigins"`
	AllowCredentials bool     `yaml:"allowCredentials"`
	MaxAge           int      `yaml:"maxAge"`
}

var AppConfig *Config

// LoadConfig loads the configuration file, applies environment overrides
// and validates the parts that must be present before touching funds.
func LoadConfig(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
		if _, err := os.Stat("config.local.yaml"); err == nil {
			configPath = "config.local.yaml"
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	overrideFromEnv(&config)
	applyDefaults(&config)

	if err := config.Validate(); err != nil {
		return err
	}

	AppConfig = &config
	return nil
}

func applyDefaults(config *Config) {
	if config.Swap.SlippageBps <= 0 {
		config.Swap.SlippageBps = 100
	}
	if config.Settlement.SweepSchedule == "" {
		config.Settlement.SweepSchedule = "@every 2m"
	}
	if config.Settlement.AbandonAfterHours <= 0 {
		config.Settlement.AbandonAfterHours = 24
	}
	if config.Settlement.MaxConcurrent <= 0 {
		config.Settlement.MaxConcurrent = 4
	}
	if config.Chain.ConfirmTimeout <= 0 {
		config.Chain.ConfirmTimeout = 180
	}
	if config.Payout.Timeout <= 0 {
		config.Payout.Timeout = 30
	}
	if config.NATS.SubjectPrefix == "" {
		config.NATS.SubjectPrefix = "offramp"
	}
}

// Validate rejects configurations that would make custody unsafe.
// Missing secrets are configuration errors and abort startup.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN is required")
	}
	if len(c.Chain.RPCEndpoints) == 0 {
		return fmt.Errorf("at least one RPC endpoint is required")
	}
	if c.Custody.MasterSeed == "" {
		return fmt.Errorf("custody master seed is not configured")
	}
	if c.Custody.KeyEncryptionKey == "" {
		return fmt.Errorf("custody key encryption key is not configured")
	}
	if c.Custody.TreasuryAddress == "" || c.Custody.TreasuryPrivateKey == "" {
		return fmt.Errorf("treasury address and private key are required")
	}
	if c.Chain.SettlementToken.Address == "" {
		return fmt.Errorf("settlement token is not configured")
	}
	if c.Payout.SecretKey == "" {
		return fmt.Errorf("payout provider secret key is not configured")
	}
	return nil
}

// overrideFromEnv applies environment variable overrides
func overrideFromEnv(config *Config) {
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if rpc := os.Getenv("CHAIN_RPC_ENDPOINTS"); rpc != "" {
		config.Chain.RPCEndpoints = splitAndTrim(rpc)
	}
	if gasPrice := os.Getenv("CHAIN_GAS_PRICE"); gasPrice != "" {
		config.Chain.GasPrice = gasPrice
	}

	if seed := os.Getenv("MASTER_SEED"); seed != "" {
		config.Custody.MasterSeed = seed
	}
	if kek := os.Getenv("KEY_ENCRYPTION_KEY"); kek != "" {
		config.Custody.KeyEncryptionKey = kek
	}
	if addr := os.Getenv("TREASURY_ADDRESS"); addr != "" {
		config.Custody.TreasuryAddress = addr
	}
	if key := os.Getenv("TREASURY_PRIVATE_KEY"); key != "" {
		config.Custody.TreasuryPrivateKey = key
	}

	if apiKey := os.Getenv("ZEROEX_API_KEY"); apiKey != "" {
		config.Swap.ZeroEx.APIKey = apiKey
	}
	if secret := os.Getenv("PAYOUT_SECRET_KEY"); secret != "" {
		config.Payout.SecretKey = secret
	}
	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		config.Auth.JWTSecret = jwtSecret
	}
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		config.NATS.URL = natsURL
	}
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		config.CORS.AllowedOrigins = splitAndTrim(corsOrigins)
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
