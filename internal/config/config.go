package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/gagliardetto/solana-go"

	"dicegame/internal/oracle"
	"dicegame/internal/service"
)

// Config is the process configuration read from the environment
type Config struct {
	Port         string `env:"PORT" envDefault:"8080"`
	DatabasePath string `env:"DATABASE_PATH" envDefault:"/app/data/dice.db"`

	AuthorityPublicKey string `env:"AUTHORITY_PUBLIC_KEY,required"`
	OraclePublicKey    string `env:"ORACLE_PUBLIC_KEY"`
	// OraclePrivateKey enables the in-process oracle worker
	OraclePrivateKey   string        `env:"ORACLE_PRIVATE_KEY"`
	OraclePollInterval time.Duration `env:"ORACLE_POLL_INTERVAL" envDefault:"5s"`

	HouseEdgeBps   uint16        `env:"HOUSE_EDGE_BPS" envDefault:"150"`
	MinBetLamports uint64        `env:"MIN_BET_LAMPORTS" envDefault:"1000000"`
	MaxBetLamports uint64        `env:"MAX_BET_LAMPORTS" envDefault:"10000000000"`
	RefundTimeout  time.Duration `env:"REFUND_TIMEOUT" envDefault:"10m"`

	WelcomeBonusLamports uint64 `env:"WELCOME_BONUS_LAMPORTS" envDefault:"10000000000"`

	RedisURL         string `env:"REDIS_URL"`
	SettlementStream string `env:"SETTLEMENT_STREAM" envDefault:"dice.settlements"`

	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN"`
	ChannelID        string `env:"CHANNEL_ID"`

	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// Load parses the environment
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("cannot parse environment: %w", err)
	}
	return cfg, nil
}

// Authority is the only wallet allowed to initialize the game
func (c *Config) Authority() (solana.PublicKey, error) {
	pk, err := solana.PublicKeyFromBase58(c.AuthorityPublicKey)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid AUTHORITY_PUBLIC_KEY: %w", err)
	}
	return pk, nil
}

// OracleSigner returns nil when no private key is configured
func (c *Config) OracleSigner() (*oracle.Signer, error) {
	if c.OraclePrivateKey == "" {
		return nil, nil
	}
	signer, err := oracle.NewSignerFromBase58(c.OraclePrivateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid ORACLE_PRIVATE_KEY: %w", err)
	}
	return signer, nil
}

// Params builds the initialization parameters. The oracle key may be given
// directly or derived from the private key.
func (c *Config) Params() (service.InitParams, error) {
	params := service.InitParams{
		HouseEdgeBps:  c.HouseEdgeBps,
		MinBet:        c.MinBetLamports,
		MaxBet:        c.MaxBetLamports,
		RefundTimeout: c.RefundTimeout,
	}

	signer, err := c.OracleSigner()
	if err != nil {
		return params, err
	}

	switch {
	case c.OraclePublicKey != "":
		pk, err := solana.PublicKeyFromBase58(c.OraclePublicKey)
		if err != nil {
			return params, fmt.Errorf("invalid ORACLE_PUBLIC_KEY: %w", err)
		}
		if signer != nil && signer.PublicKey() != pk {
			return params, errors.New("ORACLE_PUBLIC_KEY does not match ORACLE_PRIVATE_KEY")
		}
		params.OraclePublicKey = pk
	case signer != nil:
		params.OraclePublicKey = signer.PublicKey()
	default:
		return params, errors.New("one of ORACLE_PUBLIC_KEY or ORACLE_PRIVATE_KEY is required")
	}

	if err := params.Validate(); err != nil {
		return params, err
	}
	return params, nil
}
