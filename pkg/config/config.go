// Package config loads server configuration from environment variables
// and an optional .env file.
package config

import (
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds the full server configuration.
type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	DataDir    string `env:"DATA_DIR" envDefault:"./data"`
	JournalDir string `env:"JOURNAL_DIR" envDefault:"./data/journal"`

	// CrankInterval is how often queued requests and pending events are
	// processed, in milliseconds.
	CrankInterval int `env:"CRANK_INTERVAL_MS" envDefault:"100"`
	// SnapshotInterval is how often the region image is persisted and
	// the journal truncated, in milliseconds.
	SnapshotInterval int `env:"SNAPSHOT_INTERVAL_MS" envDefault:"5000"`

	Market MarketConfig `envPrefix:"MARKET_"`
	Kafka  KafkaConfig  `envPrefix:"KAFKA_"`
}

// MarketConfig describes the market served by this process. Addresses
// are 64-character hex strings.
type MarketConfig struct {
	Address    string `env:"ADDRESS,required"`
	BaseVault  string `env:"BASE_VAULT,required"`
	QuoteVault string `env:"QUOTE_VAULT,required"`

	BaseDecimals  uint8 `env:"BASE_DECIMALS" envDefault:"6"`
	QuoteDecimals uint8 `env:"QUOTE_DECIMALS" envDefault:"6"`

	BookNodes uint32 `env:"BOOK_NODES" envDefault:"4096"`
	Requests  uint32 `env:"REQUESTS" envDefault:"256"`
	Events    uint32 `env:"EVENTS" envDefault:"4096"`
	Slots     uint32 `env:"SLOTS" envDefault:"1024"`

	// TakerFeeBps is the tier-0 taker fee; higher tiers halve it.
	TakerFeeBps uint16 `env:"TAKER_FEE_BPS" envDefault:"20"`
}

// KafkaConfig wires the instruction intake, the market-data fills
// feed, and the durable settlement broadcast.
type KafkaConfig struct {
	Brokers          []string `env:"BROKERS" envDefault:"localhost:9092"`
	IntakeTopic      string   `env:"INTAKE_TOPIC" envDefault:"market.instructions"`
	IntakeGroupID    string   `env:"INTAKE_GROUP_ID" envDefault:"matching-engine"`
	FillsTopic       string   `env:"FILLS_TOPIC" envDefault:"market.fills"`
	SettlementTopic  string   `env:"SETTLEMENT_TOPIC" envDefault:"market.settlement"`
	BroadcastEnabled bool     `env:"BROADCAST_ENABLED" envDefault:"true"`
}

// Load reads the configuration; a missing .env file is not an error.
func Load() (Config, error) {
	_ = godotenv.Load()
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
