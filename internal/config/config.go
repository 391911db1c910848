// Package config loads the engine's typed configuration from a TOML
// file, applying defaults to any missing field. RPC credentials may be
// set in the file (bitcoin.rpc_user / bitcoin.rpc_password); the API
// auth token is not part of the file and is read from the environment
// by internal/api.
package config

import (
	"log"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the root configuration tree.
type Config struct {
	Bitcoin       BitcoinConfig       `toml:"bitcoin"`
	Signals       SignalConfig        `toml:"signals"`
	UI            UIConfig            `toml:"ui"`
	Database      DatabaseConfig      `toml:"database"`
	Notifications NotificationConfig  `toml:"notifications"`
}

type BitcoinConfig struct {
	RPCHost      string `toml:"rpc_host"`
	RPCPort      uint16 `toml:"rpc_port"`
	RPCUser      string `toml:"rpc_user"`
	RPCPassword  string `toml:"rpc_password"`
	ZMQRawTx     string `toml:"zmq_rawtx"`
	ZMQHashBlock string `toml:"zmq_hashblock"`
	ZMQSequence  string `toml:"zmq_sequence"`
}

type SignalConfig struct {
	Weights          map[string]float64 `toml:"weights"`
	MinScorePersist  float64            `toml:"min_score_persist"`
	AlertThresholds  AlertThresholds    `toml:"alert_thresholds"`
}

type AlertThresholds struct {
	Critical float64 `toml:"critical"`
	High     float64 `toml:"high"`
	Medium   float64 `toml:"medium"`
}

type UIConfig struct {
	MaxFeedEntries         int `toml:"max_feed_entries"`
	StatsUpdateIntervalTxs int `toml:"stats_update_interval_txs"`
}

type NotificationConfig struct {
	Enabled          bool    `toml:"enabled"`
	MinScore         float64 `toml:"min_score"`
	CooldownSeconds  uint64  `toml:"cooldown_seconds"`
}

type DatabaseConfig struct {
	DSN         string `toml:"dsn"`
	ExchangeCSV string `toml:"exchange_csv"`
}

// Defaults returns the zero-config defaults, mirroring the original
// Rust implementation's per-section defaults.
func Defaults() Config {
	return Config{
		Bitcoin: BitcoinConfig{
			RPCHost:      "127.0.0.1",
			RPCPort:      8332,
			ZMQRawTx:     "tcp://127.0.0.1:28333",
			ZMQHashBlock: "tcp://127.0.0.1:28332",
			ZMQSequence:  "tcp://127.0.0.1:28336",
		},
		Signals: SignalConfig{
			Weights:         map[string]float64{},
			MinScorePersist: 10.0,
			AlertThresholds: AlertThresholds{
				Critical: 80.0,
				High:     60.0,
				Medium:   40.0,
			},
		},
		UI: UIConfig{
			MaxFeedEntries:         500,
			StatsUpdateIntervalTxs: 100,
		},
		Database: DatabaseConfig{
			DSN:         "postgres://localhost:5432/mempool_signals",
			ExchangeCSV: "data/exchange_addresses.csv",
		},
		Notifications: NotificationConfig{
			Enabled:         true,
			MinScore:        60.0,
			CooldownSeconds: 30,
		},
	}
}

// Load reads a TOML file at path, falling back to Defaults() entirely
// if the file is missing, unreadable, or fails to parse. A present
// file is decoded on top of Defaults(), so fields it omits keep their
// default values.
func Load(path string) Config {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[config] failed to read %s: %v, using defaults", path, err)
		} else {
			log.Printf("[config] %s not found, using defaults", path)
		}
		return cfg
	}

	if _, err := toml.Decode(string(data), &cfg); err != nil {
		log.Printf("[config] failed to parse %s: %v, using defaults", path, err)
		return Defaults()
	}

	log.Printf("[config] loaded from %s", path)
	return cfg
}

// RPCCredentials resolves bitcoind RPC credentials in priority order:
// explicit config, then BITCOIND_RPC_USER/BITCOIND_RPC_PASSWORD
// environment variables. It returns two empty strings when neither
// source sets both values. Cookie-file, bitcoin.conf and hard-coded
// fallback resolution is performed by
// internal/bitcoinrpc, which owns filesystem access to the node's
// data directory.
func (c BitcoinConfig) RPCCredentials() (user, pass string) {
	if c.RPCUser != "" && c.RPCPassword != "" {
		return c.RPCUser, c.RPCPassword
	}
	if u := os.Getenv("BITCOIND_RPC_USER"); u != "" {
		if p := os.Getenv("BITCOIND_RPC_PASSWORD"); p != "" {
			return u, p
		}
	}
	return "", ""
}
