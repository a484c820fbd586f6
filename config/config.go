// Package config loads the node configuration from an INI style file with
// environment overrides for secrets and deployment specific paths.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/gcfg.v1"
)

// Config is the node configuration. Section and variable names in the file
// match the field names case-insensitively.
type Config struct {
	Ledger struct {
		DataDir  string
		InMemory bool
	}
	Crypto struct {
		Algorithm  string // aes-gcm | chacha20poly1305
		Passphrase string
		Salt       string
		SigningKey string // hex ed25519 seed, generated at startup when empty
	}
	Ingest struct {
		FraudThreshold float64
		Model          string // none | logistic
		ModelBias      float64
		AmountWeight   float64
		TypeWeight     float64
		HourWeight     float64
	}
	Reputation struct {
		Credential []string // hex encoded credentials; empty accepts any feedback
	}
	Network struct {
		Listen           string
		Peer             []string
		TimeoutInSeconds int
		CertFile         string // PEM certificate; enables TLS between peers
		KeyFile          string
		TrustFile        string // PEM bundle of every peer certificate
	}
	Heal struct {
		Enabled           bool
		IntervalInSeconds int
	}
	Api struct {
		Address string
	}
	Log struct {
		Level string // trace | debug | info | warn | error
	}
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := new(Config)
	cfg.Ledger.DataDir = "data/ledger"
	cfg.Crypto.Algorithm = "aes-gcm"
	cfg.Crypto.Salt = "meshledger"
	cfg.Ingest.FraudThreshold = 0.5
	cfg.Ingest.Model = "none"
	cfg.Network.Listen = "127.0.0.1:7400"
	cfg.Network.TimeoutInSeconds = 30
	cfg.Heal.Enabled = true
	cfg.Heal.IntervalInSeconds = 60
	cfg.Api.Address = "127.0.0.1:8080"
	cfg.Log.Level = "info"
	return cfg
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	return load(path, (*Config).Validate)
}

// LoadReadOnly is Load for commands that only inspect the persisted ledger
// and never decrypt it: the passphrase may be left unset.
func LoadReadOnly(path string) (*Config, error) {
	return load(path, (*Config).ValidateReadOnly)
}

func load(path string, validate func(*Config) error) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := gcfg.ReadFileInto(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReadString parses an INI document over the defaults. Environment
// overrides are not applied.
func ReadString(s string) (*Config, error) {
	cfg := Default()
	if err := gcfg.ReadStringInto(cfg, s); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Crypto.Passphrase = getEnv("MESHLEDGER_PASSPHRASE", c.Crypto.Passphrase)
	c.Ledger.DataDir = getEnv("MESHLEDGER_DATA_DIR", c.Ledger.DataDir)
	c.Api.Address = getEnv("MESHLEDGER_API_ADDRESS", c.Api.Address)
}

// Validate reports every setting that cannot work.
func (c *Config) Validate() error {
	err := c.ValidateReadOnly()
	if c.Crypto.Passphrase == "" {
		err = errors.Join(errors.New("crypto passphrase is required (set MESHLEDGER_PASSPHRASE)"), err)
	}
	return err
}

// ValidateReadOnly is Validate without the secrets a node needs to decrypt
// or append.
func (c *Config) ValidateReadOnly() error {
	var errs []error
	switch c.Crypto.Algorithm {
	case "aes-gcm", "chacha20poly1305":
	default:
		errs = append(errs, fmt.Errorf("unknown crypto algorithm %q", c.Crypto.Algorithm))
	}
	if c.Ingest.FraudThreshold < 0 || c.Ingest.FraudThreshold > 1 {
		errs = append(errs, fmt.Errorf("fraud threshold %v is outside [0,1]", c.Ingest.FraudThreshold))
	}
	switch c.Ingest.Model {
	case "none", "logistic":
	default:
		errs = append(errs, fmt.Errorf("unknown fraud model %q", c.Ingest.Model))
	}
	if !c.Ledger.InMemory && c.Ledger.DataDir == "" {
		errs = append(errs, errors.New("ledger data directory is required"))
	}
	if c.Heal.Enabled && c.Heal.IntervalInSeconds <= 0 {
		errs = append(errs, errors.New("heal interval must be positive"))
	}
	if c.Network.TimeoutInSeconds < 0 {
		errs = append(errs, errors.New("network timeout cannot be negative"))
	}
	if c.TLS() && (c.Network.KeyFile == "" || c.Network.TrustFile == "") {
		errs = append(errs, errors.New("network TLS needs certfile, keyfile and trustfile"))
	}
	return errors.Join(errs...)
}

// MeshEnabled reports whether the node joins a mesh of peers.
func (c *Config) MeshEnabled() bool {
	return len(c.Network.Peer) > 0
}

// TLS reports whether peers talk over mutual TLS.
func (c *Config) TLS() bool {
	return c.Network.CertFile != ""
}

// HealInterval returns the pause between two healing rounds.
func (c *Config) HealInterval() time.Duration {
	return time.Duration(c.Heal.IntervalInSeconds) * time.Second
}

// NetworkTimeout returns the bound on a single peer exchange.
func (c *Config) NetworkTimeout() time.Duration {
	return time.Duration(c.Network.TimeoutInSeconds) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
