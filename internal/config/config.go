// Package config loads the client's YAML configuration file, following the
// same gopkg.in/yaml.v3-based loading style as the daemon's LightwaveRF
// ancestor (hostname, credentials, database DSN, and reconnect tuning).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration for loxoned.
type Config struct {
	Miniserver Miniserver `yaml:"miniserver"`
	Database   Database   `yaml:"database"`
	Backoff    Backoff    `yaml:"backoff"`
}

// Miniserver names the controller to connect to and the credentials to
// authenticate the handshake with (§4.4, §4.5).
type Miniserver struct {
	Hostname string `yaml:"hostname"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// Database is the Postgres DSN the snapshot scheduler persists through
// (§6). Parsing the DSN itself is left to gorm.io/driver/postgres.
type Database struct {
	DSN string `yaml:"dsn"`
}

// Backoff holds reconnect tuning read from the config file (§7). Load fills
// in its defaults, but the supervisor does not read it: its reconnect delay
// is a fixed 20s set in supervisor.Run.
type Backoff struct {
	Initial    time.Duration `yaml:"initial"`
	Max        time.Duration `yaml:"max"`
	MaxElapsed time.Duration `yaml:"max_elapsed"`
}

// defaultBackoff mirrors the fixed 20s reconnect delay called out in §7;
// values set in the config file replace it in the loaded Config.
var defaultBackoff = Backoff{
	Initial:    20 * time.Second,
	Max:        20 * time.Second,
	MaxElapsed: 0, // retry forever
}

// Load reads and decodes the YAML configuration at path, applying backoff
// defaults for any zero-valued field left unset.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}

	if cfg.Backoff.Initial == 0 {
		cfg.Backoff.Initial = defaultBackoff.Initial
	}
	if cfg.Backoff.Max == 0 {
		cfg.Backoff.Max = defaultBackoff.Max
	}

	if cfg.Miniserver.Hostname == "" {
		return Config{}, fmt.Errorf("config: %s: miniserver.hostname is required", path)
	}
	if cfg.Database.DSN == "" {
		return Config{}, fmt.Errorf("config: %s: database.dsn is required", path)
	}

	return cfg, nil
}
