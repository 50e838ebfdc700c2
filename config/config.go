// Package config loads server settings from a YAML file, a .env file and the
// environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/alimasry/go-delta/internal/logger"
)

// Environment variables that override file settings.
const (
	EnvAddr          = "DELTA_ADDR"
	EnvFirestore     = "FIRESTORE_PROJECT"
	EnvFlushInterval = "DELTA_FLUSH_INTERVAL"
	EnvLogLevel      = "DELTA_LOG_LEVEL"
	EnvLogProduction = "DELTA_LOG_PRODUCTION"
)

type Config struct {
	Addr  string        `yaml:"addr"`
	Store Store         `yaml:"store"`
	Log   logger.Config `yaml:"log"`
}

type Store struct {
	// FirestoreProject enables the Firestore backend. Empty keeps documents
	// in memory only.
	FirestoreProject string        `yaml:"firestoreProject"`
	Collection       string        `yaml:"collection"`
	FlushInterval    time.Duration `yaml:"flushInterval"`
}

func Default() *Config {
	return &Config{
		Addr: ":8080",
		Store: Store{
			Collection:    "documents",
			FlushInterval: 2 * time.Second,
		},
		Log: logger.Config{Level: "info"},
	}
}

// Load builds the config from defaults, the YAML file at path (skipped when
// path is empty), envFile (skipped when missing) and the process environment.
func Load(path, envFile string) (*Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvAddr); v != "" {
		c.Addr = v
	}
	if v := os.Getenv(EnvFirestore); v != "" {
		c.Store.FirestoreProject = v
	}
	if v := os.Getenv(EnvFlushInterval); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvFlushInterval, err)
		}
		c.Store.FlushInterval = d
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvLogProduction); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvLogProduction, err)
		}
		c.Log.Production = b
	}
	return nil
}

// Validate reports settings the server cannot start with.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("addr is empty")
	}
	if c.Store.FlushInterval <= 0 {
		return fmt.Errorf("store.flushInterval must be positive, got %s", c.Store.FlushInterval)
	}
	if c.Store.Collection == "" {
		return errors.New("store.collection is empty")
	}
	return nil
}
