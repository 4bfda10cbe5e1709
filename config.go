package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dltgateway/ledger-indexer/core"
)

type Config struct {
	Node struct {
		Endpoint string `yaml:"endpoint"`
	} `yaml:"node"`

	Postgres struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Database string `yaml:"database"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		SSLMode  string `yaml:"sslmode"`
	} `yaml:"postgres"`

	PayloadStore struct {
		Engine   string `yaml:"engine"` // boltdb or leveldb
		FilePath string `yaml:"file_path"`
	} `yaml:"payload_store"`

	Syncer core.LedgerSyncerConfig `yaml:"syncer"`

	Logging struct {
		Level         string `yaml:"level"`
		JSONLogFormat bool   `yaml:"json"`
		LogsDirectory string `yaml:"directory"`
		LogFile       string `yaml:"file"`
	} `yaml:"logging"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// defaults
	if cfg.Node.Endpoint == "" {
		cfg.Node.Endpoint = "http://localhost:3333"
	}

	if cfg.Postgres.Host == "" {
		cfg.Postgres.Host = "localhost"
	}

	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = 5432
	}

	if cfg.Postgres.SSLMode == "" {
		cfg.Postgres.SSLMode = "disable"
	}

	if cfg.PayloadStore.Engine == "" {
		cfg.PayloadStore.Engine = "boltdb"
	}

	if cfg.PayloadStore.FilePath == "" {
		cfg.PayloadStore.FilePath = "payloads.db"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	return &cfg, nil
}

func (c *Config) PostgresConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.Database,
		c.Postgres.SSLMode,
	)
}
