// Package config loads process settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

type Config struct {
	HTTPAddr        string
	LogLevel        zerolog.Level
	AllowOverdraft  bool
	TransferMode    string
	DeadLetterLimit int
	KafkaBrokers    []string
	KafkaTopic      string
	ShutdownTimeout time.Duration
}

func defaults() Config {
	return Config{
		HTTPAddr:        ":8080",
		LogLevel:        zerolog.InfoLevel,
		AllowOverdraft:  true,
		TransferMode:    "source_to_destination",
		DeadLetterLimit: 1000,
		KafkaTopic:      "transaction_settled",
		ShutdownTimeout: 15 * time.Second,
	}
}

// Load reads the given .env files (missing files are ignored) and then the
// process environment. Variables already set in the environment win.
func Load(files ...string) (Config, error) {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv()
}

func FromEnv() (Config, error) {
	cfg := defaults()

	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		lvl, err := zerolog.ParseLevel(strings.ToLower(v))
		if err != nil {
			return Config{}, fmt.Errorf("LOG_LEVEL: %w", err)
		}
		cfg.LogLevel = lvl
	}

	if v := os.Getenv("LEDGER_ALLOW_OVERDRAFT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("LEDGER_ALLOW_OVERDRAFT: %w", err)
		}
		cfg.AllowOverdraft = b
	}

	if v := os.Getenv("LEDGER_TRANSFER_MODE"); v != "" {
		cfg.TransferMode = v
	}

	if v := os.Getenv("LEDGER_DEAD_LETTER_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("LEDGER_DEAD_LETTER_LIMIT: invalid value %q", v)
		}
		cfg.DeadLetterLimit = n
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		cfg.KafkaTopic = v
	}

	if v := os.Getenv("SHUTDOWN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("SHUTDOWN_TIMEOUT: %w", err)
		}
		cfg.ShutdownTimeout = d
	}

	return cfg, nil
}
