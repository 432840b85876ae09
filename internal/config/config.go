// Package config reads the votepool environment: VOTEPOOL_* variables,
// optionally preloaded from a .env file in the working directory.
package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config holds the environment defaults of the command layer.
// Command-line flags override every field.
type Config struct {
	DB       string `yaml:"DB"        env:"VOTEPOOL_DB"        env-default:"votepool.db"`
	From     string `yaml:"FROM"      env:"VOTEPOOL_FROM"`
	LogLevel string `yaml:"LOG_LEVEL" env:"VOTEPOOL_LOG_LEVEL" env-default:"warn"`
	Params   string `yaml:"PARAMS"    env:"VOTEPOOL_PARAMS"`
}

// New loads .env files (if any) into the process environment and reads the
// configuration from it. Missing .env files are not an error.
func New(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	var config Config
	if err := cleanenv.ReadEnv(&config); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	return &config, nil
}
