// Package config loads the behavioural parameters of the decision engine.
//
// Values are resolved in priority order: environment variables (GTU_*), then
// the YAML config file, then Default().
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/cxd309/gtu-engine/internal/conflict"
	"github.com/cxd309/gtu-engine/internal/incentive"
	"github.com/cxd309/gtu-engine/internal/lmrs"
	"github.com/cxd309/gtu-engine/internal/world"
)

var validate = validator.New()

// Config is the complete engine configuration.
type Config struct {
	LMRS       lmrs.Parameters  `json:"lmrs" yaml:"lmrs"`
	Incentives IncentiveConfig  `json:"incentives" yaml:"incentives"`
	Perception PerceptionConfig `json:"perception" yaml:"perception"`
	Conflicts  ConflictConfig   `json:"conflicts" yaml:"conflicts"`
	Engine     EngineConfig     `json:"engine" yaml:"engine"`
	LogLevel   string           `json:"log_level" yaml:"log_level" validate:"oneof=debug info warn error"`
}

// IncentiveConfig selects the incentives every GTU evaluates, in order.
type IncentiveConfig struct {
	Mandatory  []string             `json:"mandatory" yaml:"mandatory" validate:"dive,required"`
	Voluntary  []string             `json:"voluntary" yaml:"voluntary" validate:"dive,required"`
	Parameters incentive.Parameters `json:"parameters" yaml:"parameters"`
}

// PerceptionConfig bounds what GTUs perceive.
type PerceptionConfig struct {
	world.Options `yaml:",inline"`
	// ReactionTime applies to vehicles that do not set their own, seconds.
	ReactionTime float64 `json:"reaction_time" yaml:"reaction_time" validate:"gte=0"`
}

// ConflictConfig selects the conflict priority rule.
type ConflictConfig struct {
	Rule       string              `json:"rule" yaml:"rule" validate:"required"`
	Parameters conflict.Parameters `json:"parameters" yaml:"parameters"`
}

// EngineConfig tunes the simulation driver.
type EngineConfig struct {
	// Workers bounds the goroutines deciding in parallel; 0 means GOMAXPROCS.
	Workers int `json:"workers" yaml:"workers" validate:"gte=0"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LMRS: lmrs.DefaultParameters(),
		Incentives: IncentiveConfig{
			Mandatory:  []string{incentive.RouteName},
			Voluntary:  []string{incentive.SpeedGainName, incentive.KeepRightName, incentive.CourtesyName, incentive.SocioSpeedName},
			Parameters: incentive.DefaultParameters(),
		},
		Perception: PerceptionConfig{Options: world.DefaultOptions(), ReactionTime: 0.5},
		Conflicts:  ConflictConfig{Rule: conflict.PriorityRuleName, Parameters: conflict.DefaultParameters()},
		LogLevel:   "info",
	}
}

// Load returns the configuration from path layered over Default, with
// environment overrides applied last. An empty path or a missing file leaves
// the defaults in place.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := decode(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Parse returns the configuration in data layered over Default. Unlike Load
// it reads no file and no environment.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := decode(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func applyEnv(cfg *Config) error {
	floats := []struct {
		key string
		dst *float64
	}{
		{"GTU_D_FREE", &cfg.LMRS.DFree},
		{"GTU_D_SYNC", &cfg.LMRS.DSync},
		{"GTU_D_COOP", &cfg.LMRS.DCoop},
		{"GTU_REACTION_TIME", &cfg.Perception.ReactionTime},
		{"GTU_LOOK_AHEAD", &cfg.Perception.LookAhead},
		{"GTU_LOOK_BACK", &cfg.Perception.LookBack},
	}
	for _, f := range floats {
		if v := os.Getenv(f.key); v != "" {
			x, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", f.key, err)
			}
			*f.dst = x
		}
	}
	if v := os.Getenv("GTU_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("GTU_WORKERS: %w", err)
		}
		cfg.Engine.Workers = n
	}
	if v := os.Getenv("GTU_CONFLICT_RULE"); v != "" {
		cfg.Conflicts.Rule = v
	}
	if v := os.Getenv("GTU_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	return nil
}

// Validate checks struct constraints and the relations between fields.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if err := c.LMRS.Validate(); err != nil {
		return fmt.Errorf("lmrs: %w", err)
	}
	if _, err := incentive.NewSet(c.Incentives.Mandatory, c.Incentives.Voluntary, c.Incentives.Parameters); err != nil {
		return fmt.Errorf("incentives: %w", err)
	}
	if _, err := conflict.NewRule(c.Conflicts.Rule, c.Conflicts.Parameters); err != nil {
		return fmt.Errorf("conflicts: %w", err)
	}
	return nil
}

// Level returns the slog level named by LogLevel.
func (c Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}
