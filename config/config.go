/*
	Copyright 2025 Google Inc.

	Licensed under the Apache License, Version 2.0 (the "License");
	you may not use this file except in compliance with the License.
	You may obtain a copy of the License at

			http://www.apache.org/licenses/LICENSE-2.0

	Unless required by applicable law or agreed to in writing, software
	distributed under the License is distributed on an "AS IS" BASIS,
	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
	See the License for the specific language governing permissions and
	limitations under the License.
*/

// Package config loads engine settings from YAML.
//
// A configuration file may set any subset of fields; unset fields keep their
// defaults.  For example:
//
//	force_merge: true
//	incoming_ratio: 4
//	grouping: matched_pairs
//	stride_workers: 8
//	log_level: debug
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ilhamster/leapfrog/engine"
	"github.com/ilhamster/leapfrog/leaps"
	"github.com/ilhamster/leapfrog/partition"
)

// MaxFileSize bounds the size of configuration files accepted by Load.
const MaxFileSize = 64 * 1024

// ErrInvalid is returned when a configuration fails validation.
var ErrInvalid = errors.New("invalid configuration")

// Config holds the settings of an engine run.
type Config struct {
	// Whether incomplete leaps absorb their successors until complete.
	ForceMerge bool `yaml:"force_merge"`
	// Whether leaps emptied during completion keep their ranks.
	KeepEmptyLeaps bool `yaml:"keep_empty_leaps"`
	// The ratio governing when completion moves a partition back a leap.
	IncomingRatio float64 `yaml:"incoming_ratio" validate:"gt=0"`
	// How events are grouped into initial partitions.
	Grouping string `yaml:"grouping" validate:"required,grouping"`
	// Bound on leaps assigned strides at once; 0 is unbounded.
	StrideWorkers int `yaml:"stride_workers" validate:"gte=0,lte=256"`
	// Whether partition and leap invariants are verified during runs.
	CheckInvariants bool `yaml:"check_invariants"`
	// The minimum level logged.
	LogLevel string `yaml:"log_level" validate:"required,oneof=debug info warn error"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("grouping", func(fl validator.FieldLevel) bool {
		_, err := partition.ParseGrouping(fl.Field().String())
		return err == nil
	})
	return v
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		IncomingRatio: leaps.DefaultIncomingRatio,
		Grouping:      partition.SingleEvent.String(),
		LogLevel:      "info",
	}
}

// Validate checks every field of the receiver.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// Parse returns the configuration described by the provided YAML, applied
// over the defaults.
func Parse(data []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("unmarshaling YAML: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Load reads and parses the configuration file at the provided path.
func Load(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), MaxFileSize)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	return c, nil
}

func (c *Config) level() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger returns a JSON logger writing to w at the configured level.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: c.level()}))
}

// EngineOptions returns the engine options the receiver describes.  The
// receiver should have been validated.
func (c *Config) EngineOptions() ([]engine.Option, error) {
	grouping, err := partition.ParseGrouping(c.Grouping)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return []engine.Option{
		engine.WithForceMerge(c.ForceMerge),
		engine.WithKeepEmpty(c.KeepEmptyLeaps),
		engine.WithIncomingRatio(c.IncomingRatio),
		engine.WithGrouping(grouping),
		engine.WithStrideWorkers(c.StrideWorkers),
		engine.WithInvariantChecks(c.CheckInvariants),
	}, nil
}
