// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/poiesic/grundgraph/ai"
	"github.com/poiesic/grundgraph/core"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when a loaded configuration fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete grundgraph configuration.
type Config struct {
	// DataDir holds the job/vector database and the graph database.
	DataDir    string                 `yaml:"data_dir"`
	Embedding  EmbeddingConfig        `yaml:"embedding"`
	Pipeline   PipelineConfig         `yaml:"pipeline"`
	Graph      GraphConfig            `yaml:"graph"`
	Jobs       JobsConfig             `yaml:"jobs"`
	Server     ServerConfig           `yaml:"server"`
	Processing core.ProcessingOptions `yaml:"processing"`
}

// EmbeddingConfig configures the OpenAI-compatible embedding service.
type EmbeddingConfig struct {
	Host      string        `yaml:"host"`
	Model     string        `yaml:"model"`
	Dimension int           `yaml:"dimension"`
	APIKey    string        `yaml:"api_key"`
	RateLimit float64       `yaml:"rate_limit"`
	CacheSize int           `yaml:"cache_size"`
	Timeout   time.Duration `yaml:"timeout"`
}

// PipelineConfig sizes the ingestion pipeline.
type PipelineConfig struct {
	Workers     int           `yaml:"workers"`
	BatchSize   int           `yaml:"batch_size"`
	CallTimeout time.Duration `yaml:"call_timeout"`
	Keepalive   time.Duration `yaml:"keepalive"`
}

// GraphConfig bounds graph exploration.
type GraphConfig struct {
	DefaultDepth int `yaml:"default_depth"`
	MaxDepth     int `yaml:"max_depth"`
}

// JobsConfig controls job retention.
type JobsConfig struct {
	RetentionDays   int           `yaml:"retention_days"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	emb := ai.DefaultConfig()
	return &Config{
		DataDir: "data",
		Embedding: EmbeddingConfig{
			Host:      emb.EmbeddingHost,
			Model:     emb.EmbeddingModel,
			Dimension: emb.EmbeddingDimension,
			APIKey:    emb.APIKey,
			RateLimit: emb.RateLimit,
			CacheSize: emb.CacheSize,
			Timeout:   emb.Timeout,
		},
		Pipeline: PipelineConfig{
			Workers:     10,
			BatchSize:   32,
			CallTimeout: 30 * time.Second,
			Keepalive:   30 * time.Second,
		},
		Graph: GraphConfig{
			DefaultDepth: 2,
			MaxDepth:     5,
		},
		Jobs: JobsConfig{
			RetentionDays:   30,
			CleanupInterval: time.Hour,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Processing: core.DefaultProcessingOptions(),
	}
}

// Load builds the configuration from defaults, the YAML file at path (skipped
// when path is empty) and the environment. A .env file in the working
// directory is loaded first; a missing one is not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode overlays YAML on top of the current values. Unknown keys are rejected.
func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("%w: data_dir is required", ErrInvalidConfig)
	}
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("%w: pipeline.workers must be positive", ErrInvalidConfig)
	}
	if c.Pipeline.BatchSize < 1 {
		return fmt.Errorf("%w: pipeline.batch_size must be positive", ErrInvalidConfig)
	}
	if c.Pipeline.CallTimeout <= 0 || c.Pipeline.Keepalive <= 0 {
		return fmt.Errorf("%w: pipeline timeouts must be positive", ErrInvalidConfig)
	}
	if c.Graph.DefaultDepth < 1 || c.Graph.MaxDepth < c.Graph.DefaultDepth {
		return fmt.Errorf("%w: graph depth limits %d/%d", ErrInvalidConfig, c.Graph.DefaultDepth, c.Graph.MaxDepth)
	}
	if c.Jobs.RetentionDays < 0 {
		return fmt.Errorf("%w: jobs.retention_days must not be negative", ErrInvalidConfig)
	}
	if err := c.AI().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.Processing.WithDefaults().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// AI returns the normalized embedding provider configuration.
func (c *Config) AI() *ai.Config {
	cfg := ai.NewConfig(
		ai.WithHost(c.Embedding.Host),
		ai.WithEmbeddingModel(c.Embedding.Model),
		ai.WithEmbeddingDimension(c.Embedding.Dimension),
		ai.WithAPIKey(c.Embedding.APIKey),
		ai.WithRateLimit(c.Embedding.RateLimit),
		ai.WithCacheSize(c.Embedding.CacheSize),
		ai.WithTimeout(c.Embedding.Timeout),
	)
	cfg.Normalize()
	return cfg
}

// Retention is how long finished jobs are kept. Zero keeps them forever.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Jobs.RetentionDays) * 24 * time.Hour
}

// JobsPath is the directory of the job and vector database.
func (c *Config) JobsPath() string {
	return filepath.Join(c.DataDir, "jobs")
}

// GraphPath is the graph database file.
func (c *Config) GraphPath() string {
	return filepath.Join(c.DataDir, "graph.db")
}
