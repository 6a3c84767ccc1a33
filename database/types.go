/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// HealthStatus holds the result of a health check against the store.
type HealthStatus struct {
	Healthy       bool          `json:"healthy"`
	Driver        string        `json:"driver"`
	ResponseTime  time.Duration `json:"response_time"`
	ActiveConns   int           `json:"active_conns"`
	IdleConns     int           `json:"idle_conns"`
	MaxOpenConns  int           `json:"max_open_conns"`
	LastError     string        `json:"last_error,omitempty"`
	LastCheckTime time.Time     `json:"last_check_time"`
}

// DBStats mirrors database/sql stats for the shared pool.
type DBStats struct {
	MaxOpenConns      int           `json:"max_open_conns"`
	OpenConns         int           `json:"open_conns"`
	InUse             int           `json:"in_use"`
	Idle              int           `json:"idle"`
	WaitCount         int64         `json:"wait_count"`
	WaitDuration      time.Duration `json:"wait_duration"`
	MaxIdleClosed     int64         `json:"max_idle_closed"`
	MaxIdleTimeClosed int64         `json:"max_idle_time_closed"`
	MaxLifetimeClosed int64         `json:"max_lifetime_closed"`
}

// PoolConfig tunes the shared connection pool.
type PoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

// MigrationConfig controls the schema migration run that precedes factory
// construction.
type MigrationConfig struct {
	// BaselineVersion is recorded when the history table is created on a
	// store that already holds tables. Scripts at or below it are skipped.
	BaselineVersion     string `yaml:"baseline_version"`
	BaselineDescription string `yaml:"baseline_description"`
	// Dir selects a directory of V<version>__<description>.sql scripts on disk
	// instead of the embedded set.
	Dir string `yaml:"dir"`
}

// Config aggregates the static settings of the persistence layer. Resolved
// credentials always take precedence over the connection fields here.
type Config struct {
	Pool           PoolConfig      `yaml:"pool"`
	Migration      MigrationConfig `yaml:"migration"`
	InitTimeout    time.Duration   `yaml:"init_timeout"`
	EnableQueryLog bool            `yaml:"enable_query_log"`
	SlowQueryTime  time.Duration   `yaml:"slow_query_time"`
}

// DefaultConfig returns a config with sensible defaults for a desktop store.
func DefaultConfig() *Config {
	return &Config{
		Pool: PoolConfig{
			MaxIdleConns:    2,
			MaxOpenConns:    10,
			ConnMaxLifetime: time.Hour,
			ConnMaxIdleTime: 0,
			ConnectTimeout:  10 * time.Second,
		},
		Migration: MigrationConfig{
			BaselineVersion:     "1",
			BaselineDescription: "<< Roam Baseline >>",
		},
		InitTimeout:   2 * time.Minute,
		SlowQueryTime: 2 * time.Second,
	}
}

// withDefaults fills zero values from DefaultConfig.
func (c *Config) withDefaults() *Config {
	d := DefaultConfig()
	if c == nil {
		return d
	}
	out := *c
	if out.Pool.MaxOpenConns <= 0 {
		out.Pool.MaxOpenConns = d.Pool.MaxOpenConns
	}
	if out.Pool.MaxIdleConns <= 0 {
		out.Pool.MaxIdleConns = d.Pool.MaxIdleConns
	}
	if out.Pool.ConnMaxLifetime <= 0 {
		out.Pool.ConnMaxLifetime = d.Pool.ConnMaxLifetime
	}
	if out.Pool.ConnectTimeout <= 0 {
		out.Pool.ConnectTimeout = d.Pool.ConnectTimeout
	}
	if out.Migration.BaselineVersion == "" {
		out.Migration.BaselineVersion = d.Migration.BaselineVersion
	}
	if out.Migration.BaselineDescription == "" {
		out.Migration.BaselineDescription = d.Migration.BaselineDescription
	}
	if out.InitTimeout <= 0 {
		out.InitTimeout = d.InitTimeout
	}
	return &out
}

// LoadConfig reads a YAML config file. Fields absent from the file keep their
// defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg.withDefaults(), nil
}
