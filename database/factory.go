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
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/muntasiractive/roamedge-sub001/config"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/extra/bundebug"
)

// Factory owns the shared connection pool. Handles are cheap and come from
// it; the pool itself is built once and closed once.
type Factory struct {
	db      *bun.DB
	sqlDB   *sql.DB
	driver  string
	logger  Logger
	metrics *Metrics

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// FactoryOption customizes NewFactory.
type FactoryOption func(*Factory)

func WithFactoryLogger(logger Logger) FactoryOption {
	return func(f *Factory) {
		if logger != nil {
			f.logger = logger
		}
	}
}

func WithFactoryMetrics(m *Metrics) FactoryOption {
	return func(f *Factory) { f.metrics = m }
}

// NewFactory opens the shared pool for creds, tuned by cfg, installs the
// query hooks and verifies connectivity.
func NewFactory(ctx context.Context, creds config.ConnectionCredentials, cfg *Config, opts ...FactoryOption) (*Factory, error) {
	cfg = cfg.withDefaults()
	f := &Factory{logger: GetLogger()}
	for _, opt := range opts {
		opt(f)
	}

	driver, err := NormalizeDriver(creds.Driver)
	if err != nil {
		return nil, err
	}
	f.driver = driver

	f.sqlDB, f.db, err = connect(ctx, creds, cfg.Pool)
	if err != nil {
		return nil, err
	}

	if models := RegisteredModelInstances(); len(models) > 0 {
		f.db.RegisterModel(models...)
	}

	f.db.AddQueryHook(bundebug.NewQueryHook(
		bundebug.WithVerbose(true),
		bundebug.FromEnv("BUNDEBUG"),
	))
	if cfg.EnableQueryLog {
		f.db.AddQueryHook(NewQueryHook(nil, true))
	}
	if cfg.SlowQueryTime > 0 {
		f.db.AddQueryHook(&slowQueryHook{
			slowTime: cfg.SlowQueryTime,
			logger:   f.logger,
			metrics:  f.metrics,
		})
	}

	f.logger.Info("Database connected successfully", "driver", driver, "max_open_conns", cfg.Pool.MaxOpenConns)
	return f, nil
}

// DB returns the shared bun.DB. Prefer Handle for units of work.
func (f *Factory) DB() *bun.DB {
	return f.db
}

// SQLDB returns the underlying database/sql pool.
func (f *Factory) SQLDB() *sql.DB {
	return f.sqlDB
}

// Driver returns the canonical driver identifier.
func (f *Factory) Driver() string {
	return f.driver
}

// Handle checks out a dedicated connection. The caller must Close it.
func (f *Factory) Handle(ctx context.Context) (*Handle, error) {
	if f.closed.Load() {
		f.metrics.observeHandleAcquired(ErrClosed)
		return nil, fmt.Errorf("%w: %w", ErrHandleAcquisition, ErrClosed)
	}

	conn, err := f.db.Conn(ctx)
	f.metrics.observeHandleAcquired(err)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandleAcquisition, err)
	}

	h := &Handle{
		id:         uuid.New(),
		conn:       conn,
		factory:    f,
		acquiredAt: time.Now(),
	}
	f.logger.Debug("Handle acquired", "handle", h.ID())
	return h, nil
}

// Ping verifies the store is reachable.
func (f *Factory) Ping(ctx context.Context) error {
	if f.closed.Load() {
		return ErrClosed
	}
	return f.db.PingContext(ctx)
}

// HealthCheck pings with a short timeout and reports pool usage.
func (f *Factory) HealthCheck(ctx context.Context) *HealthStatus {
	start := time.Now()
	status := &HealthStatus{
		Driver:        f.driver,
		LastCheckTime: start,
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := f.Ping(ctxTimeout); err != nil {
		status.LastError = err.Error()
	} else {
		status.Healthy = true
	}
	status.ResponseTime = time.Since(start)

	stats := f.sqlDB.Stats()
	status.ActiveConns = stats.InUse
	status.IdleConns = stats.Idle
	status.MaxOpenConns = stats.MaxOpenConnections
	return status
}

// Stats returns pool statistics.
func (f *Factory) Stats() *DBStats {
	stats := f.sqlDB.Stats()
	return &DBStats{
		MaxOpenConns:      stats.MaxOpenConnections,
		OpenConns:         stats.OpenConnections,
		InUse:             stats.InUse,
		Idle:              stats.Idle,
		WaitCount:         stats.WaitCount,
		WaitDuration:      stats.WaitDuration,
		MaxIdleClosed:     stats.MaxIdleClosed,
		MaxIdleTimeClosed: stats.MaxIdleTimeClosed,
		MaxLifetimeClosed: stats.MaxLifetimeClosed,
	}
}

// Closed reports whether Close has been called.
func (f *Factory) Closed() bool {
	return f.closed.Load()
}

// Close closes the pool. Later calls return the first result.
func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		f.closed.Store(true)
		f.closeErr = f.db.Close()
		if f.closeErr != nil {
			f.logger.Error("Failed to close database connection", "error", f.closeErr)
		} else {
			f.logger.Info("Database connection closed", "driver", f.driver)
		}
	})
	return f.closeErr
}
