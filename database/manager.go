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
	"sync"
	"sync/atomic"
	"time"

	"github.com/muntasiractive/roamedge-sub001/config"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// State is the lifecycle state of a Manager.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateShuttingDown
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateShuttingDown:
		return "shutting_down"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CredentialResolver supplies the connection credentials. *config.Resolver
// implements it.
type CredentialResolver interface {
	Resolve() config.ConnectionCredentials
}

// FactoryBuilder constructs the shared factory once migration succeeded.
type FactoryBuilder func(ctx context.Context, creds config.ConnectionCredentials) (*Factory, error)

// Manager lazily builds the shared Factory on first use: resolve credentials,
// migrate, construct. Initialization runs at most once per Manager; its
// error, if any, is returned to every caller.
type Manager struct {
	cfg      *Config
	resolver CredentialResolver
	migrator Migrator
	build    FactoryBuilder
	logger   Logger
	metrics  *Metrics
	tracer   trace.Tracer

	once       sync.Once
	done       chan struct{}
	initErr    error
	state      atomic.Int32
	factory    atomic.Pointer[Factory]
	shutdownMu sync.Mutex
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

func WithResolver(r CredentialResolver) ManagerOption {
	return func(m *Manager) { m.resolver = r }
}

func WithMigrator(mg Migrator) ManagerOption {
	return func(m *Manager) { m.migrator = mg }
}

func WithFactoryBuilder(b FactoryBuilder) ManagerOption {
	return func(m *Manager) { m.build = b }
}

func WithLogger(logger Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithMetrics(metrics *Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = metrics }
}

func WithTracer(t trace.Tracer) ManagerOption {
	return func(m *Manager) {
		if t != nil {
			m.tracer = t
		}
	}
}

// NewManager returns an uninitialized Manager. Nothing touches the store
// until the first Factory, Handle or WithHandle call.
func NewManager(cfg *Config, opts ...ManagerOption) *Manager {
	m := &Manager{
		cfg:    cfg.withDefaults(),
		done:   make(chan struct{}),
		logger: GetLogger(),
		tracer: defaultTracer(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.resolver == nil {
		m.resolver = config.NewResolver()
	}
	if m.migrator == nil {
		m.migrator = NewRunner(m.cfg,
			WithRunnerLogger(m.logger),
			WithRunnerMetrics(m.metrics),
			WithRunnerTracer(m.tracer),
		)
	}
	if m.build == nil {
		m.build = func(ctx context.Context, creds config.ConnectionCredentials) (*Factory, error) {
			return NewFactory(ctx, creds, m.cfg, WithFactoryLogger(m.logger), WithFactoryMetrics(m.metrics))
		}
	}
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Factory returns the shared factory, initializing it on the first call.
// Initialization runs in the background; every caller waits for it until
// its own ctx is done, in which case ctx.Err() is returned and the
// initialization carries on for the remaining callers.
func (m *Manager) Factory(ctx context.Context) (*Factory, error) {
	if f := m.factory.Load(); f != nil {
		return f, nil
	}

	m.once.Do(func() {
		initCtx := context.WithoutCancel(ctx)
		m.state.Store(int32(StateInitializing))
		go func() {
			defer close(m.done)
			m.initErr = m.initialize(initCtx)
		}()
	})

	select {
	case <-m.done:
	default:
		select {
		case <-m.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if f := m.factory.Load(); f != nil {
		return f, nil
	}
	switch m.State() {
	case StateShuttingDown, StateClosed:
		return nil, ErrClosed
	}
	return nil, m.initErr
}

// initialize is bounded by InitTimeout. It detaches from the caller's
// cancellation so one abandoned request cannot fail startup for everyone.
func (m *Manager) initialize(ctx context.Context) (err error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.InitTimeout)
	defer cancel()
	ctx, span := m.tracer.Start(ctx, "database.initialize")
	defer span.End()

	defer func() {
		m.metrics.observeInit(start, err)
		if err != nil {
			recordSpanError(span, err)
			m.state.Store(int32(StateFailed))
			m.logger.Error("Database initialization failed", "error", err, "elapsed", time.Since(start))
		}
	}()

	creds := m.resolver.Resolve()
	span.SetAttributes(attribute.String("db.driver", creds.Driver))

	if !m.migrator.Apply(ctx, creds) {
		return &InitError{Stage: StageMigrate, Err: ErrMigrationFailed}
	}

	f, err := m.build(ctx, creds)
	if err != nil {
		return &InitError{Stage: StageConstruct, Err: err}
	}

	m.factory.Store(f)
	m.state.Store(int32(StateReady))
	m.logger.Info("Database initialization completed", "driver", f.Driver(), "elapsed", time.Since(start))
	return nil
}

// Handle returns a new handle. Initialization failures are returned as is;
// failures after the factory is ready wrap ErrHandleAcquisition.
func (m *Manager) Handle(ctx context.Context) (*Handle, error) {
	f, err := m.Factory(ctx)
	if err != nil {
		return nil, err
	}
	return f.Handle(ctx)
}

// WithHandle acquires a handle, runs fn and releases the handle on every
// exit path. A release error is returned only when fn succeeded.
func (m *Manager) WithHandle(ctx context.Context, fn func(ctx context.Context, h *Handle) error) (err error) {
	h, err := m.Handle(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := h.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, h)
}

// Shutdown closes the factory if one was built and moves to Closed. It is
// safe before first use and safe to call repeatedly. After it, Factory and
// Handle return ErrClosed.
func (m *Manager) Shutdown() error {
	// Poison initialization when it never ran, then wait for one in flight.
	m.once.Do(func() {
		m.initErr = ErrClosed
		close(m.done)
	})
	<-m.done

	m.shutdownMu.Lock()
	defer m.shutdownMu.Unlock()

	if m.State() == StateClosed {
		return nil
	}
	m.state.Store(int32(StateShuttingDown))

	var err error
	if f := m.factory.Swap(nil); f != nil {
		err = f.Close()
	}
	m.state.Store(int32(StateClosed))
	m.logger.Info("Database manager shut down")
	return err
}
