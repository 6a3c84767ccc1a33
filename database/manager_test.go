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
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/muntasiractive/roamedge-sub001/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"golang.org/x/sync/errgroup"
)

type staticResolver struct {
	creds config.ConnectionCredentials
	calls atomic.Int32
}

func (r *staticResolver) Resolve() config.ConnectionCredentials {
	r.calls.Add(1)
	return r.creds
}

type countingMigrator struct {
	ok    bool
	delay time.Duration
	calls atomic.Int32
}

func (m *countingMigrator) Apply(ctx context.Context, creds config.ConnectionCredentials) bool {
	m.calls.Add(1)
	time.Sleep(m.delay)
	return m.ok
}

type countingBuilder struct {
	err   error
	calls atomic.Int32
}

func (b *countingBuilder) build(ctx context.Context, creds config.ConnectionCredentials) (*Factory, error) {
	b.calls.Add(1)
	if b.err != nil {
		return nil, b.err
	}
	return NewFactory(ctx, creds, DefaultConfig(), WithFactoryLogger(NopLogger()))
}

type managerFixture struct {
	manager  *Manager
	resolver *staticResolver
	migrator *countingMigrator
	builder  *countingBuilder
}

func newManagerFixture(t *testing.T, opts ...ManagerOption) *managerFixture {
	t.Helper()
	mf := &managerFixture{
		resolver: &staticResolver{creds: sqliteCreds(t)},
		migrator: &countingMigrator{ok: true},
		builder:  &countingBuilder{},
	}
	base := []ManagerOption{
		WithLogger(NopLogger()),
		WithResolver(mf.resolver),
		WithMigrator(mf.migrator),
		WithFactoryBuilder(mf.builder.build),
	}
	mf.manager = NewManager(DefaultConfig(), append(base, opts...)...)
	t.Cleanup(func() { _ = mf.manager.Shutdown() })
	return mf
}

func TestManagerIsLazy(t *testing.T) {
	mf := newManagerFixture(t)
	assert.Equal(t, StateUninitialized, mf.manager.State())
	assert.Zero(t, mf.resolver.calls.Load())
	assert.Zero(t, mf.migrator.calls.Load())
	assert.Zero(t, mf.builder.calls.Load())
}

func TestManagerInitializesOnceUnderConcurrency(t *testing.T) {
	mf := newManagerFixture(t)
	mf.migrator.delay = 50 * time.Millisecond

	const callers = 32
	factories := make([]*Factory, callers)
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			f, err := mf.manager.Factory(ctx)
			factories[i] = f
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), mf.resolver.calls.Load())
	assert.Equal(t, int32(1), mf.migrator.calls.Load())
	assert.Equal(t, int32(1), mf.builder.calls.Load())
	assert.Equal(t, StateReady, mf.manager.State())
	for _, f := range factories {
		assert.Same(t, factories[0], f)
	}
}

func TestManagerMigrationFailureIsFatalAndCached(t *testing.T) {
	mf := newManagerFixture(t)
	mf.migrator.ok = false
	ctx := context.Background()

	_, err := mf.manager.Factory(ctx)
	require.Error(t, err)
	var initErr *InitError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, StageMigrate, initErr.Stage)
	assert.ErrorIs(t, err, ErrMigrationFailed)
	assert.Equal(t, StateFailed, mf.manager.State())
	assert.Zero(t, mf.builder.calls.Load(), "no factory is built after a failed migration")

	_, again := mf.manager.Handle(ctx)
	assert.Same(t, err, again)
	assert.False(t, errors.Is(again, ErrHandleAcquisition))
	assert.Equal(t, int32(1), mf.migrator.calls.Load())
}

func TestManagerConstructionFailure(t *testing.T) {
	boom := errors.New("pool exhausted")
	mf := newManagerFixture(t)
	mf.builder.err = boom

	_, err := mf.manager.Factory(context.Background())
	var initErr *InitError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, StageConstruct, initErr.Stage)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateFailed, mf.manager.State())
}

func TestManagerShutdownBeforeUse(t *testing.T) {
	mf := newManagerFixture(t)

	require.NoError(t, mf.manager.Shutdown())
	assert.Equal(t, StateClosed, mf.manager.State())
	require.NoError(t, mf.manager.Shutdown())

	_, err := mf.manager.Factory(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	_, err = mf.manager.Handle(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.Zero(t, mf.migrator.calls.Load())
}

func TestManagerShutdownClosesFactory(t *testing.T) {
	mf := newManagerFixture(t)
	ctx := context.Background()

	f, err := mf.manager.Factory(ctx)
	require.NoError(t, err)
	require.NoError(t, mf.manager.Shutdown())

	assert.True(t, f.Closed())
	assert.Equal(t, StateClosed, mf.manager.State())

	_, err = mf.manager.Handle(ctx)
	assert.ErrorIs(t, err, ErrClosed)

	_, err = f.Handle(ctx)
	assert.ErrorIs(t, err, ErrHandleAcquisition)
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, mf.manager.Shutdown())
}

func TestManagerShutdownAfterFailure(t *testing.T) {
	mf := newManagerFixture(t)
	mf.migrator.ok = false

	_, err := mf.manager.Factory(context.Background())
	require.Error(t, err)
	require.NoError(t, mf.manager.Shutdown())

	_, err = mf.manager.Factory(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestManagerInitializationOutlivesCallerCancellation(t *testing.T) {
	mf := newManagerFixture(t)
	mf.migrator.delay = 50 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := mf.manager.Factory(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	f, err := mf.manager.Factory(context.Background())
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, int32(1), mf.migrator.calls.Load())

	_, err = mf.manager.Handle(ctx)
	assert.ErrorIs(t, err, ErrHandleAcquisition)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestManagerWaitHonorsCallerDeadline(t *testing.T) {
	mf := newManagerFixture(t)
	mf.migrator.delay = 500 * time.Millisecond

	first := make(chan error, 1)
	go func() {
		_, err := mf.manager.Factory(context.Background())
		first <- err
	}()
	require.Eventually(t, func() bool { return mf.migrator.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := mf.manager.Factory(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 300*time.Millisecond)
	assert.Equal(t, StateInitializing, mf.manager.State())

	require.NoError(t, <-first)
	assert.Equal(t, StateReady, mf.manager.State())
	f, err := mf.manager.Factory(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, f)
	assert.Equal(t, int32(1), mf.builder.calls.Load())
}

func TestWithHandleReleasesOnEveryPath(t *testing.T) {
	mf := newManagerFixture(t)
	ctx := context.Background()

	var held *Handle
	err := mf.manager.WithHandle(ctx, func(ctx context.Context, h *Handle) error {
		held = h
		var n int
		return h.DB().NewRaw("SELECT 1").Scan(ctx, &n)
	})
	require.NoError(t, err)
	assert.True(t, held.Closed())
	assert.NoError(t, held.Close())

	sentinel := errors.New("caller failed")
	err = mf.manager.WithHandle(ctx, func(ctx context.Context, h *Handle) error {
		held = h
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.True(t, held.Closed())

	f, err := mf.manager.Factory(ctx)
	require.NoError(t, err)
	assert.Zero(t, f.Stats().InUse)
}

func TestManagerEndToEndWithEmbeddedMigrations(t *testing.T) {
	ctx := context.Background()
	creds := sqliteCreds(t)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	m := NewManager(DefaultConfig(),
		WithLogger(NopLogger()),
		WithResolver(&staticResolver{creds: creds}),
		WithMetrics(metrics),
	)
	t.Cleanup(func() { _ = m.Shutdown() })

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			return m.WithHandle(gctx, func(ctx context.Context, h *Handle) error {
				var n int
				return h.DB().NewRaw("SELECT COUNT(*) FROM app_preference").Scan(ctx, &n)
			})
		})
	}
	require.NoError(t, g.Wait())

	err := m.WithHandle(ctx, func(ctx context.Context, h *Handle) error {
		return h.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
			_, err := tx.NewRaw(
				"INSERT INTO app_metadata (meta_key, meta_value, updated_at) VALUES (?, ?, ?)",
				"bootstrapped_by", h.ID(), time.Now(),
			).Exec(ctx)
			return err
		})
	})
	require.NoError(t, err)

	var count int
	err = m.WithHandle(ctx, func(ctx context.Context, h *Handle) error {
		return h.DB().NewRaw("SELECT COUNT(*) FROM app_metadata").Scan(ctx, &count)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.initializations.WithLabelValues("success")))
	assert.Equal(t, float64(10), testutil.ToFloat64(metrics.handleAcquisitions.WithLabelValues("success")))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.handlesOpen))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.migrationRuns.WithLabelValues("success")))
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.initDuration))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "shutting_down", StateShuttingDown.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown", State(42).String())
}
