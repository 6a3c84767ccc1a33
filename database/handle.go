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
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Handle is a short-lived unit of work bound to one pooled connection. It
// must not be shared between goroutines and must be closed by its owner.
type Handle struct {
	id         uuid.UUID
	conn       bun.Conn
	factory    *Factory
	acquiredAt time.Time
	closed     atomic.Bool
}

// ID identifies the handle in logs.
func (h *Handle) ID() string {
	return h.id.String()
}

// DB exposes the connection as a bun.IDB for query building.
func (h *Handle) DB() bun.IDB {
	return h.conn
}

// Conn returns the raw bun connection.
func (h *Handle) Conn() bun.Conn {
	return h.conn
}

// RunInTx runs fn in a transaction on this handle's connection.
func (h *Handle) RunInTx(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error {
	return h.conn.RunInTx(ctx, nil, fn)
}

// Closed reports whether Close has been called.
func (h *Handle) Closed() bool {
	return h.closed.Load()
}

// Close returns the connection to the pool. Calling it again is a no-op.
func (h *Handle) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := h.conn.Close()
	if h.factory != nil {
		h.factory.metrics.observeHandleReleased()
		h.factory.logger.Debug("Handle released", "handle", h.ID(), "held", time.Since(h.acquiredAt))
	}
	// The pool may already be closed by shutdown.
	if errors.Is(err, sql.ErrConnDone) {
		return nil
	}
	return err
}
