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

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

// FXModule provides a lazily initialized *Manager and shuts it down when the
// application stops.
//
//	app := fx.New(
//	    database.FXModule,
//	    fx.Invoke(func(m *database.Manager) { ... }),
//	)
var FXModule = fx.Module("database",
	fx.Provide(ProvideManager),
	fx.Invoke(RegisterManagerLifecycle),
)

// ManagerParams lists the optional dependencies of ProvideManager.
type ManagerParams struct {
	fx.In

	Config     *Config               `optional:"true"`
	Resolver   CredentialResolver    `optional:"true"`
	Logger     Logger                `optional:"true"`
	Registerer prometheus.Registerer `optional:"true"`
}

// ProvideManager builds a Manager from whatever the container offers.
func ProvideManager(p ManagerParams) *Manager {
	opts := []ManagerOption{WithLogger(p.Logger)}
	if p.Resolver != nil {
		opts = append(opts, WithResolver(p.Resolver))
	}
	if p.Registerer != nil {
		opts = append(opts, WithMetrics(NewMetrics(p.Registerer)))
	}
	return NewManager(p.Config, opts...)
}

// RegisterManagerLifecycle shuts the manager down on application stop.
func RegisterManagerLifecycle(lc fx.Lifecycle, m *Manager) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return m.Shutdown()
		},
	})
}
