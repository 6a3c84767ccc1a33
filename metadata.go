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

package roamedge

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/muntasiractive/roamedge-sub001/database"
	"github.com/muntasiractive/roamedge-sub001/types"
	"github.com/uptrace/bun"
)

func init() {
	database.RegisterModel((*AppMetadata)(nil), 0)
	database.RegisterModel((*AppPreference)(nil), 0)
}

// AppMetadata is a row of app_metadata, created by the V1 migration.
type AppMetadata struct {
	bun.BaseModel `bun:"table:app_metadata,alias:am"`

	Key       string    `bun:"meta_key,pk" json:"key"`
	Value     string    `bun:"meta_value,notnull" json:"value"`
	UpdatedAt time.Time `bun:"updated_at,notnull" json:"updated_at"`
}

// AppPreference is a row of app_preference, created by the V2 migration.
type AppPreference struct {
	bun.BaseModel `bun:"table:app_preference,alias:ap"`

	ID        int64     `bun:"id,pk" json:"id"`
	Scope     string    `bun:"scope,notnull" json:"scope"`
	Key       string    `bun:"pref_key,notnull" json:"key"`
	Value     string    `bun:"pref_value" json:"value"`
	UpdatedAt time.Time `bun:"updated_at,notnull" json:"updated_at"`
}

// MetadataStore is a key/value view over app_metadata.
type MetadataStore struct {
	svc Service[AppMetadata]
	now func() time.Time
}

func NewMetadataStore(m *database.Manager) *MetadataStore {
	return &MetadataStore{svc: NewService[AppMetadata](m), now: time.Now}
}

// Get returns the value stored under key; ok is false when it is absent.
func (s *MetadataStore) Get(ctx context.Context, key string) (value string, ok bool, err error) {
	row, err := s.svc.Get(ctx, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return row.Value, true, nil
}

// Set inserts or overwrites key.
func (s *MetadataStore) Set(ctx context.Context, key, value string) error {
	return s.svc.SaveOrUpdate(ctx,
		[]string{"meta_value", "updated_at"},
		[]string{"meta_key"},
		&AppMetadata{Key: key, Value: value, UpdatedAt: s.now().UTC()},
	)
}

// All returns every entry as a map.
func (s *MetadataStore) All(ctx context.Context) (map[string]string, error) {
	rows, err := s.svc.All(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, row := range rows {
		out[row.Key] = row.Value
	}
	return out, nil
}

func (s *MetadataStore) Delete(ctx context.Context, key string) error {
	return s.svc.Delete(ctx, key)
}

// PreferenceStore keeps per-scope preferences in app_preference.
type PreferenceStore struct {
	svc Service[AppPreference]
	now func() time.Time
}

func NewPreferenceStore(m *database.Manager) *PreferenceStore {
	return &PreferenceStore{svc: NewService[AppPreference](m), now: time.Now}
}

// Put writes scope/key in a single transaction, reusing the row id when the
// pair already exists.
func (s *PreferenceStore) Put(ctx context.Context, scope, key, value string) error {
	return s.svc.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		existing := new(AppPreference)
		err := tx.NewSelect().Model(existing).
			Where("scope = ?", scope).
			Where("pref_key = ?", key).
			Scan(ctx)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			var maxID sql.NullInt64
			if err := tx.NewSelect().Model((*AppPreference)(nil)).ColumnExpr("MAX(id)").Scan(ctx, &maxID); err != nil {
				return err
			}
			return s.svc.SaveWithTx(ctx, tx, &AppPreference{
				ID:        maxID.Int64 + 1,
				Scope:     scope,
				Key:       key,
				Value:     value,
				UpdatedAt: s.now().UTC(),
			})
		case err != nil:
			return err
		}
		existing.Value = value
		existing.UpdatedAt = s.now().UTC()
		return s.svc.UpdateWithTx(ctx, tx, existing)
	})
}

// Scope pages through the preferences of scope ordered by key.
func (s *PreferenceStore) Scope(ctx context.Context, scope string, page, pageSize int) (*types.Pagination[AppPreference], error) {
	return s.svc.Page(ctx, types.NewPageRequest(page, pageSize,
		types.NewQueryFilter("scope = ?", scope),
		[]string{"pref_key ASC"},
	))
}
