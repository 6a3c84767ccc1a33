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

	"github.com/muntasiractive/roamedge-sub001/database"
	"github.com/muntasiractive/roamedge-sub001/repository"
	"github.com/muntasiractive/roamedge-sub001/types"
	"github.com/uptrace/bun"
)

type Service[T any] interface {
	// Get returns a single entity by its primary key.
	Get(ctx context.Context, id any) (*T, error)

	// All returns all entities.
	All(ctx context.Context) ([]*T, error)

	// List returns entities that match the provided filter.
	List(ctx context.Context, filter *types.QueryFilter) ([]*T, error)

	// Query selects entities matching a raw WHERE clause.
	Query(ctx context.Context, query string, args ...interface{}) ([]*T, error)

	// Page returns a paginated list of entities.
	Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error)

	// Update modifies an existing entity.
	Update(ctx context.Context, model *T) error

	// Delete removes an entity by its primary key.
	Delete(ctx context.Context, id any) error

	// Save inserts one or more new entities.
	Save(ctx context.Context, model ...*T) error

	// SaveOrUpdate upserts entities based on fields and duplicate keys.
	SaveOrUpdate(ctx context.Context, fields []string, duplicateKeys []string, model ...*T) error

	// SaveWithTx inserts entities within an existing transaction.
	SaveWithTx(ctx context.Context, tx bun.Tx, model ...*T) error

	// SaveOrUpdateWithTx upserts entities within a transaction.
	SaveOrUpdateWithTx(ctx context.Context, tx bun.Tx, fields []string, duplicateKeys []string, model ...*T) error

	// UpdateWithTx updates an entity within a transaction.
	UpdateWithTx(ctx context.Context, tx bun.Tx, model *T) error

	// DeleteWithTx removes an entity within a transaction.
	DeleteWithTx(ctx context.Context, tx bun.Tx, id any) error

	// RunInTx runs fn in a transaction on a freshly acquired handle.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error
}

type baseServiceImpl[T any] struct {
	manager *database.Manager
}

// NewService returns a Service whose every call borrows a handle from m for
// its duration. The first call triggers m's initialization.
func NewService[T any](m *database.Manager) Service[T] {
	return &baseServiceImpl[T]{manager: m}
}

func (s *baseServiceImpl[T]) withRepo(ctx context.Context, fn func(ctx context.Context, repo repository.Repository[T]) error) error {
	return s.manager.WithHandle(ctx, func(ctx context.Context, h *database.Handle) error {
		return fn(ctx, repository.NewRepository[T](h.DB()))
	})
}

func (s *baseServiceImpl[T]) Save(ctx context.Context, model ...*T) error {
	return s.withRepo(ctx, func(ctx context.Context, repo repository.Repository[T]) error {
		return repo.Create(ctx, model...)
	})
}

func (s *baseServiceImpl[T]) SaveOrUpdate(ctx context.Context, fields []string, duplicateKeys []string, model ...*T) error {
	return s.withRepo(ctx, func(ctx context.Context, repo repository.Repository[T]) error {
		return repo.Upsert(ctx, fields, duplicateKeys, model...)
	})
}

func (s *baseServiceImpl[T]) Get(ctx context.Context, id any) (entity *T, err error) {
	err = s.withRepo(ctx, func(ctx context.Context, repo repository.Repository[T]) error {
		entity, err = repo.GetOne(ctx, id)
		return err
	})
	return entity, err
}

func (s *baseServiceImpl[T]) All(ctx context.Context) (entities []*T, err error) {
	err = s.withRepo(ctx, func(ctx context.Context, repo repository.Repository[T]) error {
		entities, err = repo.GetAll(ctx)
		return err
	})
	return entities, err
}

func (s *baseServiceImpl[T]) List(ctx context.Context, filter *types.QueryFilter) (entities []*T, err error) {
	err = s.withRepo(ctx, func(ctx context.Context, repo repository.Repository[T]) error {
		entities, err = repo.List(ctx, filter)
		return err
	})
	return entities, err
}

func (s *baseServiceImpl[T]) Query(ctx context.Context, query string, args ...interface{}) (entities []*T, err error) {
	err = s.withRepo(ctx, func(ctx context.Context, repo repository.Repository[T]) error {
		entities, err = repo.Query(ctx, query, args...)
		return err
	})
	return entities, err
}

func (s *baseServiceImpl[T]) Update(ctx context.Context, model *T) error {
	return s.withRepo(ctx, func(ctx context.Context, repo repository.Repository[T]) error {
		return repo.Update(ctx, model)
	})
}

func (s *baseServiceImpl[T]) Delete(ctx context.Context, id any) error {
	return s.withRepo(ctx, func(ctx context.Context, repo repository.Repository[T]) error {
		return repo.Delete(ctx, id)
	})
}

func (s *baseServiceImpl[T]) Page(ctx context.Context, page *types.PageRequest) (result *types.Pagination[T], err error) {
	err = s.withRepo(ctx, func(ctx context.Context, repo repository.Repository[T]) error {
		result, err = repo.Page(ctx, page)
		return err
	})
	return result, err
}

func (s *baseServiceImpl[T]) SaveWithTx(ctx context.Context, tx bun.Tx, model ...*T) error {
	return repository.NewRepository[T](tx).CreateWithTx(ctx, tx, model...)
}

func (s *baseServiceImpl[T]) SaveOrUpdateWithTx(ctx context.Context, tx bun.Tx, fields []string, duplicateKeys []string, model ...*T) error {
	return repository.NewRepository[T](tx).UpsertWithTx(ctx, tx, fields, duplicateKeys, model...)
}

func (s *baseServiceImpl[T]) UpdateWithTx(ctx context.Context, tx bun.Tx, model *T) error {
	return repository.NewRepository[T](tx).UpdateWithTx(ctx, tx, model)
}

func (s *baseServiceImpl[T]) DeleteWithTx(ctx context.Context, tx bun.Tx, id any) error {
	return repository.NewRepository[T](tx).DeleteWithTx(ctx, tx, id)
}

func (s *baseServiceImpl[T]) RunInTx(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error {
	return s.manager.WithHandle(ctx, func(ctx context.Context, h *database.Handle) error {
		return h.RunInTx(ctx, fn)
	})
}
