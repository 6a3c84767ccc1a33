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
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestClassifySQLError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		ok   bool
		kind SQLError
	}{
		{name: "nil", err: nil, ok: false, kind: UnknownErr},
		{name: "no rows", err: fmt.Errorf("load: %w", sql.ErrNoRows), ok: true, kind: NoRowsErr},
		{name: "mysql missing table", err: &mysql.MySQLError{Number: 1146, Message: "Table 'roam.x' doesn't exist"}, ok: true, kind: NoTableErr},
		{name: "mysql existing table", err: &mysql.MySQLError{Number: 1050}, ok: true, kind: ExistTableErr},
		{name: "mysql duplicate", err: fmt.Errorf("insert: %w", &mysql.MySQLError{Number: 1062}), ok: true, kind: DuplicateKeyErr},
		{name: "mysql access denied", err: &mysql.MySQLError{Number: 1045}, ok: true, kind: ConnectionErr},
		{name: "mysql other", err: &mysql.MySQLError{Number: 9999}, ok: true, kind: UnknownErr},
		{name: "pq missing table", err: &pq.Error{Code: "42P01"}, ok: true, kind: NoTableErr},
		{name: "pq existing table", err: &pq.Error{Code: "42P07"}, ok: true, kind: ExistTableErr},
		{name: "pq unique", err: &pq.Error{Code: "23505"}, ok: true, kind: DuplicateKeyErr},
		{name: "pq bad password", err: &pq.Error{Code: "28P01"}, ok: true, kind: ConnectionErr},
		{name: "sqlite missing table", err: errors.New("SQL logic error: no such table: note (1)"), ok: true, kind: NoTableErr},
		{name: "sqlite existing table", err: errors.New("table note already exists"), ok: true, kind: ExistTableErr},
		{name: "sqlite existing index", err: errors.New("index idx_note already exists"), ok: true, kind: ExistIndexErr},
		{name: "sqlite unique", err: errors.New("constraint failed: UNIQUE constraint failed: note.id (1555)"), ok: true, kind: DuplicateKeyErr},
		{name: "sqlite not null", err: errors.New("NOT NULL constraint failed: note.body"), ok: true, kind: NotNullViolationErr},
		{name: "sqlite cannot open", err: errors.New("unable to open database file: out of memory (14)"), ok: true, kind: ConnectionErr},
		{name: "unrelated", err: errors.New("something else"), ok: false, kind: UnknownErr},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, kind := ClassifySQLError(tt.err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.kind, kind, "got %s", kind)
		})
	}
}

func TestIsSQLError(t *testing.T) {
	assert.True(t, IsSQLError(&pq.Error{Code: "42P07"}, ExistTableErr))
	assert.False(t, IsSQLError(&pq.Error{Code: "42P07"}, NoTableErr))
	assert.False(t, IsSQLError(nil, UnknownErr))
}

func TestInitErrorUnwraps(t *testing.T) {
	err := fmt.Errorf("startup: %w", &InitError{Stage: StageMigrate, Err: ErrMigrationFailed})
	assert.ErrorIs(t, err, ErrMigrationFailed)
	assert.EqualError(t, err, "startup: database initialization failed at migrate: schema migration failed")
}

func TestValidationErrorListsProblems(t *testing.T) {
	err := &ValidationError{Problems: []ValidationProblem{
		{Version: "1", Script: "V1__a.sql", Reason: "checksum mismatch"},
		{Version: "2", Script: "V2__b.sql", Reason: "detected failed migration"},
	}}
	assert.Equal(t,
		"migration validation failed, 2 problems in total: version 1 (V1__a.sql): checksum mismatch; version 2 (V2__b.sql): detected failed migration",
		err.Error())
}

func TestSQLErrorString(t *testing.T) {
	assert.Equal(t, "exist_table", ExistTableErr.String())
	assert.Equal(t, "connection", ConnectionErr.String())
	assert.Equal(t, "unknown", SQLError(99).String())
}
