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
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/muntasiractive/roamedge-sub001/config"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// Canonical driver identifiers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// NormalizeDriver maps accepted aliases onto a canonical identifier.
func NormalizeDriver(driver string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite", "sqlite3":
		return DriverSQLite, nil
	case "postgres", "postgresql", "pg":
		return DriverPostgres, nil
	case "mysql", "mariadb":
		return DriverMySQL, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
}

// openDB opens a pool for creds and tunes it with pool. It does not ping.
func openDB(creds config.ConnectionCredentials, pool PoolConfig) (*sql.DB, *bun.DB, error) {
	driver, err := NormalizeDriver(creds.Driver)
	if err != nil {
		return nil, nil, err
	}

	var sqlDB *sql.DB
	var db *bun.DB
	switch driver {
	case DriverMySQL:
		sqlDB, db, err = createMySQLConnection(creds, pool)
	case DriverPostgres:
		sqlDB, db, err = createPostgreSQLConnection(creds, pool)
	default:
		sqlDB, db, err = createSQLiteConnection(creds)
	}
	if err != nil {
		return nil, nil, err
	}

	configureConnectionPool(sqlDB, pool)
	return sqlDB, db, nil
}

// connect opens and pings, closing the pool again if the ping fails.
func connect(ctx context.Context, creds config.ConnectionCredentials, pool PoolConfig) (*sql.DB, *bun.DB, error) {
	sqlDB, db, err := openDB(creds, pool)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create database connection: %w", err)
	}

	pingCtx := ctx
	if pool.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, pool.ConnectTimeout)
		defer cancel()
	}
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("database connection test failed: %w", err)
	}
	return sqlDB, db, nil
}

func createMySQLConnection(creds config.ConnectionCredentials, pool PoolConfig) (*sql.DB, *bun.DB, error) {
	dsn, err := mysqlDSN(creds, pool)
	if err != nil {
		return nil, nil, err
	}

	sqlDB, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, nil, err
	}

	db := bun.NewDB(sqlDB, mysqldialect.New())
	return sqlDB, db, nil
}

// mysqlDSN injects the resolved user and password into a go-sql-driver DSN.
// A mysql:// prefix is tolerated.
func mysqlDSN(creds config.ConnectionCredentials, pool PoolConfig) (string, error) {
	raw := strings.TrimPrefix(creds.URL, "mysql://")
	cfg, err := mysql.ParseDSN(raw)
	if err != nil {
		return "", fmt.Errorf("invalid mysql url: %w", err)
	}
	cfg.User = creds.Username
	cfg.Passwd = creds.Password
	cfg.ParseTime = true
	cfg.MultiStatements = false
	if cfg.Timeout == 0 && pool.ConnectTimeout > 0 {
		cfg.Timeout = pool.ConnectTimeout
	}
	return cfg.FormatDSN(), nil
}

func createPostgreSQLConnection(creds config.ConnectionCredentials, pool PoolConfig) (*sql.DB, *bun.DB, error) {
	dsn, err := postgresDSN(creds, pool)
	if err != nil {
		return nil, nil, err
	}

	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, nil, err
	}

	db := bun.NewDB(sqlDB, pgdialect.New())
	return sqlDB, db, nil
}

// postgresDSN injects the resolved user and password into a postgres URL.
// sslmode defaults to disable for local stores.
func postgresDSN(creds config.ConnectionCredentials, pool PoolConfig) (string, error) {
	raw := creds.URL
	if !strings.Contains(raw, "://") {
		raw = "postgres://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid postgres url: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", fmt.Errorf("invalid postgres url: unexpected scheme %q", u.Scheme)
	}
	u.User = url.UserPassword(creds.Username, creds.Password)

	q := u.Query()
	if q.Get("sslmode") == "" {
		q.Set("sslmode", "disable")
	}
	if q.Get("connect_timeout") == "" && pool.ConnectTimeout > 0 {
		q.Set("connect_timeout", fmt.Sprintf("%d", int(pool.ConnectTimeout.Seconds())))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func createSQLiteConnection(creds config.ConnectionCredentials) (*sql.DB, *bun.DB, error) {
	dsn := sqliteDSN(creds.URL)
	if path := sqliteFilePath(dsn); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	sqlDB, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, nil, err
	}

	db := bun.NewDB(sqlDB, sqlitedialect.New())
	return sqlDB, db, nil
}

// sqliteDSN accepts file: URIs, sqlite:// URLs and bare paths.
func sqliteDSN(raw string) string {
	switch {
	case strings.HasPrefix(raw, "sqlite://"):
		return "file:" + strings.TrimPrefix(raw, "sqlite://")
	case strings.HasPrefix(raw, "sqlite3://"):
		return "file:" + strings.TrimPrefix(raw, "sqlite3://")
	default:
		return raw
	}
}

// sqliteFilePath extracts the on-disk path of a sqlite DSN, or "" for
// in-memory stores.
func sqliteFilePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" || strings.Contains(dsn, "mode=memory") {
		return ""
	}
	return path
}

func configureConnectionPool(sqlDB *sql.DB, pool PoolConfig) {
	if sqlDB == nil {
		return
	}

	sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
}
