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
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/muntasiractive/roamedge-sub001/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDriver(t *testing.T) {
	for in, want := range map[string]string{
		"sqlite":     DriverSQLite,
		"SQLite3":    DriverSQLite,
		"postgres":   DriverPostgres,
		"postgresql": DriverPostgres,
		" pg ":       DriverPostgres,
		"mysql":      DriverMySQL,
		"mariadb":    DriverMySQL,
	} {
		got, err := NormalizeDriver(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := NormalizeDriver("oracle")
	assert.ErrorIs(t, err, ErrUnsupportedDriver)
}

func TestMySQLDSNInjectsCredentials(t *testing.T) {
	creds := config.ConnectionCredentials{
		URL:      "mysql://tcp(db.local:3306)/roam?charset=utf8mb4",
		Username: "roam",
		Password: "s3cr:t@",
		Driver:   DriverMySQL,
	}
	dsn, err := mysqlDSN(creds, PoolConfig{ConnectTimeout: 7 * time.Second})
	require.NoError(t, err)

	cfg, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "roam", cfg.User)
	assert.Equal(t, "s3cr:t@", cfg.Passwd)
	assert.Equal(t, "db.local:3306", cfg.Addr)
	assert.Equal(t, "roam", cfg.DBName)
	assert.True(t, cfg.ParseTime)
	assert.Equal(t, 7*time.Second, cfg.Timeout)
}

func TestMySQLDSNRejectsGarbage(t *testing.T) {
	_, err := mysqlDSN(config.ConnectionCredentials{URL: "tcp(unterminated"}, PoolConfig{})
	assert.Error(t, err)
}

func TestPostgresDSNInjectsCredentials(t *testing.T) {
	creds := config.ConnectionCredentials{
		URL:      "postgres://db.local:5432/roam",
		Username: "roam",
		Password: "p@ss word",
		Driver:   DriverPostgres,
	}
	dsn, err := postgresDSN(creds, PoolConfig{ConnectTimeout: 5 * time.Second})
	require.NoError(t, err)

	u, err := url.Parse(dsn)
	require.NoError(t, err)
	assert.Equal(t, "roam", u.User.Username())
	pass, _ := u.User.Password()
	assert.Equal(t, "p@ss word", pass)
	assert.Equal(t, "db.local:5432", u.Host)
	assert.Equal(t, "disable", u.Query().Get("sslmode"))
	assert.Equal(t, "5", u.Query().Get("connect_timeout"))
}

func TestPostgresDSNKeepsExplicitSSLMode(t *testing.T) {
	dsn, err := postgresDSN(config.ConnectionCredentials{URL: "db.local/roam?sslmode=require"}, PoolConfig{})
	require.NoError(t, err)
	u, err := url.Parse(dsn)
	require.NoError(t, err)
	assert.Equal(t, "require", u.Query().Get("sslmode"))
	assert.Empty(t, u.Query().Get("connect_timeout"))

	_, err = postgresDSN(config.ConnectionCredentials{URL: "mysql://db.local/roam"}, PoolConfig{})
	assert.Error(t, err)
}

func TestSQLiteDSNAndPath(t *testing.T) {
	assert.Equal(t, "file:/tmp/roam.db", sqliteDSN("sqlite:///tmp/roam.db"))
	assert.Equal(t, "file:/tmp/roam.db?mode=rwc", sqliteDSN("file:/tmp/roam.db?mode=rwc"))

	assert.Equal(t, "/tmp/roam.db", sqliteFilePath("file:/tmp/roam.db?mode=rwc"))
	assert.Equal(t, "roam.db", sqliteFilePath("roam.db"))
	assert.Empty(t, sqliteFilePath("file::memory:?cache=shared"))
	assert.Empty(t, sqliteFilePath("file:roam?mode=memory"))
}

func TestConnectCreatesSQLiteDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", ".roam")
	creds := config.ConnectionCredentials{
		URL:      "file:" + filepath.Join(dir, "roam.db") + "?mode=rwc",
		Username: "roam",
		Driver:   DriverSQLite,
	}
	sqlDB, db, err := connect(context.Background(), creds, DefaultConfig().Pool)
	require.NoError(t, err)
	defer db.Close()

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, 10, sqlDB.Stats().MaxOpenConnections)
}

func TestConnectFailsForUnknownDriver(t *testing.T) {
	_, _, err := connect(context.Background(), config.ConnectionCredentials{URL: "x", Driver: "db2"}, PoolConfig{})
	assert.ErrorIs(t, err, ErrUnsupportedDriver)
}
