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

package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// EnvUser and EnvPassword must both be set for the environment tier to apply.
	EnvUser     = "ROAM_DB_USER"
	EnvPassword = "ROAM_DB_PASSWORD"
	EnvURL      = "ROAM_DB_URL"
	EnvDriver   = "ROAM_DB_DRIVER"

	KeyUsername = "db.username"
	KeyPassword = "db.password"
	KeyURL      = "db.url"
	KeyDriver   = "db.driver"

	// DefaultDriver selects the embedded file-backed store.
	DefaultDriver = "sqlite"

	// Development credentials used when no other source is configured.
	DefaultUsername = "roam"
	DefaultPassword = "roam-dev"

	configDirName      = ".roam"
	propertiesFileName = "database.properties"
	storeFileName      = "roam.db"
)

// ConnectionCredentials identifies the store and how to authenticate to it.
// Values are resolved once per process and never mutated afterwards.
type ConnectionCredentials struct {
	URL      string
	Username string
	Password string
	Driver   string
}

// Complete reports whether every field needed to open a connection is set.
func (c ConnectionCredentials) Complete() bool {
	return c.URL != "" && c.Username != "" && c.Driver != ""
}

// String implements fmt.Stringer without leaking the password.
func (c ConnectionCredentials) String() string {
	pw := ""
	if c.Password != "" {
		pw = "******"
	}
	return fmt.Sprintf("driver=%s url=%s username=%s password=%s", c.Driver, c.URL, c.Username, pw)
}

// GoString keeps %#v from printing the password as well.
func (c ConnectionCredentials) GoString() string {
	return "config.ConnectionCredentials{" + c.String() + "}"
}

// Defaults computes the values used when a source leaves a field unset.
type Defaults struct {
	HomeDir string
	Driver  string
}

// DefaultsFromEnvironment derives Defaults from the current user's home
// directory, falling back to the working directory when it is unknown.
func DefaultsFromEnvironment() Defaults {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return Defaults{HomeDir: home, Driver: DefaultDriver}
}

// ConfigDir is the per-user directory holding the store and properties file.
func (d Defaults) ConfigDir() string {
	return filepath.Join(d.HomeDir, configDirName)
}

// PropertiesPath is the fixed location of the user-scoped properties file.
func (d Defaults) PropertiesPath() string {
	return filepath.Join(d.ConfigDir(), propertiesFileName)
}

// URL returns the default file-backed store location. The factory keeps idle
// connections open so the store survives reconnects within the process.
func (d Defaults) URL() string {
	return fmt.Sprintf("file:%s?mode=rwc", filepath.ToSlash(filepath.Join(d.ConfigDir(), storeFileName)))
}

// DriverOrDefault returns the configured default driver identifier.
func (d Defaults) DriverOrDefault() string {
	if d.Driver == "" {
		return DefaultDriver
	}
	return d.Driver
}
