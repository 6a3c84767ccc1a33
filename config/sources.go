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
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Source is one tier of the credential cascade. Lookup returns false when the
// tier is absent or incomplete so the resolver moves on to the next one.
type Source interface {
	Name() string
	Lookup() (ConnectionCredentials, bool)
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// EnvSource reads ROAM_DB_* variables.
type EnvSource struct {
	Getenv   LookupFunc
	Defaults Defaults
}

// NewEnvSource returns an EnvSource backed by the process environment.
func NewEnvSource(d Defaults) *EnvSource {
	return &EnvSource{Getenv: os.LookupEnv, Defaults: d}
}

func (s *EnvSource) Name() string { return "environment" }

func (s *EnvSource) get(key string) string {
	lookup := s.Getenv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	v, _ := lookup(key)
	return v
}

func (s *EnvSource) Lookup() (ConnectionCredentials, bool) {
	// Credentials are returned verbatim; blank values count as unset.
	user, password := s.get(EnvUser), s.get(EnvPassword)
	if strings.TrimSpace(user) == "" || strings.TrimSpace(password) == "" {
		return ConnectionCredentials{}, false
	}
	creds := ConnectionCredentials{
		Username: user,
		Password: password,
		URL:      strings.TrimSpace(s.get(EnvURL)),
		Driver:   strings.TrimSpace(s.get(EnvDriver)),
	}
	if creds.URL == "" {
		creds.URL = s.Defaults.URL()
	}
	if creds.Driver == "" {
		creds.Driver = s.Defaults.DriverOrDefault()
	}
	return creds, true
}

// FileSource reads a key=value properties file.
type FileSource struct {
	Path     string
	Defaults Defaults
	Logger   logrus.FieldLogger
}

// NewFileSource returns a FileSource for the user-scoped properties file.
func NewFileSource(d Defaults, logger logrus.FieldLogger) *FileSource {
	return &FileSource{Path: d.PropertiesPath(), Defaults: d, Logger: logger}
}

func (s *FileSource) Name() string { return "properties file" }

func (s *FileSource) Lookup() (ConnectionCredentials, bool) {
	props, err := ReadProperties(s.Path)
	if err != nil {
		if s.Logger != nil {
			if errors.Is(err, fs.ErrNotExist) {
				s.Logger.WithField("path", s.Path).Debug("Properties file not found")
			} else {
				s.Logger.WithField("path", s.Path).WithError(err).Warn("Properties file unreadable, ignoring it")
			}
		}
		return ConnectionCredentials{}, false
	}

	user := strings.TrimSpace(props[KeyUsername])
	password, hasPassword := props[KeyPassword]
	if user == "" || !hasPassword {
		if s.Logger != nil {
			s.Logger.WithField("path", s.Path).Debug("Properties file lacks db.username or db.password")
		}
		return ConnectionCredentials{}, false
	}

	creds := ConnectionCredentials{
		Username: user,
		Password: password,
		URL:      strings.TrimSpace(props[KeyURL]),
		Driver:   strings.TrimSpace(props[KeyDriver]),
	}
	if creds.URL == "" {
		creds.URL = s.Defaults.URL()
	}
	if creds.Driver == "" {
		creds.Driver = s.Defaults.DriverOrDefault()
	}
	return creds, true
}

// DefaultSource always succeeds with the development credentials.
type DefaultSource struct {
	Defaults Defaults
}

func (s *DefaultSource) Name() string { return "development defaults" }

func (s *DefaultSource) Lookup() (ConnectionCredentials, bool) {
	return ConnectionCredentials{
		URL:      s.Defaults.URL(),
		Username: DefaultUsername,
		Password: DefaultPassword,
		Driver:   s.Defaults.DriverOrDefault(),
	}, true
}
