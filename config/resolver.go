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
	"github.com/muntasiractive/roamedge-sub001/utils"
	"github.com/sirupsen/logrus"
)

// Resolver walks an ordered list of sources and returns the first complete
// credential set. It never fails: the last tier is the development defaults.
type Resolver struct {
	sources  []Source
	fallback Source
	logger   logrus.FieldLogger
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithSources replaces the environment and file tiers.
func WithSources(sources ...Source) Option {
	return func(r *Resolver) { r.sources = sources }
}

// WithLogger sets the logger used to report the chosen source.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithDefaults replaces the final development-defaults tier.
func WithDefaults(d Defaults) Option {
	return func(r *Resolver) { r.fallback = &DefaultSource{Defaults: d} }
}

// NewResolver builds the standard cascade: environment, the user's
// properties file, then development defaults.
func NewResolver(opts ...Option) *Resolver {
	d := DefaultsFromEnvironment()
	r := &Resolver{
		fallback: &DefaultSource{Defaults: d},
		logger:   utils.NewLogger("CONFIG"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.sources == nil {
		r.sources = []Source{NewEnvSource(d), NewFileSource(d, r.logger)}
	}
	return r
}

// Resolve returns the connection credentials for this process.
func (r *Resolver) Resolve() ConnectionCredentials {
	creds, _ := r.ResolveWithSource()
	return creds
}

// ResolveWithSource is Resolve plus the name of the tier that supplied the
// credentials.
func (r *Resolver) ResolveWithSource() (ConnectionCredentials, string) {
	for _, src := range r.sources {
		creds, ok := src.Lookup()
		if !ok {
			r.logger.WithField("source", src.Name()).Debug("Credential source incomplete, falling through")
			continue
		}
		if !creds.Complete() {
			r.logger.WithField("source", src.Name()).Warn("Credential source returned an incomplete set, falling through")
			continue
		}
		r.logger.WithFields(logrus.Fields{
			"source": src.Name(),
			"driver": creds.Driver,
			"url":    creds.URL,
		}).Info("Database credentials resolved")
		return creds, src.Name()
	}

	creds, _ := r.fallback.Lookup()
	r.logger.WithFields(logrus.Fields{
		"source":   r.fallback.Name(),
		"username": creds.Username,
		"url":      creds.URL,
	}).Warn("SECURITY WARNING: no database credentials configured, using hard-coded development defaults. " +
		"Set " + EnvUser + "/" + EnvPassword + " or create ~/.roam/database.properties before using this in production")
	return creds, r.fallback.Name()
}
