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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapEnv(m map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

// newTestResolver wires the real cascade against a fake environment and a
// temporary home directory.
func newTestResolver(t *testing.T, env map[string]string) (*Resolver, Defaults, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	d := Defaults{HomeDir: t.TempDir(), Driver: DefaultDriver}
	r := NewResolver(
		WithLogger(logger),
		WithDefaults(d),
		WithSources(
			&EnvSource{Getenv: mapEnv(env), Defaults: d},
			&FileSource{Path: d.PropertiesPath(), Defaults: d, Logger: logger},
		),
	)
	return r, d, hook
}

func TestResolveEnvironmentTakesPrecedence(t *testing.T) {
	r, d, _ := newTestResolver(t, map[string]string{
		EnvUser:     "carol",
		EnvPassword: "s3cret",
		EnvURL:      "postgres://db.local:5432/roam?sslmode=disable",
		EnvDriver:   "postgres",
	})
	writeFile(t, d.PropertiesPath(), "db.username=bob\ndb.password=hunter2\n")

	got, source := r.ResolveWithSource()
	want := ConnectionCredentials{
		URL:      "postgres://db.local:5432/roam?sslmode=disable",
		Username: "carol",
		Password: "s3cret",
		Driver:   "postgres",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected credentials (-want +got):\n%s", diff)
	}
	assert.Equal(t, "environment", source)
}

func TestResolveEnvironmentComputesMissingURLAndDriver(t *testing.T) {
	r, d, _ := newTestResolver(t, map[string]string{
		EnvUser:     "alice",
		EnvPassword: "secret",
	})

	got := r.Resolve()
	want := ConnectionCredentials{
		URL:      d.URL(),
		Username: "alice",
		Password: "secret",
		Driver:   DefaultDriver,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected credentials (-want +got):\n%s", diff)
	}
}

func TestResolveEnvironmentKeepsCredentialsVerbatim(t *testing.T) {
	r, _, _ := newTestResolver(t, map[string]string{
		EnvUser:     " alice ",
		EnvPassword: "  secret  ",
		EnvDriver:   " sqlite ",
	})

	got, source := r.ResolveWithSource()
	assert.Equal(t, "environment", source)
	assert.Equal(t, " alice ", got.Username)
	assert.Equal(t, "  secret  ", got.Password)
	assert.Equal(t, "sqlite", got.Driver)
}

func TestResolveBlankEnvironmentPasswordFallsThrough(t *testing.T) {
	r, _, _ := newTestResolver(t, map[string]string{
		EnvUser:     "alice",
		EnvPassword: "   ",
	})

	_, source := r.ResolveWithSource()
	assert.Equal(t, "development defaults", source)
}

func TestResolvePartialEnvironmentFallsThroughToFile(t *testing.T) {
	r, d, _ := newTestResolver(t, map[string]string{EnvUser: "alice"})
	writeFile(t, d.PropertiesPath(), "# local store\ndb.username=bob\ndb.password=hunter2\n")

	got, source := r.ResolveWithSource()
	assert.Equal(t, "properties file", source)
	assert.Equal(t, "bob", got.Username)
	assert.Equal(t, "hunter2", got.Password)
	assert.Equal(t, d.URL(), got.URL)
	assert.Equal(t, DefaultDriver, got.Driver)
}

func TestResolvePartialEnvironmentFallsThroughToDefaults(t *testing.T) {
	r, d, hook := newTestResolver(t, map[string]string{EnvPassword: "orphan"})
	writeFile(t, d.PropertiesPath(), "db.url=file:/tmp/other.db\n")

	got, source := r.ResolveWithSource()
	assert.Equal(t, "development defaults", source)
	assert.True(t, got.Complete())
	assert.NotEmpty(t, got.Password)
	assert.Equal(t, DefaultUsername, got.Username)

	last := hook.LastEntry()
	require.NotNil(t, last)
	assert.Equal(t, logrus.WarnLevel, last.Level)
}

func TestResolveFileTierHonorsURLAndDriver(t *testing.T) {
	r, d, _ := newTestResolver(t, nil)
	writeFile(t, d.PropertiesPath(), strings.Join([]string{
		"db.username = bob",
		"db.password: 'pa$$word'",
		"db.url=root:pw@tcp(127.0.0.1:3306)/roam?parseTime=true",
		"db.driver=mysql",
	}, "\n"))

	got := r.Resolve()
	want := ConnectionCredentials{
		URL:      "root:pw@tcp(127.0.0.1:3306)/roam?parseTime=true",
		Username: "bob",
		Password: "pa$$word",
		Driver:   "mysql",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected credentials (-want +got):\n%s", diff)
	}
}

func TestResolveDefaultsLogSecurityWarning(t *testing.T) {
	r, d, hook := newTestResolver(t, nil)

	got := r.Resolve()
	want := ConnectionCredentials{
		URL:      d.URL(),
		Username: DefaultUsername,
		Password: DefaultPassword,
		Driver:   DefaultDriver,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected credentials (-want +got):\n%s", diff)
	}

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && strings.Contains(e.Message, "SECURITY WARNING") {
			warned = true
		}
	}
	assert.True(t, warned, "expected a security warning when falling back to defaults")
}

func TestResolveUnreadablePropertiesIsAbsent(t *testing.T) {
	r, d, _ := newTestResolver(t, nil)
	// A directory where the file should be cannot be read as a file.
	require.NoError(t, os.MkdirAll(d.PropertiesPath(), 0o700))

	_, source := r.ResolveWithSource()
	assert.Equal(t, "development defaults", source)
}

func TestResolveSkipsIncompleteSource(t *testing.T) {
	logger, _ := test.NewNullLogger()
	d := Defaults{HomeDir: t.TempDir()}
	r := NewResolver(
		WithLogger(logger),
		WithDefaults(d),
		WithSources(staticSource{name: "broken", creds: ConnectionCredentials{Username: "x"}}),
	)

	got, source := r.ResolveWithSource()
	assert.Equal(t, "development defaults", source)
	assert.Equal(t, DefaultDriver, got.Driver)
}

func TestNewResolverUsesProcessEnvironment(t *testing.T) {
	t.Setenv(EnvUser, "alice")
	t.Setenv(EnvPassword, "secret")
	t.Setenv(EnvURL, "file:/tmp/roam-env.db?mode=rwc")
	t.Setenv(EnvDriver, "sqlite")

	logger, _ := test.NewNullLogger()
	got, source := NewResolver(WithLogger(logger)).ResolveWithSource()
	assert.Equal(t, "environment", source)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, "file:/tmp/roam-env.db?mode=rwc", got.URL)
}

func TestCredentialsStringRedactsPassword(t *testing.T) {
	c := ConnectionCredentials{URL: "file:x.db", Username: "bob", Password: "hunter2", Driver: "sqlite"}
	assert.NotContains(t, c.String(), "hunter2")
	assert.NotContains(t, c.GoString(), "hunter2")
	assert.Contains(t, c.String(), "username=bob")
}

func TestDefaultsURL(t *testing.T) {
	d := Defaults{HomeDir: "/home/roam"}
	assert.Equal(t, "file:/home/roam/.roam/roam.db?mode=rwc", d.URL())
	assert.Equal(t, filepath.Join("/home/roam", ".roam", "database.properties"), d.PropertiesPath())
	assert.Equal(t, DefaultDriver, d.DriverOrDefault())
}

type staticSource struct {
	name  string
	creds ConnectionCredentials
}

func (s staticSource) Name() string { return s.name }

func (s staticSource) Lookup() (ConnectionCredentials, bool) { return s.creds, true }

func TestWritePropertiesRoundTrip(t *testing.T) {
	for _, password := range []string{"plain", "pa$$ word#1", `o'brien "quoted"`, ""} {
		t.Run(password, func(t *testing.T) {
			d := Defaults{HomeDir: t.TempDir(), Driver: DefaultDriver}
			want := ConnectionCredentials{
				Username: "carol",
				Password: password,
				URL:      "postgres://db.internal:5432/roam",
				Driver:   "postgres",
			}
			require.NoError(t, WriteProperties(d.PropertiesPath(), want))

			info, err := os.Stat(d.PropertiesPath())
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

			got, ok := NewFileSource(d, nil).Lookup()
			require.True(t, ok)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
