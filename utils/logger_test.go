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

package utils

import (
	"bytes"
	"encoding/json"
	"errors"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	cases := map[string]logrus.Level{
		"trace":   logrus.TraceLevel,
		"DEBUG":   logrus.DebugLevel,
		" info ":  logrus.InfoLevel,
		"warning": logrus.WarnLevel,
		"warn":    logrus.WarnLevel,
		"error":   logrus.ErrorLevel,
		"":        logrus.InfoLevel,
		"bogus":   logrus.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLogLevel(in), "input %q", in)
	}
}

func TestNewLoggerIsRegisteredOnce(t *testing.T) {
	a := NewLogger("REGISTRY")
	b := NewLogger("REGISTRY")
	assert.Same(t, a, b)

	assert.True(t, SetLoggerLevel("REGISTRY", "error"))
	assert.Equal(t, logrus.ErrorLevel, a.GetLevel())
	assert.False(t, SetLoggerLevel("NOT-REGISTERED", "debug"))
}

func TestSetOutputCapturesEntries(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nil)

	l := NewLogger("CAPTURE")
	l.SetLevel(logrus.InfoLevel)
	l.WithField("source", "environment").Info("credentials resolved")

	out := buf.String()
	assert.Contains(t, out, "credentials resolved")
	assert.Contains(t, out, "source=environment")
	assert.Contains(t, out, "CAPTURE")
}

func TestLog4jColorFormatterWithoutColor(t *testing.T) {
	f := &Log4jColorFormatter{LoggerName: "DATABASE", NameWidth: 10}
	entry := &logrus.Entry{
		Time:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Level:   logrus.WarnLevel,
		Message: "using development defaults",
		Data:    logrus.Fields{"b": 2, "a": 1},
	}

	b, err := f.Format(entry)
	require.NoError(t, err)
	line := string(b)
	assert.True(t, strings.HasPrefix(line, "2026-01-02 03:04:05.000 WARNING"))
	assert.Contains(t, line, "[  DATABASE]")
	assert.True(t, strings.HasSuffix(line, "using development defaults a=1 b=2\n"), line)
}

func TestJSONLogFormatter(t *testing.T) {
	f := &JSONLogFormatter{LoggerName: "CONFIG"}
	entry := &logrus.Entry{
		Time:    time.Now(),
		Level:   logrus.ErrorLevel,
		Message: "migration failed",
		Data:    logrus.Fields{"error": errors.New("boom"), "version": "2"},
		Caller:  &runtime.Frame{File: "/src/database/migrations.go", Line: 12},
	}

	b, err := f.Format(entry)
	require.NoError(t, err)

	var rec jsonLogRecord
	require.NoError(t, json.Unmarshal(b, &rec))
	assert.Equal(t, "error", rec.Level)
	assert.Equal(t, "CONFIG", rec.Logger)
	assert.Equal(t, "migrations.go:12", rec.Caller)
	assert.Equal(t, "boom", rec.Fields["error"])
	assert.Equal(t, "2", rec.Fields["version"])
}

func TestCompactCaller(t *testing.T) {
	assert.Equal(t, "roam.database.manager.go:7", strings.TrimSpace(compactCaller("/home/u/roam/database/manager.go", 7, 0)))

	short := compactCaller("/home/user/project/database/migrations.go", 120, 20)
	assert.LessOrEqual(t, len([]rune(short)), 20)
	assert.True(t, strings.HasSuffix(short, ":120"), short)
}

func TestEnvDefaults(t *testing.T) {
	t.Setenv("ROAM_TEST_STRING", "value")
	t.Setenv("ROAM_TEST_BOOL", "true")
	t.Setenv("ROAM_TEST_BAD_BOOL", "maybe")

	assert.Equal(t, "value", EnvDefaultString("ROAM_TEST_STRING", "def"))
	assert.Equal(t, "def", EnvDefaultString("ROAM_TEST_UNSET", "def"))
	assert.True(t, EnvDefaultBool("ROAM_TEST_BOOL", false))
	assert.True(t, EnvDefaultBool("ROAM_TEST_BAD_BOOL", true))
	assert.False(t, EnvDefaultBool("ROAM_TEST_UNSET", false))
}
