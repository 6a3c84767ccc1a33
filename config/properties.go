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
	"strings"

	"github.com/joho/godotenv"
	"github.com/natefinch/atomic"
)

// ReadProperties parses a key=value file. "key: value" lines and '#' comments
// are accepted. Values containing '$' must be single-quoted to avoid expansion.
func ReadProperties(path string) (map[string]string, error) {
	props, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read properties %s: %w", path, err)
	}
	return props, nil
}

// WriteProperties atomically replaces path with the given credentials,
// creating the parent directory when needed.
func WriteProperties(path string, creds ConnectionCredentials) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var b strings.Builder
	b.WriteString("# roam database connection\n")
	writeProperty(&b, KeyUsername, creds.Username)
	writeProperty(&b, KeyPassword, creds.Password)
	if creds.URL != "" {
		writeProperty(&b, KeyURL, creds.URL)
	}
	if creds.Driver != "" {
		writeProperty(&b, KeyDriver, creds.Driver)
	}

	if err := atomic.WriteFile(path, strings.NewReader(b.String())); err != nil {
		return fmt.Errorf("failed to write properties %s: %w", path, err)
	}
	return os.Chmod(path, 0o600)
}

func writeProperty(b *strings.Builder, key, value string) {
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(quoteValue(value))
	b.WriteByte('\n')
}

func quoteValue(v string) string {
	if v == "" || !strings.ContainsAny(v, " \t#$'\"\\=") {
		return v
	}
	if !strings.Contains(v, "'") {
		return "'" + v + "'"
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, `$`, `\$`)
	return `"` + r.Replace(v) + `"`
}
