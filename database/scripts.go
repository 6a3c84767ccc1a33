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
	"bufio"
	"fmt"
	"hash/crc32"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/hashicorp/go-version"
)

var scriptNamePattern = regexp.MustCompile(`^V([0-9]+(?:[._][0-9]+)*)__(.+)\.sql$`)

// Script is one versioned migration file.
type Script struct {
	Version     *version.Version
	Description string
	Name        string
	SQL         string
	Checksum    int64
}

// Key is the canonical version string stored in the history table. Trailing
// zero segments are dropped so V1, V1.0 and V1_0 share a key.
func (s *Script) Key() string {
	return versionKey(s.Version)
}

// ScriptSource lists the migration scripts known to the engine.
type ScriptSource interface {
	Scripts() ([]*Script, error)
}

// FSSource reads V<version>__<description>.sql files from a directory of an
// fs.FS. Other files are ignored.
type FSSource struct {
	FS  fs.FS
	Dir string
}

// NewFSSource returns a source reading dir of fsys.
func NewFSSource(fsys fs.FS, dir string) *FSSource {
	if dir == "" {
		dir = "."
	}
	return &FSSource{FS: fsys, Dir: dir}
}

// Scripts returns the scripts sorted by ascending version. Duplicate versions
// and malformed V-prefixed names are errors.
func (s *FSSource) Scripts() ([]*Script, error) {
	entries, err := fs.ReadDir(s.FS, s.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list migration scripts: %w", err)
	}

	seen := make(map[string]string)
	var scripts []*Script
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(name), ".sql") {
			continue
		}
		v, desc, err := parseScriptName(name)
		if err != nil {
			return nil, err
		}

		content, err := fs.ReadFile(s.FS, path.Join(s.Dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", name, err)
		}

		script := &Script{
			Version:     v,
			Description: desc,
			Name:        name,
			SQL:         string(content),
			Checksum:    checksum(string(content)),
		}
		if prev, ok := seen[script.Key()]; ok {
			return nil, fmt.Errorf("duplicate migration version %s: %s and %s", script.Key(), prev, name)
		}
		seen[script.Key()] = name
		scripts = append(scripts, script)
	}

	sortScripts(scripts)
	return scripts, nil
}

func sortScripts(scripts []*Script) {
	sort.Slice(scripts, func(i, j int) bool {
		return scripts[i].Version.LessThan(scripts[j].Version)
	})
}

func parseScriptName(name string) (*version.Version, string, error) {
	m := scriptNamePattern.FindStringSubmatch(name)
	if m == nil {
		return nil, "", fmt.Errorf("invalid migration file name %q, expected V<version>__<description>.sql", name)
	}
	v, err := parseVersion(m[1])
	if err != nil {
		return nil, "", fmt.Errorf("invalid migration version in %q: %w", name, err)
	}
	desc := strings.TrimSpace(strings.ReplaceAll(m[2], "_", " "))
	if desc == "" {
		return nil, "", fmt.Errorf("invalid migration file name %q, empty description", name)
	}
	return v, desc, nil
}

// parseVersion accepts "1", "1.2", "1_2" and "2.0.1".
func parseVersion(s string) (*version.Version, error) {
	return version.NewVersion(strings.ReplaceAll(strings.TrimSpace(s), "_", "."))
}

func versionKey(v *version.Version) string {
	segs := v.Segments64()
	n := len(segs)
	for n > 1 && segs[n-1] == 0 {
		n--
	}
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = strconv.FormatInt(segs[i], 10)
	}
	return strings.Join(parts, ".")
}

// checksum is a CRC32 over the script lines, so line-ending changes do not
// count as drift.
func checksum(content string) int64 {
	h := crc32.NewIEEE()
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		_, _ = h.Write([]byte(strings.TrimRight(scanner.Text(), "\r")))
	}
	return int64(int32(h.Sum32()))
}

// splitSQLStatements splits a script into statements terminated by a trailing
// ';'. Whole-line "--" comments and blank lines are skipped. Inside a
// CREATE TRIGGER/PROCEDURE/FUNCTION the BEGIN...END body and any $$-quoted
// body are kept in one statement.
func splitSQLStatements(content string) []string {
	var (
		statements []string
		current    strings.Builder
		head       []string
		depth      int
		dollar     bool
	)

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}

		current.WriteString(line)
		current.WriteString(" ")

		if strings.Count(line, "$$")%2 == 1 {
			dollar = !dollar
		}
		words := sqlWords(line)
		if len(head) < 8 {
			head = append(head, words...)
		}
		if isCompoundDefinition(head) {
			depth = blockDepth(depth, words)
		}

		if strings.HasSuffix(line, ";") && depth == 0 && !dollar {
			stmt := strings.TrimSpace(current.String())
			if stmt != ";" {
				statements = append(statements, stmt)
			}
			current.Reset()
			head = head[:0]
		}
	}

	if current.Len() > 0 {
		stmt := strings.TrimSpace(current.String())
		if stmt != "" {
			statements = append(statements, stmt)
		}
	}

	return statements
}

// sqlWords returns the upper-cased keywords and identifiers of one line,
// skipping quoted text and a trailing "--" comment.
func sqlWords(line string) []string {
	var words []string
	var word strings.Builder
	flush := func() {
		if word.Len() > 0 {
			words = append(words, strings.ToUpper(word.String()))
			word.Reset()
		}
	}

	var quote byte
	for i := 0; i < len(line); i++ {
		c := line[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch {
		case c == '\'' || c == '"' || c == '`':
			flush()
			quote = c
		case c == '-' && i+1 < len(line) && line[i+1] == '-':
			flush()
			return words
		case c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (word.Len() > 0 && c >= '0' && c <= '9'):
			word.WriteByte(c)
		default:
			flush()
		}
	}
	flush()
	return words
}

func isCompoundDefinition(head []string) bool {
	if len(head) == 0 || head[0] != "CREATE" {
		return false
	}
	for _, w := range head[1:] {
		switch w {
		case "TRIGGER", "PROCEDURE", "FUNCTION":
			return true
		}
	}
	return false
}

// blockDepth applies the BEGIN/CASE openers and END closers in words.
// "END IF", "END LOOP" and friends close constructs that are not counted.
func blockDepth(depth int, words []string) int {
	for i := 0; i < len(words); i++ {
		switch words[i] {
		case "BEGIN", "CASE":
			depth++
		case "END":
			if i+1 < len(words) {
				switch words[i+1] {
				case "IF", "LOOP", "WHILE", "REPEAT":
					i++
					continue
				case "CASE":
					i++
				}
			}
			if depth > 0 {
				depth--
			}
		}
	}
	return depth
}
