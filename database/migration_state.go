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
	"time"

	"github.com/muntasiractive/roamedge-sub001/types"
	"github.com/uptrace/bun"
)

// HistoryTable stores one row per applied, failed or baselined migration.
const HistoryTable = "roam_schema_history"

const (
	migrationTypeSQL      = "SQL"
	migrationTypeBaseline = "BASELINE"
)

// MigrationRecord is a row of the history table.
type MigrationRecord struct {
	bun.BaseModel `bun:"table:roam_schema_history"`

	InstalledRank int64     `bun:"installed_rank,pk"`
	Version       string    `bun:"version,notnull,unique"`
	Description   string    `bun:"description,notnull"`
	Type          string    `bun:"type,notnull"`
	Script        string    `bun:"script,notnull"`
	Checksum      int64     `bun:"checksum,notnull"`
	InstalledBy   string    `bun:"installed_by,notnull"`
	InstalledOn   time.Time `bun:"installed_on,notnull"`
	ExecutionTime int64     `bun:"execution_time,notnull"`
	Success       bool      `bun:"success,notnull"`
}

func (r *MigrationRecord) isBaseline() bool {
	return r.Type == migrationTypeBaseline
}

// MigrationState is the reported state of a single migration.
type MigrationState int

const (
	MigrationPending MigrationState = iota
	MigrationApplied
	MigrationFailed
	MigrationBaseline
	MigrationBelowBaseline
	MigrationMissing
)

var _ types.BaseEnum = MigrationPending

// MigrationStates lists every state in declaration order.
func MigrationStates() []MigrationState {
	return []MigrationState{
		MigrationPending,
		MigrationApplied,
		MigrationFailed,
		MigrationBaseline,
		MigrationBelowBaseline,
		MigrationMissing,
	}
}

var migrationStateNames = map[MigrationState][2]string{
	MigrationPending:       {"pending", "script known but not yet applied"},
	MigrationApplied:       {"applied", "applied successfully"},
	MigrationFailed:        {"failed", "last attempt failed, repair required"},
	MigrationBaseline:      {"baseline", "baseline marker for a pre-existing store"},
	MigrationBelowBaseline: {"below_baseline", "covered by the baseline, never applied"},
	MigrationMissing:       {"missing", "applied but the script is no longer present"},
}

func (s MigrationState) IsValid() bool {
	_, ok := migrationStateNames[s]
	return ok
}

func (s MigrationState) Number() int {
	if !s.IsValid() {
		return types.IllegalValue
	}
	return int(s)
}

func (s MigrationState) Name() string {
	if n, ok := migrationStateNames[s]; ok {
		return n[0]
	}
	return types.IllegalName
}

func (s MigrationState) String() string { return s.Name() }

func (s MigrationState) Desc() string {
	if n, ok := migrationStateNames[s]; ok {
		return n[1]
	}
	return types.IllegalDesc
}

// MigrationInfo is the reporting view combining scripts and history.
type MigrationInfo struct {
	Version     string
	Description string
	Script      string
	Type        string
	InstalledOn *time.Time
	State       MigrationState
}

// MigrateResult summarizes one Migrate call.
type MigrateResult struct {
	MigrationsExecuted int
	InitialVersion     string
	CurrentVersion     string
	Baselined          bool
	Repaired           bool
	Executed           []string
}

// RepairResult counts the history rows touched by a repair.
type RepairResult struct {
	RemovedFailed  int
	RemovedMissing int
	Realigned      int
}

func (r *RepairResult) Changed() bool {
	return r.RemovedFailed+r.RemovedMissing+r.Realigned > 0
}
