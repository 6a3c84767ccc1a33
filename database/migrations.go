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
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-version"
	"github.com/muntasiractive/roamedge-sub001/config"
	"github.com/muntasiractive/roamedge-sub001/migrations"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// maxRepairAttempts bounds history repair per Migrate call. Validation is not
// re-run after the repair.
const maxRepairAttempts = 1

// Migrator brings a store's schema up to date. Apply reports false on any
// failure; the caller must not build a factory then.
type Migrator interface {
	Apply(ctx context.Context, creds config.ConnectionCredentials) bool
}

// Runner applies versioned SQL scripts and keeps the history table in sync.
type Runner struct {
	source  ScriptSource
	cfg     MigrationConfig
	pool    PoolConfig
	logger  Logger
	metrics *Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

var _ Migrator = (*Runner)(nil)

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithScriptSource replaces the embedded scripts.
func WithScriptSource(src ScriptSource) RunnerOption {
	return func(r *Runner) { r.source = src }
}

func WithRunnerLogger(logger Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithRunnerMetrics(m *Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

func WithRunnerTracer(t trace.Tracer) RunnerOption {
	return func(r *Runner) {
		if t != nil {
			r.tracer = t
		}
	}
}

// NewRunner returns a Runner using cfg.Migration. Scripts come from
// cfg.Migration.Dir when set, otherwise from the embedded migrations.
func NewRunner(cfg *Config, opts ...RunnerOption) *Runner {
	cfg = cfg.withDefaults()
	r := &Runner{
		source: defaultScriptSource(cfg.Migration),
		cfg:    cfg.Migration,
		pool: PoolConfig{
			MaxOpenConns:   1,
			MaxIdleConns:   1,
			ConnectTimeout: cfg.Pool.ConnectTimeout,
		},
		logger: GetLogger(),
		tracer: defaultTracer(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func defaultScriptSource(mc MigrationConfig) ScriptSource {
	if mc.Dir != "" {
		return NewFSSource(os.DirFS(mc.Dir), ".")
	}
	return NewFSSource(migrations.FS, ".")
}

// Apply runs Migrate and converts any failure into false plus an error log.
func (r *Runner) Apply(ctx context.Context, creds config.ConnectionCredentials) bool {
	if _, err := r.Migrate(ctx, creds); err != nil {
		r.logger.Error("Schema migration failed, the store is not usable", "driver", creds.Driver, "error", err)
		return false
	}
	return true
}

// Migrate opens an administrative connection and brings the schema up to
// date: create history (baselining an unmanaged store), validate, repair at
// most once, then apply every pending script in version order.
func (r *Runner) Migrate(ctx context.Context, creds config.ConnectionCredentials) (*MigrateResult, error) {
	ctx, span := r.tracer.Start(ctx, "database.migrate",
		trace.WithAttributes(attribute.String("db.driver", creds.Driver)))
	defer span.End()

	var result *MigrateResult
	err := r.withAdmin(ctx, creds, func(db *bun.DB) error {
		var err error
		result, err = r.migrate(ctx, db, installedBy(creds))
		return err
	})

	executed := 0
	if result != nil {
		executed = result.MigrationsExecuted
	}
	r.metrics.observeMigrationRun(executed, err)
	if err != nil {
		recordSpanError(span, err)
		return result, err
	}
	span.SetAttributes(
		attribute.Int("db.migrations.executed", executed),
		attribute.String("db.schema.version", result.CurrentVersion),
	)
	return result, nil
}

func (r *Runner) migrate(ctx context.Context, db *bun.DB, by string) (*MigrateResult, error) {
	scripts, err := r.source.Scripts()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve migration scripts: %w", err)
	}

	result := &MigrateResult{}
	result.Baselined, err = r.ensureHistory(ctx, db, by)
	if err != nil {
		return result, err
	}

	records, err := loadHistory(ctx, db)
	if err != nil {
		return result, err
	}
	result.InitialVersion = currentVersion(records)

	for attempt := 0; attempt < maxRepairAttempts; attempt++ {
		verr := validateHistory(scripts, records)
		if verr == nil {
			break
		}
		r.logger.Warn("Migration history does not match the scripts, repairing", "problems", len(verr.Problems), "error", verr.Error())

		rr, err := r.repair(ctx, db, scripts, records)
		if err != nil {
			return result, fmt.Errorf("failed to repair migration history: %w", err)
		}
		result.Repaired = true
		r.logger.Info("Migration history repaired",
			"removed_failed", rr.RemovedFailed,
			"removed_missing", rr.RemovedMissing,
			"realigned", rr.Realigned,
		)

		if records, err = loadHistory(ctx, db); err != nil {
			return result, err
		}
	}

	rank := nextRank(records)
	for _, s := range pendingScripts(scripts, records) {
		r.logger.Info("Migrating schema", "version", s.Key(), "description", s.Description)
		rec, err := r.applyScript(ctx, db, s, rank, by)
		if err != nil {
			r.logger.Error("Migration failed",
				"version", s.Key(),
				"script", s.Name,
				"error", err,
			)
			return result, fmt.Errorf("migration %s (%s) failed: %w", s.Key(), s.Name, err)
		}
		rank++
		result.MigrationsExecuted++
		result.Executed = append(result.Executed, s.Key())
		r.logger.Info("Migration applied",
			"version", rec.Version,
			"description", rec.Description,
			"installed_on", rec.InstalledOn.Format(time.RFC3339),
			"execution_ms", rec.ExecutionTime,
		)
	}

	if records, err = loadHistory(ctx, db); err != nil {
		return result, err
	}
	result.CurrentVersion = currentVersion(records)

	if result.MigrationsExecuted == 0 {
		r.logger.Info("Schema is up to date, no migration necessary", "version", result.CurrentVersion)
	} else {
		r.logger.Info("Successfully applied migrations", "count", result.MigrationsExecuted, "version", result.CurrentVersion)
	}
	return result, nil
}

// Info reports every known migration without changing the store.
func (r *Runner) Info(ctx context.Context, creds config.ConnectionCredentials) ([]MigrationInfo, error) {
	scripts, err := r.source.Scripts()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve migration scripts: %w", err)
	}

	var records []MigrationRecord
	err = r.withAdmin(ctx, creds, func(db *bun.DB) error {
		var err error
		records, err = loadHistoryIfExists(ctx, db)
		return err
	})
	if err != nil {
		return nil, err
	}
	return buildInfo(scripts, records), nil
}

// Validate compares the history with the scripts. Mismatches are reported
// as *ValidationError.
func (r *Runner) Validate(ctx context.Context, creds config.ConnectionCredentials) error {
	scripts, err := r.source.Scripts()
	if err != nil {
		return fmt.Errorf("failed to resolve migration scripts: %w", err)
	}

	return r.withAdmin(ctx, creds, func(db *bun.DB) error {
		records, err := loadHistoryIfExists(ctx, db)
		if err != nil {
			return err
		}
		if verr := validateHistory(scripts, records); verr != nil {
			return verr
		}
		return nil
	})
}

// Repair removes failed and orphaned history rows and realigns checksums
// and descriptions with the current scripts. The schema itself is untouched.
func (r *Runner) Repair(ctx context.Context, creds config.ConnectionCredentials) (*RepairResult, error) {
	scripts, err := r.source.Scripts()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve migration scripts: %w", err)
	}

	result := &RepairResult{}
	err = r.withAdmin(ctx, creds, func(db *bun.DB) error {
		records, err := loadHistoryIfExists(ctx, db)
		if err != nil {
			return err
		}
		result, err = r.repair(ctx, db, scripts, records)
		return err
	})
	return result, err
}

// Baseline marks an unmanaged store as being at the configured baseline
// version. It fails with ErrBaselineNotAllowed once history exists.
func (r *Runner) Baseline(ctx context.Context, creds config.ConnectionCredentials) error {
	return r.withAdmin(ctx, creds, func(db *bun.DB) error {
		records, err := loadHistoryIfExists(ctx, db)
		if err != nil {
			return err
		}
		if len(records) > 0 {
			return ErrBaselineNotAllowed
		}
		if err := createHistoryTable(ctx, db); err != nil {
			return err
		}
		if err := r.insertBaseline(ctx, db, 1, installedBy(creds)); err != nil {
			return err
		}
		r.logger.Info("Store baselined", "version", r.cfg.BaselineVersion)
		return nil
	})
}

// CurrentVersion returns the highest successfully applied or baselined
// version, or "" when the store has no history.
func (r *Runner) CurrentVersion(ctx context.Context, creds config.ConnectionCredentials) (string, error) {
	var current string
	err := r.withAdmin(ctx, creds, func(db *bun.DB) error {
		records, err := loadHistoryIfExists(ctx, db)
		if err != nil {
			return err
		}
		current = currentVersion(records)
		return nil
	})
	return current, err
}

func (r *Runner) withAdmin(ctx context.Context, creds config.ConnectionCredentials, fn func(db *bun.DB) error) error {
	_, db, err := connect(ctx, creds, r.pool)
	if err != nil {
		return fmt.Errorf("failed to open administrative connection: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			r.logger.Warn("Failed to close administrative connection", "error", cerr)
		}
	}()
	return fn(db)
}

// ensureHistory creates the history table when missing. A store that
// already holds other tables is baselined; the bool reports that case.
func (r *Runner) ensureHistory(ctx context.Context, db *bun.DB, by string) (bool, error) {
	tables, err := listTables(ctx, db)
	if err != nil {
		return false, err
	}
	if containsTable(tables, HistoryTable) {
		return false, nil
	}

	if err := createHistoryTable(ctx, db); err != nil {
		return false, err
	}
	r.logger.Info("Created migration history table", "table", HistoryTable)

	if len(tables) == 0 {
		return false, nil
	}
	if err := r.insertBaseline(ctx, db, 1, by); err != nil {
		return false, err
	}
	r.logger.Info("Existing unmanaged store detected, baselined",
		"version", r.cfg.BaselineVersion,
		"existing_tables", len(tables),
	)
	return true, nil
}

func (r *Runner) insertBaseline(ctx context.Context, db bun.IDB, rank int64, by string) error {
	v, err := parseVersion(r.cfg.BaselineVersion)
	if err != nil {
		return fmt.Errorf("invalid baseline version %q: %w", r.cfg.BaselineVersion, err)
	}
	rec := &MigrationRecord{
		InstalledRank: rank,
		Version:       versionKey(v),
		Description:   r.cfg.BaselineDescription,
		Type:          migrationTypeBaseline,
		Script:        r.cfg.BaselineDescription,
		InstalledBy:   by,
		InstalledOn:   r.now(),
		Success:       true,
	}
	if _, err := db.NewInsert().Model(rec).Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert baseline record: %w", err)
	}
	return nil
}

func (r *Runner) repair(ctx context.Context, db *bun.DB, scripts []*Script, records []MigrationRecord) (*RepairResult, error) {
	byKey := scriptsByKey(scripts)
	result := &RepairResult{}

	err := db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for i := range records {
			rec := &records[i]
			if rec.isBaseline() {
				continue
			}
			s, ok := byKey[rec.Version]
			switch {
			case !rec.Success:
				if err := deleteRecord(ctx, tx, rec); err != nil {
					return err
				}
				result.RemovedFailed++
			case !ok:
				if err := deleteRecord(ctx, tx, rec); err != nil {
					return err
				}
				result.RemovedMissing++
			case s.Checksum != rec.Checksum || s.Description != rec.Description || s.Name != rec.Script:
				_, err := tx.NewUpdate().
					Model((*MigrationRecord)(nil)).
					Set("checksum = ?", s.Checksum).
					Set("description = ?", s.Description).
					Set("script = ?", s.Name).
					Where("installed_rank = ?", rec.InstalledRank).
					Exec(ctx)
				if err != nil {
					return fmt.Errorf("failed to realign version %s: %w", rec.Version, err)
				}
				result.Realigned++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.Changed() {
		r.metrics.observeRepair()
	}
	return result, nil
}

func deleteRecord(ctx context.Context, db bun.IDB, rec *MigrationRecord) error {
	_, err := db.NewDelete().
		Model((*MigrationRecord)(nil)).
		Where("installed_rank = ?", rec.InstalledRank).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete history row for version %s: %w", rec.Version, err)
	}
	return nil
}

// applyScript runs one script and its history insert in a transaction. On
// failure a failed row is written outside the rolled-back transaction so the
// next run sees it.
func (r *Runner) applyScript(ctx context.Context, db *bun.DB, s *Script, rank int64, by string) (*MigrationRecord, error) {
	started := time.Now()
	rec := &MigrationRecord{
		InstalledRank: rank,
		Version:       s.Key(),
		Description:   s.Description,
		Type:          migrationTypeSQL,
		Script:        s.Name,
		Checksum:      s.Checksum,
		InstalledBy:   by,
		InstalledOn:   r.now(),
		Success:       true,
	}

	err := r.execScript(ctx, db, splitSQLStatements(s.SQL), rec, started)
	if err == nil {
		return rec, nil
	}

	rec.Success = false
	rec.ExecutionTime = time.Since(started).Milliseconds()
	if _, ferr := db.NewInsert().Model(rec).Exec(ctx); ferr != nil {
		r.logger.Warn("Failed to record failed migration", "version", rec.Version, "error", ferr)
	}
	return rec, err
}

func (r *Runner) execScript(ctx context.Context, db *bun.DB, statements []string, rec *MigrationRecord, started time.Time) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	var committed bool
	defer func() {
		if !committed {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				r.logger.Error("Failed to rollback transaction", "error", rollbackErr)
			}
		}
	}()

	// Raw statements bypass bun's placeholder formatting.
	for i, stmt := range statements {
		if _, err := tx.Tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("statement %d failed: %w", i+1, err)
		}
	}

	rec.ExecutionTime = time.Since(started).Milliseconds()
	if _, err := tx.NewInsert().Model(rec).Exec(ctx); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func createHistoryTable(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateTable().
		Model((*MigrationRecord)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil && !IsSQLError(err, ExistTableErr) {
		return fmt.Errorf("failed to create migration history table: %w", err)
	}
	return nil
}

func listTables(ctx context.Context, db bun.IDB) ([]string, error) {
	var query string
	switch db.Dialect().Name() {
	case dialect.SQLite:
		query = "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'"
	case dialect.PG:
		query = "SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'"
	case dialect.MySQL:
		query = "SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE'"
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, db.Dialect().Name())
	}

	var names []string
	if err := db.NewRaw(query).Scan(ctx, &names); err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	return names, nil
}

func containsTable(tables []string, name string) bool {
	for _, t := range tables {
		if strings.EqualFold(t, name) {
			return true
		}
	}
	return false
}

func loadHistory(ctx context.Context, db bun.IDB) ([]MigrationRecord, error) {
	var records []MigrationRecord
	err := db.NewSelect().
		Model(&records).
		Order("installed_rank ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load migration history: %w", err)
	}
	return records, nil
}

func loadHistoryIfExists(ctx context.Context, db bun.IDB) ([]MigrationRecord, error) {
	tables, err := listTables(ctx, db)
	if err != nil {
		return nil, err
	}
	if !containsTable(tables, HistoryTable) {
		return nil, nil
	}
	return loadHistory(ctx, db)
}

func validateHistory(scripts []*Script, records []MigrationRecord) *ValidationError {
	byKey := scriptsByKey(scripts)
	var problems []ValidationProblem
	for _, rec := range records {
		if rec.isBaseline() {
			continue
		}
		if !rec.Success {
			problems = append(problems, ValidationProblem{Version: rec.Version, Script: rec.Script, Reason: "detected failed migration"})
			continue
		}
		s, ok := byKey[rec.Version]
		if !ok {
			problems = append(problems, ValidationProblem{Version: rec.Version, Script: rec.Script, Reason: "applied migration not resolved locally"})
			continue
		}
		if s.Checksum != rec.Checksum {
			problems = append(problems, ValidationProblem{
				Version: rec.Version,
				Script:  s.Name,
				Reason:  fmt.Sprintf("checksum mismatch, applied %d, resolved %d", rec.Checksum, s.Checksum),
			})
		}
		if s.Description != rec.Description {
			problems = append(problems, ValidationProblem{
				Version: rec.Version,
				Script:  s.Name,
				Reason:  fmt.Sprintf("description mismatch, applied %q, resolved %q", rec.Description, s.Description),
			})
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: problems}
}

// pendingScripts returns scripts without a history row and above the
// baseline, in ascending version order. Versions below the highest applied
// one are still returned.
func pendingScripts(scripts []*Script, records []MigrationRecord) []*Script {
	recorded := make(map[string]struct{}, len(records))
	for _, rec := range records {
		recorded[rec.Version] = struct{}{}
	}
	baseline := baselineVersion(records)

	var pending []*Script
	for _, s := range scripts {
		if _, ok := recorded[s.Key()]; ok {
			continue
		}
		if baseline != nil && !s.Version.GreaterThan(baseline) {
			continue
		}
		pending = append(pending, s)
	}
	return pending
}

func buildInfo(scripts []*Script, records []MigrationRecord) []MigrationInfo {
	byKey := scriptsByKey(scripts)
	baseline := baselineVersion(records)

	infos := make([]MigrationInfo, 0, len(scripts)+len(records))
	recorded := make(map[string]struct{}, len(records))
	for _, rec := range records {
		recorded[rec.Version] = struct{}{}
		installedOn := rec.InstalledOn
		info := MigrationInfo{
			Version:     rec.Version,
			Description: rec.Description,
			Script:      rec.Script,
			Type:        rec.Type,
			InstalledOn: &installedOn,
		}
		_, resolved := byKey[rec.Version]
		switch {
		case rec.isBaseline():
			info.State = MigrationBaseline
		case !rec.Success:
			info.State = MigrationFailed
		case !resolved:
			info.State = MigrationMissing
		default:
			info.State = MigrationApplied
		}
		infos = append(infos, info)
	}

	for _, s := range scripts {
		if _, ok := recorded[s.Key()]; ok {
			continue
		}
		info := MigrationInfo{
			Version:     s.Key(),
			Description: s.Description,
			Script:      s.Name,
			Type:        migrationTypeSQL,
			State:       MigrationPending,
		}
		if baseline != nil && !s.Version.GreaterThan(baseline) {
			info.State = MigrationBelowBaseline
		}
		infos = append(infos, info)
	}

	sort.SliceStable(infos, func(i, j int) bool {
		return compareVersionKeys(infos[i].Version, infos[j].Version) < 0
	})
	return infos
}

func scriptsByKey(scripts []*Script) map[string]*Script {
	m := make(map[string]*Script, len(scripts))
	for _, s := range scripts {
		m[s.Key()] = s
	}
	return m
}

func baselineVersion(records []MigrationRecord) *version.Version {
	for _, rec := range records {
		if rec.isBaseline() {
			if v, err := parseVersion(rec.Version); err == nil {
				return v
			}
		}
	}
	return nil
}

func currentVersion(records []MigrationRecord) string {
	var current *version.Version
	for _, rec := range records {
		if !rec.Success {
			continue
		}
		v, err := parseVersion(rec.Version)
		if err != nil {
			continue
		}
		if current == nil || v.GreaterThan(current) {
			current = v
		}
	}
	if current == nil {
		return ""
	}
	return versionKey(current)
}

func nextRank(records []MigrationRecord) int64 {
	var highest int64
	for _, rec := range records {
		if rec.InstalledRank > highest {
			highest = rec.InstalledRank
		}
	}
	return highest + 1
}

func compareVersionKeys(a, b string) int {
	va, errA := parseVersion(a)
	vb, errB := parseVersion(b)
	if errA != nil || errB != nil {
		return strings.Compare(a, b)
	}
	return va.Compare(vb)
}

func installedBy(creds config.ConnectionCredentials) string {
	if creds.Username != "" {
		return creds.Username
	}
	return config.DefaultUsername
}
