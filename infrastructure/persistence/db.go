// Package persistence provides database storage implementations.
package persistence

import (
	"fmt"
	"strings"

	"github.com/dmason-mlb/mlb-qbench/internal/database"
	"gorm.io/gorm"
)

// AutoMigrate creates or updates every GORM-backed table this package owns.
// It is idempotent — each doc/step store constructor also runs its own
// AutoMigrate, so this exists for callers (tests, the CLI's migrate path)
// that want the full schema ready before constructing any store. The
// pgvector dialect's doc/step tables are created by raw SQL inside
// NewPgvectorDocStore/NewPgvectorStepStore, since the vector column width
// is only known at runtime, so this only covers documents there.
func AutoMigrate(db database.Database) error {
	if err := db.GORM().AutoMigrate(&documentRow{}); err != nil {
		return fmt.Errorf("migrate documents: %w", err)
	}
	if db.IsPostgres() {
		return nil
	}
	if err := db.GORM().AutoMigrate(&SQLiteDocModel{}, &SQLiteStepModel{}); err != nil {
		return fmt.Errorf("migrate sqlite doc/step tables: %w", err)
	}
	return nil
}

// allModels returns every GORM-backed model ValidateSchema checks. The
// pgvector dialect's tables are created by raw SQL in
// NewPgvectorDocStore/NewPgvectorStepStore (the vector column's dimension
// is only known at runtime), but pgDocRow/pgStepRow still carry GORM struct
// tags and TableName overrides, so the same schema-validation path covers
// both dialects once a store of the relevant dialect has been constructed.
func allModels(db database.Database) []any {
	if db.IsPostgres() {
		return []any{&pgDocRow{}, &pgStepRow{}}
	}
	return []any{&SQLiteDocModel{}, &SQLiteStepModel{}}
}

// ValidateSchema verifies every GORM model field has a corresponding column
// in the database. Returns an error listing any missing columns. Intended
// as a startup readiness check (internal/health) run after the relevant
// doc/step stores have been constructed and migrated.
func ValidateSchema(db database.Database) error {
	gdb := db.GORM()
	migrator := gdb.Migrator()

	var missing []string
	for _, model := range allModels(db) {
		stmt := &gorm.Statement{DB: gdb}
		if err := stmt.Parse(model); err != nil {
			return fmt.Errorf("parse model schema: %w", err)
		}

		if !migrator.HasTable(model) {
			missing = append(missing, stmt.Table+" (table)")
			continue
		}

		columnTypes, err := migrator.ColumnTypes(model)
		if err != nil {
			return fmt.Errorf("get column types for %s: %w", stmt.Table, err)
		}

		actual := make(map[string]bool, len(columnTypes))
		for _, ct := range columnTypes {
			actual[ct.Name()] = true
		}

		for _, field := range stmt.Schema.Fields {
			if field.DBName == "" || field.DBName == "-" {
				continue
			}
			if !actual[field.DBName] {
				missing = append(missing, stmt.Table+"."+field.DBName)
			}
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("schema validation failed — missing columns: %s", strings.Join(missing, ", "))
	}
	return nil
}
