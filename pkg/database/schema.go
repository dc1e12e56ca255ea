package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator checks a live sqlite database against the shape the store
// expects. It is used by the migrate command and by tests.
type SchemaValidator struct {
	db *sql.DB
}

func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

var requiredTables = []string{
	"profiles",
	"mentorship_sessions",
	"session_participants",
	"session_messages",
	"session_code_snapshots",
	"schema_migrations",
}

var requiredIndexes = []string{
	"idx_sessions_scheduled_at",
	"idx_participants_user",
	"idx_messages_session_time",
	"idx_snapshots_session_time",
}

// ValidateTablesExist verifies that all required tables exist.
func (v *SchemaValidator) ValidateTablesExist() error {
	for _, table := range requiredTables {
		exists, err := v.objectExists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}
	return nil
}

// ValidateIndexes verifies that the lookup indexes exist.
func (v *SchemaValidator) ValidateIndexes() error {
	for _, index := range requiredIndexes {
		exists, err := v.objectExists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s: %w", index, err)
		}
		if !exists {
			return fmt.Errorf("required index %s does not exist", index)
		}
	}
	return nil
}

// ValidateTableStructure verifies the columns the store reads and writes.
func (v *SchemaValidator) ValidateTableStructure() error {
	tables := map[string]map[string]string{
		"mentorship_sessions": {
			"id":               "TEXT",
			"title":            "TEXT",
			"status":           "TEXT",
			"scheduled_at":     "DATETIME",
			"duration_minutes": "INTEGER",
			"created_by":       "TEXT",
			"summary":          "TEXT",
			"created_at":       "DATETIME",
		},
		"session_participants": {
			"id":         "TEXT",
			"session_id": "TEXT",
			"user_id":    "TEXT",
			"role":       "TEXT",
			"joined_at":  "DATETIME",
		},
		"session_messages": {
			"id":         "TEXT",
			"session_id": "TEXT",
			"author_id":  "TEXT",
			"content":    "TEXT",
			"created_at": "DATETIME",
		},
		"session_code_snapshots": {
			"id":         "TEXT",
			"session_id": "TEXT",
			"author_id":  "TEXT",
			"language":   "TEXT",
			"code":       "TEXT",
			"created_at": "DATETIME",
		},
	}

	for table, columns := range tables {
		if err := v.validateColumns(table, columns); err != nil {
			return fmt.Errorf("%s table structure invalid: %w", table, err)
		}
	}
	return nil
}

// ValidateConstraints probes the foreign key and role check constraints inside a
// transaction that is always rolled back.
func (v *SchemaValidator) ValidateConstraints() error {
	tx, err := v.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		INSERT INTO session_messages (id, session_id, author_id, content)
		VALUES ('probe', 'missing-session', 'user-1', 'hello')
	`)
	if err == nil {
		return fmt.Errorf("foreign key constraint not enforced: session_messages.session_id")
	}

	if _, err := tx.Exec(`
		INSERT INTO mentorship_sessions (id, title, created_by)
		VALUES ('probe-session', 'Probe', 'user-1')
	`); err != nil {
		return fmt.Errorf("failed to create probe session: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO session_participants (id, session_id, user_id, role)
		VALUES ('probe', 'probe-session', 'user-1', 'admin')
	`)
	if err == nil {
		return fmt.Errorf("check constraint not enforced: session_participants.role")
	}

	return nil
}

func (v *SchemaValidator) objectExists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (v *SchemaValidator) validateColumns(tableName string, expected map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	found := make(map[string]string)
	for rows.Next() {
		var (
			cid          int
			name         string
			dataType     string
			notNull      int
			defaultValue interface{}
			pk           int
		)
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		found[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for col, wantType := range expected {
		gotType, ok := found[col]
		if !ok {
			return fmt.Errorf("column %s not found", col)
		}
		if gotType != wantType {
			return fmt.Errorf("column %s has type %s, expected %s", col, gotType, wantType)
		}
	}
	return nil
}
