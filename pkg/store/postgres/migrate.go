package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// key_id is compared with the C collation so that the fixed-width hex
// identifiers order the same way their numeric values do.
var createKeysTableSQL = `
CREATE TABLE IF NOT EXISTS %s (
    key_id     VARCHAR COLLATE "C"   NOT NULL,
    key        VARCHAR               NOT NULL,
    value      BYTEA                 NOT NULL,
    updated_at TIMESTAMPTZ           NOT NULL DEFAULT now(),

    PRIMARY KEY (key_id, key)
);`

// Migrate creates the key-value table if it does not exist yet.
func Migrate(ctx context.Context, db *sql.DB, tableName string) error {
	if err := validateTableName(tableName); err != nil {
		return err
	}

	query := fmt.Sprintf(createKeysTableSQL, tableName)
	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create table %s: %w", tableName, err)
	}
	return nil
}

// Table names are interpolated into SQL, so only plain identifiers pass.
func validateTableName(tableName string) error {
	if !tableNamePattern.MatchString(tableName) {
		return fmt.Errorf("invalid table name %q", tableName)
	}
	return nil
}
