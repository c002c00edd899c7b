package postgres

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// TestDatabaseURLEnv names the variable that points the tests at a server.
const TestDatabaseURLEnv = "CHORD_TEST_DATABASE_URL"

// TestingT is an interface for testing compatibility.
type TestingT interface {
	Logf(format string, args ...any)
	Skipf(format string, args ...any)
	FailNow()
	Cleanup(func())
}

// SetupTestDatabase connects to the database named by CHORD_TEST_DATABASE_URL
// inside a fresh schema. The test is skipped when the variable is unset.
func SetupTestDatabase(t TestingT) *sql.DB {
	connURL := os.Getenv(TestDatabaseURLEnv)
	if connURL == "" {
		t.Skipf("%s not set", TestDatabaseURLEnv)
		return nil
	}

	schema := fmt.Sprintf("test_%s", uuid.New().String()[0:8])

	// First, connect to create the schema
	conn, err := sql.Open("postgres", connURL)
	if err != nil {
		t.Logf("failed to connect to database. Is your local database running?: %v", err)
		t.FailNow()
	}

	if _, err = conn.Exec("CREATE SCHEMA IF NOT EXISTS " + schema); err != nil {
		t.Logf("failed to create schema %s: %v", schema, err)
		conn.Close()
		t.FailNow()
	}

	t.Cleanup(func() {
		if _, err := conn.Exec("DROP SCHEMA IF EXISTS " + schema + " CASCADE"); err != nil {
			t.Logf("failed to drop schema %s: %v", schema, err)
		}
		_ = conn.Close()
	})

	schemaURL, err := withSearchPath(connURL, schema)
	if err != nil {
		t.Logf("invalid %s: %v", TestDatabaseURLEnv, err)
		t.FailNow()
	}

	db, err := sql.Open("postgres", schemaURL)
	if err != nil {
		t.Logf("failed to connect to database with schema: %v", err)
		t.FailNow()
	}

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

func withSearchPath(connURL, schema string) (string, error) {
	u, err := url.Parse(connURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
