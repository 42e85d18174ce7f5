package postgres

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/egtann/cqlmigrate"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

const testSchema = "migrate_test"

func TestMain(m *testing.M) {
	path := filepath.Join("..", "test.env")
	err := parseEnv(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse %s: %s\n", path, err)
		os.Exit(1)
	}
	os.Exit(m.Run())
}

func TestCreateKeyspaceIfNotExists(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := db.CreateKeyspaceIfNotExists(ctx, testSchema, "")
		check(t, err)
	}
	var n int
	err := db.DB.Get(&n, `
		SELECT COUNT(*) FROM information_schema.schemata
		WHERE schema_name=$1`, testSchema)
	check(t, err)
	if n != 1 {
		t.Fatalf("expected 1 schema, got %d", n)
	}
}

func TestCreateMetaIfNotExists(t *testing.T) {
	db := setupDB(t)

	_, err := db.CreateMetaIfNotExists(context.Background())
	check(t, err)

	var tmp []int
	err = db.DB.Select(&tmp, `SELECT 1 FROM migrations`)
	check(t, err)
}

func TestInsertMigration(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	err := db.InsertMigration(ctx, "1_a")
	check(t, err)
	err = db.InsertMigration(ctx, "1_a")
	if err != cqlmigrate.ErrAlreadyRecorded {
		t.Fatalf("expected ErrAlreadyRecorded, got %v", err)
	}

	ms, err := db.GetMigrations(ctx)
	check(t, err)
	if len(ms) != 1 {
		t.Fatalf("expected 1 migration, got %d", len(ms))
	}
}

func TestUpsertMigration(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	// Test insert
	err := db.UpsertMigration(ctx, "1_a")
	check(t, err)

	// Test update
	err = db.UpsertMigration(ctx, "1_a")
	check(t, err)

	ms, err := db.GetMigrations(ctx)
	check(t, err)
	if len(ms) != 1 {
		t.Fatalf("expected 1 migration, got %d", len(ms))
	}
}

func TestGetMigration(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	m, err := db.GetMigration(ctx, "1_a")
	check(t, err)
	if m != nil {
		t.Fatalf("expected no migration, got %+v", m)
	}
	err = db.InsertMigration(ctx, "1_a")
	check(t, err)
	m, err = db.GetMigration(ctx, "1_a")
	check(t, err)
	if m == nil {
		t.Fatal("expected migration")
	}
}

func check(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

// newDB connects without a search_path. Tests are skipped when no postgres
// is configured in ../test.env or the environment.
func newDB(t *testing.T) *DB {
	t.Helper()
	if os.Getenv("POSTGRES_HOST") == "" {
		t.Skip("POSTGRES_HOST not set")
	}
	db, err := sqlx.Open("postgres", dsn(""))
	check(t, err)
	t.Cleanup(teardown(db))
	return &DB{DB: db}
}

// setupDB returns a handle bound to a fresh test schema.
func setupDB(t *testing.T) *DB {
	t.Helper()
	root := newDB(t)
	_, err := root.DB.Exec(`DROP SCHEMA IF EXISTS ` + testSchema + ` CASCADE`)
	check(t, err)
	_, err = root.CreateKeyspaceIfNotExists(context.Background(), testSchema, "")
	check(t, err)

	db, err := sqlx.Open("postgres", dsn(testSchema))
	check(t, err)
	t.Cleanup(func() { db.Close() })

	bound := &DB{DB: db}
	_, err = bound.CreateMetaIfNotExists(context.Background())
	check(t, err)
	return bound
}

func dsn(searchPath string) string {
	params := "sslmode=disable&connect_timeout=1"
	if searchPath != "" {
		params += "&search_path=" + searchPath
	}
	return fmt.Sprintf("postgres://%s:%s@%s/%s?%s",
		os.Getenv("POSTGRES_USER"), os.Getenv("POSTGRES_PASSWORD"),
		os.Getenv("POSTGRES_HOST"), os.Getenv("POSTGRES_DB"), params)
}

func teardown(db *sqlx.DB) func() {
	return func() {
		defer db.Close()
		_, _ = db.Exec(`DROP SCHEMA IF EXISTS ` + testSchema + ` CASCADE`)
	}
}

// parseEnv loads KEY=VALUE lines into the environment. A missing file is
// not an error.
func parseEnv(filename string) error {
	fi, err := os.Open(filename)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer fi.Close()

	scn := bufio.NewScanner(fi)
	for i := 1; scn.Scan(); i++ {
		line := scn.Text()
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("bad line %d: %s", i, line)
		}
		if err = os.Setenv(parts[0], parts[1]); err != nil {
			return errors.Wrap(err, "set env")
		}
	}
	if err = scn.Err(); err != nil {
		return errors.Wrap(err, "scan")
	}
	return nil
}
