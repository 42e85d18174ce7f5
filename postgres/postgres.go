// Package postgres stores the migrations ledger in PostgreSQL. A keyspace
// maps to a schema.
package postgres

import (
	"context"
	"fmt"

	"github.com/egtann/cqlmigrate"
	"github.com/egtann/cqlmigrate/internal/sqlexec"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	_ "github.com/lib/pq"
)

type DB struct {
	connURL string

	// Embed the sqlx DB struct
	*sqlx.DB
}

var _ cqlmigrate.Store = (*DB)(nil)

func New(
	user, pass, host, dbName string,
	port int,
	sslKey, sslCert, sslCA string,
) *DB {
	// The trailing space is important
	url := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s ",
		host, port, user, pass, dbName)
	switch {
	case sslCA == "":
		url += "sslmode=disable"
	case sslKey == "":
		url += fmt.Sprintf("sslmode=verify-full sslrootcert=%s", sslCA)
	default:
		url += fmt.Sprintf(
			"sslmode=verify-full sslkey=%s sslcert=%s sslrootcert=%s",
			sslKey, sslCert, sslCA)
	}
	return &DB{connURL: url}
}

// WithKeyspace returns an unopened DB whose connections use keyspace as
// their search_path.
func (db *DB) WithKeyspace(keyspace string) *DB {
	return &DB{connURL: db.connURL + " search_path=" + keyspace}
}

func (db *DB) Open() error {
	var err error
	db.DB, err = sqlx.Open("postgres", db.connURL)
	if err != nil {
		return errors.Wrap(err, "open db connection")
	}
	return nil
}

func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	return db.DB.Close()
}

func (db *DB) Exec(
	ctx context.Context,
	stmt string,
	args ...interface{},
) (*cqlmigrate.Result, error) {
	return sqlexec.Exec(ctx, db.DB, stmt, args...)
}

func (db *DB) CreateKeyspaceIfNotExists(
	ctx context.Context,
	keyspace, _ string,
) (*cqlmigrate.Result, error) {
	q := fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, keyspace)
	res, err := db.Exec(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "create schema")
	}
	return res, nil
}

func (db *DB) CreateMetaIfNotExists(ctx context.Context) (*cqlmigrate.Result, error) {
	q := `CREATE TABLE IF NOT EXISTS migrations (
		name TEXT PRIMARY KEY,
		migration_date TIMESTAMPTZ NOT NULL DEFAULT now()
	)`
	res, err := db.Exec(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "create migrations table")
	}
	return res, nil
}

func (db *DB) GetMigration(ctx context.Context, name string) (*cqlmigrate.Migration, error) {
	q := `SELECT name, migration_date FROM migrations WHERE name=$1`
	return sqlexec.GetMigration(ctx, db.DB, q, name)
}

func (db *DB) GetMigrations(ctx context.Context) ([]cqlmigrate.Migration, error) {
	migrations := []cqlmigrate.Migration{}
	q := `SELECT name, migration_date FROM migrations ORDER BY migration_date, name`
	err := db.SelectContext(ctx, &migrations, q)
	return migrations, err
}

func (db *DB) InsertMigration(ctx context.Context, name string) error {
	q := `
		INSERT INTO migrations (name, migration_date) VALUES ($1, now())
		ON CONFLICT (name) DO NOTHING`
	return sqlexec.InsertedOrRecorded(db.ExecContext(ctx, q, name))
}

func (db *DB) UpsertMigration(ctx context.Context, name string) error {
	q := `
		INSERT INTO migrations (name, migration_date) VALUES ($1, now())
		ON CONFLICT (name) DO UPDATE SET migration_date=EXCLUDED.migration_date`
	_, err := db.ExecContext(ctx, q, name)
	return err
}
