// Package sqlite stores the migrations ledger in a SQLite file. SQLite has
// a single namespace per file, so keyspaces are only validated.
package sqlite

import (
	"context"

	"github.com/egtann/cqlmigrate"
	"github.com/egtann/cqlmigrate/internal/sqlexec"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	filepath string

	// Embed the sqlx DB struct
	*sqlx.DB
}

var _ cqlmigrate.Store = (*DB)(nil)

func New(dbFile string) *DB {
	return &DB{filepath: dbFile}
}

func (db *DB) Open() error {
	var err error
	db.DB, err = sqlx.Open("sqlite3", db.filepath)
	if err != nil {
		return errors.Wrap(err, "open db connection")
	}
	// sqlite allows a single writer; more connections only produce
	// "database is locked" errors.
	db.DB.SetMaxOpenConns(1)
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
	if err := db.PingContext(ctx); err != nil {
		return nil, errors.Wrap(err, "ping")
	}
	return &cqlmigrate.Result{SchemaAgreement: true}, nil
}

func (db *DB) CreateMetaIfNotExists(ctx context.Context) (*cqlmigrate.Result, error) {
	q := `CREATE TABLE IF NOT EXISTS migrations (
		name TEXT PRIMARY KEY NOT NULL,
		migration_date TIMESTAMP NOT NULL
	)`
	res, err := db.Exec(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "create migrations table")
	}
	return res, nil
}

func (db *DB) GetMigration(ctx context.Context, name string) (*cqlmigrate.Migration, error) {
	q := `SELECT name, migration_date FROM migrations WHERE name=?`
	return sqlexec.GetMigration(ctx, db.DB, q, name)
}

func (db *DB) GetMigrations(ctx context.Context) ([]cqlmigrate.Migration, error) {
	migrations := []cqlmigrate.Migration{}
	q := `SELECT name, migration_date FROM migrations ORDER BY migration_date, name`
	err := db.SelectContext(ctx, &migrations, q)
	return migrations, err
}

const now = `strftime('%Y-%m-%d %H:%M:%f', 'now')`

func (db *DB) InsertMigration(ctx context.Context, name string) error {
	q := `INSERT OR IGNORE INTO migrations (name, migration_date) VALUES (?, ` + now + `)`
	return sqlexec.InsertedOrRecorded(db.ExecContext(ctx, q, name))
}

func (db *DB) UpsertMigration(ctx context.Context, name string) error {
	q := `INSERT OR REPLACE INTO migrations (name, migration_date) VALUES (?, ` + now + `)`
	_, err := db.ExecContext(ctx, q, name)
	return err
}
