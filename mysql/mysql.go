// Package mysql stores the migrations ledger in MySQL. A keyspace maps to a
// database.
package mysql

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/egtann/cqlmigrate"
	"github.com/egtann/cqlmigrate/internal/sqlexec"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

type DB struct {
	user, pass, host string
	port             int
	tls              bool
	connURL          string

	// Embed the sqlx DB struct
	*sqlx.DB
}

var _ cqlmigrate.Store = (*DB)(nil)

// tlsConfigName is the key the client TLS config is registered under with
// the driver. The server name cannot be used since it may be empty, and an
// empty tls= parameter turns TLS off.
const tlsConfigName = "cqlmigrate"

// New returns a DB that connects without selecting a database, which is
// what creating the keyspace needs. Use WithKeyspace for the bound handle.
func New(
	user, pass, host string,
	port int,
	sslKey, sslCert, sslCA, sslServerName string,
) (*DB, error) {
	db := &DB{user: user, pass: pass, host: host, port: port}
	if sslCA != "" {
		conf, err := cqlmigrate.NewTLSConfig(sslKey, sslCert, sslCA,
			sslServerName)
		if err != nil {
			return nil, errors.Wrap(err, "new tls config")
		}
		if err = registerTLS(conf); err != nil {
			return nil, err
		}
		db.tls = true
	}
	db.connURL = db.dsn("")
	return db, nil
}

func (db *DB) dsn(dbName string) string {
	url := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", db.user,
		db.pass, db.host, db.port, dbName)
	if db.tls {
		url = fmt.Sprintf("%s&tls=%s", url, tlsConfigName)
	}
	return url
}

// WithKeyspace returns an unopened DB with the same settings bound to the
// database named keyspace.
func (db *DB) WithKeyspace(keyspace string) *DB {
	bound := &DB{
		user: db.user,
		pass: db.pass,
		host: db.host,
		port: db.port,
		tls:  db.tls,
	}
	bound.connURL = bound.dsn(keyspace)
	return bound
}

func registerTLS(conf *tls.Config) error {
	if err := mysql.RegisterTLSConfig(tlsConfigName, conf); err != nil {
		return errors.Wrap(err, "register tls config")
	}
	return nil
}

func (db *DB) Open() error {
	var err error
	db.DB, err = sqlx.Open("mysql", db.connURL)
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
	q := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", keyspace)
	res, err := db.Exec(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "create database")
	}
	return res, nil
}

func (db *DB) CreateMetaIfNotExists(ctx context.Context) (*cqlmigrate.Result, error) {
	q := `CREATE TABLE IF NOT EXISTS migrations (
		name VARCHAR(255) PRIMARY KEY,
		migration_date DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3)
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

func (db *DB) InsertMigration(ctx context.Context, name string) error {
	q := `
		INSERT IGNORE INTO migrations (name, migration_date)
		VALUES (?, CURRENT_TIMESTAMP(3))`
	return sqlexec.InsertedOrRecorded(db.ExecContext(ctx, q, name))
}

func (db *DB) UpsertMigration(ctx context.Context, name string) error {
	q := `
		INSERT INTO migrations (name, migration_date)
		VALUES (?, CURRENT_TIMESTAMP(3))
		ON DUPLICATE KEY UPDATE migration_date=VALUES(migration_date)`
	_, err := db.ExecContext(ctx, q, name)
	return err
}
