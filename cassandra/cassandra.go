// Package cassandra stores the migrations ledger in Cassandra using gocql.
package cassandra

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/egtann/cqlmigrate"
	"github.com/gocql/gocql"
	"github.com/pkg/errors"
)

// Config describes how to reach the cluster.
type Config struct {
	// Hosts are the contact points, optionally with a port.
	Hosts []string
	Port  int

	// Keyspace binds the session. Leave it empty for the handle used to
	// create the keyspace.
	Keyspace string

	Username string
	Password string

	// LocalDC enables datacenter-aware host selection.
	LocalDC string

	// Consistency is a level such as "QUORUM" or "LOCAL_ONE". Empty means
	// QUORUM.
	Consistency string

	// Timeout bounds every request. Zero keeps the gocql default.
	Timeout time.Duration

	TLS *tls.Config
}

type DB struct {
	conf Config

	*gocql.Session
}

var _ cqlmigrate.Store = (*DB)(nil)

func New(conf Config) *DB {
	return &DB{conf: conf}
}

// WithKeyspace returns an unopened DB with the same settings bound to
// keyspace.
func (db *DB) WithKeyspace(keyspace string) *DB {
	conf := db.conf
	conf.Keyspace = keyspace
	return &DB{conf: conf}
}

func (db *DB) cluster() (*gocql.ClusterConfig, error) {
	if len(db.conf.Hosts) == 0 {
		return nil, errors.New("no contact points")
	}
	cluster := gocql.NewCluster(db.conf.Hosts...)
	cluster.Keyspace = db.conf.Keyspace
	if db.conf.Port != 0 {
		cluster.Port = db.conf.Port
	}
	if db.conf.Timeout != 0 {
		cluster.Timeout = db.conf.Timeout
		cluster.ConnectTimeout = db.conf.Timeout
	}
	cluster.Consistency = gocql.Quorum
	if db.conf.Consistency != "" {
		c, err := gocql.ParseConsistencyWrapper(db.conf.Consistency)
		if err != nil {
			return nil, errors.Wrap(err, "parse consistency")
		}
		cluster.Consistency = c
	}
	if db.conf.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: db.conf.Username,
			Password: db.conf.Password,
		}
	}
	if db.conf.LocalDC != "" {
		cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(
			gocql.DCAwareRoundRobinPolicy(db.conf.LocalDC))
	}
	if db.conf.TLS != nil {
		cluster.SslOpts = &gocql.SslOptions{
			Config:                 db.conf.TLS,
			EnableHostVerification: !db.conf.TLS.InsecureSkipVerify,
		}
	}
	return cluster, nil
}

func (db *DB) Open() error {
	cluster, err := db.cluster()
	if err != nil {
		return errors.Wrap(err, "cluster config")
	}
	db.Session, err = cluster.CreateSession()
	if err != nil {
		return errors.Wrap(err, "open cassandra session")
	}
	return nil
}

func (db *DB) Close() error {
	if db.Session != nil {
		db.Session.Close()
	}
	return nil
}

// Exec runs a single statement. Schema changes wait for the cluster to agree
// on the new schema; a disagreement is reported in the result rather than
// as an error.
func (db *DB) Exec(
	ctx context.Context,
	stmt string,
	args ...interface{},
) (*cqlmigrate.Result, error) {
	iter := db.Query(stmt, args...).WithContext(ctx).Iter()
	rows, err := iter.SliceMap()
	if cerr := iter.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}
	res := &cqlmigrate.Result{Rows: rows, SchemaAgreement: true}
	if isSchemaChange(stmt) {
		res.SchemaAgreement = db.AwaitSchemaAgreement(ctx) == nil
	}
	return res, nil
}

func isSchemaChange(stmt string) bool {
	fields := strings.Fields(stmt)
	if len(fields) == 0 {
		return false
	}
	switch strings.ToUpper(fields[0]) {
	case "CREATE", "ALTER", "DROP", "TRUNCATE":
		return true
	}
	return false
}

func (db *DB) CreateKeyspaceIfNotExists(
	ctx context.Context,
	keyspace, replication string,
) (*cqlmigrate.Result, error) {
	q := fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s WITH replication = %s`,
		keyspace, replication)
	res, err := db.Exec(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "create keyspace")
	}
	return res, nil
}

func (db *DB) CreateMetaIfNotExists(ctx context.Context) (*cqlmigrate.Result, error) {
	q := `CREATE TABLE IF NOT EXISTS migrations (
		name text PRIMARY KEY,
		migration_date timestamp
	)`
	res, err := db.Exec(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "create migrations table")
	}
	return res, nil
}

func (db *DB) GetMigration(ctx context.Context, name string) (*cqlmigrate.Migration, error) {
	m := &cqlmigrate.Migration{}
	q := `SELECT name, migration_date FROM migrations WHERE name = ?`
	err := db.Query(q, name).WithContext(ctx).Scan(&m.Name, &m.MigrationDate)
	switch {
	case err == gocql.ErrNotFound:
		return nil, nil
	case err != nil:
		return nil, err
	}
	return m, nil
}

func (db *DB) GetMigrations(ctx context.Context) ([]cqlmigrate.Migration, error) {
	migrations := []cqlmigrate.Migration{}
	q := `SELECT name, migration_date FROM migrations`
	iter := db.Query(q).WithContext(ctx).Iter()
	var m cqlmigrate.Migration
	for iter.Scan(&m.Name, &m.MigrationDate) {
		migrations = append(migrations, m)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return migrations, nil
}

// InsertMigration uses a lightweight transaction so that two runners racing
// on the same migration cannot both record it.
func (db *DB) InsertMigration(ctx context.Context, name string) error {
	q := `
		INSERT INTO migrations (name, migration_date)
		VALUES (?, toTimestamp(now()))
		IF NOT EXISTS`
	applied, err := db.Query(q, name).WithContext(ctx).
		SerialConsistency(gocql.Serial).
		MapScanCAS(map[string]interface{}{})
	if err != nil {
		return err
	}
	if !applied {
		return cqlmigrate.ErrAlreadyRecorded
	}
	return nil
}

// UpsertMigration inserts name or refreshes its migration_date. Both writes
// are lightweight transactions, since the ledger rows are also written by
// InsertMigration and mixing plain and conditional writes on a partition
// breaks the guarantees of the conditional ones.
func (db *DB) UpsertMigration(ctx context.Context, name string) error {
	err := db.InsertMigration(ctx, name)
	if err != cqlmigrate.ErrAlreadyRecorded {
		return err
	}
	q := `
		UPDATE migrations SET migration_date = toTimestamp(now())
		WHERE name = ?
		IF EXISTS`
	applied, err := db.Query(q, name).WithContext(ctx).
		SerialConsistency(gocql.Serial).
		MapScanCAS(map[string]interface{}{})
	if err != nil {
		return err
	}
	if !applied {
		return errors.Errorf("update %s: row vanished", name)
	}
	return nil
}
