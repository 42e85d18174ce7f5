package cqlmigrate

import (
	"context"
	"time"
)

// Store is a connected handle to the database that migrations run against.
// Callers own the handle: nothing in this package opens, pools or closes it.
type Store interface {
	Exec(ctx context.Context, stmt string, args ...interface{}) (*Result, error)

	CreateKeyspaceIfNotExists(ctx context.Context, keyspace, replication string) (*Result, error)
	CreateMetaIfNotExists(ctx context.Context) (*Result, error)

	// GetMigration returns nil without an error when name has no entry.
	GetMigration(ctx context.Context, name string) (*Migration, error)
	GetMigrations(ctx context.Context) ([]Migration, error)

	// InsertMigration records name only if it is absent. It returns
	// ErrAlreadyRecorded when an entry already existed.
	InsertMigration(ctx context.Context, name string) error
	UpsertMigration(ctx context.Context, name string) error
}

// Result is what a Store reports back for a statement.
type Result struct {
	Rows         []map[string]interface{}
	RowsAffected int64

	// SchemaAgreement is true once every node reports the same schema
	// version. Single-node stores always agree.
	SchemaAgreement bool
}

// Migration is one entry in the migrations ledger.
type Migration struct {
	Name          string    `db:"name"`
	MigrationDate time.Time `db:"migration_date"`
}

// MetaTable is the name of the ledger table in every store.
const MetaTable = "migrations"
