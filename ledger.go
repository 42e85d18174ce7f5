package cqlmigrate

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"github.com/pkg/errors"
)

var regexKeyspace = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,47}$`)

// ValidKeyspace reports an error if name cannot be used unquoted as a
// keyspace, schema or database name.
func ValidKeyspace(name string) error {
	if !regexKeyspace.MatchString(name) {
		return configErr("", fmt.Errorf("invalid keyspace name %q", name))
	}
	return nil
}

// CreateKeyspace creates keyspace with the given replication if it does not
// exist yet. The replication is passed to the store verbatim, e.g.
// {'class': 'SimpleStrategy', 'replication_factor': 1}. Calling it again for
// an existing keyspace succeeds and changes nothing.
func CreateKeyspace(
	ctx context.Context,
	s Store,
	keyspace, replication string,
) (*Result, error) {
	if err := ValidKeyspace(keyspace); err != nil {
		return nil, err
	}
	res, err := s.CreateKeyspaceIfNotExists(ctx, keyspace, replication)
	if err != nil {
		return nil, storageErr("create keyspace "+keyspace, err)
	}
	return res, nil
}

// CreateLedger creates the migrations table if it does not exist yet.
func CreateLedger(ctx context.Context, s Store) (*Result, error) {
	res, err := s.CreateMetaIfNotExists(ctx)
	if err != nil {
		return nil, storageErr("create migrations table", err)
	}
	return res, nil
}

// RecordApplied adds name to the ledger with the store's current time. If
// the entry already exists the ledger is left untouched and
// ErrAlreadyRecorded is returned.
func RecordApplied(ctx context.Context, s Store, name string) error {
	err := s.InsertMigration(ctx, name)
	switch {
	case errors.Is(err, ErrAlreadyRecorded):
		return errors.Wrapf(err, "record %s", name)
	case err != nil:
		return storageErr("record "+name, err)
	}
	return nil
}

// MarkApplied writes name to the ledger whether or not it is already there.
// The last write wins on migration_date.
func MarkApplied(ctx context.Context, s Store, name string) error {
	return storageErr("mark "+name, s.UpsertMigration(ctx, name))
}

// FindMigration looks up a single ledger entry. It returns nil if name was
// never applied.
func FindMigration(ctx context.Context, s Store, name string) (*Migration, error) {
	m, err := s.GetMigration(ctx, name)
	if err != nil {
		return nil, storageErr("find "+name, err)
	}
	return m, nil
}

// HasBeenApplied reports whether name is in the ledger. The ledger table
// must exist; see CreateLedger.
func HasBeenApplied(ctx context.Context, s Store, name string) (bool, error) {
	m, err := FindMigration(ctx, s, name)
	if err != nil {
		return false, err
	}
	return m != nil, nil
}

// Orphaned returns the ledger entries that match none of units, oldest
// first. An entry usually ends up orphaned when its migration file was
// renamed or deleted after it ran.
func Orphaned(ctx context.Context, s Store, units []Unit) ([]Migration, error) {
	ms, err := s.GetMigrations(ctx)
	if err != nil {
		return nil, storageErr("list migrations", err)
	}
	known := make(map[string]struct{}, len(units))
	for _, u := range units {
		known[u.Name] = struct{}{}
	}
	var orphans []Migration
	for _, m := range ms {
		if _, ok := known[m.Name]; !ok {
			orphans = append(orphans, m)
		}
	}
	sort.SliceStable(orphans, func(i, j int) bool {
		if !orphans[i].MigrationDate.Equal(orphans[j].MigrationDate) {
			return orphans[i].MigrationDate.Before(orphans[j].MigrationDate)
		}
		return orphans[i].Name < orphans[j].Name
	})
	return orphans, nil
}
