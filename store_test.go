package cqlmigrate

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// memStore is an in-memory Store that understands just enough CQL for the
// tests: CREATE TABLE [IF NOT EXISTS] name.
type memStore struct {
	keyspaces map[string]string
	metaReady bool
	ledger    map[string]time.Time
	tables    map[string]int
	execs     []string
	clock     time.Time

	// failExec makes any statement containing the key fail.
	failExec map[string]error
	failMeta error

	// beforeInsert runs at the start of InsertMigration.
	beforeInsert func(name string)
}

var _ Store = (*memStore)(nil)

var regexCreateTable = regexp.MustCompile(
	`(?i)^CREATE\s+TABLE\s+(IF\s+NOT\s+EXISTS\s+)?(\w+)`)

func newMemStore() *memStore {
	return &memStore{
		keyspaces: map[string]string{},
		ledger:    map[string]time.Time{},
		tables:    map[string]int{},
		failExec:  map[string]error{},
		clock:     time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (s *memStore) now() time.Time {
	s.clock = s.clock.Add(time.Millisecond)
	return s.clock
}

func (s *memStore) Exec(
	ctx context.Context,
	stmt string,
	args ...interface{},
) (*Result, error) {
	s.execs = append(s.execs, stmt)
	for k, err := range s.failExec {
		if strings.Contains(stmt, k) {
			return nil, err
		}
	}
	m := regexCreateTable.FindStringSubmatch(stmt)
	if m == nil {
		return &Result{SchemaAgreement: true}, nil
	}
	name := m[2]
	if _, ok := s.tables[name]; ok {
		if m[1] != "" {
			return &Result{SchemaAgreement: true}, nil
		}
		return nil, fmt.Errorf("table %s already exists", name)
	}
	s.tables[name]++
	return &Result{SchemaAgreement: true}, nil
}

func (s *memStore) CreateKeyspaceIfNotExists(
	ctx context.Context,
	keyspace, replication string,
) (*Result, error) {
	if !strings.HasPrefix(replication, "{") {
		return nil, fmt.Errorf("line 1: no viable alternative at input %q", replication)
	}
	if _, ok := s.keyspaces[keyspace]; !ok {
		s.keyspaces[keyspace] = replication
	}
	return &Result{SchemaAgreement: true}, nil
}

func (s *memStore) CreateMetaIfNotExists(ctx context.Context) (*Result, error) {
	if s.failMeta != nil {
		return nil, s.failMeta
	}
	s.metaReady = true
	return &Result{SchemaAgreement: true}, nil
}

func (s *memStore) checkMeta() error {
	if !s.metaReady {
		return fmt.Errorf("unconfigured table %s", MetaTable)
	}
	return nil
}

func (s *memStore) GetMigration(ctx context.Context, name string) (*Migration, error) {
	if err := s.checkMeta(); err != nil {
		return nil, err
	}
	date, ok := s.ledger[name]
	if !ok {
		return nil, nil
	}
	return &Migration{Name: name, MigrationDate: date}, nil
}

func (s *memStore) GetMigrations(ctx context.Context) ([]Migration, error) {
	if err := s.checkMeta(); err != nil {
		return nil, err
	}
	migrations := []Migration{}
	for name, date := range s.ledger {
		migrations = append(migrations, Migration{Name: name, MigrationDate: date})
	}
	return migrations, nil
}

func (s *memStore) InsertMigration(ctx context.Context, name string) error {
	if s.beforeInsert != nil {
		s.beforeInsert(name)
	}
	if err := s.checkMeta(); err != nil {
		return err
	}
	if _, ok := s.ledger[name]; ok {
		return ErrAlreadyRecorded
	}
	s.ledger[name] = s.now()
	return nil
}

func (s *memStore) UpsertMigration(ctx context.Context, name string) error {
	if err := s.checkMeta(); err != nil {
		return err
	}
	s.ledger[name] = s.now()
	return nil
}

func (s *memStore) count(stmt string) int {
	var n int
	for _, e := range s.execs {
		if e == stmt {
			n++
		}
	}
	return n
}
