package cqlmigrate

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		pth := filepath.Join(dir, name)
		err := ioutil.WriteFile(pth, []byte(content), 0644)
		require.NoError(t, err)
	}
	return dir
}

func names(units []Unit) []string {
	ns := make([]string, 0, len(units))
	for _, u := range units {
		ns = append(ns, u.Name)
	}
	return ns
}

func TestParseStatements(t *testing.T) {
	script := `-- create the users table
CREATE TABLE users (
	id bigint PRIMARY KEY,
	name text
);
// and an index
CREATE INDEX ON users (name);

;
`
	stmts := ParseStatements(script)
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE users (\n\tid bigint PRIMARY KEY,\n\tname text\n)", stmts[0])
	assert.Equal(t, "CREATE INDEX ON users (name)", stmts[1])

	assert.Empty(t, ParseStatements("-- nothing here\n\n"))

	stmts = ParseStatements("CREATE TABLE a (id int PRIMARY KEY); -- add a\n" +
		"ALTER TABLE a ADD name text; // and a name\n")
	assert.Equal(t, []string{
		"CREATE TABLE a (id int PRIMARY KEY)",
		"ALTER TABLE a ADD name text",
	}, stmts)
}

func TestReadDir(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"1_create.cql":   "CREATE TABLE a (id int PRIMARY KEY);",
		"2_alter.cql":    "ALTER TABLE a ADD name text;",
		".3_hidden.cql":  "CREATE TABLE hidden (id int PRIMARY KEY);",
		"notes.txt":      "not a migration",
		"4_create.sql":   "CREATE TABLE wrong_ext (id int PRIMARY KEY);",
		"README":         "",
		"5_comments.cql": "-- only\n// comments\nCREATE TABLE c (id int PRIMARY KEY)",
	})
	require.NoError(t, os.Mkdir(filepath.Join(dir, "6_dir.cql"), 0755))

	units, err := ReadDir(dir, ".cql")
	require.NoError(t, err)
	require.NoError(t, Sort(units))
	assert.Equal(t, []string{"1_create", "2_alter", "5_comments"}, names(units))
}

func TestReadDirNoUp(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"1_ok.cql":    "CREATE TABLE a (id int PRIMARY KEY);",
		"2_empty.cql": "",
		"3_notes.cql": "-- TODO\n",
	})

	_, err := ReadDir(dir, ".cql")
	var cerr *ConfigurationError
	require.True(t, errors.As(err, &cerr), "got %v", err)
	assert.Contains(t, err.Error(), "2_empty.cql")
	assert.Contains(t, err.Error(), "3_notes.cql")
}

func TestReadDirMissing(t *testing.T) {
	_, err := ReadDir(filepath.Join(t.TempDir(), "nope"), ".cql")
	var cerr *ConfigurationError
	require.True(t, errors.As(err, &cerr), "got %v", err)
}

func TestSort(t *testing.T) {
	units := []Unit{
		{Name: "10_c"}, {Name: "zeta"}, {Name: "2_b"},
		{Name: "alpha"}, {Name: "1_a"}, {Name: "20240101120000_d"},
	}
	require.NoError(t, Sort(units))
	assert.Equal(t, []string{
		"1_a", "2_b", "10_c", "20240101120000_d", "alpha", "zeta",
	}, names(units))
}

func TestSortDuplicatePrefix(t *testing.T) {
	units := []Unit{{Name: "1_a"}, {Name: "01_b"}}
	err := Sort(units)
	var cerr *ConfigurationError
	require.True(t, errors.As(err, &cerr), "got %v", err)
	assert.Contains(t, err.Error(), "duplicate prefix 1")
}

func TestRegistry(t *testing.T) {
	up := func(ctx context.Context, s Store) (*Result, error) { return nil, nil }

	reg := &Registry{}
	reg.Register("1_a", up)
	reg.Register("2_b", up)
	units, err := reg.Units()
	require.NoError(t, err)
	assert.Equal(t, []string{"1_a", "2_b"}, names(units))

	var nilReg *Registry
	units, err = nilReg.Units()
	require.NoError(t, err)
	assert.Empty(t, units)
}

func TestRegistryNoUp(t *testing.T) {
	up := func(ctx context.Context, s Store) (*Result, error) { return nil, nil }

	reg := &Registry{}
	reg.Register("1_a", nil)
	reg.Register("2_b", up)
	reg.Register("2_b", up)
	reg.Register("", up)

	_, err := reg.Units()
	var cerr *ConfigurationError
	require.True(t, errors.As(err, &cerr), "got %v", err)
	assert.Contains(t, err.Error(), "register 1_a: no up func")
	assert.Contains(t, err.Error(), "register 2_b: duplicate name")
	assert.Contains(t, err.Error(), "empty name")
}

func TestDiscover(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"1_create.cql": "CREATE TABLE a (id int PRIMARY KEY);",
		"3_alter.cql":  "ALTER TABLE a ADD name text;",
	})
	reg := &Registry{}
	reg.Register("2_backfill", func(ctx context.Context, s Store) (*Result, error) {
		return s.Exec(ctx, "INSERT INTO a (id) VALUES (1)")
	})

	units, err := Discover(dir, ".cql", reg)
	require.NoError(t, err)
	assert.Equal(t, []string{"1_create", "2_backfill", "3_alter"}, names(units))

	reg.Register("1_create", func(ctx context.Context, s Store) (*Result, error) {
		return nil, nil
	})
	_, err = Discover(dir, ".cql", reg)
	var cerr *ConfigurationError
	require.True(t, errors.As(err, &cerr), "got %v", err)
}
