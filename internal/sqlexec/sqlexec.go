// Package sqlexec holds the pieces shared by the sqlx-backed stores.
package sqlexec

import (
	"context"
	"database/sql"
	"strings"

	"github.com/egtann/cqlmigrate"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// Exec runs stmt. Statements that return rows are queried and their rows
// collected; everything else reports the number of rows affected.
func Exec(
	ctx context.Context,
	db *sqlx.DB,
	stmt string,
	args ...interface{},
) (*cqlmigrate.Result, error) {
	if !returnsRows(stmt) {
		res, err := db.ExecContext(ctx, stmt, args...)
		if err != nil {
			return nil, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			n = 0
		}
		return &cqlmigrate.Result{RowsAffected: n, SchemaAgreement: true}, nil
	}
	rows, err := db.QueryxContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := &cqlmigrate.Result{SchemaAgreement: true}
	for rows.Next() {
		m := map[string]interface{}{}
		if err = rows.MapScan(m); err != nil {
			return nil, errors.Wrap(err, "map scan")
		}
		for k, v := range m {
			if b, ok := v.([]byte); ok {
				m[k] = string(b)
			}
		}
		res.Rows = append(res.Rows, m)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

func returnsRows(stmt string) bool {
	fields := strings.Fields(stmt)
	if len(fields) == 0 {
		return false
	}
	switch strings.ToUpper(fields[0]) {
	case "SELECT", "WITH", "SHOW", "PRAGMA", "EXPLAIN", "DESCRIBE", "VALUES":
		return true
	}
	return false
}

// GetMigration runs q, which must select name and migration_date for a
// single name, and returns nil if there is no such row.
func GetMigration(
	ctx context.Context,
	db *sqlx.DB,
	q, name string,
) (*cqlmigrate.Migration, error) {
	m := &cqlmigrate.Migration{}
	err := db.GetContext(ctx, m, q, name)
	switch {
	case err == sql.ErrNoRows:
		return nil, nil
	case err != nil:
		return nil, err
	}
	return m, nil
}

// InsertedOrRecorded turns the result of a conditional insert into
// ErrAlreadyRecorded when no row was written.
func InsertedOrRecorded(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return cqlmigrate.ErrAlreadyRecorded
	}
	return nil
}
