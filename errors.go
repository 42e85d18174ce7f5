package cqlmigrate

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrAlreadyRecorded is returned when a conditional ledger insert
	// finds an entry already present, which means another process applied
	// the migration first.
	ErrAlreadyRecorded = errors.New("migration already recorded")

	// ErrLedgerNotReady is returned when migrations are run before the
	// ledger table was created.
	ErrLedgerNotReady = errors.New("ledger table not ready")
)

// StorageError is any failure reported by the Store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %s", e.Op, e.Err)
}

func (e *StorageError) Cause() error  { return e.Err }
func (e *StorageError) Unwrap() error { return e.Err }

// ConfigurationError reports a migrations directory or unit that cannot be
// used. It is never retryable.
type ConfigurationError struct {
	Path string
	Err  error
}

func (e *ConfigurationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("configuration: %s", e.Err)
	}
	return fmt.Sprintf("configuration: %s: %s", e.Path, e.Err)
}

func (e *ConfigurationError) Cause() error  { return e.Err }
func (e *ConfigurationError) Unwrap() error { return e.Err }

// ApplicationError wraps the failure of a migration's up action.
type ApplicationError struct {
	Name string
	Err  error
}

func (e *ApplicationError) Error() string {
	return fmt.Sprintf("migrate %s: %s", e.Name, e.Err)
}

func (e *ApplicationError) Cause() error  { return e.Err }
func (e *ApplicationError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

func configErr(path string, err error) error {
	return &ConfigurationError{Path: path, Err: err}
}
