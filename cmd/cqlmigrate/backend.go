package main

import (
	"crypto/tls"
	"fmt"

	"github.com/egtann/cqlmigrate"
	"github.com/egtann/cqlmigrate/cassandra"
	"github.com/egtann/cqlmigrate/mysql"
	"github.com/egtann/cqlmigrate/postgres"
	"github.com/egtann/cqlmigrate/sqlite"
	"github.com/pkg/errors"
)

// store is a Store whose connection the command line tool manages.
type store interface {
	cqlmigrate.Store
	Open() error
	Close() error
}

// backend knows how to reach one type of database both before and after the
// keyspace exists.
type backend struct {
	root store
	bind func(keyspace string) store

	// ext is the suffix of migration scripts, ping a cheap query.
	ext  string
	ping string
}

func newBackend(conf *config) (*backend, error) {
	switch conf.Type {
	case "cassandra":
		var tlsConf *tls.Config
		if conf.SSLCA != "" {
			var err error
			tlsConf, err = cqlmigrate.NewTLSConfig(conf.SSLKey, conf.SSLCert,
				conf.SSLCA, conf.SSLServerName)
			if err != nil {
				return nil, errors.Wrap(err, "new tls config")
			}
		}
		db := cassandra.New(cassandra.Config{
			Hosts:       conf.ContactPoints,
			Port:        conf.Port,
			Username:    conf.Username,
			Password:    conf.Password,
			LocalDC:     conf.LocalDataCenter,
			Consistency: conf.Consistency,
			Timeout:     conf.Timeout,
			TLS:         tlsConf,
		})
		return &backend{
			root: db,
			bind: func(ks string) store { return db.WithKeyspace(ks) },
			ext:  ".cql",
			ping: `SELECT release_version FROM system.local`,
		}, nil
	case "postgres":
		port := conf.Port
		if port == 0 {
			port = 5432
		}
		db := postgres.New(conf.Username, conf.Password, conf.ContactPoints[0],
			conf.Database, port, conf.SSLKey, conf.SSLCert, conf.SSLCA)
		return &backend{
			root: db,
			bind: func(ks string) store { return db.WithKeyspace(ks) },
			ext:  ".sql",
			ping: `SELECT 1`,
		}, nil
	case "mysql":
		port := conf.Port
		if port == 0 {
			port = 3306
		}
		db, err := mysql.New(conf.Username, conf.Password, conf.ContactPoints[0],
			port, conf.SSLKey, conf.SSLCert, conf.SSLCA, conf.SSLServerName)
		if err != nil {
			return nil, errors.Wrap(err, "new mysql")
		}
		return &backend{
			root: db,
			bind: func(ks string) store { return db.WithKeyspace(ks) },
			ext:  ".sql",
			ping: `SELECT 1`,
		}, nil
	case "sqlite":
		return &backend{
			root: sqlite.New(conf.File),
			bind: func(string) store { return sqlite.New(conf.File) },
			ext:  ".sql",
			ping: `SELECT 1`,
		}, nil
	}
	return nil, fmt.Errorf("unknown db type: %s", conf.Type)
}
