package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/egtann/cqlmigrate"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh/terminal"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cqlmigrate",
		Short: "Create a keyspace and apply pending migrations to it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, migrate)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	addFlags(root.PersistentFlags())
	root.AddCommand(&cobra.Command{
		Use:   "ping",
		Short: "Exit 0 if the database is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, ping)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, status)
		},
	})
	return root
}

type env struct {
	conf    *config
	backend *backend
	log     *zap.Logger
	out     io.Writer
}

func withEnv(cmd *cobra.Command, fn func(context.Context, *env) error) error {
	conf, err := loadConfig(cmd.Flags())
	if err != nil {
		return errors.Wrap(err, "load config")
	}
	log, err := cqlmigrate.NewLogger(conf.Verbose)
	if err != nil {
		return errors.Wrap(err, "new logger")
	}
	defer func() { _ = log.Sync() }()

	// Request the password if a user was given without one
	if conf.Username != "" && conf.Password == "" &&
		terminal.IsTerminal(int(syscall.Stdin)) {
		fmt.Printf("%s password: ", conf.Username)
		pass, err := terminal.ReadPassword(int(syscall.Stdin))
		if err != nil {
			return errors.Wrap(err, "read pass")
		}
		fmt.Printf("\n")
		conf.Password = string(pass)
	}

	b, err := newBackend(conf)
	if err != nil {
		return err
	}
	// sqlite needs to write its file, which the pledge does not allow
	if conf.Type != "sqlite" {
		if err = cqlmigrate.Unveil([]string{conf.Dir, conf.SSLKey,
			conf.SSLCert, conf.SSLCA}); err != nil {
			return errors.Wrap(err, "unveil")
		}
		if err = cqlmigrate.Pledge(); err != nil {
			return errors.Wrap(err, "pledge")
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx, &env{conf: conf, backend: b, log: log, out: cmd.OutOrStdout()})
}

func migrate(ctx context.Context, e *env) error {
	reg := prometheus.NewRegistry()
	metrics, err := cqlmigrate.NewMetrics(reg)
	if err != nil {
		return errors.Wrap(err, "new metrics")
	}
	r := cqlmigrate.NewRunner(e.log)
	r.Metrics = metrics

	// Create the keyspace with a handle that is not bound to it, then bind
	// a second handle for everything else
	root := e.backend.root
	if err = root.Open(); err != nil {
		return errors.Wrap(err, "open")
	}
	defer root.Close()
	if _, err = r.CreateKeyspace(ctx, root, e.conf.Keyspace, e.conf.Replication); err != nil {
		return errors.Wrap(err, "create keyspace")
	}
	db := e.backend.bind(e.conf.Keyspace)
	if err = db.Open(); err != nil {
		return errors.Wrap(err, "open keyspace")
	}
	defer db.Close()
	if _, err = r.CreateLedger(ctx, db); err != nil {
		return errors.Wrap(err, "create migrations table")
	}

	units, err := cqlmigrate.Discover(e.conf.Dir, e.backend.ext, nil)
	if err != nil {
		return errors.Wrap(err, "get migrations")
	}

	// If skip, then we record the migrations but do not perform them. This
	// enables you to start using this tool on an existing keyspace
	if e.conf.Skip != "" {
		n, err := r.SkipAhead(ctx, db, units, e.conf.Skip)
		if err != nil {
			return errors.Wrap(err, "skip ahead")
		}
		fmt.Fprintf(e.out, "skipped ahead %d migrations\n", n)
	}

	if e.conf.Dry {
		pending, err := r.Pending(ctx, db, units)
		if err != nil {
			return errors.Wrap(err, "pending")
		}
		if len(pending) == 0 {
			fmt.Fprintln(e.out, "up to date")
			return nil
		}
		for _, name := range pending {
			fmt.Fprintln(e.out, "would migrate", name)
		}
		return nil
	}

	outs, err := r.Migrate(ctx, db, units)
	if perr := pushMetrics(e, reg); perr != nil {
		e.log.Warn("push metrics", zap.Error(perr))
	}
	if err != nil {
		return errors.Wrap(err, "migrate")
	}
	var migrated bool
	for _, out := range outs {
		if !out.Skipped {
			fmt.Fprintln(e.out, "migrated", out.Name)
			migrated = true
		}
	}
	if migrated {
		fmt.Fprintln(e.out, "success")
	} else {
		fmt.Fprintln(e.out, "up to date")
	}
	return nil
}

func pushMetrics(e *env, reg *prometheus.Registry) error {
	if e.conf.Pushgateway == "" {
		return nil
	}
	return push.New(e.conf.Pushgateway, "cqlmigrate").
		Gatherer(reg).
		Grouping("keyspace", e.conf.Keyspace).
		Push()
}

func ping(ctx context.Context, e *env) error {
	root := e.backend.root
	if err := root.Open(); err != nil {
		return errors.Wrap(err, "open")
	}
	defer root.Close()
	if _, err := root.Exec(ctx, e.backend.ping); err != nil {
		return errors.Wrap(err, "ping")
	}
	e.log.Debug("database reachable", zap.String("type", e.conf.Type))
	return nil
}

func status(ctx context.Context, e *env) error {
	db := e.backend.bind(e.conf.Keyspace)
	if err := db.Open(); err != nil {
		return errors.Wrap(err, "open keyspace")
	}
	defer db.Close()

	units, err := cqlmigrate.Discover(e.conf.Dir, e.backend.ext, nil)
	if err != nil {
		return errors.Wrap(err, "get migrations")
	}
	// Ledger entries whose migration was renamed or deleted
	orphans, err := cqlmigrate.Orphaned(ctx, db, units)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MIGRATION\tAPPLIED\t")
	for _, m := range orphans {
		fmt.Fprintf(w, "%s\t%s\tmissing migration\n", m.Name, formatDate(m))
	}
	for _, u := range units {
		m, err := cqlmigrate.FindMigration(ctx, db, u.Name)
		if err != nil {
			return err
		}
		applied := "pending"
		if m != nil {
			applied = formatDate(*m)
		}
		fmt.Fprintf(w, "%s\t%s\t\n", u.Name, applied)
	}
	return w.Flush()
}

func formatDate(m cqlmigrate.Migration) string {
	return m.MigrationDate.UTC().Format("2006-01-02 15:04:05.000")
}
