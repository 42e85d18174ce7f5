package cqlmigrate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// State is the position of a Runner in its lifecycle.
type State int

const (
	NotStarted State = iota
	KeyspaceReady
	LedgerReady
	Applying
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not started"
	case KeyspaceReady:
		return "keyspace ready"
	case LedgerReady:
		return "ledger ready"
	case Applying:
		return "applying"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Outcome reports what happened to one unit. Skipped is set when the unit
// was already in the ledger and Up was not called.
type Outcome struct {
	Name    string
	Skipped bool
	Result  *Result
}

// Runner drives a single migration pass. It holds no ledger state of its
// own; every check is a fresh query against the Store. A Runner is not safe
// for concurrent use, and nothing prevents two processes from running
// against the same keyspace at once.
type Runner struct {
	Log     *zap.Logger
	Metrics *Metrics

	state State
	err   error
	runID string
}

// NewRunner returns a Runner that logs to log. log may be nil.
func NewRunner(log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Runner{runID: uuid.New().String()}
	r.Log = log.With(zap.String("run_id", r.runID))
	return r
}

// State returns the current state of the runner.
func (r *Runner) State() State { return r.state }

// Err returns the error that moved the runner to Failed, if any.
func (r *Runner) Err() error { return r.err }

func (r *Runner) log() *zap.Logger {
	if r.Log == nil {
		return zap.NewNop()
	}
	return r.Log
}

func (r *Runner) fail(err error) error {
	r.state = Failed
	r.err = err
	r.log().Error("migration failed", zap.Error(err))
	return err
}

// CreateKeyspace creates the keyspace through s, which should not be bound
// to any keyspace yet.
func (r *Runner) CreateKeyspace(
	ctx context.Context,
	s Store,
	keyspace, replication string,
) (*Result, error) {
	if r.state == Failed {
		return nil, r.err
	}
	res, err := CreateKeyspace(ctx, s, keyspace, replication)
	if err != nil {
		return nil, r.fail(err)
	}
	r.log().Info("keyspace ready", zap.String("keyspace", keyspace),
		zap.Bool("schema_agreement", res.SchemaAgreement))
	r.state = KeyspaceReady
	return res, nil
}

// CreateLedger creates the migrations table through s, which must be bound
// to the target keyspace.
func (r *Runner) CreateLedger(ctx context.Context, s Store) (*Result, error) {
	if r.state == Failed {
		return nil, r.err
	}
	res, err := CreateLedger(ctx, s)
	if err != nil {
		return nil, r.fail(err)
	}
	r.log().Debug("ledger ready")
	r.state = LedgerReady
	return res, nil
}

// Migrate applies units strictly in order, one at a time. Units already in
// the ledger are skipped. The first failure stops the pass; units applied
// before it stay recorded.
func (r *Runner) Migrate(
	ctx context.Context,
	s Store,
	units []Unit,
) ([]Outcome, error) {
	switch r.state {
	case Failed:
		return nil, r.err
	case LedgerReady, Done:
	default:
		return nil, errors.Wrapf(ErrLedgerNotReady, "runner %s", r.state)
	}
	r.state = Applying
	outcomes := make([]Outcome, 0, len(units))
	for _, u := range units {
		start := time.Now()
		out, err := ExecuteIfNotApplied(ctx, s, u.Name, u.Up)
		r.Metrics.observe(out, err, time.Since(start))
		if err != nil {
			return outcomes, r.fail(err)
		}
		if out.Skipped {
			r.log().Debug("already applied", zap.String("migration", u.Name))
		} else {
			r.log().Info("applied", zap.String("migration", u.Name),
				zap.Duration("took", time.Since(start)))
		}
		outcomes = append(outcomes, *out)
	}
	r.state = Done
	return outcomes, nil
}

// MigrateDir discovers the units in dir and reg, then runs Migrate.
func (r *Runner) MigrateDir(
	ctx context.Context,
	s Store,
	dir, ext string,
	reg *Registry,
) ([]Outcome, error) {
	if r.state == Failed {
		return nil, r.err
	}
	units, err := Discover(dir, ext, reg)
	if err != nil {
		return nil, r.fail(err)
	}
	r.log().Debug("discovered migrations", zap.String("dir", dir),
		zap.Int("count", len(units)))
	return r.Migrate(ctx, s, units)
}

// Pending returns the names of units that have not been applied, in run
// order. Nothing is executed.
func (r *Runner) Pending(
	ctx context.Context,
	s Store,
	units []Unit,
) ([]string, error) {
	if r.state == Failed {
		return nil, r.err
	}
	var names []string
	for _, u := range units {
		ok, err := HasBeenApplied(ctx, s, u.Name)
		if err != nil {
			return nil, err
		}
		if !ok {
			names = append(names, u.Name)
		}
	}
	return names, nil
}

// SkipAhead records every unit up to and including skipTo as applied without
// running it. This enables adopting the tool on a keyspace whose schema
// already exists. It returns the number of units recorded.
func (r *Runner) SkipAhead(
	ctx context.Context,
	s Store,
	units []Unit,
	skipTo string,
) (int, error) {
	if r.state == Failed {
		return 0, r.err
	}
	index := -1
	for i, u := range units {
		if u.Name == skipTo {
			index = i
			break
		}
	}
	if index == -1 {
		return 0, configErr(skipTo, errors.New("no such migration"))
	}
	for i := 0; i <= index; i++ {
		if err := MarkApplied(ctx, s, units[i].Name); err != nil {
			return i, err
		}
		r.log().Info("skipped", zap.String("migration", units[i].Name))
	}
	return index + 1, nil
}

// ExecuteIfNotApplied runs up for name unless the ledger already has it,
// then records it. This is the primitive behind Runner.Migrate and can be
// called directly by callers that order units themselves.
func ExecuteIfNotApplied(
	ctx context.Context,
	s Store,
	name string,
	up UpFunc,
) (*Outcome, error) {
	if up == nil {
		return nil, configErr(name, errors.New("no up func"))
	}
	applied, err := HasBeenApplied(ctx, s, name)
	if err != nil {
		return nil, err
	}
	if applied {
		return &Outcome{Name: name, Skipped: true}, nil
	}
	res, err := up(ctx, s)
	if err != nil {
		return nil, &ApplicationError{Name: name, Err: err}
	}
	if err = RecordApplied(ctx, s, name); err != nil {
		return nil, err
	}
	return &Outcome{Name: name, Result: res}, nil
}
