package cqlmigrate

import (
	"context"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// UpFunc applies a migration against s.
type UpFunc func(ctx context.Context, s Store) (*Result, error)

// Unit is a single named migration. Only its name is ever persisted.
type Unit struct {
	Name string
	Up   UpFunc
}

var regexNum = regexp.MustCompile(`^\d+`)

// ReadDir loads every migration script in dir whose name ends in ext, such
// as ".cql". Directories and hidden files are skipped. The unit name is the
// filename without ext. Units are returned unsorted; see Sort.
func ReadDir(dir, ext string) ([]Unit, error) {
	infos, err := ioutil.ReadDir(dir)
	if err != nil {
		return nil, configErr(dir, errors.Wrap(err, "read dir"))
	}
	var (
		units []Unit
		merr  *multierror.Error
	)
	for _, fi := range infos {
		// Skip directories and hidden files
		if !fi.Mode().IsRegular() || strings.HasPrefix(fi.Name(), ".") {
			continue
		}
		if !strings.HasSuffix(fi.Name(), ext) {
			continue
		}
		pth := filepath.Join(dir, fi.Name())
		u, err := readScript(pth, strings.TrimSuffix(fi.Name(), ext))
		if err != nil {
			merr = multierror.Append(merr, err)
			continue
		}
		units = append(units, u)
	}
	if err = merr.ErrorOrNil(); err != nil {
		return nil, configErr(dir, err)
	}
	return units, nil
}

func readScript(pth, name string) (Unit, error) {
	byt, err := ioutil.ReadFile(pth)
	if err != nil {
		return Unit{}, errors.Wrapf(err, "read %s", pth)
	}
	stmts := ParseStatements(string(byt))
	if len(stmts) == 0 {
		return Unit{}, fmt.Errorf("%s: no statements to run as up", pth)
	}
	return Unit{Name: name, Up: execStatements(stmts)}, nil
}

// ParseStatements splits a script into its statements. Lines starting with
// -- or // are comments. Statements are separated by semicolons; semicolons
// inside string literals are not supported.
func ParseStatements(script string) []string {
	cmds := []string{}
	for _, cmd := range strings.Split(stripComments(script), ";") {
		// A comment trailing the last semicolon on a line starts the
		// next chunk, so strip comments again after splitting
		cmd = strings.TrimSpace(stripComments(cmd))
		if len(cmd) > 0 {
			cmds = append(cmds, cmd)
		}
	}
	return cmds
}

func stripComments(script string) string {
	var b strings.Builder
	for _, line := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "--") || strings.HasPrefix(trimmed, "//") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// execStatements runs each statement one by one and returns the result of
// the last one.
func execStatements(stmts []string) UpFunc {
	return func(ctx context.Context, s Store) (*Result, error) {
		var res *Result
		for i, stmt := range stmts {
			var err error
			res, err = s.Exec(ctx, stmt)
			if err != nil {
				return nil, errors.Wrapf(err, "statement %d", i+1)
			}
		}
		return res, nil
	}
}

// Sort orders units so that 1_a, 2_b, 10_c run in that order. Names with a
// numeric prefix sort first by that number; the rest follow by name. Two
// units sharing a numeric prefix are an error.
func Sort(units []Unit) error {
	nums := make(map[uint64]string, len(units))
	for _, u := range units {
		numStr := regexNum.FindString(u.Name)
		if numStr == "" {
			continue
		}
		num, err := strconv.ParseUint(numStr, 10, 64)
		if err != nil {
			return configErr(u.Name, errors.Wrap(err, "parse uint"))
		}
		if other, ok := nums[num]; ok {
			return configErr(u.Name, fmt.Errorf(
				"cannot have duplicate prefix %d (also used by %s)", num, other))
		}
		nums[num] = u.Name
	}
	sort.SliceStable(units, func(i, j int) bool {
		ni, iok := prefix(units[i].Name)
		nj, jok := prefix(units[j].Name)
		switch {
		case iok && jok:
			return ni < nj
		case iok != jok:
			return iok
		}
		return units[i].Name < units[j].Name
	})
	return nil
}

func prefix(name string) (uint64, bool) {
	n, err := strconv.ParseUint(regexNum.FindString(name), 10, 64)
	return n, err == nil
}

// Registry holds migrations written in Go. Register them from init
// functions or main before calling Discover.
type Registry struct {
	units []Unit
	names map[string]struct{}
	errs  *multierror.Error
}

// Register adds a Go migration. Problems such as a nil up or a duplicate
// name are reported by Units.
func (r *Registry) Register(name string, up UpFunc) {
	if r.names == nil {
		r.names = map[string]struct{}{}
	}
	switch {
	case name == "":
		r.errs = multierror.Append(r.errs, errors.New("register: empty name"))
		return
	case up == nil:
		r.errs = multierror.Append(r.errs, fmt.Errorf("register %s: no up func", name))
		return
	}
	if _, ok := r.names[name]; ok {
		r.errs = multierror.Append(r.errs, fmt.Errorf("register %s: duplicate name", name))
		return
	}
	r.names[name] = struct{}{}
	r.units = append(r.units, Unit{Name: name, Up: up})
}

// Units returns a copy of the registered migrations.
func (r *Registry) Units() ([]Unit, error) {
	if r == nil {
		return nil, nil
	}
	if err := r.errs.ErrorOrNil(); err != nil {
		return nil, configErr("", err)
	}
	units := make([]Unit, len(r.units))
	copy(units, r.units)
	return units, nil
}

// Discover collects the scripts in dir together with any Go migrations in
// reg and returns them in run order. reg may be nil. The directory is read
// once per call.
func Discover(dir, ext string, reg *Registry) ([]Unit, error) {
	units, err := ReadDir(dir, ext)
	if err != nil {
		return nil, err
	}
	goUnits, err := reg.Units()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(units))
	for _, u := range units {
		seen[u.Name] = struct{}{}
	}
	for _, u := range goUnits {
		if _, ok := seen[u.Name]; ok {
			return nil, configErr(u.Name, errors.New(
				"registered migration has the same name as a script"))
		}
		units = append(units, u)
	}
	if err = Sort(units); err != nil {
		return nil, err
	}
	return units, nil
}
