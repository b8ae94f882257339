// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlaccess

import (
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/cel-go/cel"
	"golang.org/x/sync/singleflight"

	"github.com/canonical/sqlaccess/internal/mapping"
	"github.com/canonical/sqlaccess/internal/plan"
	"github.com/canonical/sqlaccess/internal/resolve"
	"github.com/canonical/sqlaccess/internal/typeinfo"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// Converter converts values of a registered type to and from the database.
// FromDriver is only called for non-NULL columns.
type Converter = typeinfo.Converter

// Dialect selects the placeholder syntax of rendered commands.
type Dialect = plan.Dialect

const (
	SQLite    = plan.SQLite
	MySQL     = plan.MySQL
	Postgres  = plan.Postgres
	SQLServer = plan.SQLServer
)

// Command is a rendered statement: SQL text and its arguments.
type Command = plan.Command

// Factory compiles operations into statements. Compiled plans are cached
// for the lifetime of the factory; a factory is safe for concurrent use.
type Factory struct {
	env    *plan.Environment
	logger *slog.Logger
	group  singleflight.Group
	// mu orders publishing a plan against Close.
	mu     sync.Mutex
	// plans holds a *plan.Plan per operation key.
	plans  sync.Map
	count  atomic.Int64
	closed atomic.Bool
}

// Option configures a Factory.
type Option func(*Factory)

// WithNaming sets the naming convention used when neither the operation nor
// the result type declares one.
func WithNaming(convention Naming) Option {
	return func(f *Factory) { f.env.Naming = convention }
}

// WithConverter registers the converter of the type of sample.
func WithConverter(sample any, conv Converter) Option {
	return func(f *Factory) { f.env.Converters[reflect.TypeOf(sample)] = conv }
}

// WithHelper registers a CEL library enabled by /*!helper name*/.
func WithHelper(name string, opts ...cel.EnvOption) Option {
	return func(f *Factory) { f.env.Helpers[name] = opts }
}

// WithUsing registers a value exposed to conditions by /*!using name*/.
func WithUsing(name string, value any) Option {
	return func(f *Factory) { f.env.Using[name] = value }
}

// WithLogger sets the logger of the factory.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Factory) { f.logger = logger }
}

// NewFactory returns a factory with an empty plan cache.
func NewFactory(opts ...Option) *Factory {
	f := &Factory{
		env: &plan.Environment{
			Registry:   mapping.NewRegistry(),
			Converters: make(map[reflect.Type]typeinfo.Converter),
			Helpers:    make(map[string][]cel.EnvOption),
			Using:      make(map[string]any),
		},
		logger: discardLogger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Statement is a compiled operation ready to be run on any [DB].
type Statement struct {
	plan     *plan.Plan
	bindable int
}

func newStatement(p *plan.Plan) *Statement {
	s := &Statement{plan: p}
	for _, param := range p.Params {
		if !param.Special {
			s.bindable++
		}
	}
	return s
}

// ID returns the identifier of the operation.
func (s *Statement) ID() string {
	return s.plan.ID
}

// Render renders the statement for one call without running it. The
// arguments are those of [DB.Query].
func (s *Statement) Render(dialect Dialect, args ...any) (cmd *Command, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("cannot render statement %q: %w", s.plan.ID, err)
		}
	}()
	call, err := s.call(args)
	if err != nil {
		return nil, err
	}
	return s.plan.Render(dialect, call)
}

// call splits the arguments into the parameter values and the lookup.
func (s *Statement) call(args []any) (*resolve.Call, error) {
	var lookup M
	if n := len(args); n > s.bindable {
		if m, ok := args[n-1].(M); ok {
			lookup = m
			args = args[:n-1]
		}
	}
	values, err := resolve.Arguments(s.plan.Params, args)
	if err != nil {
		return nil, err
	}
	return &resolve.Call{Args: values, Lookup: lookup}, nil
}

// Prepare compiles an operation into a [Statement]. The compiled plan is
// cached: preparing the same operation again does not recompile it, and
// concurrent first preparations compile it once.
func (f *Factory) Prepare(op Operation) (s *Statement, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("cannot prepare statement: %w", err)
		}
	}()
	if f.closed.Load() {
		return nil, ErrFactoryClosed
	}
	compiled, err := op.compiled()
	if err != nil {
		return nil, err
	}
	key := operationKey(compiled)
	if p, ok := f.plans.Load(key); ok {
		f.logger.Debug("plan cache hit", "operation", op.ID)
		return newStatement(p.(*plan.Plan)), nil
	}

	v, err, _ := f.group.Do(strconv.FormatUint(key, 16), func() (any, error) {
		if p, ok := f.plans.Load(key); ok {
			return p, nil
		}
		start := time.Now()
		p, err := plan.Compile(compiled, f.env)
		if err != nil {
			return nil, err
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.closed.Load() {
			return nil, ErrFactoryClosed
		}
		actual, loaded := f.plans.LoadOrStore(key, p)
		if !loaded {
			f.count.Add(1)
			f.logger.Debug("plan compiled",
				"operation", op.ID,
				"params", len(p.Bindings.Entries),
				"dynamic", len(p.Bindings.Dynamic),
				"duration", time.Since(start))
		}
		return actual, nil
	})
	if err != nil {
		return nil, err
	}
	return newStatement(v.(*plan.Plan)), nil
}

// MustPrepare is the same as [Factory.Prepare] except that it panics on
// error.
func (f *Factory) MustPrepare(op Operation) *Statement {
	s, err := f.Prepare(op)
	if err != nil {
		panic(err)
	}
	return s
}

// PrepareFrom prepares an operation whose template is loaded by ID. A
// template already set on the operation is used as is.
func (f *Factory) PrepareFrom(loader Loader, op Operation) (*Statement, error) {
	if op.SQL == "" {
		text, err := loader.Load(op.ID)
		if err != nil {
			return nil, fmt.Errorf("cannot prepare statement: cannot load template %q: %w", op.ID, err)
		}
		op.SQL = text
	}
	return f.Prepare(op)
}

// Len returns the number of cached plans.
func (f *Factory) Len() int {
	return int(f.count.Load())
}

// Close drops the cached plans. Statements already prepared remain usable;
// Prepare returns [ErrFactoryClosed].
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed.CompareAndSwap(false, true) {
		return nil
	}
	f.plans.Range(func(key, _ any) bool {
		f.plans.Delete(key)
		return true
	})
	f.count.Store(0)
	return nil
}

// operationKey hashes the identity of an operation: its ID, template and
// signature.
func operationKey(op plan.Operation) uint64 {
	d := xxhash.New()
	d.WriteString(op.ID)
	d.WriteString("\x00")
	d.WriteString(op.SQL)
	for _, p := range op.Params {
		d.WriteString("\x00")
		d.WriteString(p.Name)
		d.WriteString(" ")
		if p.Type != nil {
			d.WriteString(p.Type.PkgPath() + "." + p.Type.String())
		}
		d.WriteString(" " + p.Direction.String())
		d.WriteString(strconv.FormatBool(p.Special) + strconv.FormatBool(p.OmitEmpty) + strconv.FormatBool(p.OmitNil))
	}
	d.WriteString("\x00")
	d.WriteString(op.Naming.String())
	for _, t := range op.Results {
		d.WriteString("\x00" + t.PkgPath() + "." + t.String())
	}
	return d.Sum64()
}

// RegisterOption configures how a result type is materialized.
type RegisterOption func(s *mapping.Shape) error

// TypeNaming sets the naming convention of the type.
func TypeNaming(convention Naming) RegisterOption {
	return func(s *mapping.Shape) error {
		s.Naming = convention
		return nil
	}
}

// Constructor registers a function that builds the type. The names give
// the column of each parameter, in order. A name written "Param:column"
// matches the column literally instead of by naming convention.
//
// When several constructors match the columns of a result, the one with the
// most parameters wins, then the one whose parameter types equal the most
// column types, then the one registered first.
func Constructor(fn any, names ...string) RegisterOption {
	return func(s *mapping.Shape) error {
		t, ctor, err := mapping.NewConstructor(fn, names...)
		if err != nil {
			return err
		}
		if t != s.Type {
			return fmt.Errorf("constructor returns %s, need %s", t, s.Type)
		}
		s.Constructors = append(s.Constructors, ctor)
		return nil
	}
}

// RequireConstructor makes the type buildable only by a registered
// constructor.
func RequireConstructor() RegisterOption {
	return func(s *mapping.Shape) error {
		s.RequireConstructor = true
		return nil
	}
}

// Register configures the result type of sample. It must be called before
// the statements reading the type are prepared.
func (f *Factory) Register(sample any, opts ...RegisterOption) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("cannot register type: %w", err)
		}
	}()
	if sample == nil {
		return fmt.Errorf("need type sample, got nil")
	}
	t := reflect.TypeOf(sample)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if !typeinfo.IsNested(t) {
		return fmt.Errorf("need struct, got %s", t)
	}
	return f.env.Registry.Update(t, func(s *mapping.Shape) error {
		for _, opt := range opts {
			if err := opt(s); err != nil {
				return err
			}
		}
		return nil
	})
}
