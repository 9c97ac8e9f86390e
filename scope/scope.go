// Package scope implements the nested resource lifetimes used while running scenarios.
//
// Scopes form a tree Global -> Scenario -> StepGroup -> Step. Each scope resolves
// named dependencies from a Container and owns every value it created. Closing a
// scope first closes its open children, then disposes its owned values in reverse
// creation order, collecting every disposal error instead of stopping at the first.
package scope

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-scenario/outcome"
)

// Level identifies the lifetime a scope represents.
type Level int

const (
	LevelGlobal Level = iota
	LevelScenario
	LevelStepGroup
	LevelStep
)

func (l Level) String() string {
	switch l {
	case LevelGlobal:
		return "global"
	case LevelScenario:
		return "scenario"
	case LevelStepGroup:
		return "step-group"
	case LevelStep:
		return "step"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

var (
	ErrScopeClosed     = errors.New("scope is closed")
	ErrNotRegistered   = errors.New("dependency not registered")
	ErrInvalidNesting  = errors.New("invalid scope nesting")
	ErrNoMatchingScope = errors.New("no enclosing scope of the required level")
)

type owned struct {
	name  string
	value interface{}
}

// Scope is one node of the lifetime hierarchy. It is safe for concurrent use.
type Scope struct {
	level     Level
	parent    *Scope
	container *Container
	log       log.Logger

	mu       sync.Mutex
	closed   bool
	children []*Scope
	owned    []owned
	shared   map[string]interface{} // instances of providers bound to this scope
	inflight map[string]*sync.Mutex
}

// NewGlobal opens the root scope for the given container.
func NewGlobal(container *Container, logger log.Logger) *Scope {
	if container == nil {
		container = NewContainer()
	}
	if logger == nil {
		logger = log.Root()
	}
	return newScope(LevelGlobal, nil, container, logger)
}

func newScope(level Level, parent *Scope, container *Container, logger log.Logger) *Scope {
	return &Scope{
		level:     level,
		parent:    parent,
		container: container,
		log:       logger,
		shared:    make(map[string]interface{}),
		inflight:  make(map[string]*sync.Mutex),
	}
}

// Level returns the lifetime this scope represents.
func (s *Scope) Level() Level {
	return s.level
}

// Parent returns the enclosing scope, nil for the global scope.
func (s *Scope) Parent() *Scope {
	return s.parent
}

// Begin opens a nested scope. The child level must be deeper than the parent's,
// except step groups which may nest inside each other.
func (s *Scope) Begin(level Level) (*Scope, error) {
	if level < s.level || (level == s.level && level != LevelStepGroup) {
		return nil, fmt.Errorf("%w: cannot open %s scope inside %s scope", ErrInvalidNesting, level, s.level)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("begin %s scope: %w", level, ErrScopeClosed)
	}
	child := newScope(level, s, s.container, s.log)
	s.children = append(s.children, child)
	return child, nil
}

// Resolve returns the dependency registered under name, creating it if required.
// The created value is owned by the scope its lifetime binds it to.
func (s *Scope) Resolve(ctx context.Context, name string) (interface{}, error) {
	reg, ok := s.container.lookup(name)
	if !ok {
		return nil, fmt.Errorf("resolve %q: %w", name, ErrNotRegistered)
	}
	if s.isClosed() {
		return nil, fmt.Errorf("resolve %q: %w", name, ErrScopeClosed)
	}

	switch reg.lifetime.kind {
	case lifetimeTransient:
		return s.create(ctx, name, reg)
	case lifetimeSingle:
		return s.root().sharedInstance(ctx, name, reg)
	default:
		owner := s.nearest(reg.lifetime.level)
		if owner == nil {
			return nil, fmt.Errorf("resolve %q bound to %s scope from %s scope: %w", name, reg.lifetime.level, s.level, ErrNoMatchingScope)
		}
		return owner.sharedInstance(ctx, name, reg)
	}
}

// Own adopts an externally created value. It is disposed when the scope closes.
func (s *Scope) Own(name string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("own %q: %w", name, ErrScopeClosed)
	}
	s.owned = append(s.owned, owned{name: name, value: value})
	return nil
}

// Close closes open children in reverse opening order, then disposes owned values
// in reverse creation order. All errors are returned together. Close is idempotent.
func (s *Scope) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	children := s.children
	values := s.owned
	s.children = nil
	s.owned = nil
	s.mu.Unlock()

	var errs []error
	for i := len(children) - 1; i >= 0; i-- {
		if err := children[i].Close(); err != nil {
			errs = append(errs, outcome.Causes(err)...)
		}
	}
	for i := len(values) - 1; i >= 0; i-- {
		if err := dispose(values[i]); err != nil {
			s.log.Debug("Dependency disposal failed", "scope", s.level, "dependency", values[i].name, "err", err)
			errs = append(errs, err)
		}
	}
	if s.parent != nil {
		s.parent.forget(s)
	}
	return outcome.Aggregate(errs...)
}

func (s *Scope) forget(child *Scope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.children {
		if c == child {
			s.children = append(s.children[:i], s.children[i+1:]...)
			return
		}
	}
}

func (s *Scope) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Scope) root() *Scope {
	r := s
	for r.parent != nil {
		r = r.parent
	}
	return r
}

func (s *Scope) nearest(level Level) *Scope {
	for c := s; c != nil; c = c.parent {
		if c.level == level {
			return c
		}
	}
	return nil
}

// sharedInstance creates the value once per scope; concurrent resolvers of the same
// name wait for the first one instead of creating duplicates.
func (s *Scope) sharedInstance(ctx context.Context, name string, reg registration) (interface{}, error) {
	s.mu.Lock()
	if v, ok := s.shared[name]; ok {
		s.mu.Unlock()
		return v, nil
	}
	lock, ok := s.inflight[name]
	if !ok {
		lock = &sync.Mutex{}
		s.inflight[name] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	if v, ok := s.shared[name]; ok {
		s.mu.Unlock()
		return v, nil
	}
	s.mu.Unlock()

	v, err := s.create(ctx, name, reg)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.shared[name] = v
	s.mu.Unlock()
	return v, nil
}

func (s *Scope) create(ctx context.Context, name string, reg registration) (interface{}, error) {
	v, err := reg.provider(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("create %q: %w", name, err)
	}
	if !reg.external {
		if err := s.Own(name, v); err != nil {
			// the scope closed while the provider ran; dispose the orphan right away
			return nil, errors.Join(err, dispose(owned{name: name, value: v}))
		}
	}
	return v, nil
}

func dispose(o owned) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("dispose %q: panic: %v", o.name, rec)
		}
	}()
	switch v := o.value.(type) {
	case io.Closer:
		if cerr := v.Close(); cerr != nil {
			return fmt.Errorf("dispose %q: %w", o.name, cerr)
		}
	case func() error:
		if cerr := v(); cerr != nil {
			return fmt.Errorf("dispose %q: %w", o.name, cerr)
		}
	}
	return nil
}

// Get resolves name from s and asserts its type.
func Get[T any](ctx context.Context, s *Scope, name string) (T, error) {
	var zero T
	v, err := s.Resolve(ctx, name)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("resolve %q: got %T, want %T", name, v, zero)
	}
	return typed, nil
}
