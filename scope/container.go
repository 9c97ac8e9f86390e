package scope

import (
	"context"
	"fmt"
	"sync"
)

// Provider creates a dependency. The scope passed in is the one that will own the value,
// so providers may resolve their own dependencies from it.
type Provider func(ctx context.Context, s *Scope) (interface{}, error)

type lifetimeKind int

const (
	lifetimeTransient lifetimeKind = iota
	lifetimeSingle
	lifetimeScoped
)

// Lifetime binds a registration to the scope that owns its instances.
type Lifetime struct {
	kind  lifetimeKind
	level Level
}

var (
	// Transient creates a new instance per resolution, owned by the resolving scope.
	Transient = Lifetime{kind: lifetimeTransient}
	// SingleInstance creates one instance per run, owned by the global scope.
	SingleInstance = Lifetime{kind: lifetimeSingle, level: LevelGlobal}
)

// PerScope creates one instance per enclosing scope of the given level.
func PerScope(level Level) Lifetime {
	return Lifetime{kind: lifetimeScoped, level: level}
}

func (l Lifetime) String() string {
	switch l.kind {
	case lifetimeTransient:
		return "transient"
	case lifetimeSingle:
		return "single-instance"
	default:
		return fmt.Sprintf("per-%s", l.level)
	}
}

type registration struct {
	lifetime Lifetime
	provider Provider
	external bool
}

// Container holds the dependency registrations shared by every scope of a run.
type Container struct {
	mu            sync.RWMutex
	registrations map[string]registration
}

// NewContainer creates an empty container.
func NewContainer() *Container {
	return &Container{registrations: make(map[string]registration)}
}

// Register adds a provider under name. Registering a name twice replaces the previous provider.
func (c *Container) Register(name string, lifetime Lifetime, provider Provider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registrations[name] = registration{lifetime: lifetime, provider: provider}
}

// RegisterInstance registers an existing value. The container never disposes it.
func (c *Container) RegisterInstance(name string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registrations[name] = registration{
		lifetime: SingleInstance,
		provider: func(context.Context, *Scope) (interface{}, error) { return value, nil },
		external: true,
	}
}

// Has reports whether name is registered.
func (c *Container) Has(name string) bool {
	_, ok := c.lookup(name)
	return ok
}

func (c *Container) lookup(name string) (registration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	reg, ok := c.registrations[name]
	return reg, ok
}
