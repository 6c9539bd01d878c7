package keys

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrUnknownGenerator   = errors.New("unknown key generator")
	ErrAmbiguousGenerator = errors.New("key generator name required: more than one generator registered")
	ErrDuplicateGenerator = errors.New("key generator already registered")
	ErrNoGenerators       = errors.New("no key generators registered")
)

// Call is the input of a key strategy: the logical operation name and its
// ordered arguments.
type Call struct {
	Method string
	Args   []any
}

// Strategy turns a call into the ordered key parts handed to Build.
type Strategy interface {
	Parts(ctx context.Context, call Call) ([]string, error)
}

// ArgsStrategy keys a call by its method and the JSON serialization of its
// arguments. Map keys are serialized in sorted order, so logically equal
// arguments produce equal parts.
type ArgsStrategy struct{}

// NewArgsStrategy creates an argument-serializing strategy.
func NewArgsStrategy() *ArgsStrategy {
	return &ArgsStrategy{}
}

func (s *ArgsStrategy) Parts(_ context.Context, call Call) ([]string, error) {
	serialized := make([]string, 0, len(call.Args))

	for i, arg := range call.Args {
		b, err := json.Marshal(arg)
		if err != nil {
			return nil, fmt.Errorf("serialize argument %d: %w", i, err)
		}

		serialized = append(serialized, string(b))
	}

	return []string{call.Method, Digest(serialized...)}, nil
}

// Generator produces key parts for a call.
type Generator func(ctx context.Context, call Call) ([]string, error)

// Registry holds named custom generators.
type Registry struct {
	mu         sync.RWMutex
	generators map[string]Generator
}

// NewRegistry creates an empty generator registry.
func NewRegistry() *Registry {
	return &Registry{generators: make(map[string]Generator)}
}

// Register adds a generator under name.
func (r *Registry) Register(name string, gen Generator) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.generators[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateGenerator, name)
	}

	r.generators[name] = gen

	return nil
}

// Resolve returns the generator registered under name. An empty name is only
// accepted when exactly one generator is registered.
func (r *Registry) Resolve(name string) (Generator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name != "" {
		gen, ok := r.generators[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownGenerator, name)
		}

		return gen, nil
	}

	switch len(r.generators) {
	case 0:
		return nil, ErrNoGenerators
	case 1:
		for _, gen := range r.generators {
			return gen, nil
		}
	}

	return nil, fmt.Errorf("%w (have %v)", ErrAmbiguousGenerator, r.names())
}

func (r *Registry) names() []string {
	names := make([]string, 0, len(r.generators))
	for name := range r.generators {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// CustomStrategy delegates to a registered generator.
type CustomStrategy struct {
	gen Generator
}

// NewCustomStrategy resolves name in the registry once, at setup.
func NewCustomStrategy(registry *Registry, name string) (*CustomStrategy, error) {
	gen, err := registry.Resolve(name)
	if err != nil {
		return nil, err
	}

	return &CustomStrategy{gen: gen}, nil
}

func (s *CustomStrategy) Parts(ctx context.Context, call Call) ([]string, error) {
	return s.gen(ctx, call)
}
