package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/serroba/admission-go/internal/admission"
	"github.com/serroba/admission-go/internal/decision"
	"github.com/serroba/admission-go/internal/keys"
	"github.com/serroba/admission-go/internal/ratelimit"
	"gopkg.in/yaml.v3"
)

const (
	DefaultIdempotencyPolicy = "default-idempotency"
	DefaultRateLimitPolicy   = "default-ratelimit"
)

var ErrUnknownPolicy = errors.New("unknown admission policy")

// KeySource selects how a policy turns request input into key parts.
type KeySource string

const (
	// KeySourceParts uses the supplied parts as they are.
	KeySourceParts KeySource = "parts"
	// KeySourceArgs hashes the JSON form of the arguments.
	KeySourceArgs KeySource = "args"
	// KeySourceExpression evaluates a CEL expression over the arguments.
	KeySourceExpression KeySource = "expression"
	// KeySourceCustom delegates to a registered generator.
	KeySourceCustom KeySource = "custom"
)

// KeyConfig configures key derivation of a policy.
type KeyConfig struct {
	Source     KeySource `yaml:"source"`
	Expression string    `yaml:"expression,omitempty"`
	Generator  string    `yaml:"generator,omitempty"`
}

// Policy is a named admission configuration.
type Policy struct {
	Name   string        `yaml:"name"`
	Mode   decision.Mode `yaml:"mode"`
	Prefix string        `yaml:"prefix"`
	// HashParts stores a digest of the key parts.
	HashParts bool      `yaml:"hashParts"`
	Key       KeyConfig `yaml:"key"`

	TTL                  time.Duration `yaml:"ttl"`
	DeleteAfterExecution bool          `yaml:"deleteAfterExecution"`

	Limit     int64               `yaml:"limit"`
	Window    time.Duration       `yaml:"window"`
	Algorithm ratelimit.Algorithm `yaml:"algorithm"`
}

// Request returns the admission request for parts.
func (p Policy) Request(parts ...string) admission.Request {
	return admission.Request{
		Policy:               p.Name,
		Mode:                 p.Mode,
		Prefix:               p.Prefix,
		Parts:                append([]string(nil), parts...),
		HashParts:            p.HashParts,
		TTL:                  p.TTL,
		DeleteAfterExecution: p.DeleteAfterExecution,
		Limit:                p.Limit,
		Window:               p.Window,
		Algorithm:            p.Algorithm,
	}
}

// Strategy returns the key strategy of the policy, or nil when parts are
// used as supplied.
func (p Policy) Strategy(registry *keys.Registry) (keys.Strategy, error) {
	switch p.Key.Source {
	case "", KeySourceParts:
		return nil, nil
	case KeySourceArgs:
		return keys.NewArgsStrategy(), nil
	case KeySourceExpression:
		return keys.NewExpressionStrategy(p.Key.Expression)
	case KeySourceCustom:
		if registry == nil {
			return nil, fmt.Errorf("policy %q: %w", p.Name, keys.ErrNoGenerators)
		}

		return keys.NewCustomStrategy(registry, p.Key.Generator)
	default:
		return nil, fmt.Errorf("policy %q: unknown key source %q", p.Name, p.Key.Source)
	}
}

func (p Policy) inherit(defaults Policy) Policy {
	if p.Prefix == "" {
		p.Prefix = p.Name
	}

	if p.TTL == 0 {
		p.TTL = defaults.TTL
	}

	if p.Limit == 0 {
		p.Limit = defaults.Limit
	}

	if p.Window == 0 {
		p.Window = defaults.Window
	}

	if p.Algorithm == "" {
		p.Algorithm = defaults.Algorithm
	}

	return p
}

// Validate reports whether the policy yields valid requests.
func (p Policy) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: policy without a name", ErrInvalidConfiguration)
	}

	if err := p.Request("validate").Validate(); err != nil {
		return fmt.Errorf("%w: policy %q: %w", ErrInvalidConfiguration, p.Name, err)
	}

	return nil
}

// Policies is a validated set of named policies with their key strategies.
type Policies struct {
	byName     map[string]Policy
	strategies map[string]keys.Strategy
}

type policyFile struct {
	Policies []Policy `yaml:"policies"`
}

// LoadPolicies reads named policies from a YAML file. An empty path yields
// only the built-in policies.
func LoadPolicies(path string, options *Options, registry *keys.Registry) (*Policies, error) {
	if path == "" {
		return ParsePolicies(nil, options, registry)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read policies: %w", ErrInvalidConfiguration, err)
	}

	return ParsePolicies(data, options, registry)
}

// ParsePolicies decodes YAML policies. Unset fields inherit the option
// defaults, and the built-in policies are added unless redefined.
func ParsePolicies(data []byte, options *Options, registry *keys.Registry) (*Policies, error) {
	var file policyFile

	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("%w: decode policies: %w", ErrInvalidConfiguration, err)
		}
	}

	defaults := options.Defaults()
	set := &Policies{
		byName:     make(map[string]Policy),
		strategies: make(map[string]keys.Strategy),
	}

	builtin := []Policy{
		{Name: DefaultIdempotencyPolicy, Mode: decision.ModeIdempotency, DeleteAfterExecution: defaults.DeleteAfterExecution},
		{Name: DefaultRateLimitPolicy, Mode: decision.ModeRateLimit},
	}

	for _, p := range append(builtin, file.Policies...) {
		p = p.inherit(defaults)
		if err := p.Validate(); err != nil {
			return nil, err
		}

		strategy, err := p.Strategy(registry)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
		}

		set.byName[p.Name] = p

		if strategy != nil {
			set.strategies[p.Name] = strategy
		} else {
			delete(set.strategies, p.Name)
		}
	}

	return set, nil
}

// Get returns the named policy.
func (s *Policies) Get(name string) (Policy, error) {
	p, ok := s.byName[name]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}

	return p, nil
}

// Names returns the policy names in sorted order.
func (s *Policies) Names() []string {
	names := make([]string, 0, len(s.byName))
	for name := range s.byName {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

// Resolve builds the request of policy name. Policies with a key strategy
// derive their parts from args; the others use parts.
func (s *Policies) Resolve(ctx context.Context, name string, parts []string, args []any) (admission.Request, error) {
	p, err := s.Get(name)
	if err != nil {
		return admission.Request{}, err
	}

	strategy, ok := s.strategies[name]
	if !ok {
		return p.Request(parts...), nil
	}

	derived, err := strategy.Parts(ctx, keys.Call{Method: name, Args: args})
	if err != nil {
		return admission.Request{}, fmt.Errorf("%w: %w", admission.ErrInvalidRequest, err)
	}

	return p.Request(append(append([]string(nil), parts...), derived...)...), nil
}
