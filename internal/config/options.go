// Package config holds the service options bound by humacli and the named
// admission policies loaded from YAML.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/serroba/admission-go/internal/ratelimit"
	"github.com/serroba/admission-go/internal/store"
)

var ErrInvalidConfiguration = errors.New("invalid configuration")

// Backend selects where admission state lives.
type Backend string

const (
	// BackendShared keeps state in Redis, shared by every instance.
	BackendShared Backend = "shared"
	// BackendLocal keeps state in process memory.
	BackendLocal Backend = "local"
)

// LogFormat selects the zap encoder.
type LogFormat string

const (
	LogFormatConsole LogFormat = "console"
	LogFormatJSON    LogFormat = "json"
)

// Options is bound from flags and SERVICE_* environment variables.
type Options struct {
	Port      int    `default:"8888"    help:"Port to listen on"                   short:"p"`
	LogFormat string `default:"console" help:"Log format: console or json"`

	Backend         string `default:"shared"         help:"Admission state backend: shared or local"`
	RedisAddr       string `default:"localhost:6379" help:"Redis server address"                          short:"r"`
	StoreTimeoutMs  int    `default:"100"            help:"Per-call timeout for the shared store in ms"`
	BreakerFailures int    `default:"5"              help:"Consecutive store failures that open the breaker, 0 disables it"`
	SweepSeconds    int    `default:"30"             help:"Expired entry sweep interval of local state"`

	TTLSeconds                int    `default:"60"          help:"Default idempotency lease ttl in seconds"`
	DeleteLeaseAfterExecution bool   `default:"false"       help:"Release idempotency leases once the operation finishes"`
	Limit                     int    `default:"100"         help:"Default rate limit per window"`
	WindowSeconds             int    `default:"60"          help:"Default rate limit window in seconds"`
	Algorithm                 string `default:"fixed-window" help:"Default rate limit algorithm: fixed-window or token-bucket"`
	FailurePolicy             string `default:"fail-open"   help:"Behaviour when the shared store is unreachable: fail-open or fail-closed"`

	Policies string `default:"" help:"Path to a YAML file of named admission policies"`

	Audit       bool   `default:"false" help:"Publish every decision to the audit stream"`
	DatabaseURL string `default:""      help:"PostgreSQL URL of the audit store, empty logs events instead"`
}

// Validate fails on values the service cannot start with.
func (o *Options) Validate() error {
	var errs []error

	if o.Port <= 0 || o.Port > 65535 {
		errs = append(errs, fmt.Errorf("port out of range: %d", o.Port))
	}

	switch Backend(o.Backend) {
	case BackendShared:
		if o.RedisAddr == "" {
			errs = append(errs, errors.New("redis-addr is required for the shared backend"))
		}
	case BackendLocal:
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", o.Backend))
	}

	switch LogFormat(o.LogFormat) {
	case LogFormatConsole, LogFormatJSON:
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", o.LogFormat))
	}

	if o.StoreTimeoutMs <= 0 {
		errs = append(errs, fmt.Errorf("store timeout must be positive, got %dms", o.StoreTimeoutMs))
	}

	if o.BreakerFailures < 0 {
		errs = append(errs, fmt.Errorf("breaker failures must not be negative, got %d", o.BreakerFailures))
	}

	if o.SweepSeconds <= 0 {
		errs = append(errs, fmt.Errorf("sweep interval must be positive, got %ds", o.SweepSeconds))
	}

	if o.TTLSeconds <= 0 {
		errs = append(errs, fmt.Errorf("ttl must be positive, got %ds", o.TTLSeconds))
	}

	if o.Limit <= 0 {
		errs = append(errs, fmt.Errorf("limit must be positive, got %d", o.Limit))
	}

	if o.WindowSeconds <= 0 {
		errs = append(errs, fmt.Errorf("window must be positive, got %ds", o.WindowSeconds))
	}

	if _, err := ratelimit.ParseAlgorithm(o.Algorithm); err != nil {
		errs = append(errs, err)
	}

	if _, err := store.ParseFailurePolicy(o.FailurePolicy); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}

	return nil
}

// StoreTimeout is the per-call deadline of the shared store.
func (o *Options) StoreTimeout() time.Duration {
	return time.Duration(o.StoreTimeoutMs) * time.Millisecond
}

// SweepInterval is the period of the local expiry sweepers.
func (o *Options) SweepInterval() time.Duration {
	return time.Duration(o.SweepSeconds) * time.Second
}

// Policy returns the configured failure policy. Call after Validate.
func (o *Options) Policy() store.FailurePolicy {
	p, _ := store.ParseFailurePolicy(o.FailurePolicy)

	return p
}

// Defaults returns the policy values unset YAML fields inherit.
func (o *Options) Defaults() Policy {
	algorithm, _ := ratelimit.ParseAlgorithm(o.Algorithm)

	return Policy{
		TTL:                  time.Duration(o.TTLSeconds) * time.Second,
		DeleteAfterExecution: o.DeleteLeaseAfterExecution,
		Limit:                int64(o.Limit),
		Window:               time.Duration(o.WindowSeconds) * time.Second,
		Algorithm:            algorithm,
	}
}
