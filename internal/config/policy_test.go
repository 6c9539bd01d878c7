package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/serroba/admission-go/internal/admission"
	"github.com/serroba/admission-go/internal/config"
	"github.com/serroba/admission-go/internal/decision"
	"github.com/serroba/admission-go/internal/keys"
	"github.com/serroba/admission-go/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const policiesYAML = `
policies:
  - name: orders
    mode: idempotency
    prefix: order
    ttl: 10m
    deleteAfterExecution: true
  - name: login
    mode: ratelimit
    limit: 5
    window: 1m
    algorithm: token-bucket
  - name: payments
    mode: idempotency
    key:
      source: expression
      expression: "[string(args[0].account), string(args[0].ref)]"
`

func TestParsePolicies(t *testing.T) {
	t.Run("always includes built-in policies", func(t *testing.T) {
		set, err := config.ParsePolicies(nil, validOptions(), nil)

		require.NoError(t, err)
		assert.Equal(t, []string{config.DefaultIdempotencyPolicy, config.DefaultRateLimitPolicy}, set.Names())

		p, err := set.Get(config.DefaultRateLimitPolicy)
		require.NoError(t, err)
		assert.Equal(t, decision.ModeRateLimit, p.Mode)
		assert.Equal(t, int64(100), p.Limit)
		assert.Equal(t, time.Minute, p.Window)
		assert.Equal(t, config.DefaultRateLimitPolicy, p.Prefix)
	})

	t.Run("decodes policies and inherits defaults", func(t *testing.T) {
		set, err := config.ParsePolicies([]byte(policiesYAML), validOptions(), nil)
		require.NoError(t, err)

		orders, err := set.Get("orders")
		require.NoError(t, err)
		assert.Equal(t, "order", orders.Prefix)
		assert.Equal(t, 10*time.Minute, orders.TTL)
		assert.True(t, orders.DeleteAfterExecution)

		login, err := set.Get("login")
		require.NoError(t, err)
		assert.Equal(t, int64(5), login.Limit)
		assert.Equal(t, ratelimit.AlgorithmTokenBucket, login.Algorithm)

		payments, err := set.Get("payments")
		require.NoError(t, err)
		assert.Equal(t, time.Minute, payments.TTL)
	})

	t.Run("rejects invalid policies", func(t *testing.T) {
		tests := map[string]string{
			"unknown mode":       "policies:\n  - name: x\n    mode: queue\n",
			"negative ttl":       "policies:\n  - name: x\n    mode: idempotency\n    ttl: -1s\n",
			"missing name":       "policies:\n  - mode: ratelimit\n",
			"bad expression":     "policies:\n  - name: x\n    mode: idempotency\n    key:\n      source: expression\n      expression: \"args[\"\n",
			"unknown key source": "policies:\n  - name: x\n    mode: idempotency\n    key:\n      source: header\n",
			"malformed yaml":     "policies: [",
		}

		for name, doc := range tests {
			t.Run(name, func(t *testing.T) {
				_, err := config.ParsePolicies([]byte(doc), validOptions(), nil)

				require.ErrorIs(t, err, config.ErrInvalidConfiguration)
			})
		}
	})
}

func TestLoadPolicies(t *testing.T) {
	t.Run("reads a file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "policies.yaml")
		require.NoError(t, os.WriteFile(path, []byte(policiesYAML), 0o600))

		set, err := config.LoadPolicies(path, validOptions(), nil)

		require.NoError(t, err)
		assert.Len(t, set.Names(), 5)
	})

	t.Run("empty path yields built-ins", func(t *testing.T) {
		set, err := config.LoadPolicies("", validOptions(), nil)

		require.NoError(t, err)
		assert.Len(t, set.Names(), 2)
	})

	t.Run("missing file is a configuration error", func(t *testing.T) {
		_, err := config.LoadPolicies(filepath.Join(t.TempDir(), "nope.yaml"), validOptions(), nil)

		require.ErrorIs(t, err, config.ErrInvalidConfiguration)
	})
}

func TestPolicies_Resolve(t *testing.T) {
	ctx := context.Background()

	t.Run("uses parts as supplied", func(t *testing.T) {
		set, err := config.ParsePolicies([]byte(policiesYAML), validOptions(), nil)
		require.NoError(t, err)

		req, err := set.Resolve(ctx, "orders", []string{"42"}, nil)

		require.NoError(t, err)
		assert.Equal(t, "orders", req.Policy)
		assert.Equal(t, []string{"42"}, req.Parts)

		key, err := req.Key()
		require.NoError(t, err)
		assert.Equal(t, "order:42", key)
	})

	t.Run("derives parts from args with an expression", func(t *testing.T) {
		set, err := config.ParsePolicies([]byte(policiesYAML), validOptions(), nil)
		require.NoError(t, err)

		req, err := set.Resolve(ctx, "payments", []string{"tenant-1"}, []any{
			map[string]any{"account": "acc-7", "ref": "r-1"},
		})

		require.NoError(t, err)
		assert.Equal(t, []string{"tenant-1", "acc-7", "r-1"}, req.Parts)
	})

	t.Run("expression failure is an invalid request", func(t *testing.T) {
		set, err := config.ParsePolicies([]byte(policiesYAML), validOptions(), nil)
		require.NoError(t, err)

		_, err = set.Resolve(ctx, "payments", nil, nil)

		require.ErrorIs(t, err, admission.ErrInvalidRequest)
	})

	t.Run("custom generator from the registry", func(t *testing.T) {
		registry := keys.NewRegistry()
		require.NoError(t, registry.Register("first-arg", func(_ context.Context, call keys.Call) ([]string, error) {
			return []string{call.Method, "fixed"}, nil
		}))

		doc := "policies:\n  - name: custom\n    mode: ratelimit\n    key:\n      source: custom\n"
		set, err := config.ParsePolicies([]byte(doc), validOptions(), registry)
		require.NoError(t, err)

		req, err := set.Resolve(ctx, "custom", nil, []any{"ignored"})

		require.NoError(t, err)
		assert.Equal(t, []string{"custom", "fixed"}, req.Parts)
	})

	t.Run("custom source without registry fails at load", func(t *testing.T) {
		doc := "policies:\n  - name: custom\n    mode: ratelimit\n    key:\n      source: custom\n"

		_, err := config.ParsePolicies([]byte(doc), validOptions(), nil)

		require.ErrorIs(t, err, config.ErrInvalidConfiguration)
	})

	t.Run("unknown policy", func(t *testing.T) {
		set, err := config.ParsePolicies(nil, validOptions(), nil)
		require.NoError(t, err)

		_, err = set.Resolve(ctx, "missing", []string{"a"}, nil)

		require.ErrorIs(t, err, config.ErrUnknownPolicy)
	})
}
