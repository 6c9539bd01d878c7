package admission_test

import (
	"strings"
	"testing"
	"time"

	"github.com/serroba/admission-go/internal/admission"
	"github.com/serroba/admission-go/internal/decision"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequest_Key(t *testing.T) {
	t.Run("stable and sensitive to parts", func(t *testing.T) {
		req := admission.Request{Prefix: "order", Parts: []string{"user:42", "amount:100"}}

		first, err := req.Key()
		require.NoError(t, err)

		second, err := req.Key()
		require.NoError(t, err)

		assert.Equal(t, first, second)

		changed, err := req.WithParts("user:42", "amount:101").Key()
		require.NoError(t, err)
		assert.NotEqual(t, first, changed)
	})

	t.Run("hashed parts do not leak", func(t *testing.T) {
		req := admission.Request{Prefix: "order", Parts: []string{"card=4111111111111111"}, HashParts: true}

		key, err := req.Key()
		require.NoError(t, err)

		assert.True(t, strings.HasPrefix(key, "order:"))
		assert.NotContains(t, key, "4111")
	})

	t.Run("with parts copies", func(t *testing.T) {
		parts := []string{"a"}
		req := admission.Request{Prefix: "p"}.WithParts(parts...)
		parts[0] = "b"

		assert.Equal(t, []string{"a"}, req.Parts)
	})
}

func TestRequest_Validate(t *testing.T) {
	valid := admission.Request{
		Mode:   decision.ModeIdempotency,
		Prefix: "p",
		Parts:  []string{"a"},
		TTL:    time.Second,
	}

	require.NoError(t, valid.Validate())

	invalid := valid
	invalid.TTL = -time.Second

	require.ErrorIs(t, invalid.Validate(), admission.ErrInvalidRequest)
}
