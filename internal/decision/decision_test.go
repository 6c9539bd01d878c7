package decision_test

import (
	"context"
	"errors"
	"testing"

	"github.com/serroba/admission-go/internal/decision"
	"github.com/stretchr/testify/assert"
)

type recordingObserver struct {
	events   []decision.Event
	failures []string
}

func (r *recordingObserver) OnDecision(_ context.Context, event decision.Event) {
	r.events = append(r.events, event)
}

func (r *recordingObserver) OnBackendFailure(_ context.Context, op string, _ error) {
	r.failures = append(r.failures, op)
}

func TestDecision(t *testing.T) {
	t.Run("allow has no reason", func(t *testing.T) {
		d := decision.Allow()

		assert.True(t, d.Allowed)
		assert.Equal(t, decision.ReasonNone, d.Reason)
		assert.Equal(t, "allow", d.String())
	})

	t.Run("reject carries reason", func(t *testing.T) {
		d := decision.Reject(decision.ReasonDuplicate)

		assert.False(t, d.Allowed)
		assert.Equal(t, "reject: duplicate", d.String())
	})

	t.Run("degraded decisions", func(t *testing.T) {
		open := decision.Degrade(true)
		closed := decision.Degrade(false)

		assert.True(t, open.Allowed)
		assert.True(t, open.Degraded)
		assert.Equal(t, "allow (degraded)", open.String())
		assert.False(t, closed.Allowed)
		assert.Equal(t, decision.ReasonBackendUnavailable, closed.Reason)
	})
}

func TestObservers(t *testing.T) {
	first := &recordingObserver{}
	second := &recordingObserver{}
	obs := decision.Observers{first, decision.Nop{}, second}

	obs.OnDecision(context.Background(), decision.Event{Key: "k"})
	obs.OnBackendFailure(context.Background(), "try_acquire", errors.New("boom"))

	for _, r := range []*recordingObserver{first, second} {
		assert.Len(t, r.events, 1)
		assert.Equal(t, "k", r.events[0].Key)
		assert.Equal(t, []string{"try_acquire"}, r.failures)
	}
}
