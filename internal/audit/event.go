// Package audit publishes admission decisions to a Redis stream and persists
// them from a consumer group.
package audit

import (
	"time"

	"github.com/serroba/admission-go/internal/decision"
)

// TopicAdmissionDecided carries one message per admission decision.
const TopicAdmissionDecided = "admission.decided"

// AdmissionEvent is the payload published for every decision.
type AdmissionEvent struct {
	ID        string    `json:"id"`
	Policy    string    `json:"policy"`
	Mode      string    `json:"mode"`
	Key       string    `json:"key"`
	Allowed   bool      `json:"allowed"`
	Reason    string    `json:"reason,omitempty"`
	Degraded  bool      `json:"degraded"`
	RequestID string    `json:"requestId,omitempty"`
	ClientIP  string    `json:"clientIp,omitempty"`
	At        time.Time `json:"at"`
}

// Decision returns the decision the event describes.
func (e *AdmissionEvent) Decision() decision.Decision {
	return decision.Decision{
		Allowed:  e.Allowed,
		Reason:   decision.Reason(e.Reason),
		Degraded: e.Degraded,
	}
}
