// Package decision holds the vocabulary shared by the admission components:
// the outcome of an admission check, why it was rejected, and the hooks that
// observe it.
package decision

// Mode selects which admission mechanism guards a call.
type Mode string

const (
	// ModeIdempotency admits a logical operation at most once per dedup window.
	ModeIdempotency Mode = "idempotency"
	// ModeRateLimit admits calls within a bounded rate.
	ModeRateLimit Mode = "ratelimit"
)

// Reason explains a rejection. It is empty for allowed decisions.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonDuplicate          Reason = "duplicate"
	ReasonRateExceeded       Reason = "rate-exceeded"
	ReasonBackendUnavailable Reason = "backend-unavailable"
	ReasonTokenExpired       Reason = "token-expired"
)

// Decision is the uniform result of an admission check.
type Decision struct {
	Allowed bool
	Reason  Reason
	// Degraded is set when the decision was taken by the failure policy
	// because the shared store could not be consulted.
	Degraded bool
}

// Allow returns an allowing decision.
func Allow() Decision {
	return Decision{Allowed: true}
}

// Reject returns a rejecting decision with the given reason.
func Reject(reason Reason) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Degrade returns the decision taken without consulting the store.
func Degrade(allowed bool) Decision {
	if allowed {
		return Decision{Allowed: true, Degraded: true}
	}

	return Decision{Allowed: false, Reason: ReasonBackendUnavailable, Degraded: true}
}

func (d Decision) String() string {
	if d.Allowed {
		if d.Degraded {
			return "allow (degraded)"
		}

		return "allow"
	}

	return "reject: " + string(d.Reason)
}
