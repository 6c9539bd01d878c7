package handlers

// DecisionBody is the JSON form of an admission decision.
type DecisionBody struct {
	Allowed  bool   `doc:"Whether the call is admitted"                              json:"allowed"`
	Reason   string `doc:"Why the call was rejected"       example:"duplicate"       json:"reason,omitempty"`
	Degraded bool   `doc:"Decided by the failure policy without consulting the store" json:"degraded"`
}

// PolicyRequest names a policy and the input its key is built from.
type PolicyRequest struct {
	Body struct {
		Policy string   `doc:"Admission policy name"                           example:"orders" json:"policy"          minLength:"1"`
		Parts  []string `doc:"Key parts, most significant first"               json:"parts,omitempty"`
		Args   []any    `doc:"Call arguments for policies with a key strategy" json:"args,omitempty"`
	}
}

// AdmitRequest is the request body of an admission check.
type AdmitRequest struct {
	Body struct {
		Policy  string   `doc:"Admission policy name"                            example:"orders" json:"policy"          minLength:"1"`
		Parts   []string `doc:"Key parts, most significant first"                json:"parts,omitempty"`
		Args    []any    `doc:"Call arguments for policies with a key strategy"  json:"args,omitempty"`
		Enforce bool     `doc:"Answer rejections with an error status instead of 200" json:"enforce,omitempty"`
	}
}

// AdmitResponse carries the decision and the key it was taken on.
type AdmitResponse struct {
	Body struct {
		DecisionBody
		Key string `doc:"The admission key" example:"orders:42" json:"key"`
	}
}

// ReleaseResponse reports whether a lease was removed.
type ReleaseResponse struct {
	Body struct {
		Released bool   `doc:"Whether a lease was removed" json:"released"`
		Key      string `doc:"The admission key"           json:"key"`
	}
}

// ProbeResponse reports whether a lease exists.
type ProbeResponse struct {
	Body struct {
		Exists bool   `doc:"Whether a lease exists" json:"exists"`
		Key    string `doc:"The admission key"      json:"key"`
	}
}

// IssueTokenRequest is the request body for issuing an idempotency token.
type IssueTokenRequest struct {
	Body struct {
		BusinessKey string `doc:"Business key the token is bound to" example:"order-42" json:"businessKey" minLength:"1"`
	}
}

// IssueTokenResponse is the response for a newly issued token.
type IssueTokenResponse struct {
	Location string `doc:"The token resource" header:"Location"`
	Body     struct {
		Token string `doc:"The idempotency token" example:"order-42.1767225600000.V1StGXR8_Z5jdHi6B-myT" json:"token"`
	}
}

// TokenRequest addresses an issued token.
type TokenRequest struct {
	Token      string `doc:"The idempotency token"                         path:"token"`
	TTLSeconds int    `doc:"Maximum token age in seconds, 0 uses the default" query:"ttlSeconds" minimum:"0"`
}

// TokenDecisionResponse carries the decision on a token.
type TokenDecisionResponse struct {
	Body DecisionBody
}
