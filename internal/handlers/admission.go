package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/admission-go/internal/admission"
	"github.com/serroba/admission-go/internal/config"
	"github.com/serroba/admission-go/internal/decision"
	"github.com/serroba/admission-go/internal/idempotency"
	"github.com/serroba/admission-go/internal/middleware"
	"go.uber.org/zap"
)

// Gateway is the admission entry point the handlers call.
type Gateway interface {
	Admit(ctx context.Context, req admission.Request) (decision.Decision, error)
	Release(ctx context.Context, req admission.Request) (bool, error)
	Probe(ctx context.Context, req admission.Request) (bool, error)
}

// PolicyResolver turns a named policy and its input into a request.
type PolicyResolver interface {
	Resolve(ctx context.Context, name string, parts []string, args []any) (admission.Request, error)
}

// AdmissionHandler exposes the admission gateway over HTTP.
type AdmissionHandler struct {
	gateway  Gateway
	policies PolicyResolver
	logger   *zap.Logger
}

// NewAdmissionHandler creates a new admission handler.
func NewAdmissionHandler(gateway Gateway, policies PolicyResolver, logger *zap.Logger) *AdmissionHandler {
	return &AdmissionHandler{gateway: gateway, policies: policies, logger: logger}
}

func (h *AdmissionHandler) resolve(ctx context.Context, policy string, parts []string, args []any) (admission.Request, string, error) {
	req, err := h.policies.Resolve(ctx, policy, parts, args)
	if err != nil {
		return admission.Request{}, "", h.toHTTPError(err)
	}

	key, err := req.Key()
	if err != nil {
		return admission.Request{}, "", h.toHTTPError(err)
	}

	return req, key, nil
}

// Admit runs one admission check.
func (h *AdmissionHandler) Admit(ctx context.Context, in *AdmitRequest) (*AdmitResponse, error) {
	req, key, err := h.resolve(ctx, in.Body.Policy, in.Body.Parts, in.Body.Args)
	if err != nil {
		return nil, err
	}

	d, err := h.gateway.Admit(ctx, req)
	if err != nil {
		return nil, h.toHTTPError(err)
	}

	if in.Body.Enforce && !d.Allowed {
		return nil, huma.NewError(middleware.RejectionStatus(d), "admission rejected: "+string(d.Reason))
	}

	resp := &AdmitResponse{}
	resp.Body.DecisionBody = decisionBody(d)
	resp.Body.Key = key

	return resp, nil
}

// Release removes the lease of an idempotency policy.
func (h *AdmissionHandler) Release(ctx context.Context, in *PolicyRequest) (*ReleaseResponse, error) {
	req, key, err := h.resolve(ctx, in.Body.Policy, in.Body.Parts, in.Body.Args)
	if err != nil {
		return nil, err
	}

	released, err := h.gateway.Release(ctx, req)
	if err != nil {
		return nil, h.toHTTPError(err)
	}

	resp := &ReleaseResponse{}
	resp.Body.Released = released
	resp.Body.Key = key

	return resp, nil
}

// Probe reports whether the lease of an idempotency policy exists.
func (h *AdmissionHandler) Probe(ctx context.Context, in *PolicyRequest) (*ProbeResponse, error) {
	req, key, err := h.resolve(ctx, in.Body.Policy, in.Body.Parts, in.Body.Args)
	if err != nil {
		return nil, err
	}

	exists, err := h.gateway.Probe(ctx, req)
	if err != nil {
		return nil, h.toHTTPError(err)
	}

	resp := &ProbeResponse{}
	resp.Body.Exists = exists
	resp.Body.Key = key

	return resp, nil
}

func (h *AdmissionHandler) toHTTPError(err error) error {
	switch {
	case errors.Is(err, config.ErrUnknownPolicy):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, admission.ErrInvalidRequest), errors.Is(err, admission.ErrUnsupported):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, idempotency.ErrOutcomeUnknown),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return huma.Error503ServiceUnavailable("admission outcome unknown, probe before retrying")
	default:
		h.logger.Error("admission request failed", zap.Error(err))

		return huma.Error500InternalServerError("admission failed")
	}
}

func decisionBody(d decision.Decision) DecisionBody {
	return DecisionBody{Allowed: d.Allowed, Reason: string(d.Reason), Degraded: d.Degraded}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
