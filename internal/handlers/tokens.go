package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/admission-go/internal/decision"
	"github.com/serroba/admission-go/internal/idempotency"
	"github.com/serroba/admission-go/internal/middleware"
	"go.uber.org/zap"
)

// TokenIssuer is the token half of the idempotency guard.
type TokenIssuer interface {
	IssueToken(ctx context.Context, businessKey string) (string, error)
	CheckToken(ctx context.Context, token string, ttl time.Duration) (decision.Decision, error)
	ConsumeToken(ctx context.Context, token string) (decision.Decision, error)
}

// TokenHandler issues and redeems idempotency tokens.
type TokenHandler struct {
	tokens TokenIssuer
	logger *zap.Logger
}

// NewTokenHandler creates a new token handler.
func NewTokenHandler(tokens TokenIssuer, logger *zap.Logger) *TokenHandler {
	return &TokenHandler{tokens: tokens, logger: logger}
}

// Issue creates a token for a business key.
func (h *TokenHandler) Issue(ctx context.Context, in *IssueTokenRequest) (*IssueTokenResponse, error) {
	token, err := h.tokens.IssueToken(ctx, in.Body.BusinessKey)
	if err != nil {
		return nil, h.toHTTPError(err)
	}

	resp := &IssueTokenResponse{}
	resp.Location = "/v1/tokens/" + token
	resp.Body.Token = token

	return resp, nil
}

// Check reports whether a token is still redeemable without consuming it.
func (h *TokenHandler) Check(ctx context.Context, in *TokenRequest) (*TokenDecisionResponse, error) {
	d, err := h.tokens.CheckToken(ctx, in.Token, seconds(in.TTLSeconds))
	if err != nil {
		return nil, h.toHTTPError(err)
	}

	return &TokenDecisionResponse{Body: decisionBody(d)}, nil
}

// Consume redeems a token. Only the first consumer succeeds.
func (h *TokenHandler) Consume(ctx context.Context, in *TokenRequest) (*TokenDecisionResponse, error) {
	d, err := h.tokens.ConsumeToken(ctx, in.Token)
	if err != nil {
		return nil, h.toHTTPError(err)
	}

	if !d.Allowed {
		return nil, huma.NewError(middleware.RejectionStatus(d), "token not consumed: "+string(d.Reason))
	}

	return &TokenDecisionResponse{Body: decisionBody(d)}, nil
}

func (h *TokenHandler) toHTTPError(err error) error {
	switch {
	case errors.Is(err, idempotency.ErrInvalidToken), errors.Is(err, idempotency.ErrEmptyBusinessKey):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, idempotency.ErrTokenNotIssued), errors.Is(err, idempotency.ErrOutcomeUnknown):
		return huma.NewError(http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.Error("token request failed", zap.Error(err))

		return huma.Error500InternalServerError("token request failed")
	}
}
