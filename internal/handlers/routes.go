package handlers

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/admission-go/internal/config"
	"github.com/serroba/admission-go/internal/middleware"
)

// RegisterRoutes registers the admission and token routes.
func RegisterRoutes(api huma.API, admissionHandler *AdmissionHandler, tokenHandler *TokenHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "admit",
		Method:      http.MethodPost,
		Path:        "/v1/admit",
		Summary:     "Admit a call",
		Description: "Runs the idempotency or rate limit check of the named policy.",
		Tags:        []string{"Admission"},
	}, admissionHandler.Admit)

	huma.Register(api, huma.Operation{
		OperationID: "release",
		Method:      http.MethodPost,
		Path:        "/v1/release",
		Summary:     "Release a lease",
		Description: "Deletes the idempotency lease of the named policy so the key can be admitted again.",
		Tags:        []string{"Admission"},
	}, admissionHandler.Release)

	huma.Register(api, huma.Operation{
		OperationID: "probe",
		Method:      http.MethodPost,
		Path:        "/v1/probe",
		Summary:     "Probe a lease",
		Description: "Reports whether the idempotency lease of the named policy exists, without taking it.",
		Tags:        []string{"Admission"},
	}, admissionHandler.Probe)

	huma.Register(api, huma.Operation{
		OperationID:   "issue-token",
		Method:        http.MethodPost,
		Path:          "/v1/tokens",
		Summary:       "Issue an idempotency token",
		Tags:          []string{"Tokens"},
		DefaultStatus: http.StatusCreated,
		Metadata: map[string]any{
			middleware.MetadataKey: middleware.EndpointConfig{
				IdempotencyPolicy: config.DefaultIdempotencyPolicy,
			},
		},
	}, tokenHandler.Issue)

	huma.Register(api, huma.Operation{
		OperationID: "check-token",
		Method:      http.MethodGet,
		Path:        "/v1/tokens/{token}",
		Summary:     "Check an idempotency token",
		Tags:        []string{"Tokens"},
	}, tokenHandler.Check)

	huma.Register(api, huma.Operation{
		OperationID: "consume-token",
		Method:      http.MethodDelete,
		Path:        "/v1/tokens/{token}",
		Summary:     "Consume an idempotency token",
		Tags:        []string{"Tokens"},
	}, tokenHandler.Consume)
}
