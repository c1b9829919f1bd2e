// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModelRelay Contributors

package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/modelrelay/modelrelay/internal/provider"
	"github.com/modelrelay/modelrelay/internal/router"
	"github.com/modelrelay/modelrelay/internal/store"
	relayerr "github.com/modelrelay/modelrelay/pkg/errors"
	"github.com/modelrelay/modelrelay/pkg/health"
)

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "complete",
		Method:      http.MethodPost,
		Path:        "/v1/completions",
		Summary:     "Run a completion",
		Description: "Routes the request across configured providers with retry and failover.",
		Tags:        []string{"completions"},
	}, s.handleComplete)

	huma.Register(s.api, huma.Operation{
		OperationID: "provider-health",
		Method:      http.MethodGet,
		Path:        "/v1/providers/health",
		Summary:     "Provider health and rate-limit snapshots",
		Tags:        []string{"system"},
	}, s.handleProviderHealth)

	huma.Register(s.api, huma.Operation{
		OperationID: "list-calls",
		Method:      http.MethodGet,
		Path:        "/v1/calls",
		Summary:     "List recent tracked calls",
		Tags:        []string{"system"},
	}, s.handleListCalls)
}

// --- Request/Response types for huma ---

// CompletionBody is the request body shared by the unary and streaming
// completion endpoints.
type CompletionBody struct {
	Provider string             `json:"provider,omitempty" doc:"Pin the request to one provider ID"`
	Model    string             `json:"model" minLength:"1" doc:"Model name, optionally provider-qualified (id/model)"`
	Messages []provider.Message `json:"messages" minItems:"1" doc:"Conversation turns"`
	Options  map[string]any     `json:"options,omitempty" doc:"Upstream request parameters (temperature, max_tokens, ...)"`
}

type completeInput struct {
	Body CompletionBody
}

type completeOutput struct {
	Body struct {
		Content      string         `json:"content" doc:"Completion text"`
		Model        string         `json:"model" doc:"Model that produced the completion"`
		FinishReason string         `json:"finish_reason,omitempty"`
		Usage        provider.Usage `json:"usage"`
	}
}

type providerHealthOutput struct {
	Body struct {
		Providers  []health.Record    `json:"providers"`
		RateLimits []health.RateLimit `json:"rate_limits"`
	}
}

type listCallsInput struct {
	Provider string `query:"provider" doc:"Filter by provider ID"`
	Status   string `query:"status" doc:"Filter by call status (success or error)"`
	Limit    int    `query:"limit" minimum:"0" maximum:"1000" doc:"Maximum records returned (default 100)"`
}

type listCallsOutput struct {
	Body struct {
		Calls []store.CallRecord `json:"calls"`
	}
}

// --- Handlers ---

func (s *Server) handleComplete(ctx context.Context, input *completeInput) (*completeOutput, error) {
	res, err := s.services.Dispatcher.Complete(ctx, router.Request{
		Provider: input.Body.Provider,
		Model:    input.Body.Model,
		Messages: input.Body.Messages,
		Options:  provider.Options(input.Body.Options),
	})
	if err != nil {
		return nil, humaError(err)
	}

	out := &completeOutput{}
	out.Body.Content = res.Content
	out.Body.Model = res.Model
	out.Body.FinishReason = res.FinishReason
	out.Body.Usage = res.Usage
	return out, nil
}

func (s *Server) handleProviderHealth(_ context.Context, _ *struct{}) (*providerHealthOutput, error) {
	out := &providerHealthOutput{}
	out.Body.Providers = s.services.Health.Snapshot()
	out.Body.RateLimits = s.services.Limits.All()
	if out.Body.Providers == nil {
		out.Body.Providers = []health.Record{}
	}
	if out.Body.RateLimits == nil {
		out.Body.RateLimits = []health.RateLimit{}
	}
	return out, nil
}

func (s *Server) handleListCalls(ctx context.Context, input *listCallsInput) (*listCallsOutput, error) {
	if s.services.Tracking == nil {
		return nil, huma.Error404NotFound("call tracking is disabled")
	}

	limit := input.Limit
	if limit == 0 {
		limit = 100
	}

	calls, err := s.services.Tracking.ListCalls(ctx, store.CallFilter{
		Provider: input.Provider,
		Status:   input.Status,
		Limit:    limit,
	})
	if err != nil {
		return nil, huma.Error500InternalServerError("listing calls", err)
	}

	out := &listCallsOutput{}
	out.Body.Calls = calls
	if out.Body.Calls == nil {
		out.Body.Calls = []store.CallRecord{}
	}
	return out, nil
}

// humaError maps dispatcher failures onto HTTP status errors. Upstream
// failures surface as gateway errors; the client did nothing wrong when
// a provider rejects the relay's key.
func humaError(err error) error {
	var se *provider.StandardizedError
	if errors.As(err, &se) {
		switch se.Code {
		case provider.ErrRateLimitExceeded:
			return huma.NewError(http.StatusTooManyRequests, se.Message)
		case provider.ErrTimeout:
			return huma.NewError(http.StatusGatewayTimeout, se.Message)
		default:
			return huma.NewError(http.StatusBadGateway, se.Message)
		}
	}

	switch {
	case relayerr.HasCode(err, relayerr.CodeProviderInvalidModelRef):
		return huma.NewError(http.StatusUnprocessableEntity, err.Error())
	case relayerr.HasCode(err, relayerr.CodeProviderAllUnavailable):
		return huma.NewError(http.StatusServiceUnavailable, err.Error())
	default:
		return huma.NewError(relayerr.HTTPStatus(err), err.Error())
	}
}
