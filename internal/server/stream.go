// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModelRelay Contributors

package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/modelrelay/modelrelay/internal/provider"
	"github.com/modelrelay/modelrelay/internal/router"
	"github.com/modelrelay/modelrelay/internal/sse"
)

// tokenPayload is the data of a token event.
type tokenPayload struct {
	Text string `json:"text"`
}

// donePayload is the data of the terminal done event.
type donePayload struct {
	Model        string         `json:"model"`
	FinishReason string         `json:"finish_reason,omitempty"`
	Usage        provider.Usage `json:"usage"`
}

// errorPayload is the data of an error event.
type errorPayload struct {
	Code     string `json:"code,omitempty"`
	Message  string `json:"message"`
	Provider string `json:"provider,omitempty"`
}

func (s *Server) registerStreamRoute() {
	s.router.Post("/v1/completions/stream", s.handleCompletionStream)

	// Register the operation in the OpenAPI spec manually. The streaming
	// handler needs raw http.ResponseWriter access, so it cannot use
	// huma's standard handler signature. The chi route above does the
	// actual request handling; this entry documents it.
	minItems := 1
	s.api.OpenAPI().AddOperation(&huma.Operation{
		OperationID: "complete-stream",
		Method:      http.MethodPost,
		Path:        "/v1/completions/stream",
		Summary:     "Stream a completion via SSE",
		Description: "Runs a completion and relays upstream chunks as token events, ending with a done event (or an error event on failure). Set Accept: text/event-stream for SSE, otherwise the events are collected into a JSON array.",
		Tags:        []string{"completions"},
		RequestBody: &huma.RequestBody{
			Required: true,
			Content: map[string]*huma.MediaType{
				"application/json": {
					Schema: &huma.Schema{
						Type:     "object",
						Required: []string{"model", "messages"},
						Properties: map[string]*huma.Schema{
							"provider": {
								Type:        "string",
								Description: "Pin the request to one provider ID",
							},
							"model": {
								Type:        "string",
								Description: "Model name, optionally provider-qualified (id/model)",
							},
							"messages": {
								Type:        "array",
								MinItems:    &minItems,
								Description: "Conversation turns",
								Items:       &huma.Schema{Type: "object"},
							},
							"options": {
								Type:        "object",
								Description: "Upstream request parameters",
							},
						},
					},
				},
			},
		},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Streaming response (SSE or JSON depending on Accept header)",
				Content: map[string]*huma.MediaType{
					"text/event-stream": {
						Schema: &huma.Schema{
							Type:        "string",
							Description: "Server-sent event stream of token/done/error events",
						},
					},
					"application/json": {
						Schema: &huma.Schema{
							Type: "object",
							Properties: map[string]*huma.Schema{
								"events": {
									Type:        "array",
									Description: "Collected events",
									Items:       &huma.Schema{Type: "object"},
								},
							},
						},
					},
				},
			},
			"422": {Description: "Validation error (missing model or messages)"},
			"503": {Description: "Relay services not configured"},
		},
	})
}

func (s *Server) handleCompletionStream(w http.ResponseWriter, r *http.Request) {
	var body CompletionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if body.Model == "" {
		http.Error(w, `{"error":"model is required"}`, http.StatusUnprocessableEntity)
		return
	}
	if len(body.Messages) == 0 {
		http.Error(w, `{"error":"messages are required"}`, http.StatusUnprocessableEntity)
		return
	}

	if s.services == nil {
		http.Error(w, `{"error":"relay services not configured"}`, http.StatusServiceUnavailable)
		return
	}

	req := router.Request{
		Provider: body.Provider,
		Model:    body.Model,
		Messages: body.Messages,
		Options:  provider.Options(body.Options),
	}

	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		s.streamSSE(w, r, req)
		return
	}
	s.streamJSON(w, r, req)
}

// streamSSE relays chunks as they arrive. The HTTP status is committed
// before the upstream outcome is known, so failures after the first
// byte surface as an error event rather than a status code.
func (s *Server) streamSSE(w http.ResponseWriter, r *http.Request, req router.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	enc := sse.NewEncoder(w)

	res, err := s.services.Dispatcher.Stream(r.Context(), req, func(c provider.Chunk) error {
		return enc.WriteJSON("token", tokenPayload{Text: c.Text})
	})
	if err != nil {
		if writeErr := enc.WriteJSON("error", streamErrorPayload(err)); writeErr != nil {
			slog.Debug("writing error event", "error", writeErr)
		}
		return
	}

	if err := enc.WriteJSON("done", donePayload{
		Model:        res.Model,
		FinishReason: res.FinishReason,
		Usage:        res.Usage,
	}); err != nil {
		slog.Debug("writing done event", "error", err)
	}
}

// streamJSON collects the event sequence and returns it as one JSON
// response, for clients that cannot consume SSE.
func (s *Server) streamJSON(w http.ResponseWriter, r *http.Request, req router.Request) {
	type event struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}
	var events []event

	res, err := s.services.Dispatcher.Stream(r.Context(), req, func(c provider.Chunk) error {
		events = append(events, event{Event: "token", Data: tokenPayload{Text: c.Text}})
		return nil
	})
	if err != nil {
		events = append(events, event{Event: "error", Data: streamErrorPayload(err)})
	} else {
		events = append(events, event{Event: "done", Data: donePayload{
			Model:        res.Model,
			FinishReason: res.FinishReason,
			Usage:        res.Usage,
		}})
	}

	w.Header().Set("Content-Type", "application/json")
	resp := struct {
		Events []event `json:"events"`
	}{Events: events}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, `{"error":"encoding response"}`, http.StatusInternalServerError)
	}
}

func streamErrorPayload(err error) errorPayload {
	var se *provider.StandardizedError
	if errors.As(err, &se) {
		return errorPayload{
			Code:     string(se.Code),
			Message:  se.Message,
			Provider: se.ProviderID,
		}
	}
	return errorPayload{Message: err.Error()}
}
