// Package client posts mutation batches to the sync service on behalf of
// the background flusher.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/risalo/backend/internal/interactions"
)

var errMissingBaseURL = errors.New("client: base url is required")

// HTTPApplierConfig configures the batch-apply HTTP client.
type HTTPApplierConfig struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// HTTPApplier implements the flusher's Applier over the batch-apply
// endpoint. Request deadlines come from the caller's context.
type HTTPApplier struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPApplier validates the configuration and constructs an HTTPApplier.
func NewHTTPApplier(cfg HTTPApplierConfig) (*HTTPApplier, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errMissingBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPApplier{
		baseURL:    baseURL,
		token:      cfg.Token,
		httpClient: httpClient,
	}, nil
}

type mutationPayload struct {
	ID         string `json:"id"`
	Op         string `json:"op"`
	EntityID   string `json:"entityId"`
	EntityType string `json:"entityType"`
	Ts         int64  `json:"ts"`
	Attempts   int    `json:"attempts,omitempty"`
}

type batchRequestPayload struct {
	Ops []mutationPayload `json:"ops"`
}

type resultPayload struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type batchResponsePayload struct {
	Success bool            `json:"success"`
	Results []resultPayload `json:"results"`
}

// Apply posts the batch and returns per-mutation results. Any transport or
// whole-batch failure is returned as an error so the flusher requeues
// everything.
func (a *HTTPApplier) Apply(ctx context.Context, batch []interactions.Mutation) ([]interactions.MutationResult, error) {
	request := batchRequestPayload{Ops: make([]mutationPayload, 0, len(batch))}
	for _, mutation := range batch {
		request.Ops = append(request.Ops, mutationPayload{
			ID:         mutation.ID,
			Op:         string(mutation.Op),
			EntityID:   mutation.EntityID,
			EntityType: string(mutation.EntityType),
			Ts:         mutation.TsMillis,
			Attempts:   mutation.Attempts,
		})
	}

	raw, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("client: encode batch: %w", err)
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/interactions/batch", bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		httpRequest.Header.Set("Authorization", "Bearer "+a.token)
	}

	httpResponse, err := a.httpClient.Do(httpRequest)
	if err != nil {
		return nil, fmt.Errorf("client: send batch: %w", err)
	}
	defer httpResponse.Body.Close()

	if httpResponse.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("client: batch rejected with status %d", httpResponse.StatusCode)
	}

	var response batchResponsePayload
	if err := json.NewDecoder(httpResponse.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("client: decode response: %w", err)
	}

	results := make([]interactions.MutationResult, 0, len(response.Results))
	for _, result := range response.Results {
		results = append(results, interactions.MutationResult{
			ID:      result.ID,
			Success: result.Success,
			Error:   result.Error,
		})
	}
	return results, nil
}
