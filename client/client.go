// Package client is the Go client for the cell-update API. It wraps each
// update with transient-failure retries and drives the three-way conflict
// resolution protocol: overwrite, keep the server's value, or edit again.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"slate/api/internal/retry"
)

// Client calls the slate API on behalf of a UI or integration.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	policy  retry.Policy
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		policy:  retry.Default(),
	}
}

// NewWithRetryPolicy overrides the default backoff, mainly for tests.
func NewWithRetryPolicy(baseURL, token string, policy retry.Policy) *Client {
	client := New(baseURL, token)
	client.policy = policy
	return client
}

// UpdateCell performs one orchestrated cell update.
//
// A server conflict is never retried: with no resolver it surfaces as a
// *ConflictError; with a resolver the user's choice decides whether the
// update is replayed with force, the server value is accepted, or the caller
// gets the current value back to re-seed its form. Transient failures are
// retried with backoff before any of that happens.
func (c *Client) UpdateCell(ctx context.Context, update CellUpdate, resolve ConflictResolver) (UpdateResult, error) {
	result, err := c.send(ctx, update)
	if err != nil {
		return UpdateResult{}, err
	}
	if !result.Conflict {
		return result, nil
	}

	record := ConflictRecord{
		EntityID:      update.EntityID,
		FieldID:       update.FieldID,
		OriginalValue: update.OriginalValue,
		CurrentValue:  result.CurrentValue,
		NewValue:      update.NewValue,
	}
	if resolve == nil {
		return UpdateResult{}, &ConflictError{Record: record}
	}

	choice, err := resolve(record)
	if err != nil {
		return UpdateResult{}, fmt.Errorf("%w: %v", ErrResolutionCancelled, err)
	}

	switch choice {
	case ResolutionOverwrite:
		forced := update
		forced.Force = true
		return c.send(ctx, forced)
	case ResolutionKeepServer:
		return UpdateResult{Success: true, CurrentValue: record.CurrentValue}, nil
	case ResolutionEditAgain:
		return UpdateResult{EditAgain: true, CurrentValue: record.CurrentValue}, nil
	default:
		return UpdateResult{}, fmt.Errorf("unknown resolution choice %d", choice)
	}
}

// BatchUpdate orchestrates each update sequentially with the same resolver.
// One item's failure is recorded in its slot and never fails the whole call;
// Success is true only when every item succeeded.
func (c *Client) BatchUpdate(ctx context.Context, updates []CellUpdate, resolve ConflictResolver) BatchResult {
	batch := BatchResult{
		Success: true,
		Items:   make([]BatchItem, 0, len(updates)),
	}
	for _, update := range updates {
		result, err := c.UpdateCell(ctx, update, resolve)
		batch.Items = append(batch.Items, BatchItem{Result: result, Err: err})
		if err != nil || !result.Success {
			batch.Success = false
		}
	}
	return batch
}

// send performs the HTTP round trip with retries. A 409 is decoded into a
// conflict result, not an error: conflicts need a decision, not a retry.
func (c *Client) send(ctx context.Context, update CellUpdate) (UpdateResult, error) {
	var result UpdateResult
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		var attemptErr error
		result, attemptErr = c.attempt(ctx, update)
		return attemptErr
	})
	if err != nil {
		return UpdateResult{}, err
	}
	return result, nil
}

func (c *Client) attempt(ctx context.Context, update CellUpdate) (UpdateResult, error) {
	// Values cross the wire in canonical string form, the same form the
	// server compares against the sheet.
	payload := map[string]any{
		"entityId":      update.EntityID,
		"fieldId":       update.FieldID,
		"originalValue": canonical(update.OriginalValue),
		"newValue":      canonical(update.NewValue),
	}
	if update.Force {
		payload["force"] = true
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return UpdateResult{}, fmt.Errorf("encode update: %w", err)
	}

	callURL := c.baseURL + "/api/sheets/" + url.PathEscape(update.Table) + "/cell"
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, callURL, bytes.NewReader(encoded))
	if err != nil {
		return UpdateResult{}, fmt.Errorf("build update request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return UpdateResult{}, &transportError{err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var body struct {
			Success      bool   `json:"success"`
			UpdatedRange string `json:"updatedRange"`
			UpdatedRows  int    `json:"updatedRows"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return UpdateResult{}, fmt.Errorf("decode update response: %w", err)
		}
		return UpdateResult{
			Success:      body.Success,
			CurrentValue: update.NewValue,
			UpdatedRange: body.UpdatedRange,
			UpdatedRows:  body.UpdatedRows,
		}, nil
	case resp.StatusCode == http.StatusConflict:
		var body struct {
			Data struct {
				CurrentValue any `json:"currentValue"`
			} `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return UpdateResult{}, fmt.Errorf("decode conflict response: %w", err)
		}
		return UpdateResult{Conflict: true, CurrentValue: body.Data.CurrentValue}, nil
	default:
		return UpdateResult{}, decodeAPIError(resp)
	}
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	apiErr := &APIError{Status: resp.StatusCode}
	var body struct {
		Code  string `json:"code"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		apiErr.Code = body.Code
		apiErr.Message = body.Error
	}
	return apiErr
}
