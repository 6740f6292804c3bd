// Package tablestore is the HTTP client for the externally hosted table
// service that backs every sheet. The service is shared and offers no
// transactions or row locks; this client only reads fresh snapshots and
// writes single cells, leaving conflict detection to the caller.
package tablestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"slate/api/internal/retry"
	"slate/api/internal/sheet"
)

// Client talks to the table service. All calls are wrapped in the shared
// retry policy; once the attempt ceiling is reached a transient failure is
// surfaced as an UnavailableError.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	policy  retry.Policy
}

// WriteResult reports what a single-cell write touched.
type WriteResult struct {
	UpdatedRange string `json:"updatedRange"`
	UpdatedRows  int    `json:"updatedRows"`
}

func NewClient(baseURL, apiKey string, policy retry.Policy) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
		policy:  policy,
	}
}

// NewClientWithHTTP is used by tests to inject a transport.
func NewClientWithHTTP(baseURL, apiKey string, policy retry.Policy, httpClient *http.Client) *Client {
	client := NewClient(baseURL, apiKey, policy)
	client.http = httpClient
	return client
}

// GetSnapshot fetches a fresh read of the whole table. Snapshots are never
// cached: staleness is exactly the race window compare-and-swap protects
// against.
func (c *Client) GetSnapshot(ctx context.Context, table string) (sheet.Snapshot, error) {
	var snapshot sheet.Snapshot
	err := c.withRetry(ctx, table, func(ctx context.Context) error {
		var body struct {
			Values [][]string `json:"values"`
		}
		if err := c.call(ctx, http.MethodGet, c.tableURL(table)+"/values", nil, &body, "get snapshot", table); err != nil {
			return err
		}
		snapshot = sheet.Snapshot{Rows: body.Values}
		return nil
	})
	if err != nil {
		return sheet.Snapshot{}, err
	}
	return snapshot, nil
}

// WriteCell writes one cell at an A1-style address resolved from a snapshot.
func (c *Client) WriteCell(ctx context.Context, table, address, value string) (WriteResult, error) {
	var result WriteResult
	err := c.withRetry(ctx, table, func(ctx context.Context) error {
		payload := map[string]string{"value": value}
		return c.call(ctx, http.MethodPut, c.tableURL(table)+"/values/"+url.PathEscape(address), payload, &result, "write cell", table)
	})
	if err != nil {
		return WriteResult{}, err
	}
	return result, nil
}

// TableExists checks whether the named table is present in the store.
func (c *Client) TableExists(ctx context.Context, table string) (bool, error) {
	exists := false
	err := c.withRetry(ctx, table, func(ctx context.Context) error {
		err := c.call(ctx, http.MethodGet, c.tableURL(table), nil, nil, "head table", table)
		if err == nil {
			exists = true
			return nil
		}
		if errors.Is(err, ErrTableNotFound) {
			exists = false
			return nil
		}
		return err
	})
	if err != nil {
		return false, err
	}
	return exists, nil
}

// Ping probes the table service for readiness checks. Any well-formed
// response counts as reachable, including not-found.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.TableExists(ctx, "__ping__")
	return err
}

func (c *Client) withRetry(ctx context.Context, table string, op func(context.Context) error) error {
	err := c.policy.Do(ctx, op)
	if err != nil && retry.IsRetryable(err) {
		return &UnavailableError{Table: table, Err: err}
	}
	return err
}

func (c *Client) tableURL(table string) string {
	return c.baseURL + "/tables/" + url.PathEscape(table)
}

func (c *Client) call(ctx context.Context, method, callURL string, payload, target any, op, table string) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", op, err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, callURL, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Table: table, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		if target == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return fmt.Errorf("decode %s response: %w", op, err)
		}
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return ErrTableNotFound
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return &NetworkError{Op: op, Table: table, Status: resp.StatusCode}
	default:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("table service %s %s: status %d: %s", op, table, resp.StatusCode, bytes.TrimSpace(raw))
	}
}
