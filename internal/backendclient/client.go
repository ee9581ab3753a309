// Package backendclient implements the daemon's authenticated HTTP calls to
// the cloud backend: poll, claim, and status update, each wrapped in a
// retry+backoff policy for the closed set of transient failure patterns the
// spec recognizes.
package backendclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MasslessAI/push-claude-plugin/internal/contracts"
)

const perAttemptTimeout = 30 * time.Second

// HTTPDoer is the interface satisfied by *http.Client, a seam so tests
// can substitute a fake transport.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is the concrete contracts.BackendClient implementation.
type Client struct {
	baseURL string
	apiKey  string
	http    HTTPDoer
}

var _ contracts.BackendClient = (*Client)(nil)

// New constructs a Client. httpDoer may be nil, in which case a default
// *http.Client with no overall timeout (the per-request context carries the
// 30s deadline) is used.
func New(baseURL, apiKey string, httpDoer HTTPDoer) *Client {
	if httpDoer == nil {
		httpDoer = &http.Client{}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, http: httpDoer}
}

type pollResponse struct {
	Todos []contracts.Task `json:"todos"`
}

// Poll fetches the queued tasks for this machine, attaching heartbeat
// headers so the backend can tell this daemon is live for its registered
// projects.
func (c *Client) Poll(ctx context.Context, machineID, machineName string, repoURLs []string) ([]contracts.Task, error) {
	var result []contracts.Task
	err := withRetry(ctx, func(ctx context.Context) error {
		reqCtx, cancel := context.WithTimeout(ctx, perAttemptTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+"/tasks/poll", nil)
		if err != nil {
			return err
		}
		c.setCommonHeaders(req)
		req.Header.Set("machine_id", machineID)
		req.Header.Set("machine_name", machineName)
		req.Header.Set("repo_urls", strings.Join(repoURLs, ","))

		var parsed pollResponse
		if err := c.doJSON(req, &parsed); err != nil {
			return err
		}
		result = parsed.Todos
		return nil
	})
	return result, err
}

type claimRequest struct {
	DisplayNumber int    `json:"displayNumber"`
	Status        string `json:"status"`
	MachineID     string `json:"machineId"`
	MachineName   string `json:"machineName"`
	Atomic        bool   `json:"atomic"`
}

// Claim requests the atomic queued->running transition for one task. A
// false Claimed result means another machine won the race; the caller
// drops the task silently.
func (c *Client) Claim(ctx context.Context, displayNumber int, machineID, machineName string) (contracts.ClaimResult, error) {
	var result contracts.ClaimResult
	err := withRetry(ctx, func(ctx context.Context) error {
		reqCtx, cancel := context.WithTimeout(ctx, perAttemptTimeout)
		defer cancel()

		body, err := json.Marshal(claimRequest{
			DisplayNumber: displayNumber,
			Status:        string(contracts.StatusRunning),
			MachineID:     machineID,
			MachineName:   machineName,
			Atomic:        true,
		})
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/tasks/claim", bytes.NewReader(body))
		if err != nil {
			return err
		}
		c.setCommonHeaders(req)

		var parsed contracts.ClaimResult
		if err := c.doJSON(req, &parsed); err != nil {
			return err
		}
		result = parsed
		return nil
	})
	return result, err
}

type statusUpdateRequest struct {
	DisplayNumber int                       `json:"displayNumber"`
	Status        string                    `json:"status"`
	Summary       string                    `json:"summary,omitempty"`
	Error         string                    `json:"error,omitempty"`
	SessionID     string                    `json:"sessionId,omitempty"`
	PRURL         string                    `json:"prUrl,omitempty"`
	Event         *contracts.LifecycleEvent `json:"event,omitempty"`
}

type statusUpdateResponse struct {
	Success bool `json:"success"`
}

// UpdateStatus reports a status transition, optionally carrying a lifecycle
// event. A false Success with no error is treated as a failure.
func (c *Client) UpdateStatus(ctx context.Context, update contracts.StatusUpdate) error {
	return withRetry(ctx, func(ctx context.Context) error {
		reqCtx, cancel := context.WithTimeout(ctx, perAttemptTimeout)
		defer cancel()

		body, err := json.Marshal(statusUpdateRequest{
			DisplayNumber: update.DisplayNumber,
			Status:        string(update.Status),
			Summary:       update.Summary,
			Error:         update.Error,
			SessionID:     update.SessionID,
			PRURL:         update.PRURL,
			Event:         update.Event,
		})
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/tasks/status", bytes.NewReader(body))
		if err != nil {
			return err
		}
		c.setCommonHeaders(req)

		var parsed statusUpdateResponse
		if err := c.doJSON(req, &parsed); err != nil {
			return err
		}
		if !parsed.Success {
			return fmt.Errorf("backend rejected status update for task %d", update.DisplayNumber)
		}
		return nil
	})
}

func (c *Client) setCommonHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
}

// doJSON performs the request and decodes a JSON response body, surfacing
// non-2xx responses as an *httpStatusError so withRetry can classify them.
func (c *Client) doJSON(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading backend response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("backend auth failed with status %d", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &httpStatusError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	if out == nil || len(bodyBytes) == 0 {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("decoding backend response: %w", err)
	}
	return nil
}
