// Package client talks to a single GPU worker node over HTTP for
// request/response operations (submit, poll, fetch, list assets) and
// over WebSocket for the node's push event stream.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pixelgrid/forge-orchestrator/forge"
)

// SubmitResult is returned by Submit.
type SubmitResult struct {
	WorkerJobID string `json:"worker_job_id"`
}

// PollResult is returned by Poll.
type PollResult struct {
	Status   string        `json:"status"`
	Progress float64       `json:"progress"`
	Outputs  []WorkerOutput `json:"outputs,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// WorkerOutput is one completed output artifact as reported by a node's
// history endpoint.
type WorkerOutput struct {
	Filename     string  `json:"filename"`
	ThumbnailURL string  `json:"thumbnail_url,omitempty"`
	Seed         int64   `json:"seed"`
	ElapsedMS    int64   `json:"elapsed_ms"`
}

const (
	statusRunning  = "running"
	statusComplete = "complete"
	statusFailed   = "failed"
)

// defaultPollInterval and defaultPollDeadline implement §4.3/§5's
// poll_until_complete defaults: a 1s poll interval bounded by a 300s
// deadline from dispatch to completion.
const (
	defaultPollInterval = time.Second
	defaultPollDeadline = 300 * time.Second
)

// PollOutcome is the terminal result of PollUntilComplete.
type PollOutcome struct {
	Outputs []WorkerOutput
}

// Client is a thin HTTP wrapper around one worker node's job API.
type Client struct {
	node forge.Node
	http *http.Client
}

// New returns a Client bound to node, using httpClient for transport. If
// httpClient is nil a client with a 10s default timeout is used.
func New(node forge.Node, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{node: node, http: httpClient}
}

// Submit posts a built job graph to the node's /jobs endpoint and returns
// the worker-assigned job id.
func (c *Client) Submit(ctx context.Context, graph json.RawMessage) (string, error) {
	var out SubmitResult
	if err := c.doJSON(ctx, http.MethodPost, "/jobs", graph, &out); err != nil {
		return "", err
	}
	return out.WorkerJobID, nil
}

// Poll fetches the current status of a previously submitted job.
func (c *Client) Poll(ctx context.Context, workerJobID string) (PollResult, error) {
	var out PollResult
	path := fmt.Sprintf("/jobs/%s", workerJobID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return PollResult{}, err
	}
	return out, nil
}

// PollUntilComplete polls a node's job history endpoint at interval until
// the worker reports completion or failure, or deadline elapses from the
// call's start. interval and deadline fall back to 1s/300s when zero.
// Cancelling ctx terminates the wait with forge.ErrCancelled.
func (c *Client) PollUntilComplete(ctx context.Context, workerJobID string, interval, deadline time.Duration) (PollOutcome, error) {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if deadline <= 0 {
		deadline = defaultPollDeadline
	}

	deadlineCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return PollOutcome{}, fmt.Errorf("%w: %v", forge.ErrCancelled, err)
		}

		res, err := c.Poll(deadlineCtx, workerJobID)
		if err != nil {
			if ctx.Err() != nil {
				return PollOutcome{}, fmt.Errorf("%w: %v", forge.ErrCancelled, ctx.Err())
			}
			if deadlineCtx.Err() != nil {
				return PollOutcome{}, fmt.Errorf("%w: no completion within %s", forge.ErrTimeout, deadline)
			}
			return PollOutcome{}, err
		}

		switch res.Status {
		case statusComplete:
			return PollOutcome{Outputs: res.Outputs}, nil
		case statusFailed:
			msg := res.Error
			if msg == "" {
				msg = "worker reported failure"
			}
			return PollOutcome{}, fmt.Errorf("%w: %s", forge.ErrRejectedByWorker, msg)
		case statusRunning:
			// fall through to the next tick
		}

		select {
		case <-ctx.Done():
			return PollOutcome{}, fmt.Errorf("%w: %v", forge.ErrCancelled, ctx.Err())
		case <-deadlineCtx.Done():
			if ctx.Err() != nil {
				return PollOutcome{}, fmt.Errorf("%w: %v", forge.ErrCancelled, ctx.Err())
			}
			return PollOutcome{}, fmt.Errorf("%w: no completion within %s", forge.ErrTimeout, deadline)
		case <-ticker.C:
		}
	}
}

// FetchArtifact streams the output image bytes for a completed job. The
// caller must close the returned reader.
func (c *Client) FetchArtifact(ctx context.Context, workerJobID string) (io.ReadCloser, error) {
	path := fmt.Sprintf("/jobs/%s/artifact", workerJobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.node.BaseURL()+path, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", forge.ErrTransport, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, statusErr(resp.StatusCode)
	}
	return resp.Body, nil
}

// ListAssets returns the names of assets (checkpoints, LoRAs) the node
// reports as locally available.
func (c *Client) ListAssets(ctx context.Context) ([]string, error) {
	var out struct {
		Assets []string `json:"assets"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/assets", nil, &out); err != nil {
		return nil, err
	}
	return out.Assets, nil
}

// Ping issues a lightweight GET /health and reports round-trip latency.
// It satisfies health.Pinger.
func (c *Client) Ping(ctx context.Context, _ forge.Node) (time.Duration, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.node.BaseURL()+"/health", nil)
	if err != nil {
		return 0, fmt.Errorf("building request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", forge.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, statusErr(resp.StatusCode)
	}
	return time.Since(start), nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.node.BaseURL()+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", forge.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decoding response: %v", forge.ErrTransport, err)
		}
		return nil
	}
	return statusErr(resp.StatusCode)
}

func statusErr(code int) error {
	switch {
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: worker returned %d", forge.ErrTimeout, code)
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: worker returned 404", forge.ErrNotFound)
	case code >= 400 && code < 500:
		return fmt.Errorf("%w: worker returned %d", forge.ErrRejectedByWorker, code)
	default:
		return fmt.Errorf("%w: worker returned %d", forge.ErrTransport, code)
	}
}
