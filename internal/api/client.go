// Package api implements the HTTP transport to the remote sync
// authority. It satisfies the engine's Transport interface; swapping the
// transport never touches the resolver or the engine.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/iudanet/hearthsync/internal/models"
	"github.com/iudanet/hearthsync/pkg/api"
)

// Client is the HTTP client for the sync endpoints.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a new sync API client. Every round-trip is bounded
// by the client timeout so a hung request aborts the cycle cleanly.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Pull requests all remote changes for the type since the cursor and
// returns the advanced cursor together with the changed records.
func (c *Client) Pull(ctx context.Context, entityType, cursor string) (string, []*models.Entity, error) {
	q := url.Values{}
	q.Set("type", entityType)
	if cursor != "" {
		q.Set("since", cursor)
	}

	var resp api.PullResponse
	if err := c.doRequest(ctx, http.MethodGet, "/sync?"+q.Encode(), nil, &resp); err != nil {
		return "", nil, fmt.Errorf("pull request failed: %w", err)
	}

	records := make([]*models.Entity, 0, len(resp.Records))
	for _, rec := range resp.Records {
		records = append(records, FromWire(rec))
	}
	return resp.Cursor, records, nil
}

// Push transmits a batch of queued operations and returns the server's
// per-operation outcomes.
func (c *Client) Push(ctx context.Context, ops []*models.SyncOperation) ([]models.PushOutcome, error) {
	req := api.PushRequest{Operations: make([]api.PushOperation, 0, len(ops))}
	for _, op := range ops {
		wireOp := api.PushOperation{
			EntityType:    op.EntityType,
			EntityID:      op.EntityID,
			OperationKind: wireKind(op.Kind),
			Payload:       ToWire(op.Payload),
		}
		if op.Payload.Base != nil {
			wireOp.ClientVersion = op.Payload.Base.Version
		}
		req.Operations = append(req.Operations, wireOp)
	}

	var resp api.PushResponse
	if err := c.doRequest(ctx, http.MethodPost, "/sync/batch", req, &resp); err != nil {
		return nil, fmt.Errorf("push request failed: %w", err)
	}

	outcomes := make([]models.PushOutcome, 0, len(resp.Results))
	for _, res := range resp.Results {
		out := models.PushOutcome{
			EntityID:      res.EntityID,
			Reason:        res.Reason,
			ServerVersion: res.ServerVersion,
		}
		switch res.Outcome {
		case api.OutcomeApplied:
			out.Outcome = models.PushApplied
		case api.OutcomeConflict:
			out.Outcome = models.PushConflict
		case api.OutcomeRejected:
			out.Outcome = models.PushRejected
		default:
			return nil, fmt.Errorf("unknown push outcome %q for entity %s", res.Outcome, res.EntityID)
		}
		if res.ServerRecord != nil {
			out.ServerRecord = FromWire(*res.ServerRecord)
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

// doRequest performs one HTTP round-trip with JSON bodies.
func (c *Client) doRequest(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp api.ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Message != "" {
			return fmt.Errorf("server error (%d): %s", resp.StatusCode, errResp.Message)
		}
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
