// Package apiclient is a Go client for the calsync HTTP API, used by
// the operator CLI and by services that consume the cache remotely.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/practicehub/calsync/internal/calsync"
)

type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// Client retries transient failures (network, 429, 5xx) with capped
// exponential backoff; 4xx responses surface immediately as HTTPError.
type Client struct {
	baseURL    string
	writeToken string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func New(baseURL, writeToken string, httpClient *http.Client) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    baseURL,
		writeToken: strings.TrimSpace(writeToken),
		httpClient: httpClient,
		maxRetries: 3,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   2 * time.Second,
	}
}

type eventsResponse struct {
	Events []calsync.Event `json:"events"`
}

func (c *Client) ListEvents(ctx context.Context, start, end time.Time) ([]calsync.Event, error) {
	q := url.Values{}
	q.Set("start", start.UTC().Format(time.RFC3339))
	q.Set("end", end.UTC().Format(time.RFC3339))
	var out eventsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/events?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

func (c *Client) TriggerSync(ctx context.Context, start, end time.Time) (calsync.SyncResult, error) {
	body := map[string]string{
		"start": start.UTC().Format(time.RFC3339),
		"end":   end.UTC().Format(time.RFC3339),
	}
	var out calsync.SyncResult
	err := c.doJSON(ctx, http.MethodPost, "/v1/sync", body, &out)
	return out, err
}

func (c *Client) PatchEvent(ctx context.Context, source calsync.Source, id string, patch calsync.EventPatch) (calsync.Event, error) {
	var out calsync.Event
	path := fmt.Sprintf("/v1/events/%s/%s", url.PathEscape(string(source)), url.PathEscape(id))
	err := c.doJSON(ctx, http.MethodPatch, path, patch, &out)
	return out, err
}

func (c *Client) CreateManualEvent(ctx context.Context, event calsync.Event) (calsync.Event, error) {
	var out calsync.Event
	err := c.doJSON(ctx, http.MethodPost, "/v1/events", event, &out)
	return out, err
}

func (c *Client) DeleteManualEvent(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/v1/events/manual/"+url.PathEscape(id), nil, nil)
}

type SyncStatus struct {
	State      calsync.SyncState            `json:"state"`
	Active     []calsync.ActiveSync         `json:"active"`
	LastSynced map[calsync.Source]time.Time `json:"lastSynced"`
}

func (c *Client) GetSyncStatus(ctx context.Context) (SyncStatus, error) {
	var out SyncStatus
	err := c.doJSON(ctx, http.MethodGet, "/v1/sync/status", nil, &out)
	return out, err
}

func (c *Client) doJSON(ctx context.Context, method, requestPath string, body, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		if c.writeToken != "" {
			req.Header.Set("Authorization", "Bearer "+c.writeToken)
		}
		req.Header.Set("X-Correlation-Id", uuid.NewString())
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payloadBytes, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payloadBytes) == 0 {
				return nil
			}
			return json.Unmarshal(payloadBytes, out)
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		var errPayload struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(payloadBytes, &errPayload)
		message := errPayload.Error.Message
		if message == "" {
			message = strings.TrimSpace(string(payloadBytes))
		}
		return &HTTPError{StatusCode: resp.StatusCode, Code: errPayload.Error.Code, Message: message}
	}
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if header := strings.TrimSpace(retryAfterHeader); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
			delay := time.Duration(seconds) * time.Second
			if delay > c.maxDelay {
				return c.maxDelay
			}
			return delay
		}
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
