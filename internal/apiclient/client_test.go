package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/practicehub/calsync/internal/calsync"
)

func fastClient(baseURL, token string) *Client {
	c := New(baseURL, token, &http.Client{Timeout: 5 * time.Second})
	c.baseDelay = time.Millisecond
	c.maxDelay = 5 * time.Millisecond
	return c
}

func TestListEvents(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 7)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/events" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("start"); got != start.Format(time.RFC3339) {
			t.Errorf("start = %q", got)
		}
		if r.Header.Get("X-Correlation-Id") == "" {
			t.Errorf("missing correlation id")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"events": []calsync.Event{{
				ID:        "a",
				Title:     "Standup",
				StartTime: start.Add(9 * time.Hour),
				EndTime:   start.Add(10 * time.Hour),
				Source:    calsync.SourceRemoteCalendar,
			}},
		})
	}))
	defer srv.Close()

	events, err := fastClient(srv.URL, "").ListEvents(context.Background(), start, end)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 1 || events[0].ID != "a" {
		t.Fatalf("events = %+v", events)
	}
}

func TestWriteTokenSentAsBearer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		_ = json.NewEncoder(w).Encode(calsync.SyncResult{Committed: 1})
	}))
	defer srv.Close()

	result, err := fastClient(srv.URL, "secret").TriggerSync(context.Background(),
		time.Now(), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if result.Committed != 1 {
		t.Fatalf("Committed = %d", result.Committed)
	}
}

func TestRetriesTransientFailures(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"events": []calsync.Event{}})
	}))
	defer srv.Close()

	_, err := fastClient(srv.URL, "").ListEvents(context.Background(),
		time.Now(), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"code": "not_editable", "message": "field not editable"},
		})
	}))
	defer srv.Close()

	title := "Renamed"
	_, err := fastClient(srv.URL, "").PatchEvent(context.Background(),
		calsync.SourceRemoteCalendar, "a", calsync.EventPatch{Title: &title})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("err = %v, want HTTPError", err)
	}
	if httpErr.StatusCode != http.StatusForbidden || httpErr.Code != "not_editable" {
		t.Fatalf("httpErr = %+v", httpErr)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
}

func TestRetriesGiveUpAfterMaxAttempts(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := fastClient(srv.URL, "")
	_, err := c.ListEvents(context.Background(), time.Now(), time.Now().Add(time.Hour))
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("err = %v", err)
	}
	if attempts != c.maxRetries+1 {
		t.Fatalf("attempts = %d, want %d", attempts, c.maxRetries+1)
	}
}

func TestRetryDelayHonorsRetryAfter(t *testing.T) {
	c := New("http://127.0.0.1:0", "", nil)
	if got := c.retryDelay(1, "1"); got != time.Second {
		t.Fatalf("delay = %s, want 1s", got)
	}
	// Header values above the cap clamp to maxDelay.
	if got := c.retryDelay(1, "3600"); got != c.maxDelay {
		t.Fatalf("delay = %s, want %s", got, c.maxDelay)
	}
	// Backoff doubles per attempt up to the cap.
	if got := c.retryDelay(2, ""); got != 2*c.baseDelay {
		t.Fatalf("delay = %s, want %s", got, 2*c.baseDelay)
	}
}

func TestDeleteManualEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/v1/events/manual/m1" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
	}))
	defer srv.Close()

	if err := fastClient(srv.URL, "").DeleteManualEvent(context.Background(), "m1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
}
