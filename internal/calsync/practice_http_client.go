package calsync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type PracticeHTTPClientOptions struct {
	BaseURL       string
	TokenProvider AccessTokenProvider
	HTTPClient    *http.Client
	UserAgent     string
}

// PracticeHTTPClient talks to the practice-management REST API. It maps
// HTTP failures onto the FetchError taxonomy and never retries: a 401
// means the caller must refresh credentials and re-invoke the sync.
type PracticeHTTPClient struct {
	baseURL       string
	tokenProvider AccessTokenProvider
	httpClient    *http.Client
	userAgent     string
}

func NewPracticeHTTPClient(opts PracticeHTTPClientOptions) *PracticeHTTPClient {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.simplepractice.com"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	return &PracticeHTTPClient{
		baseURL:       baseURL,
		tokenProvider: opts.TokenProvider,
		httpClient:    httpClient,
		userAgent:     strings.TrimSpace(opts.UserAgent),
	}
}

// practiceAppointment is the wire shape of one appointment.
type practiceAppointment struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
	CalendarID  string    `json:"calendarId"`
}

type practiceAppointmentPage struct {
	Appointments []practiceAppointment `json:"appointments"`
	NextCursor   *string               `json:"nextCursor"`
}

// ListAppointments pages through /v1/appointments for the range.
func (c *PracticeHTTPClient) ListAppointments(ctx context.Context, rng TimeRange) ([]practiceAppointment, error) {
	if c == nil {
		return nil, fmt.Errorf("practice http client is nil")
	}
	tokenProvider := c.tokenProvider
	if tokenProvider == nil {
		return nil, &FetchError{Source: SourcePractice, Reason: FetchReasonAuthExpired,
			Err: fmt.Errorf("token provider is required")}
	}
	token, err := tokenProvider(ctx)
	if err != nil {
		return nil, &FetchError{Source: SourcePractice, Reason: FetchReasonAuthExpired, Err: err}
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, &FetchError{Source: SourcePractice, Reason: FetchReasonAuthExpired,
			Err: fmt.Errorf("empty access token")}
	}

	appointments := make([]practiceAppointment, 0, 32)
	cursor := ""
	for {
		page, err := c.listPage(ctx, token, rng, cursor)
		if err != nil {
			return nil, err
		}
		appointments = append(appointments, page.Appointments...)
		if page.NextCursor == nil || *page.NextCursor == "" {
			return appointments, nil
		}
		cursor = *page.NextCursor
	}
}

func (c *PracticeHTTPClient) listPage(ctx context.Context, token string, rng TimeRange, cursor string) (practiceAppointmentPage, error) {
	query := url.Values{}
	query.Set("start", rng.Start.UTC().Format(time.RFC3339))
	query.Set("end", rng.End.UTC().Format(time.RFC3339))
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	endpoint := c.baseURL + "/v1/appointments?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return practiceAppointmentPage{}, &FetchError{Source: SourcePractice, Reason: FetchReasonNetwork, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return practiceAppointmentPage{}, &FetchError{Source: SourcePractice, Reason: FetchReasonNetwork, Err: err}
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return practiceAppointmentPage{}, &FetchError{Source: SourcePractice, Reason: FetchReasonNetwork, Err: readErr}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return practiceAppointmentPage{}, &FetchError{Source: SourcePractice, Reason: FetchReasonAuthExpired,
			Err: fmt.Errorf("list appointments: %s", resp.Status)}
	case resp.StatusCode == http.StatusTooManyRequests:
		return practiceAppointmentPage{}, &FetchError{Source: SourcePractice, Reason: FetchReasonRateLimited,
			Err: fmt.Errorf("list appointments: %s", resp.Status)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return practiceAppointmentPage{}, &FetchError{Source: SourcePractice, Reason: FetchReasonNetwork,
			Err: fmt.Errorf("list appointments: status=%d body=%s", resp.StatusCode, truncateBody(body))}
	}

	var page practiceAppointmentPage
	if err := json.Unmarshal(body, &page); err != nil {
		return practiceAppointmentPage{}, &FetchError{Source: SourcePractice, Reason: FetchReasonNetwork, Err: err}
	}
	return page, nil
}

func truncateBody(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

// PracticeAdapter normalizes practice-management appointments into
// canonical events. The source is explicit and trusted; the classifier
// leaves these alone.
type PracticeAdapter struct {
	client *PracticeHTTPClient
}

func NewPracticeAdapter(client *PracticeHTTPClient) *PracticeAdapter {
	return &PracticeAdapter{client: client}
}

func (a *PracticeAdapter) Source() Source {
	return SourcePractice
}

func (a *PracticeAdapter) Fetch(ctx context.Context, rng TimeRange) ([]Event, error) {
	if err := rng.Validate(); err != nil {
		return nil, err
	}
	appointments, err := a.client.ListAppointments(ctx, rng)
	if err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(appointments))
	for _, appt := range appointments {
		e := Event{
			ID:            appt.ID,
			Title:         appt.Title,
			Description:   appt.Description,
			Location:      appt.Location,
			StartTime:     appt.StartTime.UTC(),
			EndTime:       appt.EndTime.UTC(),
			Source:        SourcePractice,
			CalendarID:    appt.CalendarID,
			TrustedSource: true,
		}
		if e.Validate() != nil {
			continue
		}
		if rng.Contains(e) {
			events = append(events, e)
		}
	}
	return events, nil
}
