package calsync

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrCacheWrite   = errors.New("cache write failed")
	ErrNotEditable  = errors.New("field not editable for source")
)

// Source identifies the origin system an event was fetched from.
type Source string

const (
	SourceRemoteCalendar Source = "remote-calendar"
	SourcePractice       Source = "practice-management"
	SourceManual         Source = "manual"
)

func (s Source) Valid() bool {
	switch s {
	case SourceRemoteCalendar, SourcePractice, SourceManual:
		return true
	}
	return false
}

// FetchReason categorizes adapter fetch failures.
type FetchReason string

const (
	FetchReasonAuthExpired FetchReason = "auth-expired"
	FetchReasonNetwork     FetchReason = "network"
	FetchReasonRateLimited FetchReason = "rate-limited"
)

// FetchError is the only error type adapters are allowed to return.
// Retry and credential refresh live with the orchestrator's caller,
// never inside the adapter.
type FetchError struct {
	Source Source
	Reason FetchReason
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.Source, e.Reason, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.Source, e.Reason)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Event is the canonical record every adapter normalizes into before
// any cross-source logic runs.
type Event struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
	Source      Source    `json:"source"`
	CalendarID  string    `json:"calendarId,omitempty"`
	AllDay      bool      `json:"allDay,omitempty"`
	Notes       []string  `json:"notes,omitempty"`
	ActionItems []string  `json:"actionItems,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt,omitempty"`

	// TrustedSource marks events whose Source was set directly by the
	// adapter that owns them. The classifier never relabels these.
	TrustedSource bool `json:"trustedSource,omitempty"`

	// ClassificationScore is the indicator count from the last
	// classification pass. Transient; dropped at commit time.
	ClassificationScore int `json:"-"`
}

// Key returns the global dedup key for the event.
func (e Event) Key() EventKey {
	return EventKey{Source: e.Source, ID: e.ID}
}

func (e Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: event id is empty", ErrInvalidInput)
	}
	if !e.Source.Valid() {
		return fmt.Errorf("%w: unknown source %q", ErrInvalidInput, e.Source)
	}
	if e.StartTime.IsZero() || e.EndTime.IsZero() {
		return fmt.Errorf("%w: event %s has zero time bounds", ErrInvalidInput, e.ID)
	}
	if !e.StartTime.Before(e.EndTime) {
		return fmt.Errorf("%w: event %s start %s is not before end %s",
			ErrInvalidInput, e.ID, e.StartTime.Format(time.RFC3339), e.EndTime.Format(time.RFC3339))
	}
	return nil
}

// EventKey is the (source, id) pair that uniquely identifies an event
// in the cache.
type EventKey struct {
	Source Source `json:"source"`
	ID     string `json:"id"`
}

func (k EventKey) String() string {
	return string(k.Source) + "/" + k.ID
}

// TimeRange is a half-open [Start, End) window used for fetches, reads
// and tombstone scoping.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

func (r TimeRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return fmt.Errorf("%w: range bounds are zero", ErrInvalidInput)
	}
	if !r.Start.Before(r.End) {
		return fmt.Errorf("%w: range start is not before end", ErrInvalidInput)
	}
	return nil
}

// Contains reports whether the event overlaps the range. An event
// belongs to every range that intersects [StartTime, EndTime).
func (r TimeRange) Contains(e Event) bool {
	return e.StartTime.Before(r.End) && e.EndTime.After(r.Start)
}

// Overlaps reports whether two ranges intersect.
func (r TimeRange) Overlaps(other TimeRange) bool {
	return r.Start.Before(other.End) && r.End.After(other.Start)
}
