package calsync

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"
)

const maxOccurrencesPerEvent = 1000

// FeedSource is one remote sub-calendar, consumed as an ICS feed.
type FeedSource struct {
	CalendarID string
	URL        string
}

type RemoteCalendarAdapterOptions struct {
	Feeds         []FeedSource
	TokenProvider AccessTokenProvider
	HTTPClient    *http.Client
}

// RemoteCalendarAdapter fetches the configured ICS feeds, expands
// recurring events within the requested range, and normalizes VEVENTs
// into canonical events. Events come out with the default
// remote-calendar source and are left untrusted so the classifier may
// relabel mirrored practice appointments.
type RemoteCalendarAdapter struct {
	feeds         []FeedSource
	tokenProvider AccessTokenProvider
	httpClient    *http.Client
}

func NewRemoteCalendarAdapter(opts RemoteCalendarAdapterOptions) *RemoteCalendarAdapter {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &RemoteCalendarAdapter{
		feeds:         append([]FeedSource(nil), opts.Feeds...),
		tokenProvider: opts.TokenProvider,
		httpClient:    httpClient,
	}
}

func (a *RemoteCalendarAdapter) Source() Source {
	return SourceRemoteCalendar
}

func (a *RemoteCalendarAdapter) Fetch(ctx context.Context, rng TimeRange) ([]Event, error) {
	if err := rng.Validate(); err != nil {
		return nil, err
	}
	events := make([]Event, 0, 32)
	for _, feed := range a.feeds {
		body, err := a.fetchFeed(ctx, feed)
		if err != nil {
			return nil, err
		}
		feedEvents, err := parseFeed(feed, body, rng)
		if err != nil {
			return nil, &FetchError{Source: SourceRemoteCalendar, Reason: FetchReasonNetwork, Err: err}
		}
		events = append(events, feedEvents...)
	}
	return events, nil
}

func (a *RemoteCalendarAdapter) fetchFeed(ctx context.Context, feed FeedSource) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, &FetchError{Source: SourceRemoteCalendar, Reason: FetchReasonNetwork, Err: err}
	}
	if a.tokenProvider != nil {
		token, err := a.tokenProvider(ctx)
		if err != nil {
			return nil, &FetchError{Source: SourceRemoteCalendar, Reason: FetchReasonAuthExpired, Err: err}
		}
		if token = strings.TrimSpace(token); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Source: SourceRemoteCalendar, Reason: FetchReasonNetwork, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &FetchError{Source: SourceRemoteCalendar, Reason: FetchReasonAuthExpired,
			Err: fmt.Errorf("feed %s: %s", feed.CalendarID, resp.Status)}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &FetchError{Source: SourceRemoteCalendar, Reason: FetchReasonRateLimited,
			Err: fmt.Errorf("feed %s: %s", feed.CalendarID, resp.Status)}
	case resp.StatusCode != http.StatusOK:
		return nil, &FetchError{Source: SourceRemoteCalendar, Reason: FetchReasonNetwork,
			Err: fmt.Errorf("feed %s: %s", feed.CalendarID, resp.Status)}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Source: SourceRemoteCalendar, Reason: FetchReasonNetwork, Err: err}
	}
	return body, nil
}

func parseFeed(feed FeedSource, body []byte, rng TimeRange) ([]Event, error) {
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", feed.CalendarID, err)
	}
	events := make([]Event, 0, len(cal.Events()))
	for _, ve := range cal.Events() {
		expanded, err := expandVEvent(feed, ve, rng)
		if err != nil {
			// A malformed VEVENT should not sink the whole feed.
			continue
		}
		events = append(events, expanded...)
	}
	return events, nil
}

func expandVEvent(feed FeedSource, ve *ical.VEvent, rng TimeRange) ([]Event, error) {
	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return nil, fmt.Errorf("vevent missing UID")
	}
	uid := uidProp.Value

	start, err := ve.GetStartAt()
	if err != nil {
		// DATE-valued starts need the all-day accessor.
		start, err = ve.GetAllDayStartAt()
		if err != nil {
			return nil, err
		}
	}
	end, endErr := ve.GetEndAt()
	if endErr != nil {
		end, endErr = ve.GetAllDayEndAt()
	}
	if endErr != nil || !start.Before(end) {
		// Events without DTEND default to one hour.
		end = start.Add(time.Hour)
	}

	base := Event{
		ID:         uid,
		Title:      propValue(ve, ical.ComponentPropertySummary),
		Location:   propValue(ve, ical.ComponentPropertyLocation),
		StartTime:  start.UTC(),
		EndTime:    end.UTC(),
		Source:     SourceRemoteCalendar,
		CalendarID: feed.CalendarID,
		AllDay:     isAllDay(ve),
	}
	base.Description = propValue(ve, ical.ComponentPropertyDescription)

	rawRRule := propValue(ve, ical.ComponentProperty(ical.PropertyRrule))
	if rawRRule == "" {
		if !rng.Contains(base) {
			return nil, nil
		}
		return []Event{base}, nil
	}

	rule, err := rrule.StrToRRule(rawRRule)
	if err != nil {
		return nil, fmt.Errorf("uid %s: bad rrule %q: %w", uid, rawRRule, err)
	}
	rule.DTStart(start)

	var set rrule.Set
	set.RRule(rule)
	for _, prop := range ve.Properties {
		if ical.Property(prop.IANAToken) != ical.PropertyExdate {
			continue
		}
		for _, ex := range parseExDates(prop, start.Location()) {
			set.ExDate(ex)
		}
	}

	duration := end.Sub(start)
	times := set.Between(rng.Start.In(start.Location()), rng.End.In(start.Location()), true)
	if len(times) > maxOccurrencesPerEvent {
		times = times[:maxOccurrencesPerEvent]
	}
	occurrences := make([]Event, 0, len(times))
	for _, occStart := range times {
		occ := base
		occ.StartTime = occStart.UTC()
		occ.EndTime = occStart.Add(duration).UTC()
		// Recurring instances need per-occurrence identity so the
		// (source, id) key stays unique in the cache.
		occ.ID = uid + "/" + occ.StartTime.Format(time.RFC3339)
		if rng.Contains(occ) {
			occurrences = append(occurrences, occ)
		}
	}
	return occurrences, nil
}

// parseExDates expands one EXDATE property into concrete times. The
// value may hold a comma-separated list in any RFC 5545 form: UTC,
// floating local, or date-only. Floating and date-only values resolve
// in the TZID parameter's zone when present, otherwise in loc (the
// event start's zone), matching how the recurrence itself expands.
func parseExDates(prop ical.IANAProperty, loc *time.Location) []time.Time {
	if vs, ok := prop.ICalParameters["TZID"]; ok && len(vs) > 0 {
		if tz, err := time.LoadLocation(vs[0]); err == nil {
			loc = tz
		}
	}
	out := make([]time.Time, 0, 1)
	for _, raw := range strings.Split(prop.Value, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if ex, err := time.Parse("20060102T150405Z", raw); err == nil {
			out = append(out, ex)
			continue
		}
		if ex, err := time.ParseInLocation("20060102T150405", raw, loc); err == nil {
			out = append(out, ex)
			continue
		}
		if ex, err := time.ParseInLocation("20060102", raw, loc); err == nil {
			out = append(out, ex)
		}
	}
	return out
}

func propValue(ve *ical.VEvent, name ical.ComponentProperty) string {
	if p := ve.GetProperty(name); p != nil {
		return p.Value
	}
	return ""
}

// isAllDay detects DATE-valued DTSTART (VALUE=DATE or no time part).
func isAllDay(ve *ical.VEvent) bool {
	p := ve.GetProperty(ical.ComponentPropertyDtStart)
	if p == nil {
		return false
	}
	if params := p.ICalParameters; params != nil {
		if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
			return true
		}
	}
	return !strings.Contains(p.Value, "T")
}
