package calsync

import (
	"errors"
	"testing"
)

func TestValidateEventPatchPayload(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{"notes only", `{"notes":["ran long"]}`, false},
		{"title", `{"title":"Renamed"}`, false},
		{"multiple fields", `{"title":"X","location":"Office","actionItems":["follow up"]}`, false},
		{"empty object", `{}`, true},
		{"unknown field", `{"source":"manual"}`, true},
		{"wrong type", `{"notes":"not an array"}`, true},
		{"empty title", `{"title":""}`, true},
		{"not json", `title=Renamed`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateEventPatchPayload([]byte(tc.payload))
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidInput) {
					t.Fatalf("err = %v, want ErrInvalidInput", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateManualEventPayload(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{
			"complete",
			`{"title":"Lunch","startTime":"2026-03-02T12:00:00Z","endTime":"2026-03-02T13:00:00Z"}`,
			false,
		},
		{
			"with optional fields",
			`{"id":"m1","title":"Lunch","description":"d","location":"cafe","startTime":"2026-03-02T12:00:00Z","endTime":"2026-03-02T13:00:00Z","notes":["n"]}`,
			false,
		},
		{"missing title", `{"startTime":"2026-03-02T12:00:00Z","endTime":"2026-03-02T13:00:00Z"}`, true},
		{"missing times", `{"title":"Lunch"}`, true},
		{"unknown field", `{"title":"Lunch","startTime":"2026-03-02T12:00:00Z","endTime":"2026-03-02T13:00:00Z","source":"manual"}`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateManualEventPayload([]byte(tc.payload))
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidInput) {
					t.Fatalf("err = %v, want ErrInvalidInput", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
