package calsync

import (
	"context"
)

// AccessTokenProvider supplies adapter credentials. Implementations
// live with the surrounding service; adapters only consume tokens and
// report auth-expired, never refresh.
type AccessTokenProvider func(ctx context.Context) (string, error)

// SourceAdapter fetches and normalizes events for one origin. Adapters
// perform no cross-source logic and no retries; any failure is a
// *FetchError carrying the adapter's source.
type SourceAdapter interface {
	Source() Source
	Fetch(ctx context.Context, rng TimeRange) ([]Event, error)
}

// ManualAdapter exposes locally created entries through the same
// contract as the remote adapters. It reads the cache store's manual
// partition and can never fail a fetch.
type ManualAdapter struct {
	store *Store
}

func NewManualAdapter(store *Store) *ManualAdapter {
	return &ManualAdapter{store: store}
}

func (a *ManualAdapter) Source() Source {
	return SourceManual
}

func (a *ManualAdapter) Fetch(ctx context.Context, rng TimeRange) ([]Event, error) {
	if err := rng.Validate(); err != nil {
		return nil, err
	}
	return a.store.ManualEvents(rng), nil
}
