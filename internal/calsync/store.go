package calsync

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// persistedState is the durable snapshot of the cache. Events are keyed
// by "source/id" so the JSON form stays stable across backends.
type persistedState struct {
	Events     map[string]Event     `json:"events"`
	LastSynced map[Source]time.Time `json:"lastSynced,omitempty"`
	SavedAt    time.Time            `json:"savedAt"`
}

// StateBackend persists cache snapshots. Implementations must make Save
// atomic: a failed save leaves the previous durable snapshot intact.
type StateBackend interface {
	Load() (*persistedState, error)
	Save(state *persistedState) error
}

type stateBackendCloser interface {
	Close() error
}

// JSONFileStateBackend persists snapshots to a single JSON file via
// temp-file-and-rename.
type JSONFileStateBackend struct {
	Path string
}

func NewJSONFileStateBackend(path string) *JSONFileStateBackend {
	return &JSONFileStateBackend{Path: strings.TrimSpace(path)}
}

func (b *JSONFileStateBackend) Load() (*persistedState, error) {
	if b == nil || strings.TrimSpace(b.Path) == "" {
		return nil, nil
	}
	data, err := os.ReadFile(b.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var snapshot persistedState
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (b *JSONFileStateBackend) Save(state *persistedState) error {
	if b == nil || strings.TrimSpace(b.Path) == "" || state == nil {
		return nil
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	dir := filepath.Dir(b.Path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := b.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, b.Path)
}

type StoreOptions struct {
	StateFile    string
	StateBackend StateBackend
}

// Store is the canonical event cache: the default read path for every
// consumer, independent of adapter and auth state. All reads serve the
// last fully committed snapshot; a commit either lands durably and in
// memory together, or not at all.
type Store struct {
	mu         sync.RWMutex
	events     map[EventKey]Event
	lastSynced map[Source]time.Time
	backend    StateBackend
	closeOnce  sync.Once
}

func NewStore() *Store {
	return NewStoreWithOptions(StoreOptions{})
}

func NewStoreWithOptions(opts StoreOptions) *Store {
	backend := opts.StateBackend
	if backend == nil && strings.TrimSpace(opts.StateFile) != "" {
		backend = NewJSONFileStateBackend(opts.StateFile)
	}
	s := &Store{
		events:     map[EventKey]Event{},
		lastSynced: map[Source]time.Time{},
		backend:    backend,
	}
	_ = s.loadFromBackend()
	return s
}

func (s *Store) loadFromBackend() error {
	if s.backend == nil {
		return nil
	}
	snapshot, err := s.backend.Load()
	if err != nil || snapshot == nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range snapshot.Events {
		if e.Validate() != nil {
			continue
		}
		s.events[e.Key()] = e
	}
	for src, ts := range snapshot.LastSynced {
		s.lastSynced[src] = ts
	}
	return nil
}

func (s *Store) Close() {
	s.closeOnce.Do(func() {
		if closer, ok := s.backend.(stateBackendCloser); ok && closer != nil {
			_ = closer.Close()
		}
	})
}

// Read returns the cached events overlapping the range, ordered by
// start time. It never touches an adapter.
func (s *Store) Read(rng TimeRange) ([]Event, error) {
	if err := rng.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := make([]Event, 0, 32)
	for _, e := range s.events {
		if rng.Contains(e) {
			events = append(events, e)
		}
	}
	sortEvents(events)
	return events, nil
}

// Get returns a single cached event by key.
func (s *Store) Get(key EventKey) (Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[key]
	if !ok {
		return Event{}, ErrNotFound
	}
	return e, nil
}

// LastSyncedAt reports when the source last committed a sync cycle.
func (s *Store) LastSyncedAt(src Source) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ts, ok := s.lastSynced[src]
	return ts, ok
}

// tombstoneScope is the adapter a cached record answers to for
// absence-based deletion. Reclassified mirrors keep practice-management
// as their Source but still live and die with the feed that produced
// them.
func tombstoneScope(e Event) Source {
	if !e.TrustedSource {
		return SourceRemoteCalendar
	}
	return e.Source
}

// ReplaceRange commits one sync cycle: within rng, events belonging to
// the synced sources are replaced wholesale by the new set (absence
// means deleted at origin), and nothing outside rng or belonging to
// other sources is touched. The cycle's inputs are stale by the length
// of its fetch phase, so the commit reconciles against live state:
// baseline is the snapshot the cycle merged against, only events
// present in it are tombstoned, the manual partition is taken from
// live state rather than the cycle's copy of it, and a notes or
// action-item patch that landed after the baseline wins over the merge
// output. The durable save happens before the in-memory swap so a
// backend failure leaves the prior snapshot serving reads.
func (s *Store) ReplaceRange(rng TimeRange, synced []Source, baseline, events []Event) (int, error) {
	if err := rng.Validate(); err != nil {
		return 0, err
	}
	for _, e := range events {
		if err := e.Validate(); err != nil {
			return 0, err
		}
	}
	syncedSet := make(map[Source]bool, len(synced))
	for _, src := range synced {
		syncedSet[src] = true
	}
	baseByKey := make(map[EventKey]Event, len(baseline))
	for _, e := range baseline {
		baseByKey[e.Key()] = e
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[EventKey]Event, len(s.events)+len(events))
	for key, e := range s.events {
		if e.Source != SourceManual && syncedSet[tombstoneScope(e)] && rng.Contains(e) {
			if _, inBase := baseByKey[key]; inBase {
				continue // tombstoned unless re-added below
			}
			// Absent from the baseline the cycle merged against; the
			// merge output knows nothing about it.
		}
		next[key] = e
	}
	committed := 0
	for _, e := range events {
		if e.Source == SourceManual {
			// Manual entries change only through the mutation API; the
			// cycle's copy of the partition may predate a mid-cycle
			// create, edit, or delete.
			continue
		}
		key := e.Key()
		if live, ok := s.events[key]; ok && live.UpdatedAt.After(baseByKey[key].UpdatedAt) {
			e.Notes = append([]string(nil), live.Notes...)
			e.ActionItems = append([]string(nil), live.ActionItems...)
			e.UpdatedAt = live.UpdatedAt
		}
		e.ClassificationScore = 0
		next[key] = e
		committed++
	}

	now := time.Now().UTC()
	nextSynced := make(map[Source]time.Time, len(s.lastSynced)+len(synced))
	for src, ts := range s.lastSynced {
		nextSynced[src] = ts
	}
	for _, src := range synced {
		nextSynced[src] = now
	}

	if err := s.saveCandidate(next, nextSynced, now); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCacheWrite, err)
	}
	s.events = next
	s.lastSynced = nextSynced
	return committed, nil
}

// EventPatch is a partial update. Nil fields are left unchanged.
type EventPatch struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Location    *string    `json:"location,omitempty"`
	StartTime   *time.Time `json:"startTime,omitempty"`
	EndTime     *time.Time `json:"endTime,omitempty"`
	Notes       *[]string  `json:"notes,omitempty"`
	ActionItems *[]string  `json:"actionItems,omitempty"`
}

func (p EventPatch) touchesSyncedFields() bool {
	return p.Title != nil || p.Description != nil || p.Location != nil ||
		p.StartTime != nil || p.EndTime != nil
}

// PatchEvent applies a partial update. Manual events accept any field;
// synced sources accept only the editable overlay (notes, action
// items), which the merge engine preserves across re-syncs.
func (s *Store) PatchEvent(key EventKey, patch EventPatch) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.events[key]
	if !ok {
		return Event{}, ErrNotFound
	}
	if key.Source != SourceManual && patch.touchesSyncedFields() {
		return Event{}, fmt.Errorf("%w: %s", ErrNotEditable, key)
	}

	updated := existing
	if patch.Title != nil {
		updated.Title = *patch.Title
	}
	if patch.Description != nil {
		updated.Description = *patch.Description
	}
	if patch.Location != nil {
		updated.Location = *patch.Location
	}
	if patch.StartTime != nil {
		updated.StartTime = *patch.StartTime
	}
	if patch.EndTime != nil {
		updated.EndTime = *patch.EndTime
	}
	if patch.Notes != nil {
		updated.Notes = append([]string(nil), (*patch.Notes)...)
	}
	if patch.ActionItems != nil {
		updated.ActionItems = append([]string(nil), (*patch.ActionItems)...)
	}
	updated.UpdatedAt = time.Now().UTC()
	if err := updated.Validate(); err != nil {
		return Event{}, err
	}

	if err := s.commitEventLocked(key, &updated); err != nil {
		return Event{}, err
	}
	return updated, nil
}

// PutManualEvent inserts or replaces a locally created entry.
func (s *Store) PutManualEvent(e Event) (Event, error) {
	e.Source = SourceManual
	e.TrustedSource = true
	e.CalendarID = ""
	e.UpdatedAt = time.Now().UTC()
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.commitEventLocked(e.Key(), &e); err != nil {
		return Event{}, err
	}
	return e, nil
}

// DeleteManualEvent removes a locally created entry. Synced events are
// deleted only by their origin via the tombstone policy.
func (s *Store) DeleteManualEvent(id string) error {
	key := EventKey{Source: SourceManual, ID: id}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[key]; !ok {
		return ErrNotFound
	}
	return s.commitEventLocked(key, nil)
}

// ManualEvents lists the manual partition for the range; it backs the
// manual-entry adapter.
func (s *Store) ManualEvents(rng TimeRange) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := make([]Event, 0, 8)
	for _, e := range s.events {
		if e.Source == SourceManual && rng.Contains(e) {
			events = append(events, e)
		}
	}
	sortEvents(events)
	return events
}

// commitEventLocked stages a single-event mutation (nil deletes),
// persists it, and applies it in memory only on durable success.
func (s *Store) commitEventLocked(key EventKey, e *Event) error {
	next := make(map[EventKey]Event, len(s.events)+1)
	for k, existing := range s.events {
		next[k] = existing
	}
	if e == nil {
		delete(next, key)
	} else {
		next[key] = *e
	}
	if err := s.saveCandidate(next, s.lastSynced, time.Now().UTC()); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheWrite, err)
	}
	s.events = next
	return nil
}

func (s *Store) saveCandidate(events map[EventKey]Event, lastSynced map[Source]time.Time, now time.Time) error {
	if s.backend == nil {
		return nil
	}
	snapshot := &persistedState{
		Events:     make(map[string]Event, len(events)),
		LastSynced: make(map[Source]time.Time, len(lastSynced)),
		SavedAt:    now,
	}
	for key, e := range events {
		snapshot.Events[key.String()] = e
	}
	for src, ts := range lastSynced {
		snapshot.LastSynced[src] = ts
	}
	return s.backend.Save(snapshot)
}

func sortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].StartTime.Equal(events[j].StartTime) {
			return events[i].Key().String() < events[j].Key().String()
		}
		return events[i].StartTime.Before(events[j].StartTime)
	})
}
