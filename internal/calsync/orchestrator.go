package calsync

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SyncState tracks where a cycle is in the pipeline.
type SyncState string

const (
	SyncStateIdle        SyncState = "idle"
	SyncStateFetching    SyncState = "fetching"
	SyncStateClassifying SyncState = "classifying"
	SyncStateMerging     SyncState = "merging"
	SyncStateCommitting  SyncState = "committing"
)

// SyncResult is the caller-visible outcome of one sync cycle.
type SyncResult struct {
	Range         TimeRange `json:"-"`
	RangeStart    time.Time `json:"rangeStart"`
	RangeEnd      time.Time `json:"rangeEnd"`
	Committed     int       `json:"committed"`
	Partial       bool      `json:"partial"`
	FailedSources []Source  `json:"failedSources"`
	Suppressed    int       `json:"suppressed,omitempty"`
	SyncedAt      time.Time `json:"syncedAt"`
}

type SyncerOptions struct {
	Store      *Store
	Adapters   []SourceAdapter
	Classifier *Classifier
	Merger     *Merger
}

// Syncer coordinates one sync cycle: concurrent adapter fetches joined
// at a barrier, per-event classification, cross-source merge, and an
// atomic range commit. Overlapping ranges are serialized; an identical
// in-flight range coalesces the second caller onto the first result.
type Syncer struct {
	store      *Store
	adapters   []SourceAdapter
	classifier *Classifier
	merger     *Merger

	mu       sync.Mutex
	inflight []*inflightSync

	subMu  sync.Mutex
	subs   map[int]chan SyncResult
	nextID int
}

type inflightSync struct {
	rng    TimeRange
	state  SyncState
	done   chan struct{}
	result SyncResult
	err    error
}

// ActiveSync describes one in-flight cycle for status reporting.
type ActiveSync struct {
	RangeStart time.Time `json:"rangeStart"`
	RangeEnd   time.Time `json:"rangeEnd"`
	State      SyncState `json:"state"`
}

func NewSyncer(opts SyncerOptions) *Syncer {
	classifier := opts.Classifier
	if classifier == nil {
		classifier = NewClassifier(DefaultClassifierConfig())
	}
	merger := opts.Merger
	if merger == nil {
		merger = NewMerger(DefaultMergePolicy())
	}
	return &Syncer{
		store:      opts.Store,
		adapters:   append([]SourceAdapter(nil), opts.Adapters...),
		classifier: classifier,
		merger:     merger,
		subs:       map[int]chan SyncResult{},
	}
}

// SetClassifier swaps the classifier; config hot reload uses this.
func (s *Syncer) SetClassifier(c *Classifier) {
	if c == nil {
		return
	}
	s.mu.Lock()
	s.classifier = c
	s.mu.Unlock()
}

// SetMerger swaps the merge policy; config hot reload uses this.
func (s *Syncer) SetMerger(m *Merger) {
	if m == nil {
		return
	}
	s.mu.Lock()
	s.merger = m
	s.mu.Unlock()
}

// State reports the phase of the oldest in-flight cycle, or idle when
// nothing is running. Cycles on disjoint ranges run concurrently, so
// Active is the full picture; State is the one-line summary.
func (s *Syncer) State() SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.inflight) == 0 {
		return SyncStateIdle
	}
	return s.inflight[0].state
}

// Active lists every in-flight cycle with its range and phase.
func (s *Syncer) Active() []ActiveSync {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := make([]ActiveSync, 0, len(s.inflight))
	for _, fl := range s.inflight {
		active = append(active, ActiveSync{
			RangeStart: fl.rng.Start,
			RangeEnd:   fl.rng.End,
			State:      fl.state,
		})
	}
	return active
}

// Subscribe returns a channel receiving each completed cycle's summary.
// Slow subscribers miss results rather than blocking a commit.
func (s *Syncer) Subscribe() (<-chan SyncResult, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextID
	s.nextID++
	ch := make(chan SyncResult, 8)
	s.subs[id] = ch
	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
	}
}

func (s *Syncer) publish(result SyncResult) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- result:
		default:
		}
	}
}

// Sync runs one cycle for the range. Two callers asking for the same
// range share one cycle; callers with merely overlapping ranges wait
// for the earlier cycle to finish so interleaved tombstone deletions
// cannot corrupt the cache. Cancellation abandons the wait, never an
// in-flight commit.
func (s *Syncer) Sync(ctx context.Context, rng TimeRange) (SyncResult, error) {
	if err := rng.Validate(); err != nil {
		return SyncResult{}, err
	}
	for {
		s.mu.Lock()
		if fl := s.findInflightLocked(rng, true); fl != nil {
			s.mu.Unlock()
			select {
			case <-fl.done:
				return fl.result, fl.err
			case <-ctx.Done():
				return SyncResult{}, ctx.Err()
			}
		}
		if fl := s.findInflightLocked(rng, false); fl != nil {
			s.mu.Unlock()
			select {
			case <-fl.done:
			case <-ctx.Done():
				return SyncResult{}, ctx.Err()
			}
			continue
		}
		fl := &inflightSync{rng: rng, state: SyncStateFetching, done: make(chan struct{})}
		s.inflight = append(s.inflight, fl)
		s.mu.Unlock()

		result, err := s.runCycle(ctx, rng, fl)

		s.mu.Lock()
		fl.result, fl.err = result, err
		for i, other := range s.inflight {
			if other == fl {
				s.inflight = append(s.inflight[:i], s.inflight[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		close(fl.done)

		if err == nil {
			s.publish(result)
		}
		return result, err
	}
}

func (s *Syncer) findInflightLocked(rng TimeRange, exact bool) *inflightSync {
	for _, fl := range s.inflight {
		if exact {
			if fl.rng.Start.Equal(rng.Start) && fl.rng.End.Equal(rng.End) {
				return fl
			}
			continue
		}
		if fl.rng.Overlaps(rng) {
			return fl
		}
	}
	return nil
}

func (s *Syncer) setState(fl *inflightSync, state SyncState) {
	s.mu.Lock()
	fl.state = state
	s.mu.Unlock()
}

type adapterFetch struct {
	source Source
	events []Event
	err    error
}

func (s *Syncer) runCycle(ctx context.Context, rng TimeRange, fl *inflightSync) (SyncResult, error) {
	if len(s.adapters) == 0 {
		return SyncResult{}, fmt.Errorf("%w: no adapters configured", ErrInvalidInput)
	}

	s.mu.Lock()
	classifier, merger := s.classifier, s.merger
	s.mu.Unlock()

	// Fetching: independent I/O, one goroutine per adapter, joined
	// before any cross-source logic runs.
	s.setState(fl, SyncStateFetching)
	fetches := make([]adapterFetch, len(s.adapters))
	var wg sync.WaitGroup
	for i, adapter := range s.adapters {
		wg.Add(1)
		go func(i int, adapter SourceAdapter) {
			defer wg.Done()
			events, err := adapter.Fetch(ctx, rng)
			fetches[i] = adapterFetch{source: adapter.Source(), events: events, err: err}
		}(i, adapter)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return SyncResult{}, err
	}

	fetched := make(map[Source][]Event, len(fetches))
	failed := make([]Source, 0)
	for _, f := range fetches {
		if f.err != nil {
			failed = append(failed, f.source)
			continue
		}
		fetched[f.source] = f.events
	}

	s.setState(fl, SyncStateClassifying)
	for src, events := range fetched {
		classified := make([]Event, 0, len(events))
		for _, e := range events {
			classified = append(classified, classifier.Classify(e))
		}
		fetched[src] = classified
	}

	s.setState(fl, SyncStateMerging)
	previous, err := s.store.Read(rng)
	if err != nil {
		return SyncResult{}, err
	}
	merged := merger.Merge(previous, MergeInput{Range: rng, Fetched: fetched, Failed: failed})

	// Committing is non-cancelable: once the merge output exists, a
	// half-applied range replacement is worse than finishing. The
	// previous snapshot rides along as the commit baseline so mutations
	// that landed during the fetch phase survive.
	s.setState(fl, SyncStateCommitting)
	synced := make([]Source, 0, len(fetched))
	for src := range fetched {
		synced = append(synced, src)
	}
	committed, err := s.store.ReplaceRange(rng, synced, previous, merged.Events)
	if err != nil {
		return SyncResult{}, err
	}

	return SyncResult{
		Range:         rng,
		RangeStart:    rng.Start,
		RangeEnd:      rng.End,
		Committed:     committed,
		Partial:       merged.Partial,
		FailedSources: merged.FailedSources,
		Suppressed:    merged.Suppressed,
		SyncedAt:      time.Now().UTC(),
	}, nil
}
