package calsync

import (
	"sort"
	"strings"
)

// MergePolicy controls cross-source duplicate suppression. The
// authoritative source wins when two origins describe the same
// real-world appointment. Practice-management is the default because
// its records carry the clinical detail, but the priority is a policy
// knob rather than a constant.
type MergePolicy struct {
	CollisionPriority Source
}

func DefaultMergePolicy() MergePolicy {
	return MergePolicy{CollisionPriority: SourcePractice}
}

func (p MergePolicy) normalized() MergePolicy {
	if !p.CollisionPriority.Valid() {
		p.CollisionPriority = SourcePractice
	}
	return p
}

// MergeInput is the join point of one sync cycle: everything the
// adapters produced for the range, plus the sources that failed.
type MergeInput struct {
	Range   TimeRange
	Fetched map[Source][]Event
	Failed  []Source
}

// MergeResult is the canonical event set for the range.
type MergeResult struct {
	Events        []Event
	Partial       bool
	FailedSources []Source
	Suppressed    int
}

// Merger reduces the per-adapter event lists into one canonical set.
// It is a synchronous, single-threaded reduction; callers must have
// joined on all adapter fetches first.
type Merger struct {
	policy MergePolicy
}

func NewMerger(policy MergePolicy) *Merger {
	return &Merger{policy: policy.normalized()}
}

// Merge combines classified adapter output with the previously cached
// events for the same range.
//
// Rules, in order:
//   - (source, id) dedup within the fetch: the later record replaces
//     the earlier one wholesale, never field by field.
//   - a source that failed keeps its previously cached events for the
//     range untouched (stale-but-present beats empty).
//   - editable fields (notes, action items) carry over from the prior
//     cached copy of the same key; no adapter payload includes them.
//   - cross-source collisions (identical start/end, overlapping title)
//     keep only the priority source's record.
//
// Absence handling is implicit: a synced source's cached events that do
// not reappear in Fetched are simply not in the output, which is what
// lets the store treat the result as a full range replacement.
func (m *Merger) Merge(previous []Event, in MergeInput) MergeResult {
	failed := make(map[Source]bool, len(in.Failed))
	for _, src := range in.Failed {
		failed[src] = true
	}

	prevByKey := make(map[EventKey]Event, len(previous))
	for _, e := range previous {
		prevByKey[e.Key()] = e
	}

	merged := make(map[EventKey]Event)
	order := make([]EventKey, 0, len(previous))

	add := func(e Event) {
		key := e.Key()
		if prior, ok := prevByKey[key]; ok {
			// Notes and action items are user data layered on top of
			// the synced payload; the fresh fetch never carries them.
			if len(e.Notes) == 0 {
				e.Notes = prior.Notes
			}
			if len(e.ActionItems) == 0 {
				e.ActionItems = prior.ActionItems
			}
		}
		if _, seen := merged[key]; !seen {
			order = append(order, key)
		}
		merged[key] = e
	}

	for _, events := range in.Fetched {
		for _, e := range events {
			if !in.Range.Contains(e) {
				continue
			}
			add(e)
		}
	}

	// Failed sources contribute their cached events unchanged.
	for _, e := range previous {
		if !failed[e.Source] {
			continue
		}
		key := e.Key()
		if _, seen := merged[key]; !seen {
			order = append(order, key)
			merged[key] = e
		}
	}

	suppressed := m.suppressCollisions(merged, order)

	events := make([]Event, 0, len(merged))
	for _, key := range order {
		e, ok := merged[key]
		if !ok {
			continue
		}
		events = append(events, e)
	}
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].StartTime.Equal(events[j].StartTime) {
			return events[i].Key().String() < events[j].Key().String()
		}
		return events[i].StartTime.Before(events[j].StartTime)
	})

	return MergeResult{
		Events:        events,
		Partial:       len(in.Failed) > 0,
		FailedSources: append([]Source(nil), in.Failed...),
		Suppressed:    suppressed,
	}
}

// suppressCollisions removes cross-source duplicates in place and
// returns how many records were dropped.
func (m *Merger) suppressCollisions(merged map[EventKey]Event, order []EventKey) int {
	type slot struct{ start, end int64 }
	bySlot := make(map[slot][]EventKey)
	for _, key := range order {
		e, ok := merged[key]
		if !ok {
			continue
		}
		s := slot{start: e.StartTime.Unix(), end: e.EndTime.Unix()}
		bySlot[s] = append(bySlot[s], key)
	}

	suppressed := 0
	for _, keys := range bySlot {
		if len(keys) < 2 {
			continue
		}
		for i := 0; i < len(keys); i++ {
			winner, ok := merged[keys[i]]
			if !ok || winner.Source != m.policy.CollisionPriority {
				continue
			}
			for j := 0; j < len(keys); j++ {
				if i == j {
					continue
				}
				loser, ok := merged[keys[j]]
				if !ok {
					continue
				}
				// Manual entries are user-authored, never mirrors.
				if loser.Source == SourceManual {
					continue
				}
				if loser.Source == m.policy.CollisionPriority {
					// A reclassified mirror can collide with the trusted
					// record it mirrors; the trusted one wins.
					if loser.TrustedSource || !winner.TrustedSource {
						continue
					}
				}
				if titlesOverlap(winner.Title, loser.Title) {
					delete(merged, keys[j])
					suppressed++
				}
			}
		}
	}
	return suppressed
}

// titlesOverlap reports whether two titles plausibly describe the same
// appointment: after lowercasing, one title's token set must contain
// every token of the other ("Jane Doe" vs "Jane Doe Appointment").
func titlesOverlap(a, b string) bool {
	ta := titleTokens(a)
	tb := titleTokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return false
	}
	if len(ta) > len(tb) {
		ta, tb = tb, ta
	}
	super := make(map[string]bool, len(tb))
	for _, tok := range tb {
		super[tok] = true
	}
	for _, tok := range ta {
		if !super[tok] {
			return false
		}
	}
	return true
}

func titleTokens(title string) []string {
	fields := strings.Fields(strings.ToLower(title))
	tokens := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, ".,:;()[]\"'")
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}
