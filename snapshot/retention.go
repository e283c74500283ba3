package snapshot

import (
	"context"
	"sort"
	"time"
)

// RetentionRule sets a TTL for records matching Variant and State.
// Empty fields match any value.
type RetentionRule struct {
	Variant string
	State   State
	TTL     time.Duration
}

// RetentionRules configures how long records and their archived
// artifacts are kept. A zero TTL keeps them forever.
type RetentionRules struct {
	DefaultTTL time.Duration
	ByVariant  map[string]time.Duration
	ByState    map[State]time.Duration
	Rules      []RetentionRule
}

// TTL returns the TTL for record.
func (r RetentionRules) TTL(record Record) time.Duration {
	if ttl, ok := matchRetentionRules(r.Rules, record.Variant, record.State); ok {
		return ttl
	}
	if ttl, ok := r.ByVariant[record.Variant]; ok {
		return ttl
	}
	if ttl, ok := r.ByState[record.State]; ok {
		return ttl
	}
	return r.DefaultTTL
}

// Expired reports whether record outlived its TTL at now.
func (r RetentionRules) Expired(record Record, now time.Time) bool {
	if record.State == StateRunning {
		return false
	}
	ttl := r.TTL(record)
	if ttl <= 0 || record.CreatedAt.IsZero() {
		return false
	}
	return !record.CreatedAt.Add(ttl).After(now)
}

func matchRetentionRules(rules []RetentionRule, variant string, state State) (time.Duration, bool) {
	type match struct {
		ttl   time.Duration
		score int
		index int
	}
	var matches []match
	for idx, rule := range rules {
		if rule.Variant != "" && rule.Variant != variant {
			continue
		}
		if rule.State != "" && rule.State != state {
			continue
		}
		score := 0
		if rule.Variant != "" {
			score += 2
		}
		if rule.State != "" {
			score++
		}
		matches = append(matches, match{ttl: rule.TTL, score: score, index: idx})
	}
	if len(matches) == 0 {
		return 0, false
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score == matches[j].score {
			return matches[i].index < matches[j].index
		}
		return matches[i].score > matches[j].score
	})
	return matches[0].ttl, true
}

// RecordDeleter is implemented by trackers that can remove records.
type RecordDeleter interface {
	Delete(ctx context.Context, id string) error
}

// Cleanup deletes expired records and their archived artifacts and
// returns how many records were removed. store may be nil.
func Cleanup(ctx context.Context, tracker Tracker, store ArtifactStore, rules RetentionRules, now time.Time) (int, error) {
	if tracker == nil {
		return 0, NewError(KindNotImpl, "snapshot tracker not configured", nil)
	}
	deleter, ok := tracker.(RecordDeleter)
	if !ok {
		return 0, NewError(KindNotImpl, "snapshot tracker cannot delete records", nil)
	}
	if now.IsZero() {
		now = time.Now()
	}

	records, err := tracker.List(ctx, RecordFilter{})
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, record := range records {
		if !rules.Expired(record, now) {
			continue
		}
		if record.ArtifactKey != "" && store != nil {
			if err := store.Delete(ctx, record.ArtifactKey); err != nil && KindFromError(err) != KindNotFound {
				return deleted, err
			}
		}
		if err := deleter.Delete(ctx, record.ID); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}
