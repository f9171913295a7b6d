// Package errtracker implements the Error Tracker (C13): typed failure
// recording and aggregation into patterns the Intervention Engine consumes.
package errtracker

import (
	"sync"
	"time"

	"github.com/mattdarbro/loop-symphony-sub001/internal/domain"
)

type patternKey struct {
	category   domain.ErrorCategory
	instrument string
	tool       string
}

// Tracker records ErrorRecords and aggregates them into ErrorPatterns
// keyed by (category, instrument?, tool?).
type Tracker struct {
	mu       sync.Mutex
	records  []domain.ErrorRecord
	patterns map[patternKey]*domain.ErrorPattern
	now      func() time.Time
}

type Option func(*Tracker)

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func New(opts ...Option) *Tracker {
	t := &Tracker{patterns: make(map[patternKey]*domain.ErrorPattern), now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Record stores one observed failure and folds it into its pattern.
func (t *Tracker) Record(rec domain.ErrorRecord) domain.ErrorRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec.OccurredAt = t.now()
	t.records = append(t.records, rec)

	k := patternKey{category: rec.Category, instrument: rec.Instrument, tool: rec.Tool}
	p, ok := t.patterns[k]
	if !ok {
		p = &domain.ErrorPattern{
			Category:   rec.Category,
			Instrument: rec.Instrument,
			Tool:       rec.Tool,
			FirstSeen:  rec.OccurredAt,
		}
		t.patterns[k] = p
	}
	p.OccurrenceCount++
	p.LastSeen = rec.OccurredAt

	return rec
}

// GetPatterns returns a snapshot of all aggregated patterns, used by
// the Intervention Engine's proactive detector.
func (t *Tracker) GetPatterns() []domain.ErrorPattern {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.ErrorPattern, 0, len(t.patterns))
	for _, p := range t.patterns {
		out = append(out, *p)
	}
	return out
}

// Stats summarizes recorded errors for observability endpoints.
type Stats struct {
	ByCategory   map[domain.ErrorCategory]int
	BySeverity   map[domain.ErrorSeverity]int
	ByInstrument map[string]int
	LastHour     int
	LastDay      int
}

func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := Stats{
		ByCategory:   make(map[domain.ErrorCategory]int),
		BySeverity:   make(map[domain.ErrorSeverity]int),
		ByInstrument: make(map[string]int),
	}
	now := t.now()
	for _, r := range t.records {
		stats.ByCategory[r.Category]++
		stats.BySeverity[r.Severity]++
		if r.Instrument != "" {
			stats.ByInstrument[r.Instrument]++
		}
		age := now.Sub(r.OccurredAt)
		if age <= time.Hour {
			stats.LastHour++
		}
		if age <= 24*time.Hour {
			stats.LastDay++
		}
	}
	return stats
}

// RecoveryRate is the fraction of recorded errors whose category is
// not a hard failure category (api_failure, instrument_failure,
// arrangement_failure, tool_failure count as unrecovered; the rest
// represent conditions the caller can retry past).
func (t *Tracker) RecoveryRate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.records) == 0 {
		return 0
	}
	recoverable := 0
	for _, r := range t.records {
		if isRecoverable(r.Category) {
			recoverable++
		}
	}
	return float64(recoverable) / float64(len(t.records))
}

func isRecoverable(c domain.ErrorCategory) bool {
	switch c {
	case domain.ErrorAPIFailure, domain.ErrorInstrumentFailure, domain.ErrorArrangementFailure, domain.ErrorToolFailure:
		return false
	default:
		return true
	}
}

// Relevant reports whether a pattern is germane to a just-completed
// run's instrument, matching the Intervention Engine's proactive
// detector gate (occurrence_count >= 3 and same instrument, or
// category-only when the pattern carries no instrument).
func Relevant(p domain.ErrorPattern, instrument string) bool {
	if p.OccurrenceCount < 3 {
		return false
	}
	if p.Instrument == "" {
		return true
	}
	return p.Instrument == instrument
}
