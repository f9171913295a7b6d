// Package intervention implements the Intervention Engine (C12): four
// detectors that append gentle course-correction hints to a task's
// suggested_followups after it completes.
package intervention

import (
	"sort"
	"strings"

	"github.com/mattdarbro/loop-symphony-sub001/internal/domain"
)

// Thresholds not named explicitly in this module's design note; chosen
// to match the original reference implementation's intent and recorded
// as an open-question decision.
const (
	PushbackWordLimit       = 60
	ScopingConjunctionMin   = 3
	LowConfidenceThreshold  = 0.5
	MaxInterventions        = 3
	RecentQueriesWindow     = 20
)

// Type names one of the four detectors.
type Type string

const (
	TypeProactive Type = "proactive"
	TypePushback  Type = "pushback"
	TypeScoping   Type = "scoping"
	TypeEducation Type = "education"
)

// trustGate lists which intervention types are allowed at each trust
// level; levels ≥ 2 share the level-2 row.
var trustGate = map[int][]Type{
	0: {TypeProactive, TypePushback, TypeScoping, TypeEducation},
	1: {TypeProactive, TypePushback, TypeScoping},
	2: {TypeProactive, TypePushback},
}

func allowedAt(trustLevel int) map[Type]bool {
	level := trustLevel
	if level > 2 {
		level = 2
	}
	allowed := make(map[Type]bool)
	for _, t := range trustGate[level] {
		allowed[t] = true
	}
	return allowed
}

// Context carries everything a detector needs about one completed task.
type Context struct {
	Query             string
	ResponseSummary   string
	Outcome           domain.Outcome
	Confidence        float64
	InstrumentUsed    string
	Intent            string
	TrustLevel        int
	RecentErrorPatterns []domain.ErrorPattern
	RecentQueries     []string // most recent RecentQueriesWindow queries
}

// Finding is one detector's suggestion, with a confidence used for
// sorting/truncation.
type Finding struct {
	Type       Type
	Message    string
	Confidence float64
}

type detector func(ctx Context) (Finding, bool)

// Run executes all trust-gated detectors, sorts by confidence
// descending, truncates to MaxInterventions, and returns followup
// strings prefixed "[<type>] ". Detector panics/errors are swallowed —
// intervention never blocks task completion.
func Run(ctx Context) []string {
	allowed := allowedAt(ctx.TrustLevel)
	detectors := []struct {
		t Type
		d detector
	}{
		{TypeProactive, detectProactive},
		{TypePushback, detectPushback},
		{TypeScoping, detectScoping},
		{TypeEducation, detectEducation},
	}

	var findings []Finding
	for _, entry := range detectors {
		if !allowed[entry.t] {
			continue
		}
		finding, ok := safeRun(entry.d, ctx)
		if ok {
			findings = append(findings, finding)
		}
	}

	sort.SliceStable(findings, func(i, j int) bool { return findings[i].Confidence > findings[j].Confidence })
	if len(findings) > MaxInterventions {
		findings = findings[:MaxInterventions]
	}

	out := make([]string, 0, len(findings))
	for _, f := range findings {
		out = append(out, "["+string(f.Type)+"] "+f.Message)
	}
	return out
}

func safeRun(d detector, ctx Context) (finding Finding, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	return d(ctx)
}

func detectProactive(ctx Context) (Finding, bool) {
	for _, p := range ctx.RecentErrorPatterns {
		if p.OccurrenceCount < 3 {
			continue
		}
		if p.Instrument != "" && p.Instrument != ctx.InstrumentUsed {
			continue
		}
		return Finding{
			Type:       TypeProactive,
			Message:    "recurring " + string(p.Category) + " errors observed with " + ctx.InstrumentUsed + "; consider a different approach",
			Confidence: 0.7,
		}, true
	}
	return Finding{}, false
}

func detectPushback(ctx Context) (Finding, bool) {
	words := strings.Fields(ctx.Query)
	if len(words) > PushbackWordLimit {
		return Finding{
			Type:       TypePushback,
			Message:    "this request is unusually long; consider breaking it into smaller asks",
			Confidence: 0.6,
		}, true
	}
	if containsImpossibleScope(ctx.Query) {
		return Finding{
			Type:       TypePushback,
			Message:    "this request may be asking for more than a single task can deliver",
			Confidence: 0.65,
		}, true
	}
	return Finding{}, false
}

func containsImpossibleScope(query string) bool {
	lower := strings.ToLower(query)
	for _, phrase := range []string{"everything about", "all possible", "entire history of", "every single"} {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

var conjunctions = []string{" and ", " or ", " but also ", " as well as "}

func countConjunctions(query string) int {
	lower := strings.ToLower(query)
	count := 0
	for _, c := range conjunctions {
		count += strings.Count(lower, c)
	}
	return count
}

func detectScoping(ctx Context) (Finding, bool) {
	if countConjunctions(ctx.Query) < ScopingConjunctionMin {
		return Finding{}, false
	}
	troubled := ctx.Outcome == domain.OutcomeInconclusive || ctx.Outcome == domain.OutcomeBounded || ctx.Confidence < LowConfidenceThreshold
	if !troubled {
		return Finding{}, false
	}
	return Finding{
		Type:       TypeScoping,
		Message:    "this query bundles several asks; splitting it up may improve results",
		Confidence: 0.55,
	}, true
}

// betterInstrument maps intent keywords to the instrument that would
// likely have served better, grounding the education detector's
// capability-mismatch check.
var betterInstrument = map[string]string{
	"compare":   "research",
	"research":  "research",
	"calculate": "note",
	"image":     "vision",
	"photo":     "vision",
}

func detectEducation(ctx Context) (Finding, bool) {
	lowerIntent := strings.ToLower(ctx.Intent)
	lowerQuery := strings.ToLower(ctx.Query)
	for keyword, suggested := range betterInstrument {
		if suggested == ctx.InstrumentUsed {
			continue
		}
		if strings.Contains(lowerIntent, keyword) || strings.Contains(lowerQuery, keyword) {
			return Finding{
				Type:       TypeEducation,
				Message:    "the " + suggested + " instrument may handle requests like this better than " + ctx.InstrumentUsed,
				Confidence: 0.4,
			}, true
		}
	}
	return Finding{}, false
}
