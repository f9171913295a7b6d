package intervention

import (
	"strings"
	"testing"

	"github.com/mattdarbro/loop-symphony-sub001/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestRun_ProactiveFiresOnRecurringPattern(t *testing.T) {
	ctx := Context{
		InstrumentUsed: "research",
		TrustLevel:     0,
		RecentErrorPatterns: []domain.ErrorPattern{
			{Category: domain.ErrorTimeout, Instrument: "research", OccurrenceCount: 5},
		},
	}
	out := Run(ctx)
	assert.True(t, containsPrefix(out, "[proactive]"))
}

func TestRun_TrustLevel2OnlyAllowsProactiveAndPushback(t *testing.T) {
	longQuery := strings.Repeat("word ", 70)
	ctx := Context{
		Query:      longQuery,
		TrustLevel: 2,
		Outcome:    domain.OutcomeInconclusive,
		Confidence: 0.1,
	}
	out := Run(ctx)
	for _, s := range out {
		assert.False(t, strings.HasPrefix(s, "[scoping]"))
		assert.False(t, strings.HasPrefix(s, "[education]"))
	}
}

func TestRun_ScopingRequiresConjunctionsAndTroubledOutcome(t *testing.T) {
	ctx := Context{
		Query:      "find me restaurants and hotels and flights and car rentals",
		TrustLevel: 0,
		Outcome:    domain.OutcomeBounded,
		Confidence: 0.9,
	}
	out := Run(ctx)
	assert.True(t, containsPrefix(out, "[scoping]"))
}

func TestRun_TruncatesToMaxInterventions(t *testing.T) {
	ctx := Context{
		Query:      strings.Repeat("word ", 70) + " and and and research compare",
		TrustLevel: 0,
		Outcome:    domain.OutcomeBounded,
		Confidence: 0.1,
		Intent:     "compare two things",
		RecentErrorPatterns: []domain.ErrorPattern{
			{Category: domain.ErrorTimeout, OccurrenceCount: 10},
		},
	}
	out := Run(ctx)
	assert.LessOrEqual(t, len(out), MaxInterventions)
}

func containsPrefix(items []string, prefix string) bool {
	for _, s := range items {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}
