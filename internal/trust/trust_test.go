package trust

import (
	"testing"
	"time"

	"github.com/mattdarbro/loop-symphony-sub001/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordOutcome_ConsecutiveSuccessesResetsOnFailure(t *testing.T) {
	tr := NewTracker(WithClock(func() time.Time { return time.Unix(0, 0) }))
	tr.RecordOutcome("app1", "", domain.OutcomeComplete)
	tr.RecordOutcome("app1", "", domain.OutcomeComplete)
	m := tr.RecordOutcome("app1", "", domain.OutcomeInconclusive)

	assert.Equal(t, 0, m.ConsecutiveSuccesses)
	assert.Equal(t, 3, m.TotalTasks)
	assert.Equal(t, 1, m.FailedTasks)
}

func TestRecordOutcome_SaturatedCountsAsSuccess(t *testing.T) {
	tr := NewTracker()
	m := tr.RecordOutcome("app1", "", domain.OutcomeSaturated)
	assert.Equal(t, 1, m.ConsecutiveSuccesses)
	assert.Equal(t, 1, m.SuccessfulTasks)
}

func TestUpgrade_NeverDemotes(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < 5; i++ {
		tr.RecordOutcome("app1", "user1", domain.OutcomeComplete)
	}
	upgraded := tr.Upgrade("app1", "user1")
	assert.Equal(t, 1, upgraded.CurrentTrustLevel)

	// A single failure resets the streak but must not undo the upgrade.
	tr.RecordOutcome("app1", "user1", domain.OutcomeInconclusive)
	stillUpgraded := tr.Upgrade("app1", "user1")
	assert.Equal(t, 1, stillUpgraded.CurrentTrustLevel)
}

func TestAppWideAndUserKeysAreDistinct(t *testing.T) {
	tr := NewTracker()
	tr.RecordOutcome("app1", "", domain.OutcomeComplete)
	tr.RecordOutcome("app1", "user1", domain.OutcomeComplete)
	tr.RecordOutcome("app1", "user1", domain.OutcomeComplete)

	appWide := tr.Get("app1", "")
	perUser := tr.Get("app1", "user1")
	assert.Equal(t, 1, appWide.TotalTasks)
	assert.Equal(t, 2, perUser.TotalTasks)
}

func TestPolicyEngine_PrioritySortedFirstMatch(t *testing.T) {
	engine := NewPolicyEngine(DefaultPolicyRules())

	eval := engine.Evaluate("financial_data", 3)
	assert.Equal(t, domain.PolicyRequireApproval, eval.Action)
	assert.Equal(t, "financial_data_approval", eval.MatchingRule)
}

func TestPolicyEngine_AllowsResearchAtTrustLevel1(t *testing.T) {
	engine := NewPolicyEngine(DefaultPolicyRules())
	eval := engine.Evaluate("research", 1)
	assert.Equal(t, domain.PolicyAllow, eval.Action)
}

func TestPolicyEngine_DefaultsToRequireApprovalWhenNoRuleMatches(t *testing.T) {
	engine := NewPolicyEngine(DefaultPolicyRules())
	eval := engine.Evaluate("research", 0)
	require.Equal(t, domain.PolicyRequireApproval, eval.Action)
	assert.Empty(t, eval.MatchingRule)
}
