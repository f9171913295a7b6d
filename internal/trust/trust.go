// Package trust implements the Trust Tracker and Policy Engine (C11):
// per-caller outcome history and the priority-sorted rule table gating
// autonomy by trust level.
package trust

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/mattdarbro/loop-symphony-sub001/internal/domain"
)

// key distinguishes (app_id, "") from (app_id, user_id); user_id="" is
// an app-wide bucket, not a wildcard fallback.
type key struct {
	appID  string
	userID string
}

// Tracker is a process-wide, mutex-guarded store of TrustMetrics.
type Tracker struct {
	mu      sync.Mutex
	metrics map[key]*domain.TrustMetrics
	now     func() time.Time
}

type Option func(*Tracker)

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{metrics: make(map[key]*domain.TrustMetrics), now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Get returns a copy of the current metrics for (appID, userID), zero
// valued if unseen.
func (t *Tracker) Get(appID, userID string) domain.TrustMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := key{appID, userID}
	if m, ok := t.metrics[k]; ok {
		return *m
	}
	return domain.TrustMetrics{AppID: appID, UserID: userID}
}

// RecordOutcome increments totals and the consecutive-success streak
// for (appID, userID). consecutive_successes only increments on
// COMPLETE/SATURATED; any other outcome resets it to 0.
func (t *Tracker) RecordOutcome(appID, userID string, outcome domain.Outcome) domain.TrustMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := key{appID, userID}
	m, ok := t.metrics[k]
	if !ok {
		m = &domain.TrustMetrics{AppID: appID, UserID: userID}
		t.metrics[k] = m
	}

	m.TotalTasks++
	success := outcome == domain.OutcomeComplete || outcome == domain.OutcomeSaturated
	if success {
		m.SuccessfulTasks++
		m.ConsecutiveSuccesses++
	} else {
		m.FailedTasks++
		m.ConsecutiveSuccesses = 0
	}
	m.LastTaskAt = t.now()
	m.UpdatedAt = t.now()

	return *m
}

// Upgrade applies SuggestedTrustLevel if it exceeds CurrentTrustLevel,
// never demoting. Returns the (possibly unchanged) metrics.
func (t *Tracker) Upgrade(appID, userID string) domain.TrustMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := key{appID, userID}
	m, ok := t.metrics[k]
	if !ok {
		return domain.TrustMetrics{AppID: appID, UserID: userID}
	}
	if suggested := m.SuggestedTrustLevel(); suggested > m.CurrentTrustLevel {
		m.CurrentTrustLevel = suggested
		m.UpdatedAt = t.now()
	}
	return *m
}

// PolicyEvaluation is the verdict for one (action_type, trust_level) check.
type PolicyEvaluation struct {
	Action       domain.PolicyAction
	MatchingRule string
	Reason       string
}

// PolicyEngine evaluates domain.PolicyRule tables by priority-sorted
// first match; default REQUIRE_APPROVAL when nothing matches.
type PolicyEngine struct {
	rules []domain.PolicyRule
}

func NewPolicyEngine(rules []domain.PolicyRule) *PolicyEngine {
	sorted := make([]domain.PolicyRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })
	return &PolicyEngine{rules: sorted}
}

// DefaultPolicyRules is the seed table from this module's design note:
// financial data and trust upgrades require approval; autonomous
// research, execution, and sub-conductor spawning unlock progressively
// with trust level.
func DefaultPolicyRules() []domain.PolicyRule {
	return []domain.PolicyRule{
		{
			Name:          "financial_data_approval",
			Description:   "financial or payment actions always require approval",
			ActionTypes:   []string{"financial_data"},
			MinTrustLevel: 0,
			MaxTrustLevel: 3,
			Action:        domain.PolicyRequireApproval,
			Priority:      100,
		},
		{
			Name:          "trust_upgrade_approval",
			Description:   "trust level upgrades require approval",
			ActionTypes:   []string{"trust_upgrade"},
			MinTrustLevel: 0,
			MaxTrustLevel: 3,
			Action:        domain.PolicyRequireApproval,
			Priority:      90,
		},
		{
			Name:          "autonomous_research",
			Description:   "research-mode execution without review",
			ActionTypes:   []string{"research"},
			MinTrustLevel: 1,
			MaxTrustLevel: 3,
			Action:        domain.PolicyAllow,
			Priority:      50,
		},
		{
			Name:          "autonomous_execution",
			Description:   "composition/loop execution without review",
			ActionTypes:   []string{"execution"},
			MinTrustLevel: 2,
			MaxTrustLevel: 3,
			Action:        domain.PolicyAllow,
			Priority:      40,
		},
		{
			Name:          "delegating_mode",
			Description:   "sub-conductor spawning",
			ActionTypes:   []string{"spawn"},
			MinTrustLevel: 3,
			MaxTrustLevel: 3,
			Action:        domain.PolicyAllow,
			Priority:      30,
		},
	}
}

// Evaluate returns the first priority-ordered rule whose action_types
// contains actionType and whose trust bracket contains trustLevel.
func (p *PolicyEngine) Evaluate(actionType string, trustLevel int) PolicyEvaluation {
	for _, rule := range p.rules {
		if !containsStr(rule.ActionTypes, actionType) {
			continue
		}
		if trustLevel < rule.MinTrustLevel || trustLevel > rule.MaxTrustLevel {
			continue
		}
		return PolicyEvaluation{
			Action:       rule.Action,
			MatchingRule: rule.Name,
			Reason:       rule.Description,
		}
	}
	return PolicyEvaluation{
		Action: domain.PolicyRequireApproval,
		Reason: "no policy rule matched " + actionType + " at trust level " + strconv.Itoa(trustLevel),
	}
}

func containsStr(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}
