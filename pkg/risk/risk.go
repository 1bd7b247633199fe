// Package risk turns a scan's effective finding severities into a single
// numeric risk score and a categorical risk level. The severity weights
// and level thresholds are policy constants kept in one place; nothing
// else in the codebase hard-codes them.
package risk

import (
	governance "github.com/jingkaihe/skillgate/pkg/types/governance"
)

// severityWeights maps each severity to its point contribution.
var severityWeights = map[governance.Severity]int{
	governance.SeverityInfo:     0,
	governance.SeverityLow:      5,
	governance.SeverityMedium:   15,
	governance.SeverityHigh:     35,
	governance.SeverityCritical: 70,
}

// levelThreshold pairs an exclusive upper score bound with the level
// assigned below it. Evaluated in order; scores at or above the last
// bound are critical.
type levelThreshold struct {
	below int
	level governance.RiskLevel
}

var levelThresholds = []levelThreshold{
	{below: 10, level: governance.RiskSafe},
	{below: 25, level: governance.RiskLow},
	{below: 50, level: governance.RiskMedium},
	{below: 90, level: governance.RiskHigh},
}

// Weight returns the point weight for a severity. Unknown severities
// contribute nothing.
func Weight(s governance.Severity) int {
	return severityWeights[s]
}

// Score sums the weights of the given effective severities.
func Score(severities []governance.Severity) int {
	score := 0
	for _, s := range severities {
		score += severityWeights[s]
	}
	return score
}

// LevelFor derives the risk level from a score. A hard-blocked scan
// forces the level to blocked regardless of score. The presence of any
// critical finding floors the level at high so that one severe issue is
// never diluted by the threshold bands.
func LevelFor(score int, blocked bool, hasCritical bool) governance.RiskLevel {
	if blocked {
		return governance.RiskBlocked
	}

	level := governance.RiskCritical
	for _, t := range levelThresholds {
		if score < t.below {
			level = t.level
			break
		}
	}

	if hasCritical && (level == governance.RiskSafe || level == governance.RiskLow || level == governance.RiskMedium) {
		return governance.RiskHigh
	}

	return level
}

// Aggregate computes the risk snapshot for one scan from the effective
// severities of its findings. Zero findings yield (0, safe).
func Aggregate(severities []governance.Severity, blocked bool) (int, governance.RiskLevel) {
	score := Score(severities)

	hasCritical := false
	for _, s := range severities {
		if s == governance.SeverityCritical {
			hasCritical = true
			break
		}
	}

	return score, LevelFor(score, blocked, hasCritical)
}

// AggregateFindings is Aggregate over full finding records, using each
// finding's effective severity.
func AggregateFindings(findings []governance.SecurityFinding, blocked bool) (int, governance.RiskLevel) {
	severities := make([]governance.Severity, len(findings))
	for i, f := range findings {
		severities[i] = f.Severity
	}
	return Aggregate(severities, blocked)
}
