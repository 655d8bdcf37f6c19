package validator

import (
	"github.com/protocore/governor/pkg/protocol"
)

// CategoryWeights assigns each of the nine risk categories (spec §4.2.2) a
// share of the overall score; the nine weights sum to 1.0.
type CategoryWeights struct {
	ToolAccess  float64
	FileAccess  float64
	SideEffects float64
	Enforcement float64
	Behavioral  float64
	Temporal    float64
	Resource    float64
	Complexity  float64
	Conflict    float64
}

// DefaultCategoryWeights returns the default risk weighting.
func DefaultCategoryWeights() CategoryWeights {
	return CategoryWeights{
		ToolAccess:  0.20,
		FileAccess:  0.20,
		SideEffects: 0.15,
		Enforcement: 0.15,
		Behavioral:  0.10,
		Temporal:    0.05,
		Resource:    0.05,
		Complexity:  0.05,
		Conflict:    0.05,
	}
}

// absenceScore is the structural signal for a category whose constraint type
// is entirely absent from a protocol: an axis nothing governs is, for this
// protocol in isolation, an unrestricted one.
const absenceScore = 70.0

// assessRisk scores a candidate protocol across the nine weighted categories
// and buckets the result into a RiskLevel. Each category's score blends a
// structural signal (presence/absence of restriction, wildcard usage) with
// the weighted count of validation issues already found for that category.
func (v *Validator) assessRisk(p protocol.Protocol, issues []ValidationIssue) RiskAssessment {
	factors := []RiskFactor{
		v.scoreToolAccess(p, issues),
		v.scoreFileAccess(p, issues),
		v.scoreSideEffects(p, issues),
		v.scoreEnforcement(p, issues),
		v.scoreBehavioral(p, issues),
		v.scoreTemporal(p, issues),
		v.scoreResource(p, issues),
		v.scoreComplexity(p, issues),
		v.scoreConflict(p, issues),
	}

	var overall float64
	for _, f := range factors {
		overall += f.Score * f.Weight
	}
	score := int(overall + 0.5)
	if score > 100 {
		score = 100
	}

	return RiskAssessment{
		OverallScore: score,
		Level:        riskLevelFor(score),
		Factors:      factors,
		IsAcceptable: score <= v.acceptThreshold,
	}
}

func riskLevelFor(score int) RiskLevel {
	switch {
	case score >= 80:
		return RiskCritical
	case score >= 60:
		return RiskHigh
	case score >= 40:
		return RiskMedium
	case score >= 20:
		return RiskLow
	default:
		return RiskMinimal
	}
}

// issueScore sums the per-issue contribution for one category: error-level
// issues weigh 20-25, warnings 10-15, infos 5 (spec §4.2.2).
func issueScore(issues []ValidationIssue, category string) float64 {
	var s float64
	for _, iss := range issues {
		if iss.Category != category {
			continue
		}
		switch iss.Type {
		case IssueError:
			s += 23
		case IssueWarning:
			s += 12
		case IssueInfo:
			s += 5
		}
	}
	return s
}

func capped(structural, issueContribution float64) float64 {
	return minF(100, structural+issueContribution)
}

func (v *Validator) scoreToolAccess(p protocol.Protocol, issues []ValidationIssue) RiskFactor {
	structural := 0.0
	var mitigations []string
	present := false
	for _, c := range p.Constraints {
		if c.Type != protocol.ConstraintToolRestriction || c.Rule.ToolRestriction == nil || !c.Enabled {
			continue
		}
		present = true
		r := c.Rule.ToolRestriction
		switch {
		case hasUnrestrictedToolPattern(r):
			structural = maxF(structural, 95)
		case len(r.AllowedTools) == 0 && len(r.DeniedTools) == 0 && len(r.ToolPatterns) == 0:
			structural = maxF(structural, 70)
		default:
			if len(r.DeniedTools) > 0 {
				mitigations = append(mitigations, "tool denylist present")
			}
			for _, t := range r.AllowedTools {
				if containsFold([]string{"bash", "shell", "exec", "eval"}, t) {
					structural = maxF(structural, 55)
				}
			}
		}
	}
	if !present {
		structural = absenceScore
	}
	return RiskFactor{Category: "tool_access", Score: capped(structural, issueScore(issues, "tool_access")),
		Weight: v.weights.ToolAccess, Description: "breadth of permitted tool invocation", Mitigations: mitigations}
}

func hasUnrestrictedToolPattern(r *protocol.ToolRestrictionRule) bool {
	for _, pat := range r.ToolPatterns {
		if pat == ".*" || pat == ".+" {
			return true
		}
	}
	return false
}

func (v *Validator) scoreFileAccess(p protocol.Protocol, issues []ValidationIssue) RiskFactor {
	structural := 0.0
	var mitigations []string
	present := false
	for _, c := range p.Constraints {
		if c.Type != protocol.ConstraintFileAccess || c.Rule.FileAccess == nil || !c.Enabled {
			continue
		}
		present = true
		r := c.Rule.FileAccess
		for _, ap := range r.AllowedPaths {
			if overlyPermissivePaths[ap] {
				structural = maxF(structural, 80)
			}
		}
		if len(r.AllowedPaths) == 0 && len(r.DeniedPaths) == 0 {
			structural = maxF(structural, 60)
		}
		if len(r.DeniedPaths) > 0 {
			mitigations = append(mitigations, "path denylist present")
		}
	}
	if !present {
		structural = absenceScore
	}
	return RiskFactor{Category: "file_access", Score: capped(structural, issueScore(issues, "file_access")),
		Weight: v.weights.FileAccess, Description: "breadth of permitted filesystem access", Mitigations: mitigations}
}

func (v *Validator) scoreSideEffects(p protocol.Protocol, issues []ValidationIssue) RiskFactor {
	structural := 0.0
	var mitigations []string
	present := false
	for _, c := range p.Constraints {
		if c.Type != protocol.ConstraintSideEffect || c.Rule.SideEffect == nil || !c.Enabled {
			continue
		}
		present = true
		r := c.Rule.SideEffect
		if r.AllowNetwork != nil && *r.AllowNetwork {
			if len(r.AllowedHosts) == 0 {
				structural = maxF(structural, 75)
			} else {
				structural = maxF(structural, 30)
				mitigations = append(mitigations, "host allowlist present")
			}
		}
		if r.AllowShellCommands != nil && *r.AllowShellCommands {
			if len(r.AllowedCommands) == 0 {
				structural = maxF(structural, 90)
			} else {
				structural = maxF(structural, 45)
				mitigations = append(mitigations, "command allowlist present")
			}
		}
		if r.AllowGitOperations != nil && *r.AllowGitOperations {
			for _, op := range r.AllowedGitOps {
				if containsSubstr(op, "push --force") || containsSubstr(op, "reset --hard") || containsSubstr(op, "clean -fd") {
					structural = maxF(structural, 85)
				}
			}
		}
	}
	if !present {
		structural = absenceScore
	}
	return RiskFactor{Category: "side_effects", Score: capped(structural, issueScore(issues, "side_effects")),
		Weight: v.weights.SideEffects, Description: "exposure from network, shell, and git side effects", Mitigations: mitigations}
}

// scoreEnforcement is not presence/absence based: an EnforcementConfig
// always exists. It scores the laxity of the protocol's own enforcement
// posture — permissive-style modes, disabled pre/post validation, and low
// log levels all raise the score.
func (v *Validator) scoreEnforcement(p protocol.Protocol, issues []ValidationIssue) RiskFactor {
	ec := p.Enforcement
	structural := 0.0
	switch ec.Mode {
	case protocol.ModeStrict:
		structural = 0
	case protocol.ModeAudit:
		structural = 30
	case protocol.ModeLearning:
		structural = 45
	case protocol.ModePermissive:
		structural = 60
	}
	switch ec.LogLevel {
	case protocol.LogNone:
		structural = maxF(structural, 90)
	case protocol.LogMinimal:
		structural = maxF(structural, 40)
	}
	if !ec.PreExecutionValidation || !ec.PostExecutionValidation {
		structural = maxF(structural, 55)
	}
	return RiskFactor{Category: "enforcement", Score: capped(structural, issueScore(issues, "enforcement")),
		Weight: v.weights.Enforcement, Description: "laxity of the protocol's own enforcement configuration"}
}

func (v *Validator) scoreBehavioral(p protocol.Protocol, issues []ValidationIssue) RiskFactor {
	structural := 0.0
	present := false
	for _, c := range p.Constraints {
		if c.Type != protocol.ConstraintBehavioral || c.Rule.Behavioral == nil || !c.Enabled {
			continue
		}
		present = true
		r := c.Rule.Behavioral
		if r.MaxIterations == nil && r.TimeoutSeconds == nil && len(r.ProhibitedActions) == 0 &&
			!r.RequireConfirmation {
			structural = maxF(structural, 50)
		}
	}
	if !present {
		structural = absenceScore
	}
	return RiskFactor{Category: "behavioral", Score: capped(structural, issueScore(issues, "behavioral")),
		Weight: v.weights.Behavioral, Description: "bounds on worker iteration and prohibited actions"}
}

func (v *Validator) scoreTemporal(p protocol.Protocol, issues []ValidationIssue) RiskFactor {
	structural := 0.0
	present := false
	for _, c := range p.Constraints {
		if c.Type != protocol.ConstraintTemporal || c.Rule.Temporal == nil || !c.Enabled {
			continue
		}
		present = true
		r := c.Rule.Temporal
		if r.RateLimitPerMinute == nil && r.RateLimitPerHour == nil && r.CooldownSeconds == nil {
			structural = maxF(structural, 50)
		}
	}
	if !present {
		structural = absenceScore
	}
	return RiskFactor{Category: "temporal", Score: capped(structural, issueScore(issues, "temporal")),
		Weight: v.weights.Temporal, Description: "presence of rate limits and validity windows"}
}

func (v *Validator) scoreResource(p protocol.Protocol, issues []ValidationIssue) RiskFactor {
	structural := 0.0
	present := false
	for _, c := range p.Constraints {
		if c.Type != protocol.ConstraintResource || c.Rule.Resource == nil || !c.Enabled {
			continue
		}
		present = true
		r := c.Rule.Resource
		if r.MaxMemoryMB == nil && r.MaxCPUPercent == nil && r.MaxConcurrentOps == nil && r.MaxDiskWriteMB == nil {
			structural = maxF(structural, 40)
		}
	}
	if !present {
		structural = absenceScore
	}
	return RiskFactor{Category: "resource", Score: capped(structural, issueScore(issues, "resource")),
		Weight: v.weights.Resource, Description: "presence of declared resource ceilings"}
}

func (v *Validator) scoreComplexity(p protocol.Protocol, issues []ValidationIssue) RiskFactor {
	structural := minF(float64(len(p.Constraints)), 40) + minF(float64(len(p.Extends))*5, 30)
	return RiskFactor{Category: "complexity", Score: capped(structural, issueScore(issues, "complexity")),
		Weight: v.weights.Complexity, Description: "number of constraints and extended parents"}
}

func (v *Validator) scoreConflict(p protocol.Protocol, issues []ValidationIssue) RiskFactor {
	return RiskFactor{Category: "conflict", Score: capped(0, issueScore(issues, "conflict")),
		Weight: v.weights.Conflict, Description: "pairwise contradictions between this protocol's own constraints"}
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
