// Package validator determines whether a worker-proposed protocol is valid
// (free of error-level issues and at or below the risk acceptance threshold) and
// fixable (every error has an auto-applicable fix); see DESIGN.md for its
// grounding.
package validator

import (
	"encoding/json"
	"fmt"

	"github.com/protocore/governor/pkg/protocol"
)

// IssueType mirrors protocol.Severity's three levels for validation issues.
type IssueType string

const (
	IssueError   IssueType = "error"
	IssueWarning IssueType = "warning"
	IssueInfo    IssueType = "info"
)

// ValidationIssue is one finding from a validation pass.
type ValidationIssue struct {
	Type          IssueType
	Category      string
	Code          string
	Message       string
	ConstraintID  string
	Path          string
	SuggestedFix  string
	AutoFixable   bool
}

// RiskFactor is one weighted risk category's contribution to the overall score.
type RiskFactor struct {
	Category    string
	Score       float64 // 0-100
	Weight      float64
	Description string
	Details     map[string]interface{}
	Mitigations []string
}

// RiskLevel buckets the overall risk score.
type RiskLevel string

const (
	RiskMinimal  RiskLevel = "minimal"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskAssessment is the full risk-scoring output for a proposal.
type RiskAssessment struct {
	OverallScore int
	Level        RiskLevel
	Factors      []RiskFactor
	IsAcceptable bool
}

// ProposalValidationResult is the outcome of validate().
type ProposalValidationResult struct {
	IsValid          bool
	Issues           []ValidationIssue
	Risk             RiskAssessment
	ValidatedProtocol *protocol.Protocol
	IsFixable        bool
}

// Validator validates candidate protocols against an immutable base and
// assigns a risk score.
type Validator struct {
	base             protocol.BaseConstraints
	weights          CategoryWeights
	acceptThreshold  int
	cache            *resultCache
}

// Option configures a Validator.
type Option func(*Validator)

// WithRiskWeights overrides the default category weights.
func WithRiskWeights(w CategoryWeights) Option {
	return func(v *Validator) { v.weights = w }
}

// WithAcceptanceThreshold overrides the default risk acceptance threshold (70).
func WithAcceptanceThreshold(t int) Option {
	return func(v *Validator) { v.acceptThreshold = t }
}

// WithCacheSize overrides the default FIFO cache size (100).
func WithCacheSize(n int) Option {
	return func(v *Validator) { v.cache = newResultCache(n) }
}

// New creates a Validator over the given immutable base constraints.
func New(base protocol.BaseConstraints, opts ...Option) *Validator {
	v := &Validator{
		base:            base,
		weights:         DefaultCategoryWeights(),
		acceptThreshold: 70,
		cache:           newResultCache(100),
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Validate runs five passes over the candidate protocol and returns the
// accumulated issues plus risk assessment.
func (v *Validator) Validate(p protocol.Protocol) ProposalValidationResult {
	key := cacheKey(p)
	if cached, ok := v.cache.get(key); ok {
		return cached
	}

	var issues []ValidationIssue
	issues = append(issues, v.checkBaseConstraints(p)...)
	issues = append(issues, v.checkConstraints(p)...)
	issues = append(issues, v.checkEnforcementConfig(p)...)
	issues = append(issues, v.checkComplexity(p)...)

	risk := v.assessRisk(p, issues)

	isValid := true
	for _, iss := range issues {
		if iss.Type == IssueError {
			isValid = false
			break
		}
	}
	isValid = isValid && risk.IsAcceptable

	isFixable := true
	for _, iss := range issues {
		if iss.Type == IssueError && iss.SuggestedFix == "" {
			isFixable = false
			break
		}
	}

	result := ProposalValidationResult{
		IsValid:   isValid,
		Issues:    issues,
		Risk:      risk,
		IsFixable: isFixable,
	}
	if isValid {
		cp := p
		result.ValidatedProtocol = &cp
	}

	v.cache.put(key, result)
	return result
}

func cacheKey(p protocol.Protocol) string {
	b, _ := json.Marshal(p.Constraints)
	return fmt.Sprintf("%s@%s:%x", p.ID, p.Version, hashBytes(b))
}

func hashBytes(b []byte) uint64 {
	var h uint64 = 1469598103934665603
	for _, c := range b {
		h ^= uint64(c)
		h *= 1099511628211
	}
	return h
}

// checkBaseConstraints implements pass 1: detect violations of the
// immutable baseline.
func (v *Validator) checkBaseConstraints(p protocol.Protocol) []ValidationIssue {
	var issues []ValidationIssue

	for _, c := range p.Constraints {
		if c.Rule.ToolRestriction != nil {
			for _, t := range c.Rule.ToolRestriction.AllowedTools {
				if containsFold(v.base.ProhibitedTools, t) {
					issues = append(issues, ValidationIssue{
						Type: IssueError, Category: "tool_access", Code: "base.prohibited_tool_allowed",
						Message:      fmt.Sprintf("constraint %q allows prohibited tool %q", c.ID, t),
						ConstraintID: c.ID, SuggestedFix: "remove_disallowed_tool", AutoFixable: true,
					})
				}
			}
			if v.base.MaxAllowedTools != nil && len(c.Rule.ToolRestriction.AllowedTools) > *v.base.MaxAllowedTools {
				overflow := c.Rule.ToolRestriction.AllowedTools[*v.base.MaxAllowedTools:]
				issues = append(issues, ValidationIssue{
					Type: IssueError, Category: "tool_access", Code: "base.max_allowed_tools_exceeded",
					Message: fmt.Sprintf("constraint %q allows %d tools, exceeding base maximum %d: %s over the limit",
						c.ID, len(c.Rule.ToolRestriction.AllowedTools), *v.base.MaxAllowedTools, quotedList(overflow)),
					ConstraintID: c.ID, SuggestedFix: "remove_disallowed_tool", AutoFixable: true,
				})
			}
		}
		if c.Rule.FileAccess != nil {
			for _, ap := range c.Rule.FileAccess.AllowedPaths {
				if matchesAnyProhibitedPath(v.base.ProhibitedPaths, ap) {
					issues = append(issues, ValidationIssue{
						Type: IssueError, Category: "file_access", Code: "base.prohibited_path_allowed",
						Message:      fmt.Sprintf("constraint %q allows prohibited path %q", c.ID, ap),
						ConstraintID: c.ID, SuggestedFix: "remove_prohibited_path", AutoFixable: true,
					})
				}
			}
			if v.base.MaxAllowedPaths != nil && len(c.Rule.FileAccess.AllowedPaths) > *v.base.MaxAllowedPaths {
				overflow := c.Rule.FileAccess.AllowedPaths[*v.base.MaxAllowedPaths:]
				issues = append(issues, ValidationIssue{
					Type: IssueError, Category: "file_access", Code: "base.max_allowed_paths_exceeded",
					Message: fmt.Sprintf("constraint %q allows %d paths, exceeding base maximum %d: %s over the limit",
						c.ID, len(c.Rule.FileAccess.AllowedPaths), *v.base.MaxAllowedPaths, quotedList(overflow)),
					ConstraintID: c.ID, SuggestedFix: "remove_prohibited_path", AutoFixable: true,
				})
			}
		}
		if c.Rule.Behavioral != nil {
			for _, ra := range c.Rule.Behavioral.RequiredActions {
				if containsFold(v.base.ProhibitedOperations, ra) {
					issues = append(issues, ValidationIssue{
						Type: IssueError, Category: "behavioral", Code: "base.prohibited_operation_required",
						Message:      fmt.Sprintf("constraint %q requires prohibited operation %q", c.ID, ra),
						ConstraintID: c.ID, SuggestedFix: "remove_prohibited_required_action", AutoFixable: true,
					})
				}
			}
		}
	}

	if v.base.RequirePreValidation && !p.Enforcement.PreExecutionValidation {
		issues = append(issues, ValidationIssue{
			Type: IssueError, Category: "enforcement", Code: "base.pre_validation_required",
			Message: "base constraints require pre-execution validation", SuggestedFix: "enable_pre_execution_validation", AutoFixable: true,
		})
	}
	if v.base.RequirePostValidation && !p.Enforcement.PostExecutionValidation {
		issues = append(issues, ValidationIssue{
			Type: IssueError, Category: "enforcement", Code: "base.post_validation_required",
			Message: "base constraints require post-execution validation", SuggestedFix: "enable_post_execution_validation", AutoFixable: true,
		})
	}
	if v.base.RequireAuditLog && p.Enforcement.LogLevel == protocol.LogNone {
		issues = append(issues, ValidationIssue{
			Type: IssueError, Category: "enforcement", Code: "base.audit_log_required",
			Message: "base constraints require an audit log, but logLevel is none", SuggestedFix: "raise_log_level", AutoFixable: true,
		})
	}

	return issues
}

func containsFold(list []string, needle string) bool {
	for _, s := range list {
		if equalFold(s, needle) {
			return true
		}
	}
	return false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

func matchesAnyProhibitedPath(prohibited []string, allowed string) bool {
	for _, pp := range prohibited {
		if globOverlap(pp, allowed) {
			return true
		}
	}
	return false
}
