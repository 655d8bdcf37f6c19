package validator

import (
	"fmt"
	"time"

	"github.com/protocore/governor/pkg/protocol"
	"github.com/protocore/governor/pkg/safematch"
)

// globOverlap reports whether an allowed-path glob could ever match anything
// a prohibited-path glob/literal also matches -- used by checkBaseConstraints
// to catch an allowedPaths entry that reaches into prohibited territory.
func globOverlap(prohibited, allowed string) bool {
	if prohibited == allowed {
		return true
	}
	// If the prohibited pattern, applied as a literal probe path, matches the
	// allowed glob (or vice versa), treat them as overlapping.
	probe := safematch.NormalizePath(trimGlobChars(prohibited))
	if probe != "" && safematch.MatchGlob(allowed, probe) {
		return true
	}
	probe2 := safematch.NormalizePath(trimGlobChars(allowed))
	if probe2 != "" && safematch.MatchGlob(prohibited, probe2) {
		return true
	}
	return false
}

func trimGlobChars(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '*' || r == '?' {
			continue
		}
		out = append(out, r)
	}
	return string(out)
}

var overlyPermissivePaths = map[string]bool{
	"*": true, "**": true, "**/*": true, "/": true, "~": true, "~/*": true,
}

// checkConstraints runs pass 2: per-constraint-type checks.
func (v *Validator) checkConstraints(p protocol.Protocol) []ValidationIssue {
	var issues []ValidationIssue
	for _, c := range p.Constraints {
		if !c.Enabled {
			continue
		}
		switch c.Type {
		case protocol.ConstraintToolRestriction:
			issues = append(issues, v.checkToolRestriction(c)...)
		case protocol.ConstraintFileAccess:
			issues = append(issues, checkFileAccess(c)...)
		case protocol.ConstraintSideEffect:
			issues = append(issues, v.checkSideEffect(c)...)
		case protocol.ConstraintBehavioral:
			issues = append(issues, v.checkBehavioral(c)...)
		case protocol.ConstraintTemporal:
			issues = append(issues, checkTemporal(c)...)
		case protocol.ConstraintResource:
			issues = append(issues, checkResource(c)...)
		case protocol.ConstraintOutputFormat:
			issues = append(issues, checkOutputFormat(c)...)
		}
	}
	return issues
}

func (v *Validator) checkToolRestriction(c protocol.ProtocolConstraint) []ValidationIssue {
	r := c.Rule.ToolRestriction
	if r == nil {
		return nil
	}
	var issues []ValidationIssue
	for _, pat := range r.ToolPatterns {
		if pat == ".*" || pat == ".+" {
			issues = append(issues, ValidationIssue{
				Type: IssueError, Category: "tool_access", Code: "tool_restriction.unrestricted_pattern",
				Message: fmt.Sprintf("constraint %q's tool pattern %q matches every tool", c.ID, pat), ConstraintID: c.ID,
			})
		}
	}
	if v.base.MaxAllowedTools != nil {
		var disallowed []string
		for i, t := range r.AllowedTools {
			if i >= *v.base.MaxAllowedTools {
				disallowed = append(disallowed, t)
			}
		}
		if len(disallowed) > 0 {
			issues = append(issues, ValidationIssue{
				Type: IssueError, Category: "tool_access", Code: "tool_restriction.allowed_tools_exceed_base",
				Message: fmt.Sprintf("constraint %q's allowedTools exceeds base maxAllowedTools: %s disallowed",
					c.ID, quotedList(disallowed)),
				ConstraintID: c.ID,
				SuggestedFix: "remove_disallowed_tool", AutoFixable: true,
			})
		}
	}
	if len(r.AllowedTools) == 0 && len(r.DeniedTools) == 0 && len(r.ToolPatterns) == 0 {
		issues = append(issues, ValidationIssue{
			Type: IssueWarning, Category: "tool_access", Code: "tool_restriction.unrestricted",
			Message: fmt.Sprintf("constraint %q places no restriction on tool usage", c.ID), ConstraintID: c.ID,
		})
	}
	return issues
}

func checkFileAccess(c protocol.ProtocolConstraint) []ValidationIssue {
	r := c.Rule.FileAccess
	if r == nil {
		return nil
	}
	var issues []ValidationIssue
	for _, ap := range r.AllowedPaths {
		if overlyPermissivePaths[ap] {
			issues = append(issues, ValidationIssue{
				Type: IssueWarning, Category: "file_access", Code: "file_access.overly_permissive",
				Message: fmt.Sprintf("constraint %q's allowed path %q is overly permissive", c.ID, ap), ConstraintID: c.ID,
			})
		}
	}
	if len(r.AllowedPaths) == 0 && len(r.DeniedPaths) == 0 {
		issues = append(issues, ValidationIssue{
			Type: IssueWarning, Category: "file_access", Code: "file_access.unrestricted",
			Message: fmt.Sprintf("constraint %q places no restriction on file access", c.ID), ConstraintID: c.ID,
		})
	}
	return issues
}

func (v *Validator) checkSideEffect(c protocol.ProtocolConstraint) []ValidationIssue {
	r := c.Rule.SideEffect
	if r == nil {
		return nil
	}
	var issues []ValidationIssue
	if r.AllowNetwork != nil && *r.AllowNetwork && len(r.AllowedHosts) == 0 && len(r.DeniedHosts) == 0 {
		issues = append(issues, ValidationIssue{
			Type: IssueWarning, Category: "side_effects", Code: "side_effect.network_unrestricted",
			Message: fmt.Sprintf("constraint %q allows network access without host restrictions", c.ID), ConstraintID: c.ID,
		})
	}
	if r.AllowShellCommands != nil && *r.AllowShellCommands && len(r.AllowedCommands) == 0 && len(r.DeniedCommands) == 0 {
		issues = append(issues, ValidationIssue{
			Type: IssueWarning, Category: "side_effects", Code: "side_effect.shell_unrestricted",
			Message: fmt.Sprintf("constraint %q allows shell commands without restriction", c.ID), ConstraintID: c.ID,
		})
	}
	for _, cmd := range r.AllowedCommands {
		if containsFold(v.base.ProhibitedOperations, cmd) {
			issues = append(issues, ValidationIssue{
				Type: IssueError, Category: "side_effects", Code: "side_effect.prohibited_command_allowed",
				Message: fmt.Sprintf("constraint %q allows prohibited command %q", c.ID, cmd), ConstraintID: c.ID,
				SuggestedFix: "remove_prohibited_command", AutoFixable: true,
			})
		}
	}
	for _, op := range r.AllowedGitOps {
		for _, dangerous := range []string{"push --force", "reset --hard", "clean -fd"} {
			if containsSubstr(op, dangerous) {
				issues = append(issues, ValidationIssue{
					Type: IssueWarning, Category: "side_effects", Code: "side_effect.dangerous_git_op",
					Message: fmt.Sprintf("constraint %q allows dangerous git operation %q", c.ID, op), ConstraintID: c.ID,
				})
			}
		}
	}
	return issues
}

// quotedList renders each entry quoted and comma-separated, so a message
// built from it carries the same `"token"` shape filterOutToken looks for
// when an auto-fix removes entries named in an issue's message.
func quotedList(items []string) string {
	out := ""
	for i, item := range items {
		if i > 0 {
			out += ", "
		}
		out += "\"" + item + "\""
	}
	return out
}

func containsSubstr(s, sub string) bool {
	return len(sub) <= len(s) && indexSubstr(s, sub) >= 0
}

func indexSubstr(s, sub string) int {
	n, m := len(s), len(sub)
	for i := 0; i+m <= n; i++ {
		if s[i:i+m] == sub {
			return i
		}
	}
	return -1
}

func (v *Validator) checkBehavioral(c protocol.ProtocolConstraint) []ValidationIssue {
	r := c.Rule.Behavioral
	if r == nil {
		return nil
	}
	var issues []ValidationIssue
	for _, ra := range r.RequiredActions {
		if containsFold(v.base.ProhibitedOperations, ra) {
			issues = append(issues, ValidationIssue{
				Type: IssueError, Category: "behavioral", Code: "behavioral.prohibited_required_action",
				Message: fmt.Sprintf("constraint %q requires prohibited action %q", c.ID, ra), ConstraintID: c.ID,
				SuggestedFix: "remove_prohibited_required_action", AutoFixable: true,
			})
		}
	}
	if r.MaxIterations != nil && *r.MaxIterations > 1000 {
		issues = append(issues, ValidationIssue{
			Type: IssueWarning, Category: "behavioral", Code: "behavioral.max_iterations_high",
			Message: fmt.Sprintf("constraint %q's maxIterations (%d) exceeds 1000", c.ID, *r.MaxIterations), ConstraintID: c.ID,
		})
	}
	if r.TimeoutSeconds != nil && *r.TimeoutSeconds > 3600 {
		issues = append(issues, ValidationIssue{
			Type: IssueWarning, Category: "behavioral", Code: "behavioral.timeout_high",
			Message: fmt.Sprintf("constraint %q's timeoutSeconds (%d) exceeds 3600", c.ID, *r.TimeoutSeconds), ConstraintID: c.ID,
		})
	}
	return issues
}

func checkTemporal(c protocol.ProtocolConstraint) []ValidationIssue {
	r := c.Rule.Temporal
	if r == nil {
		return nil
	}
	var issues []ValidationIssue
	if r.RateLimitPerMinute != nil && *r.RateLimitPerMinute > 1000 {
		issues = append(issues, ValidationIssue{
			Type: IssueInfo, Category: "temporal", Code: "temporal.rate_limit_high",
			Message: fmt.Sprintf("constraint %q's rateLimitPerMinute (%d) exceeds 1000", c.ID, *r.RateLimitPerMinute), ConstraintID: c.ID,
		})
	}
	if r.ValidUntil != nil && r.ValidUntil.Before(time.Now()) {
		issues = append(issues, ValidationIssue{
			Type: IssueWarning, Category: "temporal", Code: "temporal.valid_until_past",
			Message: fmt.Sprintf("constraint %q's validUntil is in the past", c.ID), ConstraintID: c.ID,
		})
	}
	return issues
}

func checkResource(c protocol.ProtocolConstraint) []ValidationIssue {
	r := c.Rule.Resource
	if r == nil {
		return nil
	}
	var issues []ValidationIssue
	if r.MaxMemoryMB != nil && *r.MaxMemoryMB > 16384 {
		issues = append(issues, ValidationIssue{
			Type: IssueInfo, Category: "resource", Code: "resource.memory_high",
			Message: fmt.Sprintf("constraint %q's maxMemoryMB (%d) exceeds 16384", c.ID, *r.MaxMemoryMB), ConstraintID: c.ID,
		})
	}
	if r.MaxConcurrentOps != nil && *r.MaxConcurrentOps > 100 {
		issues = append(issues, ValidationIssue{
			Type: IssueWarning, Category: "resource", Code: "resource.concurrency_high",
			Message: fmt.Sprintf("constraint %q's maxConcurrentOps (%d) exceeds 100", c.ID, *r.MaxConcurrentOps), ConstraintID: c.ID,
		})
	}
	return issues
}

func checkOutputFormat(c protocol.ProtocolConstraint) []ValidationIssue {
	r := c.Rule.OutputFormat
	if r == nil {
		return nil
	}
	var issues []ValidationIssue
	if r.Format != nil && *r.Format == protocol.FormatCustom && r.Schema != "" {
		if _, err := r.CompiledSchema(); err != nil {
			issues = append(issues, ValidationIssue{
				Type: IssueError, Category: "enforcement", Code: "output_format.invalid_schema",
				Message: fmt.Sprintf("constraint %q's schema does not compile: %v", c.ID, err), ConstraintID: c.ID,
			})
		}
	}
	return issues
}

// checkEnforcementConfig implements pass 3.
func (v *Validator) checkEnforcementConfig(p protocol.Protocol) []ValidationIssue {
	var issues []ValidationIssue
	ec := p.Enforcement

	if ec.Mode == protocol.ModePermissive || ec.Mode == protocol.ModeAudit || ec.Mode == protocol.ModeLearning {
		issues = append(issues, ValidationIssue{
			Type: IssueInfo, Category: "enforcement", Code: "enforcement.permissive_mode",
			Message: fmt.Sprintf("protocol uses permissive-style mode %q", ec.Mode),
		})
	}
	if !ec.PreExecutionValidation && v.base.RequirePreValidation {
		issues = append(issues, ValidationIssue{
			Type: IssueError, Category: "enforcement", Code: "enforcement.pre_validation_missing",
			Message: "preExecutionValidation is disabled but required by base constraints",
			SuggestedFix: "enable_pre_execution_validation", AutoFixable: true,
		})
	}
	if !ec.PostExecutionValidation && v.base.RequirePostValidation {
		issues = append(issues, ValidationIssue{
			Type: IssueError, Category: "enforcement", Code: "enforcement.post_validation_missing",
			Message: "postExecutionValidation is disabled but required by base constraints",
			SuggestedFix: "enable_post_execution_validation", AutoFixable: true,
		})
	}
	return issues
}

// checkComplexity implements pass 4.
func (v *Validator) checkComplexity(p protocol.Protocol) []ValidationIssue {
	var issues []ValidationIssue
	if len(p.Constraints) > 50 {
		issues = append(issues, ValidationIssue{
			Type: IssueWarning, Category: "complexity", Code: "complexity.too_many_constraints",
			Message: fmt.Sprintf("protocol declares %d constraints, exceeding 50", len(p.Constraints)),
		})
	}
	if len(p.Extends) > 5 {
		issues = append(issues, ValidationIssue{
			Type: IssueWarning, Category: "complexity", Code: "complexity.too_many_extends",
			Message: fmt.Sprintf("protocol extends %d parents, exceeding 5", len(p.Extends)),
		})
	}

	// Pairwise tool-rule allow/deny conflicts.
	var toolRules []protocol.ProtocolConstraint
	for _, c := range p.Constraints {
		if c.Type == protocol.ConstraintToolRestriction && c.Rule.ToolRestriction != nil {
			toolRules = append(toolRules, c)
		}
	}
	for i := 0; i < len(toolRules); i++ {
		for j := i + 1; j < len(toolRules); j++ {
			a, b := toolRules[i].Rule.ToolRestriction, toolRules[j].Rule.ToolRestriction
			for _, t := range a.AllowedTools {
				if containsFold(b.DeniedTools, t) {
					issues = append(issues, ValidationIssue{
						Type: IssueWarning, Category: "conflict", Code: "complexity.tool_allow_deny_conflict",
						Message: fmt.Sprintf("constraint %q allows %q while constraint %q denies it", toolRules[i].ID, t, toolRules[j].ID),
					})
				}
			}
			for _, t := range b.AllowedTools {
				if containsFold(a.DeniedTools, t) {
					issues = append(issues, ValidationIssue{
						Type: IssueWarning, Category: "conflict", Code: "complexity.tool_allow_deny_conflict",
						Message: fmt.Sprintf("constraint %q allows %q while constraint %q denies it", toolRules[j].ID, t, toolRules[i].ID),
					})
				}
			}
		}
	}
	return issues
}
