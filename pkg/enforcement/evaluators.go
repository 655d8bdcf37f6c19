package enforcement

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/protocore/governor/pkg/protocol"
	"github.com/protocore/governor/pkg/safematch"
)

// evalResult is the outcome of one evaluator run:
// {passed, message?, context?, remediation?}. warning marks a pass that
// still carries a message worth surfacing (requireApproval).
type evalResult struct {
	Passed      bool
	Message     string
	Remediation string
	Context     map[string]interface{}
	Warning     bool
}

func ok() evalResult { return evalResult{Passed: true} }

func fail(msg, remediation string) evalResult {
	return evalResult{Passed: false, Message: msg, Remediation: remediation}
}

func warn(msg string) evalResult {
	return evalResult{Passed: true, Warning: true, Message: msg}
}

// evaluateConstraint dispatches by rule.type to the corresponding evaluator.
// An unrecognized discriminant fails closed. clock supplies
// the wall-clock reading used for allowedHours/allowedDays and rate-window
// arithmetic, so callers can inject deterministic time in tests.
func evaluateConstraint(rule protocol.ConstraintRule, ctx protocol.ExecutionContext, mon *MonitoringState, clock Clock) evalResult {
	switch rule.Type {
	case protocol.ConstraintToolRestriction:
		return evalToolRestriction(rule.ToolRestriction, ctx)
	case protocol.ConstraintFileAccess:
		return evalFileAccess(rule.FileAccess, ctx)
	case protocol.ConstraintOutputFormat:
		return evalOutputFormat(rule.OutputFormat, ctx)
	case protocol.ConstraintBehavioral:
		return evalBehavioral(rule.Behavioral, ctx, mon)
	case protocol.ConstraintTemporal:
		return evalTemporal(rule.Temporal, ctx, mon, clock)
	case protocol.ConstraintResource:
		return evalResource(rule.Resource, ctx)
	case protocol.ConstraintSideEffect:
		return evalSideEffect(rule.SideEffect, ctx)
	default:
		return fail(fmt.Sprintf("unrecognized constraint rule type %q", rule.Type), "")
	}
}

func evalToolRestriction(r *protocol.ToolRestrictionRule, ctx protocol.ExecutionContext) evalResult {
	if r == nil || ctx.ActionType != protocol.ActionToolCall {
		return ok()
	}
	if containsFold(r.DeniedTools, ctx.ActionName) {
		return fail(fmt.Sprintf("tool %q is denied", ctx.ActionName), "remove the tool from the denylist or use an allowed tool")
	}
	if safematch.MatchAny(r.ToolPatterns, ctx.ActionName) {
		return fail(fmt.Sprintf("tool %q matches a denied pattern", ctx.ActionName), "")
	}
	if len(r.AllowedTools) > 0 && !containsFold(r.AllowedTools, ctx.ActionName) {
		return fail(fmt.Sprintf("tool %q is not in the allowed set", ctx.ActionName), "add the tool to allowedTools")
	}
	if containsFold(r.RequireApproval, ctx.ActionName) {
		return warn(fmt.Sprintf("tool %q requires approval", ctx.ActionName))
	}
	return ok()
}

func evalFileAccess(r *protocol.FileAccessRule, ctx protocol.ExecutionContext) evalResult {
	if r == nil {
		return ok()
	}
	files := uniqueNormalized(append(append([]string{}, ctx.TargetFiles...), ctx.SourceFiles...))
	isWrite := strings.Contains(strings.ToLower(ctx.ActionName), "write") || strings.Contains(strings.ToLower(ctx.ActionName), "edit")

	for _, f := range files {
		if safematch.MatchAnyGlob(r.DeniedPaths, f) {
			return fail(fmt.Sprintf("path %q is denied", f), "target a path outside deniedPaths")
		}
		if len(r.AllowedPaths) > 0 && !safematch.MatchAnyGlob(r.AllowedPaths, f) {
			return fail(fmt.Sprintf("path %q is not in the allowed set", f), "add the path to allowedPaths")
		}
		if res := checkExtension(r, f); !res.Passed {
			return res
		}
		if isWrite && safematch.MatchAnyGlob(r.ReadOnly, f) {
			return fail(fmt.Sprintf("path %q is read-only", f), "")
		}
	}
	return ok()
}

func checkExtension(r *protocol.FileAccessRule, f string) evalResult {
	ext := extensionOf(f)
	if len(r.DeniedExtensions) > 0 && containsFold(r.DeniedExtensions, ext) {
		return fail(fmt.Sprintf("extension %q is denied for %q", ext, f), "")
	}
	if len(r.AllowedExtensions) > 0 && !containsFold(r.AllowedExtensions, ext) {
		return fail(fmt.Sprintf("extension %q is not allowed for %q", ext, f), "")
	}
	return ok()
}

func extensionOf(f string) string {
	i := strings.LastIndex(f, ".")
	if i < 0 || i == len(f)-1 {
		return ""
	}
	return f[i:]
}

func uniqueNormalized(files []string) []string {
	seen := make(map[string]bool, len(files))
	out := make([]string, 0, len(files))
	for _, f := range files {
		n := safematch.NormalizePath(f)
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

func evalOutputFormat(r *protocol.OutputFormatRule, ctx protocol.ExecutionContext) evalResult {
	if r == nil || ctx.ActionType != protocol.ActionOutput {
		return ok()
	}
	content := ctx.OutputContent

	if r.MaxLength != nil && len(content) > *r.MaxLength {
		return fail(fmt.Sprintf("output length %d exceeds maxLength %d", len(content), *r.MaxLength), "shorten the output")
	}
	for _, pat := range r.ForbiddenPatterns {
		if safematch.MatchRegex(pat, content) {
			return fail(fmt.Sprintf("output matches forbidden pattern %q", pat), "")
		}
	}
	for _, pat := range r.RequiredPatterns {
		if !safematch.MatchRegex(pat, content) {
			return fail(fmt.Sprintf("output does not match required pattern %q", pat), "")
		}
	}
	if r.Format != nil && *r.Format == protocol.FormatJSON {
		var v interface{}
		if err := json.Unmarshal([]byte(content), &v); err != nil {
			return fail("output is not valid JSON", "ensure the output is well-formed JSON")
		}
	}
	if r.Format != nil && *r.Format == protocol.FormatCustom {
		schema, err := r.CompiledSchema()
		if err != nil {
			return fail(fmt.Sprintf("output_format schema error: %v", err), "")
		}
		if schema != nil {
			var v interface{}
			if err := json.Unmarshal([]byte(content), &v); err != nil {
				return fail("output is not valid JSON for schema validation", "")
			}
			if err := schema.Validate(v); err != nil {
				return fail(fmt.Sprintf("output does not satisfy schema: %v", err), "")
			}
		}
	}
	for _, field := range r.RequiredFields {
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(content), &m); err == nil {
			if _, present := m[field]; !present {
				return fail(fmt.Sprintf("output is missing required field %q", field), "")
			}
		}
	}
	return ok()
}

func evalBehavioral(r *protocol.BehavioralRule, ctx protocol.ExecutionContext, mon *MonitoringState) evalResult {
	if r == nil {
		return ok()
	}
	if containsFold(r.ProhibitedActions, ctx.ActionName) {
		return fail(fmt.Sprintf("action %q is prohibited", ctx.ActionName), "")
	}
	if r.MaxIterations != nil && mon != nil && mon.IterationCount() >= *r.MaxIterations {
		return fail(fmt.Sprintf("iteration count has reached maxIterations (%d)", *r.MaxIterations), "reduce iteration count or raise maxIterations")
	}
	if r.CustomExpression != "" {
		matched, err := evalCustomExpression(r.CustomExpression, customExprInput(ctx, mon))
		if err != nil {
			return fail(fmt.Sprintf("customExpression failed closed: %v", err), "")
		}
		if matched {
			return fail("customExpression predicate matched", "")
		}
	}
	return ok()
}

func evalTemporal(r *protocol.TemporalRule, ctx protocol.ExecutionContext, mon *MonitoringState, clock Clock) evalResult {
	if r == nil {
		return ok()
	}
	if r.ValidFrom != nil && ctx.Timestamp.Before(*r.ValidFrom) {
		return fail("action occurs before the constraint's validFrom", "")
	}
	if r.ValidUntil != nil && ctx.Timestamp.After(*r.ValidUntil) {
		return fail("action occurs after the constraint's validUntil", "")
	}

	now := clock.Now()
	if len(r.AllowedHours) > 0 && !containsInt(r.AllowedHours, now.Hour()) {
		return fail("current hour is outside allowedHours", "")
	}
	if len(r.AllowedDays) > 0 && !containsInt(r.AllowedDays, int(now.Weekday())) {
		return fail("current day is outside allowedDays", "")
	}

	if mon != nil && (r.RateLimitPerMinute != nil || r.RateLimitPerHour != nil) {
		events := mon.OperationTimestamps(ctx.ActionType)
		recentHour := filterNewerThan(events, now, time.Hour)
		recentMinute := filterNewerThan(recentHour, now, time.Minute)
		mon.replaceOperationTimestamps(ctx.ActionType, recentHour)

		if r.RateLimitPerMinute != nil && len(recentMinute) >= *r.RateLimitPerMinute {
			return fail(fmt.Sprintf("rate limit of %d per minute would be met or exceeded", *r.RateLimitPerMinute), "slow down the rate of this action")
		}
		if r.RateLimitPerHour != nil && len(recentHour) >= *r.RateLimitPerHour {
			return fail(fmt.Sprintf("rate limit of %d per hour would be met or exceeded", *r.RateLimitPerHour), "slow down the rate of this action")
		}
	}

	if r.CustomExpression != "" {
		matched, err := evalCustomExpression(r.CustomExpression, customExprInput(ctx, mon))
		if err != nil {
			return fail(fmt.Sprintf("customExpression failed closed: %v", err), "")
		}
		if matched {
			return fail("customExpression predicate matched", "")
		}
	}
	return ok()
}

func filterNewerThan(ts []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	out := make([]time.Time, 0, len(ts))
	for _, t := range ts {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

// containsFold reports whether list contains needle, ignoring case.
func containsFold(list []string, needle string) bool {
	for _, s := range list {
		if strings.EqualFold(s, needle) {
			return true
		}
	}
	return false
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// evalResource does no live resource metering, which is reserved for the
// runtime environment. Its one check: a numeric "tokens" action parameter
// above maxTokensPerRequest fails; every other ceiling passes.
func evalResource(r *protocol.ResourceRule, ctx protocol.ExecutionContext) evalResult {
	if r == nil {
		return ok()
	}
	if r.MaxTokensPerRequest != nil && ctx.ActionParams != nil {
		if v, has := ctx.ActionParams["tokens"]; has {
			if n, isFloat := v.(float64); isFloat && int(n) > *r.MaxTokensPerRequest {
				return fail(fmt.Sprintf("requested %v tokens exceeds maxTokensPerRequest %d", v, *r.MaxTokensPerRequest), "")
			}
		}
	}
	return ok()
}

func evalSideEffect(r *protocol.SideEffectRule, ctx protocol.ExecutionContext) evalResult {
	if r == nil {
		return ok()
	}
	switch ctx.ActionType {
	case protocol.ActionNetwork:
		if r.AllowNetwork != nil && !*r.AllowNetwork {
			return fail("network access is globally disallowed", "")
		}
		if safematch.MatchAny(r.DeniedHosts, ctx.TargetHost) {
			return fail(fmt.Sprintf("host %q is denied", ctx.TargetHost), "")
		}
		if len(r.AllowedHosts) > 0 && !safematch.MatchAny(r.AllowedHosts, ctx.TargetHost) {
			return fail(fmt.Sprintf("host %q is not in the allowed set", ctx.TargetHost), "")
		}
	case protocol.ActionShellCommand:
		if r.AllowShellCommands != nil && !*r.AllowShellCommands {
			return fail("shell commands are globally disallowed", "")
		}
		if matchesCommandPrefix(r.DeniedCommands, ctx.Command) {
			return fail(fmt.Sprintf("command %q is denied", ctx.Command), "")
		}
		if len(r.AllowedCommands) > 0 && !matchesCommandPrefix(r.AllowedCommands, ctx.Command) {
			return fail(fmt.Sprintf("command %q is not in the allowed set", ctx.Command), "")
		}
	case protocol.ActionGitOperation:
		if r.AllowGitOperations != nil && !*r.AllowGitOperations {
			return fail("git operations are globally disallowed", "")
		}
		if containsFold(r.DeniedGitOps, ctx.GitOperation) {
			return fail(fmt.Sprintf("git operation %q is denied", ctx.GitOperation), "")
		}
		if len(r.AllowedGitOps) > 0 && !containsFold(r.AllowedGitOps, ctx.GitOperation) {
			return fail(fmt.Sprintf("git operation %q is not in the allowed set", ctx.GitOperation), "")
		}
	}
	return ok()
}

func matchesCommandPrefix(list []string, command string) bool {
	for _, prefix := range list {
		if strings.HasPrefix(command, prefix) || strings.Contains(command, prefix) {
			return true
		}
	}
	return false
}

func customExprInput(ctx protocol.ExecutionContext, mon *MonitoringState) map[string]interface{} {
	action := map[string]interface{}{
		"type": string(ctx.ActionType),
		"name": ctx.ActionName,
	}
	ctxMap := map[string]interface{}{
		"featureId": ctx.FeatureID,
		"workerId":  ctx.WorkerID,
	}
	monitoring := map[string]interface{}{}
	if mon != nil {
		monitoring["iterationCount"] = mon.IterationCount()
	}
	return map[string]interface{}{
		"action":     action,
		"ctx":        ctxMap,
		"monitoring": monitoring,
	}
}
