// Package enforcement is the pre- and post-execution gate: it dispatches a
// worker's pending or completed action against the currently active
// protocols' effective constraints, tracks per-worker behavior over time,
// and decides whether the action may proceed.
package enforcement

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/protocore/governor/pkg/audit"
	"github.com/protocore/governor/pkg/protocol"
	"github.com/protocore/governor/pkg/ratelimit"
	"github.com/protocore/governor/pkg/registry"
	"github.com/protocore/governor/pkg/resolver"
	"github.com/protocore/governor/pkg/safematch"
)

// Engine evaluates worker actions against the registry's active protocols.
// MonitoringState and escalation ladders are owned exclusively by the
// Engine, keyed by workerId.
type Engine struct {
	reg      registry.Registry
	res      *resolver.Resolver
	clock    Clock
	limiter  ratelimit.Store
	auditLog *audit.Log

	mu         sync.Mutex
	sessions   map[string]*MonitoringState
	ladders    map[string]*escalationLadder
	escalation EscalationPolicy
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the wall clock, for deterministic tests.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithEscalationPolicy overrides the default graded-response ladder.
func WithEscalationPolicy(p EscalationPolicy) Option {
	return func(e *Engine) { e.escalation = p }
}

// WithRateLimiter attaches a ratelimit.Store consulted alongside the
// in-memory MonitoringState counts for temporal rate-limit constraints, so
// limits can be enforced across process restarts or multiple engine
// instances.
func WithRateLimiter(s ratelimit.Store) Option {
	return func(e *Engine) { e.limiter = s }
}

// WithAuditLog attaches a hash-chained audit.Log: every recorded violation
// is appended to it in addition to being passed to the Registry, so an
// evidence trail survives even when the Registry write itself fails.
func WithAuditLog(l *audit.Log) Option {
	return func(e *Engine) { e.auditLog = l }
}

// SetAuditLog attaches (or replaces) the engine's audit.Log after
// construction.
func (e *Engine) SetAuditLog(l *audit.Log) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.auditLog = l
}

// New creates an Engine over the given registry and resolver.
func New(reg registry.Registry, res *resolver.Resolver, opts ...Option) *Engine {
	e := &Engine{
		reg:        reg,
		res:        res,
		clock:      wallClock{},
		sessions:   make(map[string]*MonitoringState),
		ladders:    make(map[string]*escalationLadder),
		escalation: DefaultEscalationPolicy(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// StartMonitoring initializes a fresh MonitoringState for workerID, replacing
// any prior session.
func (e *Engine) StartMonitoring(featureID, workerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessions[workerID] = newMonitoringState(featureID, workerID, e.clock)
	e.ladders[workerID] = newEscalationLadder(e.escalation, e.clock)
}

// StopMonitoring detaches and returns the final MonitoringState for workerID.
func (e *Engine) StopMonitoring(workerID string) *MonitoringState {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.sessions[workerID]
	delete(e.sessions, workerID)
	delete(e.ladders, workerID)
	return s
}

func (e *Engine) sessionFor(workerID string) *MonitoringState {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[workerID]
	if !ok {
		s = newMonitoringState("", workerID, e.clock)
		e.sessions[workerID] = s
		e.ladders[workerID] = newEscalationLadder(e.escalation, e.clock)
	}
	return s
}

func (e *Engine) ladderFor(workerID string) *escalationLadder {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.ladders[workerID]
	if !ok {
		l = newEscalationLadder(e.escalation, e.clock)
		e.ladders[workerID] = l
	}
	return l
}

// RecordAction updates the worker's MonitoringState and its escalation
// ladder. Callers invoke this once per observed action, typically alongside
// ValidatePreExecution. When the ladder promotes to a new response level, a
// temporal_escalation alert is raised on the worker's monitoring state.
func (e *Engine) RecordAction(ctx protocol.ExecutionContext) {
	if ctx.WorkerID == "" {
		return
	}
	mon := e.sessionFor(ctx.WorkerID)
	ladder := e.ladderFor(ctx.WorkerID)

	before := ladder.peek()
	mon.recordAction(ctx)
	after, rate := ladder.evaluate()

	if after > before {
		mon.addEscalationAlert(after, rate)
	}
}

// EscalationLevel reports workerID's current graded-response level without
// recording a new effect.
func (e *Engine) EscalationLevel(workerID string) ResponseLevel {
	return e.ladderFor(workerID).peek()
}

// CheckMonitoringAlerts returns the active alerts for workerID, raising any
// new stuck-worker alert first.
func (e *Engine) CheckMonitoringAlerts(workerID string) []*MonitoringAlert {
	return e.sessionFor(workerID).checkMonitoringAlerts()
}

// AcknowledgeAlert marks alertID acknowledged for workerID.
func (e *Engine) AcknowledgeAlert(workerID, alertID string) bool {
	return e.sessionFor(workerID).acknowledgeAlert(alertID)
}

// matcherInput projects an ExecutionContext into protocol.MatcherInput.
func matcherInput(ctx protocol.ExecutionContext) protocol.MatcherInput {
	return protocol.MatcherInput{
		FeatureID:   ctx.FeatureID,
		ProjectDir:  ctx.ProjectDir,
		TargetFiles: ctx.TargetFiles,
		SourceFiles: ctx.SourceFiles,
		WorkerID:    ctx.WorkerID,
		Environment: "",
		Branch:      "",
	}
}

// applicableProtocols returns active protocols, ordered by priority
// descending, whose applicableContexts matches ctx and for which selectFn
// reports the relevant enforcement flag is set.
func (e *Engine) applicableProtocols(ctx protocol.ExecutionContext, selectFn func(protocol.EnforcementConfig) bool) []protocol.Protocol {
	active := e.reg.GetActiveProtocols()
	sort.SliceStable(active, func(i, j int) bool { return active[i].Priority > active[j].Priority })

	mi := matcherInput(ctx)
	var out []protocol.Protocol
	for _, p := range active {
		if !selectFn(p.Enforcement) {
			continue
		}
		if p.ApplicableContexts != nil && !p.ApplicableContexts.Matches(mi) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// ValidatePreExecution runs the pre-execution gate: it evaluates every
// applicable protocol's effective constraints against ctx before the
// action is allowed to run.
func (e *Engine) ValidatePreExecution(ctx protocol.ExecutionContext) protocol.EnforcementResult {
	start := time.Now()
	mon := e.sessionFor(ctx.WorkerID)

	applicable := e.applicableProtocols(ctx, func(ec protocol.EnforcementConfig) bool { return ec.PreExecutionValidation })

	var appliedIDs []string
	var violations, warnings []protocol.Violation
	var originatingEnforcement []protocol.EnforcementConfig

	for _, p := range applicable {
		appliedIDs = append(appliedIDs, p.ID)
		eff := e.res.GetEffectiveConstraints(p.ID)
		for _, c := range eff.Constraints {
			if !c.Enabled {
				continue
			}
			res := evaluateConstraint(c.Rule, ctx, mon, e.clock)
			if res.Passed && c.Type == protocol.ConstraintTemporal {
				res = e.checkExternalRateLimit(c, ctx, res)
			}
			if res.Passed {
				if res.Warning {
					warnings = append(warnings, protocol.Violation{
						ProtocolID: p.ID, ConstraintID: c.ID, Severity: protocol.SeverityWarning, Message: res.Message,
					})
				}
				continue
			}
			v := protocol.Violation{
				ProtocolID: p.ID, ConstraintID: c.ID, Severity: c.Severity,
				Message: res.Message, Remediation: res.Remediation,
			}
			if c.Severity == protocol.SeverityError {
				violations = append(violations, v)
				originatingEnforcement = append(originatingEnforcement, p.Enforcement)
			} else {
				warnings = append(warnings, v)
			}
		}
	}

	shouldBlock := shouldBlockExecution(violations, originatingEnforcement)
	action := suggestAction(shouldBlock, violations)
	if action == protocol.ActionProceed {
		if level := e.ladderFor(ctx.WorkerID).peek(); level >= ResponseInterrupt {
			action = protocol.ActionEscalate
		}
	}
	result := protocol.EnforcementResult{
		Allowed:          !shouldBlock,
		Violations:       violations,
		Warnings:         warnings,
		AppliedProtocols: appliedIDs,
		EvaluationTimeMs: float64(time.Since(start).Microseconds()) / 1000.0,
		ShouldBlock:      shouldBlock,
		SuggestedAction:  action,
	}

	for _, v := range violations {
		_ = e.reg.RecordViolation(registry.ViolationRecord{
			ProtocolID: v.ProtocolID, ConstraintID: v.ConstraintID, FeatureID: ctx.FeatureID,
			WorkerID: ctx.WorkerID, Severity: v.Severity, Message: v.Message,
		})
		e.appendAudit(ctx.WorkerID, "violation", v.ProtocolID+"/"+v.ConstraintID, v.Message)
	}
	e.appendAudit(ctx.WorkerID, "pre_execution_result", ctx.ActionName,
		fmt.Sprintf("allowed=%t shouldBlock=%t suggestedAction=%s violations=%d", result.Allowed, result.ShouldBlock, result.SuggestedAction, len(violations)))

	return result
}

// appendAudit records one entry in the engine's audit.Log, if attached. A
// missing log is a no-op: the audit trail is additive evidence, not a
// precondition for enforcement decisions.
func (e *Engine) appendAudit(workerID, action, target, details string) {
	if e.auditLog == nil {
		return
	}
	_, _ = e.auditLog.Append(workerID, action, target, details)
}

// shouldBlockExecution applies the blocking policy: strict mode blocks on
// any error-severity violation, permissive mode blocks only when its
// onViolation is set to block, and audit/learning modes never block.
// enforcements[i] is the enforcement config of the protocol that
// originated violations[i].
func shouldBlockExecution(violations []protocol.Violation, enforcements []protocol.EnforcementConfig) bool {
	if len(violations) == 0 {
		return false
	}
	for i, v := range violations {
		if v.Severity != protocol.SeverityError {
			continue
		}
		ec := enforcements[i]
		switch ec.Mode {
		case protocol.ModeStrict:
			return true
		case protocol.ModePermissive:
			if ec.OnViolation == protocol.OnViolationBlock {
				return true
			}
		case protocol.ModeAudit, protocol.ModeLearning:
			// never blocks
		}
	}
	return false
}

func suggestAction(shouldBlock bool, violations []protocol.Violation) protocol.SuggestedAction {
	if len(violations) == 0 {
		return protocol.ActionProceed
	}
	if !shouldBlock {
		return protocol.ActionProceed
	}
	for _, v := range violations {
		if v.Severity == protocol.SeverityError {
			return protocol.ActionAbort
		}
	}
	return protocol.ActionRetry
}

// Outcome carries the result of an already-executed action, consumed by
// VerifyPostExecution.
type Outcome struct {
	Success  bool
	Output   string
	Error    string
	Modified []string
	Created  []string
	Deleted  []string
	Network  []NetworkRequest
	Git      []GitChange
}

// NetworkRequest is one observed outbound request in an Outcome.
type NetworkRequest struct {
	Host   string
	Method string
	Status int
}

// GitChange is one observed git side effect in an Outcome.
type GitChange struct {
	Operation string
	Ref       string
}

// VerifyPostExecution re-evaluates file_access, side_effect, and
// output_format constraints against the actual outcome of a completed
// action.
func (e *Engine) VerifyPostExecution(ctx protocol.ExecutionContext, outcome Outcome) protocol.EnforcementResult {
	start := time.Now()

	applicable := e.applicableProtocols(ctx, func(ec protocol.EnforcementConfig) bool { return ec.PostExecutionValidation })

	fileCtx := ctx
	fileCtx.TargetFiles = uniqueNormalized(append(append(append([]string{}, outcome.Modified...), outcome.Created...), outcome.Deleted...))
	fileCtx.SourceFiles = nil

	outputCtx := ctx
	outputCtx.ActionType = protocol.ActionOutput
	outputCtx.OutputContent = outcome.Output

	var appliedIDs []string
	var violations []protocol.Violation

	for _, p := range applicable {
		appliedIDs = append(appliedIDs, p.ID)
		eff := e.res.GetEffectiveConstraints(p.ID)
		for _, c := range eff.Constraints {
			if !c.Enabled {
				continue
			}
			var res evalResult
			switch c.Type {
			case protocol.ConstraintFileAccess:
				res = evalFileAccess(c.Rule.FileAccess, fileCtx)
			case protocol.ConstraintSideEffect:
				res = verifySideEffectOutcome(c.Rule.SideEffect, outcome)
			case protocol.ConstraintOutputFormat:
				res = evalOutputFormat(c.Rule.OutputFormat, outputCtx)
			default:
				continue
			}
			if res.Passed {
				continue
			}
			violations = append(violations, protocol.Violation{
				ProtocolID: p.ID, ConstraintID: c.ID, Severity: c.Severity,
				Message:     "[POST-EXECUTION] " + res.Message,
				Remediation: res.Remediation,
				Context:     map[string]interface{}{"phase": "post-execution"},
			})
		}
	}

	shouldBlock := false
	for _, v := range violations {
		if v.Severity == protocol.SeverityError {
			shouldBlock = true
			break
		}
	}

	action := protocol.ActionProceed
	if len(violations) > 0 {
		action = protocol.ActionEscalate
	}

	for _, v := range violations {
		_ = e.reg.RecordViolation(registry.ViolationRecord{
			ProtocolID: v.ProtocolID, ConstraintID: v.ConstraintID, FeatureID: ctx.FeatureID,
			WorkerID: ctx.WorkerID, Severity: v.Severity, Message: v.Message,
		})
		e.appendAudit(ctx.WorkerID, "post_execution_violation", v.ProtocolID+"/"+v.ConstraintID, v.Message)
	}
	e.appendAudit(ctx.WorkerID, "post_execution_result", ctx.ActionName,
		fmt.Sprintf("allowed=%t shouldBlock=%t suggestedAction=%s violations=%d", !shouldBlock, shouldBlock, action, len(violations)))

	return protocol.EnforcementResult{
		Allowed:          !shouldBlock,
		Violations:       violations,
		AppliedProtocols: appliedIDs,
		EvaluationTimeMs: float64(time.Since(start).Microseconds()) / 1000.0,
		ShouldBlock:      shouldBlock,
		SuggestedAction:  action,
	}
}

// checkExternalRateLimit additionally consults the configured ratelimit.Store
// for temporal constraints that declare a per-minute limit, when one is
// attached. It never overrides a failure already found by evaluateConstraint,
// and is a no-op when no limiter is configured.
func (e *Engine) checkExternalRateLimit(c protocol.ProtocolConstraint, ctx protocol.ExecutionContext, passthrough evalResult) evalResult {
	r := c.Rule.Temporal
	if e.limiter == nil || r == nil || r.RateLimitPerMinute == nil {
		return passthrough
	}
	key := fmt.Sprintf("%s:%s:%s", ctx.WorkerID, ctx.ActionType, c.ID)
	allowed, err := e.limiter.Allow(context.Background(), key, ratelimit.Policy{RPM: *r.RateLimitPerMinute, Burst: *r.RateLimitPerMinute}, 1)
	if err != nil {
		return fail(fmt.Sprintf("rate limiter error, failing closed: %v", err), "")
	}
	if !allowed {
		return fail(fmt.Sprintf("external rate limiter rejected action for constraint %q", c.ID), "slow down the rate of this action")
	}
	return passthrough
}

func verifySideEffectOutcome(r *protocol.SideEffectRule, outcome Outcome) evalResult {
	if r == nil {
		return ok()
	}
	for _, n := range outcome.Network {
		if r.AllowNetwork != nil && !*r.AllowNetwork {
			return fail(fmt.Sprintf("network request to %q occurred despite allowNetwork=false", n.Host), "")
		}
		if safematch.MatchAny(r.DeniedHosts, n.Host) {
			return fail(fmt.Sprintf("network request to denied host %q occurred", n.Host), "")
		}
		if len(r.AllowedHosts) > 0 && !safematch.MatchAny(r.AllowedHosts, n.Host) {
			return fail(fmt.Sprintf("network request to %q is not in the allowed set", n.Host), "")
		}
	}
	for _, g := range outcome.Git {
		if r.AllowGitOperations != nil && !*r.AllowGitOperations {
			return fail(fmt.Sprintf("git operation %q occurred despite allowGitOperations=false", g.Operation), "")
		}
		if containsFold(r.DeniedGitOps, g.Operation) {
			return fail(fmt.Sprintf("denied git operation %q occurred", g.Operation), "")
		}
		if len(r.AllowedGitOps) > 0 && !containsFold(r.AllowedGitOps, g.Operation) {
			return fail(fmt.Sprintf("git operation %q is not in the allowed set", g.Operation), "")
		}
	}
	return ok()
}
