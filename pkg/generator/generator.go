// Package generator extracts structured constraint suggestions from
// free-text worker proposals via pattern matching, and assembles the
// extraction into a candidate Protocol for the validator to judge. Its
// output is advisory: downstream validation remains the authoritative
// gate over whatever it proposes.
package generator

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/protocore/governor/pkg/protocol"
)

// SuggestedConstraint is one constraint the parser extracted from a
// proposal's text, ready to become a ProtocolConstraint.
type SuggestedConstraint struct {
	Type        protocol.ConstraintType
	Rule        protocol.ConstraintRule
	Explanation string
}

// ParsedProposal is the structured result of parseProposal over a worker's
// free-text proposal.
type ParsedProposal struct {
	IsValid      bool
	Errors       []string
	Suggested    []SuggestedConstraint
	Confidence   float64
	RawTools     []string
	RawFiles     []string
	RawBehaviors []string
}

var (
	toolUsePattern      = regexp.MustCompile(`(?i)\b(?:use|execute|call|run|invoke)\s+the\s+(\S+)\s+tool\b|\b(?:use|execute|call|run|invoke)\s+(\S+)\b`)
	toolOnlyUse         = regexp.MustCompile(`(?i)\bonly\s+use\s+([\w\-,.\s]+?)(?:\.|$)`)
	toolAllowedList     = regexp.MustCompile(`(?i)\ballowed\s+tools?\s*:\s*([\w\-,.\s]+?)(?:\.|$)`)
	toolRestrictTo      = regexp.MustCompile(`(?i)\brestrict\s+(?:to|tools?\s+to)\s+([\w\-,.\s]+?)(?:\.|$)`)
	toolDontUse         = regexp.MustCompile(`(?i)\bdon'?t\s+use\s+([\w\-,.\s]+?)(?:\.|$)`)
	toolDeniedList      = regexp.MustCompile(`(?i)\bdenied\s+tools?\s*:\s*([\w\-,.\s]+?)(?:\.|$)`)
	toolForbid          = regexp.MustCompile(`(?i)\bforbid\s+([\w\-,.\s]+?)(?:\.|$)`)
	toolRequireApproval = regexp.MustCompile(`(?i)\b(?:require\s+approval|need\s+confirmation)\b`)

	filePathPattern  = regexp.MustCompile(`(?:^|\s)((?:\.{0,2}/)?[\w\-./]+\.(?:go|ts|tsx|js|jsx|py|rb|java|rs|c|h|cpp|md|json|yaml|yml))\b`)
	fileAllowedPaths = regexp.MustCompile(`(?i)\ballowed\s+paths?\s*:\s*([\w\-,./\s]+?)(?:\.|$)`)
	fileDeniedPaths  = regexp.MustCompile(`(?i)\bdenied\s+paths?\s*:\s*([\w\-,./\s]+?)(?:\.|$)`)
	fileReadOnly     = regexp.MustCompile(`(?i)\bread[\s-]?only\b`)
	fileExtOnly      = regexp.MustCompile(`(?i)\bonly\s+(\.\w+)\s+files?\b`)

	behaviorMustNot    = regexp.MustCompile(`(?i)\b(?:must\s+not|never)\s+([a-z][\w\s]{2,40}?)(?:\.|,|$)`)
	behaviorAlways     = regexp.MustCompile(`(?i)\balways\s+([a-z][\w\s]{2,40}?)(?:\.|,|$)`)
	behaviorRequire    = regexp.MustCompile(`(?i)\brequire\s+([a-z][\w\s]{2,40}?)(?:\.|,|$)`)
	behaviorConfirm    = regexp.MustCompile(`(?i)\bconfirm(?:ation)?\b`)
	behaviorExplain    = regexp.MustCompile(`(?i)\bexplain(?:ation)?\b`)
	behaviorMaxIter    = regexp.MustCompile(`(?i)\bmax(?:imum)?\s+(\d+)\s+iterations?\b`)
	behaviorTimeout    = regexp.MustCompile(`(?i)\btimeout\s+(?:of\s+)?(\d+)\s*(second|minute|hour)s?\b`)
	explicitKeywordRgx = regexp.MustCompile(`(?i)\b(constraint|rule|policy|restrict|limit|require)\b`)
)

// parseProposal applies the tool/file/behavior pattern families to text and
// derives a deduplicated set of SuggestedConstraints plus a confidence score.
func parseProposal(text string) ParsedProposal {
	if strings.TrimSpace(text) == "" {
		return ParsedProposal{IsValid: false, Errors: []string{"proposal text is empty"}}
	}

	rawTools := extractAll(toolUsePattern, text)
	rawFiles := extractAll(filePathPattern, text)
	rawBehaviors := extractBehaviorWords(text)

	var suggested []SuggestedConstraint
	suggested = append(suggested, extractToolConstraints(text)...)
	suggested = append(suggested, extractFileConstraints(text)...)
	suggested = append(suggested, extractBehavioralConstraints(text)...)

	suggested = dedupe(suggested)

	confidence := confidenceScore(text, suggested, rawTools, rawFiles, rawBehaviors)

	return ParsedProposal{
		IsValid:      true,
		Suggested:    suggested,
		Confidence:   confidence,
		RawTools:     rawTools,
		RawFiles:     rawFiles,
		RawBehaviors: rawBehaviors,
	}
}

// ParseProposal is the exported entry point for parseProposal.
func ParseProposal(text string) ParsedProposal { return parseProposal(text) }

func extractAll(re *regexp.Regexp, text string) []string {
	var out []string
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		for _, g := range m[1:] {
			if g != "" {
				out = append(out, g)
			}
		}
	}
	return out
}

func extractBehaviorWords(text string) []string {
	var out []string
	for _, re := range []*regexp.Regexp{behaviorMustNot, behaviorAlways, behaviorRequire} {
		out = append(out, extractAll(re, text)...)
	}
	if behaviorConfirm.MatchString(text) {
		out = append(out, "confirmation")
	}
	if behaviorExplain.MatchString(text) {
		out = append(out, "explanation")
	}
	return out
}

func splitList(raw string) []string {
	parts := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' || r == '\n' })
	var out []string
	for _, p := range parts {
		p = strings.Trim(p, ".,;")
		if p != "" && !strings.EqualFold(p, "and") {
			out = append(out, p)
		}
	}
	return out
}

func extractToolConstraints(text string) []SuggestedConstraint {
	var out []SuggestedConstraint

	var allowed []string
	if m := toolOnlyUse.FindStringSubmatch(text); m != nil {
		allowed = append(allowed, splitList(m[1])...)
	}
	if m := toolAllowedList.FindStringSubmatch(text); m != nil {
		allowed = append(allowed, splitList(m[1])...)
	}
	if m := toolRestrictTo.FindStringSubmatch(text); m != nil {
		allowed = append(allowed, splitList(m[1])...)
	}

	var denied []string
	if m := toolDontUse.FindStringSubmatch(text); m != nil {
		denied = append(denied, splitList(m[1])...)
	}
	if m := toolDeniedList.FindStringSubmatch(text); m != nil {
		denied = append(denied, splitList(m[1])...)
	}
	if m := toolForbid.FindStringSubmatch(text); m != nil {
		denied = append(denied, splitList(m[1])...)
	}

	var requireApproval []string
	if toolRequireApproval.MatchString(text) {
		requireApproval = uniq(append(append([]string{}, allowed...), denied...))
	}

	if len(allowed) == 0 && len(denied) == 0 && len(requireApproval) == 0 {
		return out
	}

	rule := protocol.ToolRestrictionRule{
		AllowedTools:    uniq(allowed),
		DeniedTools:     uniq(denied),
		RequireApproval: requireApproval,
	}
	out = append(out, SuggestedConstraint{
		Type:        protocol.ConstraintToolRestriction,
		Rule:        protocol.ConstraintRule{Type: protocol.ConstraintToolRestriction, ToolRestriction: &rule},
		Explanation: "extracted tool allow/deny phrasing",
	})
	return out
}

func extractFileConstraints(text string) []SuggestedConstraint {
	var out []SuggestedConstraint

	var allowed, denied, readOnly, extensions []string
	if m := fileAllowedPaths.FindStringSubmatch(text); m != nil {
		allowed = append(allowed, splitList(m[1])...)
	}
	if m := fileDeniedPaths.FindStringSubmatch(text); m != nil {
		denied = append(denied, splitList(m[1])...)
	}
	if fileReadOnly.MatchString(text) {
		readOnly = extractAll(filePathPattern, text)
	}
	if m := fileExtOnly.FindStringSubmatch(text); m != nil {
		extensions = append(extensions, m[1])
	}

	if len(allowed) == 0 && len(denied) == 0 && len(readOnly) == 0 && len(extensions) == 0 {
		return out
	}

	rule := protocol.FileAccessRule{
		AllowedPaths:      uniq(allowed),
		DeniedPaths:       uniq(denied),
		ReadOnly:          uniq(readOnly),
		AllowedExtensions: uniq(extensions),
	}
	out = append(out, SuggestedConstraint{
		Type:        protocol.ConstraintFileAccess,
		Rule:        protocol.ConstraintRule{Type: protocol.ConstraintFileAccess, FileAccess: &rule},
		Explanation: "extracted file path/extension phrasing",
	})
	return out
}

func extractBehavioralConstraints(text string) []SuggestedConstraint {
	var out []SuggestedConstraint

	rule := protocol.BehavioralRule{
		RequireConfirmation: behaviorConfirm.MatchString(text),
		RequireExplanation:  behaviorExplain.MatchString(text),
		ProhibitedActions:   uniq(extractAll(behaviorMustNot, text)),
		RequiredActions:     uniq(extractAll(behaviorRequire, text)),
	}

	if m := behaviorMaxIter.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			rule.MaxIterations = &n
		}
	}
	if m := behaviorTimeout.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			rule.TimeoutSeconds = intPtr(n * timeoutUnitSeconds(m[2]))
		}
	}

	if !rule.RequireConfirmation && !rule.RequireExplanation && rule.MaxIterations == nil &&
		rule.TimeoutSeconds == nil && len(rule.ProhibitedActions) == 0 && len(rule.RequiredActions) == 0 {
		return out
	}

	out = append(out, SuggestedConstraint{
		Type:        protocol.ConstraintBehavioral,
		Rule:        protocol.ConstraintRule{Type: protocol.ConstraintBehavioral, Behavioral: &rule},
		Explanation: "extracted behavioral obligation/quantitative phrasing",
	})
	return out
}

func timeoutUnitSeconds(unit string) int {
	switch strings.ToLower(unit) {
	case "minute":
		return 60
	case "hour":
		return 3600
	default:
		return 1
	}
}

func intPtr(n int) *int { return &n }

func uniq(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		key := strings.ToLower(strings.TrimSpace(s))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

// dedupe removes constraints whose (type, canonical JSON of rule) pair has
// already been seen, preserving first-seen order.
func dedupe(in []SuggestedConstraint) []SuggestedConstraint {
	seen := make(map[string]bool, len(in))
	var out []SuggestedConstraint
	for _, c := range in {
		body, err := json.Marshal(c.Rule)
		key := string(c.Type)
		if err == nil {
			key += ":" + string(body)
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

func confidenceScore(text string, suggested []SuggestedConstraint, rawTools, rawFiles, rawBehaviors []string) float64 {
	score := 0.15 * float64(len(suggested))
	if score > 0.45 {
		score = 0.45
	}

	for _, group := range [][]string{rawTools, rawFiles, rawBehaviors} {
		if len(group) > 0 {
			score += 0.1
		}
	}

	n := len(text)
	for _, threshold := range []int{100, 300, 500} {
		if n >= threshold {
			score += 0.05
		}
	}

	keywordMatches := len(explicitKeywordRgx.FindAllString(text, -1))
	keywordBonus := 0.05 * float64(keywordMatches)
	if keywordBonus > 0.1 {
		keywordBonus = 0.1
	}
	score += keywordBonus

	if score > 1 {
		score = 1
	}
	return score
}

// CreateOptions overrides createProtocolFromProposal's field defaults.
type CreateOptions struct {
	Name               string
	Description        string
	Priority           int
	Enforcement        *protocol.EnforcementConfig
	ApplicableContexts *protocol.ContextMatcher
}

// CreateProtocolFromProposal assembles a fresh protocol with one constraint
// per extracted suggestion, applying opts on top of sensible defaults.
func CreateProtocolFromProposal(id string, parsed ParsedProposal, opts CreateOptions) protocol.Protocol {
	p := protocol.Protocol{
		ID:          id,
		Version:     "0.1.0",
		Name:        opts.Name,
		Description: opts.Description,
		Priority:    opts.Priority,
		Enforcement: protocol.EnforcementConfig{
			Mode:                   protocol.ModePermissive,
			OnViolation:            protocol.OnViolationWarn,
			PreExecutionValidation: true,
			LogLevel:               protocol.LogStandard,
		},
		ApplicableContexts: opts.ApplicableContexts,
		CreatedAt:          time.Now().UTC(),
	}
	if p.Name == "" {
		p.Name = fmt.Sprintf("generated-%s", id)
	}
	if opts.Enforcement != nil {
		p.Enforcement = *opts.Enforcement
	}

	for i, s := range parsed.Suggested {
		p.Constraints = append(p.Constraints, protocol.ProtocolConstraint{
			ID:       fmt.Sprintf("%s-c%d", id, i+1),
			Type:     s.Type,
			Rule:     s.Rule,
			Severity: protocol.SeverityWarning,
			Message:  s.Explanation,
			Enabled:  true,
		})
	}
	return p
}

// NewProtocolID mints a fresh protocol id for a generated protocol.
func NewProtocolID() string {
	return "proto-" + uuid.NewString()
}

// MergeProtocols folds several protocols into one: sorts by ascending
// priority, fold-merges constraints by id (later protocols override
// earlier ones), unions applicableContexts, takes the max priority, and
// sets extends to the ids of the source protocols.
func MergeProtocols(protocols []protocol.Protocol, newID, newName string) protocol.Protocol {
	sorted := make([]protocol.Protocol, len(protocols))
	copy(sorted, protocols)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1].Priority > sorted[j].Priority; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}

	merged := protocol.Protocol{
		ID:        newID,
		Version:   "0.1.0",
		Name:      newName,
		CreatedAt: time.Now().UTC(),
	}

	byID := make(map[string]int)
	var extends []string
	matcher := &protocol.ContextMatcher{}

	for _, p := range sorted {
		extends = append(extends, p.ID)
		if p.Priority > merged.Priority {
			merged.Priority = p.Priority
			merged.Enforcement = p.Enforcement
		}
		for _, c := range p.Constraints {
			if idx, ok := byID[c.ID]; ok {
				merged.Constraints[idx] = c
			} else {
				byID[c.ID] = len(merged.Constraints)
				merged.Constraints = append(merged.Constraints, c)
			}
		}
		if p.ApplicableContexts != nil {
			unionAxis(&matcher.FeatureID, p.ApplicableContexts.FeatureID)
			unionAxis(&matcher.ProjectDir, p.ApplicableContexts.ProjectDir)
			unionAxis(&matcher.TargetFiles, p.ApplicableContexts.TargetFiles)
			unionAxis(&matcher.SourceFiles, p.ApplicableContexts.SourceFiles)
			unionAxis(&matcher.WorkerID, p.ApplicableContexts.WorkerID)
			unionAxis(&matcher.TaskDesc, p.ApplicableContexts.TaskDesc)
			unionAxis(&matcher.Environment, p.ApplicableContexts.Environment)
			unionAxis(&matcher.Branch, p.ApplicableContexts.Branch)
		}
	}

	merged.Extends = extends
	if *matcher != (protocol.ContextMatcher{}) {
		merged.ApplicableContexts = matcher
	}
	return merged
}

// unionAxis merges next's include/exclude patterns into *acc, allocating
// *acc on first use. A nil next leaves acc untouched.
func unionAxis(acc **protocol.PatternList, next *protocol.PatternList) {
	if next == nil {
		return
	}
	if *acc == nil {
		*acc = &protocol.PatternList{}
	}
	(*acc).Include = uniq(append((*acc).Include, next.Include...))
	(*acc).Exclude = uniq(append((*acc).Exclude, next.Exclude...))
}
