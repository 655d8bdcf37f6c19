package validator

import "github.com/protocore/governor/pkg/protocol"

// ValidateAndFix applies every auto-applicable fix suggested by Validate,
// then re-validates the result. It never mutates p; it returns a fixed copy
// alongside the fresh validation result.
func (v *Validator) ValidateAndFix(p protocol.Protocol) (protocol.Protocol, ProposalValidationResult) {
	first := v.Validate(p)
	fixed := cloneProtocol(p)
	applied := false
	for _, iss := range first.Issues {
		if iss.Type != IssueError || !iss.AutoFixable {
			continue
		}
		if applyFix(&fixed, iss) {
			applied = true
		}
	}
	if !applied {
		return fixed, first
	}
	return fixed, v.Validate(fixed)
}

// cloneProtocol deep-copies the parts of a Protocol that applyFix mutates
// in place, so ValidateAndFix never touches the caller's input even though
// ConstraintRule variants are pointer fields shared by value copies.
func cloneProtocol(p protocol.Protocol) protocol.Protocol {
	cp := p
	cp.Constraints = make([]protocol.ProtocolConstraint, len(p.Constraints))
	for i, c := range p.Constraints {
		if c.Rule.ToolRestriction != nil {
			r := *c.Rule.ToolRestriction
			r.AllowedTools = append([]string(nil), r.AllowedTools...)
			c.Rule.ToolRestriction = &r
		}
		if c.Rule.FileAccess != nil {
			r := *c.Rule.FileAccess
			r.AllowedPaths = append([]string(nil), r.AllowedPaths...)
			c.Rule.FileAccess = &r
		}
		if c.Rule.SideEffect != nil {
			r := *c.Rule.SideEffect
			r.AllowedCommands = append([]string(nil), r.AllowedCommands...)
			c.Rule.SideEffect = &r
		}
		if c.Rule.Behavioral != nil {
			r := *c.Rule.Behavioral
			r.RequiredActions = append([]string(nil), r.RequiredActions...)
			c.Rule.Behavioral = &r
		}
		cp.Constraints[i] = c
	}
	return cp
}

// applyFix mutates p in place per the named fix, mirroring the catalogue
// referenced by checkBaseConstraints/checkConstraints/checkEnforcementConfig.
func applyFix(p *protocol.Protocol, iss ValidationIssue) bool {
	switch iss.SuggestedFix {
	case "enable_pre_execution_validation":
		p.Enforcement.PreExecutionValidation = true
		return true
	case "enable_post_execution_validation":
		p.Enforcement.PostExecutionValidation = true
		return true
	case "raise_log_level":
		if p.Enforcement.LogLevel == protocol.LogNone || p.Enforcement.LogLevel == "" {
			p.Enforcement.LogLevel = protocol.LogStandard
		}
		return true
	case "remove_disallowed_tool", "remove_prohibited_path", "remove_prohibited_command", "remove_prohibited_required_action":
		return removeFromConstraint(p, iss)
	default:
		return false
	}
}

func removeFromConstraint(p *protocol.Protocol, iss ValidationIssue) bool {
	for i := range p.Constraints {
		c := &p.Constraints[i]
		if c.ID != iss.ConstraintID {
			continue
		}
		switch iss.SuggestedFix {
		case "remove_disallowed_tool":
			if c.Rule.ToolRestriction != nil {
				c.Rule.ToolRestriction.AllowedTools = filterOutToken(c.Rule.ToolRestriction.AllowedTools, iss.Message)
				return true
			}
		case "remove_prohibited_path":
			if c.Rule.FileAccess != nil {
				c.Rule.FileAccess.AllowedPaths = filterOutToken(c.Rule.FileAccess.AllowedPaths, iss.Message)
				return true
			}
		case "remove_prohibited_command":
			if c.Rule.SideEffect != nil {
				c.Rule.SideEffect.AllowedCommands = filterOutToken(c.Rule.SideEffect.AllowedCommands, iss.Message)
				return true
			}
		case "remove_prohibited_required_action":
			if c.Rule.Behavioral != nil {
				c.Rule.Behavioral.RequiredActions = filterOutToken(c.Rule.Behavioral.RequiredActions, iss.Message)
				return true
			}
		}
	}
	return false
}

// filterOutToken drops any entry of list that appears as a quoted token
// inside msg, e.g. `allows prohibited tool "rm"` drops "rm".
func filterOutToken(list []string, msg string) []string {
	out := list[:0:0]
	for _, item := range list {
		if !containsSubstr(msg, "\""+item+"\"") {
			out = append(out, item)
		}
	}
	return out
}
