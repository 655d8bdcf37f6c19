package protocol

import "github.com/protocore/governor/pkg/safematch"

// MatcherInput is the subset of an ExecutionContext (or the target/source
// worker proposing a protocol) that ContextMatcher axes are evaluated
// against.
type MatcherInput struct {
	FeatureID   string
	ProjectDir  string
	TargetFiles []string
	SourceFiles []string
	WorkerID    string
	TaskDesc    string
	Environment string
	Branch      string
}

// Matches applies context-matching rules: every exclude pattern that
// matches must be absent, and if any positive pattern list across all axes
// is non-empty, at least one positive match must be present somewhere. A nil
// matcher (or one where every axis is nil) applies universally.
func (m *ContextMatcher) Matches(in MatcherInput) bool {
	if m == nil {
		return true
	}

	axes := []struct {
		list   *PatternList
		values []string
	}{
		{m.FeatureID, []string{in.FeatureID}},
		{m.ProjectDir, []string{in.ProjectDir}},
		{m.TargetFiles, in.TargetFiles},
		{m.SourceFiles, in.SourceFiles},
		{m.WorkerID, []string{in.WorkerID}},
		{m.TaskDesc, []string{in.TaskDesc}},
		{m.Environment, []string{in.Environment}},
		{m.Branch, []string{in.Branch}},
	}

	hasPositiveList := false
	anyPositiveMatch := false

	for _, axis := range axes {
		if axis.list == nil {
			continue
		}
		for _, excl := range axis.list.Exclude {
			for _, v := range axis.values {
				if v != "" && safematch.MatchRegex(excl, v) {
					return false
				}
			}
		}
		if len(axis.list.Include) > 0 {
			hasPositiveList = true
			for _, incl := range axis.list.Include {
				for _, v := range axis.values {
					if v != "" && safematch.MatchRegex(incl, v) {
						anyPositiveMatch = true
					}
				}
			}
		}
	}

	if hasPositiveList && !anyPositiveMatch {
		return false
	}
	return true
}
