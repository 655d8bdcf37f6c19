package generator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protocore/governor/pkg/protocol"
)

func TestParseProposal_EmptyTextIsInvalid(t *testing.T) {
	p := parseProposal("  ")
	assert.False(t, p.IsValid)
	assert.NotEmpty(t, p.Errors)
}

func TestParseProposal_ExtractsToolAllowDeny(t *testing.T) {
	text := "This worker should only use grep, ls. Don't use rm, sudo. Require approval before any of these tools run."
	p := parseProposal(text)
	require.True(t, p.IsValid)
	require.NotEmpty(t, p.Suggested)

	var tool *protocol.ToolRestrictionRule
	for _, s := range p.Suggested {
		if s.Type == protocol.ConstraintToolRestriction {
			tool = s.Rule.ToolRestriction
		}
	}
	require.NotNil(t, tool)
	assert.Contains(t, tool.AllowedTools, "grep")
	assert.Contains(t, tool.DeniedTools, "rm")
	assert.NotEmpty(t, tool.RequireApproval)
}

func TestParseProposal_ExtractsFileExtensionRestriction(t *testing.T) {
	text := "Only .ts files may be modified by this worker."
	p := parseProposal(text)
	var file *protocol.FileAccessRule
	for _, s := range p.Suggested {
		if s.Type == protocol.ConstraintFileAccess {
			file = s.Rule.FileAccess
		}
	}
	require.NotNil(t, file)
	assert.Contains(t, file.AllowedExtensions, ".ts")
}

func TestParseProposal_ExtractsBehavioralMaxIterationsAndTimeout(t *testing.T) {
	text := "The worker must not delete production data. Maximum 5 iterations allowed. Timeout of 2 minutes."
	p := parseProposal(text)
	var b *protocol.BehavioralRule
	for _, s := range p.Suggested {
		if s.Type == protocol.ConstraintBehavioral {
			b = s.Rule.Behavioral
		}
	}
	require.NotNil(t, b)
	require.NotNil(t, b.MaxIterations)
	assert.Equal(t, 5, *b.MaxIterations)
	require.NotNil(t, b.TimeoutSeconds)
	assert.Equal(t, 120, *b.TimeoutSeconds)
	assert.NotEmpty(t, b.ProhibitedActions)
}

func TestParseProposal_ConfidenceIncreasesWithSignal(t *testing.T) {
	short := parseProposal("use grep")
	long := parseProposal("This constraint policy must restrict tool use. Only use grep, ls. Don't use rm. " +
		"Require approval for all tools. Only .ts files allowed. Must not delete data. Maximum 3 iterations. " +
		"Timeout of 30 seconds. This is a long proposal meant to cross every text-length confidence threshold " +
		"so the score climbs as intended across the full two hundred and fifty plus character range that we " +
		"need for this particular test to meaningfully exercise the length-based bonus tiers at one hundred.")

	assert.Less(t, short.Confidence, long.Confidence)
	assert.LessOrEqual(t, long.Confidence, 1.0)
}

func TestParseProposal_DeduplicatesIdenticalConstraints(t *testing.T) {
	text := "Don't use rm. Don't use rm."
	p := parseProposal(text)
	count := 0
	for _, s := range p.Suggested {
		if s.Type == protocol.ConstraintToolRestriction {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestCreateProtocolFromProposal_OneConstraintPerSuggestion(t *testing.T) {
	parsed := parseProposal("Don't use rm. Must not delete production data.")
	p := CreateProtocolFromProposal("gen-1", parsed, CreateOptions{Name: "generated safety", Priority: 5})

	assert.Equal(t, "gen-1", p.ID)
	assert.Equal(t, "generated safety", p.Name)
	assert.Equal(t, 5, p.Priority)
	assert.Len(t, p.Constraints, len(parsed.Suggested))
	for _, c := range p.Constraints {
		assert.True(t, c.Enabled)
	}
}

func TestMergeProtocols_LaterOverridesEarlierByConstraintID(t *testing.T) {
	denyBash := protocol.ProtocolConstraint{
		ID: "c1", Type: protocol.ConstraintToolRestriction, Enabled: true,
		Rule: protocol.ConstraintRule{Type: protocol.ConstraintToolRestriction, ToolRestriction: &protocol.ToolRestrictionRule{DeniedTools: []string{"bash"}}},
	}
	allowBash := protocol.ProtocolConstraint{
		ID: "c1", Type: protocol.ConstraintToolRestriction, Enabled: true,
		Rule: protocol.ConstraintRule{Type: protocol.ConstraintToolRestriction, ToolRestriction: &protocol.ToolRestrictionRule{AllowedTools: []string{"bash"}}},
	}
	a := protocol.Protocol{ID: "A", Priority: 10, Constraints: []protocol.ProtocolConstraint{denyBash}}
	b := protocol.Protocol{ID: "B", Priority: 20, Constraints: []protocol.ProtocolConstraint{allowBash}}

	merged := MergeProtocols([]protocol.Protocol{b, a}, "merged", "Merged")

	require.Len(t, merged.Constraints, 1)
	assert.Equal(t, []string{"bash"}, merged.Constraints[0].Rule.ToolRestriction.AllowedTools)
	assert.Equal(t, 20, merged.Priority)
	assert.ElementsMatch(t, []string{"A", "B"}, merged.Extends)
}

func TestMergeProtocols_UnionsApplicableContexts(t *testing.T) {
	a := protocol.Protocol{ID: "A", Priority: 1, ApplicableContexts: &protocol.ContextMatcher{
		Environment: &protocol.PatternList{Include: []string{"staging"}},
	}}
	b := protocol.Protocol{ID: "B", Priority: 2, ApplicableContexts: &protocol.ContextMatcher{
		Environment: &protocol.PatternList{Include: []string{"production"}},
	}}

	merged := MergeProtocols([]protocol.Protocol{a, b}, "merged", "Merged")
	require.NotNil(t, merged.ApplicableContexts)
	require.NotNil(t, merged.ApplicableContexts.Environment)
	assert.ElementsMatch(t, []string{"staging", "production"}, merged.ApplicableContexts.Environment.Include)
}
