package validator

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protocore/governor/pkg/protocol"
)

func baseConstraints() protocol.BaseConstraints {
	maxTools := 10
	return protocol.BaseConstraints{
		ProhibitedTools:       []string{"rm", "sudo"},
		ProhibitedPaths:       []string{"/etc/*", "~/.ssh/*"},
		ProhibitedOperations:  []string{"force_push", "delete_branch"},
		RequirePreValidation:  true,
		RequirePostValidation: true,
		MaxAllowedTools:       &maxTools,
		RequireAuditLog:       true,
	}
}

func minimalValidProtocol() protocol.Protocol {
	return protocol.Protocol{
		ID:       "p1",
		Version:  "1.0.0",
		Priority: 10,
		Enforcement: protocol.EnforcementConfig{
			Mode:                    protocol.ModeStrict,
			PreExecutionValidation:  true,
			PostExecutionValidation: true,
			LogLevel:                protocol.LogStandard,
		},
		Constraints: []protocol.ProtocolConstraint{
			{
				ID: "c1", Type: protocol.ConstraintToolRestriction, Enabled: true, Severity: protocol.SeverityError,
				Rule: protocol.ConstraintRule{
					Type:            protocol.ConstraintToolRestriction,
					ToolRestriction: &protocol.ToolRestrictionRule{AllowedTools: []string{"read_file", "grep"}},
				},
			},
		},
	}
}

func TestValidate_CleanProtocolIsValid(t *testing.T) {
	v := New(baseConstraints())
	result := v.Validate(minimalValidProtocol())

	require.True(t, result.IsValid)
	assert.NotNil(t, result.ValidatedProtocol)
	assert.True(t, result.Risk.IsAcceptable)
}

// TestValidate_ProhibitedToolRejectedAndFixable covers the base-constraint
// violation + auto-fix path together (S6-adjacent: prohibited tool in an
// allowedTools list).
func TestValidate_ProhibitedToolRejectedAndFixable(t *testing.T) {
	p := minimalValidProtocol()
	p.Constraints[0].Rule.ToolRestriction.AllowedTools = append(p.Constraints[0].Rule.ToolRestriction.AllowedTools, "rm")

	v := New(baseConstraints())
	result := v.Validate(p)

	require.False(t, result.IsValid)
	require.True(t, result.IsFixable)

	var found bool
	for _, iss := range result.Issues {
		if iss.Code == "base.prohibited_tool_allowed" {
			found = true
			assert.Equal(t, IssueError, iss.Type)
			assert.True(t, iss.AutoFixable)
		}
	}
	assert.True(t, found)
}

func TestValidateAndFix_TrimsToolsExceedingBaseMax(t *testing.T) {
	p := minimalValidProtocol()
	var tools []string
	for i := 0; i < 12; i++ {
		tools = append(tools, fmt.Sprintf("tool_%d", i))
	}
	p.Constraints[0].Rule.ToolRestriction.AllowedTools = tools

	v := New(baseConstraints())
	result := v.Validate(p)

	var found bool
	for _, iss := range result.Issues {
		if iss.Code == "base.max_allowed_tools_exceeded" {
			found = true
			assert.True(t, iss.AutoFixable)
		}
	}
	require.True(t, found, "expected base.max_allowed_tools_exceeded issue")

	fixed, fixedResult := v.ValidateAndFix(p)
	assert.LessOrEqual(t, len(fixed.Constraints[0].Rule.ToolRestriction.AllowedTools), 10)
	for _, iss := range fixedResult.Issues {
		assert.NotEqual(t, "base.max_allowed_tools_exceeded", iss.Code)
	}
}

func TestValidateAndFix_RemovesDisallowedTool(t *testing.T) {
	p := minimalValidProtocol()
	p.Constraints[0].Rule.ToolRestriction.AllowedTools = append(p.Constraints[0].Rule.ToolRestriction.AllowedTools, "sudo")

	v := New(baseConstraints())
	fixed, result := v.ValidateAndFix(p)

	assert.NotContains(t, fixed.Constraints[0].Rule.ToolRestriction.AllowedTools, "sudo")
	assert.True(t, result.IsValid)
}

// TestValidate_HighRiskUnrestrictedShell covers the risk-scoring path: a
// constraint that allows shell commands with no allowlist drives the
// side_effects factor to its cap of 100 and lifts the overall score to at
// least 30 (still under the default acceptance threshold of 70, since the
// protocol keeps strict enforcement).
func TestValidate_HighRiskUnrestrictedShell(t *testing.T) {
	p := minimalValidProtocol()
	allowShell := true
	p.Constraints = append(p.Constraints, protocol.ProtocolConstraint{
		ID: "c2", Type: protocol.ConstraintSideEffect, Enabled: true, Severity: protocol.SeverityWarning,
		Rule: protocol.ConstraintRule{
			Type:       protocol.ConstraintSideEffect,
			SideEffect: &protocol.SideEffectRule{AllowShellCommands: &allowShell},
		},
	})

	v := New(baseConstraints())
	result := v.Validate(p)

	assert.GreaterOrEqual(t, result.Risk.OverallScore, 30)
	var sideEffectsFactor RiskFactor
	for _, f := range result.Risk.Factors {
		if f.Category == "side_effects" {
			sideEffectsFactor = f
		}
	}
	assert.Equal(t, 100.0, sideEffectsFactor.Score)
}

// TestValidate_S6_UnrestrictedShellOnlyIsHighRisk is spec §8 scenario S6: a
// protocol with a single unrestricted-shell side_effect constraint, running
// in permissive mode with logging off, should score high/critical risk and
// fall outside the default acceptance threshold, with fixes proposed for
// both the enforcement validations and the log level.
func TestValidate_S6_UnrestrictedShellOnlyIsHighRisk(t *testing.T) {
	allowShell := true
	p := protocol.Protocol{
		ID:       "s6",
		Version:  "1.0.0",
		Priority: 10,
		Enforcement: protocol.EnforcementConfig{
			Mode:     protocol.ModePermissive,
			LogLevel: protocol.LogNone,
		},
		Constraints: []protocol.ProtocolConstraint{
			{
				ID: "c1", Type: protocol.ConstraintSideEffect, Enabled: true, Severity: protocol.SeverityWarning,
				Rule: protocol.ConstraintRule{
					Type:       protocol.ConstraintSideEffect,
					SideEffect: &protocol.SideEffectRule{AllowShellCommands: &allowShell},
				},
			},
		},
	}

	v := New(baseConstraints())
	result := v.Validate(p)

	assert.Contains(t, []RiskLevel{RiskHigh, RiskCritical}, result.Risk.Level)
	assert.False(t, result.Risk.IsAcceptable)

	fixed, _ := v.ValidateAndFix(p)
	assert.True(t, fixed.Enforcement.PreExecutionValidation)
	assert.True(t, fixed.Enforcement.PostExecutionValidation)
	assert.Equal(t, protocol.LogStandard, fixed.Enforcement.LogLevel)
}

// TestValidate_IsIdempotent covers the invariant that re-validating an
// unchanged protocol returns a cached, identical result.
func TestValidate_IsIdempotent(t *testing.T) {
	v := New(baseConstraints())
	p := minimalValidProtocol()

	first := v.Validate(p)
	second := v.Validate(p)

	assert.Equal(t, first, second)
}

func TestValidate_RejectsSchemaThatFailsToCompile(t *testing.T) {
	p := minimalValidProtocol()
	custom := protocol.FormatCustom
	p.Constraints = append(p.Constraints, protocol.ProtocolConstraint{
		ID: "c3", Type: protocol.ConstraintOutputFormat, Enabled: true, Severity: protocol.SeverityError,
		Rule: protocol.ConstraintRule{
			Type: protocol.ConstraintOutputFormat,
			OutputFormat: &protocol.OutputFormatRule{
				Format: &custom,
				Schema: `{not valid json`,
			},
		},
	})

	v := New(baseConstraints())
	result := v.Validate(p)

	require.False(t, result.IsValid)
	var found bool
	for _, iss := range result.Issues {
		if iss.Code == "output_format.invalid_schema" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidate_TooManyConstraintsWarns(t *testing.T) {
	p := minimalValidProtocol()
	for i := 0; i < 51; i++ {
		p.Constraints = append(p.Constraints, allowRuleConstraint("tool", i))
	}

	v := New(baseConstraints())
	result := v.Validate(p)

	var found bool
	for _, iss := range result.Issues {
		if iss.Code == "complexity.too_many_constraints" {
			found = true
		}
	}
	assert.True(t, found)
}

func allowRuleConstraint(tool string, i int) protocol.ProtocolConstraint {
	return protocol.ProtocolConstraint{
		ID: "extra", Type: protocol.ConstraintToolRestriction, Enabled: true, Severity: protocol.SeverityInfo,
		Rule: protocol.ConstraintRule{
			Type:            protocol.ConstraintToolRestriction,
			ToolRestriction: &protocol.ToolRestrictionRule{AllowedTools: []string{tool}},
		},
	}
}
