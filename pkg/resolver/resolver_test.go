package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protocore/governor/pkg/protocol"
	"github.com/protocore/governor/pkg/registry"
)

func allowRule(tool string) protocol.ProtocolConstraint {
	return protocol.ProtocolConstraint{
		ID:       "c1",
		Type:     protocol.ConstraintToolRestriction,
		Enabled:  true,
		Severity: protocol.SeverityError,
		Rule: protocol.ConstraintRule{
			Type:            protocol.ConstraintToolRestriction,
			ToolRestriction: &protocol.ToolRestrictionRule{AllowedTools: []string{tool}},
		},
	}
}

func TestResolveChain_SimpleLinear(t *testing.T) {
	reg := registry.NewMemory()
	reg.Put(protocol.Protocol{ID: "base", Priority: 1})
	reg.Put(protocol.Protocol{ID: "child", Priority: 2, Extends: []string{"base"}})

	r := New(reg)
	chain := r.ResolveChain("child")

	require.True(t, chain.IsValid())
	require.Len(t, chain.Chain, 2)
	assert.Equal(t, "base", chain.Chain[0].ID)
	assert.Equal(t, "child", chain.Chain[1].ID)
}

// TestResolveChain_Cycle covers S4: A extends B, B extends A.
func TestResolveChain_Cycle(t *testing.T) {
	reg := registry.NewMemory()
	reg.Put(protocol.Protocol{ID: "A", Priority: 1, Extends: []string{"B"}})
	reg.Put(protocol.Protocol{ID: "B", Priority: 1, Extends: []string{"A"}})

	r := New(reg)
	chain := r.ResolveChain("A")

	require.False(t, chain.IsValid())
	found := false
	for _, e := range chain.Errors {
		if e.Kind == ErrCircularDependency {
			cycle, _ := e.Details["cycle"].([]string)
			if assert.NotEmpty(t, cycle) {
				found = true
			}
		}
	}
	assert.True(t, found)
}

func TestResolveChain_MissingProtocol(t *testing.T) {
	reg := registry.NewMemory()
	reg.Put(protocol.Protocol{ID: "child", Extends: []string{"ghost"}})

	r := New(reg)
	chain := r.ResolveChain("child")
	require.False(t, chain.IsValid())
	assert.Equal(t, ErrMissingProtocol, chain.Errors[0].Kind)
}

// TestEffectiveConstraints_Override covers S2: child overrides parent's
// constraint at equal-or-higher priority.
func TestEffectiveConstraints_Override(t *testing.T) {
	reg := registry.NewMemory()
	parentRule := allowRule("ls")
	parentRule.Rule.ToolRestriction.DeniedTools = []string{"bash"}
	reg.Put(protocol.Protocol{ID: "A", Priority: 10, Constraints: []protocol.ProtocolConstraint{parentRule}})

	childRule := allowRule("bash")
	reg.Put(protocol.Protocol{ID: "B", Priority: 20, Extends: []string{"A"}, Constraints: []protocol.ProtocolConstraint{childRule}})

	r := New(reg)
	eff := r.GetEffectiveConstraints("B")

	got := eff.Constraints["c1"]
	assert.Contains(t, got.Rule.ToolRestriction.AllowedTools, "bash")
	require.Len(t, eff.Overridden, 1)
	assert.Equal(t, "A", eff.Overridden[0].FromProtocol)
	assert.Equal(t, "B", eff.Overridden[0].ByProtocol)
}

// TestClearCache covers invariant 5: cache coherency after ClearCache.
func TestClearCache(t *testing.T) {
	reg := registry.NewMemory()
	reg.Put(protocol.Protocol{ID: "A", Priority: 1, Constraints: []protocol.ProtocolConstraint{allowRule("ls")}})

	r := New(reg)
	first := r.GetEffectiveConstraints("A")

	// Mutate the registry without the resolver knowing.
	updated := allowRule("cat")
	reg.Put(protocol.Protocol{ID: "A", Priority: 1, Constraints: []protocol.ProtocolConstraint{updated}})

	stale := r.GetEffectiveConstraints("A")
	assert.Equal(t, first.Constraints["c1"].Rule.ToolRestriction.AllowedTools, stale.Constraints["c1"].Rule.ToolRestriction.AllowedTools)

	r.ClearCache()
	fresh := r.GetEffectiveConstraints("A")
	assert.Contains(t, fresh.Constraints["c1"].Rule.ToolRestriction.AllowedTools, "cat")
}

func TestCheckActivationConflicts(t *testing.T) {
	reg := registry.NewMemory()
	reg.Put(protocol.Protocol{ID: "A", Conflicts: []string{"B"}})
	reg.Put(protocol.Protocol{ID: "B"})
	reg.Activate("B")

	r := New(reg)
	errs := r.CheckActivationConflicts("A")
	require.Len(t, errs, 1)
	assert.Equal(t, ErrConflictDetected, errs[0].Kind)
}

func TestCheckActivationConflicts_MissingRequired(t *testing.T) {
	reg := registry.NewMemory()
	reg.Put(protocol.Protocol{ID: "A", Requires: []string{"B"}})

	r := New(reg)
	errs := r.CheckActivationConflicts("A")
	require.Len(t, errs, 1)
	assert.Equal(t, ErrMissingRequired, errs[0].Kind)
}
