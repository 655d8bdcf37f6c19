package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckVersionMonotonic(t *testing.T) {
	store := NewMemoryVersionStore()

	require.NoError(t, CheckVersionMonotonic(store, "p1", "1.0.0"))
	require.NoError(t, CheckVersionMonotonic(store, "p1", "1.1.0"))

	err := CheckVersionMonotonic(store, "p1", "1.0.5")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rollback rejected")

	// Non-semver strings are not subject to the guard.
	assert.NoError(t, CheckVersionMonotonic(store, "p2", "not-a-version"))
}
