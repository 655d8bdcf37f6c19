package canonicalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJCS_SortsKeysAndDisablesHTMLEscaping(t *testing.T) {
	out, err := JCS(map[string]interface{}{
		"b": "<script>",
		"a": 1,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":"<script>"}`, string(out))
}

func TestJCS_IsDeterministicAcrossCalls(t *testing.T) {
	v := map[string]interface{}{"z": 1, "a": "x", "m": []int{3, 2, 1}}
	first, err := JCSString(v)
	require.NoError(t, err)
	second, err := JCSString(v)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCanonicalHash_ChangesWithContent(t *testing.T) {
	h1, err := CanonicalHash(map[string]interface{}{"a": 1})
	require.NoError(t, err)
	h2, err := CanonicalHash(map[string]interface{}{"a": 2})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}
