package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func TestLog_AppendAndVerify(t *testing.T) {
	l := New(fixedClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)})

	_, err := l.Append("w1", "block", "rm", "denied tool")
	require.NoError(t, err)
	_, err = l.Append("w1", "allow", "ls", "")
	require.NoError(t, err)

	ok, err := l.VerifyChain()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEqual(t, l.Entries[0].Hash, l.Entries[1].Hash)
	assert.Equal(t, l.Entries[0].Hash, l.Entries[1].PreviousHash)
}

func TestLog_VerifyChain_DetectsTamper(t *testing.T) {
	l := New(nil)
	_, err := l.Append("w1", "block", "rm", "denied tool")
	require.NoError(t, err)

	l.Entries[0].Details = "tampered"

	ok, err := l.VerifyChain()
	assert.False(t, ok)
	assert.Error(t, err)
}
