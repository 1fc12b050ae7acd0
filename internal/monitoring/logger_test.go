package monitoring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetLoggerRedirects(t *testing.T) {
	defer Silence()()

	var got []string
	SetLogger(func(format string, v ...interface{}) {
		got = append(got, fmt.Sprintf(format, v...))
	})

	Logf("frame %d: %s", 42, "no correspondences")

	require.Len(t, got, 1)
	assert.Equal(t, "frame 42: no correspondences", got[0])
}

func TestSetLoggerNilIsNoOp(t *testing.T) {
	defer Silence()()

	called := false
	SetLogger(func(string, ...interface{}) { called = true })
	SetLogger(nil)

	assert.NotPanics(t, func() { Logf("dropped") })
	assert.False(t, called)
}

func TestSilenceRestores(t *testing.T) {
	var got []string
	SetLogger(func(format string, v ...interface{}) {
		got = append(got, fmt.Sprintf(format, v...))
	})
	defer SetLogger(nil)

	restore := Silence()
	Logf("muted")
	restore()
	Logf("audible")

	require.Len(t, got, 1)
	assert.Equal(t, "audible", got[0])
}

func TestDefaultLoggerIsSet(t *testing.T) {
	assert.NotNil(t, Logf)
}
