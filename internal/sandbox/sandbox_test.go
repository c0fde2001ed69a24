package sandbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScriptAlarmCondition(t *testing.T) {
	prog, err := Compile("tempC > 80 && pressureBar > 5", map[string]any{"tempC": 0.0, "pressureBar": 0.0})
	require.NoError(t, err)

	fire, err := prog.Run(map[string]any{"tempC": 85.0, "pressureBar": 6.0}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, true, fire)

	clear, err := prog.Run(map[string]any{"tempC": 85.0, "pressureBar": 4.0}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, false, clear)
}

func TestPurityOverSameSnapshot(t *testing.T) {
	prog, err := Compile("a + b", map[string]any{"a": 0.0, "b": 0.0})
	require.NoError(t, err)

	vars := map[string]any{"a": 60.0, "b": 45.0}
	now := time.Now()
	r1, err := prog.Run(vars, now)
	require.NoError(t, err)
	r2, err := prog.Run(vars, now)
	require.NoError(t, err)
	assert.Equal(t, r1, r2)
}

func TestNoIOBuiltinsExposed(t *testing.T) {
	prog, err := Compile(`abs(-5.0)`, nil)
	require.NoError(t, err)
	result, err := prog.Run(nil, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 5.0, result)

	// There is no file/network access function bound into the
	// environment anywhere in this package, so attempting to call one
	// fails either at compile time (unknown identifier) or at evaluation
	// time (nil is not callable) — either way, no I/O ever happens.
	badProg, compileErr := Compile(`open("/etc/passwd")`, nil)
	if compileErr != nil {
		return
	}
	_, runErr := badProg.Run(nil, time.Now())
	assert.Error(t, runErr)
}
