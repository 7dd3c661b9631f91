package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hivelang/internal/ir"
)

// TestQuotaEnforcer_WithinLimit tests normal operation within quota.
func TestQuotaEnforcer_WithinLimit(t *testing.T) {
	q := NewQuotaEnforcer(10)

	for i := 0; i < 10; i++ {
		err := q.Check("echo")
		assert.NoError(t, err, "step %d should be allowed", i+1)
	}

	assert.Equal(t, 10, q.Current())
	assert.Equal(t, 10, q.MaxSteps())
}

// TestQuotaEnforcer_ExceedsLimit tests quota exceeded error.
func TestQuotaEnforcer_ExceedsLimit(t *testing.T) {
	q := NewQuotaEnforcer(5)

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Check("echo"))
	}

	// 6th should fail
	err := q.Check("echo")
	require.Error(t, err)

	var stepsErr *StepsExceededError
	require.ErrorAs(t, err, &stepsErr)
	assert.Equal(t, "echo", stepsErr.Capability)
	assert.Equal(t, 6, stepsErr.Steps)
	assert.Equal(t, 5, stepsErr.Limit)
}

func TestQuotaEnforcer_Reset(t *testing.T) {
	q := NewQuotaEnforcer(5)

	for i := 0; i < 5; i++ {
		_ = q.Check("echo")
	}
	assert.Equal(t, 5, q.Current())

	q.Reset()
	assert.Equal(t, 0, q.Current())

	for i := 0; i < 5; i++ {
		assert.NoError(t, q.Check("echo"))
	}
}

func TestStepsExceededError_Error(t *testing.T) {
	err := &StepsExceededError{
		Capability: "list_repos",
		Steps:      1001,
		Limit:      1000,
	}

	msg := err.Error()
	assert.Contains(t, msg, "list_repos")
	assert.Contains(t, msg, "1001")
	assert.Contains(t, msg, "1000")
}

func TestIsStepsExceededError(t *testing.T) {
	stepsErr := &StepsExceededError{Capability: "echo", Steps: 10, Limit: 5}

	assert.True(t, IsStepsExceededError(stepsErr))
	assert.True(t, IsStepsExceededError(fmt.Errorf("wrapped: %w", stepsErr)))
	assert.False(t, IsStepsExceededError(nil))
	assert.False(t, IsStepsExceededError(assert.AnError))
}

// TestEngine_WithMaxSteps tests custom max steps option.
func TestEngine_WithMaxSteps(t *testing.T) {
	assert.Equal(t, DefaultMaxSteps, New().MaxSteps())
	assert.Equal(t, 500, New(WithMaxSteps(500)).MaxSteps())

	// Non-positive values keep the default.
	assert.Equal(t, DefaultMaxSteps, New(WithMaxSteps(0)).MaxSteps())
}

// TestEngine_QuotaPerInvocation tests that every invocation gets a fresh
// budget: a capability that fits once keeps fitting on later calls.
func TestEngine_QuotaPerInvocation(t *testing.T) {
	e := New(WithMaxSteps(20))
	c, err := e.Synthesize("loop", nil, "total = 0\nfor i in range(5) {\n  total = total + i\n}\nreturn total\n")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		got, err := e.Invoke(context.Background(), c, nil, ir.ExecutionContext{}, nil)
		require.NoError(t, err, "invocation %d", i+1)
		assert.Equal(t, float64(10), got)
	}
}

// TestEngine_RunawayLoop tests that the step budget stops a loop that
// never suspends.
func TestEngine_RunawayLoop(t *testing.T) {
	e := New(WithMaxSteps(50))
	c, err := e.Synthesize("spin", nil, "for i in range(1000) {\n  x = i\n}\nreturn x\n")
	require.NoError(t, err)

	_, err = e.Invoke(context.Background(), c, nil, ir.ExecutionContext{}, nil)
	require.Error(t, err)
	assert.True(t, IsExecutionError(err))
	assert.True(t, IsStepsExceededError(err))

	var stepsErr *StepsExceededError
	require.ErrorAs(t, err, &stepsErr)
	assert.Equal(t, "spin", stepsErr.Capability)
	assert.Equal(t, 50, stepsErr.Limit)
}
