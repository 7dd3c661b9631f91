package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgramHashStable(t *testing.T) {
	src := "@capability echo(msg)\nreturn msg\n"
	assert.Equal(t, ProgramHash(src), ProgramHash(src))
	assert.Len(t, ProgramHash(src), 64)
	assert.NotEqual(t, ProgramHash(src), ProgramHash(src+" "))
}

func TestProgramHashNormalizesUnicode(t *testing.T) {
	assert.Equal(t, ProgramHash("return \"é\""), ProgramHash("return \"é\""))
}

func TestArgsHash(t *testing.T) {
	a, err := ArgsHash([]any{"x", map[string]any{"b": 1, "a": 2}})
	require.NoError(t, err)
	b, err := ArgsHash([]any{"x", map[string]any{"a": 2, "b": 1.0}})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	empty, err := ArgsHash(nil)
	require.NoError(t, err)
	alsoEmpty, err := ArgsHash([]any{})
	require.NoError(t, err)
	assert.Equal(t, empty, alsoEmpty)
}

func TestHashDomainSeparation(t *testing.T) {
	assert.NotEqual(t, hashWithDomain(DomainProgram, []byte("x")), hashWithDomain(DomainArgs, []byte("x")))
}
