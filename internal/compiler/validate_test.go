package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hivelang/internal/ir"
)

func TestValidate_Valid(t *testing.T) {
	units := []ir.CapabilityUnit{
		{Name: "a", Parameters: []string{"x", "y"}, RawBody: "\nreturn x\n", Line: 1},
		{Name: "b", Parameters: []string{}, RawBody: "\nreturn 1\n", Line: 3},
	}
	assert.Empty(t, Validate(units), "valid units should have no errors")
}

func TestValidate_NoCapabilities(t *testing.T) {
	errs := Validate(nil)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrNoCapabilities, errs[0].Code)
	assert.Equal(t, LevelWarning, errs[0].Level)
}

func TestValidate_Parameters(t *testing.T) {
	units := []ir.CapabilityUnit{{
		Name:       "f",
		Parameters: []string{"ok", "1bad", "http", "ok"},
		RawBody:    "return ok",
		Line:       7,
	}}

	errs := Validate(units)
	require.Len(t, errs, 3)

	assert.Equal(t, ErrInvalidParam, errs[0].Code)
	assert.Equal(t, "parameters[1]", errs[0].Field)
	assert.Equal(t, ErrReservedParam, errs[1].Code)
	assert.Equal(t, ErrDuplicateParam, errs[2].Code)
	for _, e := range errs {
		assert.Equal(t, LevelError, e.Level)
		assert.Equal(t, "f", e.Capability)
		assert.Equal(t, 7, e.Line)
	}
}

func TestValidate_DuplicateName(t *testing.T) {
	units := []ir.CapabilityUnit{
		{Name: "a", RawBody: "return 1", Line: 1},
		{Name: "a", RawBody: "return 2", Line: 4},
	}

	errs := Validate(units)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrDuplicateName, errs[0].Code)
	assert.Equal(t, LevelWarning, errs[0].Level)
	assert.Equal(t, 4, errs[0].Line)
	assert.Contains(t, errs[0].Message, "first defined on line 1")
}

func TestValidate_EmptyBody(t *testing.T) {
	units := []ir.CapabilityUnit{{Name: "noop", RawBody: "\n  # nothing yet\n\n", Line: 1}}

	errs := Validate(units)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrEmptyBody, errs[0].Code)
	assert.Equal(t, LevelWarning, errs[0].Level)
}

func TestValidationError_Error(t *testing.T) {
	e := ValidationError{Field: "name", Message: "boom", Code: ErrDuplicateName, Line: 3}
	assert.Equal(t, "[E104] line 3: name: boom", e.Error())

	e.Line = 0
	assert.Equal(t, "[E104] name: boom", e.Error())
}
