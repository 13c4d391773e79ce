package connector

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artkit-ai/artkit/pkg/models"
)

func TestFloat(t *testing.T) {
	params := models.Params{"a": 0.5, "b": 2, "c": "x"}

	v, ok, err := Float(params, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0.5, v)

	v, ok, err = Float(params, "b")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2.0, v)

	_, ok, err = Float(params, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = Float(params, "c")
	var pe *ParamError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "c", pe.Name)
}

func TestInt(t *testing.T) {
	params := models.Params{"n": 3, "f": 4.0, "frac": 4.5, "s": "4"}

	v, ok, err := Int(params, "n")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(3), v)

	v, ok, err = Int(params, "f")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(4), v)

	_, _, err = Int(params, "frac")
	assert.Error(t, err)
	_, _, err = Int(params, "s")
	assert.Error(t, err)
}

func TestBool(t *testing.T) {
	params := models.Params{"safety": false, "s": "false"}

	v, ok, err := Bool(params, "safety")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, v)

	_, ok, err = Bool(params, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = Bool(params, "s")
	var pe *ParamError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "must be true or false", pe.Reason)
}

func TestStrings(t *testing.T) {
	params := models.Params{
		"one":   "x",
		"many":  []any{"x", "y"},
		"typed": []string{"z"},
		"bad":   []any{"x", 1},
	}

	v, ok, err := Strings(params, "one")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"x"}, v)

	v, _, err = Strings(params, "many")
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, v)

	v, _, err = Strings(params, "typed")
	require.NoError(t, err)
	assert.Equal(t, []string{"z"}, v)

	_, _, err = Strings(params, "bad")
	assert.Error(t, err)
}

func TestString(t *testing.T) {
	v, ok, err := String(models.Params{"s": "x"}, "s")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "x", v)

	_, _, err = String(models.Params{"s": 1}, "s")
	assert.Error(t, err)
}

func TestUnsupported(t *testing.T) {
	assert.NoError(t, Unsupported(models.Params{"a": 1}, "a", "b"))
	assert.NoError(t, Unsupported(nil, "a"))

	err := Unsupported(models.Params{"z": 1, "y": 2, "a": 3}, "a")
	var pe *ParamError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "y", pe.Name)
	assert.Equal(t, "parameter y=2: not supported by this provider", err.Error())
}
