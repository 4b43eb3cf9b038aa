package tools

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatReplacesDotsWithUnderscores(t *testing.T) {
	f := NewNameFormatter(64)
	agentic, err := f.Format("com.calculator.execute")
	require.NoError(t, err)
	assert.Equal(t, "com_calculator_execute", agentic)
}

func TestFormatIsIdempotentPerRawName(t *testing.T) {
	f := NewNameFormatter(64)
	a, err := f.Format("svc.tool")
	require.NoError(t, err)
	b, err := f.Format("svc.tool")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestFormatDetectsCollision(t *testing.T) {
	f := NewNameFormatter(0)
	_, err := f.Format("svc_tool")
	require.NoError(t, err)
	_, err = f.Format("svc.tool")
	require.Error(t, err)
	var collErr *CollisionError
	require.ErrorAs(t, err, &collErr)
	assert.Equal(t, Ident("svc_tool"), collErr.First)
	assert.Equal(t, Ident("svc.tool"), collErr.Second)
}

func TestFormatTruncatesAndSuffixesLongNames(t *testing.T) {
	f := NewNameFormatter(16)
	long := Ident("a.very.long.raw.tool.name.that.exceeds.the.limit")
	agentic, err := f.Format(long)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(agentic), 16)
	raw, ok := f.Reverse(agentic)
	require.True(t, ok)
	assert.Equal(t, long, raw)
}

func TestReverseUnknownNameReportsNotFound(t *testing.T) {
	f := NewNameFormatter(64)
	_, ok := f.Reverse("never_registered")
	assert.False(t, ok)
}

// TestRoundTripProperty verifies invariant 4: for every raw tool name n
// introduced in one execution, reverse(format(n)) == n.
func TestRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	rawNameGen := gen.RegexMatch(`[a-z]{1,6}(\.[a-z]{1,6}){0,3}`)

	properties.Property("reverse(format(n)) == n", prop.ForAll(
		func(raw string) bool {
			f := NewNameFormatter(64)
			agentic, err := f.Format(Ident(raw))
			if err != nil {
				return true // collisions are a distinct invariant, not this one
			}
			got, ok := f.Reverse(agentic)
			return ok && string(got) == raw
		},
		rawNameGen,
	))

	properties.TestingRun(t)
}
