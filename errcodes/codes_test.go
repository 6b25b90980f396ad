package errcodes

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMakeRoundTrip(t *testing.T) {
	for _, s := range []string{"00000", "22012", "42P01", "XX000", "P0001", "0A000"} {
		t.Run(s, func(t *testing.T) {
			c, err := Make(s)
			require.Nil(t, err)
			require.Equal(t, s, c.SQLState())
		})
	}
}

func TestPackedValues(t *testing.T) {
	// values as the native runtime computes them
	require.Equal(t, Code(0), SuccessfulCompletion)
	require.Equal(t, Code(2600), InternalError)
	require.Equal(t, Code(33816706), DivisionByZero)
}

func TestMakeInvalid(t *testing.T) {
	_, err := Make("2201")
	require.Error(t, err)
	_, err = Make("22a12")
	require.Error(t, err)
	require.Panics(t, func() { MustMake("nope!") })
}

func TestDescriptionAndClass(t *testing.T) {
	require.Equal(t, "division by zero", DivisionByZero.Description())
	require.Equal(t, "22", DivisionByZero.Class())
	require.Equal(t, "unknown error", MustMake("HV000").Description())
	require.True(t, Warning.IsWarning())
	require.False(t, InternalError.IsWarning())
}
