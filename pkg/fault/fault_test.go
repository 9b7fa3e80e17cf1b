package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errSomething = errors.New("something broke")

func TestClassSentinels(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		want  error
		class Class
	}{
		{"Configuration", Configf("op", "bad shape %v", []int{2, 0}), ErrConfiguration, ClassConfiguration},
		{"Capacity", Capacityf("op", "need %d have %d", 8, 4), ErrCapacity, ClassCapacity},
		{"Unsupported", Unsupported("SysmemManager"), ErrUnsupported, ClassUnsupported},
		{"Invariant", Invariantf("op", "overlap"), ErrInvariant, ClassInvariant},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.want)
			class, ok := ClassOf(tt.err)
			require.True(t, ok)
			assert.Equal(t, tt.class, class)

			for _, other := range []error{ErrConfiguration, ErrCapacity, ErrUnsupported, ErrInvariant} {
				if other != tt.want {
					assert.NotErrorIs(t, tt.err, other)
				}
			}
		})
	}
}

func TestWrapKeepsSentinel(t *testing.T) {
	err := Wrap(ClassConfiguration, "MeshDevice.Reshape", errSomething, "shape %s", "2x2")
	require.Error(t, err)

	assert.ErrorIs(t, err, errSomething)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Equal(t, "MeshDevice.Reshape: shape 2x2: something broke", err.Error())

	wrapped := fmt.Errorf("outer: %w", err)
	assert.ErrorIs(t, wrapped, ErrConfiguration)
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(ClassCapacity, "op", nil, "ignored"))
}

func TestUnsupportedMessage(t *testing.T) {
	err := Unsupported("CommandQueue")
	assert.Contains(t, err.Error(), "CommandQueue is not supported on MeshDevice - use individual devices instead")
}

func TestPanicf(t *testing.T) {
	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(error)
		require.True(t, ok)
		assert.ErrorIs(t, err, ErrInvariant)
	}()
	Panicf("coord.Intersects", "rank mismatch: %d vs %d", 2, 3)
}

func TestClassOfPlainError(t *testing.T) {
	_, ok := ClassOf(errSomething)
	assert.False(t, ok)
}

func TestClassString(t *testing.T) {
	assert.Equal(t, "configuration", ClassConfiguration.String())
	assert.Equal(t, "capacity", ClassCapacity.String())
	assert.Equal(t, "unsupported", ClassUnsupported.String())
	assert.Equal(t, "invariant", ClassInvariant.String())
	assert.Equal(t, "unknown", Class(0).String())
}
