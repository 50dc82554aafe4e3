package vecmath

import (
	"testing"

	"github.com/stretchr/testify/require"

	appErr "github.com/xxxsen/voiceid/internal/pkg/errors"
)

func TestCosine(t *testing.T) {
	a := []float32{1, 2, 3}
	same, err := Cosine(a, a)
	require.NoError(t, err)
	require.InDelta(t, 1.0, same, 1e-9)

	orth, err := Cosine([]float32{1, 0}, []float32{0, 1})
	require.NoError(t, err)
	require.InDelta(t, 0.0, orth, 1e-9)

	opp, err := Cosine([]float32{1, 0}, []float32{-1, 0})
	require.NoError(t, err)
	require.InDelta(t, -1.0, opp, 1e-9)

	_, err = Cosine([]float32{1, 2}, []float32{1, 2, 3})
	require.ErrorIs(t, err, appErr.ErrDimensionMismatch)

	zero, err := Cosine([]float32{0, 0}, []float32{1, 1})
	require.NoError(t, err)
	require.Equal(t, 0.0, zero)
}

func TestMean(t *testing.T) {
	mean, err := Mean([][]float32{{1, 2}, {3, 4}, {5, 6}})
	require.NoError(t, err)
	require.InDelta(t, 3.0, float64(mean[0]), 1e-6)
	require.InDelta(t, 4.0, float64(mean[1]), 1e-6)

	_, err = Mean(nil)
	require.ErrorIs(t, err, appErr.ErrInvalid)

	_, err = Mean([][]float32{{1, 2}, {1, 2, 3}})
	require.ErrorIs(t, err, appErr.ErrDimensionMismatch)
}

func TestRunningMeanMatchesBatchMean(t *testing.T) {
	vs := [][]float32{{1, 10}, {2, 20}, {3, 30}, {4, 40}}
	batch, err := Mean(vs)
	require.NoError(t, err)

	run := append([]float32(nil), vs[0]...)
	for i, v := range vs[1:] {
		run, err = RunningMean(run, i+1, v)
		require.NoError(t, err)
	}
	require.InDelta(t, float64(batch[0]), float64(run[0]), 1e-5)
	require.InDelta(t, float64(batch[1]), float64(run[1]), 1e-5)
}

func TestEncodeDecode(t *testing.T) {
	v := []float32{0.25, -1.5, 3.75, 0}
	got, err := Decode(Encode(v))
	require.NoError(t, err)
	require.Equal(t, v, got)

	_, err = Decode([]byte{1, 2, 3})
	require.ErrorIs(t, err, appErr.ErrInvalid)
}

func TestNorm(t *testing.T) {
	require.InDelta(t, 5.0, Norm([]float32{3, 4}), 1e-9)
	require.Equal(t, 0.0, Norm(nil))
}
