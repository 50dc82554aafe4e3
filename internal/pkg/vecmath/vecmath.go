// Package vecmath holds the small amount of vector arithmetic the voice
// library needs: cosine scoring, mean aggregation and the fixed-width binary
// codec used for embedding columns. Accumulation is done in float64 so that
// rebuild results do not depend on sample insertion order in any observable
// way.
package vecmath

import (
	"encoding/binary"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	appErr "github.com/xxxsen/voiceid/internal/pkg/errors"
)

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

// Norm returns the L2 norm of v.
func Norm(v []float32) float64 {
	return floats.Norm(toFloat64(v), 2)
}

// Cosine returns the cosine similarity of a and b. Zero-norm inputs score 0.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", appErr.ErrDimensionMismatch, len(a), len(b))
	}
	fa, fb := toFloat64(a), toFloat64(b)
	na := floats.Norm(fa, 2)
	nb := floats.Norm(fb, 2)
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return floats.Dot(fa, fb) / (na * nb), nil
}

// Mean returns the arithmetic mean of the given vectors. All vectors must
// share one dimension.
func Mean(vs [][]float32) ([]float32, error) {
	if len(vs) == 0 {
		return nil, fmt.Errorf("%w: mean of zero vectors", appErr.ErrInvalid)
	}
	dim := len(vs[0])
	acc := make([]float64, dim)
	for _, v := range vs {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: %d vs %d", appErr.ErrDimensionMismatch, len(v), dim)
		}
		floats.Add(acc, toFloat64(v))
	}
	floats.Scale(1/float64(len(vs)), acc)
	out := make([]float32, dim)
	for i, x := range acc {
		out[i] = float32(x)
	}
	return out, nil
}

// RunningMean folds one new vector into an existing mean of n members:
// (old*n + v) / (n+1).
func RunningMean(old []float32, n int, v []float32) ([]float32, error) {
	if len(old) != len(v) {
		return nil, fmt.Errorf("%w: %d vs %d", appErr.ErrDimensionMismatch, len(old), len(v))
	}
	acc := toFloat64(old)
	floats.Scale(float64(n), acc)
	floats.Add(acc, toFloat64(v))
	floats.Scale(1/float64(n+1), acc)
	out := make([]float32, len(old))
	for i, x := range acc {
		out[i] = float32(x)
	}
	return out, nil
}

// ReplaceInMean substitutes one member of an n-sample mean without touching
// the membership count: mean + (next - prev)/n. Used when a sample is
// re-extracted under the same key with a corrected vector.
func ReplaceInMean(mean []float32, n int, prev, next []float32) ([]float32, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: mean has no members", appErr.ErrInvalid)
	}
	if len(mean) != len(prev) || len(mean) != len(next) {
		return nil, fmt.Errorf("%w: %d vs %d vs %d", appErr.ErrDimensionMismatch, len(mean), len(prev), len(next))
	}
	acc := toFloat64(mean)
	delta := toFloat64(next)
	floats.Sub(delta, toFloat64(prev))
	floats.Scale(1/float64(n), delta)
	floats.Add(acc, delta)
	out := make([]float32, len(mean))
	for i, x := range acc {
		out[i] = float32(x)
	}
	return out, nil
}

// Encode packs v as little-endian float32 words. The layout matches what the
// snapshot importer and the relational store both read back.
func Encode(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

// Decode unpacks an Encode blob. The stored dimension must divide evenly,
// otherwise the blob is treated as corrupt.
func Decode(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("%w: embedding blob of %d bytes", appErr.ErrInvalid, len(blob))
	}
	out := make([]float32, len(blob)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return out, nil
}
