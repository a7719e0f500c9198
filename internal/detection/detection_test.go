package detection_test

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoangtdhdhcn/mammo-ai-app/internal/detection"
)

var defaults = detection.Thresholds{Confidence: 0.5, IoU: 0.45}

func raw(x1, y1, x2, y2, conf float64) detection.Raw {
	return detection.Raw{Box: detection.Box{X1: x1, Y1: y1, X2: x2, Y2: y2}, Confidence: conf}
}

type halfScale struct{}

func (halfScale) ToSource(x, y float64) (float64, float64) {
	return (x - 0.25) * 2, y
}

func TestIoU(t *testing.T) {
	a := detection.Box{X1: 0, Y1: 0, X2: 0.5, Y2: 0.5}

	tests := []struct {
		name string
		b    detection.Box
		want float64
	}{
		{"identical", a, 1},
		{"disjoint", detection.Box{X1: 0.6, Y1: 0.6, X2: 1, Y2: 1}, 0},
		{"touching edge", detection.Box{X1: 0.5, Y1: 0, X2: 1, Y2: 0.5}, 0},
		{"half overlap", detection.Box{X1: 0.25, Y1: 0, X2: 0.75, Y2: 0.5}, 1.0 / 3.0},
		{"contained", detection.Box{X1: 0, Y1: 0, X2: 0.25, Y2: 0.25}, 0.25},
		{"degenerate", detection.Box{X1: 0.1, Y1: 0.1, X2: 0.1, Y2: 0.1}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := detection.IoU(a, tt.b)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.InDelta(t, got, detection.IoU(tt.b, a), 1e-9, "symmetric")
		})
	}
}

func TestProcessFiltersAndOrders(t *testing.T) {
	in := []detection.Raw{
		raw(0.0, 0.0, 0.1, 0.1, 0.6),
		raw(0.5, 0.5, 0.6, 0.6, 0.9),
		raw(0.8, 0.8, 0.9, 0.9, 0.49),
		raw(0.3, 0.3, 0.4, 0.4, 0.5),
	}

	out, err := detection.Process(in, defaults, nil)
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Equal(t, 0.9, out[0].Confidence)
	assert.Equal(t, 0.6, out[1].Confidence)
	assert.Equal(t, 0.5, out[2].Confidence, "threshold is inclusive")
}

func TestProcessSuppression(t *testing.T) {
	in := []detection.Raw{
		raw(0.10, 0.10, 0.50, 0.50, 0.80),
		raw(0.12, 0.12, 0.52, 0.52, 0.95),
		raw(0.60, 0.60, 0.90, 0.90, 0.70),
	}

	out, err := detection.Process(in, defaults, nil)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, 0.95, out[0].Confidence, "higher-confidence overlap wins")
	assert.Equal(t, 0.70, out[1].Confidence)

	for i := range out {
		for j := i + 1; j < len(out); j++ {
			assert.Less(t, detection.IoU(out[i].Box, out[j].Box), defaults.IoU)
		}
	}
}

func TestProcessTiesKeepInputOrder(t *testing.T) {
	in := []detection.Raw{
		{Box: detection.Box{X1: 0.0, Y1: 0.0, X2: 0.2, Y2: 0.2}, ClassID: 1, Confidence: 0.7},
		{Box: detection.Box{X1: 0.5, Y1: 0.5, X2: 0.7, Y2: 0.7}, ClassID: 2, Confidence: 0.7},
		{Box: detection.Box{X1: 0.01, Y1: 0.01, X2: 0.2, Y2: 0.2}, ClassID: 3, Confidence: 0.7},
	}

	out, err := detection.Process(in, defaults, nil)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, 1, out[0].ClassID, "first of equal-confidence overlap is kept")
	assert.Equal(t, 2, out[1].ClassID)
}

func TestProcessIdempotentOnOutput(t *testing.T) {
	in := []detection.Raw{
		raw(0.10, 0.10, 0.50, 0.50, 0.80),
		raw(0.12, 0.12, 0.52, 0.52, 0.95),
		raw(0.60, 0.60, 0.90, 0.90, 0.70),
	}
	first, err := detection.Process(in, defaults, nil)
	require.NoError(t, err)

	again := make([]detection.Raw, len(first))
	for i, d := range first {
		again[i] = detection.Raw{Box: d.Box, ClassID: d.ClassID, Label: d.Label, Confidence: d.Confidence}
	}
	second, err := detection.Process(again, defaults, nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func randomRaw(rng *rand.Rand, n int) []detection.Raw {
	out := make([]detection.Raw, n)
	for i := range out {
		x1, x2 := rng.Float64(), rng.Float64()
		y1, y2 := rng.Float64(), rng.Float64()
		// coarse confidences so ties occur
		conf := float64(rng.IntN(21)) / 20
		out[i] = detection.Raw{
			Box:        detection.Box{X1: min(x1, x2), Y1: min(y1, y2), X2: max(x1, x2), Y2: max(y1, y2)},
			ClassID:    i,
			Confidence: conf,
		}
	}
	return out
}

func TestProcessRandomizedInvariants(t *testing.T) {
	rng := rand.New(rand.NewPCG(20240611, 7))

	for round := range 500 {
		in := randomRaw(rng, rng.IntN(40))
		th := detection.Thresholds{
			Confidence: rng.Float64(),
			IoU:        1 - rng.Float64(), // (0,1]
		}

		out, err := detection.Process(in, th, nil)
		require.NoError(t, err, "round %d", round)

		kept := make(map[int]bool, len(out))
		for i, d := range out {
			kept[d.ClassID] = true
			assert.GreaterOrEqual(t, d.Confidence, th.Confidence, "round %d: below threshold", round)
			assert.Equal(t, in[d.ClassID].Box, d.Box, "round %d: box moved without a remap", round)
			if i > 0 {
				assert.LessOrEqual(t, d.Confidence, out[i-1].Confidence, "round %d: not confidence-descending", round)
			}
			for _, prev := range out[:i] {
				assert.Less(t, detection.IoU(prev.Box, d.Box), th.IoU,
					"round %d: kept %d and %d overlap", round, prev.ClassID, d.ClassID)
			}
		}

		// every dropped candidate above threshold was covered by a kept one
		for _, r := range in {
			if r.Confidence < th.Confidence || kept[r.ClassID] {
				continue
			}
			covered := false
			for _, d := range out {
				if d.Confidence >= r.Confidence && detection.IoU(d.Box, r.Box) >= th.IoU {
					covered = true
					break
				}
			}
			assert.True(t, covered, "round %d: candidate %d dropped without an overlapping survivor", round, r.ClassID)
		}
	}
}

func TestProcessRemapAndClamp(t *testing.T) {
	in := []detection.Raw{raw(0.20, 0.1, 0.50, 0.3, 0.9)}

	out, err := detection.Process(in, defaults, halfScale{})
	require.NoError(t, err)
	require.Len(t, out, 1)

	assert.Equal(t, 0.0, out[0].Box.X1, "negative source coordinate is clamped")
	assert.InDelta(t, 0.5, out[0].Box.X2, 1e-9)
	assert.InDelta(t, 0.1, out[0].Box.Y1, 1e-9)
	assert.NoError(t, detection.Validate(out[0]))
}

func TestProcessEmpty(t *testing.T) {
	out, err := detection.Process(nil, defaults, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.NotNil(t, out)

	out, err = detection.Process([]detection.Raw{raw(0, 0, 0.1, 0.1, 0.2)}, defaults, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestProcessRejectsInvalidRaw(t *testing.T) {
	tests := []struct {
		name string
		in   detection.Raw
	}{
		{"confidence above one", raw(0, 0, 0.1, 0.1, 1.2)},
		{"negative confidence", raw(0, 0, 0.1, 0.1, -0.1)},
		{"nan coordinate", raw(math.NaN(), 0, 0.1, 0.1, 0.9)},
		{"infinite coordinate", raw(0, 0, math.Inf(1), 0.1, 0.9)},
		{"inverted box", raw(0.5, 0.5, 0.1, 0.1, 0.9)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := detection.Process([]detection.Raw{tt.in}, defaults, nil)
			assert.ErrorIs(t, err, detection.ErrInvalidDetection)
		})
	}
}

func TestThresholdsValidate(t *testing.T) {
	assert.NoError(t, defaults.Validate())
	assert.ErrorIs(t, detection.Thresholds{Confidence: 1.5, IoU: 0.5}.Validate(), detection.ErrInvalidThreshold)
	assert.ErrorIs(t, detection.Thresholds{Confidence: 0.5, IoU: 0}.Validate(), detection.ErrInvalidThreshold)
}

func TestConfidenceSummaries(t *testing.T) {
	ds := []detection.Detection{{Confidence: 0.9}, {Confidence: 0.5}}
	assert.Equal(t, 0.9, detection.MaxConfidence(ds))
	assert.InDelta(t, 0.7, detection.MeanConfidence(ds), 1e-9)
	assert.Zero(t, detection.MaxConfidence(nil))
	assert.Zero(t, detection.MeanConfidence(nil))
}
