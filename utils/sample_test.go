package utils

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestTopKOrder(t *testing.T) {
	ids, vals := TopK([]float64{0.1, 3, -2, 5, 1}, 3)
	assert.Equal(t, []int{3, 1, 4}, ids)
	assert.Equal(t, []float64{5, 3, 1}, vals)

	all, _ := TopK([]float64{1, 2}, 0)
	assert.Len(t, all, 2)
	big, _ := TopK([]float64{1, 2}, 10)
	assert.Len(t, big, 2)
}

func TestSampleTopKMembership(t *testing.T) {
	src := rand.NewPCG(7, 11)
	logits := []float64{0.2, 4, 1, 3.5, -1, 0, 2.5, 0.3}
	allowed := map[int]bool{1: true, 3: true, 6: true}
	for i := 0; i < 2000; i++ {
		id := SampleTopK(logits, 3, src)
		require.Truef(t, allowed[id], "sampled %d outside the top 3", id)
	}
}

func TestSampleTopKFrequencies(t *testing.T) {
	src := rand.NewPCG(1, 2)
	logits := []float64{1, 0, 2, -3, 0.5}
	const k, n = 3, 60000

	ids, vals := TopK(logits, k)
	probs := Softmax(vals)

	counts := make(map[int]int)
	for i := 0; i < n; i++ {
		counts[SampleTopK(logits, k, src)]++
	}
	for i, id := range ids {
		got := float64(counts[id]) / n
		assert.InDeltaf(t, probs[i], got, 0.01, "token %d", id)
	}
	assert.Zero(t, counts[1])
	assert.Zero(t, counts[3])
}

func TestSoftmaxAndCrossEntropy(t *testing.T) {
	p := Softmax([]float64{1000, 1000})
	assert.InDelta(t, 0.5, p[0], 1e-12)

	logits := mat.NewDense(3, 1, []float64{1, 2, 3})
	loss, grad := CrossEntropyWithIndex(logits, 2)
	probs := Softmax([]float64{1, 2, 3})
	assert.InDelta(t, -math.Log(probs[2]), loss, 1e-12)
	assert.InDelta(t, probs[0], grad.At(0, 0), 1e-12)
	assert.InDelta(t, probs[2]-1, grad.At(2, 0), 1e-12)

	assert.Panics(t, func() { CrossEntropyWithIndex(logits, 3) })
}

func TestSoftmaxBackwardFiniteDiff(t *testing.T) {
	s := mat.NewDense(2, 3, []float64{0.3, -0.1, 0.7, 1.2, 0.4, -0.5})
	up := mat.NewDense(2, 3, []float64{0.5, -1, 2, 0.1, 0.3, -0.7})
	loss := func() float64 {
		a := mat.NewDense(2, 3, nil)
		RowSoftmaxMaskedInPlace(a, s, nil)
		return mat.Sum(Multiply(a, up))
	}
	a := mat.NewDense(2, 3, nil)
	RowSoftmaxMaskedInPlace(a, s, nil)
	dS := SoftmaxBackward(up, a)

	const eps = 1e-6
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			w0 := s.At(i, j)
			s.Set(i, j, w0+eps)
			lp := loss()
			s.Set(i, j, w0-eps)
			lm := loss()
			s.Set(i, j, w0)
			assert.InDelta(t, (lp-lm)/(2*eps), dS.At(i, j), 1e-6)
		}
	}
}

func TestClipGrads(t *testing.T) {
	a := mat.NewDense(1, 2, []float64{3, 0})
	b := mat.NewDense(1, 1, []float64{4})
	norm := ClipGrads(1, a, b)
	assert.InDelta(t, 5, norm, 1e-12)
	assert.InDelta(t, 0.6, a.At(0, 0), 1e-12)
	assert.InDelta(t, 0.8, b.At(0, 0), 1e-12)

	assert.InDelta(t, 1, ClipGrads(2, a, b), 1e-12, "under the limit")
	assert.InDelta(t, 0.6, a.At(0, 0), 1e-12)
	assert.InDelta(t, 0.6, ClipGrads(0, a), 1e-12, "disabled still reports the norm")
	assert.InDelta(t, 0.6, a.At(0, 0), 1e-12)
}
