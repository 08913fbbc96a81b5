package utils

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// TopK returns the ids of the k largest logits and the logits themselves,
// highest first. k <= 0 or k > len(logits) keeps everything.
func TopK(logits []float64, k int) (ids []int, vals []float64) {
	n := len(logits)
	if k <= 0 || k > n {
		k = n
	}
	sorted := append([]float64(nil), logits...)
	inds := make([]int, n)
	floats.Argsort(sorted, inds) // ascending

	ids = make([]int, k)
	vals = make([]float64, k)
	for i := 0; i < k; i++ {
		ids[i] = inds[n-1-i]
		vals[i] = sorted[n-1-i]
	}
	return ids, vals
}

// SampleTopK draws a token id from the softmax over the k highest logits.
func SampleTopK(logits []float64, k int, src rand.Source) int {
	if len(logits) == 0 {
		panic("SampleTopK: empty logits")
	}
	ids, vals := TopK(logits, k)
	probs := Softmax(vals)
	dist := distuv.NewCategorical(probs, src)
	return ids[int(dist.Rand())]
}
