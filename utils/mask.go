package utils

import "gonum.org/v1/gonum/mat"

// MaskPenalty is added to masked attention scores before the softmax.
const MaskPenalty = -1e4

// CausalMask returns an (nDest x nSrc) matrix with M[i,j] = 1 when
// i >= j - nSrc + nDest and 0 otherwise. Destination i may only see sources
// up to its own aligned position, also when nDest != nSrc. A zero dimension
// yields an empty matrix.
func CausalMask(nDest, nSrc int) *mat.Dense {
	if nDest <= 0 || nSrc <= 0 {
		return &mat.Dense{}
	}
	m := mat.NewDense(nDest, nSrc, nil)
	for i := 0; i < nDest; i++ {
		row := m.RawRowView(i)
		for j := range row {
			if i >= j-nSrc+nDest {
				row[j] = 1
			}
		}
	}
	return m
}
