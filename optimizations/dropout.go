package optimizations

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Dropout zeroes activations with probability Rate during training and
// rescales the survivors by 1/(1-Rate). Inference is the identity.
type Dropout struct {
	Rate float64
	keep distuv.Bernoulli

	mask *mat.Dense // nil when the last forward was not training
}

func NewDropout(rate float64, src rand.Source) *Dropout {
	return &Dropout{Rate: rate, keep: distuv.Bernoulli{P: 1 - rate, Src: src}}
}

func (d *Dropout) Forward(X *mat.Dense, train bool) *mat.Dense {
	if !train || d.Rate == 0 {
		d.mask = nil
		return X
	}
	r, c := X.Dims()
	scale := 1 / (1 - d.Rate)
	mask := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		row := mask.RawRowView(i)
		for j := range row {
			row[j] = d.keep.Rand() * scale
		}
	}
	d.mask = mask
	out := mat.NewDense(r, c, nil)
	out.MulElem(X, mask)
	return out
}

func (d *Dropout) Backward(dY *mat.Dense) *mat.Dense {
	if d.mask == nil {
		return dY
	}
	r, c := dY.Dims()
	out := mat.NewDense(r, c, nil)
	out.MulElem(dY, d.mask)
	return out
}

// Clone returns a dropout with the same rate drawing from src.
func (d *Dropout) Clone(src rand.Source) *Dropout {
	return NewDropout(d.Rate, src)
}
