package optimizations

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// LayerNorm normalizes every column of a (d x T) input over its d rows.
type LayerNorm struct {
	D     int
	Eps   float64
	Gamma *Param // (d x 1)
	Beta  *Param // (d x 1)

	// cache
	xhat   *mat.Dense // (d x T)
	invStd []float64  // per column
}

func NewLayerNorm(name string, d int, eps float64) *LayerNorm {
	g := mat.NewDense(d, 1, nil)
	for i := 0; i < d; i++ {
		g.Set(i, 0, 1)
	}
	return &LayerNorm{
		D:     d,
		Eps:   eps,
		Gamma: NewParam(name+".gamma", g, false),
		Beta:  NewParam(name+".beta", mat.NewDense(d, 1, nil), false),
	}
}

func (ln *LayerNorm) Forward(X *mat.Dense) *mat.Dense {
	d, T := X.Dims()
	if d != ln.D {
		panic("LayerNorm.Forward: row count mismatch")
	}
	out := mat.NewDense(d, T, nil)
	xhat := mat.NewDense(d, T, nil)
	inv := make([]float64, T)
	col := make([]float64, d)
	for t := 0; t < T; t++ {
		mat.Col(col, t, X)
		mu, v := stat.PopMeanVariance(col, nil)
		istd := 1.0 / math.Sqrt(v+ln.Eps)
		inv[t] = istd
		for i := 0; i < d; i++ {
			n := (col[i] - mu) * istd
			xhat.Set(i, t, n)
			out.Set(i, t, ln.Gamma.W.At(i, 0)*n+ln.Beta.W.At(i, 0))
		}
	}
	ln.xhat = xhat
	ln.invStd = inv
	return out
}

// Backward accumulates dGamma and dBeta and returns dX.
func (ln *LayerNorm) Backward(dY *mat.Dense) *mat.Dense {
	d, T := dY.Dims()
	for i := 0; i < d; i++ {
		sumDG, sumDB := 0.0, 0.0
		for t := 0; t < T; t++ {
			sumDG += dY.At(i, t) * ln.xhat.At(i, t)
			sumDB += dY.At(i, t)
		}
		ln.Gamma.Grad.Set(i, 0, ln.Gamma.Grad.At(i, 0)+sumDG)
		ln.Beta.Grad.Set(i, 0, ln.Beta.Grad.At(i, 0)+sumDB)
	}

	dX := mat.NewDense(d, T, nil)
	for t := 0; t < T; t++ {
		istd := ln.invStd[t]
		sum1, sum2 := 0.0, 0.0
		for i := 0; i < d; i++ {
			gy := dY.At(i, t) * ln.Gamma.W.At(i, 0)
			sum1 += gy
			sum2 += gy * ln.xhat.At(i, t)
		}
		for i := 0; i < d; i++ {
			gy := dY.At(i, t) * ln.Gamma.W.At(i, 0)
			dX.Set(i, t, (float64(d)*gy-sum1-ln.xhat.At(i, t)*sum2)*(istd/float64(d)))
		}
	}
	return dX
}

func (ln *LayerNorm) Params() []*Param {
	return []*Param{ln.Gamma, ln.Beta}
}

// CloneForGrads shares gamma/beta and keeps caches and gradients private.
func (ln *LayerNorm) CloneForGrads() *LayerNorm {
	return &LayerNorm{
		D:     ln.D,
		Eps:   ln.Eps,
		Gamma: ln.Gamma.CloneForGrads(),
		Beta:  ln.Beta.CloneForGrads(),
	}
}
