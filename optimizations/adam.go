package optimizations

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/minigpt/utils"
)

// p -= lr * (mhat/(sqrt(vhat)+eps) + wd * p) with bias correction (AdamW).
func AdamUpdateInPlace(
	p, g, m, v *mat.Dense,
	t int,
	lr, beta1, beta2, eps, weightDecay float64,
) {
	pr, pc := p.Dims()
	if gr, gc := g.Dims(); gr != pr || gc != pc {
		panic("adamUpdateInPlace: grad shape mismatch")
	}
	if mr, mc := m.Dims(); mr != pr || mc != pc {
		panic("adamUpdateInPlace: m shape mismatch")
	}
	if vr, vc := v.Dims(); vr != pr || vc != pc {
		panic("adamUpdateInPlace: v shape mismatch")
	}
	c1 := 1.0 / (1.0 - math.Pow(beta1, float64(t)))
	c2 := 1.0 / (1.0 - math.Pow(beta2, float64(t)))
	for i := 0; i < pr; i++ {
		pRow, gRow := p.RawRowView(i), g.RawRowView(i)
		mRow, vRow := m.RawRowView(i), v.RawRowView(i)
		for j := range pRow {
			gij := gRow[j]
			mRow[j] = beta1*mRow[j] + (1.0-beta1)*gij
			vRow[j] = beta2*vRow[j] + (1.0-beta2)*gij*gij
			denom := math.Sqrt(vRow[j]*c2) + eps
			pRow[j] -= lr * (mRow[j]*c1/denom + weightDecay*pRow[j])
		}
	}
}

// Adam holds the optimizer settings and the shared step counter.
type Adam struct {
	LR          float64
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64
	T           int
}

// Step applies one AdamW update to every param using its accumulated Grad.
func (a *Adam) Step(ps []*Param) {
	a.T++
	for _, p := range ps {
		if p.M == nil {
			p.M = zerosLike(p.W)
			p.V = zerosLike(p.W)
		}
		wd := 0.0
		if p.Decay {
			wd = a.WeightDecay
		}
		AdamUpdateInPlace(p.W, p.Grad, p.M, p.V, a.T, a.LR, a.Beta1, a.Beta2, a.Eps, wd)
	}
}

// ClipGlobalNorm rescales all gradients so their joint L2 norm is at most
// maxNorm. It returns the pre-clip norm.
func ClipGlobalNorm(ps []*Param, maxNorm float64) float64 {
	grads := make([]*mat.Dense, len(ps))
	for i, p := range ps {
		grads[i] = p.Grad
	}
	return utils.ClipGrads(maxNorm, grads...)
}
