package transformer

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/minigpt/optimizations"
	"github.com/manningwu07/minigpt/params"
	"github.com/manningwu07/minigpt/utils"
)

// Attention is causal multi-head self-attention over a (d x T) sequence.
type Attention struct {
	H      int
	DModel int
	DHead  int

	Wquery, Bquery []*optimizations.Param // per head: (dHead x d), (dHead x 1)
	Wkey, Bkey     []*optimizations.Param
	Wvalue, Bvalue []*optimizations.Param
	Woutput        *optimizations.Param // (d x d)
	Boutput        *optimizations.Param // (d x 1)

	// Parallel runs the heads of one forward pass on separate goroutines.
	Parallel bool

	// cache for backprop
	x       *mat.Dense
	q, k, v []*mat.Dense
	a       []*mat.Dense
	oCat    *mat.Dense
	mask    *mat.Dense

	maskCache map[int]*mat.Dense
}

func NewAttention(dModel, nHeads int, src rand.Source) (*Attention, error) {
	if nHeads <= 0 || dModel <= 0 {
		return nil, fmt.Errorf("%w: attention needs positive width and heads, got %d/%d",
			params.ErrInvalidConfig, dModel, nHeads)
	}
	if dModel%nHeads != 0 {
		return nil, fmt.Errorf("%w: embedding dimension %d is not divisible by %d heads",
			params.ErrInvalidConfig, dModel, nHeads)
	}
	dHead := dModel / nHeads
	attn := &Attention{
		H:      nHeads,
		DModel: dModel,
		DHead:  dHead,
		Wquery: make([]*optimizations.Param, nHeads),
		Bquery: make([]*optimizations.Param, nHeads),
		Wkey:   make([]*optimizations.Param, nHeads),
		Bkey:   make([]*optimizations.Param, nHeads),
		Wvalue: make([]*optimizations.Param, nHeads),
		Bvalue: make([]*optimizations.Param, nHeads),
	}
	weight := func(name string, r, c int) *optimizations.Param {
		return optimizations.NewParam(name, mat.NewDense(r, c, utils.RandomArray(r*c, float64(c), src)), true)
	}
	bias := func(name string, r int) *optimizations.Param {
		return optimizations.NewParam(name, mat.NewDense(r, 1, nil), false)
	}
	for h := 0; h < nHeads; h++ {
		attn.Wquery[h] = weight(fmt.Sprintf("attn.q%d.w", h), dHead, dModel)
		attn.Bquery[h] = bias(fmt.Sprintf("attn.q%d.b", h), dHead)
		attn.Wkey[h] = weight(fmt.Sprintf("attn.k%d.w", h), dHead, dModel)
		attn.Bkey[h] = bias(fmt.Sprintf("attn.k%d.b", h), dHead)
		attn.Wvalue[h] = weight(fmt.Sprintf("attn.v%d.w", h), dHead, dModel)
		attn.Bvalue[h] = bias(fmt.Sprintf("attn.v%d.b", h), dHead)
	}
	attn.Woutput = weight("attn.out.w", dModel, dModel)
	attn.Boutput = bias("attn.out.b", dModel)
	attn.resetCache()
	return attn, nil
}

func (attn *Attention) resetCache() {
	attn.q = make([]*mat.Dense, attn.H)
	attn.k = make([]*mat.Dense, attn.H)
	attn.v = make([]*mat.Dense, attn.H)
	attn.a = make([]*mat.Dense, attn.H)
	attn.maskCache = make(map[int]*mat.Dense)
}

func (attn *Attention) causalMask(T int) *mat.Dense {
	m, ok := attn.maskCache[T]
	if !ok {
		m = utils.CausalMask(T, T)
		attn.maskCache[T] = m
	}
	return m
}

// Forward maps X (d x T) to Y (d x T).
func (attn *Attention) Forward(X *mat.Dense) *mat.Dense {
	_, T := X.Dims()
	attn.x = X
	attn.mask = attn.causalMask(T)
	headsCat := mat.NewDense(attn.DModel, T, nil)
	rescale := 1.0 / math.Sqrt(float64(attn.DHead))

	work := func(h int) {
		q := utils.AddBias(utils.ToDense(utils.Dot(attn.Wquery[h].W, X)), attn.Bquery[h].W)
		k := utils.AddBias(utils.ToDense(utils.Dot(attn.Wkey[h].W, X)), attn.Bkey[h].W)
		v := utils.AddBias(utils.ToDense(utils.Dot(attn.Wvalue[h].W, X)), attn.Bvalue[h].W)

		// S = Q^T K / sqrt(dHead), rows are destinations
		scores := mat.NewDense(T, T, nil)
		scores.Mul(q.T(), k)
		scores.Scale(rescale, scores)
		a := mat.NewDense(T, T, nil)
		utils.RowSoftmaxMaskedInPlace(a, scores, attn.mask)

		// O = V A^T
		base := h * attn.DHead
		dst := headsCat.Slice(base, base+attn.DHead, 0, T).(*mat.Dense)
		dst.Mul(v, a.T())

		attn.q[h], attn.k[h], attn.v[h], attn.a[h] = q, k, v, a
	}
	if attn.Parallel && attn.H > 1 {
		var wg sync.WaitGroup
		wg.Add(attn.H)
		for h := 0; h < attn.H; h++ {
			go func() { defer wg.Done(); work(h) }()
		}
		wg.Wait()
	} else {
		for h := 0; h < attn.H; h++ {
			work(h)
		}
	}
	attn.oCat = headsCat
	return utils.AddBias(utils.ToDense(utils.Dot(attn.Woutput.W, headsCat)), attn.Boutput.W)
}

// Backward accumulates parameter gradients for the last Forward and returns dX.
func (attn *Attention) Backward(dY *mat.Dense) *mat.Dense {
	_, T := attn.x.Dims()
	attn.Woutput.AddGrad(utils.Dot(dY, attn.oCat.T()))
	attn.Boutput.AddGrad(utils.RowSum(dY))
	dOcat := utils.ToDense(utils.Dot(attn.Woutput.W.T(), dY))

	rescale := 1.0 / math.Sqrt(float64(attn.DHead))
	dX := mat.NewDense(attn.DModel, T, nil)
	for h := 0; h < attn.H; h++ {
		base := h * attn.DHead
		dO := dOcat.Slice(base, base+attn.DHead, 0, T)

		dV := utils.ToDense(utils.Dot(dO, attn.a[h]))     // (dHead x T)
		dA := utils.ToDense(utils.Dot(dO.T(), attn.v[h])) // (T x T)
		dS := utils.SoftmaxBackward(dA, attn.a[h])        // through softmax
		dS.MulElem(dS, attn.mask)                         // masked scores are constants
		dS.Scale(rescale, dS)                             // S = Q^T K / sqrt(dHead)
		dQ := utils.ToDense(utils.Dot(attn.k[h], dS.T())) // (dHead x T)
		dK := utils.ToDense(utils.Dot(attn.q[h], dS))     // (dHead x T)

		attn.Wquery[h].AddGrad(utils.Dot(dQ, attn.x.T()))
		attn.Wkey[h].AddGrad(utils.Dot(dK, attn.x.T()))
		attn.Wvalue[h].AddGrad(utils.Dot(dV, attn.x.T()))
		attn.Bquery[h].AddGrad(utils.RowSum(dQ))
		attn.Bkey[h].AddGrad(utils.RowSum(dK))
		attn.Bvalue[h].AddGrad(utils.RowSum(dV))

		dX.Add(dX, utils.Dot(attn.Wquery[h].W.T(), dQ))
		dX.Add(dX, utils.Dot(attn.Wkey[h].W.T(), dK))
		dX.Add(dX, utils.Dot(attn.Wvalue[h].W.T(), dV))
	}
	return dX
}

func (attn *Attention) Params() []*optimizations.Param {
	ps := make([]*optimizations.Param, 0, 6*attn.H+2)
	for h := 0; h < attn.H; h++ {
		ps = append(ps,
			attn.Wquery[h], attn.Bquery[h],
			attn.Wkey[h], attn.Bkey[h],
			attn.Wvalue[h], attn.Bvalue[h],
		)
	}
	return append(ps, attn.Woutput, attn.Boutput)
}
