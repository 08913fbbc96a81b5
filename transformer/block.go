package transformer

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/minigpt/optimizations"
	"github.com/manningwu07/minigpt/params"
)

// TransformerBlock is post-norm: LN2(o1 + drop(FFN(o1))) with
// o1 = LN1(X + drop(Attn(X))).
type TransformerBlock struct {
	Attn  *Attention
	Mlp   *MLP
	Ln1   *optimizations.LayerNorm
	Ln2   *optimizations.LayerNorm
	Drop1 *optimizations.Dropout
	Drop2 *optimizations.Dropout
}

func NewTransformerBlock(cfg params.TrainingConfig, src rand.Source) (*TransformerBlock, error) {
	attn, err := NewAttention(cfg.EmbedDim, cfg.NumHeads, src)
	if err != nil {
		return nil, err
	}
	attn.Parallel = cfg.HeadParallel
	return &TransformerBlock{
		Attn:  attn,
		Mlp:   NewMLP(cfg.EmbedDim, cfg.FFDim, cfg.Activation, src),
		Ln1:   optimizations.NewLayerNorm("ln1", cfg.EmbedDim, cfg.LNEpsilon),
		Ln2:   optimizations.NewLayerNorm("ln2", cfg.EmbedDim, cfg.LNEpsilon),
		Drop1: optimizations.NewDropout(cfg.DropoutRate, src),
		Drop2: optimizations.NewDropout(cfg.DropoutRate, src),
	}, nil
}

func (b *TransformerBlock) Forward(X *mat.Dense, train bool) *mat.Dense {
	attnOut := b.Drop1.Forward(b.Attn.Forward(X), train)
	var r1 mat.Dense
	r1.Add(attnOut, X)
	o1 := b.Ln1.Forward(&r1)

	ffnOut := b.Drop2.Forward(b.Mlp.Forward(o1), train)
	var r2 mat.Dense
	r2.Add(ffnOut, o1)
	return b.Ln2.Forward(&r2)
}

func (b *TransformerBlock) Backward(dY *mat.Dense) *mat.Dense {
	dR2 := b.Ln2.Backward(dY)
	dO1 := b.Mlp.Backward(b.Drop2.Backward(dR2))
	dO1.Add(dO1, dR2)

	dR1 := b.Ln1.Backward(dO1)
	dX := b.Attn.Backward(b.Drop1.Backward(dR1))
	dX.Add(dX, dR1)
	return dX
}

func (b *TransformerBlock) Params() []*optimizations.Param {
	ps := b.Attn.Params()
	ps = append(ps, b.Mlp.Params()...)
	ps = append(ps, b.Ln1.Params()...)
	return append(ps, b.Ln2.Params()...)
}
