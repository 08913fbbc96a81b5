package transformer

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/minigpt/optimizations"
	"github.com/manningwu07/minigpt/params"
	"github.com/manningwu07/minigpt/utils"
)

// GPT is embedding -> one transformer block -> dense projection to logits.
type GPT struct {
	VocabSize int
	MaxLen    int
	EmbedDim  int

	Embed *Embedding
	Block *TransformerBlock
	HeadW *optimizations.Param // (vocab x d)
	HeadB *optimizations.Param // (vocab x 1)
}

// NewGPT validates cfg and initializes every weight from src.
func NewGPT(cfg params.TrainingConfig, src rand.Source) (*GPT, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	block, err := NewTransformerBlock(cfg, src)
	if err != nil {
		return nil, fmt.Errorf("transformer block: %w", err)
	}
	d, v := cfg.EmbedDim, cfg.VocabSize
	return &GPT{
		VocabSize: v,
		MaxLen:    cfg.MaxLen,
		EmbedDim:  d,
		Embed:     NewEmbedding(v, cfg.MaxLen, d, src),
		Block:     block,
		HeadW:     optimizations.NewParam("head.w", mat.NewDense(v, d, utils.RandomArray(v*d, float64(d), src)), true),
		HeadB:     optimizations.NewParam("head.b", mat.NewDense(v, 1, nil), false),
	}, nil
}

// Forward runs one sequence. It returns the logits (vocab x T) and the block
// output (d x T). Dropout is only active when train is set.
func (g *GPT) Forward(ids []int, train bool) (logits, hidden *mat.Dense) {
	x := g.Embed.Forward(ids)
	hidden = g.Block.Forward(x, train)
	logits = utils.AddBias(utils.ToDense(utils.Dot(g.HeadW.W, hidden)), g.HeadB.W)
	return logits, hidden
}

// Predict runs inference over a batch of sequences.
func (g *GPT) Predict(batch [][]int) (logits, hidden []*mat.Dense) {
	logits = make([]*mat.Dense, len(batch))
	hidden = make([]*mat.Dense, len(batch))
	for i, ids := range batch {
		logits[i], hidden[i] = g.Forward(ids, false)
	}
	return logits, hidden
}

// LossAndGrads runs a training forward pass on ids, scores every position
// against targets with sparse cross-entropy and backpropagates. Loss and
// gradients are divided by norm so that summing over a batch gives the mean.
// Gradients accumulate into the params; the caller zeroes them.
func (g *GPT) LossAndGrads(ids, targets []int, norm float64) float64 {
	if len(ids) != len(targets) {
		panic(fmt.Sprintf("LossAndGrads: %d ids vs %d targets", len(ids), len(targets)))
	}
	logits, hidden := g.Forward(ids, true)
	T := len(ids)
	dLogits := mat.NewDense(g.VocabSize, T, nil)
	total := 0.0
	for t := 0; t < T; t++ {
		col := logits.Slice(0, g.VocabSize, t, t+1).(*mat.Dense)
		loss, grad := utils.CrossEntropyWithIndex(col, targets[t])
		total += loss
		grad.Scale(1/norm, grad)
		dLogits.Slice(0, g.VocabSize, t, t+1).(*mat.Dense).Copy(grad)
	}

	g.HeadW.AddGrad(utils.Dot(dLogits, hidden.T()))
	g.HeadB.AddGrad(utils.RowSum(dLogits))
	dHidden := utils.ToDense(utils.Dot(g.HeadW.W.T(), dLogits))
	g.Embed.Backward(g.Block.Backward(dHidden))
	return total / norm
}

// Params lists every learned matrix in a fixed order shared by replicas.
func (g *GPT) Params() []*optimizations.Param {
	ps := g.Embed.Params()
	ps = append(ps, g.Block.Params()...)
	return append(ps, g.HeadW, g.HeadB)
}

func (g *GPT) ZeroGrads() {
	for _, p := range g.Params() {
		p.ZeroGrad()
	}
}

// NumParams counts scalar weights.
func (g *GPT) NumParams() int {
	n := 0
	for _, p := range g.Params() {
		n += p.Size()
	}
	return n
}
