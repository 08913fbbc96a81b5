package transformer

import (
	"math/rand/v2"

	"github.com/manningwu07/minigpt/optimizations"
)

// CloneForGradsOnly creates a clone of the model where all weights/biases
// are shared (read-only), but caches and gradients are private to avoid
// races. No optimizer state is copied. Dropout in the clone draws from src.
func (g *GPT) CloneForGradsOnly(src rand.Source) *GPT {
	b := g.Block
	return &GPT{
		VocabSize: g.VocabSize,
		MaxLen:    g.MaxLen,
		EmbedDim:  g.EmbedDim,
		Embed: &Embedding{
			Tok: g.Embed.Tok.CloneForGrads(),
			Pos: g.Embed.Pos.CloneForGrads(),
		},
		Block: &TransformerBlock{
			Attn:  cloneAttentionForGrads(b.Attn),
			Mlp:   cloneMLPForGrads(b.Mlp),
			Ln1:   b.Ln1.CloneForGrads(),
			Ln2:   b.Ln2.CloneForGrads(),
			Drop1: b.Drop1.Clone(src),
			Drop2: b.Drop2.Clone(src),
		},
		HeadW: g.HeadW.CloneForGrads(),
		HeadB: g.HeadB.CloneForGrads(),
	}
}

// AccumulateGrads adds every replica's gradients into g.
func (g *GPT) AccumulateGrads(replicas ...*GPT) {
	dst := g.Params()
	for _, r := range replicas {
		for i, p := range r.Params() {
			dst[i].AddGrad(p.Grad)
		}
	}
}

func cloneAttentionForGrads(src *Attention) *Attention {
	a := &Attention{
		H:        src.H,
		DModel:   src.DModel,
		DHead:    src.DHead,
		Wquery:   cloneParams(src.Wquery),
		Bquery:   cloneParams(src.Bquery),
		Wkey:     cloneParams(src.Wkey),
		Bkey:     cloneParams(src.Bkey),
		Wvalue:   cloneParams(src.Wvalue),
		Bvalue:   cloneParams(src.Bvalue),
		Woutput:  src.Woutput.CloneForGrads(),
		Boutput:  src.Boutput.CloneForGrads(),
		Parallel: false, // avoid head-level goroutines inside a worker
	}
	a.resetCache()
	return a
}

func cloneMLPForGrads(src *MLP) *MLP {
	return &MLP{
		Inputs:        src.Inputs,
		Hiddens:       src.Hiddens,
		Activation:    src.Activation,
		HiddenWeights: src.HiddenWeights.CloneForGrads(),
		HiddenBias:    src.HiddenBias.CloneForGrads(),
		OutputWeights: src.OutputWeights.CloneForGrads(),
		OutputBias:    src.OutputBias.CloneForGrads(),
	}
}

func cloneParams(ps []*optimizations.Param) []*optimizations.Param {
	out := make([]*optimizations.Param, len(ps))
	for i, p := range ps {
		out[i] = p.CloneForGrads()
	}
	return out
}
