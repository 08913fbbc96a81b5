package transformer

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/minigpt/optimizations"
	"github.com/manningwu07/minigpt/utils"
)

// embedInitRange matches the usual uniform(-0.05, 0.05) embedding init.
const embedInitRange = 0.05

// Embedding sums a token lookup and a learned position lookup.
type Embedding struct {
	Tok *optimizations.Param // (d x vocab)
	Pos *optimizations.Param // (d x maxLen)

	ids []int
}

func NewEmbedding(vocabSize, maxLen, dModel int, src rand.Source) *Embedding {
	return &Embedding{
		Tok: optimizations.NewParam("embed.tok", mat.NewDense(dModel, vocabSize, utils.UniformArray(dModel*vocabSize, embedInitRange, src)), true),
		Pos: optimizations.NewParam("embed.pos", mat.NewDense(dModel, maxLen, utils.UniformArray(dModel*maxLen, embedInitRange, src)), false),
	}
}

// Forward returns X (d x T) with X[:,t] = Tok[:,ids[t]] + Pos[:,t].
func (e *Embedding) Forward(ids []int) *mat.Dense {
	d, vocab := e.Tok.W.Dims()
	_, maxLen := e.Pos.W.Dims()
	if len(ids) > maxLen {
		panic(fmt.Sprintf("Embedding.Forward: %d ids exceed max length %d", len(ids), maxLen))
	}
	X := mat.NewDense(d, len(ids), nil)
	for t, id := range ids {
		if id < 0 || id >= vocab {
			panic(fmt.Sprintf("Embedding.Forward: token id %d outside vocabulary of %d", id, vocab))
		}
		for i := 0; i < d; i++ {
			X.Set(i, t, e.Tok.W.At(i, id)+e.Pos.W.At(i, t))
		}
	}
	e.ids = ids
	return X
}

// Backward scatters dX into the token and position columns used by Forward.
func (e *Embedding) Backward(dX *mat.Dense) {
	d, _ := dX.Dims()
	for t, id := range e.ids {
		for i := 0; i < d; i++ {
			g := dX.At(i, t)
			e.Tok.Grad.Set(i, id, e.Tok.Grad.At(i, id)+g)
			e.Pos.Grad.Set(i, t, e.Pos.Grad.At(i, t)+g)
		}
	}
}

func (e *Embedding) Params() []*optimizations.Param {
	return []*optimizations.Param{e.Tok, e.Pos}
}
