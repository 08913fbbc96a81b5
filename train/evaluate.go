package train

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/minigpt/IO"
	"github.com/manningwu07/minigpt/transformer"
	"github.com/manningwu07/minigpt/utils"
)

// EvalStats is next-token cross-entropy and argmax accuracy over held-out samples.
type EvalStats struct {
	Loss     float64
	Accuracy float64
	Tokens   int
}

// Evaluate scores samples in inference mode. It does not touch gradients.
func Evaluate(gpt *transformer.GPT, samples []IO.Sample) EvalStats {
	var st EvalStats
	ceSum, correct := 0.0, 0
	col := make([]float64, gpt.VocabSize)
	for _, s := range samples {
		logits, _ := gpt.Forward(s.Input, false)
		for t, gold := range s.Target {
			mat.Col(col, t, logits)
			if floats.MaxIdx(col) == gold {
				correct++
			}
			loss, _ := utils.CrossEntropyWithIndex(mat.NewDense(len(col), 1, col), gold)
			ceSum += loss
			st.Tokens++
		}
	}
	if st.Tokens > 0 {
		st.Loss = ceSum / float64(st.Tokens)
		st.Accuracy = float64(correct) / float64(st.Tokens)
	}
	return st
}
