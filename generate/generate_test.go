package generate

import (
	"bytes"
	"context"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/minigpt/IO"
	"github.com/manningwu07/minigpt/params"
	"github.com/manningwu07/minigpt/train"
	"github.com/manningwu07/minigpt/transformer"
)

// fixedModel returns the same logits at every position and records its inputs.
type fixedModel struct {
	logits []float64
	inputs [][]int
}

func (m *fixedModel) Forward(ids []int, _ bool) (*mat.Dense, *mat.Dense) {
	m.inputs = append(m.inputs, append([]int(nil), ids...))
	out := mat.NewDense(len(m.logits), len(ids), nil)
	for t := range ids {
		out.SetCol(t, m.logits)
	}
	return out, mat.NewDense(1, len(ids), nil)
}

func TestGenerateEndToEnd(t *testing.T) {
	cfg := params.Default()
	cfg.VocabSize = 12
	cfg.MaxLen = 10
	cfg.EmbedDim = 8
	cfg.FFDim = 8
	texts := []string{"this movie is great", "this movie is awful", "the plot was fine"}
	vocab := IO.BuildVocabulary(texts, cfg.VocabSize-1)
	gpt, err := transformer.NewGPT(cfg, rand.NewPCG(5, 5))
	require.NoError(t, err)

	g := &Generator{Model: gpt, Vocab: vocab, MaxLen: cfg.MaxLen, TopK: 10, Rand: rand.NewPCG(1, 2)}
	text, err := g.GenerateText(context.Background(), "this movie is", 5)
	require.NoError(t, err)
	parts := strings.Split(text, " ")
	assert.Len(t, parts, 3+5)
	assert.Equal(t, []string{"this", "movie", "is"}, parts[:3])
}

func TestGenerateUsesLastRealToken(t *testing.T) {
	m := &fixedModel{logits: []float64{0, 0, 5, 1}}
	g := &Generator{Model: m, MaxLen: 5, TopK: 1, Rand: rand.NewPCG(1, 1)}
	out, err := g.Generate(context.Background(), []int{3, 1}, 6)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 2, 2, 2, 2}, out)

	require.Len(t, m.inputs, 6)
	assert.Equal(t, []int{3, 1, 0, 0, 0}, m.inputs[0])
	assert.Equal(t, []int{3, 1, 2, 2, 2}, m.inputs[3])
	// longer than the window: keep the most recent tokens
	assert.Equal(t, []int{1, 2, 2, 2, 2}, m.inputs[4])
	assert.Equal(t, []int{2, 2, 2, 2, 2}, m.inputs[5])
}

func TestGenerateTopKMembership(t *testing.T) {
	m := &fixedModel{logits: []float64{0.1, 2, 0.3, 1.9, -4, 1.8}}
	g := &Generator{Model: m, MaxLen: 4, TopK: 3, Rand: rand.NewPCG(3, 3)}
	out, err := g.Generate(context.Background(), []int{1}, 300)
	require.NoError(t, err)
	require.Len(t, out, 300)
	for _, id := range out {
		assert.Contains(t, []int{1, 3, 5}, id)
	}
}

func TestGenerateCancelled(t *testing.T) {
	m := &fixedModel{logits: []float64{1, 2}}
	g := &Generator{Model: m, MaxLen: 4, TopK: 2, Rand: rand.NewPCG(1, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := g.Generate(ctx, []int{1}, 3)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, out)
}

func TestGenerateEmptyPrompt(t *testing.T) {
	g := &Generator{Model: &fixedModel{logits: []float64{1}}, Vocab: IO.NewVocabulary(nil), MaxLen: 4, TopK: 1, Rand: rand.NewPCG(1, 1)}
	_, err := g.GenerateText(context.Background(), "  ", 2)
	assert.ErrorIs(t, err, ErrEmptyPrompt)
}

func TestCallbackSkipsBlankPrompt(t *testing.T) {
	g := &Generator{Model: &fixedModel{logits: []float64{0, 0, 9}}, Vocab: IO.NewVocabulary([]string{"film"}), MaxLen: 4, TopK: 1, Rand: rand.NewPCG(1, 1)}
	var buf bytes.Buffer
	cb := g.Callback(&buf, "<br /> ", 2, 1)
	for e := 0; e < 3; e++ {
		require.NoError(t, cb(context.Background(), train.EpochStats{Epoch: e}))
	}
	assert.Empty(t, buf.String())
}

func TestCallbackEvery(t *testing.T) {
	vocab := IO.NewVocabulary([]string{"good", "film"})
	m := &fixedModel{logits: []float64{0, 0, 9, 0}}
	g := &Generator{Model: m, Vocab: vocab, MaxLen: 4, TopK: 1, Rand: rand.NewPCG(1, 1)}
	var buf bytes.Buffer
	cb := g.Callback(&buf, "film", 2, 2)
	for e := 0; e < 4; e++ {
		require.NoError(t, cb(context.Background(), train.EpochStats{Epoch: e}))
	}
	assert.Equal(t, "generated text:\nfilm good good\ngenerated text:\nfilm good good\n", buf.String())
}
