package transformer

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/minigpt/optimizations"
	"github.com/manningwu07/minigpt/params"
	"github.com/manningwu07/minigpt/utils"
)

func tinyConfig() params.TrainingConfig {
	cfg := params.Default()
	cfg.VocabSize = 7
	cfg.MaxLen = 5
	cfg.EmbedDim = 4
	cfg.NumHeads = 2
	cfg.FFDim = 6
	cfg.DropoutRate = 0
	cfg.LNEpsilon = 1e-5
	cfg.Activation = "gelu"
	return cfg
}

func randDense(r, c int, src rand.Source) *mat.Dense {
	return mat.NewDense(r, c, utils.UniformArray(r*c, 1, src))
}

func finiteDiffCheck(t *testing.T, name string, param, grad *mat.Dense,
	forward func() float64, i, j int) {
	t.Helper()
	eps := 1e-5
	w0 := param.At(i, j)

	param.Set(i, j, w0+eps)
	lp := forward()
	param.Set(i, j, w0-eps)
	lm := forward()
	param.Set(i, j, w0)

	numGrad := (lp - lm) / (2.0 * eps)
	anaGrad := grad.At(i, j)
	if math.Abs(numGrad-anaGrad) > 1e-6 {
		t.Fatalf("%s[%d,%d] grad mismatch: num=%.8g ana=%.8g", name, i, j, numGrad, anaGrad)
	}
}

func checkAll(t *testing.T, ps []*optimizations.Param, forward func() float64) {
	t.Helper()
	for _, p := range ps {
		r, c := p.W.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				finiteDiffCheck(t, p.Name, p.W, p.Grad, forward, i, j)
			}
		}
	}
}

func TestNewAttentionRejectsIndivisibleHeads(t *testing.T) {
	_, err := NewAttention(10, 3, rand.NewPCG(1, 1))
	require.ErrorIs(t, err, params.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "not divisible")

	cfg := tinyConfig()
	cfg.NumHeads = 3
	_, err = NewGPT(cfg, rand.NewPCG(1, 1))
	assert.ErrorIs(t, err, params.ErrInvalidConfig)
}

func TestAttentionPreservesShape(t *testing.T) {
	src := rand.NewPCG(2, 3)
	for _, heads := range []int{1, 2, 4} {
		attn, err := NewAttention(8, heads, src)
		require.NoError(t, err)
		x := randDense(8, 6, src)
		y := attn.Forward(x)
		r, c := y.Dims()
		assert.Equal(t, 8, r)
		assert.Equal(t, 6, c)
	}
}

func TestSingleHeadMatchesPlainAttention(t *testing.T) {
	src := rand.NewPCG(4, 5)
	d, T := 4, 5
	attn, err := NewAttention(d, 1, src)
	require.NoError(t, err)
	for _, p := range attn.Params() {
		if _, c := p.W.Dims(); c == 1 {
			p.W.Copy(randDense(d, 1, src))
		}
	}
	x := randDense(d, T, src)
	got := attn.Forward(x)

	proj := func(w, b *optimizations.Param) *mat.Dense {
		return utils.AddBias(utils.ToDense(utils.Dot(w.W, x)), b.W)
	}
	q := proj(attn.Wquery[0], attn.Bquery[0])
	k := proj(attn.Wkey[0], attn.Bkey[0])
	v := proj(attn.Wvalue[0], attn.Bvalue[0])

	o := mat.NewDense(d, T, nil)
	for i := 0; i < T; i++ {
		// position i attends to 0..i
		w := make([]float64, i+1)
		for j := 0; j <= i; j++ {
			w[j] = mat.Dot(q.ColView(i), k.ColView(j)) / math.Sqrt(float64(d))
		}
		w = utils.Softmax(w)
		for r := 0; r < d; r++ {
			s := 0.0
			for j := 0; j <= i; j++ {
				s += w[j] * v.At(r, j)
			}
			o.Set(r, i, s)
		}
	}
	want := utils.AddBias(utils.ToDense(utils.Dot(attn.Woutput.W, o)), attn.Boutput.W)
	assert.True(t, mat.EqualApprox(want, got, 1e-12))
}

func TestAttentionParallelHeadsMatchSerial(t *testing.T) {
	src := rand.NewPCG(6, 7)
	attn, err := NewAttention(8, 4, src)
	require.NoError(t, err)
	x := randDense(8, 5, src)
	serial := attn.Forward(x)
	attn.Parallel = true
	parallel := attn.Forward(x)
	assert.True(t, mat.Equal(serial, parallel))
}

func TestBlockHeadParallelFromConfig(t *testing.T) {
	cfg := params.Default()
	cfg.EmbedDim, cfg.NumHeads, cfg.FFDim, cfg.VocabSize, cfg.MaxLen = 8, 4, 16, 10, 5
	cfg.DropoutRate = 0

	serial, err := NewGPT(cfg, rand.NewPCG(3, 3))
	require.NoError(t, err)
	assert.False(t, serial.Block.Attn.Parallel)

	cfg.HeadParallel = true
	par, err := NewGPT(cfg, rand.NewPCG(3, 3))
	require.NoError(t, err)
	assert.True(t, par.Block.Attn.Parallel)

	ids := []int{2, 5, 1, 0, 0}
	want, _ := serial.Forward(ids, false)
	got, _ := par.Forward(ids, false)
	assert.True(t, mat.Equal(want, got))
}

func TestAttentionGradCheck(t *testing.T) {
	src := rand.NewPCG(8, 9)
	attn, err := NewAttention(4, 2, src)
	require.NoError(t, err)
	x := randDense(4, 3, src)
	up := randDense(4, 3, src)

	forward := func() float64 {
		var e mat.Dense
		e.MulElem(attn.Forward(x), up)
		return mat.Sum(&e)
	}
	forward()
	dX := attn.Backward(up)

	checkAll(t, attn.Params(), forward)
	for i := 0; i < 4; i++ {
		for j := 0; j < 3; j++ {
			finiteDiffCheck(t, "X", x, dX, forward, i, j)
		}
	}
}

func TestMLPReluGradCheck(t *testing.T) {
	src := rand.NewPCG(10, 11)
	mlp := NewMLP(4, 5, "relu", src)
	x := randDense(4, 3, src)
	up := randDense(4, 3, src)
	forward := func() float64 {
		var e mat.Dense
		e.MulElem(mlp.Forward(x), up)
		return mat.Sum(&e)
	}
	forward()
	dX := mlp.Backward(up)
	checkAll(t, mlp.Params(), forward)
	finiteDiffCheck(t, "X", x, dX, forward, 1, 2)
}

func TestEmbeddingPositionIndependence(t *testing.T) {
	e := NewEmbedding(7, 5, 4, rand.NewPCG(12, 13))
	a := e.Forward([]int{3, 1, 4})
	b := e.Forward([]int{3, 5, 4})
	for _, col := range []int{0, 2} {
		assert.Equal(t, mat.Col(nil, col, a), mat.Col(nil, col, b))
	}
	for i := 0; i < 4; i++ {
		assert.Equal(t, e.Tok.W.At(i, 5)+e.Pos.W.At(i, 1), b.At(i, 1))
	}
	assert.Panics(t, func() { e.Forward(make([]int, 6)) })
}

func TestGPTShapesAndCausality(t *testing.T) {
	cfg := tinyConfig()
	gpt, err := NewGPT(cfg, rand.NewPCG(14, 15))
	require.NoError(t, err)

	logits, hidden := gpt.Forward([]int{2, 3, 4, 5}, false)
	r, c := logits.Dims()
	assert.Equal(t, cfg.VocabSize, r)
	assert.Equal(t, 4, c)
	r, c = hidden.Dims()
	assert.Equal(t, cfg.EmbedDim, r)
	assert.Equal(t, 4, c)

	changed, _ := gpt.Forward([]int{2, 3, 4, 6}, false)
	for col := 0; col < 3; col++ {
		for i := 0; i < cfg.VocabSize; i++ {
			assert.InDelta(t, logits.At(i, col), changed.At(i, col), 1e-12)
		}
	}
	assert.NotEqual(t, logits.At(0, 3), changed.At(0, 3))

	batchLogits, batchHidden := gpt.Predict([][]int{{1, 2}, {3, 4, 5}})
	require.Len(t, batchLogits, 2)
	require.Len(t, batchHidden, 2)
	_, c = batchLogits[1].Dims()
	assert.Equal(t, 3, c)
}

func TestGPTLossGradCheck(t *testing.T) {
	cfg := tinyConfig()
	gpt, err := NewGPT(cfg, rand.NewPCG(16, 17))
	require.NoError(t, err)
	ids := []int{1, 4, 2, 6, 0}
	targets := []int{4, 2, 6, 0, 0}
	norm := float64(len(ids))

	forward := func() float64 {
		logits, _ := gpt.Forward(ids, false)
		total := 0.0
		for pos := range ids {
			l, _ := utils.CrossEntropyWithIndex(logits.Slice(0, cfg.VocabSize, pos, pos+1).(*mat.Dense), targets[pos])
			total += l
		}
		return total / norm
	}

	gpt.ZeroGrads()
	loss := gpt.LossAndGrads(ids, targets, norm)
	assert.InDelta(t, forward(), loss, 1e-12)
	assert.InDelta(t, math.Log(float64(cfg.VocabSize)), loss, 1.5)

	checkAll(t, gpt.Params(), forward)
}

func TestReplicaGradsMatchSerial(t *testing.T) {
	cfg := tinyConfig()
	gpt, err := NewGPT(cfg, rand.NewPCG(18, 19))
	require.NoError(t, err)
	seqs := [][]int{{1, 2, 3}, {4, 5, 6, 1}}
	tgts := [][]int{{2, 3, 0}, {5, 6, 1, 0}}

	gpt.ZeroGrads()
	for i := range seqs {
		gpt.LossAndGrads(seqs[i], tgts[i], 7)
	}
	serial := make([]*mat.Dense, 0)
	for _, p := range gpt.Params() {
		serial = append(serial, mat.DenseCopyOf(p.Grad))
	}

	gpt.ZeroGrads()
	replicas := []*GPT{
		gpt.CloneForGradsOnly(rand.NewPCG(1, 2)),
		gpt.CloneForGradsOnly(rand.NewPCG(3, 4)),
	}
	for i, r := range replicas {
		for j, p := range r.Params() {
			assert.Same(t, gpt.Params()[j].W, p.W)
			assert.NotSame(t, gpt.Params()[j].Grad, p.Grad)
		}
		r.LossAndGrads(seqs[i], tgts[i], 7)
	}
	gpt.AccumulateGrads(replicas...)
	for i, p := range gpt.Params() {
		assert.Truef(t, mat.EqualApprox(serial[i], p.Grad, 1e-12), "param %s", p.Name)
	}
}

func TestTrainingStepsReduceLoss(t *testing.T) {
	cfg := tinyConfig()
	gpt, err := NewGPT(cfg, rand.NewPCG(20, 21))
	require.NoError(t, err)
	ids := []int{1, 2, 3, 4, 5}
	targets := []int{2, 3, 4, 5, 6}
	opt := &optimizations.Adam{LR: 0.05, Beta1: 0.9, Beta2: 0.999, Eps: 1e-8}

	gpt.ZeroGrads()
	first := gpt.LossAndGrads(ids, targets, 5)
	opt.Step(gpt.Params())
	last := first
	for i := 0; i < 60; i++ {
		gpt.ZeroGrads()
		last = gpt.LossAndGrads(ids, targets, 5)
		opt.Step(gpt.Params())
	}
	assert.Less(t, last, first/2)
}
