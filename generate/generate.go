package generate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"strings"

	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"

	"github.com/manningwu07/minigpt/IO"
	"github.com/manningwu07/minigpt/metrics"
	"github.com/manningwu07/minigpt/train"
	"github.com/manningwu07/minigpt/utils"
)

// ErrEmptyPrompt is returned when a prompt tokenizes to nothing.
var ErrEmptyPrompt = errors.New("generate: empty prompt")

// Model is the inference surface generation needs.
type Model interface {
	Forward(ids []int, train bool) (logits, hidden *mat.Dense)
}

// Generator extends prompts by top-k sampling from a Model.
type Generator struct {
	Model   Model
	Vocab   *IO.Vocabulary
	MaxLen  int
	TopK    int
	Rand    rand.Source
	Metrics *metrics.Metrics // optional
}

// window returns the model input for seq and the position of its last real token.
func (g *Generator) window(seq []int) ([]int, int) {
	if len(seq) >= g.MaxLen {
		return seq[len(seq)-g.MaxLen:], g.MaxLen - 1
	}
	padded := make([]int, g.MaxLen)
	copy(padded, seq)
	return padded, len(seq) - 1
}

// Generate appends exactly maxTokens sampled ids to prompt and returns only
// the new ids.
func (g *Generator) Generate(ctx context.Context, prompt []int, maxTokens int) ([]int, error) {
	if len(prompt) == 0 {
		return nil, ErrEmptyPrompt
	}
	seq := append([]int(nil), prompt...)
	out := make([]int, 0, maxTokens)
	for len(out) < maxTokens {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		input, at := g.window(seq)
		logits, _ := g.Model.Forward(input, false)
		next := utils.SampleTopK(mat.Col(nil, at, logits), g.TopK, g.Rand)
		seq = append(seq, next)
		out = append(out, next)
		g.Metrics.AddGeneratedTokens(1)
	}
	return out, nil
}

// GenerateText tokenizes prompt, generates maxTokens ids and renders the
// prompt tokens followed by the new tokens separated by single spaces.
func (g *Generator) GenerateText(ctx context.Context, prompt string, maxTokens int) (string, error) {
	ids := g.Vocab.Tokenize(prompt)
	gen, err := g.Generate(ctx, ids, maxTokens)
	if err != nil {
		return "", err
	}
	return strings.Join(append(g.Vocab.Detokenize(ids), g.Vocab.Detokenize(gen)...), " "), nil
}

// Callback prints a generated sample to w after every 'every' epochs. A prompt
// that tokenizes to nothing is logged and skipped so training carries on.
func (g *Generator) Callback(w io.Writer, prompt string, maxTokens, every int) train.EpochCallback {
	return func(ctx context.Context, st train.EpochStats) error {
		if every <= 0 || (st.Epoch+1)%every != 0 {
			return nil
		}
		text, err := g.GenerateText(ctx, prompt, maxTokens)
		if errors.Is(err, ErrEmptyPrompt) {
			klog.Warningf("Skipping sample after epoch %d: prompt %q has no tokens", st.Epoch+1, prompt)
			return nil
		}
		if err != nil {
			return fmt.Errorf("sample after epoch %d: %w", st.Epoch+1, err)
		}
		klog.V(2).InfoS("generated sample", "epoch", st.Epoch+1, "tokens", maxTokens)
		_, err = fmt.Fprintf(w, "generated text:\n%s\n", text)
		return err
	}
}
