package params

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrInvalidConfig is returned for hyperparameters the model cannot be built with.
var ErrInvalidConfig = errors.New("invalid config")

type TrainingConfig struct {
	// Core transformer parameters
	VocabSize   int     // |V|, width of the output logits
	MaxLen      int     // context length (inputs are MaxLen, vectorized text is MaxLen+1)
	EmbedDim    int     // model width
	NumHeads    int     // attention heads, dHead = EmbedDim/NumHeads
	FFDim       int     // feed-forward hidden width
	DropoutRate float64 // applied after attention and after the FFN
	LNEpsilon   float64
	Activation  string // "relu" or "gelu"

	// Optimization
	BatchSize    int
	Epochs       int
	LearningRate float64
	AdamBeta1    float64 // default 0.9
	AdamBeta2    float64 // default 0.999
	AdamEps      float64 // default 1e-7
	WeightDecay  float64 // AdamW-style, 0 disables
	GradClip     float64 // <=0 disables
	Workers      int     // gradient workers per batch
	Seed         uint64
	HeadParallel bool    // run attention heads of the inference model on separate goroutines
	ValFrac      float64 // share of samples held out for evaluation, 0 disables

	// Sampling callback
	TopK       int
	GenTokens  int
	Prompt     string
	PrintEvery int // generate every N epochs
}

// Default returns the stock hyperparameters.
func Default() TrainingConfig {
	return TrainingConfig{
		VocabSize:   20000,
		MaxLen:      100,
		EmbedDim:    256,
		NumHeads:    2,
		FFDim:       256,
		DropoutRate: 0.1,
		LNEpsilon:   1e-6,
		Activation:  "relu",

		BatchSize:    128,
		Epochs:       25,
		LearningRate: 1e-3,
		AdamBeta1:    0.9,
		AdamBeta2:    0.999,
		AdamEps:      1e-7,
		WeightDecay:  0,
		GradClip:     0,
		Workers:      runtime.GOMAXPROCS(0),
		Seed:         1337,
		ValFrac:      0,

		TopK:       10,
		GenTokens:  40,
		Prompt:     "this movie is",
		PrintEvery: 1,
	}
}

// Validate reports the first problem with c, wrapping ErrInvalidConfig.
func (c TrainingConfig) Validate() error {
	positive := []struct {
		name string
		v    int
	}{
		{"vocab size", c.VocabSize},
		{"max len", c.MaxLen},
		{"embed dim", c.EmbedDim},
		{"num heads", c.NumHeads},
		{"ff dim", c.FFDim},
		{"batch size", c.BatchSize},
		{"workers", c.Workers},
		{"print every", c.PrintEvery},
	}
	for _, p := range positive {
		if p.v <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidConfig, p.name, p.v)
		}
	}
	if c.VocabSize < 3 {
		return fmt.Errorf("%w: vocab size %d leaves no room beyond padding and [UNK]", ErrInvalidConfig, c.VocabSize)
	}
	if c.EmbedDim%c.NumHeads != 0 {
		return fmt.Errorf("%w: embedding dimension %d is not divisible by %d heads", ErrInvalidConfig, c.EmbedDim, c.NumHeads)
	}
	if c.Epochs < 0 || c.GenTokens < 0 {
		return fmt.Errorf("%w: epochs and gen tokens must not be negative", ErrInvalidConfig)
	}
	if c.GenTokens > 0 && strings.TrimSpace(c.Prompt) == "" {
		return fmt.Errorf("%w: sampling %d tokens needs a non-empty prompt", ErrInvalidConfig, c.GenTokens)
	}
	if c.DropoutRate < 0 || c.DropoutRate >= 1 {
		return fmt.Errorf("%w: dropout rate %.3f outside [0, 1)", ErrInvalidConfig, c.DropoutRate)
	}
	if c.ValFrac < 0 || c.ValFrac >= 1 {
		return fmt.Errorf("%w: validation fraction %.3f outside [0, 1)", ErrInvalidConfig, c.ValFrac)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("%w: learning rate must be positive", ErrInvalidConfig)
	}
	if c.AdamBeta1 < 0 || c.AdamBeta1 >= 1 || c.AdamBeta2 < 0 || c.AdamBeta2 >= 1 {
		return fmt.Errorf("%w: adam betas must lie in [0, 1)", ErrInvalidConfig)
	}
	switch c.Activation {
	case "relu", "gelu":
	default:
		return fmt.Errorf("%w: unknown activation %q", ErrInvalidConfig, c.Activation)
	}
	return nil
}
