package train

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/manningwu07/minigpt/IO"
	"github.com/manningwu07/minigpt/metrics"
	"github.com/manningwu07/minigpt/optimizations"
	"github.com/manningwu07/minigpt/params"
	"github.com/manningwu07/minigpt/transformer"
)

// EpochStats summarizes one pass over the training samples.
type EpochStats struct {
	Epoch    int // zero based
	Loss     float64
	Tokens   int
	Batches  int
	Duration time.Duration

	// Filled only when Config.Validation is non-empty.
	Val *EvalStats
}

// Perplexity is exp(Loss).
func (s EpochStats) Perplexity() float64 { return math.Exp(s.Loss) }

// EpochCallback runs after every epoch. A non-nil error stops training.
type EpochCallback func(ctx context.Context, st EpochStats) error

type Config struct {
	Epochs    int
	BatchSize int
	Workers   int
	Seed      uint64
	Optimizer optimizations.Adam
	GradClip  float64 // <= 0 disables
	Callbacks []EpochCallback
	Metrics   *metrics.Metrics // optional

	Validation []IO.Sample // scored after every epoch when set
}

// ConfigFrom copies the training settings out of cfg.
func ConfigFrom(cfg params.TrainingConfig) Config {
	return Config{
		Epochs:    cfg.Epochs,
		BatchSize: cfg.BatchSize,
		Workers:   cfg.Workers,
		Seed:      cfg.Seed,
		Optimizer: optimizations.Adam{
			LR:          cfg.LearningRate,
			Beta1:       cfg.AdamBeta1,
			Beta2:       cfg.AdamBeta2,
			Eps:         cfg.AdamEps,
			WeightDecay: cfg.WeightDecay,
		},
		GradClip: cfg.GradClip,
	}
}

// TrainGPT optimizes gpt on samples for cfg.Epochs epochs. The loss of a
// batch is the mean cross-entropy over all of its target positions.
func TrainGPT(ctx context.Context, gpt *transformer.GPT, samples []IO.Sample, cfg Config) ([]EpochStats, error) {
	if len(samples) == 0 {
		return nil, errors.New("train: no samples")
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("%w: batch size %d", params.ErrInvalidConfig, cfg.BatchSize)
	}
	workers := max(cfg.Workers, 1)
	replicas := make([]*transformer.GPT, workers)
	for w := range replicas {
		replicas[w] = gpt.CloneForGradsOnly(rand.NewPCG(cfg.Seed, uint64(w)+1))
	}
	shuffle := rand.New(rand.NewPCG(cfg.Seed, 0))
	opt := cfg.Optimizer

	klog.Infof("training: %d samples, %d params, %d epochs, batch %d, %d workers",
		len(samples), gpt.NumParams(), cfg.Epochs, cfg.BatchSize, workers)

	history := make([]EpochStats, 0, cfg.Epochs)
	for e := 0; e < cfg.Epochs; e++ {
		start := time.Now()
		var totalLoss float64
		var tokenCounter int
		batches := IO.Batches(samples, cfg.BatchSize, shuffle)

		for b, batch := range batches {
			if err := ctx.Err(); err != nil {
				return history, err
			}
			tokens := IO.TokenCount(batch)
			loss := step(replicas, batch, float64(tokens))
			gpt.ZeroGrads()
			gpt.AccumulateGrads(replicas[:min(workers, len(batch))]...)
			if cfg.GradClip > 0 {
				if norm := optimizations.ClipGlobalNorm(gpt.Params(), cfg.GradClip); norm > cfg.GradClip {
					klog.V(2).Infof("clipped grad norm %.4f to %.4f", norm, cfg.GradClip)
				}
			}
			opt.Step(gpt.Params())

			totalLoss += loss * float64(tokens)
			tokenCounter += tokens
			cfg.Metrics.ObserveStep(loss, tokens)
			klog.V(2).Infof("epoch %d batch %d/%d loss %.4f", e+1, b+1, len(batches), loss)
		}

		st := EpochStats{
			Epoch:    e,
			Loss:     totalLoss / float64(tokenCounter),
			Tokens:   tokenCounter,
			Batches:  len(batches),
			Duration: time.Since(start),
		}
		if len(cfg.Validation) > 0 {
			val := Evaluate(gpt, cfg.Validation)
			st.Val = &val
			klog.InfoS("validation", "epoch", e+1, "loss", val.Loss, "acc", val.Accuracy)
		}
		history = append(history, st)
		cfg.Metrics.ObserveEpoch(st.Duration.Seconds())
		klog.InfoS("epoch done", "epoch", e+1, "loss", st.Loss, "ppl", st.Perplexity(),
			"tokens", st.Tokens, "time", st.Duration)

		for _, cb := range cfg.Callbacks {
			if err := cb(ctx, st); err != nil {
				return history, fmt.Errorf("epoch %d callback: %w", e+1, err)
			}
		}
	}
	return history, nil
}

// step splits batch across the replicas, runs forward and backward on each
// in parallel and returns the batch loss. Gradients stay in the replicas.
func step(replicas []*transformer.GPT, batch []IO.Sample, norm float64) float64 {
	n := min(len(replicas), len(batch))
	losses := make([]float64, n)
	chunk := (len(batch) + n - 1) / n

	var wg sync.WaitGroup
	for w := 0; w < n; w++ {
		lo := w * chunk
		hi := min(lo+chunk, len(batch))
		r := replicas[w]
		r.ZeroGrads()
		if lo >= hi {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, s := range batch[lo:hi] {
				losses[w] += r.LossAndGrads(s.Input, s.Target, norm)
			}
		}()
	}
	wg.Wait()

	total := 0.0
	for _, l := range losses {
		total += l
	}
	return total
}
