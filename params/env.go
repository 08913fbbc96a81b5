package params

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

const envPrefix = "MINIGPT_"

// Load starts from Default and applies overrides from envFile (dotenv format,
// optional) and then from the process environment, which wins.
func Load(envFile string) (TrainingConfig, error) {
	cfg := Default()

	vals := map[string]string{}
	if envFile != "" {
		read, err := godotenv.Read(envFile)
		if err != nil {
			return cfg, fmt.Errorf("read env file %s: %w", envFile, err)
		}
		vals = read
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			return v, true
		}
		v, ok := vals[envPrefix+key]
		return v, ok
	}

	ints := map[string]*int{
		"VOCAB_SIZE":  &cfg.VocabSize,
		"MAX_LEN":     &cfg.MaxLen,
		"EMBED_DIM":   &cfg.EmbedDim,
		"NUM_HEADS":   &cfg.NumHeads,
		"FF_DIM":      &cfg.FFDim,
		"BATCH_SIZE":  &cfg.BatchSize,
		"EPOCHS":      &cfg.Epochs,
		"WORKERS":     &cfg.Workers,
		"TOP_K":       &cfg.TopK,
		"GEN_TOKENS":  &cfg.GenTokens,
		"PRINT_EVERY": &cfg.PrintEvery,
	}
	for key, dst := range ints {
		s, ok := lookup(key)
		if !ok {
			continue
		}
		v, err := strconv.Atoi(s)
		if err != nil {
			return cfg, fmt.Errorf("%w: %s%s=%q: %v", ErrInvalidConfig, envPrefix, key, s, err)
		}
		*dst = v
	}

	floats := map[string]*float64{
		"DROPOUT_RATE":  &cfg.DropoutRate,
		"LN_EPSILON":    &cfg.LNEpsilon,
		"LEARNING_RATE": &cfg.LearningRate,
		"ADAM_BETA1":    &cfg.AdamBeta1,
		"ADAM_BETA2":    &cfg.AdamBeta2,
		"ADAM_EPS":      &cfg.AdamEps,
		"WEIGHT_DECAY":  &cfg.WeightDecay,
		"GRAD_CLIP":     &cfg.GradClip,
		"VAL_FRAC":      &cfg.ValFrac,
	}
	for key, dst := range floats {
		s, ok := lookup(key)
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return cfg, fmt.Errorf("%w: %s%s=%q: %v", ErrInvalidConfig, envPrefix, key, s, err)
		}
		*dst = v
	}

	if s, ok := lookup("SEED"); ok {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("%w: %sSEED=%q: %v", ErrInvalidConfig, envPrefix, s, err)
		}
		cfg.Seed = v
	}
	if s, ok := lookup("HEAD_PAR"); ok {
		v, err := strconv.ParseBool(s)
		if err != nil {
			return cfg, fmt.Errorf("%w: %sHEAD_PAR=%q: %v", ErrInvalidConfig, envPrefix, s, err)
		}
		cfg.HeadParallel = v
	}
	if s, ok := lookup("ACTIVATION"); ok {
		cfg.Activation = s
	}
	if s, ok := lookup("PROMPT"); ok {
		cfg.Prompt = s
	}
	return cfg, nil
}
