package IO

import "math/rand/v2"

// Sample is one next-token training pair; Target is Input shifted left by one.
type Sample struct {
	Input  []int
	Target []int
}

// PrepareDataset vectorizes every text to maxLen+1 ids and splits it into
// Input = ids[:maxLen] and Target = ids[1:].
func PrepareDataset(texts []string, vocab *Vocabulary, maxLen int) []Sample {
	samples := make([]Sample, len(texts))
	for i, text := range texts {
		ids := vocab.Vectorize(text, maxLen+1)
		samples[i] = Sample{Input: ids[:maxLen:maxLen], Target: ids[1:]}
	}
	return samples
}

// Batches shuffles a copy of samples with rng and cuts it into batches of
// batchSize. The last batch may be shorter.
func Batches(samples []Sample, batchSize int, rng *rand.Rand) [][]Sample {
	if batchSize <= 0 {
		panic("Batches: batch size must be positive")
	}
	shuffled := append([]Sample(nil), samples...)
	if rng != nil {
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
	}
	batches := make([][]Sample, 0, (len(shuffled)+batchSize-1)/batchSize)
	for start := 0; start < len(shuffled); start += batchSize {
		end := min(start+batchSize, len(shuffled))
		batches = append(batches, shuffled[start:end])
	}
	return batches
}

// TokenCount is the number of predicted positions in batch.
func TokenCount(batch []Sample) int {
	n := 0
	for _, s := range batch {
		n += len(s.Target)
	}
	return n
}

// SplitHoldout shuffles a copy of samples with rng and moves frac of them
// into a held-out set. At least one sample always stays in train. A nil rng
// keeps the input order.
func SplitHoldout(samples []Sample, frac float64, rng *rand.Rand) (train, held []Sample) {
	n := int(float64(len(samples)) * frac)
	if frac <= 0 || n == 0 {
		return samples, nil
	}
	n = min(n, len(samples)-1)
	shuffled := append([]Sample(nil), samples...)
	if rng != nil {
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
	}
	cut := len(shuffled) - n
	return shuffled[:cut], shuffled[cut:]
}
