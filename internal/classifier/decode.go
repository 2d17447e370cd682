package classifier

import (
	"fmt"
	"math"
)

// NotLoadedLabel is reported by Decode when no logits are available.
const NotLoadedLabel = "model-not-loaded"

// Decode applies softmax to logits and returns the arg-max label with its
// probability. Ties resolve to the lowest index. Missing logits yield
// (NotLoadedLabel, 0).
func Decode(logits []float32, labels []string) (string, float64) {
	if len(logits) == 0 {
		return NotLoadedLabel, 0
	}
	probs := Softmax(logits)

	best := 0
	for i, p := range probs {
		if p > probs[best] {
			best = i
		}
	}
	if best >= len(labels) {
		return fmt.Sprintf("class_%d", best), probs[best]
	}
	return labels[best], probs[best]
}

// Softmax converts logits into a probability distribution.
func Softmax(logits []float32) []float64 {
	maxLogit := math.Inf(-1)
	for _, v := range logits {
		maxLogit = math.Max(maxLogit, float64(v))
	}

	probs := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		probs[i] = math.Exp(float64(v) - maxLogit)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}
