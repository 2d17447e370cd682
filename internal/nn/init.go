package nn

import (
	"math"
	"math/rand/v2"
)

// InitUniform fills every parameter from U(-1/sqrt(fan_in), 1/sqrt(fan_in)),
// the default initialisation of the reference framework's conv and linear
// layers.
func (m *SmallCNN) InitUniform(rng *rand.Rand) {
	fill := func(dst []float32, fanIn int) {
		bound := 1 / math.Sqrt(float64(fanIn))
		for i := range dst {
			dst[i] = float32((rng.Float64()*2 - 1) * bound)
		}
	}
	fill(m.Conv1.Weight, m.Conv1.InC*KernelSize*KernelSize)
	fill(m.Conv1.Bias, m.Conv1.InC*KernelSize*KernelSize)
	fill(m.Conv2.Weight, m.Conv2.InC*KernelSize*KernelSize)
	fill(m.Conv2.Bias, m.Conv2.InC*KernelSize*KernelSize)
	fill(m.FC1.Weight, m.FC1.In)
	fill(m.FC1.Bias, m.FC1.In)
	fill(m.FC2.Weight, m.FC2.In)
	fill(m.FC2.Bias, m.FC2.In)
}
