package nn

import (
	"math"
	"math/rand"
)

// Initializer fills a freshly allocated weight slice. The rng comes from the
// owning network so that model instances stay independently seedable.
type Initializer interface {
	Init(data []float64, fanIn, fanOut int, rng *rand.Rand)
	Name() string
}

type glorotUniform struct{}

// GlorotUniform is the default weight initializer, suited to sigmoid and
// tanh layers.
func GlorotUniform() Initializer { return glorotUniform{} }

func (glorotUniform) Init(data []float64, fanIn, fanOut int, rng *rand.Rand) {
	limit := math.Sqrt(6.0 / float64(fanIn+fanOut))
	for i := range data {
		data[i] = rng.Float64()*2*limit - limit
	}
}

func (glorotUniform) Name() string { return "glorot_uniform" }

type heNormal struct{}

// HeNormal suits ReLU layers.
func HeNormal() Initializer { return heNormal{} }

func (heNormal) Init(data []float64, fanIn, fanOut int, rng *rand.Rand) {
	std := math.Sqrt(2.0 / float64(fanIn))
	for i := range data {
		data[i] = rng.NormFloat64() * std
	}
}

func (heNormal) Name() string { return "he_normal" }

type zeros struct{}

func Zeros() Initializer { return zeros{} }

func (zeros) Init(data []float64, fanIn, fanOut int, rng *rand.Rand) {
	for i := range data {
		data[i] = 0
	}
}

func (zeros) Name() string { return "zeros" }
