package online

// Snapshot kinds.
const (
	KindClassifier  = "classifier"
	KindRegressor   = "regressor"
	KindAutoencoder = "autoencoder"
)

// Snapshot is the serializable fitted state of an adapter: the frozen
// feature ordering, observed classes for classifiers, and all network
// weights in layer order. The build function itself is not captured, so
// restoring requires constructing the adapter with the same architecture.
type Snapshot struct {
	Kind     string      `json:"kind"`
	Features []string    `json:"features"`
	Classes  []string    `json:"classes,omitempty"`
	Weights  [][]float64 `json:"weights"`
	Steps    uint64      `json:"steps"`
}
