package ml

// Classifier is a fitted multi-class model over fixed-width feature vectors.
// Implementations are safe for concurrent Predict calls.
type Classifier interface {
	// Predict returns the class code and the per-class probabilities
	Predict(features []float64) (*Prediction, error)

	NumFeatures() int
	NumClasses() int

	// Close releases native resources, if any
	Close() error
}

// Prediction is the outcome of one inference
type Prediction struct {
	Class         int       // Predicted class code
	Confidence    float64   // Probability of the predicted class
	Probabilities []float64 // Indexed by class code
}

// newPrediction picks the most probable class, ties going to the lowest code
func newPrediction(probs []float64) *Prediction {
	best := 0
	for i, p := range probs {
		if p > probs[best] {
			best = i
		}
	}
	return &Prediction{
		Class:         best,
		Confidence:    probs[best],
		Probabilities: probs,
	}
}
