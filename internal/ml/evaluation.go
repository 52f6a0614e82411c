package ml

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"

	"sleepdx/pkg/errors"
)

// ClassReport holds per-class precision, recall and F1
type ClassReport struct {
	Label     string  `json:"label"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// Evaluation summarizes a classifier on a held-out set
type Evaluation struct {
	Accuracy    float64       `json:"accuracy"`
	Classes     []ClassReport `json:"classes"`
	MacroF1     float64       `json:"macro_f1"`
	WeightedF1  float64       `json:"weighted_f1"`
	Confusion   [][]int       `json:"confusion"` // [actual][predicted]
	TrainSize   int           `json:"train_size"`
	TestSize    int           `json:"test_size"`
	FeatureSize int           `json:"feature_size"`
}

// Evaluate runs the classifier over the test set. labels names each class
// code for the report.
func Evaluate(c Classifier, x [][]float64, y []int, labels []string) (*Evaluation, error) {
	if len(x) == 0 || len(x) != len(y) {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "evaluation needs matching non-empty sets, got %d/%d", len(x), len(y))
	}
	k := c.NumClasses()
	if len(labels) != k {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "%d labels for %d classes", len(labels), k)
	}

	confusion := make([][]int, k)
	for i := range confusion {
		confusion[i] = make([]int, k)
	}

	correct := 0
	for i := range x {
		p, err := c.Predict(x[i])
		if err != nil {
			return nil, errors.Wrapf(err, "predict sample %d", i)
		}
		if y[i] < 0 || y[i] >= k {
			return nil, errors.Wrapf(errors.ErrInvalidInput, "sample %d has class %d outside [0,%d)", i, y[i], k)
		}
		confusion[y[i]][p.Class]++
		if p.Class == y[i] {
			correct++
		}
	}

	ev := &Evaluation{
		Accuracy:    float64(correct) / float64(len(x)),
		Classes:     make([]ClassReport, k),
		Confusion:   confusion,
		TestSize:    len(x),
		FeatureSize: c.NumFeatures(),
	}

	for cls := 0; cls < k; cls++ {
		tp := confusion[cls][cls]
		predicted, actual := 0, 0
		for other := 0; other < k; other++ {
			predicted += confusion[other][cls]
			actual += confusion[cls][other]
		}

		r := ClassReport{Label: labels[cls], Support: actual}
		if predicted > 0 {
			r.Precision = float64(tp) / float64(predicted)
		}
		if actual > 0 {
			r.Recall = float64(tp) / float64(actual)
		}
		if r.Precision+r.Recall > 0 {
			r.F1 = 2 * r.Precision * r.Recall / (r.Precision + r.Recall)
		}
		ev.Classes[cls] = r

		ev.MacroF1 += r.F1 / float64(k)
		ev.WeightedF1 += r.F1 * float64(actual) / float64(len(x))
	}

	return ev, nil
}

// Report renders the evaluation as a plain-text table
func (e *Evaluation) Report() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-14s %9s %9s %9s %9s\n", "", "precision", "recall", "f1", "support")
	for _, c := range e.Classes {
		fmt.Fprintf(&b, "%-14s %9.2f %9.2f %9.2f %9d\n", c.Label, c.Precision, c.Recall, c.F1, c.Support)
	}
	fmt.Fprintf(&b, "\n%-14s %29.2f %9d\n", "accuracy", e.Accuracy, e.TestSize)
	fmt.Fprintf(&b, "%-14s %29.2f %9d\n", "macro f1", e.MacroF1, e.TestSize)
	fmt.Fprintf(&b, "%-14s %29.2f %9d\n", "weighted f1", e.WeightedF1, e.TestSize)
	return b.String()
}

// Split holds train/test row indexes
type Split struct {
	Train []int
	Test  []int
}

// TrainTestSplit shuffles n row indexes with the seed and holds out
// ceil(n*testFraction) of them. Both sides keep at least one row.
func TrainTestSplit(n int, testFraction float64, seed uint64) (*Split, error) {
	if n < 2 {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "need at least 2 rows to split, got %d", n)
	}
	if testFraction <= 0 || testFraction >= 1 {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "test fraction %v outside (0,1)", testFraction)
	}

	rng := rand.New(rand.NewPCG(seed, seed))
	perm := rng.Perm(n)

	test := int(math.Ceil(float64(n) * testFraction))
	test = min(max(test, 1), n-1)

	return &Split{Train: perm[test:], Test: perm[:test]}, nil
}

// Take selects rows by index
func Take[T any](rows []T, idx []int) []T {
	out := make([]T, len(idx))
	for i, j := range idx {
		out[i] = rows[j]
	}
	return out
}
