package encoding

import (
	"fmt"
	"slices"

	"sleepdx/pkg/errors"
)

// Contract is the schema both pipeline halves agree on: the ordered feature
// columns, which of them go through the registry, and the target label set.
type Contract struct {
	Columns      []string `json:"columns"`
	Categorical  []string `json:"categorical"`
	Target       string   `json:"target"`
	TargetLabels []string `json:"target_labels"`
}

// NewContract builds a contract over the given columns. Categorical columns
// are derived from the field specs.
func NewContract(columns []string, targetLabels []string) Contract {
	c := Contract{
		Columns:      slices.Clone(columns),
		Target:       TargetField,
		TargetLabels: slices.Clone(targetLabels),
	}
	for _, col := range columns {
		if spec, ok := Spec(col); ok && spec.Kind == KindCategorical {
			c.Categorical = append(c.Categorical, col)
		}
	}
	return c
}

// Width returns the feature vector length
func (c Contract) Width() int {
	return len(c.Columns)
}

// Index returns the position of a column, or -1
func (c Contract) Index(column string) int {
	return slices.Index(c.Columns, column)
}

// IsCategorical reports whether a column is registry-encoded
func (c Contract) IsCategorical(column string) bool {
	return slices.Contains(c.Categorical, column)
}

// Validate checks the contract is internally consistent
func (c Contract) Validate() error {
	if len(c.Columns) == 0 {
		return errors.New("contract has no columns")
	}
	if c.Target == "" {
		return errors.New("contract has no target")
	}
	if len(c.TargetLabels) == 0 {
		return errors.New("contract has no target labels")
	}

	seen := make(map[string]bool, len(c.Columns))
	for _, col := range c.Columns {
		if seen[col] {
			return fmt.Errorf("duplicate column %q", col)
		}
		seen[col] = true

		spec, ok := Spec(col)
		if !ok {
			return fmt.Errorf("column %q has no field spec", col)
		}
		if spec.Kind == KindCompound {
			return fmt.Errorf("compound field %q cannot be a feature column", col)
		}
		if (spec.Kind == KindCategorical) != c.IsCategorical(col) {
			return fmt.Errorf("column %q categorical flag disagrees with its field spec", col)
		}
	}
	if seen[c.Target] {
		return fmt.Errorf("target %q is also a feature column", c.Target)
	}
	for _, col := range c.Categorical {
		if !seen[col] {
			return fmt.Errorf("categorical column %q is not a feature column", col)
		}
	}
	return nil
}

// ValidateRegistry checks the registry covers every categorical column and
// that its target vocabulary is exactly the contract's target labels, in order.
func (c Contract) ValidateRegistry(reg *Registry) error {
	if reg == nil {
		return errors.New("registry is nil")
	}
	for _, col := range c.Categorical {
		if _, ok := reg.Vocabulary(col); !ok {
			return fmt.Errorf("registry has no vocabulary for column %q", col)
		}
	}

	target, ok := reg.Vocabulary(c.Target)
	if !ok {
		return fmt.Errorf("registry has no vocabulary for target %q", c.Target)
	}
	if !slices.Equal(target.Labels, c.TargetLabels) {
		return fmt.Errorf("target labels %v do not match registry %v", c.TargetLabels, target.Labels)
	}
	return nil
}
