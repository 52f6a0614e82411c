package encoding

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/cases"

	"sleepdx/pkg/errors"
)

var validate = validator.New()

// tidy trims and collapses inner whitespace, keeping case
func tidy(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}

// foldKey is the matching key of a label: tidied and Unicode case-folded.
// A Caser is stateful, so one is created per call.
func foldKey(raw string) string {
	return cases.Fold().String(tidy(raw))
}

// Canonicalize applies a field's alias table to a raw label and returns the
// label in the form the registry stores it. Labels without an alias are only
// tidied; case differences are resolved later by the case-folded lookup.
func Canonicalize(aliases map[string]string, raw string) string {
	if target, ok := aliases[foldKey(raw)]; ok {
		return target
	}
	return tidy(raw)
}

// Resolution is the outcome of a categorical lookup
type Resolution struct {
	Code  int
	Known bool // false when the default code was substituted
}

// NormalizeCategorical maps a raw label to its registry code. It never fails:
// a label outside the fitted vocabulary resolves to the field's default code
// with Known=false, and the caller must surface that as encoding skew.
func NormalizeCategorical(reg *Registry, field, raw string) Resolution {
	vocab, ok := reg.Vocabulary(field)
	if !ok {
		return Resolution{}
	}
	if code, ok := vocab.Lookup(raw); ok {
		return Resolution{Code: code, Known: true}
	}
	return Resolution{Code: vocab.Default}
}

// NormalizeNumeric passes a numeric value through after checking it against
// the field's domain. Integer fields reject fractional values.
func NormalizeNumeric(field string, value float64) (float64, error) {
	spec, ok := Spec(field)
	if !ok {
		return 0, errors.NewValidationError(field, "unknown field", value)
	}

	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, errors.NewValidationError(field, "must be a finite number", value)
	}

	switch spec.Kind {
	case KindInteger:
		if value != math.Trunc(value) {
			return 0, errors.NewValidationError(field, "must be an integer", value)
		}
	case KindReal:
	default:
		return 0, errors.NewValidationError(field, fmt.Sprintf("is %s, not numeric", spec.Kind), value)
	}

	if spec.Rule != "" {
		if err := validate.Var(value, spec.Rule); err != nil {
			return 0, errors.NewValidationError(field, ruleMessage(err, spec.Rule), value)
		}
	}

	return value, nil
}

// ParseNumeric parses a raw text cell for a numeric field. Integer fields
// must parse as integers; "7.0" for an integer field is rejected.
func ParseNumeric(field, raw string) (float64, error) {
	spec, ok := Spec(field)
	if !ok {
		return 0, errors.NewValidationError(field, "unknown field", raw)
	}

	s := strings.TrimSpace(raw)
	switch spec.Kind {
	case KindInteger:
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, errors.NewValidationError(field, "must be an integer", raw)
		}
		return NormalizeNumeric(field, float64(n))
	case KindReal:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, errors.NewValidationError(field, "must be a number", raw)
		}
		return NormalizeNumeric(field, f)
	}
	return 0, errors.NewValidationError(field, fmt.Sprintf("is %s, not numeric", spec.Kind), raw)
}

func ruleMessage(err error, rule string) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Param() != "" {
			return fmt.Sprintf("must satisfy %s=%s", fe.Tag(), fe.Param())
		}
		return fmt.Sprintf("must satisfy %s", fe.Tag())
	}
	return fmt.Sprintf("must satisfy %s", rule)
}
