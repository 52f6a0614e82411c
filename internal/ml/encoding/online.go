package encoding

import (
	"fmt"

	"sleepdx/internal/domain/sleep"
	"sleepdx/pkg/errors"
)

// SkewWarning reports a categorical label absent from the fitted vocabulary
// that was encoded with the field's default code. It is not an error, but it
// means the serving input drifted from the training corpus.
type SkewWarning struct {
	Field       string `json:"field"`
	Label       string `json:"label"`
	DefaultCode int    `json:"default_code"`
}

// String returns string representation
func (w SkewWarning) String() string {
	return fmt.Sprintf("unseen %s label %q encoded as default code %d", w.Field, w.Label, w.DefaultCode)
}

// Encoded is a feature vector in contract column order, plus any skew
// observed while producing it
type Encoded struct {
	Vector   []float64
	Warnings []SkewWarning
}

// EncodeOne encodes a single record with a persisted registry and contract.
// It performs no I/O and keeps no state. Missing fields fail with a
// SchemaError before any encoding happens; a malformed blood pressure fails
// with a FormatError; out-of-domain numbers fail with a ValidationError.
// Unseen categorical labels never fail.
func EncodeOne(rec *sleep.RawRecord, reg *Registry, c Contract) (*Encoded, error) {
	if rec == nil {
		return nil, &errors.SchemaError{Missing: c.Columns}
	}
	if err := CheckPresence(rec, c); err != nil {
		return nil, err
	}
	return encodeRecord(rec, reg, c)
}

// CheckPresence verifies every contract column can be produced from the
// record. The compound blood pressure satisfies both of its halves.
func CheckPresence(rec *sleep.RawRecord, c Contract) error {
	_, hasCompound := rec.Text(sleep.FieldBloodPressure)

	var missing []string
	for _, col := range c.Columns {
		if rec.Has(col) {
			continue
		}
		if hasCompound && (col == sleep.FieldSystolicBP || col == sleep.FieldDiastolicBP) {
			continue
		}
		missing = append(missing, col)
	}

	if len(missing) > 0 {
		return &errors.SchemaError{Missing: missing}
	}
	return nil
}

// encodeRecord is the single per-record encoder shared by training and serving
func encodeRecord(rec *sleep.RawRecord, reg *Registry, c Contract) (*Encoded, error) {
	var (
		systolic, diastolic int
		split               bool
	)
	if raw, ok := rec.Text(sleep.FieldBloodPressure); ok {
		s, d, err := SplitBloodPressure(raw)
		if err != nil {
			return nil, err
		}
		systolic, diastolic, split = s, d, true
	}

	out := &Encoded{Vector: make([]float64, len(c.Columns))}
	for i, col := range c.Columns {
		if c.IsCategorical(col) {
			raw, _ := rec.Text(col)
			res := NormalizeCategorical(reg, col, raw)
			if !res.Known {
				out.Warnings = append(out.Warnings, SkewWarning{
					Field:       col,
					Label:       raw,
					DefaultCode: res.Code,
				})
			}
			out.Vector[i] = float64(res.Code)
			continue
		}

		value, ok := rec.Number(col)
		if !ok && split {
			switch col {
			case sleep.FieldSystolicBP:
				value, ok = float64(systolic), true
			case sleep.FieldDiastolicBP:
				value, ok = float64(diastolic), true
			}
		}
		if !ok {
			return nil, &errors.SchemaError{Missing: []string{col}}
		}

		n, err := NormalizeNumeric(col, value)
		if err != nil {
			return nil, err
		}
		out.Vector[i] = n
	}

	return out, nil
}
