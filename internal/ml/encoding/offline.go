package encoding

import (
	"slices"
	"strconv"

	"sleepdx/internal/domain/sleep"
	"sleepdx/pkg/errors"
)

// Dataset is the output of the offline stage: the training matrix, the
// encoded targets, and the registry and contract that must be persisted with
// any model fitted on it.
type Dataset struct {
	Contract Contract
	Registry *Registry
	Features [][]float64
	Targets  []int
	Ignored  []string // corpus columns that are neither features nor target

	// Defaulted counts blank categorical cells per field. They encode to the
	// field's default code, as they do at serving time.
	Defaulted map[string]int
}

// FitAndEncode runs the offline stage over a raw corpus: normalize column
// names, parse rows, fit the registry, and encode every row through the same
// per-record encoder used at serving time.
func FitAndEncode(t *Table) (*Dataset, error) {
	if t == nil || len(t.Rows) == 0 {
		return nil, errors.Wrap(errors.ErrInvalidInput, "corpus is empty")
	}

	normalized := t.Normalized()
	rows, ignored, err := ParseRows(normalized)
	if err != nil {
		return nil, err
	}

	ds, err := FitAndEncodeRecords(rows, DefaultColumns)
	if err != nil {
		return nil, err
	}
	ds.Ignored = ignored
	return ds, nil
}

// ParseRows converts a normalized table into labeled records. Empty numeric
// cells are left absent. An empty categorical cell is kept as "" so it
// encodes to the default code exactly like a blank label sent for serving.
// An empty diagnosis is kept as "" and later normalized into the healthy
// label. The identifier column is dropped.
func ParseRows(t *Table) ([]sleep.LabeledRecord, []string, error) {
	targetIdx := t.Column(TargetField)
	if targetIdx < 0 {
		return nil, nil, &errors.SchemaError{Missing: []string{TargetField}}
	}

	var ignored []string
	for _, col := range t.Columns {
		if col == TargetField || col == sleep.FieldPersonID {
			continue
		}
		if _, ok := Spec(col); !ok {
			ignored = append(ignored, col)
		}
	}

	rows := make([]sleep.LabeledRecord, 0, len(t.Rows))
	for i, cells := range t.Rows {
		if len(cells) != len(t.Columns) {
			return nil, nil, errors.Wrapf(errors.ErrInvalidInput, "row %d: %d cells for %d columns", i+1, len(cells), len(t.Columns))
		}
		row := sleep.LabeledRecord{Diagnosis: cells[targetIdx]}

		for j, col := range t.Columns {
			if j == targetIdx {
				continue
			}
			spec, ok := Spec(col)
			if !ok {
				continue
			}
			cell := tidy(cells[j])
			if cell == "" {
				if spec.Kind == KindCategorical {
					row.Record.SetText(col, "")
				}
				continue
			}

			switch spec.Kind {
			case KindCategorical, KindCompound:
				row.Record.SetText(col, cell)
			case KindInteger:
				n, err := ParseNumeric(col, cell)
				if err != nil {
					return nil, nil, errors.Wrapf(err, "row %d", i+1)
				}
				row.Record.SetInt(col, int(n))
			case KindReal:
				f, err := ParseNumeric(col, cell)
				if err != nil {
					return nil, nil, errors.Wrapf(err, "row %d", i+1)
				}
				row.Record.SetReal(col, f)
			}
		}

		rows = append(rows, row)
	}

	return rows, ignored, nil
}

// FitAndEncodeRecords fits the registry from the observed vocabulary of each
// categorical column and of the diagnosis, then encodes every record. Any
// row that cannot be encoded fails the whole run.
func FitAndEncodeRecords(rows []sleep.LabeledRecord, columns []string) (*Dataset, error) {
	if len(rows) == 0 {
		return nil, errors.Wrap(errors.ErrInvalidInput, "corpus is empty")
	}

	layout := NewContract(columns, []string{string(sleep.DiagnosisNone)})
	if err := layout.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid feature columns")
	}

	aliases := DefaultAliases()
	observed := make(map[string][]string, len(layout.Categorical)+1)
	for _, row := range rows {
		for _, col := range layout.Categorical {
			if label, ok := row.Record.Text(col); ok && label != "" {
				observed[col] = append(observed[col], label)
			}
		}
		observed[TargetField] = append(observed[TargetField], row.Diagnosis)
	}

	vocabs := make(map[string]*Vocabulary, len(observed))
	fields := append(slices.Clone(layout.Categorical), TargetField)
	for _, field := range fields {
		v, err := FitVocabulary(observed[field], aliases[field])
		if err != nil {
			return nil, errors.Wrapf(err, "fit %s", field)
		}
		vocabs[field] = v
	}
	reg := NewRegistry(vocabs)

	contract := NewContract(columns, vocabs[TargetField].Labels)
	if err := contract.ValidateRegistry(reg); err != nil {
		return nil, err
	}

	ds := &Dataset{
		Contract: contract,
		Registry: reg,
		Features: make([][]float64, 0, len(rows)),
		Targets:  make([]int, 0, len(rows)),
	}
	for i := range rows {
		row := &rows[i]
		if err := CheckPresence(&row.Record, contract); err != nil {
			return nil, errors.Wrapf(err, "row %d", i+1)
		}
		enc, err := encodeRecord(&row.Record, reg, contract)
		if err != nil {
			return nil, errors.Wrapf(err, "row %d", i+1)
		}
		for _, w := range enc.Warnings {
			if w.Label != "" {
				return nil, errors.Wrapf(errors.ErrInternal, "row %d: %s", i+1, w)
			}
			if ds.Defaulted == nil {
				ds.Defaulted = make(map[string]int)
			}
			ds.Defaulted[w.Field]++
		}

		target, ok := reg.Lookup(TargetField, row.Diagnosis)
		if !ok {
			return nil, errors.Wrapf(errors.ErrInternal, "row %d: diagnosis %q not in fitted vocabulary", i+1, row.Diagnosis)
		}

		ds.Features = append(ds.Features, enc.Vector)
		ds.Targets = append(ds.Targets, target)
	}

	return ds, nil
}

// Table renders the encoded dataset as a table: contract columns followed by
// the encoded target
func (d *Dataset) Table() *Table {
	cols := append(append([]string{}, d.Contract.Columns...), d.Contract.Target)
	rows := make([][]string, len(d.Features))
	for i, vec := range d.Features {
		row := make([]string, 0, len(cols))
		for _, v := range vec {
			row = append(row, strconv.FormatFloat(v, 'f', -1, 64))
		}
		rows[i] = append(row, strconv.Itoa(d.Targets[i]))
	}
	return &Table{Columns: cols, Rows: rows}
}

// ClassCounts returns the number of rows per target code
func (d *Dataset) ClassCounts() []int {
	counts := make([]int, len(d.Contract.TargetLabels))
	for _, y := range d.Targets {
		counts[y]++
	}
	return counts
}
