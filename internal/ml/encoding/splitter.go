package encoding

import (
	"strings"

	"sleepdx/internal/domain/sleep"
	"sleepdx/pkg/errors"
)

const bloodPressureDelimiter = "/"

// SplitBloodPressure decomposes a "systolic/diastolic" reading. A value
// without exactly one delimiter, or with non-integer halves, is a FormatError.
// Both halves are validated as their own numeric fields.
func SplitBloodPressure(raw string) (systolic, diastolic int, err error) {
	parts := strings.Split(strings.TrimSpace(raw), bloodPressureDelimiter)
	if len(parts) != 2 {
		return 0, 0, errors.NewFormatError(sleep.FieldBloodPressure, raw,
			"expected <systolic>"+bloodPressureDelimiter+"<diastolic>")
	}

	sys, err := ParseNumeric(sleep.FieldSystolicBP, parts[0])
	if err != nil {
		return 0, 0, errors.NewFormatError(sleep.FieldBloodPressure, raw, "systolic part: "+err.Error())
	}
	dia, err := ParseNumeric(sleep.FieldDiastolicBP, parts[1])
	if err != nil {
		return 0, 0, errors.NewFormatError(sleep.FieldBloodPressure, raw, "diastolic part: "+err.Error())
	}

	return int(sys), int(dia), nil
}
