package encoding

import (
	"sleepdx/internal/domain/sleep"
)

// Kind is the value type of a raw field
type Kind int

const (
	KindCategorical Kind = iota
	KindInteger
	KindReal
	KindCompound
)

// String returns string representation
func (k Kind) String() string {
	switch k {
	case KindCategorical:
		return "categorical"
	case KindInteger:
		return "integer"
	case KindReal:
		return "real"
	case KindCompound:
		return "compound"
	}
	return "unknown"
}

// FieldSpec describes how one raw field is parsed and validated.
// Rule is a validator tag applied to numeric values.
type FieldSpec struct {
	Name string
	Kind Kind
	Rule string
}

// TargetField is the registry field holding diagnosis labels
const TargetField = sleep.FieldSleepDisorder

var fieldSpecs = map[string]FieldSpec{
	sleep.FieldGender:                {Name: sleep.FieldGender, Kind: KindCategorical},
	sleep.FieldAge:                   {Name: sleep.FieldAge, Kind: KindInteger, Rule: "gte=0,lte=130"},
	sleep.FieldOccupation:            {Name: sleep.FieldOccupation, Kind: KindCategorical},
	sleep.FieldSleepDuration:         {Name: sleep.FieldSleepDuration, Kind: KindReal, Rule: "gte=0,lte=24"},
	sleep.FieldQualityOfSleep:        {Name: sleep.FieldQualityOfSleep, Kind: KindInteger, Rule: "gte=1,lte=10"},
	sleep.FieldPhysicalActivityLevel: {Name: sleep.FieldPhysicalActivityLevel, Kind: KindInteger, Rule: "gte=0,lte=1440"},
	sleep.FieldStressLevel:           {Name: sleep.FieldStressLevel, Kind: KindInteger, Rule: "gte=1,lte=10"},
	sleep.FieldBMICategory:           {Name: sleep.FieldBMICategory, Kind: KindCategorical},
	sleep.FieldHeartRate:             {Name: sleep.FieldHeartRate, Kind: KindInteger, Rule: "gt=0,lte=300"},
	sleep.FieldDailySteps:            {Name: sleep.FieldDailySteps, Kind: KindInteger, Rule: "gte=0"},
	sleep.FieldSystolicBP:            {Name: sleep.FieldSystolicBP, Kind: KindInteger, Rule: "gt=0,lte=400"},
	sleep.FieldDiastolicBP:           {Name: sleep.FieldDiastolicBP, Kind: KindInteger, Rule: "gt=0,lte=400"},
	sleep.FieldBloodPressure:         {Name: sleep.FieldBloodPressure, Kind: KindCompound},
}

// Spec returns the field spec for a raw field name
func Spec(field string) (FieldSpec, bool) {
	s, ok := fieldSpecs[field]
	return s, ok
}

// DefaultColumns is the feature column order used for newly fitted artifacts
var DefaultColumns = []string{
	sleep.FieldGender,
	sleep.FieldAge,
	sleep.FieldOccupation,
	sleep.FieldSleepDuration,
	sleep.FieldQualityOfSleep,
	sleep.FieldPhysicalActivityLevel,
	sleep.FieldStressLevel,
	sleep.FieldBMICategory,
	sleep.FieldHeartRate,
	sleep.FieldDailySteps,
	sleep.FieldSystolicBP,
	sleep.FieldDiastolicBP,
}

// DefaultAliases are the synonym tables applied before label lookup, keyed by
// field and then by case-folded raw label. They are copied into the Registry
// at fit time so serving applies exactly the fitted rules.
//
//	gender:         m, f, man, woman
//	bmi_category:   "normal weight" collapses into "Normal"
//	sleep_disorder: empty, nan, none, n/a, healthy all mean "None"
func DefaultAliases() map[string]map[string]string {
	return map[string]map[string]string{
		sleep.FieldGender: {
			"m":     "Male",
			"man":   "Male",
			"f":     "Female",
			"woman": "Female",
		},
		sleep.FieldBMICategory: {
			"normal weight": "Normal",
		},
		TargetField: {
			"":               string(sleep.DiagnosisNone),
			"nan":            string(sleep.DiagnosisNone),
			"none":           string(sleep.DiagnosisNone),
			"n/a":            string(sleep.DiagnosisNone),
			"healthy":        string(sleep.DiagnosisNone),
			"none (healthy)": string(sleep.DiagnosisNone),
		},
	}
}
