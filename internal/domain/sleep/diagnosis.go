package sleep

// Diagnosis is the closed set of sleep-disorder outcomes
type Diagnosis string

const (
	DiagnosisNone       Diagnosis = "None" // healthy, also used when nothing was recorded
	DiagnosisInsomnia   Diagnosis = "Insomnia"
	DiagnosisSleepApnea Diagnosis = "Sleep Apnea"
)

// Valid checks if diagnosis is one of the known outcomes
func (d Diagnosis) Valid() bool {
	switch d {
	case DiagnosisNone, DiagnosisInsomnia, DiagnosisSleepApnea:
		return true
	}
	return false
}

// Healthy reports whether the diagnosis is the no-disorder outcome
func (d Diagnosis) Healthy() bool {
	return d == DiagnosisNone
}

// String returns string representation
func (d Diagnosis) String() string {
	return string(d)
}
