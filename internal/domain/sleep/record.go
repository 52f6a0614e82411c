package sleep

// Raw field names after column-name normalization
const (
	FieldPersonID              = "person_id"
	FieldGender                = "gender"
	FieldAge                   = "age"
	FieldOccupation            = "occupation"
	FieldSleepDuration         = "sleep_duration"
	FieldQualityOfSleep        = "quality_of_sleep"
	FieldPhysicalActivityLevel = "physical_activity_level"
	FieldStressLevel           = "stress_level"
	FieldBMICategory           = "bmi_category"
	FieldBloodPressure         = "blood_pressure"
	FieldHeartRate             = "heart_rate"
	FieldDailySteps            = "daily_steps"
	FieldSystolicBP            = "systolic_bp"
	FieldDiastolicBP           = "diastolic_bp"
	FieldSleepDisorder         = "sleep_disorder"
)

// RawRecord is one subject's measurements as received, before encoding.
// Pointer fields distinguish "absent" from a zero value.
// BloodPressure is the compound "systolic/diastolic" form and may replace
// SystolicBP and DiastolicBP.
type RawRecord struct {
	Gender                *string  `json:"gender,omitempty"`
	Age                   *int     `json:"age,omitempty"`
	Occupation            *string  `json:"occupation,omitempty"`
	SleepDuration         *float64 `json:"sleep_duration,omitempty"`
	QualityOfSleep        *int     `json:"quality_of_sleep,omitempty"`
	PhysicalActivityLevel *int     `json:"physical_activity_level,omitempty"`
	StressLevel           *int     `json:"stress_level,omitempty"`
	BMICategory           *string  `json:"bmi_category,omitempty"`
	HeartRate             *int     `json:"heart_rate,omitempty"`
	DailySteps            *int     `json:"daily_steps,omitempty"`
	SystolicBP            *int     `json:"systolic_bp,omitempty"`
	DiastolicBP           *int     `json:"diastolic_bp,omitempty"`
	BloodPressure         *string  `json:"blood_pressure,omitempty"`
}

// Text returns the string value of a categorical or compound field
func (r *RawRecord) Text(field string) (string, bool) {
	var p *string
	switch field {
	case FieldGender:
		p = r.Gender
	case FieldOccupation:
		p = r.Occupation
	case FieldBMICategory:
		p = r.BMICategory
	case FieldBloodPressure:
		p = r.BloodPressure
	}
	if p == nil {
		return "", false
	}
	return *p, true
}

// Number returns the value of a numeric field
func (r *RawRecord) Number(field string) (float64, bool) {
	if field == FieldSleepDuration {
		if r.SleepDuration == nil {
			return 0, false
		}
		return *r.SleepDuration, true
	}

	p := r.intField(field)
	if p == nil {
		return 0, false
	}
	return float64(*p), true
}

// Has reports whether the field is present in any form
func (r *RawRecord) Has(field string) bool {
	if _, ok := r.Text(field); ok {
		return true
	}
	_, ok := r.Number(field)
	return ok
}

// SetText assigns a categorical or compound field
func (r *RawRecord) SetText(field, value string) bool {
	v := value
	switch field {
	case FieldGender:
		r.Gender = &v
	case FieldOccupation:
		r.Occupation = &v
	case FieldBMICategory:
		r.BMICategory = &v
	case FieldBloodPressure:
		r.BloodPressure = &v
	default:
		return false
	}
	return true
}

// SetInt assigns an integer field
func (r *RawRecord) SetInt(field string, value int) bool {
	v := value
	switch field {
	case FieldAge:
		r.Age = &v
	case FieldQualityOfSleep:
		r.QualityOfSleep = &v
	case FieldPhysicalActivityLevel:
		r.PhysicalActivityLevel = &v
	case FieldStressLevel:
		r.StressLevel = &v
	case FieldHeartRate:
		r.HeartRate = &v
	case FieldDailySteps:
		r.DailySteps = &v
	case FieldSystolicBP:
		r.SystolicBP = &v
	case FieldDiastolicBP:
		r.DiastolicBP = &v
	default:
		return false
	}
	return true
}

// SetReal assigns a real-valued field
func (r *RawRecord) SetReal(field string, value float64) bool {
	if field != FieldSleepDuration {
		return false
	}
	v := value
	r.SleepDuration = &v
	return true
}

func (r *RawRecord) intField(field string) *int {
	switch field {
	case FieldAge:
		return r.Age
	case FieldQualityOfSleep:
		return r.QualityOfSleep
	case FieldPhysicalActivityLevel:
		return r.PhysicalActivityLevel
	case FieldStressLevel:
		return r.StressLevel
	case FieldHeartRate:
		return r.HeartRate
	case FieldDailySteps:
		return r.DailySteps
	case FieldSystolicBP:
		return r.SystolicBP
	case FieldDiastolicBP:
		return r.DiastolicBP
	}
	return nil
}

// LabeledRecord is a training row: measurements plus the recorded diagnosis.
// An empty Diagnosis means none was recorded, which is the healthy outcome.
type LabeledRecord struct {
	Record    RawRecord
	Diagnosis string
}
