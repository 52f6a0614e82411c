package encoding

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"sleepdx/internal/domain/sleep"
)

func strPtr(s string) *string     { return &s }
func intPtr(n int) *int           { return &n }
func floatPtr(f float64) *float64 { return &f }

// loadFixture fits the bundled corpus
func loadFixture(t *testing.T) *Dataset {
	t.Helper()

	f, err := os.Open("testdata/sleep_health.csv")
	require.NoError(t, err)
	defer f.Close()

	table, err := ReadCSV(f)
	require.NoError(t, err)

	ds, err := FitAndEncode(table)
	require.NoError(t, err)
	return ds
}

// sampleRecord is a complete serving request using the compound blood pressure
func sampleRecord() *sleep.RawRecord {
	return &sleep.RawRecord{
		Gender:                strPtr("Male"),
		Age:                   intPtr(35),
		Occupation:            strPtr("Engineer"),
		SleepDuration:         floatPtr(6.5),
		QualityOfSleep:        intPtr(6),
		PhysicalActivityLevel: intPtr(45),
		StressLevel:           intPtr(6),
		BMICategory:           strPtr("Normal Weight"),
		HeartRate:             intPtr(72),
		DailySteps:            intPtr(6000),
		BloodPressure:         strPtr("126/83"),
	}
}
