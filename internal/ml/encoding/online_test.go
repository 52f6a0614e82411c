package encoding

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sleepdx/internal/domain/sleep"
	"sleepdx/pkg/errors"
)

func TestEncodeOne(t *testing.T) {
	ds := loadFixture(t)

	enc, err := EncodeOne(sampleRecord(), ds.Registry, ds.Contract)
	require.NoError(t, err)
	require.Empty(t, enc.Warnings)

	engineer := ds.Registry.Encode(sleep.FieldOccupation, "Engineer")
	want := []float64{1, 35, float64(engineer), 6.5, 6, 45, 6, 0, 72, 6000, 126, 83}
	assert.Equal(t, want, enc.Vector)
}

func TestEncodeOne_DoctorExample(t *testing.T) {
	ds := loadFixture(t)

	rec := &sleep.RawRecord{
		Gender:                strPtr("Male"),
		Age:                   intPtr(30),
		Occupation:            strPtr("Doctor"),
		SleepDuration:         floatPtr(7.0),
		QualityOfSleep:        intPtr(8),
		PhysicalActivityLevel: intPtr(50),
		StressLevel:           intPtr(5),
		BMICategory:           strPtr("Normal"),
		HeartRate:             intPtr(70),
		DailySteps:            intPtr(8000),
		SystolicBP:            intPtr(120),
		DiastolicBP:           intPtr(80),
	}

	enc, err := EncodeOne(rec, ds.Registry, ds.Contract)
	require.NoError(t, err)
	assert.Empty(t, enc.Warnings)
	assert.Equal(t, []float64{1, 30, 1, 7, 8, 50, 5, 0, 70, 8000, 120, 80}, enc.Vector)
}

func TestEncodeOne_MatchesOfflineEncoding(t *testing.T) {
	ds := loadFixture(t)

	// Same values as fixture row 1, sent as a serving request
	rec := &sleep.RawRecord{
		Gender:                strPtr("male"),
		Age:                   intPtr(27),
		Occupation:            strPtr("Software Engineer"),
		SleepDuration:         floatPtr(6.1),
		QualityOfSleep:        intPtr(6),
		PhysicalActivityLevel: intPtr(42),
		StressLevel:           intPtr(6),
		BMICategory:           strPtr("overweight"),
		HeartRate:             intPtr(77),
		DailySteps:            intPtr(4200),
		BloodPressure:         strPtr("126/83"),
	}

	enc, err := EncodeOne(rec, ds.Registry, ds.Contract)
	require.NoError(t, err)
	assert.Empty(t, enc.Warnings)
	assert.Equal(t, ds.Features[0], enc.Vector)
}

func TestEncodeOne_Deterministic(t *testing.T) {
	ds := loadFixture(t)
	rec := sampleRecord()

	first, err := EncodeOne(rec, ds.Registry, ds.Contract)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			enc, err := EncodeOne(rec, ds.Registry, ds.Contract)
			assert.NoError(t, err)
			assert.Equal(t, first.Vector, enc.Vector)
		}()
	}
	wg.Wait()
}

func TestEncodeOne_ColumnOrderFollowsContract(t *testing.T) {
	ds := loadFixture(t)

	reversed := make([]string, len(DefaultColumns))
	for i, col := range DefaultColumns {
		reversed[len(DefaultColumns)-1-i] = col
	}
	c := NewContract(reversed, ds.Contract.TargetLabels)
	require.NoError(t, c.Validate())

	base, err := EncodeOne(sampleRecord(), ds.Registry, ds.Contract)
	require.NoError(t, err)
	flipped, err := EncodeOne(sampleRecord(), ds.Registry, c)
	require.NoError(t, err)

	for i, col := range reversed {
		assert.Equal(t, base.Vector[ds.Contract.Index(col)], flipped.Vector[i], col)
	}
}

func TestEncodeOne_UnseenLabel(t *testing.T) {
	ds := loadFixture(t)
	occupation, _ := ds.Registry.Vocabulary(sleep.FieldOccupation)

	rec := sampleRecord()
	rec.Occupation = strPtr("Scientist")

	enc, err := EncodeOne(rec, ds.Registry, ds.Contract)
	require.NoError(t, err)

	assert.Equal(t, float64(occupation.Default), enc.Vector[ds.Contract.Index(sleep.FieldOccupation)])
	require.Len(t, enc.Warnings, 1)
	assert.Equal(t, SkewWarning{
		Field:       sleep.FieldOccupation,
		Label:       "Scientist",
		DefaultCode: occupation.Default,
	}, enc.Warnings[0])
	assert.Contains(t, enc.Warnings[0].String(), "Scientist")
}

func TestEncodeOne_ExplicitHalvesWinOverCompound(t *testing.T) {
	ds := loadFixture(t)

	rec := sampleRecord()
	rec.SystolicBP = intPtr(118)
	rec.DiastolicBP = intPtr(76)

	enc, err := EncodeOne(rec, ds.Registry, ds.Contract)
	require.NoError(t, err)
	assert.Equal(t, 118.0, enc.Vector[ds.Contract.Index(sleep.FieldSystolicBP)])
	assert.Equal(t, 76.0, enc.Vector[ds.Contract.Index(sleep.FieldDiastolicBP)])

	rec.BloodPressure = nil
	enc, err = EncodeOne(rec, ds.Registry, ds.Contract)
	require.NoError(t, err)
	assert.Equal(t, 118.0, enc.Vector[ds.Contract.Index(sleep.FieldSystolicBP)])
}

func TestEncodeOne_Errors(t *testing.T) {
	ds := loadFixture(t)

	t.Run("nil record", func(t *testing.T) {
		_, err := EncodeOne(nil, ds.Registry, ds.Contract)
		var serr *errors.SchemaError
		require.True(t, errors.As(err, &serr))
		assert.Equal(t, ds.Contract.Columns, serr.Missing)
	})

	t.Run("missing field", func(t *testing.T) {
		rec := sampleRecord()
		rec.StressLevel = nil
		rec.Gender = nil

		_, err := EncodeOne(rec, ds.Registry, ds.Contract)
		var serr *errors.SchemaError
		require.True(t, errors.As(err, &serr))
		assert.Equal(t, []string{sleep.FieldGender, sleep.FieldStressLevel}, serr.Missing)
	})

	t.Run("missing blood pressure", func(t *testing.T) {
		rec := sampleRecord()
		rec.BloodPressure = nil

		_, err := EncodeOne(rec, ds.Registry, ds.Contract)
		var serr *errors.SchemaError
		require.True(t, errors.As(err, &serr))
		assert.Equal(t, []string{sleep.FieldSystolicBP, sleep.FieldDiastolicBP}, serr.Missing)
	})

	t.Run("malformed blood pressure", func(t *testing.T) {
		rec := sampleRecord()
		rec.BloodPressure = strPtr("126")

		_, err := EncodeOne(rec, ds.Registry, ds.Contract)
		assert.True(t, errors.Is(err, errors.ErrMalformedField))
	})

	t.Run("malformed compound with explicit halves", func(t *testing.T) {
		rec := sampleRecord()
		rec.BloodPressure = strPtr("high")
		rec.SystolicBP = intPtr(120)
		rec.DiastolicBP = intPtr(80)

		_, err := EncodeOne(rec, ds.Registry, ds.Contract)
		assert.True(t, errors.Is(err, errors.ErrMalformedField))
	})

	t.Run("out of domain", func(t *testing.T) {
		rec := sampleRecord()
		rec.Age = intPtr(-3)

		_, err := EncodeOne(rec, ds.Registry, ds.Contract)
		var verr *errors.ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, sleep.FieldAge, verr.Field)
	})
}
