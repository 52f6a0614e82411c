package encoding

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sleepdx/internal/domain/sleep"
	"sleepdx/pkg/errors"
)

func TestCanonicalize(t *testing.T) {
	aliases := DefaultAliases()

	tests := []struct {
		name  string
		field string
		raw   string
		want  string
	}{
		{"alias is case-insensitive", sleep.FieldBMICategory, "NORMAL  weight", "Normal"},
		{"no alias keeps case", sleep.FieldBMICategory, " Overweight ", "Overweight"},
		{"gender shorthand", sleep.FieldGender, "f", "Female"},
		{"empty diagnosis", TargetField, "", "None"},
		{"nan diagnosis", TargetField, "NaN", "None"},
		{"healthy diagnosis", TargetField, "Healthy", "None"},
		{"real diagnosis", TargetField, "sleep   Apnea", "sleep Apnea"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Canonicalize(aliases[tt.field], tt.raw))
		})
	}
}

func TestNormalizeCategorical(t *testing.T) {
	vocab, err := FitVocabulary([]string{"Male", "Female", "Male"}, DefaultAliases()[sleep.FieldGender])
	require.NoError(t, err)
	reg := NewRegistry(map[string]*Vocabulary{sleep.FieldGender: vocab})

	t.Run("known label", func(t *testing.T) {
		res := NormalizeCategorical(reg, sleep.FieldGender, "female")
		assert.True(t, res.Known)
		assert.Equal(t, 0, res.Code)
	})

	t.Run("alias", func(t *testing.T) {
		res := NormalizeCategorical(reg, sleep.FieldGender, "M")
		assert.True(t, res.Known)
		assert.Equal(t, 1, res.Code)
	})

	t.Run("unseen label uses default", func(t *testing.T) {
		res := NormalizeCategorical(reg, sleep.FieldGender, "Other")
		assert.False(t, res.Known)
		assert.Equal(t, vocab.Default, res.Code)
		assert.Equal(t, 1, res.Code, "default is the most frequent label")
	})

	t.Run("empty label uses default", func(t *testing.T) {
		res := NormalizeCategorical(reg, sleep.FieldGender, "")
		assert.False(t, res.Known)
	})
}

func TestNormalizeNumeric(t *testing.T) {
	tests := []struct {
		name    string
		field   string
		value   float64
		wantErr bool
	}{
		{"age in range", sleep.FieldAge, 42, false},
		{"age negative", sleep.FieldAge, -1, true},
		{"age fractional", sleep.FieldAge, 42.5, true},
		{"sleep duration fractional", sleep.FieldSleepDuration, 6.1, false},
		{"sleep duration over a day", sleep.FieldSleepDuration, 25, true},
		{"quality upper bound", sleep.FieldQualityOfSleep, 10, false},
		{"quality zero", sleep.FieldQualityOfSleep, 0, true},
		{"heart rate zero", sleep.FieldHeartRate, 0, true},
		{"steps zero", sleep.FieldDailySteps, 0, false},
		{"nan", sleep.FieldSleepDuration, math.NaN(), true},
		{"infinity", sleep.FieldDailySteps, math.Inf(1), true},
		{"categorical field", sleep.FieldGender, 1, true},
		{"unknown field", "shoe_size", 42, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeNumeric(tt.field, tt.value)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, errors.ErrValidation))

				var verr *errors.ValidationError
				require.True(t, errors.As(err, &verr))
				assert.Equal(t, tt.field, verr.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.value, got)
		})
	}
}

func TestParseNumeric(t *testing.T) {
	n, err := ParseNumeric(sleep.FieldAge, " 29 ")
	require.NoError(t, err)
	assert.Equal(t, 29.0, n)

	f, err := ParseNumeric(sleep.FieldSleepDuration, "7.8")
	require.NoError(t, err)
	assert.InDelta(t, 7.8, f, 1e-9)

	_, err = ParseNumeric(sleep.FieldAge, "29.0")
	assert.True(t, errors.Is(err, errors.ErrValidation))

	_, err = ParseNumeric(sleep.FieldStressLevel, "eleven")
	assert.True(t, errors.Is(err, errors.ErrValidation))
}
