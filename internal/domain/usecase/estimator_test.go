package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"lingopipe/internal/domain/entity"
)

func TestEstimatePerMinuteRates(t *testing.T) {
	e := NewEstimator()

	assert.EqualValues(t, 20, e.Estimate(entity.JobTranscribe, 120))
	assert.EqualValues(t, 15, e.Estimate(entity.JobSynthesize, 60))
	assert.EqualValues(t, 90, e.Estimate(entity.JobVideoTranslate, 180))
}

func TestEstimateTranslateIsFlat(t *testing.T) {
	e := NewEstimator()

	assert.EqualValues(t, 5, e.Estimate(entity.JobTranslate, 0))
	assert.EqualValues(t, 5, e.Estimate(entity.JobTranslate, 36000))
}

func TestEstimateUnknownDurationUsesDefault(t *testing.T) {
	e := NewEstimator()

	assert.EqualValues(t, 10, e.Estimate(entity.JobTranscribe, 0))
	assert.EqualValues(t, 30, e.Estimate(entity.JobVideoTranslate, -1))
}

func TestEstimateFloorsAtOneCredit(t *testing.T) {
	e := NewEstimator()

	// 1 second of transcription rounds down to zero before the floor.
	assert.EqualValues(t, 1, e.Estimate(entity.JobTranscribe, 1))
}

func TestEstimateIsDeterministic(t *testing.T) {
	e := NewEstimator()

	first := e.Estimate(entity.JobVideoTranslate, 137.5)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, e.Estimate(entity.JobVideoTranslate, 137.5))
	}
}

func TestEstimateUnknownType(t *testing.T) {
	e := NewEstimator()

	assert.EqualValues(t, 0, e.Estimate(entity.JobType("remaster"), 60))
}
