package usecase

import (
	"lingopipe/internal/domain/entity"
)

// Default credit rates. Per-minute types charge rate * minutes, floored at
// one credit; translate is a flat per-job charge.
const (
	RateTranscribePerMin     = 10
	RateTranslateFlat        = 5
	RateSynthesizePerMin     = 15
	RateVideoTranslatePerMin = 30

	// DefaultDurationSeconds is assumed when a media duration cannot be
	// determined, rather than failing the estimate.
	DefaultDurationSeconds = 60
)

// Estimator maps (job type, duration) to an integer credit cost. It is pure:
// same inputs always produce the same cost.
type Estimator struct {
	rates map[entity.JobType]int64
}

func NewEstimator() *Estimator {
	return &Estimator{
		rates: map[entity.JobType]int64{
			entity.JobTranscribe:     RateTranscribePerMin,
			entity.JobTranslate:      RateTranslateFlat,
			entity.JobSynthesize:     RateSynthesizePerMin,
			entity.JobVideoTranslate: RateVideoTranslatePerMin,
		},
	}
}

// Estimate returns the credit cost for a job. durationSeconds <= 0 means the
// duration is unknown and the default is used. Flat-rate types ignore the
// duration entirely.
func (e *Estimator) Estimate(jobType entity.JobType, durationSeconds float64) int64 {
	rate, ok := e.rates[jobType]
	if !ok {
		return 0
	}

	if jobType == entity.JobTranslate {
		return rate
	}

	if durationSeconds <= 0 {
		durationSeconds = DefaultDurationSeconds
	}

	cost := int64(float64(rate) * durationSeconds / 60)
	if cost < 1 {
		cost = 1
	}
	return cost
}
