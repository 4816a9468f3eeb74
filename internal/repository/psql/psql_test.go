package psql

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"lingopipe/internal/domain/entity"
)

// newTestDB opens a throwaway sqlite database with the production schema.
// Behavior under test is plain conditional SQL, identical across drivers.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&entity.User{},
		&entity.Job{},
		&entity.CreditTransaction{},
		&entity.Payment{},
		&entity.PricingTier{},
	))
	return db
}

func seedUser(t *testing.T, db *gorm.DB, credits int64) *entity.User {
	t.Helper()
	user := &entity.User{
		ID:      uuid.New().String(),
		Email:   uuid.New().String() + "@test.local",
		Role:    entity.RoleUser,
		Credits: credits,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func seedJob(t *testing.T, db *gorm.DB, userID string, status entity.JobStatus) *entity.Job {
	t.Helper()
	job := &entity.Job{
		ID:       uuid.New().String(),
		UserID:   userID,
		JobType:  entity.JobTranscribe,
		InputKey: "users/" + userID + "/uploads/in.mp3",
		Status:   status,
		Phase:    entity.PhasePending,
	}
	require.NoError(t, db.Create(job).Error)
	return job
}
