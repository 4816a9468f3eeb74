package entity

import (
	"time"

	"gorm.io/gorm"
)

// Tiers affect dispatch priority; see PriorityForRole.
const (
	RoleUser  = "user"
	RolePro   = "pro"
	RoleAdmin = "admin"
)

// User holds account identity and the derived credit balance. Credits are
// only ever mutated through the ledger repository; nothing else writes them.
type User struct {
	ID        string `gorm:"primaryKey;type:uuid"`
	Email     string `gorm:"uniqueIndex;not null"`
	Role      string `gorm:"not null;default:user"`
	Credits   int64  `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// PriorityForRole maps an account tier to a queue priority (0-10).
func PriorityForRole(role string) uint8 {
	switch role {
	case RoleAdmin, RolePro:
		return 10
	case RoleUser:
		return 5
	default:
		return 1
	}
}
