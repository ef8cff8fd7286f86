package models

import "time"

const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

type User struct {
	ID          uint      `gorm:"primaryKey"`
	Email       string    `gorm:"uniqueIndex;not null"`
	DisplayName string    `gorm:"not null;default:''"`
	Role        string    `gorm:"not null;default:member"`
	Timezone    string    `gorm:"not null;default:UTC"`
	CreatedAt   time.Time `gorm:"not null"`
}
