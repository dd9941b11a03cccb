package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	RoleSeller  = "seller"
	RoleCashier = "cashier"
	RoleAdmin   = "admin"
)

// SyncedRoles are the user roles replicated to location nodes.
var SyncedRoles = []string{RoleSeller, RoleCashier}

type Location struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	Code      string       `json:"code" gorm:"type:varchar(32);not null;uniqueIndex:ux_locations_code"`
	Name      string       `json:"name" gorm:"type:text;not null;default:''"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null"`
}

func (Location) TableName() string { return "locations" }

type Device struct {
	ID           snowflake.ID `json:"id" gorm:"primaryKey"`
	Name         string       `json:"name" gorm:"type:text;not null"`
	LocationCode string       `json:"location_code" gorm:"type:varchar(32);not null;index:idx_devices_location"`
	CreatedAt    time.Time    `json:"created_at" gorm:"not null"`
}

func (Device) TableName() string { return "devices" }

type User struct {
	ID           snowflake.ID `json:"id" gorm:"primaryKey"`
	Username     string       `json:"username" gorm:"type:varchar(128);not null"`
	FullName     string       `json:"full_name" gorm:"type:text;not null;default:''"`
	Role         string       `json:"role" gorm:"type:varchar(32);not null"`
	LocationCode string       `json:"location_code" gorm:"type:varchar(32);not null;default:'';index:idx_users_location_role"`
	Active       bool         `json:"active" gorm:"not null"`
	CreatedAt    time.Time    `json:"created_at" gorm:"not null"`
}

func (User) TableName() string { return "users" }

type SystemParameter struct {
	Code        string    `json:"code" gorm:"type:varchar(64);primaryKey"`
	Value       string    `json:"value" gorm:"type:text;not null;default:''"`
	Description string    `json:"description" gorm:"type:text;not null;default:''"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"not null"`
}

func (SystemParameter) TableName() string { return "system_parameters" }
