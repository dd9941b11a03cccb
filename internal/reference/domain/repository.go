package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindLocationByCode(ctx context.Context, db *gorm.DB, code string) (*Location, error)
	InsertLocation(ctx context.Context, db *gorm.DB, location *Location) error

	FindUserByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*User, error)
	ListUsers(ctx context.Context, db *gorm.DB, locationCode string, roles []string) ([]User, error)
	ReplaceUsers(ctx context.Context, db *gorm.DB, locationCode string, roles []string, users []User) error

	FindDeviceByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Device, error)
	ListDevices(ctx context.Context, db *gorm.DB, locationCode string) ([]Device, error)
	ReplaceDevices(ctx context.Context, db *gorm.DB, locationCode string, devices []Device) error

	GetParameter(ctx context.Context, db *gorm.DB, code string) (*SystemParameter, error)
	ListParameters(ctx context.Context, db *gorm.DB) ([]SystemParameter, error)
	UpsertParameters(ctx context.Context, db *gorm.DB, params []SystemParameter) error
	InsertParameterIfAbsent(ctx context.Context, db *gorm.DB, param *SystemParameter) (bool, error)
}
