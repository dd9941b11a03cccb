package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/possync/internal/reference/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindLocationByCode(ctx context.Context, db *gorm.DB, code string) (*domain.Location, error) {
	var location domain.Location
	err := db.WithContext(ctx).Where("code = ?", code).First(&location).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &location, nil
}

func (r *repo) InsertLocation(ctx context.Context, db *gorm.DB, location *domain.Location) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "code"}}, DoNothing: true}).
		Create(location).Error
}

func (r *repo) FindUserByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.User, error) {
	var user domain.User
	err := db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repo) ListUsers(ctx context.Context, db *gorm.DB, locationCode string, roles []string) ([]domain.User, error) {
	var users []domain.User
	stmt := db.WithContext(ctx).Model(&domain.User{}).Where("active = ?", true)
	if locationCode != "" {
		stmt = stmt.Where("location_code = ?", locationCode)
	}
	if len(roles) > 0 {
		stmt = stmt.Where("role IN ?", roles)
	}
	if err := stmt.Order("id asc").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func (r *repo) ReplaceUsers(ctx context.Context, db *gorm.DB, locationCode string, roles []string, users []domain.User) error {
	if err := db.WithContext(ctx).
		Where("location_code = ? AND role IN ?", locationCode, roles).
		Delete(&domain.User{}).Error; err != nil {
		return err
	}
	if len(users) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).
		Create(&users).Error
}

func (r *repo) FindDeviceByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Device, error) {
	var device domain.Device
	err := db.WithContext(ctx).Where("id = ?", id).First(&device).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &device, nil
}

func (r *repo) ListDevices(ctx context.Context, db *gorm.DB, locationCode string) ([]domain.Device, error) {
	var devices []domain.Device
	stmt := db.WithContext(ctx).Model(&domain.Device{})
	if locationCode != "" {
		stmt = stmt.Where("location_code = ?", locationCode)
	}
	if err := stmt.Order("id asc").Find(&devices).Error; err != nil {
		return nil, err
	}
	return devices, nil
}

func (r *repo) ReplaceDevices(ctx context.Context, db *gorm.DB, locationCode string, devices []domain.Device) error {
	if err := db.WithContext(ctx).
		Where("location_code = ?", locationCode).
		Delete(&domain.Device{}).Error; err != nil {
		return err
	}
	if len(devices) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).
		Create(&devices).Error
}

func (r *repo) GetParameter(ctx context.Context, db *gorm.DB, code string) (*domain.SystemParameter, error) {
	var param domain.SystemParameter
	err := db.WithContext(ctx).Where("code = ?", code).First(&param).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &param, nil
}

func (r *repo) ListParameters(ctx context.Context, db *gorm.DB) ([]domain.SystemParameter, error) {
	var params []domain.SystemParameter
	if err := db.WithContext(ctx).Order("code asc").Find(&params).Error; err != nil {
		return nil, err
	}
	return params, nil
}

// UpsertParameters inserts missing codes and overwrites the value of existing ones.
func (r *repo) UpsertParameters(ctx context.Context, db *gorm.DB, params []domain.SystemParameter) error {
	if len(params) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "description", "updated_at"}),
		}).
		Create(&params).Error
}

func (r *repo) InsertParameterIfAbsent(ctx context.Context, db *gorm.DB, param *domain.SystemParameter) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "code"}}, DoNothing: true}).
		Create(param)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
