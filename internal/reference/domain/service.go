package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// System parameter codes.
const (
	ParamServerAddress   = "SERVER_ADDRESS"
	ParamLocationCode    = "LOCATION_CODE"
	ParamMaxInstallments = "MAX_INSTALLMENTS"
	ParamVoucherFooter   = "VOUCHER_FOOTER"
)

// NodeLocalParameters never leave the node they are configured on.
var NodeLocalParameters = map[string]struct{}{
	ParamServerAddress: {},
	ParamLocationCode:  {},
}

type Service interface {
	LocationCode(ctx context.Context) (string, error)
	ServerAddress(ctx context.Context) (string, error)
	IntParameter(ctx context.Context, code string, def int) int
	Parameter(ctx context.Context, code string) (string, bool, error)

	FindUser(ctx context.Context, id snowflake.ID) (*User, error)
	FindDevice(ctx context.Context, id snowflake.ID) (*Device, error)
	EnsureLocation(ctx context.Context, code string) (*Location, error)

	ListDevices(ctx context.Context, locationCode string) ([]Device, error)
	ListSyncedUsers(ctx context.Context, locationCode string) ([]User, error)
	ListExportableParameters(ctx context.Context) ([]SystemParameter, error)
}

var (
	ErrLocationNotConfigured      = errors.New("location_not_configured")
	ErrServerAddressNotConfigured = errors.New("server_address_not_configured")
	ErrInvalidLocation            = errors.New("invalid_location")
	ErrNotFound                   = errors.New("not_found")
)
