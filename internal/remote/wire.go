package remote

import (
	clientdomain "github.com/smallbiznis/possync/internal/client/domain"
	refdomain "github.com/smallbiznis/possync/internal/reference/domain"
)

// Bodies exchanged with the admin node.

type SyncEventResponse struct {
	SyncEventID int64 `json:"syncEventId"`
}

type ClientsResponse struct {
	Clients []clientdomain.Client `json:"clients"`
}

type UsersResponse struct {
	Users []refdomain.User `json:"users"`
}

type DevicesResponse struct {
	Devices []refdomain.Device `json:"devices"`
}

type ParametersResponse struct {
	Parameters []refdomain.SystemParameter `json:"parameters"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

// UploadResponse reports how many rows of an uploaded file decoded. Count is
// a pointer so a missing field can be told apart from zero.
type UploadResponse struct {
	Count  *int     `json:"count"`
	Errors []string `json:"errors,omitempty"`
}

const (
	HeaderSyncToken = "X-Sync-Token"
	UploadField     = "file"
)
