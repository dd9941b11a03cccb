package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/possync/internal/remote"
	syncdomain "github.com/smallbiznis/possync/internal/syncevent/domain"
	"go.uber.org/zap"
)

const abandonedPullComment = "abandoned: location started a new pull"

// StartPull opens the admin-side ledger entry of a pull. A previous pull the
// location never confirmed is failed first so retries are not blocked.
func (s *Server) StartPull(c *gin.Context) {
	ctx := c.Request.Context()
	code, err := locationCode(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if _, err := s.reference.EnsureLocation(ctx, code); err != nil {
		AbortWithError(c, err)
		return
	}

	stale, err := s.ledger.FindInProgress(ctx, syncdomain.TypePull, code)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if stale != nil {
		_, err := s.ledger.Complete(ctx, stale.ID, syncdomain.Outcome{Comment: abandonedPullComment})
		if err != nil && !errors.Is(err, syncdomain.ErrAlreadyTerminal) {
			AbortWithError(c, err)
			return
		}
		s.log.Info("sync.pull.abandoned", zap.String("sync_event_id", stale.ID.String()), zap.String("location_code", code))
	}

	event, err := s.ledger.Begin(ctx, syncdomain.BeginRequest{Type: syncdomain.TypePull, LocationCode: code})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, remote.SyncEventResponse{SyncEventID: event.ID.Int64()})
}

func (s *Server) PullClients(c *gin.Context) {
	clients, err := s.clients.ListAll(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, remote.ClientsResponse{Clients: clients})
}

func (s *Server) PullUsers(c *gin.Context) {
	code, err := locationCode(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	users, err := s.reference.ListSyncedUsers(c.Request.Context(), code)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, remote.UsersResponse{Users: users})
}

func (s *Server) PullDevices(c *gin.Context) {
	code, err := locationCode(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	devices, err := s.reference.ListDevices(c.Request.Context(), code)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, remote.DevicesResponse{Devices: devices})
}

func (s *Server) PullParameters(c *gin.Context) {
	params, err := s.reference.ListExportableParameters(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, remote.ParametersResponse{Parameters: params})
}

func (s *Server) ConfirmPull(c *gin.Context) {
	ctx := c.Request.Context()
	id, err := eventID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	event, err := s.ledger.Get(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if event.Type != syncdomain.TypePull {
		AbortWithError(c, newValidationError("id", "invalid_type", "sync event is not a pull"))
		return
	}
	if _, err := s.ledger.Complete(ctx, id, syncdomain.Outcome{Success: true}); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, remote.MessageResponse{Message: "sync confirmed"})
}

func eventID(c *gin.Context) (snowflake.ID, error) {
	raw := strings.TrimSpace(c.Param("id"))
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || parsed <= 0 {
		return 0, newValidationError("id", "invalid_id", "invalid sync event id")
	}
	return snowflake.ID(parsed), nil
}
