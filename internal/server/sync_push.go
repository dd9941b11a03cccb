package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/possync/internal/remote"
	syncdomain "github.com/smallbiznis/possync/internal/syncevent/domain"
	"github.com/smallbiznis/possync/internal/transfer"
	"go.uber.org/zap"
)

// StartPush registers a pending push for the location. Files are accepted
// against it until the location calls complete.
func (s *Server) StartPush(c *gin.Context) {
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

	event, err := s.ledger.CreatePending(ctx, syncdomain.CreatePendingRequest{Type: syncdomain.TypePush, LocationCode: code})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, remote.SyncEventResponse{SyncEventID: event.ID.Int64()})
}

// UploadPushFile stores one file and answers with the number of rows that
// decode. Rejected rows are listed so the location can report them.
func (s *Server) UploadPushFile(c *gin.Context) {
	ctx := c.Request.Context()

	kind, err := transfer.ParseKind(c.Param("kind"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	event, ok := s.openPush(c)
	if !ok {
		return
	}
	c.Set(contextLocationKey, event.LocationCode)

	limit, err := s.limiter.AllowLocation(ctx, event.LocationCode)
	if err != nil {
		s.log.Warn("sync.push.rate_limit_unavailable", zap.Error(err))
	} else if !limit.Allowed {
		c.Header("Retry-After", strconv.Itoa(int(limit.RetryAfter.Seconds())+1))
		AbortWithError(c, ErrRateLimited)
		return
	}

	header, err := c.FormFile(remote.UploadField)
	if err != nil {
		AbortWithError(c, newValidationError(remote.UploadField, "required", "multipart field file is required"))
		return
	}
	src, err := header.Open()
	if err != nil {
		AbortWithError(c, err)
		return
	}
	defer src.Close()

	path, err := s.store.Save(event.ID, kind, src)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	file, ok, err := s.store.Open(event.ID, kind)
	if err != nil || !ok {
		AbortWithError(c, errors.Join(ErrServiceUnavailable, err))
		return
	}
	defer file.Close()

	result, err := transfer.Validate(kind, file)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.log.Info("sync.push.file_received",
		zap.String("sync_event_id", event.ID.String()),
		zap.String("location_code", event.LocationCode),
		zap.String("kind", string(kind)),
		zap.String("path", path),
		zap.Int("rows", result.Processed),
		zap.Int("rejected", result.Failed()),
	)

	count := result.Processed
	c.JSON(http.StatusOK, remote.UploadResponse{Count: &count, Errors: result.ErrorStrings("")})
}

// CompletePush marks the upload finished, making the event eligible for
// ingestion.
func (s *Server) CompletePush(c *gin.Context) {
	event, ok := s.openPush(c)
	if !ok {
		return
	}
	if err := s.ledger.MarkUploaded(c.Request.Context(), event.ID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, remote.MessageResponse{Message: "upload complete"})
}

func (s *Server) openPush(c *gin.Context) (*syncdomain.SyncEvent, bool) {
	id, err := eventID(c)
	if err != nil {
		AbortWithError(c, err)
		return nil, false
	}
	event, err := s.ledger.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return nil, false
	}
	if event.Type != syncdomain.TypePush {
		AbortWithError(c, newValidationError("id", "invalid_type", "sync event is not a push"))
		return nil, false
	}
	if event.Status.Terminal() {
		AbortWithError(c, syncdomain.ErrAlreadyTerminal)
		return nil, false
	}
	if event.Status != syncdomain.StatusPending || event.UploadedAt != nil {
		AbortWithError(c, syncdomain.ErrNotPending)
		return nil, false
	}
	return event, true
}
