// Package remote talks to the admin node's sync API.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/possync/internal/config"
	refdomain "github.com/smallbiznis/possync/internal/reference/domain"
	"github.com/smallbiznis/possync/internal/transfer"
	"github.com/smallbiznis/possync/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	maxErrorBody = 4 << 10
	tracerName   = "github.com/smallbiznis/possync/internal/remote"
)

// AddressSource resolves the admin base URL.
type AddressSource interface {
	ServerAddress(ctx context.Context) (string, error)
}

// TransportError is a failed exchange with the admin node: the request could
// not be sent or the answer was not 2xx.
type TransportError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("%s: admin responded %d: %s", e.Op, e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: admin responded %d", e.Op, e.StatusCode)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Transport() bool { return true }

func (e *TransportError) accepted() bool {
	return e.StatusCode >= http.StatusOK && e.StatusCode < http.StatusMultipleChoices
}

type Params struct {
	fx.In

	Config     config.Config
	SyncConfig *config.SyncConfigHolder
	Reference  refdomain.Service
	Log        *zap.Logger
}

type Client struct {
	address    AddressSource
	token      string
	syncConfig *config.SyncConfigHolder
	http       *http.Client
	log        *zap.Logger
}

func New(p Params) *Client {
	return NewClient(p.Reference, p.Config.SyncAPIToken, p.SyncConfig, p.Log)
}

func NewClient(address AddressSource, token string, syncConfig *config.SyncConfigHolder, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		address:    address,
		token:      strings.TrimSpace(token),
		syncConfig: syncConfig,
		http:       &http.Client{},
		log:        log.Named("remote.client"),
	}
}

func (c *Client) StartPull(ctx context.Context, locationCode string) (int64, error) {
	var resp SyncEventResponse
	q := url.Values{"locationCode": {locationCode}}
	if err := c.doJSON(ctx, "pull.start", http.MethodGet, "/sync/pull/start", q, &resp); err != nil {
		return 0, err
	}
	if resp.SyncEventID == 0 {
		return 0, &TransportError{Op: "pull.start", Err: errors.New("response without syncEventId")}
	}
	return resp.SyncEventID, nil
}

func (c *Client) FetchClients(ctx context.Context) (ClientsResponse, error) {
	var resp ClientsResponse
	err := c.doJSON(ctx, "pull.clients", http.MethodGet, "/sync/pull/clients", nil, &resp)
	return resp, err
}

func (c *Client) FetchUsers(ctx context.Context, locationCode string) (UsersResponse, error) {
	var resp UsersResponse
	q := url.Values{"locationCode": {locationCode}}
	err := c.doJSON(ctx, "pull.users", http.MethodGet, "/sync/pull/users", q, &resp)
	return resp, err
}

func (c *Client) FetchDevices(ctx context.Context, locationCode string) (DevicesResponse, error) {
	var resp DevicesResponse
	q := url.Values{"locationCode": {locationCode}}
	err := c.doJSON(ctx, "pull.devices", http.MethodGet, "/sync/pull/devices", q, &resp)
	return resp, err
}

func (c *Client) FetchParameters(ctx context.Context) (ParametersResponse, error) {
	var resp ParametersResponse
	err := c.doJSON(ctx, "pull.parameters", http.MethodGet, "/sync/pull/parameters", nil, &resp)
	return resp, err
}

// Confirm marks the admin side of a pull as done.
func (c *Client) Confirm(ctx context.Context, remoteSyncID int64) error {
	path := "/sync/confirm/" + strconv.FormatInt(remoteSyncID, 10)
	return c.doJSON(ctx, "pull.confirm", http.MethodPost, path, nil, &MessageResponse{})
}

func (c *Client) StartPush(ctx context.Context, locationCode string) (int64, error) {
	var resp SyncEventResponse
	q := url.Values{"locationCode": {locationCode}}
	if err := c.doJSON(ctx, "push.start", http.MethodPost, "/sync/push/start", q, &resp); err != nil {
		return 0, err
	}
	if resp.SyncEventID == 0 {
		return 0, &TransportError{Op: "push.start", Err: errors.New("response without syncEventId")}
	}
	return resp.SyncEventID, nil
}

func (c *Client) CompletePush(ctx context.Context, remoteSyncID int64) error {
	path := fmt.Sprintf("/sync/push/%d/complete", remoteSyncID)
	return c.doJSON(ctx, "push.complete", http.MethodPost, path, nil, &MessageResponse{})
}

// Upload posts one file as multipart field "file". The file is streamed.
func (c *Client) Upload(ctx context.Context, remoteSyncID int64, kind transfer.Kind, path string) (UploadResponse, error) {
	op := "push." + string(kind)
	var resp UploadResponse

	file, err := os.Open(path)
	if err != nil {
		return resp, err
	}
	defer file.Close()

	body, contentType := streamMultipart(file, kind.FileName())
	defer body.Close()

	endpoint := fmt.Sprintf("/sync/push/%d/%s", remoteSyncID, kind)
	if err := c.do(ctx, op, http.MethodPost, endpoint, nil, body, contentType, &resp); err != nil {
		var te *TransportError
		if errors.As(err, &te) && te.accepted() {
			// The file was accepted; an unreadable body only loses the count.
			c.log.Warn("remote.upload.unreadable_response", zap.String("op", op), zap.Error(err))
			return UploadResponse{}, nil
		}
		return resp, err
	}
	return resp, nil
}

func streamMultipart(src io.Reader, fileName string) (io.ReadCloser, string) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile(UploadField, filepath.Base(fileName))
		if err == nil {
			_, err = io.Copy(part, src)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()
	return pr, mw.FormDataContentType()
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, query url.Values, out any) error {
	return c.do(ctx, op, method, path, query, nil, "", out)
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body io.Reader, contentType string, out any) (err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "remote."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, op)
		}
		span.End()
	}()

	base, err := c.address.ServerAddress(ctx)
	if err != nil {
		return err
	}
	endpoint := strings.TrimRight(base, "/") + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	ctx, cancel := context.WithTimeout(ctx, c.syncConfig.Get().HTTPTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set(HeaderSyncToken, c.token)
	}
	if cid := correlation.ExtractCorrelationID(ctx); cid != "" {
		req.Header.Set(correlation.HeaderName, cid)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("remote.request.failed", zap.String("op", op), zap.Error(err))
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	c.log.Debug("remote.request",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(started)),
	)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
