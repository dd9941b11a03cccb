package remote

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallbiznis/possync/internal/config"
	"github.com/smallbiznis/possync/internal/transfer"
	"github.com/smallbiznis/possync/pkg/telemetry/correlation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticAddress string

func (a staticAddress) ServerAddress(context.Context) (string, error) {
	return string(a), nil
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := config.DefaultSyncConfig()
	cfg.HTTPTimeout = 2 * time.Second
	return NewClient(staticAddress(srv.URL+"/"), "secret", config.NewStaticSyncConfigHolder(cfg), nil)
}

func TestStartPullSendsHeaders(t *testing.T) {
	var gotToken, gotCorrelation, gotLocation string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sync/pull/start", r.URL.Path)
		gotToken = r.Header.Get(HeaderSyncToken)
		gotCorrelation = r.Header.Get(correlation.HeaderName)
		gotLocation = r.URL.Query().Get("locationCode")
		_, _ = io.WriteString(w, `{"syncEventId": 321}`)
	}))

	ctx := correlation.ContextWithCorrelationID(context.Background(), "cid-1")
	id, err := client.StartPull(ctx, "001")
	require.NoError(t, err)
	assert.Equal(t, int64(321), id)
	assert.Equal(t, "secret", gotToken)
	assert.Equal(t, "cid-1", gotCorrelation)
	assert.Equal(t, "001", gotLocation)
}

func TestRequestTimeoutFollowsReloadedConfig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	cfg := config.DefaultSyncConfig()
	holder := config.NewStaticSyncConfigHolder(cfg)
	client := NewClient(staticAddress(srv.URL), "", holder, nil)

	cfg.HTTPTimeout = 50 * time.Millisecond
	holder.Set(cfg)

	started := time.Now()
	err := client.Confirm(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(started), 2*time.Second)
}

func TestNon2xxIsTransportError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))

	err := client.Confirm(context.Background(), 9)
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusServiceUnavailable, te.StatusCode)
	assert.True(t, te.Transport())
	assert.Contains(t, err.Error(), "maintenance")
}

func TestUploadStreamsMultipartFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payments.csv")
	require.NoError(t, os.WriteFile(path, []byte("id,amount\n1,2\n"), 0o600))

	var received string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sync/push/77/payments", r.URL.Path)
		file, header, err := r.FormFile(UploadField)
		if !assert.NoError(t, err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		assert.Equal(t, "payments.csv", header.Filename)
		data, _ := io.ReadAll(file)
		received = string(data)
		_, _ = io.WriteString(w, `{"count": 1, "errors": ["line 3: amount: missing value"]}`)
	}))

	resp, err := client.Upload(context.Background(), 77, transfer.KindPayments, path)
	require.NoError(t, err)
	require.NotNil(t, resp.Count)
	assert.Equal(t, 1, *resp.Count)
	assert.Len(t, resp.Errors, 1)
	assert.Equal(t, "id,amount\n1,2\n", received)
}

func TestUploadToleratesMissingOrBrokenCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sales.csv")
	require.NoError(t, os.WriteFile(path, []byte("id\n"), 0o600))

	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			_, _ = io.WriteString(w, `{}`)
			return
		}
		_, _ = io.WriteString(w, `not json`)
	}))

	resp, err := client.Upload(context.Background(), 1, transfer.KindSales, path)
	require.NoError(t, err)
	assert.Nil(t, resp.Count)

	resp, err = client.Upload(context.Background(), 1, transfer.KindSales, path)
	require.NoError(t, err)
	assert.Nil(t, resp.Count)
}

func TestUnreachableAdminIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	client := NewClient(staticAddress(addr), "", config.NewStaticSyncConfigHolder(config.DefaultSyncConfig()), nil)
	_, err := client.FetchClients(context.Background())
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Zero(t, te.StatusCode)
}
