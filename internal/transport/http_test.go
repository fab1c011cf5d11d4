package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	method      string
	path        string
	body        string
	contentType string
	auth        string
}

type recorder struct {
	mu    sync.Mutex
	calls []captured
}

func (r *recorder) snapshot() []captured {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]captured(nil), r.calls...)
}

func newTestServer(t *testing.T, status int) (*httptest.Server, *recorder) {
	t.Helper()
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.calls = append(rec.calls, captured{
			method:      r.Method,
			path:        r.URL.EscapedPath(),
			body:        string(body),
			contentType: r.Header.Get("Content-Type"),
			auth:        r.Header.Get("Authorization"),
		})
		w.WriteHeader(status)
		_, _ = w.Write([]byte("server says no\n"))
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func TestHTTPSend(t *testing.T) {
	srv, calls := newTestServer(t, http.StatusOK)
	h, err := NewHTTP(srv.URL, WithHeader("Authorization", "Bearer t0ken"))
	require.NoError(t, err)
	ctx := context.Background()

	tests := []struct {
		name string
		req  Request
		want captured
	}{
		{
			name: "create posts to the endpoint",
			req:  Request{Method: http.MethodPost, Path: "/api/boletos", RecordID: "1", Body: []byte(`{"id":1}`)},
			want: captured{method: "POST", path: "/api/boletos", body: `{"id":1}`, contentType: "application/json", auth: "Bearer t0ken"},
		},
		{
			name: "update puts to the record",
			req:  Request{Method: http.MethodPut, Path: "/api/boletos", RecordID: "1", Body: []byte(`{"id":1,"status":"pago"}`)},
			want: captured{method: "PUT", path: "/api/boletos/1", body: `{"id":1,"status":"pago"}`, contentType: "application/json", auth: "Bearer t0ken"},
		},
		{
			name: "delete targets the record",
			req:  Request{Method: http.MethodDelete, Path: "/api/reservas/", RecordID: "a b"},
			want: captured{method: "DELETE", path: "/api/reservas/a%20b", auth: "Bearer t0ken"},
		},
		{
			name: "update without id stays on the endpoint",
			req:  Request{Method: http.MethodPut, Path: "/api/sync", Body: []byte(`{}`)},
			want: captured{method: "PUT", path: "/api/sync", body: `{}`, contentType: "application/json", auth: "Bearer t0ken"},
		},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, h.Send(ctx, tt.req))
			got := calls.snapshot()
			require.Len(t, got, i+1)
			assert.Equal(t, tt.want, got[i])
		})
	}
}

func TestHTTPSend_StatusError(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusServiceUnavailable)
	h, err := NewHTTP(srv.URL)
	require.NoError(t, err)

	err = h.Send(context.Background(), Request{Method: http.MethodPost, Path: "/api/chamados", Body: []byte(`{}`)})
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.Equal(t, "server says no", se.Body)
	assert.Contains(t, err.Error(), "503")
}

func TestHTTPSend_Errors(t *testing.T) {
	srv, calls := newTestServer(t, http.StatusOK)
	h, err := NewHTTP(srv.URL)
	require.NoError(t, err)

	assert.Error(t, h.Send(context.Background(), Request{Method: http.MethodGet, Path: "/api/boletos"}))
	assert.Empty(t, calls.snapshot(), "invalid method is not sent")

	srv.Close()
	assert.Error(t, h.Send(context.Background(), Request{Method: http.MethodPost, Path: "/api/boletos"}))
}

func TestHTTPPing(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusNotFound)
	h, err := NewHTTP(srv.URL + "/base")
	require.NoError(t, err)

	assert.NoError(t, h.Ping(context.Background()), "any answer means reachable")

	srv.Close()
	assert.Error(t, h.Ping(context.Background()))
}

func TestNewHTTP_InvalidURL(t *testing.T) {
	for _, u := range []string{"ftp://example.com", "://nope", "example.com"} {
		_, err := NewHTTP(u)
		assert.Error(t, err, u)
	}
}
