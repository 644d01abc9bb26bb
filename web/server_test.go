package web

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/infigaming-com/substreams-sink-pubsub/cursor"
	"github.com/infigaming-com/substreams-sink-pubsub/web/middleware"
)

type fakeReporter struct {
	ready     bool
	cursor    *cursor.Cursor
	processed uint64
}

func (f *fakeReporter) Ready() bool            { return f.ready }
func (f *fakeReporter) Cursor() *cursor.Cursor { return f.cursor }
func (f *fakeReporter) Processed() uint64      { return f.processed }

func TestEndpoints(t *testing.T) {
	reporter := &fakeReporter{}
	s := New(zap.NewNop(), reporter, WithMode("test"))

	tests := []struct {
		name     string
		path     string
		setup    func()
		wantCode int
		wantBody string
	}{
		{name: "root", path: "/", wantCode: http.StatusOK},
		{name: "healthcheck", path: "/healthcheck", wantCode: http.StatusOK},
		{name: "not ready", path: "/readyz", wantCode: http.StatusServiceUnavailable, wantBody: `{"ready":false}`},
		{
			name:     "ready",
			path:     "/readyz",
			setup:    func() { reporter.ready, reporter.processed = true, 3 },
			wantCode: http.StatusOK,
			wantBody: `{"ready":true,"processed":3}`,
		},
		{name: "no cursor", path: "/cursor", wantCode: http.StatusNotFound, wantBody: `{"error":"cursor: not found"}`},
		{
			name:     "cursor",
			path:     "/cursor",
			setup:    func() { reporter.cursor = &cursor.Cursor{Cursor: "c", BlockNumber: 9, BlockID: "0x9"} },
			wantCode: http.StatusOK,
			wantBody: `{"cursor":"c","block_number":9,"block_id":"0x9"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup()
			}
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, rec.Body.String())
			}
			assert.NotEmpty(t, rec.Header().Get(middleware.CorrelationIdKey))
		})
	}
}

func TestCorrelationIDIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	s := New(zap.New(core), &fakeReporter{}, WithMode("test"))

	req := httptest.NewRequest(http.MethodGet, "/cursor", nil)
	req.Header.Set(middleware.CorrelationIdKey, "cid-1")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "cid-1", rec.Header().Get(middleware.CorrelationIdKey))
	entries := logs.FilterMessage(middleware.RequestLogMessage).AllUntimed()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, "cid-1", fields["correlation_id"])
	assert.Equal(t, "/cursor", fields["route"])
	assert.Equal(t, int64(http.StatusNotFound), fields["status"])
}

func TestStartShutdown(t *testing.T) {
	s := New(zap.NewNop(), &fakeReporter{ready: true}, WithMode("test"), WithPort(0))
	addr, err := s.Start()
	require.NoError(t, err)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/readyz", addr.(*net.TCPAddr).Port))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Shutdown(context.Background()))
	assert.NoError(t, New(zap.NewNop(), nil).Shutdown(context.Background()))
}
