package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Popie52/jobscheduler/internal/metrics"
	"github.com/Popie52/jobscheduler/internal/store"
)

type fakeStatus struct {
	running  int
	draining bool
}

func (f fakeStatus) Running() int   { return f.running }
func (f fakeStatus) Draining() bool { return f.draining }

type downStore struct {
	store.JobStore
}

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

func newFileStore(t *testing.T) *store.FileJobStore {
	t.Helper()
	st, err := store.NewFileJobStore("", 3)
	require.NoError(t, err)
	return st
}

func serve(t *testing.T, status StatusSource, st store.JobStore, m *metrics.Metrics, path string) *httptest.ResponseRecorder {
	t.Helper()
	e := newHTTPServer(status, st, m, zaptest.NewLogger(t))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		status fakeStatus
		want   string
	}{
		{"running", fakeStatus{running: 2}, "healthy"},
		{"draining", fakeStatus{running: 1, draining: true}, "shutting_down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, tt.status, newFileStore(t), metrics.New(), "/health")
			require.Equal(t, http.StatusOK, rec.Code)

			var body healthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.want, body.Status)
			assert.Equal(t, tt.status.running, body.Running)

			_, err := time.Parse(time.RFC3339, body.Timestamp)
			assert.NoError(t, err)
		})
	}
}

func TestReady(t *testing.T) {
	rec := serve(t, fakeStatus{}, newFileStore(t), metrics.New(), "/ready")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, fakeStatus{draining: true}, newFileStore(t), metrics.New(), "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = serve(t, fakeStatus{}, downStore{}, metrics.New(), "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.IncJobsClaimed()

	rec := serve(t, fakeStatus{}, newFileStore(t), m, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "scheduler_jobs_claimed_total 1")
}
