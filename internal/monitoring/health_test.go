package monitoring

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBreakers struct{ open []string }

func (f fakeBreakers) GetOpenCircuits() []string { return f.open }

func TestHealthChecker_Healthy(t *testing.T) {
	h := NewHealthChecker(fakeBreakers{}, time.Minute)
	h.Heartbeat("orders", nil)
	h.Heartbeat("dca", errors.New("quote failed"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "healthy", status.Status)
	require.Len(t, status.Components, 2)
	assert.Equal(t, "dca", status.Components[0].Name)
	assert.Equal(t, "quote failed", status.Components[0].LastError)
}

func TestHealthChecker_OpenBreakerIsUnhealthy(t *testing.T) {
	h := NewHealthChecker(fakeBreakers{open: []string{"swap-venue"}}, time.Minute)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "swap-venue")
}

func TestHealthChecker_StaleComponentDegrades(t *testing.T) {
	h := NewHealthChecker(nil, time.Minute)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return base }
	h.Heartbeat("scheduler", nil)

	h.now = func() time.Time { return base.Add(2 * time.Minute) }
	assert.Equal(t, "degraded", h.Status().Status)
}
