package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetHealth(critical ...string) {
	healthChecker = &HealthChecker{
		components: make(map[string]ComponentHealth),
		critical:   critical,
		startTime:  time.Now(),
	}
}

func TestRegisterComponent(t *testing.T) {
	resetHealth()

	RegisterComponent("endpoint/engine-in", true, "listening")

	require.Len(t, healthChecker.components, 1)
	comp := healthChecker.components["endpoint/engine-in"]
	assert.True(t, comp.Healthy)
	assert.Equal(t, "listening", comp.Message)
}

func TestGetHealth(t *testing.T) {
	tests := []struct {
		name       string
		components map[string]bool
		wantStatus string
	}{
		{"all healthy", map[string]bool{"engine": true, "api": true}, "healthy"},
		{"critical unhealthy", map[string]bool{"engine": false, "api": true}, "unhealthy"},
		{"endpoint unhealthy", map[string]bool{"engine": true, "endpoint/out": false}, "degraded"},
		{"nothing registered", map[string]bool{}, "healthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetHealth("engine", "api")
			SetVersion("1.0.0")
			for name, healthy := range tt.components {
				RegisterComponent(name, healthy, "")
			}

			health := GetHealth()
			assert.Equal(t, tt.wantStatus, health.Status)
			assert.Len(t, health.Components, len(tt.components))
			assert.Equal(t, "1.0.0", health.Version)
		})
	}
}

func TestGetReadiness(t *testing.T) {
	resetHealth("engine", "api")

	readiness := GetReadiness()
	assert.Equal(t, "not_ready", readiness.Status)
	assert.Equal(t, "not registered", readiness.Components["engine"])

	RegisterComponent("engine", false, "stopped")
	RegisterComponent("api", true, "")
	readiness = GetReadiness()
	assert.Equal(t, "not_ready", readiness.Status)
	assert.Equal(t, "waiting for engine", readiness.Message)

	UpdateComponent("engine", true, "")
	readiness = GetReadiness()
	assert.Equal(t, "ready", readiness.Status)
}

func TestSetCriticalComponents(t *testing.T) {
	resetHealth("engine")
	SetCriticalComponents("engine", "endpoint/storage-out")

	RegisterComponent("engine", true, "")
	assert.Equal(t, "not_ready", GetReadiness().Status)

	RegisterComponent("endpoint/storage-out", true, "")
	assert.Equal(t, "ready", GetReadiness().Status)
}

func TestRemoveComponent(t *testing.T) {
	resetHealth()
	RegisterComponent("endpoint/dump", false, "closed")
	RemoveComponent("endpoint/dump")

	assert.Equal(t, "healthy", GetHealth().Status)
}

func TestHealthHandlers(t *testing.T) {
	resetHealth("engine")
	RegisterComponent("engine", false, "stopped")

	w := httptest.NewRecorder()
	HealthHandler()(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	w = httptest.NewRecorder()
	ReadyHandler()(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	UpdateComponent("engine", true, "")

	w = httptest.NewRecorder()
	ReadyHandler()(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var body HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "ready", body.Status)
}

func TestLivenessHandler(t *testing.T) {
	resetHealth()

	w := httptest.NewRecorder()
	LivenessHandler()(w, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "alive", body["status"])
}
