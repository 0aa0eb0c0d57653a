package metrics

import (
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"
)

// Overall process states reported by GetHealth and GetReadiness
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
	StatusReady     = "ready"
	StatusNotReady  = "not_ready"
)

// HealthStatus is the JSON body of /health and /ready
type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
	StartTime  time.Time         `json:"-"`
}

var healthChecker = &HealthChecker{
	components: make(map[string]ComponentHealth),
	critical:   []string{"engine", "api"},
	startTime:  time.Now(),
}

// ComponentHealth is the last reported state of one component. Endpoints
// register as "endpoint/<name>".
type ComponentHealth struct {
	Name    string
	Healthy bool
	Message string
	Updated time.Time
}

// HealthChecker is the process-wide component registry
type HealthChecker struct {
	mu         sync.RWMutex
	components map[string]ComponentHealth
	critical   []string
	startTime  time.Time
	version    string
}

// SetVersion sets the version string for health responses
func SetVersion(version string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()
	healthChecker.version = version
}

// RegisterComponent records the state of a component, replacing any
// previous report
func RegisterComponent(name string, healthy bool, message string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()

	healthChecker.components[name] = ComponentHealth{
		Name:    name,
		Healthy: healthy,
		Message: message,
		Updated: time.Now(),
	}
}

// UpdateComponent is RegisterComponent under the name callers use after the
// first report
func UpdateComponent(name string, healthy bool, message string) {
	RegisterComponent(name, healthy, message)
}

// SetCriticalComponents replaces the components readiness waits for
func SetCriticalComponents(names ...string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()
	healthChecker.critical = slices.Clone(names)
}

// RemoveComponent forgets a component, e.g. an endpoint that was shut down
func RemoveComponent(name string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()
	delete(healthChecker.components, name)
}

// GetHealth summarizes every registered component. A failed critical
// component makes the process unhealthy, any other failure only degrades it.
func GetHealth() HealthStatus {
	h := healthChecker
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := StatusHealthy
	components := make(map[string]string, len(h.components))
	for name, comp := range h.components {
		if comp.Healthy {
			components[name] = StatusHealthy
			continue
		}
		components[name] = StatusUnhealthy + ": " + comp.Message
		switch {
		case slices.Contains(h.critical, name):
			status = StatusUnhealthy
		case status == StatusHealthy:
			status = StatusDegraded
		}
	}

	return h.status(status, "", components)
}

// GetReadiness reports ready once every critical component is registered
// and healthy
func GetReadiness() HealthStatus {
	h := healthChecker
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := StatusReady
	message := ""
	components := make(map[string]string, len(h.critical))
	for _, name := range h.critical {
		comp, ok := h.components[name]
		switch {
		case !ok:
			status = StatusNotReady
			message = "waiting for " + name + " initialization"
			components[name] = "not registered"
		case !comp.Healthy:
			status = StatusNotReady
			message = "waiting for " + name
			components[name] = "not ready: " + comp.Message
		default:
			components[name] = StatusReady
		}
	}

	return h.status(status, message, components)
}

// status must be called with mu held
func (h *HealthChecker) status(status, message string, components map[string]string) HealthStatus {
	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Message:    message,
		Version:    h.version,
		Uptime:     time.Since(h.startTime).String(),
		StartTime:  h.startTime,
	}
}

// HealthHandler serves GetHealth; only an unhealthy process answers 503
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := GetHealth()
		respond(w, health.Status != StatusUnhealthy, health)
	}
}

// ReadyHandler serves GetReadiness
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		readiness := GetReadiness()
		respond(w, readiness.Status == StatusReady, readiness)
	}
}

// LivenessHandler answers 200 for as long as the process can serve HTTP
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respond(w, true, map[string]string{
			"status": "alive",
			"uptime": time.Since(healthChecker.startTime).String(),
		})
	}
}

func respond(w http.ResponseWriter, ok bool, body any) {
	code := http.StatusOK
	if !ok {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
