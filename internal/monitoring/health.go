package monitoring

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

var startTime = time.Now()

// BreakerReporter exposes the names of open circuit breakers
type BreakerReporter interface {
	GetOpenCircuits() []string
}

// ComponentHealth is the last heartbeat reported by a background loop
type ComponentHealth struct {
	Name      string    `json:"name"`
	LastRun   time.Time `json:"last_run"`
	LastError string    `json:"last_error,omitempty"`
}

type HealthChecker struct {
	mu         sync.RWMutex
	components map[string]*ComponentHealth
	breakers   BreakerReporter
	staleAfter time.Duration
	now        func() time.Time
}

type HealthStatus struct {
	Status       string            `json:"status"`
	Timestamp    time.Time         `json:"timestamp"`
	Uptime       string            `json:"uptime"`
	Components   []ComponentHealth `json:"components"`
	OpenBreakers []string          `json:"open_breakers,omitempty"`
	Errors       []string          `json:"errors,omitempty"`
}

// NewHealthChecker creates a checker; loops silent for longer than staleAfter degrade health
func NewHealthChecker(breakers BreakerReporter, staleAfter time.Duration) *HealthChecker {
	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}
	return &HealthChecker{
		components: make(map[string]*ComponentHealth),
		breakers:   breakers,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Heartbeat records a completed loop iteration; err is the iteration's failure, if any
func (h *HealthChecker) Heartbeat(component string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.components[component]
	if !ok {
		c = &ComponentHealth{Name: component}
		h.components[component] = c
	}
	c.LastRun = h.now()
	c.LastError = ""
	if err != nil {
		c.LastError = err.Error()
	}
}

// Status computes the current health summary
func (h *HealthChecker) Status() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	now := h.now()
	status := HealthStatus{
		Status:    "healthy",
		Timestamp: now,
		Uptime:    now.Sub(startTime).Round(time.Second).String(),
	}

	for _, c := range h.components {
		status.Components = append(status.Components, *c)
		if now.Sub(c.LastRun) > h.staleAfter {
			status.Status = "degraded"
			status.Errors = append(status.Errors, c.Name+" has not reported since "+c.LastRun.Format(time.RFC3339))
		}
	}
	sort.Slice(status.Components, func(i, j int) bool {
		return status.Components[i].Name < status.Components[j].Name
	})

	if h.breakers != nil {
		status.OpenBreakers = h.breakers.GetOpenCircuits()
		if len(status.OpenBreakers) > 0 {
			status.Status = "unhealthy"
		}
	}

	return status
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	health := h.Status()

	w.Header().Set("Content-Type", "application/json")
	switch health.Status {
	case "degraded":
		w.WriteHeader(http.StatusServiceUnavailable)
	case "unhealthy":
		w.WriteHeader(http.StatusInternalServerError)
	}
	json.NewEncoder(w).Encode(health)
}
