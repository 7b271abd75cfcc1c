package handlers

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Check probes one dependency. A nil error means healthy.
type Check func(ctx context.Context) error

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	app     string
	storage string
	checks  map[string]Check
	timeout time.Duration
}

// NewHealthHandler takes the named dependency checks run by Ready.
// With no checks the service is always ready.
func NewHealthHandler(app, storage string, checks map[string]Check) *HealthHandler {
	return &HealthHandler{app: app, storage: storage, checks: checks, timeout: 2 * time.Second}
}

// Live answers as long as the process serves HTTP.
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready runs every check concurrently and fails if any of them fails.
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]string, len(h.checks))
		failed  []string
	)
	for name, check := range h.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := check(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				results[name] = "unhealthy: " + err.Error()
				failed = append(failed, name)
				return
			}
			results[name] = "healthy"
		}()
	}
	wg.Wait()

	status, code := "ok", http.StatusOK
	if len(failed) > 0 {
		sort.Strings(failed)
		status, code = "error", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":  status,
		"app":     h.app,
		"storage": h.storage,
		"checks":  results,
		"failed":  failed,
	})
}
