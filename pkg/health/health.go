package health

import (
	"sort"
	"sync"
	"time"
)

// Status is the outcome of a check, or the aggregate of all checks.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckFunc is a function that performs a health check
type CheckFunc func() error

// Check represents a single health check result
type Check struct {
	Name        string        `json:"name"`
	Status      Status        `json:"status"`
	Message     string        `json:"message"`
	Latency     time.Duration `json:"latency"`
	LastChecked time.Time     `json:"lastChecked"`
}

// Checker keeps the latest result of every named check.
type Checker struct {
	mu          sync.RWMutex
	checks      map[string]*Check
	lastHealthy time.Time
}

// NewChecker creates a new health checker
func NewChecker() *Checker {
	return &Checker{
		checks:      make(map[string]*Check),
		lastHealthy: time.Now(),
	}
}

// RunCheck executes a health check and updates the status
func (c *Checker) RunCheck(name string, checkFunc CheckFunc) *Check {
	status := StatusHealthy
	message := "OK"

	start := time.Now()
	if err := checkFunc(); err != nil {
		status = StatusUnhealthy
		message = err.Error()
	}

	check := &Check{
		Name:        name,
		Status:      status,
		Message:     message,
		Latency:     time.Since(start),
		LastChecked: time.Now(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.checks[name] = check

	// Update last healthy time if all checks pass
	if c.isHealthy() {
		c.lastHealthy = time.Now()
	}
	copied := *check
	return &copied
}

// Remove forgets a check, for example when its connection is closed.
func (c *Checker) Remove(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.checks, name)
}

// GetOverallStatus returns the overall health status
func (c *Checker) GetOverallStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.checks) == 0 {
		return StatusHealthy
	}

	unhealthyCount := 0
	for _, check := range c.checks {
		if check.Status == StatusUnhealthy {
			unhealthyCount++
		}
	}

	if unhealthyCount == 0 {
		return StatusHealthy
	} else if unhealthyCount < len(c.checks) {
		return StatusDegraded
	}

	return StatusUnhealthy
}

// GetCheck returns the latest result of one check.
func (c *Checker) GetCheck(name string) (Check, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	check, ok := c.checks[name]
	if !ok {
		return Check{}, false
	}
	return *check, true
}

// GetAllChecks returns all health check results sorted by name.
func (c *Checker) GetAllChecks() []*Check {
	c.mu.RLock()
	defer c.mu.RUnlock()

	checks := make([]*Check, 0, len(c.checks))
	for _, check := range c.checks {
		checkCopy := *check
		checks = append(checks, &checkCopy)
	}
	sort.Slice(checks, func(i, j int) bool { return checks[i].Name < checks[j].Name })

	return checks
}

// GetLastHealthyTime returns the last time all checks were healthy
func (c *Checker) GetLastHealthyTime() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastHealthy
}

func (c *Checker) isHealthy() bool {
	for _, check := range c.checks {
		if check.Status != StatusHealthy {
			return false
		}
	}
	return true
}
