// Package health reports whether the backends the API depends on are reachable.
package health

import (
	"context"
	"sort"
	"sync"
	"time"
)

const defaultCheckTimeout = 2 * time.Second

// Check verifies one dependency is reachable.
type Check func(ctx context.Context) error

// Detail snapshots non-blocking state of a dependency, such as pool usage.
type Detail func() map[string]any

// Service encapsulates health-related checks.
type Service struct {
	mu      sync.RWMutex
	checks  map[string]Check
	details map[string]Detail
	timeout time.Duration
}

// Report is the health payload.
type Report struct {
	OK      bool                      `json:"ok"`
	Checks  map[string]string         `json:"checks"`
	Details map[string]map[string]any `json:"details,omitempty"`
}

// NewService constructs a new health service.
func NewService() *Service {
	return &Service{
		checks:  make(map[string]Check),
		details: make(map[string]Detail),
		timeout: defaultCheckTimeout,
	}
}

// Describe attaches a detail snapshot to the report under name.
func (s *Service) Describe(name string, detail Detail) {
	if detail == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.details[name] = detail
}

// Register adds a named check. A nil check is ignored.
func (s *Service) Register(name string, check Check) {
	if check == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
}

// Names lists the registered checks in order.
func (s *Service) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Status runs every check concurrently, each bounded by the check timeout.
func (s *Service) Status(ctx context.Context) Report {
	s.mu.RLock()
	checks := make(map[string]Check, len(s.checks))
	for name, check := range s.checks {
		checks[name] = check
	}
	details := make(map[string]Detail, len(s.details))
	for name, detail := range s.details {
		details[name] = detail
	}
	s.mu.RUnlock()

	report := Report{OK: true, Checks: make(map[string]string, len(checks))}
	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, check := range checks {
		wg.Add(1)
		go func(name string, check Check) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()

			status := "ok"
			if err := check(cctx); err != nil {
				status = "error"
			}
			mu.Lock()
			defer mu.Unlock()
			report.Checks[name] = status
			if status != "ok" {
				report.OK = false
			}
		}(name, check)
	}
	wg.Wait()

	for name, detail := range details {
		if snapshot := detail(); len(snapshot) > 0 {
			if report.Details == nil {
				report.Details = make(map[string]map[string]any, len(details))
			}
			report.Details[name] = snapshot
		}
	}
	return report
}
