// Package health implements Kubernetes-style liveness and readiness probes.
//
// Each registered check runs on its own ticker. A check flips to unhealthy
// only after failAfter consecutive failures and back to healthy after
// recoverAfter consecutive successes, so a single slow probe does not flap
// the endpoint.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Check reports nil when the probed component is healthy.
type Check func(ctx context.Context) error

const (
	failAfter    = 3
	recoverAfter = 1
)

// probe couples a Check with its threshold state. The streak counters are
// touched only by the single watch goroutine; healthy and lastErr are shared
// with HTTP handlers and use atomics.
type probe struct {
	name    string
	timeout time.Duration
	fn      Check

	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	fails int
	oks   int
}

func (p *probe) observe(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.fn(ctx)
	p.lastErr.Store(&err)

	if err != nil {
		p.oks = 0
		p.fails++
		if p.fails >= failAfter {
			p.healthy.Store(false)
		}
		return
	}
	p.fails = 0
	p.oks++
	if p.oks >= recoverAfter {
		p.healthy.Store(true)
	}
}

func (p *probe) failure() (string, bool) {
	if p.healthy.Load() {
		return "", false
	}
	if e := p.lastErr.Load(); e != nil && *e != nil {
		return (*e).Error(), true
	}
	return "check is unhealthy", true
}

// Service tracks liveness and readiness probes for one process.
type Service struct {
	ready atomic.Bool

	mu    sync.RWMutex
	live  []*probe
	rdy   []*probe
	close context.CancelFunc
}

// New returns a Service in the not-ready state. Call MarkReady(true) once
// startup has finished.
func New() *Service {
	return &Service{}
}

// Live registers a liveness probe, e.g. goroutine count or GC pause limits.
func (s *Service) Live(name string, timeout time.Duration, fn Check) {
	s.register(&s.live, name, timeout, fn)
}

// Ready registers a readiness probe, e.g. database connectivity.
func (s *Service) Ready(name string, timeout time.Duration, fn Check) {
	s.register(&s.rdy, name, timeout, fn)
}

func (s *Service) register(dst *[]*probe, name string, timeout time.Duration, fn Check) {
	p := &probe{name: name, timeout: timeout, fn: fn}
	p.healthy.Store(true)

	s.mu.Lock()
	defer s.mu.Unlock()
	*dst = append(*dst, p)
}

// Watch starts one goroutine per registered probe, each firing every
// interval, until Shutdown is called or ctx is cancelled. Register all
// probes before calling Watch.
func (s *Service) Watch(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.close = cancel
	probes := make([]*probe, 0, len(s.live)+len(s.rdy))
	probes = append(probes, s.live...)
	probes = append(probes, s.rdy...)
	s.mu.Unlock()

	for _, p := range probes {
		go func(p *probe) {
			t := time.NewTicker(interval)
			defer t.Stop()

			p.observe(ctx)
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					p.observe(ctx)
				}
			}
		}(p)
	}
}

// Shutdown stops all probe goroutines. Safe to call more than once.
func (s *Service) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.close != nil {
		s.close()
		s.close = nil
	}
}

// MarkReady sets the manual readiness flag. Flip it to false at the start of
// graceful shutdown so load balancers drain traffic.
func (s *Service) MarkReady(ready bool) {
	s.ready.Store(ready)
}

// IsReady reports whether the service has been marked ready and every
// readiness probe is passing.
func (s *Service) IsReady() bool {
	if !s.ready.Load() {
		return false
	}

	s.mu.RLock()
	probes := s.rdy
	s.mu.RUnlock()

	for _, p := range probes {
		if _, failed := p.failure(); failed {
			return false
		}
	}
	return true
}

type probeStatus struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// HandleLive serves the /livez endpoint: 200 while every liveness probe
// passes, 503 with per-check details otherwise.
func (s *Service) HandleLive(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	probes := append([]*probe(nil), s.live...)
	s.mu.RUnlock()

	writeStatus(w, gatherFailures(probes))
}

// HandleReady serves the /readyz endpoint: 200 only when the service is
// marked ready and every readiness probe passes.
func (s *Service) HandleReady(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	probes := append([]*probe(nil), s.rdy...)
	s.mu.RUnlock()

	failures := gatherFailures(probes)
	if !s.ready.Load() {
		failures["_readiness"] = "service is not ready"
	}
	writeStatus(w, failures)
}

func gatherFailures(probes []*probe) map[string]string {
	failures := make(map[string]string)
	for _, p := range probes {
		if msg, failed := p.failure(); failed {
			failures[p.name] = msg
		}
	}
	return failures
}

func writeStatus(w http.ResponseWriter, failures map[string]string) {
	w.Header().Set("Content-Type", "application/json")

	resp := probeStatus{Status: "ok"}
	code := http.StatusOK
	if len(failures) > 0 {
		resp.Status = "unhealthy"
		resp.Checks = failures
		code = http.StatusServiceUnavailable
	}

	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
