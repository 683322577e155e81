// Package platform runs the long-lived helper services of a training
// session, such as the observer HTTP server, and restarts them when they
// fail.
package platform

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Restart says when a service that returned is started again.
type Restart string

const (
	// RestartAlways restarts the service whenever it returns.
	RestartAlways Restart = "always"
	// RestartOnFailure restarts the service only when it returns an error.
	RestartOnFailure Restart = "on_failure"
	// RestartNever runs the service once.
	RestartNever Restart = "never"
)

type Policy struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	// MaxRestarts is the restart budget per service; 0 means unlimited.
	MaxRestarts int
}

func DefaultPolicy() Policy {
	return Policy{
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		BackoffFactor:  2,
		MaxRestarts:    5,
	}
}

func (p Policy) normalized() Policy {
	def := DefaultPolicy()
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = def.InitialBackoff
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	if p.BackoffFactor < 1 {
		p.BackoffFactor = def.BackoffFactor
	}
	if p.MaxRestarts < 0 {
		p.MaxRestarts = 0
	}
	return p
}

// ServiceStatus reports a running or failed service.
type ServiceStatus struct {
	Name      string  `json:"name"`
	Restart   Restart `json:"restart"`
	Restarts  int     `json:"restarts"`
	LastError string  `json:"last_error,omitempty"`
	GaveUp    bool    `json:"gave_up"`
}

// Hooks observe restarts. They run on the service goroutine.
type Hooks struct {
	OnRestart func(name string, err error, restarts int)
	OnGiveUp  func(name string, err error, restarts int)
}

type Supervisor struct {
	policy Policy
	hooks  Hooks

	mu       sync.Mutex
	services map[string]*service
	failed   map[string]ServiceStatus
}

type service struct {
	name    string
	restart Restart
	cancel  context.CancelFunc
	done    chan struct{}

	restarts int
	lastErr  error
	gaveUp   bool
}

func NewSupervisor(policy Policy, hooks Hooks) *Supervisor {
	return &Supervisor{
		policy:   policy.normalized(),
		hooks:    hooks,
		services: make(map[string]*service),
		failed:   make(map[string]ServiceStatus),
	}
}

// Start runs fn on its own goroutine until Stop, StopAll or, for the
// restart policies that allow it, until fn returns.
func (s *Supervisor) Start(name string, restart Restart, fn func(ctx context.Context) error) error {
	if name == "" {
		return errors.New("service name is required")
	}
	if fn == nil {
		return errors.New("service func is required")
	}
	switch restart {
	case RestartAlways, RestartOnFailure, RestartNever:
	case "":
		restart = RestartOnFailure
	default:
		return fmt.Errorf("unknown restart policy %q", restart)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.services[name]; ok {
		return fmt.Errorf("service already running: %s", name)
	}
	delete(s.failed, name)
	ctx, cancel := context.WithCancel(context.Background())
	svc := &service{name: name, restart: restart, cancel: cancel, done: make(chan struct{})}
	s.services[name] = svc
	go s.loop(ctx, svc, fn)
	return nil
}

func (s *Supervisor) loop(ctx context.Context, svc *service, fn func(ctx context.Context) error) {
	defer func() {
		s.mu.Lock()
		if svc.gaveUp || svc.lastErr != nil {
			s.failed[svc.name] = svc.status()
		}
		delete(s.services, svc.name)
		s.mu.Unlock()
		close(svc.done)
	}()

	backoff := s.policy.InitialBackoff
	for {
		err := fn(ctx)
		if ctx.Err() != nil {
			return
		}
		s.mu.Lock()
		if err != nil {
			svc.lastErr = err
		}
		restarts := svc.restarts
		s.mu.Unlock()

		if !svc.restart.allows(err) {
			return
		}
		if s.policy.MaxRestarts > 0 && restarts >= s.policy.MaxRestarts {
			s.mu.Lock()
			svc.gaveUp = true
			s.mu.Unlock()
			if s.hooks.OnGiveUp != nil {
				s.hooks.OnGiveUp(svc.name, err, restarts)
			}
			return
		}

		s.mu.Lock()
		svc.restarts++
		restarts = svc.restarts
		s.mu.Unlock()
		if s.hooks.OnRestart != nil {
			s.hooks.OnRestart(svc.name, err, restarts)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		backoff = time.Duration(float64(backoff) * s.policy.BackoffFactor)
		if backoff > s.policy.MaxBackoff {
			backoff = s.policy.MaxBackoff
		}
	}
}

func (r Restart) allows(err error) bool {
	switch r {
	case RestartAlways:
		return true
	case RestartOnFailure:
		return err != nil
	default:
		return false
	}
}

func (svc *service) status() ServiceStatus {
	st := ServiceStatus{Name: svc.name, Restart: svc.restart, Restarts: svc.restarts, GaveUp: svc.gaveUp}
	if svc.lastErr != nil {
		st.LastError = svc.lastErr.Error()
	}
	return st
}

// Stop cancels one service and waits for it to return.
func (s *Supervisor) Stop(name string) {
	s.mu.Lock()
	svc, ok := s.services[name]
	delete(s.failed, name)
	s.mu.Unlock()
	if !ok {
		return
	}
	svc.cancel()
	<-svc.done
}

func (s *Supervisor) StopAll() {
	s.mu.Lock()
	running := make([]*service, 0, len(s.services))
	for _, svc := range s.services {
		running = append(running, svc)
	}
	s.mu.Unlock()

	for _, svc := range running {
		svc.cancel()
	}
	for _, svc := range running {
		<-svc.done
	}
}

// Services lists running services and those that ended with an error,
// sorted by name.
func (s *Supervisor) Services() []ServiceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ServiceStatus, 0, len(s.services)+len(s.failed))
	for _, svc := range s.services {
		out = append(out, svc.status())
	}
	for name, st := range s.failed {
		if _, running := s.services[name]; !running {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Supervisor) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.services))
	for name := range s.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
