package agent

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type stubTransport struct {
	mu sync.Mutex

	activate   func(req ActivateRequest) (*ActivateResult, error)
	heartbeat  func(deviceID string) (*CheckResult, error)
	validate   func(deviceID string) (*CheckResult, error)
	deactivate func(deviceID string) (bool, error)

	calls  map[string]int
	tokens []string
}

func (s *stubTransport) record(method, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[method]++
	s.tokens = append(s.tokens, token)
}

func (s *stubTransport) count(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *stubTransport) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

func (s *stubTransport) Activate(_ context.Context, token string, req ActivateRequest) (*ActivateResult, error) {
	s.record("activate", token)
	if s.activate == nil {
		return &ActivateResult{Activated: true, ActivationID: "act-1", LicenseID: "lic-1", PlanCode: "pro"}, nil
	}
	return s.activate(req)
}

func (s *stubTransport) Heartbeat(_ context.Context, token, deviceID, _ string) (*CheckResult, error) {
	s.record("heartbeat", token)
	if s.heartbeat == nil {
		return &CheckResult{Valid: true}, nil
	}
	return s.heartbeat(deviceID)
}

func (s *stubTransport) Validate(_ context.Context, token, deviceID string) (*CheckResult, error) {
	s.record("validate", token)
	if s.validate == nil {
		return &CheckResult{Valid: true}, nil
	}
	return s.validate(deviceID)
}

func (s *stubTransport) Deactivate(_ context.Context, token, deviceID string) (bool, error) {
	s.record("deactivate", token)
	if s.deactivate == nil {
		return true, nil
	}
	return s.deactivate(deviceID)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func staticFingerprinter(hostID string) *Fingerprinter {
	return &Fingerprinter{
		HostID: func(context.Context) (string, error) { return hostID, nil },
	}
}

func newTestAgent(t *testing.T, tr Transport, clock *testClock) *Agent {
	t.Helper()
	a, err := New(Options{
		Transport:     tr,
		Fingerprinter: staticFingerprinter("test-host-id"),
		CachePath:     filepath.Join(t.TempDir(), CacheFileName),
		Policy:        DefaultPolicy(),
		AppVersion:    "1.0.0",
		Now:           clock.Now,
		Logger:        zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	return a
}

// seedRecord writes rec into the agent's cache.
func seedRecord(t *testing.T, a *Agent, rec *Record) {
	t.Helper()
	_, cache, err := a.device(context.Background())
	if err != nil {
		t.Fatalf("device: %v", err)
	}
	if rec.Token == "" {
		rec.Token = "wab_test"
	}
	if err := cache.Save(rec); err != nil {
		t.Fatalf("save record: %v", err)
	}
}

func loadRecord(t *testing.T, a *Agent) *Record {
	t.Helper()
	_, cache, err := a.device(context.Background())
	if err != nil {
		t.Fatalf("device: %v", err)
	}
	rec, err := cache.Load()
	if err != nil {
		t.Fatalf("load record: %v", err)
	}
	return rec
}

func timePtr(t time.Time) *time.Time {
	return &t
}
