package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const testLimit = 100 << 20

func newTestMonitor(alloc *atomic.Uint64) *Monitor {
	m := NewMonitor(Config{
		MemoryLimitBytes:  testLimit,
		HighWaterMark:     0.7,
		CriticalWaterMark: 0.85,
		CheckInterval:     10 * time.Millisecond,
	})
	m.readAlloc = alloc.Load
	return m
}

func TestNewMonitor(t *testing.T) {
	m := NewMonitor(Config{MemoryLimitBytes: testLimit, HighWaterMark: 0.7, CriticalWaterMark: 0.85})
	if m.limit != testLimit {
		t.Errorf("limit = %d, want %d", m.limit, testLimit)
	}
	if m.config.CheckInterval != DefaultConfig().CheckInterval {
		t.Errorf("CheckInterval = %v, want default", m.config.CheckInterval)
	}
	if m.IsPaused() {
		t.Error("new monitor is paused")
	}
}

func TestMonitorThresholds(t *testing.T) {
	var alloc atomic.Uint64
	m := newTestMonitor(&alloc)

	tests := []struct {
		name       string
		ratio      float64
		wantPaused bool
	}{
		{"low", 0.5, false},
		{"between marks stays running", 0.8, false},
		{"critical", 0.9, true},
		{"between marks stays paused", 0.8, true},
		{"recovered", 0.6, false},
	}

	for _, tt := range tests {
		alloc.Store(uint64(tt.ratio * testLimit))
		m.checkMemory()
		if got := m.IsPaused(); got != tt.wantPaused {
			t.Errorf("%s: IsPaused() = %v, want %v", tt.name, got, tt.wantPaused)
		}
	}
}

func TestMonitorWaitNotPaused(t *testing.T) {
	var alloc atomic.Uint64
	m := newTestMonitor(&alloc)
	if err := m.Wait(context.Background()); err != nil {
		t.Errorf("Wait() error = %v", err)
	}
}

func TestMonitorWaitReleasedOnRecovery(t *testing.T) {
	var alloc atomic.Uint64
	m := newTestMonitor(&alloc)

	alloc.Store(testLimit)
	m.checkMemory()

	done := make(chan error, 1)
	go func() { done <- m.Wait(context.Background()) }()

	select {
	case err := <-done:
		t.Fatalf("Wait() returned %v while paused", err)
	case <-time.After(20 * time.Millisecond):
	}

	alloc.Store(testLimit / 10)
	m.checkMemory()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Wait() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait() not released after recovery")
	}
}

func TestMonitorWaitContext(t *testing.T) {
	var alloc atomic.Uint64
	m := newTestMonitor(&alloc)
	alloc.Store(testLimit)
	m.checkMemory()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := m.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want DeadlineExceeded", err)
	}
}

func TestMonitorWaitStopped(t *testing.T) {
	var alloc atomic.Uint64
	m := newTestMonitor(&alloc)
	alloc.Store(testLimit)
	m.checkMemory()

	m.Stop()
	m.Stop()

	if err := m.Wait(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Wait() error = %v, want ErrStopped", err)
	}
}

func TestMonitorLoop(t *testing.T) {
	var alloc atomic.Uint64
	alloc.Store(testLimit)
	m := newTestMonitor(&alloc)
	m.Start()
	defer m.Stop()

	deadline := time.Now().Add(time.Second)
	for !m.IsPaused() {
		if time.Now().After(deadline) {
			t.Fatal("monitor loop never sampled")
		}
		time.Sleep(5 * time.Millisecond)
	}

	current, limit, usage := m.GetStats()
	if current != testLimit || limit != testLimit || usage != 1 {
		t.Errorf("GetStats() = %d, %d, %f", current, limit, usage)
	}
}

func TestMonitorNoLimit(t *testing.T) {
	m := &Monitor{config: DefaultConfig(), readAlloc: func() uint64 { return 1 << 40 }, stop: make(chan struct{}), resume: make(chan struct{})}
	m.checkMemory()
	if m.IsPaused() {
		t.Error("monitor without limit paused")
	}
	if _, _, usage := m.GetStats(); usage != 0 {
		t.Errorf("usage = %f, want 0", usage)
	}
}

func TestMonitorConcurrency(t *testing.T) {
	var alloc atomic.Uint64
	m := newTestMonitor(&alloc)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				alloc.Store(uint64((i+j)%10) * testLimit / 10)
				m.checkMemory()
				ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
				_ = m.Wait(ctx)
				cancel()
				m.GetStats()
			}
		}(i)
	}
	wg.Wait()
}
