package autotend

import (
	"sync"
	"testing"
)

func TestStateCompareAndSwap(t *testing.T) {
	s := NewState()
	if s.Current() != MachineStateIdle {
		t.Fatalf("expected Idle, got %s", s.Current())
	}

	var wg sync.WaitGroup
	var wins int32
	var mtx sync.Mutex
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.CompareAndSwap(MachineStateIdle, MachineStateTending) {
				mtx.Lock()
				wins++
				mtx.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected exactly one winner, got %d", wins)
	}
	if s.Current() != MachineStateTending {
		t.Errorf("expected Tending, got %s", s.Current())
	}

	s.Set(MachineStateIdle)
	if s.Current() != MachineStateIdle {
		t.Errorf("expected Idle, got %s", s.Current())
	}
}

func TestStrings(t *testing.T) {
	tests := []struct {
		name     string
		in       interface{ String() string }
		expected string
	}{
		{"Idle", MachineStateIdle, "Idle"},
		{"Tending", MachineStateTending, "Tending"},
		{"UnknownState", MachineState(9), "Unknown"},
		{"Input", ModeInput, "Input"},
		{"Output", ModeOutput, "Output"},
		{"High", High, "High"},
		{"Low", Low, "Low"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.String(); got != tt.expected {
				t.Errorf("expected=%q, got=%q", tt.expected, got)
			}
		})
	}
}
