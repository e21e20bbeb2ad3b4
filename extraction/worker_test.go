package extraction

import (
	"testing"

	"github.com/nimlabs/memoria/core"
)

func TestScheduleCoalescesDuplicateTriggers(t *testing.T) {
	p := NewPool(nil, nil, WithQueueSize(4))
	scope := core.Scope{UserID: "u", SessionID: "s", RoleID: "r"}

	p.Schedule(scope, nil)
	p.Schedule(scope, nil)
	p.Schedule(scope, nil)

	if len(p.jobs) != 1 {
		t.Errorf("expected exactly one queued job after coalescing, got %d", len(p.jobs))
	}

	p.mu.Lock()
	state := p.states[scope.Key()]
	p.mu.Unlock()
	if state != stateScheduled {
		t.Errorf("state = %v, want stateScheduled", state)
	}
}

func TestScheduleAllowsDistinctScopesIndependently(t *testing.T) {
	p := NewPool(nil, nil, WithQueueSize(4))
	a := core.Scope{UserID: "u1", SessionID: "s", RoleID: "r"}
	b := core.Scope{UserID: "u2", SessionID: "s", RoleID: "r"}

	p.Schedule(a, nil)
	p.Schedule(b, nil)

	if len(p.jobs) != 2 {
		t.Errorf("expected two queued jobs for distinct scopes, got %d", len(p.jobs))
	}
}

func TestScheduleQueueFullRevertsToIdle(t *testing.T) {
	p := NewPool(nil, nil, WithQueueSize(1))
	a := core.Scope{UserID: "u1", SessionID: "s", RoleID: "r"}
	b := core.Scope{UserID: "u2", SessionID: "s", RoleID: "r"}

	p.Schedule(a, nil) // fills the size-1 queue
	p.Schedule(b, nil) // queue full, should revert to idle rather than wedge

	p.mu.Lock()
	state := p.states[b.Key()]
	p.mu.Unlock()
	if state != stateIdle {
		t.Errorf("state for dropped scope = %v, want stateIdle", state)
	}
}
