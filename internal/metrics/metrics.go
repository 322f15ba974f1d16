package metrics

import (
	"sync"
	"sync/atomic"
)

// automationStats holds counters for engine outcomes.
// Kept simple/thread-safe for use from services and exposition.
type automationStats struct {
	total     uint64
	mu        sync.Mutex
	byOutcome map[string]uint64
}

func (s *automationStats) inc(key string) {
	if key == "" {
		key = "unknown"
	}
	atomic.AddUint64(&s.total, 1)
	s.mu.Lock()
	if s.byOutcome == nil {
		s.byOutcome = make(map[string]uint64)
	}
	s.byOutcome[key]++
	s.mu.Unlock()
}

func (s *automationStats) snapshot() (total uint64, by map[string]uint64) {
	total = atomic.LoadUint64(&s.total)
	s.mu.Lock()
	defer s.mu.Unlock()
	by = make(map[string]uint64, len(s.byOutcome))
	for k, v := range s.byOutcome {
		by[k] = v
	}
	return total, by
}

var (
	workflowRuns executionStats
	assignments  executionStats
	slaEvents    executionStats
)

type executionStats = automationStats

// IncWorkflowExecution counts one workflow run by outcome
// (completed, skipped, failed).
func IncWorkflowExecution(outcome string) {
	workflowRuns.inc(outcome)
}

// WorkflowSnapshot returns a copy of the workflow run counters.
func WorkflowSnapshot() (total uint64, by map[string]uint64) {
	return workflowRuns.snapshot()
}

// IncAssignment counts one resolved assignment by policy
// (round_robin, least_busy, location_based, specific_user, fallback, none).
func IncAssignment(policy string) {
	assignments.inc(policy)
}

// AssignmentSnapshot returns a copy of the assignment counters.
func AssignmentSnapshot() (total uint64, by map[string]uint64) {
	return assignments.snapshot()
}

// IncSLAEvent counts one SLA lifecycle event
// (created, warning, breach, escalation).
func IncSLAEvent(kind string) {
	slaEvents.inc(kind)
}

// SLASnapshot returns a copy of the SLA event counters.
func SLASnapshot() (total uint64, by map[string]uint64) {
	return slaEvents.snapshot()
}
