package metrics

import (
	"sync"
	"testing"
)

func TestAutomationStatsIncAndSnapshot(t *testing.T) {
	var stats automationStats
	stats.inc("completed")
	stats.inc("completed")
	stats.inc("failed")
	stats.inc("")

	total, by := stats.snapshot()
	if total != 4 {
		t.Fatalf("total = %d, want 4", total)
	}
	if by["completed"] != 2 || by["failed"] != 1 || by["unknown"] != 1 {
		t.Fatalf("by = %v", by)
	}

	// 快照是副本，修改不影响内部状态
	by["completed"] = 99
	_, fresh := stats.snapshot()
	if fresh["completed"] != 2 {
		t.Fatal("snapshot must not alias internal state")
	}
}

func TestAutomationStatsConcurrent(t *testing.T) {
	var stats automationStats
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stats.inc("run")
		}()
	}
	wg.Wait()

	total, by := stats.snapshot()
	if total != 50 || by["run"] != 50 {
		t.Fatalf("total = %d, by = %v, want 50", total, by)
	}
}

func TestPackageCounters(t *testing.T) {
	beforeTotal, _ := WorkflowSnapshot()
	IncWorkflowExecution("completed")
	afterTotal, by := WorkflowSnapshot()
	if afterTotal != beforeTotal+1 {
		t.Fatalf("workflow total = %d, want %d", afterTotal, beforeTotal+1)
	}
	if by["completed"] == 0 {
		t.Fatal("completed counter must advance")
	}

	IncAssignment("least_busy")
	_, byPolicy := AssignmentSnapshot()
	if byPolicy["least_busy"] == 0 {
		t.Fatal("assignment counter must advance")
	}

	IncSLAEvent("breach")
	_, byKind := SLASnapshot()
	if byKind["breach"] == 0 {
		t.Fatal("sla counter must advance")
	}
}
