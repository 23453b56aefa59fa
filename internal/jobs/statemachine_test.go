package jobs

import (
	"testing"

	"orchestd/pkg/types"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to types.JobStatus
		want     bool
	}{
		{types.JobPending, types.JobRunning, true},
		{types.JobPending, types.JobCompleted, true},
		{types.JobPending, types.JobFailed, true},
		{types.JobRunning, types.JobCompleted, true},
		{types.JobRunning, types.JobFailed, true},
		{types.JobRunning, types.JobPending, false},
		{types.JobCompleted, types.JobRunning, false},
		{types.JobCompleted, types.JobFailed, false},
		{types.JobFailed, types.JobRunning, false},
		{types.JobFailed, types.JobCompleted, false},
		// Self-transitions are idempotent poll updates.
		{types.JobPending, types.JobPending, true},
		{types.JobCompleted, types.JobCompleted, true},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestApplyStatus(t *testing.T) {
	j := types.TrainingJob{ID: "job-1", Status: types.JobRunning}
	if !applyStatus(&j, types.JobCompleted) {
		t.Fatal("legal transition rejected")
	}
	if j.Status != types.JobCompleted {
		t.Fatalf("status not applied: %s", j.Status)
	}
	// Terminal states absorb.
	if applyStatus(&j, types.JobRunning) {
		t.Fatal("transition out of terminal state applied")
	}
	if j.Status != types.JobCompleted {
		t.Fatalf("terminal status mutated: %s", j.Status)
	}
	if applyStatus(&j, types.JobCompleted) {
		t.Fatal("self-transition should report no change")
	}
}
