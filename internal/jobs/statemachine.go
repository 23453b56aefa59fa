package jobs

import "orchestd/pkg/types"

// Job status lifecycle:
//
//	pending --(server: training starts)--> running
//	running --(server: success)----------> completed
//	running --(server: failure)----------> failed
//	{pending,running} --(user cancel)----> failed
//
// completed and failed absorb; no transition leaves them.

// CanTransition reports whether from -> to is a legal status move.
// Self-transitions are allowed so repeated poll updates are idempotent.
func CanTransition(from, to types.JobStatus) bool {
	if from == to {
		return true
	}
	if from.Terminal() {
		return false
	}
	switch from {
	case types.JobPending:
		return to == types.JobRunning || to == types.JobCompleted || to == types.JobFailed
	case types.JobRunning:
		return to == types.JobCompleted || to == types.JobFailed
	}
	return false
}

// applyStatus mutates j's status when the transition is legal and reports
// whether anything changed.
func applyStatus(j *types.TrainingJob, to types.JobStatus) bool {
	if j.Status == to || !CanTransition(j.Status, to) {
		return false
	}
	j.Status = to
	return true
}
