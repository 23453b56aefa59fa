package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"orchestd/pkg/types"
)

// RefreshAll batches the three read refreshes behind one entry point.
// Concurrent callers are collapsed into the in-flight run (singleflight), and
// every run carries a monotonic sequence token so a slow stale response can
// never overwrite the result of a newer run.
//
// When a run observes that the number of completed jobs increased, exactly
// one follow-up refresh is issued to surface freshly produced artifacts
// without waiting for the next poll tick.
func (o *Orchestrator) RefreshAll(ctx context.Context) error {
	v, err, _ := o.sf.Do("refresh-all", func() (any, error) {
		return o.refreshOnce(ctx)
	})
	if watch, _ := v.(bool); watch && o.armWatch() {
		_, err2, _ := o.sf.Do("refresh-all", func() (any, error) {
			_, e := o.refreshOnce(ctx)
			// The follow-up never chains another follow-up.
			return false, e
		})
		o.disarmWatch()
		if err == nil {
			err = err2
		}
	}
	return err
}

// refreshOnce performs one tokenized run across all three concerns and
// reports whether the completed-jobs watch fired.
func (o *Orchestrator) refreshOnce(ctx context.Context) (bool, error) {
	start := time.Now()
	o.mu.Lock()
	o.seq++
	token := o.seq
	o.jobsSt.loading = true
	o.modelsSt.loading = true
	o.adaptSt.loading = true
	o.mu.Unlock()

	var wg sync.WaitGroup
	var jobsErr, modelsErr, adaptErr error
	var watch bool
	wg.Add(3)
	go func() {
		defer wg.Done()
		watch, jobsErr = o.refreshJobs(ctx, token)
	}()
	go func() {
		defer wg.Done()
		modelsErr = o.refreshModels(ctx, token)
	}()
	go func() {
		defer wg.Done()
		adaptErr = o.refreshAdapters(ctx, token)
	}()
	wg.Wait()
	refreshDuration.Observe(time.Since(start).Seconds())

	for _, err := range []error{jobsErr, modelsErr, adaptErr} {
		if err != nil {
			return watch, err
		}
	}
	return watch, nil
}

// refreshJobs fetches and applies the job list under the run token.
// The apply step (token check + write) is a single critical section, so a
// stale run can never interleave its write after a newer run's check.
func (o *Orchestrator) refreshJobs(ctx context.Context, token uint64) (bool, error) {
	list, err := o.jobs.Fetch(ctx, nil)

	o.mu.Lock()
	if token < o.jobsSt.applied {
		o.mu.Unlock()
		refreshStaleDrops.Inc()
		return false, nil
	}
	o.jobsSt.applied = token
	o.jobsSt.loading = false
	if err != nil {
		o.jobsSt.lastErr = err.Error()
		o.jobs.ResetEmpty()
		o.mu.Unlock()
		refreshTotal.WithLabelValues("jobs", "error").Inc()
		o.log.Warn().Err(err).Msg("job refresh failed, collection blanked")
		o.queue.Push(types.NoteError, fmt.Sprintf("failed to refresh training jobs: %v", err))
		return false, err
	}
	o.jobsSt.lastErr = ""
	o.jobs.Replace(list)

	completed := 0
	for _, j := range list {
		if j.Status == types.JobCompleted {
			completed++
		}
	}
	watch := false
	if !o.completedInit {
		o.completedInit = true
	} else if completed > o.completedCount {
		watch = true
	}
	o.completedCount = completed
	o.mu.Unlock()

	refreshTotal.WithLabelValues("jobs", "ok").Inc()
	return watch, nil
}

func (o *Orchestrator) refreshModels(ctx context.Context, token uint64) error {
	list, err := o.models.FetchLoaded(ctx)

	o.mu.Lock()
	if token < o.modelsSt.applied {
		o.mu.Unlock()
		refreshStaleDrops.Inc()
		return nil
	}
	o.modelsSt.applied = token
	o.modelsSt.loading = false
	if err != nil {
		o.modelsSt.lastErr = err.Error()
		o.models.ResetLoadedEmpty()
		o.mu.Unlock()
		refreshTotal.WithLabelValues("models", "error").Inc()
		o.log.Warn().Err(err).Msg("loaded-model refresh failed, collection blanked")
		o.queue.Push(types.NoteError, fmt.Sprintf("failed to refresh loaded models: %v", err))
		return err
	}
	o.modelsSt.lastErr = ""
	o.models.ReplaceLoaded(list)
	o.mu.Unlock()

	refreshTotal.WithLabelValues("models", "ok").Inc()
	return nil
}

func (o *Orchestrator) refreshAdapters(ctx context.Context, token uint64) error {
	list, err := o.models.FetchAdapters(ctx)

	o.mu.Lock()
	if token < o.adaptSt.applied {
		o.mu.Unlock()
		refreshStaleDrops.Inc()
		return nil
	}
	o.adaptSt.applied = token
	o.adaptSt.loading = false
	if err != nil {
		o.adaptSt.lastErr = err.Error()
		o.models.ResetAdaptersEmpty()
		o.mu.Unlock()
		refreshTotal.WithLabelValues("adapters", "error").Inc()
		o.log.Warn().Err(err).Msg("adapter refresh failed, collection blanked")
		o.queue.Push(types.NoteError, fmt.Sprintf("failed to refresh adapters: %v", err))
		return err
	}
	o.adaptSt.lastErr = ""
	o.models.ReplaceAdapters(list)
	o.mu.Unlock()

	refreshTotal.WithLabelValues("adapters", "ok").Inc()
	return nil
}

func (o *Orchestrator) armWatch() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.watchPending {
		return false
	}
	o.watchPending = true
	return true
}

func (o *Orchestrator) disarmWatch() {
	o.mu.Lock()
	o.watchPending = false
	o.mu.Unlock()
}
