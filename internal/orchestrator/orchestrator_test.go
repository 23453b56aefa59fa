package orchestrator

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"orchestd/internal/jobs"
	"orchestd/internal/models"
	"orchestd/internal/notify"
	"orchestd/internal/transport"
	"orchestd/pkg/types"
)

// fakeBackend satisfies both registry backend interfaces so one instance can
// drive a whole orchestrator.
type fakeBackend struct {
	listFn     func(ctx context.Context) ([]types.TrainingJob, error)
	loadedFn   func(ctx context.Context) ([]types.LoadedModel, error)
	adaptersFn func(ctx context.Context) ([]types.AvailableAdapter, error)
}

func (f *fakeBackend) ListJobs(ctx context.Context, _ map[string]string) ([]types.TrainingJob, error) {
	if f.listFn == nil {
		return nil, nil
	}
	return f.listFn(ctx)
}

func (f *fakeBackend) SubmitJob(context.Context, transport.SubmitJobRequest) (types.TrainingJob, error) {
	return types.TrainingJob{}, errors.New("unexpected SubmitJob")
}

func (f *fakeBackend) SubmitLoRA(context.Context, string, string, io.Reader, string, types.TrainingParameters) (types.TrainingJob, error) {
	return types.TrainingJob{}, errors.New("unexpected SubmitLoRA")
}

func (f *fakeBackend) CancelJob(context.Context, string) error { return nil }

func (f *fakeBackend) DeleteJob(context.Context, string) error { return nil }

func (f *fakeBackend) LoadedModels(ctx context.Context) ([]types.LoadedModel, error) {
	if f.loadedFn == nil {
		return nil, nil
	}
	return f.loadedFn(ctx)
}

func (f *fakeBackend) AvailableAdapters(ctx context.Context) ([]types.AvailableAdapter, error) {
	if f.adaptersFn == nil {
		return nil, nil
	}
	return f.adaptersFn(ctx)
}

func (f *fakeBackend) LoadAdapter(context.Context, string, string) (types.LoadedModel, error) {
	return types.LoadedModel{}, errors.New("unexpected LoadAdapter")
}

func (f *fakeBackend) UnloadModel(context.Context, string) error { return nil }

func (f *fakeBackend) ModelStatus(context.Context, string) (types.ModelStatus, error) {
	return types.ModelStatus{}, errors.New("unexpected ModelStatus")
}

func newTestOrchestrator(b *fakeBackend) (*Orchestrator, *notify.Queue) {
	q := notify.NewQueue(0)
	jr := jobs.New(jobs.Config{Backend: b, Notifier: q})
	mr := models.New(models.Config{Backend: b, Notifier: q})
	o := New(Config{Jobs: jr, Models: mr, Queue: q})
	return o, q
}

func countKind(q *notify.Queue, kind types.NotificationKind) int {
	n := 0
	for _, e := range q.List() {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func TestRefreshAllPopulatesCollections(t *testing.T) {
	b := &fakeBackend{
		listFn: func(context.Context) ([]types.TrainingJob, error) {
			return []types.TrainingJob{{ID: "job-1", Status: types.JobRunning}}, nil
		},
		loadedFn: func(context.Context) ([]types.LoadedModel, error) {
			return []types.LoadedModel{{ID: "lora_a", Type: types.LoadedAdapter, AdapterPath: "/adapters/a", CanUnload: true}}, nil
		},
		adaptersFn: func(context.Context) ([]types.AvailableAdapter, error) {
			return []types.AvailableAdapter{{Name: "a", Path: "/adapters/a"}}, nil
		},
	}
	o, _ := newTestOrchestrator(b)

	if err := o.RefreshAll(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(o.Jobs()) != 1 || len(o.Models()) != 1 || len(o.Adapters()) != 1 {
		t.Fatalf("collections not populated: jobs=%d models=%d adapters=%d",
			len(o.Jobs()), len(o.Models()), len(o.Adapters()))
	}
	if !o.Adapters()[0].IsLoaded {
		t.Fatalf("adapter annotation missing: %+v", o.Adapters())
	}
	st := o.State()
	if st.Jobs.Loading || st.Models.Loading || st.Adapters.Loading {
		t.Fatalf("loading flags still set: %+v", st)
	}
	if st.Jobs.LastError != "" || st.RefreshSeq != 1 {
		t.Fatalf("unexpected state %+v", st)
	}
}

func TestRefreshAllFailureBlanksFailedConcernOnly(t *testing.T) {
	b := &fakeBackend{
		listFn: func(context.Context) ([]types.TrainingJob, error) {
			return nil, transport.NewError(transport.KindTimeout, 0, "deadline exceeded")
		},
		loadedFn: func(context.Context) ([]types.LoadedModel, error) {
			return []types.LoadedModel{{ID: "llama3", Type: types.LoadedBase}}, nil
		},
	}
	o, q := newTestOrchestrator(b)

	if err := o.RefreshAll(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}
	if len(o.Jobs()) != 0 {
		t.Fatalf("failed concern must blank, got %+v", o.Jobs())
	}
	if len(o.Models()) != 1 {
		t.Fatalf("healthy concern must keep its data, got %+v", o.Models())
	}
	st := o.State()
	if st.Jobs.LastError == "" || st.Models.LastError != "" {
		t.Fatalf("per-concern error state wrong: %+v", st)
	}
	if countKind(q, types.NoteError) != 1 {
		t.Fatalf("expected exactly one error notification, got %+v", q.List())
	}
}

func TestStaleRunNeverOverwritesNewerResult(t *testing.T) {
	var calls atomic.Int32
	firstEntered := make(chan struct{})
	releaseFirst := make(chan struct{})
	b := &fakeBackend{
		listFn: func(context.Context) ([]types.TrainingJob, error) {
			if calls.Add(1) == 1 {
				close(firstEntered)
				<-releaseFirst
				return []types.TrainingJob{{ID: "stale", Status: types.JobPending}}, nil
			}
			return []types.TrainingJob{{ID: "fresh", Status: types.JobRunning}}, nil
		},
	}
	o, _ := newTestOrchestrator(b)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = o.refreshOnce(context.Background())
	}()
	<-firstEntered

	// A second, newer run completes while the first is still in flight.
	if _, err := o.refreshOnce(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	close(releaseFirst)
	<-done

	jobs := o.Jobs()
	if len(jobs) != 1 || jobs[0].ID != "fresh" {
		t.Fatalf("stale response overwrote newer result: %+v", jobs)
	}
	st := o.State()
	if st.RefreshSeq != 2 {
		t.Fatalf("applied token should be the newer run's, got %d", st.RefreshSeq)
	}
}

func TestConcurrentRefreshesCollapse(t *testing.T) {
	var calls atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	b := &fakeBackend{
		listFn: func(context.Context) ([]types.TrainingJob, error) {
			calls.Add(1)
			once.Do(func() { close(entered) })
			<-release
			return nil, nil
		},
	}
	o, _ := newTestOrchestrator(b)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = o.RefreshAll(context.Background())
	}()
	<-entered
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = o.RefreshAll(context.Background())
		}()
	}
	// Give the late callers time to join the in-flight run.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("concurrent refreshes must collapse into one run, got %d fetches", got)
	}
}

func TestCompletedJobsWatchTriggersExactlyOneFollowUp(t *testing.T) {
	var calls atomic.Int32
	b := &fakeBackend{
		listFn: func(context.Context) ([]types.TrainingJob, error) {
			if calls.Add(1) == 1 {
				return []types.TrainingJob{{ID: "job-1", Status: types.JobRunning}}, nil
			}
			return []types.TrainingJob{{ID: "job-1", Status: types.JobCompleted}}, nil
		},
	}
	o, _ := newTestOrchestrator(b)

	// First refresh initializes the baseline without firing the watch.
	if err := o.RefreshAll(context.Background()); err != nil {
		t.Fatalf("refresh 1: %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("baseline refresh should fetch once, got %d", got)
	}

	// The completed count rose: one follow-up refresh, never a chain.
	if err := o.RefreshAll(context.Background()); err != nil {
		t.Fatalf("refresh 2: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected one follow-up fetch (3 total), got %d", got)
	}

	// Stable count: no watch, no follow-up.
	if err := o.RefreshAll(context.Background()); err != nil {
		t.Fatalf("refresh 3: %v", err)
	}
	if got := calls.Load(); got != 4 {
		t.Fatalf("expected no follow-up (4 total), got %d", got)
	}
}

func TestHooksRouteThroughCoordinatedRefresh(t *testing.T) {
	var calls atomic.Int32
	b := &fakeBackend{
		listFn: func(context.Context) ([]types.TrainingJob, error) {
			calls.Add(1)
			return nil, nil
		},
	}
	o, _ := newTestOrchestrator(b)

	// An unload miss goes through RefreshAll, so the sequence token advances.
	res := o.UnloadModel(context.Background(), "ghost")
	if res.Success || res.ErrorType != models.ErrTypeModelNotFound {
		t.Fatalf("unexpected unload result %+v", res)
	}
	if calls.Load() != 1 {
		t.Fatalf("stale miss should trigger one coordinated refresh, got %d", calls.Load())
	}
	if o.State().RefreshSeq != 1 {
		t.Fatalf("token not advanced: %+v", o.State())
	}
}

func TestStateAggregatesNewestToken(t *testing.T) {
	o, _ := newTestOrchestrator(&fakeBackend{})
	for i := 0; i < 3; i++ {
		if err := o.RefreshAll(context.Background()); err != nil {
			t.Fatalf("refresh %d: %v", i, err)
		}
	}
	if got := o.State().RefreshSeq; got != 3 {
		t.Fatalf("expected token 3, got %d", got)
	}
}
