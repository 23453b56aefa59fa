// Package orchestrator composes the job and model registries, the refresh
// coordinator and the notification queue behind one facade. It exclusively
// owns the four collections; views read copies through its accessors and
// never hold independent state.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"orchestd/internal/jobs"
	"orchestd/internal/models"
	"orchestd/internal/notify"
	"orchestd/pkg/types"
)

// DefaultPollInterval is the periodic refresh cadence when none is configured.
const DefaultPollInterval = 30 * time.Second

// Config holds construction parameters for Orchestrator.
type Config struct {
	Jobs         *jobs.Registry
	Models       *models.Registry
	Queue        *notify.Queue
	PollInterval time.Duration
	Logger       zerolog.Logger
}

type concernState struct {
	loading bool
	lastErr string
	// applied is the sequence token of the last refresh written to this
	// concern; responses carrying an older token are discarded.
	applied uint64
}

// Orchestrator is the single entry point consumed by views.
type Orchestrator struct {
	jobs   *jobs.Registry
	models *models.Registry
	queue  *notify.Queue
	log    zerolog.Logger

	interval time.Duration
	sf       singleflight.Group

	mu       sync.Mutex
	seq      uint64
	jobsSt   concernState
	modelsSt concernState
	adaptSt  concernState

	// completed-jobs watch
	completedInit  bool
	completedCount int
	watchPending   bool
}

// New wires the registries to the queue and to coordinated refreshes.
func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		jobs:     cfg.Jobs,
		models:   cfg.Models,
		queue:    cfg.Queue,
		interval: cfg.PollInterval,
		log:      cfg.Logger,
	}
	if o.queue == nil {
		o.queue = notify.NewQueue(0)
	}
	if o.interval <= 0 {
		o.interval = DefaultPollInterval
	}
	// A cancel reconcile and a stale unload miss both resolve through the
	// coordinated refresh so sequence tokens stay authoritative.
	o.jobs.SetReconcileHook(func(ctx context.Context) { _ = o.RefreshAll(ctx) })
	o.models.SetRefreshHook(func(ctx context.Context) { _ = o.RefreshAll(ctx) })
	return o
}

// Run polls RefreshAll on the configured interval until ctx is done.
// One refresh is issued immediately on start.
func (o *Orchestrator) Run(ctx context.Context) {
	_ = o.RefreshAll(ctx)
	t := time.NewTicker(o.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_ = o.RefreshAll(ctx)
		}
	}
}

// Read accessors. All return copies.

func (o *Orchestrator) Jobs() []types.TrainingJob           { return o.jobs.Jobs() }
func (o *Orchestrator) Models() []types.LoadedModel         { return o.models.Loaded() }
func (o *Orchestrator) Adapters() []types.AvailableAdapter  { return o.models.Adapters() }
func (o *Orchestrator) Notifications() []types.Notification { return o.queue.List() }

// Datasets lists local dataset files eligible for LoRA submissions.
func (o *Orchestrator) Datasets() ([]types.DatasetFile, error) { return o.jobs.Datasets() }

// State reports per-concern loading flags and last errors.
func (o *Orchestrator) State() types.StateResponse {
	o.mu.Lock()
	defer o.mu.Unlock()
	seq := o.jobsSt.applied
	for _, s := range []uint64{o.modelsSt.applied, o.adaptSt.applied} {
		if s > seq {
			seq = s
		}
	}
	return types.StateResponse{
		Jobs:       types.ConcernState{Loading: o.jobsSt.loading, LastError: o.jobsSt.lastErr},
		Models:     types.ConcernState{Loading: o.modelsSt.loading, LastError: o.modelsSt.lastErr},
		Adapters:   types.ConcernState{Loading: o.adaptSt.loading, LastError: o.adaptSt.lastErr},
		RefreshSeq: seq,
	}
}

// Operations delegated to the registries. Kept thin so the facade stays the
// only mutation path views ever see.

func (o *Orchestrator) SubmitJob(ctx context.Context, name, dataset string, mt types.ModelType, p types.TrainingParameters) (types.TrainingJob, error) {
	return o.jobs.Submit(ctx, name, dataset, mt, p)
}

func (o *Orchestrator) SubmitLoRA(ctx context.Context, jobID, baseModel string, p types.TrainingParameters) (types.TrainingJob, error) {
	return o.jobs.SubmitLoRA(ctx, jobID, baseModel, p)
}

func (o *Orchestrator) CancelJob(ctx context.Context, id string) error {
	return o.jobs.Cancel(ctx, id)
}

func (o *Orchestrator) DeleteJob(ctx context.Context, id string) error {
	return o.jobs.Delete(ctx, id)
}

func (o *Orchestrator) LoadModel(ctx context.Context, adapterPath, baseModel string) (types.LoadedModel, error) {
	return o.models.Load(ctx, adapterPath, baseModel)
}

func (o *Orchestrator) UnloadModel(ctx context.Context, id string) types.UnloadResponse {
	return o.models.Unload(ctx, id)
}

func (o *Orchestrator) ModelStatus(ctx context.Context, id string) (types.ModelStatus, error) {
	return o.models.Status(ctx, id)
}

func (o *Orchestrator) RemoveNotification(id uint64) bool { return o.queue.Remove(id) }

func (o *Orchestrator) ClearNotifications() { o.queue.Clear() }
