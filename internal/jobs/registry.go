// Package jobs holds the local collection of training jobs and applies
// submit/refresh/cancel/delete operations against the backend.
package jobs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"orchestd/internal/datasets"
	"orchestd/internal/notify"
	"orchestd/internal/transport"
	"orchestd/pkg/types"
)

// Backend is the subset of the transport client the registry needs.
// Narrowed to an interface so tests can fake the network.
type Backend interface {
	ListJobs(ctx context.Context, filters map[string]string) ([]types.TrainingJob, error)
	SubmitJob(ctx context.Context, req transport.SubmitJobRequest) (types.TrainingJob, error)
	SubmitLoRA(ctx context.Context, jobID, fileName string, dataset io.Reader, baseModel string, params types.TrainingParameters) (types.TrainingJob, error)
	CancelJob(ctx context.Context, id string) error
	DeleteJob(ctx context.Context, id string) error
}

// Config holds construction parameters for Registry.
type Config struct {
	Backend  Backend
	Notifier notify.Notifier
	// DatasetDir is scanned to resolve dataset files for LoRA submissions.
	DatasetDir string
	Logger     zerolog.Logger
}

// Registry owns the job collection, newest first. All mutation goes through
// its operations; readers get copies.
type Registry struct {
	mu       sync.RWMutex
	jobs     []types.TrainingJob
	backend  Backend
	notifier notify.Notifier
	dataDir  string
	log      zerolog.Logger

	// reconcile is invoked after an optimistic cancel to pull server truth.
	// The orchestrator replaces it with a coordinated RefreshAll.
	reconcile func(context.Context)
}

// New constructs a Registry.
func New(cfg Config) *Registry {
	r := &Registry{
		backend:  cfg.Backend,
		notifier: cfg.Notifier,
		dataDir:  cfg.DatasetDir,
		log:      cfg.Logger,
	}
	if r.notifier == nil {
		r.notifier = notify.Noop{}
	}
	r.reconcile = func(ctx context.Context) { _ = r.Refresh(ctx, nil) }
	return r
}

// SetReconcileHook overrides the post-cancel reconciliation trigger.
func (r *Registry) SetReconcileHook(fn func(context.Context)) {
	if fn != nil {
		r.reconcile = fn
	}
}

// Jobs returns a copy of the collection, newest first.
func (r *Registry) Jobs() []types.TrainingJob {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.TrainingJob, len(r.jobs))
	copy(out, r.jobs)
	return out
}

// Get looks up one job by id.
func (r *Registry) Get(id string) (types.TrainingJob, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, j := range r.jobs {
		if j.ID == id {
			return j, true
		}
	}
	return types.TrainingJob{}, false
}

// CompletedCount reports how many jobs are in the completed state.
func (r *Registry) CompletedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, j := range r.jobs {
		if j.Status == types.JobCompleted {
			n++
		}
	}
	return n
}

// Submit validates inputs locally, inserts a provisional entry, then creates
// the job server-side. The provisional entry is confirmed with server truth
// on success and rolled back on failure, leaving the collection untouched.
func (r *Registry) Submit(ctx context.Context, name, dataset string, modelType types.ModelType, params types.TrainingParameters) (types.TrainingJob, error) {
	if strings.TrimSpace(dataset) == "" {
		return types.TrainingJob{}, transport.ErrValidation("dataset is required")
	}
	if strings.TrimSpace(string(modelType)) == "" {
		return types.TrainingJob{}, transport.ErrValidation("model type is required")
	}
	now := time.Now().UTC()
	provisional := types.TrainingJob{
		ID:          uuid.NewString(),
		Name:        name,
		ModelType:   modelType,
		Dataset:     dataset,
		Parameters:  params,
		Status:      types.JobPending,
		Provisional: true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.mu.Lock()
	r.jobs = append([]types.TrainingJob{provisional}, r.jobs...)
	r.mu.Unlock()

	confirmed, err := r.backend.SubmitJob(ctx, transport.SubmitJobRequest{
		Name:       name,
		Dataset:    dataset,
		ModelType:  modelType,
		Parameters: params,
	})
	if err != nil {
		r.removeLocal(provisional.ID)
		r.log.Error().Err(err).Str("name", name).Msg("job submit failed")
		r.notifier.Push(types.NoteError, fmt.Sprintf("failed to start training %q: %v", name, err))
		return types.TrainingJob{}, err
	}
	r.replaceLocal(provisional.ID, confirmed)
	r.notifier.Push(types.NoteSuccess, fmt.Sprintf("training job %s submitted", confirmed.ID))
	return confirmed, nil
}

// SubmitLoRA uploads the dataset resolved for jobID and starts LoRA training.
// A missing dataset file is a validation error; no network call is made.
func (r *Registry) SubmitLoRA(ctx context.Context, jobID, baseModel string, params types.TrainingParameters) (types.TrainingJob, error) {
	if strings.TrimSpace(jobID) == "" {
		jobID = uuid.NewString()
	}
	path, err := r.resolveDataset(jobID)
	if err != nil {
		return types.TrainingJob{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return types.TrainingJob{}, transport.ErrValidation(fmt.Sprintf("open dataset: %v", err))
	}
	defer f.Close()

	job, err := r.backend.SubmitLoRA(ctx, jobID, filepath.Base(path), f, baseModel, params)
	if err != nil {
		r.log.Error().Err(err).Str("job", jobID).Msg("lora submit failed")
		r.notifier.Push(types.NoteError, fmt.Sprintf("failed to start LoRA training for %s: %v", jobID, err))
		return types.TrainingJob{}, err
	}
	r.mu.Lock()
	r.jobs = append([]types.TrainingJob{job}, r.jobs...)
	r.mu.Unlock()
	r.notifier.Push(types.NoteSuccess, fmt.Sprintf("LoRA training started for %s", job.ID))
	return job, nil
}

// Fetch pulls the server job list without touching local state.
func (r *Registry) Fetch(ctx context.Context, filters map[string]string) ([]types.TrainingJob, error) {
	return r.backend.ListJobs(ctx, filters)
}

// Replace swaps the collection for server truth. Provisional entries the
// server does not know yet are kept at the head; a provisional id the server
// confirms is simply superseded by the server row.
func (r *Registry) Replace(jobs []types.TrainingJob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	known := make(map[string]struct{}, len(jobs))
	for _, j := range jobs {
		known[j.ID] = struct{}{}
	}
	var next []types.TrainingJob
	for _, j := range r.jobs {
		if j.Provisional {
			if _, ok := known[j.ID]; !ok {
				next = append(next, j)
			}
		}
	}
	r.jobs = append(next, jobs...)
}

// ResetEmpty applies the fail-safe-blank policy: rather than keeping possibly
// divergent stale data after a failed read, the collection becomes empty.
func (r *Registry) ResetEmpty() {
	r.mu.Lock()
	r.jobs = nil
	r.mu.Unlock()
}

// Refresh replaces the collection with the server list. On transport failure
// the collection resets to empty and the error is surfaced via the queue.
func (r *Registry) Refresh(ctx context.Context, filters map[string]string) error {
	list, err := r.Fetch(ctx, filters)
	if err != nil {
		r.ResetEmpty()
		r.log.Warn().Err(err).Msg("job refresh failed, collection blanked")
		r.notifier.Push(types.NoteError, fmt.Sprintf("failed to refresh training jobs: %v", err))
		return err
	}
	r.Replace(list)
	return nil
}

// Cancel stops a non-terminal job. The transition to failed is applied
// optimistically before the server call; a server failure rolls it back.
func (r *Registry) Cancel(ctx context.Context, id string) error {
	r.mu.Lock()
	idx := -1
	for i, j := range r.jobs {
		if j.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return transport.NewError(transport.KindNotFound, 0, "job not found: "+id)
	}
	prev := r.jobs[idx].Status
	if prev.Terminal() {
		r.mu.Unlock()
		return transport.ErrValidation(fmt.Sprintf("job %s is already %s", id, prev))
	}
	applyStatus(&r.jobs[idx], types.JobFailed)
	r.jobs[idx].UpdatedAt = time.Now().UTC()
	r.mu.Unlock()

	r.notifier.Push(types.NoteWarning, fmt.Sprintf("training job %s cancelled", id))

	if err := r.backend.CancelJob(ctx, id); err != nil {
		// Roll the optimistic transition back; server truth did not change.
		r.mu.Lock()
		for i := range r.jobs {
			if r.jobs[i].ID == id {
				r.jobs[i].Status = prev
				break
			}
		}
		r.mu.Unlock()
		r.log.Error().Err(err).Str("job", id).Msg("cancel failed")
		r.notifier.Push(types.NoteError, fmt.Sprintf("failed to cancel job %s: %v", id, err))
		return err
	}
	r.reconcile(ctx)
	return nil
}

// Delete removes a job after server confirmation only; no optimistic removal.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if err := r.backend.DeleteJob(ctx, id); err != nil {
		r.log.Error().Err(err).Str("job", id).Msg("delete failed")
		r.notifier.Push(types.NoteError, fmt.Sprintf("failed to delete job %s: %v", id, err))
		return err
	}
	r.removeLocal(id)
	r.notifier.Push(types.NoteInfo, fmt.Sprintf("training job %s deleted", id))
	return nil
}

func (r *Registry) removeLocal(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, j := range r.jobs {
		if j.ID == id {
			r.jobs = append(r.jobs[:i], r.jobs[i+1:]...)
			return
		}
	}
}

func (r *Registry) replaceLocal(id string, job types.TrainingJob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, j := range r.jobs {
		if j.ID == id {
			r.jobs[i] = job
			return
		}
	}
	// Provisional entry already superseded by a refresh; insert at head.
	r.jobs = append([]types.TrainingJob{job}, r.jobs...)
}

// Datasets lists dataset files under the configured directory, newest first.
func (r *Registry) Datasets() ([]types.DatasetFile, error) {
	if r.dataDir == "" {
		return nil, transport.ErrValidation("no dataset directory configured")
	}
	return datasets.ListDir(r.dataDir)
}

// resolveDataset finds the uploaded dataset file for a job id under the
// dataset directory ({id}.jsonl, {id}.json, or the id used verbatim).
func (r *Registry) resolveDataset(jobID string) (string, error) {
	if r.dataDir == "" {
		return "", transport.ErrValidation("no dataset directory configured")
	}
	path, ok := datasets.Resolve(r.dataDir, jobID)
	if !ok {
		return "", transport.ErrValidation("no dataset file for job " + jobID)
	}
	return path, nil
}
