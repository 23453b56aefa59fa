// Package models holds the registries of loaded model instances and the
// on-disk adapter catalog, and applies load/unload/status operations.
package models

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"orchestd/internal/notify"
	"orchestd/internal/transport"
	"orchestd/pkg/types"
)

// Structured unload failure codes.
const (
	ErrTypeBaseModelUnload = "base_model_unload"
	ErrTypeModelNotFound   = "model_not_found"
	ErrTypeUnloadFailed    = "unload_failed"
)

// Backend is the subset of the transport client the registry needs.
type Backend interface {
	LoadedModels(ctx context.Context) ([]types.LoadedModel, error)
	AvailableAdapters(ctx context.Context) ([]types.AvailableAdapter, error)
	LoadAdapter(ctx context.Context, adapterPath, baseModel string) (types.LoadedModel, error)
	UnloadModel(ctx context.Context, id string) error
	ModelStatus(ctx context.Context, id string) (types.ModelStatus, error)
}

// Config holds construction parameters for Registry.
type Config struct {
	Backend  Backend
	Notifier notify.Notifier
	Logger   zerolog.Logger
}

// Registry owns the loaded-model set and the adapter catalog projection.
// The adapter IsLoaded flag is always derived from the loaded set at
// replace time, never taken from the wire, so the two cannot diverge.
type Registry struct {
	mu       sync.RWMutex
	loaded   []types.LoadedModel
	adapters []types.AvailableAdapter
	backend  Backend
	notifier notify.Notifier
	log      zerolog.Logger

	// refreshOnMiss runs when an unload targets an id absent locally; local
	// truth may be stale relative to the server. The orchestrator replaces it
	// with a coordinated refresh.
	refreshOnMiss func(context.Context)
}

// New constructs a Registry.
func New(cfg Config) *Registry {
	r := &Registry{
		backend:  cfg.Backend,
		notifier: cfg.Notifier,
		log:      cfg.Logger,
	}
	if r.notifier == nil {
		r.notifier = notify.Noop{}
	}
	r.refreshOnMiss = func(ctx context.Context) { _ = r.RefreshLoaded(ctx) }
	return r
}

// SetRefreshHook overrides the stale-miss refresh trigger.
func (r *Registry) SetRefreshHook(fn func(context.Context)) {
	if fn != nil {
		r.refreshOnMiss = fn
	}
}

// Loaded returns a copy of the loaded-model set.
func (r *Registry) Loaded() []types.LoadedModel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.LoadedModel, len(r.loaded))
	copy(out, r.loaded)
	return out
}

// Adapters returns a copy of the adapter catalog projection.
func (r *Registry) Adapters() []types.AvailableAdapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.AvailableAdapter, len(r.adapters))
	copy(out, r.adapters)
	return out
}

// lookupLocked finds a loaded entry by id or adapter path.
func (r *Registry) lookupLocked(key string) (int, bool) {
	for i, m := range r.loaded {
		if m.ID == key || (m.AdapterPath != "" && m.AdapterPath == key) {
			return i, true
		}
	}
	return -1, false
}

// Load loads an adapter (or model) by path. Idempotent: when the identifier
// is already loaded the existing entry is returned and no network call or
// duplicate insert happens.
func (r *Registry) Load(ctx context.Context, adapterPath, baseModel string) (types.LoadedModel, error) {
	if strings.TrimSpace(adapterPath) == "" {
		return types.LoadedModel{}, transport.ErrValidation("adapter path is required")
	}
	r.mu.RLock()
	if i, ok := r.lookupLocked(adapterPath); ok {
		existing := r.loaded[i]
		r.mu.RUnlock()
		r.notifier.Push(types.NoteInfo, fmt.Sprintf("model %s is already loaded", existing.ID))
		return existing, nil
	}
	r.mu.RUnlock()

	entry, err := r.backend.LoadAdapter(ctx, adapterPath, baseModel)
	if err != nil {
		r.log.Error().Err(err).Str("adapter", adapterPath).Msg("load failed")
		r.notifier.Push(types.NoteError, fmt.Sprintf("failed to load %s: %v", adapterPath, err))
		return types.LoadedModel{}, err
	}

	r.mu.Lock()
	if i, ok := r.lookupLocked(entry.ID); ok {
		// A concurrent refresh already inserted the entry.
		entry = r.loaded[i]
	} else {
		r.loaded = append(r.loaded, entry)
	}
	r.annotateAdaptersLocked()
	r.mu.Unlock()

	r.notifier.Push(types.NoteSuccess, fmt.Sprintf("model %s loaded", entry.ID))
	return entry, nil
}

// Unload removes a loaded instance. Base models are rejected without any
// network call or mutation; an id absent locally triggers one refresh since
// local truth may be stale. Entries are removed only on server confirmation.
func (r *Registry) Unload(ctx context.Context, id string) types.UnloadResponse {
	if strings.TrimSpace(id) == "" {
		return types.UnloadResponse{Success: false, ErrorType: ErrTypeModelNotFound, Message: "model id is required"}
	}
	r.mu.RLock()
	idx, ok := r.lookupLocked(id)
	var entry types.LoadedModel
	if ok {
		entry = r.loaded[idx]
	}
	r.mu.RUnlock()

	if !ok {
		r.refreshOnMiss(ctx)
		return types.UnloadResponse{Success: false, ErrorType: ErrTypeModelNotFound, Message: "model not found: " + id}
	}
	if !entry.CanUnload {
		return types.UnloadResponse{Success: false, ErrorType: ErrTypeBaseModelUnload, Message: "base model " + entry.ID + " cannot be unloaded"}
	}

	if err := r.backend.UnloadModel(ctx, entry.ID); err != nil {
		r.log.Error().Err(err).Str("model", entry.ID).Msg("unload failed")
		r.notifier.Push(types.NoteError, fmt.Sprintf("failed to unload %s: %v", entry.ID, err))
		// Reported, never silently retried; the caller decides.
		return types.UnloadResponse{Success: false, ErrorType: ErrTypeUnloadFailed, Message: err.Error()}
	}

	r.mu.Lock()
	if i, ok2 := r.lookupLocked(entry.ID); ok2 {
		r.loaded = append(r.loaded[:i], r.loaded[i+1:]...)
	}
	r.annotateAdaptersLocked()
	r.mu.Unlock()

	r.notifier.Push(types.NoteSuccess, fmt.Sprintf("model %s unloaded", entry.ID))
	return types.UnloadResponse{Success: true, Message: "model " + entry.ID + " unloaded"}
}

// Status is a read-through status query. Empty and placeholder ids are
// rejected locally without a network call.
func (r *Registry) Status(ctx context.Context, id string) (types.ModelStatus, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" || trimmed == "undefined" || trimmed == "null" {
		return types.ModelStatus{}, transport.ErrValidation("model id is empty or placeholder")
	}
	return r.backend.ModelStatus(ctx, trimmed)
}

// FetchLoaded pulls the loaded-model list without touching local state.
func (r *Registry) FetchLoaded(ctx context.Context) ([]types.LoadedModel, error) {
	return r.backend.LoadedModels(ctx)
}

// FetchAdapters pulls the adapter catalog without touching local state.
func (r *Registry) FetchAdapters(ctx context.Context) ([]types.AvailableAdapter, error) {
	return r.backend.AvailableAdapters(ctx)
}

// ReplaceLoaded swaps the loaded set for server truth and re-derives the
// adapter IsLoaded flags.
func (r *Registry) ReplaceLoaded(list []types.LoadedModel) {
	r.mu.Lock()
	r.loaded = list
	r.annotateAdaptersLocked()
	r.mu.Unlock()
}

// ReplaceAdapters swaps the catalog and derives IsLoaded by membership
// against the current loaded set. The loaded set itself is never mutated.
func (r *Registry) ReplaceAdapters(list []types.AvailableAdapter) {
	r.mu.Lock()
	r.adapters = list
	r.annotateAdaptersLocked()
	r.mu.Unlock()
}

// ResetLoadedEmpty and ResetAdaptersEmpty apply the fail-safe-blank policy.
func (r *Registry) ResetLoadedEmpty() {
	r.mu.Lock()
	r.loaded = nil
	r.annotateAdaptersLocked()
	r.mu.Unlock()
}

func (r *Registry) ResetAdaptersEmpty() {
	r.mu.Lock()
	r.adapters = nil
	r.mu.Unlock()
}

// RefreshLoaded replaces the loaded set with server truth, blanking it on
// failure and surfacing the error through the queue.
func (r *Registry) RefreshLoaded(ctx context.Context) error {
	list, err := r.FetchLoaded(ctx)
	if err != nil {
		r.ResetLoadedEmpty()
		r.log.Warn().Err(err).Msg("loaded-model refresh failed, collection blanked")
		r.notifier.Push(types.NoteError, fmt.Sprintf("failed to refresh loaded models: %v", err))
		return err
	}
	r.ReplaceLoaded(list)
	return nil
}

// RefreshAdapters replaces the catalog, same failure policy as RefreshLoaded.
func (r *Registry) RefreshAdapters(ctx context.Context) error {
	list, err := r.FetchAdapters(ctx)
	if err != nil {
		r.ResetAdaptersEmpty()
		r.log.Warn().Err(err).Msg("adapter refresh failed, collection blanked")
		r.notifier.Push(types.NoteError, fmt.Sprintf("failed to refresh adapters: %v", err))
		return err
	}
	r.ReplaceAdapters(list)
	return nil
}

// annotateAdaptersLocked recomputes IsLoaded for the catalog. Caller holds mu.
func (r *Registry) annotateAdaptersLocked() {
	for i := range r.adapters {
		a := &r.adapters[i]
		a.IsLoaded = false
		for _, m := range r.loaded {
			if (m.AdapterPath != "" && m.AdapterPath == a.Path) || m.ID == "lora_"+a.Name {
				a.IsLoaded = true
				break
			}
		}
	}
}
