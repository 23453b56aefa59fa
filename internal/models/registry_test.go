package models

import (
	"context"
	"errors"
	"testing"

	"orchestd/internal/notify"
	"orchestd/internal/transport"
	"orchestd/pkg/types"
)

type fakeBackend struct {
	loadedFn   func(ctx context.Context) ([]types.LoadedModel, error)
	adaptersFn func(ctx context.Context) ([]types.AvailableAdapter, error)
	loadFn     func(ctx context.Context, adapterPath, baseModel string) (types.LoadedModel, error)
	unloadFn   func(ctx context.Context, id string) error
	statusFn   func(ctx context.Context, id string) (types.ModelStatus, error)
}

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

func (f *fakeBackend) LoadAdapter(ctx context.Context, adapterPath, baseModel string) (types.LoadedModel, error) {
	if f.loadFn == nil {
		return types.LoadedModel{}, errors.New("unexpected LoadAdapter")
	}
	return f.loadFn(ctx, adapterPath, baseModel)
}

func (f *fakeBackend) UnloadModel(ctx context.Context, id string) error {
	if f.unloadFn == nil {
		return errors.New("unexpected UnloadModel")
	}
	return f.unloadFn(ctx, id)
}

func (f *fakeBackend) ModelStatus(ctx context.Context, id string) (types.ModelStatus, error) {
	if f.statusFn == nil {
		return types.ModelStatus{}, errors.New("unexpected ModelStatus")
	}
	return f.statusFn(ctx, id)
}

func newTestRegistry(b Backend) (*Registry, *notify.Queue) {
	q := notify.NewQueue(0)
	r := New(Config{Backend: b, Notifier: q})
	return r, q
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

func TestLoadInsertsAndNotifies(t *testing.T) {
	entry := types.LoadedModel{ID: "lora_a", Type: types.LoadedAdapter, AdapterPath: "/adapters/a", CanUnload: true}
	r, q := newTestRegistry(&fakeBackend{loadFn: func(_ context.Context, path, base string) (types.LoadedModel, error) {
		if path != "/adapters/a" || base != "llama3" {
			t.Errorf("load args %q %q", path, base)
		}
		return entry, nil
	}})

	got, err := r.Load(context.Background(), "/adapters/a", "llama3")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.ID != "lora_a" {
		t.Fatalf("unexpected entry %+v", got)
	}
	if len(r.Loaded()) != 1 {
		t.Fatalf("entry not inserted: %+v", r.Loaded())
	}
	if countKind(q, types.NoteSuccess) != 1 {
		t.Fatalf("expected one success notification, got %+v", q.List())
	}
}

func TestLoadIsIdempotent(t *testing.T) {
	calls := 0
	entry := types.LoadedModel{ID: "lora_a", Type: types.LoadedAdapter, AdapterPath: "/adapters/a", CanUnload: true}
	r, q := newTestRegistry(&fakeBackend{loadFn: func(context.Context, string, string) (types.LoadedModel, error) {
		calls++
		return entry, nil
	}})

	if _, err := r.Load(context.Background(), "/adapters/a", "llama3"); err != nil {
		t.Fatalf("first load: %v", err)
	}
	// Second load by adapter path: no network call, no duplicate entry.
	got, err := r.Load(context.Background(), "/adapters/a", "llama3")
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if got.ID != "lora_a" {
		t.Fatalf("existing entry not returned: %+v", got)
	}
	if calls != 1 {
		t.Fatalf("idempotent load must skip the backend, got %d calls", calls)
	}
	if len(r.Loaded()) != 1 {
		t.Fatalf("duplicate entry inserted: %+v", r.Loaded())
	}
	// Third load by id resolves the same entry.
	if _, err := r.Load(context.Background(), "lora_a", ""); err != nil {
		t.Fatalf("load by id: %v", err)
	}
	if calls != 1 || len(r.Loaded()) != 1 {
		t.Fatalf("load by id must hit the local entry: calls=%d loaded=%d", calls, len(r.Loaded()))
	}
	if countKind(q, types.NoteInfo) != 2 {
		t.Fatalf("already-loaded hits should surface as info, got %+v", q.List())
	}
}

func TestLoadFailureLeavesStateUntouched(t *testing.T) {
	r, q := newTestRegistry(&fakeBackend{loadFn: func(context.Context, string, string) (types.LoadedModel, error) {
		return types.LoadedModel{}, transport.NewError(transport.KindServer, 500, "oom")
	}})
	_, err := r.Load(context.Background(), "/adapters/a", "")
	if err == nil || !transport.IsServer(err) {
		t.Fatalf("expected server error, got %v", err)
	}
	if len(r.Loaded()) != 0 {
		t.Fatalf("failed load mutated state: %+v", r.Loaded())
	}
	if countKind(q, types.NoteError) != 1 {
		t.Fatalf("expected one error notification, got %+v", q.List())
	}
}

func TestUnloadBaseModelRejectedWithoutNetwork(t *testing.T) {
	r, _ := newTestRegistry(&fakeBackend{unloadFn: func(context.Context, string) error {
		t.Error("base unload must not reach the backend")
		return nil
	}})
	r.ReplaceLoaded([]types.LoadedModel{{ID: "llama3", Type: types.LoadedBase, CanUnload: false}})

	res := r.Unload(context.Background(), "llama3")
	if res.Success || res.ErrorType != ErrTypeBaseModelUnload {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(r.Loaded()) != 1 {
		t.Fatalf("base entry mutated: %+v", r.Loaded())
	}
}

func TestUnloadUnknownTriggersExactlyOneRefresh(t *testing.T) {
	refreshes := 0
	r, _ := newTestRegistry(&fakeBackend{})
	r.SetRefreshHook(func(context.Context) { refreshes++ })

	res := r.Unload(context.Background(), "ghost")
	if res.Success || res.ErrorType != ErrTypeModelNotFound {
		t.Fatalf("unexpected result %+v", res)
	}
	if refreshes != 1 {
		t.Fatalf("expected exactly one refresh on stale miss, got %d", refreshes)
	}
}

func TestUnloadEmptyID(t *testing.T) {
	refreshes := 0
	r, _ := newTestRegistry(&fakeBackend{})
	r.SetRefreshHook(func(context.Context) { refreshes++ })

	res := r.Unload(context.Background(), "  ")
	if res.Success || res.ErrorType != ErrTypeModelNotFound {
		t.Fatalf("unexpected result %+v", res)
	}
	if refreshes != 0 {
		t.Fatal("empty id must not trigger a refresh")
	}
}

func TestUnloadBackendFailureKeepsEntry(t *testing.T) {
	r, q := newTestRegistry(&fakeBackend{unloadFn: func(context.Context, string) error {
		return transport.NewError(transport.KindServer, 500, "busy")
	}})
	r.ReplaceLoaded([]types.LoadedModel{{ID: "lora_a", Type: types.LoadedAdapter, CanUnload: true}})

	res := r.Unload(context.Background(), "lora_a")
	if res.Success || res.ErrorType != ErrTypeUnloadFailed {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(r.Loaded()) != 1 {
		t.Fatal("entry must survive a failed server unload")
	}
	if countKind(q, types.NoteError) != 1 {
		t.Fatalf("expected one error notification, got %+v", q.List())
	}
}

func TestUnloadRemovesOnConfirmation(t *testing.T) {
	r, q := newTestRegistry(&fakeBackend{unloadFn: func(_ context.Context, id string) error {
		if id != "lora_a" {
			t.Errorf("unload id %q", id)
		}
		return nil
	}})
	r.ReplaceLoaded([]types.LoadedModel{{ID: "lora_a", Type: types.LoadedAdapter, AdapterPath: "/adapters/a", CanUnload: true}})
	r.ReplaceAdapters([]types.AvailableAdapter{{Name: "a", Path: "/adapters/a"}})

	if got := r.Adapters(); !got[0].IsLoaded {
		t.Fatalf("adapter should be annotated as loaded: %+v", got)
	}
	res := r.Unload(context.Background(), "/adapters/a")
	if !res.Success {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(r.Loaded()) != 0 {
		t.Fatalf("entry not removed: %+v", r.Loaded())
	}
	if got := r.Adapters(); got[0].IsLoaded {
		t.Fatalf("IsLoaded not re-derived after unload: %+v", got)
	}
	if countKind(q, types.NoteSuccess) != 1 {
		t.Fatalf("expected one success notification, got %+v", q.List())
	}
}

func TestStatusRejectsPlaceholderIDs(t *testing.T) {
	r, _ := newTestRegistry(&fakeBackend{statusFn: func(context.Context, string) (types.ModelStatus, error) {
		t.Error("placeholder id must not reach the backend")
		return types.ModelStatus{}, nil
	}})
	for _, id := range []string{"", "  ", "undefined", "null"} {
		if _, err := r.Status(context.Background(), id); err == nil || !transport.IsValidation(err) {
			t.Fatalf("id %q: expected validation error, got %v", id, err)
		}
	}
}

func TestStatusPassesThrough(t *testing.T) {
	r, _ := newTestRegistry(&fakeBackend{statusFn: func(_ context.Context, id string) (types.ModelStatus, error) {
		return types.ModelStatus{ModelID: id, Status: "loaded"}, nil
	}})
	st, err := r.Status(context.Background(), " lora_a ")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.ModelID != "lora_a" || st.Status != "loaded" {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestAdapterAnnotationByIDConvention(t *testing.T) {
	r, _ := newTestRegistry(&fakeBackend{})
	// A loaded entry without an adapter path still marks its catalog row via
	// the lora_<name> id convention.
	r.ReplaceLoaded([]types.LoadedModel{{ID: "lora_job-42_lora_adapter", Type: types.LoadedAdapter, CanUnload: true}})
	r.ReplaceAdapters([]types.AvailableAdapter{
		{Name: "job-42_lora_adapter", Path: "/adapters/job-42_lora_adapter"},
		{Name: "other", Path: "/adapters/other"},
	})
	got := r.Adapters()
	if !got[0].IsLoaded || got[1].IsLoaded {
		t.Fatalf("annotation wrong: %+v", got)
	}
}

func TestResetBlanksCollections(t *testing.T) {
	r, _ := newTestRegistry(&fakeBackend{})
	r.ReplaceLoaded([]types.LoadedModel{{ID: "lora_a", Type: types.LoadedAdapter, CanUnload: true}})
	r.ReplaceAdapters([]types.AvailableAdapter{{Name: "a", Path: "/adapters/a"}})
	r.ResetLoadedEmpty()
	r.ResetAdaptersEmpty()
	if len(r.Loaded()) != 0 || len(r.Adapters()) != 0 {
		t.Fatal("reset did not blank collections")
	}
}
