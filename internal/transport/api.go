package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"orchestd/pkg/types"
)

// Typed operations against the model backend. Each call fetches a fresh
// credential, applies its timeout class and returns canonical pkg/types
// values or a *Error.

// SubmitJobRequest is the body for the generic job-submission endpoint.
type SubmitJobRequest struct {
	Name       string                   `json:"name"`
	Dataset    string                   `json:"dataset"`
	ModelType  types.ModelType          `json:"model_type"`
	BaseModel  string                   `json:"base_model,omitempty"`
	Parameters types.TrainingParameters `json:"parameters"`
}

// ListJobs fetches the server-reported job list. Filters become query
// parameters (e.g. status=running).
func (c *Client) ListJobs(ctx context.Context, filters map[string]string) ([]types.TrainingJob, error) {
	path := "/api/training/jobs"
	if len(filters) > 0 {
		q := url.Values{}
		for k, v := range filters {
			q.Set(k, v)
		}
		path += "?" + q.Encode()
	}
	var env envelope
	if err := c.getJSON(ctx, classDefault, path, &env); err != nil {
		return nil, err
	}
	if env.failed() {
		return nil, NewError(KindServer, 0, env.message())
	}
	raw := env.list()
	if raw == nil {
		return nil, NewError(KindServer, 0, "job list missing from payload")
	}
	var rows []rawJob
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, NewError(KindServer, 0, fmt.Sprintf("malformed job list: %v", err))
	}
	jobs := make([]types.TrainingJob, 0, len(rows))
	for _, r := range rows {
		if j, ok := r.normalize(); ok {
			jobs = append(jobs, j)
		}
	}
	return jobs, nil
}

// SubmitJob creates a job on the server and returns the confirmed entry.
func (c *Client) SubmitJob(ctx context.Context, req SubmitJobRequest) (types.TrainingJob, error) {
	var env struct {
		envelope
		Job *rawJob `json:"job"`
	}
	if err := c.postJSON(ctx, classDefault, "/api/training/jobs", req, &env); err != nil {
		return types.TrainingJob{}, err
	}
	if env.failed() {
		return types.TrainingJob{}, NewError(KindServer, 0, env.message())
	}
	var row rawJob
	switch {
	case env.Job != nil:
		row = *env.Job
	case len(env.Data) > 0:
		if err := json.Unmarshal(env.Data, &row); err != nil {
			return types.TrainingJob{}, NewError(KindServer, 0, fmt.Sprintf("malformed job payload: %v", err))
		}
	default:
		return types.TrainingJob{}, NewError(KindServer, 0, "job missing from payload")
	}
	job, ok := row.normalize()
	if !ok {
		return types.TrainingJob{}, NewError(KindServer, 0, "job payload has no id")
	}
	return job, nil
}

// DeleteJob removes a job server-side. Callers drop the local entry only
// after this returns nil.
func (c *Client) DeleteJob(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrValidation("job id is required")
	}
	var env envelope
	if err := c.deleteJSON(ctx, "/api/training/jobs/"+url.PathEscape(id), &env); err != nil {
		return err
	}
	if env.failed() {
		return NewError(KindServer, 0, env.message())
	}
	return nil
}

// CancelJob requests a server-side cancel of a training run. The backend
// answers 200 with success=false when the job is unknown or already terminal;
// that case surfaces as a NotFound error.
func (c *Client) CancelJob(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrValidation("job id is required")
	}
	var env envelope
	if err := c.postJSON(ctx, classDefault, "/train/cancel/"+url.PathEscape(id), nil, &env); err != nil {
		return err
	}
	if env.failed() {
		return NewError(KindNotFound, 0, env.message())
	}
	return nil
}

// SubmitLoRA uploads a dataset and starts LoRA training for jobID. Parameters
// travel as a JSON form field next to the multipart file, matching the
// backend's form contract.
func (c *Client) SubmitLoRA(ctx context.Context, jobID, fileName string, dataset io.Reader, baseModel string, params types.TrainingParameters) (types.TrainingJob, error) {
	if strings.TrimSpace(jobID) == "" {
		return types.TrainingJob{}, ErrValidation("job id is required")
	}
	paramJSON, err := json.Marshal(map[string]any{
		"epochs":        params.Epochs,
		"learning_rate": params.LearningRate,
		"r":             params.LoRARank,
		"lora_alpha":    params.LoRAAlpha,
	})
	if err != nil {
		return types.TrainingJob{}, ErrValidation(fmt.Sprintf("encode parameters: %v", err))
	}
	fields := map[string]string{
		"base_model": baseModel,
		"parameters": string(paramJSON),
	}
	var env struct {
		envelope
		JobID string `json:"job_id"`
	}
	if err := c.postMultipart(ctx, "/train/lora/"+url.PathEscape(jobID), fields, "dataset", fileName, dataset, &env); err != nil {
		return types.TrainingJob{}, err
	}
	if env.failed() {
		return types.TrainingJob{}, NewError(KindServer, 0, env.message())
	}
	id := firstNonEmpty(env.JobID, jobID)
	now := time.Now().UTC()
	return types.TrainingJob{
		ID:         id,
		Name:       id,
		ModelType:  types.ModelLoRA,
		Dataset:    fileName,
		BaseModel:  baseModel,
		Parameters: params,
		Status:     types.JobPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// LoadedModels fetches the currently loaded model instances.
func (c *Client) LoadedModels(ctx context.Context) ([]types.LoadedModel, error) {
	var env envelope
	if err := c.getJSON(ctx, classDefault, "/models/loaded", &env); err != nil {
		return nil, err
	}
	if env.failed() {
		return nil, NewError(KindServer, 0, env.message())
	}
	raw := env.list()
	if raw == nil {
		return nil, NewError(KindServer, 0, "model list missing from payload")
	}
	var rows []rawLoadedModel
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, NewError(KindServer, 0, fmt.Sprintf("malformed model list: %v", err))
	}
	models := make([]types.LoadedModel, 0, len(rows))
	for _, r := range rows {
		if m, ok := r.normalize(); ok {
			models = append(models, m)
		}
	}
	return models, nil
}

// AvailableAdapters fetches the on-disk adapter catalog. IsLoaded is left
// false here; the model registry derives it against the loaded set.
func (c *Client) AvailableAdapters(ctx context.Context) ([]types.AvailableAdapter, error) {
	var env envelope
	if err := c.getJSON(ctx, classDefault, "/models/available-adapters", &env); err != nil {
		return nil, err
	}
	if env.failed() {
		return nil, NewError(KindServer, 0, env.message())
	}
	raw := env.list()
	if raw == nil {
		return nil, NewError(KindServer, 0, "adapter list missing from payload")
	}
	var rows []rawAdapter
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, NewError(KindServer, 0, fmt.Sprintf("malformed adapter list: %v", err))
	}
	adapters := make([]types.AvailableAdapter, 0, len(rows))
	for _, r := range rows {
		if a, ok := r.normalize(); ok {
			adapters = append(adapters, a)
		}
	}
	return adapters, nil
}

// LoadAdapter loads an adapter onto a base model and returns the resulting
// registry entry. The backend names loaded adapters "lora_<dirname>".
func (c *Client) LoadAdapter(ctx context.Context, adapterPath, baseModel string) (types.LoadedModel, error) {
	if strings.TrimSpace(adapterPath) == "" {
		return types.LoadedModel{}, ErrValidation("adapter path is required")
	}
	body := map[string]string{"adapter_path": adapterPath}
	if baseModel != "" {
		body["base_model"] = baseModel
	}
	var env struct {
		envelope
		ModelID string `json:"model_id"`
	}
	if err := c.postJSON(ctx, classDefault, "/models/load-lora", body, &env); err != nil {
		return types.LoadedModel{}, err
	}
	if env.failed() {
		return types.LoadedModel{}, NewError(KindServer, 0, env.message())
	}
	name := adapterPath
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	id := env.ModelID
	if id == "" {
		id = "lora_" + name
	}
	return types.LoadedModel{
		ID:          id,
		Name:        name,
		Type:        types.LoadedAdapter,
		BaseModel:   baseModel,
		AdapterPath: adapterPath,
		LoadedAt:    time.Now().UTC(),
		CanUnload:   true,
	}, nil
}

// UnloadModel asks the backend to unload one model instance.
func (c *Client) UnloadModel(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrValidation("model id is required")
	}
	var env envelope
	if err := c.deleteJSON(ctx, "/models/unload/"+url.PathEscape(id), &env); err != nil {
		return err
	}
	if env.failed() {
		return NewError(KindNotFound, 0, env.message())
	}
	return nil
}

// ModelStatus is a read-through status query for one model id.
func (c *Client) ModelStatus(ctx context.Context, id string) (types.ModelStatus, error) {
	if strings.TrimSpace(id) == "" {
		return types.ModelStatus{}, ErrValidation("model id is required")
	}
	var env struct {
		envelope
		Status *rawModelStatus `json:"status"`
	}
	if err := c.getJSON(ctx, classShort, "/models/"+url.PathEscape(id)+"/status", &env); err != nil {
		return types.ModelStatus{}, err
	}
	if env.Status == nil {
		return types.ModelStatus{}, NewError(KindServer, 0, "status missing from payload")
	}
	st := types.ModelStatus{
		ModelID:  id,
		Status:   env.Status.Status,
		Type:     env.Status.Type,
		LoadedAt: env.Status.LoadedAt.Time,
		Error:    env.Status.Error,
	}
	if env.failed() && st.Status == "" {
		st.Status = "not_found"
	}
	return st, nil
}

// Health probes the backend health endpoint with the short deadline.
func (c *Client) Health(ctx context.Context) error {
	var out map[string]any
	return c.getJSON(ctx, classShort, "/health", &out)
}
