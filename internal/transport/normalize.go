package transport

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"orchestd/pkg/types"
)

// The backend emits loosely-typed, aliased payloads ("id" vs "modelId",
// numeric sizes vs "Unknown", several timestamp formats). Everything is
// normalized here into the strict pkg/types model; an entry that cannot be
// normalized is dropped or reported as a server error, never passed through
// half-formed.

// flexTime accepts RFC3339, ISO timestamps without zone, and unix seconds.
type flexTime struct {
	time.Time
}

func (t *flexTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] != '"' {
		var secs float64
		if err := json.Unmarshal(b, &secs); err == nil && secs > 0 {
			t.Time = time.Unix(int64(secs), 0).UTC()
		}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			t.Time = ts
			return nil
		}
	}
	return nil
}

// flexInt64 accepts a number, a numeric string, or junk ("Unknown" -> 0).
type flexInt64 int64

func (n *flexInt64) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		if v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			*n = flexInt64(v)
		}
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		*n = flexInt64(f)
	}
	return nil
}

// envelope is the common wrapper shape: {success, data, <alias>, count} with
// error text under detail/error/message depending on the code path.
type envelope struct {
	Success  *bool           `json:"success"`
	Data     json.RawMessage `json:"data"`
	Models   json.RawMessage `json:"models"`
	Adapters json.RawMessage `json:"adapters"`
	Jobs     json.RawMessage `json:"jobs"`
	Detail   string          `json:"detail"`
	Error    string          `json:"error"`
	Message  string          `json:"message"`
}

func (e *envelope) failed() bool { return e.Success != nil && !*e.Success }

func (e *envelope) message() string {
	for _, s := range []string{e.Error, e.Detail, e.Message} {
		if s != "" {
			return s
		}
	}
	return "backend reported failure"
}

// list returns the first present payload field among data and the aliases.
func (e *envelope) list() json.RawMessage {
	for _, raw := range []json.RawMessage{e.Data, e.Models, e.Adapters, e.Jobs} {
		if len(raw) > 0 && string(raw) != "null" {
			return raw
		}
	}
	return nil
}

type rawParameters struct {
	Epochs       int     `json:"epochs"`
	LearningRate float64 `json:"learning_rate"`
	LoRARank     int     `json:"lora_rank"`
	R            int     `json:"r"`
	LoRAAlpha    int     `json:"lora_alpha"`
}

func (p rawParameters) normalize() types.TrainingParameters {
	rank := p.LoRARank
	if rank == 0 {
		rank = p.R
	}
	return types.TrainingParameters{
		Epochs:       p.Epochs,
		LearningRate: p.LearningRate,
		LoRARank:     rank,
		LoRAAlpha:    p.LoRAAlpha,
	}
}

type rawJob struct {
	ID         string        `json:"id"`
	JobID      string        `json:"jobId"`
	Name       string        `json:"name"`
	ModelName  string        `json:"modelName"`
	ModelType  string        `json:"model_type"`
	ModelType2 string        `json:"modelType"`
	Dataset    string        `json:"dataset"`
	BaseModel  string        `json:"base_model"`
	Parameters rawParameters `json:"parameters"`
	Status     string        `json:"status"`
	Accuracy   *float64      `json:"accuracy"`
	Log        string        `json:"log"`
	Progress   float64       `json:"progress"`
	CreatedAt  flexTime      `json:"created_at"`
	UpdatedAt  flexTime      `json:"updated_at"`
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}

func (r rawJob) normalize() (types.TrainingJob, bool) {
	id := firstNonEmpty(r.ID, r.JobID)
	if id == "" {
		return types.TrainingJob{}, false
	}
	status := types.JobStatus(r.Status)
	switch status {
	case types.JobPending, types.JobRunning, types.JobCompleted, types.JobFailed:
	case "cancelled":
		// The backend has no distinct terminal state for cancels either; a
		// stray "cancelled" from older builds folds into failed.
		status = types.JobFailed
	default:
		status = types.JobPending
	}
	return types.TrainingJob{
		ID:         id,
		Name:       firstNonEmpty(r.Name, r.ModelName, id),
		ModelType:  types.ModelType(firstNonEmpty(r.ModelType, r.ModelType2, string(types.ModelLoRA))),
		Dataset:    r.Dataset,
		BaseModel:  r.BaseModel,
		Parameters: r.Parameters.normalize(),
		Status:     status,
		Accuracy:   r.Accuracy,
		Log:        r.Log,
		Progress:   r.Progress,
		CreatedAt:  r.CreatedAt.Time,
		UpdatedAt:  r.UpdatedAt.Time,
	}, true
}

type rawLoadedModel struct {
	ID          string    `json:"id"`
	ModelID     string    `json:"modelId"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	BaseModel   string    `json:"base_model"`
	AdapterPath string    `json:"adapter_path"`
	Size        flexInt64 `json:"size"`
	LoadedAt    flexTime  `json:"loaded_at"`
	CanUnload   *bool     `json:"can_unload"`
}

func (r rawLoadedModel) normalize() (types.LoadedModel, bool) {
	id := firstNonEmpty(r.ID, r.ModelID)
	if id == "" {
		return types.LoadedModel{}, false
	}
	typ := types.LoadedAdapter
	if strings.EqualFold(r.Type, "base") {
		typ = types.LoadedBase
	}
	// Base entries are never unloadable, whatever the payload claims.
	canUnload := typ != types.LoadedBase
	if canUnload && r.CanUnload != nil {
		canUnload = *r.CanUnload
	}
	return types.LoadedModel{
		ID:          id,
		Name:        firstNonEmpty(r.Name, id),
		Type:        typ,
		BaseModel:   r.BaseModel,
		AdapterPath: r.AdapterPath,
		SizeBytes:   int64(r.Size),
		LoadedAt:    r.LoadedAt.Time,
		CanUnload:   canUnload,
	}, true
}

type rawAdapter struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Size      flexInt64 `json:"size"`
	BaseModel string    `json:"base_model"`
	TrainLoss *float64  `json:"train_loss"`
	Created   flexTime  `json:"created"`
	CreatedAt flexTime  `json:"created_at"`
}

func (r rawAdapter) normalize() (types.AvailableAdapter, bool) {
	if r.Name == "" && r.Path == "" {
		return types.AvailableAdapter{}, false
	}
	created := r.Created.Time
	if created.IsZero() {
		created = r.CreatedAt.Time
	}
	// IsLoaded is deliberately not taken from the wire: it is derived against
	// the loaded-model set by the registry so the two can never diverge.
	return types.AvailableAdapter{
		Name:      firstNonEmpty(r.Name, r.Path),
		Path:      r.Path,
		SizeBytes: int64(r.Size),
		BaseModel: r.BaseModel,
		TrainLoss: r.TrainLoss,
		CreatedAt: created,
	}, true
}

type rawModelStatus struct {
	Status   string   `json:"status"`
	Type     string   `json:"type"`
	LoadedAt flexTime `json:"loaded_at"`
	Error    string   `json:"error"`
}
