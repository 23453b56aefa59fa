package types

import "time"

// JobStatus is the lifecycle state of a training job.
// Transitions are monotonic: pending -> running -> {completed|failed}.
// A user cancel forces any non-terminal job to failed.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether no further transition may leave s.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// ModelType identifies the training/model family of a job.
type ModelType string

const (
	ModelLoRA  ModelType = "lora"
	ModelLlama ModelType = "llama"
	ModelBLIP  ModelType = "blip"
)

// TrainingParameters are the hyperparameters submitted with a job.
// LoRARank/LoRAAlpha only apply to LoRA jobs.
type TrainingParameters struct {
	Epochs       int     `json:"epochs"`
	LearningRate float64 `json:"learning_rate"`
	LoRARank     int     `json:"lora_rank,omitempty"`
	LoRAAlpha    int     `json:"lora_alpha,omitempty"`
}

// TrainingJob is a server-tracked asynchronous training run.
type TrainingJob struct {
	// Stable identifier. Client-assigned (uuid) while Provisional is true,
	// replaced by the server id on reconcile.
	ID        string    `json:"id" example:"job-42"`
	Name      string    `json:"name" example:"support-tickets-lora"`
	ModelType ModelType `json:"model_type" example:"lora"`
	// Dataset reference or filename, e.g. "train.jsonl".
	Dataset    string             `json:"dataset" example:"train.jsonl"`
	BaseModel  string             `json:"base_model,omitempty" example:"llama3"`
	Parameters TrainingParameters `json:"parameters"`
	Status     JobStatus          `json:"status" example:"pending"`
	// Accuracy reported by the server after completion; nil until then.
	Accuracy *float64 `json:"accuracy,omitempty" example:"0.92"`
	// Append-only training log text.
	Log      string  `json:"log,omitempty"`
	Progress float64 `json:"progress,omitempty" example:"60"`
	// Provisional marks an optimistic local entry awaiting server truth.
	Provisional bool      `json:"provisional,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// LoadedModelType distinguishes base models from loaded adapters.
type LoadedModelType string

const (
	LoadedBase    LoadedModelType = "base"
	LoadedAdapter LoadedModelType = "adapter"
)

// LoadedModel is a model instance currently loaded on the backend.
// Entries with Type == LoadedBase always have CanUnload == false.
type LoadedModel struct {
	ID          string          `json:"id" example:"lora_job-42_lora_adapter"`
	Name        string          `json:"name" example:"job-42 adapter"`
	Type        LoadedModelType `json:"type" example:"adapter"`
	BaseModel   string          `json:"base_model,omitempty" example:"llama3"`
	AdapterPath string          `json:"adapter_path,omitempty"`
	SizeBytes   int64           `json:"size_bytes,omitempty" example:"104857600"`
	LoadedAt    time.Time       `json:"loaded_at"`
	CanUnload   bool            `json:"can_unload" example:"true"`
}

// AvailableAdapter is an on-disk adapter from the backend catalog.
// IsLoaded is derived by membership against the loaded set, never stored.
type AvailableAdapter struct {
	Name      string    `json:"name" example:"job-42_lora_adapter"`
	Path      string    `json:"path" example:"/models/lora_adapters/trained/job-42_lora_adapter"`
	SizeBytes int64     `json:"size_bytes" example:"104857600"`
	BaseModel string    `json:"base_model,omitempty" example:"llama3"`
	TrainLoss *float64  `json:"train_loss,omitempty" example:"0.08"`
	CreatedAt time.Time `json:"created_at"`
	IsLoaded  bool      `json:"is_loaded" example:"false"`
}

// ModelStatus is the read-through status of one model id.
type ModelStatus struct {
	ModelID  string    `json:"model_id" example:"lora_job-42_lora_adapter"`
	Status   string    `json:"status" example:"loaded"`
	Type     string    `json:"type,omitempty" example:"adapter"`
	LoadedAt time.Time `json:"loaded_at,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// DatasetFile is a local dataset available for training submissions.
type DatasetFile struct {
	Name       string    `json:"name" example:"job-42.jsonl"`
	Path       string    `json:"path"`
	SizeBytes  int64     `json:"size_bytes" example:"4096"`
	ModifiedAt time.Time `json:"modified_at"`
}

// NotificationKind classifies a surfaced outcome.
type NotificationKind string

const (
	NoteSuccess NotificationKind = "success"
	NoteWarning NotificationKind = "warning"
	NoteError   NotificationKind = "error"
	NoteInfo    NotificationKind = "info"
)

// Notification is a user-facing outcome entry. IDs are strictly increasing
// per queue, so insertion order equals id order.
type Notification struct {
	ID        uint64           `json:"id" example:"17"`
	Kind      NotificationKind `json:"kind" example:"warning"`
	Message   string           `json:"message" example:"training job job-42 cancelled"`
	Timestamp time.Time        `json:"timestamp"`
}
