package types

// Request/response payloads for the local view API.

// SubmitJobRequest starts a generic training job.
type SubmitJobRequest struct {
	// Human-friendly job name.
	// example: support-tickets-lora
	Name string `json:"name" example:"support-tickets-lora"`
	// Dataset reference or filename.
	// example: train.jsonl
	Dataset string `json:"dataset" example:"train.jsonl"`
	// Model family to train.
	// example: lora
	ModelType ModelType `json:"model_type" example:"lora"`
	// Optional base model for adapter training.
	// example: llama3
	BaseModel  string             `json:"base_model,omitempty" example:"llama3"`
	Parameters TrainingParameters `json:"parameters"`
}

// LoadModelRequest loads an adapter onto a base model.
type LoadModelRequest struct {
	// Path of the adapter directory in the backend catalog.
	// example: /models/lora_adapters/trained/job-42_lora_adapter
	AdapterPath string `json:"adapter_path" example:"/models/lora_adapters/trained/job-42_lora_adapter"`
	// Base model to apply the adapter to; backend default when empty.
	// example: llama3
	BaseModel string `json:"base_model,omitempty" example:"llama3"`
}

// UnloadResponse reports the structured outcome of an unload attempt.
type UnloadResponse struct {
	Success bool `json:"success" example:"false"`
	// One of base_model_unload, model_not_found when Success is false.
	// example: base_model_unload
	ErrorType string `json:"error_type,omitempty" example:"base_model_unload"`
	Message   string `json:"message,omitempty"`
}

// JobsResponse wraps GET /jobs.
type JobsResponse struct {
	Jobs []TrainingJob `json:"jobs"`
}

// ModelsResponse wraps GET /models.
type ModelsResponse struct {
	Models []LoadedModel `json:"models"`
}

// AdaptersResponse wraps GET /adapters.
type AdaptersResponse struct {
	Adapters []AvailableAdapter `json:"adapters"`
}

// DatasetsResponse wraps GET /datasets.
type DatasetsResponse struct {
	Datasets []DatasetFile `json:"datasets"`
}

// NotificationsResponse wraps GET /notifications.
type NotificationsResponse struct {
	Notifications []Notification `json:"notifications"`
}

// ConcernState is the loading flag and last error for one concern.
type ConcernState struct {
	Loading bool `json:"loading" example:"false"`
	// Last refresh error for this concern, empty when the last refresh succeeded.
	LastError string `json:"last_error,omitempty"`
}

// StateResponse is returned by GET /state.
type StateResponse struct {
	Jobs     ConcernState `json:"jobs"`
	Models   ConcernState `json:"models"`
	Adapters ConcernState `json:"adapters"`
	// Sequence token of the last applied refresh.
	// example: 12
	RefreshSeq uint64 `json:"refresh_seq" example:"12"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: dataset is required
	Error string `json:"error" example:"dataset is required"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}
