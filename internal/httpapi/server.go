package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"orchestd/internal/models"
	"orchestd/pkg/types"
)

// Service defines the orchestration methods required by the HTTP API layer.
type Service interface {
	Jobs() []types.TrainingJob
	Models() []types.LoadedModel
	Adapters() []types.AvailableAdapter
	Notifications() []types.Notification
	Datasets() ([]types.DatasetFile, error)
	State() types.StateResponse

	RefreshAll(ctx context.Context) error
	SubmitJob(ctx context.Context, name, dataset string, mt types.ModelType, p types.TrainingParameters) (types.TrainingJob, error)
	SubmitLoRA(ctx context.Context, jobID, baseModel string, p types.TrainingParameters) (types.TrainingJob, error)
	CancelJob(ctx context.Context, id string) error
	DeleteJob(ctx context.Context, id string) error
	LoadModel(ctx context.Context, adapterPath, baseModel string) (types.LoadedModel, error)
	UnloadModel(ctx context.Context, id string) types.UnloadResponse
	ModelStatus(ctx context.Context, id string) (types.ModelStatus, error)
	RemoveNotification(id uint64) bool
	ClearNotifications()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
	}
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, out any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// NewMux builds the view API router.
func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(accessLog)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/jobs", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, types.JobsResponse{Jobs: svc.Jobs()})
	})

	r.Post("/jobs", func(w http.ResponseWriter, r *http.Request) {
		var req types.SubmitJobRequest
		if !decodeJSONBody(w, r, &req) {
			return
		}
		job, err := svc.SubmitJob(r.Context(), req.Name, req.Dataset, req.ModelType, req.Parameters)
		if err != nil {
			writeTransportError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(job)
	})

	r.Post("/jobs/lora/{id}", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			BaseModel  string                   `json:"base_model"`
			Parameters types.TrainingParameters `json:"parameters"`
		}
		if !decodeJSONBody(w, r, &req) {
			return
		}
		job, err := svc.SubmitLoRA(r.Context(), chi.URLParam(r, "id"), req.BaseModel, req.Parameters)
		if err != nil {
			writeTransportError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(job)
	})

	r.Post("/jobs/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		if err := svc.CancelJob(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeTransportError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Delete("/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		if err := svc.DeleteJob(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeTransportError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/models", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, types.ModelsResponse{Models: svc.Models()})
	})

	r.Post("/models/load", func(w http.ResponseWriter, r *http.Request) {
		var req types.LoadModelRequest
		if !decodeJSONBody(w, r, &req) {
			return
		}
		m, err := svc.LoadModel(r.Context(), req.AdapterPath, req.BaseModel)
		if err != nil {
			writeTransportError(w, err)
			return
		}
		writeJSON(w, m)
	})

	r.Delete("/models/{id}", func(w http.ResponseWriter, r *http.Request) {
		res := svc.UnloadModel(r.Context(), chi.URLParam(r, "id"))
		if !res.Success {
			status := http.StatusBadGateway
			switch res.ErrorType {
			case models.ErrTypeBaseModelUnload:
				status = http.StatusConflict
			case models.ErrTypeModelNotFound:
				status = http.StatusNotFound
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(res)
			return
		}
		writeJSON(w, res)
	})

	r.Get("/models/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		st, err := svc.ModelStatus(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeTransportError(w, err)
			return
		}
		writeJSON(w, st)
	})

	r.Get("/adapters", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, types.AdaptersResponse{Adapters: svc.Adapters()})
	})

	r.Get("/datasets", func(w http.ResponseWriter, r *http.Request) {
		files, err := svc.Datasets()
		if err != nil {
			writeTransportError(w, err)
			return
		}
		writeJSON(w, types.DatasetsResponse{Datasets: files})
	})

	r.Get("/notifications", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, types.NotificationsResponse{Notifications: svc.Notifications()})
	})

	r.Delete("/notifications/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid notification id")
			return
		}
		if !svc.RemoveNotification(id) {
			writeJSONError(w, http.StatusNotFound, "notification not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Delete("/notifications", func(w http.ResponseWriter, r *http.Request) {
		svc.ClearNotifications()
		w.WriteHeader(http.StatusNoContent)
	})

	r.Post("/refresh", func(w http.ResponseWriter, r *http.Request) {
		if err := svc.RefreshAll(r.Context()); err != nil {
			// Collections were already reset and the queue notified; report
			// the upstream failure but include current state for the caller.
			writeTransportError(w, err)
			return
		}
		writeJSON(w, svc.State())
	})

	r.Get("/state", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.State())
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", promhttp.Handler())
	MountSwagger(r)

	return r
}
