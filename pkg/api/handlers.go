// Package api implements the HTTP front door: task submission, cancellation
// and queue stats, behind optional JWT bearer authentication.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/fuuuzzy/voicepipe/pkg/queue"
	"github.com/fuuuzzy/voicepipe/pkg/tasks"
	"github.com/fuuuzzy/voicepipe/pkg/telemetry"
)

// Handler serves the task endpoints.
type Handler struct {
	queue     *queue.Client
	validate  *validator.Validate
	languages map[string]bool
	maxBody   int64
	log       zerolog.Logger
}

// NewHandler creates the endpoint handler. supportedLanguages is the
// admission whitelist for the optional params.language field.
func NewHandler(q *queue.Client, supportedLanguages []string, maxBodyBytes int64, log zerolog.Logger) *Handler {
	v := validator.New()
	// Report json field names in validation errors.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	langs := make(map[string]bool, len(supportedLanguages))
	for _, l := range supportedLanguages {
		langs[l] = true
	}

	if maxBodyBytes <= 0 {
		maxBodyBytes = 100 << 20
	}

	return &Handler{
		queue:     q,
		validate:  v,
		languages: langs,
		maxBody:   maxBodyBytes,
		log:       log,
	}
}

// GenerateParams carries the optional per-request parameters.
type GenerateParams struct {
	Language string `json:"language"`
}

// GenerateRequest is the JSON body for POST /generate.
type GenerateRequest struct {
	Text           string         `json:"text" validate:"required"`
	SpkAudioPrompt string         `json:"spk_audio_prompt" validate:"required"`
	Priority       *int           `json:"priority" validate:"omitempty,min=1,max=5"`
	HookURL        string         `json:"hook_url" validate:"required"`
	Params         GenerateParams `json:"params"`
}

// TaskResponse is the body returned by the submission and cancellation
// endpoints.
type TaskResponse struct {
	TaskUUID string `json:"task_uuid"`
	Status   string `json:"status"`
	Message  string `json:"message"`
}

// Generate handles POST /generate: validate, admit, reply 201 with the new
// task id. Invalid requests never reach the queue.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)

	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "File too large. Maximum size is 100MB")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	priority := tasks.PriorityDefault
	if req.Priority != nil {
		priority = *req.Priority
	}

	language := req.Params.Language
	if language == "" {
		language = "en"
	}
	if !h.languages[language] {
		writeError(w, http.StatusBadRequest, "Unsupported language: "+language)
		return
	}

	taskID, err := h.queue.Enqueue(r.Context(), tasks.Payload{
		Text:           req.Text,
		Language:       language,
		SpkAudioPrompt: req.SpkAudioPrompt,
		HookURL:        req.HookURL,
	}, priority)
	if err != nil {
		h.log.Error().Err(err).Msg("Enqueue failed")
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	telemetry.TasksSubmitted.WithLabelValues(strconv.Itoa(priority)).Inc()
	h.log.Info().Str("task_id", taskID).Int("priority", priority).Msg("Created task")

	writeJSON(w, http.StatusCreated, TaskResponse{
		TaskUUID: taskID,
		Status:   "queued",
		Message:  "Task added to queue successfully",
	})
}

// Cancel handles DELETE /tasks/{taskID}/cancel. Cancellation is idempotent:
// an unknown or already-claimed id still answers 200, so callers can retry
// safely.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	removed, err := h.queue.Cancel(r.Context(), taskID)
	if err != nil {
		h.log.Error().Err(err).Str("task_id", taskID).Msg("Cancel failed")
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if removed {
		telemetry.TasksCanceled.WithLabelValues("found").Inc()
		h.log.Info().Str("task_id", taskID).Msg("Canceled task")
	} else {
		telemetry.TasksCanceled.WithLabelValues("not_found").Inc()
	}

	writeJSON(w, http.StatusOK, TaskResponse{
		TaskUUID: taskID,
		Status:   "canceled",
		Message:  "Task canceled successfully",
	})
}

// StatsResponse is the body for GET /stats.
type StatsResponse struct {
	ProcessQueued int64 `json:"process_queued"`
	UploadQueued  int64 `json:"upload_queued"`
	Timestamp     int64 `json:"timestamp"`
}

// Stats handles GET /stats with current queue depths.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.Depths(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Stats query failed")
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, StatsResponse{
		ProcessQueued: stats.ProcessQueued,
		UploadQueued:  stats.UploadQueued,
		Timestamp:     time.Now().Unix(),
	})
}

// validationMessage maps the first validation failure to the API's
// field-specific error message.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid request"
	}
	fe := verrs[0]
	switch {
	case fe.Field() == "priority":
		return "Priority must be between 1 and 5"
	case fe.Tag() == "required":
		return "Missing required field: " + fe.Field()
	default:
		return "Invalid field: " + fe.Field()
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
