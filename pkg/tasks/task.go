// Package tasks defines the core data structures moved through the voicepipe
// queues: the pending synthesis Task and the UploadJob produced by a
// completed synthesis.
package tasks

import (
	"time"
)

// Priority bounds for admitted tasks. Callers submit a value in
// [PriorityMin, PriorityMax]; omitted priorities default to PriorityDefault.
const (
	PriorityMin     = 1
	PriorityMax     = 5
	PriorityDefault = 3
)

// ValidPriority reports whether p is inside the admitted range.
func ValidPriority(p int) bool {
	return p >= PriorityMin && p <= PriorityMax
}

// Payload is the caller-supplied request data carried by a Task. It is
// validated once at the submission boundary and treated as opaque by the
// queue and workers, except for HookURL which the delivery path extracts.
type Payload struct {
	// Text is the content to synthesize.
	Text string `json:"text"`

	// Language is the target language code (e.g. "en", "zh").
	Language string `json:"language"`

	// SpkAudioPrompt locates the reference voice sample: an http(s) URL or
	// a filesystem path readable by the synthesis worker.
	SpkAudioPrompt string `json:"spk_audio_prompt"`

	// HookURL is the caller webhook notified of the final task outcome.
	HookURL string `json:"hook_url"`
}

// Task is one voice-synthesis request resident in the process queue.
// The JSON field names are the wire format stored as the ZSET member.
type Task struct {
	// ID is the unique task identifier (UUID), generated at admission and
	// stable for the task's lifetime.
	ID string `json:"task_id"`

	// Priority is the caller-supplied scheduling priority (1..5).
	Priority int `json:"priority"`

	// CreatedAt is the admission timestamp. It feeds the ordering score and
	// is otherwise only used for observability.
	CreatedAt time.Time `json:"created_at"`

	// Payload is the request data.
	Payload Payload `json:"data"`
}

// UploadJob is the record handed from the synthesis worker to the delivery
// worker over the upload queue. By the time an UploadJob exists the
// originating Task has already left the process queue.
type UploadJob struct {
	// TaskID back-references the originating task for callbacks and logs.
	TaskID string `json:"task_id"`

	// HookURL is copied from the task payload so delivery never needs to
	// re-resolve it.
	HookURL string `json:"hook_url"`

	// OutputPaths are the local artifact files produced by synthesis,
	// in order.
	OutputPaths []string `json:"output_paths"`

	// CleanupAfterUpload requests deletion of the local artifacts once the
	// upload has been attempted, whether or not it succeeded.
	CleanupAfterUpload bool `json:"cleanup_after_upload"`
}
