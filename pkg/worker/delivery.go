package worker

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/fuuuzzy/voicepipe/pkg/callback"
	"github.com/fuuuzzy/voicepipe/pkg/queue"
	"github.com/fuuuzzy/voicepipe/pkg/storage"
	"github.com/fuuuzzy/voicepipe/pkg/tasks"
	"github.com/fuuuzzy/voicepipe/pkg/telemetry"
)

// DeliveryWorker consumes the upload queue: it persists artifacts to object
// storage, cleans up local files per the job's policy and reports the final
// outcome to the caller's hook.
type DeliveryWorker struct {
	queue    *queue.Client
	uploader storage.Uploader
	notifier *callback.Notifier

	popTimeout time.Duration
	errorDelay time.Duration

	log zerolog.Logger
}

// DeliveryWorkerOpts configures a DeliveryWorker.
type DeliveryWorkerOpts struct {
	// PopTimeout bounds each blocking pop on the upload queue (default 5s).
	PopTimeout time.Duration
	// ErrorDelay is the pause after a queue-backend failure (default 5s).
	ErrorDelay time.Duration
}

// NewDeliveryWorker wires a delivery worker.
func NewDeliveryWorker(q *queue.Client, u storage.Uploader, n *callback.Notifier, opts DeliveryWorkerOpts, log zerolog.Logger) *DeliveryWorker {
	if opts.PopTimeout <= 0 {
		opts.PopTimeout = 5 * time.Second
	}
	if opts.ErrorDelay <= 0 {
		opts.ErrorDelay = 5 * time.Second
	}
	return &DeliveryWorker{
		queue:      q,
		uploader:   u,
		notifier:   n,
		popTimeout: opts.PopTimeout,
		errorDelay: opts.ErrorDelay,
		log:        log,
	}
}

// Run drains the upload queue until ctx is cancelled.
func (w *DeliveryWorker) Run(ctx context.Context) {
	w.log.Info().Msg("Delivery worker started, waiting for upload jobs...")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Delivery worker stopped")
			return
		default:
		}

		job, err := w.queue.PopUploadJob(ctx, w.popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.log.Error().Err(err).Msg("Upload queue pop failed, pausing")
			sleep(ctx, w.errorDelay)
			continue
		}
		if job == nil {
			continue
		}

		// The pop was destructive; finish the claimed job and its callback
		// even when shutdown arrives mid-upload.
		w.handle(context.WithoutCancel(ctx), job)
	}
}

func (w *DeliveryWorker) handle(ctx context.Context, job *tasks.UploadJob) {
	log := w.log.With().Str("task_id", job.TaskID).Logger()
	log.Info().Int("artifacts", len(job.OutputPaths)).Msg("Starting upload")

	urls, uploadErr := w.upload(ctx, job)

	// Local artifacts are cleaned up whether or not the upload succeeded;
	// disk space on the worker host is the scarcer resource.
	w.cleanup(job, log)

	if uploadErr != nil {
		log.Error().Err(uploadErr).Msg("Upload failed")
		telemetry.UploadsProcessed.WithLabelValues("failed").Inc()
		msg := "Upload failed: " + uploadErr.Error()
		if err := w.notifier.NotifyFailure(ctx, job.HookURL, job.TaskID, msg, ""); err != nil {
			log.Error().Err(err).Msg("Failure callback undeliverable")
		}
		return
	}

	telemetry.UploadsProcessed.WithLabelValues("success").Inc()

	var err error
	if len(job.OutputPaths) == 1 {
		var url string
		for _, u := range urls {
			url = u
		}
		err = w.notifier.NotifySuccess(ctx, job.HookURL, job.TaskID, url)
	} else {
		err = w.notifier.NotifySuccessBatch(ctx, job.HookURL, job.TaskID, urls)
	}
	if err != nil {
		log.Error().Err(err).Msg("Success callback undeliverable")
		return
	}
	log.Info().Msg("Upload delivered")
}

func (w *DeliveryWorker) upload(ctx context.Context, job *tasks.UploadJob) (map[string]string, error) {
	if len(job.OutputPaths) == 1 {
		path := job.OutputPaths[0]
		url, err := w.uploader.UploadFile(ctx, path, "", map[string]string{"task_id": job.TaskID})
		if err != nil {
			return nil, err
		}
		return map[string]string{path: url}, nil
	}
	// Batch jobs are namespaced under the task id.
	return w.uploader.UploadFiles(ctx, job.OutputPaths, job.TaskID)
}

func (w *DeliveryWorker) cleanup(job *tasks.UploadJob, log zerolog.Logger) {
	if !job.CleanupAfterUpload {
		return
	}
	removed := 0
	for _, p := range job.OutputPaths {
		if err := os.Remove(p); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				log.Warn().Str("path", p).Err(err).Msg("Failed to remove local artifact")
			}
			continue
		}
		removed++
	}
	if removed > 0 {
		log.Info().Int("removed", removed).Msg("Cleaned up local artifacts")
	}
}
