// Package worker implements the two consumer loops of the pipeline: the
// synthesis worker draining the process queue and the delivery worker
// draining the upload queue. Both loops run until their context is cancelled
// and survive backend outages by pausing and resuming; a task-level failure
// never terminates a worker.
package worker

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/fuuuzzy/voicepipe/pkg/callback"
	"github.com/fuuuzzy/voicepipe/pkg/queue"
	"github.com/fuuuzzy/voicepipe/pkg/synth"
	"github.com/fuuuzzy/voicepipe/pkg/tasks"
	"github.com/fuuuzzy/voicepipe/pkg/telemetry"
)

// SynthWorker consumes the process queue: it dequeues the highest-scored
// pending task, runs synthesis and routes the outcome: success to the
// upload queue, failure straight to the caller's hook.
type SynthWorker struct {
	queue     *queue.Client
	processor *synth.Processor
	notifier  *callback.Notifier

	idleDelay          time.Duration
	errorDelay         time.Duration
	cleanupAfterUpload bool

	log zerolog.Logger
}

// SynthWorkerOpts configures a SynthWorker.
type SynthWorkerOpts struct {
	// IdleDelay is the poll interval when the queue is empty (default 1s).
	IdleDelay time.Duration
	// ErrorDelay is the pause after a non-task failure, e.g. a Redis outage
	// (default 5s).
	ErrorDelay time.Duration
	// CleanupAfterUpload is stamped onto produced upload jobs.
	CleanupAfterUpload bool
}

// NewSynthWorker wires a synthesis worker.
func NewSynthWorker(q *queue.Client, p *synth.Processor, n *callback.Notifier, opts SynthWorkerOpts, log zerolog.Logger) *SynthWorker {
	if opts.IdleDelay <= 0 {
		opts.IdleDelay = time.Second
	}
	if opts.ErrorDelay <= 0 {
		opts.ErrorDelay = 5 * time.Second
	}
	return &SynthWorker{
		queue:              q,
		processor:          p,
		notifier:           n,
		idleDelay:          opts.IdleDelay,
		errorDelay:         opts.ErrorDelay,
		cleanupAfterUpload: opts.CleanupAfterUpload,
		log:                log,
	}
}

// Run drains the process queue until ctx is cancelled.
func (w *SynthWorker) Run(ctx context.Context) {
	w.log.Info().Msg("Synthesis worker started, waiting for tasks...")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Synthesis worker stopped")
			return
		default:
		}

		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.log.Error().Err(err).Msg("Dequeue failed, pausing")
			sleep(ctx, w.errorDelay)
			continue
		}
		if task == nil {
			sleep(ctx, w.idleDelay)
			continue
		}

		// The dequeue was destructive, so the claimed task must reach a
		// terminal outcome even when shutdown arrives mid-flight. Shutdown is
		// honored between tasks only.
		w.handle(context.WithoutCancel(ctx), task)
	}
}

// handle runs one task to a terminal outcome. The worker owns the task
// exclusively here; nothing it does touches shared state besides the queue
// push at the end.
func (w *SynthWorker) handle(ctx context.Context, task *tasks.Task) {
	log := w.log.With().Str("task_id", task.ID).Logger()
	start := time.Now()

	outputPath, err := w.processor.Process(ctx, task)
	telemetry.SynthDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		w.removePartialOutput(outputPath, log)

		var quiet *synth.QuietAudioError
		if errors.As(err, &quiet) {
			log.Error().
				Float64("rms_level", quiet.RMSLevel).
				Float64("threshold", quiet.Threshold).
				Msg("Task failed: reference audio too quiet")
			telemetry.SynthProcessed.WithLabelValues("failed_quiet").Inc()
			w.notifyFailure(ctx, task, quiet.Error(), quiet.Code(), log)
			return
		}

		log.Error().Err(err).Msg("Task failed")
		telemetry.SynthProcessed.WithLabelValues("failed").Inc()
		w.notifyFailure(ctx, task, "Voice clone failed: "+err.Error(), "", log)
		return
	}

	job := tasks.UploadJob{
		TaskID:             task.ID,
		HookURL:            task.Payload.HookURL,
		OutputPaths:        []string{outputPath},
		CleanupAfterUpload: w.cleanupAfterUpload,
	}
	if err := w.queue.PushUploadJob(ctx, job); err != nil {
		// The artifact exists but delivery can't be handed off; report the
		// failure to the caller rather than leaving the task in limbo, and
		// reclaim the disk space since the artifact will never be uploaded.
		log.Error().Err(err).Msg("Failed to push upload job")
		telemetry.SynthProcessed.WithLabelValues("failed").Inc()
		w.removePartialOutput(outputPath, log)
		w.notifyFailure(ctx, task, "Failed to schedule upload: "+err.Error(), "", log)
		return
	}

	telemetry.SynthProcessed.WithLabelValues("success").Inc()
	log.Info().Str("output", outputPath).Msg("Synthesis completed, pushed to upload queue")
}

func (w *SynthWorker) notifyFailure(ctx context.Context, task *tasks.Task, message, code string, log zerolog.Logger) {
	if err := w.notifier.NotifyFailure(ctx, task.Payload.HookURL, task.ID, message, code); err != nil {
		log.Error().Err(err).Msg("Failure callback undeliverable")
	}
}

func (w *SynthWorker) removePartialOutput(path string, log zerolog.Logger) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Str("path", path).Err(err).Msg("Failed to remove partial output")
	}
}

// sleep waits for d or until ctx is cancelled, whichever comes first.
func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}
