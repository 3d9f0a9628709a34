// Package synth wraps the external speech-synthesis engine behind the Engine
// interface and handles the filesystem work around it: resolving the
// reference voice sample (downloading it when the caller supplied a URL) and
// placing the output artifact.
package synth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/fuuuzzy/voicepipe/pkg/tasks"
)

// Processor turns an admitted task into a local audio artifact.
type Processor struct {
	engine    Engine
	outputDir string
	tempDir   string
	client    *http.Client
	log       zerolog.Logger
}

// NewProcessor creates a Processor writing artifacts under outputDir and
// downloaded references under tempDir. Both directories are created if
// missing. downloadTimeout bounds the reference-audio fetch.
func NewProcessor(engine Engine, outputDir, tempDir string, downloadTimeout time.Duration, log zerolog.Logger) (*Processor, error) {
	if downloadTimeout <= 0 {
		downloadTimeout = 30 * time.Second
	}
	for _, dir := range []string{outputDir, tempDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create dir %s: %w", dir, err)
		}
	}
	return &Processor{
		engine:    engine,
		outputDir: outputDir,
		tempDir:   tempDir,
		client:    &http.Client{Timeout: downloadTimeout},
		log:       log,
	}, nil
}

// Process synthesizes speech for the task and returns the output artifact
// path. A reference downloaded from a URL is removed again before Process
// returns, success or not. On error the caller owns cleanup of the (possibly
// partially written) output path, which is returned alongside the error.
func (p *Processor) Process(ctx context.Context, task *tasks.Task) (string, error) {
	outputPath := filepath.Join(p.outputDir, task.ID+"_output.wav")

	refPath, downloaded, err := p.resolveReference(ctx, task.Payload.SpkAudioPrompt, task.ID)
	if err != nil {
		return outputPath, err
	}
	if downloaded {
		defer func() {
			if rmErr := os.Remove(refPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				p.log.Warn().Str("task_id", task.ID).Str("path", refPath).Err(rmErr).
					Msg("Failed to clean up downloaded reference")
			}
		}()
	}

	p.log.Info().
		Str("task_id", task.ID).
		Str("language", task.Payload.Language).
		Int("text_length", len(task.Payload.Text)).
		Msg("Starting synthesis")

	err = p.engine.Synthesize(ctx, Request{
		Text:          task.Payload.Text,
		Language:      task.Payload.Language,
		ReferencePath: refPath,
		OutputPath:    outputPath,
	})
	if err != nil {
		return outputPath, err
	}

	p.log.Info().Str("task_id", task.ID).Str("output", outputPath).Msg("Synthesis completed")
	return outputPath, nil
}

// resolveReference returns a local path for the reference sample. URLs are
// downloaded into the temp dir; the second return reports whether the caller
// must remove the file afterwards.
func (p *Processor) resolveReference(ctx context.Context, locator, taskID string) (string, bool, error) {
	if strings.HasPrefix(locator, "http://") || strings.HasPrefix(locator, "https://") {
		u, err := url.Parse(locator)
		if err != nil {
			return "", false, fmt.Errorf("parse reference url %s: %w", locator, err)
		}
		// Base only the path component so query strings and fragments never
		// leak into the temp filename.
		base := path.Base(u.Path)
		if base == "." || base == "/" {
			base = "reference"
		}
		local := filepath.Join(p.tempDir, taskID+"_reference_"+base)
		if err := p.download(ctx, locator, local); err != nil {
			return "", false, err
		}
		return local, true, nil
	}

	if _, err := os.Stat(locator); err != nil {
		return "", false, fmt.Errorf("reference audio not found: %s: %w", locator, err)
	}
	return locator, false, nil
}

func (p *Processor) download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build download request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("download reference audio %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download reference audio %s: status %d", url, resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		os.Remove(dest)
		return fmt.Errorf("write %s: %w", dest, err)
	}
	return nil
}
