package worker

import (
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/fuuuzzy/voicepipe/pkg/telemetry"
)

// Sweeper periodically removes stale files from the artifact directories.
// Uploads that crash between synthesis and delivery leave orphans behind;
// the sweep keeps the worker host from filling up.
type Sweeper struct {
	cron   *cron.Cron
	dirs   []string
	maxAge time.Duration
	log    zerolog.Logger
}

// NewSweeper creates a sweeper over the given directories removing regular
// files older than maxAge. spec is a cron expression (e.g. "@every 1h").
func NewSweeper(spec string, dirs []string, maxAge time.Duration, log zerolog.Logger) (*Sweeper, error) {
	s := &Sweeper{
		cron:   cron.New(),
		dirs:   dirs,
		maxAge: maxAge,
		log:    log,
	}
	if _, err := s.cron.AddFunc(spec, s.sweep); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins scheduled sweeping in the background.
func (s *Sweeper) Start() { s.cron.Start() }

// Stop halts scheduling. A sweep already in progress finishes.
func (s *Sweeper) Stop() { s.cron.Stop() }

func (s *Sweeper) sweep() {
	cutoff := time.Now().Add(-s.maxAge)
	removed := 0

	for _, dir := range s.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			s.log.Warn().Str("dir", dir).Err(err).Msg("Sweep skipped directory")
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			info, err := entry.Info()
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			if err := os.Remove(path); err != nil {
				s.log.Warn().Str("path", path).Err(err).Msg("Sweep failed to remove file")
				continue
			}
			removed++
			telemetry.SweptFiles.Inc()
		}
	}

	if removed > 0 {
		s.log.Info().Int("removed", removed).Msg("Swept stale artifacts")
	}
}
