// Package watch polls the input folder and reruns the pipeline on new
// invoice files, either at a fixed interval or once a day at a set time.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"nfeimport/internal/config"
	"nfeimport/internal/pipeline"
)

type Service struct {
	processor *pipeline.Processor
	settings  *config.Settings
	logger    zerolog.Logger

	seen map[string]time.Time
}

func NewService(processor *pipeline.Processor, settings *config.Settings, logger zerolog.Logger) *Service {
	return &Service{
		processor: processor,
		settings:  settings,
		logger:    logger,
		seen:      map[string]time.Time{},
	}
}

// Run blocks until ctx is cancelled, waking once per interval (or once a day
// at watch.run_at) and processing any invoice files not seen before.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info().
		Str("input", s.settings.Paths.InputDir).
		Str("run_at", s.settings.Watch.RunAt).
		Dur("interval", s.settings.Watch.IntervalParsed).
		Msg("watch started")

	for {
		if err := s.runCycle(); err != nil {
			s.logger.Error().Err(err).Msg("watch cycle failed")
		}

		select {
		case <-ctx.Done():
			s.logger.Info().Msg("watch stopped")
			return nil
		case <-time.After(s.nextWait(time.Now())):
		}
	}
}

func (s *Service) runCycle() error {
	paths, err := filepath.Glob(filepath.Join(s.settings.Paths.InputDir, "*.xml"))
	if err != nil {
		return err
	}

	fresh := make([]string, 0, len(paths))
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if last, ok := s.seen[path]; ok && !info.ModTime().After(last) {
			continue
		}
		s.seen[path] = info.ModTime()
		fresh = append(fresh, path)
	}
	if len(fresh) == 0 {
		return nil
	}
	sort.Strings(fresh)

	summary, err := s.processor.ProcessFiles(fresh, "watch", "")
	if err != nil {
		return err
	}
	s.logger.Info().
		Str("run_id", summary.RunID).
		Int("files", len(fresh)).
		Int("matched", len(summary.Matched)).
		Int("unmatched", len(summary.Unmatched)).
		Msg("watch cycle done")
	return nil
}

// nextWait returns the sleep until the next cycle: the configured interval,
// or the duration until the next daily run_at occurrence.
func (s *Service) nextWait(now time.Time) time.Duration {
	runAt := s.settings.Watch.RunAt
	if runAt == "" {
		return s.settings.Watch.IntervalParsed
	}
	target, err := time.ParseInLocation("15:04", runAt, now.Location())
	if err != nil {
		return s.settings.Watch.IntervalParsed
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), target.Hour(), target.Minute(), 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}
