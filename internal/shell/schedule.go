package shell

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
)

// Scheduler re-runs a make invocation on a cron schedule, the natural
// extension the command surface's `make` invites (grounded on the teacher's
// ProcessingConfig.Schedule cron-driven embedding runs in
// internal/common/config.go).
type Scheduler struct {
	cron   *cron.Cron
	shell  *Shell
	logger arbor.ILogger
}

// NewScheduler returns a Scheduler bound to shell.
func NewScheduler(shell *Shell, logger arbor.ILogger) *Scheduler {
	return &Scheduler{cron: cron.New(), shell: shell, logger: logger}
}

// AddMake schedules a `make` of opts on spec (standard 5-field cron syntax),
// returning the entry id so callers can Remove it later.
func (s *Scheduler) AddMake(ctx context.Context, spec string, opts MakeOptions) (cron.EntryID, error) {
	return s.cron.AddFunc(spec, func() {
		report, err := s.shell.Make(ctx, opts)
		if err != nil {
			s.logger.Warn().Err(err).Str("targets", opts.Targets).Msg("scheduled make failed")
			return
		}
		s.logger.Info().
			Int("done", len(report.Done)).
			Int("failed", len(report.Failed)).
			Int("blocked", len(report.Blocked)).
			Str("targets", opts.Targets).
			Msg("scheduled make completed")
	})
}

// Remove cancels a previously scheduled entry.
func (s *Scheduler) Remove(id cron.EntryID) {
	s.cron.Remove(id)
}

// Start begins running scheduled entries in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the scheduler and waits for any in-flight run to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
