package gateway

import (
	"context"

	"github.com/squidbot/squidbot/pkg/models"
)

// dispatchCronJob runs one due job as an agent run addressed at the
// job's delivery session. The scheduler calls this on its own
// goroutine, so a slow job never delays the tick loop.
func (s *Server) dispatchCronJob(ctx context.Context, job models.CronJob) {
	session, err := models.ParseSessionID(job.Channel)
	if err != nil {
		s.logger.Warn("cron job has invalid delivery address", "job", job.ID, "channel", job.Channel, "error", err)
		s.metrics.CronDispatched(job.ID, "bad_address")
		return
	}
	ch, ok := s.channels.Get(session.Channel)
	if !ok {
		s.logger.Warn("cron job targets a channel that is not running", "job", job.ID, "channel", session.Channel)
		s.metrics.CronDispatched(job.ID, "unknown_channel")
		return
	}

	s.logger.Info("dispatching cron job", "job", job.ID, "name", job.Name, "session", session.ID())
	if err := s.RunAgent(ctx, session, job.Message, ch); err != nil {
		s.logger.Error("cron job run failed", "job", job.ID, "error", err)
		s.metrics.CronDispatched(job.ID, "error")
		return
	}
	s.metrics.CronDispatched(job.ID, "ok")
}
