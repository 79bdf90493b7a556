package models

import "time"

// CronJob is one scheduled dispatch into the agent loop. Schedule is either
// a five-field cron expression or the interval form "every N" (seconds).
// Channel uses the "{channel}:{sender_id}" prefix form, e.g. "cli:local".
type CronJob struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Schedule string     `json:"schedule"`
	Message  string     `json:"message"`
	Channel  string     `json:"channel"`
	Enabled  bool       `json:"enabled"`
	Timezone string     `json:"timezone,omitempty"`
	LastRun  *time.Time `json:"last_run,omitempty"`
}
