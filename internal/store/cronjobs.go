package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/squidbot/squidbot/pkg/models"
)

// LoadCronJobs reads the cron job list. A missing file is an empty list;
// a corrupt one is logged and treated as empty rather than blocking the
// scheduler.
func (s *Store) LoadCronJobs(ctx context.Context) ([]models.CronJob, error) {
	data, err := os.ReadFile(s.cronJobsPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cron jobs: %w", err)
	}
	var jobs []models.CronJob
	if err := json.Unmarshal(data, &jobs); err != nil {
		s.logger.Warn("corrupt cron job file, treating as empty", "error", err)
		return nil, nil
	}
	return jobs, nil
}

// SaveCronJobs atomically replaces the cron job list. The file is kept
// human-readable because users edit it by hand.
func (s *Store) SaveCronJobs(ctx context.Context, jobs []models.CronJob) error {
	if jobs == nil {
		jobs = []models.CronJob{}
	}
	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cron jobs: %w", err)
	}
	data = append(data, '\n')
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeFileAtomic(s.cronJobsPath(), data, 0o644); err != nil {
		return fmt.Errorf("save cron jobs: %w", err)
	}
	return nil
}
