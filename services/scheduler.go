package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// StartRetentionScheduler запускает ежечасную зачистку завершённых партий
// из личных списков игроков. Возвращённый scheduler останавливается при
// завершении приложения.
func StartRetentionScheduler(indexSvc IndexService, retention time.Duration, logger *slog.Logger) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(1*time.Hour),
		gocron.NewTask(func() {
			if err := indexSvc.TrimPersonalLists(context.Background(), retention); err != nil {
				logger.Error("retention sweep failed", slog.Any("error", err))
				return
			}
			logger.Info("retention sweep completed", slog.Duration("retention", retention))
		}),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return nil, err
	}

	sched.Start()
	return sched, nil
}
