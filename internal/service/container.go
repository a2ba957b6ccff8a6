package service

import (
	"context"

	"chatmatch-service/internal/config"
	"chatmatch-service/internal/notify"
	"chatmatch-service/internal/repo"
	"chatmatch-service/internal/service/match"
	"chatmatch-service/internal/service/room"

	"gorm.io/gorm"
)

type Container struct {
	Match     *match.Service
	Scheduler *match.Scheduler
	Rooms     *room.Service
	Notifier  *notify.Dispatcher
	Bus       notify.Bus
}

func NewContainer(db *gorm.DB, bus notify.Bus, cfg *config.Config) *Container {
	rooms := room.NewService(db)
	dispatcher := notify.NewDispatcher(bus, cfg.Notify.Workers, cfg.Notify.Buffer, cfg.Notify.PublishTimeout)
	matchSvc := match.NewService(repo.NewQueueStore(db), rooms, dispatcher, match.ConfigFrom(cfg.Match))

	return &Container{
		Match:     matchSvc,
		Scheduler: match.NewScheduler(matchSvc),
		Rooms:     rooms,
		Notifier:  dispatcher,
		Bus:       bus,
	}
}

func (c *Container) Start(ctx context.Context) error {
	c.Scheduler.Start(ctx)
	return nil
}

// Stop halts the background sweeps, then flushes queued notifications.
func (c *Container) Stop() {
	c.Scheduler.Stop()
	c.Notifier.Close()
}
