package deskconfig

import (
	"github.com/sirupsen/logrus"

	"github.com/lisanmuaddib/replydesk/pkg/actions"
	"github.com/lisanmuaddib/replydesk/pkg/db/models"
)

// ActionConfig carries the components the periodic actions drive
type ActionConfig struct {
	Syncer     actions.Syncer
	Sellers    actions.SellerLister
	Sweeper    actions.Sweeper
	Settings   actions.PlannerSettings
	Candidates actions.CandidateLister
	Drafter    actions.Drafter
	Scheduler  actions.AutoReplyScheduler
	Logger     *logrus.Logger
}

// ConfigureActions sets up every enabled periodic action
func ConfigureActions(desk *DeskConfig, config ActionConfig) ([]actions.Action, error) {
	schedule := desk.Schedule
	var out []actions.Action

	if schedule.Enabled(TaskChatSync) {
		out = append(out, actions.NewSyncAction(config.Syncer, config.Sellers, config.Logger, actions.SyncOptions{
			ActionConfig: actions.ActionConfig{Name: TaskChatSync, Interval: schedule.Interval(TaskChatSync, 0), RunOnStart: true},
			Channels:     []models.Channel{models.ChannelChat},
			Mode:         models.SyncModeIncremental,
			Concurrency:  desk.SyncConcurrency,
		}))
	}

	if schedule.Enabled(TaskReviewSync) {
		out = append(out, actions.NewSyncAction(config.Syncer, config.Sellers, config.Logger, actions.SyncOptions{
			ActionConfig: actions.ActionConfig{Name: TaskReviewSync, Interval: schedule.Interval(TaskReviewSync, 0), RunOnStart: true},
			Channels:     []models.Channel{models.ChannelQuestion, models.ChannelReview},
			Mode:         models.SyncModeIncremental,
			Concurrency:  desk.SyncConcurrency,
		}))
	}

	if schedule.Enabled(TaskFullSync) {
		out = append(out, actions.NewSyncAction(config.Syncer, config.Sellers, config.Logger, actions.SyncOptions{
			ActionConfig: actions.ActionConfig{Name: TaskFullSync, Interval: schedule.Interval(TaskFullSync, 0)},
			Channels:     models.Channels,
			Mode:         models.SyncModeFull,
			Concurrency:  desk.SyncConcurrency,
		}))
	}

	if schedule.Enabled(TaskEscalation) {
		out = append(out, actions.NewEscalationAction(config.Sweeper, config.Logger, actions.ActionConfig{
			Name:       TaskEscalation,
			Interval:   schedule.Interval(TaskEscalation, 0),
			RunOnStart: true,
		}))
	}

	if schedule.Enabled(TaskPlanner) {
		out = append(out, actions.NewAutoReplyPlanner(config.Settings, config.Candidates, config.Drafter, config.Scheduler, config.Logger, actions.PlannerOptions{
			ActionConfig: actions.ActionConfig{Name: TaskPlanner, Interval: schedule.Interval(TaskPlanner, 0)},
			BatchSize:    desk.PlannerBatch,
		}))
	}

	return out, nil
}
