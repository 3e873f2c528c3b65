// Package stats sends the periodic user statistics report to the admin.
package stats

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/iamwavecut/tool"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/gatewarden/internal/bot"
	"github.com/iamwavecut/gatewarden/internal/db"
	"github.com/iamwavecut/gatewarden/internal/i18n"
)

const jobName = "user-stats-report"

type (
	StatsSource interface {
		GetUserStats(ctx context.Context) (*db.UserStats, error)
	}

	Sender interface {
		SendMessage(ctx context.Context, chatID int64, text string, opts bot.SendOptions) (int, error)
	}

	Reporter struct {
		store    StatsSource
		sender   Sender
		adminID  int64
		language string
		cronExpr string
		logger   *log.Entry

		mu            sync.Mutex
		scheduler     gocron.Scheduler
		runtimeCancel context.CancelFunc
	}
)

func NewReporter(store StatsSource, sender Sender, adminID int64, language, cronExpr string) *Reporter {
	return &Reporter{
		store:    store,
		sender:   sender,
		adminID:  adminID,
		language: language,
		cronExpr: cronExpr,
		logger:   log.WithField("object", "StatsReporter"),
	}
}

func (r *Reporter) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scheduler != nil {
		return nil
	}

	s, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
		gocron.WithLogger(&schedulerLogger{entry: r.logger}),
	)
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	runtimeCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	job, err := s.NewJob(
		gocron.CronJob(r.cronExpr, false),
		gocron.NewTask(func() {
			if err := r.Report(runtimeCtx); err != nil {
				r.logger.WithError(err).Error("cant send stats report")
			}
		}),
		gocron.WithName(jobName),
	)
	if err != nil {
		cancel()
		_ = s.Shutdown()
		return fmt.Errorf("schedule %s: %w", jobName, err)
	}

	s.Start()
	entry := r.logger.WithField("cron", r.cronExpr)
	if nextRun, err := job.NextRun(); err == nil {
		entry = entry.WithField("next_run", nextRun.Format(time.RFC3339))
	}
	entry.Info("stats report scheduled")

	r.scheduler = s
	r.runtimeCancel = cancel
	return nil
}

func (r *Reporter) Stop(ctx context.Context) error {
	r.mu.Lock()
	s := r.scheduler
	cancel := r.runtimeCancel
	r.scheduler = nil
	r.runtimeCancel = nil
	r.mu.Unlock()

	if s == nil {
		return nil
	}
	cancel()
	if err := s.Shutdown(); err != nil {
		return fmt.Errorf("shutdown scheduler: %w", err)
	}
	return nil
}

// Report sends the current statistics to the admin.
func (r *Reporter) Report(ctx context.Context) error {
	stats, err := r.store.GetUserStats(ctx)
	if err != nil {
		return err
	}
	text := tool.ExecTemplate(i18n.Get("📊 User statistics\n\nTotal: {{ .total }}\nApproved: {{ .approved }}\nWith warnings: {{ .with_warnings }}\nPending: {{ .pending }}", r.language), map[string]any{
		"total":         stats.Total,
		"approved":      stats.Approved,
		"with_warnings": stats.WithWarnings,
		"pending":       stats.Pending,
	})
	if _, err := r.sender.SendMessage(ctx, r.adminID, text, bot.SendOptions{DisableNotification: true}); err != nil {
		return err
	}
	return nil
}
