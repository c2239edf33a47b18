package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/fieldops/core"
	"github.com/trezcool/fieldops/core/notification"
	"github.com/trezcool/fieldops/core/tenant"
)

// Notifier delivers notifications to users.
type Notifier interface {
	Notify(ctx context.Context, nn notification.NewNotification) (notification.Notification, error)
}

// Dispatcher delivers due reminders.
type Dispatcher struct {
	repo       Repository
	notifier   Notifier
	logger     core.Logger
	interval   time.Duration
	batch      int
	retryDelay time.Duration
}

func NewDispatcher(repo Repository, notifier Notifier, conf *core.Config, logger core.Logger) *Dispatcher {
	interval := conf.Scheduler.ReminderPollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	batch := conf.Scheduler.ReminderBatchSize
	if batch <= 0 {
		batch = 100
	}
	return &Dispatcher{
		repo:       repo,
		notifier:   notifier,
		logger:     logger,
		interval:   interval,
		batch:      batch,
		retryDelay: time.Minute,
	}
}

// Run dispatches due reminders on every tick until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.Info(fmt.Sprintf("reminder dispatcher started, polling every %s", d.interval))
	defer d.logger.Info("reminder dispatcher stopped")

	for {
		if _, _, err := d.DispatchDue(ctx, core.NowFunc()); err != nil && ctx.Err() == nil {
			d.logger.Error(fmt.Sprintf("dispatching reminders: %v", err), err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchDue sends every reminder due at now, batch by batch.
func (d *Dispatcher) DispatchDue(ctx context.Context, now time.Time) (sent, failed int, err error) {
	for {
		reminders, err := d.repo.ClaimDue(ctx, now, d.batch)
		if err != nil {
			return sent, failed, errors.Wrap(err, "claiming due reminders")
		}
		for _, r := range reminders {
			if d.deliver(ctx, r, now) {
				sent++
			} else {
				failed++
			}
		}
		if len(reminders) < d.batch || ctx.Err() != nil {
			return sent, failed, ctx.Err()
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, r Reminder, now time.Time) bool {
	nn := notification.NewNotification{
		TenantID: r.TenantID,
		UserID:   r.UserID,
		Kind:     notification.KindReminder,
		Title:    r.Title,
		Body:     r.Body,
		Link:     r.Link,
		Channels: r.Channels,
		Name:     r.Name,
		Email:    r.Email,
		Phone:    r.Phone,
	}
	if _, err := d.notifier.Notify(ctx, nn); err != nil {
		d.logger.Warn(fmt.Sprintf("reminder %s attempt %d failed: %v", r.ID, r.Attempts+1, err), err)
		retryAt := now.Add(d.retryDelay * time.Duration(r.Attempts+1))
		if rErr := d.repo.ReleaseReminder(ctx, r.ID, err.Error(), retryAt, MaxAttempts); rErr != nil {
			d.logger.Error(fmt.Sprintf("releasing reminder %s: %v", r.ID, rErr), rErr)
		}
		return false
	}
	return true
}

// UsageResetter resets the monthly usage of tenants whose billing cycle ended.
type UsageResetter struct {
	svc      tenant.Service
	logger   core.Logger
	interval time.Duration
}

func NewUsageResetter(svc tenant.Service, conf *core.Config, logger core.Logger) *UsageResetter {
	interval := conf.Scheduler.UsageResetInterval
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &UsageResetter{svc: svc, logger: logger, interval: interval}
}

// Run resets due tenants on every tick until ctx is done.
func (r *UsageResetter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info(fmt.Sprintf("usage resetter started, checking every %s", r.interval))
	defer r.logger.Info("usage resetter stopped")

	for {
		if _, err := r.RunOnce(ctx, core.NowFunc()); err != nil && ctx.Err() == nil {
			r.logger.Error(fmt.Sprintf("resetting due usage: %v", err), err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *UsageResetter) RunOnce(ctx context.Context, now time.Time) (tenant.ResetSummary, error) {
	summary, err := r.svc.ResetDue(ctx, now)
	if err != nil {
		return summary, err
	}
	if summary.Checked > 0 {
		r.logger.Info(fmt.Sprintf(
			"usage reset: %d checked, %d reset, %d skipped, %d in progress, %d failed",
			summary.Checked, summary.Reset, summary.Skipped, summary.InProgress, summary.Failed,
		))
	}
	return summary, nil
}
