package schedule

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/fieldops/core"
	"github.com/trezcool/fieldops/core/notification"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// MaxAttempts is how many times the delivery of a reminder is tried.
const MaxAttempts = 3

var ErrNotFound = core.NewNotFoundError("reminder not found")

type Reminder struct {
	ID          string                 `json:"id"`
	TenantID    string                 `json:"tenant_id"`
	WorkOrderID string                 `json:"work_order_id"`
	TaskID      string                 `json:"task_id"`
	UserID      string                 `json:"user_id"`
	Channels    []notification.Channel `json:"channels"`
	Title       string                 `json:"title"`
	Body        string                 `json:"body"`
	Link        string                 `json:"link"`
	Name        string                 `json:"-"`
	Email       string                 `json:"-"`
	Phone       string                 `json:"-"`
	DueAt       time.Time              `json:"due_at"`
	FireAt      time.Time              `json:"fire_at"`
	Status      Status                 `json:"status"`
	Attempts    int                    `json:"attempts"`
	LastError   string                 `json:"last_error,omitempty"`
	SentAt      time.Time              `json:"sent_at"`
	CreatedAt   time.Time              `json:"created_at"`
}

// Recipient is someone reminded in their own time zone.
type Recipient struct {
	notification.Recipient
	Location *time.Location
}

// Request asks for the reminders of one task to be (re)planned.
type Request struct {
	TenantID    string
	WorkOrderID string
	TaskID      string
	Recipients  []Recipient
	Channels    []notification.Channel
	Title       string
	Link        string
	Due         Due
	Rules       []Rule
}

type QueryFilter struct {
	TenantID string
	TaskID   string
	UserID   string
	Status   Status
}

type (
	Repository interface {
		CreateReminders(ctx context.Context, rs ...Reminder) error
		// ClaimDue atomically moves at most batch pending reminders whose FireAt is at or before now to sent.
		ClaimDue(ctx context.Context, now time.Time, batch int) ([]Reminder, error)
		// ReleaseReminder puts a claimed reminder back to pending at retryAt, or to failed once it ran out of attempts.
		ReleaseReminder(ctx context.Context, id, lastErr string, retryAt time.Time, maxAttempts int) error
		// CancelReminders cancels the pending reminders of a task.
		CancelReminders(ctx context.Context, tenantID, taskID string) (int, error)
		QueryReminders(ctx context.Context, filter QueryFilter) ([]Reminder, error)
	}

	Service interface {
		// Schedule replaces the pending reminders of a task with freshly planned ones.
		Schedule(ctx context.Context, req Request) ([]Reminder, error)
		Cancel(ctx context.Context, tenantID, taskID string) error
		Query(ctx context.Context, filter QueryFilter) ([]Reminder, error)
	}

	service struct {
		repo  Repository
		quiet QuietHours
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, conf *core.Config) Service {
	return &service{
		repo: repo,
		quiet: QuietHours{
			Start: conf.Scheduler.QuietHoursStart,
			End:   conf.Scheduler.QuietHoursEnd,
		},
	}
}

func (svc *service) Schedule(ctx context.Context, req Request) ([]Reminder, error) {
	if _, err := svc.repo.CancelReminders(ctx, req.TenantID, req.TaskID); err != nil {
		return nil, errors.Wrap(err, "cancelling previous reminders")
	}
	if req.Due.IsZero() || len(req.Recipients) == 0 {
		return nil, nil
	}

	rules := req.Rules
	if len(rules) == 0 {
		rules = DefaultRules
	}
	channels := req.Channels
	if len(channels) == 0 {
		channels = []notification.Channel{notification.ChannelInApp}
	}
	now := core.NowFunc().UTC()

	var reminders []Reminder
	for _, rcpt := range req.Recipients {
		if rcpt.UserID == "" {
			continue
		}
		loc := rcpt.Location
		if loc == nil {
			loc = time.UTC
		}
		times, err := Plan(req.Due, rules, loc, now, svc.quiet)
		if err != nil {
			return nil, errors.Wrap(err, "planning reminders")
		}
		dueAt := req.Due.Instant(loc).UTC()
		for _, fire := range times {
			reminders = append(reminders, Reminder{
				ID:          uuid.NewString(),
				TenantID:    req.TenantID,
				WorkOrderID: req.WorkOrderID,
				TaskID:      req.TaskID,
				UserID:      rcpt.UserID,
				Channels:    channels,
				Title:       req.Title,
				Body:        dueText(req.Due, loc),
				Link:        req.Link,
				Name:        rcpt.Name,
				Email:       rcpt.Email,
				Phone:       rcpt.Phone,
				DueAt:       dueAt,
				FireAt:      fire,
				Status:      StatusPending,
				CreatedAt:   now,
			})
		}
	}
	if len(reminders) == 0 {
		return nil, nil
	}
	if err := svc.repo.CreateReminders(ctx, reminders...); err != nil {
		return nil, errors.Wrap(err, "creating reminders")
	}
	return reminders, nil
}

func dueText(due Due, loc *time.Location) string {
	if due.AllDay {
		return "Due " + due.Instant(loc).Format("Mon Jan 2")
	}
	return "Due " + due.At.In(loc).Format("Mon Jan 2 15:04 MST")
}

func (svc *service) Cancel(ctx context.Context, tenantID, taskID string) error {
	if _, err := svc.repo.CancelReminders(ctx, tenantID, taskID); err != nil {
		return errors.Wrap(err, "cancelling reminders")
	}
	return nil
}

func (svc *service) Query(ctx context.Context, filter QueryFilter) ([]Reminder, error) {
	return svc.repo.QueryReminders(ctx, filter)
}
