package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/fieldops/core/notification"
	"github.com/trezcool/fieldops/core/schedule"
)

const reminderColumns = `id, tenant_id, work_order_id, task_id, user_id, channels, title, body, link, name, email, phone,
	due_at, fire_at, status, attempts, last_error, sent_at, created_at`

// claimDueQuery moves due reminders to sent in one statement.
// SKIP LOCKED lets several dispatchers poll concurrently without claiming the same reminder twice.
const claimDueQuery = `UPDATE reminder SET status = 'sent', sent_at = $1
WHERE id IN (
	SELECT id FROM reminder
	WHERE status = 'pending' AND fire_at <= $1
	ORDER BY fire_at
	LIMIT $2
	FOR UPDATE SKIP LOCKED
)
RETURNING ` + reminderColumns

type reminderRow struct {
	ID          string         `db:"id"`
	TenantID    string         `db:"tenant_id"`
	WorkOrderID string         `db:"work_order_id"`
	TaskID      string         `db:"task_id"`
	UserID      string         `db:"user_id"`
	Channels    pq.StringArray `db:"channels"`
	Title       string         `db:"title"`
	Body        string         `db:"body"`
	Link        string         `db:"link"`
	Name        string         `db:"name"`
	Email       string         `db:"email"`
	Phone       string         `db:"phone"`
	DueAt       time.Time      `db:"due_at"`
	FireAt      time.Time      `db:"fire_at"`
	Status      string         `db:"status"`
	Attempts    int            `db:"attempts"`
	LastError   string         `db:"last_error"`
	SentAt      null.Time      `db:"sent_at"`
	CreatedAt   time.Time      `db:"created_at"`
}

func (r reminderRow) reminder() schedule.Reminder {
	channels := make([]notification.Channel, 0, len(r.Channels))
	for _, c := range r.Channels {
		channels = append(channels, notification.Channel(c))
	}
	return schedule.Reminder{
		ID:          r.ID,
		TenantID:    r.TenantID,
		WorkOrderID: r.WorkOrderID,
		TaskID:      r.TaskID,
		UserID:      r.UserID,
		Channels:    channels,
		Title:       r.Title,
		Body:        r.Body,
		Link:        r.Link,
		Name:        r.Name,
		Email:       r.Email,
		Phone:       r.Phone,
		DueAt:       r.DueAt.UTC(),
		FireAt:      r.FireAt.UTC(),
		Status:      schedule.Status(r.Status),
		Attempts:    r.Attempts,
		LastError:   r.LastError,
		SentAt:      utc(r.SentAt),
		CreatedAt:   r.CreatedAt.UTC(),
	}
}

type reminderRepository struct {
	db *sqlx.DB
}

var _ schedule.Repository = (*reminderRepository)(nil)

func NewReminderRepository(db *sqlx.DB) schedule.Repository {
	return &reminderRepository{db: db}
}

func (repo *reminderRepository) CreateReminders(ctx context.Context, rs ...schedule.Reminder) error {
	if len(rs) == 0 {
		return nil
	}
	qb := psql.Insert("reminder").Columns(
		"id", "tenant_id", "work_order_id", "task_id", "user_id", "channels", "title", "body", "link",
		"name", "email", "phone", "due_at", "fire_at", "status", "attempts", "last_error", "sent_at", "created_at",
	)
	for _, r := range rs {
		channels := make([]string, 0, len(r.Channels))
		for _, c := range r.Channels {
			channels = append(channels, string(c))
		}
		qb = qb.Values(
			r.ID, r.TenantID, r.WorkOrderID, r.TaskID, r.UserID, pq.StringArray(channels), r.Title, r.Body, r.Link,
			r.Name, r.Email, r.Phone, r.DueAt.UTC(), r.FireAt.UTC(), string(r.Status), r.Attempts, r.LastError,
			nullTime(r.SentAt), r.CreatedAt.UTC(),
		)
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return errors.Wrap(err, "building reminder insert")
	}
	_, err = repo.db.ExecContext(ctx, query, args...)
	return errors.Wrap(err, "inserting reminders")
}

func (repo *reminderRepository) ClaimDue(ctx context.Context, now time.Time, batch int) ([]schedule.Reminder, error) {
	if batch <= 0 {
		batch = 100
	}
	var rows []reminderRow
	if err := repo.db.SelectContext(ctx, &rows, claimDueQuery, now.UTC(), batch); err != nil {
		return nil, errors.Wrap(err, "claiming due reminders")
	}
	reminders := make([]schedule.Reminder, 0, len(rows))
	for _, r := range rows {
		reminders = append(reminders, r.reminder())
	}
	return reminders, nil
}

func (repo *reminderRepository) ReleaseReminder(ctx context.Context, id, lastErr string, retryAt time.Time, maxAttempts int) error {
	if !validID(id) {
		return schedule.ErrNotFound
	}
	return execOne(ctx, repo.db, psql.Update("reminder").
		Set("attempts", sq.Expr("attempts + 1")).
		Set("last_error", lastErr).
		Set("sent_at", nil).
		Set("status", sq.Expr("CASE WHEN attempts + 1 >= ? THEN 'failed' ELSE 'pending' END", maxAttempts)).
		Set("fire_at", sq.Expr("CASE WHEN attempts + 1 >= ? THEN fire_at ELSE ? END", maxAttempts, retryAt.UTC())).
		Where(sq.Eq{"id": id}), schedule.ErrNotFound, "releasing reminder")
}

func (repo *reminderRepository) CancelReminders(ctx context.Context, tenantID, taskID string) (int, error) {
	if !validID(taskID) {
		return 0, nil
	}
	res, err := repo.db.ExecContext(ctx,
		"UPDATE reminder SET status = $1 WHERE tenant_id = $2 AND task_id = $3 AND status = $4",
		string(schedule.StatusCancelled), tenantID, taskID, string(schedule.StatusPending))
	if err != nil {
		return 0, errors.Wrap(err, "cancelling reminders")
	}
	n, err := res.RowsAffected()
	return int(n), errors.Wrap(err, "cancelling reminders")
}

func reminderQuery(filter schedule.QueryFilter) sq.SelectBuilder {
	qb := psql.Select(reminderColumns).From("reminder")
	eq := sq.Eq{}
	if filter.TenantID != "" {
		eq["tenant_id"] = filter.TenantID
	}
	if filter.TaskID != "" {
		eq["task_id"] = filter.TaskID
	}
	if filter.UserID != "" {
		eq["user_id"] = filter.UserID
	}
	if filter.Status != "" {
		eq["status"] = string(filter.Status)
	}
	if len(eq) > 0 {
		qb = qb.Where(eq)
	}
	return qb.OrderBy("fire_at ASC", "user_id ASC")
}

func (repo *reminderRepository) QueryReminders(ctx context.Context, filter schedule.QueryFilter) ([]schedule.Reminder, error) {
	for _, id := range []string{filter.TenantID, filter.TaskID, filter.UserID} {
		if id != "" && !validID(id) {
			return []schedule.Reminder{}, nil
		}
	}
	query, args, err := reminderQuery(filter).ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building reminder query")
	}
	var rows []reminderRow
	if err = repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying reminders")
	}
	reminders := make([]schedule.Reminder, 0, len(rows))
	for _, r := range rows {
		reminders = append(reminders, r.reminder())
	}
	return reminders, nil
}
