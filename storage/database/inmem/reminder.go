package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/trezcool/fieldops/core/notification"
	"github.com/trezcool/fieldops/core/schedule"
)

type reminderRepository struct {
	db *reminderTable
}

var _ schedule.Repository = (*reminderRepository)(nil)

func NewReminderRepository(db *DB) schedule.Repository {
	return &reminderRepository{db: db.reminder}
}

func copyReminder(r *schedule.Reminder) schedule.Reminder {
	c := *r
	c.Channels = append([]notification.Channel(nil), r.Channels...)
	return c
}

func (repo *reminderRepository) CreateReminders(_ context.Context, rs ...schedule.Reminder) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	for i := range rs {
		stored := copyReminder(&rs[i])
		repo.db.table[stored.ID] = &stored
	}
	return nil
}

func (repo *reminderRepository) ClaimDue(_ context.Context, now time.Time, batch int) ([]schedule.Reminder, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	var due []*schedule.Reminder
	for _, r := range repo.db.table {
		if r.Status == schedule.StatusPending && !r.FireAt.After(now) {
			due = append(due, r)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].FireAt.Before(due[j].FireAt) })
	if batch > 0 && len(due) > batch {
		due = due[:batch]
	}

	claimed := make([]schedule.Reminder, 0, len(due))
	for _, r := range due {
		r.Status = schedule.StatusSent
		r.SentAt = now.UTC()
		claimed = append(claimed, copyReminder(r))
	}
	return claimed, nil
}

func (repo *reminderRepository) ReleaseReminder(_ context.Context, id, lastErr string, retryAt time.Time, maxAttempts int) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	r, ok := repo.db.table[id]
	if !ok {
		return schedule.ErrNotFound
	}
	r.Attempts++
	r.LastError = lastErr
	r.SentAt = time.Time{}
	if r.Attempts >= maxAttempts {
		r.Status = schedule.StatusFailed
		return nil
	}
	r.Status = schedule.StatusPending
	r.FireAt = retryAt.UTC()
	return nil
}

func (repo *reminderRepository) CancelReminders(_ context.Context, tenantID, taskID string) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	n := 0
	for _, r := range repo.db.table {
		if r.TenantID == tenantID && r.TaskID == taskID && r.Status == schedule.StatusPending {
			r.Status = schedule.StatusCancelled
			n++
		}
	}
	return n, nil
}

func (repo *reminderRepository) QueryReminders(_ context.Context, filter schedule.QueryFilter) ([]schedule.Reminder, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	reminders := make([]schedule.Reminder, 0)
	for _, r := range repo.db.table {
		if filter.TenantID != "" && r.TenantID != filter.TenantID ||
			filter.TaskID != "" && r.TaskID != filter.TaskID ||
			filter.UserID != "" && r.UserID != filter.UserID ||
			filter.Status != "" && r.Status != filter.Status {
			continue
		}
		reminders = append(reminders, copyReminder(r))
	}
	sort.Slice(reminders, func(i, j int) bool {
		if reminders[i].FireAt.Equal(reminders[j].FireAt) {
			return reminders[i].UserID < reminders[j].UserID
		}
		return reminders[i].FireAt.Before(reminders[j].FireAt)
	})
	return reminders, nil
}
