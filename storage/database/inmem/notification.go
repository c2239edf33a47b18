package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/fieldops/core/notification"
)

type notificationRepository struct {
	db *notificationTable
}

var _ notification.Repository = (*notificationRepository)(nil)

func NewNotificationRepository(db *DB) notification.Repository {
	return &notificationRepository{db: db.notification}
}

func copyNotification(n *notification.Notification) notification.Notification {
	c := *n
	c.Delivered = append([]notification.Channel(nil), n.Delivered...)
	return c
}

func (repo *notificationRepository) CreateNotification(_ context.Context, n notification.Notification) (notification.Notification, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	stored := copyNotification(&n)
	repo.db.table[n.ID] = &stored
	return copyNotification(&stored), nil
}

func (repo *notificationRepository) QueryNotifications(_ context.Context, tenantID, userID string, filter notification.QueryFilter) ([]notification.Notification, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	notes := make([]notification.Notification, 0)
	for _, n := range repo.db.table {
		if n.TenantID != tenantID || n.UserID != userID {
			continue
		}
		if filter.Unread && n.IsRead() {
			continue
		}
		if filter.Kind != "" && n.Kind != filter.Kind {
			continue
		}
		if filter.Search != "" && !containsFold(filter.Search, n.Title, n.Body) {
			continue
		}
		notes = append(notes, copyNotification(n))
	}
	// newest first
	sort.Slice(notes, func(i, j int) bool {
		if notes[i].CreatedAt.Equal(notes[j].CreatedAt) {
			return notes[i].ID > notes[j].ID
		}
		return notes[i].CreatedAt.After(notes[j].CreatedAt)
	})

	if filter.Offset >= len(notes) {
		return []notification.Notification{}, nil
	}
	notes = notes[filter.Offset:]
	if filter.Limit > 0 && len(notes) > filter.Limit {
		notes = notes[:filter.Limit]
	}
	return notes, nil
}

func (repo *notificationRepository) CountUnread(_ context.Context, tenantID, userID string) (int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	n := 0
	for _, note := range repo.db.table {
		if note.TenantID == tenantID && note.UserID == userID && !note.IsRead() {
			n++
		}
	}
	return n, nil
}

func (repo *notificationRepository) MarkRead(_ context.Context, tenantID, userID string, at time.Time, ids ...string) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	n := 0
	for _, note := range repo.db.table {
		if note.TenantID != tenantID || note.UserID != userID || note.IsRead() {
			continue
		}
		if len(ids) > 0 && !wanted[note.ID] {
			continue
		}
		note.ReadAt = null.TimeFrom(at.UTC())
		n++
	}
	return n, nil
}

func (repo *notificationRepository) DeleteNotification(_ context.Context, tenantID, userID, id string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	note, ok := repo.db.table[id]
	if !ok || note.TenantID != tenantID || note.UserID != userID {
		return notification.ErrNotFound
	}
	delete(repo.db.table, id)
	return nil
}
