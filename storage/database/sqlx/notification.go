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
)

const notificationColumns = "id, tenant_id, user_id, kind, title, body, link, delivered, read_at, created_at"

type notificationRow struct {
	ID        string         `db:"id"`
	TenantID  string         `db:"tenant_id"`
	UserID    string         `db:"user_id"`
	Kind      string         `db:"kind"`
	Title     string         `db:"title"`
	Body      string         `db:"body"`
	Link      string         `db:"link"`
	Delivered pq.StringArray `db:"delivered"`
	ReadAt    null.Time      `db:"read_at"`
	CreatedAt time.Time      `db:"created_at"`
}

func (r notificationRow) notification() notification.Notification {
	delivered := make([]notification.Channel, 0, len(r.Delivered))
	for _, c := range r.Delivered {
		delivered = append(delivered, notification.Channel(c))
	}
	return notification.Notification{
		ID:        r.ID,
		TenantID:  r.TenantID,
		UserID:    r.UserID,
		Kind:      notification.Kind(r.Kind),
		Title:     r.Title,
		Body:      r.Body,
		Link:      r.Link,
		Delivered: delivered,
		ReadAt:    utcNull(r.ReadAt),
		CreatedAt: r.CreatedAt.UTC(),
	}
}

type notificationRepository struct {
	db *sqlx.DB
}

var _ notification.Repository = (*notificationRepository)(nil)

func NewNotificationRepository(db *sqlx.DB) notification.Repository {
	return &notificationRepository{db: db}
}

func (repo *notificationRepository) CreateNotification(ctx context.Context, n notification.Notification) (notification.Notification, error) {
	delivered := make([]string, 0, len(n.Delivered))
	for _, c := range n.Delivered {
		delivered = append(delivered, string(c))
	}
	query, args, err := psql.Insert("notification").SetMap(map[string]interface{}{
		"id":         n.ID,
		"tenant_id":  n.TenantID,
		"user_id":    n.UserID,
		"kind":       string(n.Kind),
		"title":      n.Title,
		"body":       n.Body,
		"link":       n.Link,
		"delivered":  pq.StringArray(delivered),
		"read_at":    n.ReadAt,
		"created_at": n.CreatedAt.UTC(),
	}).Suffix("RETURNING " + notificationColumns).ToSql()
	if err != nil {
		return notification.Notification{}, errors.Wrap(err, "building notification insert")
	}
	var row notificationRow
	if err = repo.db.GetContext(ctx, &row, query, args...); err != nil {
		return notification.Notification{}, errors.Wrap(err, "inserting notification")
	}
	return row.notification(), nil
}

func notificationQuery(tenantID, userID string, filter notification.QueryFilter) sq.SelectBuilder {
	qb := psql.Select(notificationColumns).From("notification").
		Where(sq.Eq{"tenant_id": tenantID, "user_id": userID})
	if filter.Unread {
		qb = qb.Where(sq.Eq{"read_at": nil})
	}
	if filter.Kind != "" {
		qb = qb.Where(sq.Eq{"kind": string(filter.Kind)})
	}
	if filter.Search != "" {
		qb = qb.Where(ilike(filter.Search, "title", "body"))
	}
	qb = qb.OrderBy("created_at DESC", "id DESC")
	if filter.Limit > 0 {
		qb = qb.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		qb = qb.Offset(uint64(filter.Offset))
	}
	return qb
}

func (repo *notificationRepository) QueryNotifications(ctx context.Context, tenantID, userID string, filter notification.QueryFilter) ([]notification.Notification, error) {
	if !validID(userID) {
		return []notification.Notification{}, nil
	}
	query, args, err := notificationQuery(tenantID, userID, filter).ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building notification query")
	}
	var rows []notificationRow
	if err = repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying notifications")
	}
	notes := make([]notification.Notification, 0, len(rows))
	for _, r := range rows {
		notes = append(notes, r.notification())
	}
	return notes, nil
}

func (repo *notificationRepository) CountUnread(ctx context.Context, tenantID, userID string) (int, error) {
	if !validID(userID) {
		return 0, nil
	}
	var n int
	err := repo.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM notification WHERE tenant_id = $1 AND user_id = $2 AND read_at IS NULL", tenantID, userID)
	return n, errors.Wrap(err, "counting unread notifications")
}

func (repo *notificationRepository) MarkRead(ctx context.Context, tenantID, userID string, at time.Time, ids ...string) (int, error) {
	if !validID(userID) {
		return 0, nil
	}
	qb := psql.Update("notification").Set("read_at", at.UTC()).
		Where(sq.Eq{"tenant_id": tenantID, "user_id": userID, "read_at": nil})
	if len(ids) > 0 {
		valid := make([]string, 0, len(ids))
		for _, id := range ids {
			if validID(id) {
				valid = append(valid, id)
			}
		}
		if len(valid) == 0 {
			return 0, nil
		}
		qb = qb.Where(sq.Eq{"id": valid})
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "building mark read query")
	}
	res, err := repo.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errors.Wrap(err, "marking notifications read")
	}
	n, err := res.RowsAffected()
	return int(n), errors.Wrap(err, "marking notifications read")
}

func (repo *notificationRepository) DeleteNotification(ctx context.Context, tenantID, userID, id string) error {
	if !validID(id) || !validID(userID) {
		return notification.ErrNotFound
	}
	return execOne(ctx, repo.db, psql.Delete("notification").
		Where(sq.Eq{"tenant_id": tenantID, "user_id": userID, "id": id}),
		notification.ErrNotFound, "deleting notification")
}
