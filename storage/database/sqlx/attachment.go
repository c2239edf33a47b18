package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/fieldops/core/attachment"
)

const attachmentColumns = "id, tenant_id, work_order_id, name, content_type, size, key, uploaded_by, created_at"

type attachmentRow struct {
	ID          string    `db:"id"`
	TenantID    string    `db:"tenant_id"`
	WorkOrderID string    `db:"work_order_id"`
	Name        string    `db:"name"`
	ContentType string    `db:"content_type"`
	Size        int64     `db:"size"`
	Key         string    `db:"key"`
	UploadedBy  string    `db:"uploaded_by"`
	CreatedAt   time.Time `db:"created_at"`
}

type attachmentRepository struct {
	db *sqlx.DB
}

var _ attachment.Repository = (*attachmentRepository)(nil)

func NewAttachmentRepository(db *sqlx.DB) attachment.Repository {
	return &attachmentRepository{db: db}
}

func (repo *attachmentRepository) scan(ctx context.Context, qb sq.Sqlizer, msg string) (attachment.Attachment, error) {
	query, args, err := qb.ToSql()
	if err != nil {
		return attachment.Attachment{}, errors.Wrap(err, "building attachment query")
	}
	var row attachmentRow
	if err = repo.db.GetContext(ctx, &row, query, args...); err != nil {
		return attachment.Attachment{}, trapNoRowsErr(err, attachment.ErrNotFound, msg)
	}
	row.CreatedAt = row.CreatedAt.UTC()
	return attachment.Attachment(row), nil
}

func (repo *attachmentRepository) CreateAttachment(ctx context.Context, a attachment.Attachment) (attachment.Attachment, error) {
	return repo.scan(ctx, psql.Insert("attachment").SetMap(map[string]interface{}{
		"id":            a.ID,
		"tenant_id":     a.TenantID,
		"work_order_id": a.WorkOrderID,
		"name":          a.Name,
		"content_type":  a.ContentType,
		"size":          a.Size,
		"key":           a.Key,
		"uploaded_by":   a.UploadedBy,
		"created_at":    a.CreatedAt.UTC(),
	}).Suffix("RETURNING "+attachmentColumns), "inserting attachment")
}

func (repo *attachmentRepository) GetAttachment(ctx context.Context, tenantID, id string) (attachment.Attachment, error) {
	if !validID(id) {
		return attachment.Attachment{}, attachment.ErrNotFound
	}
	return repo.scan(ctx, psql.Select(attachmentColumns).From("attachment").
		Where(sq.Eq{"tenant_id": tenantID, "id": id}), "getting attachment")
}

func (repo *attachmentRepository) QueryAttachments(ctx context.Context, tenantID, workOrderID string) ([]attachment.Attachment, error) {
	qb := psql.Select(attachmentColumns).From("attachment").Where(sq.Eq{"tenant_id": tenantID})
	if workOrderID != "" {
		if !validID(workOrderID) {
			return []attachment.Attachment{}, nil
		}
		qb = qb.Where(sq.Eq{"work_order_id": workOrderID})
	}
	query, args, err := qb.OrderBy("created_at ASC", "id ASC").ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building attachment query")
	}
	var rows []attachmentRow
	if err = repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying attachments")
	}
	attachments := make([]attachment.Attachment, 0, len(rows))
	for _, r := range rows {
		r.CreatedAt = r.CreatedAt.UTC()
		attachments = append(attachments, attachment.Attachment(r))
	}
	return attachments, nil
}

func (repo *attachmentRepository) DeleteAttachment(ctx context.Context, tenantID, id string) error {
	if !validID(id) {
		return attachment.ErrNotFound
	}
	return execOne(ctx, repo.db, psql.Delete("attachment").Where(sq.Eq{"tenant_id": tenantID, "id": id}),
		attachment.ErrNotFound, "deleting attachment")
}
