package inmemdb

import (
	"context"
	"sort"

	"github.com/trezcool/fieldops/core/attachment"
)

type attachmentRepository struct {
	db *attachmentTable
}

var _ attachment.Repository = (*attachmentRepository)(nil)

func NewAttachmentRepository(db *DB) attachment.Repository {
	return &attachmentRepository{db: db.attachment}
}

func (repo *attachmentRepository) CreateAttachment(_ context.Context, a attachment.Attachment) (attachment.Attachment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	repo.db.table[a.ID] = &a
	return a, nil
}

func (repo *attachmentRepository) GetAttachment(_ context.Context, tenantID, id string) (attachment.Attachment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if a, ok := repo.db.table[id]; ok && a.TenantID == tenantID {
		return *a, nil
	}
	return attachment.Attachment{}, attachment.ErrNotFound
}

func (repo *attachmentRepository) QueryAttachments(_ context.Context, tenantID, workOrderID string) ([]attachment.Attachment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	atts := make([]attachment.Attachment, 0)
	for _, a := range repo.db.table {
		if a.TenantID == tenantID && (workOrderID == "" || a.WorkOrderID == workOrderID) {
			atts = append(atts, *a)
		}
	}
	sort.Slice(atts, func(i, j int) bool { return atts[i].CreatedAt.Before(atts[j].CreatedAt) })
	return atts, nil
}

func (repo *attachmentRepository) DeleteAttachment(_ context.Context, tenantID, id string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if a, ok := repo.db.table[id]; !ok || a.TenantID != tenantID {
		return attachment.ErrNotFound
	}
	delete(repo.db.table, id)
	return nil
}
