package attachment

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/fieldops/core"
	"github.com/trezcool/fieldops/core/tenant"
	"github.com/trezcool/fieldops/core/workorder"
)

// sniffLen is how much of an upload is read to detect its content type.
const sniffLen = 3072

var (
	ErrNotFound     = core.NewNotFoundError("attachment not found")
	ErrSizeMismatch = errors.New("uploaded content does not match its declared size")
)

type (
	Repository interface {
		CreateAttachment(ctx context.Context, a Attachment) (Attachment, error)
		GetAttachment(ctx context.Context, tenantID, id string) (Attachment, error)
		QueryAttachments(ctx context.Context, tenantID, workOrderID string) ([]Attachment, error)
		DeleteAttachment(ctx context.Context, tenantID, id string) error
	}

	// WorkOrderFinder finds the work order files get attached to.
	WorkOrderFinder interface {
		Get(ctx context.Context, tenantID, id string) (workorder.WorkOrder, error)
	}

	Service interface {
		Upload(ctx context.Context, tenantID, uploadedBy string, up Upload) (Attachment, error)
		Get(ctx context.Context, tenantID, id string) (Attachment, error)
		Download(ctx context.Context, tenantID, id string) (io.ReadCloser, Attachment, error)
		List(ctx context.Context, tenantID, workOrderID string) ([]Attachment, error)
		Delete(ctx context.Context, tenantID, id string) error
	}

	service struct {
		repo       Repository
		store      core.ObjectStore
		tenants    tenant.Service
		workOrders WorkOrderFinder
		logger     core.Logger
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, store core.ObjectStore, tenants tenant.Service, workOrders WorkOrderFinder, logger core.Logger) Service {
	return &service{
		repo:       repo,
		store:      store,
		tenants:    tenants,
		workOrders: workOrders,
		logger:     logger,
	}
}

// ObjectKey is where an attachment is stored.
func ObjectKey(tenantID, id, name string) string {
	return tenant.StoragePrefix(tenantID) + "attachments/" + id + "/" + name
}

func (svc *service) Upload(ctx context.Context, tenantID, uploadedBy string, up Upload) (Attachment, error) {
	if _, err := svc.workOrders.Get(ctx, tenantID, up.WorkOrderID); err != nil {
		return Attachment{}, err
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(up.Content, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return Attachment{}, errors.Wrap(err, "reading upload")
	}
	head = head[:n]
	contentType := mimetype.Detect(head).String()

	if _, err = svc.tenants.Consume(ctx, tenantID, tenant.UsageStorage, up.Size); err != nil {
		return Attachment{}, err
	}
	release := func() {
		if rErr := svc.tenants.Release(ctx, tenantID, tenant.UsageStorage, up.Size); rErr != nil {
			svc.logger.Error(fmt.Sprintf("releasing %d storage bytes of tenant %s: %v", up.Size, tenantID, rErr), rErr)
		}
	}

	a := Attachment{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		WorkOrderID: up.WorkOrderID,
		Name:        up.Name,
		ContentType: contentType,
		Size:        up.Size,
		UploadedBy:  uploadedBy,
		CreatedAt:   core.NowFunc().UTC(),
	}
	a.Key = ObjectKey(tenantID, a.ID, a.Name)

	content := &countingReader{r: io.LimitReader(io.MultiReader(bytes.NewReader(head), up.Content), up.Size+1)}
	if err = svc.store.Put(ctx, a.Key, content, up.Size, contentType); err != nil {
		release()
		return Attachment{}, errors.Wrap(err, "storing object")
	}
	if content.n != up.Size {
		svc.deleteObject(ctx, a.Key)
		release()
		return Attachment{}, ErrSizeMismatch
	}

	saved, err := svc.repo.CreateAttachment(ctx, a)
	if err != nil {
		svc.deleteObject(ctx, a.Key)
		release()
		return Attachment{}, errors.Wrap(err, "saving attachment")
	}
	return saved, nil
}

func (svc *service) deleteObject(ctx context.Context, key string) {
	if err := svc.store.Delete(ctx, key); err != nil && !core.IsNotFound(err) {
		svc.logger.Error(fmt.Sprintf("deleting object %s: %v", key, err), err)
	}
}

func (svc *service) Get(ctx context.Context, tenantID, id string) (Attachment, error) {
	return svc.repo.GetAttachment(ctx, tenantID, id)
}

func (svc *service) Download(ctx context.Context, tenantID, id string) (io.ReadCloser, Attachment, error) {
	a, err := svc.repo.GetAttachment(ctx, tenantID, id)
	if err != nil {
		return nil, Attachment{}, err
	}
	rc, _, err := svc.store.Get(ctx, a.Key)
	if err != nil {
		return nil, Attachment{}, errors.Wrap(err, "fetching object")
	}
	return rc, a, nil
}

func (svc *service) List(ctx context.Context, tenantID, workOrderID string) ([]Attachment, error) {
	return svc.repo.QueryAttachments(ctx, tenantID, workOrderID)
}

func (svc *service) Delete(ctx context.Context, tenantID, id string) error {
	a, err := svc.repo.GetAttachment(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if err = svc.store.Delete(ctx, a.Key); err != nil && !core.IsNotFound(err) {
		return errors.Wrap(err, "deleting object")
	}
	if err = svc.repo.DeleteAttachment(ctx, tenantID, id); err != nil {
		return err
	}
	if err = svc.tenants.Release(ctx, tenantID, tenant.UsageStorage, a.Size); err != nil {
		svc.logger.Error(fmt.Sprintf("releasing %d storage bytes of tenant %s: %v", a.Size, tenantID, err), err)
	}
	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += int64(n)
	return n, err
}
