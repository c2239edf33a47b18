package client

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/fieldops/core"
)

var (
	ErrNotFound    = core.NewNotFoundError("client not found")
	ErrClientInUse = errors.New("client is referenced by work orders")
)

type (
	Repository interface {
		CreateClient(ctx context.Context, c Client) (Client, error)
		GetClient(ctx context.Context, tenantID, id string) (Client, error)
		// QueryClients applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on one of Name, Email, Phone or Address.
		QueryClients(ctx context.Context, tenantID string, filter *QueryFilter, ordering []core.DBOrdering) ([]Client, error)
		UpdateClient(ctx context.Context, c Client) (Client, error)
		DeleteClient(ctx context.Context, tenantID, id string) error
	}

	// ReferenceCounter counts the work orders pointing to a client.
	ReferenceCounter interface {
		CountClientWorkOrders(ctx context.Context, tenantID, clientID string) (int, error)
	}

	Service interface {
		Create(ctx context.Context, tenantID string, nc NewClient) (Client, error)
		Get(ctx context.Context, tenantID, id string) (Client, error)
		Query(ctx context.Context, tenantID string, filter *QueryFilter, ordering []core.DBOrdering) ([]Client, error)
		Update(ctx context.Context, tenantID, id string, uc UpdateClient) (Client, error)
		Delete(ctx context.Context, tenantID, id string) error
	}

	service struct {
		repo Repository
		refs ReferenceCounter
	}
)

var _ Service = (*service)(nil)

// NewService creates a client Service; refs may be nil, in which case clients are always deletable.
func NewService(repo Repository, refs ReferenceCounter) Service {
	return &service{repo: repo, refs: refs}
}

func (svc *service) Create(ctx context.Context, tenantID string, nc NewClient) (Client, error) {
	now := core.NowFunc().UTC()
	return svc.repo.CreateClient(ctx, Client{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		Name:       nc.Name,
		Email:      nc.Email,
		Phone:      nc.Phone,
		Address:    nc.Address,
		City:       nc.City,
		PostalCode: nc.PostalCode,
		Notes:      nc.Notes,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
}

func (svc *service) Get(ctx context.Context, tenantID, id string) (Client, error) {
	return svc.repo.GetClient(ctx, tenantID, id)
}

func (svc *service) Query(ctx context.Context, tenantID string, filter *QueryFilter, ordering []core.DBOrdering) ([]Client, error) {
	return svc.repo.QueryClients(ctx, tenantID, filter, ordering)
}

func (svc *service) Update(ctx context.Context, tenantID, id string, uc UpdateClient) (Client, error) {
	c, err := svc.repo.GetClient(ctx, tenantID, id)
	if err != nil {
		return Client{}, err
	}
	c.Name = uc.Name
	c.Email = uc.Email
	c.Phone = uc.Phone
	c.Address = uc.Address
	c.City = uc.City
	c.PostalCode = uc.PostalCode
	c.Notes = uc.Notes
	c.UpdatedAt = core.NowFunc().UTC()
	return svc.repo.UpdateClient(ctx, c)
}

func (svc *service) Delete(ctx context.Context, tenantID, id string) error {
	if _, err := svc.repo.GetClient(ctx, tenantID, id); err != nil {
		return err
	}
	if svc.refs != nil {
		n, err := svc.refs.CountClientWorkOrders(ctx, tenantID, id)
		if err != nil {
			return errors.Wrap(err, "counting client work orders")
		}
		if n > 0 {
			return ErrClientInUse
		}
	}
	return svc.repo.DeleteClient(ctx, tenantID, id)
}
