package inmemdb

import (
	"context"
	"strings"

	"github.com/trezcool/fieldops/core"
	"github.com/trezcool/fieldops/core/client"
)

type clientRepository struct {
	db *clientTable
}

var _ client.Repository = (*clientRepository)(nil)

func NewClientRepository(db *DB) client.Repository {
	return &clientRepository{db: db.client}
}

func (repo *clientRepository) CreateClient(_ context.Context, c client.Client) (client.Client, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	repo.db.table[c.ID] = &c
	return c, nil
}

func (repo *clientRepository) GetClient(_ context.Context, tenantID, id string) (client.Client, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if c, ok := repo.db.table[id]; ok && c.TenantID == tenantID {
		return *c, nil
	}
	return client.Client{}, client.ErrNotFound
}

func (repo *clientRepository) QueryClients(_ context.Context, tenantID string, filter *client.QueryFilter, ordering []core.DBOrdering) ([]client.Client, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	clients := make([]client.Client, 0)
	for _, c := range repo.db.table {
		if c.TenantID != tenantID {
			continue
		}
		if filter != nil {
			if filter.Search != "" && !containsFold(filter.Search, c.Name, c.Email, c.Phone, c.Address) {
				continue
			}
			if filter.City != "" && !strings.EqualFold(filter.City, c.City) {
				continue
			}
		}
		clients = append(clients, *c)
	}
	orderBy(clients, ordering, "name", func(a, b client.Client, field string) int {
		switch field {
		case "city":
			return strings.Compare(a.City, b.City)
		case "created_at":
			return compareTimes(a.CreatedAt, b.CreatedAt)
		default:
			return strings.Compare(a.Name, b.Name)
		}
	})
	return clients, nil
}

func (repo *clientRepository) UpdateClient(_ context.Context, c client.Client) (client.Client, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	orig, ok := repo.db.table[c.ID]
	if !ok || orig.TenantID != c.TenantID {
		return client.Client{}, client.ErrNotFound
	}
	c.CreatedAt = orig.CreatedAt
	repo.db.table[c.ID] = &c
	return c, nil
}

func (repo *clientRepository) DeleteClient(_ context.Context, tenantID, id string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if c, ok := repo.db.table[id]; !ok || c.TenantID != tenantID {
		return client.ErrNotFound
	}
	delete(repo.db.table, id)
	return nil
}
