package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/fieldops/core"
	"github.com/trezcool/fieldops/core/client"
)

const clientColumns = "id, tenant_id, name, email, phone, address, city, postal_code, notes, created_at, updated_at"

type clientRow struct {
	ID         string    `db:"id"`
	TenantID   string    `db:"tenant_id"`
	Name       string    `db:"name"`
	Email      string    `db:"email"`
	Phone      string    `db:"phone"`
	Address    string    `db:"address"`
	City       string    `db:"city"`
	PostalCode string    `db:"postal_code"`
	Notes      string    `db:"notes"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (r clientRow) client() client.Client {
	c := client.Client(r)
	c.CreatedAt = r.CreatedAt.UTC()
	c.UpdatedAt = r.UpdatedAt.UTC()
	return c
}

type clientRepository struct {
	db *sqlx.DB
}

var _ client.Repository = (*clientRepository)(nil)

func NewClientRepository(db *sqlx.DB) client.Repository {
	return &clientRepository{db: db}
}

func clientValues(c client.Client) map[string]interface{} {
	return map[string]interface{}{
		"name":        c.Name,
		"email":       c.Email,
		"phone":       c.Phone,
		"address":     c.Address,
		"city":        c.City,
		"postal_code": c.PostalCode,
		"notes":       c.Notes,
		"updated_at":  c.UpdatedAt.UTC(),
	}
}

func (repo *clientRepository) scanOne(ctx context.Context, qb sq.Sqlizer, msg string) (client.Client, error) {
	query, args, err := qb.ToSql()
	if err != nil {
		return client.Client{}, errors.Wrap(err, "building client query")
	}
	var row clientRow
	if err = repo.db.GetContext(ctx, &row, query, args...); err != nil {
		return client.Client{}, trapNoRowsErr(err, client.ErrNotFound, msg)
	}
	return row.client(), nil
}

func (repo *clientRepository) CreateClient(ctx context.Context, c client.Client) (client.Client, error) {
	vals := clientValues(c)
	vals["id"] = c.ID
	vals["tenant_id"] = c.TenantID
	vals["created_at"] = c.CreatedAt.UTC()
	return repo.scanOne(ctx, psql.Insert("client").SetMap(vals).Suffix("RETURNING "+clientColumns), "inserting client")
}

func (repo *clientRepository) GetClient(ctx context.Context, tenantID, id string) (client.Client, error) {
	if !validID(id) {
		return client.Client{}, client.ErrNotFound
	}
	return repo.scanOne(ctx, psql.Select(clientColumns).From("client").
		Where(sq.Eq{"tenant_id": tenantID, "id": id}), "getting client")
}

func clientQuery(tenantID string, filter *client.QueryFilter, ordering []core.DBOrdering) sq.SelectBuilder {
	qb := psql.Select(clientColumns).From("client").Where(sq.Eq{"tenant_id": tenantID})
	if filter != nil {
		if filter.Search != "" {
			qb = qb.Where(ilike(filter.Search, "name", "email", "phone", "address"))
		}
		if filter.City != "" {
			qb = qb.Where(sq.Expr("lower(city) = lower(?)", filter.City))
		}
	}
	return qb.OrderBy(orderBy(ordering, nil, "name ASC")...)
}

func (repo *clientRepository) QueryClients(ctx context.Context, tenantID string, filter *client.QueryFilter, ordering []core.DBOrdering) ([]client.Client, error) {
	if !validID(tenantID) {
		return []client.Client{}, nil
	}
	query, args, err := clientQuery(tenantID, filter, ordering).ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building client query")
	}
	var rows []clientRow
	if err = repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying clients")
	}
	clients := make([]client.Client, 0, len(rows))
	for _, r := range rows {
		clients = append(clients, r.client())
	}
	return clients, nil
}

func (repo *clientRepository) UpdateClient(ctx context.Context, c client.Client) (client.Client, error) {
	if !validID(c.ID) {
		return client.Client{}, client.ErrNotFound
	}
	return repo.scanOne(ctx, psql.Update("client").SetMap(clientValues(c)).
		Where(sq.Eq{"tenant_id": c.TenantID, "id": c.ID}).
		Suffix("RETURNING "+clientColumns), "updating client")
}

func (repo *clientRepository) DeleteClient(ctx context.Context, tenantID, id string) error {
	if !validID(id) {
		return client.ErrNotFound
	}
	return execOne(ctx, repo.db, psql.Delete("client").Where(sq.Eq{"tenant_id": tenantID, "id": id}),
		client.ErrNotFound, "deleting client")
}
