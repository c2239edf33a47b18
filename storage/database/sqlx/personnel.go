package sqlxrepos

import (
	"context"
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/fieldops/core"
	"github.com/trezcool/fieldops/core/personnel"
)

const personnelColumns = `id, tenant_id, user_id, name, email, phone, role, skills, timezone, is_active,
	shifts, time_off, created_at, updated_at`

type personnelRow struct {
	ID        string         `db:"id"`
	TenantID  string         `db:"tenant_id"`
	UserID    null.String    `db:"user_id"`
	Name      string         `db:"name"`
	Email     string         `db:"email"`
	Phone     string         `db:"phone"`
	Role      string         `db:"role"`
	Skills    pq.StringArray `db:"skills"`
	Timezone  string         `db:"timezone"`
	IsActive  bool           `db:"is_active"`
	Shifts    types.JSONText `db:"shifts"`
	TimeOff   types.JSONText `db:"time_off"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

func (r personnelRow) personnel() (personnel.Personnel, error) {
	p := personnel.Personnel{
		ID:        r.ID,
		TenantID:  r.TenantID,
		UserID:    r.UserID.String,
		Name:      r.Name,
		Email:     r.Email,
		Phone:     r.Phone,
		Role:      personnel.Role(r.Role),
		Skills:    []string(r.Skills),
		Timezone:  r.Timezone,
		IsActive:  r.IsActive,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
	if err := r.Shifts.Unmarshal(&p.Shifts); err != nil {
		return p, errors.Wrap(err, "decoding shifts")
	}
	if err := r.TimeOff.Unmarshal(&p.TimeOff); err != nil {
		return p, errors.Wrap(err, "decoding time off")
	}
	return p, nil
}

type personnelRepository struct {
	db *sqlx.DB
}

var _ personnel.Repository = (*personnelRepository)(nil)

func NewPersonnelRepository(db *sqlx.DB) personnel.Repository {
	return &personnelRepository{db: db}
}

func personnelValues(p personnel.Personnel) (map[string]interface{}, error) {
	shifts, err := json.Marshal(nonNil(p.Shifts))
	if err != nil {
		return nil, errors.Wrap(err, "encoding shifts")
	}
	timeOff, err := json.Marshal(nonNil(p.TimeOff))
	if err != nil {
		return nil, errors.Wrap(err, "encoding time off")
	}
	return map[string]interface{}{
		"user_id":    nullableID(p.UserID),
		"name":       p.Name,
		"email":      p.Email,
		"phone":      p.Phone,
		"role":       string(p.Role),
		"skills":     pq.StringArray(nonNil(p.Skills)),
		"timezone":   p.Timezone,
		"is_active":  p.IsActive,
		"shifts":     types.JSONText(shifts),
		"time_off":   types.JSONText(timeOff),
		"updated_at": p.UpdatedAt.UTC(),
	}, nil
}

func (repo *personnelRepository) scanOne(ctx context.Context, qb sq.Sqlizer, msg string) (personnel.Personnel, error) {
	query, args, err := qb.ToSql()
	if err != nil {
		return personnel.Personnel{}, errors.Wrap(err, "building personnel query")
	}
	var row personnelRow
	if err = repo.db.GetContext(ctx, &row, query, args...); err != nil {
		return personnel.Personnel{}, trapNoRowsErr(err, personnel.ErrNotFound, msg)
	}
	return row.personnel()
}

func (repo *personnelRepository) CreatePersonnel(ctx context.Context, p personnel.Personnel) (personnel.Personnel, error) {
	vals, err := personnelValues(p)
	if err != nil {
		return personnel.Personnel{}, err
	}
	vals["id"] = p.ID
	vals["tenant_id"] = p.TenantID
	vals["created_at"] = p.CreatedAt.UTC()
	return repo.scanOne(ctx, psql.Insert("personnel").SetMap(vals).Suffix("RETURNING "+personnelColumns), "inserting personnel")
}

func (repo *personnelRepository) GetPersonnel(ctx context.Context, tenantID, id string) (personnel.Personnel, error) {
	if !validID(id) {
		return personnel.Personnel{}, personnel.ErrNotFound
	}
	return repo.scanOne(ctx, psql.Select(personnelColumns).From("personnel").
		Where(sq.Eq{"tenant_id": tenantID, "id": id}), "getting personnel")
}

func personnelQuery(tenantID string, filter *personnel.QueryFilter, ordering []core.DBOrdering) sq.SelectBuilder {
	qb := psql.Select(personnelColumns).From("personnel").Where(sq.Eq{"tenant_id": tenantID})
	if filter != nil {
		if filter.Search != "" {
			qb = qb.Where(ilike(filter.Search, "name", "email", "phone"))
		}
		if len(filter.Roles) > 0 {
			roles := make([]string, 0, len(filter.Roles))
			for _, r := range filter.Roles {
				roles = append(roles, string(r))
			}
			qb = qb.Where(sq.Eq{"role": roles})
		}
		// skills are stored lower cased
		if len(filter.Skills) > 0 {
			qb = qb.Where(sq.Expr("skills @> ?", pq.StringArray(filter.Skills)))
		}
		if filter.IsActive != nil {
			qb = qb.Where(sq.Eq{"is_active": *filter.IsActive})
		}
		if filter.UserID != "" {
			qb = qb.Where(sq.Eq{"user_id": filter.UserID})
		}
	}
	return qb.OrderBy(orderBy(ordering, nil, "name ASC", "created_at ASC")...)
}

func (repo *personnelRepository) QueryPersonnel(ctx context.Context, tenantID string, filter *personnel.QueryFilter, ordering []core.DBOrdering) ([]personnel.Personnel, error) {
	if !validID(tenantID) || (filter != nil && filter.UserID != "" && !validID(filter.UserID)) {
		return []personnel.Personnel{}, nil
	}
	query, args, err := personnelQuery(tenantID, filter, ordering).ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building personnel query")
	}
	var rows []personnelRow
	if err = repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying personnel")
	}
	people := make([]personnel.Personnel, 0, len(rows))
	for _, r := range rows {
		p, err := r.personnel()
		if err != nil {
			return nil, err
		}
		people = append(people, p)
	}
	return people, nil
}

func (repo *personnelRepository) UpdatePersonnel(ctx context.Context, p personnel.Personnel) (personnel.Personnel, error) {
	if !validID(p.ID) {
		return personnel.Personnel{}, personnel.ErrNotFound
	}
	vals, err := personnelValues(p)
	if err != nil {
		return personnel.Personnel{}, err
	}
	return repo.scanOne(ctx, psql.Update("personnel").SetMap(vals).
		Where(sq.Eq{"tenant_id": p.TenantID, "id": p.ID}).
		Suffix("RETURNING "+personnelColumns), "updating personnel")
}

func (repo *personnelRepository) DeletePersonnel(ctx context.Context, tenantID, id string) error {
	if !validID(id) {
		return personnel.ErrNotFound
	}
	return execOne(ctx, repo.db, psql.Delete("personnel").Where(sq.Eq{"tenant_id": tenantID, "id": id}),
		personnel.ErrNotFound, "deleting personnel")
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// execOne runs a statement expected to affect exactly one row, returning notFound when none was.
func execOne(ctx context.Context, db sqlx.ExecerContext, qb sq.Sqlizer, notFound error, msg string) error {
	query, args, err := qb.ToSql()
	if err != nil {
		return errors.Wrap(err, msg)
	}
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, msg)
	}
	if n, err := res.RowsAffected(); err != nil {
		return errors.Wrap(err, msg)
	} else if n == 0 {
		return notFound
	}
	return nil
}
