package personnel

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/fieldops/core"
)

var (
	ErrNotFound        = core.NewNotFoundError("personnel not found")
	ErrTimeOffNotFound = core.NewNotFoundError("time off not found")
)

type (
	Repository interface {
		CreatePersonnel(ctx context.Context, p Personnel) (Personnel, error)
		GetPersonnel(ctx context.Context, tenantID, id string) (Personnel, error)
		// QueryPersonnel applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on one of Name, Email or Phone.
		QueryPersonnel(ctx context.Context, tenantID string, filter *QueryFilter, ordering []core.DBOrdering) ([]Personnel, error)
		UpdatePersonnel(ctx context.Context, p Personnel) (Personnel, error)
		DeletePersonnel(ctx context.Context, tenantID, id string) error
	}

	Service interface {
		Create(ctx context.Context, tenantID string, np NewPersonnel) (Personnel, error)
		Get(ctx context.Context, tenantID, id string) (Personnel, error)
		GetMany(ctx context.Context, tenantID string, ids ...string) ([]Personnel, error)
		Query(ctx context.Context, tenantID string, filter *QueryFilter, ordering []core.DBOrdering) ([]Personnel, error)
		Update(ctx context.Context, tenantID, id string, up UpdatePersonnel) (Personnel, error)
		Delete(ctx context.Context, tenantID, id string) error
		AddTimeOff(ctx context.Context, tenantID, id string, nt NewTimeOff) (Personnel, error)
		RemoveTimeOff(ctx context.Context, tenantID, id, timeOffID string) (Personnel, error)
		// Available lists the active personnel working at `at` and having every skill.
		Available(ctx context.Context, tenantID string, at time.Time, tenantTZ string, skills ...string) ([]Personnel, error)
	}

	service struct {
		repo Repository
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (svc *service) Create(ctx context.Context, tenantID string, np NewPersonnel) (Personnel, error) {
	now := core.NowFunc().UTC()
	p := Personnel{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		UserID:    np.UserID,
		Name:      np.Name,
		Email:     np.Email,
		Phone:     np.Phone,
		Role:      np.Role,
		Skills:    np.Skills,
		Timezone:  np.Timezone,
		IsActive:  true,
		Shifts:    np.Shifts,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return svc.repo.CreatePersonnel(ctx, p)
}

func (svc *service) Get(ctx context.Context, tenantID, id string) (Personnel, error) {
	return svc.repo.GetPersonnel(ctx, tenantID, id)
}

func (svc *service) GetMany(ctx context.Context, tenantID string, ids ...string) ([]Personnel, error) {
	people := make([]Personnel, 0, len(ids))
	for _, id := range ids {
		p, err := svc.repo.GetPersonnel(ctx, tenantID, id)
		if err != nil {
			return nil, errors.Wrapf(err, "finding personnel %s", id)
		}
		people = append(people, p)
	}
	return people, nil
}

func (svc *service) Query(ctx context.Context, tenantID string, filter *QueryFilter, ordering []core.DBOrdering) ([]Personnel, error) {
	return svc.repo.QueryPersonnel(ctx, tenantID, filter, ordering)
}

func (svc *service) Update(ctx context.Context, tenantID, id string, up UpdatePersonnel) (Personnel, error) {
	p, err := svc.repo.GetPersonnel(ctx, tenantID, id)
	if err != nil {
		return Personnel{}, err
	}

	if up.UserID != nil {
		p.UserID = *up.UserID
	}
	p.Name = up.Name
	p.Email = up.Email
	p.Phone = up.Phone
	p.Role = up.Role
	p.Timezone = up.Timezone
	if up.Skills != nil {
		p.Skills = up.Skills
	}
	if up.Shifts != nil {
		p.Shifts = up.Shifts
	}
	if up.IsActive != nil {
		p.IsActive = *up.IsActive
	}
	p.UpdatedAt = core.NowFunc().UTC()
	return svc.repo.UpdatePersonnel(ctx, p)
}

func (svc *service) Delete(ctx context.Context, tenantID, id string) error {
	return svc.repo.DeletePersonnel(ctx, tenantID, id)
}

func (svc *service) AddTimeOff(ctx context.Context, tenantID, id string, nt NewTimeOff) (Personnel, error) {
	p, err := svc.repo.GetPersonnel(ctx, tenantID, id)
	if err != nil {
		return Personnel{}, err
	}
	p.TimeOff = append(p.TimeOff, TimeOff{
		ID:     uuid.NewString(),
		Start:  nt.Start.UTC(),
		End:    nt.End.UTC(),
		Reason: nt.Reason,
	})
	p.UpdatedAt = core.NowFunc().UTC()
	return svc.repo.UpdatePersonnel(ctx, p)
}

func (svc *service) RemoveTimeOff(ctx context.Context, tenantID, id, timeOffID string) (Personnel, error) {
	p, err := svc.repo.GetPersonnel(ctx, tenantID, id)
	if err != nil {
		return Personnel{}, err
	}
	kept := p.TimeOff[:0]
	for _, off := range p.TimeOff {
		if off.ID != timeOffID {
			kept = append(kept, off)
		}
	}
	if len(kept) == len(p.TimeOff) {
		return Personnel{}, ErrTimeOffNotFound
	}
	p.TimeOff = kept
	p.UpdatedAt = core.NowFunc().UTC()
	return svc.repo.UpdatePersonnel(ctx, p)
}

func (svc *service) Available(ctx context.Context, tenantID string, at time.Time, tenantTZ string, skills ...string) ([]Personnel, error) {
	active := true
	people, err := svc.repo.QueryPersonnel(ctx, tenantID, &QueryFilter{IsActive: &active, Skills: skills}, nil)
	if err != nil {
		return nil, errors.Wrap(err, "querying personnel")
	}
	available := make([]Personnel, 0, len(people))
	for _, p := range people {
		if p.HasSkills(skills...) && p.IsAvailableAt(at, tenantTZ) {
			available = append(available, p)
		}
	}
	return available, nil
}
