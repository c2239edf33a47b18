package inmemdb

import (
	"context"
	"strings"

	"github.com/trezcool/fieldops/core"
	"github.com/trezcool/fieldops/core/personnel"
)

type personnelRepository struct {
	db *personnelTable
}

var _ personnel.Repository = (*personnelRepository)(nil)

func NewPersonnelRepository(db *DB) personnel.Repository {
	return &personnelRepository{db: db.personnel}
}

func copyPersonnel(p *personnel.Personnel) personnel.Personnel {
	c := *p
	c.Skills = copyStrings(p.Skills)
	c.Shifts = append([]personnel.Shift(nil), p.Shifts...)
	c.TimeOff = append([]personnel.TimeOff(nil), p.TimeOff...)
	return c
}

func (repo *personnelRepository) CreatePersonnel(_ context.Context, p personnel.Personnel) (personnel.Personnel, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	stored := copyPersonnel(&p)
	repo.db.table[p.ID] = &stored
	return copyPersonnel(&stored), nil
}

func (repo *personnelRepository) GetPersonnel(_ context.Context, tenantID, id string) (personnel.Personnel, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if p, ok := repo.db.table[id]; ok && p.TenantID == tenantID {
		return copyPersonnel(p), nil
	}
	return personnel.Personnel{}, personnel.ErrNotFound
}

func (repo *personnelRepository) QueryPersonnel(_ context.Context, tenantID string, filter *personnel.QueryFilter, ordering []core.DBOrdering) ([]personnel.Personnel, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	people := make([]personnel.Personnel, 0)
	for _, p := range repo.db.table {
		if p.TenantID != tenantID || (filter != nil && !matchPersonnel(p, filter)) {
			continue
		}
		people = append(people, copyPersonnel(p))
	}
	orderBy(people, ordering, "name", func(a, b personnel.Personnel, field string) int {
		switch field {
		case "role":
			return strings.Compare(string(a.Role), string(b.Role))
		case "created_at":
			return compareTimes(a.CreatedAt, b.CreatedAt)
		default:
			return strings.Compare(a.Name, b.Name)
		}
	})
	return people, nil
}

func matchPersonnel(p *personnel.Personnel, filter *personnel.QueryFilter) bool {
	if filter.Search != "" && !containsFold(filter.Search, p.Name, p.Email, p.Phone) {
		return false
	}
	if len(filter.Roles) > 0 {
		found := false
		for _, role := range filter.Roles {
			if p.Role == role {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !p.HasSkills(filter.Skills...) {
		return false
	}
	if filter.IsActive != nil && p.IsActive != *filter.IsActive {
		return false
	}
	if filter.UserID != "" && p.UserID != filter.UserID {
		return false
	}
	return true
}

func (repo *personnelRepository) UpdatePersonnel(_ context.Context, p personnel.Personnel) (personnel.Personnel, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	orig, ok := repo.db.table[p.ID]
	if !ok || orig.TenantID != p.TenantID {
		return personnel.Personnel{}, personnel.ErrNotFound
	}
	p.CreatedAt = orig.CreatedAt
	stored := copyPersonnel(&p)
	repo.db.table[p.ID] = &stored
	return copyPersonnel(&stored), nil
}

func (repo *personnelRepository) DeletePersonnel(_ context.Context, tenantID, id string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if p, ok := repo.db.table[id]; !ok || p.TenantID != tenantID {
		return personnel.ErrNotFound
	}
	delete(repo.db.table, id)
	return nil
}
