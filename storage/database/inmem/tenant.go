package inmemdb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/trezcool/fieldops/core"
	"github.com/trezcool/fieldops/core/tenant"
)

type tenantRepository struct {
	db *tenantTable
}

var _ tenant.Repository = (*tenantRepository)(nil)

func NewTenantRepository(db *DB) tenant.Repository {
	return &tenantRepository{db: db.tenant}
}

func copyTenant(t *tenant.Tenant) tenant.Tenant {
	c := *t
	c.Warnings = make(map[tenant.UsageKind]int, len(t.Warnings))
	for k, v := range t.Warnings {
		c.Warnings[k] = v
	}
	return c
}

func (repo *tenantRepository) CreateTenant(_ context.Context, t tenant.Tenant) (tenant.Tenant, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, other := range repo.db.table {
		if other.Slug == t.Slug {
			return tenant.Tenant{}, tenant.ErrSlugExists
		}
	}
	t.Warnings = make(map[tenant.UsageKind]int)
	repo.db.table[t.ID] = &t
	return copyTenant(&t), nil
}

func (repo *tenantRepository) GetTenant(_ context.Context, filter tenant.GetFilter) (tenant.Tenant, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if filter.ID != "" {
		if t, ok := repo.db.table[filter.ID]; ok {
			return copyTenant(t), nil
		}
		return tenant.Tenant{}, tenant.ErrNotFound
	}
	for _, t := range repo.db.table {
		if filter.Slug != "" && t.Slug == filter.Slug {
			return copyTenant(t), nil
		}
	}
	return tenant.Tenant{}, tenant.ErrNotFound
}

func (repo *tenantRepository) QueryTenants(_ context.Context, filter *tenant.QueryFilter, ordering []core.DBOrdering) ([]tenant.Tenant, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	tenants := make([]tenant.Tenant, 0, len(repo.db.table))
	for _, t := range repo.db.table {
		if filter != nil {
			if filter.Search != "" {
				s := strings.ToLower(filter.Search)
				if !(strings.Contains(strings.ToLower(t.Name), s) || strings.Contains(t.Slug, s)) {
					continue
				}
			}
			if filter.Plan != "" && t.Subscription.Plan != filter.Plan {
				continue
			}
			if filter.IsActive != nil && t.IsActive != *filter.IsActive {
				continue
			}
		}
		tenants = append(tenants, copyTenant(t))
	}

	orderBy(tenants, ordering, "created_at", compareTenants)
	return tenants, nil
}

func compareTenants(a, b tenant.Tenant, field string) int {
	switch field {
	case "name":
		return strings.Compare(a.Name, b.Name)
	case "slug":
		return strings.Compare(a.Slug, b.Slug)
	case "next_reset_at":
		return compareTimes(a.Subscription.NextResetAt, b.Subscription.NextResetAt)
	default:
		return compareTimes(a.CreatedAt, b.CreatedAt)
	}
}

func (repo *tenantRepository) UpdateTenant(_ context.Context, t tenant.Tenant) (tenant.Tenant, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	orig, ok := repo.db.table[t.ID]
	if !ok {
		return tenant.Tenant{}, tenant.ErrNotFound
	}
	// usage and warnings are owned by the counters
	t.Usage = orig.Usage
	t.Warnings = orig.Warnings
	t.CreatedAt = orig.CreatedAt
	repo.db.table[t.ID] = &t
	return copyTenant(&t), nil
}

func (repo *tenantRepository) IncrementUsage(_ context.Context, tenantID string, kind tenant.UsageKind, delta, limit int64) (tenant.Usage, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	t, ok := repo.db.table[tenantID]
	if !ok {
		return tenant.Usage{}, tenant.ErrNotFound
	}
	val := t.Usage.Of(kind) + delta
	if delta > 0 && limit >= 0 && val > limit {
		return tenant.Usage{}, tenant.ErrLimitReached
	}
	if val < 0 {
		val = 0
	}
	t.Usage = t.Usage.Set(kind, val)
	return t.Usage, nil
}

func (repo *tenantRepository) SetUsage(_ context.Context, tenantID string, kind tenant.UsageKind, val int64) (tenant.Usage, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	t, ok := repo.db.table[tenantID]
	if !ok {
		return tenant.Usage{}, tenant.ErrNotFound
	}
	if val < 0 {
		val = 0
	}
	t.Usage = t.Usage.Set(kind, val)
	return t.Usage, nil
}

func (repo *tenantRepository) ResetUsage(_ context.Context, r tenant.Reset) (tenant.Tenant, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	t, ok := repo.db.table[r.TenantID]
	if !ok {
		return tenant.Tenant{}, tenant.ErrNotFound
	}
	if !t.Subscription.NextResetAt.Equal(r.ExpectedNextResetAt) {
		return tenant.Tenant{}, tenant.ErrResetConflict
	}

	for _, kind := range tenant.MonthlyKinds {
		t.Usage = t.Usage.Set(kind, 0)
		delete(t.Warnings, kind)
	}
	t.Subscription.CurrentPeriodStart = r.PeriodStart
	t.Subscription.NextResetAt = r.NextResetAt
	t.Subscription.LastResetAt = r.ResetAt
	t.UpdatedAt = r.ResetAt
	repo.db.records = append(repo.db.records, r.Record)
	return copyTenant(t), nil
}

func (repo *tenantRepository) RaiseWarning(_ context.Context, tenantID string, kind tenant.UsageKind, threshold int) (bool, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	t, ok := repo.db.table[tenantID]
	if !ok {
		return false, tenant.ErrNotFound
	}
	if t.Warnings[kind] >= threshold {
		return false, nil
	}
	t.Warnings[kind] = threshold
	return true, nil
}

func (repo *tenantRepository) ClearWarnings(_ context.Context, tenantID string, kinds ...tenant.UsageKind) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	t, ok := repo.db.table[tenantID]
	if !ok {
		return tenant.ErrNotFound
	}
	for _, kind := range kinds {
		delete(t.Warnings, kind)
	}
	return nil
}

func (repo *tenantRepository) ListDueForReset(_ context.Context, now time.Time) ([]tenant.Tenant, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var due []tenant.Tenant
	for _, t := range repo.db.table {
		if t.IsActive && !t.Subscription.NextResetAt.After(now) {
			due = append(due, copyTenant(t))
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].Subscription.NextResetAt.Before(due[j].Subscription.NextResetAt)
	})
	return due, nil
}

func (repo *tenantRepository) QueryUsageRecords(_ context.Context, tenantID string) ([]tenant.UsageRecord, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var records []tenant.UsageRecord
	for _, rec := range repo.db.records {
		if rec.TenantID == tenantID {
			records = append(records, rec)
		}
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].PeriodEnd.After(records[j].PeriodEnd) })
	return records, nil
}
