package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/fieldops/core"
	"github.com/trezcool/fieldops/core/tenant"
)

const tenantColumns = `id, name, slug, timezone, is_active, plan, subscription_status, billing_day,
	current_period_start, next_reset_at, last_reset_at, trial_ends_at,
	limit_users, limit_work_orders, limit_sms, limit_storage_bytes,
	usage_users, usage_work_orders, usage_sms, usage_storage_bytes,
	warnings, created_at, updated_at`

const usageColumns = "usage_users, usage_work_orders, usage_sms, usage_storage_bytes"

type tenantRow struct {
	ID                 string         `db:"id"`
	Name               string         `db:"name"`
	Slug               string         `db:"slug"`
	Timezone           string         `db:"timezone"`
	IsActive           bool           `db:"is_active"`
	Plan               string         `db:"plan"`
	SubscriptionStatus string         `db:"subscription_status"`
	BillingDay         int            `db:"billing_day"`
	CurrentPeriodStart time.Time      `db:"current_period_start"`
	NextResetAt        time.Time      `db:"next_reset_at"`
	LastResetAt        null.Time      `db:"last_reset_at"`
	TrialEndsAt        null.Time      `db:"trial_ends_at"`
	LimitUsers         int64          `db:"limit_users"`
	LimitWorkOrders    int64          `db:"limit_work_orders"`
	LimitSMS           int64          `db:"limit_sms"`
	LimitStorageBytes  int64          `db:"limit_storage_bytes"`
	UsageUsers         int64          `db:"usage_users"`
	UsageWorkOrders    int64          `db:"usage_work_orders"`
	UsageSMS           int64          `db:"usage_sms"`
	UsageStorageBytes  int64          `db:"usage_storage_bytes"`
	Warnings           types.JSONText `db:"warnings"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
}

type usageRow struct {
	Users        int64 `db:"usage_users"`
	WorkOrders   int64 `db:"usage_work_orders"`
	SMS          int64 `db:"usage_sms"`
	StorageBytes int64 `db:"usage_storage_bytes"`
}

func (r usageRow) usage() tenant.Usage {
	return tenant.Usage{Users: r.Users, WorkOrders: r.WorkOrders, SMS: r.SMS, StorageBytes: r.StorageBytes}
}

func (r tenantRow) tenant() tenant.Tenant {
	warnings := make(map[tenant.UsageKind]int)
	_ = json.Unmarshal(r.Warnings, &warnings)
	return tenant.Tenant{
		ID:       r.ID,
		Name:     r.Name,
		Slug:     r.Slug,
		Timezone: r.Timezone,
		IsActive: r.IsActive,
		Subscription: tenant.Subscription{
			Plan:               tenant.Plan(r.Plan),
			Status:             tenant.SubscriptionStatus(r.SubscriptionStatus),
			BillingDay:         r.BillingDay,
			CurrentPeriodStart: r.CurrentPeriodStart.UTC(),
			NextResetAt:        r.NextResetAt.UTC(),
			LastResetAt:        utc(r.LastResetAt),
			TrialEndsAt:        utc(r.TrialEndsAt),
			Limits: tenant.Limits{
				Users:        r.LimitUsers,
				WorkOrders:   r.LimitWorkOrders,
				SMS:          r.LimitSMS,
				StorageBytes: r.LimitStorageBytes,
			},
		},
		Usage:     usageRow{r.UsageUsers, r.UsageWorkOrders, r.UsageSMS, r.UsageStorageBytes}.usage(),
		Warnings:  warnings,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

func utc(t null.Time) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time.UTC()
}

func nullTime(t time.Time) null.Time {
	return null.NewTime(t.UTC(), !t.IsZero())
}

// usageColumn is the counter column of a usage kind.
func usageColumn(kind tenant.UsageKind) (string, error) {
	switch kind {
	case tenant.UsageUsers:
		return "usage_users", nil
	case tenant.UsageWorkOrders:
		return "usage_work_orders", nil
	case tenant.UsageSMS:
		return "usage_sms", nil
	case tenant.UsageStorage:
		return "usage_storage_bytes", nil
	}
	return "", errors.Errorf("unknown usage kind %q", kind)
}

type tenantRepository struct {
	db *sqlx.DB
}

var _ tenant.Repository = (*tenantRepository)(nil)

func NewTenantRepository(db *sqlx.DB) tenant.Repository {
	return &tenantRepository{db: db}
}

func (repo *tenantRepository) subscriptionValues(t tenant.Tenant) map[string]interface{} {
	s := t.Subscription
	return map[string]interface{}{
		"name":                 t.Name,
		"slug":                 t.Slug,
		"timezone":             t.Timezone,
		"is_active":            t.IsActive,
		"plan":                 string(s.Plan),
		"subscription_status":  string(s.Status),
		"billing_day":          s.BillingDay,
		"current_period_start": s.CurrentPeriodStart.UTC(),
		"next_reset_at":        s.NextResetAt.UTC(),
		"last_reset_at":        nullTime(s.LastResetAt),
		"trial_ends_at":        nullTime(s.TrialEndsAt),
		"limit_users":          s.Limits.Users,
		"limit_work_orders":    s.Limits.WorkOrders,
		"limit_sms":            s.Limits.SMS,
		"limit_storage_bytes":  s.Limits.StorageBytes,
		"updated_at":           t.UpdatedAt.UTC(),
	}
}

func (repo *tenantRepository) CreateTenant(ctx context.Context, t tenant.Tenant) (tenant.Tenant, error) {
	vals := repo.subscriptionValues(t)
	vals["id"] = t.ID
	vals["usage_users"] = t.Usage.Users
	vals["usage_work_orders"] = t.Usage.WorkOrders
	vals["usage_sms"] = t.Usage.SMS
	vals["usage_storage_bytes"] = t.Usage.StorageBytes
	vals["created_at"] = t.CreatedAt.UTC()

	query, args, err := psql.Insert("tenant").SetMap(vals).Suffix("RETURNING " + tenantColumns).ToSql()
	if err != nil {
		return tenant.Tenant{}, errors.Wrap(err, "building tenant insert")
	}
	var row tenantRow
	if err = repo.db.GetContext(ctx, &row, query, args...); err != nil {
		if isUniqueViolation(err) {
			return tenant.Tenant{}, tenant.ErrSlugExists
		}
		return tenant.Tenant{}, errors.Wrap(err, "inserting tenant")
	}
	return row.tenant(), nil
}

func (repo *tenantRepository) GetTenant(ctx context.Context, filter tenant.GetFilter) (tenant.Tenant, error) {
	qb := psql.Select(tenantColumns).From("tenant")
	switch {
	case filter.ID != "":
		if !validID(filter.ID) {
			return tenant.Tenant{}, tenant.ErrNotFound
		}
		qb = qb.Where(sq.Eq{"id": filter.ID})
	case filter.Slug != "":
		qb = qb.Where(sq.Eq{"slug": filter.Slug})
	default:
		return tenant.Tenant{}, tenant.ErrNotFound
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return tenant.Tenant{}, errors.Wrap(err, "building tenant query")
	}
	var row tenantRow
	if err = repo.db.GetContext(ctx, &row, query, args...); err != nil {
		return tenant.Tenant{}, trapNoRowsErr(err, tenant.ErrNotFound, "getting tenant")
	}
	return row.tenant(), nil
}

func tenantQuery(filter *tenant.QueryFilter, ordering []core.DBOrdering) sq.SelectBuilder {
	qb := psql.Select(tenantColumns).From("tenant")
	if filter != nil {
		if filter.Search != "" {
			qb = qb.Where(ilike(filter.Search, "name", "slug"))
		}
		if filter.Plan != "" {
			qb = qb.Where(sq.Eq{"plan": string(filter.Plan)})
		}
		if filter.IsActive != nil {
			qb = qb.Where(sq.Eq{"is_active": *filter.IsActive})
		}
	}
	return qb.OrderBy(orderBy(ordering, nil, "created_at ASC")...)
}

func (repo *tenantRepository) QueryTenants(ctx context.Context, filter *tenant.QueryFilter, ordering []core.DBOrdering) ([]tenant.Tenant, error) {
	return repo.selectTenants(ctx, tenantQuery(filter, ordering))
}

func (repo *tenantRepository) selectTenants(ctx context.Context, qb sq.SelectBuilder) ([]tenant.Tenant, error) {
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building tenant query")
	}
	var rows []tenantRow
	if err = repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying tenants")
	}
	tenants := make([]tenant.Tenant, 0, len(rows))
	for _, r := range rows {
		tenants = append(tenants, r.tenant())
	}
	return tenants, nil
}

func (repo *tenantRepository) UpdateTenant(ctx context.Context, t tenant.Tenant) (tenant.Tenant, error) {
	if !validID(t.ID) {
		return tenant.Tenant{}, tenant.ErrNotFound
	}
	query, args, err := psql.Update("tenant").
		SetMap(repo.subscriptionValues(t)).
		Where(sq.Eq{"id": t.ID}).
		Suffix("RETURNING " + tenantColumns).
		ToSql()
	if err != nil {
		return tenant.Tenant{}, errors.Wrap(err, "building tenant update")
	}
	var row tenantRow
	if err = repo.db.GetContext(ctx, &row, query, args...); err != nil {
		if isUniqueViolation(err) {
			return tenant.Tenant{}, tenant.ErrSlugExists
		}
		return tenant.Tenant{}, trapNoRowsErr(err, tenant.ErrNotFound, "updating tenant")
	}
	return row.tenant(), nil
}

// exists tells a missing tenant apart from a conditional update that matched no row.
func (repo *tenantRepository) exists(ctx context.Context, q sqlx.QueryerContext, id string) (bool, error) {
	var found bool
	err := sqlx.GetContext(ctx, q, &found, "SELECT true FROM tenant WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return found, errors.Wrap(err, "checking tenant")
}

func (repo *tenantRepository) IncrementUsage(ctx context.Context, tenantID string, kind tenant.UsageKind, delta, limit int64) (tenant.Usage, error) {
	col, err := usageColumn(kind)
	if err != nil {
		return tenant.Usage{}, err
	}
	if !validID(tenantID) {
		return tenant.Usage{}, tenant.ErrNotFound
	}

	// the limit check and the increment are one statement so concurrent consumers cannot overshoot
	qb := psql.Update("tenant").
		Set(col, sq.Expr("GREATEST("+col+" + ?, 0)", delta)).
		Where(sq.Eq{"id": tenantID}).
		Suffix("RETURNING " + usageColumns)
	if delta > 0 && limit >= 0 {
		qb = qb.Where(sq.Expr(col+" + ? <= ?", delta, limit))
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return tenant.Usage{}, errors.Wrap(err, "building usage update")
	}

	var row usageRow
	if err = repo.db.GetContext(ctx, &row, query, args...); err != nil {
		if err != sql.ErrNoRows {
			return tenant.Usage{}, errors.Wrap(err, "incrementing usage")
		}
		ok, eErr := repo.exists(ctx, repo.db, tenantID)
		if eErr != nil {
			return tenant.Usage{}, eErr
		}
		if !ok {
			return tenant.Usage{}, tenant.ErrNotFound
		}
		return tenant.Usage{}, tenant.ErrLimitReached
	}
	return row.usage(), nil
}

func (repo *tenantRepository) SetUsage(ctx context.Context, tenantID string, kind tenant.UsageKind, val int64) (tenant.Usage, error) {
	col, err := usageColumn(kind)
	if err != nil {
		return tenant.Usage{}, err
	}
	if !validID(tenantID) {
		return tenant.Usage{}, tenant.ErrNotFound
	}
	if val < 0 {
		val = 0
	}
	query, args, err := psql.Update("tenant").
		Set(col, val).
		Where(sq.Eq{"id": tenantID}).
		Suffix("RETURNING " + usageColumns).
		ToSql()
	if err != nil {
		return tenant.Usage{}, errors.Wrap(err, "building usage update")
	}
	var row usageRow
	if err = repo.db.GetContext(ctx, &row, query, args...); err != nil {
		return tenant.Usage{}, trapNoRowsErr(err, tenant.ErrNotFound, "setting usage")
	}
	return row.usage(), nil
}

func (repo *tenantRepository) ResetUsage(ctx context.Context, r tenant.Reset) (tenant.Tenant, error) {
	if !validID(r.TenantID) {
		return tenant.Tenant{}, tenant.ErrNotFound
	}

	qb := psql.Update("tenant").
		Set("current_period_start", r.PeriodStart.UTC()).
		Set("next_reset_at", r.NextResetAt.UTC()).
		Set("last_reset_at", r.ResetAt.UTC()).
		Set("updated_at", r.ResetAt.UTC()).
		Where(sq.Eq{"id": r.TenantID, "next_reset_at": r.ExpectedNextResetAt.UTC()}).
		Suffix("RETURNING " + tenantColumns)
	monthly := make([]string, 0, len(tenant.MonthlyKinds))
	for _, kind := range tenant.MonthlyKinds {
		col, err := usageColumn(kind)
		if err != nil {
			return tenant.Tenant{}, err
		}
		qb = qb.Set(col, 0)
		monthly = append(monthly, string(kind))
	}
	qb = qb.Set("warnings", sq.Expr("warnings - ?::text[]", pq.Array(monthly)))

	usage, err := json.Marshal(r.Record.Usage)
	if err != nil {
		return tenant.Tenant{}, errors.Wrap(err, "encoding usage record")
	}
	limits, err := json.Marshal(r.Record.Limits)
	if err != nil {
		return tenant.Tenant{}, errors.Wrap(err, "encoding usage record")
	}

	var row tenantRow
	err = withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		query, args, err := qb.ToSql()
		if err != nil {
			return errors.Wrap(err, "building usage reset")
		}
		if err = tx.GetContext(ctx, &row, query, args...); err != nil {
			if err != sql.ErrNoRows {
				return errors.Wrap(err, "resetting usage")
			}
			ok, eErr := repo.exists(ctx, tx, r.TenantID)
			if eErr != nil {
				return eErr
			}
			if !ok {
				return tenant.ErrNotFound
			}
			return tenant.ErrResetConflict
		}

		query, args, err = psql.Insert("usage_record").
			Columns("id", "tenant_id", "period_start", "period_end", "usage", "limits", "created_at").
			Values(r.Record.ID, r.TenantID, r.Record.PeriodStart.UTC(), r.Record.PeriodEnd.UTC(),
				types.JSONText(usage), types.JSONText(limits), r.Record.CreatedAt.UTC()).
			ToSql()
		if err != nil {
			return errors.Wrap(err, "building usage record insert")
		}
		_, err = tx.ExecContext(ctx, query, args...)
		return errors.Wrap(err, "archiving usage")
	})
	if err != nil {
		return tenant.Tenant{}, err
	}
	return row.tenant(), nil
}

func (repo *tenantRepository) RaiseWarning(ctx context.Context, tenantID string, kind tenant.UsageKind, threshold int) (bool, error) {
	if !validID(tenantID) {
		return false, tenant.ErrNotFound
	}
	query, args, err := psql.Update("tenant").
		Set("warnings", sq.Expr("jsonb_set(warnings, ARRAY[?::text], to_jsonb(?::int))", string(kind), threshold)).
		Where(sq.Eq{"id": tenantID}).
		Where(sq.Expr("COALESCE((warnings->>?)::int, 0) < ?", string(kind), threshold)).
		Suffix("RETURNING true").
		ToSql()
	if err != nil {
		return false, errors.Wrap(err, "building warning update")
	}

	var raised bool
	if err = repo.db.GetContext(ctx, &raised, query, args...); err != nil {
		if err != sql.ErrNoRows {
			return false, errors.Wrap(err, "raising warning")
		}
		ok, eErr := repo.exists(ctx, repo.db, tenantID)
		if eErr != nil {
			return false, eErr
		}
		if !ok {
			return false, tenant.ErrNotFound
		}
		return false, nil
	}
	return raised, nil
}

func (repo *tenantRepository) ClearWarnings(ctx context.Context, tenantID string, kinds ...tenant.UsageKind) error {
	if !validID(tenantID) {
		return tenant.ErrNotFound
	}
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		names = append(names, string(k))
	}
	res, err := repo.db.ExecContext(ctx,
		"UPDATE tenant SET warnings = warnings - $1::text[] WHERE id = $2", pq.Array(names), tenantID)
	if err != nil {
		return errors.Wrap(err, "clearing warnings")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return tenant.ErrNotFound
	}
	return nil
}

func (repo *tenantRepository) ListDueForReset(ctx context.Context, now time.Time) ([]tenant.Tenant, error) {
	return repo.selectTenants(ctx, psql.Select(tenantColumns).From("tenant").
		Where(sq.Eq{"is_active": true}).
		Where(sq.LtOrEq{"next_reset_at": now.UTC()}).
		OrderBy("next_reset_at ASC"))
}

type usageRecordRow struct {
	ID          string         `db:"id"`
	TenantID    string         `db:"tenant_id"`
	PeriodStart time.Time      `db:"period_start"`
	PeriodEnd   time.Time      `db:"period_end"`
	Usage       types.JSONText `db:"usage"`
	Limits      types.JSONText `db:"limits"`
	CreatedAt   time.Time      `db:"created_at"`
}

func (repo *tenantRepository) QueryUsageRecords(ctx context.Context, tenantID string) ([]tenant.UsageRecord, error) {
	if !validID(tenantID) {
		return nil, nil
	}
	var rows []usageRecordRow
	err := repo.db.SelectContext(ctx, &rows,
		`SELECT id, tenant_id, period_start, period_end, usage, limits, created_at
		FROM usage_record WHERE tenant_id = $1 ORDER BY period_end DESC`, tenantID)
	if err != nil {
		return nil, errors.Wrap(err, "querying usage records")
	}

	records := make([]tenant.UsageRecord, 0, len(rows))
	for _, r := range rows {
		rec := tenant.UsageRecord{
			ID:          r.ID,
			TenantID:    r.TenantID,
			PeriodStart: r.PeriodStart.UTC(),
			PeriodEnd:   r.PeriodEnd.UTC(),
			CreatedAt:   r.CreatedAt.UTC(),
		}
		if err = r.Usage.Unmarshal(&rec.Usage); err != nil {
			return nil, errors.Wrap(err, "decoding usage record")
		}
		if err = r.Limits.Unmarshal(&rec.Limits); err != nil {
			return nil, errors.Wrap(err, "decoding usage record")
		}
		records = append(records, rec)
	}
	return records, nil
}

func isUniqueViolation(err error) bool {
	pqErr, ok := errors.Cause(err).(*pq.Error)
	return ok && pqErr.Code == "23505"
}
