package tenant

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/fieldops/core"
)

var (
	// errors
	ErrNotFound             = core.NewNotFoundError("tenant not found")
	ErrSlugExists           = errors.New("a tenant with this slug already exists")
	ErrResetInProgress      = errors.New("a usage reset is already in progress for this tenant")
	ErrTenantInactive       = errors.New("tenant is deactivated")
	ErrSubscriptionInactive = errors.New("subscription is not active")

	// ErrLimitReached is returned by Repository.IncrementUsage when the increment would exceed the limit.
	ErrLimitReached = errors.New("usage limit reached")
	// ErrResetConflict is returned by Repository.ResetUsage when NextResetAt changed since it was read.
	ErrResetConflict = errors.New("usage was reset concurrently")
)

type ResetStatus string

const (
	ResetDone       ResetStatus = "reset"
	ResetSkipped    ResetStatus = "skipped"
	ResetInProgress ResetStatus = "in_progress"
	ResetFailed     ResetStatus = "failed"
)

type (
	Repository interface {
		CreateTenant(ctx context.Context, t Tenant) (Tenant, error)
		GetTenant(ctx context.Context, filter GetFilter) (Tenant, error)
		// QueryTenants applies AND operation on available QueryFilter fields.
		QueryTenants(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Tenant, error)
		// UpdateTenant saves every field except the usage counters and warnings.
		UpdateTenant(ctx context.Context, t Tenant) (Tenant, error)
		// IncrementUsage adds delta to the counter of kind, never going below zero.
		// With a non-negative limit, it fails with ErrLimitReached instead of going over it.
		IncrementUsage(ctx context.Context, tenantID string, kind UsageKind, delta, limit int64) (Usage, error)
		SetUsage(ctx context.Context, tenantID string, kind UsageKind, val int64) (Usage, error)
		// ResetUsage applies a Reset only if the stored NextResetAt still equals Reset.ExpectedNextResetAt,
		// failing with ErrResetConflict otherwise.
		ResetUsage(ctx context.Context, r Reset) (Tenant, error)
		// RaiseWarning records threshold for kind and reports whether it is higher than the one already recorded.
		RaiseWarning(ctx context.Context, tenantID string, kind UsageKind, threshold int) (bool, error)
		ClearWarnings(ctx context.Context, tenantID string, kinds ...UsageKind) error
		// ListDueForReset returns active tenants whose NextResetAt is at or before now.
		ListDueForReset(ctx context.Context, now time.Time) ([]Tenant, error)
		QueryUsageRecords(ctx context.Context, tenantID string) ([]UsageRecord, error)
	}

	// Reset closes the current usage period of a tenant.
	Reset struct {
		TenantID            string
		ExpectedNextResetAt time.Time
		PeriodStart         time.Time
		NextResetAt         time.Time
		ResetAt             time.Time
		Record              UsageRecord
	}

	ResetResult struct {
		TenantID    string      `json:"tenant_id"`
		Status      ResetStatus `json:"status"`
		PeriodStart time.Time   `json:"period_start,omitempty"`
		NextResetAt time.Time   `json:"next_reset_at,omitempty"`
		Previous    Usage       `json:"previous"`
		Error       string      `json:"error,omitempty"`
	}

	ResetSummary struct {
		Checked    int           `json:"checked"`
		Reset      int           `json:"reset"`
		Skipped    int           `json:"skipped"`
		InProgress int           `json:"in_progress"`
		Failed     int           `json:"failed"`
		Results    []ResetResult `json:"results"`
	}

	// UserCounter counts the users of a tenant.
	UserCounter interface {
		CountUsers(ctx context.Context, tenantID string) (int64, error)
	}

	// StorageMeter sums the size of every object stored under prefix.
	StorageMeter interface {
		Usage(ctx context.Context, prefix string) (int64, error)
	}

	// WarningNotifier tells tenant admins their usage is approaching or reached a limit.
	WarningNotifier interface {
		NotifyUsageWarning(ctx context.Context, t Tenant, kind UsageKind, threshold int, used, limit int64) error
	}

	Service interface {
		Create(ctx context.Context, nt NewTenant) (Tenant, error)
		Get(ctx context.Context, id string) (Tenant, error)
		GetBySlug(ctx context.Context, slug string) (Tenant, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Tenant, error)
		Update(ctx context.Context, id string, ut UpdateTenant) (Tenant, error)
		ChangePlan(ctx context.Context, id string, cp ChangePlan) (Tenant, error)
		CheckUniqueness(ctx context.Context, slug string, excluded ...Tenant) error

		CheckLimit(ctx context.Context, tenantID string, kind UsageKind, amount int64) error
		Consume(ctx context.Context, tenantID string, kind UsageKind, amount int64) (Usage, error)
		Release(ctx context.Context, tenantID string, kind UsageKind, amount int64) error
		UsageReport(ctx context.Context, tenantID string) (UsageReport, error)
		UsageHistory(ctx context.Context, tenantID string) ([]UsageRecord, error)

		ResetUsage(ctx context.Context, tenantID string, now time.Time, force bool) (ResetResult, error)
		ResetDue(ctx context.Context, now time.Time) (ResetSummary, error)
		RecalculateStorage(ctx context.Context, tenantID string) (int64, error)
		RecalculateAllStorage(ctx context.Context) (map[string]int64, error)
		RecountUsers(ctx context.Context, tenantID string) (int64, error)

		SetWarningNotifier(n WarningNotifier)
	}

	service struct {
		repo   Repository
		locker Locker
		users  UserCounter
		meter  StorageMeter
		logger core.Logger

		mu       sync.RWMutex
		notifier WarningNotifier
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, locker Locker, users UserCounter, meter StorageMeter, logger core.Logger) Service {
	if locker == nil {
		locker = NewMemoryLocker()
	}
	return &service{
		repo:   repo,
		locker: locker,
		users:  users,
		meter:  meter,
		logger: logger,
	}
}

func (svc *service) SetWarningNotifier(n WarningNotifier) {
	svc.mu.Lock()
	svc.notifier = n
	svc.mu.Unlock()
}

func (svc *service) getNotifier() WarningNotifier {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	return svc.notifier
}

func (svc *service) CheckUniqueness(ctx context.Context, slug string, excluded ...Tenant) error {
	t, err := svc.repo.GetTenant(ctx, GetFilter{Slug: slug})
	if err != nil {
		if core.IsNotFound(err) {
			return nil
		}
		return errors.Wrap(err, "finding tenant by slug")
	}
	for _, ex := range excluded {
		if ex.ID == t.ID {
			return nil
		}
	}
	return core.NewValidationError(ErrSlugExists, core.FieldError{Field: "slug", Error: ErrSlugExists.Error()})
}

func (svc *service) Create(ctx context.Context, nt NewTenant) (Tenant, error) {
	now := core.NowFunc().UTC()
	tz := nt.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc := core.LoadLocation(tz)
	plan := nt.Plan
	if plan == "" {
		plan = PlanFree
	}
	day := nt.BillingDay
	if day == 0 {
		day = now.In(loc).Day()
	}

	sub := Subscription{
		Plan:               plan,
		Status:             StatusActive,
		BillingDay:         day,
		CurrentPeriodStart: CurrentPeriodStart(now, day, loc).UTC(),
		NextResetAt:        NextCycleBoundary(now, day, loc).UTC(),
		Limits:             PlanLimits(plan),
	}
	if nt.Trial {
		sub.Status = StatusTrialing
		sub.TrialEndsAt = now.Add(TrialPeriod)
	}

	t := Tenant{
		ID:           uuid.NewString(),
		Name:         nt.Name,
		Slug:         nt.Slug,
		Timezone:     tz,
		IsActive:     true,
		Subscription: sub,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	t, err := svc.repo.CreateTenant(ctx, t)
	if err != nil {
		return Tenant{}, errors.Wrap(err, "creating tenant")
	}
	svc.logger.Info(fmt.Sprintf("tenant %s created on plan %s, next usage reset at %s", t.Slug, plan, sub.NextResetAt.Format(time.RFC3339)))
	return t, nil
}

func (svc *service) Get(ctx context.Context, id string) (Tenant, error) {
	return svc.repo.GetTenant(ctx, GetFilter{ID: id})
}

func (svc *service) GetBySlug(ctx context.Context, slug string) (Tenant, error) {
	return svc.repo.GetTenant(ctx, GetFilter{Slug: core.CleanString(slug, true /* lower */)})
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Tenant, error) {
	return svc.repo.QueryTenants(ctx, filter, ordering)
}

func (svc *service) Update(ctx context.Context, id string, ut UpdateTenant) (Tenant, error) {
	t, err := svc.repo.GetTenant(ctx, GetFilter{ID: id})
	if err != nil {
		return Tenant{}, errors.Wrap(err, "finding tenant")
	}
	now := core.NowFunc().UTC()

	t.Name = ut.Name
	if ut.IsActive != nil {
		t.IsActive = *ut.IsActive
	}
	if ut.Timezone != "" && ut.Timezone != t.Timezone {
		// the running period keeps its start; the next boundary moves to the new zone
		t.Timezone = ut.Timezone
		t.Subscription.NextResetAt = NextCycleBoundary(now, t.Subscription.BillingDay, t.Location()).UTC()
	}
	t.UpdatedAt = now
	return svc.repo.UpdateTenant(ctx, t)
}

func (svc *service) ChangePlan(ctx context.Context, id string, cp ChangePlan) (Tenant, error) {
	t, err := svc.repo.GetTenant(ctx, GetFilter{ID: id})
	if err != nil {
		return Tenant{}, errors.Wrap(err, "finding tenant")
	}
	now := core.NowFunc().UTC()

	t.Subscription.Plan = cp.Plan
	if cp.Limits != nil {
		t.Subscription.Limits = *cp.Limits
	} else {
		t.Subscription.Limits = PlanLimits(cp.Plan)
	}
	if cp.Status != "" {
		t.Subscription.Status = cp.Status
		if cp.Status != StatusTrialing {
			t.Subscription.TrialEndsAt = time.Time{}
		}
	}
	if cp.BillingDay != 0 && cp.BillingDay != t.Subscription.BillingDay {
		t.Subscription.BillingDay = cp.BillingDay
		t.Subscription.NextResetAt = NextCycleBoundary(now, cp.BillingDay, t.Location()).UTC()
	}
	t.UpdatedAt = now

	t, err = svc.repo.UpdateTenant(ctx, t)
	if err != nil {
		return Tenant{}, errors.Wrap(err, "updating subscription")
	}
	// limits moved, thresholds must be crossed again to warn
	if err = svc.repo.ClearWarnings(ctx, t.ID, AllUsageKinds...); err != nil {
		return Tenant{}, errors.Wrap(err, "clearing usage warnings")
	}
	svc.logger.Info(fmt.Sprintf("tenant %s moved to plan %s", t.Slug, cp.Plan))
	return t, nil
}

func checkUsable(t Tenant, now time.Time) error {
	if !t.IsActive {
		return ErrTenantInactive
	}
	if !t.Subscription.IsUsable(now) {
		return ErrSubscriptionInactive
	}
	return nil
}

func (svc *service) CheckLimit(ctx context.Context, tenantID string, kind UsageKind, amount int64) error {
	t, err := svc.repo.GetTenant(ctx, GetFilter{ID: tenantID})
	if err != nil {
		return errors.Wrap(err, "finding tenant")
	}
	if err = checkUsable(t, core.NowFunc()); err != nil {
		return err
	}
	limit := t.Subscription.Limits.Of(kind)
	if used := t.Usage.Of(kind); limit >= 0 && used+amount > limit {
		return &LimitError{Kind: kind, Limit: limit, Used: used, Requested: amount}
	}
	return nil
}

func (svc *service) Consume(ctx context.Context, tenantID string, kind UsageKind, amount int64) (Usage, error) {
	t, err := svc.repo.GetTenant(ctx, GetFilter{ID: tenantID})
	if err != nil {
		return Usage{}, errors.Wrap(err, "finding tenant")
	}
	if amount <= 0 {
		return t.Usage, nil
	}
	if err = checkUsable(t, core.NowFunc()); err != nil {
		return Usage{}, err
	}

	limit := t.Subscription.Limits.Of(kind)
	usage, err := svc.repo.IncrementUsage(ctx, tenantID, kind, amount, limit)
	if err != nil {
		if errors.Cause(err) == ErrLimitReached {
			used := t.Usage.Of(kind)
			if fresh, gErr := svc.repo.GetTenant(ctx, GetFilter{ID: tenantID}); gErr == nil {
				used = fresh.Usage.Of(kind)
			}
			return Usage{}, &LimitError{Kind: kind, Limit: limit, Used: used, Requested: amount}
		}
		return Usage{}, errors.Wrap(err, "incrementing usage")
	}

	svc.checkWarnings(ctx, t, kind, usage)
	return usage, nil
}

func (svc *service) Release(ctx context.Context, tenantID string, kind UsageKind, amount int64) error {
	if amount <= 0 {
		return nil
	}
	if _, err := svc.repo.IncrementUsage(ctx, tenantID, kind, -amount, Unlimited); err != nil {
		return errors.Wrap(err, "decrementing usage")
	}
	return nil
}

func percent(used, limit int64) int {
	if limit < 0 {
		return 0
	}
	if limit == 0 {
		if used > 0 {
			return 100
		}
		return 0
	}
	return int(used * 100 / limit)
}

func (svc *service) checkWarnings(ctx context.Context, t Tenant, kind UsageKind, usage Usage) {
	limit := t.Subscription.Limits.Of(kind)
	if limit <= 0 {
		return
	}
	used := usage.Of(kind)
	pct := percent(used, limit)

	var reached int
	for _, th := range WarningThresholds {
		if pct >= th {
			reached = th
		}
	}
	if reached == 0 || reached <= t.Warnings[kind] {
		return
	}

	raised, err := svc.repo.RaiseWarning(ctx, t.ID, kind, reached)
	if err != nil {
		svc.logger.Error(fmt.Sprintf("recording %s usage warning for tenant %s: %v", kind, t.ID, err), err)
		return
	}
	if !raised {
		return
	}
	if n := svc.getNotifier(); n != nil {
		if err = n.NotifyUsageWarning(ctx, t, kind, reached, used, limit); err != nil {
			svc.logger.Error(fmt.Sprintf("notifying %s usage warning for tenant %s: %v", kind, t.ID, err), err)
		}
	}
}

func (svc *service) UsageReport(ctx context.Context, tenantID string) (UsageReport, error) {
	t, err := svc.repo.GetTenant(ctx, GetFilter{ID: tenantID})
	if err != nil {
		return UsageReport{}, errors.Wrap(err, "finding tenant")
	}

	report := UsageReport{
		TenantID:    t.ID,
		Plan:        t.Subscription.Plan,
		PeriodStart: t.Subscription.CurrentPeriodStart,
		NextResetAt: t.Subscription.NextResetAt,
		Kinds:       make([]KindReport, 0, len(AllUsageKinds)),
	}
	for _, kind := range AllUsageKinds {
		used, limit := t.Usage.Of(kind), t.Subscription.Limits.Of(kind)
		remaining := Unlimited
		if limit >= 0 {
			if remaining = limit - used; remaining < 0 {
				remaining = 0
			}
		}
		report.Kinds = append(report.Kinds, KindReport{
			Kind:      kind,
			Used:      used,
			Limit:     limit,
			Remaining: remaining,
			Percent:   percent(used, limit),
			Monthly:   IsMonthly(kind),
		})
	}
	return report, nil
}

func (svc *service) UsageHistory(ctx context.Context, tenantID string) ([]UsageRecord, error) {
	return svc.repo.QueryUsageRecords(ctx, tenantID)
}

func (svc *service) ResetUsage(ctx context.Context, tenantID string, now time.Time, force bool) (ResetResult, error) {
	res := ResetResult{TenantID: tenantID}

	unlock, ok, err := svc.locker.TryLock(ctx, resetLockKey(tenantID))
	if err != nil {
		res.Status = ResetFailed
		return res, errors.Wrap(err, "acquiring reset lock")
	}
	if !ok {
		res.Status = ResetInProgress
		return res, ErrResetInProgress
	}
	defer unlock()

	t, err := svc.repo.GetTenant(ctx, GetFilter{ID: tenantID})
	if err != nil {
		res.Status = ResetFailed
		return res, errors.Wrap(err, "finding tenant")
	}
	sub := t.Subscription
	if !force && !sub.NextResetAt.IsZero() && now.Before(sub.NextResetAt) {
		res.Status = ResetSkipped
		res.PeriodStart = sub.CurrentPeriodStart
		res.NextResetAt = sub.NextResetAt
		return res, nil
	}

	now = now.UTC()
	loc := t.Location()
	periodStart := CurrentPeriodStart(now, sub.BillingDay, loc).UTC()
	nextReset := NextCycleBoundary(now, sub.BillingDay, loc).UTC()

	reset := Reset{
		TenantID:            t.ID,
		ExpectedNextResetAt: sub.NextResetAt,
		PeriodStart:         periodStart,
		NextResetAt:         nextReset,
		ResetAt:             now,
		Record: UsageRecord{
			ID:          uuid.NewString(),
			TenantID:    t.ID,
			PeriodStart: sub.CurrentPeriodStart,
			PeriodEnd:   now,
			Usage:       t.Usage,
			Limits:      sub.Limits,
			CreatedAt:   now,
		},
	}
	if _, err = svc.repo.ResetUsage(ctx, reset); err != nil {
		if errors.Cause(err) == ErrResetConflict {
			res.Status = ResetSkipped
			return res, nil
		}
		res.Status = ResetFailed
		return res, errors.Wrap(err, "resetting usage")
	}

	svc.logger.Info(fmt.Sprintf(
		"usage reset for tenant %s: work_orders=%d sms=%d, next reset at %s",
		t.Slug, t.Usage.WorkOrders, t.Usage.SMS, nextReset.Format(time.RFC3339),
	))
	res.Status = ResetDone
	res.PeriodStart = periodStart
	res.NextResetAt = nextReset
	res.Previous = t.Usage
	return res, nil
}

func (svc *service) ResetDue(ctx context.Context, now time.Time) (ResetSummary, error) {
	var summary ResetSummary

	due, err := svc.repo.ListDueForReset(ctx, now)
	if err != nil {
		return summary, errors.Wrap(err, "listing tenants due for reset")
	}

	for _, t := range due {
		if err = ctx.Err(); err != nil {
			return summary, err
		}
		summary.Checked++

		res, rErr := svc.ResetUsage(ctx, t.ID, now, false)
		switch res.Status {
		case ResetDone:
			summary.Reset++
		case ResetSkipped:
			summary.Skipped++
		case ResetInProgress:
			summary.InProgress++
		default:
			summary.Failed++
			if rErr != nil {
				res.Error = rErr.Error()
			}
			svc.logger.Error(fmt.Sprintf("resetting usage of tenant %s: %v", t.ID, rErr), rErr)
		}
		summary.Results = append(summary.Results, res)
	}
	return summary, nil
}

func (svc *service) RecalculateStorage(ctx context.Context, tenantID string) (int64, error) {
	if svc.meter == nil {
		return 0, errors.New("no storage meter configured")
	}
	t, err := svc.repo.GetTenant(ctx, GetFilter{ID: tenantID})
	if err != nil {
		return 0, errors.Wrap(err, "finding tenant")
	}

	size, err := svc.meter.Usage(ctx, StoragePrefix(t.ID))
	if err != nil {
		return 0, errors.Wrap(err, "measuring storage")
	}
	if _, err = svc.repo.SetUsage(ctx, t.ID, UsageStorage, size); err != nil {
		return 0, errors.Wrap(err, "saving storage usage")
	}

	if warned := t.Warnings[UsageStorage]; warned > 0 && percent(size, t.Subscription.Limits.StorageBytes) < warned {
		if err = svc.repo.ClearWarnings(ctx, t.ID, UsageStorage); err != nil {
			return 0, errors.Wrap(err, "clearing storage warning")
		}
	}
	if prev := t.Usage.StorageBytes; prev != size {
		svc.logger.Info(fmt.Sprintf("storage of tenant %s recalculated: %d -> %d bytes", t.Slug, prev, size))
	}
	return size, nil
}

func (svc *service) RecalculateAllStorage(ctx context.Context) (map[string]int64, error) {
	tenants, err := svc.repo.QueryTenants(ctx, nil, nil)
	if err != nil {
		return nil, errors.Wrap(err, "querying tenants")
	}

	sizes := make(map[string]int64, len(tenants))
	for _, t := range tenants {
		size, err := svc.RecalculateStorage(ctx, t.ID)
		if err != nil {
			return sizes, errors.Wrapf(err, "recalculating storage of tenant %s", t.ID)
		}
		sizes[t.ID] = size
	}
	return sizes, nil
}

func (svc *service) RecountUsers(ctx context.Context, tenantID string) (int64, error) {
	if svc.users == nil {
		return 0, errors.New("no user counter configured")
	}
	n, err := svc.users.CountUsers(ctx, tenantID)
	if err != nil {
		return 0, errors.Wrap(err, "counting users")
	}
	if _, err = svc.repo.SetUsage(ctx, tenantID, UsageUsers, n); err != nil {
		return 0, errors.Wrap(err, "saving users usage")
	}
	return n, nil
}
