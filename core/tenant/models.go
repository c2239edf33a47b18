package tenant

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/fieldops/core"
)

type Plan string

const (
	PlanFree       Plan = "free"
	PlanBasic      Plan = "basic"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

type SubscriptionStatus string

const (
	StatusTrialing SubscriptionStatus = "trialing"
	StatusActive   SubscriptionStatus = "active"
	StatusPastDue  SubscriptionStatus = "past_due"
	StatusCanceled SubscriptionStatus = "canceled"
)

type UsageKind string

const (
	UsageWorkOrders UsageKind = "work_orders"
	UsageSMS        UsageKind = "sms"
	UsageStorage    UsageKind = "storage"
	UsageUsers      UsageKind = "users"
)

// Unlimited disables a limit.
const Unlimited int64 = -1

const (
	gib         = int64(1 << 30)
	TrialPeriod = 14 * 24 * time.Hour
)

var (
	AllPlans      = []Plan{PlanFree, PlanBasic, PlanPro, PlanEnterprise}
	AllUsageKinds = []UsageKind{UsageWorkOrders, UsageSMS, UsageStorage, UsageUsers}

	// MonthlyKinds are zeroed at every billing cycle boundary.
	MonthlyKinds = []UsageKind{UsageWorkOrders, UsageSMS}

	// WarningThresholds are the usage percentages tenant admins are told about, once per period.
	WarningThresholds = []int{80, 100}

	planLimits = map[Plan]Limits{
		PlanFree:       {Users: 3, WorkOrders: 50, SMS: 0, StorageBytes: 1 * gib},
		PlanBasic:      {Users: 10, WorkOrders: 500, SMS: 200, StorageBytes: 10 * gib},
		PlanPro:        {Users: 50, WorkOrders: 5000, SMS: 2000, StorageBytes: 100 * gib},
		PlanEnterprise: {Users: Unlimited, WorkOrders: Unlimited, SMS: 10000, StorageBytes: 1024 * gib},
	}
)

func IsMonthly(kind UsageKind) bool {
	for _, k := range MonthlyKinds {
		if k == kind {
			return true
		}
	}
	return false
}

func IsValidPlan(p Plan) bool {
	_, ok := planLimits[p]
	return ok
}

// PlanLimits returns the default limits of a plan.
func PlanLimits(p Plan) Limits {
	return planLimits[p]
}

// StoragePrefix is the object store prefix holding every file of a tenant.
func StoragePrefix(tenantID string) string {
	return path.Join("tenants", tenantID) + "/"
}

type Limits struct {
	Users        int64 `json:"users"`
	WorkOrders   int64 `json:"work_orders"`
	SMS          int64 `json:"sms"`
	StorageBytes int64 `json:"storage_bytes"`
}

func (l Limits) Of(kind UsageKind) int64 {
	switch kind {
	case UsageUsers:
		return l.Users
	case UsageWorkOrders:
		return l.WorkOrders
	case UsageSMS:
		return l.SMS
	case UsageStorage:
		return l.StorageBytes
	}
	return 0
}

type Usage struct {
	WorkOrders   int64 `json:"work_orders"`
	SMS          int64 `json:"sms"`
	StorageBytes int64 `json:"storage_bytes"`
	Users        int64 `json:"users"`
}

func (u Usage) Of(kind UsageKind) int64 {
	switch kind {
	case UsageUsers:
		return u.Users
	case UsageWorkOrders:
		return u.WorkOrders
	case UsageSMS:
		return u.SMS
	case UsageStorage:
		return u.StorageBytes
	}
	return 0
}

// Set returns a copy of u with the counter of kind set to val.
func (u Usage) Set(kind UsageKind, val int64) Usage {
	switch kind {
	case UsageUsers:
		u.Users = val
	case UsageWorkOrders:
		u.WorkOrders = val
	case UsageSMS:
		u.SMS = val
	case UsageStorage:
		u.StorageBytes = val
	}
	return u
}

type Subscription struct {
	Plan               Plan               `json:"plan"`
	Status             SubscriptionStatus `json:"status"`
	BillingDay         int                `json:"billing_day"` // 1-31, clamped to the month's length
	CurrentPeriodStart time.Time          `json:"current_period_start"`
	NextResetAt        time.Time          `json:"next_reset_at"`
	LastResetAt        time.Time          `json:"last_reset_at"`
	TrialEndsAt        time.Time          `json:"trial_ends_at"`
	Limits             Limits             `json:"limits"`
}

// IsUsable reports whether the subscription allows consuming resources at `now`.
func (s Subscription) IsUsable(now time.Time) bool {
	switch s.Status {
	case StatusActive, StatusPastDue:
		return true
	case StatusTrialing:
		return s.TrialEndsAt.IsZero() || now.Before(s.TrialEndsAt)
	}
	return false
}

type Tenant struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Slug         string            `json:"slug"`
	Timezone     string            `json:"timezone"`
	IsActive     bool              `json:"is_active"`
	Subscription Subscription      `json:"subscription"`
	Usage        Usage             `json:"usage"`
	Warnings     map[UsageKind]int `json:"-"`          // highest warning threshold sent this period
	CreatedAt    time.Time         `json:"created_at"` // UTC
	UpdatedAt    time.Time         `json:"updated_at"` // UTC
}

// Location is the tenant's time zone; billing cycles and calendars are computed in it.
func (t Tenant) Location() *time.Location {
	return core.LoadLocation(t.Timezone)
}

// UsageRecord archives the counters of a closed usage period.
type UsageRecord struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	Usage       Usage     `json:"usage"`
	Limits      Limits    `json:"limits"`
	CreatedAt   time.Time `json:"created_at"`
}

type KindReport struct {
	Kind      UsageKind `json:"kind"`
	Used      int64     `json:"used"`
	Limit     int64     `json:"limit"`
	Remaining int64     `json:"remaining"` // -1 when unlimited
	Percent   int       `json:"percent"`
	Monthly   bool      `json:"monthly"`
}

type UsageReport struct {
	TenantID    string       `json:"tenant_id"`
	Plan        Plan         `json:"plan"`
	PeriodStart time.Time    `json:"period_start"`
	NextResetAt time.Time    `json:"next_reset_at"`
	Kinds       []KindReport `json:"kinds"`
}

// LimitError is returned when consuming a resource would exceed the tenant's limit.
type LimitError struct {
	Kind      UsageKind
	Limit     int64
	Used      int64
	Requested int64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s limit reached (%d/%d)", e.Kind, e.Used, e.Limit)
}

// NewTenant contains information needed to create a new Tenant.
type NewTenant struct {
	Name       string `json:"name" validate:"required,notblank,max=120"`
	Slug       string `json:"slug" validate:"required,min=3,max=40,slug"`
	Timezone   string `json:"timezone" validate:"omitempty,tz"`
	Plan       Plan   `json:"plan" validate:"omitempty,plan"`
	BillingDay int    `json:"billing_day" validate:"omitempty,min=1,max=31"`
	Trial      bool   `json:"trial"`
}

func (nt *NewTenant) Validate(ctx context.Context, validate *validator.Validate, svc Service) error {
	nt.Name = core.CleanString(nt.Name)
	nt.Slug = core.CleanString(nt.Slug, true /* lower */)
	nt.Timezone = core.CleanString(nt.Timezone)
	if nt.Plan == "" {
		nt.Plan = PlanFree
	}

	if err := validate.Struct(nt); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, nt.Slug)
}

// UpdateTenant defines what information may be provided to modify an existing Tenant.
type UpdateTenant struct {
	Name     string `json:"name" validate:"omitempty,max=120"`
	Timezone string `json:"timezone" validate:"omitempty,tz"`
	IsActive *bool  `json:"is_active"`
}

func (ut *UpdateTenant) Validate(orig Tenant, validate *validator.Validate) error {
	if name := core.CleanString(ut.Name); name != "" {
		ut.Name = name
	} else {
		ut.Name = orig.Name
	}
	if tz := core.CleanString(ut.Timezone); tz != "" {
		ut.Timezone = tz
	} else {
		ut.Timezone = orig.Timezone
	}
	return validate.Struct(ut)
}

// ChangePlan moves a tenant to another plan; Limits overrides the plan's defaults.
type ChangePlan struct {
	Plan       Plan               `json:"plan" validate:"required,plan"`
	Status     SubscriptionStatus `json:"status" validate:"omitempty,oneof=trialing active past_due canceled"`
	BillingDay int                `json:"billing_day" validate:"omitempty,min=1,max=31"`
	Limits     *Limits            `json:"limits"`
}

func (cp *ChangePlan) Validate(validate *validator.Validate) error {
	return validate.Struct(cp)
}

type GetFilter struct {
	ID   string
	Slug string
}

type QueryFilter struct {
	Search   string `query:"search"`
	Plan     Plan   `query:"plan"`
	IsActive *bool  `query:"is_active"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}

// OrderingFields maps API ordering fields to columns.
var OrderingFields = map[string]string{
	"name":          "name",
	"slug":          "slug",
	"created_at":    "created_at",
	"next_reset_at": "next_reset_at",
}
