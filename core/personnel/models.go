package personnel

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/fieldops/core"
)

type Role string

const (
	RoleManager    Role = "manager"
	RoleSupervisor Role = "supervisor"
	RoleDispatcher Role = "dispatcher"
	RoleTechnician Role = "technician"
)

var AllRoles = []Role{RoleManager, RoleSupervisor, RoleDispatcher, RoleTechnician}

// Shift is a weekly availability window in the personnel's local time.
// A shift ending at or before its start runs past midnight into the next day.
type Shift struct {
	Weekday time.Weekday `json:"weekday" validate:"min=0,max=6"`
	Start   string       `json:"start" validate:"required,hhmm"`
	End     string       `json:"end" validate:"required,hhmm"`
}

type TimeOff struct {
	ID     string    `json:"id"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Reason string    `json:"reason"`
}

type Personnel struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	UserID    string    `json:"user_id"` // optional linked user account
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Role      Role      `json:"role"`
	Skills    []string  `json:"skills"`
	Timezone  string    `json:"timezone"`
	IsActive  bool      `json:"is_active"`
	Shifts    []Shift   `json:"shifts"`
	TimeOff   []TimeOff `json:"time_off"`
	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

func (p Personnel) HasSkills(skills ...string) bool {
	for _, want := range skills {
		found := false
		for _, s := range p.Skills {
			if strings.EqualFold(s, want) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// IsOff reports whether t falls within one of the time off periods.
func (p Personnel) IsOff(t time.Time) bool {
	for _, off := range p.TimeOff {
		if !t.Before(off.Start) && t.Before(off.End) {
			return true
		}
	}
	return false
}

// IsAvailableAt reports whether the personnel works at t.
// Personnel without shifts are always available; fallbackTZ is used when they have no time zone.
func (p Personnel) IsAvailableAt(t time.Time, fallbackTZ string) bool {
	if !p.IsActive || p.IsOff(t) {
		return false
	}
	if len(p.Shifts) == 0 {
		return true
	}

	local := t.In(core.LoadLocation(firstNonEmpty(p.Timezone, fallbackTZ)))
	clock := local.Hour()*60 + local.Minute()
	today := local.Weekday()
	yesterday := (today + 6) % 7

	for _, s := range p.Shifts {
		start, err1 := core.ParseClock(s.Start)
		end, err2 := core.ParseClock(s.End)
		if err1 != nil || err2 != nil {
			continue
		}
		if end > start {
			if s.Weekday == today && clock >= start && clock < end {
				return true
			}
			continue
		}
		// overnight
		if s.Weekday == today && clock >= start {
			return true
		}
		if s.Weekday == yesterday && clock < end {
			return true
		}
	}
	return false
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}

// NewPersonnel contains information needed to create new Personnel.
type NewPersonnel struct {
	UserID   string   `json:"user_id"`
	Name     string   `json:"name" validate:"required,notblank,max=120"`
	Email    string   `json:"email" validate:"omitempty,email"`
	Phone    string   `json:"phone" validate:"omitempty,phone"`
	Role     Role     `json:"role" validate:"omitempty,oneof=manager supervisor dispatcher technician"`
	Skills   []string `json:"skills" validate:"dive,max=50"`
	Timezone string   `json:"timezone" validate:"omitempty,tz"`
	Shifts   []Shift  `json:"shifts" validate:"dive"`
}

func (np *NewPersonnel) Validate(validate *validator.Validate) error {
	np.Name = core.CleanString(np.Name)
	np.Email = core.CleanString(np.Email, true /* lower */)
	np.Phone = core.CleanString(np.Phone)
	np.Timezone = core.CleanString(np.Timezone)
	np.Skills = core.CleanStrings(np.Skills, true /* lower */)
	if np.Role == "" {
		np.Role = RoleTechnician
	}
	return validate.Struct(np)
}

// UpdatePersonnel defines what information may be provided to modify existing Personnel.
type UpdatePersonnel struct {
	UserID   *string  `json:"user_id"`
	Name     string   `json:"name" validate:"omitempty,max=120"`
	Email    string   `json:"email" validate:"omitempty,email"`
	Phone    string   `json:"phone" validate:"omitempty,phone"`
	Role     Role     `json:"role" validate:"omitempty,oneof=manager supervisor dispatcher technician"`
	Skills   []string `json:"skills" validate:"omitempty,dive,max=50"`
	Timezone string   `json:"timezone" validate:"omitempty,tz"`
	IsActive *bool    `json:"is_active"`
	Shifts   []Shift  `json:"shifts" validate:"omitempty,dive"`
}

func (up *UpdatePersonnel) Validate(orig Personnel, validate *validator.Validate) error {
	if name := core.CleanString(up.Name); name != "" {
		up.Name = name
	} else {
		up.Name = orig.Name
	}
	if email := core.CleanString(up.Email, true /* lower */); email != "" {
		up.Email = email
	} else {
		up.Email = orig.Email
	}
	if phone := core.CleanString(up.Phone); phone != "" {
		up.Phone = phone
	} else {
		up.Phone = orig.Phone
	}
	if tz := core.CleanString(up.Timezone); tz != "" {
		up.Timezone = tz
	} else {
		up.Timezone = orig.Timezone
	}
	if up.Role == "" {
		up.Role = orig.Role
	}
	if up.Skills != nil {
		up.Skills = core.CleanStrings(up.Skills, true /* lower */)
	}
	return validate.Struct(up)
}

type NewTimeOff struct {
	Start  time.Time `json:"start" validate:"required"`
	End    time.Time `json:"end" validate:"required,gtfield=Start"`
	Reason string    `json:"reason" validate:"max=200"`
}

func (nt *NewTimeOff) Validate(validate *validator.Validate) error {
	nt.Reason = core.CleanString(nt.Reason)
	return validate.Struct(nt)
}

type QueryFilter struct {
	Search   string   `query:"search"`
	Roles    []Role   `query:"role"`
	Skills   []string `query:"skill"`
	IsActive *bool    `query:"is_active"`
	UserID   string   `query:"user_id"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.Skills = core.CleanStrings(qf.Skills, true /* lower */)
}

var OrderingFields = map[string]string{
	"name":       "name",
	"role":       "role",
	"created_at": "created_at",
}
