package notification

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/fieldops/core"
)

type Channel string

const (
	ChannelInApp Channel = "in_app"
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

type Kind string

const (
	KindReminder     Kind = "reminder"
	KindAssignment   Kind = "assignment"
	KindStatusChange Kind = "status_change"
	KindUsageWarning Kind = "usage_warning"
	KindSystem       Kind = "system"
)

// Event types pushed to live subscribers.
const (
	EventCreated = "notification.created"
	EventRead    = "notification.read"
	EventDeleted = "notification.deleted"
)

type Notification struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	UserID    string    `json:"user_id"`
	Kind      Kind      `json:"kind"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Link      string    `json:"link"`
	Delivered []Channel `json:"delivered"`
	ReadAt    null.Time `json:"read_at"`
	CreatedAt time.Time `json:"created_at"` // UTC
}

func (n Notification) IsRead() bool {
	return n.ReadAt.Valid
}

// Recipient is a user reachable through the notification channels.
type Recipient struct {
	UserID string
	Name   string
	Email  string
	Phone  string
}

// NewNotification contains information needed to notify a user.
// The in-app channel is always used; email and sms are best effort.
type NewNotification struct {
	TenantID string    `json:"tenant_id" validate:"required"`
	UserID   string    `json:"user_id" validate:"required"`
	Kind     Kind      `json:"kind" validate:"required,oneof=reminder assignment status_change usage_warning system"`
	Title    string    `json:"title" validate:"required,max=200"`
	Body     string    `json:"body" validate:"max=2000"`
	Link     string    `json:"link"`
	Channels []Channel `json:"channels" validate:"dive,oneof=in_app email sms"`
	Name     string    `json:"-"`
	Email    string    `json:"-"`
	Phone    string    `json:"-"`
}

func (nn *NewNotification) Validate(validate *validator.Validate) error {
	nn.Title = core.CleanString(nn.Title)
	nn.Body = core.CleanString(nn.Body)
	return validate.Struct(nn)
}

func (nn NewNotification) wants(ch Channel) bool {
	for _, c := range nn.Channels {
		if c == ch {
			return true
		}
	}
	return false
}

type QueryFilter struct {
	Unread bool   `query:"unread"`
	Kind   Kind   `query:"kind"`
	Limit  int    `query:"limit"`
	Offset int    `query:"offset"`
	Search string `query:"search"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	page := core.Page{Limit: qf.Limit, Offset: qf.Offset}.Clamp(maxPageSize)
	qf.Limit, qf.Offset = page.Limit, page.Offset
}

const maxPageSize = 100

// Event is pushed to the live subscribers of a user.
type Event struct {
	Type         string        `json:"type"`
	TenantID     string        `json:"tenant_id"`
	UserID       string        `json:"user_id"`
	Notification *Notification `json:"notification,omitempty"`
	IDs          []string      `json:"ids,omitempty"`
	UnreadCount  int           `json:"unread_count"`
}
