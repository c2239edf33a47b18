package notification

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/fieldops/core"
	"github.com/trezcool/fieldops/core/tenant"
)

var ErrNotFound = core.NewNotFoundError("notification not found")

const templateName = "notification"

type (
	Repository interface {
		CreateNotification(ctx context.Context, n Notification) (Notification, error)
		QueryNotifications(ctx context.Context, tenantID, userID string, filter QueryFilter) ([]Notification, error)
		CountUnread(ctx context.Context, tenantID, userID string) (int, error)
		// MarkRead marks the given notifications, or every unread one if ids is empty, and returns how many changed.
		MarkRead(ctx context.Context, tenantID, userID string, at time.Time, ids ...string) (int, error)
		DeleteNotification(ctx context.Context, tenantID, userID, id string) error
	}

	// Hub fans events out to the live connections of users.
	Hub interface {
		Publish(ctx context.Context, ev Event) error
		Subscribe(ctx context.Context, tenantID, userID string) (events <-chan Event, cancel func(), err error)
	}

	// AdminLister lists the users administering a tenant.
	AdminLister interface {
		ListTenantAdmins(ctx context.Context, tenantID string) ([]Recipient, error)
	}

	Service interface {
		Notify(ctx context.Context, nn NewNotification) (Notification, error)
		Query(ctx context.Context, tenantID, userID string, filter QueryFilter) ([]Notification, error)
		UnreadCount(ctx context.Context, tenantID, userID string) (int, error)
		MarkRead(ctx context.Context, tenantID, userID string, ids ...string) (int, error)
		MarkAllRead(ctx context.Context, tenantID, userID string) (int, error)
		Delete(ctx context.Context, tenantID, userID, id string) error
		Subscribe(ctx context.Context, tenantID, userID string) (<-chan Event, func(), error)

		// NotifyUsageWarning tells every tenant admin a usage threshold was crossed.
		NotifyUsageWarning(ctx context.Context, t tenant.Tenant, kind tenant.UsageKind, threshold int, used, limit int64) error
		SetAdminLister(al AdminLister)
	}

	service struct {
		repo      Repository
		hub       Hub
		tenantSvc tenant.Service
		mailSvc   core.EmailService
		smsSvc    core.SMSService
		logger    core.Logger
		admins    AdminLister
	}
)

var (
	_ Service                = (*service)(nil)
	_ tenant.WarningNotifier = (*service)(nil)
)

func NewService(
	repo Repository,
	hub Hub,
	tenantSvc tenant.Service,
	mailSvc core.EmailService,
	smsSvc core.SMSService,
	logger core.Logger,
) Service {
	svc := &service{
		repo:      repo,
		hub:       hub,
		tenantSvc: tenantSvc,
		mailSvc:   mailSvc,
		smsSvc:    smsSvc,
		logger:    logger,
	}
	tenantSvc.SetWarningNotifier(svc)
	return svc
}

func (svc *service) SetAdminLister(al AdminLister) {
	svc.admins = al
}

func (svc *service) Notify(ctx context.Context, nn NewNotification) (Notification, error) {
	n := Notification{
		ID:        uuid.NewString(),
		TenantID:  nn.TenantID,
		UserID:    nn.UserID,
		Kind:      nn.Kind,
		Title:     nn.Title,
		Body:      nn.Body,
		Link:      nn.Link,
		Delivered: []Channel{ChannelInApp},
		CreatedAt: core.NowFunc().UTC(),
	}

	if nn.wants(ChannelSMS) && nn.Phone != "" {
		if err := svc.sendSMS(ctx, nn); err != nil {
			svc.logger.Warn(fmt.Sprintf("sms to user %s not sent, in-app only: %v", nn.UserID, err), err)
		} else {
			n.Delivered = append(n.Delivered, ChannelSMS)
		}
	}
	if nn.wants(ChannelEmail) && nn.Email != "" && svc.mailSvc != nil {
		svc.sendEmail(nn)
		n.Delivered = append(n.Delivered, ChannelEmail)
	}

	n, err := svc.repo.CreateNotification(ctx, n)
	if err != nil {
		return Notification{}, errors.Wrap(err, "creating notification")
	}
	svc.publish(ctx, Event{Type: EventCreated, TenantID: n.TenantID, UserID: n.UserID, Notification: &n})
	return n, nil
}

// sendSMS consumes one sms of the tenant's quota, giving it back if the provider fails.
func (svc *service) sendSMS(ctx context.Context, nn NewNotification) error {
	if svc.smsSvc == nil {
		return errors.New("no sms service configured")
	}
	if _, err := svc.tenantSvc.Consume(ctx, nn.TenantID, tenant.UsageSMS, 1); err != nil {
		return errors.Wrap(err, "consuming sms quota")
	}

	body := nn.Title
	if nn.Body != "" {
		body += "\n" + nn.Body
	}
	if err := svc.smsSvc.Send(ctx, core.SMSMessage{To: nn.Phone, Body: body}); err != nil {
		if rErr := svc.tenantSvc.Release(ctx, nn.TenantID, tenant.UsageSMS, 1); rErr != nil {
			svc.logger.Error(fmt.Sprintf("releasing sms quota of tenant %s: %v", nn.TenantID, rErr), rErr)
		}
		return errors.Wrap(err, "sending sms")
	}
	return nil
}

func (svc *service) sendEmail(nn NewNotification) {
	msg := &core.EmailMessage{
		To:           []mail.Address{{Name: nn.Name, Address: nn.Email}},
		Subject:      nn.Title,
		TemplateName: templateName,
		TemplateData: map[string]interface{}{
			"Name":  nn.Name,
			"Title": nn.Title,
			"Body":  nn.Body,
			"Link":  nn.Link,
		},
	}
	svc.mailSvc.SendMessages(msg)
}

func (svc *service) publish(ctx context.Context, ev Event) {
	if svc.hub == nil {
		return
	}
	count, err := svc.repo.CountUnread(ctx, ev.TenantID, ev.UserID)
	if err != nil {
		svc.logger.Error(fmt.Sprintf("counting unread notifications: %v", err), err)
	}
	ev.UnreadCount = count
	if err = svc.hub.Publish(ctx, ev); err != nil {
		svc.logger.Error(fmt.Sprintf("publishing %s event: %v", ev.Type, err), err)
	}
}

func (svc *service) Query(ctx context.Context, tenantID, userID string, filter QueryFilter) ([]Notification, error) {
	filter.Clean()
	return svc.repo.QueryNotifications(ctx, tenantID, userID, filter)
}

func (svc *service) UnreadCount(ctx context.Context, tenantID, userID string) (int, error) {
	return svc.repo.CountUnread(ctx, tenantID, userID)
}

func (svc *service) MarkRead(ctx context.Context, tenantID, userID string, ids ...string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := svc.repo.MarkRead(ctx, tenantID, userID, core.NowFunc().UTC(), ids...)
	if err != nil {
		return 0, errors.Wrap(err, "marking notifications read")
	}
	if n > 0 {
		svc.publish(ctx, Event{Type: EventRead, TenantID: tenantID, UserID: userID, IDs: ids})
	}
	return n, nil
}

func (svc *service) MarkAllRead(ctx context.Context, tenantID, userID string) (int, error) {
	n, err := svc.repo.MarkRead(ctx, tenantID, userID, core.NowFunc().UTC())
	if err != nil {
		return 0, errors.Wrap(err, "marking all notifications read")
	}
	if n > 0 {
		svc.publish(ctx, Event{Type: EventRead, TenantID: tenantID, UserID: userID})
	}
	return n, nil
}

func (svc *service) Delete(ctx context.Context, tenantID, userID, id string) error {
	if err := svc.repo.DeleteNotification(ctx, tenantID, userID, id); err != nil {
		return err
	}
	svc.publish(ctx, Event{Type: EventDeleted, TenantID: tenantID, UserID: userID, IDs: []string{id}})
	return nil
}

func (svc *service) Subscribe(ctx context.Context, tenantID, userID string) (<-chan Event, func(), error) {
	if svc.hub == nil {
		return nil, nil, errors.New("live notifications are disabled")
	}
	return svc.hub.Subscribe(ctx, tenantID, userID)
}

func (svc *service) NotifyUsageWarning(ctx context.Context, t tenant.Tenant, kind tenant.UsageKind, threshold int, used, limit int64) error {
	if svc.admins == nil {
		return nil
	}
	admins, err := svc.admins.ListTenantAdmins(ctx, t.ID)
	if err != nil {
		return errors.Wrap(err, "listing tenant admins")
	}

	title := fmt.Sprintf("%d%% of your monthly %s used", threshold, kindLabel(kind))
	if !tenant.IsMonthly(kind) {
		title = fmt.Sprintf("%d%% of your %s limit used", threshold, kindLabel(kind))
	}
	body := fmt.Sprintf("%s has used %d of %d on the %s plan.", t.Name, used, limit, t.Subscription.Plan)
	if threshold >= 100 {
		body += " Upgrade your plan to keep going."
	}

	for _, adm := range admins {
		nn := NewNotification{
			TenantID: t.ID,
			UserID:   adm.UserID,
			Kind:     KindUsageWarning,
			Title:    title,
			Body:     body,
			Link:     "/settings/subscription",
			Channels: []Channel{ChannelInApp, ChannelEmail},
			Name:     adm.Name,
			Email:    adm.Email,
		}
		if _, err = svc.Notify(ctx, nn); err != nil {
			return errors.Wrapf(err, "notifying admin %s", adm.UserID)
		}
	}
	return nil
}

func kindLabel(kind tenant.UsageKind) string {
	switch kind {
	case tenant.UsageWorkOrders:
		return "work orders"
	case tenant.UsageSMS:
		return "SMS"
	case tenant.UsageStorage:
		return "storage"
	case tenant.UsageUsers:
		return "users"
	}
	return string(kind)
}
