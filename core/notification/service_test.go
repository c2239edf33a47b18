package notification_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/fieldops/appfs"
	"github.com/trezcool/fieldops/core"
	"github.com/trezcool/fieldops/core/notification"
	"github.com/trezcool/fieldops/core/tenant"
	emailsvc "github.com/trezcool/fieldops/services/email"
	"github.com/trezcool/fieldops/services/realtime"
	smssvc "github.com/trezcool/fieldops/services/sms"
	inmemdb "github.com/trezcool/fieldops/storage/database/inmem"
)

type admins []notification.Recipient

func (a admins) ListTenantAdmins(context.Context, string) ([]notification.Recipient, error) {
	return a, nil
}

type testEnv struct {
	svc     notification.Service
	tenants tenant.Service
	tenant  tenant.Tenant
	hub     *realtime.Hub
	mail    *emailsvc.ConsoleService
	sms     *smssvc.ConsoleService
}

func setup(t *testing.T, plan tenant.Plan) testEnv {
	t.Helper()
	ctx := context.Background()
	conf := core.NewTestConfig()
	core.ParseEmailTemplates(conf, appfs.FS, core.NopLogger{})

	db := inmemdb.Open()
	env := testEnv{
		tenants: tenant.NewService(inmemdb.NewTenantRepository(db), nil, nil, nil, core.NopLogger{}),
		hub:     realtime.NewHub(core.NopLogger{}),
		mail:    emailsvc.NewConsoleServiceMock(conf),
		sms:     smssvc.NewConsoleService(nil),
	}
	env.svc = notification.NewService(inmemdb.NewNotificationRepository(db), env.hub, env.tenants, env.mail, env.sms, core.NopLogger{})

	var err error
	env.tenant, err = env.tenants.Create(ctx, tenant.NewTenant{Name: "Acme", Slug: "acme", Timezone: "UTC", Plan: plan})
	require.NoError(t, err)
	return env
}

func TestService_Notify(t *testing.T) {
	ctx := context.Background()

	t.Run("all channels", func(t *testing.T) {
		env := setup(t, tenant.PlanBasic)
		n, err := env.svc.Notify(ctx, notification.NewNotification{
			TenantID: env.tenant.ID,
			UserID:   "u1",
			Kind:     notification.KindAssignment,
			Title:    "Task assigned",
			Body:     "Fix the boiler",
			Link:     "/tasks/1",
			Channels: []notification.Channel{notification.ChannelEmail, notification.ChannelSMS},
			Name:     "Ada",
			Email:    "ada@acme.test",
			Phone:    "+302101234567",
		})
		require.NoError(t, err)
		assert.ElementsMatch(t, []notification.Channel{notification.ChannelInApp, notification.ChannelSMS, notification.ChannelEmail}, n.Delivered)
		assert.False(t, n.IsRead())

		require.Len(t, env.sms.Sent(), 1)
		assert.Equal(t, "Task assigned\nFix the boiler", env.sms.Sent()[0].Body)

		sent := env.mail.Sent()
		require.Len(t, sent, 1)
		assert.Equal(t, "Task assigned", sent[0].Subject)
		assert.True(t, strings.Contains(sent[0].TextContent, "Fix the boiler"))

		tnt, err := env.tenants.Get(ctx, env.tenant.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), tnt.Usage.SMS)
	})

	t.Run("sms quota exhausted falls back to in-app", func(t *testing.T) {
		env := setup(t, tenant.PlanFree) // no sms on the free plan
		n, err := env.svc.Notify(ctx, notification.NewNotification{
			TenantID: env.tenant.ID,
			UserID:   "u1",
			Kind:     notification.KindReminder,
			Title:    "Reminder",
			Channels: []notification.Channel{notification.ChannelSMS},
			Phone:    "+302101234567",
		})
		require.NoError(t, err)
		assert.Equal(t, []notification.Channel{notification.ChannelInApp}, n.Delivered)
		assert.Empty(t, env.sms.Sent())
	})
}

func TestService_ReadAndDelete(t *testing.T) {
	ctx := context.Background()
	env := setup(t, tenant.PlanFree)
	tid := env.tenant.ID

	events, cancel, err := env.svc.Subscribe(ctx, tid, "u1")
	require.NoError(t, err)
	defer cancel()

	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	var ids []string
	for i, title := range []string{"first", "second", "third"} {
		now := base.Add(time.Duration(i) * time.Minute)
		core.NowFunc = func() time.Time { return now }
		n, err := env.svc.Notify(ctx, notification.NewNotification{TenantID: tid, UserID: "u1", Kind: notification.KindSystem, Title: title})
		require.NoError(t, err)
		ids = append(ids, n.ID)
	}
	core.NowFunc = time.Now
	_, err = env.svc.Notify(ctx, notification.NewNotification{TenantID: tid, UserID: "u2", Kind: notification.KindSystem, Title: "other"})
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		ev := <-events
		assert.Equal(t, notification.EventCreated, ev.Type)
		assert.Equal(t, i, ev.UnreadCount)
	}

	list, err := env.svc.Query(ctx, tid, "u1", notification.QueryFilter{})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "third", list[0].Title)

	list, err = env.svc.Query(ctx, tid, "u1", notification.QueryFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "second", list[0].Title)

	n, err := env.svc.MarkRead(ctx, tid, "u1", ids[0], "someone-else")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	ev := <-events
	assert.Equal(t, notification.EventRead, ev.Type)
	assert.Equal(t, 2, ev.UnreadCount)

	n, err = env.svc.MarkRead(ctx, tid, "u1")
	require.NoError(t, err)
	assert.Zero(t, n)

	list, err = env.svc.Query(ctx, tid, "u1", notification.QueryFilter{Unread: true})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	n, err = env.svc.MarkAllRead(ctx, tid, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	ev = <-events
	assert.Zero(t, ev.UnreadCount)

	count, err := env.svc.UnreadCount(ctx, tid, "u2")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, env.svc.Delete(ctx, tid, "u1", ids[1]))
	ev = <-events
	assert.Equal(t, notification.EventDeleted, ev.Type)
	assert.Equal(t, []string{ids[1]}, ev.IDs)

	assert.Equal(t, notification.ErrNotFound, env.svc.Delete(ctx, tid, "u2", ids[2]))
}

func TestService_NotifyUsageWarning(t *testing.T) {
	ctx := context.Background()
	env := setup(t, tenant.PlanFree)

	// no admin lister: nothing to do
	require.NoError(t, env.svc.NotifyUsageWarning(ctx, env.tenant, tenant.UsageWorkOrders, 80, 40, 50))

	env.svc.SetAdminLister(admins{{UserID: "adm1", Name: "Boss", Email: "boss@acme.test"}})
	require.NoError(t, env.svc.NotifyUsageWarning(ctx, env.tenant, tenant.UsageWorkOrders, 100, 50, 50))

	list, err := env.svc.Query(ctx, env.tenant.ID, "adm1", notification.QueryFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, notification.KindUsageWarning, list[0].Kind)
	assert.Equal(t, "100% of your monthly work orders used", list[0].Title)
	assert.Contains(t, list[0].Body, "Upgrade your plan")
	assert.Len(t, env.mail.Sent(), 1)

	require.NoError(t, env.svc.NotifyUsageWarning(ctx, env.tenant, tenant.UsageStorage, 80, 8, 10))
	list, err = env.svc.Query(ctx, env.tenant.ID, "adm1", notification.QueryFilter{Kind: notification.KindUsageWarning})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.ElementsMatch(t,
		[]string{"100% of your monthly work orders used", "80% of your storage limit used"},
		[]string{list[0].Title, list[1].Title},
	)
}
