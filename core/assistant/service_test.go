package assistant_test

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/fieldops/core"
	"github.com/trezcool/fieldops/core/assistant"
	"github.com/trezcool/fieldops/core/client"
	"github.com/trezcool/fieldops/core/notification"
	"github.com/trezcool/fieldops/core/personnel"
	"github.com/trezcool/fieldops/core/schedule"
	"github.com/trezcool/fieldops/core/tenant"
	"github.com/trezcool/fieldops/core/workorder"
	inmemdb "github.com/trezcool/fieldops/storage/database/inmem"
)

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, notification.NewNotification) (notification.Notification, error) {
	return notification.Notification{}, nil
}

type testEnv struct {
	svc      assistant.Service
	orders   workorder.Service
	validate *validator.Validate
	tid      string
	tech     personnel.Personnel
	wo       workorder.WorkOrder
}

// 10:00 in Athens, a wednesday
var now = time.Date(2024, 5, 15, 7, 0, 0, 0, time.UTC)

func setup(t *testing.T) testEnv {
	t.Helper()
	core.NowFunc = func() time.Time { return now }
	t.Cleanup(func() { core.NowFunc = time.Now })

	ctx := context.Background()
	validate := validator.New()
	core.InitValidators(validate, core.NewTranslator())

	db := inmemdb.Open()
	repo := inmemdb.NewWorkOrderRepository(db)
	tenants := tenant.NewService(inmemdb.NewTenantRepository(db), nil, nil, nil, core.NopLogger{})
	people := personnel.NewService(inmemdb.NewPersonnelRepository(db))
	clients := client.NewService(inmemdb.NewClientRepository(db), repo)
	reminders := schedule.NewService(inmemdb.NewReminderRepository(db), core.NewTestConfig())
	orders := workorder.NewService(repo, tenants, people, clients, reminders, nopNotifier{}, core.NopLogger{})

	env := testEnv{
		svc:      assistant.NewService(tenants, people, clients, orders, validate, core.NopLogger{}),
		orders:   orders,
		validate: validate,
	}

	tnt, err := tenants.Create(ctx, tenant.NewTenant{Name: "Acme", Slug: "acme", Timezone: "Europe/Athens", Plan: tenant.PlanBasic})
	require.NoError(t, err)
	env.tid = tnt.ID

	env.tech, err = people.Create(ctx, env.tid, personnel.NewPersonnel{Name: "Ada Lovelace", Role: personnel.RoleTechnician})
	require.NoError(t, err)
	_, err = people.Create(ctx, env.tid, personnel.NewPersonnel{Name: "Grace Hopper", Role: personnel.RoleTechnician})
	require.NoError(t, err)
	_, err = clients.Create(ctx, env.tid, client.NewClient{Name: "Acme Plant"})
	require.NoError(t, err)
	env.wo, err = orders.Create(ctx, env.tid, "u-boss", workorder.NewWorkOrder{Title: "Boiler service"})
	require.NoError(t, err)
	return env
}

func TestService_Parse(t *testing.T) {
	ctx := context.Background()
	env := setup(t)

	op, err := env.svc.Parse(ctx, env.tid, assistant.Command{Text: "create a task at 3pm"})
	require.NoError(t, err)
	require.True(t, op.DueDate.Valid)
	assert.True(t, op.DueDate.Time.Equal(time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)), "due %s", op.DueDate.Time)

	op, err = env.svc.Parse(ctx, env.tid, assistant.Command{Text: "create a task at 3pm", Timezone: "UTC"})
	require.NoError(t, err)
	require.True(t, op.DueDate.Valid)
	assert.True(t, op.DueDate.Time.Equal(time.Date(2024, 5, 15, 15, 0, 0, 0, time.UTC)), "due %s", op.DueDate.Time)

	_, err = env.svc.Parse(ctx, "missing", assistant.Command{Text: "create a task"})
	assert.True(t, core.IsNotFound(err))
}

func TestService_Execute(t *testing.T) {
	ctx := context.Background()
	env := setup(t)

	t.Run("create in work order", func(t *testing.T) {
		res, err := env.svc.Execute(ctx, env.tid, "u-boss", assistant.Command{Text: "create a task in #WO-000001 for @Ada Lovelace at 3pm"})
		require.NoError(t, err)
		assert.True(t, res.Created)
		assert.Equal(t, assistant.IntentCreateTask, res.Operation.Intent)
		assert.Equal(t, env.wo.ID, res.Task.WorkOrderID)
		assert.Equal(t, []string{env.tech.ID}, res.Task.Assignees)
		assert.Equal(t, "u-boss", res.Task.CreatedBy)
		require.True(t, res.Task.DueAt.Valid)
		assert.True(t, res.Task.DueAt.Time.Equal(time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)))
	})

	t.Run("client becomes a note", func(t *testing.T) {
		res, err := env.svc.Execute(ctx, env.tid, "u-boss", assistant.Command{Text: "add task check the van for &Acme Plant"})
		require.NoError(t, err)
		assert.Empty(t, res.Task.WorkOrderID)
		assert.Contains(t, res.Task.Description, "Client: Acme Plant")
	})

	t.Run("unresolved references", func(t *testing.T) {
		_, err := env.svc.Execute(ctx, env.tid, "u-boss", assistant.Command{Text: "create a task for @Nobody in #WO-000099"})
		var vErr *core.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, assistant.ErrUnresolved, vErr.Err)
		fields := make([]string, 0, len(vErr.Fields))
		for _, f := range vErr.Fields {
			fields = append(fields, f.Field)
		}
		assert.ElementsMatch(t, []string{"assignees", "work_order"}, fields)
	})

	t.Run("unknown intent", func(t *testing.T) {
		_, err := env.svc.Execute(ctx, env.tid, "u-boss", assistant.Command{Text: "hello there"})
		var vErr *core.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, assistant.ErrUnknownIntent, vErr.Err)
	})

	t.Run("update", func(t *testing.T) {
		nt := workorder.NewTask{Title: "Fix pump", Priority: workorder.PriorityHigh}
		require.NoError(t, nt.Validate(env.validate))
		task, err := env.orders.CreateTask(ctx, env.tid, "u-boss", nt)
		require.NoError(t, err)

		res, err := env.svc.Execute(ctx, env.tid, "u-boss", assistant.Command{Text: "update task /Fix pump due friday"})
		require.NoError(t, err)
		assert.False(t, res.Created)
		assert.Equal(t, task.ID, res.Task.ID)
		assert.Equal(t, workorder.PriorityHigh, res.Task.Priority)
		assert.True(t, res.Task.AllDay)
		require.True(t, res.Task.DueAt.Valid)
		assert.True(t, res.Task.DueAt.Time.Equal(time.Date(2024, 5, 17, 0, 0, 0, 0, time.UTC)), "due %s", res.Task.DueAt.Time)

		_, err = env.svc.Execute(ctx, env.tid, "u-boss", assistant.Command{Text: "update task /Missing thing due friday"})
		var vErr *core.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, "task", vErr.Fields[0].Field)
	})
}
