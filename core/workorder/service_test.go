package workorder_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/fieldops/core"
	"github.com/trezcool/fieldops/core/client"
	"github.com/trezcool/fieldops/core/notification"
	"github.com/trezcool/fieldops/core/personnel"
	"github.com/trezcool/fieldops/core/schedule"
	"github.com/trezcool/fieldops/core/tenant"
	"github.com/trezcool/fieldops/core/workorder"
	inmemdb "github.com/trezcool/fieldops/storage/database/inmem"
)

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification.NewNotification
}

func (n *fakeNotifier) Notify(_ context.Context, nn notification.NewNotification) (notification.Notification, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, nn)
	return notification.Notification{}, nil
}

func (n *fakeNotifier) kinds(userID string) []notification.Kind {
	n.mu.Lock()
	defer n.mu.Unlock()
	var kinds []notification.Kind
	for _, nn := range n.sent {
		if nn.UserID == userID {
			kinds = append(kinds, nn.Kind)
		}
	}
	return kinds
}

type testEnv struct {
	svc       workorder.Service
	tenants   tenant.Service
	people    personnel.Service
	clients   client.Service
	reminders schedule.Service
	notifier  *fakeNotifier
	tenant    tenant.Tenant
	tech      personnel.Personnel
}

var now = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func setup(t *testing.T) testEnv {
	t.Helper()
	core.NowFunc = func() time.Time { return now }
	t.Cleanup(func() { core.NowFunc = time.Now })

	ctx := context.Background()
	db := inmemdb.Open()
	repo := inmemdb.NewWorkOrderRepository(db)
	env := testEnv{
		tenants:   tenant.NewService(inmemdb.NewTenantRepository(db), nil, nil, nil, core.NopLogger{}),
		people:    personnel.NewService(inmemdb.NewPersonnelRepository(db)),
		reminders: schedule.NewService(inmemdb.NewReminderRepository(db), core.NewTestConfig()),
		notifier:  &fakeNotifier{},
	}
	env.clients = client.NewService(inmemdb.NewClientRepository(db), repo)
	env.svc = workorder.NewService(repo, env.tenants, env.people, env.clients, env.reminders, env.notifier, core.NopLogger{})

	var err error
	env.tenant, err = env.tenants.Create(ctx, tenant.NewTenant{Name: "Acme", Slug: "acme", Timezone: "Europe/Athens", Plan: tenant.PlanBasic})
	require.NoError(t, err)
	env.tech, err = env.people.Create(ctx, env.tenant.ID, personnel.NewPersonnel{Name: "Ada", UserID: "u-ada", Role: personnel.RoleTechnician})
	require.NoError(t, err)
	return env
}

func TestService_Create(t *testing.T) {
	ctx := context.Background()
	env := setup(t)
	tid := env.tenant.ID

	acme, err := env.clients.Create(ctx, tid, client.NewClient{Name: "Acme Plant"})
	require.NoError(t, err)

	wo, err := env.svc.Create(ctx, tid, "u-boss", workorder.NewWorkOrder{Title: "Inspect boiler", ClientID: acme.ID, Priority: workorder.PriorityHigh})
	require.NoError(t, err)
	assert.Equal(t, "WO-000001", wo.Number)
	assert.Equal(t, workorder.StatusNew, wo.Status)
	assert.Equal(t, "u-boss", wo.CreatedBy)

	wo2, err := env.svc.Create(ctx, tid, "u-boss", workorder.NewWorkOrder{
		Title:          "Service AC",
		Assignees:      []string{env.tech.ID},
		ScheduledStart: null.TimeFrom(now.Add(24 * time.Hour)),
	})
	require.NoError(t, err)
	assert.Equal(t, "WO-000002", wo2.Number)
	assert.Equal(t, workorder.StatusScheduled, wo2.Status)
	assert.Equal(t, []notification.Kind{notification.KindAssignment}, env.notifier.kinds("u-ada"))

	tnt, err := env.tenants.Get(ctx, tid)
	require.NoError(t, err)
	assert.Equal(t, int64(2), tnt.Usage.WorkOrders)

	t.Run("unknown references consume nothing", func(t *testing.T) {
		_, err := env.svc.Create(ctx, tid, "u-boss", workorder.NewWorkOrder{Title: "x", ClientID: "missing"})
		assert.True(t, core.IsNotFound(err))
		_, err = env.svc.Create(ctx, tid, "u-boss", workorder.NewWorkOrder{Title: "x", Assignees: []string{"missing"}})
		assert.True(t, core.IsNotFound(err))

		tnt, err := env.tenants.Get(ctx, tid)
		require.NoError(t, err)
		assert.Equal(t, int64(2), tnt.Usage.WorkOrders)
	})

	t.Run("limit reached", func(t *testing.T) {
		limits := tenant.PlanLimits(tenant.PlanBasic)
		limits.WorkOrders = 2
		_, err := env.tenants.ChangePlan(ctx, tid, tenant.ChangePlan{Plan: tenant.PlanBasic, Limits: &limits})
		require.NoError(t, err)

		_, err = env.svc.Create(ctx, tid, "u-boss", workorder.NewWorkOrder{Title: "One too many"})
		var lErr *tenant.LimitError
		require.True(t, errors.As(err, &lErr), "Create() error = %v, want *LimitError", err)

		orders, err := env.svc.Query(ctx, tid, nil, nil)
		require.NoError(t, err)
		assert.Len(t, orders, 2)
	})

	t.Run("client in use", func(t *testing.T) {
		assert.Equal(t, client.ErrClientInUse, env.clients.Delete(ctx, tid, acme.ID))
	})

	t.Run("query", func(t *testing.T) {
		orders, err := env.svc.Query(ctx, tid, &workorder.QueryFilter{Assignee: env.tech.ID}, nil)
		require.NoError(t, err)
		require.Len(t, orders, 1)
		assert.Equal(t, wo2.ID, orders[0].ID)

		orders, err = env.svc.Query(ctx, tid, nil, []core.DBOrdering{{Field: "priority", Ascending: false}})
		require.NoError(t, err)
		assert.Equal(t, wo.ID, orders[0].ID)

		orders, err = env.svc.Query(ctx, tid, &workorder.QueryFilter{Search: "wo-000002"}, nil)
		require.NoError(t, err)
		require.Len(t, orders, 1)
		assert.Equal(t, wo2.ID, orders[0].ID)
	})
}

func TestService_Transition(t *testing.T) {
	ctx := context.Background()
	env := setup(t)
	tid := env.tenant.ID

	wo, err := env.svc.Create(ctx, tid, "u-boss", workorder.NewWorkOrder{Title: "Fix leak", Assignees: []string{env.tech.ID}})
	require.NoError(t, err)
	task, err := env.svc.CreateTask(ctx, tid, "u-boss", workorder.NewTask{
		WorkOrderID: wo.ID, Title: "Buy parts", Column: workorder.ColumnTodo,
		Assignees: []string{env.tech.ID}, DueAt: null.TimeFrom(now.Add(72 * time.Hour)),
	})
	require.NoError(t, err)

	pending, err := env.reminders.Query(ctx, schedule.QueryFilter{TaskID: task.ID, Status: schedule.StatusPending})
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	_, err = env.svc.Transition(ctx, tid, wo.ID, workorder.StatusCompleted)
	assert.Equal(t, workorder.ErrInvalidTransition, errors.Cause(err))

	_, err = env.svc.Transition(ctx, tid, wo.ID, workorder.StatusInProgress)
	assert.Equal(t, workorder.ErrInvalidTransition, errors.Cause(err))

	for _, s := range []workorder.Status{workorder.StatusScheduled, workorder.StatusInProgress, workorder.StatusOnHold} {
		wo, err = env.svc.Transition(ctx, tid, wo.ID, s)
		require.NoError(t, err)
		assert.Equal(t, s, wo.Status)
		assert.False(t, wo.CompletedAt.Valid)
	}

	wo, err = env.svc.Transition(ctx, tid, wo.ID, workorder.StatusCompleted)
	require.NoError(t, err)
	assert.True(t, wo.CompletedAt.Time.Equal(now))
	assert.Contains(t, env.notifier.kinds("u-ada"), notification.KindStatusChange)

	pending, err = env.reminders.Query(ctx, schedule.QueryFilter{TaskID: task.ID, Status: schedule.StatusPending})
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = env.svc.CreateTask(ctx, tid, "u-boss", workorder.NewTask{WorkOrderID: wo.ID, Title: "Late task", Column: workorder.ColumnTodo})
	assert.Equal(t, workorder.ErrClosed, err)

	// reopening clears the completion time
	wo, err = env.svc.Transition(ctx, tid, wo.ID, workorder.StatusInProgress)
	require.NoError(t, err)
	assert.False(t, wo.CompletedAt.Valid)
}

func TestService_Tasks(t *testing.T) {
	ctx := context.Background()
	env := setup(t)
	tid := env.tenant.ID

	wo, err := env.svc.Create(ctx, tid, "u-boss", workorder.NewWorkOrder{Title: "Fit out"})
	require.NoError(t, err)

	var ids []string
	for _, title := range []string{"a", "b", "c"} {
		task, err := env.svc.CreateTask(ctx, tid, "u-boss", workorder.NewTask{WorkOrderID: wo.ID, Title: title, Column: workorder.ColumnTodo})
		require.NoError(t, err)
		ids = append(ids, task.ID)
	}

	titles := func(col workorder.Column) []string {
		tasks, err := env.svc.QueryTasks(ctx, tid, &workorder.TaskFilter{Columns: []workorder.Column{col}})
		require.NoError(t, err)
		var out []string
		for i, task := range tasks {
			assert.Equal(t, i, task.Position)
			out = append(out, task.Title)
		}
		return out
	}
	assert.Equal(t, []string{"a", "b", "c"}, titles(workorder.ColumnTodo))

	t.Run("move within column", func(t *testing.T) {
		moved, err := env.svc.MoveTask(ctx, tid, ids[2], workorder.MoveTask{Column: workorder.ColumnTodo, Position: 0})
		require.NoError(t, err)
		assert.Equal(t, 0, moved.Position)
		assert.Equal(t, []string{"c", "a", "b"}, titles(workorder.ColumnTodo))
	})

	t.Run("move to done", func(t *testing.T) {
		moved, err := env.svc.MoveTask(ctx, tid, ids[0], workorder.MoveTask{Column: workorder.ColumnDone, Position: 5})
		require.NoError(t, err)
		assert.Equal(t, 0, moved.Position)
		assert.True(t, moved.CompletedAt.Valid)
		assert.Equal(t, []string{"c", "b"}, titles(workorder.ColumnTodo))
		assert.Equal(t, []string{"a"}, titles(workorder.ColumnDone))

		back, err := env.svc.MoveTask(ctx, tid, ids[0], workorder.MoveTask{Column: workorder.ColumnInProgress})
		require.NoError(t, err)
		assert.False(t, back.CompletedAt.Valid)
	})

	t.Run("board", func(t *testing.T) {
		board, err := env.svc.Board(ctx, tid, wo.ID)
		require.NoError(t, err)
		require.Len(t, board.Columns, len(workorder.Columns))
		assert.Equal(t, workorder.ColumnTodo, board.Columns[0].Column)
		assert.Len(t, board.Columns[0].Tasks, 2)
		assert.Len(t, board.Columns[1].Tasks, 1)
		assert.Empty(t, board.Columns[3].Tasks)
	})

	t.Run("update reschedules reminders", func(t *testing.T) {
		task, err := env.svc.UpdateTask(ctx, tid, ids[1], workorder.UpdateTask{
			Title:     "b",
			Priority:  workorder.PriorityUrgent,
			Assignees: []string{env.tech.ID},
			DueAt:     null.TimeFrom(now.Add(48 * time.Hour)),
			Reminders: []schedule.Rule{{Kind: schedule.RuleBefore, Before: schedule.Duration(2 * time.Hour)}},
		})
		require.NoError(t, err)
		assert.Equal(t, []notification.Kind{notification.KindAssignment}, env.notifier.kinds("u-ada"))

		pending, err := env.reminders.Query(ctx, schedule.QueryFilter{TaskID: task.ID, Status: schedule.StatusPending})
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.True(t, pending[0].FireAt.Equal(now.Add(46*time.Hour)))

		_, err = env.svc.UpdateTask(ctx, tid, ids[1], workorder.UpdateTask{Title: "b", Priority: workorder.PriorityUrgent, ClearDue: true})
		require.NoError(t, err)
		pending, err = env.reminders.Query(ctx, schedule.QueryFilter{TaskID: task.ID, Status: schedule.StatusPending})
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("delete renumbers", func(t *testing.T) {
		require.NoError(t, env.svc.DeleteTask(ctx, tid, ids[2]))
		assert.Equal(t, []string{"b"}, titles(workorder.ColumnTodo))
		assert.Equal(t, workorder.ErrTaskNotFound, env.svc.DeleteTask(ctx, tid, ids[2]))
	})

	t.Run("delete work order deletes its tasks", func(t *testing.T) {
		require.NoError(t, env.svc.Delete(ctx, tid, wo.ID))
		_, err := env.svc.GetTask(ctx, tid, ids[0])
		assert.Equal(t, workorder.ErrTaskNotFound, err)
	})
}

func TestService_MoveTask_perBoard(t *testing.T) {
	ctx := context.Background()
	env := setup(t)
	tid := env.tenant.ID

	fitOut, err := env.svc.Create(ctx, tid, "u-boss", workorder.NewWorkOrder{Title: "Fit out"})
	require.NoError(t, err)
	repair, err := env.svc.Create(ctx, tid, "u-boss", workorder.NewWorkOrder{Title: "Repair"})
	require.NoError(t, err)

	create := func(woID, title string) workorder.Task {
		task, err := env.svc.CreateTask(ctx, tid, "u-boss", workorder.NewTask{WorkOrderID: woID, Title: title, Column: workorder.ColumnTodo})
		require.NoError(t, err)
		return task
	}
	a := create(fitOut.ID, "a")
	create(repair.ID, "x")
	b := create(fitOut.ID, "b")
	loose := create("", "loose")
	assert.Equal(t, 1, b.Position)
	assert.Equal(t, 0, loose.Position)

	todo := func(woID string) []string {
		board, err := env.svc.Board(ctx, tid, woID)
		require.NoError(t, err)
		var out []string
		for i, task := range board.Columns[0].Tasks {
			assert.Equal(t, i, task.Position)
			out = append(out, task.Title)
		}
		return out
	}

	moved, err := env.svc.MoveTask(ctx, tid, b.ID, workorder.MoveTask{Column: workorder.ColumnTodo, Position: 0})
	require.NoError(t, err)
	assert.Equal(t, 0, moved.Position)
	assert.Equal(t, []string{"b", "a"}, todo(fitOut.ID))
	assert.Equal(t, []string{"x"}, todo(repair.ID))
	assert.Equal(t, []string{"loose"}, todo(""))

	require.NoError(t, env.svc.DeleteTask(ctx, tid, b.ID))
	assert.Equal(t, []string{"a"}, todo(fitOut.ID))
	got, err := env.svc.GetTask(ctx, tid, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Position)
}

func TestService_Calendar(t *testing.T) {
	ctx := context.Background()
	env := setup(t)
	tid := env.tenant.ID
	athens, err := time.LoadLocation("Europe/Athens")
	require.NoError(t, err)

	// 01:30 on the 11th in Athens
	late, err := env.svc.Create(ctx, tid, "u-boss", workorder.NewWorkOrder{
		Title:          "Night shift",
		ScheduledStart: null.TimeFrom(time.Date(2024, 5, 10, 22, 30, 0, 0, time.UTC)),
	})
	require.NoError(t, err)
	_, err = env.svc.Create(ctx, tid, "u-boss", workorder.NewWorkOrder{
		Title:          "Next day",
		ScheduledStart: null.TimeFrom(time.Date(2024, 5, 12, 10, 0, 0, 0, time.UTC)),
	})
	require.NoError(t, err)
	task, err := env.svc.CreateTask(ctx, tid, "u-boss", workorder.NewTask{
		Title:  "File report",
		Column: workorder.ColumnTodo,
		DueAt:  null.TimeFrom(time.Date(2024, 5, 11, 15, 0, 0, 0, time.UTC)),
		AllDay: true,
	})
	require.NoError(t, err)
	assert.True(t, task.DueAt.Time.Equal(time.Date(2024, 5, 11, 0, 0, 0, 0, time.UTC)))

	day := time.Date(2024, 5, 11, 0, 0, 0, 0, athens)
	calendar, err := env.svc.Calendar(ctx, tid, day, day, athens)
	require.NoError(t, err)
	require.Len(t, calendar, 1)
	assert.Equal(t, "2024-05-11", calendar[0].Date)
	require.Len(t, calendar[0].Events, 2)
	assert.Equal(t, workorder.EventTask, calendar[0].Events[0].Type)
	assert.True(t, calendar[0].Events[0].AllDay)
	assert.Equal(t, late.ID, calendar[0].Events[1].ID)

	// the same night is still the 10th in UTC
	calendar, err = env.svc.Calendar(ctx, tid, day, day, time.UTC)
	require.NoError(t, err)
	require.Len(t, calendar, 1)
	require.Len(t, calendar[0].Events, 1)
	assert.Equal(t, task.ID, calendar[0].Events[0].ID)

	empty, err := env.svc.Calendar(ctx, tid, day, day.AddDate(0, 0, -1), athens)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
