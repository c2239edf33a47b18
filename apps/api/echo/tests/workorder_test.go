package tests

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/fieldops/core/client"
	"github.com/trezcool/fieldops/core/personnel"
	"github.com/trezcool/fieldops/core/tenant"
	"github.com/trezcool/fieldops/core/user"
	"github.com/trezcool/fieldops/core/workorder"
	testutil "github.com/trezcool/fieldops/tests"
)

func Test_workOrderApi_crud(t *testing.T) {
	ctx := context.Background()
	env := setup(t)
	tech := env.createUser(t, "tech001", user.RoleTechnician)
	techToken := getToken(t, env.conf, tech)
	adminToken := getToken(t, env.conf, env.admin)

	c, err := env.clients.Create(ctx, env.tenant.ID, client.NewClient{Name: "Acme Plant"})
	require.NoError(t, err)
	p, err := env.personnel.Create(ctx, env.tenant.ID, personnel.NewPersonnel{Name: "Ada Lovelace", Role: personnel.RoleTechnician, UserID: tech.ID})
	require.NoError(t, err)

	var wo workorder.WorkOrder
	t.Run("create", func(t *testing.T) {
		body := marchallObj(t, workorder.NewWorkOrder{Title: " Boiler service ", ClientID: c.ID, Assignees: []string{p.ID}})

		tt := httpTest{method: http.MethodPost, path: "/v1/work-orders", body: body, token: techToken, wantCode: http.StatusForbidden}
		checkCodeAndData(t, tt, env.do(tt))

		rec := env.do(httpTest{method: http.MethodPost, path: "/v1/work-orders", body: body, token: adminToken})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		unmarshal(t, rec, &wo)
		assert.Equal(t, "WO-000001", wo.Number)
		assert.Equal(t, "Boiler service", wo.Title)
		assert.Equal(t, workorder.StatusNew, wo.Status)
		assert.Equal(t, workorder.PriorityNormal, wo.Priority)
		assert.Equal(t, env.admin.ID, wo.CreatedBy)
	})

	t.Run("unknown client", func(t *testing.T) {
		body := marchallObj(t, workorder.NewWorkOrder{Title: "Pump", ClientID: "nope"})
		rec := env.do(httpTest{method: http.MethodPost, path: "/v1/work-orders", body: body, token: adminToken})
		assert.NotEqual(t, http.StatusCreated, rec.Code, rec.Body.String())
	})

	t.Run("retrieve", func(t *testing.T) {
		tt := httpTest{path: "/v1/work-orders/" + wo.ID, token: techToken, wantCode: http.StatusOK, wantData: marchallObj(t, wo)}
		checkCodeAndData(t, tt, env.do(tt))
	})

	t.Run("tenant isolation", func(t *testing.T) {
		other := testutil.CreateTenant(t, env.tenants, "Other", "other", "UTC", tenant.PlanFree)
		stranger := testutil.CreateUser(t, env.usrRepo, other.ID, "Stranger", "stranger", "stranger@other.test", testPassword, []string{user.RoleAdmin}, true)
		token := getToken(t, env.conf, stranger)

		tests := []httpTest{
			{name: "retrieve", path: "/v1/work-orders/" + wo.ID, token: token, wantCode: http.StatusNotFound},
			{name: "query", path: "/v1/work-orders", token: token, wantCode: http.StatusOK, wantData: marchallList(t)},
			{name: "delete", method: http.MethodDelete, path: "/v1/work-orders/" + wo.ID, token: token, wantCode: http.StatusNotFound},
			{name: "client", path: "/v1/clients/" + c.ID, token: token, wantCode: http.StatusNotFound},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				checkCodeAndData(t, tt, env.do(tt))
			})
		}
	})

	t.Run("update", func(t *testing.T) {
		body := marchallObj(t, workorder.UpdateWorkOrder{Priority: workorder.PriorityUrgent})
		rec := env.do(httpTest{method: http.MethodPut, path: "/v1/work-orders/" + wo.ID, body: body, token: adminToken})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var updated workorder.WorkOrder
		unmarshal(t, rec, &updated)
		assert.Equal(t, workorder.PriorityUrgent, updated.Priority)
		assert.Equal(t, wo.Title, updated.Title)
	})

	t.Run("client in use", func(t *testing.T) {
		tt := httpTest{method: http.MethodDelete, path: "/v1/clients/" + c.ID, token: adminToken, wantCode: http.StatusConflict}
		checkCodeAndData(t, tt, env.do(tt))
	})

	t.Run("query", func(t *testing.T) {
		rec := env.do(httpTest{path: "/v1/work-orders?status=new&client_id=" + c.ID, token: techToken})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var orders []workorder.WorkOrder
		unmarshal(t, rec, &orders)
		require.Len(t, orders, 1)
		assert.Equal(t, wo.ID, orders[0].ID)
	})
}

func Test_workOrderApi_transition(t *testing.T) {
	ctx := context.Background()
	env := setup(t)
	tech := env.createUser(t, "tech001", user.RoleTechnician)
	techToken := getToken(t, env.conf, tech)
	adminToken := getToken(t, env.conf, env.admin)

	wo, err := env.workOrders.Create(ctx, env.tenant.ID, env.admin.ID, workorder.NewWorkOrder{Title: "Boiler service"})
	require.NoError(t, err)
	path := "/v1/work-orders/" + wo.ID + "/transition"
	to := func(s workorder.Status) []byte {
		return marchallObj(t, workorder.Transition{Status: s})
	}

	tests := []httpTest{
		{name: "unknown status", body: to("lost"), token: adminToken, wantCode: http.StatusBadRequest},
		{
			name: "new to completed", body: to(workorder.StatusCompleted), token: adminToken,
			wantCode: http.StatusConflict, wantData: marchallObj(t, httpErr{Error: "invalid status transition"}),
		},
		{name: "technician cannot cancel", body: to(workorder.StatusCancelled), token: techToken, wantCode: http.StatusForbidden},
		{
			name: "new to in_progress", body: to(workorder.StatusInProgress), token: techToken,
			wantCode: http.StatusConflict, wantData: marchallObj(t, httpErr{Error: "invalid status transition"}),
		},
		{name: "technician cannot schedule", body: to(workorder.StatusScheduled), token: techToken, wantCode: http.StatusForbidden},
		{name: "admin schedules", body: to(workorder.StatusScheduled), token: adminToken, wantCode: http.StatusOK},
		{name: "technician starts", body: to(workorder.StatusInProgress), token: techToken, wantCode: http.StatusOK},
		{name: "technician holds", body: to(workorder.StatusOnHold), token: techToken, wantCode: http.StatusOK},
		{name: "technician completes", body: to(workorder.StatusCompleted), token: techToken, wantCode: http.StatusOK},
		{name: "completed to cancelled", body: to(workorder.StatusCancelled), token: adminToken, wantCode: http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.method, tt.path = http.MethodPost, path
			checkCodeAndData(t, tt, env.do(tt))
		})
	}

	got, err := env.workOrders.Get(ctx, env.tenant.ID, wo.ID)
	require.NoError(t, err)
	assert.Equal(t, workorder.StatusCompleted, got.Status)
	assert.True(t, got.CompletedAt.Valid)
}

func Test_taskApi_board(t *testing.T) {
	ctx := context.Background()
	env := setup(t)
	tech := env.createUser(t, "tech001", user.RoleTechnician)
	techToken := getToken(t, env.conf, tech)

	wo, err := env.workOrders.Create(ctx, env.tenant.ID, env.admin.ID, workorder.NewWorkOrder{Title: "Boiler service"})
	require.NoError(t, err)

	create := func(title string) workorder.Task {
		body := marchallObj(t, workorder.NewTask{WorkOrderID: wo.ID, Title: title})
		rec := env.do(httpTest{method: http.MethodPost, path: "/v1/tasks", body: body, token: techToken})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var task workorder.Task
		unmarshal(t, rec, &task)
		return task
	}
	first := create("Drain the tank")
	second := create("Replace the valve")
	assert.Equal(t, workorder.ColumnTodo, first.Column)
	assert.Equal(t, tech.ID, first.CreatedBy)

	rec := env.do(httpTest{
		method: http.MethodPost, path: "/v1/tasks/" + second.ID + "/move", token: techToken,
		body: marchallObj(t, workorder.MoveTask{Column: workorder.ColumnTodo, Position: 0}),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(httpTest{path: "/v1/work-orders/" + wo.ID + "/board", token: techToken})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var board workorder.Board
	unmarshal(t, rec, &board)
	assert.Equal(t, wo.ID, board.WorkOrderID)
	require.Len(t, board.Columns, len(workorder.Columns))
	todo := board.Columns[0]
	assert.Equal(t, workorder.ColumnTodo, todo.Column)
	require.Len(t, todo.Tasks, 2)
	assert.Equal(t, second.ID, todo.Tasks[0].ID)
	assert.Equal(t, first.ID, todo.Tasks[1].ID)

	tests := []httpTest{
		{name: "bad column", method: http.MethodPost, path: "/v1/tasks/" + first.ID + "/move", body: []byte(`{"column":"later"}`), token: techToken, wantCode: http.StatusBadRequest},
		{name: "technician cannot delete", method: http.MethodDelete, path: "/v1/tasks/" + first.ID, token: techToken, wantCode: http.StatusForbidden},
		{name: "admin deletes", method: http.MethodDelete, path: "/v1/tasks/" + first.ID, token: getToken(t, env.conf, env.admin), wantCode: http.StatusNoContent},
		{name: "gone", path: "/v1/tasks/" + first.ID, token: techToken, wantCode: http.StatusNotFound},
		{name: "no reminders", path: "/v1/tasks/" + second.ID + "/reminders", token: techToken, wantCode: http.StatusOK, wantData: marchallList(t)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkCodeAndData(t, tt, env.do(tt))
		})
	}
}

func Test_workOrderApi_calendar(t *testing.T) {
	ctx := context.Background()
	env := setup(t)
	token := getToken(t, env.conf, env.admin)

	// 01:30 on may 15th in Athens, still may 14th in UTC
	start := time.Date(2024, 5, 14, 22, 30, 0, 0, time.UTC)
	wo, err := env.workOrders.Create(ctx, env.tenant.ID, env.admin.ID, workorder.NewWorkOrder{
		Title:          "Boiler service",
		ScheduledStart: null.TimeFrom(start),
		ScheduledEnd:   null.TimeFrom(start.Add(2 * time.Hour)),
	})
	require.NoError(t, err)
	task, err := env.workOrders.CreateTask(ctx, env.tenant.ID, env.admin.ID, workorder.NewTask{
		Title:  "Order parts",
		DueAt:  null.TimeFrom(time.Date(2024, 5, 16, 0, 0, 0, 0, time.UTC)),
		AllDay: true,
		Column: workorder.ColumnTodo,
	})
	require.NoError(t, err)

	days := func(path string) []workorder.CalendarDay {
		rec := env.do(httpTest{path: path, token: token})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var cal []workorder.CalendarDay
		unmarshal(t, rec, &cal)
		return cal
	}

	cal := days("/v1/calendar?from=2024-05-14&to=2024-05-16")
	require.Len(t, cal, 2)
	assert.Equal(t, "2024-05-15", cal[0].Date)
	require.Len(t, cal[0].Events, 1)
	assert.Equal(t, wo.ID, cal[0].Events[0].ID)
	assert.Equal(t, workorder.EventWorkOrder, cal[0].Events[0].Type)
	assert.Equal(t, "2024-05-16", cal[1].Date)
	require.Len(t, cal[1].Events, 1)
	assert.Equal(t, task.ID, cal[1].Events[0].ID)
	assert.True(t, cal[1].Events[0].AllDay)

	cal = days("/v1/calendar?from=2024-05-14&to=2024-05-16&tz=UTC")
	require.Len(t, cal, 2)
	assert.Equal(t, "2024-05-14", cal[0].Date)
	assert.Equal(t, "2024-05-16", cal[1].Date)

	tests := []httpTest{
		{name: "bad date", path: "/v1/calendar?from=yesterday", token: token, wantCode: http.StatusBadRequest},
		{name: "reversed", path: "/v1/calendar?from=2024-05-16&to=2024-05-14", token: token, wantCode: http.StatusBadRequest},
		{name: "too long", path: "/v1/calendar?from=2024-01-01&to=2024-12-31", token: token, wantCode: http.StatusBadRequest},
		{name: "unknown tz", path: "/v1/calendar?tz=Mars/Olympus", token: token, wantCode: http.StatusBadRequest},
		{name: "empty range", path: "/v1/calendar?from=2024-06-01&to=2024-06-02", token: token, wantCode: http.StatusOK, wantData: marchallList(t)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkCodeAndData(t, tt, env.do(tt))
		})
	}
}
