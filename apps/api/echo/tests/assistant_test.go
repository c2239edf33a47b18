package tests

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/fieldops/core/assistant"
	"github.com/trezcool/fieldops/core/personnel"
	"github.com/trezcool/fieldops/core/user"
	"github.com/trezcool/fieldops/core/workorder"
)

func Test_assistantApi(t *testing.T) {
	ctx := context.Background()
	env := setup(t)
	tech := env.createUser(t, "tech001", user.RoleTechnician)
	token := getToken(t, env.conf, tech)

	ada, err := env.personnel.Create(ctx, env.tenant.ID, personnel.NewPersonnel{Name: "Ada Lovelace", Role: personnel.RoleTechnician})
	require.NoError(t, err)
	wo, err := env.workOrders.Create(ctx, env.tenant.ID, env.admin.ID, workorder.NewWorkOrder{Title: "Boiler service"})
	require.NoError(t, err)

	cmd := func(text string) []byte {
		return marchallObj(t, assistant.Command{Text: text})
	}

	t.Run("parse", func(t *testing.T) {
		rec := env.do(httpTest{
			method: http.MethodPost, path: "/v1/assistant/parse", token: token,
			body: cmd("create a task in #WO-000001 for @Ada Lovelace due tomorrow at 9am urgent"),
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var op assistant.Operation
		unmarshal(t, rec, &op)
		assert.Equal(t, assistant.IntentCreateTask, op.Intent)
		assert.Equal(t, workorder.PriorityUrgent, op.Priority)
		assert.Equal(t, "WO-000001", op.WorkOrder)
		assert.Equal(t, []string{"Ada Lovelace"}, op.Assignees)
		assert.True(t, op.DueDate.Valid)

		// nothing is created by a parse
		tasks, err := env.workOrders.QueryTasks(ctx, env.tenant.ID, &workorder.TaskFilter{})
		require.NoError(t, err)
		assert.Empty(t, tasks)
	})

	t.Run("execute", func(t *testing.T) {
		rec := env.do(httpTest{
			method: http.MethodPost, path: "/v1/assistant/tasks", token: token,
			body: cmd("create a task in #WO-000001 for @Ada Lovelace"),
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var res assistant.Result
		unmarshal(t, rec, &res)
		assert.True(t, res.Created)
		assert.Equal(t, wo.ID, res.Task.WorkOrderID)
		assert.Equal(t, []string{ada.ID}, res.Task.Assignees)
		assert.Equal(t, tech.ID, res.Task.CreatedBy)
	})

	tests := []httpTest{
		{name: "Auth required", method: http.MethodPost, path: "/v1/assistant/parse", body: cmd("create a task"), wantCode: http.StatusUnauthorized},
		{name: "blank text", method: http.MethodPost, path: "/v1/assistant/parse", token: token, body: cmd("   "), wantCode: http.StatusBadRequest},
		{
			name: "bad timezone", method: http.MethodPost, path: "/v1/assistant/parse", token: token,
			body: marchallObj(t, assistant.Command{Text: "create a task", Timezone: "Mars/Olympus"}), wantCode: http.StatusBadRequest,
		},
		{name: "unknown intent", method: http.MethodPost, path: "/v1/assistant/tasks", token: token, body: cmd("hello there"), wantCode: http.StatusBadRequest},
		{name: "unresolved reference", method: http.MethodPost, path: "/v1/assistant/tasks", token: token, body: cmd("create a task for @Nobody"), wantCode: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkCodeAndData(t, tt, env.do(tt))
		})
	}
}
