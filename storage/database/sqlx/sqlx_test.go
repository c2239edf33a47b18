package sqlxrepos

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/fieldops/core"
	"github.com/trezcool/fieldops/core/client"
	"github.com/trezcool/fieldops/core/notification"
	"github.com/trezcool/fieldops/core/personnel"
	"github.com/trezcool/fieldops/core/schedule"
	"github.com/trezcool/fieldops/core/tenant"
	"github.com/trezcool/fieldops/core/user"
	"github.com/trezcool/fieldops/core/workorder"
)

func TestValidID(t *testing.T) {
	assert.True(t, validID(uuid.NewString()))
	assert.False(t, validID(""))
	assert.False(t, validID("wo-1"))
}

func TestOrderBy(t *testing.T) {
	tests := []struct {
		name     string
		ordering []core.DBOrdering
		exprs    map[string]string
		defaults []string
		want     []string
	}{
		{
			name:     "defaults only",
			defaults: []string{"name ASC", "created_at ASC"},
			want:     []string{"name ASC", "created_at ASC"},
		},
		{
			name:     "explicit field overrides its default",
			ordering: []core.DBOrdering{{Field: "name", Ascending: false}},
			defaults: []string{"name ASC", "created_at ASC"},
			want:     []string{"name DESC", "created_at ASC"},
		},
		{
			name:     "expression fields",
			ordering: []core.DBOrdering{{Field: "priority", Ascending: false}},
			exprs:    workOrderOrderExprs,
			defaults: []string{"number ASC"},
			want:     []string{workOrderOrderExprs["priority"] + " DESC", "number ASC"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, orderBy(tc.ordering, tc.exprs, tc.defaults...))
		})
	}
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `100\% \_done\\`, escapeLike(`100% _done\`))

	sql, args, err := ilike("50%", "name", "email").ToSql()
	require.NoError(t, err)
	assert.Equal(t, "(name ILIKE ? OR email ILIKE ?)", sql)
	assert.Equal(t, []interface{}{`%50\%%`, `%50\%%`}, args)
}

func TestTenantQuery(t *testing.T) {
	active := true
	sql, args, err := tenantQuery(&tenant.QueryFilter{Plan: tenant.PlanPro, IsActive: &active}, nil).ToSql()
	require.NoError(t, err)
	assert.Contains(t, sql, "FROM tenant WHERE plan = $1 AND is_active = $2")
	assert.Contains(t, sql, "ORDER BY created_at ASC")
	assert.Equal(t, []interface{}{"pro", true}, args)
}

func TestUserQuery(t *testing.T) {
	sql, args, err := userQuery("t1", &user.QueryFilter{Roles: []string{"admin", "tech_"}}, nil).ToSql()
	require.NoError(t, err)
	assert.Contains(t, sql, `FROM "user" WHERE tenant_id = $1`)
	assert.Contains(t, sql, "EXISTS (SELECT 1 FROM UNNEST(roles) r WHERE r LIKE $2) OR EXISTS (SELECT 1 FROM UNNEST(roles) r WHERE r LIKE $3)")
	assert.Equal(t, []interface{}{"t1", "admin%", `tech\_%`}, args)
}

func TestPersonnelQuery(t *testing.T) {
	sql, args, err := personnelQuery("t1", &personnel.QueryFilter{
		Roles:  []personnel.Role{personnel.RoleTechnician, personnel.RoleDispatcher},
		Skills: []string{"hvac"},
	}, nil).ToSql()
	require.NoError(t, err)
	assert.Contains(t, sql, "role IN ($2,$3)")
	assert.Contains(t, sql, "skills @> $4")
	assert.Contains(t, sql, "ORDER BY name ASC, created_at ASC")
	assert.Len(t, args, 4)
}

func TestClientQuery(t *testing.T) {
	sql, args, err := clientQuery("t1", &client.QueryFilter{City: "Lagos"},
		[]core.DBOrdering{{Field: "created_at", Ascending: false}}).ToSql()
	require.NoError(t, err)
	assert.Contains(t, sql, "lower(city) = lower($2)")
	assert.Contains(t, sql, "ORDER BY created_at DESC, name ASC")
	assert.Equal(t, []interface{}{"t1", "Lagos"}, args)
}

func TestWorkOrderQuery(t *testing.T) {
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	until := from.AddDate(0, 1, 0)
	sql, args, err := workOrderQuery("t1", &workorder.QueryFilter{
		Statuses:       []workorder.Status{workorder.StatusNew, workorder.StatusScheduled},
		Assignee:       "p1",
		ScheduledFrom:  from,
		ScheduledUntil: until,
	}, []core.DBOrdering{{Field: "priority", Ascending: false}}).ToSql()
	require.NoError(t, err)
	assert.Contains(t, sql, "status IN ($2,$3)")
	assert.Contains(t, sql, "$4 = ANY(assignees)")
	assert.Contains(t, sql, "scheduled_start >= $5")
	assert.Contains(t, sql, "scheduled_start < $6")
	assert.Contains(t, sql, "ORDER BY array_position(ARRAY['low','normal','high','urgent'], priority) DESC, number ASC")
	assert.Equal(t, []interface{}{"t1", "new", "scheduled", "p1", from, until}, args)
}

func TestTaskQuery(t *testing.T) {
	sql, _, err := taskQuery("t1", nil).ToSql()
	require.NoError(t, err)
	assert.NotContains(t, sql, "work_order_id IS NULL")

	standalone, _, err := taskQuery("t1", &workorder.TaskFilter{Standalone: true}).ToSql()
	require.NoError(t, err)
	assert.Contains(t, standalone, "work_order_id IS NULL")
	assert.Contains(t, sql, "ORDER BY array_position(ARRAY['todo','in_progress','review','done'], board_column) ASC, position ASC, created_at ASC")
}

func TestNotificationQuery(t *testing.T) {
	sql, args, err := notificationQuery("t1", "u1", notification.QueryFilter{Unread: true, Limit: 20, Offset: 40}).ToSql()
	require.NoError(t, err)
	assert.Contains(t, sql, "read_at IS NULL")
	assert.Contains(t, sql, "ORDER BY created_at DESC, id DESC LIMIT 20 OFFSET 40")
	assert.Equal(t, []interface{}{"t1", "u1"}, args)
}

func TestReminderQuery(t *testing.T) {
	sql, args, err := reminderQuery(schedule.QueryFilter{TaskID: "x", Status: schedule.StatusPending}).ToSql()
	require.NoError(t, err)
	assert.Contains(t, sql, "WHERE status = $1 AND task_id = $2")
	assert.Contains(t, sql, "ORDER BY fire_at ASC, user_id ASC")
	assert.Equal(t, []interface{}{"pending", "x"}, args)

	sql, args, err = reminderQuery(schedule.QueryFilter{}).ToSql()
	require.NoError(t, err)
	assert.NotContains(t, sql, "WHERE")
	assert.Empty(t, args)
}
