package inmemdb

import (
	"context"
	"strings"

	"github.com/trezcool/fieldops/core"
	"github.com/trezcool/fieldops/core/schedule"
	"github.com/trezcool/fieldops/core/workorder"
)

type workOrderRepository struct {
	db *workOrderTable
}

var _ workorder.Repository = (*workOrderRepository)(nil)

func NewWorkOrderRepository(db *DB) workorder.Repository {
	return &workOrderRepository{db: db.workOrder}
}

var priorityRank = map[workorder.Priority]int{
	workorder.PriorityLow:    0,
	workorder.PriorityNormal: 1,
	workorder.PriorityHigh:   2,
	workorder.PriorityUrgent: 3,
}

func copyWorkOrder(wo *workorder.WorkOrder) workorder.WorkOrder {
	c := *wo
	c.Assignees = copyStrings(wo.Assignees)
	return c
}

func copyTask(t *workorder.Task) workorder.Task {
	c := *t
	c.Assignees = copyStrings(t.Assignees)
	c.Reminders = append([]schedule.Rule(nil), t.Reminders...)
	return c
}

func (repo *workOrderRepository) NextNumber(_ context.Context, tenantID string) (int64, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	repo.db.seqs[tenantID]++
	return repo.db.seqs[tenantID], nil
}

func (repo *workOrderRepository) CreateWorkOrder(_ context.Context, wo workorder.WorkOrder) (workorder.WorkOrder, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	stored := copyWorkOrder(&wo)
	repo.db.table[wo.ID] = &stored
	return copyWorkOrder(&stored), nil
}

func (repo *workOrderRepository) GetWorkOrder(_ context.Context, tenantID, id string) (workorder.WorkOrder, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if wo, ok := repo.db.table[id]; ok && wo.TenantID == tenantID {
		return copyWorkOrder(wo), nil
	}
	return workorder.WorkOrder{}, workorder.ErrNotFound
}

func (repo *workOrderRepository) QueryWorkOrders(_ context.Context, tenantID string, filter *workorder.QueryFilter, ordering []core.DBOrdering) ([]workorder.WorkOrder, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	orders := make([]workorder.WorkOrder, 0)
	for _, wo := range repo.db.table {
		if wo.TenantID != tenantID || (filter != nil && !matchWorkOrder(wo, filter)) {
			continue
		}
		orders = append(orders, copyWorkOrder(wo))
	}
	orderBy(orders, ordering, "number", func(a, b workorder.WorkOrder, field string) int {
		switch field {
		case "title":
			return strings.Compare(a.Title, b.Title)
		case "status":
			return strings.Compare(string(a.Status), string(b.Status))
		case "priority":
			return priorityRank[a.Priority] - priorityRank[b.Priority]
		case "scheduled_start":
			return compareTimes(a.ScheduledStart.Time, b.ScheduledStart.Time)
		case "created_at":
			return compareTimes(a.CreatedAt, b.CreatedAt)
		default:
			return strings.Compare(a.Number, b.Number)
		}
	})
	return orders, nil
}

func matchWorkOrder(wo *workorder.WorkOrder, filter *workorder.QueryFilter) bool {
	if filter.Search != "" && !containsFold(filter.Search, wo.Number, wo.Title, wo.Description) {
		return false
	}
	if len(filter.Statuses) > 0 {
		found := false
		for _, s := range filter.Statuses {
			found = found || wo.Status == s
		}
		if !found {
			return false
		}
	}
	if len(filter.Priorities) > 0 {
		found := false
		for _, p := range filter.Priorities {
			found = found || wo.Priority == p
		}
		if !found {
			return false
		}
	}
	if filter.ClientID != "" && wo.ClientID != filter.ClientID {
		return false
	}
	if filter.Assignee != "" && !hasString(wo.Assignees, filter.Assignee) {
		return false
	}
	if !filter.ScheduledFrom.IsZero() || !filter.ScheduledUntil.IsZero() {
		if !wo.ScheduledStart.Valid {
			return false
		}
		if !filter.ScheduledFrom.IsZero() && wo.ScheduledStart.Time.Before(filter.ScheduledFrom) {
			return false
		}
		if !filter.ScheduledUntil.IsZero() && !wo.ScheduledStart.Time.Before(filter.ScheduledUntil) {
			return false
		}
	}
	return true
}

func (repo *workOrderRepository) UpdateWorkOrder(_ context.Context, wo workorder.WorkOrder) (workorder.WorkOrder, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	orig, ok := repo.db.table[wo.ID]
	if !ok || orig.TenantID != wo.TenantID {
		return workorder.WorkOrder{}, workorder.ErrNotFound
	}
	wo.Number = orig.Number
	wo.CreatedAt = orig.CreatedAt
	stored := copyWorkOrder(&wo)
	repo.db.table[wo.ID] = &stored
	return copyWorkOrder(&stored), nil
}

func (repo *workOrderRepository) DeleteWorkOrder(_ context.Context, tenantID, id string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if wo, ok := repo.db.table[id]; !ok || wo.TenantID != tenantID {
		return workorder.ErrNotFound
	}
	delete(repo.db.table, id)
	for tid, t := range repo.db.tasks {
		if t.WorkOrderID == id {
			delete(repo.db.tasks, tid)
		}
	}
	return nil
}

func (repo *workOrderRepository) CountClientWorkOrders(_ context.Context, tenantID, clientID string) (int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	n := 0
	for _, wo := range repo.db.table {
		if wo.TenantID == tenantID && wo.ClientID == clientID {
			n++
		}
	}
	return n, nil
}

func (repo *workOrderRepository) CreateTask(_ context.Context, t workorder.Task) (workorder.Task, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	stored := copyTask(&t)
	repo.db.tasks[t.ID] = &stored
	return copyTask(&stored), nil
}

func (repo *workOrderRepository) GetTask(_ context.Context, tenantID, id string) (workorder.Task, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if t, ok := repo.db.tasks[id]; ok && t.TenantID == tenantID {
		return copyTask(t), nil
	}
	return workorder.Task{}, workorder.ErrTaskNotFound
}

func (repo *workOrderRepository) QueryTasks(_ context.Context, tenantID string, filter *workorder.TaskFilter) ([]workorder.Task, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	tasks := make([]workorder.Task, 0)
	for _, t := range repo.db.tasks {
		if t.TenantID != tenantID || (filter != nil && !matchTask(t, filter)) {
			continue
		}
		tasks = append(tasks, copyTask(t))
	}
	columns := make(map[workorder.Column]int, len(workorder.Columns))
	for i, col := range workorder.Columns {
		columns[col] = i
	}
	orderBy(tasks, []core.DBOrdering{{Field: "column", Ascending: true}}, "position", func(a, b workorder.Task, field string) int {
		if field == "column" {
			return columns[a.Column] - columns[b.Column]
		}
		if a.Position != b.Position {
			return a.Position - b.Position
		}
		return compareTimes(a.CreatedAt, b.CreatedAt)
	})
	return tasks, nil
}

func matchTask(t *workorder.Task, filter *workorder.TaskFilter) bool {
	if filter.Search != "" && !containsFold(filter.Search, t.Title, t.Description) {
		return false
	}
	if filter.WorkOrderID != "" && t.WorkOrderID != filter.WorkOrderID {
		return false
	}
	if filter.Standalone && t.WorkOrderID != "" {
		return false
	}
	if len(filter.Columns) > 0 {
		found := false
		for _, col := range filter.Columns {
			found = found || t.Column == col
		}
		if !found {
			return false
		}
	}
	if filter.Assignee != "" && !hasString(t.Assignees, filter.Assignee) {
		return false
	}
	if !filter.DueFrom.IsZero() || !filter.DueUntil.IsZero() {
		if !t.DueAt.Valid {
			return false
		}
		if !filter.DueFrom.IsZero() && t.DueAt.Time.Before(filter.DueFrom) {
			return false
		}
		if !filter.DueUntil.IsZero() && !t.DueAt.Time.Before(filter.DueUntil) {
			return false
		}
	}
	return true
}

func (repo *workOrderRepository) UpdateTasks(_ context.Context, ts ...workorder.Task) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, t := range ts {
		if orig, ok := repo.db.tasks[t.ID]; !ok || orig.TenantID != t.TenantID {
			return workorder.ErrTaskNotFound
		}
	}
	for _, t := range ts {
		t.CreatedAt = repo.db.tasks[t.ID].CreatedAt
		stored := copyTask(&t)
		repo.db.tasks[t.ID] = &stored
	}
	return nil
}

func (repo *workOrderRepository) DeleteTask(_ context.Context, tenantID, id string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if t, ok := repo.db.tasks[id]; !ok || t.TenantID != tenantID {
		return workorder.ErrTaskNotFound
	}
	delete(repo.db.tasks, id)
	return nil
}

func hasString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
