package sqlxrepos

import (
	"context"
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/fieldops/core"
	"github.com/trezcool/fieldops/core/workorder"
)

const (
	workOrderColumns = `id, tenant_id, number, title, description, client_id, assignees, status, priority,
	scheduled_start, scheduled_end, location, created_by, completed_at, created_at, updated_at`

	taskColumns = `id, tenant_id, work_order_id, title, description, board_column, position, priority, assignees,
	due_at, all_day, reminders, estimated_hours, created_by, completed_at, created_at, updated_at`
)

// orderings on enums follow their rank, not their spelling
var (
	workOrderOrderExprs = map[string]string{
		"priority": "array_position(ARRAY['low','normal','high','urgent'], priority)",
		"status":   "array_position(ARRAY['new','scheduled','in_progress','on_hold','completed','cancelled'], status)",
	}
	columnRank = "array_position(ARRAY['todo','in_progress','review','done'], board_column)"
)

type workOrderRow struct {
	ID             string         `db:"id"`
	TenantID       string         `db:"tenant_id"`
	Number         string         `db:"number"`
	Title          string         `db:"title"`
	Description    string         `db:"description"`
	ClientID       null.String    `db:"client_id"`
	Assignees      pq.StringArray `db:"assignees"`
	Status         string         `db:"status"`
	Priority       string         `db:"priority"`
	ScheduledStart null.Time      `db:"scheduled_start"`
	ScheduledEnd   null.Time      `db:"scheduled_end"`
	Location       string         `db:"location"`
	CreatedBy      string         `db:"created_by"`
	CompletedAt    null.Time      `db:"completed_at"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func (r workOrderRow) workOrder() workorder.WorkOrder {
	return workorder.WorkOrder{
		ID:             r.ID,
		TenantID:       r.TenantID,
		Number:         r.Number,
		Title:          r.Title,
		Description:    r.Description,
		ClientID:       r.ClientID.String,
		Assignees:      []string(r.Assignees),
		Status:         workorder.Status(r.Status),
		Priority:       workorder.Priority(r.Priority),
		ScheduledStart: utcNull(r.ScheduledStart),
		ScheduledEnd:   utcNull(r.ScheduledEnd),
		Location:       r.Location,
		CreatedBy:      r.CreatedBy,
		CompletedAt:    utcNull(r.CompletedAt),
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

type taskRow struct {
	ID             string         `db:"id"`
	TenantID       string         `db:"tenant_id"`
	WorkOrderID    null.String    `db:"work_order_id"`
	Title          string         `db:"title"`
	Description    string         `db:"description"`
	Column         string         `db:"board_column"`
	Position       int            `db:"position"`
	Priority       string         `db:"priority"`
	Assignees      pq.StringArray `db:"assignees"`
	DueAt          null.Time      `db:"due_at"`
	AllDay         bool           `db:"all_day"`
	Reminders      types.JSONText `db:"reminders"`
	EstimatedHours float64        `db:"estimated_hours"`
	CreatedBy      string         `db:"created_by"`
	CompletedAt    null.Time      `db:"completed_at"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func (r taskRow) task() (workorder.Task, error) {
	t := workorder.Task{
		ID:             r.ID,
		TenantID:       r.TenantID,
		WorkOrderID:    r.WorkOrderID.String,
		Title:          r.Title,
		Description:    r.Description,
		Column:         workorder.Column(r.Column),
		Position:       r.Position,
		Priority:       workorder.Priority(r.Priority),
		Assignees:      []string(r.Assignees),
		DueAt:          utcNull(r.DueAt),
		AllDay:         r.AllDay,
		EstimatedHours: r.EstimatedHours,
		CreatedBy:      r.CreatedBy,
		CompletedAt:    utcNull(r.CompletedAt),
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
	if err := r.Reminders.Unmarshal(&t.Reminders); err != nil {
		return t, errors.Wrap(err, "decoding reminder rules")
	}
	return t, nil
}

func utcNull(t null.Time) null.Time {
	if t.Valid {
		t.Time = t.Time.UTC()
	}
	return t
}

type workOrderRepository struct {
	db *sqlx.DB
}

var _ workorder.Repository = (*workOrderRepository)(nil)

func NewWorkOrderRepository(db *sqlx.DB) workorder.Repository {
	return &workOrderRepository{db: db}
}

func (repo *workOrderRepository) NextNumber(ctx context.Context, tenantID string) (int64, error) {
	var seq int64
	err := repo.db.GetContext(ctx, &seq, `INSERT INTO work_order_seq (tenant_id, last) VALUES ($1, 1)
		ON CONFLICT (tenant_id) DO UPDATE SET last = work_order_seq.last + 1
		RETURNING last`, tenantID)
	return seq, errors.Wrap(err, "incrementing work order number")
}

func workOrderValues(wo workorder.WorkOrder) map[string]interface{} {
	return map[string]interface{}{
		"title":           wo.Title,
		"description":     wo.Description,
		"client_id":       nullableID(wo.ClientID),
		"assignees":       pq.StringArray(nonNil(wo.Assignees)),
		"status":          string(wo.Status),
		"priority":        string(wo.Priority),
		"scheduled_start": wo.ScheduledStart,
		"scheduled_end":   wo.ScheduledEnd,
		"location":        wo.Location,
		"completed_at":    wo.CompletedAt,
		"updated_at":      wo.UpdatedAt.UTC(),
	}
}

func (repo *workOrderRepository) scanWorkOrder(ctx context.Context, qb sq.Sqlizer, msg string) (workorder.WorkOrder, error) {
	query, args, err := qb.ToSql()
	if err != nil {
		return workorder.WorkOrder{}, errors.Wrap(err, "building work order query")
	}
	var row workOrderRow
	if err = repo.db.GetContext(ctx, &row, query, args...); err != nil {
		return workorder.WorkOrder{}, trapNoRowsErr(err, workorder.ErrNotFound, msg)
	}
	return row.workOrder(), nil
}

func (repo *workOrderRepository) CreateWorkOrder(ctx context.Context, wo workorder.WorkOrder) (workorder.WorkOrder, error) {
	vals := workOrderValues(wo)
	vals["id"] = wo.ID
	vals["tenant_id"] = wo.TenantID
	vals["number"] = wo.Number
	vals["created_by"] = wo.CreatedBy
	vals["created_at"] = wo.CreatedAt.UTC()
	return repo.scanWorkOrder(ctx, psql.Insert("work_order").SetMap(vals).Suffix("RETURNING "+workOrderColumns), "inserting work order")
}

func (repo *workOrderRepository) GetWorkOrder(ctx context.Context, tenantID, id string) (workorder.WorkOrder, error) {
	if !validID(id) {
		return workorder.WorkOrder{}, workorder.ErrNotFound
	}
	return repo.scanWorkOrder(ctx, psql.Select(workOrderColumns).From("work_order").
		Where(sq.Eq{"tenant_id": tenantID, "id": id}), "getting work order")
}

func workOrderQuery(tenantID string, filter *workorder.QueryFilter, ordering []core.DBOrdering) sq.SelectBuilder {
	qb := psql.Select(workOrderColumns).From("work_order").Where(sq.Eq{"tenant_id": tenantID})
	if filter != nil {
		if filter.Search != "" {
			qb = qb.Where(ilike(filter.Search, "number", "title", "description"))
		}
		if len(filter.Statuses) > 0 {
			statuses := make([]string, 0, len(filter.Statuses))
			for _, s := range filter.Statuses {
				statuses = append(statuses, string(s))
			}
			qb = qb.Where(sq.Eq{"status": statuses})
		}
		if len(filter.Priorities) > 0 {
			priorities := make([]string, 0, len(filter.Priorities))
			for _, p := range filter.Priorities {
				priorities = append(priorities, string(p))
			}
			qb = qb.Where(sq.Eq{"priority": priorities})
		}
		if filter.ClientID != "" {
			qb = qb.Where(sq.Eq{"client_id": filter.ClientID})
		}
		if filter.Assignee != "" {
			qb = qb.Where(sq.Expr("? = ANY(assignees)", filter.Assignee))
		}
		if !filter.ScheduledFrom.IsZero() {
			qb = qb.Where(sq.GtOrEq{"scheduled_start": filter.ScheduledFrom.UTC()})
		}
		if !filter.ScheduledUntil.IsZero() {
			qb = qb.Where(sq.Lt{"scheduled_start": filter.ScheduledUntil.UTC()})
		}
	}
	return qb.OrderBy(orderBy(ordering, workOrderOrderExprs, "number ASC")...)
}

func (repo *workOrderRepository) QueryWorkOrders(ctx context.Context, tenantID string, filter *workorder.QueryFilter, ordering []core.DBOrdering) ([]workorder.WorkOrder, error) {
	if !validID(tenantID) || (filter != nil && filter.ClientID != "" && !validID(filter.ClientID)) {
		return []workorder.WorkOrder{}, nil
	}
	query, args, err := workOrderQuery(tenantID, filter, ordering).ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building work order query")
	}
	var rows []workOrderRow
	if err = repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying work orders")
	}
	orders := make([]workorder.WorkOrder, 0, len(rows))
	for _, r := range rows {
		orders = append(orders, r.workOrder())
	}
	return orders, nil
}

func (repo *workOrderRepository) UpdateWorkOrder(ctx context.Context, wo workorder.WorkOrder) (workorder.WorkOrder, error) {
	if !validID(wo.ID) {
		return workorder.WorkOrder{}, workorder.ErrNotFound
	}
	return repo.scanWorkOrder(ctx, psql.Update("work_order").SetMap(workOrderValues(wo)).
		Where(sq.Eq{"tenant_id": wo.TenantID, "id": wo.ID}).
		Suffix("RETURNING "+workOrderColumns), "updating work order")
}

// DeleteWorkOrder relies on ON DELETE CASCADE to drop the tasks and attachments.
func (repo *workOrderRepository) DeleteWorkOrder(ctx context.Context, tenantID, id string) error {
	if !validID(id) {
		return workorder.ErrNotFound
	}
	return execOne(ctx, repo.db, psql.Delete("work_order").Where(sq.Eq{"tenant_id": tenantID, "id": id}),
		workorder.ErrNotFound, "deleting work order")
}

func (repo *workOrderRepository) CountClientWorkOrders(ctx context.Context, tenantID, clientID string) (int, error) {
	if !validID(clientID) {
		return 0, nil
	}
	var n int
	err := repo.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM work_order WHERE tenant_id = $1 AND client_id = $2", tenantID, clientID)
	return n, errors.Wrap(err, "counting client work orders")
}

func taskValues(t workorder.Task) (map[string]interface{}, error) {
	reminders, err := json.Marshal(nonNil(t.Reminders))
	if err != nil {
		return nil, errors.Wrap(err, "encoding reminder rules")
	}
	return map[string]interface{}{
		"work_order_id":   nullableID(t.WorkOrderID),
		"title":           t.Title,
		"description":     t.Description,
		"board_column":    string(t.Column),
		"position":        t.Position,
		"priority":        string(t.Priority),
		"assignees":       pq.StringArray(nonNil(t.Assignees)),
		"due_at":          t.DueAt,
		"all_day":         t.AllDay,
		"reminders":       types.JSONText(reminders),
		"estimated_hours": t.EstimatedHours,
		"completed_at":    t.CompletedAt,
		"updated_at":      t.UpdatedAt.UTC(),
	}, nil
}

func (repo *workOrderRepository) scanTask(ctx context.Context, qb sq.Sqlizer, msg string) (workorder.Task, error) {
	query, args, err := qb.ToSql()
	if err != nil {
		return workorder.Task{}, errors.Wrap(err, "building task query")
	}
	var row taskRow
	if err = repo.db.GetContext(ctx, &row, query, args...); err != nil {
		return workorder.Task{}, trapNoRowsErr(err, workorder.ErrTaskNotFound, msg)
	}
	return row.task()
}

func (repo *workOrderRepository) CreateTask(ctx context.Context, t workorder.Task) (workorder.Task, error) {
	vals, err := taskValues(t)
	if err != nil {
		return workorder.Task{}, err
	}
	vals["id"] = t.ID
	vals["tenant_id"] = t.TenantID
	vals["created_by"] = t.CreatedBy
	vals["created_at"] = t.CreatedAt.UTC()
	return repo.scanTask(ctx, psql.Insert("task").SetMap(vals).Suffix("RETURNING "+taskColumns), "inserting task")
}

func (repo *workOrderRepository) GetTask(ctx context.Context, tenantID, id string) (workorder.Task, error) {
	if !validID(id) {
		return workorder.Task{}, workorder.ErrTaskNotFound
	}
	return repo.scanTask(ctx, psql.Select(taskColumns).From("task").
		Where(sq.Eq{"tenant_id": tenantID, "id": id}), "getting task")
}

func taskQuery(tenantID string, filter *workorder.TaskFilter) sq.SelectBuilder {
	qb := psql.Select(taskColumns).From("task").Where(sq.Eq{"tenant_id": tenantID})
	if filter != nil {
		if filter.Search != "" {
			qb = qb.Where(ilike(filter.Search, "title", "description"))
		}
		if filter.WorkOrderID != "" {
			qb = qb.Where(sq.Eq{"work_order_id": filter.WorkOrderID})
		}
		if filter.Standalone {
			qb = qb.Where(sq.Eq{"work_order_id": nil})
		}
		if len(filter.Columns) > 0 {
			cols := make([]string, 0, len(filter.Columns))
			for _, c := range filter.Columns {
				cols = append(cols, string(c))
			}
			qb = qb.Where(sq.Eq{"board_column": cols})
		}
		if filter.Assignee != "" {
			qb = qb.Where(sq.Expr("? = ANY(assignees)", filter.Assignee))
		}
		if !filter.DueFrom.IsZero() {
			qb = qb.Where(sq.GtOrEq{"due_at": filter.DueFrom.UTC()})
		}
		if !filter.DueUntil.IsZero() {
			qb = qb.Where(sq.Lt{"due_at": filter.DueUntil.UTC()})
		}
	}
	return qb.OrderBy(columnRank+" ASC", "position ASC", "created_at ASC")
}

func (repo *workOrderRepository) QueryTasks(ctx context.Context, tenantID string, filter *workorder.TaskFilter) ([]workorder.Task, error) {
	if !validID(tenantID) || (filter != nil && filter.WorkOrderID != "" && !validID(filter.WorkOrderID)) {
		return []workorder.Task{}, nil
	}
	query, args, err := taskQuery(tenantID, filter).ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building task query")
	}
	var rows []taskRow
	if err = repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying tasks")
	}
	tasks := make([]workorder.Task, 0, len(rows))
	for _, r := range rows {
		t, err := r.task()
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// UpdateTasks saves every task in one transaction; a missing task rolls everything back.
func (repo *workOrderRepository) UpdateTasks(ctx context.Context, ts ...workorder.Task) error {
	return withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		for _, t := range ts {
			if !validID(t.ID) {
				return workorder.ErrTaskNotFound
			}
			vals, err := taskValues(t)
			if err != nil {
				return err
			}
			err = execOne(ctx, tx, psql.Update("task").SetMap(vals).Where(sq.Eq{"tenant_id": t.TenantID, "id": t.ID}),
				workorder.ErrTaskNotFound, "updating task")
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (repo *workOrderRepository) DeleteTask(ctx context.Context, tenantID, id string) error {
	if !validID(id) {
		return workorder.ErrTaskNotFound
	}
	return execOne(ctx, repo.db, psql.Delete("task").Where(sq.Eq{"tenant_id": tenantID, "id": id}),
		workorder.ErrTaskNotFound, "deleting task")
}
