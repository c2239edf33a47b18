package workorder

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/fieldops/core"
	"github.com/trezcool/fieldops/core/client"
	"github.com/trezcool/fieldops/core/notification"
	"github.com/trezcool/fieldops/core/personnel"
	"github.com/trezcool/fieldops/core/schedule"
	"github.com/trezcool/fieldops/core/tenant"
)

var (
	ErrNotFound          = core.NewNotFoundError("work order not found")
	ErrTaskNotFound      = core.NewNotFoundError("task not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrClosed            = errors.New("work order is closed")
)

type (
	Repository interface {
		// NextNumber returns the next work order sequence number of a tenant, starting at 1.
		NextNumber(ctx context.Context, tenantID string) (int64, error)
		CreateWorkOrder(ctx context.Context, wo WorkOrder) (WorkOrder, error)
		GetWorkOrder(ctx context.Context, tenantID, id string) (WorkOrder, error)
		// QueryWorkOrders applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on one of Number, Title or Description.
		QueryWorkOrders(ctx context.Context, tenantID string, filter *QueryFilter, ordering []core.DBOrdering) ([]WorkOrder, error)
		UpdateWorkOrder(ctx context.Context, wo WorkOrder) (WorkOrder, error)
		// DeleteWorkOrder deletes a work order and its tasks.
		DeleteWorkOrder(ctx context.Context, tenantID, id string) error
		CountClientWorkOrders(ctx context.Context, tenantID, clientID string) (int, error)

		CreateTask(ctx context.Context, t Task) (Task, error)
		GetTask(ctx context.Context, tenantID, id string) (Task, error)
		// QueryTasks returns tasks ordered by column then position.
		QueryTasks(ctx context.Context, tenantID string, filter *TaskFilter) ([]Task, error)
		UpdateTasks(ctx context.Context, ts ...Task) error
		DeleteTask(ctx context.Context, tenantID, id string) error
	}

	// Notifier delivers notifications to users.
	Notifier interface {
		Notify(ctx context.Context, nn notification.NewNotification) (notification.Notification, error)
	}

	Service interface {
		Create(ctx context.Context, tenantID, createdBy string, nw NewWorkOrder) (WorkOrder, error)
		Get(ctx context.Context, tenantID, id string) (WorkOrder, error)
		Query(ctx context.Context, tenantID string, filter *QueryFilter, ordering []core.DBOrdering) ([]WorkOrder, error)
		Update(ctx context.Context, tenantID, id string, uw UpdateWorkOrder) (WorkOrder, error)
		Transition(ctx context.Context, tenantID, id string, to Status) (WorkOrder, error)
		Delete(ctx context.Context, tenantID, id string) error

		CreateTask(ctx context.Context, tenantID, createdBy string, nt NewTask) (Task, error)
		GetTask(ctx context.Context, tenantID, id string) (Task, error)
		QueryTasks(ctx context.Context, tenantID string, filter *TaskFilter) ([]Task, error)
		UpdateTask(ctx context.Context, tenantID, id string, ut UpdateTask) (Task, error)
		MoveTask(ctx context.Context, tenantID, id string, mt MoveTask) (Task, error)
		DeleteTask(ctx context.Context, tenantID, id string) error

		Board(ctx context.Context, tenantID, workOrderID string) (Board, error)
		// Calendar returns the events whose local day lies in [from, to], grouped by local date.
		Calendar(ctx context.Context, tenantID string, from, to time.Time, loc *time.Location) ([]CalendarDay, error)
	}

	service struct {
		repo      Repository
		tenants   tenant.Service
		personnel personnel.Service
		clients   client.Service
		reminders schedule.Service
		notifier  Notifier
		logger    core.Logger
	}
)

var _ Service = (*service)(nil)

func NewService(
	repo Repository,
	tenants tenant.Service,
	personnelSvc personnel.Service,
	clients client.Service,
	reminders schedule.Service,
	notifier Notifier,
	logger core.Logger,
) Service {
	return &service{
		repo:      repo,
		tenants:   tenants,
		personnel: personnelSvc,
		clients:   clients,
		reminders: reminders,
		notifier:  notifier,
		logger:    logger,
	}
}

func (svc *service) checkRefs(ctx context.Context, tenantID, clientID string, assignees []string) ([]personnel.Personnel, error) {
	if clientID != "" {
		if _, err := svc.clients.Get(ctx, tenantID, clientID); err != nil {
			return nil, errors.Wrap(err, "finding client")
		}
	}
	return svc.personnel.GetMany(ctx, tenantID, assignees...)
}

func (svc *service) Create(ctx context.Context, tenantID, createdBy string, nw NewWorkOrder) (WorkOrder, error) {
	assignees, err := svc.checkRefs(ctx, tenantID, nw.ClientID, nw.Assignees)
	if err != nil {
		return WorkOrder{}, err
	}

	if _, err = svc.tenants.Consume(ctx, tenantID, tenant.UsageWorkOrders, 1); err != nil {
		return WorkOrder{}, err
	}
	wo, err := svc.create(ctx, tenantID, createdBy, nw)
	if err != nil {
		if rErr := svc.tenants.Release(ctx, tenantID, tenant.UsageWorkOrders, 1); rErr != nil {
			svc.logger.Error(fmt.Sprintf("releasing work order usage of tenant %s: %v", tenantID, rErr), rErr)
		}
		return WorkOrder{}, err
	}

	svc.notifyAssigned(ctx, tenantID, assignees, "Work order assigned", wo.Number+" "+wo.Title, workOrderLink(wo.ID))
	svc.logger.Info(fmt.Sprintf("work order %s created for tenant %s", wo.Number, tenantID))
	return wo, nil
}

func (svc *service) create(ctx context.Context, tenantID, createdBy string, nw NewWorkOrder) (WorkOrder, error) {
	seq, err := svc.repo.NextNumber(ctx, tenantID)
	if err != nil {
		return WorkOrder{}, errors.Wrap(err, "numbering work order")
	}
	status := StatusNew
	if nw.ScheduledStart.Valid {
		status = StatusScheduled
	}
	now := core.NowFunc().UTC()
	wo := WorkOrder{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		Number:         FormatNumber(seq),
		Title:          nw.Title,
		Description:    nw.Description,
		ClientID:       nw.ClientID,
		Assignees:      nw.Assignees,
		Status:         status,
		Priority:       nw.Priority,
		ScheduledStart: utcTime(nw.ScheduledStart),
		ScheduledEnd:   utcTime(nw.ScheduledEnd),
		Location:       nw.Location,
		CreatedBy:      createdBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return svc.repo.CreateWorkOrder(ctx, wo)
}

func (svc *service) Get(ctx context.Context, tenantID, id string) (WorkOrder, error) {
	return svc.repo.GetWorkOrder(ctx, tenantID, id)
}

func (svc *service) Query(ctx context.Context, tenantID string, filter *QueryFilter, ordering []core.DBOrdering) ([]WorkOrder, error) {
	return svc.repo.QueryWorkOrders(ctx, tenantID, filter, ordering)
}

func (svc *service) Update(ctx context.Context, tenantID, id string, uw UpdateWorkOrder) (WorkOrder, error) {
	wo, err := svc.repo.GetWorkOrder(ctx, tenantID, id)
	if err != nil {
		return WorkOrder{}, err
	}

	clientID := wo.ClientID
	if uw.ClientID != nil {
		clientID = core.CleanString(*uw.ClientID)
	}
	var added []personnel.Personnel
	if uw.Assignees != nil {
		if _, err = svc.checkRefs(ctx, tenantID, clientID, uw.Assignees); err != nil {
			return WorkOrder{}, err
		}
		if added, err = svc.personnel.GetMany(ctx, tenantID, newIDs(wo.Assignees, uw.Assignees)...); err != nil {
			return WorkOrder{}, err
		}
		wo.Assignees = uw.Assignees
	} else if clientID != wo.ClientID {
		if _, err = svc.checkRefs(ctx, tenantID, clientID, nil); err != nil {
			return WorkOrder{}, err
		}
	}

	wo.Title = uw.Title
	wo.ClientID = clientID
	wo.Priority = uw.Priority
	if uw.Description != nil {
		wo.Description = core.CleanString(*uw.Description)
	}
	if uw.Location != nil {
		wo.Location = core.CleanString(*uw.Location)
	}
	wo.ScheduledStart = utcTime(uw.ScheduledStart)
	wo.ScheduledEnd = utcTime(uw.ScheduledEnd)
	if wo.Status == StatusNew && wo.ScheduledStart.Valid {
		wo.Status = StatusScheduled
	}
	wo.UpdatedAt = core.NowFunc().UTC()

	if wo, err = svc.repo.UpdateWorkOrder(ctx, wo); err != nil {
		return WorkOrder{}, err
	}
	svc.notifyAssigned(ctx, tenantID, added, "Work order assigned", wo.Number+" "+wo.Title, workOrderLink(wo.ID))
	return wo, nil
}

func (svc *service) Transition(ctx context.Context, tenantID, id string, to Status) (WorkOrder, error) {
	wo, err := svc.repo.GetWorkOrder(ctx, tenantID, id)
	if err != nil {
		return WorkOrder{}, err
	}
	if !CanTransition(wo.Status, to) {
		return WorkOrder{}, errors.Wrapf(ErrInvalidTransition, "%s to %s", wo.Status, to)
	}

	now := core.NowFunc().UTC()
	from := wo.Status
	wo.Status = to
	switch to {
	case StatusCompleted:
		wo.CompletedAt = null.TimeFrom(now)
	case StatusInProgress:
		wo.CompletedAt = null.Time{}
	}
	wo.UpdatedAt = now
	if wo, err = svc.repo.UpdateWorkOrder(ctx, wo); err != nil {
		return WorkOrder{}, err
	}

	if to.IsTerminal() {
		svc.cancelWorkOrderReminders(ctx, wo)
	}
	assignees, err := svc.personnel.GetMany(ctx, tenantID, wo.Assignees...)
	if err != nil {
		svc.logger.Warn(fmt.Sprintf("loading assignees of work order %s: %v", wo.Number, err), err)
	}
	body := fmt.Sprintf("%s %s moved from %s to %s", wo.Number, wo.Title, from, to)
	svc.notify(ctx, tenantID, assignees, notification.KindStatusChange, "Work order "+string(to), body, workOrderLink(wo.ID))
	return wo, nil
}

func (svc *service) cancelWorkOrderReminders(ctx context.Context, wo WorkOrder) {
	tasks, err := svc.repo.QueryTasks(ctx, wo.TenantID, &TaskFilter{WorkOrderID: wo.ID})
	if err != nil {
		svc.logger.Error(fmt.Sprintf("loading tasks of work order %s: %v", wo.Number, err), err)
		return
	}
	for _, t := range tasks {
		if err = svc.reminders.Cancel(ctx, wo.TenantID, t.ID); err != nil {
			svc.logger.Error(fmt.Sprintf("cancelling reminders of task %s: %v", t.ID, err), err)
		}
	}
}

func (svc *service) Delete(ctx context.Context, tenantID, id string) error {
	wo, err := svc.repo.GetWorkOrder(ctx, tenantID, id)
	if err != nil {
		return err
	}
	svc.cancelWorkOrderReminders(ctx, wo)
	return svc.repo.DeleteWorkOrder(ctx, tenantID, id)
}

func (svc *service) CreateTask(ctx context.Context, tenantID, createdBy string, nt NewTask) (Task, error) {
	if nt.WorkOrderID != "" {
		wo, err := svc.repo.GetWorkOrder(ctx, tenantID, nt.WorkOrderID)
		if err != nil {
			return Task{}, err
		}
		if wo.Status.IsTerminal() {
			return Task{}, ErrClosed
		}
	}
	assignees, err := svc.personnel.GetMany(ctx, tenantID, nt.Assignees...)
	if err != nil {
		return Task{}, err
	}

	siblings, err := svc.repo.QueryTasks(ctx, tenantID, boardFilter(nt.WorkOrderID, nt.Column))
	if err != nil {
		return Task{}, errors.Wrap(err, "querying column")
	}

	now := core.NowFunc().UTC()
	t := Task{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		WorkOrderID:    nt.WorkOrderID,
		Title:          nt.Title,
		Description:    nt.Description,
		Column:         nt.Column,
		Position:       len(siblings),
		Priority:       nt.Priority,
		Assignees:      nt.Assignees,
		DueAt:          dueTime(nt.DueAt, nt.AllDay),
		AllDay:         nt.AllDay,
		Reminders:      nt.Reminders,
		EstimatedHours: nt.EstimatedHours,
		CreatedBy:      createdBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if t.Column == ColumnDone {
		t.CompletedAt = null.TimeFrom(now)
	}
	if t, err = svc.repo.CreateTask(ctx, t); err != nil {
		return Task{}, err
	}

	svc.planReminders(ctx, t, assignees)
	svc.notifyAssigned(ctx, tenantID, assignees, "Task assigned", t.Title, taskLink(t.ID))
	return t, nil
}

func (svc *service) GetTask(ctx context.Context, tenantID, id string) (Task, error) {
	return svc.repo.GetTask(ctx, tenantID, id)
}

func (svc *service) QueryTasks(ctx context.Context, tenantID string, filter *TaskFilter) ([]Task, error) {
	return svc.repo.QueryTasks(ctx, tenantID, filter)
}

func (svc *service) UpdateTask(ctx context.Context, tenantID, id string, ut UpdateTask) (Task, error) {
	t, err := svc.repo.GetTask(ctx, tenantID, id)
	if err != nil {
		return Task{}, err
	}

	var added []personnel.Personnel
	if ut.Assignees != nil {
		if _, err = svc.personnel.GetMany(ctx, tenantID, ut.Assignees...); err != nil {
			return Task{}, err
		}
		if added, err = svc.personnel.GetMany(ctx, tenantID, newIDs(t.Assignees, ut.Assignees)...); err != nil {
			return Task{}, err
		}
		t.Assignees = ut.Assignees
	}
	t.Title = ut.Title
	t.Priority = ut.Priority
	if ut.Description != nil {
		t.Description = core.CleanString(*ut.Description)
	}
	if ut.AllDay != nil {
		t.AllDay = *ut.AllDay
	}
	switch {
	case ut.ClearDue:
		t.DueAt = null.Time{}
	case ut.DueAt.Valid:
		t.DueAt = ut.DueAt
	}
	t.DueAt = dueTime(t.DueAt, t.AllDay)
	if ut.Reminders != nil {
		t.Reminders = ut.Reminders
	}
	if ut.EstimatedHours != nil {
		t.EstimatedHours = *ut.EstimatedHours
	}
	t.UpdatedAt = core.NowFunc().UTC()

	if err = svc.repo.UpdateTasks(ctx, t); err != nil {
		return Task{}, err
	}
	svc.replan(ctx, t)
	svc.notifyAssigned(ctx, tenantID, added, "Task assigned", t.Title, taskLink(t.ID))
	return t, nil
}

// boardFilter selects the tasks sharing a board: those of a work order, or those without one.
func boardFilter(workOrderID string, cols ...Column) *TaskFilter {
	return &TaskFilter{WorkOrderID: workOrderID, Standalone: workOrderID == "", Columns: cols}
}

// MoveTask moves a task to position within column on its board, renumbering the tasks of both columns.
func (svc *service) MoveTask(ctx context.Context, tenantID, id string, mt MoveTask) (Task, error) {
	t, err := svc.repo.GetTask(ctx, tenantID, id)
	if err != nil {
		return Task{}, err
	}
	from := t.Column

	cols := []Column{mt.Column}
	if from != mt.Column {
		cols = append(cols, from)
	}
	tasks, err := svc.repo.QueryTasks(ctx, tenantID, boardFilter(t.WorkOrderID, cols...))
	if err != nil {
		return Task{}, errors.Wrap(err, "querying columns")
	}

	var source, target []Task
	for _, other := range tasks {
		if other.ID == t.ID {
			continue
		}
		if other.Column == mt.Column {
			target = append(target, other)
		} else {
			source = append(source, other)
		}
	}

	pos := mt.Position
	if pos > len(target) {
		pos = len(target)
	}
	now := core.NowFunc().UTC()
	t.Column = mt.Column
	t.UpdatedAt = now
	switch {
	case mt.Column == ColumnDone && from != ColumnDone:
		t.CompletedAt = null.TimeFrom(now)
	case mt.Column != ColumnDone:
		t.CompletedAt = null.Time{}
	}
	target = append(target[:pos], append([]Task{t}, target[pos:]...)...)
	t.Position = pos

	changed := append(renumber(target), t)
	if from != mt.Column {
		changed = append(changed, renumber(source)...)
	}
	if err = svc.repo.UpdateTasks(ctx, changed...); err != nil {
		return Task{}, err
	}

	if from != mt.Column && (from == ColumnDone || mt.Column == ColumnDone) {
		svc.replan(ctx, t)
	}
	return t, nil
}

// renumber assigns consecutive positions and returns the tasks whose position changed.
func renumber(tasks []Task) []Task {
	var changed []Task
	for i := range tasks {
		if tasks[i].Position != i {
			tasks[i].Position = i
			changed = append(changed, tasks[i])
		}
	}
	return changed
}

func (svc *service) DeleteTask(ctx context.Context, tenantID, id string) error {
	t, err := svc.repo.GetTask(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if err = svc.repo.DeleteTask(ctx, tenantID, id); err != nil {
		return err
	}
	if err = svc.reminders.Cancel(ctx, tenantID, t.ID); err != nil {
		svc.logger.Error(fmt.Sprintf("cancelling reminders of task %s: %v", t.ID, err), err)
	}

	rest, err := svc.repo.QueryTasks(ctx, tenantID, boardFilter(t.WorkOrderID, t.Column))
	if err != nil {
		return errors.Wrap(err, "querying column")
	}
	return svc.repo.UpdateTasks(ctx, renumber(rest)...)
}

func (svc *service) Board(ctx context.Context, tenantID, workOrderID string) (Board, error) {
	tasks, err := svc.repo.QueryTasks(ctx, tenantID, boardFilter(workOrderID))
	if err != nil {
		return Board{}, err
	}
	board := Board{WorkOrderID: workOrderID, Columns: make([]BoardColumn, len(Columns))}
	index := make(map[Column]int, len(Columns))
	for i, col := range Columns {
		board.Columns[i] = BoardColumn{Column: col, Tasks: []Task{}}
		index[col] = i
	}
	for _, t := range tasks {
		i := index[t.Column]
		board.Columns[i].Tasks = append(board.Columns[i].Tasks, t)
	}
	for i := range board.Columns {
		ts := board.Columns[i].Tasks
		sort.SliceStable(ts, func(a, b int) bool { return ts[a].Position < ts[b].Position })
	}
	return board, nil
}

func (svc *service) Calendar(ctx context.Context, tenantID string, from, to time.Time, loc *time.Location) ([]CalendarDay, error) {
	if loc == nil {
		loc = time.UTC
	}
	fy, fm, fd := from.Date()
	ty, tm, td := to.Date()
	start := time.Date(fy, fm, fd, 0, 0, 0, 0, loc)
	end := time.Date(ty, tm, td+1, 0, 0, 0, 0, loc)
	if !end.After(start) {
		return []CalendarDay{}, nil
	}

	orders, err := svc.repo.QueryWorkOrders(ctx, tenantID, &QueryFilter{ScheduledFrom: start.UTC(), ScheduledUntil: end.UTC()}, nil)
	if err != nil {
		return nil, errors.Wrap(err, "querying work orders")
	}
	// all-day dues are calendar dates, so widen the window by a day each side
	tasks, err := svc.repo.QueryTasks(ctx, tenantID, &TaskFilter{DueFrom: start.AddDate(0, 0, -1).UTC(), DueUntil: end.AddDate(0, 0, 1).UTC()})
	if err != nil {
		return nil, errors.Wrap(err, "querying tasks")
	}

	days := make(map[string][]CalendarEvent)
	add := func(day string, ev CalendarEvent) {
		if day >= start.Format(dateLayout) && day < end.Format(dateLayout) {
			days[day] = append(days[day], ev)
		}
	}
	for _, wo := range orders {
		if wo.Status == StatusCancelled || !wo.ScheduledStart.Valid {
			continue
		}
		ev := CalendarEvent{
			Type:     EventWorkOrder,
			ID:       wo.ID,
			Title:    wo.Number + " " + wo.Title,
			Start:    wo.ScheduledStart.Time,
			Status:   string(wo.Status),
			Priority: wo.Priority,
		}
		if wo.ScheduledEnd.Valid {
			ev.End = wo.ScheduledEnd.Time
		}
		add(wo.ScheduledStart.Time.In(loc).Format(dateLayout), ev)
	}
	for _, t := range tasks {
		if !t.DueAt.Valid {
			continue
		}
		ev := CalendarEvent{
			Type:     EventTask,
			ID:       t.ID,
			Title:    t.Title,
			Start:    t.Due().Instant(loc),
			AllDay:   t.AllDay,
			Status:   string(t.Column),
			Priority: t.Priority,
		}
		add(ev.Start.In(loc).Format(dateLayout), ev)
	}

	calendar := make([]CalendarDay, 0, len(days))
	for day, events := range days {
		sort.SliceStable(events, func(i, j int) bool {
			if events[i].AllDay != events[j].AllDay {
				return events[i].AllDay
			}
			return events[i].Start.Before(events[j].Start)
		})
		calendar = append(calendar, CalendarDay{Date: day, Events: events})
	}
	sort.Slice(calendar, func(i, j int) bool { return calendar[i].Date < calendar[j].Date })
	return calendar, nil
}

const dateLayout = "2006-01-02"

// replan (re)schedules the reminders of a task, or cancels them once it is done.
func (svc *service) replan(ctx context.Context, t Task) {
	if t.Column == ColumnDone || !t.DueAt.Valid {
		if err := svc.reminders.Cancel(ctx, t.TenantID, t.ID); err != nil {
			svc.logger.Error(fmt.Sprintf("cancelling reminders of task %s: %v", t.ID, err), err)
		}
		return
	}
	assignees, err := svc.personnel.GetMany(ctx, t.TenantID, t.Assignees...)
	if err != nil {
		svc.logger.Error(fmt.Sprintf("loading assignees of task %s: %v", t.ID, err), err)
		return
	}
	svc.planReminders(ctx, t, assignees)
}

func (svc *service) planReminders(ctx context.Context, t Task, assignees []personnel.Personnel) {
	if t.Column == ColumnDone || !t.DueAt.Valid {
		return
	}
	var tenantTZ string
	if tn, err := svc.tenants.Get(ctx, t.TenantID); err == nil {
		tenantTZ = tn.Timezone
	} else {
		svc.logger.Warn(fmt.Sprintf("loading tenant %s: %v", t.TenantID, err), err)
	}

	req := schedule.Request{
		TenantID:    t.TenantID,
		WorkOrderID: t.WorkOrderID,
		TaskID:      t.ID,
		Title:       t.Title,
		Link:        taskLink(t.ID),
		Due:         t.Due(),
		Rules:       t.Reminders,
	}
	for _, p := range assignees {
		if p.UserID == "" {
			continue
		}
		req.Recipients = append(req.Recipients, schedule.Recipient{
			Recipient: recipient(p),
			Location:  schedule.ResolveLocation(p.Timezone, tenantTZ),
		})
	}
	if _, err := svc.reminders.Schedule(ctx, req); err != nil {
		svc.logger.Error(fmt.Sprintf("scheduling reminders of task %s: %v", t.ID, err), err)
	}
}

func (svc *service) notifyAssigned(ctx context.Context, tenantID string, people []personnel.Personnel, title, body, link string) {
	svc.notify(ctx, tenantID, people, notification.KindAssignment, title, body, link)
}

func (svc *service) notify(ctx context.Context, tenantID string, people []personnel.Personnel, kind notification.Kind, title, body, link string) {
	if svc.notifier == nil {
		return
	}
	for _, p := range people {
		if p.UserID == "" {
			continue
		}
		nn := notification.NewNotification{
			TenantID: tenantID,
			UserID:   p.UserID,
			Kind:     kind,
			Title:    title,
			Body:     body,
			Link:     link,
			Name:     p.Name,
			Email:    p.Email,
			Phone:    p.Phone,
		}
		if _, err := svc.notifier.Notify(ctx, nn); err != nil {
			svc.logger.Warn(fmt.Sprintf("notifying user %s: %v", p.UserID, err), err)
		}
	}
}

func recipient(p personnel.Personnel) notification.Recipient {
	return notification.Recipient{UserID: p.UserID, Name: p.Name, Email: p.Email, Phone: p.Phone}
}

func workOrderLink(id string) string { return "/work-orders/" + id }
func taskLink(id string) string      { return "/tasks/" + id }

// newIDs returns the ids of next missing from prev.
func newIDs(prev, next []string) []string {
	seen := make(map[string]bool, len(prev))
	for _, id := range prev {
		seen[id] = true
	}
	var added []string
	for _, id := range next {
		if !seen[id] {
			added = append(added, id)
		}
	}
	return added
}

func utcTime(t null.Time) null.Time {
	if !t.Valid {
		return t
	}
	return null.TimeFrom(t.Time.UTC())
}

// dueTime normalizes a due date: all-day dues keep their calendar date at UTC midnight.
func dueTime(t null.Time, allDay bool) null.Time {
	if !t.Valid {
		return t
	}
	if allDay {
		y, m, d := t.Time.Date()
		return null.TimeFrom(time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
	}
	return null.TimeFrom(t.Time.UTC())
}
