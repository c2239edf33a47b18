package assistant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/fieldops/core"
	"github.com/trezcool/fieldops/core/client"
	"github.com/trezcool/fieldops/core/personnel"
	"github.com/trezcool/fieldops/core/tenant"
	"github.com/trezcool/fieldops/core/workorder"
)

var (
	ErrUnknownIntent = errors.New("could not tell what to do with this command")
	ErrUnresolved    = errors.New("some references could not be resolved")
)

type (
	Service interface {
		// Parse reads a command in the time zone of the command, or the tenant's.
		Parse(ctx context.Context, tenantID string, cmd Command) (Operation, error)
		// Execute parses a command, resolves its references to tenant records and applies it.
		Execute(ctx context.Context, tenantID, userID string, cmd Command) (Result, error)
	}

	service struct {
		tenants    tenant.Service
		personnel  personnel.Service
		clients    client.Service
		workOrders workorder.Service
		validate   *validator.Validate
		logger     core.Logger
	}
)

var _ Service = (*service)(nil)

func NewService(
	tenants tenant.Service,
	personnelSvc personnel.Service,
	clients client.Service,
	workOrders workorder.Service,
	validate *validator.Validate,
	logger core.Logger,
) Service {
	return &service{
		tenants:    tenants,
		personnel:  personnelSvc,
		clients:    clients,
		workOrders: workOrders,
		validate:   validate,
		logger:     logger,
	}
}

func (svc *service) Parse(ctx context.Context, tenantID string, cmd Command) (Operation, error) {
	loc, err := svc.location(ctx, tenantID, cmd.Timezone)
	if err != nil {
		return Operation{}, err
	}
	return Parse(cmd.Text, core.NowFunc(), loc), nil
}

func (svc *service) location(ctx context.Context, tenantID, tz string) (*time.Location, error) {
	if tz != "" {
		return core.LoadLocation(tz), nil
	}
	t, err := svc.tenants.Get(ctx, tenantID)
	if err != nil {
		return nil, errors.Wrap(err, "finding tenant")
	}
	return t.Location(), nil
}

func (svc *service) Execute(ctx context.Context, tenantID, userID string, cmd Command) (Result, error) {
	op, err := svc.Parse(ctx, tenantID, cmd)
	if err != nil {
		return Result{}, err
	}
	res := Result{Operation: op}

	switch op.Intent {
	case IntentCreateTask:
		res.Task, err = svc.createTask(ctx, tenantID, userID, op)
		res.Created = err == nil
	case IntentUpdateTask:
		res.Task, err = svc.updateTask(ctx, tenantID, op)
	default:
		err = core.NewValidationError(ErrUnknownIntent, core.FieldError{Field: "text", Error: ErrUnknownIntent.Error()})
	}
	if err != nil {
		return res, err
	}
	svc.logger.Info(fmt.Sprintf("assistant: %s %s (%s) for tenant %s", op.Intent, res.Task.ID, res.Task.Title, tenantID))
	return res, nil
}

// refs holds the tenant records an operation points to.
type refs struct {
	assignees   []string
	workOrderID string
	clientName  string
}

func (svc *service) resolve(ctx context.Context, tenantID string, op Operation) (refs, error) {
	var (
		r      refs
		fields []core.FieldError
	)

	for _, name := range op.Assignees {
		p, err := svc.findPersonnel(ctx, tenantID, name)
		if err != nil {
			if !core.IsNotFound(err) {
				return r, err
			}
			fields = append(fields, core.FieldError{Field: "assignees", Error: fmt.Sprintf("unknown personnel %q", name)})
			continue
		}
		r.assignees = append(r.assignees, p.ID)
	}

	clientID := ""
	if op.Client != "" {
		c, err := svc.findClient(ctx, tenantID, op.Client)
		switch {
		case err == nil:
			clientID, r.clientName = c.ID, c.Name
		case core.IsNotFound(err):
			fields = append(fields, core.FieldError{Field: "client", Error: fmt.Sprintf("unknown client %q", op.Client)})
		default:
			return r, err
		}
	}

	if op.WorkOrder != "" {
		wo, err := svc.findWorkOrder(ctx, tenantID, op.WorkOrder, clientID)
		switch {
		case err == nil:
			r.workOrderID = wo.ID
		case core.IsNotFound(err):
			fields = append(fields, core.FieldError{Field: "work_order", Error: fmt.Sprintf("unknown work order %q", op.WorkOrder)})
		default:
			return r, err
		}
	}

	if len(fields) > 0 {
		return r, core.NewValidationError(ErrUnresolved, fields...)
	}
	return r, nil
}

func (svc *service) createTask(ctx context.Context, tenantID, userID string, op Operation) (workorder.Task, error) {
	r, err := svc.resolve(ctx, tenantID, op)
	if err != nil {
		return workorder.Task{}, err
	}

	desc := op.Description
	var notes []string
	if r.clientName != "" && r.workOrderID == "" {
		notes = append(notes, "Client: "+r.clientName)
	}
	if op.Project != "" {
		notes = append(notes, "Project: "+op.Project)
	}
	if len(notes) > 0 {
		desc = strings.TrimSpace(desc + "\n\n" + strings.Join(notes, "\n"))
	}

	nt := workorder.NewTask{
		WorkOrderID: r.workOrderID,
		Title:       op.Title,
		Description: desc,
		Priority:    op.Priority,
		Assignees:   r.assignees,
		DueAt:       op.DueDate,
		AllDay:      op.AllDay,
	}
	if op.EstimatedHours.Valid {
		nt.EstimatedHours = op.EstimatedHours.Float64
	}
	if err := nt.Validate(svc.validate); err != nil {
		return workorder.Task{}, err
	}
	return svc.workOrders.CreateTask(ctx, tenantID, userID, nt)
}

// updateTask applies what the command mentions to the task referenced with "/".
// Priority is only changed when it differs from the default.
func (svc *service) updateTask(ctx context.Context, tenantID string, op Operation) (workorder.Task, error) {
	if op.Task == "" {
		return workorder.Task{}, core.NewValidationError(nil, core.FieldError{Field: "task", Error: "reference the task to update with /name"})
	}
	t, err := svc.findTask(ctx, tenantID, op.Task)
	if err != nil {
		if core.IsNotFound(err) {
			return workorder.Task{}, core.NewValidationError(ErrUnresolved,
				core.FieldError{Field: "task", Error: fmt.Sprintf("unknown task %q", op.Task)})
		}
		return workorder.Task{}, err
	}
	r, err := svc.resolve(ctx, tenantID, op)
	if err != nil {
		return workorder.Task{}, err
	}

	var ut workorder.UpdateTask
	if op.Priority != workorder.PriorityNormal {
		ut.Priority = op.Priority
	}
	if len(r.assignees) > 0 {
		ut.Assignees = merge(t.Assignees, r.assignees)
	}
	if op.DueDate.Valid {
		allDay := op.AllDay
		ut.DueAt, ut.AllDay = op.DueDate, &allDay
	}
	if op.Description != "" {
		desc := op.Description
		ut.Description = &desc
	}
	if op.EstimatedHours.Valid {
		hours := op.EstimatedHours.Float64
		ut.EstimatedHours = &hours
	}
	if err := ut.Validate(t, svc.validate); err != nil {
		return workorder.Task{}, err
	}
	return svc.workOrders.UpdateTask(ctx, tenantID, t.ID, ut)
}

func (svc *service) findPersonnel(ctx context.Context, tenantID, name string) (personnel.Personnel, error) {
	active := true
	people, err := svc.personnel.Query(ctx, tenantID, &personnel.QueryFilter{Search: name, IsActive: &active}, nil)
	if err != nil {
		return personnel.Personnel{}, errors.Wrap(err, "querying personnel")
	}
	for _, p := range people {
		if strings.EqualFold(p.Name, name) {
			return p, nil
		}
	}
	if len(people) == 1 {
		return people[0], nil
	}
	return personnel.Personnel{}, personnel.ErrNotFound
}

func (svc *service) findClient(ctx context.Context, tenantID, name string) (client.Client, error) {
	clients, err := svc.clients.Query(ctx, tenantID, &client.QueryFilter{Search: name}, nil)
	if err != nil {
		return client.Client{}, errors.Wrap(err, "querying clients")
	}
	for _, c := range clients {
		if strings.EqualFold(c.Name, name) {
			return c, nil
		}
	}
	if len(clients) == 1 {
		return clients[0], nil
	}
	return client.Client{}, client.ErrNotFound
}

// findWorkOrder matches a work order number (WO-000012) or title.
func (svc *service) findWorkOrder(ctx context.Context, tenantID, ref, clientID string) (workorder.WorkOrder, error) {
	filter := &workorder.QueryFilter{Search: ref, ClientID: clientID}
	orders, err := svc.workOrders.Query(ctx, tenantID, filter, nil)
	if err != nil {
		return workorder.WorkOrder{}, errors.Wrap(err, "querying work orders")
	}
	for _, wo := range orders {
		if strings.EqualFold(wo.Number, ref) || strings.EqualFold(wo.Title, ref) {
			return wo, nil
		}
	}
	if len(orders) == 1 {
		return orders[0], nil
	}
	return workorder.WorkOrder{}, workorder.ErrNotFound
}

func (svc *service) findTask(ctx context.Context, tenantID, title string) (workorder.Task, error) {
	tasks, err := svc.workOrders.QueryTasks(ctx, tenantID, &workorder.TaskFilter{Search: title})
	if err != nil {
		return workorder.Task{}, errors.Wrap(err, "querying tasks")
	}
	for _, t := range tasks {
		if strings.EqualFold(t.Title, title) {
			return t, nil
		}
	}
	if len(tasks) == 1 {
		return tasks[0], nil
	}
	return workorder.Task{}, workorder.ErrTaskNotFound
}

func merge(ids, more []string) []string {
	out := append([]string(nil), ids...)
	for _, id := range more {
		found := false
		for _, have := range out {
			if have == id {
				found = true
				break
			}
		}
		if !found {
			out = append(out, id)
		}
	}
	return out
}
