package workorder

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/fieldops/core"
	"github.com/trezcool/fieldops/core/schedule"
)

type Status string

const (
	StatusNew        Status = "new"
	StatusScheduled  Status = "scheduled"
	StatusInProgress Status = "in_progress"
	StatusOnHold     Status = "on_hold"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusNew:        {StatusScheduled, StatusCancelled},
	StatusScheduled:  {StatusNew, StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusOnHold, StatusCompleted, StatusCancelled},
	StatusOnHold:     {StatusInProgress, StatusCompleted, StatusCancelled},
	StatusCompleted:  {StatusInProgress},
}

// CanTransition reports whether a work order may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s Status) IsTerminal() bool { return s == StatusCompleted || s == StatusCancelled }

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

type Column string

const (
	ColumnTodo       Column = "todo"
	ColumnInProgress Column = "in_progress"
	ColumnReview     Column = "review"
	ColumnDone       Column = "done"
)

// Columns are the board columns, in display order.
var Columns = []Column{ColumnTodo, ColumnInProgress, ColumnReview, ColumnDone}

func IsValidColumn(c Column) bool {
	for _, col := range Columns {
		if col == c {
			return true
		}
	}
	return false
}

type WorkOrder struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	Number         string    `json:"number"` // WO-000001
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	ClientID       string    `json:"client_id"`
	Assignees      []string  `json:"assignees"` // personnel ids
	Status         Status    `json:"status"`
	Priority       Priority  `json:"priority"`
	ScheduledStart null.Time `json:"scheduled_start"`
	ScheduledEnd   null.Time `json:"scheduled_end"`
	Location       string    `json:"location"`
	CreatedBy      string    `json:"created_by"`
	CompletedAt    null.Time `json:"completed_at"`
	CreatedAt      time.Time `json:"created_at"` // UTC
	UpdatedAt      time.Time `json:"updated_at"` // UTC
}

// FormatNumber renders the per-tenant sequence number of a work order.
func FormatNumber(seq int64) string {
	return fmt.Sprintf("WO-%06d", seq)
}

type Task struct {
	ID             string          `json:"id"`
	TenantID       string          `json:"tenant_id"`
	WorkOrderID    string          `json:"work_order_id"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	Column         Column          `json:"column"`
	Position       int             `json:"position"`
	Priority       Priority        `json:"priority"`
	Assignees      []string        `json:"assignees"` // personnel ids
	DueAt          null.Time       `json:"due_at"`
	AllDay         bool            `json:"all_day"`
	Reminders      []schedule.Rule `json:"reminders"`
	EstimatedHours float64         `json:"estimated_hours"`
	CreatedBy      string          `json:"created_by"`
	CompletedAt    null.Time       `json:"completed_at"`
	CreatedAt      time.Time       `json:"created_at"` // UTC
	UpdatedAt      time.Time       `json:"updated_at"` // UTC
}

func (t Task) Due() schedule.Due {
	if !t.DueAt.Valid {
		return schedule.Due{}
	}
	return schedule.Due{At: t.DueAt.Time, AllDay: t.AllDay}
}

type BoardColumn struct {
	Column Column `json:"column"`
	Tasks  []Task `json:"tasks"`
}

type Board struct {
	WorkOrderID string        `json:"work_order_id,omitempty"`
	Columns     []BoardColumn `json:"columns"`
}

const (
	EventWorkOrder = "work_order"
	EventTask      = "task"
)

type CalendarEvent struct {
	Type     string    `json:"type"`
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end,omitempty"`
	AllDay   bool      `json:"all_day"`
	Status   string    `json:"status"`
	Priority Priority  `json:"priority"`
}

type CalendarDay struct {
	Date   string          `json:"date"` // YYYY-MM-DD, local
	Events []CalendarEvent `json:"events"`
}

// NewWorkOrder contains information needed to create a new WorkOrder.
type NewWorkOrder struct {
	Title          string    `json:"title" validate:"required,notblank,max=200"`
	Description    string    `json:"description" validate:"max=5000"`
	ClientID       string    `json:"client_id"`
	Assignees      []string  `json:"assignees"`
	Priority       Priority  `json:"priority" validate:"omitempty,oneof=low normal high urgent"`
	ScheduledStart null.Time `json:"scheduled_start"`
	ScheduledEnd   null.Time `json:"scheduled_end"`
	Location       string    `json:"location" validate:"max=300"`
}

func (nw *NewWorkOrder) Validate(validate *validator.Validate) error {
	nw.Title = core.CleanString(nw.Title)
	nw.Description = core.CleanString(nw.Description)
	nw.ClientID = core.CleanString(nw.ClientID)
	nw.Location = core.CleanString(nw.Location)
	nw.Assignees = core.CleanStrings(nw.Assignees)
	if nw.Priority == "" {
		nw.Priority = PriorityNormal
	}
	if err := validate.Struct(nw); err != nil {
		return err
	}
	return checkSchedule(nw.ScheduledStart, nw.ScheduledEnd)
}

func checkSchedule(start, end null.Time) error {
	if end.Valid && !start.Valid {
		return core.NewValidationError(nil, core.FieldError{Field: "scheduled_start", Error: "this field is required"})
	}
	if start.Valid && end.Valid && end.Time.Before(start.Time) {
		return core.NewValidationError(nil, core.FieldError{Field: "scheduled_end", Error: "must be after scheduled_start"})
	}
	return nil
}

// UpdateWorkOrder defines what information may be provided to modify an existing WorkOrder.
// Status changes go through transitions only.
type UpdateWorkOrder struct {
	Title          string    `json:"title" validate:"omitempty,max=200"`
	Description    *string   `json:"description" validate:"omitempty,max=5000"`
	ClientID       *string   `json:"client_id"`
	Assignees      []string  `json:"assignees"`
	Priority       Priority  `json:"priority" validate:"omitempty,oneof=low normal high urgent"`
	ScheduledStart null.Time `json:"scheduled_start"`
	ScheduledEnd   null.Time `json:"scheduled_end"`
	Location       *string   `json:"location" validate:"omitempty,max=300"`
}

func (uw *UpdateWorkOrder) Validate(orig WorkOrder, validate *validator.Validate) error {
	if title := core.CleanString(uw.Title); title != "" {
		uw.Title = title
	} else {
		uw.Title = orig.Title
	}
	if uw.Priority == "" {
		uw.Priority = orig.Priority
	}
	if uw.Assignees != nil {
		uw.Assignees = core.CleanStrings(uw.Assignees)
	}
	if !uw.ScheduledStart.Valid {
		uw.ScheduledStart = orig.ScheduledStart
	}
	if !uw.ScheduledEnd.Valid {
		uw.ScheduledEnd = orig.ScheduledEnd
	}
	if err := validate.Struct(uw); err != nil {
		return err
	}
	return checkSchedule(uw.ScheduledStart, uw.ScheduledEnd)
}

type Transition struct {
	Status Status `json:"status" validate:"required,oneof=new scheduled in_progress on_hold completed cancelled"`
}

func (tr *Transition) Validate(validate *validator.Validate) error {
	return validate.Struct(tr)
}

// NewTask contains information needed to create a new Task.
type NewTask struct {
	WorkOrderID    string          `json:"work_order_id"`
	Title          string          `json:"title" validate:"required,notblank,max=200"`
	Description    string          `json:"description" validate:"max=5000"`
	Column         Column          `json:"column" validate:"omitempty,oneof=todo in_progress review done"`
	Priority       Priority        `json:"priority" validate:"omitempty,oneof=low normal high urgent"`
	Assignees      []string        `json:"assignees"`
	DueAt          null.Time       `json:"due_at"`
	AllDay         bool            `json:"all_day"`
	Reminders      []schedule.Rule `json:"reminders" validate:"max=10,dive"`
	EstimatedHours float64         `json:"estimated_hours" validate:"min=0,max=10000"`
}

func (nt *NewTask) Validate(validate *validator.Validate) error {
	nt.WorkOrderID = core.CleanString(nt.WorkOrderID)
	nt.Title = core.CleanString(nt.Title)
	nt.Description = core.CleanString(nt.Description)
	nt.Assignees = core.CleanStrings(nt.Assignees)
	if nt.Column == "" {
		nt.Column = ColumnTodo
	}
	if nt.Priority == "" {
		nt.Priority = PriorityNormal
	}
	return validate.Struct(nt)
}

// UpdateTask defines what information may be provided to modify an existing Task.
// Column and position changes go through MoveTask.
type UpdateTask struct {
	Title          string          `json:"title" validate:"omitempty,max=200"`
	Description    *string         `json:"description" validate:"omitempty,max=5000"`
	Priority       Priority        `json:"priority" validate:"omitempty,oneof=low normal high urgent"`
	Assignees      []string        `json:"assignees"`
	DueAt          null.Time       `json:"due_at"`
	ClearDue       bool            `json:"clear_due"`
	AllDay         *bool           `json:"all_day"`
	Reminders      []schedule.Rule `json:"reminders" validate:"omitempty,max=10,dive"`
	EstimatedHours *float64        `json:"estimated_hours" validate:"omitempty,min=0,max=10000"`
}

func (ut *UpdateTask) Validate(orig Task, validate *validator.Validate) error {
	if title := core.CleanString(ut.Title); title != "" {
		ut.Title = title
	} else {
		ut.Title = orig.Title
	}
	if ut.Priority == "" {
		ut.Priority = orig.Priority
	}
	if ut.Assignees != nil {
		ut.Assignees = core.CleanStrings(ut.Assignees)
	}
	return validate.Struct(ut)
}

type MoveTask struct {
	Column   Column `json:"column" validate:"required,oneof=todo in_progress review done"`
	Position int    `json:"position" validate:"min=0"`
}

func (mt *MoveTask) Validate(validate *validator.Validate) error {
	return validate.Struct(mt)
}

type QueryFilter struct {
	Search         string     `query:"search"`
	Statuses       []Status   `query:"status"`
	Priorities     []Priority `query:"priority"`
	ClientID       string     `query:"client_id"`
	Assignee       string     `query:"assignee"`
	ScheduledFrom  time.Time  `query:"-"` // inclusive
	ScheduledUntil time.Time  `query:"-"` // exclusive
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.ClientID = core.CleanString(qf.ClientID)
	qf.Assignee = core.CleanString(qf.Assignee)
}

type TaskFilter struct {
	Search      string    `query:"search"`
	WorkOrderID string    `query:"work_order_id"`
	Standalone  bool      `query:"-"` // only tasks without a work order
	Columns     []Column  `query:"column"`
	Assignee    string    `query:"assignee"`
	DueFrom     time.Time `query:"-"` // inclusive
	DueUntil    time.Time `query:"-"` // exclusive
}

func (tf *TaskFilter) Clean() {
	tf.Search = core.CleanString(tf.Search)
	tf.WorkOrderID = core.CleanString(tf.WorkOrderID)
	tf.Assignee = core.CleanString(tf.Assignee)
}

var OrderingFields = map[string]string{
	"number":          "number",
	"title":           "title",
	"status":          "status",
	"priority":        "priority",
	"scheduled_start": "scheduled_start",
	"created_at":      "created_at",
}
