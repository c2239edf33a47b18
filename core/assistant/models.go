package assistant

import (
	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/fieldops/core"
	"github.com/trezcool/fieldops/core/workorder"
)

type Intent string

const (
	IntentCreateTask Intent = "create_task"
	IntentUpdateTask Intent = "update_task"
	IntentUnknown    Intent = "unknown"
)

type EntityType string

const (
	EntityPersonnel EntityType = "personnel"
	EntityWorkOrder EntityType = "work_order"
	EntityTask      EntityType = "task"
	EntityProject   EntityType = "project"
	EntityClient    EntityType = "client"
)

var entitySymbols = map[rune]EntityType{
	'@': EntityPersonnel,
	'#': EntityWorkOrder,
	'/': EntityTask,
	'+': EntityProject,
	'&': EntityClient,
}

// Entity is a symbol prefixed reference found in a command, e.g. "@John Smith".
// Start and End are byte offsets of the whole reference, symbol included.
type Entity struct {
	Type   EntityType `json:"type"`
	Symbol string     `json:"symbol"`
	Value  string     `json:"value"`
	Start  int        `json:"start"`
	End    int        `json:"end"`
}

// Operation is the structured form of a task command.
type Operation struct {
	Intent         Intent             `json:"intent"`
	Title          string             `json:"title"`
	Description    string             `json:"description,omitempty"`
	Priority       workorder.Priority `json:"priority"`
	Entities       []Entity           `json:"entities"`
	Assignees      []string           `json:"assignees"`
	WorkOrder      string             `json:"work_order,omitempty"`
	Task           string             `json:"task,omitempty"`
	Project        string             `json:"project,omitempty"`
	Client         string             `json:"client,omitempty"`
	DueDate        null.Time          `json:"due_date"`
	StartDate      null.Time          `json:"start_date"`
	AllDay         bool               `json:"all_day"` // DueDate has no time of day
	EstimatedHours null.Float64       `json:"estimated_hours"`
	Confidence     float64            `json:"confidence"`
}

// Command is the body of the assistant endpoints.
type Command struct {
	Text string `json:"text" validate:"required,notblank,max=1000"`
	// Timezone overrides the tenant time zone used to resolve relative dates.
	Timezone string `json:"timezone" validate:"omitempty,tz"`
}

func (c *Command) Validate(validate *validator.Validate) error {
	c.Text = core.CleanString(c.Text)
	c.Timezone = core.CleanString(c.Timezone)
	return validate.Struct(c)
}

// Result is returned once a command has been executed.
type Result struct {
	Operation Operation      `json:"operation"`
	Task      workorder.Task `json:"task"`
	Created   bool           `json:"created"`
}
